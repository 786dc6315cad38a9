package composer

import (
	"fmt"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

type sequenceKind int

const (
	sequenceNone sequenceKind = iota
	sequenceKenBurns
	sequenceTransition
)

/*
EffectProcessor generates the two kinds of synthetic frame sequences the
engine needs: Ken-Burns pan/zoom runs over a still frame (through a zoompan
filter graph) and transition blends between two boundary frames (by hand on
the Y/U/V planes).

A processor runs one sequence at a time. After the declared number of
frames has been fetched the sequence resets itself; fetching past the end
is an error.
*/
type EffectProcessor struct {
	width       int
	height      int
	pixelFormat ffmpeg.AVPixelFormat
	fps         int

	filterGraph   *ffmpeg.AVFilterGraph
	bufferSrcCtx  *ffmpeg.AVFilterContext
	bufferSinkCtx *ffmpeg.AVFilterContext

	sequence        sequenceKind
	expectedFrames  int
	generatedFrames int

	transitionKind TransitionKind
	transitionFrom *ffmpeg.AVFrame
	transitionTo   *ffmpeg.AVFrame
}

func NewEffectProcessor(width, height int, format ffmpeg.AVPixelFormat, fps int) *EffectProcessor {
	return &EffectProcessor{
		width:       width,
		height:      height,
		pixelFormat: format,
		fps:         fps,
	}
}

/*
kenBurnsFilterSpec builds the zoompan filter expression for a preset.

zoom_in runs 1.00 to 1.20 over the sequence and zoom_out mirrors it. The
pan presets hold zoom at 1.1 and sweep the visible window horizontally
across the 10% overscan, vertically centered. Custom interpolates the
configured start/end scale and origin linearly.
*/
func kenBurnsFilterSpec(effect *KenBurnsConfig, width, height, fps, totalFrames int) string {
	switch effect.Preset {
	case KenBurnsZoomIn, KenBurnsZoomOut:
		startZ, endZ := 1.0, 1.2
		if effect.Preset == KenBurnsZoomOut {
			startZ, endZ = 1.2, 1.0
		}
		return fmt.Sprintf("zoompan=z='%.10f+(%.10f)*on/%d':d=%d:s=%dx%d:fps=%d",
			startZ, endZ-startZ, totalFrames, totalFrames, width, height, fps)

	case KenBurnsPanRight, KenBurnsPanLeft:
		const panScale = 1.1
		startX, endX := 0.0, float64(width)*(panScale-1.0)
		if effect.Preset == KenBurnsPanLeft {
			startX, endX = endX, startX
		}
		y := float64(height) * (panScale - 1.0) / 2
		return fmt.Sprintf("zoompan=z='%g':x='%g+(%g)*on/%d':y='%g':d=%d:s=%dx%d:fps=%d",
			panScale, startX, endX-startX, totalFrames, y, totalFrames, width, height, fps)

	default:
		return fmt.Sprintf("zoompan=z='%g+(%g)*on/%d':x='%d+(%d)*on/%d':y='%d+(%d)*on/%d':d=%d:s=%dx%d:fps=%d",
			effect.StartScale, effect.EndScale-effect.StartScale, totalFrames,
			effect.StartX, effect.EndX-effect.StartX, totalFrames,
			effect.StartY, effect.EndY-effect.StartY, totalFrames,
			totalFrames, width, height, fps)
	}
}

/*
StartKenBurnsSequence primes a Ken-Burns run: the filter graph is built for
the preset, the source frame is pushed once followed by EOF, and the next
totalFrames calls to FetchNextFrame drain the filtered output.
*/
func (p *EffectProcessor) StartKenBurnsSequence(effect *KenBurnsConfig, inputImage *ffmpeg.AVFrame, totalFrames int) error {
	p.resetSequence()
	if effect == nil || !effect.Enabled {
		return fmt.Errorf("ken burns effect is not enabled")
	}
	if inputImage == nil {
		return fmt.Errorf("ken burns input frame is nil")
	}
	if totalFrames <= 0 {
		return fmt.Errorf("ken burns frame count must be positive")
	}

	spec := kenBurnsFilterSpec(effect, p.width, p.height, p.fps, totalFrames)
	if err := p.initFilterGraph(spec); err != nil {
		return err
	}

	src := cloneFrame(inputImage)
	if src == nil {
		return fmt.Errorf("failed to clone ken burns source frame")
	}
	src.SetPts(0)

	if _, err := ffmpeg.AVBuffersrcAddFrameFlags(p.bufferSrcCtx, src, 0); err != nil {
		ffmpeg.AVFrameFree(&src)
		return fmt.Errorf("failed to feed ken burns source frame: %w", err)
	}
	ffmpeg.AVFrameFree(&src)

	if _, err := ffmpeg.AVBuffersrcAddFrameFlags(p.bufferSrcCtx, nil, 0); err != nil {
		return fmt.Errorf("failed to signal EOF to ken burns graph: %w", err)
	}

	p.sequence = sequenceKenBurns
	p.expectedFrames = totalFrames
	p.generatedFrames = 0
	return nil
}

// StartTransitionSequence primes a transition blend of durationFrames
// frames between two boundary frames at project geometry.
func (p *EffectProcessor) StartTransitionSequence(kind TransitionKind, fromFrame, toFrame *ffmpeg.AVFrame, durationFrames int) error {
	p.resetSequence()
	if fromFrame == nil || toFrame == nil {
		return fmt.Errorf("transition input frames are nil")
	}
	if durationFrames <= 0 {
		return fmt.Errorf("transition frame count must be positive")
	}

	p.transitionFrom = cloneFrame(fromFrame)
	p.transitionTo = cloneFrame(toFrame)
	if p.transitionFrom == nil || p.transitionTo == nil {
		p.releaseTransitionFrames()
		return fmt.Errorf("failed to copy transition boundary frames")
	}

	p.transitionKind = kind
	p.sequence = sequenceTransition
	p.expectedFrames = durationFrames
	p.generatedFrames = 0
	return nil
}

// FetchNextFrame produces the next frame of the running sequence. Fetching
// past the declared length is an error.
func (p *EffectProcessor) FetchNextFrame() (*ffmpeg.AVFrame, error) {
	switch p.sequence {
	case sequenceKenBurns:
		return p.fetchKenBurnsFrame()
	case sequenceTransition:
		return p.fetchTransitionFrame()
	default:
		return nil, fmt.Errorf("no effect sequence is running")
	}
}

func (p *EffectProcessor) fetchKenBurnsFrame() (*ffmpeg.AVFrame, error) {
	if p.generatedFrames >= p.expectedFrames {
		return nil, fmt.Errorf("ken burns sequence already produced all %d frames", p.expectedFrames)
	}

	frame := ffmpeg.AVFrameAlloc()
	if frame == nil {
		return nil, fmt.Errorf("failed to allocate filter output frame")
	}
	if _, err := ffmpeg.AVBuffersinkGetFrame(p.bufferSinkCtx, frame); err != nil {
		ffmpeg.AVFrameFree(&frame)
		return nil, fmt.Errorf("failed to pull ken burns frame: %w", err)
	}
	stampFrameColorInfo(frame, p.height)

	p.generatedFrames++
	if p.generatedFrames == p.expectedFrames {
		p.resetSequence()
	}
	return frame, nil
}

func (p *EffectProcessor) fetchTransitionFrame() (*ffmpeg.AVFrame, error) {
	if p.generatedFrames >= p.expectedFrames {
		return nil, fmt.Errorf("transition sequence already produced all %d frames", p.expectedFrames)
	}
	if p.transitionFrom == nil || p.transitionTo == nil {
		return nil, fmt.Errorf("transition boundary frames are missing")
	}

	progress := float64(p.generatedFrames) / float64(p.expectedFrames)

	out, err := allocVideoFrame(p.width, p.height, ffmpeg.AVPixFmtYuv420P)
	if err != nil {
		return nil, err
	}

	from := newPlaneSet(p.transitionFrom, p.width, p.height)
	to := newPlaneSet(p.transitionTo, p.width, p.height)
	dst := newPlaneSet(out, p.width, p.height)

	switch p.transitionKind {
	case WIPE:
		blendWipe(dst, from, to, progress)
	case SLIDE:
		blendSlide(dst, from, to, progress)
	default:
		blendCrossfade(dst, from, to, progress)
	}

	stampFrameColorInfo(out, p.height)

	p.generatedFrames++
	if p.generatedFrames == p.expectedFrames {
		p.releaseTransitionFrames()
		p.resetSequence()
	}
	return out, nil
}

// initFilterGraph assembles buffer -> spec -> buffersink at the project
// geometry, with the canonical color description set on the source.
func (p *EffectProcessor) initFilterGraph(filterSpec string) error {
	p.freeFilterGraph()

	p.filterGraph = ffmpeg.AVFilterGraphAlloc()
	if p.filterGraph == nil {
		return fmt.Errorf("failed to allocate filter graph")
	}

	bufferSrc := ffmpeg.AVFilterGetByName(ffmpeg.GlobalCStr("buffer"))
	bufferSink := ffmpeg.AVFilterGetByName(ffmpeg.GlobalCStr("buffersink"))
	if bufferSrc == nil || bufferSink == nil {
		p.freeFilterGraph()
		return fmt.Errorf("buffer/buffersink filters not found")
	}

	args := fmt.Sprintf("video_size=%dx%d:pix_fmt=%d:time_base=1/%d:pixel_aspect=1/1:frame_rate=%d/1",
		p.width, p.height, p.pixelFormat, p.fps, p.fps)
	argsC := ffmpeg.ToCStr(args)
	defer argsC.Free()

	if _, err := ffmpeg.AVFilterGraphCreateFilter(&p.bufferSrcCtx, bufferSrc, ffmpeg.GlobalCStr("in"), argsC, nil, p.filterGraph); err != nil {
		p.freeFilterGraph()
		return fmt.Errorf("failed to create buffer source: %w", err)
	}

	policy := colorPolicyFor(p.height)
	ffmpeg.AVOptSetInt(p.bufferSrcCtx.RawPtr(), ffmpeg.GlobalCStr("color_range"), int64(ffmpeg.AVColRangeMpeg), 0)
	ffmpeg.AVOptSetInt(p.bufferSrcCtx.RawPtr(), ffmpeg.GlobalCStr("colorspace"), int64(policy.colorspace), 0)
	ffmpeg.AVOptSetInt(p.bufferSrcCtx.RawPtr(), ffmpeg.GlobalCStr("color_primaries"), int64(policy.primaries), 0)
	ffmpeg.AVOptSetInt(p.bufferSrcCtx.RawPtr(), ffmpeg.GlobalCStr("color_trc"), int64(policy.trc), 0)

	if _, err := ffmpeg.AVFilterGraphCreateFilter(&p.bufferSinkCtx, bufferSink, ffmpeg.GlobalCStr("out"), nil, nil, p.filterGraph); err != nil {
		p.freeFilterGraph()
		return fmt.Errorf("failed to create buffer sink: %w", err)
	}

	outputs := ffmpeg.AVFilterInoutAlloc()
	inputs := ffmpeg.AVFilterInoutAlloc()
	defer ffmpeg.AVFilterInoutFree(&outputs)
	defer ffmpeg.AVFilterInoutFree(&inputs)

	outputs.SetName(ffmpeg.ToCStr("in"))
	outputs.SetFilterCtx(p.bufferSrcCtx)
	outputs.SetPadIdx(0)
	outputs.SetNext(nil)

	inputs.SetName(ffmpeg.ToCStr("out"))
	inputs.SetFilterCtx(p.bufferSinkCtx)
	inputs.SetPadIdx(0)
	inputs.SetNext(nil)

	fullSpec := ffmpeg.ToCStr("[in]" + filterSpec + "[out]")
	defer fullSpec.Free()

	if _, err := ffmpeg.AVFilterGraphParsePtr(p.filterGraph, fullSpec, &inputs, &outputs, nil); err != nil {
		p.freeFilterGraph()
		return fmt.Errorf("failed to parse filter spec %q: %w", filterSpec, err)
	}
	if _, err := ffmpeg.AVFilterGraphConfig(p.filterGraph, nil); err != nil {
		p.freeFilterGraph()
		return fmt.Errorf("failed to configure filter graph: %w", err)
	}

	return nil
}

func (p *EffectProcessor) resetSequence() {
	p.sequence = sequenceNone
	p.expectedFrames = 0
	p.generatedFrames = 0
}

func (p *EffectProcessor) releaseTransitionFrames() {
	if p.transitionFrom != nil {
		ffmpeg.AVFrameFree(&p.transitionFrom)
	}
	if p.transitionTo != nil {
		ffmpeg.AVFrameFree(&p.transitionTo)
	}
}

func (p *EffectProcessor) freeFilterGraph() {
	if p.filterGraph != nil {
		ffmpeg.AVFilterGraphFree(&p.filterGraph)
	}
	p.bufferSrcCtx = nil
	p.bufferSinkCtx = nil
}

// Close releases all sequence state.
func (p *EffectProcessor) Close() {
	p.resetSequence()
	p.releaseTransitionFrames()
	p.freeFilterGraph()
}
