package composer

import (
	"fmt"
	"strings"

	ffmpeg "github.com/csnewman/ffmpeg-go"
	"github.com/hashicorp/go-hclog"
)

/*
SubtitleBurner draws a scene's subtitle text onto video frames through a
drawtext filter graph: centered horizontally, margin_bottom pixels above the
bottom edge, over a solid background box.

Burning is best-effort. Any failure (missing font, graph construction,
filter errors) returns the input frame unchanged so the render keeps going.
*/
type SubtitleBurner struct {
	fps    int
	logger hclog.Logger
}

func NewSubtitleBurner(fps int, logger hclog.Logger) *SubtitleBurner {
	if logger == nil {
		logger = hclog.Default()
	}
	return &SubtitleBurner{fps: fps, logger: logger}
}

// escapeDrawtext escapes the characters that terminate or quote drawtext
// option values.
func escapeDrawtext(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == ':' || r == '\\' || r == '\'' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// drawtextFilterSpec builds the drawtext expression for a subtitle config.
func drawtextFilterSpec(subtitle *SubtitleConfig) string {
	fontPath := subtitle.FontPath
	if fontPath == "" {
		fontPath = DefaultFontPath()
	}

	return fmt.Sprintf(
		"drawtext=text='%s':fontfile='%s':fontsize=%d:fontcolor=%s:x=(w-text_w)/2:y=h-%d-text_h:box=1:boxcolor=%s:boxborderw=10",
		escapeDrawtext(subtitle.Text),
		escapeDrawtext(fontPath),
		subtitle.FontSize,
		subtitle.FontColor,
		subtitle.MarginBottom,
		subtitle.BgColor,
	)
}

/*
Burn renders the subtitle onto a copy of the frame. The graph is built per
frame: subtitles change per scene and the graph cost is dwarfed by encode.
On any failure the original frame is passed through.
*/
func (b *SubtitleBurner) Burn(inputFrame *ffmpeg.AVFrame, subtitle *SubtitleConfig) *ffmpeg.AVFrame {
	if inputFrame == nil || subtitle == nil || subtitle.Text == "" {
		return cloneFrame(inputFrame)
	}

	burned, err := b.burn(inputFrame, subtitle)
	if err != nil {
		b.logger.Warn("subtitle burn failed, passing frame through", "error", err)
		return cloneFrame(inputFrame)
	}
	return burned
}

func (b *SubtitleBurner) burn(inputFrame *ffmpeg.AVFrame, subtitle *SubtitleConfig) (*ffmpeg.AVFrame, error) {
	filterGraph := ffmpeg.AVFilterGraphAlloc()
	if filterGraph == nil {
		return nil, fmt.Errorf("failed to allocate subtitle filter graph")
	}
	defer ffmpeg.AVFilterGraphFree(&filterGraph)

	bufferSrc := ffmpeg.AVFilterGetByName(ffmpeg.GlobalCStr("buffer"))
	bufferSink := ffmpeg.AVFilterGetByName(ffmpeg.GlobalCStr("buffersink"))
	if bufferSrc == nil || bufferSink == nil {
		return nil, fmt.Errorf("buffer/buffersink filters not found")
	}

	args := fmt.Sprintf("video_size=%dx%d:pix_fmt=%d:time_base=1/%d:pixel_aspect=1/1",
		inputFrame.Width(), inputFrame.Height(), inputFrame.Format(), b.fps)
	argsC := ffmpeg.ToCStr(args)
	defer argsC.Free()

	var bufferSrcCtx, bufferSinkCtx *ffmpeg.AVFilterContext
	if _, err := ffmpeg.AVFilterGraphCreateFilter(&bufferSrcCtx, bufferSrc, ffmpeg.GlobalCStr("in"), argsC, nil, filterGraph); err != nil {
		return nil, fmt.Errorf("failed to create subtitle source filter: %w", err)
	}
	if _, err := ffmpeg.AVFilterGraphCreateFilter(&bufferSinkCtx, bufferSink, ffmpeg.GlobalCStr("out"), nil, nil, filterGraph); err != nil {
		return nil, fmt.Errorf("failed to create subtitle sink filter: %w", err)
	}

	outputs := ffmpeg.AVFilterInoutAlloc()
	inputs := ffmpeg.AVFilterInoutAlloc()
	defer ffmpeg.AVFilterInoutFree(&outputs)
	defer ffmpeg.AVFilterInoutFree(&inputs)

	outputs.SetName(ffmpeg.ToCStr("in"))
	outputs.SetFilterCtx(bufferSrcCtx)
	outputs.SetPadIdx(0)
	outputs.SetNext(nil)

	inputs.SetName(ffmpeg.ToCStr("out"))
	inputs.SetFilterCtx(bufferSinkCtx)
	inputs.SetPadIdx(0)
	inputs.SetNext(nil)

	specC := ffmpeg.ToCStr(drawtextFilterSpec(subtitle))
	defer specC.Free()

	if _, err := ffmpeg.AVFilterGraphParsePtr(filterGraph, specC, &inputs, &outputs, nil); err != nil {
		return nil, fmt.Errorf("failed to parse drawtext spec: %w", err)
	}
	if _, err := ffmpeg.AVFilterGraphConfig(filterGraph, nil); err != nil {
		return nil, fmt.Errorf("failed to configure subtitle graph: %w", err)
	}

	src := cloneFrame(inputFrame)
	if src == nil {
		return nil, fmt.Errorf("failed to clone frame for subtitle burn")
	}
	src.SetPts(0)
	if _, err := ffmpeg.AVBuffersrcAddFrameFlags(bufferSrcCtx, src, 0); err != nil {
		ffmpeg.AVFrameFree(&src)
		return nil, fmt.Errorf("failed to push frame into subtitle graph: %w", err)
	}
	ffmpeg.AVFrameFree(&src)

	out := ffmpeg.AVFrameAlloc()
	if out == nil {
		return nil, fmt.Errorf("failed to allocate subtitle output frame")
	}
	if _, err := ffmpeg.AVBuffersinkGetFrame(bufferSinkCtx, out); err != nil {
		ffmpeg.AVFrameFree(&out)
		return nil, fmt.Errorf("failed to pull subtitled frame: %w", err)
	}
	stampFrameColorInfo(out, out.Height())

	return out, nil
}
