package composer

import (
	"errors"
	"fmt"
	"strings"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

// Canonical audio format every decoded layer is converted to before mixing.
const (
	TargetSampleRate = 44100
	targetChannels   = 2
)

/*
AudioDecoder decodes one audio stream into the canonical mixing format:
float planar, stereo, 44.1 kHz. Mono sources are duplicated across both
channels by the resampler's default layout conversion.

An optional per-layer filter chain (fade in, fade out, gain) can be
installed with ApplyVolumeEffect; when installed, DecodeFrame returns
filtered frames, otherwise resampled frames come back directly.
*/
type AudioDecoder struct {
	formatCtx        *ffmpeg.AVFormatContext
	codecCtx         *ffmpeg.AVCodecContext
	audioStreamIndex int

	swrCtx *ffmpeg.SwrContext

	filterGraph   *ffmpeg.AVFilterGraph
	bufferSrcCtx  *ffmpeg.AVFilterContext
	bufferSinkCtx *ffmpeg.AVFilterContext
	effectsOn     bool

	decoderDrained bool
}

func NewAudioDecoder() *AudioDecoder {
	return &AudioDecoder{audioStreamIndex: -1}
}

// Open opens the audio file and prepares decode plus resampling to the
// canonical format.
func (d *AudioDecoder) Open(filePath string) error {
	if err := ensureMediaInitialized(); err != nil {
		return err
	}

	pathC := ffmpeg.ToCStr(filePath)
	defer pathC.Free()

	if _, err := ffmpeg.AVFormatOpenInput(&d.formatCtx, pathC, nil, nil); err != nil {
		return fmt.Errorf("failed to open audio %s: %w", filePath, err)
	}
	if _, err := ffmpeg.AVFormatFindStreamInfo(d.formatCtx, nil); err != nil {
		d.Close()
		return fmt.Errorf("failed to read audio stream info: %w", err)
	}

	streamIndex, err := findBestStream(d.formatCtx, ffmpeg.AVMediaTypeAudio)
	if err != nil {
		d.Close()
		return fmt.Errorf("no audio stream found: %w", err)
	}
	d.audioStreamIndex = streamIndex

	stream := d.formatCtx.Streams().Get(uintptr(streamIndex))
	codec := ffmpeg.AVCodecFindDecoder(stream.Codecpar().CodecId())
	if codec == nil {
		d.Close()
		return fmt.Errorf("no decoder for audio stream")
	}

	d.codecCtx = ffmpeg.AVCodecAllocContext3(codec)
	if d.codecCtx == nil {
		d.Close()
		return fmt.Errorf("failed to allocate audio decoder context")
	}
	if _, err := ffmpeg.AVCodecParametersToContext(d.codecCtx, stream.Codecpar()); err != nil {
		d.Close()
		return fmt.Errorf("failed to copy audio decoder parameters: %w", err)
	}
	if _, err := ffmpeg.AVCodecOpen2(d.codecCtx, codec, nil); err != nil {
		d.Close()
		return fmt.Errorf("failed to open audio decoder: %w", err)
	}

	// The resampler configures itself from the first in/out frame pair.
	d.swrCtx = ffmpeg.SwrAlloc()
	if d.swrCtx == nil {
		d.Close()
		return fmt.Errorf("failed to allocate resampler")
	}

	return nil
}

/*
ApplyVolumeEffect installs the per-layer filter chain:

	afade(in, d=fade_in)? -> afade(out, st=max(0,dur-fade_out), d=fade_out)? -> volume(gain)

The chain is only built when it would change the signal: a fade is
configured or the gain is not unity. trackDurationSeconds anchors the
fade-out start; when 0, the stream's own duration is used.
*/
func (d *AudioDecoder) ApplyVolumeEffect(baseGain float64, effect *VolumeMixConfig, trackDurationSeconds float64) error {
	effectEnabled := effect != nil && effect.Enabled && (effect.FadeIn > 0 || effect.FadeOut > 0)
	gainEnabled := baseGain < 0.999 || baseGain > 1.001
	d.effectsOn = effectEnabled || gainEnabled
	if !d.effectsOn {
		return nil
	}

	var spec strings.Builder
	if effectEnabled {
		if effect.FadeIn > 0 {
			fmt.Fprintf(&spec, "afade=t=in:d=%g,", effect.FadeIn)
		}
		if effect.FadeOut > 0 {
			reference := trackDurationSeconds
			if reference <= 0 {
				reference = d.Duration()
			}
			fadeStart := 0.0
			if reference > effect.FadeOut {
				fadeStart = reference - effect.FadeOut
			}
			fmt.Fprintf(&spec, "afade=t=out:st=%g:d=%g,", fadeStart, effect.FadeOut)
		}
	}
	fmt.Fprintf(&spec, "volume=%g", baseGain)

	return d.initFilterGraph(spec.String())
}

// initFilterGraph builds the abuffer -> chain -> abuffersink graph over the
// canonical post-resample format.
func (d *AudioDecoder) initFilterGraph(filterSpec string) error {
	if d.filterGraph != nil {
		ffmpeg.AVFilterGraphFree(&d.filterGraph)
		d.bufferSrcCtx = nil
		d.bufferSinkCtx = nil
	}

	d.filterGraph = ffmpeg.AVFilterGraphAlloc()
	if d.filterGraph == nil {
		return fmt.Errorf("failed to allocate filter graph")
	}

	bufferSrc := ffmpeg.AVFilterGetByName(ffmpeg.GlobalCStr("abuffer"))
	bufferSink := ffmpeg.AVFilterGetByName(ffmpeg.GlobalCStr("abuffersink"))
	if bufferSrc == nil || bufferSink == nil {
		ffmpeg.AVFilterGraphFree(&d.filterGraph)
		return fmt.Errorf("abuffer/abuffersink filters not found")
	}

	args := fmt.Sprintf("time_base=1/%d:sample_rate=%d:sample_fmt=fltp:channel_layout=stereo",
		TargetSampleRate, TargetSampleRate)
	argsC := ffmpeg.ToCStr(args)
	defer argsC.Free()

	if _, err := ffmpeg.AVFilterGraphCreateFilter(&d.bufferSrcCtx, bufferSrc, ffmpeg.GlobalCStr("in"), argsC, nil, d.filterGraph); err != nil {
		ffmpeg.AVFilterGraphFree(&d.filterGraph)
		return fmt.Errorf("failed to create audio filter source: %w", err)
	}
	if _, err := ffmpeg.AVFilterGraphCreateFilter(&d.bufferSinkCtx, bufferSink, ffmpeg.GlobalCStr("out"), nil, nil, d.filterGraph); err != nil {
		ffmpeg.AVFilterGraphFree(&d.filterGraph)
		return fmt.Errorf("failed to create audio filter sink: %w", err)
	}

	outputs := ffmpeg.AVFilterInoutAlloc()
	inputs := ffmpeg.AVFilterInoutAlloc()
	defer ffmpeg.AVFilterInoutFree(&outputs)
	defer ffmpeg.AVFilterInoutFree(&inputs)

	outputs.SetName(ffmpeg.ToCStr("in"))
	outputs.SetFilterCtx(d.bufferSrcCtx)
	outputs.SetPadIdx(0)
	outputs.SetNext(nil)

	inputs.SetName(ffmpeg.ToCStr("out"))
	inputs.SetFilterCtx(d.bufferSinkCtx)
	inputs.SetPadIdx(0)
	inputs.SetNext(nil)

	specC := ffmpeg.ToCStr(filterSpec)
	defer specC.Free()

	if _, err := ffmpeg.AVFilterGraphParsePtr(d.filterGraph, specC, &inputs, &outputs, nil); err != nil {
		ffmpeg.AVFilterGraphFree(&d.filterGraph)
		return fmt.Errorf("failed to parse audio filter chain %q: %w", filterSpec, err)
	}
	if _, err := ffmpeg.AVFilterGraphConfig(d.filterGraph, nil); err != nil {
		ffmpeg.AVFilterGraphFree(&d.filterGraph)
		return fmt.Errorf("failed to configure audio filter chain: %w", err)
	}

	return nil
}

// Seek resets the decoder to the nearest keyframe at or before the given
// time in seconds.
func (d *AudioDecoder) Seek(seconds float64) error {
	if d.formatCtx == nil {
		return fmt.Errorf("audio decoder is not open")
	}
	stream := d.formatCtx.Streams().Get(uintptr(d.audioStreamIndex))
	tb := rationalSeconds(*stream.TimeBase())
	if tb <= 0 {
		return fmt.Errorf("audio stream has no usable time base")
	}
	target := int64(seconds / tb)
	if _, err := ffmpeg.AVSeekFrame(d.formatCtx, d.audioStreamIndex, target, ffmpeg.AVSeekFlagBackward); err != nil {
		return fmt.Errorf("audio seek failed: %w", err)
	}
	d.decoderDrained = false
	return nil
}

/*
DecodeFrame pumps demuxer, decoder, resampler, and the optional filter
chain, and returns exactly one canonical-format frame. At end of stream it
returns (nil, nil).
*/
func (d *AudioDecoder) DecodeFrame() (*ffmpeg.AVFrame, error) {
	if d.formatCtx == nil || d.codecCtx == nil {
		return nil, fmt.Errorf("audio decoder is not open")
	}

	packet := ffmpeg.AVPacketAlloc()
	if packet == nil {
		return nil, fmt.Errorf("failed to allocate packet")
	}
	defer ffmpeg.AVPacketFree(&packet)

	rawFrame := ffmpeg.AVFrameAlloc()
	if rawFrame == nil {
		return nil, fmt.Errorf("failed to allocate frame")
	}
	defer ffmpeg.AVFrameFree(&rawFrame)

	for {
		if d.effectsOn {
			filtered := ffmpeg.AVFrameAlloc()
			if filtered == nil {
				return nil, fmt.Errorf("failed to allocate filtered frame")
			}
			_, err := ffmpeg.AVBuffersinkGetFrame(d.bufferSinkCtx, filtered)
			if err == nil {
				return filtered, nil
			}
			ffmpeg.AVFrameFree(&filtered)
			if errors.Is(err, ffmpeg.AVErrorEOF) && d.decoderDrained {
				return nil, nil
			}
			if !errors.Is(err, ffmpeg.EAgain) && !errors.Is(err, ffmpeg.AVErrorEOF) {
				return nil, fmt.Errorf("failed to pull from audio filter chain: %w", err)
			}
		}

		_, err := ffmpeg.AVCodecReceiveFrame(d.codecCtx, rawFrame)
		if errors.Is(err, ffmpeg.AVErrorEOF) {
			d.decoderDrained = true
			if d.effectsOn {
				if _, err := ffmpeg.AVBuffersrcAddFrameFlags(d.bufferSrcCtx, nil, 0); err != nil {
					return nil, fmt.Errorf("failed to signal EOF to audio filter chain: %w", err)
				}
				continue
			}
			return nil, nil
		}
		if errors.Is(err, ffmpeg.EAgain) {
			if err := d.feedDecoder(packet); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to receive audio frame: %w", err)
		}

		resampled, err := d.resample(rawFrame)
		ffmpeg.AVFrameUnref(rawFrame)
		if err != nil {
			return nil, err
		}

		if d.effectsOn {
			_, err := ffmpeg.AVBuffersrcAddFrameFlags(d.bufferSrcCtx, resampled, 0)
			ffmpeg.AVFrameFree(&resampled)
			if err != nil {
				return nil, fmt.Errorf("failed to push frame into audio filter chain: %w", err)
			}
			continue
		}
		return resampled, nil
	}
}

// feedDecoder reads packets until one from our stream is delivered, or
// switches the decoder into drain mode at container EOF.
func (d *AudioDecoder) feedDecoder(packet *ffmpeg.AVPacket) error {
	for {
		if _, err := ffmpeg.AVReadFrame(d.formatCtx, packet); err != nil {
			if errors.Is(err, ffmpeg.AVErrorEOF) {
				ffmpeg.AVCodecSendPacket(d.codecCtx, nil)
				return nil
			}
			return fmt.Errorf("failed to read audio data: %w", err)
		}
		if packet.StreamIndex() != d.audioStreamIndex {
			ffmpeg.AVPacketUnref(packet)
			continue
		}
		_, err := ffmpeg.AVCodecSendPacket(d.codecCtx, packet)
		ffmpeg.AVPacketUnref(packet)
		if err != nil {
			return fmt.Errorf("failed to send audio packet: %w", err)
		}
		return nil
	}
}

// resample converts one decoded frame to float planar stereo at the target
// rate. The resampler configures itself on the first conversion.
func (d *AudioDecoder) resample(rawFrame *ffmpeg.AVFrame) (*ffmpeg.AVFrame, error) {
	out := ffmpeg.AVFrameAlloc()
	if out == nil {
		return nil, fmt.Errorf("failed to allocate resampled frame")
	}
	ffmpeg.AVChannelLayoutDefault(out.ChLayout(), targetChannels)
	out.SetFormat(int(ffmpeg.AVSampleFmtFltp))
	out.SetSampleRate(TargetSampleRate)

	if _, err := ffmpeg.SwrConvertFrame(d.swrCtx, out, rawFrame); err != nil {
		ffmpeg.AVFrameFree(&out)
		return nil, fmt.Errorf("audio resample failed: %w", err)
	}

	if rawFrame.Pts() != ffmpeg.AVNoptsValue {
		stream := d.formatCtx.Streams().Get(uintptr(d.audioStreamIndex))
		out.SetPts(ffmpeg.AVRescaleQ(rawFrame.Pts(), stream.TimeBase(), ffmpeg.AVMakeQ(1, TargetSampleRate)))
	}

	return out, nil
}

// Duration reports the stream duration in seconds, falling back to the
// container duration.
func (d *AudioDecoder) Duration() float64 {
	if d.formatCtx == nil || d.audioStreamIndex < 0 {
		return 0
	}
	stream := d.formatCtx.Streams().Get(uintptr(d.audioStreamIndex))
	if stream.Duration() != ffmpeg.AVNoptsValue {
		return float64(stream.Duration()) * rationalSeconds(*stream.TimeBase())
	}
	if d.formatCtx.Duration() != ffmpeg.AVNoptsValue {
		return float64(d.formatCtx.Duration()) / float64(ffmpeg.AVTimeBase)
	}
	return 0
}

// Close releases the filter chain, resampler, decoder, and demuxer.
func (d *AudioDecoder) Close() {
	if d.filterGraph != nil {
		ffmpeg.AVFilterGraphFree(&d.filterGraph)
		d.bufferSrcCtx = nil
		d.bufferSinkCtx = nil
	}
	if d.swrCtx != nil {
		ffmpeg.SwrFree(&d.swrCtx)
	}
	if d.codecCtx != nil {
		ffmpeg.AVCodecFreeContext(&d.codecCtx)
	}
	if d.formatCtx != nil {
		ffmpeg.AVFormatCloseInput(&d.formatCtx)
	}
	d.audioStreamIndex = -1
	d.effectsOn = false
	d.decoderDrained = false
}
