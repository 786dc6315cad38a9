package composer

import (
	"errors"
	"fmt"
	"runtime"

	ffmpeg "github.com/csnewman/ffmpeg-go"
	"github.com/hashicorp/go-hclog"
)

const defaultAudioFrameSize = 1024

/*
outputEncoder owns the muxer and both encoders for one render: the
container inferred from the output path extension, a video stream encoding
YUV 4:2:0 at the project geometry, and (when it can be created) a stereo
float-planar audio stream at 44.1 kHz.

The render engine is the only caller; packets are drained and written
inline after every sent frame, with timestamps rescaled from the encoder
time base into the stream time base.
*/
type outputEncoder struct {
	fmtCtx *ffmpeg.AVFormatContext

	videoStream   *ffmpeg.AVStream
	videoCodecCtx *ffmpeg.AVCodecContext

	audioStream   *ffmpeg.AVStream
	audioCodecCtx *ffmpeg.AVCodecContext

	// Reused for every drained packet and every encoded audio chunk.
	packet        *ffmpeg.AVPacket
	audioEncFrame *ffmpeg.AVFrame

	logger hclog.Logger
}

func newOutputEncoder(project *ProjectInfoConfig, global *GlobalEffectsConfig, logger hclog.Logger) (*outputEncoder, error) {
	e := &outputEncoder{logger: logger}

	if err := e.createOutputContext(project.OutputPath); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.createVideoStream(project, &global.VideoEncoding); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.createAudioStream(&global.AudioEncoding); err != nil {
		// A silent render is better than no render.
		e.logger.Warn("audio encoder unavailable, rendering without audio", "error", err)
	}

	if _, err := ffmpeg.AVFormatWriteHeader(e.fmtCtx, nil); err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to write container header: %w", err)
	}

	e.packet = ffmpeg.AVPacketAlloc()
	if e.packet == nil {
		e.Close()
		return nil, fmt.Errorf("failed to allocate packet")
	}

	return e, nil
}

func (e *outputEncoder) createOutputContext(outputPath string) error {
	pathC := ffmpeg.ToCStr(outputPath)
	defer pathC.Free()

	if _, err := ffmpeg.AVFormatAllocOutputContext2(&e.fmtCtx, nil, nil, pathC); err != nil {
		return fmt.Errorf("failed to create output context for %s: %w", outputPath, err)
	}

	if e.fmtCtx.Oformat().Flags()&ffmpeg.AVFmtNofile == 0 {
		var pb *ffmpeg.AVIOContext
		if _, err := ffmpeg.AVIOOpen(&pb, pathC, ffmpeg.AVIOFlagWrite); err != nil {
			return fmt.Errorf("failed to open output file %s: %w", outputPath, err)
		}
		e.fmtCtx.SetPb(pb)
	}
	return nil
}

func (e *outputEncoder) createVideoStream(project *ProjectInfoConfig, encoding *VideoEncodingConfig) error {
	codecNameC := ffmpeg.ToCStr(encoding.Codec)
	defer codecNameC.Free()

	codec := ffmpeg.AVCodecFindEncoderByName(codecNameC)
	if codec == nil {
		return fmt.Errorf("video encoder %q not found", encoding.Codec)
	}

	e.videoStream = ffmpeg.AVFormatNewStream(e.fmtCtx, nil)
	if e.videoStream == nil {
		return fmt.Errorf("failed to create video stream")
	}
	e.videoStream.SetId(int(e.fmtCtx.NbStreams()) - 1)

	e.videoCodecCtx = ffmpeg.AVCodecAllocContext3(codec)
	if e.videoCodecCtx == nil {
		return fmt.Errorf("failed to allocate video encoder context")
	}

	ctx := e.videoCodecCtx
	ctx.SetWidth(project.Width)
	ctx.SetHeight(project.Height)
	ctx.SetTimeBase(ffmpeg.AVMakeQ(1, project.Fps))
	ctx.SetFramerate(ffmpeg.AVMakeQ(project.Fps, 1))
	ctx.SetPixFmt(ffmpeg.AVPixFmtYuv420P)
	ctx.SetGopSize(12)

	if bitrate := ParseBitrate(encoding.Bitrate, e.logger); bitrate > 0 {
		ctx.SetBitRate(bitrate)
	}

	ctx.SetThreadCount(minInt(8, runtime.NumCPU()))
	ctx.SetThreadType(ffmpeg.FfThreadFrame)

	if encoding.Preset != "" {
		presetC := ffmpeg.ToCStr(encoding.Preset)
		ffmpeg.AVOptSet(ctx.PrivData(), ffmpeg.GlobalCStr("preset"), presetC, 0)
		presetC.Free()
	}
	ffmpeg.AVOptSetInt(ctx.PrivData(), ffmpeg.GlobalCStr("crf"), int64(encoding.CRF), 0)

	if e.fmtCtx.Oformat().Flags()&ffmpeg.AVFmtGlobalheader != 0 {
		ctx.SetFlags(ctx.Flags() | ffmpeg.AVCodecFlagGlobalHeader)
	}

	if _, err := ffmpeg.AVCodecOpen2(ctx, codec, nil); err != nil {
		return fmt.Errorf("failed to open video encoder: %w", err)
	}
	if _, err := ffmpeg.AVCodecParametersFromContext(e.videoStream.Codecpar(), ctx); err != nil {
		return fmt.Errorf("failed to copy video encoder parameters: %w", err)
	}
	e.videoStream.SetTimeBase(ctx.TimeBase())
	return nil
}

func (e *outputEncoder) createAudioStream(encoding *AudioEncodingConfig) error {
	codecNameC := ffmpeg.ToCStr(encoding.Codec)
	defer codecNameC.Free()

	codec := ffmpeg.AVCodecFindEncoderByName(codecNameC)
	if codec == nil {
		return fmt.Errorf("audio encoder %q not found", encoding.Codec)
	}

	e.audioStream = ffmpeg.AVFormatNewStream(e.fmtCtx, nil)
	if e.audioStream == nil {
		return fmt.Errorf("failed to create audio stream")
	}
	e.audioStream.SetId(int(e.fmtCtx.NbStreams()) - 1)

	e.audioCodecCtx = ffmpeg.AVCodecAllocContext3(codec)
	if e.audioCodecCtx == nil {
		e.audioStream = nil
		return fmt.Errorf("failed to allocate audio encoder context")
	}

	ctx := e.audioCodecCtx
	ctx.SetSampleFmt(ffmpeg.AVSampleFmtFltp)
	ctx.SetSampleRate(TargetSampleRate)
	ffmpeg.AVChannelLayoutDefault(ctx.ChLayout(), targetChannels)
	ctx.SetTimeBase(ffmpeg.AVMakeQ(1, TargetSampleRate))
	ctx.SetThreadCount(minInt(4, runtime.NumCPU()))

	if bitrate := ParseBitrate(encoding.Bitrate, e.logger); bitrate > 0 {
		ctx.SetBitRate(bitrate)
	}

	if e.fmtCtx.Oformat().Flags()&ffmpeg.AVFmtGlobalheader != 0 {
		ctx.SetFlags(ctx.Flags() | ffmpeg.AVCodecFlagGlobalHeader)
	}

	if _, err := ffmpeg.AVCodecOpen2(ctx, codec, nil); err != nil {
		ffmpeg.AVCodecFreeContext(&e.audioCodecCtx)
		e.audioStream = nil
		return fmt.Errorf("failed to open audio encoder: %w", err)
	}
	if _, err := ffmpeg.AVCodecParametersFromContext(e.audioStream.Codecpar(), ctx); err != nil {
		ffmpeg.AVCodecFreeContext(&e.audioCodecCtx)
		e.audioStream = nil
		return fmt.Errorf("failed to copy audio encoder parameters: %w", err)
	}
	e.audioStream.SetTimeBase(ctx.TimeBase())
	return nil
}

// hasAudio reports whether an audio stream was created.
func (e *outputEncoder) hasAudio() bool {
	return e.audioStream != nil && e.audioCodecCtx != nil
}

// frameSize reports the audio encoder's required samples per frame.
func (e *outputEncoder) frameSize() int {
	if !e.hasAudio() {
		return defaultAudioFrameSize
	}
	if fs := e.audioCodecCtx.FrameSize(); fs > 0 {
		return fs
	}
	return defaultAudioFrameSize
}

// writeVideoFrame stamps the pts, encodes, and muxes all produced packets.
func (e *outputEncoder) writeVideoFrame(frame *ffmpeg.AVFrame, pts int64) error {
	frame.SetPts(pts)
	if _, err := ffmpeg.AVCodecSendFrame(e.videoCodecCtx, frame); err != nil {
		return fmt.Errorf("failed to send video frame: %w", err)
	}
	return e.drainPackets(e.videoCodecCtx, e.videoStream)
}

/*
encodeAudioChunk copies one frame_size chunk of planar samples into the
reusable encoder frame, stamps the pts in sample units, encodes, and muxes.
*/
func (e *outputEncoder) encodeAudioChunk(left, right []float32, pts int64) error {
	if !e.hasAudio() {
		return nil
	}
	n := len(left)

	if e.audioEncFrame == nil {
		frame := ffmpeg.AVFrameAlloc()
		if frame == nil {
			return fmt.Errorf("failed to allocate audio encoder frame")
		}
		frame.SetNbSamples(n)
		frame.SetFormat(int(ffmpeg.AVSampleFmtFltp))
		ffmpeg.AVChannelLayoutDefault(frame.ChLayout(), targetChannels)
		frame.SetSampleRate(TargetSampleRate)
		if _, err := ffmpeg.AVFrameGetBuffer(frame, 0); err != nil {
			ffmpeg.AVFrameFree(&frame)
			return fmt.Errorf("failed to allocate audio frame buffer: %w", err)
		}
		e.audioEncFrame = frame
	}
	if _, err := ffmpeg.AVFrameMakeWritable(e.audioEncFrame); err != nil {
		return fmt.Errorf("failed to make audio frame writable: %w", err)
	}

	copy(frameSamples(e.audioEncFrame, 0, n), left)
	copy(frameSamples(e.audioEncFrame, 1, n), right)
	e.audioEncFrame.SetPts(pts)

	if _, err := ffmpeg.AVCodecSendFrame(e.audioCodecCtx, e.audioEncFrame); err != nil {
		return fmt.Errorf("failed to send audio frame: %w", err)
	}
	return e.drainPackets(e.audioCodecCtx, e.audioStream)
}

// drainPackets receives every pending packet from the encoder, rescales its
// timestamps to the stream time base, and writes it to the muxer.
func (e *outputEncoder) drainPackets(codecCtx *ffmpeg.AVCodecContext, stream *ffmpeg.AVStream) error {
	for {
		ffmpeg.AVPacketUnref(e.packet)
		if _, err := ffmpeg.AVCodecReceivePacket(codecCtx, e.packet); err != nil {
			if errors.Is(err, ffmpeg.EAgain) || errors.Is(err, ffmpeg.AVErrorEOF) {
				return nil
			}
			return fmt.Errorf("failed to receive packet: %w", err)
		}

		e.packet.SetStreamIndex(stream.Index())
		ffmpeg.AVPacketRescaleTs(e.packet, codecCtx.TimeBase(), stream.TimeBase())
		if _, err := ffmpeg.AVInterleavedWriteFrame(e.fmtCtx, e.packet); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
	}
}

// flushEncoder sends the end-of-stream frame and drains the remainder.
func (e *outputEncoder) flushEncoder(codecCtx *ffmpeg.AVCodecContext, stream *ffmpeg.AVStream) error {
	if codecCtx == nil || stream == nil {
		return nil
	}
	if _, err := ffmpeg.AVCodecSendFrame(codecCtx, nil); err != nil && !errors.Is(err, ffmpeg.AVErrorEOF) {
		return fmt.Errorf("failed to flush encoder: %w", err)
	}
	return e.drainPackets(codecCtx, stream)
}

// finalize flushes both encoders and writes the container trailer.
func (e *outputEncoder) finalize() error {
	if err := e.flushEncoder(e.videoCodecCtx, e.videoStream); err != nil {
		return err
	}
	if e.hasAudio() {
		if err := e.flushEncoder(e.audioCodecCtx, e.audioStream); err != nil {
			return err
		}
	}
	if _, err := ffmpeg.AVWriteTrailer(e.fmtCtx); err != nil {
		return fmt.Errorf("failed to write container trailer: %w", err)
	}
	return nil
}

// Close releases everything. The output file is best-effort closed; callers
// wanting a playable file must have called finalize first.
func (e *outputEncoder) Close() {
	if e.packet != nil {
		ffmpeg.AVPacketFree(&e.packet)
	}
	if e.audioEncFrame != nil {
		ffmpeg.AVFrameFree(&e.audioEncFrame)
	}
	if e.videoCodecCtx != nil {
		ffmpeg.AVCodecFreeContext(&e.videoCodecCtx)
	}
	if e.audioCodecCtx != nil {
		ffmpeg.AVCodecFreeContext(&e.audioCodecCtx)
	}
	if e.fmtCtx != nil {
		if e.fmtCtx.Oformat() != nil && e.fmtCtx.Oformat().Flags()&ffmpeg.AVFmtNofile == 0 && e.fmtCtx.Pb() != nil {
			ffmpeg.AVIOClose(e.fmtCtx.Pb())
			e.fmtCtx.SetPb(nil)
		}
		ffmpeg.AVFormatFreeContext(e.fmtCtx)
		e.fmtCtx = nil
	}
}
