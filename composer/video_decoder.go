package composer

import (
	"errors"
	"fmt"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

/*
VideoDecoder demuxes a video file and hands out decoded frames in
presentation order. DecodeNextFrame returns (nil, nil) at end of stream.
It also reports the container duration and a guessed frame rate.
*/
type VideoDecoder struct {
	formatCtx        *ffmpeg.AVFormatContext
	codecCtx         *ffmpeg.AVCodecContext
	videoStreamIndex int

	timeBase  ffmpeg.AVRational
	frameRate float64
	duration  int64

	scaler frameScaler
}

func NewVideoDecoder() *VideoDecoder {
	return &VideoDecoder{videoStreamIndex: -1}
}

// Open opens the video file and prepares the best video stream for decode.
func (d *VideoDecoder) Open(filePath string) error {
	if err := ensureMediaInitialized(); err != nil {
		return err
	}

	pathC := ffmpeg.ToCStr(filePath)
	defer pathC.Free()

	if _, err := ffmpeg.AVFormatOpenInput(&d.formatCtx, pathC, nil, nil); err != nil {
		return fmt.Errorf("failed to open video %s: %w", filePath, err)
	}
	if _, err := ffmpeg.AVFormatFindStreamInfo(d.formatCtx, nil); err != nil {
		d.Close()
		return fmt.Errorf("failed to read video stream info: %w", err)
	}

	streamIndex, err := findBestStream(d.formatCtx, ffmpeg.AVMediaTypeVideo)
	if err != nil {
		d.Close()
		return fmt.Errorf("no video stream found: %w", err)
	}
	d.videoStreamIndex = streamIndex

	stream := d.formatCtx.Streams().Get(uintptr(streamIndex))
	codec := ffmpeg.AVCodecFindDecoder(stream.Codecpar().CodecId())
	if codec == nil {
		d.Close()
		return fmt.Errorf("no decoder for video stream")
	}

	d.codecCtx = ffmpeg.AVCodecAllocContext3(codec)
	if d.codecCtx == nil {
		d.Close()
		return fmt.Errorf("failed to allocate video decoder context")
	}
	if _, err := ffmpeg.AVCodecParametersToContext(d.codecCtx, stream.Codecpar()); err != nil {
		d.Close()
		return fmt.Errorf("failed to copy video decoder parameters: %w", err)
	}
	if _, err := ffmpeg.AVCodecOpen2(d.codecCtx, codec, nil); err != nil {
		d.Close()
		return fmt.Errorf("failed to open video decoder: %w", err)
	}

	d.timeBase = *stream.TimeBase()
	if d.formatCtx.Duration() != ffmpeg.AVNoptsValue {
		d.duration = d.formatCtx.Duration()
	} else {
		d.duration = stream.Duration()
	}

	guess := ffmpeg.AVGuessFrameRate(d.formatCtx, stream, nil)
	if guess.Num() > 0 && guess.Den() > 0 {
		d.frameRate = float64(guess.Num()) / float64(guess.Den())
	} else if avg := stream.AvgFrameRate(); avg.Num() > 0 && avg.Den() > 0 {
		d.frameRate = float64(avg.Num()) / float64(avg.Den())
	}

	return nil
}

/*
DecodeNextFrame returns the next decoded frame in presentation order, or
(nil, nil) at end of stream. The returned frame is owned by the caller.
*/
func (d *VideoDecoder) DecodeNextFrame() (*ffmpeg.AVFrame, error) {
	if d.formatCtx == nil || d.codecCtx == nil {
		return nil, fmt.Errorf("video decoder is not open")
	}

	packet := ffmpeg.AVPacketAlloc()
	if packet == nil {
		return nil, fmt.Errorf("failed to allocate packet")
	}
	defer ffmpeg.AVPacketFree(&packet)

	frame := ffmpeg.AVFrameAlloc()
	if frame == nil {
		return nil, fmt.Errorf("failed to allocate frame")
	}

	for {
		_, err := ffmpeg.AVCodecReceiveFrame(d.codecCtx, frame)
		if err == nil {
			return frame, nil
		}
		if errors.Is(err, ffmpeg.AVErrorEOF) {
			ffmpeg.AVFrameFree(&frame)
			return nil, nil
		}
		if !errors.Is(err, ffmpeg.EAgain) {
			ffmpeg.AVFrameFree(&frame)
			return nil, fmt.Errorf("failed to receive video frame: %w", err)
		}

		// Decoder is hungry; feed it the next packet of our stream.
		for {
			if _, err := ffmpeg.AVReadFrame(d.formatCtx, packet); err != nil {
				// Out of input: switch the decoder to drain mode.
				ffmpeg.AVCodecSendPacket(d.codecCtx, nil)
				break
			}
			if packet.StreamIndex() == d.videoStreamIndex {
				_, err := ffmpeg.AVCodecSendPacket(d.codecCtx, packet)
				ffmpeg.AVPacketUnref(packet)
				if err != nil {
					ffmpeg.AVFrameFree(&frame)
					return nil, fmt.Errorf("failed to send video packet: %w", err)
				}
				break
			}
			ffmpeg.AVPacketUnref(packet)
		}
	}
}

// ScaleFrame converts a decoded frame to the target geometry with the
// pipeline's color policy.
func (d *VideoDecoder) ScaleFrame(frame *ffmpeg.AVFrame, targetWidth, targetHeight int, targetFormat ffmpeg.AVPixelFormat) (*ffmpeg.AVFrame, error) {
	return d.scaler.scale(frame, targetWidth, targetHeight, targetFormat)
}

// Duration reports the container duration in seconds, falling back to the
// stream duration, or 0 when neither is known.
func (d *VideoDecoder) Duration() float64 {
	if d.formatCtx == nil || d.videoStreamIndex < 0 {
		return 0
	}
	if d.duration == ffmpeg.AVNoptsValue {
		return 0
	}
	if d.duration == d.formatCtx.Duration() {
		return float64(d.duration) / float64(ffmpeg.AVTimeBase)
	}
	return float64(d.duration) * rationalSeconds(d.timeBase)
}

// FrameRate reports the guessed source frame rate, or 0 when unknown.
func (d *VideoDecoder) FrameRate() float64 { return d.frameRate }

// Close releases the decoder, demuxer, and scaler.
func (d *VideoDecoder) Close() {
	d.scaler.free()
	if d.codecCtx != nil {
		ffmpeg.AVCodecFreeContext(&d.codecCtx)
	}
	if d.formatCtx != nil {
		ffmpeg.AVFormatCloseInput(&d.formatCtx)
	}
	d.videoStreamIndex = -1
	d.duration = 0
}
