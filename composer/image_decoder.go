package composer

import (
	"errors"
	"fmt"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

/*
ImageDecoder decodes exactly one frame from a still image file and scales it
to the project geometry. The decoded frame is cached so that repeat calls
(scene rendering plus any transitions touching the scene) never redecode.
*/
type ImageDecoder struct {
	formatCtx        *ffmpeg.AVFormatContext
	codecCtx         *ffmpeg.AVCodecContext
	videoStreamIndex int

	width  int
	height int

	scaler      frameScaler
	cachedFrame *ffmpeg.AVFrame
}

func NewImageDecoder() *ImageDecoder {
	return &ImageDecoder{videoStreamIndex: -1}
}

// Open opens the image file and prepares its decoder.
func (d *ImageDecoder) Open(filePath string) error {
	if err := ensureMediaInitialized(); err != nil {
		return err
	}

	pathC := ffmpeg.ToCStr(filePath)
	defer pathC.Free()

	if _, err := ffmpeg.AVFormatOpenInput(&d.formatCtx, pathC, nil, nil); err != nil {
		return fmt.Errorf("failed to open image %s: %w", filePath, err)
	}
	if _, err := ffmpeg.AVFormatFindStreamInfo(d.formatCtx, nil); err != nil {
		d.Close()
		return fmt.Errorf("failed to read image stream info: %w", err)
	}

	streamIndex, err := findBestStream(d.formatCtx, ffmpeg.AVMediaTypeVideo)
	if err != nil {
		d.Close()
		return fmt.Errorf("no image stream found: %w", err)
	}
	d.videoStreamIndex = streamIndex

	stream := d.formatCtx.Streams().Get(uintptr(streamIndex))
	codec := ffmpeg.AVCodecFindDecoder(stream.Codecpar().CodecId())
	if codec == nil {
		d.Close()
		return fmt.Errorf("no decoder for image stream")
	}

	d.codecCtx = ffmpeg.AVCodecAllocContext3(codec)
	if d.codecCtx == nil {
		d.Close()
		return fmt.Errorf("failed to allocate image decoder context")
	}
	if _, err := ffmpeg.AVCodecParametersToContext(d.codecCtx, stream.Codecpar()); err != nil {
		d.Close()
		return fmt.Errorf("failed to copy image decoder parameters: %w", err)
	}
	if _, err := ffmpeg.AVCodecOpen2(d.codecCtx, codec, nil); err != nil {
		d.Close()
		return fmt.Errorf("failed to open image decoder: %w", err)
	}

	d.width = d.codecCtx.Width()
	d.height = d.codecCtx.Height()
	return nil
}

// Width reports the native image width, or 0 before Open succeeds.
func (d *ImageDecoder) Width() int { return d.width }

// Height reports the native image height.
func (d *ImageDecoder) Height() int { return d.height }

// Decode reads packets until one frame is produced.
func (d *ImageDecoder) Decode() (*ffmpeg.AVFrame, error) {
	if d.formatCtx == nil || d.codecCtx == nil {
		return nil, fmt.Errorf("image decoder is not open")
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
		if _, err := ffmpeg.AVReadFrame(d.formatCtx, packet); err != nil {
			if errors.Is(err, ffmpeg.AVErrorEOF) {
				break
			}
			ffmpeg.AVFrameFree(&frame)
			return nil, fmt.Errorf("failed to read image data: %w", err)
		}
		if packet.StreamIndex() != d.videoStreamIndex {
			ffmpeg.AVPacketUnref(packet)
			continue
		}
		if _, err := ffmpeg.AVCodecSendPacket(d.codecCtx, packet); err != nil {
			ffmpeg.AVPacketUnref(packet)
			ffmpeg.AVFrameFree(&frame)
			return nil, fmt.Errorf("failed to send image packet: %w", err)
		}
		ffmpeg.AVPacketUnref(packet)

		if _, err := ffmpeg.AVCodecReceiveFrame(d.codecCtx, frame); err != nil {
			if errors.Is(err, ffmpeg.EAgain) {
				continue
			}
			ffmpeg.AVFrameFree(&frame)
			return nil, fmt.Errorf("failed to decode image frame: %w", err)
		}
		return frame, nil
	}

	// Drain the decoder for formats that buffer the single frame.
	ffmpeg.AVCodecSendPacket(d.codecCtx, nil)
	if _, err := ffmpeg.AVCodecReceiveFrame(d.codecCtx, frame); err != nil {
		ffmpeg.AVFrameFree(&frame)
		return nil, fmt.Errorf("image file produced no frame: %w", err)
	}
	return frame, nil
}

// DecodeAndCache returns a copy of the decoded image frame, decoding it on
// the first call only.
func (d *ImageDecoder) DecodeAndCache() (*ffmpeg.AVFrame, error) {
	if d.cachedFrame != nil {
		return cloneFrame(d.cachedFrame), nil
	}
	frame, err := d.Decode()
	if err != nil {
		return nil, err
	}
	d.cachedFrame = frame
	return cloneFrame(d.cachedFrame), nil
}

// ScaleToSize converts a decoded frame to the target geometry and pixel
// format with the pipeline's color policy applied.
func (d *ImageDecoder) ScaleToSize(frame *ffmpeg.AVFrame, targetWidth, targetHeight int, targetFormat ffmpeg.AVPixelFormat) (*ffmpeg.AVFrame, error) {
	return d.scaler.scale(frame, targetWidth, targetHeight, targetFormat)
}

// Close releases the decoder, demuxer, scaler, and cached frame.
func (d *ImageDecoder) Close() {
	if d.cachedFrame != nil {
		ffmpeg.AVFrameFree(&d.cachedFrame)
	}
	d.scaler.free()
	if d.codecCtx != nil {
		ffmpeg.AVCodecFreeContext(&d.codecCtx)
	}
	if d.formatCtx != nil {
		ffmpeg.AVFormatCloseInput(&d.formatCtx)
	}
	d.videoStreamIndex = -1
	d.width = 0
	d.height = 0
}

// findBestStream locates the first stream of the wanted media type.
func findBestStream(fmtCtx *ffmpeg.AVFormatContext, mediaType ffmpeg.AVMediaType) (int, error) {
	streams := fmtCtx.Streams()
	for i := uintptr(0); i < uintptr(fmtCtx.NbStreams()); i++ {
		if streams.Get(i).Codecpar().CodecType() == mediaType {
			return int(i), nil
		}
	}
	return -1, fmt.Errorf("no stream of the requested type")
}
