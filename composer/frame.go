package composer

import (
	"fmt"
	"math"
	"unsafe"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

/*
colorPolicyFor returns the canonical color description for frames at the given
output height: limited (MPEG) range everywhere, BT.709 at 720 lines and
above, SMPTE170M below. Every frame the pipeline produces is stamped with
this policy so the encoder writes correct playback flags.
*/
type frameColorPolicy struct {
	colorspace ffmpeg.AVColorSpace
	primaries  ffmpeg.AVColorPrimaries
	trc        ffmpeg.AVColorTransferCharacteristic
}

func colorPolicyFor(height int) frameColorPolicy {
	if height >= 720 {
		return frameColorPolicy{
			colorspace: ffmpeg.AVColSpcBt709,
			primaries:  ffmpeg.AVColPriBt709,
			trc:        ffmpeg.AVColTrcBt709,
		}
	}
	return frameColorPolicy{
		colorspace: ffmpeg.AVColSpcSmpte170M,
		primaries:  ffmpeg.AVColPriSmpte170M,
		trc:        ffmpeg.AVColTrcSmpte170M,
	}
}

// stampFrameColorInfo applies the canonical color policy and a 1:1 sample
// aspect ratio to a produced frame.
func stampFrameColorInfo(frame *ffmpeg.AVFrame, outputHeight int) {
	if frame == nil {
		return
	}
	policy := colorPolicyFor(outputHeight)
	frame.SetColorRange(ffmpeg.AVColRangeMpeg)
	frame.SetColorspace(policy.colorspace)
	frame.SetColorPrimaries(policy.primaries)
	frame.SetColorTrc(policy.trc)
	frame.SetSampleAspectRatio(ffmpeg.AVMakeQ(1, 1))
}

// allocVideoFrame allocates a frame with buffers for the given geometry.
func allocVideoFrame(width, height int, format ffmpeg.AVPixelFormat) (*ffmpeg.AVFrame, error) {
	frame := ffmpeg.AVFrameAlloc()
	if frame == nil {
		return nil, fmt.Errorf("failed to allocate frame")
	}
	frame.SetWidth(width)
	frame.SetHeight(height)
	frame.SetFormat(int(format))
	if _, err := ffmpeg.AVFrameGetBuffer(frame, 0); err != nil {
		ffmpeg.AVFrameFree(&frame)
		return nil, fmt.Errorf("failed to allocate frame buffer: %w", err)
	}
	return frame, nil
}

// cloneFrame makes a reference-counted copy of a frame.
func cloneFrame(frame *ffmpeg.AVFrame) *ffmpeg.AVFrame {
	if frame == nil {
		return nil
	}
	return ffmpeg.AVFrameClone(frame)
}

// framePlane exposes plane i of a video frame as a byte slice of
// rows*linesize bytes.
func framePlane(frame *ffmpeg.AVFrame, plane int, rows int) []byte {
	data := frame.Data().Get(uintptr(plane))
	if data == nil {
		return nil
	}
	stride := int(frame.Linesize().Get(uintptr(plane)))
	return unsafe.Slice((*byte)(unsafe.Pointer(data)), rows*stride)
}

// frameLinesize returns the stride of plane i.
func frameLinesize(frame *ffmpeg.AVFrame, plane int) int {
	return int(frame.Linesize().Get(uintptr(plane)))
}

// frameSamples exposes channel ch of a planar float audio frame.
func frameSamples(frame *ffmpeg.AVFrame, ch int, n int) []float32 {
	data := frame.Data().Get(uintptr(ch))
	if data == nil {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(data)), n)
}

/*
generateTestFrame synthesizes a deterministic YUV 4:2:0 gradient pattern.
It stands in for scene imagery whose asset is missing or unreadable, so a
render with a broken reference still produces the full frame count. The
pattern drifts with the output frame index to stay visibly alive.
*/
func generateTestFrame(frameIndex, width, height int) (*ffmpeg.AVFrame, error) {
	frame, err := allocVideoFrame(width, height, ffmpeg.AVPixFmtYuv420P)
	if err != nil {
		return nil, err
	}

	yPlane := framePlane(frame, 0, height)
	yStride := frameLinesize(frame, 0)
	fillTestPatternLuma(yPlane, width, height, yStride, frameIndex)

	uPlane := framePlane(frame, 1, height/2)
	vPlane := framePlane(frame, 2, height/2)
	uStride := frameLinesize(frame, 1)
	vStride := frameLinesize(frame, 2)
	fillTestPatternChroma(uPlane, vPlane, width/2, height/2, uStride, vStride, frameIndex)

	stampFrameColorInfo(frame, height)
	return frame, nil
}

// fillTestPatternLuma writes the luma gradient for the synthetic frame.
func fillTestPatternLuma(plane []byte, width, height, stride, frameIndex int) {
	fi := float64(frameIndex)
	for y := 0; y < height; y++ {
		row := plane[y*stride:]
		for x := 0; x < width; x++ {
			v := 128 + 64*math.Sin(float64(x)*0.02+fi*0.1)*math.Cos(float64(y)*0.02+fi*0.05)
			row[x] = byte(v)
		}
	}
}

// fillTestPatternChroma writes the chroma gradients for the synthetic frame.
func fillTestPatternChroma(uPlane, vPlane []byte, width, height, uStride, vStride, frameIndex int) {
	fi := float64(frameIndex)
	for y := 0; y < height; y++ {
		uRow := uPlane[y*uStride:]
		vRow := vPlane[y*vStride:]
		for x := 0; x < width; x++ {
			uRow[x] = byte(128 + 64*math.Sin(float64(x)*0.04+fi*0.08))
			vRow[x] = byte(128 + 64*math.Cos(float64(y)*0.04+fi*0.06))
		}
	}
}

/*
frameScaler wraps a cached swscale context with the pipeline's color
handling: bilinear scaling, limited-range output, and destination matrix
coefficients chosen by the output height (BT.709 at 720 lines and up,
SMPTE170M below). The source matrix is the one the frame declares, or the
same height rule applied to the source when it declares none.
Each decoder owns one scaler and frees it when the decoder closes.
*/
type frameScaler struct {
	ctx *ffmpeg.SwsContext
}

func (s *frameScaler) scale(frame *ffmpeg.AVFrame, targetWidth, targetHeight int, targetFormat ffmpeg.AVPixelFormat) (*ffmpeg.AVFrame, error) {
	if frame == nil {
		return nil, fmt.Errorf("source frame is nil")
	}

	s.ctx = ffmpeg.SwsGetCachedContext(s.ctx,
		frame.Width(), frame.Height(), ffmpeg.AVPixelFormat(frame.Format()),
		targetWidth, targetHeight, targetFormat,
		ffmpeg.SwsBilinear, nil, nil, nil)
	if s.ctx == nil {
		return nil, fmt.Errorf("failed to create scaler context")
	}

	srcRange := 1
	if frame.ColorRange() == ffmpeg.AVColRangeMpeg {
		srcRange = 0
	}

	// The source matrix is whatever the frame declares; the destination is
	// always the canonical policy for the output height.
	srcColorspace := frame.Colorspace()
	if srcColorspace == ffmpeg.AVColSpcUnspecified {
		srcColorspace = colorPolicyFor(frame.Height()).colorspace
	}
	dstPolicy := colorPolicyFor(targetHeight)
	srcCoeffs := ffmpeg.SwsGetCoefficients(int(srcColorspace))
	dstCoeffs := ffmpeg.SwsGetCoefficients(int(dstPolicy.colorspace))
	ffmpeg.SwsSetColorspaceDetails(s.ctx, srcCoeffs, srcRange, dstCoeffs, 0, 0, 1<<16, 1<<16)

	scaled, err := allocVideoFrame(targetWidth, targetHeight, targetFormat)
	if err != nil {
		return nil, err
	}

	if _, err := ffmpeg.SwsScaleFrame(s.ctx, scaled, frame); err != nil {
		ffmpeg.AVFrameFree(&scaled)
		return nil, fmt.Errorf("failed to scale frame: %w", err)
	}

	stampFrameColorInfo(scaled, targetHeight)

	return scaled, nil
}

func (s *frameScaler) free() {
	if s.ctx != nil {
		ffmpeg.SwsFreeContext(s.ctx)
		s.ctx = nil
	}
}
