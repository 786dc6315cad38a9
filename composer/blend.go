package composer

import (
	ffmpeg "github.com/csnewman/ffmpeg-go"
)

// plane is one Y, U, or V plane of a 4:2:0 frame.
type plane struct {
	data   []byte
	stride int
	width  int
	height int
}

// planeSet is the three planes of a YUV 4:2:0 frame. The chroma planes are
// half resolution in both dimensions.
type planeSet struct {
	y, u, v plane
}

func newPlaneSet(frame *ffmpeg.AVFrame, width, height int) planeSet {
	return planeSet{
		y: plane{
			data:   framePlane(frame, 0, height),
			stride: frameLinesize(frame, 0),
			width:  width,
			height: height,
		},
		u: plane{
			data:   framePlane(frame, 1, height/2),
			stride: frameLinesize(frame, 1),
			width:  width / 2,
			height: height / 2,
		},
		v: plane{
			data:   framePlane(frame, 2, height/2),
			stride: frameLinesize(frame, 2),
			width:  width / 2,
			height: height / 2,
		},
	}
}

// blendCrossfade writes out = from*(1-t) + to*t per pixel on every plane.
func blendCrossfade(dst, from, to planeSet, progress float64) {
	crossfadePlane(dst.y, from.y, to.y, progress)
	crossfadePlane(dst.u, from.u, to.u, progress)
	crossfadePlane(dst.v, from.v, to.v, progress)
}

func crossfadePlane(dst, from, to plane, progress float64) {
	inv := 1.0 - progress
	for y := 0; y < dst.height; y++ {
		dstRow := dst.data[y*dst.stride:]
		fromRow := from.data[y*from.stride:]
		toRow := to.data[y*to.stride:]
		for x := 0; x < dst.width; x++ {
			dstRow[x] = byte(float64(fromRow[x])*inv + float64(toRow[x])*progress)
		}
	}
}

/*
blendWipe reveals the incoming frame from the left: columns below the wipe
edge come from `to`, the rest from `from`. The edge on the chroma planes is
at half the luma position.
*/
func blendWipe(dst, from, to planeSet, progress float64) {
	wipeX := int(float64(dst.y.width) * progress)
	wipePlane(dst.y, from.y, to.y, wipeX)
	wipePlane(dst.u, from.u, to.u, wipeX/2)
	wipePlane(dst.v, from.v, to.v, wipeX/2)
}

func wipePlane(dst, from, to plane, wipeX int) {
	for y := 0; y < dst.height; y++ {
		dstRow := dst.data[y*dst.stride:]
		fromRow := from.data[y*from.stride:]
		toRow := to.data[y*to.stride:]
		for x := 0; x < dst.width; x++ {
			if x < wipeX {
				dstRow[x] = toRow[x]
			} else {
				dstRow[x] = fromRow[x]
			}
		}
	}
}

/*
blendSlide pushes the outgoing frame off to the left while the incoming
frame follows it in from the right. Pixels covered by neither source are
black (0 luma, 128 chroma).
*/
func blendSlide(dst, from, to planeSet, progress float64) {
	offset := int(float64(dst.y.width) * progress)
	slidePlane(dst.y, from.y, to.y, offset, 0)
	slidePlane(dst.u, from.u, to.u, offset/2, 128)
	slidePlane(dst.v, from.v, to.v, offset/2, 128)
}

func slidePlane(dst, from, to plane, offset int, fill byte) {
	for y := 0; y < dst.height; y++ {
		dstRow := dst.data[y*dst.stride:]
		fromRow := from.data[y*from.stride:]
		toRow := to.data[y*to.stride:]
		for x := 0; x < dst.width; x++ {
			fromX := x + offset
			toX := x - (dst.width - offset)
			switch {
			case fromX < dst.width:
				dstRow[x] = fromRow[fromX]
			case toX >= 0:
				dstRow[x] = toRow[toX]
			default:
				dstRow[x] = fill
			}
		}
	}
}
