package composer

import (
	"math"
	"testing"
)

// solidPlanes builds a planeSet over freshly allocated buffers with every
// luma sample set to y and every chroma sample set to u/v.
func solidPlanes(width, height int, y, u, v byte) planeSet {
	mk := func(w, h int, fill byte) plane {
		data := make([]byte, w*h)
		for i := range data {
			data[i] = fill
		}
		return plane{data: data, stride: w, width: w, height: h}
	}
	return planeSet{
		y: mk(width, height, y),
		u: mk(width/2, height/2, u),
		v: mk(width/2, height/2, v),
	}
}

func planeAverage(p plane) float64 {
	sum := 0.0
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			sum += float64(p.data[y*p.stride+x])
		}
	}
	return sum / float64(p.width*p.height)
}

func TestCrossfadeEndpoints(t *testing.T) {
	const w, h = 32, 16
	from := solidPlanes(w, h, 16, 128, 128)
	to := solidPlanes(w, h, 235, 90, 200)

	tests := []struct {
		name     string
		progress float64
		wantY    float64
		tol      float64
	}{
		{name: "first frame equals from", progress: 0, wantY: 16, tol: 0},
		{name: "last frame is nearly to", progress: 29.0 / 30.0, wantY: 235, tol: 8},
		{name: "midpoint blends", progress: 0.5, wantY: 125.5, tol: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := solidPlanes(w, h, 0, 0, 0)
			blendCrossfade(dst, from, to, tt.progress)
			if got := planeAverage(dst.y); math.Abs(got-tt.wantY) > tt.tol {
				t.Errorf("Y average at t=%v is %v, want %v (tolerance %v)", tt.progress, got, tt.wantY, tt.tol)
			}
		})
	}
}

func TestCrossfadePerSampleError(t *testing.T) {
	const w, h = 8, 8
	from := solidPlanes(w, h, 100, 50, 60)
	to := solidPlanes(w, h, 200, 150, 160)
	dst := solidPlanes(w, h, 0, 0, 0)

	blendCrossfade(dst, from, to, 0.25)

	// 100*0.75 + 200*0.25 = 125; truncation may lose at most one step.
	for i, got := range dst.y.data {
		if got != 125 && got != 124 {
			t.Fatalf("sample %d = %d, want 125 within 1", i, got)
		}
	}
}

func TestWipeBoundary(t *testing.T) {
	const w, h = 64, 32
	from := solidPlanes(w, h, 16, 128, 128)  // black
	to := solidPlanes(w, h, 235, 128, 128)   // white

	progress := 0.5
	dst := solidPlanes(w, h, 0, 0, 0)
	blendWipe(dst, from, to, progress)

	wipeX := int(float64(w) * progress)
	for x := 0; x < w; x++ {
		want := byte(16)
		if x < wipeX {
			want = 235
		}
		if got := dst.y.data[x]; got != want {
			t.Errorf("column %d = %d, want %d", x, got, want)
		}
	}
}

func TestWipeChromaEdgeIsHalfLuma(t *testing.T) {
	const w, h = 16, 8
	from := solidPlanes(w, h, 0, 10, 10)
	to := solidPlanes(w, h, 0, 240, 240)

	dst := solidPlanes(w, h, 0, 0, 0)
	blendWipe(dst, from, to, 0.5)

	wipeUv := (w / 2) / 2
	for x := 0; x < w/2; x++ {
		want := byte(10)
		if x < wipeUv {
			want = 240
		}
		if got := dst.u.data[x]; got != want {
			t.Errorf("chroma column %d = %d, want %d", x, got, want)
		}
	}
}

func TestSlide(t *testing.T) {
	const w, h = 32, 8
	from := solidPlanes(w, h, 50, 100, 100)
	to := solidPlanes(w, h, 200, 150, 150)

	t.Run("start shows from", func(t *testing.T) {
		dst := solidPlanes(w, h, 0, 0, 0)
		blendSlide(dst, from, to, 0)
		for x := 0; x < w; x++ {
			if dst.y.data[x] != 50 {
				t.Fatalf("column %d = %d, want 50", x, dst.y.data[x])
			}
		}
	})

	t.Run("midpoint splits", func(t *testing.T) {
		dst := solidPlanes(w, h, 0, 0, 0)
		blendSlide(dst, from, to, 0.5)
		// Left half still shows the tail of from; right half the head of to.
		if dst.y.data[0] != 50 {
			t.Errorf("column 0 = %d, want 50", dst.y.data[0])
		}
		if dst.y.data[w-1] != 200 {
			t.Errorf("column %d = %d, want 200", w-1, dst.y.data[w-1])
		}
	})

	t.Run("end shows to", func(t *testing.T) {
		dst := solidPlanes(w, h, 0, 0, 0)
		blendSlide(dst, from, to, float64(w-1)/float64(w))
		if dst.y.data[1] != 200 {
			t.Errorf("column 1 = %d, want 200", dst.y.data[1])
		}
	})
}
