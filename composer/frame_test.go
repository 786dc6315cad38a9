package composer

import (
	"testing"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

func TestColorPolicySelection(t *testing.T) {
	tests := []struct {
		name   string
		height int
		want   ffmpeg.AVColorSpace
	}{
		{name: "sd uses smpte170m", height: 480, want: ffmpeg.AVColSpcSmpte170M},
		{name: "720p uses bt709", height: 720, want: ffmpeg.AVColSpcBt709},
		{name: "1080p uses bt709", height: 1080, want: ffmpeg.AVColSpcBt709},
		{name: "719 stays smpte170m", height: 719, want: ffmpeg.AVColSpcSmpte170M},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := colorPolicyFor(tt.height).colorspace; got != tt.want {
				t.Errorf("colorPolicyFor(%d) = %v, want %v", tt.height, got, tt.want)
			}
		})
	}
}

func TestTestPatternIsDeterministic(t *testing.T) {
	const w, h = 64, 32

	a := make([]byte, w*h)
	b := make([]byte, w*h)
	fillTestPatternLuma(a, w, h, w, 7)
	fillTestPatternLuma(b, w, h, w, 7)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("pattern differs at %d for the same frame index", i)
		}
	}

	c := make([]byte, w*h)
	fillTestPatternLuma(c, w, h, w, 8)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("pattern should drift with the frame index")
	}
}

func TestRoundFrames(t *testing.T) {
	tests := []struct {
		seconds float64
		fps     int
		want    int
	}{
		{seconds: 2, fps: 30, want: 60},
		{seconds: 3.25, fps: 30, want: 98},
		{seconds: 0.99, fps: 30, want: 30},
		{seconds: 0, fps: 30, want: 0},
	}
	for _, tt := range tests {
		if got := RoundFrames(tt.seconds, tt.fps); got != tt.want {
			t.Errorf("RoundFrames(%v, %d) = %d, want %d", tt.seconds, tt.fps, got, tt.want)
		}
	}
}
