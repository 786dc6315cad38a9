package composer

import (
	"fmt"
	"strings"
	"testing"
)

func TestKenBurnsFilterSpec(t *testing.T) {
	const width, height, fps, frames = 1280, 720, 30, 60

	// The pan presets hold zoom at 1.1; the overscan the window sweeps is
	// computed with the same float arithmetic the builder uses.
	panSpan := float64(width) * (1.1 - 1.0)
	panY := float64(height) * (1.1 - 1.0) / 2

	tests := []struct {
		name   string
		effect KenBurnsConfig
		want   []string
	}{
		{
			name:   "zoom in runs 1.0 to 1.2",
			effect: KenBurnsConfig{Enabled: true, Preset: KenBurnsZoomIn},
			want: []string{
				"zoompan=z='1.0000000000+(0.2000000000)*on/60'",
				"d=60", "s=1280x720", "fps=30",
			},
		},
		{
			name:   "zoom out runs 1.2 to 1.0",
			effect: KenBurnsConfig{Enabled: true, Preset: KenBurnsZoomOut},
			want:   []string{"z='1.2000000000+(-0.2000000000)*on/60'"},
		},
		{
			name:   "pan right sweeps the overscan",
			effect: KenBurnsConfig{Enabled: true, Preset: KenBurnsPanRight},
			want: []string{
				"z='1.1'",
				fmt.Sprintf("x='0+(%g)*on/60'", panSpan),
				fmt.Sprintf("y='%g'", panY),
			},
		},
		{
			name:   "pan left mirrors pan right",
			effect: KenBurnsConfig{Enabled: true, Preset: KenBurnsPanLeft},
			want:   []string{fmt.Sprintf("x='%g+(%g)*on/60'", panSpan, -panSpan)},
		},
		{
			name: "custom interpolates scale and origin",
			effect: KenBurnsConfig{
				Enabled: true, Preset: KenBurnsCustom,
				StartScale: 1.0, EndScale: 1.5,
				StartX: 10, StartY: 20, EndX: 110, EndY: 40,
			},
			want: []string{
				"z='1+(0.5)*on/60'",
				"x='10+(100)*on/60'",
				"y='20+(20)*on/60'",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := kenBurnsFilterSpec(&tt.effect, width, height, fps, frames)
			for _, fragment := range tt.want {
				if !strings.Contains(got, fragment) {
					t.Errorf("spec %q missing %q", got, fragment)
				}
			}
		})
	}
}

func TestFetchWithoutSequenceFails(t *testing.T) {
	p := &EffectProcessor{width: 64, height: 64, fps: 30}
	if _, err := p.FetchNextFrame(); err == nil {
		t.Error("FetchNextFrame() without a running sequence should fail")
	}
}

func TestStartTransitionRejectsBadInput(t *testing.T) {
	p := &EffectProcessor{width: 64, height: 64, fps: 30}
	if err := p.StartTransitionSequence(CROSSFADE, nil, nil, 30); err == nil {
		t.Error("StartTransitionSequence() with nil frames should fail")
	}
}

func TestStartKenBurnsRejectsBadInput(t *testing.T) {
	p := &EffectProcessor{width: 64, height: 64, fps: 30}

	disabled := KenBurnsConfig{Enabled: false}
	if err := p.StartKenBurnsSequence(&disabled, nil, 30); err == nil {
		t.Error("StartKenBurnsSequence() with a disabled effect should fail")
	}

	enabled := KenBurnsConfig{Enabled: true, Preset: KenBurnsZoomIn}
	if err := p.StartKenBurnsSequence(&enabled, nil, 30); err == nil {
		t.Error("StartKenBurnsSequence() with a nil frame should fail")
	}
}
