package composer

import (
	"strings"
	"testing"
)

func TestEscapeDrawtext(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text untouched", in: "Hello World", want: "Hello World"},
		{name: "colon escaped", in: "Hello:World", want: `Hello\:World`},
		{name: "quote escaped", in: "it's", want: `it\'s`},
		{name: "backslash escaped", in: `a\b`, want: `a\\b`},
		{name: "multibyte preserved", in: "こんにちは:世界", want: `こんにちは\:世界`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeDrawtext(tt.in); got != tt.want {
				t.Errorf("escapeDrawtext(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDrawtextFilterSpec(t *testing.T) {
	subtitle := &SubtitleConfig{
		Text:         "Hello:World",
		FontSize:     48,
		FontColor:    "white",
		BgColor:      "black@0.5",
		MarginBottom: 60,
		FontPath:     "/tmp/test.ttf",
	}

	got := drawtextFilterSpec(subtitle)

	for _, fragment := range []string{
		`drawtext=text='Hello\:World'`,
		"fontfile='/tmp/test.ttf'",
		"fontsize=48",
		"fontcolor=white",
		"x=(w-text_w)/2",
		"y=h-60-text_h",
		"box=1:boxcolor=black@0.5",
		"boxborderw=10",
	} {
		if !strings.Contains(got, fragment) {
			t.Errorf("spec %q missing %q", got, fragment)
		}
	}
}

func TestDrawtextFilterSpecDefaultFont(t *testing.T) {
	subtitle := &SubtitleConfig{Text: "x", FontSize: 32, FontColor: "white", BgColor: "black", MarginBottom: 10}
	got := drawtextFilterSpec(subtitle)
	if !strings.Contains(got, "fontfile='") || strings.Contains(got, "fontfile=''") {
		t.Errorf("spec %q should carry the platform default font", got)
	}
}
