package composer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func testLoader(probe ProbeFunc) *ConfigLoader {
	loader := NewConfigLoader(hclog.NewNullLogger())
	loader.ProbeDuration = probe
	return loader
}

func noProbe(path string, kind ProbeKind) (float64, error) {
	return 0, errors.New("no media in tests")
}

func TestLoadStringAppliesDefaults(t *testing.T) {
	loader := testLoader(noProbe)
	config, err := loader.LoadString(`{"scenes":[{"type":"image_scene","duration":2}]}`)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}

	p := config.Project
	if p.Width != 1920 || p.Height != 1080 || p.Fps != 30 {
		t.Errorf("project defaults = %dx%d@%d, want 1920x1080@30", p.Width, p.Height, p.Fps)
	}
	if p.BackgroundColor != "#000000" {
		t.Errorf("background color = %q, want #000000", p.BackgroundColor)
	}

	enc := config.GlobalEffects
	if enc.VideoEncoding.Codec != "libx264" || enc.VideoEncoding.Bitrate != "5000k" || enc.VideoEncoding.CRF != 23 {
		t.Errorf("video encoding defaults = %+v", enc.VideoEncoding)
	}
	if enc.AudioEncoding.Codec != "aac" || enc.AudioEncoding.Bitrate != "192k" || enc.AudioEncoding.Channels != 2 {
		t.Errorf("audio encoding defaults = %+v", enc.AudioEncoding)
	}
	if enc.AudioNormalization.TargetLevel != -16.0 {
		t.Errorf("normalization target = %v, want -16", enc.AudioNormalization.TargetLevel)
	}
	if enc.AudioTransition.Enabled {
		t.Error("audio transition should default to disabled")
	}

	if got := config.Scenes[0].ID; got != 1 {
		t.Errorf("scene id = %d, want 1", got)
	}
	if got := config.Scenes[0].SceneType; got != IMAGE_SCENE {
		t.Errorf("scene type = %v, want image_scene", got)
	}
}

func TestLoadStringRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{
			name: "malformed json",
			json: `{"scenes":`,
		},
		{
			name: "unknown scene type",
			json: `{"scenes":[{"type":"slideshow"}]}`,
		},
		{
			name: "unknown transition kind",
			json: `{"scenes":[{"type":"image_scene","duration":1},{"type":"transition","transition_type":"dissolve","duration":1},{"type":"image_scene","duration":1}]}`,
		},
		{
			name: "negative duration",
			json: `{"scenes":[{"type":"image_scene","duration":-2}]}`,
		},
		{
			name: "negative fps",
			json: `{"project":{"fps":-1},"scenes":[]}`,
		},
		{
			name: "leading transition",
			json: `{"scenes":[{"type":"transition","duration":1},{"type":"image_scene","duration":1}]}`,
		},
		{
			name: "trailing transition",
			json: `{"scenes":[{"type":"image_scene","duration":1},{"type":"transition","duration":1}]}`,
		},
		{
			name: "adjacent transitions",
			json: `{"scenes":[{"type":"image_scene","duration":1},{"type":"transition","duration":1},{"type":"transition","duration":1},{"type":"image_scene","duration":1}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := testLoader(noProbe)
			if _, err := loader.LoadString(tt.json); err == nil {
				t.Errorf("LoadString(%s) expected an error", tt.json)
			}
		})
	}
}

func TestDurationResolution(t *testing.T) {
	probe := func(path string, kind ProbeKind) (float64, error) {
		switch filepath.Base(path) {
		case "short.mp3":
			return 3.25, nil
		case "long.mp3":
			return 7.5, nil
		case "clip.mp4":
			return 12.0, nil
		}
		return 0, errors.New("unknown media")
	}

	tests := []struct {
		name string
		json string
		want float64
	}{
		{
			name: "explicit duration wins",
			json: `{"scenes":[{"type":"image_scene","duration":2,"resources":{"audio":{"path":"long.mp3"}}}]}`,
			want: 2,
		},
		{
			name: "longest audio layer",
			json: `{"scenes":[{"type":"image_scene","resources":{"audio":{"path":"short.mp3"},"audio_layers":[{"path":"long.mp3"}]}}]}`,
			want: 7.5,
		},
		{
			name: "video container duration",
			json: `{"scenes":[{"type":"video_scene","resources":{"video":{"path":"clip.mp4"}}}]}`,
			want: 12,
		},
		{
			name: "video scene falls back to audio",
			json: `{"scenes":[{"type":"video_scene","resources":{"video":{"path":"missing.mp4"},"audio":{"path":"short.mp3"}}}]}`,
			want: 3.25,
		},
		{
			name: "audio outranks video when both probe",
			json: `{"scenes":[{"type":"video_scene","resources":{"video":{"path":"clip.mp4"},"audio":{"path":"short.mp3"}}}]}`,
			want: 3.25,
		},
		{
			name: "no media falls back to five seconds",
			json: `{"scenes":[{"type":"image_scene"}]}`,
			want: 5,
		},
		{
			name: "unprobeable audio falls back to five seconds",
			json: `{"scenes":[{"type":"image_scene","resources":{"audio":{"path":"broken.wav"}}}]}`,
			want: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := testLoader(probe)
			config, err := loader.LoadString(tt.json)
			if err != nil {
				t.Fatalf("LoadString() error = %v", err)
			}
			if got := config.Scenes[0].Duration; got != tt.want {
				t.Errorf("resolved duration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProbeMemoization(t *testing.T) {
	calls := 0
	probe := func(path string, kind ProbeKind) (float64, error) {
		calls++
		return 4.0, nil
	}

	loader := testLoader(probe)
	_, err := loader.LoadString(`{"scenes":[
		{"type":"image_scene","resources":{"audio":{"path":"same.mp3"}}},
		{"type":"image_scene","resources":{"audio":{"path":"same.mp3"}}},
		{"type":"image_scene","resources":{"audio":{"path":"./same.mp3"}}}
	]}`)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("probe ran %d times, want 1 (memoized by normalized path)", calls)
	}
}

func TestSceneIDsAreSequential(t *testing.T) {
	loader := testLoader(noProbe)
	config, err := loader.LoadString(`{"scenes":[
		{"type":"image_scene","duration":1},
		{"type":"transition","duration":1},
		{"type":"video_scene","duration":1,"resources":{"video":{"path":"a.mp4"}}}
	]}`)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	for i, scene := range config.Scenes {
		if scene.ID != i+1 {
			t.Errorf("scene %d id = %d, want %d", i, scene.ID, i+1)
		}
	}
}

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.yaml")
	doc := `
project:
  name: yaml test
  width: 640
  height: 360
  fps: 24
scenes:
  - type: image_scene
    duration: 2
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := testLoader(noProbe)
	config, err := loader.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if config.Project.Width != 640 || config.Project.Height != 360 || config.Project.Fps != 24 {
		t.Errorf("project = %dx%d@%d, want 640x360@24", config.Project.Width, config.Project.Height, config.Project.Fps)
	}
	if config.Project.Name != "yaml test" {
		t.Errorf("name = %q", config.Project.Name)
	}
}

func TestVideoUseAudioDefaultsTrue(t *testing.T) {
	loader := testLoader(noProbe)
	config, err := loader.LoadString(`{"scenes":[{"type":"video_scene","duration":1,"resources":{"video":{"path":"a.mp4"}}}]}`)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	if !config.Scenes[0].Resources.Video.UseAudio {
		t.Error("use_audio should default to true")
	}
}
