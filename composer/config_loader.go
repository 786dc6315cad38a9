package composer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/dealancer/validate.v2"
	"gopkg.in/yaml.v3"
)

// Duration used when neither the document nor the referenced media can tell
// us how long a scene should be.
const FallbackSceneDuration = 5.0

/*
ConfigLoader parses a project document into a ProjectConfig and fills in the
blanks: defaults, scene ids, resolved enums, and durations probed from the
referenced media files.

Probes are memoized by normalized absolute path, so a project that reuses
the same asset many times pays for one probe. Probe failures are not fatal;
the scene falls back to FallbackSceneDuration with a warning.
*/
type ConfigLoader struct {
	Logger hclog.Logger

	// ProbeDuration reports the duration of a media file. Defaults to
	// ProbeMediaDuration; tests substitute a stub.
	ProbeDuration ProbeFunc

	audioDurationCache map[string]float64
	videoDurationCache map[string]float64
}

func NewConfigLoader(logger hclog.Logger) *ConfigLoader {
	if logger == nil {
		logger = hclog.Default()
	}
	return &ConfigLoader{
		Logger:        logger.Named("config"),
		ProbeDuration: ProbeMediaDuration,
	}
}

// LoadFile reads and parses a project document from disk. Files ending in
// .yaml or .yml are parsed as YAML; everything else as JSON.
func (l *ConfigLoader) LoadFile(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}

	config, err := newDefaultedConfig()
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse project YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse project JSON: %w", err)
		}
	}

	if err := l.finish(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadString parses an in-memory JSON project document.
func (l *ConfigLoader) LoadString(text string) (*ProjectConfig, error) {
	config, err := newDefaultedConfig()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(text), config); err != nil {
		return nil, fmt.Errorf("failed to parse project JSON: %w", err)
	}
	if err := l.finish(config); err != nil {
		return nil, err
	}
	return config, nil
}

// newDefaultedConfig seeds the project-level defaults before decoding so
// that fields the document leaves out keep them while explicit values,
// including explicit zeros, win. Scene defaults are seeded per scene by
// SceneConfig's unmarshal wrappers.
func newDefaultedConfig() (*ProjectConfig, error) {
	config := &ProjectConfig{}
	if err := defaults.Set(config); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return config, nil
}

// finish validates, resolves enums and scene ids, checks the scene
// topology, and resolves missing durations against the media.
func (l *ConfigLoader) finish(config *ProjectConfig) error {
	l.audioDurationCache = make(map[string]float64)
	l.videoDurationCache = make(map[string]float64)

	if err := validate.Validate(config); err != nil {
		return fmt.Errorf("invalid project config: %w", err)
	}

	sceneID := 1
	for i := range config.Scenes {
		scene := &config.Scenes[i]

		sceneType, ok := ParseSceneType(scene.Type)
		if !ok {
			return NewUnrecognizedSceneType(i, scene.Type)
		}
		scene.SceneType = sceneType

		transitionKind, ok := ParseTransitionKind(scene.TransitionType)
		if !ok {
			return NewMalformedField("SceneConfig", "TransitionType",
				fmt.Sprintf("unknown transition type %q", scene.TransitionType))
		}
		scene.TransitionKind = transitionKind

		scene.ID = sceneID
		sceneID++
	}

	if err := l.checkTopology(config); err != nil {
		return err
	}

	for i := range config.Scenes {
		l.resolveSceneDuration(&config.Scenes[i])
	}

	return nil
}

// checkTopology rejects transitions that are not sandwiched between two
// non-transition scenes.
func (l *ConfigLoader) checkTopology(config *ProjectConfig) error {
	for i := range config.Scenes {
		if !config.Scenes[i].IsTransition() {
			continue
		}
		if i == 0 || i == len(config.Scenes)-1 {
			return NewInvalidSceneTopology(i, "a transition must sit between two scenes")
		}
		if config.Scenes[i-1].IsTransition() || config.Scenes[i+1].IsTransition() {
			return NewInvalidSceneTopology(i, "a transition's neighbors must be image or video scenes")
		}
	}
	return nil
}

// resolveSceneDuration fills in a missing scene duration from the scene's
// media, in order of preference: longest audio layer, video container
// length, then the 5 second fallback.
func (l *ConfigLoader) resolveSceneDuration(scene *SceneConfig) {
	if scene.Duration > 0 {
		return
	}
	if scene.IsTransition() {
		scene.Duration = FallbackSceneDuration
		return
	}

	audioDuration := -1.0
	hasAudioResource := false
	consider := func(path string) {
		if path == "" {
			return
		}
		hasAudioResource = true
		if d := l.audioDuration(path); d > audioDuration {
			audioDuration = d
		}
	}
	consider(scene.Resources.Audio.Path)
	for i := range scene.Resources.AudioLayers {
		consider(scene.Resources.AudioLayers[i].Path)
	}

	if audioDuration > 0 {
		scene.Duration = audioDuration
		l.Logger.Debug("scene duration synced to audio length", "scene", scene.ID, "seconds", audioDuration)
		return
	}

	if scene.SceneType == VIDEO_SCENE && scene.Resources.Video.Path != "" {
		if d := l.videoDuration(scene.Resources.Video.Path); d > 0 {
			scene.Duration = d
			l.Logger.Debug("scene duration synced to video length", "scene", scene.ID, "seconds", d)
			return
		}
	}

	scene.Duration = FallbackSceneDuration
	if hasAudioResource || scene.SceneType == VIDEO_SCENE {
		l.Logger.Warn("could not determine scene duration, falling back", "scene", scene.ID, "seconds", FallbackSceneDuration)
	} else {
		l.Logger.Debug("scene has no media to measure, falling back", "scene", scene.ID, "seconds", FallbackSceneDuration)
	}
}

func (l *ConfigLoader) audioDuration(path string) float64 {
	return l.cachedDuration(path, ProbeAudio, l.audioDurationCache)
}

func (l *ConfigLoader) videoDuration(path string) float64 {
	return l.cachedDuration(path, ProbeVideo, l.videoDurationCache)
}

func (l *ConfigLoader) cachedDuration(path string, kind ProbeKind, cache map[string]float64) float64 {
	key := normalizedPath(path)
	if key == "" {
		return -1
	}
	if d, ok := cache[key]; ok {
		return d
	}

	d, err := l.ProbeDuration(key, kind)
	if err != nil {
		l.Logger.Warn("media probe failed", "path", path, "error", err)
		d = -1
	}
	cache[key] = d
	return d
}

// normalizedPath produces the cache key for a media path: absolute, cleaned,
// forward slashes.
func normalizedPath(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return filepath.ToSlash(abs)
}
