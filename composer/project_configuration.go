package composer

import (
	"encoding/json"
	"runtime"
	"strings"

	"github.com/creasty/defaults"
)

// Define a new type called SceneType, which is essentially a string.
type SceneType string

const (
	IMAGE_SCENE SceneType = "image_scene" // A still image with optional Ken-Burns motion and audio layers.
	VIDEO_SCENE SceneType = "video_scene" // A video file, optionally with its embedded audio and extra layers.
	TRANSITION  SceneType = "transition"  // A timed blend between the two neighboring scenes.
)

// Define a new type called TransitionKind, which is essentially a string.
type TransitionKind string

const (
	CROSSFADE TransitionKind = "crossfade" // Per-pixel linear blend between the neighbors.
	WIPE      TransitionKind = "wipe"      // The incoming scene sweeps in from the left edge.
	SLIDE     TransitionKind = "slide"     // The outgoing scene slides off to the left.
)

// ParseSceneType maps a scene type string from the project document to a
// SceneType. The empty string defaults to an image scene; anything else
// unknown is reported by the loader as an UnrecognizedSceneType error.
func ParseSceneType(s string) (SceneType, bool) {
	switch SceneType(strings.ToLower(s)) {
	case IMAGE_SCENE, "":
		return IMAGE_SCENE, true
	case VIDEO_SCENE:
		return VIDEO_SCENE, true
	case TRANSITION:
		return TRANSITION, true
	}
	return IMAGE_SCENE, false
}

// ParseTransitionKind maps a transition type string to a TransitionKind.
// The empty string defaults to crossfade.
func ParseTransitionKind(s string) (TransitionKind, bool) {
	switch TransitionKind(strings.ToLower(s)) {
	case CROSSFADE, "":
		return CROSSFADE, true
	case WIPE:
		return WIPE, true
	case SLIDE:
		return SLIDE, true
	}
	return CROSSFADE, false
}

// An object representing a still-image resource for a scene.
type ImageConfig struct {
	// Path to the image file.
	Path string `json:"path" yaml:"path"`

	// Placement of the image on the canvas. Parsed for compatibility with
	// project documents produced by the editing surface; the render path
	// composites full-frame.
	X        int     `json:"x" yaml:"x"`
	Y        int     `json:"y" yaml:"y"`
	Scale    float64 `json:"scale" yaml:"scale" default:"1.0"`
	Rotation float64 `json:"rotation" yaml:"rotation"`
}

// An object representing one audio layer of a scene.
type AudioConfig struct {
	// Path to the audio file.
	Path string `json:"path" yaml:"path"`

	// Linear gain applied to this layer. 1.0 is unity.
	Volume float64 `json:"volume" yaml:"volume" default:"1.0" validate:"gte=0"`

	// Offset in seconds from the start of the scene before this layer is
	// audible.
	StartOffset float64 `json:"start_offset" yaml:"start_offset" validate:"gte=0"`
}

// An object representing a video resource for a scene.
type VideoConfig struct {
	// Path to the video file.
	Path string `json:"path" yaml:"path"`

	/*
		Trim window into the source video, in seconds. A TrimEnd of -1 means
		the full remaining length.

		Parsed and validated, but the render path currently plays the video
		from its first frame.
	*/
	TrimStart float64 `json:"trim_start" yaml:"trim_start" validate:"gte=0"`
	TrimEnd   float64 `json:"trim_end" yaml:"trim_end" default:"-1.0"`

	// If true, the video's embedded audio track is mixed in as a layer.
	UseAudio bool `json:"use_audio" yaml:"use_audio" default:"true"`
}

// Resources attached to one scene.
type ResourcesConfig struct {
	Image ImageConfig `json:"image" yaml:"image"`
	Video VideoConfig `json:"video" yaml:"video"`
	Audio AudioConfig `json:"audio" yaml:"audio"`

	// Additional audio layers mixed on top of the primary audio.
	AudioLayers []AudioConfig `json:"audio_layers" yaml:"audio_layers"`
}

// Ken-Burns preset names accepted in project documents.
const (
	KenBurnsZoomIn   = "zoom_in"
	KenBurnsZoomOut  = "zoom_out"
	KenBurnsPanLeft  = "pan_left"
	KenBurnsPanRight = "pan_right"
	KenBurnsCustom   = "custom"
)

// An object representing the Ken-Burns pan/zoom effect over a still image.
type KenBurnsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// One of zoom_in, zoom_out, pan_left, pan_right or custom.
	Preset string `json:"preset" yaml:"preset" default:"zoom_in"`

	// Custom preset parameters: start/end zoom factor and pan origin in
	// source pixels. Ignored for the named presets.
	StartScale float64 `json:"start_scale" yaml:"start_scale" default:"1.0"`
	EndScale   float64 `json:"end_scale" yaml:"end_scale" default:"1.0"`
	StartX     int     `json:"start_x" yaml:"start_x"`
	StartY     int     `json:"start_y" yaml:"start_y"`
	EndX       int     `json:"end_x" yaml:"end_x"`
	EndY       int     `json:"end_y" yaml:"end_y"`
}

// An object representing the per-scene fade envelope applied to the scene's
// primary audio.
type VolumeMixConfig struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	FadeIn  float64 `json:"fade_in" yaml:"fade_in" validate:"gte=0"`
	FadeOut float64 `json:"fade_out" yaml:"fade_out" validate:"gte=0"`
}

// An object representing a burned-in subtitle.
type SubtitleConfig struct {
	// UTF-8 subtitle text. Empty means no subtitle.
	Text string `json:"text" yaml:"text"`

	FontSize  int    `json:"font_size" yaml:"font_size" default:"48" validate:"gt=0"`
	FontColor string `json:"font_color" yaml:"font_color" default:"white"`

	// Background box color, optionally with alpha ("black@0.5").
	BgColor string `json:"bg_color" yaml:"bg_color" default:"black@0.5"`

	// Distance of the text baseline box from the bottom edge, in pixels.
	MarginBottom int `json:"margin_bottom" yaml:"margin_bottom" default:"60" validate:"gte=0"`

	/*
		Path to the font file used for rendering. When empty, a per-platform
		system font is used (see DefaultFontPath).
	*/
	FontPath string `json:"font_path" yaml:"font_path"`
}

// DefaultFontPath returns the system font used for subtitle burning when the
// project does not configure one.
func DefaultFontPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "/System/Library/Fonts/Helvetica.ttc"
	case "windows":
		return "C:/Windows/Fonts/arial.ttf"
	default:
		return "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf"
	}
}

// Effects attached to one scene.
type EffectsConfig struct {
	KenBurns  KenBurnsConfig  `json:"ken_burns" yaml:"ken_burns"`
	VolumeMix VolumeMixConfig `json:"volume_mix" yaml:"volume_mix"`
	Subtitle  SubtitleConfig  `json:"subtitle" yaml:"subtitle"`
}

// An object representing a single scene or transition in the project.
type SceneConfig struct {
	/*
		Scene id, used as the key for cached boundary frames. Ids are
		assigned sequentially by the loader starting from 1; any id present
		in the input document is ignored.
	*/
	ID int `json:"-" yaml:"-"`

	// The scene type string: image_scene, video_scene or transition.
	Type string `json:"type" yaml:"type"`

	/*
		Scene length in seconds. When omitted (zero), the loader resolves it
		from the scene's media: the longest probeable audio layer, then the
		video container duration, then a 5 second fallback.
	*/
	Duration float64 `json:"duration" yaml:"duration" validate:"gte=0"`

	Resources ResourcesConfig `json:"resources" yaml:"resources"`
	Effects   EffectsConfig   `json:"effects" yaml:"effects"`

	// Transition fields. TransitionType is one of crossfade, wipe or slide.
	TransitionType string `json:"transition_type" yaml:"transition_type"`

	// From/to scene ids as written by the editing surface. Neighbors are
	// positional in the scene list; these are parsed but not consulted.
	FromScene int `json:"from_scene" yaml:"from_scene"`
	ToScene   int `json:"to_scene" yaml:"to_scene"`

	// Resolved enums, filled by the loader.
	SceneType      SceneType      `json:"-" yaml:"-"`
	TransitionKind TransitionKind `json:"-" yaml:"-"`
}

// IsTransition returns true for transition pseudo-scenes.
func (s *SceneConfig) IsTransition() bool {
	return s.SceneType == TRANSITION
}

/*
Scenes arrive through a slice, so their defaults cannot be pre-seeded on
the top-level config before decoding. These wrappers seed the defaults on
each scene first and then decode over them, which keeps explicit zero
values (volume 0, use_audio false) intact.
*/
func (s *SceneConfig) UnmarshalJSON(data []byte) error {
	type plain SceneConfig
	if err := defaults.Set((*plain)(s)); err != nil {
		return err
	}
	return json.Unmarshal(data, (*plain)(s))
}

func (s *SceneConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain SceneConfig
	if err := defaults.Set((*plain)(s)); err != nil {
		return err
	}
	return unmarshal((*plain)(s))
}

// An object representing the project-wide audio normalization setting.
// Parsed and carried on the project; the render path does not currently
// apply loudness normalization.
type AudioNormalizationConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	TargetLevel float64 `json:"target_level" yaml:"target_level" default:"-16.0"`
}

// An object representing the video encoder settings.
type VideoEncodingConfig struct {
	// Encoder name as understood by the media library, e.g. "libx264".
	Codec string `json:"codec" yaml:"codec" default:"libx264"`

	// Bitrate string such as "5000k" or "5M". Unparseable values fall back
	// to the encoder default with a warning.
	Bitrate string `json:"bitrate" yaml:"bitrate" default:"5000k"`

	Preset string `json:"preset" yaml:"preset" default:"medium"`
	CRF    int    `json:"crf" yaml:"crf" default:"23" validate:"gte=0"`
}

// An object representing the audio encoder settings.
type AudioEncodingConfig struct {
	Codec    string `json:"codec" yaml:"codec" default:"aac"`
	Bitrate  string `json:"bitrate" yaml:"bitrate" default:"192k"`
	Channels int    `json:"channels" yaml:"channels" default:"2" validate:"gt=0"`
}

// An object controlling audio behavior across transitions. Disabled by
// default: transitions emit silence so audio and video stay lock-stepped.
// When enabled, the neighbors' primary audio is cross-faded instead.
type AudioTransitionConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Project-wide effect and encoding settings.
type GlobalEffectsConfig struct {
	AudioNormalization AudioNormalizationConfig `json:"audio_normalization" yaml:"audio_normalization"`
	VideoEncoding      VideoEncodingConfig      `json:"video_encoding" yaml:"video_encoding"`
	AudioEncoding      AudioEncodingConfig      `json:"audio_encoding" yaml:"audio_encoding"`
	AudioTransition    AudioTransitionConfig    `json:"audio_transition" yaml:"audio_transition"`
}

// Basic project information: canvas geometry and output location.
type ProjectInfoConfig struct {
	Name       string `json:"name" yaml:"name"`
	OutputPath string `json:"output_path" yaml:"output_path"`

	Width  int `json:"width" yaml:"width" default:"1920" validate:"gt=0"`
	Height int `json:"height" yaml:"height" default:"1080" validate:"gt=0"`
	Fps    int `json:"fps" yaml:"fps" default:"30" validate:"gt=0"`

	// Canvas background color as a named color or "#RRGGBB".
	BackgroundColor string `json:"background_color" yaml:"background_color" default:"#000000"`
}

// An object representing the entire project description. Immutable after
// loading.
type ProjectConfig struct {
	Project       ProjectInfoConfig   `json:"project" yaml:"project"`
	Scenes        []SceneConfig       `json:"scenes" yaml:"scenes"`
	GlobalEffects GlobalEffectsConfig `json:"global_effects" yaml:"global_effects"`
}
