package composer

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	ffmpeg "github.com/csnewman/ffmpeg-go"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// ErrRenderCancelled is returned by Render when Cancel was observed before
// the project finished.
var ErrRenderCancelled = errors.New("render cancelled")

// ProgressFunc receives the render progress in whole percent. It is called
// from the render thread whenever the value strictly increases.
type ProgressFunc func(percent int)

/*
RenderEngine drives one project render: it owns the encoders, the muxer,
and the audio sample FIFO for the whole run, builds decoders and effect
sequences per scene, and interleaves encoded audio and video so the muxer
sees both streams advance together.

A RenderEngine renders once and is not re-entrant.
*/
type RenderEngine struct {
	config   *ProjectConfig
	logger   hclog.Logger
	progress ProgressFunc

	enc  *outputEncoder
	fifo *StereoSampleFIFO

	frameCount       int64
	audioSampleCount int64

	totalProjectFrames   float64
	lastReportedProgress int

	// Boundary frames per scene id, reused by adjacent transitions.
	sceneFirstFrames map[int]*ffmpeg.AVFrame
	sceneLastFrames  map[int]*ffmpeg.AVFrame

	// One-shot first-frame prefetch results for video scenes.
	firstFramePrefetch map[int]chan *ffmpeg.AVFrame

	// Reusable FIFO drain buffers, sized to the encoder frame size.
	drainLeft  []float32
	drainRight []float32

	cancelled atomic.Bool

	// Guards of the currently active scene, so Cancel can wake workers
	// blocked on their condition variables.
	guardMu      sync.Mutex
	activeLayers []*sceneAudioLayer
	activeVideo  *videoPrefetchWorker
}

// NewRenderEngine allocates the output (muxer, encoders, header) and kicks
// off the video-scene first-frame prefetch tasks.
func NewRenderEngine(config *ProjectConfig, logger hclog.Logger, progress ProgressFunc) (*RenderEngine, error) {
	if err := ensureMediaInitialized(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.Default()
	}

	e := &RenderEngine{
		config:               config,
		logger:               logger.Named("engine").With("job", uuid.New().String()),
		progress:             progress,
		fifo:                 NewStereoSampleFIFO(),
		lastReportedProgress: -1,
		sceneFirstFrames:     make(map[int]*ffmpeg.AVFrame),
		sceneLastFrames:      make(map[int]*ffmpeg.AVFrame),
		firstFramePrefetch:   make(map[int]chan *ffmpeg.AVFrame),
	}

	totalDuration := 0.0
	for i := range config.Scenes {
		if config.Scenes[i].Duration > 0 {
			totalDuration += config.Scenes[i].Duration
		}
	}
	e.totalProjectFrames = totalDuration * float64(config.Project.Fps)

	enc, err := newOutputEncoder(&config.Project, &config.GlobalEffects, e.logger)
	if err != nil {
		return nil, err
	}
	e.enc = enc

	e.scheduleFirstFramePrefetch()
	return e, nil
}

// Cancel requests a shutdown. The render thread observes the flag at its
// next pull; workers blocked on full or empty buffers are woken.
func (e *RenderEngine) Cancel() {
	e.cancelled.Store(true)
	e.guardMu.Lock()
	for _, layer := range e.activeLayers {
		layer.requestStop()
	}
	if e.activeVideo != nil {
		e.activeVideo.requestStop()
	}
	e.guardMu.Unlock()
}

// Render runs the whole project and finalizes the output file. On error a
// partial output file may remain on disk.
func (e *RenderEngine) Render() error {
	defer e.releaseCaches()

	e.logger.Info("render started",
		"scenes", len(e.config.Scenes),
		"output", e.config.Project.OutputPath)

	for i := range e.config.Scenes {
		if e.cancelled.Load() {
			return ErrRenderCancelled
		}

		scene := &e.config.Scenes[i]
		if scene.IsTransition() {
			// The loader guarantees both neighbors exist and are scenes.
			from := &e.config.Scenes[i-1]
			to := &e.config.Scenes[i+1]
			if err := e.renderTransition(scene, from, to); err != nil {
				return err
			}
		} else {
			if err := e.renderScene(scene); err != nil {
				return err
			}
		}
	}

	if e.enc.hasAudio() {
		if err := e.flushAudio(); err != nil {
			return err
		}
	}
	if err := e.enc.finalize(); err != nil {
		return err
	}

	if e.lastReportedProgress < 100 {
		e.lastReportedProgress = 100
		if e.progress != nil {
			e.progress(100)
		}
	}

	e.logger.Info("render finished", "frames", e.frameCount)
	return nil
}

// Close releases the encoder and every cached or prefetched frame.
func (e *RenderEngine) Close() {
	e.releaseCaches()
	if e.enc != nil {
		e.enc.Close()
		e.enc = nil
	}
}

// ---------------------------------------------------------------------------
// Scene rendering

func (e *RenderEngine) renderScene(scene *SceneConfig) error {
	project := &e.config.Project
	isVideoScene := scene.SceneType == VIDEO_SCENE

	if isVideoScene {
		e.resolveFirstFramePrefetch(scene)
	}

	// Image source (image scenes only). Open failure is recoverable: the
	// synthetic pattern stands in.
	imageDecoder := NewImageDecoder()
	defer imageDecoder.Close()
	imageOpen := false
	if !isVideoScene && scene.Resources.Image.Path != "" {
		if err := imageDecoder.Open(scene.Resources.Image.Path); err != nil {
			e.logger.Warn("failed to open image, substituting test pattern", "scene", scene.ID, "error", err)
		} else {
			imageOpen = true
		}
	}

	videoDecoder := NewVideoDecoder()
	defer videoDecoder.Close()
	videoAvailable := false
	if isVideoScene {
		if scene.Resources.Video.Path == "" {
			return fmt.Errorf("video scene %d has no video path", scene.ID)
		}
		if err := videoDecoder.Open(scene.Resources.Video.Path); err != nil {
			return err
		}
		videoAvailable = true
	}

	// The loader resolved the duration against the media; a video source
	// that runs short of it simply ends the scene at decoder EOF.
	sceneDuration := scene.Duration

	// Video prefetch worker.
	var prefetch *videoPrefetchWorker
	if videoAvailable {
		width, height := project.Width, project.Height
		prefetch = startVideoPrefetchWorker(func() (*ffmpeg.AVFrame, error) {
			decoded, err := videoDecoder.DecodeNextFrame()
			if err != nil || decoded == nil {
				return nil, err
			}
			scaled, err := videoDecoder.ScaleFrame(decoded, width, height, ffmpeg.AVPixFmtYuv420P)
			ffmpeg.AVFrameFree(&decoded)
			return scaled, err
		})
		e.setActiveVideo(prefetch)
		defer func() {
			e.setActiveVideo(nil)
			prefetch.stop()
		}()
	}

	// Audio layer workers.
	guard := &audioLayerGuard{}
	defer func() {
		e.setActiveLayers(nil)
		guard.stop()
	}()

	longestAudioDuration := -1.0
	if e.enc.hasAudio() {
		longest, err := e.startSceneAudioLayers(scene, sceneDuration, guard)
		if err != nil {
			return err
		}
		longestAudioDuration = longest
		e.setActiveLayers(guard.layers)
	}

	// Last resort: nothing else determined a length, let the audio decide.
	if sceneDuration <= 0 && len(guard.layers) > 0 && longestAudioDuration > 0 {
		sceneDuration = longestAudioDuration
		e.logger.Debug("scene duration synced to audio length", "scene", scene.ID, "seconds", sceneDuration)
	}

	totalVideoFrames := RoundFrames(sceneDuration, project.Fps)
	if totalVideoFrames <= 0 {
		e.logger.Info("scene has zero duration, skipping", "scene", scene.ID)
		return nil
	}

	// Static source frame and optional Ken-Burns sequence (image scenes).
	var sourceImage *ffmpeg.AVFrame
	defer func() {
		if sourceImage != nil {
			ffmpeg.AVFrameFree(&sourceImage)
		}
	}()
	if !isVideoScene {
		frame, err := e.sceneSourceFrame(scene, imageDecoder, imageOpen)
		if err != nil {
			return err
		}
		sourceImage = frame
	}

	effectProcessor := NewEffectProcessor(project.Width, project.Height, ffmpeg.AVPixFmtYuv420P, project.Fps)
	defer effectProcessor.Close()
	kenBurnsActive := false
	if !isVideoScene && scene.Effects.KenBurns.Enabled {
		if err := effectProcessor.StartKenBurnsSequence(&scene.Effects.KenBurns, sourceImage, totalVideoFrames); err != nil {
			return fmt.Errorf("scene %d ken burns sequence failed: %w", scene.ID, err)
		}
		kenBurnsActive = true
	}

	burner := NewSubtitleBurner(project.Fps, e.logger)
	mixer := newSceneMixer(guard.layers)
	frameSize := e.enc.frameSize()

	startFrameCount := e.frameCount
	var lastFrame *ffmpeg.AVFrame
	defer func() {
		if lastFrame != nil {
			ffmpeg.AVFrameFree(&lastFrame)
		}
	}()

	for e.frameCount < startFrameCount+int64(totalVideoFrames) {
		if e.cancelled.Load() {
			return ErrRenderCancelled
		}

		videoTime := float64(e.frameCount) / float64(project.Fps)
		audioTime := videoTime + 1.0
		if e.enc.hasAudio() {
			audioTime = float64(e.audioSampleCount) / float64(TargetSampleRate)
		}

		if videoTime <= audioTime {
			var videoFrame *ffmpeg.AVFrame
			switch {
			case isVideoScene:
				frame, err := prefetch.nextFrame()
				if err != nil {
					return fmt.Errorf("scene %d video prefetch failed: %w", scene.ID, err)
				}
				if frame == nil {
					// Source ran out before the declared duration.
					goto sceneDone
				}
				videoFrame = frame
			case kenBurnsActive:
				frame, err := effectProcessor.FetchNextFrame()
				if err != nil {
					return fmt.Errorf("scene %d ken burns frame failed: %w", scene.ID, err)
				}
				videoFrame = frame
			default:
				videoFrame = cloneFrame(sourceImage)
				if videoFrame == nil {
					return fmt.Errorf("scene %d failed to copy source frame", scene.ID)
				}
			}

			if scene.Effects.Subtitle.Text != "" {
				burned := burner.Burn(videoFrame, &scene.Effects.Subtitle)
				if burned != nil {
					ffmpeg.AVFrameFree(&videoFrame)
					videoFrame = burned
				}
			}

			e.cacheSceneFirstFrame(scene, videoFrame)
			if lastFrame != nil {
				ffmpeg.AVFrameFree(&lastFrame)
			}
			lastFrame = cloneFrame(videoFrame)

			err := e.enc.writeVideoFrame(videoFrame, e.frameCount)
			ffmpeg.AVFrameFree(&videoFrame)
			if err != nil {
				return err
			}
			e.frameCount++
			e.reportProgress()
		} else {
			if e.fifo.Size() < frameSize {
				if err := e.mixSceneAudio(mixer, frameSize); err != nil {
					return err
				}
				if e.cancelled.Load() {
					return ErrRenderCancelled
				}
			}
			if err := e.drainBufferedAudio(); err != nil {
				return err
			}
		}
	}

sceneDone:
	if lastFrame != nil {
		e.cacheSceneLastFrame(scene, lastFrame)
	}
	return nil
}

/*
sceneSourceFrame produces the scaled still frame for an image scene,
falling back to the synthetic test pattern when the asset is missing or
undecodable.
*/
func (e *RenderEngine) sceneSourceFrame(scene *SceneConfig, imageDecoder *ImageDecoder, imageOpen bool) (*ffmpeg.AVFrame, error) {
	project := &e.config.Project
	if imageOpen {
		decoded, err := imageDecoder.DecodeAndCache()
		if err == nil {
			scaled, scaleErr := imageDecoder.ScaleToSize(decoded, project.Width, project.Height, ffmpeg.AVPixFmtYuv420P)
			ffmpeg.AVFrameFree(&decoded)
			if scaleErr == nil {
				return scaled, nil
			}
			e.logger.Warn("failed to scale image, substituting test pattern", "scene", scene.ID, "error", scaleErr)
		} else {
			e.logger.Warn("failed to decode image, substituting test pattern", "scene", scene.ID, "error", err)
		}
	}
	return generateTestFrame(int(e.frameCount), project.Width, project.Height)
}

/*
startSceneAudioLayers opens a decoder and starts a worker for every audio
layer of the scene: the primary track, the auxiliary layers, and, for
video scenes with use_audio, the video's own audio as one more layer. The
primary layer is critical; the others degrade to a warning when their
source cannot be opened. Returns the longest known layer duration.
*/
func (e *RenderEngine) startSceneAudioLayers(scene *SceneConfig, sceneDuration float64, guard *audioLayerGuard) (float64, error) {
	longest := -1.0

	addLayer := func(audio *AudioConfig, applySceneEffect, critical bool) error {
		if audio.Path == "" {
			return nil
		}

		decoder := NewAudioDecoder()
		if err := decoder.Open(audio.Path); err != nil {
			if critical {
				return fmt.Errorf("scene %d primary audio failed: %w", scene.ID, err)
			}
			e.logger.Warn("skipping audio layer", "scene", scene.ID, "path", audio.Path, "error", err)
			return nil
		}

		trackDuration := sceneDuration
		if trackDuration <= 0 {
			trackDuration = decoder.Duration()
		}
		var effect *VolumeMixConfig
		if applySceneEffect && scene.Effects.VolumeMix.Enabled {
			effect = &scene.Effects.VolumeMix
		}
		if err := decoder.ApplyVolumeEffect(audio.Volume, effect, trackDuration); err != nil {
			decoder.Close()
			if critical {
				return fmt.Errorf("scene %d volume effect failed: %w", scene.ID, err)
			}
			e.logger.Warn("skipping audio layer, volume effect failed", "scene", scene.ID, "error", err)
			return nil
		}

		if d := decoder.Duration(); d > longest {
			longest = d
		}

		delaySamples := int64(0)
		if audio.StartOffset > 0 {
			delaySamples = int64(math.Round(audio.StartOffset * TargetSampleRate))
		}

		layer := startAudioLayerWorker(delaySamples, audioDecodeAdapter(decoder), decoder.Close)
		guard.add(layer)
		return nil
	}

	if err := addLayer(&scene.Resources.Audio, true, true); err != nil {
		return longest, err
	}
	for i := range scene.Resources.AudioLayers {
		if err := addLayer(&scene.Resources.AudioLayers[i], false, false); err != nil {
			return longest, err
		}
	}
	if scene.SceneType == VIDEO_SCENE && scene.Resources.Video.UseAudio && scene.Resources.Video.Path != "" {
		embedded := AudioConfig{Path: scene.Resources.Video.Path, Volume: 1.0}
		// When the video's audio is the only layer it carries the scene.
		primary := scene.Resources.Audio.Path == "" && len(scene.Resources.AudioLayers) == 0
		if err := addLayer(&embedded, primary, primary); err != nil {
			return longest, err
		}
	}

	return longest, nil
}

/*
audioDecodeAdapter bridges an AudioDecoder to the layer worker contract:
one call decodes one canonical frame and copies its channels out of the
libav buffer.
*/
func audioDecodeAdapter(decoder *AudioDecoder) func() (left, right []float32, err error) {
	return func() ([]float32, []float32, error) {
		frame, err := decoder.DecodeFrame()
		if err != nil || frame == nil {
			return nil, nil, err
		}
		n := frame.NbSamples()
		channels := frame.ChLayout().NbChannels()

		left := append([]float32(nil), frameSamples(frame, 0, n)...)
		var right []float32
		if channels >= 2 {
			right = append([]float32(nil), frameSamples(frame, 1, n)...)
		}
		ffmpeg.AVFrameFree(&frame)
		return left, right, nil
	}
}

// mixSceneAudio produces one mixer chunk into the FIFO, or silence when no
// layer can contribute.
func (e *RenderEngine) mixSceneAudio(mixer *sceneMixer, samplesNeeded int) error {
	if len(mixer.layers) == 0 {
		e.fifo.WriteSilence(samplesNeeded)
		return nil
	}
	left, right, silent, err := mixer.mix(samplesNeeded)
	if err != nil {
		return fmt.Errorf("audio mix failed: %w", err)
	}
	if silent {
		e.fifo.WriteSilence(samplesNeeded)
		return nil
	}
	e.fifo.Write(left, right)
	return nil
}

// drainBufferedAudio encodes every complete frame_size chunk in the FIFO.
func (e *RenderEngine) drainBufferedAudio() error {
	if !e.enc.hasAudio() {
		return nil
	}
	frameSize := e.enc.frameSize()
	if cap(e.drainLeft) < frameSize {
		e.drainLeft = make([]float32, frameSize)
		e.drainRight = make([]float32, frameSize)
	}
	e.drainLeft = e.drainLeft[:frameSize]
	e.drainRight = e.drainRight[:frameSize]

	for e.fifo.Size() >= frameSize {
		e.fifo.Read(e.drainLeft, e.drainRight)
		if err := e.enc.encodeAudioChunk(e.drainLeft, e.drainRight, e.audioSampleCount); err != nil {
			return err
		}
		e.audioSampleCount += int64(frameSize)
	}
	return nil
}

// flushAudio pads the last partial FIFO chunk with silence and drains it.
func (e *RenderEngine) flushAudio() error {
	frameSize := e.enc.frameSize()
	if remaining := e.fifo.Size(); remaining > 0 {
		e.fifo.WriteSilence(frameSize - remaining)
	}
	return e.drainBufferedAudio()
}

// ---------------------------------------------------------------------------
// Transitions

func (e *RenderEngine) renderTransition(transition, fromScene, toScene *SceneConfig) error {
	project := &e.config.Project
	startAudioSampleCount := e.audioSampleCount
	totalFrames := RoundFrames(transition.Duration, project.Fps)
	if totalFrames <= 0 {
		return nil
	}

	if e.enc.hasAudio() && e.config.GlobalEffects.AudioTransition.Enabled {
		if err := e.renderAudioTransition(fromScene, toScene, transition.Duration); err != nil {
			return err
		}
	}

	fromFrame, err := e.transitionBoundaryFrame(fromScene, true)
	if err != nil {
		return err
	}
	defer ffmpeg.AVFrameFree(&fromFrame)

	toFrame, err := e.transitionBoundaryFrame(toScene, false)
	if err != nil {
		return err
	}
	defer ffmpeg.AVFrameFree(&toFrame)

	processor := NewEffectProcessor(project.Width, project.Height, ffmpeg.AVPixFmtYuv420P, project.Fps)
	defer processor.Close()
	if err := processor.StartTransitionSequence(transition.TransitionKind, fromFrame, toFrame, totalFrames); err != nil {
		return fmt.Errorf("transition sequence failed: %w", err)
	}

	frameSize := e.enc.frameSize()
	for frameIndex := 0; frameIndex < totalFrames; frameIndex++ {
		if e.cancelled.Load() {
			return ErrRenderCancelled
		}

		blended, err := processor.FetchNextFrame()
		if err != nil {
			return fmt.Errorf("transition frame failed: %w", err)
		}
		err = e.enc.writeVideoFrame(blended, e.frameCount)
		ffmpeg.AVFrameFree(&blended)
		if err != nil {
			return err
		}

		if e.enc.hasAudio() {
			// Keep audio lock-stepped with the blended frames; anything the
			// audio cross-fade did not cover is silence.
			videoTimeInScene := float64(frameIndex+1) / float64(project.Fps)
			audioTimeInScene := float64(e.audioSampleCount-startAudioSampleCount) / float64(TargetSampleRate)
			for audioTimeInScene < videoTimeInScene {
				e.fifo.WriteSilence(frameSize)
				if err := e.drainBufferedAudio(); err != nil {
					return err
				}
				audioTimeInScene = float64(e.audioSampleCount-startAudioSampleCount) / float64(TargetSampleRate)
			}
		}

		e.frameCount++
		e.reportProgress()
	}

	return nil
}

/*
transitionBoundaryFrame resolves the frame a transition blends from or to:
the cached boundary frame when the neighbor already rendered, otherwise an
on-demand extraction (last/first video frame, the Ken-Burns end point, or
the scaled still).
*/
func (e *RenderEngine) transitionBoundaryFrame(scene *SceneConfig, last bool) (*ffmpeg.AVFrame, error) {
	if !last {
		e.resolveFirstFramePrefetch(scene)
	}
	cache := e.sceneFirstFrames
	if last {
		cache = e.sceneLastFrames
	}
	if cached, ok := cache[scene.ID]; ok && cached != nil {
		return cloneFrame(cached), nil
	}

	var frame *ffmpeg.AVFrame
	var err error
	switch {
	case scene.SceneType == VIDEO_SCENE:
		frame, err = e.extractVideoSceneFrame(scene, last)
	case scene.Effects.KenBurns.Enabled:
		frame, err = e.extractKenBurnsBoundaryFrame(scene, last)
	default:
		frame, err = e.extractImageSceneFrame(scene)
	}
	if err != nil {
		return nil, err
	}

	// Cache for any further transition touching this scene.
	if last {
		e.cacheSceneLastFrame(scene, frame)
	} else {
		e.cacheSceneFirstFrame(scene, frame)
	}
	return frame, nil
}

// extractImageSceneFrame decodes and scales the scene's still image, or
// synthesizes the test pattern when the asset is unusable.
func (e *RenderEngine) extractImageSceneFrame(scene *SceneConfig) (*ffmpeg.AVFrame, error) {
	decoder := NewImageDecoder()
	defer decoder.Close()

	imageOpen := false
	if scene.Resources.Image.Path != "" {
		if err := decoder.Open(scene.Resources.Image.Path); err != nil {
			e.logger.Warn("failed to open transition image, substituting test pattern", "scene", scene.ID, "error", err)
		} else {
			imageOpen = true
		}
	}
	return e.sceneSourceFrame(scene, decoder, imageOpen)
}

// extractKenBurnsBoundaryFrame reruns the scene's Ken-Burns sequence to its
// first or last frame.
func (e *RenderEngine) extractKenBurnsBoundaryFrame(scene *SceneConfig, last bool) (*ffmpeg.AVFrame, error) {
	project := &e.config.Project

	source, err := e.extractImageSceneFrame(scene)
	if err != nil {
		return nil, err
	}
	defer ffmpeg.AVFrameFree(&source)
	source.SetPts(0)

	totalFrames := RoundFrames(scene.Duration, project.Fps)
	if totalFrames <= 0 {
		totalFrames = 1
	}
	fetchCount := 1
	if last {
		fetchCount = totalFrames
	}

	processor := NewEffectProcessor(project.Width, project.Height, ffmpeg.AVPixFmtYuv420P, project.Fps)
	defer processor.Close()
	if err := processor.StartKenBurnsSequence(&scene.Effects.KenBurns, source, totalFrames); err != nil {
		return nil, fmt.Errorf("scene %d ken burns boundary failed: %w", scene.ID, err)
	}

	var boundary *ffmpeg.AVFrame
	for i := 0; i < fetchCount; i++ {
		frame, err := processor.FetchNextFrame()
		if err != nil {
			if boundary != nil {
				ffmpeg.AVFrameFree(&boundary)
			}
			return nil, fmt.Errorf("scene %d ken burns boundary frame failed: %w", scene.ID, err)
		}
		if boundary != nil {
			ffmpeg.AVFrameFree(&boundary)
		}
		boundary = frame
	}
	return boundary, nil
}

// extractVideoSceneFrame decodes the first or last frame of a video scene.
func (e *RenderEngine) extractVideoSceneFrame(scene *SceneConfig, last bool) (*ffmpeg.AVFrame, error) {
	project := &e.config.Project
	if scene.Resources.Video.Path == "" {
		return nil, fmt.Errorf("video scene %d has no video path", scene.ID)
	}

	decoder := NewVideoDecoder()
	defer decoder.Close()
	if err := decoder.Open(scene.Resources.Video.Path); err != nil {
		return nil, err
	}

	var selected *ffmpeg.AVFrame
	for {
		decoded, err := decoder.DecodeNextFrame()
		if err != nil {
			if selected != nil {
				ffmpeg.AVFrameFree(&selected)
			}
			return nil, err
		}
		if decoded == nil {
			break
		}

		scaled, err := decoder.ScaleFrame(decoded, project.Width, project.Height, ffmpeg.AVPixFmtYuv420P)
		ffmpeg.AVFrameFree(&decoded)
		if err != nil {
			if selected != nil {
				ffmpeg.AVFrameFree(&selected)
			}
			return nil, err
		}
		if selected != nil {
			ffmpeg.AVFrameFree(&selected)
		}
		selected = scaled

		if !last {
			break
		}
	}
	if selected == nil {
		return nil, fmt.Errorf("video scene %d produced no frames", scene.ID)
	}
	return selected, nil
}

/*
renderAudioTransition cross-fades the neighbors' primary audio through the
FIFO: the outgoing track is seeked to its final transition_duration
seconds, per-sample weights w_from = 1-t and w_to = t are applied on top
of the scenes' base volumes, and the clamped sum is enqueued.
*/
func (e *RenderEngine) renderAudioTransition(fromScene, toScene *SceneConfig, durationSeconds float64) error {
	if durationSeconds <= 0 {
		return nil
	}

	frameSize := e.enc.frameSize()
	totalSamples := int(math.Ceil(durationSeconds * TargetSampleRate))

	volFrom := math.Max(0, fromScene.Resources.Audio.Volume)
	volTo := math.Max(0, toScene.Resources.Audio.Volume)

	openSide := func(scene *SceneConfig) *AudioDecoder {
		if scene.Resources.Audio.Path == "" {
			return nil
		}
		decoder := NewAudioDecoder()
		if err := decoder.Open(scene.Resources.Audio.Path); err != nil {
			e.logger.Warn("audio transition source unavailable", "scene", scene.ID, "error", err)
			return nil
		}
		return decoder
	}

	fromDecoder := openSide(fromScene)
	toDecoder := openSide(toScene)
	if fromDecoder == nil && toDecoder == nil {
		// Nothing to cross-fade; the video loop fills silence.
		return nil
	}
	if fromDecoder != nil {
		defer fromDecoder.Close()
		fromDuration := fromDecoder.Duration()
		if fromDuration <= 0 {
			fromDuration = fromScene.Duration
		}
		if err := fromDecoder.Seek(math.Max(0, fromDuration-durationSeconds)); err != nil {
			e.logger.Warn("audio transition seek failed", "scene", fromScene.ID, "error", err)
		}
	}
	if toDecoder != nil {
		defer toDecoder.Close()
	}

	fromBuf := newTransitionAudioBuffer(fromDecoder, e.logger)
	toBuf := newTransitionAudioBuffer(toDecoder, e.logger)

	mixLeft := make([]float32, frameSize)
	mixRight := make([]float32, frameSize)

	processed := 0
	for processed < totalSamples {
		if e.cancelled.Load() {
			return ErrRenderCancelled
		}
		chunk := minInt(frameSize, totalSamples-processed)

		fromBuf.ensure(chunk)
		toBuf.ensure(chunk)

		for i := 0; i < chunk; i++ {
			t := float64(processed+i) / float64(totalSamples)
			wFrom := float32((1 - t) * volFrom)
			wTo := float32(t * volTo)
			l := fromBuf.sample(0, i)*wFrom + toBuf.sample(0, i)*wTo
			r := fromBuf.sample(1, i)*wFrom + toBuf.sample(1, i)*wTo
			mixLeft[i] = clampFloat(l, -1, 1)
			mixRight[i] = clampFloat(r, -1, 1)
		}
		fromBuf.advance(chunk)
		toBuf.advance(chunk)

		e.fifo.Write(mixLeft[:chunk], mixRight[:chunk])
		if err := e.drainBufferedAudio(); err != nil {
			return err
		}
		processed += chunk
	}

	return nil
}

/*
transitionAudioBuffer pulls decoded samples ahead of the cross-fade loop.
Decode failures downgrade to silence rather than failing the transition.
*/
type transitionAudioBuffer struct {
	decoder   *AudioDecoder
	channels  [2][]float32
	readPos   int
	exhausted bool
	logger    hclog.Logger
}

func newTransitionAudioBuffer(decoder *AudioDecoder, logger hclog.Logger) *transitionAudioBuffer {
	return &transitionAudioBuffer{decoder: decoder, exhausted: decoder == nil, logger: logger}
}

func (b *transitionAudioBuffer) ensure(needed int) {
	for !b.exhausted && len(b.channels[0])-b.readPos < needed {
		frame, err := b.decoder.DecodeFrame()
		if err != nil {
			b.logger.Warn("audio transition decode failed, using silence", "error", err)
			b.exhausted = true
			return
		}
		if frame == nil {
			b.exhausted = true
			return
		}

		n := frame.NbSamples()
		channels := frame.ChLayout().NbChannels()
		b.channels[0] = append(b.channels[0], frameSamples(frame, 0, n)...)
		if channels >= 2 {
			b.channels[1] = append(b.channels[1], frameSamples(frame, 1, n)...)
		} else {
			b.channels[1] = append(b.channels[1], b.channels[0][len(b.channels[0])-n:]...)
		}
		ffmpeg.AVFrameFree(&frame)
	}
}

func (b *transitionAudioBuffer) sample(ch, i int) float32 {
	idx := b.readPos + i
	if idx < len(b.channels[ch]) {
		return b.channels[ch][idx]
	}
	return 0
}

func (b *transitionAudioBuffer) advance(n int) {
	b.readPos += n
	const compactThreshold = 8192
	if b.readPos > compactThreshold {
		for ch := range b.channels {
			if b.readPos <= len(b.channels[ch]) {
				b.channels[ch] = append(b.channels[ch][:0], b.channels[ch][b.readPos:]...)
			} else {
				b.channels[ch] = b.channels[ch][:0]
			}
		}
		b.readPos = 0
	}
}

// ---------------------------------------------------------------------------
// First-frame prefetch and boundary caches

/*
scheduleFirstFramePrefetch starts one background task per video scene that
decodes and scales the scene's first frame. Transitions into a video scene
consume the result without blocking the render loop on a fresh demux.
*/
func (e *RenderEngine) scheduleFirstFramePrefetch() {
	project := &e.config.Project
	for i := range e.config.Scenes {
		scene := &e.config.Scenes[i]
		if scene.SceneType != VIDEO_SCENE || scene.Resources.Video.Path == "" {
			continue
		}

		result := make(chan *ffmpeg.AVFrame, 1)
		e.firstFramePrefetch[scene.ID] = result

		path := scene.Resources.Video.Path
		width, height := project.Width, project.Height
		logger := e.logger
		go func() {
			defer close(result)
			decoder := NewVideoDecoder()
			defer decoder.Close()
			if err := decoder.Open(path); err != nil {
				logger.Warn("first-frame prefetch failed", "path", path, "error", err)
				return
			}
			decoded, err := decoder.DecodeNextFrame()
			if err != nil || decoded == nil {
				logger.Warn("first-frame prefetch produced no frame", "path", path)
				return
			}
			scaled, err := decoder.ScaleFrame(decoded, width, height, ffmpeg.AVPixFmtYuv420P)
			ffmpeg.AVFrameFree(&decoded)
			if err != nil {
				logger.Warn("first-frame prefetch scale failed", "path", path, "error", err)
				return
			}
			result <- scaled
		}()
	}
}

// resolveFirstFramePrefetch joins the prefetch task for a scene and stores
// the frame in the first-frame cache.
func (e *RenderEngine) resolveFirstFramePrefetch(scene *SceneConfig) {
	result, ok := e.firstFramePrefetch[scene.ID]
	if !ok {
		return
	}
	delete(e.firstFramePrefetch, scene.ID)
	if frame := <-result; frame != nil {
		if existing, ok := e.sceneFirstFrames[scene.ID]; ok && existing != nil {
			ffmpeg.AVFrameFree(&existing)
		}
		e.sceneFirstFrames[scene.ID] = frame
	}
}

func (e *RenderEngine) cacheSceneFirstFrame(scene *SceneConfig, frame *ffmpeg.AVFrame) {
	if frame == nil {
		return
	}
	if _, ok := e.sceneFirstFrames[scene.ID]; ok {
		return
	}
	e.sceneFirstFrames[scene.ID] = cloneFrame(frame)
}

func (e *RenderEngine) cacheSceneLastFrame(scene *SceneConfig, frame *ffmpeg.AVFrame) {
	if frame == nil {
		return
	}
	if existing, ok := e.sceneLastFrames[scene.ID]; ok && existing != nil {
		ffmpeg.AVFrameFree(&existing)
	}
	e.sceneLastFrames[scene.ID] = cloneFrame(frame)
}

func (e *RenderEngine) releaseCaches() {
	for id, frame := range e.sceneFirstFrames {
		if frame != nil {
			ffmpeg.AVFrameFree(&frame)
		}
		delete(e.sceneFirstFrames, id)
	}
	for id, frame := range e.sceneLastFrames {
		if frame != nil {
			ffmpeg.AVFrameFree(&frame)
		}
		delete(e.sceneLastFrames, id)
	}
	for id, result := range e.firstFramePrefetch {
		delete(e.firstFramePrefetch, id)
		if frame := <-result; frame != nil {
			ffmpeg.AVFrameFree(&frame)
		}
	}
}

// ---------------------------------------------------------------------------
// Bookkeeping

func (e *RenderEngine) reportProgress() {
	if e.totalProjectFrames <= 0 {
		return
	}
	percent := int(math.Round(100 * float64(e.frameCount) / e.totalProjectFrames))
	if percent > e.lastReportedProgress {
		e.lastReportedProgress = percent
		if e.progress != nil {
			e.progress(percent)
		}
	}
}

func (e *RenderEngine) setActiveLayers(layers []*sceneAudioLayer) {
	e.guardMu.Lock()
	e.activeLayers = layers
	e.guardMu.Unlock()
}

func (e *RenderEngine) setActiveVideo(worker *videoPrefetchWorker) {
	e.guardMu.Lock()
	e.activeVideo = worker
	e.guardMu.Unlock()
}
