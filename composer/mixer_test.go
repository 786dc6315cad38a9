package composer

import (
	"errors"
	"testing"
	"time"
)

// scriptedLayer starts a layer worker that produces the given chunks in
// order, then reports end of stream.
func scriptedLayer(t *testing.T, delaySamples int64, chunks ...[]float32) *sceneAudioLayer {
	t.Helper()
	i := 0
	layer := startAudioLayerWorker(delaySamples, func() ([]float32, []float32, error) {
		if i >= len(chunks) {
			return nil, nil, nil
		}
		chunk := chunks[i]
		i++
		left := append([]float32(nil), chunk...)
		right := append([]float32(nil), chunk...)
		return left, right, nil
	}, nil)
	t.Cleanup(layer.stop)
	return layer
}

func constChunk(value float32, n int) []float32 {
	chunk := make([]float32, n)
	for i := range chunk {
		chunk[i] = value
	}
	return chunk
}

func TestMixSumsTwoLayers(t *testing.T) {
	a := scriptedLayer(t, 0, constChunk(0.25, 512))
	b := scriptedLayer(t, 0, constChunk(0.5, 512))
	mixer := newSceneMixer([]*sceneAudioLayer{a, b})

	left, right, silent, err := mixer.mix(512)
	if err != nil {
		t.Fatalf("mix() error = %v", err)
	}
	if silent {
		t.Fatal("mix() reported silence with two active layers")
	}
	for i := range left {
		if left[i] != 0.75 || right[i] != 0.75 {
			t.Fatalf("sample %d = (%v, %v), want (0.75, 0.75)", i, left[i], right[i])
		}
	}
}

func TestMixClampsToUnitRange(t *testing.T) {
	a := scriptedLayer(t, 0, constChunk(0.9, 128))
	b := scriptedLayer(t, 0, constChunk(0.8, 128))
	mixer := newSceneMixer([]*sceneAudioLayer{a, b})

	left, _, _, err := mixer.mix(128)
	if err != nil {
		t.Fatalf("mix() error = %v", err)
	}
	for i := range left {
		if left[i] != 1.0 {
			t.Fatalf("sample %d = %v, want clamped 1.0", i, left[i])
		}
	}
}

func TestMixDelayedLayer(t *testing.T) {
	// 100 samples of delay: the first chunk carries zeros, then signal.
	layer := scriptedLayer(t, 100, constChunk(0.5, 256))
	mixer := newSceneMixer([]*sceneAudioLayer{layer})

	left, _, silent, err := mixer.mix(256)
	if err != nil {
		t.Fatalf("mix() error = %v", err)
	}
	if silent {
		t.Fatal("mix() reported silence for a delayed layer with data")
	}
	for i := 0; i < 100; i++ {
		if left[i] != 0 {
			t.Fatalf("sample %d = %v, want leading silence", i, left[i])
		}
	}
	for i := 100; i < 256; i++ {
		if left[i] != 0.5 {
			t.Fatalf("sample %d = %v, want 0.5", i, left[i])
		}
	}
}

func TestMixWholeChunkDelayShrinks(t *testing.T) {
	layer := scriptedLayer(t, 1024, constChunk(0.5, 64))
	waitForLayerFinished(t, layer)
	mixer := newSceneMixer([]*sceneAudioLayer{layer})

	_, _, silent, err := mixer.mix(512)
	if err != nil {
		t.Fatalf("mix() error = %v", err)
	}
	if !silent {
		t.Error("fully delayed chunk of a finished layer should mix to silence")
	}
	if layer.delaySamples != 512 {
		t.Errorf("delaySamples = %d, want 512", layer.delaySamples)
	}
}

// waitForLayerFinished blocks until the worker has reported end of stream,
// so tests exercising post-EOF behavior are not racing the goroutine.
func waitForLayerFinished(t *testing.T, layer *sceneAudioLayer) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		layer.mu.Lock()
		finished := layer.finished
		layer.mu.Unlock()
		if finished {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("layer worker never finished")
}

func TestMixSilentWhenAllLayersDone(t *testing.T) {
	layer := scriptedLayer(t, 0, constChunk(0.5, 16))
	mixer := newSceneMixer([]*sceneAudioLayer{layer})

	// First mix drains the 16 available samples plus EOF.
	if _, _, _, err := mixer.mix(64); err != nil {
		t.Fatalf("mix() error = %v", err)
	}

	_, _, silent, err := mixer.mix(64)
	if err != nil {
		t.Fatalf("mix() error = %v", err)
	}
	if !silent {
		t.Error("mix() after EOF with empty buffers should be silent")
	}
}

func TestMixPropagatesWorkerError(t *testing.T) {
	wantErr := errors.New("decode blew up")
	layer := startAudioLayerWorker(0, func() ([]float32, []float32, error) {
		return nil, nil, wantErr
	}, nil)
	t.Cleanup(layer.stop)

	mixer := newSceneMixer([]*sceneAudioLayer{layer})
	_, _, _, err := mixer.mix(64)
	if !errors.Is(err, wantErr) {
		t.Errorf("mix() error = %v, want %v", err, wantErr)
	}
}

func TestAudioLayerBackpressure(t *testing.T) {
	produced := 0
	layer := startAudioLayerWorker(0, func() ([]float32, []float32, error) {
		produced++
		return constChunk(0.1, TargetSampleRate), nil, nil
	}, nil)
	t.Cleanup(layer.stop)

	// Give the worker time to fill its bounded buffer.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		layer.mu.Lock()
		full := len(layer.channels[0]) >= maxBufferedSeconds*TargetSampleRate
		layer.mu.Unlock()
		if full {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	layer.mu.Lock()
	buffered := len(layer.channels[0])
	layer.mu.Unlock()
	if buffered < maxBufferedSeconds*TargetSampleRate {
		t.Fatalf("buffered %d samples, expected the buffer to fill", buffered)
	}

	// One extra chunk may be in flight, but the worker must not run ahead
	// of the bound by more than that.
	if produced > maxBufferedSeconds+2 {
		t.Errorf("worker produced %d chunks against a %d chunk bound", produced, maxBufferedSeconds)
	}
}

func TestAudioLayerStopUnblocksAndJoins(t *testing.T) {
	cleaned := false
	layer := startAudioLayerWorker(0, func() ([]float32, []float32, error) {
		return constChunk(0.1, TargetSampleRate), nil, nil
	}, func() { cleaned = true })

	done := make(chan struct{})
	go func() {
		layer.stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop() did not join the worker")
	}
	if !cleaned {
		t.Error("cleanup did not run")
	}
}

func TestStereoSampleFIFO(t *testing.T) {
	fifo := NewStereoSampleFIFO()
	fifo.Write([]float32{1, 2, 3}, []float32{4, 5, 6})
	fifo.WriteSilence(2)

	if got := fifo.Size(); got != 5 {
		t.Fatalf("Size() = %d, want 5", got)
	}

	left := make([]float32, 4)
	right := make([]float32, 4)
	if n := fifo.Read(left, right); n != 4 {
		t.Fatalf("Read() = %d, want 4", n)
	}
	if left[0] != 1 || left[2] != 3 || left[3] != 0 {
		t.Errorf("left = %v", left)
	}
	if right[1] != 5 {
		t.Errorf("right = %v", right)
	}

	// Short read zero-fills the tail.
	if n := fifo.Read(left, right); n != 1 {
		t.Fatalf("second Read() = %d, want 1", n)
	}
	if left[0] != 0 || left[1] != 0 {
		t.Errorf("drained read left = %v, want zeros", left)
	}
	if fifo.Size() != 0 {
		t.Errorf("Size() after drain = %d", fifo.Size())
	}
}
