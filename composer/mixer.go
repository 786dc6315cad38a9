package composer

/*
sceneMixer sums the active audio layers of a scene into two reusable float
buffers. One mix() call produces exactly the requested sample count per
channel, blocking on each layer's condition variable until its worker has
produced enough samples or signalled the end of its stream.
*/
type sceneMixer struct {
	layers []*sceneAudioLayer

	// Reused across calls; reallocated only on growth.
	left  []float32
	right []float32
}

func newSceneMixer(layers []*sceneAudioLayer) *sceneMixer {
	return &sceneMixer{layers: layers}
}

/*
mix fills the internal buffers with n summed, clamped samples per channel.
It returns silent=true when nothing contributed and nothing is pending, in
which case the caller should emit silence instead of reading the buffers.

Per layer: a delay of n or more samples contributes nothing and shrinks; a
partial delay contributes leading zeros; the rest is consumed from the
layer's channel buffers, waiting on the worker when they run dry. A layer
error fails the whole mix.
*/
func (m *sceneMixer) mix(n int) (left, right []float32, silent bool, err error) {
	if cap(m.left) < n {
		m.left = make([]float32, n)
		m.right = make([]float32, n)
	}
	m.left = m.left[:n]
	m.right = m.right[:n]
	for i := 0; i < n; i++ {
		m.left[i] = 0
		m.right[i] = 0
	}

	hasActiveLayer := false
	hasPendingAudio := false

	for _, layer := range m.layers {
		if layer.delaySamples >= int64(n) {
			layer.delaySamples -= int64(n)
			layer.mu.Lock()
			if !layer.finished {
				hasPendingAudio = true
			}
			layer.mu.Unlock()
			continue
		}

		silentSamples := 0
		if layer.delaySamples > 0 {
			silentSamples = int(layer.delaySamples)
			layer.delaySamples = 0
		}

		required := n - silentSamples
		consumed := 0
		for consumed < required {
			layer.mu.Lock()
			for !layer.stopRequested && layer.err == nil && len(layer.channels[0]) == 0 && !layer.finished {
				layer.cond.Wait()
			}
			if layer.err != nil {
				err := layer.err
				layer.mu.Unlock()
				return nil, nil, false, err
			}
			if len(layer.channels[0]) == 0 {
				// Finished or stopping with nothing buffered.
				layer.mu.Unlock()
				break
			}

			take := minInt(required-consumed, len(layer.channels[0]))
			hasActiveLayer = true
			base := silentSamples + consumed
			for i := 0; i < take; i++ {
				m.left[base+i] += layer.channels[0][i]
				m.right[base+i] += layer.channels[1][i]
			}
			layer.channels[0] = popFront(layer.channels[0], take)
			layer.channels[1] = popFront(layer.channels[1], take)
			consumed += take

			if len(layer.channels[0]) > 0 || !layer.finished {
				hasPendingAudio = true
			}
			layer.cond.Broadcast()
			layer.mu.Unlock()
		}

		layer.mu.Lock()
		if !layer.finished {
			hasPendingAudio = true
		}
		layer.mu.Unlock()
	}

	if !hasActiveLayer && !hasPendingAudio {
		return nil, nil, true, nil
	}

	for i := 0; i < n; i++ {
		m.left[i] = clampFloat(m.left[i], -1, 1)
		m.right[i] = clampFloat(m.right[i], -1, 1)
	}
	return m.left, m.right, false, nil
}

// popFront drops the first n elements in place.
func popFront(buf []float32, n int) []float32 {
	copy(buf, buf[n:])
	return buf[:len(buf)-n]
}
