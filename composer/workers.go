package composer

import (
	"sync"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

// Bounded-buffer limits for the per-scene helper workers.
const (
	maxVideoQueueFrames = 8
	maxBufferedSeconds  = 5
)

/*
videoFrameQueue is the bounded handoff between the video prefetch worker
and the render thread. The worker blocks when maxVideoQueueFrames frames
are waiting; the render thread blocks when the queue is empty and the
worker has neither finished nor failed.
*/
type videoFrameQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	frames        []*ffmpeg.AVFrame
	finished      bool
	err           error
	stopRequested bool
}

func newVideoFrameQueue() *videoFrameQueue {
	q := &videoFrameQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

/*
videoPrefetchWorker decodes and scales video frames ahead of the encoder.
decodeNext returns the next scaled frame, (nil, nil) at end of stream, or
an error; it runs on the worker goroutine only, so the decoder it closes
over needs no locking.
*/
type videoPrefetchWorker struct {
	queue *videoFrameQueue
	wg    sync.WaitGroup
}

func startVideoPrefetchWorker(decodeNext func() (*ffmpeg.AVFrame, error)) *videoPrefetchWorker {
	w := &videoPrefetchWorker{queue: newVideoFrameQueue()}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		q := w.queue
		for {
			q.mu.Lock()
			stop := q.stopRequested
			q.mu.Unlock()
			if stop {
				return
			}

			frame, err := decodeNext()

			q.mu.Lock()
			if err != nil {
				q.err = err
				q.cond.Broadcast()
				q.mu.Unlock()
				return
			}
			if frame == nil {
				q.finished = true
				q.cond.Broadcast()
				q.mu.Unlock()
				return
			}
			for !q.stopRequested && len(q.frames) >= maxVideoQueueFrames {
				q.cond.Wait()
			}
			if q.stopRequested {
				q.mu.Unlock()
				ffmpeg.AVFrameFree(&frame)
				return
			}
			q.frames = append(q.frames, frame)
			q.cond.Broadcast()
			q.mu.Unlock()
		}
	}()
	return w
}

/*
nextFrame blocks until a frame is available and pops it. It returns
(nil, nil) when the worker reached end of stream with nothing buffered,
and the worker's error if it failed.
*/
func (w *videoPrefetchWorker) nextFrame() (*ffmpeg.AVFrame, error) {
	q := w.queue
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.err != nil {
			return nil, q.err
		}
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames = q.frames[1:]
			q.cond.Broadcast()
			return frame, nil
		}
		if q.finished || q.stopRequested {
			return nil, nil
		}
		q.cond.Wait()
	}
}

// requestStop flags the worker to stop and wakes both sides without
// joining. Used by cancellation from outside the render thread.
func (w *videoPrefetchWorker) requestStop() {
	q := w.queue
	q.mu.Lock()
	q.stopRequested = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// stop requests shutdown, wakes the worker, joins it, and frees any frames
// still queued. Safe to call more than once.
func (w *videoPrefetchWorker) stop() {
	w.requestStop()
	w.wg.Wait()

	q := w.queue
	q.mu.Lock()
	for i := range q.frames {
		ffmpeg.AVFrameFree(&q.frames[i])
	}
	q.frames = nil
	q.mu.Unlock()
}

/*
sceneAudioLayer is one audio source of a scene plus the worker goroutine
decoding it. The worker pushes deinterleaved float samples into two
per-channel buffers, bounded at maxBufferedSeconds of audio; the mixer
consumes from the front under the layer's mutex.
*/
type sceneAudioLayer struct {
	mu   sync.Mutex
	cond *sync.Cond

	channels [2][]float32

	delaySamples  int64
	finished      bool
	err           error
	stopRequested bool

	wg      sync.WaitGroup
	cleanup func()
}

/*
startAudioLayerWorker launches the decode loop for one layer. decodeNext
returns one chunk of per-channel samples (right may be nil for mono
sources, which are duplicated), (nil, nil, nil) at end of stream, or an
error. cleanup runs once after the worker is joined, releasing the decoder.
*/
func startAudioLayerWorker(delaySamples int64, decodeNext func() (left, right []float32, err error), cleanup func()) *sceneAudioLayer {
	l := &sceneAudioLayer{delaySamples: delaySamples, cleanup: cleanup}
	l.cond = sync.NewCond(&l.mu)

	maxBuffered := maxBufferedSeconds * TargetSampleRate

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			l.mu.Lock()
			stop := l.stopRequested
			l.mu.Unlock()
			if stop {
				return
			}

			left, right, err := decodeNext()

			l.mu.Lock()
			if err != nil {
				l.err = err
				l.cond.Broadcast()
				l.mu.Unlock()
				return
			}
			if left == nil {
				l.finished = true
				l.cond.Broadcast()
				l.mu.Unlock()
				return
			}
			for !l.stopRequested && len(l.channels[0]) >= maxBuffered {
				l.cond.Wait()
			}
			if l.stopRequested {
				l.mu.Unlock()
				return
			}
			l.channels[0] = append(l.channels[0], left...)
			if right != nil {
				l.channels[1] = append(l.channels[1], right...)
			} else {
				l.channels[1] = append(l.channels[1], left...)
			}
			// Keep the channels the same length even for odd sources.
			if d := len(l.channels[0]) - len(l.channels[1]); d > 0 {
				l.channels[1] = append(l.channels[1], make([]float32, d)...)
			} else if d < 0 {
				l.channels[0] = append(l.channels[0], make([]float32, -d)...)
			}
			l.cond.Broadcast()
			l.mu.Unlock()
		}
	}()

	return l
}

// requestStop flags the worker to stop and wakes both sides without
// joining. Used by cancellation from outside the render thread.
func (l *sceneAudioLayer) requestStop() {
	l.mu.Lock()
	l.stopRequested = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

// stop requests shutdown, wakes everyone, joins the worker, and runs the
// cleanup exactly once.
func (l *sceneAudioLayer) stop() {
	l.requestStop()
	l.wg.Wait()

	if l.cleanup != nil {
		l.cleanup()
		l.cleanup = nil
	}
}

// audioLayerGuard tears down a set of layers when the scene ends, in the
// reverse of their start order.
type audioLayerGuard struct {
	layers []*sceneAudioLayer
}

func (g *audioLayerGuard) add(layer *sceneAudioLayer) {
	g.layers = append(g.layers, layer)
}

func (g *audioLayerGuard) stop() {
	for i := len(g.layers) - 1; i >= 0; i-- {
		g.layers[i].stop()
	}
	g.layers = nil
}
