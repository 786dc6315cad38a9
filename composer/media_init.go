package composer

import (
	"fmt"
	"sync"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

var (
	mediaInitOnce sync.Once
	mediaInitErr  error
)

// ensureMediaInitialized performs the one-time process-wide media library
// setup. The network layer must be initialized exactly once before any
// format context is opened.
func ensureMediaInitialized() error {
	mediaInitOnce.Do(func() {
		if _, err := ffmpeg.AVFormatNetworkInit(); err != nil {
			mediaInitErr = fmt.Errorf("media library network init failed: %w", err)
		}
	})
	return mediaInitErr
}
