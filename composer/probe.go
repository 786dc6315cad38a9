// A module to contain media probing logic, used by the config loader to
// resolve scene durations that the project document leaves out.
package composer

import (
	"fmt"

	ffmpeg "github.com/csnewman/ffmpeg-go"
)

// ProbeKind selects which stream type a duration probe looks for.
type ProbeKind int

const (
	ProbeAudio ProbeKind = iota
	ProbeVideo
)

/*
ProbeFunc reports the duration in seconds of the first stream of the wanted
kind in the given file, or an error when the file cannot be opened or has no
such stream. The loader memoizes results by normalized absolute path, so a
probe runs at most once per asset per load.

The loader's default is ProbeMediaDuration; tests substitute their own.
*/
type ProbeFunc func(path string, kind ProbeKind) (float64, error)

// ProbeMediaDuration opens the file, reads its stream info, and reports the
// duration of the container (preferred) or the selected stream.
func ProbeMediaDuration(path string, kind ProbeKind) (float64, error) {
	if err := ensureMediaInitialized(); err != nil {
		return 0, err
	}

	pathC := ffmpeg.ToCStr(path)
	defer pathC.Free()

	var fmtCtx *ffmpeg.AVFormatContext
	if _, err := ffmpeg.AVFormatOpenInput(&fmtCtx, pathC, nil, nil); err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer ffmpeg.AVFormatCloseInput(&fmtCtx)

	if _, err := ffmpeg.AVFormatFindStreamInfo(fmtCtx, nil); err != nil {
		return 0, fmt.Errorf("failed to read stream info for %s: %w", path, err)
	}

	wanted := ffmpeg.AVMediaTypeAudio
	if kind == ProbeVideo {
		wanted = ffmpeg.AVMediaTypeVideo
	}

	streamIndex := -1
	streams := fmtCtx.Streams()
	for i := uintptr(0); i < uintptr(fmtCtx.NbStreams()); i++ {
		if streams.Get(i).Codecpar().CodecType() == wanted {
			streamIndex = int(i)
			break
		}
	}
	if streamIndex == -1 {
		return 0, fmt.Errorf("no matching stream in %s", path)
	}

	duration := 0.0
	if fmtCtx.Duration() != ffmpeg.AVNoptsValue {
		duration = float64(fmtCtx.Duration()) / float64(ffmpeg.AVTimeBase)
	} else {
		stream := streams.Get(uintptr(streamIndex))
		if stream.Duration() != ffmpeg.AVNoptsValue {
			duration = float64(stream.Duration()) * rationalSeconds(*stream.TimeBase())
		}
	}

	if duration <= 0 {
		return 0, fmt.Errorf("no duration recorded in %s", path)
	}
	return duration, nil
}

// rationalSeconds converts an AVRational time base to seconds per tick.
func rationalSeconds(r ffmpeg.AVRational) float64 {
	den := r.Den()
	if den == 0 {
		return 0
	}
	return float64(r.Num()) / float64(den)
}
