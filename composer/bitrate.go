package composer

import (
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
)

/*
ParseBitrate converts a bitrate string such as "5000k" or "5M" into bits per
second. The suffix is case-insensitive; k multiplies by 1e3 and m by 1e6.
Anything unparseable returns 0 with a warning, which lets the encoder fall
back to its own default rate.
*/
func ParseBitrate(bitrate string, logger hclog.Logger) int64 {
	s := strings.TrimSpace(bitrate)
	if s == "" {
		return 0
	}

	multiplier := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		multiplier = 1000
		s = s[:len(s)-1]
	case 'm', 'M':
		multiplier = 1000000
		s = s[:len(s)-1]
	}

	s = strings.TrimSpace(s)
	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil || value < 0 {
		if logger != nil {
			logger.Warn("invalid bitrate value", "bitrate", bitrate)
		}
		return 0
	}

	return value * multiplier
}
