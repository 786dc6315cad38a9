package composer

import (
	"testing"

	"github.com/hashicorp/go-hclog"
)

func TestParseBitrate(t *testing.T) {
	tests := []struct {
		name    string
		bitrate string
		want    int64
	}{
		{name: "plain number", bitrate: "128000", want: 128000},
		{name: "lowercase k", bitrate: "5000k", want: 5000000},
		{name: "uppercase K", bitrate: "192K", want: 192000},
		{name: "lowercase m", bitrate: "5m", want: 5000000},
		{name: "uppercase M", bitrate: "5M", want: 5000000},
		{name: "surrounding whitespace", bitrate: "  800k  ", want: 800000},
		{name: "inner whitespace", bitrate: "800 k", want: 800000},
		{name: "empty", bitrate: "", want: 0},
		{name: "garbage", bitrate: "fast", want: 0},
		{name: "negative", bitrate: "-5k", want: 0},
		{name: "unknown suffix", bitrate: "5g", want: 0},
		{name: "only whitespace", bitrate: "   ", want: 0},
	}

	logger := hclog.NewNullLogger()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseBitrate(tt.bitrate, logger); got != tt.want {
				t.Errorf("ParseBitrate(%q) = %d, want %d", tt.bitrate, got, tt.want)
			}
		})
	}
}
