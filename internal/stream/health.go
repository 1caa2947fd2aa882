package stream

import (
	"bytes"
	"strings"
)

// HealthDetector decides from one line of transcoder diagnostics whether the
// job is producing output.
type HealthDetector interface {
	Healthy(line string) bool
}

type HealthDetectorFunc func(line string) bool

func (f HealthDetectorFunc) Healthy(line string) bool { return f(line) }

// DefaultMarkers are ffmpeg log fragments printed once the input is open or
// the muxer has written data.
var DefaultMarkers = []string{
	"muxing overhead",
	"Opening '",
	"Input #0",
}

// MarkerDetector matches any of its markers as a substring.
type MarkerDetector struct {
	Markers []string
}

func (d MarkerDetector) Healthy(line string) bool {
	for _, m := range d.Markers {
		if m != "" && strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// scanLogLines splits on \n or \r; ffmpeg rewrites its progress line with
// carriage returns.
func scanLogLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
