package sandbox

import (
	"math"
	"strconv"
	"strings"

	appErr "judged/pkg/errors"
)

// Isolator kill reasons as written to the meta file.
const (
	StatusTimeout  = "TO" // cpu or wall clock exceeded
	StatusSignal   = "SG" // killed by signal (memory kills land here)
	StatusNonZero  = "RE" // exited with non-zero status
	StatusInternal = "XX" // isolator internal error
)

// Meta is the parsed run report of the isolation tool.
type Meta struct {
	Status     string // empty when the run finished normally
	Message    string
	ExitCode   int
	ExitSignal int
	TimeMs     int // cpu time
	WallTimeMs int
	MemoryKB   int
	Killed     bool
}

// ParseMeta parses the key:value meta file. The tool reports time in
// float seconds and max-rss in bytes; both are converted here.
func ParseMeta(data []byte) (Meta, error) {
	var m Meta
	seen := false

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		seen = true
		value = strings.TrimSpace(value)

		switch key {
		case "status":
			m.Status = value
		case "message":
			m.Message = value
		case "exitcode":
			m.ExitCode, _ = strconv.Atoi(value)
		case "exitsig":
			m.ExitSignal, _ = strconv.Atoi(value)
		case "killed":
			m.Killed = value == "1"
		case "time":
			sec, err := strconv.ParseFloat(value, 64)
			if err == nil {
				m.TimeMs = int(math.Round(sec * 1000))
			}
		case "time-wall":
			sec, err := strconv.ParseFloat(value, 64)
			if err == nil {
				m.WallTimeMs = int(math.Round(sec * 1000))
			}
		case "max-rss":
			bytes, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				m.MemoryKB = int(bytes / 1024)
			}
		}
	}

	if !seen {
		return Meta{}, appErr.New(appErr.MetaParseFailed).WithMessage("meta file has no key:value lines")
	}
	return m, nil
}
