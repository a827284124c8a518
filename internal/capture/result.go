package capture

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Result describes one finished recording.
type Result struct {
	ID         string
	Device     string
	SampleRate int
	Channels   int
	Bytes      int64
	DurationMS int64
	Path       string
	Cancelled  bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewID returns a recording identifier.
func NewID() string {
	return uuid.NewString()
}

// FileName returns the WAV file name for a recording started at startedAt.
func FileName(id string, startedAt time.Time) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("murmur-%s-%s.wav", startedAt.Format("20060102-150405"), short)
}

// DefaultPath places a recording under dir.
func DefaultPath(dir string, id string, startedAt time.Time) string {
	return filepath.Join(dir, FileName(id, startedAt))
}

// Summary is a one-line human description.
func (r Result) Summary() string {
	if r.Cancelled {
		return "recording cancelled"
	}
	return fmt.Sprintf("%s (%.1fs, %d Hz, %d bytes)", r.Path, float64(r.DurationMS)/1000, r.SampleRate, r.Bytes)
}
