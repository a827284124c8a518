// Package capture assembles the audio stream published by a recorder session
// into a per-recording buffer and a live chunk feed.
package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/murmur/internal/session"
	"github.com/rbright/murmur/internal/wire"
)

// DefaultQueueSize bounds the live chunk feed.
const DefaultQueueSize = 256

// NoFeed disables the live chunk feed; audio is only buffered.
const NoFeed = -1

// Collector buffers audio chunks between Begin and End.
type Collector struct {
	logger    *slog.Logger
	queueSize int

	mu         sync.Mutex
	streaming  bool
	chunks     chan []byte
	pcm        []byte
	sampleRate int
	channels   int
	dropped    int64
	lastChunk  time.Time
}

// NewCollector builds an idle collector. queueSize 0 uses DefaultQueueSize and
// NoFeed keeps Chunks closed.
func NewCollector(logger *slog.Logger, queueSize int) *Collector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if queueSize == 0 {
		queueSize = DefaultQueueSize
	}

	chunks := make(chan []byte)
	close(chunks)

	return &Collector{
		logger:     logger,
		queueSize:  queueSize,
		chunks:     chunks,
		sampleRate: wire.DefaultSampleRate,
		channels:   1,
	}
}

// HandleEvent consumes session notifications. It is safe to pass to Session.Subscribe.
func (c *Collector) HandleEvent(event session.Event) {
	switch ev := event.(type) {
	case session.AudioChunk:
		c.Add(ev.Payload)
	case session.AudioConfig:
		c.SetAudioConfig(ev.SampleRate, ev.Channels)
	}
}

// Begin starts a new recording: it clears buffered audio and opens a fresh chunk feed.
func (c *Collector) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streaming && c.queueSize > 0 {
		close(c.chunks)
	}
	c.streaming = true
	if c.queueSize > 0 {
		c.chunks = make(chan []byte, c.queueSize)
	}
	c.pcm = c.pcm[:0]
	c.dropped = 0
	c.lastChunk = time.Time{}
}

// End stops accepting chunks and closes the feed. Buffered audio is kept.
func (c *Collector) End() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.streaming {
		return
	}
	c.streaming = false
	if c.queueSize > 0 {
		close(c.chunks)
	}
}

// Add appends one chunk. Chunks outside Begin/End are ignored.
func (c *Collector) Add(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.streaming {
		return
	}

	c.pcm = append(c.pcm, chunk...)
	c.lastChunk = time.Now()
	if c.queueSize < 0 {
		return
	}

	select {
	case c.chunks <- chunk:
	default:
		c.dropped++
		if c.dropped == 1 || c.dropped%100 == 0 {
			c.logger.Warn("chunk feed full; dropping", "dropped", c.dropped)
		}
	}
}

// SetAudioConfig records the worker's announced format. Non-positive values are ignored.
func (c *Collector) SetAudioConfig(sampleRate int, channels int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sampleRate > 0 {
		c.sampleRate = sampleRate
	}
	if channels > 0 {
		c.channels = channels
	}
}

// Chunks returns the live feed for the current recording. It is closed by End.
func (c *Collector) Chunks() <-chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunks
}

// Streaming reports whether the collector is between Begin and End.
func (c *Collector) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Buffer returns a copy of all audio captured since Begin.
func (c *Collector) Buffer() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]byte, len(c.pcm))
	copy(out, c.pcm)
	return out
}

// Clear drops buffered audio without ending the recording.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pcm = c.pcm[:0]
}

// BytesCaptured reports the buffered audio size.
func (c *Collector) BytesCaptured() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.pcm))
}

// SampleRate returns the current effective sample rate.
func (c *Collector) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleRate
}

// Channels returns the current channel count.
func (c *Collector) Channels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels
}

// Dropped reports chunks the live feed could not accept.
func (c *Collector) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// LastChunk returns when the most recent chunk arrived.
func (c *Collector) LastChunk() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastChunk
}

// DurationMS is the buffered audio length for 16-bit samples, floored to milliseconds.
func (c *Collector) DurationMS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return durationMS(int64(len(c.pcm)), c.sampleRate, c.channels)
}

func durationMS(bytes int64, sampleRate int, channels int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	frames := bytes / int64(2*channels)
	return frames * 1000 / int64(sampleRate)
}
