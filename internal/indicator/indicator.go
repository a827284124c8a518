// Package indicator renders recording state and input level on a terminal.
package indicator

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/murmur/internal/session"
)

const (
	defaultWidth    = 24
	defaultInterval = 100 * time.Millisecond
)

// Controller is the recorder-facing indicator contract.
type Controller interface {
	ShowRecording(device string)
	ShowStopping()
	ShowError(text string)
	Hide()
	HandleEvent(session.Event)
}

type messages struct {
	recording string
	stopping  string
	errorText string
}

var defaultMessages = messages{
	recording: "REC",
	stopping:  "saving",
	errorText: "recorder error",
}

// Meter draws a single status line such as `REC [#####-----] 0:03 mic`.
// Redraws are throttled to Interval; state changes always redraw.
type Meter struct {
	out      io.Writer
	logger   *slog.Logger
	messages messages
	width    int
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	visible   bool
	label     string
	device    string
	startedAt time.Time
	level     float64
	peakHold  float64
	lastDraw  time.Time
}

// NewMeter creates a meter writing to out. Width and interval use defaults when <= 0.
func NewMeter(out io.Writer, logger *slog.Logger, width int, interval time.Duration) *Meter {
	if width <= 0 {
		width = defaultWidth
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Meter{
		out:      out,
		logger:   logger,
		messages: defaultMessages,
		width:    width,
		interval: interval,
		now:      time.Now,
	}
}

// ShowRecording starts the recording line for device.
func (m *Meter) ShowRecording(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.visible = true
	m.label = m.messages.recording
	m.device = device
	m.startedAt = m.now()
	m.level = 0
	m.peakHold = 0
	m.drawLocked()
}

// ShowStopping switches the line to the post-capture state.
func (m *Meter) ShowStopping() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.visible {
		return
	}
	m.label = m.messages.stopping
	m.drawLocked()
}

// ShowError replaces the status line with text on its own line.
func (m *Meter) ShowError(text string) {
	if text == "" {
		text = m.messages.errorText
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	m.write("error: " + text + "\n")
	m.visible = false
}

// Hide clears the status line.
func (m *Meter) Hide() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	m.visible = false
}

// HandleEvent updates the level from volume notifications.
func (m *Meter) HandleEvent(event session.Event) {
	switch e := event.(type) {
	case session.VolumeUpdate:
		m.mu.Lock()
		defer m.mu.Unlock()
		m.level = e.Volume
		if e.Volume > m.peakHold {
			m.peakHold = e.Volume
		}
		if m.visible && m.now().Sub(m.lastDraw) >= m.interval {
			m.drawLocked()
		}
	case session.Error:
		if e.Err != nil {
			m.logDebug("recorder error while metering", e.Err)
		}
	}
}

// Bar renders level in [0,1] as a fixed-width bar.
func Bar(level float64, width int) string {
	if width <= 0 {
		return "[]"
	}
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level*float64(width) + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

func formatElapsed(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func (m *Meter) drawLocked() {
	if !m.visible {
		return
	}
	now := m.now()
	line := fmt.Sprintf("%s %s %s", m.label, Bar(m.level, m.width), formatElapsed(now.Sub(m.startedAt)))
	if m.device != "" {
		line += " " + m.device
	}
	m.write("\r\033[K" + line)
	m.lastDraw = now
}

func (m *Meter) clearLocked() {
	if m.visible {
		m.write("\r\033[K")
	}
}

func (m *Meter) write(s string) {
	if m.out == nil {
		return
	}
	if _, err := io.WriteString(m.out, s); err != nil {
		m.logDebug("indicator write failed", err)
	}
}

// PeakHold returns the highest level seen since ShowRecording.
func (m *Meter) PeakHold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakHold
}

func (m *Meter) logDebug(message string, err error) {
	if m.logger == nil || err == nil {
		return
	}
	m.logger.Debug(message, "error", err.Error())
}

// Nop is a Controller that renders nothing.
type Nop struct{}

func (Nop) ShowRecording(string)      {}
func (Nop) ShowStopping()             {}
func (Nop) ShowError(string)          {}
func (Nop) Hide()                     {}
func (Nop) HandleEvent(session.Event) {}
