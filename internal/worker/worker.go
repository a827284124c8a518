// Package worker implements the recorder subprocess: it reads control lines on
// stdin and writes framed messages and audio on stdout.
package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/rbright/murmur/internal/wire"
)

// Stream is one running capture.
type Stream interface {
	Chunks() <-chan []byte
	SampleRate() int
	Stop() error
}

// Backend enumerates and opens capture devices.
type Backend interface {
	ListDevices(ctx context.Context) ([]string, error)
	Start(ctx context.Context, device string) (Stream, error)
}

// Worker serves one stdin/stdout command session.
type Worker struct {
	backend Backend
	out     *wire.Writer
	logger  *slog.Logger

	mu      sync.Mutex
	stream  Stream
	pumping sync.WaitGroup
}

// New creates a worker writing frames to out.
func New(backend Backend, out io.Writer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{
		backend: backend,
		out:     wire.NewWriter(out),
		logger:  logger,
	}
}

// Run processes command lines from in until EOF or ctx ends. Capture is
// stopped before Run returns. EOF is a clean shutdown and returns nil.
func (w *Worker) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	defer w.stopCapture()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read commands: %w", err)
			}
			w.logger.Debug("stdin closed")
			return nil
		case line := <-lines:
			if err := w.handleLine(ctx, line); err != nil {
				return err
			}
		}
	}
}

// handleLine returns an error only when stdout is no longer writable.
func (w *Worker) handleLine(ctx context.Context, line []byte) error {
	cmd, err := wire.DecodeCommand(line)
	if err != nil {
		w.logger.Warn("invalid command", "error", err.Error())
		return w.reportError(err)
	}

	switch cmd.Command {
	case wire.CommandListDevices:
		return w.listDevices(ctx)
	case wire.CommandStart:
		return w.start(ctx, cmd.Device())
	case wire.CommandStop:
		w.stopCapture()
		return nil
	}
	return nil
}

func (w *Worker) listDevices(ctx context.Context) error {
	names, err := w.backend.ListDevices(ctx)
	if err != nil {
		w.logger.Error("list devices failed", "error", err.Error())
		return w.reportError(err)
	}
	if names == nil {
		names = []string{}
	}
	return w.out.WriteMessage(wire.Message{Type: wire.KindDeviceList, Devices: names})
}

func (w *Worker) start(ctx context.Context, device string) error {
	w.stopCapture()

	stream, err := w.backend.Start(ctx, device)
	if err != nil {
		w.logger.Error("start capture failed", "device", device, "error", err.Error())
		return w.reportError(err)
	}

	if err := w.out.WriteMessage(wire.Message{
		Type:       wire.KindAudioConfig,
		SampleRate: stream.SampleRate(),
		Channels:   1,
	}); err != nil {
		_ = stream.Stop()
		return err
	}

	w.mu.Lock()
	w.stream = stream
	w.pumping.Add(1)
	w.mu.Unlock()

	go w.pump(stream)
	w.logger.Info("capture started", "device", device, "sample_rate", stream.SampleRate())
	return nil
}

func (w *Worker) pump(stream Stream) {
	defer w.pumping.Done()
	for chunk := range stream.Chunks() {
		if err := w.out.WriteAudio(chunk); err != nil {
			w.logger.Error("write audio frame failed", "error", err.Error())
			_ = stream.Stop()
			for range stream.Chunks() {
			}
			return
		}
	}
}

// stopCapture stops the active stream and waits for its trailing chunks to be written.
func (w *Worker) stopCapture() {
	w.mu.Lock()
	stream := w.stream
	w.stream = nil
	w.mu.Unlock()

	if stream == nil {
		return
	}
	if err := stream.Stop(); err != nil {
		w.logger.Warn("stop capture failed", "error", err.Error())
	}
	w.pumping.Wait()
	w.logger.Info("capture stopped")
}

func (w *Worker) reportError(err error) error {
	return w.out.WriteMessage(wire.Message{Type: wire.KindError, Message: err.Error()})
}
