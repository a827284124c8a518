package worker

import (
	"context"
	"log/slog"

	"github.com/rbright/murmur/internal/audio"
)

// PulseBackend captures from PulseAudio (or PipeWire's Pulse server).
type PulseBackend struct {
	Format audio.Format
	Logger *slog.Logger
}

// ListDevices returns the display names of all input sources.
func (b PulseBackend) ListDevices(ctx context.Context) ([]string, error) {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(devices))
	for _, device := range devices {
		names = append(names, device.Name())
	}
	return names, nil
}

// Start resolves device and opens a capture stream on it.
func (b PulseBackend) Start(ctx context.Context, device string) (Stream, error) {
	selection, err := audio.SelectDevice(ctx, device)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" && b.Logger != nil {
		b.Logger.Warn(selection.Warning)
	}

	capture, err := audio.StartCapture(ctx, selection.Device, b.Format)
	if err != nil {
		return nil, err
	}
	return capture, nil
}
