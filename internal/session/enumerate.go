package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const closeTimeout = time.Second

// Enumerate spawns a short-lived worker, asks it for its capture devices, and
// closes it again. A worker error message fails the call instead of waiting
// out the timeout. A zero timeout waits until ctx ends.
func Enumerate(ctx context.Context, logger *slog.Logger, spawner Spawner, timeout time.Duration) ([]string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s := New(logger, spawner, nil)
	failures := make(chan error, 1)
	unsubscribe := s.Subscribe(func(event Event) {
		if e, ok := event.(Error); ok && e.Err != nil {
			select {
			case failures <- e.Err:
			default:
			}
		}
	})
	defer unsubscribe()

	s.Initialize(ctx)
	if !s.Running() {
		err := ErrNotRunning
		select {
		case err = <-failures:
		default:
		}
		return nil, fmt.Errorf("start recorder: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = s.Close(closeCtx)
	}()

	req := s.DeviceList()
	select {
	case <-req.Done():
		return req.Result()
	case err := <-failures:
		return nil, err
	case <-ctx.Done():
		if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("no device list within %s", timeout)
		}
		return nil, ctx.Err()
	}
}
