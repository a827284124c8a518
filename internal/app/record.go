package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rbright/murmur/internal/capture"
	"github.com/rbright/murmur/internal/events"
	"github.com/rbright/murmur/internal/indicator"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/metrics"
	"github.com/rbright/murmur/internal/pipeline"
	"github.com/rbright/murmur/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	socketProbeTimeout = 180 * time.Millisecond
	socketRetries      = 8
	shutdownTimeout    = 2 * time.Second
)

type recordOptions struct {
	device   string
	duration time.Duration
	output   string
	listen   string
}

func (inv *invocation) recordCommand() *cobra.Command {
	var opts recordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from an input device until stopped, then save a WAV file",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := inv.loaded.Config
			if opts.device == "" {
				opts.device = cfg.Audio.Device
			}
			if opts.duration == 0 {
				opts.duration = cfg.Recording.MaxDuration()
			}
			if opts.listen == "" {
				opts.listen = cfg.Events.Listen
			}
			if opts.duration < 0 {
				return usageError{err: fmt.Errorf("invalid --duration %s", opts.duration)}
			}
			return inv.record(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.device, "device", "", "input device name (default from config)")
	flags.DurationVar(&opts.duration, "duration", 0, "stop automatically after this long")
	flags.StringVar(&opts.output, "output", "", "WAV output path (default: a new file in recording.output_dir)")
	flags.StringVar(&opts.listen, "listen", "", "serve /events and /metrics on this address")
	return cmd
}

// record owns the control socket for the lifetime of one recording.
func (inv *invocation) record(ctx context.Context, opts recordOptions) error {
	logger := inv.logger
	cfg := inv.loaded.Config

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}
	listener, err := ipc.Acquire(ctx, socketPath, socketProbeTimeout, socketRetries, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			return fmt.Errorf("%w; use `murmur stop` or `murmur cancel`", err)
		}
		return err
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sess := session.New(logger, inv.spawner(), m)

	var (
		hub          *events.Hub
		httpListener net.Listener
	)
	queueSize := capture.NoFeed
	if opts.listen != "" {
		httpListener, err = net.Listen("tcp", opts.listen)
		if err != nil {
			return fmt.Errorf("listen events %s: %w", opts.listen, err)
		}
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		hub = events.NewHub(logger, m)
		queueSize = 0
	}
	collector := capture.NewCollector(logger, queueSize)

	meter := indicator.NewMeter(inv.runner.Stderr, logger, 0, 0)
	unsubscribe := sess.Subscribe(func(event session.Event) {
		if _, ok := event.(session.Started); ok {
			meter.ShowRecording(opts.device)
			if hub != nil {
				go hub.StreamAudio(collector.Chunks())
			}
		}
		meter.HandleEvent(event)
		if hub != nil {
			hub.HandleEvent(event)
		}
	})
	defer unsubscribe()

	recorder := pipeline.NewRecorder(logger, sess, collector, pipeline.Options{
		Device:      opts.device,
		OutputDir:   cfg.Recording.OutputDir,
		OutputPath:  opts.output,
		MaxDuration: opts.duration,
	})
	control := ipc.HandlerFunc(func(ctx context.Context, req ipc.Request) ipc.Response {
		resp := recorder.Handle(ctx, req)
		if resp.OK && (req.Command == ipc.CommandStop || req.Command == ipc.CommandCancel) {
			meter.ShowStopping()
		}
		logger.Debug("control request", "command", req.Command, "ok", resp.OK, "state", resp.State)
		return resp
	})

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	g, gctx := errgroup.WithContext(serveCtx)

	g.Go(func() error {
		return ipc.Serve(gctx, listener, control)
	})
	if hub != nil {
		srv := &http.Server{Handler: events.Handler(hub, reg), ReadHeaderTimeout: 5 * time.Second}
		logger.Info("serving events", "addr", httpListener.Addr().String())
		g.Go(func() error {
			if err := srv.Serve(httpListener); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve events: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var (
		result capture.Result
		runErr error
	)
	g.Go(func() error {
		defer stopServing()
		result, runErr = recorder.Run(gctx)
		return nil
	})
	serveErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		logger.Warn("recorder did not exit cleanly", "error", err.Error())
	}
	meter.Hide()

	logRecordingResult(logger, result, runErr)
	if result.Path != "" {
		m.RecordSaved(result.DurationMS)
		fmt.Fprintln(inv.runner.Stdout, result.Path)
		fmt.Fprintf(inv.runner.Stderr, "saved %s\n", result.Summary())
	}
	if runErr != nil {
		return runErr
	}
	if serveErr != nil {
		return serveErr
	}
	if result.Cancelled {
		fmt.Fprintln(inv.runner.Stdout, "cancelled")
	}
	return nil
}

func logRecordingResult(logger *slog.Logger, result capture.Result, err error) {
	if logger == nil {
		return
	}
	fields := []any{
		"recording_id", result.ID,
		"device", result.Device,
		"cancelled", result.Cancelled,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.DurationMS,
		"sample_rate", result.SampleRate,
		"bytes_captured", result.Bytes,
		"path", result.Path,
	}

	if err != nil {
		logger.Error("recording failed", append(fields, "error", err.Error())...)
		return
	}
	logger.Info("recording complete", fields...)
}
