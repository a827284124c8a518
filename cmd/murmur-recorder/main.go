// Package main provides the audio capture worker spawned by murmur.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/logging"
	"github.com/rbright/murmur/internal/version"
	"github.com/rbright/murmur/internal/worker"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// execute runs the worker. Only frames are written to stdout; logs go to stderr.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var (
		sampleRate int
		chunkMS    int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "murmur-recorder",
		Short:         "Capture microphone audio as framed PCM on stdout",
		Version:       version.Named("murmur-recorder"),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(logLevel)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
			backend := worker.PulseBackend{
				Format: audio.Format{SampleRate: sampleRate, ChunkMS: chunkMS},
				Logger: logger,
			}
			return worker.New(backend, stdout, logger).Run(cmd.Context(), stdin)
		},
	}
	cmd.SetArgs(args)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)
	cmd.Flags().IntVar(&sampleRate, "sample-rate", audio.DefaultSampleRate, "capture sample rate in Hz")
	cmd.Flags().IntVar(&chunkMS, "chunk-ms", audio.DefaultChunkMS, "audio frame duration in milliseconds")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "stderr log level (debug|info|warn|error)")

	if err := cmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func parseLevel(raw string) (slog.Level, error) {
	level, err := logging.ParseLevel(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --log-level %q", raw)
	}
	return level, nil
}
