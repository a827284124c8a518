// Package app builds the murmur command tree and maps its outcome to a process exit code.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/doctor"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/logging"
	"github.com/rbright/murmur/internal/session"
	"github.com/rbright/murmur/internal/version"
	"github.com/spf13/cobra"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// skipSetup marks commands that run without loading config or opening the log.
const skipSetup = "murmur.skip-setup"

// Runner executes one CLI invocation against injected streams.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Spawner replaces the recorder worker described by config.
	Spawner session.Spawner
}

// Execute runs args with a default Runner.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// exitError ends the invocation with code after the command already reported why.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// invocation is the per-run state shared by subcommands after setup.
type invocation struct {
	runner     Runner
	configPath string
	loaded     config.Loaded
	logger     *slog.Logger
	logRuntime logging.Runtime
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	inv := &invocation{runner: r}
	defer func() { _ = inv.logRuntime.Close() }()

	root := inv.rootCommand()
	root.SetArgs(args)
	root.SetOut(r.Stdout)
	root.SetErr(r.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}

	var usage usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, root.UsageString())
		return exitUsage
	}

	if inv.logger != nil {
		inv.logger.Error("command failed", "error", err.Error())
	}
	fmt.Fprintf(r.Stderr, "error: %v\n", err)
	return exitFailure
}

func (inv *invocation) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "murmur",
		Short:         "Record microphone audio through a supervised capture worker",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipSetup] != "" {
				return nil
			}
			return inv.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&inv.configPath, "config", "", "config file path")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	root.AddCommand(
		inv.devicesCommand(),
		inv.recordCommand(),
		inv.forwardCommand(ipc.CommandStop, "Stop the active recording and save it"),
		inv.forwardCommand(ipc.CommandCancel, "Cancel the active recording without saving"),
		inv.statusCommand(),
		inv.doctorCommand(),
		inv.configCommand(),
		inv.versionCommand(),
	)
	return root
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{err: err}
	}
	return nil
}

// setup loads config, then opens the log at the configured level.
func (inv *invocation) setup(cmd *cobra.Command) error {
	loaded, err := config.Load(inv.configPath)
	if err != nil {
		return err
	}
	inv.loaded = loaded

	inv.logger = inv.runner.Logger
	if inv.logger == nil {
		runtime, err := logging.New(loaded.Config.Log.Level)
		if err != nil {
			return fmt.Errorf("setup logging: %w", err)
		}
		inv.logRuntime = runtime
		inv.logger = runtime.Logger
	}

	for _, w := range loaded.Warnings {
		fmt.Fprintf(inv.runner.Stderr, "warning: %s\n", w.Message)
		inv.logger.Warn("config warning", "message", w.Message)
	}

	inv.logger.Info("command start",
		"command", cmd.Name(),
		"config", loaded.Path,
		"log", inv.logRuntime.Path,
	)
	return nil
}

// spawner returns the worker launcher for this invocation.
func (inv *invocation) spawner() session.Spawner {
	if inv.runner.Spawner != nil {
		return inv.runner.Spawner
	}

	cfg := inv.loaded.Config
	args := make([]string, 0, len(cfg.Recorder.Args)+6)
	args = append(args, cfg.Recorder.Args...)
	args = append(args,
		"--sample-rate", strconv.Itoa(cfg.Audio.SampleRate),
		"--chunk-ms", strconv.Itoa(cfg.Audio.ChunkMS),
		"--log-level", cfg.Log.Level,
	)
	return session.ExecSpawner{Path: cfg.Recorder.Path, Args: args}
}

func (inv *invocation) devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices reported by the recorder",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := inv.loaded.Config
			devices, err := session.Enumerate(cmd.Context(), inv.logger, inv.spawner(), cfg.Recorder.DeviceListTimeout())
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			if len(devices) == 0 {
				return errors.New("no audio input devices found")
			}
			for _, device := range devices {
				fmt.Fprintln(inv.runner.Stdout, device)
			}
			return nil
		},
	}
}

func (inv *invocation) forwardCommand(command string, short string) *cobra.Command {
	return &cobra.Command{
		Use:   command,
		Short: short,
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			socketPath, err := ipc.RuntimeSocketPath()
			if err != nil {
				return err
			}

			resp, handled, err := tryForward(cmd.Context(), socketPath, command)
			if !handled {
				return errors.New("no active murmur recording")
			}
			if err != nil {
				return err
			}
			if resp.Message != "" {
				fmt.Fprintln(inv.runner.Stdout, resp.Message)
			}
			return nil
		},
	}
}

func (inv *invocation) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active recording state",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			socketPath, err := ipc.RuntimeSocketPath()
			if err != nil {
				fmt.Fprintln(inv.runner.Stdout, "idle")
				return nil
			}

			resp, handled, err := tryForward(cmd.Context(), socketPath, ipc.CommandStatus)
			if !handled {
				fmt.Fprintln(inv.runner.Stdout, "idle")
				return nil
			}
			if err != nil {
				return err
			}
			printStatus(inv.runner.Stdout, resp)
			return nil
		},
	}
}

func printStatus(w io.Writer, resp ipc.Response) {
	if resp.State == "" {
		resp.State = "idle"
	}
	fmt.Fprintln(w, resp.State)
	if resp.RecordingID == "" {
		return
	}
	fmt.Fprintf(w, "recording_id: %s\n", resp.RecordingID)
	fmt.Fprintf(w, "device: %s\n", resp.Device)
	fmt.Fprintf(w, "worker_pid: %d\n", resp.WorkerPID)
	fmt.Fprintf(w, "bytes: %d\n", resp.Bytes)
	fmt.Fprintf(w, "duration: %s\n", (time.Duration(resp.DurationMS) * time.Millisecond).String())
}

func (inv *invocation) doctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, the recorder binary, and audio devices",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			socketPath, _ := ipc.RuntimeSocketPath()
			report := doctor.Run(cmd.Context(), inv.loaded, doctor.Deps{
				Logger:     inv.logger,
				Spawner:    inv.spawner(),
				SocketPath: socketPath,
			})
			fmt.Fprintln(inv.runner.Stdout, report.String())
			if !report.OK() {
				inv.logger.Warn("doctor found problems")
				return exitError{code: exitFailure}
			}
			return nil
		},
	}
}

func (inv *invocation) configCommand() *cobra.Command {
	var force bool

	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the default config file",
		Args:        noArgs,
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := config.ResolvePath(inv.configPath)
			if err != nil {
				return err
			}
			if err := config.Write(path, config.Default(), force); err != nil {
				if errors.Is(err, config.ErrConfigExists) {
					return fmt.Errorf("%w; pass --force to overwrite", err)
				}
				return err
			}
			fmt.Fprintf(inv.runner.Stdout, "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	configCmd := &cobra.Command{
		Use:         "config",
		Short:       "Manage the config file",
		Annotations: map[string]string{skipSetup: "true"},
	}
	configCmd.AddCommand(initCmd)
	return configCmd
}

func (inv *invocation) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the murmur version",
		Args:        noArgs,
		Annotations: map[string]string{skipSetup: "true"},
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintln(inv.runner.Stdout, version.String())
		},
	}
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, 220*time.Millisecond)
	if err == nil {
		return resp, true, resp.Err()
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
