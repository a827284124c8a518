// Package doctor runs runtime readiness diagnostics for config, the recorder worker, and audio.
package doctor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/session"
	"github.com/shirou/gopsutil/v3/process"
)

const defaultDeviceTimeout = 5 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Deps are the environment probes doctor uses. Zero fields use live implementations.
type Deps struct {
	Logger     *slog.Logger
	Spawner    session.Spawner
	SocketPath string
	Processes  func(ctx context.Context, name string) ([]int32, error)
	OwnerAlive func(ctx context.Context, path string) (bool, error)
}

func (d Deps) withDefaults(cfg config.Config) Deps {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Spawner == nil {
		d.Spawner = session.ExecSpawner{Path: cfg.Recorder.Path, Args: cfg.Recorder.Args}
	}
	if d.Processes == nil {
		d.Processes = findProcesses
	}
	if d.OwnerAlive == nil {
		d.OwnerAlive = func(ctx context.Context, path string) (bool, error) {
			return ipc.Probe(ctx, path, 300*time.Millisecond)
		}
	}
	return d
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded, deps Deps) Report {
	cfg := loaded.Config
	deps = deps.withDefaults(cfg)

	checks := []Check{checkConfig(loaded)}
	checks = append(checks, checkBinary(cfg.Recorder.Path, "recorder.path"))
	checks = append(checks, checkStaleWorkers(ctx, cfg, deps))
	checks = append(checks, checkDevices(ctx, cfg, deps))
	checks = append(checks, checkOutputDir(cfg.Recording.OutputDir))

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("using defaults (%q not found)", loaded.Path)
	}
	if n := len(loaded.Warnings); n > 0 && loaded.Exists {
		message += fmt.Sprintf(" with %d warning(s)", n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkBinary validates that a binary exists in PATH (or at an explicit path).
func checkBinary(bin string, name string) Check {
	if strings.TrimSpace(bin) == "" {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("found at %s", path)}
}

// checkStaleWorkers flags recorder processes left running with no owning murmur recording.
func checkStaleWorkers(ctx context.Context, cfg config.Config, deps Deps) Check {
	name := filepath.Base(cfg.Recorder.Path)
	pids, err := deps.Processes(ctx, name)
	if err != nil {
		return Check{Name: "workers", Pass: false, Message: fmt.Sprintf("process scan failed: %v", err)}
	}
	if len(pids) == 0 {
		return Check{Name: "workers", Pass: true, Message: "no recorder processes running"}
	}

	if deps.SocketPath != "" {
		alive, err := deps.OwnerAlive(ctx, deps.SocketPath)
		if err == nil && alive {
			return Check{Name: "workers", Pass: true, Message: fmt.Sprintf("%d recorder process(es) owned by an active recording", len(pids))}
		}
	}

	return Check{
		Name:    "workers",
		Pass:    false,
		Message: fmt.Sprintf("stale %s process(es) without an active recording: %s", name, formatPIDs(pids)),
	}
}

// checkDevices spawns the worker and asks it for the device list.
func checkDevices(ctx context.Context, cfg config.Config, deps Deps) Check {
	timeout := cfg.Recorder.DeviceListTimeout()
	if timeout <= 0 {
		timeout = defaultDeviceTimeout
	}

	devices, err := session.Enumerate(ctx, deps.Logger, deps.Spawner, timeout)
	if err != nil {
		return Check{Name: "audio.devices", Pass: false, Message: err.Error()}
	}
	if len(devices) == 0 {
		return Check{Name: "audio.devices", Pass: false, Message: "no audio input devices found"}
	}

	message := fmt.Sprintf("%d device(s): %s", len(devices), strings.Join(devices, ", "))
	return Check{Name: "audio.devices", Pass: true, Message: message}
}

// checkOutputDir verifies recordings can be written.
func checkOutputDir(dir string) Check {
	if strings.TrimSpace(dir) == "" {
		return Check{Name: "recording.output_dir", Pass: false, Message: "output directory is empty"}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Check{Name: "recording.output_dir", Pass: false, Message: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".murmur-doctor-*")
	if err != nil {
		return Check{Name: "recording.output_dir", Pass: false, Message: fmt.Sprintf("not writable: %v", err)}
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return Check{Name: "recording.output_dir", Pass: true, Message: fmt.Sprintf("writable at %s", dir)}
}

func findProcesses(ctx context.Context, name string) ([]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	self := int32(os.Getpid())
	var pids []int32
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		procName, err := p.NameWithContext(ctx)
		if err != nil || procName == "" {
			continue
		}
		if procName == name {
			pids = append(pids, p.Pid)
		}
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids, nil
}

func formatPIDs(pids []int32) string {
	parts := make([]string, 0, len(pids))
	for _, pid := range pids {
		parts = append(parts, fmt.Sprint(pid))
	}
	return strings.Join(parts, ", ")
}
