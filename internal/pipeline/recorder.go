// Package pipeline runs one recording: it drives the recorder session, collects
// its audio, and answers stop/cancel/status requests until the take is saved.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/murmur/internal/capture"
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/session"
)

type action int

const (
	actionStop action = iota + 1
	actionCancel
)

// State is the recording lifecycle as seen by control clients.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
)

var (
	// ErrRecorderUnavailable indicates the worker could not be started.
	ErrRecorderUnavailable = errors.New("audio recorder unavailable")
	// ErrWorkerExited indicates the worker exited while recording.
	ErrWorkerExited = errors.New("audio recorder exited during recording")
	// ErrAlreadyRecording indicates Run was called on a busy recorder.
	ErrAlreadyRecording = errors.New("recording already in progress")
)

// Session is the recorder-session surface a recording needs.
type Session interface {
	Initialize(context.Context)
	State() fsm.State
	PID() int
	StartRecording(deviceName string) error
	StopRecording() error
	Subscribe(func(session.Event)) func()
}

// Options tunes one recording.
type Options struct {
	Device string
	// OutputDir receives the WAV file unless OutputPath is set.
	OutputDir  string
	OutputPath string
	// MaxDuration stops the recording automatically; zero means no limit.
	MaxDuration time.Duration
	// Quiet is how long the stream must be silent after stop before the take is final.
	Quiet time.Duration
	// DrainTimeout bounds the wait for trailing audio after stop.
	DrainTimeout time.Duration
}

const (
	defaultQuiet        = 150 * time.Millisecond
	defaultDrainTimeout = time.Second
)

// Recorder orchestrates one recording at a time.
type Recorder struct {
	logger    *slog.Logger
	session   Session
	collector *capture.Collector
	opts      Options

	mu          sync.RWMutex
	state       State
	recordingID string

	actions  chan action
	failures chan error
}

// NewRecorder wires a recorder over sess. A nil collector gets a default one.
func NewRecorder(logger *slog.Logger, sess Session, collector *capture.Collector, opts Options) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if collector == nil {
		collector = capture.NewCollector(logger, 0)
	}
	if opts.Quiet <= 0 {
		opts.Quiet = defaultQuiet
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.Device == "" {
		opts.Device = "default"
	}

	return &Recorder{
		logger:    logger,
		session:   sess,
		collector: collector,
		opts:      opts,
		state:     StateIdle,
		actions:   make(chan action, 1),
		failures:  make(chan error, 1),
	}
}

// State returns the current recording state snapshot.
func (r *Recorder) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Collector exposes the audio collector backing this recorder.
func (r *Recorder) Collector() *capture.Collector {
	return r.collector
}

func (r *Recorder) setState(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

// Run records until a stop or cancel request, MaxDuration, ctx cancellation, or
// a worker exit. Interrupting ctx finalizes the take like a stop request.
func (r *Recorder) Run(ctx context.Context) (capture.Result, error) {
	result := capture.Result{
		ID:        capture.NewID(),
		Device:    r.opts.Device,
		StartedAt: time.Now(),
	}

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return result, ErrAlreadyRecording
	}
	r.drainSignals()
	r.state = StateRecording
	r.recordingID = result.ID
	r.mu.Unlock()
	defer r.setState(StateIdle)

	var (
		spawnErrMu sync.Mutex
		spawnErr   error
	)
	unsubscribe := r.session.Subscribe(func(event session.Event) {
		r.collector.HandleEvent(event)
		switch ev := event.(type) {
		case session.Error:
			spawnErrMu.Lock()
			spawnErr = ev.Err
			spawnErrMu.Unlock()
			r.logger.Warn("recorder reported error", "recording_id", result.ID, "error", ev.Err.Error())
		case session.Stopped:
			select {
			case r.failures <- fmt.Errorf("%w (exit code %d)", ErrWorkerExited, ev.ExitCode):
			default:
			}
		}
	})
	defer unsubscribe()

	r.collector.Begin()
	r.session.Initialize(ctx)
	if r.session.State() != fsm.StateRunning {
		r.collector.End()
		spawnErrMu.Lock()
		cause := spawnErr
		spawnErrMu.Unlock()
		result.FinishedAt = time.Now()
		if cause != nil {
			return result, fmt.Errorf("%w: %w", ErrRecorderUnavailable, cause)
		}
		return result, ErrRecorderUnavailable
	}

	if err := r.session.StartRecording(r.opts.Device); err != nil {
		r.collector.End()
		result.FinishedAt = time.Now()
		return result, fmt.Errorf("start recording: %w", err)
	}
	r.logger.Info("recording started", "recording_id", result.ID, "device", r.opts.Device, "worker_pid", r.session.PID())

	var timeout <-chan time.Time
	if r.opts.MaxDuration > 0 {
		timer := time.NewTimer(r.opts.MaxDuration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		r.logger.Info("recording interrupted", "recording_id", result.ID)
		return r.finish(result, nil)
	case <-timeout:
		r.logger.Info("recording reached max duration", "recording_id", result.ID, "max_duration", r.opts.MaxDuration.String())
		return r.finish(result, nil)
	case err := <-r.failures:
		r.collector.End()
		r.logger.Error("recording aborted", "recording_id", result.ID, "error", err.Error())
		return r.save(result, err)
	case a := <-r.actions:
		switch a {
		case actionCancel:
			_ = r.session.StopRecording()
			r.collector.End()
			r.collector.Clear()
			result.Cancelled = true
			result.FinishedAt = time.Now()
			r.logger.Info("recording cancelled", "recording_id", result.ID)
			return result, nil
		case actionStop:
			return r.finish(result, nil)
		default:
			r.collector.End()
			result.FinishedAt = time.Now()
			return result, fmt.Errorf("unknown action %d", a)
		}
	}
}

// finish stops capture, waits for trailing audio, and saves the take.
func (r *Recorder) finish(result capture.Result, cause error) (capture.Result, error) {
	r.setState(StateStopping)

	stoppedAt := time.Now()
	if err := r.session.StopRecording(); err != nil {
		r.logger.Warn("stop command failed", "recording_id", result.ID, "error", err.Error())
	} else {
		r.drain(stoppedAt)
	}
	r.collector.End()
	return r.save(result, cause)
}

// save writes the collected audio and fills in the result.
func (r *Recorder) save(result capture.Result, cause error) (capture.Result, error) {
	result.SampleRate = r.collector.SampleRate()
	result.Channels = r.collector.Channels()
	result.Bytes = r.collector.BytesCaptured()
	result.DurationMS = r.collector.DurationMS()
	result.FinishedAt = time.Now()

	if result.Bytes == 0 {
		if cause != nil {
			return result, cause
		}
		return result, errors.New("no audio captured; check the input device")
	}

	path := r.opts.OutputPath
	if path == "" {
		path = capture.DefaultPath(r.opts.OutputDir, result.ID, result.StartedAt)
	}
	if err := r.collector.WriteWAV(path); err != nil {
		return result, errors.Join(cause, fmt.Errorf("save recording: %w", err))
	}
	result.Path = path

	r.logger.Info(
		"recording saved",
		"recording_id", result.ID,
		"path", path,
		"bytes", result.Bytes,
		"duration_ms", result.DurationMS,
		"sample_rate", result.SampleRate,
	)
	return result, cause
}

// drain waits until no chunk has arrived for Quiet since stoppedAt, bounded by DrainTimeout.
func (r *Recorder) drain(stoppedAt time.Time) {
	deadline := stoppedAt.Add(r.opts.DrainTimeout)
	tick := max(r.opts.Quiet/3, time.Millisecond)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		ref := r.collector.LastChunk()
		if ref.Before(stoppedAt) {
			ref = stoppedAt
		}
		if time.Since(ref) >= r.opts.Quiet {
			return
		}
		if time.Now().After(deadline) {
			r.logger.Warn("drain timed out", "timeout", r.opts.DrainTimeout.String())
			return
		}
		<-ticker.C
	}
}

// drainSignals clears actions and failures left over from a previous run.
func (r *Recorder) drainSignals() {
	for {
		select {
		case <-r.actions:
		case <-r.failures:
		default:
			return
		}
	}
}

// Stop requests the active recording to finish and save.
func (r *Recorder) Stop() ipc.Response {
	return r.request(actionStop, "stop")
}

// Cancel requests the active recording to finish without saving.
func (r *Recorder) Cancel() ipc.Response {
	return r.request(actionCancel, "cancel")
}

// Handle serves IPC commands for the active owner process.
func (r *Recorder) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return r.status()
	case ipc.CommandStop:
		return r.Stop()
	case ipc.CommandCancel:
		return r.Cancel()
	default:
		return ipc.Response{OK: false, State: string(r.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (r *Recorder) status() ipc.Response {
	r.mu.RLock()
	state := r.state
	id := r.recordingID
	r.mu.RUnlock()

	resp := ipc.Response{OK: true, State: string(state), Message: "status"}
	if state == StateIdle {
		return resp
	}
	resp.RecordingID = id
	resp.Device = r.opts.Device
	resp.WorkerPID = r.session.PID()
	resp.Bytes = r.collector.BytesCaptured()
	resp.DurationMS = r.collector.DurationMS()
	return resp
}

// request enqueues an action when state permits it.
func (r *Recorder) request(a action, verb string) ipc.Response {
	state := r.State()
	if state == StateStopping {
		return ipc.Response{OK: false, State: string(state), Error: "already stopping"}
	}
	if state != StateRecording {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot %s from state %s", verb, state)}
	}

	select {
	case r.actions <- a:
		return ipc.Response{OK: true, State: string(state), Message: verb + " requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: verb + " already requested"}
	}
}
