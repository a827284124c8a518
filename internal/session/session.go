// Package session supervises the recorder worker process: it spawns the worker,
// reassembles frames from its output, and publishes audio, volume, and lifecycle
// notifications to subscribers.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/meter"
	"github.com/rbright/murmur/internal/wire"
)

var (
	// ErrNotRunning indicates an operation that needs a live worker was called without one.
	ErrNotRunning = errors.New("audio recorder process not running")
	// ErrDecodeResponse indicates a JSON frame from the worker could not be parsed.
	ErrDecodeResponse = errors.New("failed to parse JSON response")
	// ErrDeviceListInFlight indicates a device list was requested while another is outstanding.
	ErrDeviceListInFlight = errors.New("device list request already in flight")
)

const readChunkSize = 32 * 1024

type listener struct {
	id uint64
	fn func(Event)
}

// Session owns one recorder worker at a time.
type Session struct {
	logger   *slog.Logger
	spawner  Spawner
	observer Observer

	mu         sync.Mutex
	state      fsm.State
	proc       Process
	generation uint64
	sessionID  string
	exited     chan struct{}
	buf        wire.Accumulator
	pending    *DeviceListRequest
	// desynced is set once the current worker's output can no longer be framed.
	desynced bool

	// writeMu serializes command lines on the worker's stdin.
	writeMu sync.Mutex

	listenersMu  sync.RWMutex
	listeners    []listener
	nextListener uint64
}

// New constructs an uninitialized session with safe default fallbacks.
func New(logger *slog.Logger, spawner Spawner, observer Observer) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if spawner == nil {
		spawner = SpawnFunc(func(context.Context) (Process, error) {
			return nil, errors.New("no recorder spawner configured")
		})
	}
	if observer == nil {
		observer = noopObserver{}
	}

	return &Session{
		logger:   logger,
		spawner:  spawner,
		observer: observer,
		state:    fsm.StateUninitialized,
	}
}

// State returns the current lifecycle state snapshot.
func (s *Session) State() fsm.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether a worker is live.
func (s *Session) Running() bool {
	return s.State() == fsm.StateRunning
}

// PID returns the live worker pid, or 0.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid()
}

// ID returns the identifier of the current (or last) worker run.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// BufferedBytes reports how many received bytes await a complete frame.
func (s *Session) BufferedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// Subscribe registers fn for every notification. Callbacks run on the worker's
// reader goroutine in frame order and must not block for long.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.listenersMu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Initialize spawns the worker unless one is already running. Spawn failures are
// reported as an Error notification and leave the state unchanged.
func (s *Session) Initialize(ctx context.Context) {
	s.mu.Lock()
	if s.state == fsm.StateRunning {
		s.mu.Unlock()
		return
	}

	proc, err := s.spawner.Spawn(ctx)
	if err != nil {
		state := s.state
		s.mu.Unlock()

		s.observer.SpawnFailed()
		s.logger.Error("recorder spawn failed", "state", string(state), "error", err.Error())
		s.emit(Error{Err: fmt.Errorf("spawn recorder: %w", err)})
		return
	}

	next, err := fsm.Transition(s.state, fsm.EventSpawn)
	if err != nil {
		s.mu.Unlock()
		_ = proc.Kill()
		s.logger.Error("recorder spawn rejected", "error", err.Error())
		s.emit(Error{Err: err})
		return
	}

	s.state = next
	s.generation++
	gen := s.generation
	s.proc = proc
	s.sessionID = uuid.NewString()
	s.exited = make(chan struct{})
	s.buf.Reset()
	s.desynced = false
	started := Started{PID: proc.Pid(), SessionID: s.sessionID}
	exited := s.exited
	s.mu.Unlock()

	s.observer.Spawned()
	s.logger.Info("recorder started", "pid", started.PID, "session_id", started.SessionID)
	s.emit(started)

	go s.supervise(gen, proc, exited)
}

// StartRecording asks the worker to capture from deviceName.
func (s *Session) StartRecording(deviceName string) error {
	return s.send(wire.StartCommand(deviceName))
}

// StopRecording asks the worker to stop capturing.
func (s *Session) StopRecording() error {
	return s.send(wire.StopCommand())
}

// DeviceList asks the worker for its capture devices. The returned request is
// rejected immediately when no worker is running or another request is outstanding.
func (s *Session) DeviceList() *DeviceListRequest {
	s.mu.Lock()
	if s.state != fsm.StateRunning || s.proc == nil {
		s.mu.Unlock()
		return rejectedDeviceListRequest(ErrNotRunning)
	}
	if s.pending != nil {
		s.mu.Unlock()
		return rejectedDeviceListRequest(ErrDeviceListInFlight)
	}

	req := newDeviceListRequest()
	s.pending = req
	proc := s.proc
	s.mu.Unlock()

	if err := s.write(proc, wire.ListDevicesCommand()); err != nil {
		s.abandon(req, fmt.Errorf("send list-devices: %w", err))
	}
	return req
}

// ListDevices is DeviceList bounded by ctx. An expired ctx frees the pending slot.
func (s *Session) ListDevices(ctx context.Context) ([]string, error) {
	req := s.DeviceList()
	devices, err := req.Wait(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		s.abandon(req, err)
	}
	return devices, err
}

// Terminate kills the worker, rejects any pending device list, and drops
// buffered bytes. The killed worker's exit produces no Stopped notification.
func (s *Session) Terminate() {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.buf.Reset()
	s.rejectPendingLocked(ErrNotRunning)
	prev := s.state
	if next, err := fsm.Transition(s.state, fsm.EventTerminate); err == nil {
		s.state = next
	}
	s.mu.Unlock()

	if proc == nil {
		return
	}
	if err := proc.Kill(); err != nil {
		s.logger.Warn("recorder kill failed", "pid", proc.Pid(), "error", err.Error())
		return
	}
	s.logger.Info("recorder terminated", "pid", proc.Pid(), "previous_state", string(prev))
}

// Close asks the worker to exit by closing its stdin and waits for the exit.
// If ctx ends first the worker is terminated.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	proc := s.proc
	exited := s.exited
	s.mu.Unlock()

	if proc == nil {
		return nil
	}

	s.writeMu.Lock()
	closeErr := proc.Stdin().Close()
	s.writeMu.Unlock()
	if closeErr != nil {
		s.logger.Debug("close recorder stdin", "error", closeErr.Error())
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		s.Terminate()
		return ctx.Err()
	}
}

// send writes cmd to the live worker. It is inert without one.
func (s *Session) send(cmd wire.Command) error {
	s.mu.Lock()
	proc := s.proc
	running := s.state == fsm.StateRunning
	s.mu.Unlock()

	if !running || proc == nil {
		s.logger.Debug("recorder command dropped", "command", string(cmd.Command))
		return ErrNotRunning
	}
	return s.write(proc, cmd)
}

func (s *Session) write(proc Process, cmd wire.Command) error {
	line, err := wire.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := proc.Stdin().Write(line); err != nil {
		return fmt.Errorf("write %s command: %w", cmd.Command, err)
	}
	return nil
}

// abandon clears req from the pending slot if it still occupies it.
func (s *Session) abandon(req *DeviceListRequest, err error) {
	s.mu.Lock()
	if s.pending == req {
		s.pending = nil
	}
	s.mu.Unlock()
	req.reject(err)
}

// supervise drains one worker's output and reports its exit.
func (s *Session) supervise(gen uint64, proc Process, exited chan struct{}) {
	defer close(exited)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logStderr(proc.Pid(), proc.Stderr())
	}()

	readErr := s.readLoop(gen, proc.Stdout())
	wg.Wait()
	code, waitErr := proc.Wait()

	if readErr != nil {
		s.reportWorkerError(gen, fmt.Errorf("read recorder output: %w", readErr))
	}
	if waitErr != nil {
		s.reportWorkerError(gen, fmt.Errorf("wait for recorder: %w", waitErr))
	}
	s.handleExit(gen, proc.Pid(), code)
}

func (s *Session) readLoop(gen uint64, r io.Reader) error {
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s.deliver(gen, chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// deliver feeds one read from the worker through frame extraction and publishes
// the resulting notifications in frame order.
func (s *Session) deliver(gen uint64, chunk []byte) {
	s.mu.Lock()
	if gen != s.generation || s.state != fsm.StateRunning || s.desynced {
		s.mu.Unlock()
		return
	}

	_, _ = s.buf.Write(chunk)
	frames := s.buf.Drain()

	var events []Event
	for _, frame := range frames {
		events = s.dispatchLocked(frame, events)
	}

	var proc Process
	frameErr := s.buf.Err()
	if frameErr != nil {
		s.desynced = true
		s.buf.Reset()
		proc = s.proc
	}
	s.mu.Unlock()

	s.observer.BytesReceived(len(chunk))
	for _, frame := range frames {
		s.observer.FrameDispatched(frame.Type)
	}
	for _, event := range events {
		s.emit(event)
	}

	if frameErr != nil {
		s.observer.DecodeFailed()
		s.logger.Error("recorder output unframeable", "error", frameErr.Error())
		s.emit(Error{Err: fmt.Errorf("read recorder output: %w", frameErr)})
		if proc != nil {
			if err := proc.Kill(); err != nil {
				s.logger.Warn("recorder kill failed", "pid", proc.Pid(), "error", err.Error())
			}
		}
	}
}

func (s *Session) dispatchLocked(frame wire.Frame, events []Event) []Event {
	switch frame.Type {
	case wire.MessageJSON:
		msg, err := wire.DecodeMessage(frame.Payload)
		if err != nil {
			s.observer.DecodeFailed()
			s.logger.Warn("recorder message decode failed", "bytes", len(frame.Payload), "error", err.Error())
			s.rejectPendingLocked(fmt.Errorf("%w: %v", ErrDecodeResponse, err))
			return events
		}

		switch msg.Type {
		case wire.KindDeviceList:
			if s.pending != nil {
				s.pending.resolve(msg.DeviceNames())
				s.pending = nil
			}
		case wire.KindAudioConfig:
			events = append(events, AudioConfig{
				SampleRate: msg.EffectiveSampleRate(),
				Channels:   msg.EffectiveChannels(),
			})
		case wire.KindError:
			events = append(events, Error{Err: &WorkerError{Message: msg.Message}})
		default:
			s.logger.Debug("recorder message ignored", "type", string(msg.Type))
		}
	case wire.MessageAudio:
		volume := meter.Peak(frame.Payload)
		s.observer.VolumeObserved(volume)
		events = append(events, AudioChunk{Payload: frame.Payload}, VolumeUpdate{Volume: volume})
	default:
		s.logger.Debug("recorder frame skipped", "frame_type", frame.Type.String(), "bytes", len(frame.Payload))
	}
	return events
}

func (s *Session) rejectPendingLocked(err error) {
	if s.pending == nil {
		return
	}
	s.pending.reject(err)
	s.pending = nil
}

func (s *Session) reportWorkerError(gen uint64, err error) {
	s.mu.Lock()
	current := gen == s.generation && s.state == fsm.StateRunning
	s.mu.Unlock()
	if !current {
		return
	}

	s.logger.Error("recorder error", "error", err.Error())
	s.emit(Error{Err: err})
}

func (s *Session) handleExit(gen uint64, pid int, code int) {
	s.mu.Lock()
	if gen != s.generation || s.state != fsm.StateRunning {
		s.mu.Unlock()
		s.logger.Debug("recorder exit ignored", "pid", pid, "exit_code", code)
		return
	}

	next, err := fsm.Transition(s.state, fsm.EventExit)
	if err == nil {
		s.state = next
	}
	s.proc = nil
	s.buf.Reset()
	s.rejectPendingLocked(ErrNotRunning)
	s.mu.Unlock()

	s.observer.Exited(code)
	s.logger.Info("recorder exited", "pid", pid, "exit_code", code)
	s.emit(Stopped{ExitCode: code})
}

func (s *Session) logStderr(pid int, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		s.logger.Info("recorder output", "stream", "stderr", "pid", pid, "line", line)
	}
	// A line longer than the scanner buffer stops Scan; keep the pipe drained.
	_, _ = io.Copy(io.Discard, r)
}

func (s *Session) emit(event Event) {
	s.listenersMu.RLock()
	snapshot := make([]listener, len(s.listeners))
	copy(snapshot, s.listeners)
	s.listenersMu.RUnlock()

	for _, l := range snapshot {
		l.fn(event)
	}
}
