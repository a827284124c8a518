package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	pid int

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	commands chan string
	kills    atomic.Int32

	exitOnce sync.Once
	exitCh   chan struct{}
	exitCode int
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{
		pid:      pid,
		commands: make(chan string, 64),
		exitCh:   make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()

	go func() {
		scanner := bufio.NewScanner(p.stdinR)
		for scanner.Scan() {
			p.commands <- scanner.Text()
		}
		close(p.commands)
	}()
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return p.stderrR }
func (p *fakeProcess) Pid() int              { return p.pid }

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	p.exit(-1)
	return nil
}

func (p *fakeProcess) Wait() (int, error) {
	<-p.exitCh
	return p.exitCode, nil
}

// exit simulates the worker terminating with code.
func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.exitCode = code
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		_ = p.stdinR.Close()
		close(p.exitCh)
	})
}

func (p *fakeProcess) writeFrame(t *testing.T, typ wire.MessageType, payload []byte) {
	t.Helper()
	_, err := p.stdoutW.Write(wire.AppendFrame(nil, typ, payload))
	require.NoError(t, err)
}

func (p *fakeProcess) nextCommand(t *testing.T) string {
	t.Helper()
	select {
	case line := <-p.commands:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker command")
		return ""
	}
}

type fakeSpawner struct {
	mu     sync.Mutex
	procs  []*fakeProcess
	err    error
	spawns atomic.Int32
}

func (f *fakeSpawner) Spawn(context.Context) (Process, error) {
	f.spawns.Add(1)
	if f.err != nil {
		return nil, f.err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	proc := newFakeProcess(1000 + len(f.procs))
	f.procs = append(f.procs, proc)
	return proc, nil
}

func (f *fakeSpawner) last() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.procs) == 0 {
		return nil
	}
	return f.procs[len(f.procs)-1]
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count(kind Kind) int {
	n := 0
	for _, event := range r.snapshot() {
		if event.Kind() == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) ofKind(kind Kind) []Event {
	var out []Event
	for _, event := range r.snapshot() {
		if event.Kind() == kind {
			out = append(out, event)
		}
	}
	return out
}

func newTestSession(t *testing.T) (*Session, *fakeSpawner, *eventRecorder) {
	t.Helper()

	spawner := &fakeSpawner{}
	s := New(nil, spawner, nil)
	rec := &eventRecorder{}
	s.Subscribe(rec.handle)
	t.Cleanup(s.Terminate)
	return s, spawner, rec
}

// newRunningSession returns a session with a live fake worker.
func newRunningSession(t *testing.T) (*Session, *fakeProcess, *eventRecorder) {
	t.Helper()

	s, spawner, rec := newTestSession(t)
	s.Initialize(context.Background())
	require.Equal(t, fsm.StateRunning, s.State())
	return s, spawner.last(), rec
}

func (s *Session) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	require.Eventually(t, condition, 2*time.Second, 5*time.Millisecond)
}

var errSpawn = errors.New("exec: \"murmur-recorder\": executable file not found in $PATH")
