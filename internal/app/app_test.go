package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbright/murmur/internal/capture"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/session"
	"github.com/rbright/murmur/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Contains(t, stdout.String(), "record")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "murmur")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteUnknownFlagIsUsageError(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"record", "--loud"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown flag")
}

func TestExecuteExtraArgumentIsUsageError(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version", "extra"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
}

func TestRunnerInvalidConfigFails(t *testing.T) {
	paths := setupRunnerEnv(t, "audio:\n  sample_rate: 12\n")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "invalid config")
}

func TestRunnerPrintsConfigWarnings(t *testing.T) {
	paths := setupRunnerEnv(t, "bogus: 1\n")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stderr.String(), `warning: unknown config key "bogus" ignored`)
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoActiveRecording(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active murmur recording")
}

func TestRunnerForwardsCommandsToActiveRecording(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	commands := make(chan string, 8)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, State: "recording"}
		case ipc.CommandStop, ipc.CommandCancel:
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	runner := Runner{}
	for _, cmd := range []string{"status", "stop", "cancel"} {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner.Stdout = stdout
		runner.Stderr = stderr

		exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, cmd})
		require.Equal(t, 0, exitCode, cmd)
		require.Empty(t, stderr.String(), cmd)
	}

	got := []string{<-commands, <-commands, <-commands}
	require.ElementsMatch(t, []string{"status", "stop", "cancel"}, got)
}

func TestRunnerForwardReportsOwnerRejection(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	shutdown := startIPCServerForRunnerTest(t, paths.socketPath, func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: false, State: "stopping", Error: "already stopping"}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "cancel"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error: already stopping")
}

func TestRunnerStatusFallsBackToIdleWhenServerStateEmpty(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: ""}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestPrintStatusIncludesRecordingDetails(t *testing.T) {
	var out bytes.Buffer
	printStatus(&out, ipc.Response{
		OK:          true,
		State:       "recording",
		RecordingID: "abc",
		Device:      "Desk Mic",
		WorkerPID:   77,
		Bytes:       32000,
		DurationMS:  1000,
	})

	require.Equal(t, "recording\nrecording_id: abc\ndevice: Desk Mic\nworker_pid: 77\nbytes: 32000\nduration: 1s\n", out.String())
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "murmur.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	serverCtx, cancelServer := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ipc.Serve(serverCtx, listener, ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
			switch req.Command {
			case ipc.CommandStatus:
				return ipc.Response{OK: true, State: "recording"}
			default:
				return ipc.Response{OK: false, Error: "unsupported"}
			}
		}))
	}()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "recording", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.CommandCancel)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported")

	cancelServer()
	require.NoError(t, <-serverDone)
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "murmur.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "murmur.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "forward command \"status\":")

	<-done
	require.NoError(t, listener.Close())
}

func TestSocketErrorHelpers(t *testing.T) {
	require.False(t, isSocketMissing(nil))
	require.False(t, isConnectionRefused(nil))

	require.True(t, isSocketMissing(os.ErrNotExist))
	require.True(t, isSocketMissing(errors.New("dial unix /tmp/murmur.sock: no such file or directory")))
	require.False(t, isSocketMissing(errors.New("other error")))

	require.True(t, isConnectionRefused(syscall.ECONNREFUSED))
	require.False(t, isConnectionRefused(errors.New("other error")))
}

func TestRunnerDevicesPrintsOneNamePerLine(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Spawner: helperSpawner("ok")}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, "App Mic\nApp Line In\n", stdout.String())
}

func TestRunnerDevicesFailsWhenNoneFound(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Spawner: helperSpawner("empty")}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Empty(t, stdout.String())
	require.Contains(t, stderr.String(), "no audio input devices found")
}

func TestRunnerDevicesReportsMissingRecorder(t *testing.T) {
	paths := setupRunnerEnv(t, "recorder:\n  path: /definitely/missing/murmur-recorder\n")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error: list devices: start recorder")
}

func TestRunnerDoctorPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t, "recorder:\n  path: /definitely/missing/murmur-recorder\n")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Spawner: helperSpawner("ok")}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "[OK] config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] recorder.path")
	require.Contains(t, stdout.String(), "[OK] audio.devices: 2 device(s): App Mic, App Line In")
	require.Empty(t, stderr.String())
}

func TestRunnerConfigInit(t *testing.T) {
	setupRunnerEnv(t, "")
	path := filepath.Join(t.TempDir(), "murmur", "config.yaml")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", path, "config", "init"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, "wrote "+path+"\n", stdout.String())
	require.FileExists(t, path)

	stderr.Reset()
	exitCode = runner.Execute(context.Background(), []string{"--config", path, "config", "init"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "--force")

	stderr.Reset()
	exitCode = runner.Execute(context.Background(), []string{"--config", path, "config", "init", "--force"})
	require.Equal(t, 0, exitCode, stderr.String())

	exitCode = runner.Execute(context.Background(), []string{"--config", path, "status"})
	require.Equal(t, 0, exitCode, stderr.String())
}

func TestRunnerRecordStopsAfterDuration(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	output := filepath.Join(t.TempDir(), "take.wav")

	var stdout syncBuffer
	var stderr syncBuffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Spawner: helperSpawner("ok")}

	exitCode := runner.Execute(context.Background(), []string{
		"--config", paths.configPath, "record", "--duration", "500ms", "--output", output,
	})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, output+"\n", stdout.String())
	require.Contains(t, stderr.String(), "saved "+output)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t, "RIFF", string(data[:4]))

	_, statErr := os.Stat(paths.socketPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerRecordIsControlledFromAnotherInvocation(t *testing.T) {
	paths := setupRunnerEnv(t, "recording:\n  output_dir: "+t.TempDir()+"\n")

	var recordOut syncBuffer
	var recordErr syncBuffer
	owner := Runner{Stdout: &recordOut, Stderr: &recordErr, Spawner: helperSpawner("ok")}

	done := make(chan int, 1)
	go func() {
		done <- owner.Execute(context.Background(), []string{"--config", paths.configPath, "record", "--device", "App Mic"})
	}()

	require.Eventually(t, func() bool {
		resp, handled, err := tryForward(context.Background(), paths.socketPath, ipc.CommandStatus)
		return handled && err == nil && resp.State == "recording" && resp.Bytes > 0
	}, 5*time.Second, 20*time.Millisecond)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	client := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := client.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stdout.String(), "recording\n")
	require.Contains(t, stdout.String(), "device: App Mic")

	stdout.Reset()
	exitCode = client.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Equal(t, "stop requested\n", stdout.String())

	select {
	case code := <-done:
		require.Equal(t, 0, code, recordErr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("record did not finish after stop")
	}

	path := strings.TrimSpace(recordOut.String())
	require.FileExists(t, path)
	require.Contains(t, filepath.Base(path), "murmur-")
}

func TestRunnerRecordCancelDiscardsAudio(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	outputDir := t.TempDir()

	var recordOut syncBuffer
	owner := Runner{Stdout: &recordOut, Stderr: &syncBuffer{}, Spawner: helperSpawner("ok")}

	done := make(chan int, 1)
	go func() {
		done <- owner.Execute(context.Background(), []string{
			"--config", paths.configPath, "record", "--output", filepath.Join(outputDir, "take.wav"),
		})
	}()

	require.Eventually(t, func() bool {
		resp, handled, err := tryForward(context.Background(), paths.socketPath, ipc.CommandStatus)
		return handled && err == nil && resp.State == "recording"
	}, 5*time.Second, 20*time.Millisecond)

	resp, handled, err := tryForward(context.Background(), paths.socketPath, ipc.CommandCancel)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "cancel requested", resp.Message)

	require.Equal(t, 0, <-done)
	require.Equal(t, "cancelled\n", recordOut.String())

	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunnerRecordServesEventsWhenListening(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	addr := freeTCPAddr(t)

	owner := Runner{Stdout: &syncBuffer{}, Stderr: &syncBuffer{}, Spawner: helperSpawner("ok")}
	done := make(chan int, 1)
	go func() {
		done <- owner.Execute(context.Background(), []string{
			"--config", paths.configPath, "record", "--listen", addr, "--output", filepath.Join(t.TempDir(), "take.wav"),
		})
	}()

	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/events?audio=1", nil)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 5*time.Second, 20*time.Millisecond)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		messageType, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		if messageType == websocket.BinaryMessage {
			require.Equal(t, []byte{0x00, 0x10, 0x00, 0xf0}, payload)
			break
		}
	}

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), "murmur_worker_spawns_total 1")

	_, handled, err := tryForward(context.Background(), paths.socketPath, ipc.CommandStop)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, 0, <-done)
}

func TestRunnerRecordRefusesWhenAnotherOwnerIsActive(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	shutdown := startIPCServerForRunnerTest(t, paths.socketPath, func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "recording"}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Spawner: helperSpawner("ok")}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "record"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), ipc.ErrAlreadyRunning.Error())
}

func TestRunnerRecordFailsWhenRecorderMissing(t *testing.T) {
	paths := setupRunnerEnv(t, "recorder:\n  path: /definitely/missing/murmur-recorder\n")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "record"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "audio recorder unavailable")
	require.Empty(t, stdout.String())

	_, statErr := os.Stat(paths.socketPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestLogRecordingResultWritesFailureAndSuccess(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	started := time.Now()
	result := capture.Result{
		ID:         "abc",
		Device:     "Mic",
		SampleRate: 16000,
		Bytes:      32000,
		DurationMS: 1000,
		Path:       "/tmp/take.wav",
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}

	logRecordingResult(logger, result, nil)
	require.Contains(t, logBuf.String(), "recording complete")
	require.Contains(t, logBuf.String(), `"bytes_captured":32000`)

	logBuf.Reset()
	logRecordingResult(logger, result, errors.New("boom"))
	require.Contains(t, logBuf.String(), "recording failed")
	require.Contains(t, logBuf.String(), "boom")

	logRecordingResult(nil, result, nil)
}

func TestAppHelperRecorder(t *testing.T) {
	mode := os.Getenv("MURMUR_APP_HELPER")
	if mode == "" {
		return
	}

	out := wire.NewWriter(os.Stdout)
	var (
		mu   sync.Mutex
		stop chan struct{}
	)
	stopStream := func() {
		mu.Lock()
		defer mu.Unlock()
		if stop != nil {
			close(stop)
			stop = nil
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd, err := wire.DecodeCommand(scanner.Bytes())
		if err != nil {
			_ = out.WriteMessage(wire.Message{Type: wire.KindError, Message: err.Error()})
			continue
		}

		switch cmd.Command {
		case wire.CommandListDevices:
			devices := []string{"App Mic", "App Line In"}
			if mode == "empty" {
				devices = nil
			}
			_ = out.WriteMessage(wire.Message{Type: wire.KindDeviceList, Devices: devices})
		case wire.CommandStart:
			stopStream()
			_ = out.WriteMessage(wire.Message{Type: wire.KindAudioConfig, SampleRate: 16000, Channels: 1})

			mu.Lock()
			stop = make(chan struct{})
			done := stop
			mu.Unlock()

			go func() {
				chunk := []byte{0x00, 0x10, 0x00, 0xf0}
				ticker := time.NewTicker(10 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						_ = out.WriteAudio(chunk)
					}
				}
			}()
		case wire.CommandStop:
			stopStream()
		}
	}
	stopStream()
	os.Exit(0)
}

func helperSpawner(mode string) session.Spawner {
	return session.ExecSpawner{
		Path: os.Args[0],
		Args: []string{"-test.run=TestAppHelperRecorder", "--"},
		Env:  []string{"MURMUR_APP_HELPER=" + mode},
	}
}

type runnerPaths struct {
	configPath string
	socketPath string
}

func setupRunnerEnv(t *testing.T, configBody string) runnerPaths {
	t.Helper()

	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configBody+"\n"), 0o600))

	return runnerPaths{configPath: configPath, socketPath: filepath.Join(runtimeDir, "murmur.sock")}
}

func freeTCPAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
