// Package ipc carries control requests from short-lived CLI invocations to the
// process that owns the active recording, over a unix socket.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	CommandStatus = "status"
	CommandStop   = "stop"
	CommandCancel = "cancel"
)

// maxLineSize bounds one encoded request or response.
const maxLineSize = 4096

var (
	// ErrUnknownCommand marks requests naming a command the owner does not serve.
	ErrUnknownCommand = errors.New("unknown command")

	errLineTooLong = fmt.Errorf("line exceeds %d bytes", maxLineSize)
)

type Request struct {
	Command string `json:"command"`
}

// Validate accepts only the control commands a recording owner serves.
func (r Request) Validate() error {
	switch r.Command {
	case CommandStatus, CommandStop, CommandCancel:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, r.Command)
}

type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	RecordingID string `json:"recording_id,omitempty"`
	Device      string `json:"device,omitempty"`
	WorkerPID   int    `json:"worker_pid,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
}

// Err returns the owner's refusal as an error, or nil when the request succeeded.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == "" {
		return errors.New("request refused")
	}
	return errors.New(r.Error)
}

func readLine(r io.Reader) ([]byte, error) {
	line, err := bufio.NewReader(io.LimitReader(r, maxLineSize+1)).ReadBytes('\n')
	if err != nil {
		if len(line) > maxLineSize {
			return nil, errLineTooLong
		}
		return nil, err
	}
	return line, nil
}

func writeLine(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(payload, '\n'))
	return err
}
