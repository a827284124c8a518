package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CommandName is the `command` discriminant of an outbound control line.
type CommandName string

const (
	CommandStart       CommandName = "start"
	CommandStop        CommandName = "stop"
	CommandListDevices CommandName = "list-devices"
)

// Command is one host -> worker control line.
type Command struct {
	Command    CommandName `json:"command"`
	DeviceName *string     `json:"device_name,omitempty"`
}

// StartCommand asks the worker to capture from deviceName.
func StartCommand(deviceName string) Command {
	return Command{Command: CommandStart, DeviceName: &deviceName}
}

// StopCommand asks the worker to stop capturing.
func StopCommand() Command {
	return Command{Command: CommandStop}
}

// ListDevicesCommand asks the worker for a device-list message.
func ListDevicesCommand() Command {
	return Command{Command: CommandListDevices}
}

// Device returns the start device name, or "" when unset.
func (c Command) Device() string {
	if c.DeviceName == nil {
		return ""
	}
	return *c.DeviceName
}

// EncodeCommand renders cmd as a single JSON line terminated by '\n'.
func EncodeCommand(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cmd); err != nil {
		return nil, fmt.Errorf("encode %s command: %w", cmd.Command, err)
	}
	return buf.Bytes(), nil
}

// DecodeCommand parses one control line as read by the worker.
func DecodeCommand(line []byte) (Command, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Command{}, errors.New("empty command line")
	}

	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}

	switch cmd.Command {
	case CommandStart, CommandStop, CommandListDevices:
		return cmd, nil
	case "":
		return Command{}, errors.New("command field is missing")
	default:
		return Command{}, fmt.Errorf("unknown command %q", strings.TrimSpace(string(cmd.Command)))
	}
}
