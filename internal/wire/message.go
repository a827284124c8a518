package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultSampleRate applies when the worker never announces its capture format.
const DefaultSampleRate = 16000

// MessageKind is the `type` discriminant of a JSON frame.
type MessageKind string

const (
	KindDeviceList  MessageKind = "device-list"
	KindAudioConfig MessageKind = "audio-config"
	KindError       MessageKind = "error"
)

// Message is the union of JSON control payloads sent by the worker.
type Message struct {
	Type             MessageKind `json:"type"`
	Devices          []string    `json:"devices,omitempty"`
	SampleRate       int         `json:"sample_rate,omitempty"`
	OutputSampleRate int         `json:"output_sample_rate,omitempty"`
	Channels         int         `json:"channels,omitempty"`
	Message          string      `json:"message,omitempty"`
}

var errInvalidJSON = errors.New("payload is not valid JSON")

// DecodeMessage parses a JSON frame payload. Well-formed JSON that is not an
// object decodes to a Message with an empty Type.
func DecodeMessage(payload []byte) (Message, error) {
	if !json.Valid(payload) {
		return Message{}, errInvalidJSON
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, nil
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Message{}, fmt.Errorf("decode %d-byte message: %w", len(payload), err)
	}
	return msg, nil
}

// EncodeMessage renders msg as a JSON frame payload.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.Type == KindDeviceList && len(msg.Devices) == 0 {
		// An empty list still encodes as "devices":[].
		payload, err := json.Marshal(struct {
			Type    MessageKind `json:"type"`
			Devices []string    `json:"devices"`
		}{Type: msg.Type, Devices: []string{}})
		if err != nil {
			return nil, fmt.Errorf("encode %s message: %w", msg.Type, err)
		}
		return payload, nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return payload, nil
}

// DeviceNames returns the device list, never nil.
func (m Message) DeviceNames() []string {
	out := make([]string, len(m.Devices))
	copy(out, m.Devices)
	return out
}

// EffectiveSampleRate prefers the output rate, then the capture rate, then 16 kHz.
func (m Message) EffectiveSampleRate() int {
	if m.OutputSampleRate > 0 {
		return m.OutputSampleRate
	}
	if m.SampleRate > 0 {
		return m.SampleRate
	}
	return DefaultSampleRate
}

// EffectiveChannels defaults to mono.
func (m Message) EffectiveChannels() int {
	if m.Channels > 0 {
		return m.Channels
	}
	return 1
}
