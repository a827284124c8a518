// Package wire implements the host <-> recorder worker protocol: newline-delimited
// JSON commands toward the worker and length-prefixed binary frames back.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// HeaderSize is the fixed frame prefix: 1-byte type tag + 4-byte little-endian length.
const HeaderSize = 5

// MaxFrameSize bounds the declared payload length of one frame.
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge marks a header whose declared length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// MessageType is the frame type tag.
type MessageType uint8

const (
	MessageJSON  MessageType = 1
	MessageAudio MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MessageJSON:
		return "json"
	case MessageAudio:
		return "audio"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Header is a decoded frame prefix.
type Header struct {
	Type   MessageType
	Length uint32
}

// Check rejects headers declaring more than MaxFrameSize payload bytes.
func (h Header) Check() error {
	if h.Length > MaxFrameSize {
		return fmt.Errorf("%w: %s frame declares %d bytes, limit %d", ErrFrameTooLarge, h.Type, h.Length, MaxFrameSize)
	}
	return nil
}

// Frame is one complete protocol unit.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// ParseHeader decodes a frame prefix. ok is false when fewer than HeaderSize bytes are given.
func ParseHeader(data []byte) (Header, bool) {
	if len(data) < HeaderSize {
		return Header{}, false
	}
	return Header{
		Type:   MessageType(data[0]),
		Length: binary.LittleEndian.Uint32(data[1:HeaderSize]),
	}, true
}

// Extract returns every complete frame at the front of buf and the number of bytes
// they occupy. A trailing partial frame, or a header failing Check, is left
// unconsumed. Payloads alias buf.
func Extract(buf []byte) ([]Frame, int) {
	var (
		frames   []Frame
		consumed int
	)

	for {
		header, ok := ParseHeader(buf[consumed:])
		if !ok || header.Check() != nil {
			return frames, consumed
		}

		// Lengths near 4 GiB overflow int on 32-bit hosts.
		end := uint64(consumed) + HeaderSize + uint64(header.Length)
		if end > uint64(len(buf)) {
			return frames, consumed
		}

		frames = append(frames, Frame{
			Type:    header.Type,
			Payload: buf[consumed+HeaderSize : int(end)],
		})
		consumed = int(end)
	}
}

// AppendFrame appends the encoded frame to dst.
func AppendFrame(dst []byte, t MessageType, payload []byte) []byte {
	var header [HeaderSize]byte
	header[0] = byte(t)
	binary.LittleEndian.PutUint32(header[1:], uint32(len(payload)))
	dst = append(dst, header[:]...)
	return append(dst, payload...)
}

// Writer serializes frames onto one output stream. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes header and payload in a single Write call.
func (fw *Writer) WriteFrame(t MessageType, payload []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.buf = AppendFrame(fw.buf[:0], t, payload)
	if _, err := fw.w.Write(fw.buf); err != nil {
		return fmt.Errorf("write %s frame: %w", t, err)
	}
	return nil
}

// WriteAudio writes one PCM payload frame.
func (fw *Writer) WriteAudio(pcm []byte) error {
	return fw.WriteFrame(MessageAudio, pcm)
}

// WriteMessage encodes msg as a JSON frame.
func (fw *Writer) WriteMessage(msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	return fw.WriteFrame(MessageJSON, payload)
}
