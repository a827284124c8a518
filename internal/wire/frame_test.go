package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeader(t *testing.T) {
	header, ok := ParseHeader([]byte{2, 100, 0, 0, 0})
	require.True(t, ok)
	require.Equal(t, MessageAudio, header.Type)
	require.Equal(t, uint32(100), header.Length)

	header, ok = ParseHeader([]byte{1, 0x01, 0x02, 0x03, 0x04, 0xff})
	require.True(t, ok)
	require.Equal(t, MessageJSON, header.Type)
	require.Equal(t, uint32(0x04030201), header.Length)

	_, ok = ParseHeader([]byte{1, 0, 0, 0})
	require.False(t, ok)
}

func TestExtractStopsOnIncompleteHeader(t *testing.T) {
	frames, consumed := Extract([]byte{2, 10, 0})
	require.Empty(t, frames)
	require.Zero(t, consumed)
}

func TestExtractDoesNotConsumeHeaderOfIncompletePayload(t *testing.T) {
	buf := AppendFrame(nil, MessageAudio, make([]byte, 100))

	frames, consumed := Extract(buf[:50])
	require.Empty(t, frames)
	require.Zero(t, consumed)
}

func TestExtractStopsAtOversizedHeader(t *testing.T) {
	buf := AppendFrame(nil, MessageJSON, []byte(`{}`))
	buf = append(buf, byte(MessageAudio), 0xff, 0xff, 0xff, 0x7f)
	buf = AppendFrame(buf, MessageAudio, []byte{1, 0})

	frames, consumed := Extract(buf)
	require.Len(t, frames, 1)
	require.Equal(t, HeaderSize+2, consumed)
}

func TestHeaderCheck(t *testing.T) {
	require.NoError(t, Header{Type: MessageAudio, Length: MaxFrameSize}.Check())

	err := Header{Type: MessageAudio, Length: MaxFrameSize + 1}.Check()
	require.ErrorIs(t, err, ErrFrameTooLarge)
	require.Contains(t, err.Error(), "audio frame declares 16777217 bytes")
}

func TestExtractMultipleFramesAndRemainder(t *testing.T) {
	var buf []byte
	buf = AppendFrame(buf, MessageAudio, bytes.Repeat([]byte{1}, 10))
	buf = AppendFrame(buf, MessageJSON, []byte(`{"type":"x"}`))
	buf = AppendFrame(buf, MessageAudio, bytes.Repeat([]byte{3}, 15))
	complete := len(buf)
	buf = append(buf, 2, 4, 0)

	frames, consumed := Extract(buf)
	require.Equal(t, complete, consumed)
	require.Len(t, frames, 3)
	require.Equal(t, MessageAudio, frames[0].Type)
	require.Len(t, frames[0].Payload, 10)
	require.Equal(t, MessageJSON, frames[1].Type)
	require.Equal(t, `{"type":"x"}`, string(frames[1].Payload))
	require.Len(t, frames[2].Payload, 15)
}

func TestExtractZeroLengthAndUnknownFrames(t *testing.T) {
	var buf []byte
	buf = AppendFrame(buf, MessageAudio, nil)
	buf = AppendFrame(buf, MessageType(99), []byte("hello"))
	buf = AppendFrame(buf, MessageAudio, []byte{0, 1})

	frames, consumed := Extract(buf)
	require.Equal(t, len(buf), consumed)
	require.Len(t, frames, 3)
	require.Empty(t, frames[0].Payload)
	require.Equal(t, MessageType(99), frames[1].Type)
	require.Equal(t, "hello", string(frames[1].Payload))
	require.Equal(t, []byte{0, 1}, frames[2].Payload)
}

func TestAppendFrameLayout(t *testing.T) {
	encoded := AppendFrame(nil, MessageJSON, []byte("abc"))
	require.Equal(t, []byte{1, 3, 0, 0, 0, 'a', 'b', 'c'}, encoded)
}

func TestMessageTypeString(t *testing.T) {
	require.Equal(t, "json", MessageJSON.String())
	require.Equal(t, "audio", MessageAudio.String())
	require.Equal(t, "unknown(99)", MessageType(99).String())
}

func TestWriterWritesWholeFrames(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)

	require.NoError(t, w.WriteAudio([]byte{1, 2, 3, 4}))
	require.NoError(t, w.WriteMessage(Message{Type: KindDeviceList, Devices: []string{"Mic"}}))

	frames, consumed := Extract(out.Bytes())
	require.Equal(t, out.Len(), consumed)
	require.Len(t, frames, 2)
	require.Equal(t, []byte{1, 2, 3, 4}, frames[0].Payload)

	msg, err := DecodeMessage(frames[1].Payload)
	require.NoError(t, err)
	require.Equal(t, KindDeviceList, msg.Type)
	require.Equal(t, []string{"Mic"}, msg.Devices)
}

func TestWriterReportsWriteFailure(t *testing.T) {
	w := NewWriter(failingWriter{})
	err := w.WriteAudio([]byte{1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "write audio frame")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, bytes.ErrTooLarge
}
