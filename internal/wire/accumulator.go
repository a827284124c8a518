package wire

// retainLimit bounds the idle capacity kept after compaction.
const retainLimit = 1 << 20

// Accumulator holds bytes received from the worker that do not yet form a
// complete frame. Its contents are always the unconsumed suffix of everything
// written since the last Reset.
type Accumulator struct {
	buf []byte
}

// Write appends received bytes. It never fails.
func (a *Accumulator) Write(p []byte) (int, error) {
	a.buf = append(a.buf, p...)
	return len(p), nil
}

// Len reports the number of buffered, unconsumed bytes.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Drain extracts every complete frame, copies their payloads out, and compacts
// the buffer down to the remaining partial frame.
func (a *Accumulator) Drain() []Frame {
	frames, consumed := Extract(a.buf)
	if consumed == 0 {
		return nil
	}

	out := make([]Frame, len(frames))
	for i, frame := range frames {
		payload := make([]byte, len(frame.Payload))
		copy(payload, frame.Payload)
		out[i] = Frame{Type: frame.Type, Payload: payload}
	}

	a.compact(consumed)
	return out
}

// Err reports a buffered header that can never complete because it fails
// Header.Check. The stream cannot be resynchronized after such a header.
func (a *Accumulator) Err() error {
	header, ok := ParseHeader(a.buf)
	if !ok {
		return nil
	}
	return header.Check()
}

// Reset drops all buffered bytes.
func (a *Accumulator) Reset() {
	if cap(a.buf) > retainLimit {
		a.buf = nil
		return
	}
	a.buf = a.buf[:0]
}

// compact moves the unconsumed tail to the front of the arena.
func (a *Accumulator) compact(consumed int) {
	remaining := len(a.buf) - consumed
	if cap(a.buf) > retainLimit && remaining < cap(a.buf)/4 {
		tail := make([]byte, remaining, max(remaining, 4096))
		copy(tail, a.buf[consumed:])
		a.buf = tail
		return
	}
	copy(a.buf, a.buf[consumed:])
	a.buf = a.buf[:remaining]
}
