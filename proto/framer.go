package proto

import "fmt"

// FramingError reports a byte stream position that cannot be framed: an
// identifier that is not in the catalog. There is no resynchronisation
// strategy; the endpoint owner is expected to drop the transport and start
// over.
type FramingError struct {
	ID       MsgID
	Buffered int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: unknown message id 0x%02x (%d bytes buffered)", byte(e.ID), e.Buffered)
}

// Framer accumulates raw bytes and carves them into complete messages.
// Incomplete trailing bytes, including a lone identifier byte, are retained
// until the next Feed call. A Framer is not safe for concurrent use; the
// endpoint owning it runs single-threaded.
type Framer struct {
	buf []byte
	err error
}

// Feed appends newly arrived bytes and returns every message that is now
// complete, in arrival order. On a framing error the messages decoded
// before the bad byte are still returned alongside the error, and every
// subsequent call fails with the same error until Reset is called.
func (f *Framer) Feed(p []byte) ([]Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.buf = append(f.buf, p...)

	var msgs []Message
	off := 0
	for off < len(f.buf) {
		id := MsgID(f.buf[off])
		size, ok := PayloadLen(id)
		if !ok {
			f.buf = f.buf[off:]
			f.err = &FramingError{ID: id, Buffered: len(f.buf)}
			return msgs, f.err
		}
		if len(f.buf)-off < 1+size {
			break // partial message, wait for more bytes
		}
		msg, err := New(id)
		if err != nil {
			f.err = err
			return msgs, f.err
		}
		if err := msg.UnmarshalPayload(f.buf[off+1 : off+1+size]); err != nil {
			f.err = fmt.Errorf("decode 0x%02x: %w", byte(id), err)
			return msgs, f.err
		}
		msgs = append(msgs, msg)
		off += 1 + size
	}
	f.buf = append(f.buf[:0], f.buf[off:]...)
	return msgs, nil
}

// Pending returns the number of buffered bytes awaiting the rest of a
// message.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset discards buffered bytes and clears any sticky framing error. Used
// when the owning endpoint rebinds to a fresh transport.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.err = nil
}
