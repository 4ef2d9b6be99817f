package protocol

import "github.com/pkg/errors"

// ErrCorruptStream is returned by Framer.Feed when a header fails
// validation. The framer has already dropped its accumulator; the stream
// resynchronizes once later data starts with a valid header.
var ErrCorruptStream = errors.New("protocol: corrupt stream")

// Framer assembles complete frames out of an arbitrary-chunked byte stream.
// One Framer serves one connection; it is not safe for concurrent use.
type Framer struct {
	buf []byte
}

// Feed appends data to the accumulator and emits every complete frame now
// available, in arrival order. The body slice passed to emit is only valid
// for the duration of the callback.
//
// On a header that fails validation the entire accumulator is discarded and
// ErrCorruptStream is returned; already-emitted frames stand and the framer
// remains usable. This mirrors the coarse resync policy of the protocol:
// never hunt for a frame boundary mid-stream.
func (f *Framer) Feed(data []byte, emit func(Header, []byte)) error {
	f.buf = append(f.buf, data...)

	for len(f.buf) >= HeaderSize {
		header, err := ParseHeader(f.buf)
		if err != nil {
			return err
		}
		if !header.Valid() {
			f.buf = f.buf[:0]
			return ErrCorruptStream
		}

		total := HeaderSize + int(header.BodyLength)
		if len(f.buf) < total {
			break
		}

		emit(header, f.buf[HeaderSize:total])

		f.buf = append(f.buf[:0], f.buf[total:]...)
	}

	return nil
}

// Pending returns the number of buffered bytes awaiting a complete frame.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset discards any buffered bytes.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
