package parcel

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/openvela/mediad/internal/errors"
)

// Send writes the parcel's header ({code, len(body)} in native
// endianness) followed by its body to w, retrying on short writes the way
// a raw fd write loop would have to after an interrupted syscall. Most
// io.Writer implementations (net.Conn included) never return n < len(p)
// without an error, but the retry loop costs nothing and keeps this
// function correct over any io.Writer.
func (p *Parcel) Send(w io.Writer, code Code) error {
	p.code = code
	frame := make([]byte, HeaderLen+len(p.buf))
	binary.NativeEndian.PutUint32(frame[0:4], uint32(code))
	binary.NativeEndian.PutUint32(frame[4:8], uint32(len(p.buf)))
	copy(frame[HeaderLen:], p.buf)
	return writeAll(w, frame)
}

func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return errors.NewIOError("parcel.send", err)
		}
		if n == 0 {
			return errors.NewIOError("parcel.send", io.ErrShortWrite)
		}
		data = data[n:]
	}
	return nil
}

// Recv blocks on r until one complete frame has been read, decodes it,
// and returns it. It is a convenience wrapper around Decoder for callers
// (tests, the simple client proxy path) that don't need to interleave
// frame decoding with other I/O on the same goroutine; the reactor itself
// uses Decoder directly so a partial read never blocks the whole
// connection loop.
func Recv(r io.Reader) (*Parcel, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, errors.NewIOError("parcel.recv", err)
	}
	code := Code(binary.NativeEndian.Uint32(header[0:4]))
	bodyLen := binary.NativeEndian.Uint32(header[4:8])
	if !code.Valid() {
		return nil, errors.NewProtocolError("parcel.recv", errInvalidCode(code))
	}
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, errors.NewIOError("parcel.recv", err)
		}
	}
	return FromBytes(code, body), nil
}

// Decoder accumulates bytes fed from a non-blocking or partial read and
// extracts complete frames as soon as enough bytes have arrived. This is
// the resumable side of the codec: feeding a serialized parcel through
// Push in arbitrarily small, non-empty chunks and draining with Pop after
// each Push yields the same parsed parcel as a single Push of the whole
// frame.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Push appends newly read bytes to the decoder's internal buffer.
func (d *Decoder) Push(b []byte) {
	d.buf = append(d.buf, b...)
}

// Pop extracts the next complete frame from the accumulated bytes, if
// one is fully present. It returns (nil, false, nil) when more bytes are
// needed, and a non-nil error only for a malformed header (unknown code),
// which per spec is fatal to the connection — the caller must stop
// feeding this decoder and close the connection.
func (d *Decoder) Pop() (*Parcel, bool, error) {
	if len(d.buf) < HeaderLen {
		return nil, false, nil
	}
	code := Code(binary.NativeEndian.Uint32(d.buf[0:4]))
	bodyLen := binary.NativeEndian.Uint32(d.buf[4:8])
	if !code.Valid() {
		return nil, false, errors.NewProtocolError("parcel.decode", errInvalidCode(code))
	}
	total := HeaderLen + int(bodyLen)
	if len(d.buf) < total {
		return nil, false, nil
	}
	body := make([]byte, bodyLen)
	copy(body, d.buf[HeaderLen:total])

	remaining := len(d.buf) - total
	copy(d.buf, d.buf[total:])
	d.buf = d.buf[:remaining]

	return FromBytes(code, body), true, nil
}

// Buffered reports how many bytes are held but not yet consumed into a
// complete frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

type invalidCodeError struct{ code Code }

func (e invalidCodeError) Error() string {
	return fmt.Sprintf("parcel: invalid code %d", uint32(e.code))
}

func errInvalidCode(code Code) error { return invalidCodeError{code: code} }
