package parcel

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/openvela/mediad/internal/errors"
)

// Parcel is a single RPC frame's body: a byte buffer with a write cursor
// (append side) and an independent read cursor (read side), plus the wire
// code it was received with or will be sent under.
//
// A Parcel is not safe for concurrent use; each connection/proxy owns its
// own read and write parcels serially.
type Parcel struct {
	code Code
	buf  []byte
	pos  int
}

// New returns an empty parcel ready for Append calls.
func New() *Parcel { return &Parcel{} }

// FromBytes wraps an already-decoded body for reading, tagged with the
// code it arrived under.
func FromBytes(code Code, body []byte) *Parcel {
	return &Parcel{code: code, buf: body}
}

// Code returns the wire code this parcel was decoded with, or the zero
// value for a freshly constructed one.
func (p *Parcel) Code() Code { return p.code }

// Bytes returns the parcel's body (for sizing/logging; callers must not
// mutate it after the parcel has been sent).
func (p *Parcel) Bytes() []byte { return p.buf }

// Len returns the number of unread bytes remaining in the body.
func (p *Parcel) Len() int { return len(p.buf) - p.pos }

// Reset clears both cursors and the body, allowing the parcel to be
// reused for a new append sequence.
func (p *Parcel) Reset() {
	p.buf = p.buf[:0]
	p.pos = 0
	p.code = 0
}

func (p *Parcel) need(n int) error {
	if p.pos+n > len(p.buf) {
		return errors.NewProtocolError("parcel.read", fmt.Errorf("need %d bytes, have %d", n, p.Len()))
	}
	return nil
}

// Append primitives. Each appends in native endianness, matching the
// header's encoding, so a parcel body round-trips byte-for-byte between
// processes on the same CPU without a byte-swap step.

func (p *Parcel) AppendUint8(v uint8) { p.buf = append(p.buf, v) }
func (p *Parcel) AppendInt8(v int8)   { p.AppendUint8(uint8(v)) }

func (p *Parcel) AppendUint16(v uint16) { p.buf = binary.NativeEndian.AppendUint16(p.buf, v) }
func (p *Parcel) AppendInt16(v int16)   { p.AppendUint16(uint16(v)) }

func (p *Parcel) AppendUint32(v uint32) { p.buf = binary.NativeEndian.AppendUint32(p.buf, v) }
func (p *Parcel) AppendInt32(v int32)   { p.AppendUint32(uint32(v)) }

func (p *Parcel) AppendUint64(v uint64) { p.buf = binary.NativeEndian.AppendUint64(p.buf, v) }
func (p *Parcel) AppendInt64(v int64)   { p.AppendUint64(uint64(v)) }

func (p *Parcel) AppendFloat32(v float32) { p.AppendUint32(math.Float32bits(v)) }
func (p *Parcel) AppendFloat64(v float64) { p.AppendUint64(math.Float64bits(v)) }

// AppendString appends a NUL-terminated byte string. Embedded NULs are not
// supported and will corrupt the frame; callers pass names/commands, never
// arbitrary binary data, through this path.
func (p *Parcel) AppendString(s string) {
	p.buf = append(p.buf, s...)
	p.buf = append(p.buf, 0)
}

// Read primitives mirror the Append side; each advances the read cursor
// and returns a protocol error if the body is exhausted.

func (p *Parcel) ReadUint8() (uint8, error) {
	if err := p.need(1); err != nil {
		return 0, err
	}
	v := p.buf[p.pos]
	p.pos++
	return v, nil
}
func (p *Parcel) ReadInt8() (int8, error) {
	v, err := p.ReadUint8()
	return int8(v), err
}

func (p *Parcel) ReadUint16() (uint16, error) {
	if err := p.need(2); err != nil {
		return 0, err
	}
	v := binary.NativeEndian.Uint16(p.buf[p.pos:])
	p.pos += 2
	return v, nil
}
func (p *Parcel) ReadInt16() (int16, error) {
	v, err := p.ReadUint16()
	return int16(v), err
}

func (p *Parcel) ReadUint32() (uint32, error) {
	if err := p.need(4); err != nil {
		return 0, err
	}
	v := binary.NativeEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v, nil
}
func (p *Parcel) ReadInt32() (int32, error) {
	v, err := p.ReadUint32()
	return int32(v), err
}

func (p *Parcel) ReadUint64() (uint64, error) {
	if err := p.need(8); err != nil {
		return 0, err
	}
	v := binary.NativeEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v, nil
}
func (p *Parcel) ReadInt64() (int64, error) {
	v, err := p.ReadUint64()
	return int64(v), err
}

func (p *Parcel) ReadFloat32() (float32, error) {
	v, err := p.ReadUint32()
	return math.Float32frombits(v), err
}
func (p *Parcel) ReadFloat64() (float64, error) {
	v, err := p.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadString reads bytes up to and including the next NUL, returning the
// string without the terminator.
func (p *Parcel) ReadString() (string, error) {
	for i := p.pos; i < len(p.buf); i++ {
		if p.buf[i] == 0 {
			s := string(p.buf[p.pos:i])
			p.pos = i + 1
			return s, nil
		}
	}
	return "", errors.NewProtocolError("parcel.readString", fmt.Errorf("unterminated string in remaining %d bytes", p.Len()))
}
