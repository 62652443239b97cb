package parcel

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendReadRoundTrip(t *testing.T) {
	p := New()
	p.AppendInt32(-7)
	p.AppendUint32(42)
	p.AppendInt64(-9000000000)
	p.AppendUint64(123456789012)
	p.AppendFloat32(1.5)
	p.AppendFloat64(2.718281828)
	p.AppendString("play")
	p.AppendString("")
	p.AppendUint8(0xAB)
	p.AppendInt16(-300)

	r := FromBytes(0, p.Bytes())

	i32, err := r.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, int32(-7), i32)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(42), u32)

	i64, err := r.ReadInt64()
	require.NoError(t, err)
	require.Equal(t, int64(-9000000000), i64)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(123456789012), u64)

	f32, err := r.ReadFloat32()
	require.NoError(t, err)
	require.InDelta(t, float32(1.5), f32, 0.0001)

	f64, err := r.ReadFloat64()
	require.NoError(t, err)
	require.InDelta(t, 2.718281828, f64, 0.000000001)

	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "play", s)

	empty, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "", empty)

	u8, err := r.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), u8)

	i16, err := r.ReadInt16()
	require.NoError(t, err)
	require.Equal(t, int16(-300), i16)

	require.Equal(t, 0, r.Len())
}

func TestReadPastEndIsProtocolError(t *testing.T) {
	p := New()
	p.AppendInt32(1)
	r := FromBytes(0, p.Bytes())
	_, err := r.ReadInt32()
	require.NoError(t, err)
	_, err = r.ReadInt32()
	require.Error(t, err)
}

func TestReadUnterminatedStringErrors(t *testing.T) {
	r := FromBytes(0, []byte{'h', 'i'})
	_, err := r.ReadString()
	require.Error(t, err)
}

func TestPrintfScanfRoundTrip(t *testing.T) {
	p := New()
	err := p.AppendPrintf("%i%s%d", int32(6), "pause", 0.5)
	require.NoError(t, err)

	r := FromBytes(0, p.Bytes())
	var (
		clientID int32
		cmd      string
		vol      float64
	)
	require.NoError(t, r.ReadScanf("%i%s%d", &clientID, &cmd, &vol))
	require.Equal(t, int32(6), clientID)
	require.Equal(t, "pause", cmd)
	require.InDelta(t, 0.5, vol, 0.0001)
}

func TestPrintfArgCountMismatch(t *testing.T) {
	p := New()
	err := p.AppendPrintf("%i%s", int32(1))
	require.Error(t, err)
}

func TestPrintfTypeMismatch(t *testing.T) {
	p := New()
	err := p.AppendPrintf("%i", "not an int32")
	require.Error(t, err)
}

func TestPrintfUnknownVerb(t *testing.T) {
	p := New()
	err := p.AppendPrintf("%z", int32(1))
	require.Error(t, err)
}

func TestSendRecvRoundTrip(t *testing.T) {
	p := New()
	p.AppendString("graph")
	p.AppendString("create_node")
	p.AppendString("mixer0")
	p.AppendInt32(0)

	var buf bytes.Buffer
	require.NoError(t, p.Send(&buf, SendAck))

	got, err := Recv(&buf)
	require.NoError(t, err)
	require.Equal(t, SendAck, got.Code())

	target, err := got.ReadString()
	require.NoError(t, err)
	require.Equal(t, "graph", target)
}

func TestRecvRejectsUnknownCode(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0})
	_, err := Recv(&buf)
	require.Error(t, err)
}

// TestDecoderResumable feeds a serialized parcel through Push in
// arbitrary non-empty chunk sizes (including one chunk holding the whole
// frame) and checks Pop yields the same parsed parcel each time,
// satisfying the resumability invariant.
func TestDecoderResumable(t *testing.T) {
	p := New()
	p.AppendString("session")
	p.AppendInt32(77)
	p.AppendFloat64(3.25)

	var framed bytes.Buffer
	require.NoError(t, p.Send(&framed, Notify))
	wire := framed.Bytes()

	for _, chunkSize := range []int{1, 2, 3, 5, 7, len(wire)} {
		d := NewDecoder()
		var got *Parcel
		for off := 0; off < len(wire); off += chunkSize {
			end := off + chunkSize
			if end > len(wire) {
				end = len(wire)
			}
			d.Push(wire[off:end])
			for {
				parsed, ok, err := d.Pop()
				require.NoError(t, err)
				if !ok {
					break
				}
				got = parsed
			}
		}
		require.NotNilf(t, got, "chunkSize=%d", chunkSize)
		require.Equal(t, Notify, got.Code())

		name, err := got.ReadString()
		require.NoError(t, err)
		require.Equal(t, "session", name)
		id, err := got.ReadInt32()
		require.NoError(t, err)
		require.Equal(t, int32(77), id)
	}
}

// TestDecoderHandlesMultipleFramesInOnePush covers the reactor's actual
// read pattern: one Read() can return bytes spanning more than one frame.
func TestDecoderHandlesMultipleFramesInOnePush(t *testing.T) {
	var wire bytes.Buffer
	for i := 0; i < 3; i++ {
		p := New()
		p.AppendInt32(int32(i))
		require.NoError(t, p.Send(&wire, Send))
	}

	d := NewDecoder()
	d.Push(wire.Bytes())

	var got []int32
	for {
		parsed, ok, err := d.Pop()
		require.NoError(t, err)
		if !ok {
			break
		}
		v, err := parsed.ReadInt32()
		require.NoError(t, err)
		got = append(got, v)
	}
	require.Equal(t, []int32{0, 1, 2}, got)
	require.Equal(t, 0, d.Buffered())
}

func TestDecoderRejectsUnknownCode(t *testing.T) {
	d := NewDecoder()
	d.Push([]byte{9, 9, 9, 9, 0, 0, 0, 0})
	_, _, err := d.Pop()
	require.Error(t, err)
}

func TestReset(t *testing.T) {
	p := New()
	p.AppendInt32(5)
	p.Reset()
	require.Equal(t, 0, p.Len())
	p.AppendInt32(9)
	require.Equal(t, 4, len(p.Bytes()))
}
