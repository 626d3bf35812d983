package protocol

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/1ureka/meshlobby/internal/geom"
)

// ErrShortRead is the sticky error a Reader reports after running past the
// end of its payload.
var ErrShortRead = errors.New("payload ended before all fields were read")

// Reader decodes typed fields from a payload in declaration order. The first
// failed read sets a sticky error; later reads return zero values, so callers
// may read a whole packet and check Err once.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader positions a reader at the first payload byte of a full message.
func NewReader(msg []byte) *Reader {
	if len(msg) < HeaderSize {
		return &Reader{err: ErrShortPacket}
	}
	return &Reader{data: msg[HeaderSize:]}
}

// NewPayloadReader reads a bare payload with no header.
func NewPayloadReader(payload []byte) *Reader {
	return &Reader{data: payload}
}

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Remaining() int { return len(r.data) - r.off }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.Remaining() < n {
		r.err = ErrShortRead
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool { return r.U8() != 0 }

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) I32() int32   { return int32(r.U32()) }
func (r *Reader) I64() int64   { return int64(r.U64()) }
func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }

func (r *Reader) Text() string {
	n := int(r.U16())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *Reader) Vec3() geom.Vec3 {
	return geom.Vec3{X: r.F32(), Y: r.F32(), Z: r.F32()}
}

func (r *Reader) Quat() geom.Quat {
	return geom.Quat{X: r.F32(), Y: r.F32(), Z: r.F32(), W: r.F32()}
}

// StringByteMap reads the layout written by Writer.PutStringByteMap.
func (r *Reader) StringByteMap() map[string]uint8 {
	n := int(r.U16())
	if r.err != nil {
		return nil
	}
	m := make(map[string]uint8, n)
	for i := 0; i < n; i++ {
		k := r.Text()
		v := r.U8()
		if r.err != nil {
			return nil
		}
		m[k] = v
	}
	return m
}
