package protocol

import (
	"encoding/binary"
	"maps"
	"math"
	"slices"
	"sync"
	"unicode/utf8"

	"github.com/1ureka/meshlobby/internal/geom"
)

// MaxStringLen is the longest string a length prefix can describe. Longer
// strings are truncated at the last rune boundary that fits.
const MaxStringLen = math.MaxUint16

// writers above this capacity are not returned to the pool
const maxPooledWriter = 64 * 1024

var writerPool = sync.Pool{
	New: func() any { return &Writer{buf: make([]byte, 0, 256)} },
}

// Writer appends typed fields after a header. Writers come from a pool so any
// goroutine issuing sends gets its own scratch buffer; call Release once the
// bytes have been handed to the transport.
type Writer struct {
	buf []byte
}

// NewWriter returns a pooled writer with h already encoded.
func NewWriter(h Header) *Writer {
	w := writerPool.Get().(*Writer)
	w.buf = w.buf[:HeaderSize]
	PutHeader(w.buf, h)
	return w
}

// Release returns w to the pool. w must not be used afterwards.
func (w *Writer) Release() {
	if cap(w.buf) > maxPooledWriter {
		return
	}
	w.buf = w.buf[:0]
	writerPool.Put(w)
}

// Bytes returns the encoded message. It aliases the writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the encoded length including the header.
func (w *Writer) Len() int { return len(w.buf) }

// Header decodes the header the writer was created with.
func (w *Writer) Header() Header {
	h, _ := PeekHeader(w.buf)
	return h
}

func (w *Writer) PutU8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) PutBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) PutU16(v uint16)  { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *Writer) PutU32(v uint32)  { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *Writer) PutU64(v uint64)  { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *Writer) PutI32(v int32)   { w.PutU32(uint32(v)) }
func (w *Writer) PutI64(v int64)   { w.PutU64(uint64(v)) }
func (w *Writer) PutF32(v float32) { w.PutU32(math.Float32bits(v)) }

// PutString writes a u16 byte length followed by the UTF-8 bytes.
func (w *Writer) PutString(s string) {
	if len(s) > MaxStringLen {
		n := MaxStringLen
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	w.PutU16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) PutVec3(v geom.Vec3) {
	w.PutF32(v.X)
	w.PutF32(v.Y)
	w.PutF32(v.Z)
}

func (w *Writer) PutQuat(q geom.Quat) {
	w.PutF32(q.X)
	w.PutF32(q.Y)
	w.PutF32(q.Z)
	w.PutF32(q.W)
}

// PutStringByteMap writes a u16 entry count followed by (string, u8) pairs in
// key order, so equal maps always encode to equal bytes.
func (w *Writer) PutStringByteMap(m map[string]uint8) {
	keys := slices.Sorted(maps.Keys(m))
	if len(keys) > math.MaxUint16 {
		keys = keys[:math.MaxUint16]
	}
	w.PutU16(uint16(len(keys)))
	for _, k := range keys {
		w.PutString(k)
		w.PutU8(m[k])
	}
}
