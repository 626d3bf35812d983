// Package bufpool lends reusable byte buffers to the ingestion path. Buffers
// are grouped in power-of-two size classes so a returned buffer can serve any
// later request of the same class.
package bufpool

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

const (
	minClassShift = 6  // 64 B
	maxClassShift = 20 // 1 MiB
	numClasses    = maxClassShift - minClassShift + 1
)

// Pool is safe for concurrent use from transport callbacks and the tick.
type Pool struct {
	classes     [numClasses]sync.Pool
	outstanding atomic.Int64
}

// Default is the process-wide pool used when callers do not supply one.
var Default = New()

// New returns an empty pool.
func New() *Pool {
	p := &Pool{}
	for i := range p.classes {
		size := 1 << (minClassShift + i)
		p.classes[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

// Rent returns a buffer of length n. Requests above the largest class are
// allocated directly and never pooled.
func (p *Pool) Rent(n int) []byte {
	p.outstanding.Add(1)
	idx := classOf(n)
	if idx < 0 {
		return make([]byte, n)
	}
	b := p.classes[idx].Get().(*[]byte)
	return (*b)[:n]
}

// Return hands a buffer back. The caller must not touch b afterwards.
func (p *Pool) Return(b []byte) {
	if b == nil {
		return
	}
	p.outstanding.Add(-1)
	c := cap(b)
	if c < 1<<minClassShift || c > 1<<maxClassShift || c&(c-1) != 0 {
		return
	}
	idx := bits.TrailingZeros(uint(c)) - minClassShift
	b = b[:c]
	p.classes[idx].Put(&b)
}

// Outstanding reports buffers rented and not yet returned.
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

func classOf(n int) int {
	if n <= 1<<minClassShift {
		return 0
	}
	if n > 1<<maxClassShift {
		return -1
	}
	shift := bits.Len(uint(n - 1))
	return shift - minClassShift
}
