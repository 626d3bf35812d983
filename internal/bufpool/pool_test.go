package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 0},
		{64, 0},
		{65, 1},
		{128, 1},
		{129, 2},
		{1 << 20, numClasses - 1},
		{1<<20 + 1, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classOf(tt.n), "n=%d", tt.n)
	}
}

func TestRentReturn(t *testing.T) {
	p := New()

	b := p.Rent(100)
	require.Len(t, b, 100)
	assert.Equal(t, 128, cap(b))
	assert.EqualValues(t, 1, p.Outstanding())

	p.Return(b)
	assert.EqualValues(t, 0, p.Outstanding())
}

func TestOversizedIsNotPooled(t *testing.T) {
	p := New()
	b := p.Rent(2 << 20)
	assert.Len(t, b, 2<<20)
	p.Return(b)
	assert.EqualValues(t, 0, p.Outstanding())
}

func TestRentLengthProperty(t *testing.T) {
	p := New()
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 1<<16).Draw(t, "n")
		b := p.Rent(n)
		if len(b) != n {
			t.Fatalf("len = %d, want %d", len(b), n)
		}
		if cap(b) < n {
			t.Fatalf("cap = %d < %d", cap(b), n)
		}
		p.Return(b)
	})
	assert.EqualValues(t, 0, p.Outstanding())
}

func TestConcurrentUse(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				b := p.Rent(j % 300)
				p.Return(b)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 0, p.Outstanding())
}
