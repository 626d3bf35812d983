package session

import "sync"

type inbound struct {
	from PeerID
	buf  []byte
}

// inbox is an unbounded multi-producer single-consumer queue. Transport
// callbacks push; only the tick goroutine pops.
type inbox struct {
	mu    sync.Mutex
	items []inbound
	head  int
}

func (q *inbox) push(m inbound) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
}

func (q *inbox) pop() (inbound, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return inbound{}, false
	}
	m := q.items[q.head]
	q.items[q.head] = inbound{}
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head > 64 && q.head*2 > len(q.items):
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return m, true
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// tasks carries work from other goroutines onto the tick goroutine.
type tasks struct {
	mu      sync.Mutex
	pending []func()
}

func (t *tasks) post(fn func()) {
	t.mu.Lock()
	t.pending = append(t.pending, fn)
	t.mu.Unlock()
}

// run executes everything posted so far, in order.
func (t *tasks) run() {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
}
