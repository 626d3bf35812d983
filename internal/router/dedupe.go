package router

// digestRing remembers the digests of the last n broadcast deliveries.
//
// A copy that arrives straight from its originator stands for one broadcast
// and is always delivered, so identical broadcasts sent twice are both seen.
// A relayed copy is only delivered when no delivery of the same bytes is
// remembered; it then stands in for the direct copy, which is dropped when
// it turns up late.
type digestRing struct {
	slots   []uint64
	next    int
	full    bool
	entries map[uint64]*digestEntry
}

type digestEntry struct {
	refs  int // slots holding this digest
	ahead int // relayed deliveries still waiting for their direct copy
}

func newDigestRing(n int) *digestRing {
	return &digestRing{slots: make([]uint64, n), entries: make(map[uint64]*digestEntry, n)}
}

// direct reports whether a copy received from its originator should be
// delivered.
func (r *digestRing) direct(d uint64) bool {
	if e, ok := r.entries[d]; ok && e.ahead > 0 {
		e.ahead--
		return false
	}
	r.push(d)
	return true
}

// relayed reports whether a copy forwarded by a third peer should be
// delivered.
func (r *digestRing) relayed(d uint64) bool {
	if _, ok := r.entries[d]; ok {
		return false
	}
	r.push(d).ahead++
	return true
}

func (r *digestRing) push(d uint64) *digestEntry {
	if r.full {
		old := r.slots[r.next]
		if e := r.entries[old]; e != nil {
			e.refs--
			if e.refs == 0 {
				delete(r.entries, old)
			}
		}
	}
	e := r.entries[d]
	if e == nil {
		e = &digestEntry{}
		r.entries[d] = e
	}
	e.refs++
	r.slots[r.next] = d
	r.next++
	if r.next == len(r.slots) {
		r.next = 0
		r.full = true
	}
	return e
}
