package queue

// ring is a fixed-capacity circular buffer of played entries. When
// full, push overwrites the oldest element. The Store's mutex guards
// all access.
type ring struct {
	buf   []Entry
	head  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Entry, capacity)}
}

// push appends an entry, overwriting the oldest if full.
func (r *ring) push(e Entry) {
	idx := (r.head + r.count) % len(r.buf)
	r.buf[idx] = e
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.count++
	}
}

// tail returns the most recently pushed entry.
func (r *ring) tail() (Entry, bool) {
	if r.count == 0 {
		return Entry{}, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}

// entries returns a copy of all elements in order (oldest first).
func (r *ring) entries() []Entry {
	out := make([]Entry, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int {
	return r.count
}
