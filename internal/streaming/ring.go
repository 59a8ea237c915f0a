package streaming

import "driverstream/internal/events"

// Ring is the bounded recent-events history of a stream. It is the
// only source for gap recovery: a reconnecting subscriber presents its
// last seen event id and receives everything published since, provided
// the id is still in the ring.
//
// Not safe for concurrent use; the owning stream serializes access.
type Ring struct {
	buf   []*events.Event
	next  int // position of the next write
	count int
}

// DefaultRingSize is the per-stream history bound.
const DefaultRingSize = 1 << 16

// NewRing creates a ring holding up to capacity events.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{buf: make([]*events.Event, capacity)}
}

// Add appends events in order, evicting the oldest when full.
func (r *Ring) Add(evs ...*events.Event) {
	for _, ev := range evs {
		r.buf[r.next] = ev
		r.next = (r.next + 1) % len(r.buf)
		if r.count < len(r.buf) {
			r.count++
		}
	}
}

// Len returns the number of events currently held.
func (r *Ring) Len() int { return r.count }

// Events returns the held events oldest first.
func (r *Ring) Events() []*events.Event {
	out := make([]*events.Event, 0, r.count)
	start := (r.next - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Since returns the events published after the one with the given id,
// oldest first. The second result is false when the id is not in the
// ring anymore, which the caller must surface as a gap.
func (r *Ring) Since(eventID string) ([]*events.Event, bool) {
	all := r.Events()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].EventID == eventID {
			return all[i+1:], true
		}
	}
	return nil, false
}
