package workflow

import "sync"

// Roster hands out dispatcher IDs round-robin for automatic assignment.
type Roster struct {
	mu   sync.Mutex
	ids  []string
	next int
}

// NewRoster builds a roster from the given dispatcher IDs. Returns nil if
// the list is empty, which disables automatic assignment.
func NewRoster(ids []string) *Roster {
	if len(ids) == 0 {
		return nil
	}
	cp := make([]string, len(ids))
	copy(cp, ids)
	return &Roster{ids: cp}
}

// Next returns the next dispatcher in rotation.
func (r *Roster) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.ids[r.next]
	r.next = (r.next + 1) % len(r.ids)
	return id
}

// Size returns the number of dispatchers in rotation.
func (r *Roster) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}
