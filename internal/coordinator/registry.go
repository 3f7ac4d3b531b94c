package coordinator

import (
	"sort"
	"sync"

	"github.com/capitalize-ai/localchat/internal/session"
	"github.com/capitalize-ai/localchat/pkg/metrics"
)

// slot reserves a conversation before its session exists.
type slot struct {
	session *session.Session
	aborted bool

	// released is closed when the slot is freed, once the answer is persisted.
	released chan struct{}
}

// registry maps conversation ids to their running session.
// At most one slot exists per conversation.
type registry struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func newRegistry() *registry {
	return &registry{slots: make(map[string]*slot)}
}

// reserve claims id. It returns false when id already has a slot.
func (r *registry) reserve(id string) (*slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[id]; ok {
		return nil, false
	}
	sl := &slot{released: make(chan struct{})}
	r.slots[id] = sl
	metrics.SessionsActive.Inc()
	return sl, true
}

// attach binds s to a reserved slot. An abort requested during reservation is applied now.
func (r *registry) attach(sl *slot, s *session.Session) {
	r.mu.Lock()
	sl.session = s
	aborted := sl.aborted
	r.mu.Unlock()

	if aborted {
		s.Abort()
	}
}

// release frees id if it is still held by sl.
func (r *registry) release(id string, sl *slot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slots[id] != sl {
		return false
	}
	delete(r.slots, id)
	close(sl.released)
	metrics.SessionsActive.Dec()
	return true
}

// abort aborts the session of id, or marks the reservation for abort.
func (r *registry) abort(id string) bool {
	r.mu.Lock()
	sl, ok := r.slots[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	sl.aborted = true
	s := sl.session
	r.mu.Unlock()

	if s != nil {
		s.Abort()
	}
	return true
}

func (r *registry) get(id string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sl, ok := r.slots[id]; ok {
		return sl.session
	}
	return nil
}

func (r *registry) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.slots[id]
	return ok
}

func (r *registry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.slots))
	for id := range r.slots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// released returns the channel closed when the current slot of id is freed,
// or nil when id has no slot.
func (r *registry) released(id string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sl, ok := r.slots[id]; ok {
		return sl.released
	}
	return nil
}
