package session

import (
	"sync"

	"github.com/example/ride-lifecycle/internal/models"
)

// Registry tracks live sessions by id together with the user that owns
// them. A session leaves the registry when it reaches Closed.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]entry
}

type entry struct {
	m     *Machine
	owner string
	unsub func()
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]entry)}
}

// Add registers m for owner. A session that is already closed is not kept.
func (r *Registry) Add(owner string, m *Machine) {
	r.mu.Lock()
	r.sessions[m.ID()] = entry{m: m, owner: owner}
	r.mu.Unlock()

	cancel := m.Subscribe(func(s Snapshot) {
		if s.Phase == Closed {
			r.remove(s.SessionID)
		}
	})
	r.mu.Lock()
	e, ok := r.sessions[m.ID()]
	if ok {
		e.unsub = cancel
		r.sessions[m.ID()] = e
	}
	r.mu.Unlock()
	if !ok {
		cancel()
		return
	}
	if m.Phase() == Closed {
		r.remove(m.ID())
	}
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok && e.unsub != nil {
		e.unsub()
	}
}

// Get returns the session id if it belongs to owner.
func (r *Registry) Get(owner, id string) (*Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok || e.owner != owner {
		return nil, false
	}
	return e.m, true
}

// ActiveForRide returns owner's live session of role attached to rideID.
func (r *Registry) ActiveForRide(owner string, role models.Role, rideID string) (*Machine, bool) {
	r.mu.Lock()
	ms := make([]*Machine, 0)
	for _, e := range r.sessions {
		if e.owner == owner && e.m.Role() == role {
			ms = append(ms, e.m)
		}
	}
	r.mu.Unlock()
	for _, m := range ms {
		if s := m.Snapshot(); s.Ride != nil && s.Ride.ID == rideID && s.Phase != Closed {
			return m, true
		}
	}
	return nil, false
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StopAll stops every registered session.
func (r *Registry) StopAll() {
	r.mu.Lock()
	ms := make([]*Machine, 0, len(r.sessions))
	for _, e := range r.sessions {
		ms = append(ms, e.m)
	}
	r.mu.Unlock()
	for _, m := range ms {
		m.Stop()
	}
}
