package services

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// SessionRegistry owns every live MeetingSession. The registry lock guards
// only the map, so unrelated meetings never contend with each other.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*MeetingSession
	now      func() time.Time
}

// RegistryOption customises a SessionRegistry.
type RegistryOption func(*SessionRegistry)

// WithRegistryClock overrides the clock used for createdAt.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *SessionRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewSessionRegistry(opts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		sessions: make(map[string]*MeetingSession),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *SessionRegistry) Get(meetingID string) (*MeetingSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[strings.TrimSpace(meetingID)]
	return session, ok
}

// GetOrCreate returns the session for meetingID, creating it when absent.
func (r *SessionRegistry) GetOrCreate(meetingID string) (*MeetingSession, bool) {
	meetingID = strings.TrimSpace(meetingID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[meetingID]; ok {
		return session, false
	}
	session := newMeetingSession(meetingID, r.now().UTC())
	r.sessions[meetingID] = session
	return session, true
}

// Delete evicts the session and reports whether one was present.
func (r *SessionRegistry) Delete(meetingID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	meetingID = strings.TrimSpace(meetingID)
	if _, ok := r.sessions[meetingID]; !ok {
		return false
	}
	delete(r.sessions, meetingID)
	return true
}

// remove evicts session only while it is still the registered session for
// its meeting.
func (r *SessionRegistry) remove(session *MeetingSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[session.ID()]; !ok || current != session {
		return false
	}
	delete(r.sessions, session.ID())
	return true
}

// ListAll returns snapshots ordered by creation time.
func (r *SessionRegistry) ListAll() []SessionSnapshot {
	r.mu.RLock()
	sessions := make([]*MeetingSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	out := make([]SessionSnapshot, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].MeetingID < out[j].MeetingID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ReferencedHandles returns every file still needed by a live session.
func (r *SessionRegistry) ReferencedHandles() map[string]struct{} {
	r.mu.RLock()
	sessions := make([]*MeetingSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	refs := make(map[string]struct{})
	for _, session := range sessions {
		for _, handle := range session.referencedHandles() {
			refs[handle] = struct{}{}
		}
	}
	return refs
}
