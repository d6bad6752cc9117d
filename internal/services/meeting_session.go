package services

import (
	"sort"
	"sync"
	"time"
)

// RecordingState is the recording flag of a meeting session.
type RecordingState string

const (
	RecordingIdle   RecordingState = "idle"
	RecordingActive RecordingState = "recording"
)

// MeetingSession is the live state of one meeting. Fields are guarded by mu;
// mergeMu serialises merges so at most one runs per meeting. arrivals counts
// segments admitted while recording that are not yet queued or dropped.
type MeetingSession struct {
	id        string
	createdAt time.Time

	mergeMu sync.Mutex

	mu           sync.Mutex
	participants map[string]struct{}
	state        RecordingState
	pending      []string
	merging      []string
	arrivals     int
	settled      *sync.Cond
	processed    map[string]struct{}
	cumulative   string
	finalized    []string
	ended        bool
}

func newMeetingSession(id string, createdAt time.Time) *MeetingSession {
	s := &MeetingSession{
		id:           id,
		createdAt:    createdAt,
		participants: make(map[string]struct{}),
		state:        RecordingIdle,
		processed:    make(map[string]struct{}),
	}
	s.settled = sync.NewCond(&s.mu)
	return s
}

// SessionSnapshot is a read-only copy of a MeetingSession.
type SessionSnapshot struct {
	MeetingID         string    `json:"meetingId"`
	Participants      []string  `json:"participants"`
	IsRecording       bool      `json:"isRecording"`
	PendingSegments   int       `json:"pendingSegments"`
	ProcessedSegments int       `json:"processedSegments"`
	CumulativeFile    string    `json:"cumulativeFile,omitempty"`
	FinalizedFiles    []string  `json:"finalizedFiles,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (s *MeetingSession) ID() string {
	return s.id
}

func (s *MeetingSession) CreatedAt() time.Time {
	return s.createdAt
}

// Snapshot copies the current state.
func (s *MeetingSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionSnapshot{
		MeetingID:         s.id,
		Participants:      s.participantsLocked(),
		IsRecording:       s.state == RecordingActive,
		PendingSegments:   len(s.pending),
		ProcessedSegments: len(s.processed),
		CumulativeFile:    s.cumulative,
		FinalizedFiles:    append([]string(nil), s.finalized...),
		CreatedAt:         s.createdAt,
	}
}

func (s *MeetingSession) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == RecordingActive
}

// CumulativeFile returns the current cumulative handle, or "" before the first merge.
func (s *MeetingSession) CumulativeFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cumulative
}

// FinalizedFiles returns the handles retained when the meeting ended.
func (s *MeetingSession) FinalizedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.finalized...)
}

// PendingSegments returns a copy of the segments waiting for a merge.
func (s *MeetingSession) PendingSegments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pending...)
}

// addParticipant returns whether the meeting already had participants and the
// resulting roster. limit caps the roster when positive; a participant already
// present always rejoins.
func (s *MeetingSession) addParticipant(id string, limit int) (bool, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return false, nil, ErrMeetingEnded
	}
	had := len(s.participants) > 0
	if _, present := s.participants[id]; !present && limit > 0 && len(s.participants) >= limit {
		return had, nil, ErrMeetingFull
	}
	s.participants[id] = struct{}{}
	return had, s.participantsLocked(), nil
}

func (s *MeetingSession) participantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

func (s *MeetingSession) removeParticipant(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.participants, id)
	return s.participantsLocked()
}

// startRecording switches to Recording and clears the pending queue. It
// returns false when the session was already recording.
func (s *MeetingSession) startRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == RecordingActive {
		return false
	}
	s.state = RecordingActive
	s.pending = nil
	return true
}

// stopRecording switches to Idle and reports whether anything is pending.
// It returns changed=false when the session was already idle.
func (s *MeetingSession) stopRecording() (changed bool, hasPending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != RecordingActive {
		return false, len(s.pending) > 0
	}
	s.state = RecordingIdle
	return true, len(s.pending) > 0
}

func (s *MeetingSession) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// admitArrival reserves a slot for a segment that is about to be stored and
// probed. It fails unless the session is recording. Each admitted arrival is
// released by acceptArrival or dropArrival.
func (s *MeetingSession) admitArrival() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || s.state != RecordingActive {
		return false
	}
	s.arrivals++
	return true
}

// acceptArrival queues the handle of an admitted arrival and releases it. The
// session may have stopped in the meantime; stopping waits for admitted
// arrivals, so the handle still reaches the stop flush.
func (s *MeetingSession) acceptArrival(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer s.releaseArrivalLocked()
	return s.appendLocked(handle)
}

func (s *MeetingSession) dropArrival() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseArrivalLocked()
}

// awaitArrivals blocks until every admitted arrival was accepted or dropped.
func (s *MeetingSession) awaitArrivals() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.arrivals > 0 {
		s.settled.Wait()
	}
}

func (s *MeetingSession) releaseArrivalLocked() {
	s.arrivals--
	if s.arrivals <= 0 {
		s.arrivals = 0
		s.settled.Broadcast()
	}
}

// appendSegment queues handle unless the meeting has ended or the handle was
// already seen. It does not look at the recording state; live traffic goes
// through admitArrival and acceptArrival.
func (s *MeetingSession) appendSegment(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(handle)
}

func (s *MeetingSession) appendLocked(handle string) bool {
	if s.ended {
		return false
	}
	if _, done := s.processed[handle]; done {
		return false
	}
	for _, existing := range s.pending {
		if existing == handle {
			return false
		}
	}
	s.pending = append(s.pending, handle)
	return true
}

// takeUnprocessed drains the pending queue, marking every unseen handle as
// processed before it is returned.
func (s *MeetingSession) takeUnprocessed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make([]string, 0, len(s.pending))
	for _, handle := range s.pending {
		if _, done := s.processed[handle]; done {
			continue
		}
		s.processed[handle] = struct{}{}
		batch = append(batch, handle)
	}
	s.pending = nil
	s.merging = append([]string(nil), batch...)
	return batch
}

// finishMerge forgets the batch handed out by takeUnprocessed.
func (s *MeetingSession) finishMerge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merging = nil
}

func (s *MeetingSession) setCumulative(handle string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cumulative
	s.cumulative = handle
	return prev
}

// finalize appends the cumulative file to the finalized list once and marks
// the session ended.
func (s *MeetingSession) finalize() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ended = true
	if s.cumulative != "" {
		present := false
		for _, f := range s.finalized {
			if f == s.cumulative {
				present = true
				break
			}
		}
		if !present {
			s.finalized = append(s.finalized, s.cumulative)
		}
	}
	return append([]string(nil), s.finalized...)
}

func (s *MeetingSession) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// referencedHandles lists every file the session still depends on.
func (s *MeetingSession) referencedHandles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs := append([]string(nil), s.pending...)
	refs = append(refs, s.merging...)
	if s.cumulative != "" {
		refs = append(refs, s.cumulative)
	}
	return refs
}

func (s *MeetingSession) participantsLocked() []string {
	out := make([]string, 0, len(s.participants))
	for id := range s.participants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
