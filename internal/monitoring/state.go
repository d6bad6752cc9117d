package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	activeMeetings   atomic.Int64
	meetingJoins     atomic.Uint64
	meetingsEnded    atomic.Uint64
	meetingLifetimes atomic.Uint64 // nanoseconds

	segmentsAccepted atomic.Uint64
	segmentsInvalid  atomic.Uint64
	segmentsRejected atomic.Uint64

	mergeSuccess    atomic.Uint64
	mergeFailure    atomic.Uint64
	mergeNoop       atomic.Uint64
	mergeFallbacks  atomic.Uint64
	mergedSegments  atomic.Uint64
	mergeDurationNs atomic.Uint64
	mergeLastError  atomic.Value // string
	mergeLastFailed atomic.Int64 // unix nano

	collaboratorFailures    atomic.Uint64
	collaboratorLastFailure atomic.Value // *FailureRecord

	realtimeConnections atomic.Int64
	realtimeBroadcasts  atomic.Uint64
	realtimeFailures    atomic.Uint64
	realtimeLastFailure atomic.Value // *FailureRecord

	maintenance sync.Map // string -> *maintenanceStats
}

func newStatStore() *statStore {
	store := &statStore{}
	store.mergeLastError.Store("")
	store.collaboratorLastFailure.Store((*FailureRecord)(nil))
	store.realtimeLastFailure.Store((*FailureRecord)(nil))
	return store
}

func (s *statStore) summary() Summary {
	ended := s.meetingsEnded.Load()
	var avgLifetime float64
	if ended > 0 {
		avgLifetime = float64(s.meetingLifetimes.Load()) / float64(ended) / float64(time.Second)
	}

	worked := s.mergeSuccess.Load() + s.mergeFailure.Load()
	var avgMerge float64
	if worked > 0 {
		avgMerge = float64(s.mergeDurationNs.Load()) / float64(worked) / float64(time.Second)
	}

	lastErr, _ := s.mergeLastError.Load().(string)
	var lastFailedAt time.Time
	if ns := s.mergeLastFailed.Load(); ns > 0 {
		lastFailedAt = time.Unix(0, ns)
	}
	collabFailure, _ := s.collaboratorLastFailure.Load().(*FailureRecord)
	realtimeFailure, _ := s.realtimeLastFailure.Load().(*FailureRecord)

	return Summary{
		GeneratedAt: time.Now(),
		Meetings: MeetingSummary{
			Active:                 s.activeMeetings.Load(),
			Joins:                  s.meetingJoins.Load(),
			Ended:                  ended,
			AverageLifetimeSeconds: avgLifetime,
		},
		Segments: SegmentSummary{
			Accepted: s.segmentsAccepted.Load(),
			Invalid:  s.segmentsInvalid.Load(),
			Rejected: s.segmentsRejected.Load(),
		},
		Merges: MergeSummary{
			Success:                s.mergeSuccess.Load(),
			Failure:                s.mergeFailure.Load(),
			Noop:                   s.mergeNoop.Load(),
			Fallbacks:              s.mergeFallbacks.Load(),
			SegmentsMerged:         s.mergedSegments.Load(),
			AverageDurationSeconds: avgMerge,
			LastError:              lastErr,
			LastFailureAt:          lastFailedAt,
		},
		Collaborators: CollaboratorSummary{
			Failures:    s.collaboratorFailures.Load(),
			LastFailure: collabFailure,
		},
		Realtime: RealtimeSummary{
			ActiveConnections: s.realtimeConnections.Load(),
			Broadcasts:        s.realtimeBroadcasts.Load(),
			Failures:          s.realtimeFailures.Load(),
			LastFailure:       realtimeFailure,
		},
		Maintenance: MaintenanceSummary{
			Jobs: s.cloneMaintenance(),
		},
	}
}

func (s *statStore) adjustMeetings(delta int64) int64 {
	value := s.activeMeetings.Add(delta)
	if value < 0 {
		s.activeMeetings.Store(0)
	}
	return value
}

func (s *statStore) recordMeetingEvent(event string) {
	if event == "join" {
		s.meetingJoins.Add(1)
	}
}

func (s *statStore) recordMeetingLifetime(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.meetingsEnded.Add(1)
	s.meetingLifetimes.Add(uint64(d))
}

func (s *statStore) recordSegment(result string) {
	switch result {
	case "accepted":
		s.segmentsAccepted.Add(1)
	case "invalid":
		s.segmentsInvalid.Add(1)
	default:
		s.segmentsRejected.Add(1)
	}
}

func (s *statStore) recordMerge(result, message string, segments int, d time.Duration) {
	if d < 0 {
		d = 0
	}
	switch result {
	case "success":
		s.mergeSuccess.Add(1)
		if segments > 0 {
			s.mergedSegments.Add(uint64(segments))
		}
		s.mergeDurationNs.Add(uint64(d))
	case "noop":
		s.mergeNoop.Add(1)
	default:
		s.mergeFailure.Add(1)
		s.mergeDurationNs.Add(uint64(d))
		s.mergeLastError.Store(message)
		s.mergeLastFailed.Store(time.Now().UnixNano())
	}
}

func (s *statStore) recordFallback() {
	s.mergeFallbacks.Add(1)
}

func (s *statStore) recordCollaboratorFailure(record FailureRecord) {
	s.collaboratorFailures.Add(1)
	cloned := record
	s.collaboratorLastFailure.Store(&cloned)
}

func (s *statStore) recordRealtimeConnection(delta int64) int64 {
	value := s.realtimeConnections.Add(delta)
	if value < 0 {
		s.realtimeConnections.Store(0)
	}
	return value
}

func (s *statStore) recordRealtimeBroadcast() {
	s.realtimeBroadcasts.Add(1)
}

func (s *statStore) recordRealtimeFailure(record FailureRecord) {
	s.realtimeFailures.Add(1)
	cloned := record
	s.realtimeLastFailure.Store(&cloned)
}

func (s *statStore) maintenanceEntry(job string) *maintenanceStats {
	if value, ok := s.maintenance.Load(job); ok {
		return value.(*maintenanceStats)
	}
	actual, _ := s.maintenance.LoadOrStore(job, &maintenanceStats{})
	return actual.(*maintenanceStats)
}

func (s *statStore) cloneMaintenance() []MaintenanceJobSummary {
	summaries := []MaintenanceJobSummary{}
	s.maintenance.Range(func(key, value any) bool {
		summaries = append(summaries, value.(*maintenanceStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Job < summaries[j].Job })
	return summaries
}

type maintenanceStats struct {
	lastStatus           atomic.Value // string
	lastError            atomic.Value // string
	lastRun              atomic.Int64 // unix nano
	lastDuration         atomic.Int64
	consecutiveFailures  atomic.Uint64
	totalRuns            atomic.Uint64
	lastSuccessfulRun    atomic.Int64
	consecutiveSuccesses atomic.Uint64
}

func (m *maintenanceStats) snapshot(job string) MaintenanceJobSummary {
	status, _ := m.lastStatus.Load().(string)
	errMsg, _ := m.lastError.Load().(string)

	return MaintenanceJobSummary{
		Job:                 job,
		LastStatus:          status,
		LastRunAt:           time.Unix(0, m.lastRun.Load()),
		LastDuration:        time.Duration(m.lastDuration.Load()),
		LastError:           errMsg,
		ConsecutiveFailures: m.consecutiveFailures.Load(),
		ConsecutiveSuccess:  m.consecutiveSuccesses.Load(),
		LastSuccessAt:       time.Unix(0, m.lastSuccessfulRun.Load()),
		TotalRuns:           m.totalRuns.Load(),
	}
}

func (m *maintenanceStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	now := time.Now()
	m.lastStatus.Store(result)
	m.lastError.Store(message)
	m.lastRun.Store(now.UnixNano())
	m.lastDuration.Store(int64(duration))
	m.totalRuns.Add(1)

	if result == "success" {
		m.consecutiveFailures.Store(0)
		m.consecutiveSuccesses.Add(1)
		m.lastSuccessfulRun.Store(now.UnixNano())
		return
	}
	m.consecutiveFailures.Add(1)
	m.consecutiveSuccesses.Store(0)
}
