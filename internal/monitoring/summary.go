package monitoring

import "time"

// Summary is the aggregated runtime view served by the health API.
type Summary struct {
	GeneratedAt   time.Time           `json:"generated_at"`
	Meetings      MeetingSummary      `json:"meetings"`
	Segments      SegmentSummary      `json:"segments"`
	Merges        MergeSummary        `json:"merges"`
	Collaborators CollaboratorSummary `json:"collaborators"`
	Realtime      RealtimeSummary     `json:"realtime"`
	Maintenance   MaintenanceSummary  `json:"maintenance"`
}

type MeetingSummary struct {
	Active                 int64   `json:"active"`
	Joins                  uint64  `json:"joins"`
	Ended                  uint64  `json:"ended"`
	AverageLifetimeSeconds float64 `json:"average_lifetime_seconds"`
}

type SegmentSummary struct {
	Accepted uint64 `json:"accepted"`
	Invalid  uint64 `json:"invalid"`
	Rejected uint64 `json:"rejected"`
}

type MergeSummary struct {
	Success                uint64    `json:"success"`
	Failure                uint64    `json:"failure"`
	Noop                   uint64    `json:"noop"`
	Fallbacks              uint64    `json:"fallbacks"`
	SegmentsMerged         uint64    `json:"segments_merged"`
	AverageDurationSeconds float64   `json:"average_duration_seconds"`
	LastError              string    `json:"last_error,omitempty"`
	LastFailureAt          time.Time `json:"last_failure_at"`
}

type CollaboratorSummary struct {
	Failures    uint64         `json:"failures"`
	LastFailure *FailureRecord `json:"last_failure,omitempty"`
}

type FailureRecord struct {
	Stream   string    `json:"stream"`
	Type     string    `json:"type"`
	Message  string    `json:"message"`
	Occurred time.Time `json:"occurred_at"`
}

type RealtimeSummary struct {
	ActiveConnections int64          `json:"active_connections"`
	Broadcasts        uint64         `json:"broadcasts"`
	Failures          uint64         `json:"failures"`
	LastFailure       *FailureRecord `json:"last_failure,omitempty"`
}

type MaintenanceSummary struct {
	Jobs []MaintenanceJobSummary `json:"jobs"`
}

type MaintenanceJobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	ConsecutiveSuccess  uint64        `json:"consecutive_success"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Snapshot returns a point-in-time summary from the current module when configured.
func Snapshot() Summary {
	return ensureModule().Summary()
}

func emptySummary() Summary {
	return Summary{
		GeneratedAt: time.Now(),
		Maintenance: MaintenanceSummary{Jobs: []MaintenanceJobSummary{}},
	}
}
