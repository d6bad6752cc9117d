package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/meetrec/internal/monitoring"
)

// RealtimeObserver exposes the hub state needed to judge realtime health.
type RealtimeObserver interface {
	ActiveConnections() int64
}

// Realtime reports the hub as degraded when delivery failures were recorded.
func Realtime(observer RealtimeObserver) monitoring.Check {
	return monitoring.NewCheck("realtime", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if observer == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "realtime hub unavailable",
				Duration: time.Since(start),
			}
		}

		snapshot := monitoring.Snapshot()
		status := monitoring.StatusUp
		details := []string{fmt.Sprintf("%d connections", observer.ActiveConnections())}

		if snapshot.Realtime.Failures > 0 {
			status = monitoring.StatusDegraded
			details = append(details, fmt.Sprintf("%d failures", snapshot.Realtime.Failures))
			if last := snapshot.Realtime.LastFailure; last != nil {
				details = append(details, "last: "+last.Type+" "+last.Message)
			}
		}

		return monitoring.ProbeResult{
			Status:   status,
			Details:  strings.Join(details, "; "),
			Duration: time.Since(start),
		}
	})
}
