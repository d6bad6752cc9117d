package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/meetrec/internal/monitoring"
)

// Merges reports degraded while the most recent merge failure is younger than window.
func Merges(window time.Duration) monitoring.Check {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return monitoring.NewCheck("merges", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		merges := monitoring.Snapshot().Merges

		if merges.Failure > 0 && !merges.LastFailureAt.IsZero() && time.Since(merges.LastFailureAt) < window {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  fmt.Sprintf("%d failed merges, last: %s", merges.Failure, merges.LastError),
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  fmt.Sprintf("%d merges, %d fallbacks", merges.Success, merges.Fallbacks),
			Duration: time.Since(start),
		}
	})
}
