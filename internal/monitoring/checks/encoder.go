package checks

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/charlesng35/meetrec/internal/monitoring"
)

// Encoder resolves the ffmpeg and ffprobe executables. A missing binary
// makes every merge fail, so the probe reports down.
func Encoder(binaries ...string) monitoring.Check {
	return monitoring.NewCheck("encoder", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		var missing []string
		for _, bin := range binaries {
			if strings.TrimSpace(bin) == "" {
				continue
			}
			if _, err := exec.LookPath(bin); err != nil {
				missing = append(missing, bin)
			}
		}
		if len(missing) > 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "not found: " + strings.Join(missing, ", "),
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}
