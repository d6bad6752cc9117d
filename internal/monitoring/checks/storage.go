package checks

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charlesng35/meetrec/internal/monitoring"
)

// Storage verifies every directory exists and accepts new files.
func Storage(dirs ...string) monitoring.Check {
	return monitoring.NewCheck("storage", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		var problems []string

		for _, dir := range dirs {
			if err := probeWritable(dir); err != nil {
				problems = append(problems, err.Error())
			}
		}

		if len(problems) > 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  strings.Join(problems, "; "),
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}

func probeWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", dir)
	}
	fh, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return fmt.Errorf("%s: not writable: %w", dir, err)
	}
	name := fh.Name()
	_ = fh.Close()
	return os.Remove(name)
}
