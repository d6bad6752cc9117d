package cache

import (
	"context"
	"time"
)

// Counter increments fixed-window counters.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error)
}
