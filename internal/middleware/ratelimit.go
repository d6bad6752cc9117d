package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/meetrec/pkg/errors"
	"github.com/charlesng35/meetrec/pkg/response"
)

// RateStore counts requests per key within a fixed window.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// MemoryRateStore is a process-local RateStore. Expired counters are dropped
// lazily once the map grows past sweepThreshold.
type MemoryRateStore struct {
	mu       sync.Mutex
	counters map[string]*rateCounter
	now      func() time.Time
}

type rateCounter struct {
	count     int
	windowEnd time.Time
}

const sweepThreshold = 1024

func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{
		counters: make(map[string]*rateCounter),
		now:      time.Now,
	}
}

func (s *MemoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.counters) >= sweepThreshold {
		for k, counter := range s.counters {
			if now.After(counter.windowEnd) {
				delete(s.counters, k)
			}
		}
	}

	counter, ok := s.counters[key]
	if !ok || now.After(counter.windowEnd) {
		counter = &rateCounter{windowEnd: now.Add(window)}
		s.counters[key] = counter
	}
	counter.count++
	return counter.count, counter.windowEnd.Sub(now), nil
}

// RateLimit caps requests per client IP and route. A non-positive limit
// disables it. Store errors let the request through.
func RateLimit(store RateStore, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || limit <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP() + "|" + c.FullPath()
		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			_ = c.Error(err)
			c.Next()
			return
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

		if count > limit {
			response.Error(c, errors.New("RATE_LIMITED", "Too many requests", http.StatusTooManyRequests))
			c.Abort()
			return
		}
		c.Next()
	}
}
