package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/meetrec/internal/database"
	"github.com/charlesng35/meetrec/internal/monitoring"
	"github.com/charlesng35/meetrec/pkg/logger"
)

const (
	JobScratchPurge       = "scratch_purge"
	JobRecordingRetention = "recording_retention"
	JobRateCounterPurge   = "rate_counter_purge"

	defaultScratchSpec    = "@hourly"
	defaultRetentionSpec  = "@daily"
	defaultScratchMaxAge  = 6 * time.Hour
	defaultRetentionBatch = 100
)

// ScratchStore removes scratch files older than a cutoff.
type ScratchStore interface {
	PurgeStale(ctx context.Context, cutoff time.Time, keep map[string]struct{}) (int, error)
}

// HandleSource lists the segment and output handles live meetings still use.
type HandleSource interface {
	ReferencedHandles() map[string]struct{}
}

// RetentionCatalog purges catalogued recordings past their retention window.
type RetentionCatalog interface {
	CleanupExpired(ctx context.Context, limit int) (int, error)
}

// CounterPurger drops rate-limit counters whose window has closed.
type CounterPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Cleaner runs background maintenance: purging stale scratch audio and
// enforcing recording retention.
type Cleaner struct {
	db       *gorm.DB
	scratch  ScratchStore
	handles  HandleSource
	catalog  RetentionCatalog
	counters CounterPurger
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger

	scratchMaxAge   time.Duration
	retentionBatch  int
	scratchSchedule string
	retainSchedule  string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cutoffs and job bookkeeping.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithDatabase records the last successful run of each job as a system setting.
func WithDatabase(db *gorm.DB) Option {
	return func(cleaner *Cleaner) {
		cleaner.db = db
	}
}

// WithScratchPurge enables the scratch purge job. Handles reported by
// handles are never removed.
func WithScratchPurge(store ScratchStore, handles HandleSource, maxAge time.Duration) Option {
	return func(cleaner *Cleaner) {
		cleaner.scratch = store
		cleaner.handles = handles
		if maxAge > 0 {
			cleaner.scratchMaxAge = maxAge
		}
	}
}

// WithRecordingRetention enables the retention job, purging at most batch
// recordings per run.
func WithRecordingRetention(catalog RetentionCatalog, batch int) Option {
	return func(cleaner *Cleaner) {
		cleaner.catalog = catalog
		if batch > 0 {
			cleaner.retentionBatch = batch
		}
	}
}

// WithCounterPurge drops expired rate-limit counters on the scratch schedule.
func WithCounterPurge(counters CounterPurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.counters = counters
	}
}

// WithScratchSchedule overrides the cron specification for the scratch purge.
func WithScratchSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.scratchSchedule = spec
		}
	}
}

// WithRetentionSchedule overrides the cron specification for recording retention.
func WithRetentionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.retainSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. Jobs without their dependency are skipped.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		now:             time.Now,
		log:             logger.WithModule("maintenance"),
		scratchMaxAge:   defaultScratchMaxAge,
		retentionBatch:  defaultRetentionBatch,
		scratchSchedule: defaultScratchSpec,
		retainSchedule:  defaultRetentionSpec,
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the enabled jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.scratch == nil && c.catalog == nil && c.counters == nil {
		return nil
	}

	if c.scratch != nil {
		if _, err := c.cron.AddFunc(c.scratchSchedule, func() {
			_ = c.PurgeScratch(context.Background())
		}); err != nil {
			return err
		}
	}

	if c.counters != nil {
		if _, err := c.cron.AddFunc(c.scratchSchedule, func() {
			_ = c.PurgeCounters(context.Background())
		}); err != nil {
			return err
		}
	}

	if c.catalog != nil {
		if _, err := c.cron.AddFunc(c.retainSchedule, func() {
			_ = c.EnforceRetention(context.Background())
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every enabled job sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.scratch != nil {
		errs = multierr.Append(errs, c.PurgeScratch(ctx))
	}
	if c.catalog != nil {
		errs = multierr.Append(errs, c.EnforceRetention(ctx))
	}
	if c.counters != nil {
		errs = multierr.Append(errs, c.PurgeCounters(ctx))
	}
	return errs
}

// PurgeScratch removes scratch segments and batch files older than the
// configured maximum age that no live meeting references.
func (c *Cleaner) PurgeScratch(ctx context.Context) error {
	if c.scratch == nil {
		return nil
	}
	var keep map[string]struct{}
	if c.handles != nil {
		keep = c.handles.ReferencedHandles()
	}
	cutoff := c.now().Add(-c.scratchMaxAge)

	return c.run(ctx, JobScratchPurge, func(ctx context.Context) (int, error) {
		return c.scratch.PurgeStale(ctx, cutoff, keep)
	})
}

// EnforceRetention purges recordings whose retention window has passed.
func (c *Cleaner) EnforceRetention(ctx context.Context) error {
	if c.catalog == nil {
		return nil
	}
	return c.run(ctx, JobRecordingRetention, func(ctx context.Context) (int, error) {
		return c.catalog.CleanupExpired(ctx, c.retentionBatch)
	})
}

// PurgeCounters drops expired rate-limit counters.
func (c *Cleaner) PurgeCounters(ctx context.Context) error {
	if c.counters == nil {
		return nil
	}
	return c.run(ctx, JobRateCounterPurge, c.counters.PurgeExpired)
}

func (c *Cleaner) run(ctx context.Context, job string, fn func(context.Context) (int, error)) error {
	start := c.now()
	removed, err := fn(ctx)
	duration := c.now().Sub(start)

	if err != nil {
		c.log.Warn("maintenance job failed",
			zap.String("job", job),
			zap.Int("removed", removed),
			zap.Error(err),
		)
		monitoring.RecordMaintenanceRun(job, "failure", err.Error(), duration)
		return err
	}

	if removed > 0 {
		c.log.Info("maintenance job completed", zap.String("job", job), zap.Int("removed", removed))
	}
	monitoring.RecordMaintenanceRun(job, "success", "", duration)

	if c.db != nil {
		if err := database.RecordJobRun(ctx, c.db, job, c.now()); err != nil {
			c.log.Warn("record maintenance run", zap.String("job", job), zap.Error(err))
		}
	}
	return nil
}
