package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/meetrec/internal/database"
	testutil "github.com/charlesng35/meetrec/internal/database/testutil"
	"github.com/charlesng35/meetrec/internal/monitoring"
)

type fakeScratch struct {
	cutoff  time.Time
	keep    map[string]struct{}
	removed int
	err     error
	calls   int
}

func (f *fakeScratch) PurgeStale(_ context.Context, cutoff time.Time, keep map[string]struct{}) (int, error) {
	f.calls++
	f.cutoff = cutoff
	f.keep = keep
	return f.removed, f.err
}

type fakeHandles map[string]struct{}

func (f fakeHandles) ReferencedHandles() map[string]struct{} { return f }

type fakeCatalog struct {
	limit int
	err   error
	calls int
}

func (f *fakeCatalog) CleanupExpired(_ context.Context, limit int) (int, error) {
	f.calls++
	f.limit = limit
	return 3, f.err
}

func withMonitoring(t *testing.T) {
	t.Helper()
	mod, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)
	monitoring.SetModule(mod)
}

func TestPurgeScratchUsesCutoffAndLiveHandles(t *testing.T) {
	withMonitoring(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	scratch := &fakeScratch{removed: 2}
	live := fakeHandles{"/data/segments/m1.webm": {}}

	cleaner := NewCleaner(
		WithNow(func() time.Time { return now }),
		WithScratchPurge(scratch, live, 2*time.Hour),
	)

	require.NoError(t, cleaner.PurgeScratch(context.Background()))
	require.Equal(t, now.Add(-2*time.Hour), scratch.cutoff)
	require.Contains(t, scratch.keep, "/data/segments/m1.webm")

	jobs := monitoring.Snapshot().Maintenance.Jobs
	require.Len(t, jobs, 1)
	require.Equal(t, JobScratchPurge, jobs[0].Job)
	require.Equal(t, "success", jobs[0].LastStatus)
}

func TestEnforceRetentionRecordsJobRun(t *testing.T) {
	withMonitoring(t)
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 5, 2, 3, 0, 0, 0, time.UTC)
	catalog := &fakeCatalog{}

	cleaner := NewCleaner(
		WithNow(func() time.Time { return now }),
		WithDatabase(db),
		WithRecordingRetention(catalog, 25),
	)

	require.NoError(t, cleaner.EnforceRetention(context.Background()))
	require.Equal(t, 25, catalog.limit)

	at, ok, err := database.LastJobRun(context.Background(), db, JobRecordingRetention)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, at.Equal(now))
}

func TestRunOnceAggregatesFailures(t *testing.T) {
	withMonitoring(t)
	scratch := &fakeScratch{err: errors.New("disk unavailable")}
	catalog := &fakeCatalog{err: errors.New("db locked")}

	cleaner := NewCleaner(
		WithScratchPurge(scratch, nil, 0),
		WithRecordingRetention(catalog, 0),
	)

	err := cleaner.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk unavailable")
	require.Contains(t, err.Error(), "db locked")
	require.Equal(t, defaultRetentionBatch, catalog.limit)
	require.Nil(t, scratch.keep)

	for _, job := range monitoring.Snapshot().Maintenance.Jobs {
		require.Equal(t, "failure", job.LastStatus)
		require.EqualValues(t, 1, job.ConsecutiveFailures)
	}
}

func TestStartRegistersEnabledJobs(t *testing.T) {
	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	cleaner := NewCleaner(
		WithCron(scheduler),
		WithScratchPurge(&fakeScratch{}, nil, time.Hour),
		WithScratchSchedule("@every 1h"),
	)

	require.NoError(t, cleaner.Start())
	require.Len(t, scheduler.Entries(), 1)
	<-cleaner.Stop().Done()
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	cleaner := NewCleaner(
		WithRecordingRetention(&fakeCatalog{}, 10),
		WithRetentionSchedule("not a schedule"),
	)
	require.Error(t, cleaner.Start())
}

func TestStartWithoutJobsIsNoop(t *testing.T) {
	scheduler := cron.New()
	cleaner := NewCleaner(WithCron(scheduler))
	require.NoError(t, cleaner.Start())
	require.Empty(t, scheduler.Entries())
}

type fakeCounters struct{ calls int }

func (f *fakeCounters) PurgeExpired(context.Context) (int, error) {
	f.calls++
	return 4, nil
}

func TestRunOnceIncludesCounterPurge(t *testing.T) {
	withMonitoring(t)
	counters := &fakeCounters{}
	cleaner := NewCleaner(WithCounterPurge(counters))

	require.NoError(t, cleaner.RunOnce(context.Background()))
	require.Equal(t, 1, counters.calls)

	jobs := monitoring.Snapshot().Maintenance.Jobs
	require.Len(t, jobs, 1)
	require.Equal(t, JobRateCounterPurge, jobs[0].Job)
}
