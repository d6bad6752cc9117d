package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetAndUpsertSystemSetting(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	value, err := GetSystemSetting(context.Background(), db, "missing")
	require.NoError(t, err)
	require.Equal(t, "", value)

	require.NoError(t, UpsertSystemSetting(context.Background(), db, "sample", "value1"))

	retrieved, err := GetSystemSetting(context.Background(), db, "sample")
	require.NoError(t, err)
	require.Equal(t, "value1", retrieved)

	require.NoError(t, UpsertSystemSetting(context.Background(), db, "sample", "value2"))

	retrieved, err = GetSystemSetting(context.Background(), db, "sample")
	require.NoError(t, err)
	require.Equal(t, "value2", retrieved)
}

func TestJobRunRoundTrip(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))
	ctx := context.Background()

	_, ok, err := LastJobRun(ctx, db, "scratch_purge")
	require.NoError(t, err)
	require.False(t, ok)

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, RecordJobRun(ctx, db, "scratch_purge", at))

	last, ok, err := LastJobRun(ctx, db, "scratch_purge")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, at.Equal(last))
	require.Equal(t, "maintenance.scratch_purge.last_run", JobRunSettingKey(" scratch_purge "))
}

func TestGetSystemSettingWithoutTable(t *testing.T) {
	db := openTestDB(t)

	value, err := GetSystemSetting(context.Background(), db, "anything")
	require.NoError(t, err)
	require.Empty(t, value)
}
