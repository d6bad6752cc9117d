package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/meetrec/internal/database/testutil"
	"github.com/charlesng35/meetrec/internal/models"
)

func writeRecording(t *testing.T, store *FilesystemSegmentStore, meetingID, content string) string {
	t.Helper()
	path := store.Allocate(meetingID, OutputCumulative, ".mp3")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRecordingCatalog_RecordFinalized(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	catalog, err := NewRecordingCatalog(db, store, WithRetentionDays(7), WithCatalogClock(func() time.Time { return now }))
	require.NoError(t, err)

	path := writeRecording(t, store, "m1", "cumulative-audio")
	recording := FinalizedRecording{
		MeetingID:    "m1",
		Path:         path,
		Codec:        "mp3",
		Participants: []string{"u1", "u2"},
		StartedAt:    now.Add(-time.Hour),
		EndedAt:      now,
	}
	require.NoError(t, catalog.RecordFinalized(context.Background(), recording))
	// Same path again is tolerated.
	require.NoError(t, catalog.RecordFinalized(context.Background(), recording))

	records, err := catalog.ListByMeeting(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	sum := sha256.Sum256([]byte("cumulative-audio"))
	record := records[0]
	require.NotEmpty(t, record.ID)
	require.Equal(t, path, record.StoragePath)
	require.EqualValues(t, len("cumulative-audio"), record.SizeBytes)
	require.Equal(t, hex.EncodeToString(sum[:]), record.Checksum)
	require.JSONEq(t, `["u1","u2"]`, string(record.Participants))
	require.NotNil(t, record.RetentionUntil)
	require.True(t, record.RetentionUntil.Equal(now.Add(7*24*time.Hour)))
}

func TestRecordingCatalog_RecordFinalizedMissingFile(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := newTestStore(t)
	catalog, err := NewRecordingCatalog(db, store)
	require.NoError(t, err)

	err = catalog.RecordFinalized(context.Background(), FinalizedRecording{
		MeetingID: "m1",
		Path:      store.Allocate("m1", OutputCumulative, ".mp3"),
	})
	require.Error(t, err)
}

func TestRecordingCatalog_MarkUploaded(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := newTestStore(t)
	catalog, err := NewRecordingCatalog(db, store)
	require.NoError(t, err)

	path := writeRecording(t, store, "m1", "audio")
	require.NoError(t, catalog.RecordFinalized(context.Background(), FinalizedRecording{MeetingID: "m1", Path: path}))

	require.NoError(t, catalog.MarkUploaded(context.Background(), path, "https://store/final/m1/a.mp3"))
	require.Error(t, catalog.MarkUploaded(context.Background(), "/nowhere.mp3", "https://store/x"))

	var record models.MeetingRecording
	require.NoError(t, db.Where("storage_path = ?", path).First(&record).Error)
	require.Equal(t, "https://store/final/m1/a.mp3", record.UploadURL)
	require.Nil(t, record.RetentionUntil)
}

func TestRecordingCatalog_ListByMeetingNewestFirst(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := newTestStore(t)
	catalog, err := NewRecordingCatalog(db, store)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	older := writeRecording(t, store, "m1", "first")
	newer := writeRecording(t, store, "m1", "second")
	other := writeRecording(t, store, "m2", "other")

	require.NoError(t, catalog.RecordFinalized(context.Background(), FinalizedRecording{MeetingID: "m1", Path: older, EndedAt: base}))
	require.NoError(t, catalog.RecordFinalized(context.Background(), FinalizedRecording{MeetingID: "m1", Path: newer, EndedAt: base.Add(time.Hour)}))
	require.NoError(t, catalog.RecordFinalized(context.Background(), FinalizedRecording{MeetingID: "m2", Path: other, EndedAt: base}))

	records, err := catalog.ListByMeeting(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, newer, records[0].StoragePath)
	require.Equal(t, older, records[1].StoragePath)
}

func TestRecordingCatalog_CleanupExpired(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := newTestStore(t)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	catalog, err := NewRecordingCatalog(db, store, WithRetentionDays(1), WithCatalogClock(clock))
	require.NoError(t, err)

	expired := writeRecording(t, store, "m1", "old")
	require.NoError(t, catalog.RecordFinalized(context.Background(), FinalizedRecording{MeetingID: "m1", Path: expired}))

	current = current.Add(36 * time.Hour)
	fresh := writeRecording(t, store, "m2", "new")
	require.NoError(t, catalog.RecordFinalized(context.Background(), FinalizedRecording{MeetingID: "m2", Path: fresh}))

	purged, err := catalog.CleanupExpired(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	_, statErr := os.Stat(expired)
	require.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(fresh)
	require.NoError(t, statErr)

	var count int64
	require.NoError(t, db.Model(&models.MeetingRecording{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestNewRecordingCatalogRequiresDependencies(t *testing.T) {
	_, err := NewRecordingCatalog(nil, newTestStore(t))
	require.Error(t, err)

	db := testutil.MustOpenTestDB(t)
	_, err = NewRecordingCatalog(db, nil)
	require.Error(t, err)
}
