package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/meetrec/internal/models"
	"github.com/charlesng35/meetrec/internal/monitoring"
)

// FinalizedRecording describes a recording retained when a meeting ended.
type FinalizedRecording struct {
	MeetingID    string
	Path         string
	Codec        string
	Participants []string
	StartedAt    time.Time
	EndedAt      time.Time
}

// RecordingCatalog persists finalized recordings.
type RecordingCatalog interface {
	RecordFinalized(ctx context.Context, recording FinalizedRecording) error
	MarkUploaded(ctx context.Context, path, location string) error
}

// CatalogOption customises a GormRecordingCatalog.
type CatalogOption func(*GormRecordingCatalog)

// WithRetentionDays sets how long catalogued recordings are kept. Zero keeps
// them forever.
func WithRetentionDays(days int) CatalogOption {
	return func(c *GormRecordingCatalog) {
		if days >= 0 {
			c.retentionDays = days
		}
	}
}

// WithCatalogClock injects a custom clock (primarily for tests).
func WithCatalogClock(clock func() time.Time) CatalogOption {
	return func(c *GormRecordingCatalog) {
		if clock != nil {
			c.now = clock
		}
	}
}

// GormRecordingCatalog stores MeetingRecording rows through gorm.
type GormRecordingCatalog struct {
	db            *gorm.DB
	store         SegmentStore
	retentionDays int
	now           func() time.Time
}

func NewRecordingCatalog(db *gorm.DB, store SegmentStore, opts ...CatalogOption) (*GormRecordingCatalog, error) {
	if db == nil {
		return nil, errors.New("recording catalog: db is required")
	}
	if store == nil {
		return nil, errors.New("recording catalog: segment store is required")
	}
	catalog := &GormRecordingCatalog{
		db:    db,
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(catalog)
	}
	return catalog, nil
}

// RecordFinalized stores the recording with its size and checksum. Recording
// the same path twice is not an error.
func (c *GormRecordingCatalog) RecordFinalized(ctx context.Context, recording FinalizedRecording) error {
	ctx = ensureContext(ctx)

	info, err := c.store.Stat(ctx, recording.Path)
	if err != nil {
		return fmt.Errorf("recording catalog: %w", err)
	}
	checksum, err := fileChecksum(recording.Path)
	if err != nil {
		return fmt.Errorf("recording catalog: checksum %s: %w", recording.Path, err)
	}

	participants, err := json.Marshal(recording.Participants)
	if err != nil {
		return fmt.Errorf("recording catalog: encode participants: %w", err)
	}

	row := models.MeetingRecording{
		MeetingID:    recording.MeetingID,
		StoragePath:  recording.Path,
		SizeBytes:    info.Size,
		Codec:        recording.Codec,
		Checksum:     checksum,
		Participants: datatypes.JSON(participants),
		StartedAt:    recording.StartedAt.UTC(),
		EndedAt:      recording.EndedAt.UTC(),
	}
	if c.retentionDays > 0 {
		until := c.now().UTC().Add(time.Duration(c.retentionDays) * 24 * time.Hour)
		row.RetentionUntil = &until
	}

	if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil
		}
		return fmt.Errorf("recording catalog: create record: %w", err)
	}
	return nil
}

// MarkUploaded stores the remote location of an uploaded recording.
func (c *GormRecordingCatalog) MarkUploaded(ctx context.Context, path, location string) error {
	result := c.db.WithContext(ensureContext(ctx)).
		Model(&models.MeetingRecording{}).
		Where("storage_path = ?", path).
		Update("upload_url", location)
	if result.Error != nil {
		return fmt.Errorf("recording catalog: mark uploaded: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("recording catalog: no record for %s", path)
	}
	return nil
}

// ListByMeeting returns the catalogued recordings of a meeting, newest first.
func (c *GormRecordingCatalog) ListByMeeting(ctx context.Context, meetingID string) ([]models.MeetingRecording, error) {
	var records []models.MeetingRecording
	err := c.db.WithContext(ensureContext(ctx)).
		Where("meeting_id = ?", strings.TrimSpace(meetingID)).
		Order("ended_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("recording catalog: list recordings: %w", err)
	}
	return records, nil
}

// CleanupExpired removes recordings whose retention window has elapsed along
// with their files. The optional limit constrains how many rows are purged.
func (c *GormRecordingCatalog) CleanupExpired(ctx context.Context, limit int) (int, error) {
	if c == nil {
		return 0, nil
	}
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 100
	}

	var records []models.MeetingRecording
	err := c.db.WithContext(ctx).
		Where("retention_until IS NOT NULL AND retention_until <= ?", c.now().UTC()).
		Order("retention_until ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return 0, fmt.Errorf("recording catalog: fetch expired recordings: %w", err)
	}

	var multiErr error
	purged := 0
	for _, record := range records {
		if err := c.store.Delete(ctx, record.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			multiErr = multierr.Append(multiErr, fmt.Errorf("recording catalog: delete file %s: %w", record.ID, err))
		}
		if err := c.db.WithContext(ctx).Delete(&models.MeetingRecording{}, "id = ?", record.ID).Error; err != nil {
			multiErr = multierr.Append(multiErr, fmt.Errorf("recording catalog: delete record %s: %w", record.ID, err))
			continue
		}
		purged++
		monitoring.RecordMeetingEvent("recording_purged")
	}
	return purged, multiErr
}

func fileChecksum(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, fh); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
