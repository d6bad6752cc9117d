package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/meetrec/internal/models"
)

// GetSystemSetting retrieves a system setting by key. Returns an empty string when not found.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, "key = ?", key).Error
	if err == nil {
		return setting.Value, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return "", nil
	}
	return "", fmt.Errorf("system settings: get %q: %w", key, err)
}

// UpsertSystemSetting stores or updates a system setting value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("system settings: key is required")
	}

	record := models.SystemSetting{
		Key:   key,
		Value: value,
	}

	if err := db.WithContext(ctx).
		Where("key = ?", key).
		Assign(map[string]any{"value": value}).
		FirstOrCreate(&record).Error; err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}

	return nil
}

// JobRunSettingKey is the setting that stores the last successful run of a
// maintenance job.
func JobRunSettingKey(job string) string {
	return "maintenance." + strings.TrimSpace(job) + ".last_run"
}

// RecordJobRun stores at as the last successful run of job.
func RecordJobRun(ctx context.Context, db *gorm.DB, job string, at time.Time) error {
	return UpsertSystemSetting(ctx, db, JobRunSettingKey(job), at.UTC().Format(time.RFC3339Nano))
}

// LastJobRun returns the last recorded run of job. ok is false when the job
// never completed.
func LastJobRun(ctx context.Context, db *gorm.DB, job string) (time.Time, bool, error) {
	value, err := GetSystemSetting(ctx, db, JobRunSettingKey(job))
	if err != nil || value == "" {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("system settings: parse %s: %w", JobRunSettingKey(job), err)
	}
	return at, true, nil
}
