package models

import (
	"time"

	"gorm.io/datatypes"
)

// MeetingRecording catalogues a finalized meeting recording on disk.
type MeetingRecording struct {
	BaseModel

	MeetingID      string         `gorm:"type:varchar(128);not null;index" json:"meeting_id"`
	StoragePath    string         `gorm:"type:varchar(512);not null;uniqueIndex" json:"storage_path"`
	SizeBytes      int64          `gorm:"not null;default:0" json:"size_bytes"`
	Codec          string         `gorm:"type:varchar(32)" json:"codec,omitempty"`
	Checksum       string         `gorm:"type:varchar(128)" json:"checksum,omitempty"`
	Participants   datatypes.JSON `gorm:"type:json" json:"participants,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `gorm:"index" json:"ended_at"`
	UploadURL      string         `gorm:"type:varchar(1024)" json:"upload_url,omitempty"`
	RetentionUntil *time.Time     `gorm:"index" json:"retention_until,omitempty"`
}
