package models

import "time"

// RateCounter is a fixed-window request counter shared by every instance
// pointed at the same database.
type RateCounter struct {
	Key       string    `gorm:"primaryKey;type:varchar(255)"`
	Count     int       `gorm:"not null;default:0"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
