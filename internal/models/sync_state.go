package models

import (
	"time"
)

// SyncState is the highest UID ingested for an account folder, valid only
// while the folder keeps the same UIDVALIDITY.
type SyncState struct {
	ID          string `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID   string `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_sync_states_folder,priority:1;not null"`
	Folder      string `gorm:"column:folder;type:varchar(255);uniqueIndex:idx_sync_states_folder,priority:2;not null"`
	UIDValidity uint32 `gorm:"column:uid_validity;not null"`
	LastUID     uint32 `gorm:"column:last_uid;not null"`
	// RetryUID is the UID holding the cursor back, RetryAttempts the runs
	// that failed on it so far.
	RetryUID      uint32    `gorm:"column:retry_uid;not null;default:0"`
	RetryAttempts int       `gorm:"column:retry_attempts;not null;default:0"`
	LastSync      time.Time `gorm:"column:last_sync;type:timestamp;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt     time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (SyncState) TableName() string {
	return "sync_states"
}
