package domain

import (
	"time"

	"gorm.io/datatypes"
)

// BatchStatus represents the status of a collection batch.
// Values include BatchStatusPending, BatchStatusRunning, BatchStatusCompleted, and BatchStatusFailed.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// FailedItem identifies one record that could not be persisted.
type FailedItem struct {
	ExternalID string `json:"external_id"`
	Reason     string `json:"reason"`
}

// Batch represents one collection run for a supplier account and its progress.
// Total only becomes final once Sealed is set; Collected and Failed never
// exceed it. A running batch belongs to the tracker named by Owner for as
// long as HeartbeatAt keeps moving; at most one batch per supplier account
// may be running.
type Batch struct {
	ID          string                          `gorm:"type:text;primaryKey" json:"id"`
	SupplierID  string                          `gorm:"type:text;not null;index:idx_batches_key;uniqueIndex:idx_batches_running,where:status = 'running'" json:"supplier_id"`
	AccountID   string                          `gorm:"type:text;not null;index:idx_batches_key;uniqueIndex:idx_batches_running,where:status = 'running'" json:"account_id"`
	Status      BatchStatus                     `gorm:"type:text;not null;index:idx_batches_status" json:"status"`
	Owner       string                          `gorm:"type:text;not null;default:''" json:"owner"`
	HeartbeatAt *time.Time                      `json:"heartbeat_at,omitempty"`
	Total       int                             `gorm:"not null;default:0" json:"total"`
	Collected   int                             `gorm:"not null;default:0" json:"collected"`
	Failed      int                             `gorm:"not null;default:0" json:"failed"`
	Sealed      bool                            `gorm:"not null" json:"sealed"`
	Inserted    int                             `gorm:"not null;default:0" json:"inserted"`
	Updated     int                             `gorm:"not null;default:0" json:"updated"`
	Unchanged   int                             `gorm:"not null;default:0" json:"unchanged"`
	FailedItems datatypes.JSONSlice[FailedItem] `json:"failed_items"`
	StartedAt   *time.Time                      `json:"started_at,omitempty"`
	CompletedAt *time.Time                      `json:"completed_at,omitempty"`
	ErrorLog    string                          `gorm:"type:text" json:"error_log,omitempty"`
	CreatedAt   time.Time                       `json:"created_at"`
	UpdatedAt   time.Time                       `json:"updated_at"`
}

// TableName returns the database table name for Batch.
func (Batch) TableName() string {
	return "batches"
}

// Progress returns floor((collected+failed)*100/total).
func (b *Batch) Progress() int {
	if b.Total <= 0 {
		if b.Status == BatchStatusCompleted {
			return 100
		}
		return 0
	}
	return (b.Collected + b.Failed) * 100 / b.Total
}
