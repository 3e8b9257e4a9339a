package domain

import (
	"time"

	"gorm.io/datatypes"
)

// RawRecord is the format-preserved copy of one supplier item as it was
// received, keyed by (supplier, external id).
type RawRecord struct {
	ID             string         `gorm:"type:text;primaryKey" json:"id"`
	SupplierID     string         `gorm:"type:text;not null;index:idx_raw_records_key,unique" json:"supplier_id"`
	ExternalID     string         `gorm:"type:text;not null;index:idx_raw_records_key,unique;check:external_id <> ''" json:"external_id"`
	Payload        datatypes.JSON `gorm:"not null" json:"payload"`
	ContentHash    string         `gorm:"type:text;not null;check:content_hash <> ''" json:"content_hash"`
	CollectedAt    time.Time      `gorm:"not null" json:"collected_at"`
	Processed      bool           `gorm:"not null;index:idx_raw_records_processed" json:"processed"`
	NormalizeError string         `gorm:"type:text" json:"normalize_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName returns the database table name for RawRecord.
func (RawRecord) TableName() string {
	return "raw_records"
}

// Key returns the natural key used for dedup and failure reporting.
func (r RawRecord) Key() string {
	return r.ExternalID
}

// RecordHash is one entry of the existing external id to content hash mapping.
type RecordHash struct {
	ExternalID  string
	ContentHash string
}
