package repository

import (
	"context"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// statementRows caps rows per INSERT statement so a write chunk stays under
// driver bind-variable limits. A chunk still commits in one transaction.
const statementRows = 500

// RawRecordRepository stores raw supplier records.
type RawRecordRepository struct {
	db *gorm.DB
}

// NewRawRecordRepository creates a new RawRecordRepository.
func NewRawRecordRepository(db *gorm.DB) *RawRecordRepository {
	return &RawRecordRepository{db: db}
}

// HashPage returns up to limit (external id, hash) pairs for a supplier whose
// external id sorts after the given key.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - supplierID: supplier whose records are listed.
//   - after: exclusive keyset position; empty starts from the beginning.
//   - limit: page size.
// Returns:
//   - []domain.RecordHash: the page ordered by external id.
//   - error: non-nil if the query fails.
func (r *RawRecordRepository) HashPage(ctx context.Context, supplierID, after string, limit int) ([]domain.RecordHash, error) {
	var rows []domain.RecordHash
	err := r.db.WithContext(ctx).
		Model(&domain.RawRecord{}).
		Select("external_id, content_hash").
		Where("supplier_id = ? AND external_id > ?", supplierID, after).
		Order("external_id").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// InsertChunk inserts new records atomically. Any failing row rolls back the
// whole chunk.
func (r *RawRecordRepository) InsertChunk(ctx context.Context, rows []domain.RawRecord) error {
	if len(rows) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).CreateInBatches(&rows, statementRows).Error)
}

// MergeChunk upserts records keyed on (supplier_id, external_id). Content
// columns are replaced and the record is queued for normalization again.
func (r *RawRecordRepository) MergeChunk(ctx context.Context, rows []domain.RawRecord) error {
	if len(rows) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "supplier_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"payload", "content_hash", "collected_at", "processed", "normalize_error", "updated_at",
		}),
	}).CreateInBatches(&rows, statementRows).Error)
}

// GetByKey retrieves a record by supplier and external id.
func (r *RawRecordRepository) GetByKey(ctx context.Context, supplierID, externalID string) (*domain.RawRecord, error) {
	var rec domain.RawRecord
	err := r.db.WithContext(ctx).
		First(&rec, "supplier_id = ? AND external_id = ?", supplierID, externalID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

// ListByKeys retrieves the records of a supplier matching the external ids.
func (r *RawRecordRepository) ListByKeys(ctx context.Context, supplierID string, externalIDs []string) ([]domain.RawRecord, error) {
	var recs []domain.RawRecord
	if len(externalIDs) == 0 {
		return recs, nil
	}
	err := r.db.WithContext(ctx).
		Where("supplier_id = ? AND external_id IN ?", supplierID, externalIDs).
		Order("id").
		Find(&recs).Error
	return recs, err
}

// ListUnprocessed pages through records that still need normalization, by id.
func (r *RawRecordRepository) ListUnprocessed(ctx context.Context, supplierID, afterID string, limit int) ([]domain.RawRecord, error) {
	var recs []domain.RawRecord
	err := r.db.WithContext(ctx).
		Where("supplier_id = ? AND processed = ? AND id > ?", supplierID, false, afterID).
		Order("id").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// ProcessedMark identifies a record version that was normalized. The content
// hash guards against marking a record that changed in the meantime.
type ProcessedMark struct {
	ID          string
	ContentHash string
	Reason      string
}

// MarkProcessed flags record versions as normalized and stores skip reasons.
// Rows whose content hash moved on are left unprocessed.
func (r *RawRecordRepository) MarkProcessed(ctx context.Context, marks []ProcessedMark) error {
	if len(marks) == 0 {
		return nil
	}
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var clean [][]interface{}
		for _, m := range marks {
			if m.Reason != "" {
				err := tx.Model(&domain.RawRecord{}).
					Where("id = ? AND content_hash = ?", m.ID, m.ContentHash).
					Updates(map[string]interface{}{"processed": true, "normalize_error": m.Reason, "updated_at": now}).Error
				if err != nil {
					return err
				}
				continue
			}
			clean = append(clean, []interface{}{m.ID, m.ContentHash})
		}
		if len(clean) == 0 {
			return nil
		}
		return tx.Model(&domain.RawRecord{}).
			Where("(id, content_hash) IN ?", clean).
			Updates(map[string]interface{}{"processed": true, "normalize_error": "", "updated_at": now}).Error
	})
}

// ResetProcessed queues every record of a supplier for normalization again.
// Returns:
//   - int64: number of records reset.
//   - error: non-nil if the update fails.
func (r *RawRecordRepository) ResetProcessed(ctx context.Context, supplierID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.RawRecord{}).
		Where("supplier_id = ?", supplierID).
		Updates(map[string]interface{}{"processed": false, "normalize_error": ""})
	return res.RowsAffected, res.Error
}

// CountBySupplier returns the number of raw records held for a supplier.
func (r *RawRecordRepository) CountBySupplier(ctx context.Context, supplierID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.RawRecord{}).Where("supplier_id = ?", supplierID).Count(&count).Error
	return count, err
}
