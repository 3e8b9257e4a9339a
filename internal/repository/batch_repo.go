package repository

import (
	"context"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"gorm.io/gorm"
)

// BatchRepository persists collection batches.
type BatchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new BatchRepository.
func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a new batch.
func (r *BatchRepository) Create(ctx context.Context, b *domain.Batch) error {
	return translate(r.db.WithContext(ctx).Create(b).Error)
}

// SaveOwned writes every column of the batch, but only while the stored row
// is still running under owner. It reports false when the row was closed or
// taken over elsewhere, in which case nothing is written.
func (r *BatchRepository) SaveOwned(ctx context.Context, b *domain.Batch, owner string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Batch{ID: b.ID}).
		Where("status = ? AND owner = ?", domain.BatchStatusRunning, owner).
		Select("*").Omit("id", "created_at").
		Updates(b)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Heartbeat refreshes the lease of a running batch held by owner.
func (r *BatchRepository) Heartbeat(ctx context.Context, id, owner string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Batch{}).
		Where("id = ? AND status = ? AND owner = ?", id, domain.BatchStatusRunning, owner).
		Update("heartbeat_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailExpired moves a running batch to failed when its heartbeat is older
// than cutoff. The check and the write are one statement, so a live owner
// that refreshed its heartbeat in between keeps the batch.
func (r *BatchRepository) FailExpired(ctx context.Context, id string, cutoff, now time.Time, cause string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Batch{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusRunning).
		Where("(heartbeat_at IS NULL OR heartbeat_at < ?)", cutoff).
		Updates(map[string]any{
			"status":       domain.BatchStatusFailed,
			"error_log":    cause,
			"completed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetByID retrieves a batch by its ID.
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var b domain.Batch
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// FindRunning returns the running batch for a supplier account, or nil.
func (r *BatchRepository) FindRunning(ctx context.Context, supplierID, accountID string) (*domain.Batch, error) {
	var batches []domain.Batch
	err := r.db.WithContext(ctx).
		Where("supplier_id = ? AND account_id = ? AND status = ?", supplierID, accountID, domain.BatchStatusRunning).
		Limit(1).
		Find(&batches).Error
	if err != nil || len(batches) == 0 {
		return nil, err
	}
	return &batches[0], nil
}

// ListRunning returns every batch still marked running.
func (r *BatchRepository) ListRunning(ctx context.Context) ([]domain.Batch, error) {
	var batches []domain.Batch
	err := r.db.WithContext(ctx).Where("status = ?", domain.BatchStatusRunning).Find(&batches).Error
	return batches, err
}

// ListRecent lists the latest batches, optionally filtered by supplier.
func (r *BatchRepository) ListRecent(ctx context.Context, supplierID string, limit int) ([]domain.Batch, error) {
	var batches []domain.Batch
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if supplierID != "" {
		q = q.Where("supplier_id = ?", supplierID)
	}
	err := q.Find(&batches).Error
	return batches, err
}
