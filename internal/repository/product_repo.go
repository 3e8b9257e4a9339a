package repository

import (
	"context"

	"github.com/timmy/catalogsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductRepository stores canonical products.
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new ProductRepository.
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// UpsertChunk creates or refreshes products keyed by (supplier_id, external_id).
func (r *ProductRepository) UpsertChunk(ctx context.Context, rows []domain.CanonicalProduct) error {
	if len(rows) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "supplier_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"raw_record_id", "title", "price", "cost_price", "stock",
			"category", "brand", "attributes", "status", "updated_at",
		}),
	}).CreateInBatches(&rows, statementRows).Error)
}

// GetByKey retrieves a product by supplier and external id.
func (r *ProductRepository) GetByKey(ctx context.Context, supplierID, externalID string) (*domain.CanonicalProduct, error) {
	var p domain.CanonicalProduct
	err := r.db.WithContext(ctx).
		First(&p, "supplier_id = ? AND external_id = ?", supplierID, externalID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// Page lists a supplier's products ordered by id, starting after afterID.
func (r *ProductRepository) Page(ctx context.Context, supplierID, afterID string, limit int) ([]domain.CanonicalProduct, error) {
	var products []domain.CanonicalProduct
	err := r.db.WithContext(ctx).
		Where("supplier_id = ? AND id > ?", supplierID, afterID).
		Order("id").
		Limit(limit).
		Find(&products).Error
	return products, err
}
