package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ProductStatus is derived from stock or availability fields during normalization.
type ProductStatus string

const (
	ProductStatusActive     ProductStatus = "active"
	ProductStatusOutOfStock ProductStatus = "out_of_stock"
	ProductStatusInactive   ProductStatus = "inactive"
)

// productNamespace scopes deterministic product ids.
var productNamespace = uuid.MustParse("6f1c5b8e-3d7a-4c52-9a0e-2b4d8f61c3a7")

// CanonicalProduct is the schema-unified product built from one RawRecord.
// UpdatedAt mirrors the backing record's CollectedAt so that re-normalizing
// unchanged data produces an identical row.
type CanonicalProduct struct {
	ID          string            `gorm:"type:text;primaryKey" json:"id"`
	RawRecordID string            `gorm:"type:text;not null;index" json:"raw_record_id"`
	SupplierID  string            `gorm:"type:text;not null;index:idx_products_key,unique" json:"supplier_id"`
	ExternalID  string            `gorm:"type:text;not null;index:idx_products_key,unique" json:"external_id"`
	Title       string            `gorm:"type:text;not null" json:"title"`
	Price       decimal.Decimal   `gorm:"type:decimal(18,2);not null" json:"price"`
	CostPrice   decimal.Decimal   `gorm:"type:decimal(18,2);not null" json:"cost_price"`
	Stock       *int              `json:"stock"`
	Category    string            `gorm:"type:text;index:idx_products_category" json:"category"`
	Brand       string            `gorm:"type:text" json:"brand"`
	Attributes  datatypes.JSONMap `json:"attributes"`
	Status      ProductStatus     `gorm:"type:text;not null;index:idx_products_status" json:"status"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime:false" json:"updated_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// TableName returns the database table name for CanonicalProduct.
func (CanonicalProduct) TableName() string {
	return "canonical_products"
}

// Key returns the product's external id.
func (p CanonicalProduct) Key() string {
	return p.ExternalID
}

// ProductID returns the stable id for a (supplier, external id) pair.
func ProductID(supplierID, externalID string) string {
	return uuid.NewSHA1(productNamespace, []byte(supplierID+"/"+externalID)).String()
}
