package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/metrics"
	"github.com/timmy/catalogsync/internal/normalize"
	"github.com/timmy/catalogsync/internal/repository"
)

// ErrNoMapping is returned for a supplier without a field mapping.
var ErrNoMapping = errors.New("no mapping configured for supplier")

// NormalizeStats counts the outcome of one normalization pass.
type NormalizeStats struct {
	Processed  int `json:"processed"`
	Normalized int `json:"normalized"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// NormalizeService turns unprocessed raw records into canonical products.
type NormalizeService struct {
	rawRepo     *repository.RawRecordRepository
	productRepo *repository.ProductRepository
	mappings    normalize.Mappings
	writer      *BulkWriter[domain.CanonicalProduct]
	metrics     *metrics.Metrics
	pageSize    int
}

// NewNormalizeService creates a new NormalizeService.
func NewNormalizeService(
	rawRepo *repository.RawRecordRepository,
	productRepo *repository.ProductRepository,
	mappings normalize.Mappings,
	m *metrics.Metrics,
	pageSize int,
	ingestCfg *IngestConfig,
) *NormalizeService {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &NormalizeService{
		rawRepo:     rawRepo,
		productRepo: productRepo,
		mappings:    mappings,
		writer: NewBulkWriter(ingestCfg.ChunkSize, ingestCfg.ShrinkFactor, ingestCfg.MinChunk,
			domain.CanonicalProduct.Key),
		metrics:  m,
		pageSize: pageSize,
	}
}

func (s *NormalizeService) mapping(supplierID string) (normalize.Mapping, error) {
	m, ok := s.mappings[supplierID]
	if !ok {
		return normalize.Mapping{}, fmt.Errorf("%w: %s", ErrNoMapping, supplierID)
	}
	return m, nil
}

// Run normalizes every unprocessed record of a supplier.
func (s *NormalizeService) Run(ctx context.Context, supplierID string) (*NormalizeStats, error) {
	m, err := s.mapping(supplierID)
	if err != nil {
		return nil, err
	}
	ctx = logger.SetComponent(logger.SetSupplier(ctx, supplierID), "normalizer")
	start := time.Now()

	stats := &NormalizeStats{}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		recs, err := s.rawRepo.ListUnprocessed(ctx, supplierID, after, s.pageSize)
		if err != nil {
			return stats, fmt.Errorf("list unprocessed: %w", err)
		}
		if len(recs) == 0 {
			break
		}
		if err := s.process(ctx, supplierID, m, recs, stats); err != nil {
			return stats, err
		}
		after = recs[len(recs)-1].ID
		if len(recs) < s.pageSize {
			break
		}
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldCount:      stats.Processed,
	}).Info(ctx, "Normalization finished: normalized=%d, skipped=%d, failed=%d",
		stats.Normalized, stats.Skipped, stats.Failed)
	return stats, nil
}

// NormalizeKeys normalizes specific records, whatever their processed flag.
// It is the target of the change feed.
func (s *NormalizeService) NormalizeKeys(ctx context.Context, supplierID string, externalIDs []string) (*NormalizeStats, error) {
	m, err := s.mapping(supplierID)
	if err != nil {
		return nil, err
	}
	stats := &NormalizeStats{}
	for start := 0; start < len(externalIDs); start += s.pageSize {
		end := min(start+s.pageSize, len(externalIDs))
		recs, err := s.rawRepo.ListByKeys(ctx, supplierID, externalIDs[start:end])
		if err != nil {
			return stats, fmt.Errorf("list records: %w", err)
		}
		if err := s.process(ctx, supplierID, m, recs, stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// Reset queues every record of a supplier for normalization again.
func (s *NormalizeService) Reset(ctx context.Context, supplierID string) (int64, error) {
	n, err := s.rawRepo.ResetProcessed(ctx, supplierID)
	if err != nil {
		return 0, err
	}
	logger.CtxInfo(ctx, "Normalization reset: supplier=%s, records=%d", supplierID, n)
	return n, nil
}

func (s *NormalizeService) process(ctx context.Context, supplierID string, m normalize.Mapping, recs []domain.RawRecord, stats *NormalizeStats) error {
	products := make([]domain.CanonicalProduct, 0, len(recs))
	hashes := make(map[string]domain.RawRecord, len(recs))
	var marks []repository.ProcessedMark

	for i := range recs {
		rec := &recs[i]
		stats.Processed++
		p, err := normalize.Normalize(normalize.InputFromRecord(rec), m)
		if err != nil {
			var skip *normalize.SkipError
			if !errors.As(err, &skip) {
				return err
			}
			stats.Skipped++
			marks = append(marks, repository.ProcessedMark{ID: rec.ID, ContentHash: rec.ContentHash, Reason: skip.Reason})
			continue
		}
		products = append(products, p)
		hashes[p.ExternalID] = *rec
	}

	res, err := s.writer.Write(ctx, products, s.productRepo.UpsertChunk, func(committed []domain.CanonicalProduct) {
		for _, p := range committed {
			rec := hashes[p.ExternalID]
			marks = append(marks, repository.ProcessedMark{ID: rec.ID, ContentHash: rec.ContentHash})
		}
	})
	stats.Normalized += res.Written
	stats.Failed += len(res.Failures)
	for _, f := range res.Failures {
		logger.CtxWarn(ctx, "Product write failed: external_id=%s, reason=%s", f.Key, f.Reason)
	}
	if err != nil {
		return err
	}

	if err := s.rawRepo.MarkProcessed(ctx, marks); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	s.metrics.Normalized(supplierID, "ok", res.Written)
	s.metrics.Normalized(supplierID, "skipped", len(marks)-res.Written)
	s.metrics.Normalized(supplierID, "failed", len(res.Failures))
	return nil
}
