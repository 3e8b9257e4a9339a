package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/events"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/metrics"
	"github.com/timmy/catalogsync/internal/repository"
	"github.com/timmy/catalogsync/internal/source"
	"golang.org/x/sync/errgroup"
)

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	WindowSize       int
	ChunkSize        int
	ShrinkFactor     int
	MinChunk         int
	SnapshotPageSize int
	Parallelism      int
}

// IngestService runs collection batches: it pages through an adapter,
// classifies records against the raw store and persists the differences.
type IngestService struct {
	rawRepo   *repository.RawRecordRepository
	tracker   *Tracker
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
	cfg       IngestConfig
}

// NewIngestService creates a new ingest service
func NewIngestService(
	rawRepo *repository.RawRecordRepository,
	tracker *Tracker,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg *IngestConfig,
) *IngestService {
	c := *cfg
	if c.WindowSize <= 0 {
		c.WindowSize = 5000
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &IngestService{
		rawRepo:   rawRepo,
		tracker:   tracker,
		publisher: publisher,
		metrics:   m,
		logger:    log,
		cfg:       c,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *IngestService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Tracker returns the batch tracker used by the service.
func (s *IngestService) Tracker() *Tracker {
	return s.tracker
}

// Collect runs one full collection batch for an adapter.
// Parameters:
//   - ctx: context for cancellation; cancelling fails the batch.
//   - adapter: the supplier's provider adapter.
//   - accountID: supplier account the run belongs to.
//   - filter: optional restrictions forwarded to the provider.
// Returns:
//   - *domain.Batch: final batch state, also on failure.
//   - error: ErrRunInProgress, or the cause that failed the batch.
func (s *IngestService) Collect(ctx context.Context, adapter source.Adapter, accountID string, filter source.Filter) (*domain.Batch, error) {
	run, err := s.tracker.Begin(ctx, adapter.SupplierID(), accountID)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, run, adapter, filter)
}

// Execute drives a run that was already begun. It is the background half of
// Collect, used when the caller must learn the batch id before work starts.
func (s *IngestService) Execute(ctx context.Context, run *Run, adapter source.Adapter, filter source.Filter) (*domain.Batch, error) {
	supplierID := adapter.SupplierID()
	ctx = logger.SetBatchID(ctx, run.ID())
	ctx = logger.SetSupplier(ctx, supplierID)
	start := time.Now()

	err := s.collect(ctx, run, adapter, filter)
	if err != nil {
		if ferr := run.Fail(ctx, err); ferr != nil && !errors.Is(ferr, ErrBatchClosed) {
			s.log(ctx).WithError(ferr).Error("Failed to persist batch failure")
		}
		b := run.Batch()
		return &b, err
	}

	b := run.Batch()
	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldCount:      b.Total,
	}).Info(ctx, "Collection finished: status=%s, inserted=%d, updated=%d, unchanged=%d, failed=%d",
		b.Status, b.Inserted, b.Updated, b.Unchanged, b.Failed)
	return &b, nil
}

func (s *IngestService) collect(ctx context.Context, run *Run, adapter source.Adapter, filter source.Filter) error {
	supplierID := adapter.SupplierID()
	snap, err := LoadSnapshot(ctx, s.rawRepo, supplierID, s.cfg.SnapshotPageSize)
	if err != nil {
		return err
	}
	logger.CtxInfo(ctx, "Snapshot loaded: known_records=%d", snap.Len())

	window := make([]source.RawItem, 0, s.cfg.WindowSize)
	seen := make(map[string]struct{})
	declared := 0
	for page, err := range adapter.Pages(ctx, filter) {
		if err != nil {
			return fmt.Errorf("collect %s: %w", supplierID, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		declared += page.Declared
		if err := s.reject(ctx, run, page.Rejected); err != nil {
			return err
		}
		window = append(window, page.Items...)
		for len(window) >= s.cfg.WindowSize {
			if err := s.flush(ctx, run, snap, seen, window[:s.cfg.WindowSize]); err != nil {
				return err
			}
			window = append(window[:0], window[s.cfg.WindowSize:]...)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(window) > 0 {
		if err := s.flush(ctx, run, snap, seen, window); err != nil {
			return err
		}
	}
	if declared > 0 {
		logger.CtxDebug(ctx, "Provider declared %d items", declared)
	}
	return run.Seal(ctx)
}

// flush persists one window: hash, collapse, classify, then write the new and
// changed sets through their fast paths. seen holds the external ids handled
// by earlier windows of the run; an id is counted and written once per run.
func (s *IngestService) flush(ctx context.Context, run *Run, snap *Snapshot, seen map[string]struct{}, window []source.RawItem) error {
	items, repeated := dropSeen(Collapse(window), seen)
	cls := Classify(items, snap)

	if err := run.Expand(ctx, len(items)); err != nil {
		return err
	}
	if err := run.RecordUnchanged(ctx, cls.Unchanged); err != nil {
		return err
	}
	if err := run.RecordFailed(ctx, cls.Rejected...); err != nil {
		return err
	}

	writer := NewBulkWriter(s.cfg.ChunkSize, s.cfg.ShrinkFactor, s.cfg.MinChunk, domain.RawRecord.Key)
	var trackErr error
	track := func(err error) {
		if err != nil && trackErr == nil {
			trackErr = err
		}
	}

	rerouted := 0
	insert := func(ctx context.Context, rows []domain.RawRecord) error {
		err := s.rawRepo.InsertChunk(ctx, rows)
		if errors.Is(err, domain.ErrDuplicateKey) {
			// Another writer stored some of these keys after the snapshot was taken.
			rerouted += len(rows)
			return s.rawRepo.MergeChunk(ctx, rows)
		}
		return err
	}

	inserted, err := writer.Write(ctx, cls.New, insert, func(rows []domain.RawRecord) {
		snap.Apply(rows)
		track(run.RecordInserted(ctx, len(rows)))
		s.publish(ctx, rows, events.ChangeInserted)
	})
	s.recordFailures(ctx, run, "insert", inserted.Failures, track)
	if err != nil {
		return err
	}

	updated, err := writer.Write(ctx, cls.Changed, s.rawRepo.MergeChunk, func(rows []domain.RawRecord) {
		snap.Apply(rows)
		track(run.RecordUpdated(ctx, len(rows)))
		s.publish(ctx, rows, events.ChangeUpdated)
	})
	s.recordFailures(ctx, run, "merge", updated.Failures, track)
	if err != nil {
		return err
	}

	supplierID := snap.SupplierID
	s.metrics.RowsWritten(supplierID, "insert", "ok", inserted.Written)
	s.metrics.RowsWritten(supplierID, "merge", "ok", updated.Written)
	s.metrics.RowsWritten(supplierID, "insert", "failed", len(inserted.Failures))
	s.metrics.RowsWritten(supplierID, "merge", "failed", len(updated.Failures))
	s.metrics.RowsWritten(supplierID, "reroute", "ok", rerouted)

	logger.With(logger.Fields{logger.FieldSize: len(window), logger.FieldCount: len(items)}).Info(ctx,
		"Window flushed: new=%d, changed=%d, unchanged=%d, rejected=%d, repeated=%d, write_failures=%d, rerouted=%d",
		inserted.Written, updated.Written, cls.Unchanged, len(cls.Rejected), repeated,
		len(inserted.Failures)+len(updated.Failures), rerouted)
	return trackErr
}

// reject counts provider objects that never became items as failed.
func (s *IngestService) reject(ctx context.Context, run *Run, rejected []domain.FailedItem) error {
	if len(rejected) == 0 {
		return nil
	}
	if err := run.Expand(ctx, len(rejected)); err != nil {
		return err
	}
	return run.RecordFailed(ctx, rejected...)
}

// dropSeen removes items already handled by an earlier window and marks the
// rest as seen. It returns the remaining items and how many were dropped.
func dropSeen(items []source.RawItem, seen map[string]struct{}) ([]source.RawItem, int) {
	kept := items[:0]
	for _, it := range items {
		if _, ok := seen[it.ExternalID]; ok {
			continue
		}
		seen[it.ExternalID] = struct{}{}
		kept = append(kept, it)
	}
	return kept, len(items) - len(kept)
}

func (s *IngestService) recordFailures(ctx context.Context, run *Run, path string, failures []RowFailure, track func(error)) {
	if len(failures) == 0 {
		return
	}
	items := make([]domain.FailedItem, 0, len(failures))
	for _, f := range failures {
		items = append(items, domain.FailedItem{ExternalID: f.Key, Reason: f.Reason})
	}
	logger.CtxWarn(ctx, "Rows failed on %s path: count=%d, first=%s (%s)", path, len(items), items[0].ExternalID, items[0].Reason)
	track(run.RecordFailed(ctx, items...))
}

// publish announces committed rows. The feed is a hint for the normalizer;
// a publish failure is logged and the rows stay unprocessed in the store.
func (s *IngestService) publish(ctx context.Context, rows []domain.RawRecord, kind events.ChangeKind) {
	changes := make([]events.Change, 0, len(rows))
	for _, r := range rows {
		changes = append(changes, events.Change{
			SupplierID:  r.SupplierID,
			ExternalID:  r.ExternalID,
			ContentHash: r.ContentHash,
			Kind:        kind,
			CollectedAt: r.CollectedAt,
		})
	}
	if err := s.publisher.Publish(ctx, changes); err != nil {
		logger.CtxWarn(ctx, "Failed to publish changes: count=%d, error=%v", len(changes), err)
	}
}

// SupplierResult is the outcome of one supplier in CollectAll.
type SupplierResult struct {
	SupplierID string
	Batch      *domain.Batch
	Err        error
}

// CollectAll collects several suppliers in parallel, at most Parallelism at a
// time. A failing supplier does not cancel the others. filters holds the
// filter of each supplier; a supplier without an entry is not restricted.
func (s *IngestService) CollectAll(ctx context.Context, adapters []source.Adapter, accountID string, filters map[string]source.Filter) []SupplierResult {
	results := make([]SupplierResult, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, a := range adapters {
		g.Go(func() error {
			b, err := s.Collect(gctx, a, accountID, filters[a.SupplierID()])
			results[i] = SupplierResult{SupplierID: a.SupplierID(), Batch: b, Err: err}
			if err != nil {
				logger.CtxError(gctx, "Supplier collection failed: supplier=%s, error=%v", a.SupplierID(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
