package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/metrics"
	"github.com/timmy/catalogsync/internal/repository"
)

var (
	// ErrRunInProgress is returned when a supplier account already has a running batch.
	ErrRunInProgress = errors.New("a collection run is already in progress")
	// ErrCounterOverflow is returned when recording would exceed the batch total.
	ErrCounterOverflow = errors.New("batch counters would exceed total")
	// ErrBatchClosed is returned for any change to a completed or failed batch.
	ErrBatchClosed = errors.New("batch is closed")
	// ErrTotalSealed is returned when the total is changed after sealing.
	ErrTotalSealed = errors.New("batch total is sealed")
)

// interruptedCause is recorded for runs abandoned by a previous process.
const interruptedCause = "interrupted"

// DefaultBatchLease is how long a running batch survives without a heartbeat.
const DefaultBatchLease = 2 * time.Minute

// Tracker owns the lifecycle of collection batches.
type Tracker struct {
	batches *repository.BatchRepository
	metrics *metrics.Metrics
	owner   string
	lease   time.Duration
	now     func() time.Time

	mu     sync.Mutex
	active map[string]*Run
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithLease sets how long a running batch may go without a heartbeat before
// another tracker may fail it.
func WithLease(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.lease = d
		}
	}
}

// NewTracker creates a new Tracker with its own owner id.
func NewTracker(batches *repository.BatchRepository, m *metrics.Metrics, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		batches: batches,
		metrics: m,
		owner:   uuid.New().String(),
		lease:   DefaultBatchLease,
		now:     func() time.Time { return time.Now().UTC() },
		active:  make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Owner returns the id this tracker stamps on the batches it runs.
func (t *Tracker) Owner() string {
	return t.owner
}

func runKey(supplierID, accountID string) string {
	return supplierID + "\x00" + accountID
}

// Begin starts a batch for a supplier account. The batch leaves pending and
// is stored as running in a single insert, so two processes racing for the
// same account cannot both succeed. A running row whose lease expired is
// failed first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - supplierID: supplier being collected.
//   - accountID: supplier account; may be empty.
// Returns:
//   - *Run: handle for recording progress.
//   - error: ErrRunInProgress if the account already has a running batch.
func (t *Tracker) Begin(ctx context.Context, supplierID, accountID string) (*Run, error) {
	key := runKey(supplierID, accountID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[key]; ok {
		return nil, fmt.Errorf("%w: supplier=%s account=%s", ErrRunInProgress, supplierID, accountID)
	}
	running, err := t.batches.FindRunning(ctx, supplierID, accountID)
	if err != nil {
		return nil, fmt.Errorf("check running batch: %w", err)
	}
	if running != nil {
		failed, err := t.expire(ctx, running)
		if err != nil {
			return nil, err
		}
		if !failed {
			return nil, fmt.Errorf("%w: supplier=%s account=%s batch=%s", ErrRunInProgress, supplierID, accountID, running.ID)
		}
	}

	now := t.now()
	batch := domain.Batch{
		ID:          uuid.New().String(),
		SupplierID:  supplierID,
		AccountID:   accountID,
		Status:      domain.BatchStatusRunning,
		Owner:       t.owner,
		StartedAt:   &now,
		HeartbeatAt: &now,
	}
	if err := t.batches.Create(ctx, &batch); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: supplier=%s account=%s", ErrRunInProgress, supplierID, accountID)
		}
		return nil, fmt.Errorf("create batch: %w", err)
	}

	run := &Run{tracker: t, key: key, id: batch.ID, batch: batch, done: make(chan struct{})}
	t.active[key] = run
	go run.heartbeat(context.WithoutCancel(ctx))
	logger.CtxInfo(ctx, "Batch started: batch_id=%s, supplier=%s, account=%s", batch.ID, supplierID, accountID)
	return run, nil
}

// Active reports whether a run is registered for the supplier account.
func (t *Tracker) Active(supplierID, accountID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[runKey(supplierID, accountID)]
	return ok
}

func (t *Tracker) release(r *Run) {
	t.mu.Lock()
	if t.active[r.key] == r {
		delete(t.active, r.key)
	}
	t.mu.Unlock()
}

// RecoverStale fails running batches whose heartbeat is older than the lease.
// Batches whose owner still heartbeats are left alone, whichever process
// owns them.
// Returns:
//   - int: number of batches failed.
//   - error: non-nil if listing or saving fails.
func (t *Tracker) RecoverStale(ctx context.Context) (int, error) {
	running, err := t.batches.ListRunning(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range running {
		failed, err := t.expire(ctx, &running[i])
		if err != nil {
			return recovered, err
		}
		if failed {
			recovered++
		}
	}
	return recovered, nil
}

// expire fails b if its lease ran out. It reports whether it did.
func (t *Tracker) expire(ctx context.Context, b *domain.Batch) (bool, error) {
	now := t.now()
	failed, err := t.batches.FailExpired(ctx, b.ID, now.Add(-t.lease), now, interruptedCause)
	if err != nil {
		return false, fmt.Errorf("recover batch %s: %w", b.ID, err)
	}
	if failed {
		t.metrics.BatchFinished(b.SupplierID, string(domain.BatchStatusFailed))
		logger.CtxWarn(ctx, "Recovered stale batch: batch_id=%s, supplier=%s, owner=%s", b.ID, b.SupplierID, b.Owner)
	}
	return failed, nil
}

// Run records the progress of one running batch. Every mutation is persisted
// before the method returns. Methods are safe for concurrent use.
type Run struct {
	tracker *Tracker
	key     string
	id      string

	mu    sync.Mutex
	batch domain.Batch
	done  chan struct{}
}

// ID returns the batch id.
func (r *Run) ID() string {
	return r.id
}

// Batch returns a copy of the current batch state.
func (r *Run) Batch() domain.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.batch
	b.FailedItems = append(b.FailedItems[:0:0], r.batch.FailedItems...)
	return b
}

// Done is closed once the batch reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Expand raises the provisional total by n.
func (r *Run) Expand(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	return r.mutate(ctx, func(b *domain.Batch) error {
		if b.Sealed {
			return ErrTotalSealed
		}
		b.Total += n
		return nil
	})
}

// Declare sets the final total and seals it.
func (r *Run) Declare(ctx context.Context, total int) error {
	return r.mutate(ctx, func(b *domain.Batch) error {
		if b.Sealed {
			return ErrTotalSealed
		}
		if total < b.Collected+b.Failed {
			return ErrCounterOverflow
		}
		b.Total = total
		b.Sealed = true
		return nil
	})
}

// Seal marks the current total as final.
func (r *Run) Seal(ctx context.Context) error {
	return r.mutate(ctx, func(b *domain.Batch) error {
		b.Sealed = true
		return nil
	})
}

// RecordCollected counts n records as successfully handled.
func (r *Run) RecordCollected(ctx context.Context, n int) error {
	return r.collect(ctx, n, nil)
}

// RecordInserted counts n newly stored records.
func (r *Run) RecordInserted(ctx context.Context, n int) error {
	return r.collect(ctx, n, func(b *domain.Batch) { b.Inserted += n })
}

// RecordUpdated counts n records whose content was replaced.
func (r *Run) RecordUpdated(ctx context.Context, n int) error {
	return r.collect(ctx, n, func(b *domain.Batch) { b.Updated += n })
}

// RecordUnchanged counts n records that matched the stored hash.
func (r *Run) RecordUnchanged(ctx context.Context, n int) error {
	return r.collect(ctx, n, func(b *domain.Batch) { b.Unchanged += n })
}

func (r *Run) collect(ctx context.Context, n int, tally func(*domain.Batch)) error {
	if n <= 0 {
		return nil
	}
	return r.mutate(ctx, func(b *domain.Batch) error {
		if b.Collected+b.Failed+n > b.Total {
			return ErrCounterOverflow
		}
		b.Collected += n
		if tally != nil {
			tally(b)
		}
		return nil
	})
}

// RecordFailed counts failed records and keeps their reasons.
func (r *Run) RecordFailed(ctx context.Context, items ...domain.FailedItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.mutate(ctx, func(b *domain.Batch) error {
		if b.Collected+b.Failed+len(items) > b.Total {
			return ErrCounterOverflow
		}
		b.Failed += len(items)
		b.FailedItems = append(b.FailedItems, items...)
		return nil
	})
}

// Fail moves the batch to failed, keeping its counters.
func (r *Run) Fail(ctx context.Context, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.batch.Status.Terminal() {
		return ErrBatchClosed
	}
	now := r.tracker.now()
	r.batch.Status = domain.BatchStatusFailed
	r.batch.CompletedAt = &now
	if cause != nil {
		r.batch.ErrorLog = cause.Error()
	}
	err := r.save(ctx)
	if errors.Is(err, ErrBatchClosed) {
		r.abandon(ctx)
		return err
	}
	r.finish()
	logger.CtxError(ctx, "Batch failed: batch_id=%s, collected=%d, failed=%d, total=%d, error=%v",
		r.batch.ID, r.batch.Collected, r.batch.Failed, r.batch.Total, cause)
	return err
}

// mutate applies change, completes the batch when it is sealed and fully
// accounted for, and persists. A rejected change leaves the batch untouched.
func (r *Run) mutate(ctx context.Context, change func(*domain.Batch) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.batch.Status.Terminal() {
		return ErrBatchClosed
	}

	next := r.batch
	next.FailedItems = append(r.batch.FailedItems[:0:0], r.batch.FailedItems...)
	if err := change(&next); err != nil {
		return err
	}

	completed := next.Sealed && next.Collected+next.Failed == next.Total
	if completed {
		now := r.tracker.now()
		next.Status = domain.BatchStatusCompleted
		next.CompletedAt = &now
	}
	prev := r.batch
	r.batch = next

	if err := r.save(ctx); err != nil {
		if errors.Is(err, ErrBatchClosed) {
			r.abandon(ctx)
		} else {
			r.batch = prev
		}
		return err
	}
	if completed {
		r.finish()
		logger.With(logger.Fields{
			logger.FieldCount:  r.batch.Collected,
			logger.FieldStatus: string(r.batch.Status),
		}).Info(ctx, "Batch completed: batch_id=%s, inserted=%d, updated=%d, unchanged=%d, failed=%d",
			r.batch.ID, r.batch.Inserted, r.batch.Updated, r.batch.Unchanged, r.batch.Failed)
	}
	return nil
}

// save writes the batch if this run still owns the stored row. It returns
// ErrBatchClosed when the row was failed or completed elsewhere.
func (r *Run) save(ctx context.Context) error {
	now := r.tracker.now()
	r.batch.HeartbeatAt = &now
	// Persist even when the run's context was cancelled so the final state lands.
	owned, err := r.tracker.batches.SaveOwned(context.WithoutCancel(ctx), &r.batch, r.tracker.owner)
	if err != nil {
		return fmt.Errorf("persist batch %s: %w", r.batch.ID, err)
	}
	if !owned {
		return fmt.Errorf("%w: batch %s is no longer running under this process", ErrBatchClosed, r.batch.ID)
	}
	return nil
}

// abandon gives up a run whose stored row was closed by someone else. The
// local copy takes the stored state so later calls see ErrBatchClosed.
func (r *Run) abandon(ctx context.Context) {
	if stored, err := r.tracker.batches.GetByID(context.WithoutCancel(ctx), r.batch.ID); err == nil {
		r.batch = *stored
	}
	if !r.batch.Status.Terminal() {
		r.batch.Status = domain.BatchStatusFailed
		r.batch.ErrorLog = interruptedCause
	}
	close(r.done)
	r.tracker.release(r)
	logger.CtxWarn(ctx, "Batch taken over while running: batch_id=%s, stored_status=%s", r.batch.ID, r.batch.Status)
}

// heartbeat refreshes the lease until the run closes or loses its row.
func (r *Run) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.tracker.lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			owned, err := r.tracker.batches.Heartbeat(ctx, r.id, r.tracker.owner, r.tracker.now())
			if err != nil {
				logger.CtxWarn(ctx, "Batch heartbeat failed: batch_id=%s, error=%v", r.id, err)
				continue
			}
			if !owned {
				return
			}
		}
	}
}

// finish runs once per batch, on the transition into a terminal state.
func (r *Run) finish() {
	close(r.done)
	r.tracker.release(r)
	r.tracker.metrics.BatchFinished(r.batch.SupplierID, string(r.batch.Status))
}
