package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/repository"
	"github.com/timmy/catalogsync/internal/service"
	"github.com/timmy/catalogsync/internal/source"
	"github.com/timmy/catalogsync/internal/source/registry"
)

const (
	defaultBatchLimit = 20
	maxBatchLimit     = 200
)

// AdminHandler triggers collection, normalization and repricing runs and
// reports batch progress.
type AdminHandler struct {
	ingest    *service.IngestService
	normalize *service.NormalizeService
	pricing   *service.PricingService
	batches   *repository.BatchRepository
	adapters  *registry.Registry
	filters   map[string]source.Filter

	// baseCtx outlives requests; cancelling it fails runs still in progress.
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - baseCtx: parent context of background collection runs.
//   - ingest: collection service.
//   - normalize: normalization service.
//   - pricing: pricing service.
//   - batches: batch store for progress queries.
//   - adapters: registered provider adapters.
//   - filters: configured default filter per supplier; may be nil.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(
	baseCtx context.Context,
	ingest *service.IngestService,
	normalize *service.NormalizeService,
	pricing *service.PricingService,
	batches *repository.BatchRepository,
	adapters *registry.Registry,
	filters map[string]source.Filter,
) *AdminHandler {
	return &AdminHandler{
		ingest:    ingest,
		normalize: normalize,
		pricing:   pricing,
		batches:   batches,
		adapters:  adapters,
		filters:   filters,
		baseCtx:   baseCtx,
	}
}

// Wait blocks until every background run started by the handler returned.
func (h *AdminHandler) Wait() {
	h.wg.Wait()
}

func abortWithError(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

// CollectRequest represents the collect API request. Filter fields override
// the supplier's configured filter when any of them is set.
type CollectRequest struct {
	Supplier string `json:"supplier" binding:"required"`
	Account  string `json:"account"`
	Category string `json:"category"`
	Keyword  string `json:"keyword"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// CollectResponse represents the collect API response.
type CollectResponse struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

// BatchView is a batch with its derived progress.
type BatchView struct {
	domain.Batch
	Progress int `json:"progress"`
}

func viewOf(b *domain.Batch) BatchView {
	return BatchView{Batch: *b, Progress: b.Progress()}
}

// TriggerCollect starts a collection batch in the background and answers
// with its id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) TriggerCollect(c *gin.Context) {
	ctx := c.Request.Context()

	var req CollectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	adapter, ok := h.adapters.Get(req.Supplier)
	if !ok {
		logger.CtxWarn(ctx, "Unknown supplier requested: supplier=%s, client_ip=%s", req.Supplier, c.ClientIP())
		abortWithError(c, http.StatusNotFound, errors.New("unknown supplier: "+req.Supplier))
		return
	}

	filter := h.filters[req.Supplier]
	if req.Category != "" || req.Keyword != "" || req.From != "" || req.To != "" {
		f, err := registry.FilterFromConfig(config.FilterConfig{
			Category: req.Category,
			Keyword:  req.Keyword,
			From:     req.From,
			To:       req.To,
		})
		if err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		filter = f
	}

	run, err := h.ingest.Tracker().Begin(ctx, req.Supplier, req.Account)
	if err != nil {
		if errors.Is(err, service.ErrRunInProgress) {
			logger.CtxWarn(ctx, "Collect rejected: supplier=%s, account=%s, already running", req.Supplier, req.Account)
			abortWithError(c, http.StatusConflict, err)
			return
		}
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	// The run must not end with the request.
	runCtx := logger.SetRequestID(h.baseCtx, logger.GetRequestID(ctx))
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.ingest.Execute(runCtx, run, adapter, filter); err != nil {
			logger.CtxError(runCtx, "Background collection failed: supplier=%s, batch_id=%s, error=%v",
				req.Supplier, run.ID(), err)
		}
	}()

	c.JSON(http.StatusAccepted, CollectResponse{BatchID: run.ID(), Status: string(domain.BatchStatusRunning)})
}

// ListBatches returns the latest batches, optionally for one supplier.
func (h *AdminHandler) ListBatches(c *gin.Context) {
	limit := defaultBatchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortWithError(c, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxBatchLimit)
	}

	batches, err := h.batches.ListRecent(c.Request.Context(), c.Query("supplier"), limit)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	views := make([]BatchView, 0, len(batches))
	for i := range batches {
		views = append(views, viewOf(&batches[i]))
	}
	c.JSON(http.StatusOK, gin.H{"batches": views})
}

// GetBatch returns one batch with its progress.
func (h *AdminHandler) GetBatch(c *gin.Context) {
	b, err := h.batches.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, errors.New("batch not found"))
			return
		}
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(b))
}

// NormalizeRequest represents the normalize API request.
type NormalizeRequest struct {
	Supplier string `json:"supplier" binding:"required"`
	Reset    bool   `json:"reset"`
}

// TriggerNormalize normalizes the pending records of a supplier and answers
// with the pass statistics.
func (h *AdminHandler) TriggerNormalize(c *gin.Context) {
	ctx := c.Request.Context()

	var req NormalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if req.Reset {
		if _, err := h.normalize.Reset(ctx, req.Supplier); err != nil {
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
	}
	stats, err := h.normalize.Run(ctx, req.Supplier)
	if err != nil {
		if errors.Is(err, service.ErrNoMapping) {
			abortWithError(c, http.StatusNotFound, err)
			return
		}
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RepriceRequest represents the reprice API request.
type RepriceRequest struct {
	Supplier    string `json:"supplier" binding:"required"`
	Marketplace string `json:"marketplace" binding:"required"`
}

// TriggerReprice prices every product of a supplier for a marketplace.
func (h *AdminHandler) TriggerReprice(c *gin.Context) {
	var req RepriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	stats, err := h.pricing.Reprice(c.Request.Context(), req.Supplier, req.Marketplace)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
