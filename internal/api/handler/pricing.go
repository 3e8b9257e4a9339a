package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/timmy/catalogsync/internal/pricing"
	"github.com/timmy/catalogsync/internal/service"
)

// PricingHandler serves ad-hoc price quotes.
type PricingHandler struct {
	pricing *service.PricingService
}

// NewPricingHandler creates a new pricing handler.
func NewPricingHandler(pricing *service.PricingService) *PricingHandler {
	return &PricingHandler{pricing: pricing}
}

// QuoteRequest represents the quote API request. Cost accepts a JSON number
// or a decimal string.
type QuoteRequest struct {
	Supplier    string            `json:"supplier"`
	Marketplace string            `json:"marketplace" binding:"required"`
	Cost        decimal.Decimal   `json:"cost"`
	Category    string            `json:"category"`
	Brand       string            `json:"brand"`
	Attributes  map[string]string `json:"attributes"`
}

// QuoteResponse is the audited price of one quote.
type QuoteResponse struct {
	Cost       decimal.Decimal `json:"cost"`
	Price      decimal.Decimal `json:"price"`
	RuleID     string          `json:"rule_id,omitempty"`
	RuleName   string          `json:"rule_name,omitempty"`
	Default    bool            `json:"is_default"`
	Margin     decimal.Decimal `json:"margin"`
	MarginRate decimal.Decimal `json:"margin_rate"`
	FeeRate    decimal.Decimal `json:"fee_rate"`
	FeeAmount  decimal.Decimal `json:"fee_amount"`
	NetProfit  decimal.Decimal `json:"net_profit"`
}

// Quote handles POST /api/v1/pricing/quote.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *PricingHandler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if req.Cost.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cost must not be negative"})
		return
	}

	q, err := h.pricing.Quote(c.Request.Context(), pricing.Input{
		SupplierID:    req.Supplier,
		MarketplaceID: req.Marketplace,
		Cost:          req.Cost,
		Category:      req.Category,
		Brand:         req.Brand,
		Attributes:    req.Attributes,
	})
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, QuoteResponse{
		Cost:       q.Cost,
		Price:      q.Price,
		RuleID:     q.RuleID,
		RuleName:   q.RuleName,
		Default:    q.Default,
		Margin:     q.Margin,
		MarginRate: q.MarginRate,
		FeeRate:    q.FeeRate,
		FeeAmount:  q.FeeAmount,
		NetProfit:  q.NetProfit,
	})
}
