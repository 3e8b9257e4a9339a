package source

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/metrics"
	"golang.org/x/time/rate"
)

// ClientConfig holds transport settings shared by every adapter of a supplier.
type ClientConfig struct {
	SupplierID   string
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	MinInterval  time.Duration
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Metrics      *metrics.Metrics
}

// Client is a paced, retrying HTTP client for one supplier.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	cfg     ClientConfig
}

// NewClient creates a Client. Requests are spaced at least MinInterval apart
// and transient failures are retried with capped exponential backoff.
func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json, application/xml;q=0.9, */*;q=0.8")
	if cfg.APIKey != "" {
		header := cfg.APIKeyHeader
		if header == "" {
			header = "Authorization"
		}
		value := cfg.APIKey
		if strings.EqualFold(header, "Authorization") && !strings.Contains(value, " ") {
			value = "Bearer " + value
		}
		httpClient.SetHeader(header, value)
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
	}
}

// SupplierID returns the supplier the client talks to.
func (c *Client) SupplierID() string {
	return c.cfg.SupplierID
}

// Get issues a GET request and returns the response body.
// Parameters:
//   - ctx: context for cancellation; also bounds the backoff waits.
//   - path: request path relative to the base URL.
//   - params: query parameters.
// Returns:
//   - []byte: response body of the first successful attempt.
//   - error: FatalAuthError or RejectedError immediately, or the last
//     TransientError once the attempts are exhausted.
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	backoff := retry.NewExponential(c.cfg.BaseDelay)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithCappedDuration(c.cfg.MaxDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(c.cfg.MaxAttempts-1), backoff)

	var body []byte
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get(path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			c.cfg.Metrics.AdapterRequest(c.cfg.SupplierID, "transient")
			logger.CtxWarn(ctx, "Request failed: supplier=%s, path=%s, attempt=%d, error=%v",
				c.cfg.SupplierID, path, attempt, err)
			return retry.RetryableError(&TransientError{Op: path, Err: err})
		}

		if err := classifyStatus(path, resp.StatusCode(), resp.Body()); err != nil {
			if IsTransient(err) {
				c.cfg.Metrics.AdapterRequest(c.cfg.SupplierID, "transient")
				logger.CtxWarn(ctx, "Transient response: supplier=%s, path=%s, attempt=%d, status=%d",
					c.cfg.SupplierID, path, attempt, resp.StatusCode())
				return retry.RetryableError(err)
			}
			c.cfg.Metrics.AdapterRequest(c.cfg.SupplierID, "fatal")
			return err
		}

		c.cfg.Metrics.AdapterRequest(c.cfg.SupplierID, "ok")
		body = resp.Body()
		return nil
	})
	if err != nil {
		if IsTransient(err) && !errors.Is(err, context.Canceled) {
			logger.CtxError(ctx, "Giving up after %d attempts: supplier=%s, path=%s",
				attempt, c.cfg.SupplierID, path)
		}
		return nil, err
	}
	return body, nil
}
