// Package sheets loads concept collections from spreadsheets published as CSV.
// A collection id is a spreadsheet id; its first row is a header.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guide-lms/guide-router/pkg/circuitbreaker"
	"github.com/guide-lms/guide-router/pkg/logger"
	"github.com/guide-lms/guide-router/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ErrSheetNotFound is returned when the sheet service has no such collection.
var ErrSheetNotFound = errors.New("sheets: collection not found")

// maxSheetSize caps a single CSV download.
const maxSheetSize = 8 << 20

// ClientConfig contains configuration for the sheet client.
type ClientConfig struct {
	// BaseURL is the spreadsheet service base URL; collection ids are appended.
	BaseURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// MaxRetries is the number of attempts per download, including the first.
	MaxRetries int

	// RetryBaseDelay is the delay before the first retry.
	RetryBaseDelay time.Duration

	// Logger for structured logging
	Logger *logger.Logger

	// Observe, when set, is called after every Fetch.
	Observe func(collection string, elapsed time.Duration, err error)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:        baseURL,
		Timeout:        15 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 500 * time.Millisecond,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client downloads sheets as CSV.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *logger.Logger
	retry      retry.Policy
	breaker    *circuitbreaker.Breaker
}

// NewClient creates a new sheet client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	log := config.Logger.With(logger.Component("sheets"))
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     log,
	}
	c.retry = retry.Policy{
		Attempts:  config.MaxRetries,
		BaseDelay: config.RetryBaseDelay,
		MaxDelay:  10 * time.Second,
		Jitter:    0.2,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Warn("retrying sheet download",
				logger.Int("attempt", attempt), logger.Duration("delay", wait), logger.Err(err))
		},
	}
	c.breaker = circuitbreaker.New(circuitbreaker.Settings{
		Name:     "sheet-source",
		Failures: 5,
		Cooldown: 30 * time.Second,
		IsFailure: func(err error) bool {
			return !errors.Is(err, ErrSheetNotFound) && !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name), logger.String("from", from.String()), logger.String("to", to.String()))
		},
	})
	return c
}

// SheetURL returns the human-facing URL of a collection.
func (c *Client) SheetURL(id string) string {
	return fmt.Sprintf("%s/%s/edit", c.config.BaseURL, url.PathEscape(id))
}

// RowURL returns the human-facing URL of one row of a collection.
func (c *Client) RowURL(id string, row int) string {
	return fmt.Sprintf("%s#gid=0&range=A%d", c.SheetURL(id), row)
}

func (c *Client) exportURL(id string) string {
	return fmt.Sprintf("%s/%s/export?format=csv", c.config.BaseURL, url.PathEscape(id))
}

// Fetch downloads the CSV body of collection id. Transient failures are
// retried; a run of failures opens the circuit breaker.
func (c *Client) Fetch(ctx context.Context, id string) ([]byte, error) {
	start := time.Now()
	var body []byte
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.retry.Do(ctx, func(ctx context.Context) error {
			b, err := c.download(ctx, id)
			if err != nil {
				return err
			}
			body = b
			return nil
		})
	})
	if c.config.Observe != nil {
		c.config.Observe(id, time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch collection %s: %w", id, err)
	}
	return body, nil
}

func (c *Client) download(ctx context.Context, id string) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.exportURL(id), nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, retry.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSheetSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("sheet downloaded",
		logger.String("collection", id), logger.Int("status", resp.StatusCode),
		logger.Int("bytes", len(body)), logger.Latency(time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.Permanent(fmt.Errorf("%w: %s", ErrSheetNotFound, id))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("sheet service returned status %d", resp.StatusCode)
	default:
		return nil, retry.Permanent(fmt.Errorf("sheet service returned status %d", resp.StatusCode))
	}
}
