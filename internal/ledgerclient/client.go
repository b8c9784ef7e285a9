// Package ledgerclient wraps the HTTP call from the transfer coordinator to
// the ledger service with bounded retry and a circuit breaker. It reports a
// tri-state outcome: applied, rejected (deterministic, never retried), or
// unavailable (retries exhausted or breaker open).
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/example/fundflow/internal/metrics"
	"github.com/example/fundflow/internal/transfer"
	"github.com/example/fundflow/pkg/logger"
)

// RequestIDHeader carries the correlation id across the wire.
const RequestIDHeader = "X-Request-ID"

// Config tunes retry and breaker behavior.
type Config struct {
	BaseURL string

	// Total tries including the initial attempt.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Per-call HTTP timeout.
	CallTimeout time.Duration

	// Breaker: failure rate over the rolling window that opens it, the
	// minimum observations before it may trip, how long it stays open, and
	// how many half-open probes it permits.
	FailureRate  float64
	Window       time.Duration
	MinRequests  int
	OpenDuration time.Duration
	Probes       int
}

func (c *Config) withDefaults() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.FailureRate <= 0 || c.FailureRate > 1 {
		c.FailureRate = 0.5
	}
	if c.Window <= 0 {
		c.Window = 10 * time.Second
	}
	if c.MinRequests < 1 {
		c.MinRequests = 5
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 15 * time.Second
	}
	if c.Probes < 1 {
		c.Probes = 1
	}
}

// rejectionError is a deterministic 4xx from the ledger. It is never retried
// and does not count against the breaker.
type rejectionError struct {
	reason string
}

func (e *rejectionError) Error() string {
	return fmt.Sprintf("ledger rejected transfer: %s", e.reason)
}

// Client is the resilient ledger client. Implements transfer.Dispatcher.
type Client struct {
	base    string
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	cfg     Config
	log     *logger.Logger
}

// New creates a resilient client for the ledger facade at cfg.BaseURL.
func New(cfg Config, log *logger.Logger) *Client {
	cfg.withDefaults()

	minRequests := uint32(cfg.MinRequests)
	settings := gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: uint32(cfg.Probes),
		Interval:    cfg.Window,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRate
		},
		IsSuccessful: func(err error) bool {
			// Deterministic rejections are healthy responses from the
			// breaker's point of view.
			var rej *rejectionError
			return err == nil || errors.As(err, &rej)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.Set(breakerStateValue(to))
			log.Warn("ledger breaker state change", "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		base:    cfg.BaseURL,
		httpc:   &http.Client{Timeout: cfg.CallTimeout},
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		cfg:     cfg,
		log:     log,
	}
}

// Apply dispatches one transfer. Each network attempt passes through the
// breaker and, on 5xx or transport failure, is retried with exponential
// backoff and jitter up to the attempt budget. 4xx is surfaced immediately
// as rejected; an open breaker or an exhausted budget is unavailable.
func (c *Client) Apply(ctx context.Context, req transfer.ApplyRequest) transfer.ApplyResult {
	op := func() error {
		_, err := c.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, c.post(ctx, req)
		})
		if err == nil {
			return nil
		}

		var rej *rejectionError
		switch {
		case errors.As(err, &rej):
			return backoff.Permanent(err)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			// Fail fast; retrying against an open breaker is pointless.
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxAttempts-1)), ctx))
	if err == nil {
		return transfer.ApplyResult{Status: transfer.ApplyApplied}
	}

	var rej *rejectionError
	if errors.As(err, &rej) {
		return transfer.ApplyResult{Status: transfer.ApplyRejected, Reason: rej.reason}
	}

	c.log.WithContext(ctx).WithError(err).Warn("ledger unavailable",
		"transfer_id", req.TransferID,
	)
	return transfer.ApplyResult{Status: transfer.ApplyUnavailable, Reason: err.Error()}
}

type applyBody struct {
	TransferID    string          `json:"transferId"`
	FromAccountID int64           `json:"fromAccountId"`
	ToAccountID   int64           `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
}

type applyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// post performs one HTTP attempt. nil means applied; *rejectionError means a
// deterministic 4xx; any other error is a retryable transport/5xx failure.
func (c *Client) post(ctx context.Context, req transfer.ApplyRequest) error {
	payload, err := json.Marshal(applyBody{
		TransferID:    req.TransferID,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
	})
	if err != nil {
		return fmt.Errorf("marshal apply request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/ledger/transfer", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build apply request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if id := logger.RequestID(ctx); id != "" {
		httpReq.Header.Set(RequestIDHeader, id)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ledger call: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body applyResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decode ledger response: %w", err)
		}
		if !body.Success {
			return &rejectionError{reason: body.Message}
		}
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var body errorResponse
		reason := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
			reason = body.Error
		}
		return &rejectionError{reason: reason}
	default:
		return fmt.Errorf("ledger returned %s", resp.Status)
	}
}

func breakerStateValue(st gobreaker.State) float64 {
	switch st {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
