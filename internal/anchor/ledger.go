package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// Ledger is the external append-only ledger that stores certificate hashes.
type Ledger interface {
	// Submit records contentHash and returns the transaction reference.
	Submit(ctx context.Context, contentHash string) (string, error)

	// Lookup returns what the ledger knows about txRef, or domain.ErrReceiptNotFound.
	Lookup(ctx context.Context, txRef string) (*domain.LedgerRecord, error)
}

// HTTPLedgerConfig configures the ledger gateway client.
type HTTPLedgerConfig struct {
	BaseURL      string
	APIKey       string
	RetryMax     int
	RetryWaitMin time.Duration
	Timeout      time.Duration

	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// HTTPLedger talks JSON to a ledger gateway:
//
//	POST {base}/v1/anchors         {"content_hash": "..."} -> {"tx_ref": "..."}
//	GET  {base}/v1/anchors/{txRef} -> domain.LedgerRecord
type HTTPLedger struct {
	base    string
	apiKey  string
	client  *retryablehttp.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ Ledger = (*HTTPLedger)(nil)

// NewHTTPLedger builds a ledger client with bounded retries behind a circuit breaker.
func NewHTTPLedger(cfg HTTPLedgerConfig, logger *zap.Logger) (*HTTPLedger, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("ledger: invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 500 * time.Millisecond
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = 8 * cfg.RetryWaitMin
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = leveledLogger{logger.Sugar()}
	client.CheckRetry = checkRetry

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ledger",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// A missing receipt is a valid answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrReceiptNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Ledger circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &HTTPLedger{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		breaker: breaker,
		logger:  logger,
	}, nil
}

type submitRequest struct {
	ContentHash string `json:"content_hash"`
}

type submitResponse struct {
	TxRef string `json:"tx_ref"`
}

func (l *HTTPLedger) Submit(ctx context.Context, contentHash string) (string, error) {
	out, err := l.breaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(submitRequest{ContentHash: contentHash})
		if err != nil {
			return nil, err
		}
		var resp submitResponse
		if err := l.do(ctx, http.MethodPost, "/v1/anchors", body, contentHash, &resp); err != nil {
			return nil, err
		}
		if resp.TxRef == "" {
			return nil, fmt.Errorf("ledger: empty tx_ref in response")
		}
		return resp.TxRef, nil
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (l *HTTPLedger) Lookup(ctx context.Context, txRef string) (*domain.LedgerRecord, error) {
	out, err := l.breaker.Execute(func() (interface{}, error) {
		rec := &domain.LedgerRecord{}
		if err := l.do(ctx, http.MethodGet, "/v1/anchors/"+url.PathEscape(txRef), nil, "", rec); err != nil {
			return nil, err
		}
		if rec.TxRef == "" {
			rec.TxRef = txRef
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*domain.LedgerRecord), nil
}

// checkRetry replays a submit only when no response came back; lookups follow the default policy.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.Request != nil && resp.Request.Method != http.MethodGet {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (l *HTTPLedger) do(ctx context.Context, method, path string, body []byte, idempotencyKey string, out interface{}) error {
	var rawBody interface{}
	if body != nil {
		rawBody = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, l.base+path, rawBody)
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("ledger: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrReceiptNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("ledger: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("ledger: decode response: %w", err)
	}
	return nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
