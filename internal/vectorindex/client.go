package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// ErrDimensionMismatch means the remote index schema does not match the
// configured embedding dimension. It is fatal at startup: indexing into
// a mismatched schema would corrupt the index silently.
var ErrDimensionMismatch = errors.New("index dimension mismatch")

// Index is the similarity index contract the rest of the system
// programs against.
type Index interface {
	Upsert(ctx context.Context, vectors []Vector) error
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
	DeleteByFilter(ctx context.Context, filter Filter) error
	Stats(ctx context.Context) (*Stats, error)
}

// ClientConfig configures one index client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	IndexName   string // for logging only
	UpsertBatch int    // vectors per upsert request
	MaxRetries  int    // retries per request on retryable failures
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Client talks to one remote index over HTTP with bearer auth. Requests
// that fail with a retryable error (5xx, 429, network) are retried with
// exponential backoff; 4xx responses are permanent.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UpsertBatch <= 0 {
		cfg.UpsertBatch = 100
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger.With("index", cfg.IndexName),
	}
}

type upsertRequest struct {
	Vectors []Vector `json:"vectors"`
}

// Upsert writes vectors to the index in batches. Identical ids
// overwrite previous vectors, which is what makes re-ingestion
// idempotent.
func (c *Client) Upsert(ctx context.Context, vectors []Vector) error {
	for start := 0; start < len(vectors); start += c.cfg.UpsertBatch {
		end := min(start+c.cfg.UpsertBatch, len(vectors))
		batch := vectors[start:end]

		if err := c.do(ctx, "/vectors/upsert", upsertRequest{Vectors: batch}, nil); err != nil {
			return fmt.Errorf("upsert batch [%d:%d): %w", start, end, err)
		}
		c.logger.Debug("upserted vector batch", "count", len(batch))
	}
	return nil
}

type queryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"top_k"`
	Filter          *Filter   `json:"filter,omitempty"`
	IncludeMetadata bool      `json:"include_metadata"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

// Query returns up to topK nearest vectors matching the filter, best
// first. The filter is applied server-side; callers must still treat
// results as untrusted and re-verify ownership before exposure.
func (c *Client) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	req := queryRequest{
		Vector:          vector,
		TopK:            topK,
		IncludeMetadata: true,
	}
	if !filter.IsZero() {
		req.Filter = &filter
	}

	var resp queryResponse
	if err := c.do(ctx, "/query", req, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

type deleteRequest struct {
	IDs    []string `json:"ids,omitempty"`
	Filter *Filter  `json:"filter,omitempty"`
}

func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.do(ctx, "/vectors/delete", deleteRequest{IDs: ids}, nil)
}

func (c *Client) DeleteByFilter(ctx context.Context, filter Filter) error {
	if filter.IsZero() {
		return errors.New("refusing to delete with empty filter")
	}
	return c.do(ctx, "/vectors/delete", deleteRequest{Filter: &filter}, nil)
}

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, "/describe_index_stats", struct{}{}, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ValidateDimension fails with ErrDimensionMismatch when the remote
// schema disagrees with the configured embedding dimension.
func (c *Client) ValidateDimension(ctx context.Context, want int) error {
	stats, err := c.Stats(ctx)
	if err != nil {
		return fmt.Errorf("describe index: %w", err)
	}
	if stats.Dimension != want {
		return fmt.Errorf("%w: index %s has dimension %d, embeddings have %d",
			ErrDimensionMismatch, c.cfg.IndexName, stats.Dimension, want)
	}
	return nil
}

// do sends one JSON request with retries and decodes the response into
// out when out is non-nil.
func (c *Client) do(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("X-Request-Id", uuid.NewString())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			indexErr := &IndexError{StatusCode: resp.StatusCode, Body: string(respBody)}
			if !indexErr.IsRetryable() {
				return backoff.Permanent(indexErr)
			}
			return indexErr
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(fmt.Errorf("parse response: %w", err))
			}
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries)),
		ctx,
	)
	notify := func(err error, next time.Duration) {
		c.logger.Warn("index request failed, retrying",
			"path", path, "error", err, "next_attempt_in", next)
	}
	return backoff.RetryNotify(operation, policy, notify)
}
