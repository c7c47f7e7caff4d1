// Package reranker talks to the external cross-encoder reranking service:
// POST /rerank re-scores a candidate set against the original query text,
// and GET /health reports model readiness. Transport shape (retry with
// exponential backoff, rate-limit awareness) mirrors llm/openai_compat.go's
// doPost, generalized to this service's own request/response envelope.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Config configures the reranker HTTP client.
type Config struct {
	BaseURL string
	APIKey  string
}

// Document is one candidate submitted for reranking.
type Document struct {
	ChunkID string `json:"chunk_id"`
	Content string `json:"content"`
}

// Reranked is one document after reordering, with the cross-encoder's score.
type Reranked struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// Client reranks candidate documents against a query.
type Client struct {
	cfg    Config
	client *http.Client
}

// New returns a reranker Client.
func New(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type rerankRequest struct {
	Query     string     `json:"query"`
	Documents []Document `json:"documents"`
	TopK      int        `json:"top_k"`
}

type rerankResponse struct {
	Documents      []Reranked `json:"documents"`
	Count          int        `json:"count"`
	Model          string     `json:"model"`
	ProcessingTime float64    `json:"processing_time"`
}

// Rerank submits candidates to the reranking service and returns them in
// the service's reordered sequence, truncated to topK.
func (c *Client) Rerank(ctx context.Context, query string, candidates []Document, topK int) ([]Reranked, error) {
	body := rerankRequest{Query: query, Documents: candidates, TopK: topK}

	respBody, err := c.doPost(ctx, "/rerank", body)
	if err != nil {
		return nil, fmt.Errorf("reranker: %w", err)
	}

	var resp rerankResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("reranker: decoding response: %w", err)
	}
	if topK > 0 && len(resp.Documents) > topK {
		resp.Documents = resp.Documents[:topK]
	}
	return resp.Documents, nil
}

const (
	maxRetries        = 3
	baseRetryDelay    = 1 * time.Second
	minRateLimitDelay = 5 * time.Second
)

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func (c *Client) doPost(ctx context.Context, path string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			slog.Warn("reranker: retrying request", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request to %s failed: %w", url, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}
		lastErr = fmt.Errorf("reranker API error %d: %s", resp.StatusCode, string(respBody))

		if !retryableStatusCode(resp.StatusCode) {
			return nil, lastErr
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			delay := minRateLimitDelay * time.Duration(1<<attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
					if d := time.Duration(secs) * time.Second; d > delay {
						delay = d
					}
				}
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Health reports the reranker service's readiness.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return "", err
	}
	return health.Status, nil
}
