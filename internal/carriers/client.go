package carriers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"shipflow/internal/metrics"
)

// Client is the shared HTTP client for carrier APIs: one underlying
// http.Client with a default timeout and an optional process-wide rate
// limit across all carriers.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a Client. ratePerSec <= 0 disables rate limiting.
func NewClient(ratePerSec float64) *Client {
	c := &Client{http: &http.Client{Timeout: 15 * time.Second}}
	if ratePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1)
	}
	return c
}

// DoJSON performs one JSON request/response exchange and decodes the
// body into out (skipped when out is nil). Returns the HTTP status.
func (c *Client) DoJSON(ctx context.Context, carrier, method, url, apiKey string, in, out any) (int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CarrierRequestDuration.WithLabelValues(carrier, outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, nil
	}
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// GetRaw fetches a binary resource (labels).
func (c *Client) GetRaw(ctx context.Context, carrier, url, apiKey string) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return b, resp.StatusCode, nil
}
