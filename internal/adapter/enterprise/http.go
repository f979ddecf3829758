// Package enterprise implements the bridge's enterprise-endpoint-side
// adapter: a REST client issuing the fetch (GET) and push (POST) calls the
// bridge contract requires. The enterprise system itself is out of scope;
// internal/adapter/enterprise/mock.go provides a gorilla/mux test double.
package enterprise

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/flyingrobots/protocol-bridge/internal/adapter"
)

// Client is a polling-based enterprise adapter: Subscribe issues repeated
// GETs against address at PollInterval since enterprise REST endpoints, per
// the bridge's contract, are not assumed to support push/webhook delivery.
// Outbound calls are throttled by limiter so a slow or rate-limited
// enterprise endpoint doesn't get hammered by retried pushes.
type Client struct {
	BaseURL      string
	PollInterval time.Duration
	HTTPClient   *http.Client
	limiter      *rate.Limiter
}

// NewClient builds an enterprise adapter. rateLimitRPS <= 0 disables
// throttling.
func NewClient(baseURL string, pollInterval time.Duration, rateLimitRPS float64) *Client {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	var limiter *rate.Limiter
	if rateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateLimitRPS), int(rateLimitRPS)+1)
	}
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		PollInterval: pollInterval,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		limiter:      limiter,
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) Name() string { return "enterprise:http" }

// Subscribe polls address on PollInterval, invoking handler with the
// response body whenever it differs from the previously observed value.
func (c *Client) Subscribe(ctx context.Context, address string, handler adapter.ValueHandler) error {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			body, err := c.fetch(ctx, address)
			if err != nil {
				continue
			}
			if string(body) == last {
				continue
			}
			last = string(body)
			if err := handler(ctx, address, body); err != nil {
				return err
			}
		}
	}
}

func (c *Client) fetch(ctx context.Context, address string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	u, err := url.JoinPath(c.BaseURL, address)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Apply pushes value to address via POST.
func (c *Client) Apply(ctx context.Context, address string, value []byte) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	u, err := url.JoinPath(c.BaseURL, address)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(value))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	// Enterprise systems commonly dedupe retried pushes by an idempotency
	// key; a fresh UUID per push call gives the destination one to key off.
	req.Header.Set("X-Idempotency-Key", uuid.NewString())
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", u, resp.StatusCode)
	}
	return nil
}

func (c *Client) Close() error { return nil }
