// Package beacon is a booking.Backend for the Beacon Testing GraphQL API.
package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://app.beacontesting.com"

var ErrNotLoggedIn = errors.New("beacon: not logged in")

type Config struct {
	BaseURL string
	// Timeout bounds every request, including time spent waiting on the rate limiter.
	Timeout time.Duration
	// RPS caps the request rate; zero disables throttling.
	RPS float64
	Log *slog.Logger

	HTTPClient *http.Client
}

// Client talks to <BaseURL>/graphql/ with the session obtained by Login.
type Client struct {
	hc      *http.Client
	base    string
	timeout time.Duration
	limiter *rate.Limiter
	log     *slog.Logger

	mu        sync.RWMutex
	cookie    string
	profileID string
}

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	c := &Client{hc: hc, base: base, timeout: cfg.Timeout, log: log}
	if cfg.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return c
}

func (c *Client) BaseURL() string { return c.base }

func (c *Client) ProfileID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profileID
}

type gqlRequest struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Query         string         `json:"query"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("beacon %s: http %d: %s", e.Op, e.Status, e.Body)
}

// call posts one GraphQL operation and decodes its data into out.
func (c *Client) call(ctx context.Context, op string, vars map[string]any, query string, out any) (*http.Response, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	body, err := json.Marshal(gqlRequest{OperationName: op, Variables: vars, Query: query})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("beacon %s: rate limit: %w", op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/graphql/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("cache-control", "no-cache")
	c.mu.RLock()
	if c.cookie != "" {
		req.Header.Set("cookie", c.cookie)
	}
	c.mu.RUnlock()

	start := time.Now()
	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("beacon %s: %w", op, err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return res, fmt.Errorf("beacon %s: read body: %w", op, err)
	}
	c.log.Debug("graphql", slog.String("op", op), slog.Int("status", res.StatusCode), slog.Duration("took", time.Since(start)))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res, &StatusError{Op: op, Status: res.StatusCode, Body: truncate(string(b), 256)}
	}
	var env gqlResponse
	if err := json.Unmarshal(b, &env); err != nil {
		return res, fmt.Errorf("beacon %s: parse response: %w", op, err)
	}
	if len(env.Errors) > 0 {
		msgs := make([]string, 0, len(env.Errors))
		for _, e := range env.Errors {
			msgs = append(msgs, e.Message)
		}
		return res, fmt.Errorf("beacon %s: %s", op, strings.Join(msgs, "; "))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return res, fmt.Errorf("beacon %s: empty data", op)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return res, fmt.Errorf("beacon %s: parse data: %w", op, err)
		}
	}
	return res, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
