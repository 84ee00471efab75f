package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"judged/internal/judge/breaker"
	"judged/internal/judge/model"
	appErr "judged/pkg/errors"
)

// Config holds catalog client configuration
type Config struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client is the read-only HTTP client against the content catalog. All
// calls go through the catalog circuit breaker when one is set.
type Client struct {
	baseURL string
	http    *http.Client
	brk     *breaker.Breaker
}

// NewClient creates a catalog client.
func NewClient(cfg Config, brk *breaker.Breaker) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		brk:     brk,
	}
}

// GetTestCases returns the ordered list of test cases to run for a problem.
// The catalog excludes inactive test cases and orders by test number.
func (c *Client) GetTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	var cases []model.TestCase
	err := c.execute(func() error {
		return c.getJSON(ctx, fmt.Sprintf("%s/problems/%d/test-cases", c.baseURL, problemID), &cases)
	})
	if err != nil {
		return nil, err
	}
	return cases, nil
}

// GetProblemLimits returns the problem's declared resource limits.
func (c *Client) GetProblemLimits(ctx context.Context, problemID int64) (model.ResourceLimits, error) {
	var problem struct {
		TimeLimitMs   int `json:"time_limit"`
		MemoryLimitKB int `json:"memory_limit"`
	}
	err := c.execute(func() error {
		return c.getJSON(ctx, fmt.Sprintf("%s/problems/%d", c.baseURL, problemID), &problem)
	})
	if err != nil {
		return model.ResourceLimits{}, err
	}
	return model.ResourceLimits{
		TimeLimitMs:   problem.TimeLimitMs,
		MemoryLimitKB: problem.MemoryLimitKB,
	}, nil
}

func (c *Client) execute(op func() error) error {
	if c.brk == nil {
		return op()
	}
	return c.brk.Execute(op)
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return appErr.Wrap(err, appErr.CatalogUnavailable)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return appErr.Wrapf(err, appErr.CatalogUnavailable, "catalog request failed: %s", url)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return appErr.Newf(appErr.ProblemNotFound, "catalog returned 404 for %s", url)
	case resp.StatusCode != http.StatusOK:
		return appErr.Newf(appErr.CatalogUnavailable, "catalog returned %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return appErr.Wrap(err, appErr.CatalogUnavailable)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return appErr.Wrapf(err, appErr.CatalogUnavailable, "catalog response malformed for %s", url)
	}
	return nil
}
