package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"nl2sqlgen-client/internal/models"
)

// ErrUnreachable marks failures to reach the backend at all, as opposed to
// answers the backend gave. Callers branch with errors.Is.
var ErrUnreachable = errors.New("backend unreachable")

// ProbeResult is the outcome of a pre-flight connection test. A network
// error and a backend-reported failure look the same here: OK=false with a
// human-readable detail. Callers must not parse Detail.
type ProbeResult struct {
	OK          bool   `json:"ok"`
	TablesCount int    `json:"tables_count,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Client talks to the generation backend's REST API
type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient creates a backend API client
func NewClient(baseURL string) *Client {
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
	}

	client.http = resty.New().
		SetHeader("Content-Type", "application/json").
		SetTimeout(120 * time.Second). // probes against slow databases can take a while
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil {
				return false
			}
			// Only probes and health checks are safe to retry; starting or
			// cancelling a job must go out exactly once.
			if r.Request.Method != "GET" && !strings.Contains(r.Request.URL, "/api/test-") {
				return false
			}
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})

	return client
}

// backendResponse is the common success/detail envelope the backend returns
type backendResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Detail      string `json:"detail,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	TablesCount int    `json:"tables_count,omitempty"`
}

// TestDatabaseConnection asks the backend to probe the source database.
// Never returns an error: any failure mode becomes ProbeResult{OK: false}.
func (c *Client) TestDatabaseConnection(ctx context.Context, cfg models.DatabaseConfig) ProbeResult {
	return c.probe(ctx, "/api/test-db-connection", cfg)
}

// TestLLMConnection asks the backend to probe the model endpoint
func (c *Client) TestLLMConnection(ctx context.Context, cfg models.LLMConfig) ProbeResult {
	return c.probe(ctx, "/api/test-llm-connection", cfg)
}

func (c *Client) probe(ctx context.Context, endpoint string, payload interface{}) ProbeResult {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(c.baseURL + endpoint)
	if err != nil {
		return ProbeResult{OK: false, Detail: "connection test failed: backend unreachable"}
	}

	var body backendResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return ProbeResult{OK: false, Detail: fmt.Sprintf("connection test failed: %s", resp.Status())}
	}

	if !resp.IsSuccess() || !body.Success {
		detail := body.Detail
		if detail == "" {
			detail = "connection test failed"
		}
		return ProbeResult{OK: false, Detail: detail}
	}

	return ProbeResult{OK: true, TablesCount: body.TablesCount, Detail: body.Message}
}

// StartGeneration submits a generation job and returns the backend task ID
func (c *Client) StartGeneration(ctx context.Context, cfg models.TaskConfig) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(cfg).
		Post(c.baseURL + "/api/start-generation")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var body backendResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("failed to parse start-generation response: %w", err)
	}

	if !resp.IsSuccess() || !body.Success {
		if body.Detail != "" {
			return "", fmt.Errorf("backend rejected generation request: %s", body.Detail)
		}
		return "", fmt.Errorf("backend rejected generation request: %s", resp.Status())
	}

	return body.TaskID, nil
}

// CancelGeneration asks the backend to cancel the running job. Best effort:
// the backend may already be in a terminal state.
func (c *Client) CancelGeneration(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(c.baseURL + "/api/cancel")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if !resp.IsSuccess() {
		return fmt.Errorf("cancel request failed: %s", resp.Status())
	}

	return nil
}

// Health reports whether the backend answers its liveness probe
func (c *Client) Health(ctx context.Context) bool {
	resp, err := c.http.R().SetContext(ctx).Get(c.baseURL + "/health")
	return err == nil && resp.IsSuccess()
}

// DownloadArtifact streams /api/download/{name} to destPath. Known names are
// "latest" (the dataset) and "rag" (the MySQL schema bundle); anything else
// is treated as an explicit file identifier.
func (c *Client) DownloadArtifact(ctx context.Context, name, destPath string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetOutput(destPath).
		Get(fmt.Sprintf("%s/api/download/%s", c.baseURL, name))
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	if !resp.IsSuccess() {
		return fmt.Errorf("download failed: %s", resp.Status())
	}

	return nil
}

// SetTimeout allows customizing the timeout for specific operations
func (c *Client) SetTimeout(timeout time.Duration) {
	c.http.SetTimeout(timeout)
}
