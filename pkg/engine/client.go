// Package engine is the HTTP boundary to the crawl engine: start/stop control,
// status snapshots and the config pass-through.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeready-toolchain/crawlwatch/pkg/models"
	"github.com/codeready-toolchain/crawlwatch/pkg/version"
)

// maxErrorBody bounds how much of an error response is read for the reason.
const maxErrorBody = 64 * 1024

// Client talks to the crawl engine's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an engine client rooted at baseURL
// (e.g. "http://localhost:8000/api/crawler").
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("component", "engine"),
	}
}

// StartCrawl submits a crawl and returns the engine-assigned session id.
func (c *Client) StartCrawl(ctx context.Context, req models.StartRequest) (*models.StartResponse, error) {
	var resp models.StartResponse
	if err := c.do(ctx, http.MethodPost, "/crawl", req, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, &ProtocolError{Source: "POST /crawl", Err: ErrEmptySessionID}
	}
	c.logger.Info("Crawl accepted by engine", "session_id", resp.SessionID, "url", req.URL)
	return &resp, nil
}

// StopCrawl asks the engine to stop the current crawl. The engine treats it as idempotent.
func (c *Client) StopCrawl(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/crawl/stop", nil, nil)
}

// Status fetches the full status snapshot.
func (c *Client) Status(ctx context.Context) (*models.StatusSnapshot, error) {
	var snap models.StatusSnapshot
	if err := c.do(ctx, http.MethodGet, "/crawl/status", nil, &snap); err != nil {
		return nil, err
	}
	if err := validateSnapshot(&snap); err != nil {
		return nil, &ProtocolError{Source: "GET /crawl/status", Err: err}
	}
	return &snap, nil
}

// GetConfig returns the engine's persisted crawl configuration.
func (c *Client) GetConfig(ctx context.Context) (models.CrawlConfig, error) {
	cfg := models.CrawlConfig{}
	if err := c.do(ctx, http.MethodGet, "/crawl/config", nil, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetConfig persists cfg on the engine and returns what the engine stored.
func (c *Client) SetConfig(ctx context.Context, cfg models.CrawlConfig) (models.CrawlConfig, error) {
	out := models.CrawlConfig{}
	if err := c.do(ctx, http.MethodPost, "/crawl/config", cfg, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.Full())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientNetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(op, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return &TransientNetworkError{Op: op, Err: err}
		}
		return &ProtocolError{Source: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorBody covers the error shapes the engine emits: {reason, message},
// FastAPI's {detail} and a bare {error}.
type errorBody struct {
	Reason  string          `json:"reason"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Detail  json.RawMessage `json:"detail"`
}

func decodeAPIError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}

	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Reason = eb.Reason
	switch {
	case eb.Message != "":
		apiErr.Message = eb.Message
	case eb.Error != "":
		apiErr.Message = eb.Error
	case len(eb.Detail) > 0:
		var detail string
		if json.Unmarshal(eb.Detail, &detail) == nil {
			apiErr.Message = detail
		} else {
			apiErr.Message = string(eb.Detail)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func validateSnapshot(snap *models.StatusSnapshot) error {
	if snap.Phase == "" {
		snap.Phase = models.PhaseIdle
	}
	if !snap.Phase.IsValid() {
		return fmt.Errorf("unknown phase %q", snap.Phase)
	}
	for i, r := range snap.Results {
		if r.URL == "" {
			return fmt.Errorf("result %d: missing url", i)
		}
		if !r.Status.IsValid() {
			return fmt.Errorf("result %d (%s): unknown status %q", i, r.URL, r.Status)
		}
	}
	return nil
}
