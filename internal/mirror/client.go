// Package mirror copies memory writes to a remote memory API. Every call is
// best effort: failures come back as a Result and are never retried.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memorykeep/memorykeep/internal/model"
)

// DefaultTimeout bounds a single remote call.
const DefaultTimeout = 10 * time.Second

// Result is the outcome of one remote call.
type Result struct {
	Success bool            `json:"success"`
	Status  int             `json:"status,omitempty"`
	Error   string          `json:"error,omitempty"`
	Memory  json.RawMessage `json:"memory,omitempty"`
	Format  string          `json:"format,omitempty"`
}

func failure(status int, format string, args ...any) Result {
	return Result{Success: false, Status: status, Error: fmt.Sprintf(format, args...)}
}

// Client talks to the memory API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for the API rooted at baseURL, for example
// "https://memory.example.com/api".
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("component", "mirror")),
	}
}

type writeRequest struct {
	Type  model.MemoryType `json:"type"`
	Entry json.RawMessage  `json:"entry"`
}

// LogMemory appends an entry remotely.
func (c *Client) LogMemory(ctx context.Context, apiKey string, typ model.MemoryType, entry json.RawMessage) Result {
	return c.post(ctx, "/log-memory", apiKey, writeRequest{Type: typ, Entry: entry})
}

// OverwriteMemory replaces the remote entries of a type.
func (c *Client) OverwriteMemory(ctx context.Context, apiKey string, typ model.MemoryType, entry json.RawMessage) Result {
	return c.post(ctx, "/overwrite-memory", apiKey, writeRequest{Type: typ, Entry: entry})
}

// GetMemory reads the remote entries of a type.
func (c *Client) GetMemory(ctx context.Context, apiKey string, typ model.MemoryType) Result {
	u := c.baseURL + "/get-memory?" + url.Values{"type": {string(typ)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return failure(0, "create request: %v", err)
	}
	return c.do(req, apiKey)
}

func (c *Client) post(ctx context.Context, path, apiKey string, body writeRequest) Result {
	b, err := json.Marshal(body)
	if err != nil {
		return failure(0, "marshal request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return failure(0, "create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, apiKey)
}

func (c *Client) do(req *http.Request, apiKey string) Result {
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("mirror request failed", zap.String("path", req.URL.Path), zap.Error(err))
		return failure(0, "send request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failure(resp.StatusCode, "read response: %v", err)
	}

	var out struct {
		Error  string          `json:"error"`
		Memory json.RawMessage `json:"memory"`
		Format string          `json:"format"`
	}
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		c.logger.Debug("mirror request rejected",
			zap.String("path", req.URL.Path), zap.Int("status", resp.StatusCode), zap.String("error", msg))
		return failure(resp.StatusCode, "API error %d: %s", resp.StatusCode, msg)
	}
	return Result{Success: true, Status: resp.StatusCode, Memory: out.Memory, Format: out.Format}
}
