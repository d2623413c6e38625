// Package client calls a running attend API server. CLI commands that
// write to the ledger go through it so a single process owns the store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/papercomputeco/attend/api"
	"github.com/papercomputeco/attend/pkg/pipeline"
)

const defaultTimeout = 30 * time.Second

// Client talks to the attend HTTP API.
type Client struct {
	target string
	http   *http.Client
}

// New creates a Client for the API at target (e.g. "http://localhost:8081").
// A nil httpClient uses a client with a 30 second timeout.
func New(target string, httpClient *http.Client) (*Client, error) {
	if _, err := url.Parse(target); err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{target: target, http: httpClient}, nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	var out string
	return c.do(ctx, http.MethodGet, "/ping", nil, &out)
}

// Earn credits a raw amount to an entity and returns its new balance.
func (c *Client) Earn(ctx context.Context, req api.EarnRequest) (*api.BalanceResponse, error) {
	var out api.BalanceResponse
	if err := c.do(ctx, http.MethodPost, "/v1/earn", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Record earns the weight of an activity kind and returns the new balance.
func (c *Client) Record(ctx context.Context, req api.ActivityRequest) (*api.BalanceResponse, error) {
	var out api.BalanceResponse
	if err := c.do(ctx, http.MethodPost, "/v1/activity", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Trigger runs a pipeline now and returns its run record.
func (c *Client) Trigger(ctx context.Context, name string) (*pipeline.RunRecord, error) {
	var out pipeline.RunRecord
	path := "/v1/pipelines/" + url.PathEscape(name) + "/trigger"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pipelines lists the pipelines loaded by the server.
func (c *Client) Pipelines(ctx context.Context) (*api.PipelinesResponse, error) {
	var out api.PipelinesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/pipelines", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed (HTTP %d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	endpoint, err := url.Parse(c.target)
	if err != nil {
		return fmt.Errorf("invalid API target URL: %w", err)
	}
	endpoint = endpoint.JoinPath(path)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to attend API at %s: %w", c.target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		msg := string(data)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
