// Package client is a thin HTTP client for the opsgate API, used by the
// CLI.
package client

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

	"github.com/opsgate/opsgate/pkg/types"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL string, apiKey string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ExecuteTool submits a tool request. Denials and execution failures come
// back as a decoded envelope, not a client error: the caller inspects the
// response.
func (c *Client) ExecuteTool(ctx context.Context, req types.ToolRequest) (types.ToolResponse, error) {
	return c.doEnvelope(ctx, http.MethodPost, "/api/v1/tools/execute", req)
}

func (c *Client) ListReceipts(ctx context.Context, q url.Values) ([]types.Receipt, error) {
	var out []types.Receipt
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/receipts", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetReceipt(ctx context.Context, id string) (types.Receipt, error) {
	var out types.Receipt
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/receipts/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) UndoReceipt(ctx context.Context, id, confirmationToken string) (types.ToolResponse, error) {
	body := map[string]any{}
	if confirmationToken != "" {
		body["confirmation_token"] = confirmationToken
	}
	return c.doEnvelope(ctx, http.MethodPost, "/api/v1/receipts/"+url.PathEscape(id)+"/undo", body)
}

func (c *Client) ListConfirmations(ctx context.Context) ([]types.ConfirmationToken, error) {
	var out []types.ConfirmationToken
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/confirmations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) StreamEvents(ctx context.Context) (io.ReadCloser, error) {
	u := c.baseURL + "/api/v1/events/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.addAuth(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		return nil, fmt.Errorf("stream events: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return resp.Body, nil
}

// doEnvelope decodes a ToolResponse from any status that carries one:
// 200, 202 (pending confirmation), 403 (denied) and 422 (execution error).
func (c *Client) doEnvelope(ctx context.Context, method, path string, body any) (types.ToolResponse, error) {
	var out types.ToolResponse

	b, err := json.Marshal(body)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return out, err
	}
	c.addAuth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusForbidden, http.StatusUnprocessableEntity:
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return out, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return out, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(raw)))
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	c.addAuth(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
