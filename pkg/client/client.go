// Package client calls the /module/ gateway over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
)

// Client is a gateway client
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithToken sends token in the X-Token header
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the gateway at baseURL (e.g. http://localhost:8000)
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke calls module.method with params. A failure envelope is returned
// as-is with a nil error; err is set only when no envelope could be read.
func (c *Client) Invoke(ctx context.Context, module, method string, params map[string]interface{}) (dispatch.Envelope, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	body, err := json.Marshal(dispatch.Request{Module: module, Method: method, Params: params})
	if err != nil {
		return dispatch.Envelope{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/module/", bytes.NewReader(body))
	if err != nil {
		return dispatch.Envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return dispatch.Envelope{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return dispatch.Envelope{}, fmt.Errorf("failed to read response: %w", err)
	}
	var env dispatch.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return dispatch.Envelope{}, fmt.Errorf("unexpected response (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return env, nil
}

// Modules lists the server's modules, optionally only name
func (c *Client) Modules(ctx context.Context, name string) (dispatch.Envelope, error) {
	var params map[string]interface{}
	if name != "" {
		params = map[string]interface{}{"module_name": name}
	}
	return c.Invoke(ctx, "modules.system.registry", "list_modules", params)
}
