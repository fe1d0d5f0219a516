package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Config holds remote store connection settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the remote store's REST surface. Rows are JSON objects;
// filters are encoded PostgREST-style (?col=eq.value).
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a Client. BaseURL must not have a trailing slash.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) tableURL(table string) string {
	return c.cfg.BaseURL + "/rest/v1/" + table
}

func (c *Client) Insert(ctx context.Context, table string, row, dest any) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal %s row: %w", table, err)
	}
	return c.do(ctx, http.MethodPost, c.tableURL(table), table, bytes.NewReader(body), dest)
}

func (c *Client) Update(ctx context.Context, table, id string, patch, dest any) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal %s patch: %w", table, err)
	}
	u := c.tableURL(table) + "?id=eq." + url.QueryEscape(id)
	return c.do(ctx, http.MethodPatch, u, table, bytes.NewReader(body), dest)
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	u := c.tableURL(table) + "?id=eq." + url.QueryEscape(id)
	return c.do(ctx, http.MethodDelete, u, table, nil, nil)
}

func (c *Client) Select(ctx context.Context, table string, filter Filter, order string, dest any) error {
	u := c.tableURL(table)
	if query := encodeFilter(filter, order); query != "" {
		u += "?" + query
	}
	return c.do(ctx, http.MethodGet, u, table, nil, dest)
}

// Ping issues a cheap GET against the REST root. Any definitive HTTP answer,
// including an error status, counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/rest/v1/", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectivityError{Op: "ping", Err: err}
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, u, table string, body io.Reader, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", table, err)
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if dest != nil {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectivityError{Op: method + " " + table, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, table, method); err != nil {
		return err
	}

	if dest == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s response: %w", table, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		req.Header.Set("apikey", c.cfg.Token)
	}
}

// classifyStatus maps an HTTP status onto the error taxonomy. 5xx means the
// server never gave a definitive answer about the row, so it is retryable;
// every 4xx is a definitive rejection and is surfaced.
func classifyStatus(resp *http.Response, table, method string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return &ConflictError{Table: table, Reason: readReason(resp.Body)}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &ValidationError{Table: table, Status: resp.StatusCode, Reason: readReason(resp.Body)}
	default:
		return &ConnectivityError{
			Op:  method + " " + table,
			Err: fmt.Errorf("server returned %d", resp.StatusCode),
		}
	}
}

func readReason(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "no detail"
	}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(data))
}

func encodeFilter(filter Filter, order string) string {
	cols := make([]string, 0, len(filter))
	for col := range filter {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	parts := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		parts = append(parts, col+"=eq."+url.QueryEscape(filter[col]))
	}
	if order != "" {
		parts = append(parts, "order="+url.QueryEscape(order))
	}
	return strings.Join(parts, "&")
}
