// Package notion talks to the Notion REST API. It reads habit records from a
// source database and keeps the monthly summary database up to date.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"habitsync/internal/core"
	"habitsync/internal/log"
	"habitsync/internal/summary"
)

const (
	DefaultBaseURL     = "https://api.notion.com"
	DefaultVersion     = "2022-06-28"
	DefaultKeyProperty = "Name"
	DatePropertyName   = "Date"
	maxPageSize        = 100
)

// Ensure interface conformance
var (
	_ summary.Store  = (*Client)(nil)
	_ summary.Reader = (*Client)(nil)
)

// Config holds connection and naming settings for the Notion client.
type Config struct {
	Token   string
	BaseURL string
	Version string
	Timeout time.Duration

	// SummaryTitle is the title of the summary database under the parent page.
	SummaryTitle string
	// KeyProperty is the title property holding the month label.
	KeyProperty string
	// PageSize is the page size used for paginated reads (max 100).
	PageSize int

	HTTPClient *http.Client
}

type Client struct {
	baseURL     string
	token       string
	version     string
	title       string
	keyProperty string
	pageSize    int
	http        *http.Client
}

// New creates a Notion client. The token is required.
func New(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, &core.ConfigurationError{Field: "NOTION_TOKEN", Reason: "is required"}
	}
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       token,
		version:     cfg.Version,
		title:       strings.TrimSpace(cfg.SummaryTitle),
		keyProperty: cfg.KeyProperty,
		pageSize:    cfg.PageSize,
		http:        cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.version == "" {
		c.version = DefaultVersion
	}
	if c.title == "" {
		c.title = summary.DefaultTitle
	}
	if c.keyProperty == "" {
		c.keyProperty = DefaultKeyProperty
	}
	if c.pageSize <= 0 || c.pageSize > maxPageSize {
		c.pageSize = maxPageSize
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.http = newHTTPClientWithPooling(timeout)
	}
	return c, nil
}

// newHTTPClientWithPooling creates an HTTP client for the Notion API
// with connection pooling, proper timeouts, and keep-alive settings
func newHTTPClientWithPooling(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,

		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// do sends a JSON request and decodes the JSON response into dst when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, dst any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshaling request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &core.RemoteAccessError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	logFor(ctx).DebugContext(ctx, "Notion request",
		log.FieldOperation, op,
		"method", method,
		"path", path,
		"status_code", resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(op, resp)
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return &core.RemoteAccessError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}

// remoteError reads a Notion error body and classifies the status code.
func remoteError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp errorResponse
	_ = json.Unmarshal(body, &errResp)

	rae := &core.RemoteAccessError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Code:       errResp.Code,
		Message:    errResp.Message,
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		rae.Err = core.ErrUnauthorized
	case http.StatusNotFound:
		rae.Err = core.ErrNotFound
	case http.StatusTooManyRequests:
		rae.Err = core.ErrRateLimited
	default:
		rae.Err = errors.New(http.StatusText(resp.StatusCode))
	}
	return rae
}

func idPath(prefix, id string) string {
	return prefix + "/" + url.PathEscape(strings.TrimSpace(id))
}

// logFor returns the run logger carried by ctx.
func logFor(ctx context.Context) *log.Logger {
	return log.FromContext(ctx).WithComponent(log.ComponentNotion)
}
