// Package httpclient is the REST client shared by the auth and chat layers.
// It adds the token auth header, speaks JSON and multipart, and turns
// non-2xx responses into *APIError values.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoResponse is wrapped by every error where the request never got an
// HTTP response (connection refused, DNS failure, timeout).
var ErrNoResponse = errors.New("server not responding")

const maxBodyBytes = 4 << 20

// Observer is notified once per completed HTTP exchange. code is 0 when no
// response was received.
type Observer func(method string, code int)

// Client is a thin JSON client for the shop backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	observe    Observer
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithObserver(fn Observer) Option {
	return func(c *Client) {
		c.observe = fn
	}
}

// New creates a client rooted at baseURL (e.g. "http://localhost:8000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET and decodes the JSON response into out (may be nil).
func (c *Client) Get(ctx context.Context, path, token string, out any) error {
	return c.do(ctx, http.MethodGet, path, token, nil, "", out)
}

// Post sends body as JSON.
func (c *Client) Post(ctx context.Context, path string, body any, token string, out any) error {
	return c.sendJSON(ctx, http.MethodPost, path, body, token, out)
}

// Put sends body as JSON.
func (c *Client) Put(ctx context.Context, path string, body any, token string, out any) error {
	return c.sendJSON(ctx, http.MethodPut, path, body, token, out)
}

// Patch sends body as JSON.
func (c *Client) Patch(ctx context.Context, path string, body any, token string, out any) error {
	return c.sendJSON(ctx, http.MethodPatch, path, body, token, out)
}

// Delete issues a DELETE. Empty and 204 responses are accepted.
func (c *Client) Delete(ctx context.Context, path, token string, out any) error {
	return c.do(ctx, http.MethodDelete, path, token, nil, "", out)
}

// Upload POSTs form as multipart/form-data. The Content-Type header, with
// its boundary, comes from the multipart writer and is never set by callers.
func (c *Client) Upload(ctx context.Context, path string, form *Form, token string, out any) error {
	body, contentType, err := form.encode()
	if err != nil {
		return fmt.Errorf("encode multipart body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, token, body, contentType, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body any, token string, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, method, path, token, bytes.NewReader(raw), "application/json", out)
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *Client) do(ctx context.Context, method, path, token string, body io.Reader, contentType string, out any) error {
	url := c.url(path)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if t := strings.TrimSpace(token); t != "" {
		req.Header.Set("Authorization", "Token "+t)
	}

	c.logger.Debug("api request", zap.String("method", method), zap.String("url", url))

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.notify(method, 0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctxErr)
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrNoResponse, err)
	}
	defer func() { _ = res.Body.Close() }()
	c.notify(method, res.StatusCode)

	c.logger.Debug("api response", zap.String("method", method), zap.String("url", url), zap.Int("status", res.StatusCode))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		apiErr := newAPIError(method, url, res)
		c.logger.Warn("api request failed",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("status", res.StatusCode),
			zap.String("message", apiErr.Message))
		return apiErr
	}

	if out == nil || res.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) notify(method string, code int) {
	if c.observe != nil {
		c.observe(method, code)
	}
}

// Form is an ordered multipart/form-data body.
type Form struct {
	fields []formField
	files  []formFile
}

type formField struct {
	name, value string
}

type formFile struct {
	field, filename string
	content         io.Reader
}

// NewForm returns an empty form.
func NewForm() *Form {
	return &Form{}
}

// Field appends a text field.
func (f *Form) Field(name, value string) *Form {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

// File appends a file part.
func (f *Form) File(field, filename string, content io.Reader) *Form {
	f.files = append(f.files, formFile{field: field, filename: filename, content: content})
	return f
}

func (f *Form) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, fld := range f.fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return nil, "", err
		}
	}
	for _, file := range f.files {
		part, err := w.CreateFormFile(file.field, file.filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, file.content); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
