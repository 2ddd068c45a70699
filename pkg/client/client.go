// Package client is a Go client for the botstore HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	headerOwner        = "X-Owner-ID"
	headerServiceToken = "X-Service-Token"
	headerRequestID    = "X-Request-ID"
)

// Client talks to one gateway.
type Client struct {
	base  *url.URL
	http  *http.Client
	owner string
	token string
}

type clientConfig struct {
	httpClient *http.Client
	owner      string
	token      string
}

// Option configures client behavior.
type Option func(*clientConfig)

// WithOwner sets the caller id sent with every request.
func WithOwner(owner string) Option {
	return func(c *clientConfig) { c.owner = owner }
}

// WithServiceToken sets the shared secret required by gateways that run
// with a service token.
func WithServiceToken(token string) Option {
	return func(c *clientConfig) { c.token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// New returns a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{base: u, http: hc, owner: cfg.owner, token: cfg.token}, nil
}

// APIError is a non-success response from the gateway.
type APIError struct {
	Status     int
	Message    string
	RequestID  string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("gateway: %d %s", e.Status, msg)
}

// Temporary reports whether the call may succeed if retried later.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusServiceUnavailable || e.Status == http.StatusGatewayTimeout
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// PutResult describes a stored blob.
type PutResult struct {
	Reference string `json:"reference"`
	BackendID string `json:"backend_id"`
	FileID    string `json:"file_id"`
	Size      int    `json:"size"`
}

// Put uploads data as a multipart form under filename.
func (c *Client) Put(ctx context.Context, filename string, data []byte) (*PutResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/blobs", nil, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out PutResult
	if err := c.doJSON(req, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Blob is downloaded content.
type Blob struct {
	Data        []byte
	ContentType string
}

// Get downloads the blob named by ref, as returned by Put.
func (c *Client) Get(ctx context.Context, ref string) (*Blob, error) {
	p, err := blobPath(ref)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, p, nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return &Blob{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// Delete asks the gateway to forget ref. The gateway always accepts.
func (c *Client) Delete(ctx context.Context, ref string) error {
	p, err := blobPath(ref)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodDelete, p, nil, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, http.StatusNoContent, nil)
}

// Health fetches the gateway health report. A critical gateway answers 503
// with a full report, which is returned without error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/health", nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, apiError(resp)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &h, nil
}

// AlertFilter narrows Alerts. Zero fields match everything.
type AlertFilter struct {
	Severity   string
	Category   string
	Unresolved bool
	// Expr is a CEL expression over id, severity, category, message,
	// resolved, age and metadata.
	Expr  string
	Limit int
}

// Alerts lists recent alerts, oldest first.
func (c *Client) Alerts(ctx context.Context, f AlertFilter) ([]Alert, error) {
	q := url.Values{}
	if f.Severity != "" {
		q.Set("severity", f.Severity)
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.Unresolved {
		q.Set("unresolved", "true")
	}
	if f.Expr != "" {
		q.Set("expr", f.Expr)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/alerts", q, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Alerts []Alert `json:"alerts"`
	}
	if err := c.doJSON(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}

// ResolveAlert marks an alert resolved.
func (c *Client) ResolveAlert(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/alerts/"+url.PathEscape(id)+"/resolve", nil, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, http.StatusNoContent, nil)
}

// SetBackendActive switches a backend in or out of rotation.
func (c *Client) SetBackendActive(ctx context.Context, id string, active bool) error {
	action := "deactivate"
	if active {
		action = "activate"
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/backends/"+url.PathEscape(id)+"/"+action, nil, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, http.StatusNoContent, nil)
}

func blobPath(ref string) (string, error) {
	backend, file, ok := strings.Cut(ref, ":")
	if !ok || backend == "" || file == "" {
		return "", fmt.Errorf("invalid blob reference %q: want <backend>:<file>", ref)
	}
	return "/v1/blobs/" + url.PathEscape(backend) + "/" + url.PathEscape(file), nil
}

func (c *Client) newRequest(ctx context.Context, method, p string, q url.Values, body io.Reader) (*http.Request, error) {
	// p is already escaped; JoinPath keeps %2F inside file ids intact.
	u := c.base.JoinPath(p)
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if c.owner != "" {
		req.Header.Set(headerOwner, c.owner)
	}
	if c.token != "" {
		req.Header.Set(headerServiceToken, c.token)
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, want int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != want {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	e := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get(headerRequestID)}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		e.Message = body.Error
	}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			e.RetryAfter = time.Duration(n) * time.Second
		}
	}
	return e
}
