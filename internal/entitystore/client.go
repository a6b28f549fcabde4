// Package entitystore is the HTTP adapter for the remote content-addressed
// entity store: blob upload, entity creation, reads and version appends.
package entitystore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/starford/arkeimport/internal/apperr"
)

// DefaultTimeout bounds a single store request.
const DefaultTimeout = 300 * time.Second

// DefaultAnchorPath is the well-known root entity endpoint.
const DefaultAnchorPath = "/arke"

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RequestsPerSecond caps outgoing requests; 0 disables the limiter.
	RequestsPerSecond float64
	AnchorPath        string
	Token             string
	Logger            *slog.Logger
}

// Client talks to one entity store instance.
//
// Reads and blob uploads go through a retrying transport. Entity creation and
// version appends are sent exactly once: the store mints a new id per
// request, so a blind retry could create duplicates.
type Client struct {
	base       *url.URL
	retrying   *http.Client
	once       *http.Client
	limiter    *rate.Limiter
	anchorPath string
	token      string
	logger     *slog.Logger
}

// New builds a Client for baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("entitystore: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("entitystore: base url %q must be absolute", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.AnchorPath == "" {
		opts.AnchorPath = DefaultAnchorPath
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = opts.Timeout
	rc.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	rc.Logger = logger
	// Hand the final response back so the status can be classified.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		base:       base,
		retrying:   rc.StandardClient(),
		once:       &http.Client{Timeout: opts.Timeout},
		anchorPath: "/" + strings.TrimLeft(opts.AnchorPath, "/"),
		token:      opts.Token,
		logger:     logger,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

// BaseURL returns the store root the client was built for.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends one request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, query url.Values, contentType string, body []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("entitystore: %s %s: %w: %w", method, path, apperr.ErrTransfer, err)
		}
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), rdr)
	if err != nil {
		return fmt.Errorf("entitystore: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("entitystore: %s %s: %w: %w", method, path, apperr.ErrTransfer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := decodeError(resp)
		c.logger.Debug("store request rejected",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("message", apiErr.Message))
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("entitystore: decode %s %s: %w: %w", method, path, apperr.ErrAPI, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("entitystore: encode %s: %w", path, err)
	}
	return c.do(ctx, hc, method, path, nil, "application/json", body, out)
}

// Health fetches the service descriptor. Any failure means the store is not
// usable.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, c.retrying, http.MethodGet, "/", nil, "", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Probe reports whether an entity exists. 404 is (false, nil).
func (c *Client) Probe(ctx context.Context, pi string) (bool, error) {
	_, err := c.Read(ctx, pi)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Read returns the latest version of an entity.
func (c *Client) Read(ctx context.Context, pi string) (*EntityVersion, error) {
	var v EntityVersion
	if err := c.do(ctx, c.retrying, http.MethodGet, "/entities/"+url.PathEscape(pi), nil, "", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Resolve maps a PI to its current tip.
func (c *Client) Resolve(ctx context.Context, pi string) (*ResolveResult, error) {
	var r ResolveResult
	if err := c.do(ctx, c.retrying, http.MethodGet, "/resolve/"+url.PathEscape(pi), nil, "", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Anchor reads the store's fixed root entity.
func (c *Client) Anchor(ctx context.Context) (*EntityVersion, error) {
	var v EntityVersion
	if err := c.do(ctx, c.retrying, http.MethodGet, c.anchorPath, nil, "", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateEntity creates a new entity at version 1. The request is never
// retried.
func (c *Client) CreateEntity(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.Components == nil {
		req.Components = map[string]string{}
	}
	var res CreateResult
	if err := c.doJSON(ctx, c.once, http.MethodPost, "/entities", req, &res); err != nil {
		return nil, err
	}
	if res.PI == "" {
		return nil, fmt.Errorf("entitystore: create entity: %w: empty pi in response", apperr.ErrAPI)
	}
	return &res, nil
}

// AppendVersion adds a version guarded by req.ExpectTip. A stale tip yields
// an error matching apperr.ErrConflict.
func (c *Client) AppendVersion(ctx context.Context, pi string, req AppendRequest) (*CreateResult, error) {
	var res CreateResult
	if err := c.doJSON(ctx, c.once, http.MethodPost, "/entities/"+url.PathEscape(pi)+"/versions", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListEntities returns one page of entities.
func (c *Client) ListEntities(ctx context.Context, offset, limit int) (*ListResult, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	var res ListResult
	if err := c.do(ctx, c.retrying, http.MethodGet, "/entities", q, "", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// EachEntity pages through every entity, calling fn for each. It stops at the
// first error from fn.
func (c *Client) EachEntity(ctx context.Context, pageSize int, fn func(ListedEntity) error) error {
	if pageSize <= 0 {
		pageSize = 100
	}
	for offset := 0; ; {
		page, err := c.ListEntities(ctx, offset, pageSize)
		if err != nil {
			return err
		}
		for _, e := range page.Entities {
			if err := fn(e); err != nil {
				return err
			}
		}
		if !page.HasMore || len(page.Entities) == 0 {
			return nil
		}
		offset += len(page.Entities)
	}
}

// UploadContent stores data as a blob and returns its content address.
func (c *Client) UploadContent(ctx context.Context, data []byte, name string) (string, int64, error) {
	if name == "" {
		name = "blob"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", 0, fmt.Errorf("entitystore: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", 0, fmt.Errorf("entitystore: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", 0, fmt.Errorf("entitystore: build upload: %w", err)
	}

	var results []UploadResult
	if err := c.do(ctx, c.retrying, http.MethodPost, "/upload", nil, mw.FormDataContentType(), buf.Bytes(), &results); err != nil {
		return "", 0, err
	}
	if len(results) == 0 || results[0].CID == "" {
		return "", 0, fmt.Errorf("entitystore: upload %s: %w: empty result", name, apperr.ErrAPI)
	}
	return results[0].CID, results[0].Size, nil
}

// UploadJSON marshals v and uploads it as a JSON blob.
func (c *Client) UploadJSON(ctx context.Context, v any, name string) (string, int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", 0, fmt.Errorf("entitystore: encode %s: %w", name, err)
	}
	return c.UploadContent(ctx, data, name)
}

// Download fetches a blob by content address.
func (c *Client) Download(ctx context.Context, cid string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("entitystore: download %s: %w: %w", cid, apperr.ErrTransfer, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/cat/"+url.PathEscape(cid), nil), nil)
	if err != nil {
		return nil, fmt.Errorf("entitystore: build request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.retrying.Do(req)
	if err != nil {
		return nil, fmt.Errorf("entitystore: download %s: %w: %w", cid, apperr.ErrTransfer, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("entitystore: download %s: %w: %w", cid, apperr.ErrTransfer, err)
	}
	return data, nil
}
