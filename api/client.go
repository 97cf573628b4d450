// Package api is the authenticated HTTP client for the storefront
// backend. Routes are classified by an explicit capability table; token
// attachment, refresh-and-replay on 401 and error normalization all hang
// off that classification.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/marketbay/client-go/auth"
	"github.com/marketbay/client-go/core/rate"
	"github.com/marketbay/client-go/core/tag"
	"github.com/marketbay/client-go/errors"
	"github.com/marketbay/client-go/log"
)

const (
	headerAuthorization = "Authorization"
	headerVendorID      = "X-Vendor-ID"
	contentTypeJSON     = "application/json"
)

// Client issues requests against the backend, delegating all session
// concerns to the auth manager.
type Client struct {
	cfg     Config
	httpc   *http.Client
	logger  *log.Logger
	auth    *auth.Manager
	routes  *RouteTable
	limiter rate.Limiter
}

// New builds a Client around the given auth manager.
func New(cfg Config, authMgr *auth.Manager, opts ...Option) (*Client, error) {
	if err := tag.ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, errors.BadRequest("api: base URL is required")
	}
	if authMgr == nil {
		return nil, errors.BadRequest("api: auth manager is required")
	}

	c := &Client{
		cfg:  cfg,
		auth: authMgr,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpc == nil {
		c.httpc = &http.Client{}
	}
	if c.logger == nil {
		c.logger = log.G
	}
	if c.routes == nil {
		c.routes = DefaultRoutes()
	}
	return c, nil
}

// Response is the outcome of a completed request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// RequestOption adjusts one request.
type RequestOption func(*requestSpec)

type requestSpec struct {
	headers     http.Header
	query       url.Values
	out         any
	vendorScope bool
}

// WithHeader adds a request header.
func WithHeader(key, value string) RequestOption {
	return func(s *requestSpec) {
		s.headers.Add(key, value)
	}
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(s *requestSpec) {
		s.query.Add(key, value)
	}
}

// WithResponse unmarshals a 2xx response body into out.
func WithResponse(out any) RequestOption {
	return func(s *requestSpec) {
		s.out = out
	}
}

// WithVendorScope attaches the vendor header on a route whose class does
// not already require it.
func WithVendorScope() RequestOption {
	return func(s *requestSpec) {
		s.vendorScope = true
	}
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do classifies path, attaches credentials per its class, issues the
// request, and on a 401 from a protected route refreshes the session and
// replays exactly once. A second 401 is final.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	spec := &requestSpec{
		headers: make(http.Header),
		query:   make(url.Values),
	}
	for _, opt := range opts {
		opt(spec)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, errors.BadRequest("api: unencodable request body").WithCause(err)
		}
	}

	if c.limiter != nil && !c.limiter.Allow() {
		return nil, errors.TooManyRequests("api: client-side rate limit exceeded").WithCode("client_rate_limited")
	}

	class := c.routes.Classify(path)

	accessToken := ""
	switch class {
	case ClassPublic:
	case ClassAuth:
		// Best effort: the auth endpoints work without a session.
		accessToken, _ = c.auth.AccessToken()
	case ClassProtected, ClassVendor:
		if err := c.auth.EnsureValidToken(ctx); err != nil {
			return nil, errors.ErrAuthenticationRequired.WithCause(err)
		}
		accessToken, _ = c.auth.AccessToken()
	}

	vendorID := ""
	if class == ClassVendor || spec.vendorScope {
		if vendorID = c.auth.VendorID(); vendorID == "" {
			return nil, errors.Forbidden("api: %s requires a vendor session", path)
		}
	}

	resp, err := c.doOnce(ctx, method, path, payload, spec, accessToken, vendorID)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && (class == ClassProtected || class == ClassVendor) {
		resp, err = c.replayAfterRefresh(ctx, method, path, payload, spec, vendorID)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			// Fresh token still rejected. Nothing left to try.
			return nil, errors.ErrAuthenticationRequired.WithCause(c.errorFrom(resp, method, path))
		}
	}

	if resp.StatusCode >= 400 {
		return resp, c.errorFrom(resp, method, path)
	}

	if spec.out != nil {
		if err := resp.Decode(spec.out); err != nil {
			return resp, errors.Internal("api: undecodable response from %s %s", method, path).WithCause(err)
		}
	}
	return resp, nil
}

// replayAfterRefresh obtains a fresh token, joining an in-flight refresh
// through the queue when one is running, and replays the request once.
func (c *Client) replayAfterRefresh(ctx context.Context, method, path string, payload []byte, spec *requestSpec, vendorID string) (*Response, error) {
	c.logger.Debug().Str("method", method).Str("path", path).Msg("got 401, refreshing and replaying")

	if c.auth.RefreshInFlight() {
		var replayed *Response
		err := c.auth.QueueRequest(ctx, func(accessToken string) error {
			var err error
			replayed, err = c.doOnce(ctx, method, path, payload, spec, accessToken, vendorID)
			return err
		})
		if err != nil {
			return nil, c.refreshFailure(err)
		}
		return replayed, nil
	}

	if err := c.auth.Refresh(ctx); err != nil {
		return nil, c.refreshFailure(err)
	}

	accessToken, ok := c.auth.AccessToken()
	if !ok {
		return nil, errors.ErrAuthenticationRequired
	}
	return c.doOnce(ctx, method, path, payload, spec, accessToken, vendorID)
}

func (c *Client) refreshFailure(err error) error {
	if _, ok := errors.RefreshFailed(err); ok {
		return errors.ErrAuthenticationRequired.WithCause(err)
	}
	return err
}

// doOnce performs a single HTTP round trip.
func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, spec *requestSpec, accessToken, vendorID string) (*Response, error) {
	target := c.cfg.BaseURL + path
	if len(spec.query) > 0 {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		target += sep + spec.query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errors.BadRequest("api: bad request target %s", target).WithCause(err)
	}

	for key, values := range spec.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	if accessToken != "" {
		req.Header.Set(headerAuthorization, "Bearer "+accessToken)
	}
	if vendorID != "" {
		req.Header.Set(headerVendorID, vendorID)
	}

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.ServiceUnavailable("api: %s %s unreachable", method, path).WithCause(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if err != nil {
		return nil, errors.Internal("api: reading response from %s %s", method, path).WithCause(err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       raw,
	}, nil
}

// errorFrom normalizes a non-2xx response into an *errors.Error,
// tolerating non-JSON bodies.
func (c *Client) errorFrom(resp *Response, method, path string) *errors.Error {
	var body struct {
		Detail    string `json:"detail"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.Detail != "" {
		return errors.New(resp.StatusCode, "%s", body.Detail).WithCode(body.ErrorCode)
	}

	return errors.New(resp.StatusCode, "%s %s failed with status %d", method, path, resp.StatusCode)
}
