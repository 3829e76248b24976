// Package rest talks to the product's HTTP API: message history, attachment
// upload and the caller's profile and friends.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/czeful/goalchat/internal/auth"
	"github.com/czeful/goalchat/internal/wire"
	"go.uber.org/zap"
)

var (
	// ErrUnauthorized means the server rejected the bearer token.
	ErrUnauthorized = errors.New("rest: unauthorized")
	// ErrTimeout means the call did not finish within the request timeout.
	ErrTimeout = errors.New("rest: request timed out")
)

// StatusError is returned for non-2xx responses other than 401.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rest: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	token   func() string
	log     *zap.Logger

	onUnauthorized func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// OnUnauthorized registers fn to run whenever a call comes back 401.
func OnUnauthorized(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// New creates a client for baseURL. token is read on every call so a
// credential change takes effect without rebuilding the client.
func New(baseURL string, token func() string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("rest: base url %q must be http or https", baseURL)
	}
	c := &Client{
		base:    u,
		http:    http.DefaultClient,
		timeout: 15 * time.Second,
		token:   token,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

// do runs req under the client timeout and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", auth.BearerHeader(tok))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return nil, fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return nil, fmt.Errorf("rest: read %s: %w", path, err)
	}
	c.log.Debug("rest call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// History fetches the conversation with peerID, oldest first.
func (c *Client) History(ctx context.Context, peerID string) ([]wire.Message, error) {
	data, err := c.do(ctx, http.MethodGet, "/chat/"+url.PathEscape(peerID), "", nil)
	if err != nil {
		return nil, err
	}
	return wire.DecodeHistory(data)
}

// Profile fetches the caller's own user record.
func (c *Client) Profile(ctx context.Context) (wire.Profile, error) {
	data, err := c.do(ctx, http.MethodGet, "/users/me", "", nil)
	if err != nil {
		return wire.Profile{}, err
	}
	return wire.DecodeProfile(data)
}

// Friends fetches the caller's friend list.
func (c *Client) Friends(ctx context.Context) ([]wire.Profile, error) {
	data, err := c.do(ctx, http.MethodGet, "/friends", "", nil)
	if err != nil {
		return nil, err
	}
	return wire.DecodeProfiles(data), nil
}

// Uploaded is the upload endpoint's answer.
type Uploaded struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Upload streams r as the multipart field "file" to /api/upload.
func (c *Client) Upload(ctx context.Context, name, mimeType string, r io.Reader) (Uploaded, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		h.Set("Content-Type", mimeType)
		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	data, err := c.do(ctx, http.MethodPost, "/api/upload", mw.FormDataContentType(), pr)
	_ = pr.Close()
	if err != nil {
		return Uploaded{}, err
	}
	var out Uploaded
	if err := json.Unmarshal(data, &out); err != nil {
		return Uploaded{}, fmt.Errorf("rest: decode upload response: %w", err)
	}
	if out.URL == "" {
		return Uploaded{}, fmt.Errorf("rest: upload response has no url")
	}
	if out.Name == "" {
		out.Name = name
	}
	return out, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
