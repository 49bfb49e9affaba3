// Package httpclient performs outbound requests for HTTP jobs, downloads and
// notifications with header and auth injection and bounded retry.
package httpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/kylemclaren/local-tasks/internal/db"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultRetryWait       = time.Second
	DefaultDownloadTimeout = 10 * time.Minute
)

// Request describes one outbound call
type Request struct {
	Method    string
	URL       string
	Headers   map[string]string
	Body      string
	AuthKind  db.AuthKind
	AuthValue string
	Timeout   time.Duration
	Retries   int
}

// Response is the terminal result of a request. StatusCode is 0 when no
// response was received.
type Response struct {
	StatusCode int
	Body       string
	Err        error
	Attempts   int
}

// OK reports a 2xx status
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client sends requests, retrying only transport failures
type Client struct {
	transport       http.RoundTripper
	retryWait       time.Duration
	defaultTimeout  time.Duration
	downloadTimeout time.Duration
	logger          *zap.SugaredLogger
}

// Option configures a Client
type Option func(*Client)

// WithTransport sets the round tripper, mainly for tests
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithRetryWait sets the fixed pause between attempts
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) { c.retryWait = d }
}

// WithDefaultTimeout sets the per-attempt timeout used when a request has none
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithDownloadTimeout bounds Download
func WithDownloadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.downloadTimeout = d
		}
	}
}

// WithLogger sets the logger used for retry diagnostics
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client
func New(opts ...Option) *Client {
	c := &Client{
		transport:       http.DefaultTransport,
		retryWait:       DefaultRetryWait,
		defaultTimeout:  DefaultTimeout,
		downloadTimeout: DefaultDownloadTimeout,
		logger:          zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// bodyMethods carry a request body
var bodyMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

func (c *Client) retryable(timeout time.Duration, retries int, attempts *int) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: c.transport, Timeout: timeout}
	rc.Logger = leveledLogger{c.logger}
	rc.RetryMax = max(retries, 0)
	rc.RetryWaitMin = c.retryWait
	rc.RetryWaitMax = c.retryWait
	rc.Backoff = func(_, _ time.Duration, _ int, _ *http.Response) time.Duration {
		return c.retryWait
	}
	// A response of any status is terminal; only transport failures retry.
	rc.CheckRetry = func(ctx context.Context, _ *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, _ int) {
		*attempts++
	}
	return rc
}

// Do performs the request up to Retries+1 times
func (c *Client) Do(ctx context.Context, r Request) Response {
	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = http.MethodGet
	}

	headers := make(http.Header)
	for k, v := range r.Headers {
		headers.Set(k, v)
	}

	var body []byte
	if r.Body != "" && bodyMethods[method] {
		body = []byte(r.Body)
		if headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", "application/json")
		}
	}

	if r.AuthValue != "" {
		switch r.AuthKind {
		case db.AuthBearer:
			headers.Set("Authorization", "Bearer "+r.AuthValue)
		case db.AuthBasic:
			headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(r.AuthValue)))
		}
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	var rawBody any
	if body != nil {
		rawBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, r.URL, rawBody)
	if err != nil {
		return Response{Err: errors.Wrap(err, "failed to build request")}
	}
	for k, vs := range headers {
		req.Header[k] = vs
	}

	var attempts int
	resp, err := c.retryable(timeout, r.Retries, &attempts).Do(req)
	if err != nil {
		return Response{Err: err, Attempts: attempts}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	out := Response{StatusCode: resp.StatusCode, Body: string(data), Attempts: attempts}
	switch {
	case readErr != nil:
		out.Err = errors.Wrap(readErr, "failed to read response body")
	case !out.OK():
		out.Err = errors.Newf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return out
}

// Download streams a GET response into w. Non-2xx statuses are errors.
func (c *Client) Download(ctx context.Context, url string, w io.Writer, retries int) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to build request")
	}
	var attempts int
	resp, err := c.retryable(c.downloadTimeout, retries, &attempts).Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "download failed after %d attempts", attempts)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, errors.Newf("download returned HTTP %d", resp.StatusCode)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, errors.Wrap(err, "failed to write download")
	}
	return n, nil
}

// PostJSON sends a JSON payload and requires a 2xx response
func (c *Client) PostJSON(ctx context.Context, url string, payload []byte, retries int) error {
	resp := c.Do(ctx, Request{
		Method:  http.MethodPost,
		URL:     url,
		Body:    string(bytes.TrimSpace(payload)),
		Retries: retries,
	})
	return resp.Err
}

// leveledLogger adapts zap to retryablehttp's LeveledLogger
type leveledLogger struct {
	l *zap.SugaredLogger
}

func (z leveledLogger) Error(msg string, kv ...interface{}) { z.l.Errorw(msg, kv...) }
func (z leveledLogger) Info(msg string, kv ...interface{})  { z.l.Debugw(msg, kv...) }
func (z leveledLogger) Debug(msg string, kv ...interface{}) { z.l.Debugw(msg, kv...) }
func (z leveledLogger) Warn(msg string, kv ...interface{})  { z.l.Warnw(msg, kv...) }
