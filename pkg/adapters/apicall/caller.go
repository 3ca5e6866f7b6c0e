// Package apicall performs the HTTP calls behind API actions: a blocking
// Caller for sync actions and a StreamingDispatcher that runs the call in
// the background and publishes the result on the response channel.
package apicall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/egorky/iafsm/internal/logging"
	"github.com/egorky/iafsm/internal/templating"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
)

// DefaultTimeout applies when an API definition sets no timeout_ms.
const DefaultTimeout = domain.DefaultAPITimeoutMs * time.Millisecond

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// Caller implements ports.APICaller over net/http.
type Caller struct {
	client        *http.Client
	renderer      ports.Renderer
	logger        *slog.Logger
	retryInterval time.Duration
}

// Option configures the Caller.
type Option func(*Caller)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Caller) {
		c.client = client
	}
}

// WithRenderer replaces the template renderer used for URL, headers, query and body.
func WithRenderer(r ports.Renderer) Option {
	return func(c *Caller) {
		c.renderer = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Caller) {
		c.logger = logger
	}
}

// WithRetryInterval sets the initial delay between retries.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Caller) {
		c.retryInterval = d
	}
}

// NewCaller creates a Caller.
func NewCaller(opts ...Option) *Caller {
	c := &Caller{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		renderer:      templating.New(),
		logger:        logging.NewNop(),
		retryInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request is a rendered call, ready to send.
type request struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

// Call renders the definition against the request params and performs it.
// Transport errors and 5xx responses are retried up to def.Retries times.
func (c *Caller) Call(ctx context.Context, def domain.APIDefinition, req ports.CallRequest) domain.CallResult {
	rendered, err := c.render(ctx, def, req)
	if err != nil {
		return domain.CallResult{Status: domain.CallError, ErrorMessage: err.Error()}
	}

	timeout := DefaultTimeout
	if def.TimeoutMs > 0 {
		timeout = time.Duration(def.TimeoutMs) * time.Millisecond
	}

	var result domain.CallResult
	attempt := 0
	op := func() error {
		attempt++
		result = c.do(ctx, rendered, timeout)
		if result.OK() || !retryable(result) {
			return nil
		}
		return errors.New(result.ErrorMessage)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	var policy backoff.BackOff = backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(def.Retries, 0))), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("API call failed, retrying",
			"api", def.ID,
			"correlation_id", req.CorrelationID,
			"attempt", attempt,
			"wait", wait,
			"err", err,
		)
	}
	_ = backoff.RetryNotify(op, policy, notify)

	c.logger.Debug("API call finished",
		"api", def.ID,
		"correlation_id", req.CorrelationID,
		"status", result.Status,
		"http_code", result.HTTPCode,
		"attempts", attempt,
	)
	return result
}

func retryable(r domain.CallResult) bool {
	return r.HTTPCode == 0 || r.HTTPCode >= 500
}

func (c *Caller) render(ctx context.Context, def domain.APIDefinition, req ports.CallRequest) (request, error) {
	params := make(map[string]any, len(req.Params)+2)
	for k, v := range req.Params {
		params[k] = v
	}
	if req.SessionID != "" {
		params["sessionId"] = req.SessionID
	}
	if req.CorrelationID != "" {
		params["correlationId"] = req.CorrelationID
	}

	out := request{method: strings.ToUpper(def.Method), headers: map[string]string{}}
	if out.method == "" {
		out.method = http.MethodGet
	}

	rawURL, err := c.renderString(ctx, def.URL, params)
	if err != nil {
		return out, fmt.Errorf("render url: %w", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return out, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if len(def.QueryTemplate) > 0 {
		rendered, err := c.renderer.Render(ctx, def.QueryTemplate, params)
		if err != nil {
			return out, fmt.Errorf("render query: %w", err)
		}
		q := u.Query()
		for k, v := range rendered.(map[string]any) {
			if v == nil || v == "" {
				continue
			}
			q.Set(k, templating.Stringify(v))
		}
		u.RawQuery = q.Encode()
	}
	out.url = u.String()

	for k, v := range def.Headers {
		h, err := c.renderString(ctx, v, params)
		if err != nil {
			return out, fmt.Errorf("render header %s: %w", k, err)
		}
		out.headers[k] = h
	}

	if def.BodyTemplate != nil && out.method != http.MethodGet && out.method != http.MethodHead {
		body, err := c.renderer.Render(ctx, def.BodyTemplate, params)
		if err != nil {
			return out, fmt.Errorf("render body: %w", err)
		}
		if s, ok := body.(string); ok {
			out.body = []byte(s)
		} else {
			if out.body, err = json.Marshal(body); err != nil {
				return out, fmt.Errorf("encode body: %w", err)
			}
			if _, set := out.headers["Content-Type"]; !set {
				out.headers["Content-Type"] = "application/json"
			}
		}
	}
	return out, nil
}

func (c *Caller) renderString(ctx context.Context, tmpl string, params map[string]any) (string, error) {
	v, err := c.renderer.Render(ctx, tmpl, params)
	if err != nil {
		return "", err
	}
	return templating.Stringify(v), nil
}

func (c *Caller) do(ctx context.Context, r request, timeout time.Duration) domain.CallResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return domain.CallResult{Status: domain.CallError, ErrorMessage: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return domain.CallResult{
			Status:       domain.CallError,
			ErrorMessage: err.Error(),
			IsTimeout:    isTimeout(ctx, err),
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.CallResult{
			Status:       domain.CallError,
			HTTPCode:     resp.StatusCode,
			ErrorMessage: fmt.Sprintf("read body: %v", err),
			IsTimeout:    isTimeout(ctx, err),
		}
	}
	data := decodeBody(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.CallResult{
			Status:       domain.CallError,
			HTTPCode:     resp.StatusCode,
			Data:         data,
			ErrorMessage: fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}
	return domain.CallResult{Status: domain.CallSuccess, HTTPCode: resp.StatusCode, Data: data}
}

// decodeBody returns parsed JSON, or the body as text when it is not JSON.
func decodeBody(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
