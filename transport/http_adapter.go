package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultClientTimeout       = 30 * time.Second
	defaultBodyLimit     int64 = 10 << 20
	defaultMaxRetryWait        = 30 * time.Second
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type HTTPOption func(*HTTPAdapter)

// WithDefaultHeader sets a header sent with every request unless the request
// overrides it.
func WithDefaultHeader(key, value string) HTTPOption {
	return func(a *HTTPAdapter) {
		if key = http.CanonicalHeaderKey(strings.TrimSpace(key)); key != "" {
			a.headers[key] = strings.TrimSpace(value)
		}
	}
}

func WithBodyLimit(limit int64) HTTPOption {
	return func(a *HTTPAdapter) {
		if limit > 0 {
			a.bodyLimit = limit
		}
	}
}

// WithRateLimitRetries retries a 429 answer up to retries times, waiting as
// long as the remote asks but never longer than maxWait.
func WithRateLimitRetries(retries int, maxWait time.Duration) HTTPOption {
	return func(a *HTTPAdapter) {
		a.retries = max(retries, 0)
		if maxWait > 0 {
			a.maxWait = maxWait
		}
	}
}

// HTTPAdapter sends JSON requests over an HTTPDoer.
type HTTPAdapter struct {
	client    HTTPDoer
	headers   map[string]string
	bodyLimit int64
	retries   int
	maxWait   time.Duration
	wait      func(ctx context.Context, d time.Duration) error
}

func NewHTTPAdapter(client HTTPDoer, opts ...HTTPOption) *HTTPAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	a := &HTTPAdapter{
		client: client,
		headers: map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		},
		bodyLimit: defaultBodyLimit,
		retries:   1,
		maxWait:   defaultMaxRetryWait,
		wait:      sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

func (a *HTTPAdapter) Do(ctx context.Context, req Request) (Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || target.Host == "" {
		return Response{}, transportWrapError(err, goerrors.CategoryBadInput,
			"transport: request url must be absolute", http.StatusBadRequest,
			map[string]any{"url": req.URL})
	}

	startedAt := time.Now()
	for attempt := 1; ; attempt++ {
		res, retryAfter, err := a.attempt(ctx, method, target.String(), req)
		if err != nil {
			return Response{}, err
		}
		res.Attempts = attempt
		res.Duration = time.Since(startedAt)
		if res.StatusCode != http.StatusTooManyRequests || attempt > a.retries || retryAfter > a.maxWait {
			return res, nil
		}
		if err := a.wait(ctx, retryAfter); err != nil {
			return res, transportWrapError(err, goerrors.CategoryRateLimit,
				"transport: rate limit wait interrupted", http.StatusTooManyRequests,
				map[string]any{"method": method, "url": target.String(), "attempt": attempt})
		}
	}
}

func (a *HTTPAdapter) attempt(ctx context.Context, method, target string, req Request) (Response, time.Duration, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, 0, transportWrapError(err, goerrors.CategoryBadInput,
			"transport: build request", http.StatusBadRequest,
			map[string]any{"method": method, "url": target})
	}
	for key, value := range a.headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		if key = strings.TrimSpace(key); key != "" {
			httpReq.Header.Set(key, strings.TrimSpace(value))
		}
	}

	httpRes, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, 0, transportWrapError(err, goerrors.CategoryExternal,
			"transport: request failed", http.StatusBadGateway,
			map[string]any{"method": method, "url": target})
	}
	defer httpRes.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpRes.Body, a.bodyLimit+1))
	if err != nil {
		return Response{}, 0, transportWrapError(err, goerrors.CategoryExternal,
			"transport: read response body", http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode})
	}
	if int64(len(body)) > a.bodyLimit {
		return Response{}, 0, transportError(
			fmt.Sprintf("transport: response body exceeds %d bytes", a.bodyLimit),
			goerrors.CategoryExternal, http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode, "limit": a.bodyLimit})
	}

	headers := make(map[string]string, len(httpRes.Header))
	for key, values := range httpRes.Header {
		headers[key] = strings.Join(values, ",")
	}
	res := Response{StatusCode: httpRes.StatusCode, Headers: headers, Body: body}
	return res, retryAfter(httpRes.Header, body), nil
}

// retryAfter reads the wait requested by a 429, from the Retry-After header
// or a JSON body carrying retry_after in seconds.
func retryAfter(header http.Header, body []byte) time.Duration {
	if raw := strings.TrimSpace(header.Get("Retry-After")); raw != "" {
		if seconds, err := strconv.ParseFloat(raw, 64); err == nil && seconds >= 0 {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Adapter = (*HTTPAdapter)(nil)
