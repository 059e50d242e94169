// Package transport executes outbound HTTP calls against chat platform APIs
// on behalf of tenant compute.
package transport

import (
	"context"
	"time"
)

type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// Timeout bounds each attempt, not the whole call.
	Timeout time.Duration
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Attempts   int
	Duration   time.Duration
}

// IsSuccess reports a 2xx status.
func (r Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Adapter executes one logical request, possibly over several attempts.
type Adapter interface {
	Do(ctx context.Context, req Request) (Response, error)
}
