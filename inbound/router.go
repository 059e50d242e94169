package inbound

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-botfactory/composer"
	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/gate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultMaxBodyBytes int64 = 1 << 20

// Gate handles one verified interaction for a mounted tenant.
type Gate interface {
	HandleInteraction(ctx context.Context, req gate.Request) gate.Result
}

// Resolver finds the gate mounted at /<tenant>. Tenant paths match exactly.
type Resolver interface {
	Resolve(tenant string) (Gate, bool)
}

type ResolverFunc func(tenant string) (Gate, bool)

func (fn ResolverFunc) Resolve(tenant string) (Gate, bool) {
	return fn(tenant)
}

// ComposerResolver mounts the gates of every graph held by c.
func ComposerResolver(c *composer.Composer) Resolver {
	return ResolverFunc(func(tenant string) (Gate, bool) {
		if c == nil {
			return nil, false
		}
		graph, ok := c.Graph(tenant)
		if !ok || graph == nil {
			return nil, false
		}
		return graph, true
	})
}

type Option func(*Router)

func WithObserver(observer *core.Observer) Option {
	return func(r *Router) {
		if observer != nil {
			r.observer = observer
		}
	}
}

func WithMaxBodyBytes(limit int64) Option {
	return func(r *Router) {
		if limit > 0 {
			r.maxBodyBytes = limit
		}
	}
}

// WithMetricsHandler serves handler at GET /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(r *Router) {
		r.metrics = handler
	}
}

// WithHealthCheck makes /healthz answer 503 while check fails.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(r *Router) {
		r.health = check
	}
}

// WithTracing wraps the router in an otelhttp handler named operation.
func WithTracing(operation string) Option {
	return func(r *Router) {
		r.tracing = strings.TrimSpace(operation)
	}
}

type Router struct {
	resolver     Resolver
	observer     *core.Observer
	maxBodyBytes int64
	metrics      http.Handler
	health       func(ctx context.Context) error
	tracing      string
	handler      http.Handler
}

func NewRouter(resolver Resolver, opts ...Option) *Router {
	r := &Router{
		resolver:     resolver,
		observer:     core.NopObserver(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Get("/healthz", r.handleHealth)
	if r.metrics != nil {
		mux.Method(http.MethodGet, "/metrics", r.metrics)
	}
	mux.Post("/{tenant}", r.handleGate)

	var handler http.Handler = mux
	if r.tracing != "" {
		handler = otelhttp.NewHandler(handler, r.tracing)
	}
	r.handler = handler
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if r.health != nil {
		if err := r.health(req.Context()); err != nil {
			r.observer.Warn(req.Context(), "health check failed", map[string]any{"error": err.Error()})
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

func (r *Router) handleGate(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	tenant := chi.URLParam(req, "tenant")
	fields := map[string]any{
		"tenant":     tenant,
		"request_id": middleware.GetReqID(ctx),
	}

	var target Gate
	ok := false
	if r.resolver != nil {
		target, ok = r.resolver.Resolve(tenant)
	}
	if !ok || target == nil {
		err := unknownTenant(tenant)
		fields["error"] = err.Error()
		r.observer.Warn(ctx, "inbound request rejected", fields)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBodyBytes))
	if err != nil {
		err = unreadableBody(err, tenant)
		fields["error"] = err.Error()
		r.observer.Warn(ctx, "inbound request rejected", fields)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result := target.HandleInteraction(ctx, gate.Request{
		Tenant:  tenant,
		Headers: req.Header.Clone(),
		Body:    body,
	})
	code := result.StatusCode()
	fields["outcome"] = result.Outcome.String()
	fields["status"] = code
	if code != http.StatusOK {
		fields["reason"] = result.Text
		r.observer.Warn(ctx, "inbound request rejected", fields)
		w.WriteHeader(code)
		return
	}
	if result.MessageID != "" {
		fields["message_id"] = result.MessageID
	}
	r.observer.Debug(ctx, "inbound request accepted", fields)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Body)
}
