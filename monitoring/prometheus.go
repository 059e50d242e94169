// Package monitoring attaches tenant graphs to Prometheus: one queue depth
// gauge per tenant, plus a core.MetricsRecorder over counter and histogram
// vectors.
package monitoring

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-botfactory/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"
)

const depthTimeout = 2 * time.Second

// PrometheusAttacher registers per-tenant collectors on attach and removes
// them on detach.
type PrometheusAttacher struct {
	registerer prometheus.Registerer
	namespace  string
	observer   *core.Observer

	mu       sync.Mutex
	attached map[string]attached
}

type attached struct {
	attachment core.MonitoringAttachment
	collectors []prometheus.Collector
}

func NewPrometheusAttacher(registerer prometheus.Registerer, namespace string, observer *core.Observer) *PrometheusAttacher {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if observer == nil {
		observer = core.NopObserver()
	}
	return &PrometheusAttacher{
		registerer: registerer,
		namespace:  metricName(namespace),
		observer:   observer,
		attached:   map[string]attached{},
	}
}

func (a *PrometheusAttacher) Attach(ctx context.Context, attachment core.MonitoringAttachment) (err error) {
	startedAt := time.Now()
	defer func() {
		a.observer.Observe(ctx, startedAt, "attach_monitoring", err, map[string]any{
			"tenant":    attachment.Tenant,
			"resources": len(attachment.Resources),
		})
	}()
	if strings.TrimSpace(attachment.Tenant) == "" {
		return core.BadInputError("monitoring: tenant is required", nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.attached[attachment.Tenant]; exists {
		return nil
	}

	labels := prometheus.Labels{"tenant": attachment.Tenant}
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   a.namespace,
			Name:        "tenant_resources",
			Help:        "Resources owned by the tenant graph.",
			ConstLabels: labels,
		}, func() float64 { return float64(len(attachment.Resources)) }),
	}
	if attachment.Depth != nil {
		queueID := attachment.Naming.QueueID
		depth := attachment.Depth
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   a.namespace,
			Name:        "relay_queue_depth",
			Help:        "Messages waiting on the tenant relay queue.",
			ConstLabels: prometheus.Labels{"tenant": attachment.Tenant, "queue": queueID},
		}, func() float64 {
			depthCtx, cancel := context.WithTimeout(context.Background(), depthTimeout)
			defer cancel()
			n, err := depth.Depth(depthCtx, queueID)
			if err != nil {
				return -1
			}
			return float64(n)
		}))
	}

	registered := make([]prometheus.Collector, 0, len(collectors))
	for _, collector := range collectors {
		if err := a.registerer.Register(collector); err != nil {
			for _, done := range registered {
				a.registerer.Unregister(done)
			}
			return core.WrapError(err, goerrors.CategoryInternal, "monitoring: register collector", core.ErrorInternal, map[string]any{"tenant": attachment.Tenant})
		}
		registered = append(registered, collector)
	}
	a.attached[attachment.Tenant] = attached{attachment: attachment, collectors: registered}
	return nil
}

// Detach is idempotent.
func (a *PrometheusAttacher) Detach(ctx context.Context, tenant string) error {
	startedAt := time.Now()
	a.mu.Lock()
	entry, ok := a.attached[tenant]
	delete(a.attached, tenant)
	a.mu.Unlock()
	for _, collector := range entry.collectors {
		a.registerer.Unregister(collector)
	}
	a.observer.Observe(ctx, startedAt, "detach_monitoring", nil, map[string]any{
		"tenant":   tenant,
		"attached": ok,
	})
	return nil
}

func (a *PrometheusAttacher) Attached(tenant string) (core.MonitoringAttachment, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.attached[tenant]
	return entry.attachment, ok
}

// Recorder implements core.MetricsRecorder. The label set of a metric is
// fixed by its first observation; later tags outside that set are dropped.
type Recorder struct {
	registerer prometheus.Registerer
	namespace  string

	mu         sync.Mutex
	counters   map[string]*vec[*prometheus.CounterVec]
	histograms map[string]*vec[*prometheus.HistogramVec]
}

type vec[T any] struct {
	metric T
	labels []string
}

func NewRecorder(registerer prometheus.Registerer, namespace string) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Recorder{
		registerer: registerer,
		namespace:  metricName(namespace),
		counters:   map[string]*vec[*prometheus.CounterVec]{},
		histograms: map[string]*vec[*prometheus.HistogramVec]{},
	}
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if value < 0 {
		return
	}
	name = metricName(name)
	r.mu.Lock()
	entry, ok := r.counters[name]
	if !ok {
		labels := labelKeys(tags)
		metric := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      fmt.Sprintf("Counter %s.", name),
		}, labels)
		if err := r.registerer.Register(metric); err != nil {
			if existing, isDup := err.(prometheus.AlreadyRegisteredError); isDup {
				if typed, ok := existing.ExistingCollector.(*prometheus.CounterVec); ok {
					metric = typed
				}
			}
		}
		entry = &vec[*prometheus.CounterVec]{metric: metric, labels: labels}
		r.counters[name] = entry
	}
	r.mu.Unlock()
	entry.metric.WithLabelValues(labelValues(entry.labels, tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	name = metricName(name)
	r.mu.Lock()
	entry, ok := r.histograms[name]
	if !ok {
		labels := labelKeys(tags)
		metric := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: r.namespace,
			Name:      name,
			Help:      fmt.Sprintf("Histogram %s.", name),
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, labels)
		if err := r.registerer.Register(metric); err != nil {
			if existing, isDup := err.(prometheus.AlreadyRegisteredError); isDup {
				if typed, ok := existing.ExistingCollector.(*prometheus.HistogramVec); ok {
					metric = typed
				}
			}
		}
		entry = &vec[*prometheus.HistogramVec]{metric: metric, labels: labels}
		r.histograms[name] = entry
	}
	r.mu.Unlock()
	entry.metric.WithLabelValues(labelValues(entry.labels, tags)...).Observe(value)
}

func labelKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		if name := metricName(key); name != "" {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys
}

func labelValues(keys []string, tags map[string]string) []string {
	normalized := make(map[string]string, len(tags))
	for key, value := range tags {
		normalized[metricName(key)] = value
	}
	values := make([]string, len(keys))
	for i, key := range keys {
		values[i] = normalized[key]
	}
	return values
}

func metricName(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

var (
	_ core.MonitoringAttacher = (*PrometheusAttacher)(nil)
	_ core.MetricsRecorder    = (*Recorder)(nil)
)
