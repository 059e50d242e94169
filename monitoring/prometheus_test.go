package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-botfactory/core"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type fixedDepth struct {
	n   int
	err error
}

func (d fixedDepth) Depth(context.Context, string) (int, error) { return d.n, d.err }

func gather(t *testing.T, registry *prometheus.Registry, name string) []*dto.Metric {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()
		}
	}
	return nil
}

func label(metric *dto.Metric, name string) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func attachment(tenant string, depth core.QueueDepth) core.MonitoringAttachment {
	return core.MonitoringAttachment{
		Tenant:    tenant,
		Naming:    core.NamingRecord{Tenant: tenant, QueueID: "SQS" + tenant},
		Resources: []string{"bot/" + tenant, "SQS" + tenant},
		Depth:     depth,
	}
}

func TestPrometheusAttacher_ExposesQueueDepthPerTenant(t *testing.T) {
	registry := prometheus.NewRegistry()
	attacher := NewPrometheusAttacher(registry, "botfactory", nil)
	ctx := context.Background()

	if err := attacher.Attach(ctx, attachment("SimpBot", fixedDepth{n: 3})); err != nil {
		t.Fatalf("attach simpbot: %v", err)
	}
	if err := attacher.Attach(ctx, attachment("Watchdog2", fixedDepth{err: errors.New("down")})); err != nil {
		t.Fatalf("attach watchdog2: %v", err)
	}
	if err := attacher.Attach(ctx, attachment("SimpBot", fixedDepth{n: 9})); err != nil {
		t.Fatalf("repeated attach should be a no-op: %v", err)
	}

	metrics := gather(t, registry, "botfactory_relay_queue_depth")
	if len(metrics) != 2 {
		t.Fatalf("expected two depth gauges, got %d", len(metrics))
	}
	values := map[string]float64{}
	for _, metric := range metrics {
		values[label(metric, "tenant")] = metric.GetGauge().GetValue()
	}
	if values["SimpBot"] != 3 || values["Watchdog2"] != -1 {
		t.Fatalf("unexpected depth values %v", values)
	}

	if err := attacher.Detach(ctx, "SimpBot"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if err := attacher.Detach(ctx, "SimpBot"); err != nil {
		t.Fatalf("repeated detach: %v", err)
	}
	metrics = gather(t, registry, "botfactory_relay_queue_depth")
	if len(metrics) != 1 || label(metrics[0], "tenant") != "Watchdog2" {
		t.Fatalf("expected only Watchdog2 gauge after detach")
	}
	if _, ok := attacher.Attached("SimpBot"); ok {
		t.Fatalf("expected SimpBot detached")
	}
}

func TestPrometheusAttacher_RequiresTenant(t *testing.T) {
	attacher := NewPrometheusAttacher(prometheus.NewRegistry(), "botfactory", nil)
	if err := attacher.Attach(context.Background(), core.MonitoringAttachment{}); err == nil {
		t.Fatalf("expected missing tenant to fail")
	}
}

func TestRecorder_CountsAndObservesWithTags(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry, "botfactory")
	ctx := context.Background()

	recorder.IncCounter(ctx, "gate.handle_interaction.total", 1, map[string]string{"status": "success", "tenant": "acme"})
	recorder.IncCounter(ctx, "gate.handle_interaction.total", 2, map[string]string{"status": "success", "tenant": "acme"})
	recorder.IncCounter(ctx, "gate.handle_interaction.total", 1, map[string]string{"status": "failure"})
	recorder.ObserveHistogram(ctx, "gate.handle_interaction.duration_ms", 12, map[string]string{"status": "success"})

	counters := gather(t, registry, "botfactory_gate_handle_interaction_total")
	if len(counters) != 2 {
		t.Fatalf("expected two label sets, got %d", len(counters))
	}
	for _, metric := range counters {
		if label(metric, "status") == "success" && metric.GetCounter().GetValue() != 3 {
			t.Fatalf("unexpected success count %v", metric.GetCounter().GetValue())
		}
		if label(metric, "status") == "failure" && label(metric, "tenant") != "" {
			t.Fatalf("expected missing tag to be empty")
		}
	}
	histograms := gather(t, registry, "botfactory_gate_handle_interaction_duration_ms")
	if len(histograms) != 1 || histograms[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("unexpected histogram %+v", histograms)
	}
}
