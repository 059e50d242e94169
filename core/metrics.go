package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// metricTagKeys are the observation fields promoted to metric tags. Anything
// else stays in the log line only, keeping label cardinality bounded.
var metricTagKeys = []string{"tenant", "plugin", "outcome"}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// operationMetrics emits <prefix>.<operation>.total and
// <prefix>.<operation>.duration_ms for one finished operation.
func operationMetrics(
	ctx context.Context,
	recorder MetricsRecorder,
	prefix string,
	operation string,
	status string,
	elapsed time.Duration,
	fields map[string]any,
) {
	tags := map[string]string{"operation": operation, "status": status}
	for _, key := range metricTagKeys {
		value, ok := fields[key]
		if !ok || value == nil {
			continue
		}
		if text := strings.TrimSpace(fmt.Sprint(value)); text != "" {
			tags[key] = text
		}
	}
	base := prefix + "." + operation
	recorder.IncCounter(ctx, base+".total", 1, cloneTags(tags))
	recorder.ObserveHistogram(ctx, base+".duration_ms", float64(elapsed.Milliseconds()), cloneTags(tags))
}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
