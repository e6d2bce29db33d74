package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("direction", "in"),
		attribute.String("player_id", "456"),
		attribute.String("channel", "buy_in"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "direction" && attrs[1].Key != "direction" {
		t.Fatalf("expected direction to be retained")
	}
	if attrs[0].Key != "channel" && attrs[1].Key != "channel" {
		t.Fatalf("expected channel to be retained")
	}
}

func TestMetrics_RecordsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(Config{ServiceName: "pitboss-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordVisitStarted(ctx, "rated", true)
	m.RecordEntryDerived(ctx, "buy_in")
	m.RecordEntryDerived(ctx, "buy_in")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, point := range sum.DataPoints {
				totals[metric.Name] += point.Value
			}
		}
	}

	assert.Equal(t, int64(1), totals["pitboss_visits_started_total"])
	assert.Equal(t, int64(1), totals["pitboss_visit_rollovers_total"])
	assert.Equal(t, int64(2), totals["pitboss_compliance_entries_derived_total"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordIntegrityViolation(context.Background(), "duplicate_active_visit")
	assert.NotNil(t, NewNoop())
}
