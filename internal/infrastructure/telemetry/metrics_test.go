package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/erp/ledger/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func newTestMeterProvider(t *testing.T) (*telemetry.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled:     true,
		ServiceName: "ledger-test",
	}, zaptest.NewLogger(t), telemetry.WithReader(reader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled:        false,
		ExportInterval: time.Minute,
		ServiceName:    "ledger-test",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, mp.IsEnabled())
	assert.NotNil(t, mp.Meter("ledger"))
	assert.NoError(t, mp.ForceFlush(context.Background()))
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestLedgerMetrics(t *testing.T) {
	mp, reader := newTestMeterProvider(t)
	assert.True(t, mp.IsEnabled())

	m, err := telemetry.NewLedgerMetrics(mp.Meter("ledger"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordDiffApplied(ctx, "create_allocation", 3)
	m.RecordDiffApplied(ctx, "create_allocation", 3)
	m.RecordDiffApplied(ctx, "link_credit_note", 2)
	m.RecordRollback(ctx, "create_allocation")
	m.RecordRejected(ctx, "create_allocation", "AMOUNT_EXCEEDS_CAPACITY")
	m.RecordCachePatch(ctx, "invoices", "create_allocation", false)
	m.RecordCachePatch(ctx, "invoices", "create_allocation", true)

	got := collect(t, reader)
	op := telemetry.AttrOperation.String("create_allocation")

	assert.Equal(t, int64(2), sumFor(t, got["ledger_diffs_applied_total"], op))
	assert.Equal(t, int64(1), sumFor(t, got["ledger_diffs_applied_total"], telemetry.AttrOperation.String("link_credit_note")))
	assert.Equal(t, int64(1), sumFor(t, got["ledger_rollbacks_total"], op))
	assert.Equal(t, int64(1), sumFor(t, got["ledger_commands_rejected_total"],
		op, telemetry.AttrErrorCode.String("AMOUNT_EXCEEDS_CAPACITY")))

	assert.Equal(t, int64(1), sumFor(t, got["ledger_cache_patches_total"],
		telemetry.AttrCache.String("invoices"), op, attribute.Bool("inverted", true)))

	hist, ok := got["ledger_diff_affected_entities"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	var total float64
	for _, dp := range hist.DataPoints {
		count += dp.Count
		total += dp.Sum
	}
	assert.Equal(t, uint64(3), count)
	assert.Equal(t, float64(8), total)
}

func TestTracerProvider_Disabled(t *testing.T) {
	tp, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{Enabled: false, ServiceName: "ledger-test"}, nil)
	require.NoError(t, err)
	assert.False(t, tp.IsEnabled())
	assert.NotNil(t, tp.Tracer("ledger"))
	assert.NoError(t, tp.Shutdown(context.Background()))
}
