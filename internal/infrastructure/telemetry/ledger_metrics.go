package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LedgerMetrics counts ledger command outcomes and the cache patches they
// cause.
type LedgerMetrics struct {
	diffsApplied *Counter
	affected     *Histogram
	rollbacks    *Counter
	rejected     *Counter
	cachePatches *Counter
}

// NewLedgerMetrics registers the ledger instruments on meter
func NewLedgerMetrics(meter metric.Meter) (*LedgerMetrics, error) {
	applied, err := NewCounter(meter, "ledger_diffs_applied_total", "Ledger diffs committed to the remote store", "{diff}")
	if err != nil {
		return nil, err
	}
	affected, err := NewHistogram(meter, HistogramOpts{
		Name:        "ledger_diff_affected_entities",
		Description: "Entities touched by a committed diff",
		Unit:        "{entity}",
		Boundaries:  AffectedEntityBuckets,
	})
	if err != nil {
		return nil, err
	}
	rollbacks, err := NewCounter(meter, "ledger_rollbacks_total", "Local diffs reverted after a failed remote write", "{diff}")
	if err != nil {
		return nil, err
	}
	rejected, err := NewCounter(meter, "ledger_commands_rejected_total", "Ledger commands rejected before any state change", "{command}")
	if err != nil {
		return nil, err
	}
	patches, err := NewCounter(meter, "ledger_cache_patches_total", "View caches changed by a diff or its inverse", "{patch}")
	if err != nil {
		return nil, err
	}
	return &LedgerMetrics{
		diffsApplied: applied,
		affected:     affected,
		rollbacks:    rollbacks,
		rejected:     rejected,
		cachePatches: patches,
	}, nil
}

func (m *LedgerMetrics) RecordDiffApplied(ctx context.Context, op string, affected int) {
	m.diffsApplied.Inc(ctx, AttrOperation.String(op))
	m.affected.Record(ctx, float64(affected), AttrOperation.String(op))
}

func (m *LedgerMetrics) RecordRollback(ctx context.Context, op string) {
	m.rollbacks.Inc(ctx, AttrOperation.String(op))
}

func (m *LedgerMetrics) RecordRejected(ctx context.Context, op, code string) {
	m.rejected.Inc(ctx, AttrOperation.String(op), AttrErrorCode.String(code))
}

func (m *LedgerMetrics) RecordCachePatch(ctx context.Context, cache, op string, inverted bool) {
	m.cachePatches.Inc(ctx, AttrCache.String(cache), AttrOperation.String(op), attribute.Bool("inverted", inverted))
}
