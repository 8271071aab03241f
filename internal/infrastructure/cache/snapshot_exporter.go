package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ledgerapp "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/erp/ledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultSnapshotPrefix is used when no key prefix is configured
const DefaultSnapshotPrefix = "ledger:export"

// SnapshotSource is the view cache the exporter copies from
type SnapshotSource interface {
	Get(key ledger.EntityKey) (*ledgerapp.LedgerView, bool)
}

// SnapshotWriter is the part of the Redis client the exporter needs.
// *redis.Client and *redis.ClusterClient satisfy it.
type SnapshotWriter interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisSnapshotExporter keeps one Redis key per exported document in step
// with a view cache. It handles applied and reverted diffs: every document a
// diff touches is rewritten from the cache, or deleted when the cache no
// longer holds it.
type RedisSnapshotExporter struct {
	source SnapshotSource
	client SnapshotWriter
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSnapshotExporter creates an exporter. A zero ttl keeps keys forever.
func NewRedisSnapshotExporter(source SnapshotSource, client SnapshotWriter, prefix string, ttl time.Duration, logger *zap.Logger) *RedisSnapshotExporter {
	if prefix == "" {
		prefix = DefaultSnapshotPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSnapshotExporter{
		source: source,
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// SnapshotKey returns the Redis key of one document
func (e *RedisSnapshotExporter) SnapshotKey(teamID uuid.UUID, key ledger.EntityKey) string {
	return fmt.Sprintf("%s:%s:%s:%s", e.prefix, teamID, key.Kind, key.ID)
}

// EventTypes implements shared.EventHandler
func (e *RedisSnapshotExporter) EventTypes() []string {
	return []string{ledger.EventTypeLedgerDiffApplied, ledger.EventTypeLedgerDiffReverted}
}

// Handle implements shared.EventHandler
func (e *RedisSnapshotExporter) Handle(ctx context.Context, event shared.DomainEvent) error {
	var diff *ledger.LedgerDiff
	switch ev := event.(type) {
	case *ledger.LedgerDiffAppliedEvent:
		diff = ev.Diff
	case *ledger.LedgerDiffRevertedEvent:
		diff = ev.Diff
	default:
		return nil
	}
	if diff == nil {
		return nil
	}
	return e.Export(ctx, diff)
}

// Export writes the current view of every document diff touches
func (e *RedisSnapshotExporter) Export(ctx context.Context, diff *ledger.LedgerDiff) error {
	ctx, span := telemetry.StartSpan(ctx, "cache.export_snapshot")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrDiffID, diff.ID.String(),
		telemetry.SpanAttrTeamID, diff.TeamID.String(),
		telemetry.SpanAttrOperation, diff.Op,
	)

	var written, deleted int
	for _, key := range diff.Keys() {
		if !exported(key.Kind) {
			continue
		}
		redisKey := e.SnapshotKey(diff.TeamID, key)

		view, ok := e.source.Get(key)
		if !ok {
			if err := e.client.Del(ctx, redisKey).Err(); err != nil {
				telemetry.RecordError(span, err)
				return fmt.Errorf("failed to delete snapshot %s: %w", redisKey, err)
			}
			deleted++
			continue
		}

		payload, err := json.Marshal(view)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot %s: %w", redisKey, err)
		}
		if err := e.client.Set(ctx, redisKey, payload, e.ttl).Err(); err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("failed to write snapshot %s: %w", redisKey, err)
		}
		written++
	}

	e.logger.Debug("exported ledger snapshots",
		zap.String("diff_id", diff.ID.String()),
		zap.String("op", diff.Op),
		zap.Int("written", written),
		zap.Int("deleted", deleted),
	)
	return nil
}

// only documents have views; production orders are lock keys only
func exported(kind ledger.EntityKind) bool {
	return kind == ledger.KindInvoice || kind == ledger.KindPayment || kind == ledger.KindCreditNote
}

var _ shared.EventHandler = (*RedisSnapshotExporter)(nil)
