package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newDiffEvent(teamID uuid.UUID) *ledger.LedgerDiffAppliedEvent {
	return ledger.NewLedgerDiffAppliedEvent(&ledger.LedgerDiff{ID: uuid.New(), TeamID: teamID})
}

// testHandler implements EventHandler for testing
type testHandler struct {
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
	panicWith  any
	mu         sync.Mutex
}

func newTestHandler(eventTypes ...string) *testHandler {
	return &testHandler{eventTypes: eventTypes}
}

func (h *testHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	if h.panicWith != nil {
		panic(h.panicWith)
	}
	return h.err
}

func (h *testHandler) EventTypes() []string {
	return h.eventTypes
}

func (h *testHandler) getHandled() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shared.DomainEvent(nil), h.handled...)
}

func TestInMemoryEventBus_Publish(t *testing.T) {
	bus := NewInMemoryEventBus(zaptest.NewLogger(t))

	applied := newTestHandler(ledger.EventTypeLedgerDiffApplied)
	reverted := newTestHandler(ledger.EventTypeLedgerDiffReverted)
	bus.Subscribe(applied)
	bus.Subscribe(reverted)

	event := newDiffEvent(uuid.New())
	require.NoError(t, bus.Publish(context.Background(), event))

	require.Len(t, applied.getHandled(), 1)
	assert.Equal(t, event, applied.getHandled()[0])
	assert.Empty(t, reverted.getHandled())
}

func TestInMemoryEventBus_ExplicitTypesOverrideHandlerTypes(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler(ledger.EventTypeLedgerDiffApplied)
	bus.Subscribe(handler, ledger.EventTypeLedgerDiffReverted)

	require.NoError(t, bus.Publish(context.Background(), newDiffEvent(uuid.New())))
	assert.Empty(t, handler.getHandled())

	d := &ledger.LedgerDiff{ID: uuid.New(), TeamID: uuid.New()}
	require.NoError(t, bus.Publish(context.Background(), ledger.NewLedgerDiffRevertedEvent(d, assert.AnError)))
	assert.Len(t, handler.getHandled(), 1)
}

func TestInMemoryEventBus_WildcardHandler(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	all := newTestHandler()
	bus.Subscribe(all)

	d := &ledger.LedgerDiff{ID: uuid.New(), TeamID: uuid.New()}
	require.NoError(t, bus.Publish(context.Background(),
		ledger.NewLedgerDiffAppliedEvent(d),
		ledger.NewLedgerDiffRevertedEvent(d, nil),
	))
	assert.Len(t, all.getHandled(), 2)
}

func TestInMemoryEventBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	bus := NewInMemoryEventBus(zap.New(core))

	failing := newTestHandler(ledger.EventTypeLedgerDiffApplied)
	failing.err = assert.AnError
	ok := newTestHandler(ledger.EventTypeLedgerDiffApplied)
	bus.Subscribe(failing)
	bus.Subscribe(ok)

	teamID := uuid.New()
	err := bus.Publish(context.Background(), newDiffEvent(teamID))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, ok.getHandled(), 1)

	entries := logs.FilterMessage("handler failed to process event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, teamID.String(), entries[0].ContextMap()["team_id"])
}

func TestInMemoryEventBus_HandlerPanicBecomesError(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	panicking := newTestHandler(ledger.EventTypeLedgerDiffApplied)
	panicking.panicWith = "boom"
	after := newTestHandler(ledger.EventTypeLedgerDiffApplied)
	bus.Subscribe(panicking)
	bus.Subscribe(after)

	err := bus.Publish(context.Background(), newDiffEvent(uuid.New()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, after.getHandled(), 1)
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler(ledger.EventTypeLedgerDiffApplied)
	bus.Subscribe(handler)
	bus.Unsubscribe(handler)

	require.NoError(t, bus.Publish(context.Background(), newDiffEvent(uuid.New())))
	assert.Empty(t, handler.getHandled())
}

func TestInMemoryEventBus_StartStop(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler(ledger.EventTypeLedgerDiffApplied)
	bus.Subscribe(handler)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Stop(ctx))

	require.NoError(t, bus.Publish(context.Background(), newDiffEvent(uuid.New())))
	assert.Empty(t, handler.getHandled(), "stopped bus drops events")

	require.NoError(t, bus.Start(ctx))
	require.NoError(t, bus.Publish(context.Background(), newDiffEvent(uuid.New())))
	assert.Len(t, handler.getHandled(), 1)
}

func TestInMemoryEventBus_ConcurrentPublish(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler(ledger.EventTypeLedgerDiffApplied)
	bus.Subscribe(handler)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Publish(context.Background(), newDiffEvent(uuid.New()))
		}()
	}
	wg.Wait()
	assert.Len(t, handler.getHandled(), 20)
}
