package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Mocks
// ============================================================================

// MockLedgerRepository is a mock implementation of ledger.LedgerRepository
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) LoadTeam(ctx context.Context, teamID uuid.UUID) (*ledger.SeedInput, error) {
	args := m.Called(ctx, teamID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.SeedInput), args.Error(1)
}

func (m *MockLedgerRepository) CreateInvoiceWithAllocations(ctx context.Context, inv *ledger.Invoice, allocations []ledger.AllocationRequest) (*ledger.CreatedInvoice, error) {
	args := m.Called(ctx, inv, allocations)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.CreatedInvoice), args.Error(1)
}

func (m *MockLedgerRepository) CreatePaymentWithAllocations(ctx context.Context, p *ledger.Payment, allocations []ledger.AllocationRequest) (*ledger.CreatedPayment, error) {
	args := m.Called(ctx, p, allocations)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.CreatedPayment), args.Error(1)
}

func (m *MockLedgerRepository) CreateCreditNote(ctx context.Context, cn *ledger.CreditNote) error {
	args := m.Called(ctx, cn)
	return args.Error(0)
}

func (m *MockLedgerRepository) SaveAllocation(ctx context.Context, a *ledger.Allocation) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockLedgerRepository) DeleteAllocation(ctx context.Context, id ledger.AllocationID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLedgerRepository) SetCreditNoteLink(ctx context.Context, id ledger.CreditNoteID, invoiceID *ledger.InvoiceID) error {
	args := m.Called(ctx, id, invoiceID)
	return args.Error(0)
}

func (m *MockLedgerRepository) UpdateInvoiceStatus(ctx context.Context, id ledger.InvoiceID, status ledger.InvoiceStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockLedgerRepository) UpdateInvoiceAttachment(ctx context.Context, id ledger.InvoiceID, key string) error {
	args := m.Called(ctx, id, key)
	return args.Error(0)
}

func (m *MockLedgerRepository) DeleteInvoice(ctx context.Context, id ledger.InvoiceID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLedgerRepository) DeletePayment(ctx context.Context, id ledger.PaymentID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLedgerRepository) DeleteCreditNote(ctx context.Context, id ledger.CreditNoteID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockEventPublisher is a mock implementation of shared.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// MockObjectStorage is a mock implementation of ObjectStorage
type MockObjectStorage struct {
	mock.Mock
}

func (m *MockObjectStorage) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

func (m *MockObjectStorage) GenerateDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, time.Time, error) {
	args := m.Called(ctx, key, expiresIn)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockObjectStorage) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockObjectStorage) ObjectExists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// recordingMetrics counts recorded outcomes per op
type recordingMetrics struct {
	mu        sync.Mutex
	applied   map[string]int
	rollbacks map[string]int
	rejected  map[string]string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		applied:   make(map[string]int),
		rollbacks: make(map[string]int),
		rejected:  make(map[string]string),
	}
}

func (m *recordingMetrics) RecordDiffApplied(_ context.Context, op string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied[op]++
}

func (m *recordingMetrics) RecordRollback(_ context.Context, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks[op]++
}

func (m *recordingMetrics) RecordRejected(_ context.Context, op, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[op] = code
}

// ============================================================================
// Fixture
// ============================================================================

type serviceFixture struct {
	service   *LedgerService
	engine    *ledger.Engine
	sync      *Synchronizer
	repo      *MockLedgerRepository
	publisher *MockEventPublisher
	metrics   *recordingMetrics
	list      *ViewCache
	detail    *ViewCache
	summary   *SummaryCache
	team      uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	team := uuid.New()
	synchronizer := NewSynchronizer(nil)
	list := NewViewCache("invoices", ShapeListRow, WithKinds(ledger.KindInvoice), WithSortKey(SortByNumber))
	detail := NewViewCache("detail", ShapeDetail, WithInsertMissing(false))
	summary := NewSummaryCache("summary", team)
	require.NoError(t, synchronizer.Register(list))
	require.NoError(t, synchronizer.Register(detail))
	require.NoError(t, synchronizer.Register(summary))

	engine := ledger.NewEngine(ledger.NewStore(), ledger.WithDiffSink(synchronizer))
	repo := new(MockLedgerRepository)
	publisher := new(MockEventPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
	metrics := newRecordingMetrics()

	return &serviceFixture{
		service: NewLedgerService(LedgerServiceConfig{
			Engine:         engine,
			Synchronizer:   synchronizer,
			Repository:     repo,
			EventPublisher: publisher,
			Metrics:        metrics,
		}),
		engine:    engine,
		sync:      synchronizer,
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		list:      list,
		detail:    detail,
		summary:   summary,
		team:      team,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *serviceFixture) invoice(t *testing.T, number, subtotal, vat string) *ledger.Invoice {
	t.Helper()
	inv, err := ledger.NewInvoice(ledger.InvoiceParams{
		TeamID:         f.team,
		Number:         number,
		Direction:      ledger.DirectionPayable,
		Currency:       valueobject.EUR,
		SubtotalAmount: dec(subtotal),
		VATAmount:      dec(vat),
		Status:         ledger.InvoiceStatusReceived,
		IssuedAt:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = f.engine.RegisterInvoice(inv)
	require.NoError(t, err)
	return inv
}

func (f *serviceFixture) payment(t *testing.T, number, amount string) *ledger.Payment {
	t.Helper()
	p, err := ledger.NewPayment(ledger.PaymentParams{
		TeamID:    f.team,
		Number:    number,
		Direction: ledger.DirectionPayable,
		Currency:  valueobject.EUR,
		Amount:    dec(amount),
		PaidAt:    time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = f.engine.RegisterPayment(p)
	require.NoError(t, err)
	return p
}

func (f *serviceFixture) creditNote(t *testing.T, number, total string) *ledger.CreditNote {
	t.Helper()
	cn, err := ledger.NewCreditNote(ledger.CreditNoteParams{
		TeamID:         f.team,
		Number:         number,
		Direction:      ledger.DirectionPayable,
		Currency:       valueobject.EUR,
		SubtotalAmount: dec(total),
	})
	require.NoError(t, err)
	_, err = f.engine.RegisterCreditNote(cn)
	require.NoError(t, err)
	return cn
}
