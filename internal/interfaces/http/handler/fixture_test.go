package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	ledgerapp "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/erp/ledger/internal/infrastructure/storage"
	"github.com/erp/ledger/internal/interfaces/http/dto"
	"github.com/erp/ledger/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLedgerRepository is a mock implementation of ledger.LedgerRepository.
// The combined create calls also accept a function computing the result
// from the arguments, since the document is built inside the handler.
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
	if fn, ok := args.Get(0).(func(*ledger.Invoice, []ledger.AllocationRequest) *ledger.CreatedInvoice); ok {
		return fn(inv, allocations), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.CreatedInvoice), args.Error(1)
}

func (m *MockLedgerRepository) CreatePaymentWithAllocations(ctx context.Context, p *ledger.Payment, allocations []ledger.AllocationRequest) (*ledger.CreatedPayment, error) {
	args := m.Called(ctx, p, allocations)
	if fn, ok := args.Get(0).(func(*ledger.Payment, []ledger.AllocationRequest) *ledger.CreatedPayment); ok {
		return fn(p, allocations), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.CreatedPayment), args.Error(1)
}

func (m *MockLedgerRepository) CreateCreditNote(ctx context.Context, cn *ledger.CreditNote) error {
	return m.Called(ctx, cn).Error(0)
}

func (m *MockLedgerRepository) SaveAllocation(ctx context.Context, a *ledger.Allocation) error {
	return m.Called(ctx, a).Error(0)
}

func (m *MockLedgerRepository) DeleteAllocation(ctx context.Context, id ledger.AllocationID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockLedgerRepository) SetCreditNoteLink(ctx context.Context, id ledger.CreditNoteID, invoiceID *ledger.InvoiceID) error {
	return m.Called(ctx, id, invoiceID).Error(0)
}

func (m *MockLedgerRepository) UpdateInvoiceStatus(ctx context.Context, id ledger.InvoiceID, status ledger.InvoiceStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *MockLedgerRepository) UpdateInvoiceAttachment(ctx context.Context, id ledger.InvoiceID, key string) error {
	return m.Called(ctx, id, key).Error(0)
}

func (m *MockLedgerRepository) DeleteInvoice(ctx context.Context, id ledger.InvoiceID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockLedgerRepository) DeletePayment(ctx context.Context, id ledger.PaymentID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockLedgerRepository) DeleteCreditNote(ctx context.Context, id ledger.CreditNoteID) error {
	return m.Called(ctx, id).Error(0)
}

// envelope mirrors dto.Response with the payload left raw
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorInfo  `json:"error"`
	Meta    *dto.Meta       `json:"meta"`
}

type handlerFixture struct {
	router  *gin.Engine
	service *ledgerapp.LedgerService
	engine  *ledger.Engine
	repo    *MockLedgerRepository
	objects *storage.MemoryObjectStorage
	list    *ledgerapp.ViewCache
	detail  *ledgerapp.ViewCache
	team    uuid.UUID
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()

	synchronizer := ledgerapp.NewSynchronizer(nil)
	list := ledgerapp.NewViewCache("invoices", ledgerapp.ShapeListRow,
		ledgerapp.WithKinds(ledger.KindInvoice), ledgerapp.WithSortKey(ledgerapp.SortByNumber))
	detail := ledgerapp.NewViewCache("detail", ledgerapp.ShapeDetail, ledgerapp.WithInsertMissing(false))
	require.NoError(t, synchronizer.Register(list))
	require.NoError(t, synchronizer.Register(detail))

	engine := ledger.NewEngine(ledger.NewStore(), ledger.WithDiffSink(synchronizer))
	repo := new(MockLedgerRepository)
	service := ledgerapp.NewLedgerService(ledgerapp.LedgerServiceConfig{
		Engine:       engine,
		Synchronizer: synchronizer,
		Repository:   repo,
	})
	objects := storage.NewMemoryObjectStorage("")
	attachments := ledgerapp.NewAttachmentService(service, objects, nil)
	attachments.SetConfig(ledgerapp.AttachmentServiceConfig{DownloadURLExpiry: time.Hour, MaxFileSize: 1 << 20})

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Team(middleware.DefaultTeamConfig()))
	NewSystemHandler("ledger", "test", service).RegisterRoutes(&r.RouterGroup)
	api := r.Group("/api/v1/ledger")
	NewViewHandler(service).RegisterRoutes(api)
	NewAllocationHandler(service).RegisterRoutes(api)
	NewDocumentHandler(service, valueobject.EUR).RegisterRoutes(api)
	NewAttachmentHandler(service, attachments, 1<<20).RegisterRoutes(api)

	return &handlerFixture{
		router:  r,
		service: service,
		engine:  engine,
		repo:    repo,
		objects: objects,
		list:    list,
		detail:  detail,
		team:    uuid.New(),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// invoice registers a received payable EUR invoice of the fixture team
func (f *handlerFixture) invoice(t *testing.T, number, subtotal string) *ledger.Invoice {
	t.Helper()
	return f.invoiceFor(t, f.team, number, subtotal)
}

func (f *handlerFixture) invoiceFor(t *testing.T, team uuid.UUID, number, subtotal string) *ledger.Invoice {
	t.Helper()
	inv, err := ledger.NewInvoice(ledger.InvoiceParams{
		TeamID:         team,
		Number:         number,
		Direction:      ledger.DirectionPayable,
		Currency:       valueobject.EUR,
		SubtotalAmount: dec(subtotal),
		Status:         ledger.InvoiceStatusReceived,
	})
	require.NoError(t, err)
	_, err = f.engine.RegisterInvoice(inv)
	require.NoError(t, err)
	return inv
}

func (f *handlerFixture) payment(t *testing.T, number, amount string) *ledger.Payment {
	t.Helper()
	p, err := ledger.NewPayment(ledger.PaymentParams{
		TeamID:    f.team,
		Number:    number,
		Direction: ledger.DirectionPayable,
		Currency:  valueobject.EUR,
		Amount:    dec(amount),
	})
	require.NoError(t, err)
	_, err = f.engine.RegisterPayment(p)
	require.NoError(t, err)
	return p
}

func (f *handlerFixture) creditNote(t *testing.T, number, total string) *ledger.CreditNote {
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

// do sends a JSON request as the fixture team
func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.doAs(t, f.team, method, path, body)
}

func (f *handlerFixture) doAs(t *testing.T, team uuid.UUID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if team != uuid.Nil {
		req.Header.Set(middleware.TeamHeader, team.String())
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) envelope {
	t.Helper()
	env := decode(t, w)
	require.True(t, env.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, out))
	return env
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	env := decode(t, w)
	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	return env.Error.Code
}
