package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/erp/ledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Metrics records ledger command outcomes
type Metrics interface {
	RecordDiffApplied(ctx context.Context, op string, affected int)
	RecordRollback(ctx context.Context, op string)
	RecordRejected(ctx context.Context, op, code string)
}

type noopMetrics struct{}

func (noopMetrics) RecordDiffApplied(context.Context, string, int) {}
func (noopMetrics) RecordRollback(context.Context, string)         {}
func (noopMetrics) RecordRejected(context.Context, string, string) {}

// LedgerServiceConfig holds the dependencies of the ledger service
type LedgerServiceConfig struct {
	Engine         *ledger.Engine
	Synchronizer   *Synchronizer
	Repository     ledger.LedgerRepository
	EventPublisher shared.EventPublisher
	Metrics        Metrics
	Logger         *zap.Logger
}

// LedgerService is the caller-facing entry point for ledger mutations. Each
// command is applied to the engine first, so caches update immediately, and
// then written to the repository. When the remote write fails the diff is
// reverted and a RemoteWriteFailedError is returned. There are no retries.
type LedgerService struct {
	engine    *ledger.Engine
	sync      *Synchronizer
	repo      ledger.LedgerRepository
	publisher shared.EventPublisher
	metrics   Metrics
	logger    *zap.Logger
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(cfg LedgerServiceConfig) *LedgerService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics Metrics = noopMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}
	return &LedgerService{
		engine:    cfg.Engine,
		sync:      cfg.Synchronizer,
		repo:      cfg.Repository,
		publisher: cfg.EventPublisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Engine returns the underlying engine
func (s *LedgerService) Engine() *ledger.Engine {
	return s.engine
}

// Synchronizer returns the cache synchronizer
func (s *LedgerService) Synchronizer() *Synchronizer {
	return s.sync
}

// CreationResult describes a document created through a combined call
type CreationResult struct {
	Key         ledger.EntityKey     `json:"key"`
	Allocations []*ledger.Allocation `json:"allocations"`
	Diffs       []*ledger.LedgerDiff `json:"-"`
}

// CreateAllocation applies part of a payment to an invoice
func (s *LedgerService) CreateAllocation(ctx context.Context, req ledger.AllocationRequest) (*ledger.LedgerDiff, error) {
	return s.apply(ctx, ledger.OpCreateAllocation,
		func() (*ledger.LedgerDiff, error) { return s.engine.CreateAllocation(req) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.SaveAllocation(ctx, d.Allocation.After)
		},
		telemetry.SpanAttrPaymentID, req.PaymentID.String(),
		telemetry.SpanAttrInvoiceID, req.InvoiceID.String(),
		telemetry.SpanAttrAmount, req.Amount.String(),
	)
}

// UpdateAllocation changes the amount of an allocation
func (s *LedgerService) UpdateAllocation(ctx context.Context, id ledger.AllocationID, amount decimal.Decimal) (*ledger.LedgerDiff, error) {
	return s.apply(ctx, ledger.OpUpdateAllocation,
		func() (*ledger.LedgerDiff, error) { return s.engine.UpdateAllocation(id, amount) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.SaveAllocation(ctx, d.Allocation.After)
		},
		telemetry.SpanAttrAllocationID, id.String(),
		telemetry.SpanAttrAmount, amount.String(),
	)
}

// RemoveAllocation deletes an allocation
func (s *LedgerService) RemoveAllocation(ctx context.Context, id ledger.AllocationID) (*ledger.LedgerDiff, error) {
	return s.apply(ctx, ledger.OpRemoveAllocation,
		func() (*ledger.LedgerDiff, error) { return s.engine.RemoveAllocation(id) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.DeleteAllocation(ctx, id)
		},
		telemetry.SpanAttrAllocationID, id.String(),
	)
}

// CreateProductionOrderAllocation books part of an invoice subtotal on a production order
func (s *LedgerService) CreateProductionOrderAllocation(ctx context.Context, req ledger.ProductionOrderAllocationRequest) (*ledger.LedgerDiff, error) {
	return s.apply(ctx, ledger.OpCreateProductionOrderAllocation,
		func() (*ledger.LedgerDiff, error) { return s.engine.CreateProductionOrderAllocation(req) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.SaveAllocation(ctx, d.Allocation.After)
		},
		telemetry.SpanAttrInvoiceID, req.InvoiceID.String(),
		telemetry.SpanAttrProductionOrderID, req.ProductionOrderID.String(),
		telemetry.SpanAttrAmount, req.Amount.String(),
	)
}

// UpdateProductionOrderAllocation changes the amount of a production order allocation
func (s *LedgerService) UpdateProductionOrderAllocation(ctx context.Context, id ledger.AllocationID, amount decimal.Decimal) (*ledger.LedgerDiff, error) {
	return s.apply(ctx, ledger.OpUpdateAllocation,
		func() (*ledger.LedgerDiff, error) { return s.engine.UpdateProductionOrderAllocation(id, amount) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.SaveAllocation(ctx, d.Allocation.After)
		},
		telemetry.SpanAttrAllocationID, id.String(),
		telemetry.SpanAttrAmount, amount.String(),
	)
}

// RemoveProductionOrderAllocation deletes a production order allocation
func (s *LedgerService) RemoveProductionOrderAllocation(ctx context.Context, id ledger.AllocationID) (*ledger.LedgerDiff, error) {
	return s.apply(ctx, ledger.OpRemoveAllocation,
		func() (*ledger.LedgerDiff, error) { return s.engine.RemoveProductionOrderAllocation(id) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.DeleteAllocation(ctx, id)
		},
		telemetry.SpanAttrAllocationID, id.String(),
	)
}

// LinkCreditNote counts a credit note against an invoice
func (s *LedgerService) LinkCreditNote(ctx context.Context, invoiceID ledger.InvoiceID, creditNoteID ledger.CreditNoteID) (*ledger.LedgerDiff, error) {
	return s.apply(ctx, ledger.OpLinkCreditNote,
		func() (*ledger.LedgerDiff, error) { return s.engine.LinkCreditNote(invoiceID, creditNoteID) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.SetCreditNoteLink(ctx, creditNoteID, &invoiceID)
		},
		telemetry.SpanAttrInvoiceID, invoiceID.String(),
		telemetry.SpanAttrCreditNoteID, creditNoteID.String(),
	)
}

// UnlinkCreditNote detaches a credit note from its invoice
func (s *LedgerService) UnlinkCreditNote(ctx context.Context, creditNoteID ledger.CreditNoteID) (*ledger.LedgerDiff, error) {
	return s.apply(ctx, ledger.OpUnlinkCreditNote,
		func() (*ledger.LedgerDiff, error) { return s.engine.UnlinkCreditNote(creditNoteID) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.SetCreditNoteLink(ctx, creditNoteID, nil)
		},
		telemetry.SpanAttrCreditNoteID, creditNoteID.String(),
	)
}

// CreateCreditNote registers a new credit note, linked or not
func (s *LedgerService) CreateCreditNote(ctx context.Context, cn *ledger.CreditNote) (*ledger.LedgerDiff, error) {
	return s.apply(ctx, ledger.OpRegisterCreditNote,
		func() (*ledger.LedgerDiff, error) { return s.engine.RegisterCreditNote(cn) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.CreateCreditNote(ctx, cn)
		},
		telemetry.SpanAttrCreditNoteID, cn.ID.String(),
	)
}

// ReceiveInvoice moves a draft invoice to received
func (s *LedgerService) ReceiveInvoice(ctx context.Context, id ledger.InvoiceID) (*ledger.LedgerDiff, error) {
	return s.transition(ctx, ledger.OpReceiveInvoice, id, s.engine.ReceiveInvoice)
}

// VoidInvoice marks an invoice void
func (s *LedgerService) VoidInvoice(ctx context.Context, id ledger.InvoiceID) (*ledger.LedgerDiff, error) {
	return s.transition(ctx, ledger.OpVoidInvoice, id, s.engine.VoidInvoice)
}

func (s *LedgerService) transition(ctx context.Context, op string, id ledger.InvoiceID, local func(ledger.InvoiceID) (*ledger.LedgerDiff, error)) (*ledger.LedgerDiff, error) {
	return s.apply(ctx, op,
		func() (*ledger.LedgerDiff, error) { return local(id) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			inv := invoiceAfter(d, id)
			if inv == nil {
				return fmt.Errorf("diff %s carries no invoice %s", d.ID, id)
			}
			return s.repo.UpdateInvoiceStatus(ctx, id, inv.Status)
		},
		telemetry.SpanAttrInvoiceID, id.String(),
	)
}

// SetInvoiceAttachment records the attachment object key of an invoice
func (s *LedgerService) SetInvoiceAttachment(ctx context.Context, id ledger.InvoiceID, key string) (*ledger.LedgerDiff, error) {
	return s.apply(ctx, ledger.OpSetInvoiceAttachment,
		func() (*ledger.LedgerDiff, error) { return s.engine.SetInvoiceAttachment(id, key) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.UpdateInvoiceAttachment(ctx, id, key)
		},
		telemetry.SpanAttrInvoiceID, id.String(),
	)
}

// CreateInvoiceWithAllocations creates an invoice together with the payment
// allocations targeting it. The remote call is atomic and assigns the ids;
// the invoice and each allocation are then replayed through the engine so
// caches receive the same diffs as for manual allocation.
func (s *LedgerService) CreateInvoiceWithAllocations(ctx context.Context, inv *ledger.Invoice, allocations []ledger.AllocationRequest) (*CreationResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "create_invoice_with_allocations")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrInvoiceID, inv.ID.String(),
		telemetry.SpanAttrTeamID, inv.TeamID.String(),
		"allocations_count", len(allocations),
	)

	created, err := s.repo.CreateInvoiceWithAllocations(ctx, inv, allocations)
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.RecordRejected(ctx, ledger.OpRegisterInvoice, ledger.ErrRemoteWriteFailed.Code)
		return nil, &ledger.RemoteWriteFailedError{Op: ledger.OpRegisterInvoice, Cause: err}
	}

	d, err := s.engine.RegisterInvoice(created.Invoice)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to register created invoice: %w", err)
	}
	result := &CreationResult{Key: created.Invoice.Key(), Allocations: created.Allocations}
	s.committed(ctx, d)
	result.Diffs = append(result.Diffs, d)
	result.Diffs = append(result.Diffs, s.replayAllocations(ctx, created.Invoice.TeamID, created.Allocations)...)
	return result, nil
}

// CreatePaymentWithAllocations creates a payment together with the
// allocations sourced from it, the same way as CreateInvoiceWithAllocations
func (s *LedgerService) CreatePaymentWithAllocations(ctx context.Context, p *ledger.Payment, allocations []ledger.AllocationRequest) (*CreationResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "create_payment_with_allocations")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrPaymentID, p.ID.String(),
		telemetry.SpanAttrTeamID, p.TeamID.String(),
		"allocations_count", len(allocations),
	)

	created, err := s.repo.CreatePaymentWithAllocations(ctx, p, allocations)
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.RecordRejected(ctx, ledger.OpRegisterPayment, ledger.ErrRemoteWriteFailed.Code)
		return nil, &ledger.RemoteWriteFailedError{Op: ledger.OpRegisterPayment, Cause: err}
	}

	d, err := s.engine.RegisterPayment(created.Payment)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to register created payment: %w", err)
	}
	result := &CreationResult{Key: created.Payment.Key(), Allocations: created.Allocations}
	s.committed(ctx, d)
	result.Diffs = append(result.Diffs, d)
	result.Diffs = append(result.Diffs, s.replayAllocations(ctx, created.Payment.TeamID, created.Allocations)...)
	return result, nil
}

// replayAllocations feeds allocations the server already stored through the
// engine. An allocation the local state rejects is seeded as is, since the
// server is authoritative for rows it accepted.
func (s *LedgerService) replayAllocations(ctx context.Context, teamID uuid.UUID, allocations []*ledger.Allocation) []*ledger.LedgerDiff {
	diffs := make([]*ledger.LedgerDiff, 0, len(allocations))
	for _, a := range allocations {
		var (
			d   *ledger.LedgerDiff
			err error
		)
		switch a.Kind {
		case ledger.AllocationKindProductionOrder:
			orderID, _ := a.ProductionOrderID()
			d, err = s.engine.CreateProductionOrderAllocation(ledger.ProductionOrderAllocationRequest{
				ID:                a.ID,
				InvoiceID:         a.InvoiceID(),
				ProductionOrderID: orderID,
				Amount:            a.Amount,
				Remark:            a.Remark,
			})
		default:
			paymentID, _ := a.PaymentID()
			d, err = s.engine.CreateAllocation(ledger.AllocationRequest{
				ID:        a.ID,
				PaymentID: paymentID,
				InvoiceID: a.InvoiceID(),
				Amount:    a.Amount,
				Remark:    a.Remark,
			})
		}
		if err != nil {
			s.logger.Warn("Server allocation rejected locally, seeding as stored",
				zap.String("allocation_id", a.ID.String()),
				zap.String("amount", a.Amount.String()),
				zap.Error(err),
			)
			d = s.engine.Seed(ledger.SeedInput{TeamID: teamID, Allocations: []*ledger.Allocation{a}})
		}
		s.committed(ctx, d)
		diffs = append(diffs, d)
	}
	return diffs
}

// DeleteInvoice removes every allocation and credit note link of an invoice,
// one committed step at a time, then the invoice itself. A failing step
// stops the cascade; steps already written stay written.
func (s *LedgerService) DeleteInvoice(ctx context.Context, id ledger.InvoiceID) ([]*ledger.LedgerDiff, error) {
	var diffs []*ledger.LedgerDiff
	store := s.engine.Store()
	for _, a := range store.InvoiceAllocations(id) {
		d, err := s.RemoveAllocation(ctx, a.ID)
		if err != nil {
			return diffs, err
		}
		diffs = append(diffs, d)
	}
	for _, cn := range store.CreditNotesByInvoice(id) {
		d, err := s.UnlinkCreditNote(ctx, cn.ID)
		if err != nil {
			return diffs, err
		}
		diffs = append(diffs, d)
	}
	d, err := s.apply(ctx, ledger.OpRemoveInvoice,
		func() (*ledger.LedgerDiff, error) { return s.engine.RemoveInvoice(id) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.DeleteInvoice(ctx, id)
		},
		telemetry.SpanAttrInvoiceID, id.String(),
	)
	if err != nil {
		return diffs, err
	}
	return append(diffs, d), nil
}

// DeletePayment removes every allocation of a payment, then the payment
func (s *LedgerService) DeletePayment(ctx context.Context, id ledger.PaymentID) ([]*ledger.LedgerDiff, error) {
	var diffs []*ledger.LedgerDiff
	for _, a := range s.engine.Store().AllocationsBySource(id.Key()) {
		d, err := s.RemoveAllocation(ctx, a.ID)
		if err != nil {
			return diffs, err
		}
		diffs = append(diffs, d)
	}
	d, err := s.apply(ctx, ledger.OpRemovePayment,
		func() (*ledger.LedgerDiff, error) { return s.engine.RemovePayment(id) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.DeletePayment(ctx, id)
		},
		telemetry.SpanAttrPaymentID, id.String(),
	)
	if err != nil {
		return diffs, err
	}
	return append(diffs, d), nil
}

// DeleteCreditNote unlinks a credit note when needed, then removes it
func (s *LedgerService) DeleteCreditNote(ctx context.Context, id ledger.CreditNoteID) ([]*ledger.LedgerDiff, error) {
	var diffs []*ledger.LedgerDiff
	if cn, ok := s.engine.Store().CreditNote(id); ok && cn.IsLinked() {
		d, err := s.UnlinkCreditNote(ctx, id)
		if err != nil {
			return diffs, err
		}
		diffs = append(diffs, d)
	}
	d, err := s.apply(ctx, ledger.OpRemoveCreditNote,
		func() (*ledger.LedgerDiff, error) { return s.engine.RemoveCreditNote(id) },
		func(ctx context.Context, d *ledger.LedgerDiff) error {
			return s.repo.DeleteCreditNote(ctx, id)
		},
		telemetry.SpanAttrCreditNoteID, id.String(),
	)
	if err != nil {
		return diffs, err
	}
	return append(diffs, d), nil
}

// Load seeds the store and every cache with the documents of a team as the
// read views currently return them, and announces the seed diff like any
// committed one. The team summary cache is registered on first load.
func (s *LedgerService) Load(ctx context.Context, teamID uuid.UUID) (*ledger.LedgerDiff, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "load")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrTeamID, teamID.String())

	in, err := s.repo.LoadTeam(ctx, teamID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load team ledger: %w", err)
	}
	in.TeamID = teamID
	// registered before seeding so the seed diff fills it
	if _, ok := s.sync.Cache(SummaryCacheName(teamID)); !ok {
		_ = s.sync.Register(NewSummaryCache(SummaryCacheName(teamID), teamID))
	}
	d := s.engine.Seed(*in)
	s.committed(ctx, d)
	s.logger.Info("Ledger loaded",
		zap.String("team_id", teamID.String()),
		zap.Int("invoices", len(in.Invoices)),
		zap.Int("payments", len(in.Payments)),
		zap.Int("credit_notes", len(in.CreditNotes)),
		zap.Int("allocations", len(in.Allocations)),
	)
	return d, nil
}

// View returns the current view of one document in the given shape
func (s *LedgerService) View(key ledger.EntityKey, shape Shape) (*LedgerView, error) {
	state, ok := s.engine.Snapshot(key)
	if !ok {
		return nil, shared.NewDomainError(ledger.ErrEntityNotFound.Code, fmt.Sprintf("%s not found", key))
	}
	return Project(key, state, shape), nil
}

// OpenDetail puts the detail view of a document into a registered view
// cache, which from then on follows every diff touching it
func (s *LedgerService) OpenDetail(cacheName string, key ledger.EntityKey) (*LedgerView, error) {
	vc, err := s.viewCache(cacheName)
	if err != nil {
		return nil, err
	}
	v, err := s.View(key, vc.Shape())
	if err != nil {
		return nil, err
	}
	if prev, ok := vc.Get(key); ok {
		v = merge(prev, v)
	}
	vc.Put(v)
	return v, nil
}

// CloseDetail drops a document from a registered view cache
func (s *LedgerService) CloseDetail(cacheName string, key ledger.EntityKey) error {
	vc, err := s.viewCache(cacheName)
	if err != nil {
		return err
	}
	vc.Remove(key)
	return nil
}

func (s *LedgerService) viewCache(name string) (*ViewCache, error) {
	c, ok := s.sync.Cache(name)
	if !ok {
		return nil, shared.NewDomainError("CACHE_NOT_FOUND", fmt.Sprintf("Cache %s is not registered", name))
	}
	vc, ok := c.(*ViewCache)
	if !ok {
		return nil, shared.NewDomainError("CACHE_NOT_VIEW", fmt.Sprintf("Cache %s does not hold views", name))
	}
	return vc, nil
}

// apply runs one command through the local → remote → rollback protocol
func (s *LedgerService) apply(
	ctx context.Context,
	op string,
	local func() (*ledger.LedgerDiff, error),
	remote func(ctx context.Context, d *ledger.LedgerDiff) error,
	attrs ...interface{},
) (*ledger.LedgerDiff, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", op)
	defer span.End()
	telemetry.SetAttributes(span, attrs...)

	d, err := local()
	if err != nil {
		telemetry.RecordError(span, err)
		s.metrics.RecordRejected(ctx, op, ErrorCode(err))
		s.logger.Debug("Ledger command rejected", zap.String("op", op), zap.Error(err))
		return nil, err
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrDiffID, d.ID.String(),
		telemetry.SpanAttrTeamID, d.TeamID.String(),
	)

	if err := remote(ctx, d); err != nil {
		inverse := s.engine.Revert(d)
		rerr := &ledger.RemoteWriteFailedError{Op: op, Diff: d, Cause: err}
		telemetry.RecordError(span, rerr)
		s.metrics.RecordRollback(ctx, op)
		s.logger.Warn("Remote write failed, local change reverted",
			zap.String("op", op),
			zap.String("diff_id", d.ID.String()),
			zap.String("team_id", d.TeamID.String()),
			zap.Error(err),
		)
		s.publish(ctx, ledger.NewLedgerDiffRevertedEvent(inverse, err))
		return nil, rerr
	}

	s.committed(ctx, d)
	return d, nil
}

// committed records and announces a diff that is final
func (s *LedgerService) committed(ctx context.Context, d *ledger.LedgerDiff) {
	s.metrics.RecordDiffApplied(ctx, d.Op, len(d.Affected))
	s.publish(ctx, ledger.NewLedgerDiffAppliedEvent(d))
}

func (s *LedgerService) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		s.logger.Error("Failed to publish ledger events", zap.Error(err))
	}
}

// ErrorCode returns the domain code carried by err, or INTERNAL_ERROR
func ErrorCode(err error) string {
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	if errors.Is(err, ledger.ErrRemoteWriteFailed) {
		return ledger.ErrRemoteWriteFailed.Code
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL_ERROR"
}

func invoiceAfter(d *ledger.LedgerDiff, id ledger.InvoiceID) *ledger.Invoice {
	for _, a := range d.Affected {
		if a.Key == id.Key() && a.After != nil {
			return a.After.Invoice
		}
	}
	return nil
}
