package ledger

import (
	"fmt"
	"time"

	"github.com/erp/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operation names carried by LedgerDiff.Op
const (
	OpCreateAllocation                = "create_allocation"
	OpUpdateAllocation                = "update_allocation"
	OpRemoveAllocation                = "remove_allocation"
	OpCreateProductionOrderAllocation = "create_production_order_allocation"
	OpLinkCreditNote                  = "link_credit_note"
	OpUnlinkCreditNote                = "unlink_credit_note"
	OpReceiveInvoice                  = "receive_invoice"
	OpVoidInvoice                     = "void_invoice"
	OpRegisterInvoice                 = "register_invoice"
	OpRegisterPayment                 = "register_payment"
	OpRegisterCreditNote              = "register_credit_note"
	OpRemoveInvoice                   = "remove_invoice"
	OpRemovePayment                   = "remove_payment"
	OpRemoveCreditNote                = "remove_credit_note"
	OpSetInvoiceAttachment            = "set_invoice_attachment"
	OpSeed                            = "seed"
)

// DiffSink receives every committed diff while the entity locks are still
// held, so caches observe diffs on one entity in commit order.
type DiffSink interface {
	ApplyDiff(diff *LedgerDiff)
}

type nopSink struct{}

func (nopSink) ApplyDiff(*LedgerDiff) {}

// AllocationRequest asks for a new payment → invoice allocation. A zero ID
// is replaced by a fresh one; server-assigned ids are kept.
type AllocationRequest struct {
	ID        AllocationID
	PaymentID PaymentID
	InvoiceID InvoiceID
	Amount    decimal.Decimal
	Remark    string
}

// ProductionOrderAllocationRequest asks for a new invoice → production order allocation
type ProductionOrderAllocationRequest struct {
	ID                AllocationID
	InvoiceID         InvoiceID
	ProductionOrderID ProductionOrderID
	Amount            decimal.Decimal
	Remark            string
}

// Engine validates ledger commands against the store and applies them.
// Every successful command yields exactly one LedgerDiff that has already
// been handed to the DiffSink. A rejected command changes nothing.
type Engine struct {
	store *Store
	locks *KeyedLocker
	sink  DiffSink
	now   func() time.Time
}

// EngineOption configures the engine
type EngineOption func(*Engine)

// WithDiffSink sets the receiver of committed diffs
func WithDiffSink(sink DiffSink) EngineOption {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithClock overrides the time source used for new allocations and diffs
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine over store
func NewEngine(store *Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store: store,
		locks: NewKeyedLocker(),
		sink:  nopSink{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store
func (e *Engine) Store() *Store {
	return e.store
}

// CreateAllocation applies part of a payment to an invoice
func (e *Engine) CreateAllocation(req AllocationRequest) (*LedgerDiff, error) {
	payKey, invKey := req.PaymentID.Key(), req.InvoiceID.Key()
	if !req.Amount.IsPositive() {
		return nil, amountNotPositive(invKey, req.Amount)
	}

	unlock := e.locks.Lock(payKey, invKey)
	defer unlock()

	p, inv, err := e.paymentAndInvoice(req.PaymentID, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if err := checkAmount(invKey, p.Currency, req.Amount); err != nil {
		return nil, err
	}
	for _, a := range e.store.AllocationsBySource(payKey) {
		if a.TargetKey() == invKey {
			return nil, newValidationError(ErrDuplicateAllocation, invKey, fmt.Sprintf(
				"Payment %s is already allocated to invoice %s", p.Number, inv.Number))
		}
	}
	if err := e.checkPaymentCapacity(p, inv, req.Amount, decimal.Zero); err != nil {
		return nil, err
	}

	id := req.ID
	if id.uuid() == uuid.Nil {
		id = NewAllocationID()
	} else if _, exists := e.store.Allocation(id); exists {
		return nil, newValidationError(shared.ErrAlreadyExists, id.Key(), fmt.Sprintf("Allocation %s already exists", id))
	}
	a := &Allocation{
		ID:         id,
		TeamID:     p.TeamID,
		Kind:       AllocationKindPayment,
		SourceKind: KindPayment,
		SourceID:   p.ID.uuid(),
		TargetKind: KindInvoice,
		TargetID:   inv.ID.uuid(),
		Amount:     req.Amount,
		Currency:   p.Currency,
		Remark:     req.Remark,
		CreatedAt:  e.now(),
	}

	d := &LedgerDiff{
		TeamID:     p.TeamID,
		Op:         OpCreateAllocation,
		Allocation: &AllocationChange{Type: ChangeAdded, After: a.clone()},
	}
	return e.commit(d, []EntityKey{payKey, invKey}, func() {
		e.store.PutAllocation(a)
	}), nil
}

// CreateProductionOrderAllocation books part of an invoice subtotal on a
// production order. The invoice subtotal bounds the sum of these allocations.
func (e *Engine) CreateProductionOrderAllocation(req ProductionOrderAllocationRequest) (*LedgerDiff, error) {
	invKey, orderKey := req.InvoiceID.Key(), req.ProductionOrderID.Key()
	if !req.Amount.IsPositive() {
		return nil, amountNotPositive(invKey, req.Amount)
	}

	unlock := e.locks.Lock(invKey, orderKey)
	defer unlock()

	inv, ok := e.store.Invoice(req.InvoiceID)
	if !ok {
		return nil, entityNotFound(invKey)
	}
	if inv.IsVoid() {
		return nil, invalidState(invKey, fmt.Sprintf("Invoice %s is void", inv.Number))
	}
	if err := checkAmount(invKey, inv.Currency, req.Amount); err != nil {
		return nil, err
	}
	for _, a := range e.store.AllocationsBySource(invKey) {
		if a.TargetKey() == orderKey {
			return nil, newValidationError(ErrDuplicateAllocation, invKey, fmt.Sprintf(
				"Invoice %s is already allocated to production order %s", inv.Number, req.ProductionOrderID))
		}
	}
	if err := e.checkSubtotalCapacity(inv, req.Amount, decimal.Zero); err != nil {
		return nil, err
	}

	id := req.ID
	if id.uuid() == uuid.Nil {
		id = NewAllocationID()
	} else if _, exists := e.store.Allocation(id); exists {
		return nil, newValidationError(shared.ErrAlreadyExists, id.Key(), fmt.Sprintf("Allocation %s already exists", id))
	}
	a := &Allocation{
		ID:         id,
		TeamID:     inv.TeamID,
		Kind:       AllocationKindProductionOrder,
		SourceKind: KindInvoice,
		SourceID:   inv.ID.uuid(),
		TargetKind: KindProductionOrder,
		TargetID:   req.ProductionOrderID.uuid(),
		Amount:     req.Amount,
		Currency:   inv.Currency,
		Remark:     req.Remark,
		CreatedAt:  e.now(),
	}

	d := &LedgerDiff{
		TeamID:     inv.TeamID,
		Op:         OpCreateProductionOrderAllocation,
		Allocation: &AllocationChange{Type: ChangeAdded, After: a.clone()},
	}
	return e.commit(d, []EntityKey{invKey}, func() {
		e.store.PutAllocation(a)
	}), nil
}

// UpdateAllocation changes the amount of an allocation of either kind. It is
// validated as if the allocation were removed and created again, so the old
// amount counts as free capacity.
func (e *Engine) UpdateAllocation(id AllocationID, amount decimal.Decimal) (*LedgerDiff, error) {
	return e.updateAllocation(id, amount, "")
}

// UpdateProductionOrderAllocation is UpdateAllocation restricted to
// production order allocations.
func (e *Engine) UpdateProductionOrderAllocation(id AllocationID, amount decimal.Decimal) (*LedgerDiff, error) {
	return e.updateAllocation(id, amount, AllocationKindProductionOrder)
}

func (e *Engine) updateAllocation(id AllocationID, amount decimal.Decimal, kind AllocationKind) (*LedgerDiff, error) {
	current, unlock, err := e.lockAllocation(id, kind)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := checkAmount(id.Key(), current.Currency, amount); err != nil {
		return nil, err
	}

	var keys []EntityKey
	switch current.Kind {
	case AllocationKindPayment:
		p, inv, err := e.paymentAndInvoice(PaymentID(current.SourceID), InvoiceID(current.TargetID))
		if err != nil {
			return nil, err
		}
		if err := e.checkPaymentCapacity(p, inv, amount, current.Amount); err != nil {
			return nil, err
		}
		keys = []EntityKey{p.Key(), inv.Key()}
	case AllocationKindProductionOrder:
		inv, ok := e.store.Invoice(current.InvoiceID())
		if !ok {
			return nil, entityNotFound(current.InvoiceID().Key())
		}
		if inv.IsVoid() {
			return nil, invalidState(inv.Key(), fmt.Sprintf("Invoice %s is void", inv.Number))
		}
		if err := e.checkSubtotalCapacity(inv, amount, current.Amount); err != nil {
			return nil, err
		}
		keys = []EntityKey{inv.Key()}
	}

	updated := current.clone()
	updated.Amount = amount

	d := &LedgerDiff{
		TeamID:     current.TeamID,
		Op:         OpUpdateAllocation,
		Allocation: &AllocationChange{Type: ChangeUpdated, Before: current.clone(), After: updated.clone()},
	}
	return e.commit(d, keys, func() {
		e.store.PutAllocation(updated)
	}), nil
}

// RemoveAllocation deletes an allocation of either kind. It always succeeds
// when the allocation exists, even on a void invoice.
func (e *Engine) RemoveAllocation(id AllocationID) (*LedgerDiff, error) {
	return e.removeAllocation(id, "")
}

// RemoveProductionOrderAllocation is RemoveAllocation restricted to
// production order allocations.
func (e *Engine) RemoveProductionOrderAllocation(id AllocationID) (*LedgerDiff, error) {
	return e.removeAllocation(id, AllocationKindProductionOrder)
}

func (e *Engine) removeAllocation(id AllocationID, kind AllocationKind) (*LedgerDiff, error) {
	current, unlock, err := e.lockAllocation(id, kind)
	if err != nil {
		return nil, err
	}
	defer unlock()

	keys := []EntityKey{current.InvoiceID().Key()}
	if pid, ok := current.PaymentID(); ok {
		keys = append(keys, pid.Key())
	}

	d := &LedgerDiff{
		TeamID:     current.TeamID,
		Op:         OpRemoveAllocation,
		Allocation: &AllocationChange{Type: ChangeRemoved, Before: current.clone()},
	}
	return e.commit(d, keys, func() {
		e.store.DeleteAllocation(id)
	}), nil
}

// LinkCreditNote makes the full totals of a credit note count against an
// invoice.
func (e *Engine) LinkCreditNote(invoiceID InvoiceID, creditNoteID CreditNoteID) (*LedgerDiff, error) {
	invKey, cnKey := invoiceID.Key(), creditNoteID.Key()

	unlock := e.locks.Lock(invKey, cnKey)
	defer unlock()

	inv, ok := e.store.Invoice(invoiceID)
	if !ok {
		return nil, entityNotFound(invKey)
	}
	cn, ok := e.store.CreditNote(creditNoteID)
	if !ok {
		return nil, entityNotFound(cnKey)
	}
	if inv.IsVoid() {
		return nil, invalidState(invKey, fmt.Sprintf("Invoice %s is void", inv.Number))
	}
	if cn.InvoiceID != nil {
		return nil, invalidState(cnKey, fmt.Sprintf("Credit note %s is already linked to invoice %s", cn.Number, cn.InvoiceID))
	}
	if cn.Currency != inv.Currency {
		return nil, currencyMismatch(invKey, cn.Currency.String(), inv.Currency.String())
	}
	if cn.Direction != inv.Direction {
		return nil, directionMismatch(invKey, cn.Direction, inv.Direction)
	}
	totals := e.invoiceTotals(inv)
	if exceedsBeyondDrift(inv.Currency, cn.TotalAmount, totals.BalanceDue) {
		return nil, exceedsCapacity(invKey, SideTarget, cn.TotalAmount, totals.BalanceDue)
	}

	linked := cn.clone()
	target := invoiceID
	linked.InvoiceID = &target

	d := &LedgerDiff{
		TeamID:         inv.TeamID,
		Op:             OpLinkCreditNote,
		CreditNoteLink: &CreditNoteLinkChange{CreditNoteID: creditNoteID, After: &target},
	}
	return e.commit(d, []EntityKey{cnKey, invKey}, func() {
		e.store.PutCreditNote(linked)
	}), nil
}

// UnlinkCreditNote detaches a credit note from its invoice
func (e *Engine) UnlinkCreditNote(creditNoteID CreditNoteID) (*LedgerDiff, error) {
	cnKey := creditNoteID.Key()
	for {
		cn, ok := e.store.CreditNote(creditNoteID)
		if !ok {
			return nil, entityNotFound(cnKey)
		}
		if cn.InvoiceID == nil {
			return nil, invalidState(cnKey, fmt.Sprintf("Credit note %s is not linked", cn.Number))
		}
		invoiceID := *cn.InvoiceID

		unlock := e.locks.Lock(cnKey, invoiceID.Key())
		cn, ok = e.store.CreditNote(creditNoteID)
		if !ok || cn.InvoiceID == nil || *cn.InvoiceID != invoiceID {
			// link moved while we waited for the locks
			unlock()
			continue
		}

		unlinked := cn.clone()
		unlinked.InvoiceID = nil
		prev := invoiceID
		d := &LedgerDiff{
			TeamID:         cn.TeamID,
			Op:             OpUnlinkCreditNote,
			CreditNoteLink: &CreditNoteLinkChange{CreditNoteID: creditNoteID, Before: &prev},
		}
		d = e.commit(d, []EntityKey{cnKey, invoiceID.Key()}, func() {
			e.store.PutCreditNote(unlinked)
		})
		unlock()
		return d, nil
	}
}

// ReceiveInvoice moves a draft invoice to received. Its status then follows
// the totals, so an already settled invoice lands directly on paid.
func (e *Engine) ReceiveInvoice(id InvoiceID) (*LedgerDiff, error) {
	return e.transition(id, InvoiceStatusReceived, OpReceiveInvoice)
}

// VoidInvoice marks an invoice void. Void is terminal; allocations stay for
// history but the invoice no longer accepts new ones.
func (e *Engine) VoidInvoice(id InvoiceID) (*LedgerDiff, error) {
	return e.transition(id, InvoiceStatusVoid, OpVoidInvoice)
}

func (e *Engine) transition(id InvoiceID, to InvoiceStatus, op string) (*LedgerDiff, error) {
	key := id.Key()
	unlock := e.locks.Lock(key)
	defer unlock()

	inv, ok := e.store.Invoice(id)
	if !ok {
		return nil, entityNotFound(key)
	}
	if !CanTransition(inv.Status, to) {
		return nil, invalidState(key, fmt.Sprintf("Invoice %s cannot move from %s to %s", inv.Number, inv.Status, to))
	}

	next := inv.clone()
	next.Status = to
	d := &LedgerDiff{TeamID: inv.TeamID, Op: op}
	return e.commit(d, []EntityKey{key}, func() {
		e.store.PutInvoice(next)
	}), nil
}

// SetInvoiceAttachment records the object key of the invoice attachment.
// An empty key clears it.
func (e *Engine) SetInvoiceAttachment(id InvoiceID, key string) (*LedgerDiff, error) {
	ik := id.Key()
	unlock := e.locks.Lock(ik)
	defer unlock()

	inv, ok := e.store.Invoice(id)
	if !ok {
		return nil, entityNotFound(ik)
	}
	next := inv.clone()
	next.AttachmentKey = key
	d := &LedgerDiff{TeamID: inv.TeamID, Op: OpSetInvoiceAttachment}
	return e.commit(d, []EntityKey{ik}, func() {
		e.store.PutInvoice(next)
	}), nil
}

// RegisterInvoice adds a newly created invoice to the store
func (e *Engine) RegisterInvoice(inv *Invoice) (*LedgerDiff, error) {
	key := inv.Key()
	unlock := e.locks.Lock(key)
	defer unlock()

	if _, exists := e.store.Invoice(inv.ID); exists {
		return nil, alreadyExists(key)
	}
	stored := inv.clone()
	d := &LedgerDiff{TeamID: inv.TeamID, Op: OpRegisterInvoice}
	return e.commit(d, []EntityKey{key}, func() {
		e.store.PutInvoice(stored)
	}), nil
}

// RegisterPayment adds a newly created payment to the store
func (e *Engine) RegisterPayment(p *Payment) (*LedgerDiff, error) {
	key := p.Key()
	unlock := e.locks.Lock(key)
	defer unlock()

	if _, exists := e.store.Payment(p.ID); exists {
		return nil, alreadyExists(key)
	}
	stored := p.clone()
	d := &LedgerDiff{TeamID: p.TeamID, Op: OpRegisterPayment}
	return e.commit(d, []EntityKey{key}, func() {
		e.store.PutPayment(stored)
	}), nil
}

// RegisterCreditNote adds a newly created credit note to the store. A credit
// note created already linked must point at a known invoice.
func (e *Engine) RegisterCreditNote(cn *CreditNote) (*LedgerDiff, error) {
	keys := []EntityKey{cn.Key()}
	if cn.InvoiceID != nil {
		keys = append(keys, cn.InvoiceID.Key())
	}
	unlock := e.locks.Lock(keys...)
	defer unlock()

	if _, exists := e.store.CreditNote(cn.ID); exists {
		return nil, alreadyExists(cn.Key())
	}
	if cn.InvoiceID != nil {
		if _, ok := e.store.Invoice(*cn.InvoiceID); !ok {
			return nil, entityNotFound(cn.InvoiceID.Key())
		}
	}
	stored := cn.clone()
	d := &LedgerDiff{TeamID: cn.TeamID, Op: OpRegisterCreditNote}
	if cn.InvoiceID != nil {
		target := *cn.InvoiceID
		d.CreditNoteLink = &CreditNoteLinkChange{CreditNoteID: cn.ID, After: &target}
	}
	return e.commit(d, keys, func() {
		e.store.PutCreditNote(stored)
	}), nil
}

// RemoveInvoice deletes an invoice that no allocation or credit note points at
func (e *Engine) RemoveInvoice(id InvoiceID) (*LedgerDiff, error) {
	key := id.Key()
	unlock := e.locks.Lock(key)
	defer unlock()

	inv, ok := e.store.Invoice(id)
	if !ok {
		return nil, entityNotFound(key)
	}
	if len(e.store.InvoiceAllocations(id)) > 0 || len(e.store.CreditNotesByInvoice(id)) > 0 {
		return nil, newValidationError(ErrEntityInUse, key, fmt.Sprintf("Invoice %s still has allocations or credit notes", inv.Number))
	}
	d := &LedgerDiff{TeamID: inv.TeamID, Op: OpRemoveInvoice}
	return e.commit(d, []EntityKey{key}, func() {
		e.store.DeleteInvoice(id)
	}), nil
}

// RemovePayment deletes a payment without allocations
func (e *Engine) RemovePayment(id PaymentID) (*LedgerDiff, error) {
	key := id.Key()
	unlock := e.locks.Lock(key)
	defer unlock()

	p, ok := e.store.Payment(id)
	if !ok {
		return nil, entityNotFound(key)
	}
	if len(e.store.AllocationsBySource(key)) > 0 {
		return nil, newValidationError(ErrEntityInUse, key, fmt.Sprintf("Payment %s still has allocations", p.Number))
	}
	d := &LedgerDiff{TeamID: p.TeamID, Op: OpRemovePayment}
	return e.commit(d, []EntityKey{key}, func() {
		e.store.DeletePayment(id)
	}), nil
}

// RemoveCreditNote deletes an unlinked credit note
func (e *Engine) RemoveCreditNote(id CreditNoteID) (*LedgerDiff, error) {
	key := id.Key()
	unlock := e.locks.Lock(key)
	defer unlock()

	cn, ok := e.store.CreditNote(id)
	if !ok {
		return nil, entityNotFound(key)
	}
	if cn.IsLinked() {
		return nil, newValidationError(ErrEntityInUse, key, fmt.Sprintf("Credit note %s is still linked", cn.Number))
	}
	d := &LedgerDiff{TeamID: cn.TeamID, Op: OpRemoveCreditNote}
	return e.commit(d, []EntityKey{key}, func() {
		e.store.DeleteCreditNote(id)
	}), nil
}

// SeedInput holds documents read from the remote read views
type SeedInput struct {
	TeamID      uuid.UUID
	Invoices    []*Invoice
	Payments    []*Payment
	CreditNotes []*CreditNote
	Allocations []*Allocation
}

// Seed puts server state into the store without validating capacities and
// returns one diff describing every document it touched. Statuses are
// recomputed from the loaded totals.
func (e *Engine) Seed(in SeedInput) *LedgerDiff {
	keys := make([]EntityKey, 0, len(in.Invoices)+len(in.Payments)+len(in.CreditNotes))
	for _, inv := range in.Invoices {
		keys = append(keys, inv.Key())
	}
	for _, p := range in.Payments {
		keys = append(keys, p.Key())
	}
	for _, cn := range in.CreditNotes {
		keys = append(keys, cn.Key())
	}
	// allocations seeded on their own still touch both documents
	for _, a := range in.Allocations {
		keys = append(keys, a.InvoiceID().Key())
		if pid, ok := a.PaymentID(); ok {
			keys = append(keys, pid.Key())
		}
	}
	keys = sortedUnique(keys)
	lockKeys := append([]EntityKey{}, keys...)
	for _, a := range in.Allocations {
		lockKeys = append(lockKeys, a.ID.Key())
	}

	unlock := e.locks.Lock(lockKeys...)
	defer unlock()

	d := &LedgerDiff{TeamID: in.TeamID, Op: OpSeed}
	return e.commit(d, keys, func() {
		for _, inv := range in.Invoices {
			e.store.PutInvoice(inv.clone())
		}
		for _, p := range in.Payments {
			e.store.PutPayment(p.clone())
		}
		for _, cn := range in.CreditNotes {
			e.store.PutCreditNote(cn.clone())
		}
		for _, a := range in.Allocations {
			e.store.PutAllocation(a.clone())
		}
	})
}

// Revert undoes the structural change of d and hands the inverse to the
// sink. Capacities are not re-validated. Only what d itself changed is put
// back: the allocation, the credit note link, a created or deleted document,
// or the invoice field a receive, void or attachment command set. Statuses
// and totals are then derived again, so diffs committed on the same
// documents after d survive.
func (e *Engine) Revert(d *LedgerDiff) *LedgerDiff {
	inv := d.Invert()
	keys := inv.Keys()

	lockKeys := append([]EntityKey{}, keys...)
	if inv.Allocation != nil {
		lockKeys = append(lockKeys, inv.Allocation.AllocationID().Key())
	}
	unlock := e.locks.Lock(lockKeys...)
	defer unlock()

	before := make([]*EntityState, len(keys))
	for i, k := range keys {
		before[i] = e.snapshot(k)
	}

	e.undo(d)
	e.refreshStatuses(keys)

	affected := make([]AffectedEntity, 0, len(keys))
	for i, k := range keys {
		after := e.snapshot(k)
		if before[i] == nil && after == nil {
			continue
		}
		affected = append(affected, AffectedEntity{Key: k, Before: before[i], After: after})
	}
	inv.Affected = affected

	e.sink.ApplyDiff(inv)
	return inv
}

func (e *Engine) undo(d *LedgerDiff) {
	if ch := d.Allocation; ch != nil {
		if ch.Before == nil {
			e.store.DeleteAllocation(ch.After.ID)
		} else {
			e.store.PutAllocation(ch.Before.clone())
		}
	}
	if l := d.CreditNoteLink; l != nil {
		if cn, ok := e.store.CreditNote(l.CreditNoteID); ok {
			next := cn.clone()
			next.InvoiceID = nil
			if l.Before != nil {
				prev := *l.Before
				next.InvoiceID = &prev
			}
			e.store.PutCreditNote(next)
		}
	}
	for _, a := range d.Affected {
		switch {
		case a.Created():
			e.deleteDocument(a.Key)
		case a.Deleted():
			e.restoreDocument(a.Before)
		case a.Before != nil:
			e.restoreFields(d.Op, a.Before)
		}
	}
}

// restoreFields puts back the document fields op wrote directly. Every other
// field is left as it is now.
func (e *Engine) restoreFields(op string, prev *EntityState) {
	if op == OpSeed {
		e.restoreDocument(prev)
		return
	}
	if prev.Invoice == nil {
		return
	}
	cur, ok := e.store.Invoice(prev.Invoice.ID)
	if !ok {
		return
	}
	next := cur.clone()
	switch op {
	case OpReceiveInvoice, OpVoidInvoice:
		// a void committed since stays
		if op == OpReceiveInvoice && cur.IsVoid() {
			return
		}
		next.Status = prev.Invoice.Status
	case OpSetInvoiceAttachment:
		next.AttachmentKey = prev.Invoice.AttachmentKey
	default:
		return
	}
	e.store.PutInvoice(next)
}

// Snapshot returns the current state of a document with its derived totals
func (e *Engine) Snapshot(key EntityKey) (*EntityState, bool) {
	s := e.snapshot(key)
	return s, s != nil
}

// InvoiceTotals returns the derived totals of an invoice
func (e *Engine) InvoiceTotals(id InvoiceID) (InvoiceTotals, error) {
	inv, ok := e.store.Invoice(id)
	if !ok {
		return InvoiceTotals{}, entityNotFound(id.Key())
	}
	return e.invoiceTotals(inv), nil
}

// PaymentTotals returns the derived totals of a payment
func (e *Engine) PaymentTotals(id PaymentID) (PaymentTotals, error) {
	p, ok := e.store.Payment(id)
	if !ok {
		return PaymentTotals{}, entityNotFound(id.Key())
	}
	return CalculatePaymentTotals(p, e.store.AllocationsBySource(p.Key())), nil
}

// commit snapshots keys, runs apply, recomputes invoice statuses and hands
// the finished diff to the sink. Callers hold the locks of keys.
func (e *Engine) commit(d *LedgerDiff, keys []EntityKey, apply func()) *LedgerDiff {
	before := make([]*EntityState, len(keys))
	for i, k := range keys {
		before[i] = e.snapshot(k)
	}

	apply()
	e.refreshStatuses(keys)

	for i, k := range keys {
		after := e.snapshot(k)
		if before[i] == nil && after == nil {
			continue
		}
		d.Affected = append(d.Affected, AffectedEntity{Key: k, Before: before[i], After: after})
	}
	d.ID = uuid.New()
	d.CreatedAt = e.now()

	e.sink.ApplyDiff(d)
	return d
}

func (e *Engine) refreshStatuses(keys []EntityKey) {
	for _, k := range keys {
		if k.Kind != KindInvoice {
			continue
		}
		inv, ok := e.store.Invoice(InvoiceID(k.ID))
		if !ok {
			continue
		}
		status := DeriveStatus(inv.Status, inv.Currency, e.invoiceTotals(inv))
		if status != inv.Status {
			next := inv.clone()
			next.Status = status
			e.store.PutInvoice(next)
		}
	}
}

func (e *Engine) snapshot(key EntityKey) *EntityState {
	switch key.Kind {
	case KindInvoice:
		inv, ok := e.store.Invoice(InvoiceID(key.ID))
		if !ok {
			return nil
		}
		allocs := e.store.InvoiceAllocations(inv.ID)
		credits := e.store.CreditNotesByInvoice(inv.ID)
		totals := CalculateInvoiceTotals(inv, allocs, credits)
		return &EntityState{
			Invoice:       inv.clone(),
			InvoiceTotals: &totals,
			Allocations:   cloneAllocations(allocs),
			CreditNoteIDs: creditNoteIDs(credits),
		}
	case KindPayment:
		p, ok := e.store.Payment(PaymentID(key.ID))
		if !ok {
			return nil
		}
		allocs := e.store.AllocationsBySource(key)
		totals := CalculatePaymentTotals(p, allocs)
		return &EntityState{
			Payment:       p.clone(),
			PaymentTotals: &totals,
			Allocations:   cloneAllocations(allocs),
		}
	case KindCreditNote:
		cn, ok := e.store.CreditNote(CreditNoteID(key.ID))
		if !ok {
			return nil
		}
		return &EntityState{CreditNote: cn.clone()}
	}
	return nil
}

func (e *Engine) restoreDocument(s *EntityState) {
	switch {
	case s.Invoice != nil:
		e.store.PutInvoice(s.Invoice.clone())
	case s.Payment != nil:
		e.store.PutPayment(s.Payment.clone())
	case s.CreditNote != nil:
		e.store.PutCreditNote(s.CreditNote.clone())
	}
}

func (e *Engine) deleteDocument(key EntityKey) {
	switch key.Kind {
	case KindInvoice:
		e.store.DeleteInvoice(InvoiceID(key.ID))
	case KindPayment:
		e.store.DeletePayment(PaymentID(key.ID))
	case KindCreditNote:
		e.store.DeleteCreditNote(CreditNoteID(key.ID))
	}
}

func (e *Engine) invoiceTotals(inv *Invoice) InvoiceTotals {
	return CalculateInvoiceTotals(inv, e.store.InvoiceAllocations(inv.ID), e.store.CreditNotesByInvoice(inv.ID))
}

// paymentAndInvoice loads both ends of a payment allocation and checks that
// they can be linked.
func (e *Engine) paymentAndInvoice(pid PaymentID, iid InvoiceID) (*Payment, *Invoice, error) {
	p, ok := e.store.Payment(pid)
	if !ok {
		return nil, nil, entityNotFound(pid.Key())
	}
	inv, ok := e.store.Invoice(iid)
	if !ok {
		return nil, nil, entityNotFound(iid.Key())
	}
	if inv.IsVoid() {
		return nil, nil, invalidState(inv.Key(), fmt.Sprintf("Invoice %s is void", inv.Number))
	}
	if p.Currency != inv.Currency {
		return nil, nil, currencyMismatch(inv.Key(), p.Currency.String(), inv.Currency.String())
	}
	if p.Direction != inv.Direction {
		return nil, nil, directionMismatch(inv.Key(), p.Direction, inv.Direction)
	}
	return p, inv, nil
}

// checkPaymentCapacity validates amount against the unallocated part of the
// payment and the balance due of the invoice. released is the amount of the
// allocation being replaced, if any.
func (e *Engine) checkPaymentCapacity(p *Payment, inv *Invoice, amount, released decimal.Decimal) error {
	source := CalculatePaymentTotals(p, e.store.AllocationsBySource(p.Key())).AmountUnallocated.Add(released)
	if exceeds(amount, source) {
		return exceedsCapacity(p.Key(), SideSource, amount, source)
	}
	target := e.invoiceTotals(inv).BalanceDue.Add(released)
	if exceeds(amount, target) {
		return exceedsCapacity(inv.Key(), SideTarget, amount, target)
	}
	return nil
}

// checkSubtotalCapacity validates amount against the part of the invoice
// subtotal not yet booked on production orders.
func (e *Engine) checkSubtotalCapacity(inv *Invoice, amount, released decimal.Decimal) error {
	capacity := inv.SubtotalAmount.Sub(e.invoiceTotals(inv).AllocatedSubtotal).Add(released)
	if exceeds(amount, capacity) {
		return exceedsCapacity(inv.Key(), SideSource, amount, capacity)
	}
	return nil
}

// lockAllocation locks an allocation together with both of its ends. kind
// restricts the allocation kind when not empty.
func (e *Engine) lockAllocation(id AllocationID, kind AllocationKind) (*Allocation, func(), error) {
	for {
		a, ok := e.store.Allocation(id)
		if !ok || (kind != "" && a.Kind != kind) {
			return nil, nil, entityNotFound(id.Key())
		}
		unlock := e.locks.Lock(id.Key(), a.SourceKey(), a.TargetKey())
		current, ok := e.store.Allocation(id)
		if !ok {
			unlock()
			return nil, nil, entityNotFound(id.Key())
		}
		if current.SourceKey() != a.SourceKey() || current.TargetKey() != a.TargetKey() {
			unlock()
			continue
		}
		return current, unlock, nil
	}
}

func currencyMismatch(key EntityKey, source, target string) *ValidationError {
	return newValidationError(ErrCurrencyMismatch, key, fmt.Sprintf("Currency %s does not match invoice currency %s", source, target))
}

func directionMismatch(key EntityKey, source, target Direction) *ValidationError {
	return newValidationError(ErrDirectionMismatch, key, fmt.Sprintf("Direction %s does not match invoice direction %s", source, target))
}

func alreadyExists(key EntityKey) *ValidationError {
	return newValidationError(shared.ErrAlreadyExists, key, fmt.Sprintf("%s already exists", key))
}

func cloneAllocations(as []*Allocation) []*Allocation {
	out := make([]*Allocation, len(as))
	for i, a := range as {
		out[i] = a.clone()
	}
	return out
}

func creditNoteIDs(cns []*CreditNote) []CreditNoteID {
	ids := make([]CreditNoteID, len(cns))
	for i, cn := range cns {
		ids[i] = cn.ID
	}
	return ids
}
