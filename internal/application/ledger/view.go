package ledger

import (
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Shape is the layout of the entries a cache holds. A list row and a detail
// entry of the same entity share identity and the core numeric fields.
type Shape string

const (
	ShapeListRow Shape = "list_row"
	ShapeDetail  Shape = "detail"
)

// LedgerView is the read-side projection of one document
type LedgerView struct {
	Key       ledger.EntityKey     `json:"key"`
	TeamID    uuid.UUID            `json:"team_id"`
	Shape     Shape                `json:"shape"`
	Number    string               `json:"number"`
	Direction ledger.Direction     `json:"direction"`
	Currency  valueobject.Currency `json:"currency"`
	Status    string               `json:"status,omitempty"`
	Date      time.Time            `json:"date"`

	// Amount is the invoice or credit note total, or the payment amount
	Amount            decimal.Decimal   `json:"amount"`
	AmountPaid        *decimal.Decimal  `json:"amount_paid,omitempty"`
	CreditedTotal     *decimal.Decimal  `json:"credited_total,omitempty"`
	BalanceDue        *decimal.Decimal  `json:"balance_due,omitempty"`
	AmountAllocated   *decimal.Decimal  `json:"amount_allocated,omitempty"`
	AmountUnallocated *decimal.Decimal  `json:"amount_unallocated,omitempty"`
	LinkedInvoiceID   *ledger.InvoiceID `json:"linked_invoice_id,omitempty"`

	Detail *ViewDetail `json:"detail,omitempty"`

	// Annotations belong to the cache owner and survive every patch
	Annotations map[string]string `json:"annotations,omitempty"`
}

// ViewDetail holds the fields only the detail shape carries
type ViewDetail struct {
	SubtotalAmount    decimal.Decimal       `json:"subtotal_amount"`
	VATAmount         decimal.Decimal       `json:"vat_amount"`
	AmountCredited    *decimal.Decimal      `json:"amount_credited,omitempty"`
	AllocatedSubtotal *decimal.Decimal      `json:"allocated_subtotal,omitempty"`
	IsFullyAllocated  *bool                 `json:"is_fully_allocated,omitempty"`
	AttachmentKey     string                `json:"attachment_key,omitempty"`
	DueDate           *time.Time            `json:"due_date,omitempty"`
	Reference         string                `json:"reference,omitempty"`
	Allocations       []AllocationLine      `json:"allocations,omitempty"`
	CreditNoteIDs     []ledger.CreditNoteID `json:"credit_note_ids,omitempty"`
}

// AllocationLine is one allocation as shown inside a detail view
type AllocationLine struct {
	ID       ledger.AllocationID   `json:"id"`
	Kind     ledger.AllocationKind `json:"kind"`
	SourceID uuid.UUID             `json:"source_id"`
	TargetID uuid.UUID             `json:"target_id"`
	Amount   decimal.Decimal       `json:"amount"`
}

// Project builds the view of an entity snapshot in the given shape
func Project(key ledger.EntityKey, state *ledger.EntityState, shape Shape) *LedgerView {
	v := &LedgerView{Key: key, TeamID: state.TeamID(), Shape: shape}
	var detail *ViewDetail
	if shape == ShapeDetail {
		detail = &ViewDetail{}
		v.Detail = detail
	}

	switch {
	case state.Invoice != nil:
		inv := state.Invoice
		v.Number = inv.Number
		v.Direction = inv.Direction
		v.Currency = inv.Currency
		v.Status = string(inv.Status)
		v.Date = inv.IssuedAt
		v.Amount = inv.TotalAmount
		if t := state.InvoiceTotals; t != nil {
			v.AmountPaid = decimalPtr(t.AmountPaid)
			v.CreditedTotal = decimalPtr(t.CreditedTotal)
			v.BalanceDue = decimalPtr(t.BalanceDue)
			if detail != nil {
				detail.AmountCredited = decimalPtr(t.AmountCredited)
				detail.AllocatedSubtotal = decimalPtr(t.AllocatedSubtotal)
				full := t.IsFullyAllocated
				detail.IsFullyAllocated = &full
			}
		}
		if detail != nil {
			detail.SubtotalAmount = inv.SubtotalAmount
			detail.VATAmount = inv.VATAmount
			detail.AttachmentKey = inv.AttachmentKey
			detail.DueDate = inv.DueDate
			detail.CreditNoteIDs = state.CreditNoteIDs
		}
	case state.Payment != nil:
		p := state.Payment
		v.Number = p.Number
		v.Direction = p.Direction
		v.Currency = p.Currency
		v.Date = p.PaidAt
		v.Amount = p.Amount
		if t := state.PaymentTotals; t != nil {
			v.AmountAllocated = decimalPtr(t.AmountAllocated)
			v.AmountUnallocated = decimalPtr(t.AmountUnallocated)
		}
		if detail != nil {
			detail.Reference = p.Reference
		}
	case state.CreditNote != nil:
		cn := state.CreditNote
		v.Number = cn.Number
		v.Direction = cn.Direction
		v.Currency = cn.Currency
		v.Date = cn.IssuedAt
		v.Amount = cn.TotalAmount
		v.LinkedInvoiceID = cn.InvoiceID
		if detail != nil {
			detail.SubtotalAmount = cn.SubtotalAmount
			detail.VATAmount = cn.VATAmount
		}
	}

	if detail != nil && len(state.Allocations) > 0 {
		detail.Allocations = make([]AllocationLine, len(state.Allocations))
		for i, a := range state.Allocations {
			detail.Allocations[i] = AllocationLine{
				ID:       a.ID,
				Kind:     a.Kind,
				SourceID: a.SourceID,
				TargetID: a.TargetID,
				Amount:   a.Amount,
			}
		}
	}
	return v
}

// merge returns next with the owner-held parts of prev carried over
func merge(prev, next *LedgerView) *LedgerView {
	if prev != nil && len(prev.Annotations) > 0 {
		next.Annotations = prev.Annotations
	}
	return next
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
