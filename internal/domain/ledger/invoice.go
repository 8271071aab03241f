package ledger

import (
	"fmt"
	"time"

	"github.com/erp/ledger/internal/domain/shared"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction tells whether money flows out (payable) or in (receivable)
type Direction string

const (
	DirectionPayable    Direction = "payable"
	DirectionReceivable Direction = "receivable"
)

// IsValid checks if the direction is valid
func (d Direction) IsValid() bool {
	return d == DirectionPayable || d == DirectionReceivable
}

// InvoiceStatus represents the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusReceived      InvoiceStatus = "received"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusReceived, InvoiceStatusPartiallyPaid,
		InvoiceStatusPaid, InvoiceStatusVoid:
		return true
	}
	return false
}

// IsTerminal returns true if no further transition is possible
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusVoid
}

// Invoice is a document that asks the payer to pay the issuer.
// Allocations and credit notes are not embedded: the Store indexes them by
// invoice id so every view shares the same records.
type Invoice struct {
	ID             InvoiceID            `json:"id"`
	TeamID         uuid.UUID            `json:"team_id"`
	Number         string               `json:"number"`
	IssuerID       uuid.UUID            `json:"issuer_id"`
	PayerID        uuid.UUID            `json:"payer_id"`
	Direction      Direction            `json:"direction"`
	Currency       valueobject.Currency `json:"currency"`
	SubtotalAmount decimal.Decimal      `json:"subtotal_amount"`
	VATAmount      decimal.Decimal      `json:"vat_amount"`
	TotalAmount    decimal.Decimal      `json:"total_amount"`
	Status         InvoiceStatus        `json:"status"`
	IssuedAt       time.Time            `json:"issued_at"`
	DueDate        *time.Time           `json:"due_date,omitempty"`
	AttachmentKey  string               `json:"attachment_key,omitempty"`
	Version        int                  `json:"version"`
}

// InvoiceParams groups the inputs of NewInvoice
type InvoiceParams struct {
	ID             InvoiceID
	TeamID         uuid.UUID
	Number         string
	IssuerID       uuid.UUID
	PayerID        uuid.UUID
	Direction      Direction
	Currency       valueobject.Currency
	SubtotalAmount decimal.Decimal
	VATAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
	Status         InvoiceStatus
	IssuedAt       time.Time
	DueDate        *time.Time
}

// NewInvoice validates params and builds an invoice. A zero id is replaced by
// a fresh one, an empty status defaults to draft and an empty total is derived
// from subtotal + VAT.
func NewInvoice(p InvoiceParams) (*Invoice, error) {
	if p.Number == "" {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot be empty")
	}
	if len(p.Number) > 50 {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot exceed 50 characters")
	}
	if !p.Direction.IsValid() {
		return nil, shared.NewDomainError("INVALID_DIRECTION", fmt.Sprintf("Direction %q is not valid", p.Direction))
	}
	if !p.Currency.IsValid() {
		return nil, shared.NewDomainError("INVALID_CURRENCY", fmt.Sprintf("Currency %q is not valid", p.Currency))
	}
	if p.SubtotalAmount.IsNegative() || p.VATAmount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Subtotal and VAT cannot be negative")
	}
	if p.Status == "" {
		p.Status = InvoiceStatusDraft
	}
	if !p.Status.IsValid() {
		return nil, shared.NewDomainError("INVALID_STATUS", fmt.Sprintf("Status %q is not valid", p.Status))
	}

	expected := p.SubtotalAmount.Add(p.VATAmount)
	if p.TotalAmount.IsZero() {
		p.TotalAmount = expected
	}
	// total = subtotal + vat, allowing one minor unit of rounding
	if p.TotalAmount.Sub(expected).Abs().GreaterThan(p.Currency.Epsilon()) {
		return nil, shared.NewDomainError("TOTAL_MISMATCH", fmt.Sprintf(
			"Total %s does not equal subtotal %s + VAT %s",
			p.TotalAmount.StringFixed(2), p.SubtotalAmount.StringFixed(2), p.VATAmount.StringFixed(2)))
	}

	id := p.ID
	if uuid.UUID(id) == uuid.Nil {
		id = NewInvoiceID()
	}
	issuedAt := p.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	return &Invoice{
		ID:             id,
		TeamID:         p.TeamID,
		Number:         p.Number,
		IssuerID:       p.IssuerID,
		PayerID:        p.PayerID,
		Direction:      p.Direction,
		Currency:       p.Currency,
		SubtotalAmount: p.SubtotalAmount,
		VATAmount:      p.VATAmount,
		TotalAmount:    p.TotalAmount,
		Status:         p.Status,
		IssuedAt:       issuedAt,
		DueDate:        p.DueDate,
		Version:        1,
	}, nil
}

// Key returns the store/cache key of the invoice
func (inv *Invoice) Key() EntityKey {
	return inv.ID.Key()
}

// IsVoid returns true if the invoice has been voided
func (inv *Invoice) IsVoid() bool {
	return inv.Status == InvoiceStatusVoid
}

// GetTotalMoney returns total amount as Money
func (inv *Invoice) GetTotalMoney() valueobject.Money {
	m, _ := valueobject.NewMoney(inv.TotalAmount, inv.Currency)
	return m
}

// clone returns a detached copy
func (inv *Invoice) clone() *Invoice {
	c := *inv
	if inv.DueDate != nil {
		d := *inv.DueDate
		c.DueDate = &d
	}
	return &c
}
