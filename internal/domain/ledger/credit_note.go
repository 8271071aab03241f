package ledger

import (
	"fmt"
	"time"

	"github.com/erp/ledger/internal/domain/shared"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditNote reduces what is owed on an invoice. It carries no applied
// amount: once linked, its full subtotal and total count against the invoice.
type CreditNote struct {
	ID             CreditNoteID         `json:"id"`
	TeamID         uuid.UUID            `json:"team_id"`
	Number         string               `json:"number"`
	Direction      Direction            `json:"direction"`
	Currency       valueobject.Currency `json:"currency"`
	SubtotalAmount decimal.Decimal      `json:"subtotal_amount"`
	VATAmount      decimal.Decimal      `json:"vat_amount"`
	TotalAmount    decimal.Decimal      `json:"total_amount"`
	InvoiceID      *InvoiceID           `json:"invoice_id,omitempty"`
	IssuedAt       time.Time            `json:"issued_at"`
	Reason         string               `json:"reason,omitempty"`
	Version        int                  `json:"version"`
}

// CreditNoteParams groups the inputs of NewCreditNote
type CreditNoteParams struct {
	ID             CreditNoteID
	TeamID         uuid.UUID
	Number         string
	Direction      Direction
	Currency       valueobject.Currency
	SubtotalAmount decimal.Decimal
	VATAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
	InvoiceID      *InvoiceID
	IssuedAt       time.Time
	Reason         string
}

// NewCreditNote validates params and builds a credit note
func NewCreditNote(p CreditNoteParams) (*CreditNote, error) {
	if p.Number == "" {
		return nil, shared.NewDomainError("INVALID_CREDIT_NOTE_NUMBER", "Credit note number cannot be empty")
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
	expected := p.SubtotalAmount.Add(p.VATAmount)
	if p.TotalAmount.IsZero() {
		p.TotalAmount = expected
	}
	if p.TotalAmount.Sub(expected).Abs().GreaterThan(p.Currency.Epsilon()) {
		return nil, shared.NewDomainError("TOTAL_MISMATCH", "Credit note total does not equal subtotal + VAT")
	}
	if !p.TotalAmount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Credit note total must be positive")
	}

	id := p.ID
	if uuid.UUID(id) == uuid.Nil {
		id = NewCreditNoteID()
	}
	issuedAt := p.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	return &CreditNote{
		ID:             id,
		TeamID:         p.TeamID,
		Number:         p.Number,
		Direction:      p.Direction,
		Currency:       p.Currency,
		SubtotalAmount: p.SubtotalAmount,
		VATAmount:      p.VATAmount,
		TotalAmount:    p.TotalAmount,
		InvoiceID:      p.InvoiceID,
		IssuedAt:       issuedAt,
		Reason:         p.Reason,
		Version:        1,
	}, nil
}

// Key returns the store/cache key of the credit note
func (cn *CreditNote) Key() EntityKey {
	return cn.ID.Key()
}

// IsLinked reports whether the credit note counts against an invoice
func (cn *CreditNote) IsLinked() bool {
	return cn.InvoiceID != nil
}

func (cn *CreditNote) clone() *CreditNote {
	c := *cn
	if cn.InvoiceID != nil {
		id := *cn.InvoiceID
		c.InvoiceID = &id
	}
	return &c
}
