package ledger

import (
	"fmt"
	"time"

	"github.com/erp/ledger/internal/domain/shared"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment records money moved from a payer to a payee. Parts of it are
// applied to invoices through allocations.
type Payment struct {
	ID        PaymentID            `json:"id"`
	TeamID    uuid.UUID            `json:"team_id"`
	Number    string               `json:"number"`
	PayerID   uuid.UUID            `json:"payer_id"`
	PayeeID   uuid.UUID            `json:"payee_id"`
	Direction Direction            `json:"direction"`
	Currency  valueobject.Currency `json:"currency"`
	Amount    decimal.Decimal      `json:"amount"`
	PaidAt    time.Time            `json:"paid_at"`
	Reference string               `json:"reference,omitempty"`
	Version   int                  `json:"version"`
}

// PaymentParams groups the inputs of NewPayment
type PaymentParams struct {
	ID        PaymentID
	TeamID    uuid.UUID
	Number    string
	PayerID   uuid.UUID
	PayeeID   uuid.UUID
	Direction Direction
	Currency  valueobject.Currency
	Amount    decimal.Decimal
	PaidAt    time.Time
	Reference string
}

// NewPayment validates params and builds a payment
func NewPayment(p PaymentParams) (*Payment, error) {
	if p.Number == "" {
		return nil, shared.NewDomainError("INVALID_PAYMENT_NUMBER", "Payment number cannot be empty")
	}
	if !p.Direction.IsValid() {
		return nil, shared.NewDomainError("INVALID_DIRECTION", fmt.Sprintf("Direction %q is not valid", p.Direction))
	}
	if !p.Currency.IsValid() {
		return nil, shared.NewDomainError("INVALID_CURRENCY", fmt.Sprintf("Currency %q is not valid", p.Currency))
	}
	if !p.Amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Amount must be positive")
	}
	if len(p.Reference) > 100 {
		return nil, shared.NewDomainError("INVALID_REFERENCE", "Payment reference cannot exceed 100 characters")
	}

	id := p.ID
	if uuid.UUID(id) == uuid.Nil {
		id = NewPaymentID()
	}
	paidAt := p.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}

	return &Payment{
		ID:        id,
		TeamID:    p.TeamID,
		Number:    p.Number,
		PayerID:   p.PayerID,
		PayeeID:   p.PayeeID,
		Direction: p.Direction,
		Currency:  p.Currency,
		Amount:    p.Amount,
		PaidAt:    paidAt,
		Reference: p.Reference,
		Version:   1,
	}, nil
}

// Key returns the store/cache key of the payment
func (p *Payment) Key() EntityKey {
	return p.ID.Key()
}

func (p *Payment) clone() *Payment {
	c := *p
	return &c
}
