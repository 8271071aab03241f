package ledger

import (
	"time"

	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationKind distinguishes the two edges the engine manages
type AllocationKind string

const (
	// AllocationKindPayment applies part of a payment to an invoice (amount_applied)
	AllocationKindPayment AllocationKind = "payment_invoice"
	// AllocationKindProductionOrder books part of an invoice subtotal on a
	// production order (amount_subtotal_allocated)
	AllocationKindProductionOrder AllocationKind = "invoice_production_order"
)

// IsValid checks if the allocation kind is known
func (k AllocationKind) IsValid() bool {
	return k == AllocationKindPayment || k == AllocationKindProductionOrder
}

// Allocation is a directed money edge from a source document to a target
// document. Currency is inherited from the source.
type Allocation struct {
	ID         AllocationID         `json:"id"`
	TeamID     uuid.UUID            `json:"team_id"`
	Kind       AllocationKind       `json:"kind"`
	SourceKind EntityKind           `json:"source_kind"`
	SourceID   uuid.UUID            `json:"source_id"`
	TargetKind EntityKind           `json:"target_kind"`
	TargetID   uuid.UUID            `json:"target_id"`
	Amount     decimal.Decimal      `json:"amount"`
	Currency   valueobject.Currency `json:"currency"`
	Remark     string               `json:"remark,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// NewPaymentAllocation builds a payment → invoice allocation
func NewPaymentAllocation(teamID uuid.UUID, paymentID PaymentID, invoiceID InvoiceID, amount decimal.Decimal, currency valueobject.Currency) *Allocation {
	return &Allocation{
		ID:         NewAllocationID(),
		TeamID:     teamID,
		Kind:       AllocationKindPayment,
		SourceKind: KindPayment,
		SourceID:   uuid.UUID(paymentID),
		TargetKind: KindInvoice,
		TargetID:   uuid.UUID(invoiceID),
		Amount:     amount,
		Currency:   currency,
		CreatedAt:  time.Now(),
	}
}

// NewProductionOrderAllocation builds an invoice → production order allocation
func NewProductionOrderAllocation(teamID uuid.UUID, invoiceID InvoiceID, orderID ProductionOrderID, amount decimal.Decimal, currency valueobject.Currency) *Allocation {
	return &Allocation{
		ID:         NewAllocationID(),
		TeamID:     teamID,
		Kind:       AllocationKindProductionOrder,
		SourceKind: KindInvoice,
		SourceID:   uuid.UUID(invoiceID),
		TargetKind: KindProductionOrder,
		TargetID:   uuid.UUID(orderID),
		Amount:     amount,
		Currency:   currency,
		CreatedAt:  time.Now(),
	}
}

// SourceKey returns the key of the source document
func (a *Allocation) SourceKey() EntityKey {
	return EntityKey{Kind: a.SourceKind, ID: a.SourceID}
}

// TargetKey returns the key of the target document
func (a *Allocation) TargetKey() EntityKey {
	return EntityKey{Kind: a.TargetKind, ID: a.TargetID}
}

// InvoiceID returns the invoice side of the edge, which is the target of a
// payment allocation and the source of a production order allocation.
func (a *Allocation) InvoiceID() InvoiceID {
	if a.Kind == AllocationKindProductionOrder {
		return InvoiceID(a.SourceID)
	}
	return InvoiceID(a.TargetID)
}

// PaymentID returns the paying side of a payment allocation
func (a *Allocation) PaymentID() (PaymentID, bool) {
	if a.Kind != AllocationKindPayment {
		return PaymentID{}, false
	}
	return PaymentID(a.SourceID), true
}

// ProductionOrderID returns the order side of a production order allocation
func (a *Allocation) ProductionOrderID() (ProductionOrderID, bool) {
	if a.Kind != AllocationKindProductionOrder {
		return ProductionOrderID{}, false
	}
	return ProductionOrderID(a.TargetID), true
}

// GetAmountMoney returns the allocated amount as Money
func (a *Allocation) GetAmountMoney() valueobject.Money {
	m, _ := valueobject.NewMoney(a.Amount, a.Currency)
	return m
}

func (a *Allocation) clone() *Allocation {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
