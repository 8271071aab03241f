package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityKind names the kind of document an identifier points at
type EntityKind string

const (
	KindInvoice         EntityKind = "invoice"
	KindPayment         EntityKind = "payment"
	KindCreditNote      EntityKind = "credit_note"
	KindProductionOrder EntityKind = "production_order"
	KindAllocation      EntityKind = "allocation"
)

// IsValid checks if the kind is known
func (k EntityKind) IsValid() bool {
	switch k {
	case KindInvoice, KindPayment, KindCreditNote, KindProductionOrder, KindAllocation:
		return true
	}
	return false
}

// EntityKey identifies one entity across every cache and the store.
// Ids are unique per kind only, so the kind is part of the key.
type EntityKey struct {
	Kind EntityKind `json:"kind"`
	ID   uuid.UUID  `json:"id"`
}

// String renders the key as kind/id
func (k EntityKey) String() string {
	return fmt.Sprintf("%s/%s", k.Kind, k.ID)
}

// InvoiceID identifies an invoice
type InvoiceID uuid.UUID

// PaymentID identifies a payment
type PaymentID uuid.UUID

// CreditNoteID identifies a credit note
type CreditNoteID uuid.UUID

// AllocationID identifies an allocation
type AllocationID uuid.UUID

// ProductionOrderID identifies a production order
type ProductionOrderID uuid.UUID

func NewInvoiceID() InvoiceID                 { return InvoiceID(uuid.New()) }
func NewPaymentID() PaymentID                 { return PaymentID(uuid.New()) }
func NewCreditNoteID() CreditNoteID           { return CreditNoteID(uuid.New()) }
func NewAllocationID() AllocationID           { return AllocationID(uuid.New()) }
func NewProductionOrderID() ProductionOrderID { return ProductionOrderID(uuid.New()) }

func (id InvoiceID) String() string         { return uuid.UUID(id).String() }
func (id PaymentID) String() string         { return uuid.UUID(id).String() }
func (id CreditNoteID) String() string      { return uuid.UUID(id).String() }
func (id AllocationID) String() string      { return uuid.UUID(id).String() }
func (id ProductionOrderID) String() string { return uuid.UUID(id).String() }

// Key returns the store/cache key of the invoice
func (id InvoiceID) Key() EntityKey { return EntityKey{Kind: KindInvoice, ID: uuid.UUID(id)} }

// Key returns the store/cache key of the payment
func (id PaymentID) Key() EntityKey { return EntityKey{Kind: KindPayment, ID: uuid.UUID(id)} }

// Key returns the store/cache key of the credit note
func (id CreditNoteID) Key() EntityKey { return EntityKey{Kind: KindCreditNote, ID: uuid.UUID(id)} }

// Key returns the lock key of the production order
func (id ProductionOrderID) Key() EntityKey {
	return EntityKey{Kind: KindProductionOrder, ID: uuid.UUID(id)}
}

// Key returns the lock key of the allocation
func (id AllocationID) Key() EntityKey { return EntityKey{Kind: KindAllocation, ID: uuid.UUID(id)} }

func (id InvoiceID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }
func (id PaymentID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }
func (id CreditNoteID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id AllocationID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id ProductionOrderID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *InvoiceID) UnmarshalText(b []byte) error         { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PaymentID) UnmarshalText(b []byte) error         { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CreditNoteID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *AllocationID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ProductionOrderID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

// ParseInvoiceID parses an invoice id from its string form
func ParseInvoiceID(s string) (InvoiceID, error) {
	u, err := uuid.Parse(s)
	return InvoiceID(u), err
}

// ParsePaymentID parses a payment id from its string form
func ParsePaymentID(s string) (PaymentID, error) {
	u, err := uuid.Parse(s)
	return PaymentID(u), err
}

// ParseCreditNoteID parses a credit note id from its string form
func ParseCreditNoteID(s string) (CreditNoteID, error) {
	u, err := uuid.Parse(s)
	return CreditNoteID(u), err
}

// ParseAllocationID parses an allocation id from its string form
func ParseAllocationID(s string) (AllocationID, error) {
	u, err := uuid.Parse(s)
	return AllocationID(u), err
}

// ParseProductionOrderID parses a production order id from its string form
func ParseProductionOrderID(s string) (ProductionOrderID, error) {
	u, err := uuid.Parse(s)
	return ProductionOrderID(u), err
}

func (id InvoiceID) uuid() uuid.UUID         { return uuid.UUID(id) }
func (id PaymentID) uuid() uuid.UUID         { return uuid.UUID(id) }
func (id CreditNoteID) uuid() uuid.UUID      { return uuid.UUID(id) }
func (id AllocationID) uuid() uuid.UUID      { return uuid.UUID(id) }
func (id ProductionOrderID) uuid() uuid.UUID { return uuid.UUID(id) }
