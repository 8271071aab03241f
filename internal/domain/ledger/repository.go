package ledger

import (
	"context"

	"github.com/google/uuid"
)

// CreatedInvoice is the result of the combined invoice creation call
type CreatedInvoice struct {
	Invoice     *Invoice
	Allocations []*Allocation
}

// CreatedPayment is the result of the combined payment creation call
type CreatedPayment struct {
	Payment     *Payment
	Allocations []*Allocation
}

// LedgerRepository is the remote side of the ledger. The engine never calls
// it; the application service writes through it after a diff was applied
// locally.
type LedgerRepository interface {
	// LoadTeam reads every document and allocation of a team from the read views
	LoadTeam(ctx context.Context, teamID uuid.UUID) (*SeedInput, error)

	// CreateInvoiceWithAllocations atomically creates an invoice and the
	// payment allocations targeting it
	CreateInvoiceWithAllocations(ctx context.Context, inv *Invoice, allocations []AllocationRequest) (*CreatedInvoice, error)

	// CreatePaymentWithAllocations atomically creates a payment and the
	// allocations sourced from it
	CreatePaymentWithAllocations(ctx context.Context, p *Payment, allocations []AllocationRequest) (*CreatedPayment, error)

	// CreateCreditNote creates a credit note
	CreateCreditNote(ctx context.Context, cn *CreditNote) error

	// SaveAllocation inserts or updates one allocation row
	SaveAllocation(ctx context.Context, a *Allocation) error

	// DeleteAllocation deletes one allocation row
	DeleteAllocation(ctx context.Context, id AllocationID) error

	// SetCreditNoteLink points a credit note at an invoice, or detaches it when invoiceID is nil
	SetCreditNoteLink(ctx context.Context, id CreditNoteID, invoiceID *InvoiceID) error

	// UpdateInvoiceStatus persists an explicit status transition. status is
	// the status after the transition, so receiving a settled draft stores paid.
	UpdateInvoiceStatus(ctx context.Context, id InvoiceID, status InvoiceStatus) error

	// UpdateInvoiceAttachment stores the object key of the invoice attachment
	UpdateInvoiceAttachment(ctx context.Context, id InvoiceID, key string) error

	// DeleteInvoice deletes an invoice row
	DeleteInvoice(ctx context.Context, id InvoiceID) error

	// DeletePayment deletes a payment row
	DeletePayment(ctx context.Context, id PaymentID) error

	// DeleteCreditNote deletes a credit note row
	DeleteCreditNote(ctx context.Context, id CreditNoteID) error
}
