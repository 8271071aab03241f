package handler

import (
	"strings"
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateAllocationRequest applies part of a payment to an invoice
type CreateAllocationRequest struct {
	PaymentID string          `json:"payment_id" binding:"required,uuid"`
	InvoiceID string          `json:"invoice_id" binding:"required,uuid"`
	Amount    decimal.Decimal `json:"amount" binding:"required,gt=0"`
	Remark    string          `json:"remark" binding:"max=500"`
}

func (r CreateAllocationRequest) toDomain() ledger.AllocationRequest {
	return ledger.AllocationRequest{
		PaymentID: ledger.PaymentID(uuid.MustParse(r.PaymentID)),
		InvoiceID: ledger.InvoiceID(uuid.MustParse(r.InvoiceID)),
		Amount:    r.Amount,
		Remark:    r.Remark,
	}
}

// CreateProductionOrderAllocationRequest applies part of an invoice subtotal
// to a production order
type CreateProductionOrderAllocationRequest struct {
	InvoiceID         string          `json:"invoice_id" binding:"required,uuid"`
	ProductionOrderID string          `json:"production_order_id" binding:"required,uuid"`
	Amount            decimal.Decimal `json:"amount" binding:"required,gt=0"`
	Remark            string          `json:"remark" binding:"max=500"`
}

func (r CreateProductionOrderAllocationRequest) toDomain() ledger.ProductionOrderAllocationRequest {
	return ledger.ProductionOrderAllocationRequest{
		InvoiceID:         ledger.InvoiceID(uuid.MustParse(r.InvoiceID)),
		ProductionOrderID: ledger.ProductionOrderID(uuid.MustParse(r.ProductionOrderID)),
		Amount:            r.Amount,
		Remark:            r.Remark,
	}
}

// UpdateAllocationRequest sets a new allocation amount. Zero is rejected by
// the engine with AMOUNT_NOT_POSITIVE, so it is not filtered here.
type UpdateAllocationRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// LinkCreditNoteRequest attaches a credit note to the invoice in the path
type LinkCreditNoteRequest struct {
	CreditNoteID string `json:"credit_note_id" binding:"required,uuid"`
}

// InvoiceAllocationInput is a payment listed on a new invoice
type InvoiceAllocationInput struct {
	PaymentID string          `json:"payment_id" binding:"required,uuid"`
	Amount    decimal.Decimal `json:"amount" binding:"required,gt=0"`
	Remark    string          `json:"remark" binding:"max=500"`
}

// CreateInvoiceRequest creates an invoice and, atomically, its allocations
type CreateInvoiceRequest struct {
	Number         string                   `json:"number" binding:"required,max=50"`
	IssuerID       string                   `json:"issuer_id" binding:"omitempty,uuid"`
	PayerID        string                   `json:"payer_id" binding:"omitempty,uuid"`
	Direction      string                   `json:"direction" binding:"required,oneof=payable receivable"`
	Currency       string                   `json:"currency" binding:"omitempty,len=3"`
	SubtotalAmount decimal.Decimal          `json:"subtotal_amount" binding:"gte=0"`
	VATAmount      decimal.Decimal          `json:"vat_amount" binding:"gte=0"`
	TotalAmount    decimal.Decimal          `json:"total_amount" binding:"gte=0"`
	Status         string                   `json:"status" binding:"omitempty,oneof=draft received"`
	IssuedAt       *time.Time               `json:"issued_at"`
	DueDate        *time.Time               `json:"due_date"`
	Allocations    []InvoiceAllocationInput `json:"allocations" binding:"omitempty,max=100,dive"`
}

func (r CreateInvoiceRequest) toDomain(teamID uuid.UUID, defaultCurrency valueobject.Currency) (*ledger.Invoice, []ledger.AllocationRequest, error) {
	p := ledger.InvoiceParams{
		TeamID:         teamID,
		Number:         strings.TrimSpace(r.Number),
		IssuerID:       optionalUUID(r.IssuerID),
		PayerID:        optionalUUID(r.PayerID),
		Direction:      ledger.Direction(r.Direction),
		Currency:       currencyOr(r.Currency, defaultCurrency),
		SubtotalAmount: r.SubtotalAmount,
		VATAmount:      r.VATAmount,
		TotalAmount:    r.TotalAmount,
		Status:         ledger.InvoiceStatus(r.Status),
		DueDate:        r.DueDate,
	}
	if r.IssuedAt != nil {
		p.IssuedAt = *r.IssuedAt
	}
	inv, err := ledger.NewInvoice(p)
	if err != nil {
		return nil, nil, err
	}

	allocations := make([]ledger.AllocationRequest, 0, len(r.Allocations))
	for _, a := range r.Allocations {
		allocations = append(allocations, ledger.AllocationRequest{
			PaymentID: ledger.PaymentID(uuid.MustParse(a.PaymentID)),
			InvoiceID: inv.ID,
			Amount:    a.Amount,
			Remark:    a.Remark,
		})
	}
	return inv, allocations, nil
}

// PaymentAllocationInput is an invoice settled by a new payment
type PaymentAllocationInput struct {
	InvoiceID string          `json:"invoice_id" binding:"required,uuid"`
	Amount    decimal.Decimal `json:"amount" binding:"required,gt=0"`
	Remark    string          `json:"remark" binding:"max=500"`
}

// CreatePaymentRequest creates a payment and, atomically, its allocations
type CreatePaymentRequest struct {
	Number      string                   `json:"number" binding:"required,max=50"`
	PayerID     string                   `json:"payer_id" binding:"omitempty,uuid"`
	PayeeID     string                   `json:"payee_id" binding:"omitempty,uuid"`
	Direction   string                   `json:"direction" binding:"required,oneof=payable receivable"`
	Currency    string                   `json:"currency" binding:"omitempty,len=3"`
	Amount      decimal.Decimal          `json:"amount" binding:"required,gt=0"`
	PaidAt      *time.Time               `json:"paid_at"`
	Reference   string                   `json:"reference" binding:"max=100"`
	Allocations []PaymentAllocationInput `json:"allocations" binding:"omitempty,max=100,dive"`
}

func (r CreatePaymentRequest) toDomain(teamID uuid.UUID, defaultCurrency valueobject.Currency) (*ledger.Payment, []ledger.AllocationRequest, error) {
	params := ledger.PaymentParams{
		TeamID:    teamID,
		Number:    strings.TrimSpace(r.Number),
		PayerID:   optionalUUID(r.PayerID),
		PayeeID:   optionalUUID(r.PayeeID),
		Direction: ledger.Direction(r.Direction),
		Currency:  currencyOr(r.Currency, defaultCurrency),
		Amount:    r.Amount,
		Reference: r.Reference,
	}
	if r.PaidAt != nil {
		params.PaidAt = *r.PaidAt
	}
	p, err := ledger.NewPayment(params)
	if err != nil {
		return nil, nil, err
	}

	allocations := make([]ledger.AllocationRequest, 0, len(r.Allocations))
	for _, a := range r.Allocations {
		allocations = append(allocations, ledger.AllocationRequest{
			PaymentID: p.ID,
			InvoiceID: ledger.InvoiceID(uuid.MustParse(a.InvoiceID)),
			Amount:    a.Amount,
			Remark:    a.Remark,
		})
	}
	return p, allocations, nil
}

// CreateCreditNoteRequest creates a credit note, optionally linked to an invoice
type CreateCreditNoteRequest struct {
	Number         string          `json:"number" binding:"required,max=50"`
	Direction      string          `json:"direction" binding:"required,oneof=payable receivable"`
	Currency       string          `json:"currency" binding:"omitempty,len=3"`
	SubtotalAmount decimal.Decimal `json:"subtotal_amount" binding:"gte=0"`
	VATAmount      decimal.Decimal `json:"vat_amount" binding:"gte=0"`
	TotalAmount    decimal.Decimal `json:"total_amount" binding:"gte=0"`
	InvoiceID      string          `json:"invoice_id" binding:"omitempty,uuid"`
	IssuedAt       *time.Time      `json:"issued_at"`
	Reason         string          `json:"reason" binding:"max=500"`
}

func (r CreateCreditNoteRequest) toDomain(teamID uuid.UUID, defaultCurrency valueobject.Currency) (*ledger.CreditNote, error) {
	p := ledger.CreditNoteParams{
		TeamID:         teamID,
		Number:         strings.TrimSpace(r.Number),
		Direction:      ledger.Direction(r.Direction),
		Currency:       currencyOr(r.Currency, defaultCurrency),
		SubtotalAmount: r.SubtotalAmount,
		VATAmount:      r.VATAmount,
		TotalAmount:    r.TotalAmount,
		Reason:         r.Reason,
	}
	if r.InvoiceID != "" {
		id := ledger.InvoiceID(uuid.MustParse(r.InvoiceID))
		p.InvoiceID = &id
	}
	if r.IssuedAt != nil {
		p.IssuedAt = *r.IssuedAt
	}
	return ledger.NewCreditNote(p)
}

// optionalUUID parses an already validated uuid, empty meaning uuid.Nil
func optionalUUID(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	return uuid.MustParse(s)
}

func currencyOr(code string, fallback valueobject.Currency) valueobject.Currency {
	if code == "" {
		return fallback
	}
	return valueobject.Currency(strings.ToUpper(code))
}
