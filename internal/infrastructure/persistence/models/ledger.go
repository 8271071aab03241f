package models

import (
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceModel is the persistence model for invoices.
type InvoiceModel struct {
	TeamModel
	Number         string               `gorm:"type:varchar(50);not null;index"`
	IssuerID       uuid.UUID            `gorm:"type:uuid;not null;index"`
	PayerID        uuid.UUID            `gorm:"type:uuid;not null;index"`
	Direction      ledger.Direction     `gorm:"type:varchar(20);not null"`
	Currency       string               `gorm:"type:varchar(3);not null"`
	SubtotalAmount decimal.Decimal      `gorm:"type:decimal(18,4);not null"`
	VATAmount      decimal.Decimal      `gorm:"column:vat_amount;type:decimal(18,4);not null"`
	TotalAmount    decimal.Decimal      `gorm:"type:decimal(18,4);not null"`
	Status         ledger.InvoiceStatus `gorm:"type:varchar(20);not null;default:'draft';index"`
	IssuedAt       time.Time            `gorm:"not null;index"`
	DueDate        *time.Time           `gorm:"index"`
	AttachmentKey  string               `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice.
func (m *InvoiceModel) ToDomain() *ledger.Invoice {
	return &ledger.Invoice{
		ID:             ledger.InvoiceID(m.ID),
		TeamID:         m.TeamID,
		Number:         m.Number,
		IssuerID:       m.IssuerID,
		PayerID:        m.PayerID,
		Direction:      m.Direction,
		Currency:       valueobject.Currency(m.Currency),
		SubtotalAmount: m.SubtotalAmount,
		VATAmount:      m.VATAmount,
		TotalAmount:    m.TotalAmount,
		Status:         m.Status,
		IssuedAt:       m.IssuedAt,
		DueDate:        m.DueDate,
		AttachmentKey:  m.AttachmentKey,
		Version:        m.Version,
	}
}

// FromDomain populates the persistence model from a domain Invoice.
func (m *InvoiceModel) FromDomain(inv *ledger.Invoice) {
	m.ID = uuid.UUID(inv.ID)
	m.TeamID = inv.TeamID
	m.Version = inv.Version
	m.Number = inv.Number
	m.IssuerID = inv.IssuerID
	m.PayerID = inv.PayerID
	m.Direction = inv.Direction
	m.Currency = inv.Currency.String()
	m.SubtotalAmount = inv.SubtotalAmount
	m.VATAmount = inv.VATAmount
	m.TotalAmount = inv.TotalAmount
	m.Status = inv.Status
	m.IssuedAt = inv.IssuedAt
	m.DueDate = inv.DueDate
	m.AttachmentKey = inv.AttachmentKey
}

// InvoiceModelFromDomain creates a new persistence model from a domain Invoice.
func InvoiceModelFromDomain(inv *ledger.Invoice) *InvoiceModel {
	m := &InvoiceModel{}
	m.FromDomain(inv)
	return m
}

// PaymentModel is the persistence model for payments.
type PaymentModel struct {
	TeamModel
	Number    string           `gorm:"type:varchar(50);not null;index"`
	PayerID   uuid.UUID        `gorm:"type:uuid;not null;index"`
	PayeeID   uuid.UUID        `gorm:"type:uuid;not null;index"`
	Direction ledger.Direction `gorm:"type:varchar(20);not null"`
	Currency  string           `gorm:"type:varchar(3);not null"`
	Amount    decimal.Decimal  `gorm:"type:decimal(18,4);not null"`
	PaidAt    time.Time        `gorm:"not null;index"`
	Reference string           `gorm:"type:varchar(200)"`
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment.
func (m *PaymentModel) ToDomain() *ledger.Payment {
	return &ledger.Payment{
		ID:        ledger.PaymentID(m.ID),
		TeamID:    m.TeamID,
		Number:    m.Number,
		PayerID:   m.PayerID,
		PayeeID:   m.PayeeID,
		Direction: m.Direction,
		Currency:  valueobject.Currency(m.Currency),
		Amount:    m.Amount,
		PaidAt:    m.PaidAt,
		Reference: m.Reference,
		Version:   m.Version,
	}
}

// PaymentModelFromDomain creates a new persistence model from a domain Payment.
func PaymentModelFromDomain(p *ledger.Payment) *PaymentModel {
	m := &PaymentModel{
		Number:    p.Number,
		PayerID:   p.PayerID,
		PayeeID:   p.PayeeID,
		Direction: p.Direction,
		Currency:  p.Currency.String(),
		Amount:    p.Amount,
		PaidAt:    p.PaidAt,
		Reference: p.Reference,
	}
	m.ID = uuid.UUID(p.ID)
	m.TeamID = p.TeamID
	m.Version = p.Version
	return m
}

// CreditNoteModel is the persistence model for credit notes. InvoiceID is
// null while the note is detached.
type CreditNoteModel struct {
	TeamModel
	Number         string           `gorm:"type:varchar(50);not null;index"`
	Direction      ledger.Direction `gorm:"type:varchar(20);not null"`
	Currency       string           `gorm:"type:varchar(3);not null"`
	SubtotalAmount decimal.Decimal  `gorm:"type:decimal(18,4);not null"`
	VATAmount      decimal.Decimal  `gorm:"column:vat_amount;type:decimal(18,4);not null"`
	TotalAmount    decimal.Decimal  `gorm:"type:decimal(18,4);not null"`
	InvoiceID      *uuid.UUID       `gorm:"type:uuid;index"`
	IssuedAt       time.Time        `gorm:"not null"`
	Reason         string           `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (CreditNoteModel) TableName() string {
	return "credit_notes"
}

// ToDomain converts the persistence model to a domain CreditNote.
func (m *CreditNoteModel) ToDomain() *ledger.CreditNote {
	cn := &ledger.CreditNote{
		ID:             ledger.CreditNoteID(m.ID),
		TeamID:         m.TeamID,
		Number:         m.Number,
		Direction:      m.Direction,
		Currency:       valueobject.Currency(m.Currency),
		SubtotalAmount: m.SubtotalAmount,
		VATAmount:      m.VATAmount,
		TotalAmount:    m.TotalAmount,
		IssuedAt:       m.IssuedAt,
		Reason:         m.Reason,
		Version:        m.Version,
	}
	if m.InvoiceID != nil {
		id := ledger.InvoiceID(*m.InvoiceID)
		cn.InvoiceID = &id
	}
	return cn
}

// CreditNoteModelFromDomain creates a new persistence model from a domain CreditNote.
func CreditNoteModelFromDomain(cn *ledger.CreditNote) *CreditNoteModel {
	m := &CreditNoteModel{
		Number:         cn.Number,
		Direction:      cn.Direction,
		Currency:       cn.Currency.String(),
		SubtotalAmount: cn.SubtotalAmount,
		VATAmount:      cn.VATAmount,
		TotalAmount:    cn.TotalAmount,
		IssuedAt:       cn.IssuedAt,
		Reason:         cn.Reason,
	}
	m.ID = uuid.UUID(cn.ID)
	m.TeamID = cn.TeamID
	m.Version = cn.Version
	if cn.InvoiceID != nil {
		id := uuid.UUID(*cn.InvoiceID)
		m.InvoiceID = &id
	}
	return m
}

// AllocationModel is the persistence model for both allocation kinds.
// Source and target are polymorphic, so no foreign keys are declared.
type AllocationModel struct {
	BaseModel
	TeamID     uuid.UUID             `gorm:"type:uuid;not null;index"`
	Kind       ledger.AllocationKind `gorm:"type:varchar(40);not null;index"`
	SourceKind ledger.EntityKind     `gorm:"type:varchar(30);not null"`
	SourceID   uuid.UUID             `gorm:"type:uuid;not null;index"`
	TargetKind ledger.EntityKind     `gorm:"type:varchar(30);not null"`
	TargetID   uuid.UUID             `gorm:"type:uuid;not null;index"`
	Amount     decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	Currency   string                `gorm:"type:varchar(3);not null"`
	Remark     string                `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (AllocationModel) TableName() string {
	return "allocations"
}

// ToDomain converts the persistence model to a domain Allocation.
func (m *AllocationModel) ToDomain() *ledger.Allocation {
	return &ledger.Allocation{
		ID:         ledger.AllocationID(m.ID),
		TeamID:     m.TeamID,
		Kind:       m.Kind,
		SourceKind: m.SourceKind,
		SourceID:   m.SourceID,
		TargetKind: m.TargetKind,
		TargetID:   m.TargetID,
		Amount:     m.Amount,
		Currency:   valueobject.Currency(m.Currency),
		Remark:     m.Remark,
		CreatedAt:  m.CreatedAt,
	}
}

// AllocationModelFromDomain creates a new persistence model from a domain Allocation.
func AllocationModelFromDomain(a *ledger.Allocation) *AllocationModel {
	m := &AllocationModel{
		TeamID:     a.TeamID,
		Kind:       a.Kind,
		SourceKind: a.SourceKind,
		SourceID:   a.SourceID,
		TargetKind: a.TargetKind,
		TargetID:   a.TargetID,
		Amount:     a.Amount,
		Currency:   a.Currency.String(),
		Remark:     a.Remark,
	}
	m.ID = uuid.UUID(a.ID)
	m.CreatedAt = a.CreatedAt
	return m
}

// LedgerModels lists every model owned by the ledger, in creation order
func LedgerModels() []any {
	return []any{&InvoiceModel{}, &PaymentModel{}, &CreditNoteModel{}, &AllocationModel{}}
}
