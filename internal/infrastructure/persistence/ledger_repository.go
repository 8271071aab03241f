package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/erp/ledger/internal/infrastructure/persistence/models"
	"github.com/erp/ledger/internal/infrastructure/persistence/team"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedgerRepository implements ledger.LedgerRepository using GORM. It is
// the server side of the ledger: rows written here are authoritative and are
// read back by LoadTeam when a team is seeded.
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewGormLedgerRepository creates a new GormLedgerRepository
func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

var _ ledger.LedgerRepository = (*GormLedgerRepository)(nil)

// LoadTeam reads every document and allocation of a team
func (r *GormLedgerRepository) LoadTeam(ctx context.Context, teamID uuid.UUID) (*ledger.SeedInput, error) {
	db := func() *gorm.DB { return r.db.WithContext(ctx).Scopes(team.Scope(teamID)) }

	var invoices []models.InvoiceModel
	if err := db().Order("issued_at, number").Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	var payments []models.PaymentModel
	if err := db().Order("paid_at, number").Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	var creditNotes []models.CreditNoteModel
	if err := db().Order("issued_at, number").Find(&creditNotes).Error; err != nil {
		return nil, fmt.Errorf("failed to load credit notes: %w", err)
	}
	var allocations []models.AllocationModel
	if err := db().Order("created_at, id").Find(&allocations).Error; err != nil {
		return nil, fmt.Errorf("failed to load allocations: %w", err)
	}

	in := &ledger.SeedInput{
		TeamID:      teamID,
		Invoices:    make([]*ledger.Invoice, 0, len(invoices)),
		Payments:    make([]*ledger.Payment, 0, len(payments)),
		CreditNotes: make([]*ledger.CreditNote, 0, len(creditNotes)),
		Allocations: make([]*ledger.Allocation, 0, len(allocations)),
	}
	for i := range invoices {
		in.Invoices = append(in.Invoices, invoices[i].ToDomain())
	}
	for i := range payments {
		in.Payments = append(in.Payments, payments[i].ToDomain())
	}
	for i := range creditNotes {
		in.CreditNotes = append(in.CreditNotes, creditNotes[i].ToDomain())
	}
	for i := range allocations {
		in.Allocations = append(in.Allocations, allocations[i].ToDomain())
	}
	return in, nil
}

// CreateInvoiceWithAllocations creates the invoice and the payment
// allocations targeting it in one transaction
func (r *GormLedgerRepository) CreateInvoiceWithAllocations(ctx context.Context, inv *ledger.Invoice, requests []ledger.AllocationRequest) (*ledger.CreatedInvoice, error) {
	var created *ledger.CreatedInvoice
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := models.InvoiceModelFromDomain(inv)
		if model.ID == uuid.Nil {
			model.ID = uuid.New()
		}
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}
		created = &ledger.CreatedInvoice{Invoice: model.ToDomain()}

		for _, req := range requests {
			var payment models.PaymentModel
			if err := findInTeam(tx, &payment, model.TeamID, uuid.UUID(req.PaymentID)); err != nil {
				return fmt.Errorf("payment %s: %w", req.PaymentID, err)
			}
			a := ledger.NewPaymentAllocation(model.TeamID, req.PaymentID, ledger.InvoiceID(model.ID),
				req.Amount, payment.ToDomain().Currency)
			a, err := createAllocation(tx, a, req)
			if err != nil {
				return err
			}
			created.Allocations = append(created.Allocations, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreatePaymentWithAllocations creates the payment and the allocations
// sourced from it in one transaction
func (r *GormLedgerRepository) CreatePaymentWithAllocations(ctx context.Context, p *ledger.Payment, requests []ledger.AllocationRequest) (*ledger.CreatedPayment, error) {
	var created *ledger.CreatedPayment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := models.PaymentModelFromDomain(p)
		if model.ID == uuid.Nil {
			model.ID = uuid.New()
		}
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		created = &ledger.CreatedPayment{Payment: model.ToDomain()}

		for _, req := range requests {
			var invoice models.InvoiceModel
			if err := findInTeam(tx, &invoice, model.TeamID, uuid.UUID(req.InvoiceID)); err != nil {
				return fmt.Errorf("invoice %s: %w", req.InvoiceID, err)
			}
			a := ledger.NewPaymentAllocation(model.TeamID, ledger.PaymentID(model.ID), req.InvoiceID,
				req.Amount, created.Payment.Currency)
			a, err := createAllocation(tx, a, req)
			if err != nil {
				return err
			}
			created.Allocations = append(created.Allocations, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func findInTeam(tx *gorm.DB, dest any, teamID, id uuid.UUID) error {
	err := tx.Scopes(team.Scope(teamID)).First(dest, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound
	}
	return err
}

func createAllocation(tx *gorm.DB, a *ledger.Allocation, req ledger.AllocationRequest) (*ledger.Allocation, error) {
	if uuid.UUID(req.ID) != uuid.Nil {
		a.ID = req.ID
	}
	a.Remark = req.Remark
	model := models.AllocationModelFromDomain(a)
	if err := tx.Create(model).Error; err != nil {
		return nil, fmt.Errorf("failed to create allocation: %w", err)
	}
	return model.ToDomain(), nil
}

// CreateCreditNote creates a credit note
func (r *GormLedgerRepository) CreateCreditNote(ctx context.Context, cn *ledger.CreditNote) error {
	model := models.CreditNoteModelFromDomain(cn)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create credit note: %w", err)
	}
	return nil
}

// SaveAllocation inserts the allocation or updates its amount and remark
func (r *GormLedgerRepository) SaveAllocation(ctx context.Context, a *ledger.Allocation) error {
	model := models.AllocationModelFromDomain(a)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "remark", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to save allocation: %w", err)
	}
	return nil
}

// DeleteAllocation deletes one allocation row
func (r *GormLedgerRepository) DeleteAllocation(ctx context.Context, id ledger.AllocationID) error {
	result := r.db.WithContext(ctx).Delete(&models.AllocationModel{}, "id = ?", uuid.UUID(id))
	return affectedOne(result, "delete allocation")
}

// SetCreditNoteLink points a credit note at an invoice, or detaches it when invoiceID is nil
func (r *GormLedgerRepository) SetCreditNoteLink(ctx context.Context, id ledger.CreditNoteID, invoiceID *ledger.InvoiceID) error {
	var link *uuid.UUID
	if invoiceID != nil {
		v := uuid.UUID(*invoiceID)
		link = &v
	}
	result := r.db.WithContext(ctx).Model(&models.CreditNoteModel{}).
		Where("id = ?", uuid.UUID(id)).
		Updates(map[string]any{
			"invoice_id": link,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	return affectedOne(result, "update credit note link")
}

// UpdateInvoiceStatus persists an explicit status transition
func (r *GormLedgerRepository) UpdateInvoiceStatus(ctx context.Context, id ledger.InvoiceID, status ledger.InvoiceStatus) error {
	return r.updateInvoice(ctx, id, "status", status)
}

// UpdateInvoiceAttachment stores the object key of the invoice attachment
func (r *GormLedgerRepository) UpdateInvoiceAttachment(ctx context.Context, id ledger.InvoiceID, key string) error {
	return r.updateInvoice(ctx, id, "attachment_key", key)
}

func (r *GormLedgerRepository) updateInvoice(ctx context.Context, id ledger.InvoiceID, column string, value any) error {
	result := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Where("id = ?", uuid.UUID(id)).
		Updates(map[string]any{
			column:       value,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	return affectedOne(result, "update invoice "+column)
}

// DeleteInvoice deletes an invoice row. Allocations still touching the
// invoice are removed and linked credit notes are detached in the same
// transaction.
func (r *GormLedgerRepository) DeleteInvoice(ctx context.Context, id ledger.InvoiceID) error {
	invID := uuid.UUID(id)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("(source_kind = ? AND source_id = ?) OR (target_kind = ? AND target_id = ?)",
			ledger.KindInvoice, invID, ledger.KindInvoice, invID).
			Delete(&models.AllocationModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete invoice allocations: %w", err)
		}
		if err := tx.Model(&models.CreditNoteModel{}).Where("invoice_id = ?", invID).
			Update("invoice_id", nil).Error; err != nil {
			return fmt.Errorf("failed to detach credit notes: %w", err)
		}
		return affectedOne(tx.Delete(&models.InvoiceModel{}, "id = ?", invID), "delete invoice")
	})
}

// DeletePayment deletes a payment row and the allocations sourced from it
func (r *GormLedgerRepository) DeletePayment(ctx context.Context, id ledger.PaymentID) error {
	payID := uuid.UUID(id)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_kind = ? AND source_id = ?", ledger.KindPayment, payID).
			Delete(&models.AllocationModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete payment allocations: %w", err)
		}
		return affectedOne(tx.Delete(&models.PaymentModel{}, "id = ?", payID), "delete payment")
	})
}

// DeleteCreditNote deletes a credit note row
func (r *GormLedgerRepository) DeleteCreditNote(ctx context.Context, id ledger.CreditNoteID) error {
	result := r.db.WithContext(ctx).Delete(&models.CreditNoteModel{}, "id = ?", uuid.UUID(id))
	return affectedOne(result, "delete credit note")
}

// affectedOne turns a statement that touched no row into shared.ErrNotFound
func affectedOne(result *gorm.DB, action string) error {
	if result.Error != nil {
		return fmt.Errorf("failed to %s: %w", action, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("failed to %s: %w", action, shared.ErrNotFound)
	}
	return nil
}
