package ledger

import (
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

// InvoiceTotals are the derived amounts of an invoice. They are never
// stored; the calculator recomputes them from the allocation set.
type InvoiceTotals struct {
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	AmountCredited    decimal.Decimal `json:"amount_credited"`
	CreditedTotal     decimal.Decimal `json:"credited_total"`
	AllocatedSubtotal decimal.Decimal `json:"allocated_subtotal"`
	BalanceDue        decimal.Decimal `json:"balance_due"`
	IsFullyAllocated  bool            `json:"is_fully_allocated"`
}

// PaymentTotals are the derived amounts of a payment
type PaymentTotals struct {
	AmountAllocated   decimal.Decimal `json:"amount_allocated"`
	AmountUnallocated decimal.Decimal `json:"amount_unallocated"`
}

// CalculateInvoiceTotals derives the totals of inv. allocations may contain
// both payment allocations targeting inv and production order allocations
// sourced from it; anything else is ignored, as are credit notes linked to a
// different invoice. The function is pure.
func CalculateInvoiceTotals(inv *Invoice, allocations []*Allocation, creditNotes []*CreditNote) InvoiceTotals {
	paid := decimal.Zero
	allocatedSubtotal := decimal.Zero
	for _, a := range allocations {
		switch {
		case a.Kind == AllocationKindPayment && a.TargetID == inv.ID.uuid():
			paid = paid.Add(a.Amount)
		case a.Kind == AllocationKindProductionOrder && a.SourceID == inv.ID.uuid():
			allocatedSubtotal = allocatedSubtotal.Add(a.Amount)
		}
	}

	credited := decimal.Zero
	creditedTotal := decimal.Zero
	for _, cn := range creditNotes {
		if cn.InvoiceID == nil || *cn.InvoiceID != inv.ID {
			continue
		}
		credited = credited.Add(cn.SubtotalAmount)
		creditedTotal = creditedTotal.Add(cn.TotalAmount)
	}

	return InvoiceTotals{
		AmountPaid:        paid,
		AmountCredited:    credited,
		CreditedTotal:     creditedTotal,
		AllocatedSubtotal: allocatedSubtotal,
		BalanceDue:        inv.TotalAmount.Sub(paid).Sub(creditedTotal),
		IsFullyAllocated:  inv.Currency.ApproxEqual(allocatedSubtotal, inv.SubtotalAmount),
	}
}

// CalculatePaymentTotals derives the totals of p from the allocations sourced
// from it.
func CalculatePaymentTotals(p *Payment, allocations []*Allocation) PaymentTotals {
	allocated := decimal.Zero
	for _, a := range allocations {
		if a.Kind == AllocationKindPayment && a.SourceID == p.ID.uuid() {
			allocated = allocated.Add(a.Amount)
		}
	}
	return PaymentTotals{
		AmountAllocated:   allocated,
		AmountUnallocated: p.Amount.Sub(allocated),
	}
}

// IsSettled reports whether nothing is left to pay, within one minor unit.
// An overpaid invoice is settled too.
func (t InvoiceTotals) IsSettled(currency valueobject.Currency) bool {
	return t.BalanceDue.LessThan(currency.Epsilon())
}

// exceeds reports whether an allocation amount is larger than capacity.
// Allocation amounts are on the minor unit grid, so the comparison is exact.
func exceeds(amount, capacity decimal.Decimal) bool {
	return amount.GreaterThan(capacity)
}

// exceedsBeyondDrift compares whole document totals, which may carry
// rounding drift below one minor unit.
func exceedsBeyondDrift(currency valueobject.Currency, amount, capacity decimal.Decimal) bool {
	return amount.GreaterThan(capacity) && !currency.ApproxEqual(amount, capacity)
}
