package ledger

import (
	"testing"

	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateInvoiceTotals(t *testing.T) {
	team := uuid.New()
	inv := &Invoice{ID: NewInvoiceID(), Currency: valueobject.EUR, SubtotalAmount: d("1000"), VATAmount: d("210"), TotalAmount: d("1210")}
	other := NewInvoiceID()
	pay := NewPaymentID()

	invID := inv.ID
	otherID := other
	allocations := []*Allocation{
		NewPaymentAllocation(team, pay, inv.ID, d("605"), valueobject.EUR),
		NewPaymentAllocation(team, pay, other, d("999"), valueobject.EUR),
		NewProductionOrderAllocation(team, inv.ID, NewProductionOrderID(), d("400"), valueobject.EUR),
		NewProductionOrderAllocation(team, inv.ID, NewProductionOrderID(), d("600"), valueobject.EUR),
	}
	credits := []*CreditNote{
		{ID: NewCreditNoteID(), SubtotalAmount: d("82.64"), VATAmount: d("17.36"), TotalAmount: d("100"), InvoiceID: &invID},
		{ID: NewCreditNoteID(), SubtotalAmount: d("50"), TotalAmount: d("50"), InvoiceID: &otherID},
		{ID: NewCreditNoteID(), SubtotalAmount: d("70"), TotalAmount: d("70")},
	}

	totals := CalculateInvoiceTotals(inv, allocations, credits)

	assert.True(t, totals.AmountPaid.Equal(d("605")))
	assert.True(t, totals.AmountCredited.Equal(d("82.64")))
	assert.True(t, totals.CreditedTotal.Equal(d("100")))
	assert.True(t, totals.AllocatedSubtotal.Equal(d("1000")))
	assert.True(t, totals.BalanceDue.Equal(d("505")))
	assert.True(t, totals.IsFullyAllocated)

	t.Run("paid plus credited plus balance equals total", func(t *testing.T) {
		sum := totals.AmountPaid.Add(totals.CreditedTotal).Add(totals.BalanceDue)
		assert.True(t, valueobject.EUR.ApproxEqual(sum, inv.TotalAmount))
	})

	t.Run("is idempotent", func(t *testing.T) {
		again := CalculateInvoiceTotals(inv, allocations, credits)
		assert.Equal(t, totals, again)
	})

	t.Run("empty sets give full balance", func(t *testing.T) {
		empty := CalculateInvoiceTotals(inv, nil, nil)
		assert.True(t, empty.BalanceDue.Equal(d("1210")))
		assert.True(t, empty.AmountPaid.IsZero())
		assert.False(t, empty.IsFullyAllocated)
	})
}

func TestIsFullyAllocatedTolerance(t *testing.T) {
	inv := &Invoice{ID: NewInvoiceID(), Currency: valueobject.EUR, SubtotalAmount: d("100"), TotalAmount: d("100")}
	order := NewProductionOrderID()

	tests := []struct {
		allocated string
		want      bool
	}{
		{"99.995", true},
		{"100.004", true},
		{"99.99", false},
		{"100.01", false},
	}
	for _, tt := range tests {
		t.Run(tt.allocated, func(t *testing.T) {
			a := NewProductionOrderAllocation(uuid.New(), inv.ID, order, d(tt.allocated), valueobject.EUR)
			totals := CalculateInvoiceTotals(inv, []*Allocation{a}, nil)
			assert.Equal(t, tt.want, totals.IsFullyAllocated)
		})
	}
}

func TestCalculatePaymentTotals(t *testing.T) {
	p := &Payment{ID: NewPaymentID(), Amount: d("1000"), Currency: valueobject.EUR}
	allocations := []*Allocation{
		NewPaymentAllocation(uuid.New(), p.ID, NewInvoiceID(), d("300"), valueobject.EUR),
		NewPaymentAllocation(uuid.New(), p.ID, NewInvoiceID(), d("250.50"), valueobject.EUR),
		NewPaymentAllocation(uuid.New(), NewPaymentID(), NewInvoiceID(), d("999"), valueobject.EUR),
	}

	totals := CalculatePaymentTotals(p, allocations)
	assert.True(t, totals.AmountAllocated.Equal(d("550.50")))
	assert.True(t, totals.AmountUnallocated.Equal(d("449.50")))
	assert.Equal(t, totals, CalculatePaymentTotals(p, allocations))
}

func TestExceeds(t *testing.T) {
	assert.True(t, exceeds(d("50"), d("30")))
	assert.False(t, exceeds(d("30"), d("30")))
	assert.True(t, exceeds(d("30.01"), d("30")))
	assert.False(t, exceeds(d("30"), d("30.004")))

	t.Run("document totals tolerate drift", func(t *testing.T) {
		assert.False(t, exceedsBeyondDrift(valueobject.EUR, d("30.004"), d("30")))
		assert.True(t, exceedsBeyondDrift(valueobject.EUR, d("30.01"), d("30")))
		assert.False(t, exceedsBeyondDrift(valueobject.JPY, d("100.5"), d("100")))
	})
}
