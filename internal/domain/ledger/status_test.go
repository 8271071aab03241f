package ledger

import (
	"testing"

	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name    string
		current InvoiceStatus
		paid    string
		balance string
		want    InvoiceStatus
	}{
		{"draft stays draft", InvoiceStatusDraft, "1210", "0", InvoiceStatusDraft},
		{"void stays void", InvoiceStatusVoid, "0", "1210", InvoiceStatusVoid},
		{"nothing paid", InvoiceStatusReceived, "0", "1210", InvoiceStatusReceived},
		{"half paid", InvoiceStatusReceived, "605", "605", InvoiceStatusPartiallyPaid},
		{"fully paid", InvoiceStatusPartiallyPaid, "1210", "0", InvoiceStatusPaid},
		{"paid within a cent", InvoiceStatusPartiallyPaid, "1209.995", "0.005", InvoiceStatusPaid},
		{"overpaid is paid", InvoiceStatusReceived, "1300", "-90", InvoiceStatusPaid},
		{"payment removed", InvoiceStatusPaid, "0", "1210", InvoiceStatusReceived},
		{"credited only", InvoiceStatusReceived, "0", "0", InvoiceStatusPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			totals := InvoiceTotals{AmountPaid: d(tt.paid), BalanceDue: d(tt.balance)}
			assert.Equal(t, tt.want, DeriveStatus(tt.current, valueobject.EUR, totals))
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(InvoiceStatusDraft, InvoiceStatusReceived))
	assert.False(t, CanTransition(InvoiceStatusReceived, InvoiceStatusReceived))
	assert.True(t, CanTransition(InvoiceStatusPaid, InvoiceStatusVoid))
	assert.True(t, CanTransition(InvoiceStatusDraft, InvoiceStatusVoid))
	assert.False(t, CanTransition(InvoiceStatusVoid, InvoiceStatusVoid))
	assert.False(t, CanTransition(InvoiceStatusReceived, InvoiceStatusPaid))
}
