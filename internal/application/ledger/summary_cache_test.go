package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryCache_TracksOutstandingBalance(t *testing.T) {
	team := uuid.New()
	summary := NewSummaryCache("summary", team)
	synchronizer := NewSynchronizer(nil)
	require.NoError(t, synchronizer.Register(summary))
	engine := ledger.NewEngine(ledger.NewStore(), ledger.WithDiffSink(synchronizer))

	inv, err := ledger.NewInvoice(ledger.InvoiceParams{
		TeamID:         team,
		Number:         "INV-1",
		Direction:      ledger.DirectionPayable,
		Currency:       valueobject.EUR,
		SubtotalAmount: dec("1000"),
		VATAmount:      dec("210"),
		Status:         ledger.InvoiceStatusReceived,
	})
	require.NoError(t, err)
	_, err = engine.RegisterInvoice(inv)
	require.NoError(t, err)

	p, err := ledger.NewPayment(ledger.PaymentParams{
		TeamID:    team,
		Number:    "PAY-1",
		Direction: ledger.DirectionPayable,
		Currency:  valueobject.EUR,
		Amount:    dec("700"),
	})
	require.NoError(t, err)
	_, err = engine.RegisterPayment(p)
	require.NoError(t, err)

	row, ok := summary.Row(ledger.DirectionPayable, valueobject.EUR)
	require.True(t, ok)
	assert.True(t, row.OutstandingBalance.Equal(dec("1210")))
	assert.True(t, row.UnallocatedPayments.Equal(dec("700")))
	assert.Equal(t, 1, row.OpenInvoices)

	before, err := json.Marshal(summary.Rows())
	require.NoError(t, err)

	diff, err := engine.CreateAllocation(ledger.AllocationRequest{PaymentID: p.ID, InvoiceID: inv.ID, Amount: dec("605")})
	require.NoError(t, err)
	row, _ = summary.Row(ledger.DirectionPayable, valueobject.EUR)
	assert.True(t, row.OutstandingBalance.Equal(dec("605")))
	assert.True(t, row.UnallocatedPayments.Equal(dec("95")))

	engine.Revert(diff)
	after, err := json.Marshal(summary.Rows())
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))

	_, err = engine.VoidInvoice(inv.ID)
	require.NoError(t, err)
	row, _ = summary.Row(ledger.DirectionPayable, valueobject.EUR)
	assert.True(t, row.OutstandingBalance.IsZero(), "void invoices do not count")
	assert.Equal(t, 0, row.OpenInvoices)
}

func TestSummaryCache_IgnoresOtherTeamsAndCreditNotes(t *testing.T) {
	summary := NewSummaryCache("summary", uuid.New())
	s := invoiceState(t, uuid.New(), "A", "10", time.Time{})
	assert.False(t, summary.Apply(created(s)))

	cn := &ledger.CreditNote{ID: ledger.NewCreditNoteID()}
	assert.False(t, summary.Apply(&ledger.LedgerDiff{Affected: []ledger.AffectedEntity{{
		Key: cn.Key(), After: &ledger.EntityState{CreditNote: cn},
	}}}))
	assert.Empty(t, summary.Rows())
}
