package ledger

import (
	"testing"
	"time"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoiceState(t *testing.T, team uuid.UUID, number, total string, issued time.Time) *ledger.EntityState {
	t.Helper()
	inv, err := ledger.NewInvoice(ledger.InvoiceParams{
		TeamID:         team,
		Number:         number,
		Direction:      ledger.DirectionReceivable,
		Currency:       valueobject.EUR,
		SubtotalAmount: dec(total),
		Status:         ledger.InvoiceStatusReceived,
		IssuedAt:       issued,
	})
	require.NoError(t, err)
	totals := ledger.CalculateInvoiceTotals(inv, nil, nil)
	return &ledger.EntityState{Invoice: inv, InvoiceTotals: &totals}
}

func created(s *ledger.EntityState) *ledger.LedgerDiff {
	return &ledger.LedgerDiff{
		ID:       uuid.New(),
		Op:       ledger.OpRegisterInvoice,
		Affected: []ledger.AffectedEntity{{Key: s.Invoice.Key(), After: s}},
	}
}

func numbers(c *ViewCache) []string {
	var out []string
	for _, v := range c.Entries() {
		out = append(out, v.Number)
	}
	return out
}

func TestViewCache_InsertAtSortPosition(t *testing.T) {
	team := uuid.New()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		key  SortKey
		want []string
	}{
		{"by number", SortByNumber, []string{"A", "B", "C"}},
		{"by date descending", SortByDateDesc, []string{"A", "C", "B"}},
		{"by amount", SortByAmount, []string{"B", "C", "A"}},
		{"unknown key appends", SortKey("customer"), []string{"C", "A", "B"}},
		{"no key appends", SortNone, []string{"C", "A", "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewViewCache("list", ShapeListRow, WithSortKey(tt.key))
			c.Apply(created(invoiceState(t, team, "C", "50", day(2))))
			c.Apply(created(invoiceState(t, team, "A", "90", day(3))))
			c.Apply(created(invoiceState(t, team, "B", "10", day(1))))
			assert.Equal(t, tt.want, numbers(c))
		})
	}
}

func TestViewCache_PatchMovesEntryWhenSortFieldChanges(t *testing.T) {
	team := uuid.New()
	c := NewViewCache("list", ShapeListRow, WithSortKey(SortByBalance))
	a := invoiceState(t, team, "A", "10", time.Time{})
	b := invoiceState(t, team, "B", "20", time.Time{})
	c.Apply(created(a))
	c.Apply(created(b))
	assert.Equal(t, []string{"A", "B"}, numbers(c))

	paid := *b.InvoiceTotals
	paid.AmountPaid = dec("15")
	paid.BalanceDue = dec("5")
	b2 := &ledger.EntityState{Invoice: b.Invoice, InvoiceTotals: &paid}
	touched := c.Apply(&ledger.LedgerDiff{
		ID:       uuid.New(),
		Affected: []ledger.AffectedEntity{{Key: b.Invoice.Key(), Before: b, After: b2}},
	})
	assert.True(t, touched)
	assert.Equal(t, []string{"B", "A"}, numbers(c))

	v, ok := c.Get(b.Invoice.Key())
	require.True(t, ok)
	assert.True(t, v.BalanceDue.Equal(dec("5")))
}

func TestViewCache_FiltersAndRemoval(t *testing.T) {
	team := uuid.New()
	c := NewViewCache("payments", ShapeListRow, WithKinds(ledger.KindPayment), WithTeam(team))

	inv := invoiceState(t, team, "A", "10", time.Time{})
	assert.False(t, c.Apply(created(inv)), "invoice kind is filtered out")

	p, err := ledger.NewPayment(ledger.PaymentParams{
		TeamID:    team,
		Number:    "P-1",
		Direction: ledger.DirectionReceivable,
		Currency:  valueobject.EUR,
		Amount:    dec("10"),
	})
	require.NoError(t, err)
	totals := ledger.CalculatePaymentTotals(p, nil)
	state := &ledger.EntityState{Payment: p, PaymentTotals: &totals}
	assert.True(t, c.Apply(&ledger.LedgerDiff{Affected: []ledger.AffectedEntity{{Key: p.Key(), After: state}}}))
	require.Equal(t, 1, c.Len())

	v, _ := c.Get(p.Key())
	assert.True(t, v.AmountUnallocated.Equal(dec("10")))
	assert.Nil(t, v.BalanceDue)
	assert.Nil(t, v.Detail)

	assert.True(t, c.Apply(&ledger.LedgerDiff{Affected: []ledger.AffectedEntity{{Key: p.Key(), Before: state}}}))
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Remove(p.Key()))
}

func TestViewCache_AnnotationsSurvivePatches(t *testing.T) {
	team := uuid.New()
	c := NewViewCache("detail", ShapeDetail, WithInsertMissing(false))
	s := invoiceState(t, team, "A", "10", time.Time{})

	assert.False(t, c.Apply(created(s)))
	c.Put(Project(s.Invoice.Key(), s, ShapeDetail))
	require.True(t, c.Annotate(s.Invoice.Key(), "note", "check VAT"))
	assert.False(t, c.Annotate(ledger.NewInvoiceID().Key(), "note", "x"))

	next := *s.Invoice
	next.AttachmentKey = "team/inv/scan.pdf"
	c.Apply(&ledger.LedgerDiff{Affected: []ledger.AffectedEntity{{
		Key:    s.Invoice.Key(),
		Before: s,
		After:  &ledger.EntityState{Invoice: &next, InvoiceTotals: s.InvoiceTotals},
	}}})

	v, ok := c.Get(s.Invoice.Key())
	require.True(t, ok)
	assert.Equal(t, "check VAT", v.Annotations["note"])
	assert.Equal(t, "team/inv/scan.pdf", v.Detail.AttachmentKey)
}

func TestProject_ListAndDetailShareCoreFields(t *testing.T) {
	s := invoiceState(t, uuid.New(), "A", "100", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	row := Project(s.Invoice.Key(), s, ShapeListRow)
	detail := Project(s.Invoice.Key(), s, ShapeDetail)

	assert.Equal(t, row.Key, detail.Key)
	assert.Equal(t, row.Number, detail.Number)
	assert.True(t, row.Amount.Equal(detail.Amount))
	assert.True(t, row.BalanceDue.Equal(*detail.BalanceDue))
	assert.Nil(t, row.Detail)
	require.NotNil(t, detail.Detail)
	require.NotNil(t, detail.Detail.IsFullyAllocated)
	assert.False(t, *detail.Detail.IsFullyAllocated)
}

// allocationFixture registers an invoice and two payments on an engine whose
// diffs do not reach the cache, so the cache starts without them.
func allocationFixture(t *testing.T, team uuid.UUID) (*ledger.Engine, *ledger.Invoice, *ledger.Payment, *ledger.Payment) {
	t.Helper()
	engine := ledger.NewEngine(ledger.NewStore())
	inv, err := ledger.NewInvoice(ledger.InvoiceParams{
		TeamID:         team,
		Number:         "INV-1",
		Direction:      ledger.DirectionPayable,
		Currency:       valueobject.EUR,
		SubtotalAmount: dec("100"),
		Status:         ledger.InvoiceStatusReceived,
	})
	require.NoError(t, err)
	_, err = engine.RegisterInvoice(inv)
	require.NoError(t, err)

	var payments []*ledger.Payment
	for _, number := range []string{"PAY-1", "PAY-2"} {
		p, err := ledger.NewPayment(ledger.PaymentParams{
			TeamID:    team,
			Number:    number,
			Direction: ledger.DirectionPayable,
			Currency:  valueobject.EUR,
			Amount:    dec("50"),
		})
		require.NoError(t, err)
		_, err = engine.RegisterPayment(p)
		require.NoError(t, err)
		payments = append(payments, p)
	}
	return engine, inv, payments[0], payments[1]
}

func TestViewCache_InverseDropsEntriesItsDiffInserted(t *testing.T) {
	team := uuid.New()
	engine, inv, p1, _ := allocationFixture(t, team)
	s := NewSynchronizer(nil)
	list := NewViewCache("list", ShapeListRow, WithSortKey(SortByNumber))
	require.NoError(t, s.Register(list))

	diff, err := engine.CreateAllocation(ledger.AllocationRequest{PaymentID: p1.ID, InvoiceID: inv.ID, Amount: dec("30")})
	require.NoError(t, err)

	s.ApplyDiff(diff)
	assert.Equal(t, []string{"INV-1", "PAY-1"}, numbers(list))

	s.ApplyInverse(diff)
	assert.Equal(t, 0, list.Len())
	assert.Empty(t, list.Entries())

	t.Run("inverse of an unknown diff inserts nothing", func(t *testing.T) {
		s.ApplyInverse(diff)
		assert.Equal(t, 0, list.Len())
	})
}

func TestViewCache_InverseKeepsEntriesLaterDiffsPatched(t *testing.T) {
	team := uuid.New()
	engine, inv, p1, p2 := allocationFixture(t, team)
	s := NewSynchronizer(nil)
	list := NewViewCache("list", ShapeListRow, WithSortKey(SortByNumber))
	require.NoError(t, s.Register(list))

	first, err := engine.CreateAllocation(ledger.AllocationRequest{PaymentID: p1.ID, InvoiceID: inv.ID, Amount: dec("30")})
	require.NoError(t, err)
	s.ApplyDiff(first)
	second, err := engine.CreateAllocation(ledger.AllocationRequest{PaymentID: p2.ID, InvoiceID: inv.ID, Amount: dec("20")})
	require.NoError(t, err)
	s.ApplyDiff(second)
	require.Equal(t, []string{"INV-1", "PAY-1", "PAY-2"}, numbers(list))

	s.ApplyDiff(engine.Revert(first))

	assert.Equal(t, []string{"INV-1", "PAY-2"}, numbers(list))
	row, ok := list.Get(inv.Key())
	require.True(t, ok)
	assert.True(t, row.BalanceDue.Equal(dec("80")))
	assert.Equal(t, string(ledger.InvoiceStatusPartiallyPaid), row.Status)
}
