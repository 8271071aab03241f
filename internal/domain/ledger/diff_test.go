package ledger

import (
	"testing"
	"time"

	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerDiffInvert(t *testing.T) {
	team := uuid.New()
	a := NewPaymentAllocation(team, NewPaymentID(), NewInvoiceID(), d("50"), valueobject.EUR)
	b := a.clone()
	b.Amount = d("70")
	invKey := a.TargetKey()
	payKey := a.SourceKey()
	before := &EntityState{Invoice: &Invoice{Status: InvoiceStatusReceived}}
	after := &EntityState{Invoice: &Invoice{Status: InvoiceStatusPartiallyPaid}}

	tests := []struct {
		name   string
		change *AllocationChange
		want   ChangeType
	}{
		{"added becomes removed", &AllocationChange{Type: ChangeAdded, After: a}, ChangeRemoved},
		{"removed becomes added", &AllocationChange{Type: ChangeRemoved, Before: a}, ChangeAdded},
		{"updated restores prior amount", &AllocationChange{Type: ChangeUpdated, Before: a, After: b}, ChangeUpdated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := &LedgerDiff{
				ID:         uuid.New(),
				TeamID:     team,
				Op:         OpUpdateAllocation,
				Allocation: tt.change,
				Affected: []AffectedEntity{
					{Key: payKey, Before: &EntityState{}, After: &EntityState{}},
					{Key: invKey, Before: before, After: after},
				},
			}

			inv := diff.Invert()
			assert.Equal(t, tt.want, inv.Allocation.Type)
			assert.Equal(t, tt.change.Before, inv.Allocation.After)
			assert.Equal(t, tt.change.After, inv.Allocation.Before)
			assert.True(t, inv.Inverted)
			assert.Equal(t, diff.ID, inv.ID)

			require.Len(t, inv.Affected, 2)
			assert.Equal(t, invKey, inv.Affected[0].Key)
			assert.Same(t, after, inv.Affected[0].Before)
			assert.Same(t, before, inv.Affected[0].After)

			twice := inv.Invert()
			assert.Equal(t, diff.Allocation, twice.Allocation)
			assert.Equal(t, diff.Affected, twice.Affected)
			assert.False(t, twice.Inverted)
		})
	}
}

func TestInvertCreditNoteLink(t *testing.T) {
	invID := NewInvoiceID()
	diff := &LedgerDiff{CreditNoteLink: &CreditNoteLinkChange{CreditNoteID: NewCreditNoteID(), After: &invID}}

	inv := diff.Invert()
	assert.Nil(t, inv.Allocation)
	assert.Nil(t, inv.CreditNoteLink.After)
	assert.Equal(t, invID, *inv.CreditNoteLink.Before)
}

func TestAffectedEntityFlags(t *testing.T) {
	s := &EntityState{}
	assert.True(t, AffectedEntity{After: s}.Created())
	assert.True(t, AffectedEntity{Before: s}.Deleted())
	assert.False(t, AffectedEntity{Before: s, After: s}.Created())
	assert.False(t, AffectedEntity{Before: s, After: s}.Deleted())
}

func TestKeyedLocker(t *testing.T) {
	l := NewKeyedLocker()
	k1, k2 := NewInvoiceID().Key(), NewPaymentID().Key()

	unlock := l.Lock(k2, k1, k1)
	assert.Equal(t, 2, l.size())

	acquired := make(chan struct{})
	go func() {
		release := l.Lock(k1)
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	default:
	}

	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return l.size() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStoreIndexes(t *testing.T) {
	s := NewStore()
	team := uuid.New()
	invID, otherID := NewInvoiceID(), NewInvoiceID()
	payID := NewPaymentID()

	a := NewPaymentAllocation(team, payID, invID, d("10"), valueobject.EUR)
	s.PutAllocation(a)
	assert.Len(t, s.AllocationsBySource(payID.Key()), 1)
	assert.Len(t, s.AllocationsByTarget(invID.Key()), 1)

	moved := a.clone()
	moved.TargetID = uuid.UUID(otherID)
	s.PutAllocation(moved)
	assert.Empty(t, s.AllocationsByTarget(invID.Key()))
	assert.Len(t, s.AllocationsByTarget(otherID.Key()), 1)

	s.DeleteAllocation(a.ID)
	assert.Empty(t, s.AllocationsBySource(payID.Key()))
	assert.False(t, s.Exists(a.ID.Key()))

	cn := &CreditNote{ID: NewCreditNoteID(), TeamID: team, InvoiceID: &invID}
	s.PutCreditNote(cn)
	assert.Len(t, s.CreditNotesByInvoice(invID), 1)
	relinked := cn.clone()
	relinked.InvoiceID = &otherID
	s.PutCreditNote(relinked)
	assert.Empty(t, s.CreditNotesByInvoice(invID))
	assert.Len(t, s.CreditNotesByInvoice(otherID), 1)
	s.DeleteCreditNote(cn.ID)
	assert.Empty(t, s.CreditNotesByInvoice(otherID))
	assert.Len(t, s.CreditNotes(team), 0)
}
