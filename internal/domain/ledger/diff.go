package ledger

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType describes what happened to an allocation
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeUpdated ChangeType = "updated"
	ChangeRemoved ChangeType = "removed"
)

// AllocationChange records an allocation before and after a mutation.
// Before is nil for an addition and After is nil for a removal.
type AllocationChange struct {
	Type   ChangeType  `json:"type"`
	Before *Allocation `json:"before,omitempty"`
	After  *Allocation `json:"after,omitempty"`
}

// AllocationID returns the id of the changed allocation
func (c *AllocationChange) AllocationID() AllocationID {
	if c.After != nil {
		return c.After.ID
	}
	return c.Before.ID
}

func (c *AllocationChange) invert() *AllocationChange {
	if c == nil {
		return nil
	}
	inv := &AllocationChange{Before: c.After, After: c.Before}
	switch c.Type {
	case ChangeAdded:
		inv.Type = ChangeRemoved
	case ChangeRemoved:
		inv.Type = ChangeAdded
	default:
		inv.Type = ChangeUpdated
	}
	return inv
}

// CreditNoteLinkChange records which invoice a credit note pointed at before
// and after a link or unlink.
type CreditNoteLinkChange struct {
	CreditNoteID CreditNoteID `json:"credit_note_id"`
	Before       *InvoiceID   `json:"before,omitempty"`
	After        *InvoiceID   `json:"after,omitempty"`
}

func (c *CreditNoteLinkChange) invert() *CreditNoteLinkChange {
	if c == nil {
		return nil
	}
	return &CreditNoteLinkChange{CreditNoteID: c.CreditNoteID, Before: c.After, After: c.Before}
}

// EntityState is a full snapshot of one document with its derived totals.
// Exactly one of Invoice, Payment and CreditNote is set.
type EntityState struct {
	Invoice       *Invoice       `json:"invoice,omitempty"`
	InvoiceTotals *InvoiceTotals `json:"invoice_totals,omitempty"`
	Payment       *Payment       `json:"payment,omitempty"`
	PaymentTotals *PaymentTotals `json:"payment_totals,omitempty"`
	CreditNote    *CreditNote    `json:"credit_note,omitempty"`
	Allocations   []*Allocation  `json:"allocations,omitempty"`
	CreditNoteIDs []CreditNoteID `json:"credit_note_ids,omitempty"`
}

// TeamID returns the owning team of the snapshot
func (s *EntityState) TeamID() uuid.UUID {
	switch {
	case s.Invoice != nil:
		return s.Invoice.TeamID
	case s.Payment != nil:
		return s.Payment.TeamID
	case s.CreditNote != nil:
		return s.CreditNote.TeamID
	}
	return uuid.Nil
}

// AffectedEntity is one entity touched by a diff. Before is nil when the
// entity was created and After is nil when it was deleted.
type AffectedEntity struct {
	Key    EntityKey    `json:"key"`
	Before *EntityState `json:"before,omitempty"`
	After  *EntityState `json:"after,omitempty"`
}

// Created reports whether the entity did not exist before the diff
func (a AffectedEntity) Created() bool {
	return a.Before == nil && a.After != nil
}

// Deleted reports whether the entity no longer exists after the diff
func (a AffectedEntity) Deleted() bool {
	return a.Before != nil && a.After == nil
}

// LedgerDiff is the single description of a committed mutation. Every cache
// patch and every rollback is derived from it.
type LedgerDiff struct {
	ID             uuid.UUID             `json:"id"`
	TeamID         uuid.UUID             `json:"team_id"`
	Op             string                `json:"op"`
	Allocation     *AllocationChange     `json:"allocation,omitempty"`
	CreditNoteLink *CreditNoteLinkChange `json:"credit_note_link,omitempty"`
	Affected       []AffectedEntity      `json:"affected"`
	Inverted       bool                  `json:"inverted"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Invert returns the structural inverse of d: additions become removals,
// updates restore the prior amount and every before/after pair is swapped.
// Applying d then Invert(d) leaves every touched entry as it was.
func (d *LedgerDiff) Invert() *LedgerDiff {
	inv := &LedgerDiff{
		ID:             d.ID,
		TeamID:         d.TeamID,
		Op:             d.Op,
		Allocation:     d.Allocation.invert(),
		CreditNoteLink: d.CreditNoteLink.invert(),
		Affected:       make([]AffectedEntity, len(d.Affected)),
		Inverted:       !d.Inverted,
		CreatedAt:      time.Now(),
	}
	// reverse order so that dependent entities are undone first
	for i, a := range d.Affected {
		inv.Affected[len(d.Affected)-1-i] = AffectedEntity{Key: a.Key, Before: a.After, After: a.Before}
	}
	return inv
}

// Keys returns the keys of all affected entities
func (d *LedgerDiff) Keys() []EntityKey {
	keys := make([]EntityKey, len(d.Affected))
	for i, a := range d.Affected {
		keys[i] = a.Key
	}
	return keys
}

// Touches reports whether the diff affects key
func (d *LedgerDiff) Touches(key EntityKey) bool {
	for _, a := range d.Affected {
		if a.Key == key {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the diff changes nothing
func (d *LedgerDiff) IsEmpty() bool {
	return d.Allocation == nil && d.CreditNoteLink == nil && len(d.Affected) == 0
}
