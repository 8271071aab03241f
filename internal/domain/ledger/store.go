package ledger

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store is the normalized in-memory ledger. Each document exists once and is
// shared by every view. Stored records are never mutated in place: writers
// replace the pointer, so a record returned by a getter is a stable snapshot.
type Store struct {
	mu          sync.RWMutex
	invoices    map[InvoiceID]*Invoice
	payments    map[PaymentID]*Payment
	creditNotes map[CreditNoteID]*CreditNote
	allocations map[AllocationID]*Allocation

	bySource         map[EntityKey]map[AllocationID]struct{}
	byTarget         map[EntityKey]map[AllocationID]struct{}
	creditsByInvoice map[InvoiceID]map[CreditNoteID]struct{}
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		invoices:         make(map[InvoiceID]*Invoice),
		payments:         make(map[PaymentID]*Payment),
		creditNotes:      make(map[CreditNoteID]*CreditNote),
		allocations:      make(map[AllocationID]*Allocation),
		bySource:         make(map[EntityKey]map[AllocationID]struct{}),
		byTarget:         make(map[EntityKey]map[AllocationID]struct{}),
		creditsByInvoice: make(map[InvoiceID]map[CreditNoteID]struct{}),
	}
}

// Invoice returns the invoice with the given id
func (s *Store) Invoice(id InvoiceID) (*Invoice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	return inv, ok
}

// Payment returns the payment with the given id
func (s *Store) Payment(id PaymentID) (*Payment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	return p, ok
}

// CreditNote returns the credit note with the given id
func (s *Store) CreditNote(id CreditNoteID) (*CreditNote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cn, ok := s.creditNotes[id]
	return cn, ok
}

// Allocation returns the allocation with the given id
func (s *Store) Allocation(id AllocationID) (*Allocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allocations[id]
	return a, ok
}

// Exists reports whether a document with the given key is stored
func (s *Store) Exists(key EntityKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch key.Kind {
	case KindInvoice:
		_, ok := s.invoices[InvoiceID(key.ID)]
		return ok
	case KindPayment:
		_, ok := s.payments[PaymentID(key.ID)]
		return ok
	case KindCreditNote:
		_, ok := s.creditNotes[CreditNoteID(key.ID)]
		return ok
	case KindAllocation:
		_, ok := s.allocations[AllocationID(key.ID)]
		return ok
	}
	return false
}

// AllocationsBySource returns the allocations whose source is key, oldest first
func (s *Store) AllocationsBySource(key EntityKey) []*Allocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.bySource[key])
}

// AllocationsByTarget returns the allocations whose target is key, oldest first
func (s *Store) AllocationsByTarget(key EntityKey) []*Allocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byTarget[key])
}

// InvoiceAllocations returns payment allocations targeting the invoice and
// production order allocations sourced from it.
func (s *Store) InvoiceAllocations(id InvoiceID) []*Allocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(map[AllocationID]struct{})
	for aid := range s.byTarget[id.Key()] {
		ids[aid] = struct{}{}
	}
	for aid := range s.bySource[id.Key()] {
		ids[aid] = struct{}{}
	}
	return s.collect(ids)
}

// CreditNotesByInvoice returns the credit notes linked to the invoice
func (s *Store) CreditNotesByInvoice(id InvoiceID) []*CreditNote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CreditNote, 0, len(s.creditsByInvoice[id]))
	for cid := range s.creditsByInvoice[id] {
		out = append(out, s.creditNotes[cid])
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return lessUUID(out[i].ID.uuid(), out[j].ID.uuid())
	})
	return out
}

// Invoices returns every invoice of the team ordered by issue date
func (s *Store) Invoices(teamID uuid.UUID) []*Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Invoice, 0)
	for _, inv := range s.invoices {
		if inv.TeamID == teamID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return lessUUID(out[i].ID.uuid(), out[j].ID.uuid())
	})
	return out
}

// Payments returns every payment of the team ordered by payment date
func (s *Store) Payments(teamID uuid.UUID) []*Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Payment, 0)
	for _, p := range s.payments {
		if p.TeamID == teamID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaidAt.Equal(out[j].PaidAt) {
			return out[i].PaidAt.Before(out[j].PaidAt)
		}
		return lessUUID(out[i].ID.uuid(), out[j].ID.uuid())
	})
	return out
}

// CreditNotes returns every credit note of the team ordered by issue date
func (s *Store) CreditNotes(teamID uuid.UUID) []*CreditNote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CreditNote, 0)
	for _, cn := range s.creditNotes {
		if cn.TeamID == teamID {
			out = append(out, cn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return lessUUID(out[i].ID.uuid(), out[j].ID.uuid())
	})
	return out
}

// PutInvoice inserts or replaces an invoice
func (s *Store) PutInvoice(inv *Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = inv
}

// PutPayment inserts or replaces a payment
func (s *Store) PutPayment(p *Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
}

// PutCreditNote inserts or replaces a credit note and keeps the invoice index
// in step with its link.
func (s *Store) PutCreditNote(cn *CreditNote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.creditNotes[cn.ID]; ok && old.InvoiceID != nil {
		s.unindexCredit(*old.InvoiceID, cn.ID)
	}
	s.creditNotes[cn.ID] = cn
	if cn.InvoiceID != nil {
		set, ok := s.creditsByInvoice[*cn.InvoiceID]
		if !ok {
			set = make(map[CreditNoteID]struct{})
			s.creditsByInvoice[*cn.InvoiceID] = set
		}
		set[cn.ID] = struct{}{}
	}
}

// PutAllocation inserts or replaces an allocation and its index entries
func (s *Store) PutAllocation(a *Allocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.allocations[a.ID]; ok {
		s.unindexAllocation(old)
	}
	s.allocations[a.ID] = a
	addIndex(s.bySource, a.SourceKey(), a.ID)
	addIndex(s.byTarget, a.TargetKey(), a.ID)
}

// DeleteAllocation removes an allocation
func (s *Store) DeleteAllocation(id AllocationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.allocations[id]; ok {
		s.unindexAllocation(old)
		delete(s.allocations, id)
	}
}

// DeleteInvoice removes an invoice
func (s *Store) DeleteInvoice(id InvoiceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.invoices, id)
}

// DeletePayment removes a payment
func (s *Store) DeletePayment(id PaymentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payments, id)
}

// DeleteCreditNote removes a credit note
func (s *Store) DeleteCreditNote(id CreditNoteID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.creditNotes[id]; ok {
		if old.InvoiceID != nil {
			s.unindexCredit(*old.InvoiceID, id)
		}
		delete(s.creditNotes, id)
	}
}

// Len returns the number of stored documents and allocations
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invoices) + len(s.payments) + len(s.creditNotes) + len(s.allocations)
}

func (s *Store) collect(ids map[AllocationID]struct{}) []*Allocation {
	out := make([]*Allocation, 0, len(ids))
	for id := range ids {
		out = append(out, s.allocations[id])
	}
	sortAllocations(out)
	return out
}

func (s *Store) unindexAllocation(a *Allocation) {
	removeIndex(s.bySource, a.SourceKey(), a.ID)
	removeIndex(s.byTarget, a.TargetKey(), a.ID)
}

func (s *Store) unindexCredit(invoiceID InvoiceID, id CreditNoteID) {
	set := s.creditsByInvoice[invoiceID]
	delete(set, id)
	if len(set) == 0 {
		delete(s.creditsByInvoice, invoiceID)
	}
}

func addIndex(idx map[EntityKey]map[AllocationID]struct{}, key EntityKey, id AllocationID) {
	set, ok := idx[key]
	if !ok {
		set = make(map[AllocationID]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeIndex(idx map[EntityKey]map[AllocationID]struct{}, key EntityKey, id AllocationID) {
	set := idx[key]
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func sortAllocations(as []*Allocation) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].CreatedAt.Before(as[j].CreatedAt)
		}
		return lessUUID(as[i].ID.uuid(), as[j].ID.uuid())
	})
}

func lessUUID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
