package ledger

import (
	"sort"
	"sync"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SummaryRow aggregates one direction and currency
type SummaryRow struct {
	Direction           ledger.Direction     `json:"direction"`
	Currency            valueobject.Currency `json:"currency"`
	OutstandingBalance  decimal.Decimal      `json:"outstanding_balance"`
	OpenInvoices        int                  `json:"open_invoices"`
	UnallocatedPayments decimal.Decimal      `json:"unallocated_payments"`
}

func (r *SummaryRow) isEmpty() bool {
	return r.OpenInvoices == 0 && r.OutstandingBalance.IsZero() && r.UnallocatedPayments.IsZero()
}

type summaryKey struct {
	direction ledger.Direction
	currency  valueobject.Currency
}

// SummaryCache keeps outstanding balances per direction and currency. Void
// invoices never contribute. Each diff subtracts the before state and adds
// the after state, so an inverse diff restores the exact totals.
type SummaryCache struct {
	name   string
	teamID uuid.UUID

	mu   sync.RWMutex
	rows map[summaryKey]*SummaryRow
}

// NewSummaryCache creates a summary cache for one team, or every team when
// teamID is uuid.Nil
func NewSummaryCache(name string, teamID uuid.UUID) *SummaryCache {
	return &SummaryCache{
		name:   name,
		teamID: teamID,
		rows:   make(map[summaryKey]*SummaryRow),
	}
}

// SummaryCacheName is the registry name of the summary cache of a team
func SummaryCacheName(teamID uuid.UUID) string {
	return "summary:" + teamID.String()
}

// Name returns the registry name of the cache
func (c *SummaryCache) Name() string {
	return c.name
}

// TeamID returns the team the cache aggregates, uuid.Nil for every team
func (c *SummaryCache) TeamID() uuid.UUID {
	return c.teamID
}

// Apply folds the affected invoices and payments of diff into the totals
func (c *SummaryCache) Apply(diff *ledger.LedgerDiff) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	touched := false
	for _, a := range diff.Affected {
		if a.Key.Kind != ledger.KindInvoice && a.Key.Kind != ledger.KindPayment {
			continue
		}
		if c.add(a.Before, -1) {
			touched = true
		}
		if c.add(a.After, 1) {
			touched = true
		}
	}
	return touched
}

// Rows returns the non-empty rows ordered by direction and currency
func (c *SummaryCache) Rows() []SummaryRow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SummaryRow, 0, len(c.rows))
	for _, r := range c.rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Direction != out[j].Direction {
			return out[i].Direction < out[j].Direction
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

// Row returns the row of one direction and currency
func (c *SummaryCache) Row(direction ledger.Direction, currency valueobject.Currency) (SummaryRow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rows[summaryKey{direction, currency}]
	if !ok {
		return SummaryRow{}, false
	}
	return *r, true
}

// add folds state into the totals with the given sign. It reports whether
// the state was counted.
func (c *SummaryCache) add(s *ledger.EntityState, sign int64) bool {
	if s == nil || (c.teamID != uuid.Nil && s.TeamID() != c.teamID) {
		return false
	}
	factor := decimal.NewFromInt(sign)

	switch {
	case s.Invoice != nil:
		inv := s.Invoice
		if inv.IsVoid() || s.InvoiceTotals == nil {
			return false
		}
		row := c.row(inv.Direction, inv.Currency)
		row.OutstandingBalance = row.OutstandingBalance.Add(s.InvoiceTotals.BalanceDue.Mul(factor))
		if inv.Status != ledger.InvoiceStatusPaid {
			row.OpenInvoices += int(sign)
		}
		c.prune(inv.Direction, inv.Currency)
		return true
	case s.Payment != nil:
		p := s.Payment
		if s.PaymentTotals == nil {
			return false
		}
		row := c.row(p.Direction, p.Currency)
		row.UnallocatedPayments = row.UnallocatedPayments.Add(s.PaymentTotals.AmountUnallocated.Mul(factor))
		c.prune(p.Direction, p.Currency)
		return true
	}
	return false
}

func (c *SummaryCache) row(direction ledger.Direction, currency valueobject.Currency) *SummaryRow {
	k := summaryKey{direction, currency}
	r, ok := c.rows[k]
	if !ok {
		r = &SummaryRow{Direction: direction, Currency: currency}
		c.rows[k] = r
	}
	return r
}

func (c *SummaryCache) prune(direction ledger.Direction, currency valueobject.Currency) {
	k := summaryKey{direction, currency}
	if r, ok := c.rows[k]; ok && r.isEmpty() {
		delete(c.rows, k)
	}
}
