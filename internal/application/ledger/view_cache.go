package ledger

import (
	"sort"
	"strings"
	"sync"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SortKey names the order a list cache keeps its entries in. A leading "-"
// reverses it.
type SortKey string

const (
	SortNone       SortKey = ""
	SortByDate     SortKey = "date"
	SortByNumber   SortKey = "number"
	SortByAmount   SortKey = "amount"
	SortByBalance  SortKey = "balance_due"
	SortByDateDesc SortKey = "-date"
)

// less returns the ordering function of the key, or nil when the key is
// unknown and new entries are appended.
func (k SortKey) less() func(a, b *LedgerView) bool {
	field := strings.TrimPrefix(string(k), "-")
	desc := strings.HasPrefix(string(k), "-")

	var less func(a, b *LedgerView) bool
	switch SortKey(field) {
	case SortByDate:
		less = func(a, b *LedgerView) bool { return a.Date.Before(b.Date) }
	case SortByNumber:
		less = func(a, b *LedgerView) bool { return a.Number < b.Number }
	case SortByAmount:
		less = func(a, b *LedgerView) bool { return a.Amount.LessThan(b.Amount) }
	case SortByBalance:
		less = func(a, b *LedgerView) bool { return balanceOf(a).LessThan(balanceOf(b)) }
	default:
		return nil
	}
	if desc {
		return func(a, b *LedgerView) bool { return less(b, a) }
	}
	return less
}

// insertHistory bounds how many diffs a cache remembers insertions for.
// Only diffs whose remote write is still pending can be inverted.
const insertHistory = 1024

// ViewCache is a client-held cache of LedgerViews of one shape. It is
// patched in place by the synchronizer and never refetched.
type ViewCache struct {
	name          string
	shape         Shape
	kinds         map[ledger.EntityKind]bool
	teamID        uuid.UUID
	sortKey       SortKey
	less          func(a, b *LedgerView) bool
	insertMissing bool

	mu      sync.RWMutex
	entries []*LedgerView
	index   map[ledger.EntityKey]int

	// entries a forward diff inserted, dropped again by its inverse
	inserted   map[uuid.UUID][]ledger.EntityKey
	insertedBy map[ledger.EntityKey]uuid.UUID
	insertLog  []uuid.UUID
}

// ViewCacheOption configures a ViewCache
type ViewCacheOption func(*ViewCache)

// WithKinds restricts the cache to the given entity kinds
func WithKinds(kinds ...ledger.EntityKind) ViewCacheOption {
	return func(c *ViewCache) {
		c.kinds = make(map[ledger.EntityKind]bool, len(kinds))
		for _, k := range kinds {
			c.kinds[k] = true
		}
	}
}

// WithTeam restricts the cache to one team
func WithTeam(teamID uuid.UUID) ViewCacheOption {
	return func(c *ViewCache) {
		c.teamID = teamID
	}
}

// WithSortKey keeps entries ordered by key. Unknown keys append.
func WithSortKey(key SortKey) ViewCacheOption {
	return func(c *ViewCache) {
		c.sortKey = key
		c.less = key.less()
	}
}

// WithInsertMissing controls whether entities the cache does not hold yet
// are inserted when a diff touches them. Detail caches usually only follow
// entries that were opened explicitly.
func WithInsertMissing(insert bool) ViewCacheOption {
	return func(c *ViewCache) {
		c.insertMissing = insert
	}
}

// NewViewCache creates a cache. By default it holds invoices, payments and
// credit notes of every team, appends new entries and inserts missing ones.
func NewViewCache(name string, shape Shape, opts ...ViewCacheOption) *ViewCache {
	c := &ViewCache{
		name:          name,
		shape:         shape,
		insertMissing: true,
		index:         make(map[ledger.EntityKey]int),
		inserted:      make(map[uuid.UUID][]ledger.EntityKey),
		insertedBy:    make(map[ledger.EntityKey]uuid.UUID),
	}
	WithKinds(ledger.KindInvoice, ledger.KindPayment, ledger.KindCreditNote)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the registry name of the cache
func (c *ViewCache) Name() string {
	return c.name
}

// Shape returns the shape of the entries
func (c *ViewCache) Shape() Shape {
	return c.shape
}

// SortKey returns the configured sort key
func (c *ViewCache) SortKey() SortKey {
	return c.sortKey
}

// Apply patches the cache with every affected entity of diff it is
// interested in and reports whether anything changed. An inverted diff never
// inserts; it drops the entries its forward diff inserted instead.
func (c *ViewCache) Apply(diff *ledger.LedgerDiff) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var undo map[ledger.EntityKey]bool
	if diff.Inverted {
		undo = c.takeInserted(diff.ID)
	}

	touched := false
	var added []ledger.EntityKey
	for _, a := range diff.Affected {
		if !c.kinds[a.Key.Kind] {
			continue
		}
		idx, present := c.index[a.Key]

		switch {
		case a.After == nil || (present && undo[a.Key]):
			if present {
				c.removeAt(idx)
				touched = true
			}
		case present:
			if !diff.Inverted {
				// a later diff that would have inserted the entry keeps it
				delete(c.insertedBy, a.Key)
			}
			prev := c.entries[idx]
			next := merge(prev, Project(a.Key, a.After, c.shape))
			if c.less == nil || (!c.less(prev, next) && !c.less(next, prev)) {
				c.entries[idx] = next
			} else {
				c.removeAt(idx)
				c.insert(next)
			}
			touched = true
		case !diff.Inverted && c.insertMissing && c.accepts(a.After):
			c.insert(Project(a.Key, a.After, c.shape))
			added = append(added, a.Key)
			touched = true
		}
	}
	if len(added) > 0 && diff.ID != uuid.Nil {
		c.rememberInserted(diff.ID, added)
	}
	return touched
}

func (c *ViewCache) rememberInserted(id uuid.UUID, keys []ledger.EntityKey) {
	if len(c.insertLog) == insertHistory {
		c.forgetInserted(c.insertLog[0])
		c.insertLog = c.insertLog[1:]
	}
	c.insertLog = append(c.insertLog, id)
	c.inserted[id] = keys
	for _, k := range keys {
		c.insertedBy[k] = id
	}
}

// takeInserted returns the keys id inserted that no later diff claimed
func (c *ViewCache) takeInserted(id uuid.UUID) map[ledger.EntityKey]bool {
	keys, ok := c.inserted[id]
	if !ok {
		return nil
	}
	out := make(map[ledger.EntityKey]bool, len(keys))
	for _, k := range keys {
		if c.insertedBy[k] == id {
			out[k] = true
		}
	}
	c.forgetInserted(id)
	for i, logged := range c.insertLog {
		if logged == id {
			c.insertLog = append(c.insertLog[:i], c.insertLog[i+1:]...)
			break
		}
	}
	return out
}

func (c *ViewCache) forgetInserted(id uuid.UUID) {
	for _, k := range c.inserted[id] {
		if c.insertedBy[k] == id {
			delete(c.insertedBy, k)
		}
	}
	delete(c.inserted, id)
}

// Put inserts or replaces a view directly, used to open detail entries
func (c *ViewCache) Put(v *LedgerView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.index[v.Key]; ok {
		c.removeAt(idx)
	}
	delete(c.insertedBy, v.Key)
	c.insert(v)
}

// Remove drops an entry, used to close detail entries
func (c *ViewCache) Remove(key ledger.EntityKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.index[key]
	if ok {
		c.removeAt(idx)
	}
	return ok
}

// Annotate attaches an owner-held value to an entry. Annotations survive
// every patch.
func (c *ViewCache) Annotate(key ledger.EntityKey, name, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.index[key]
	if !ok {
		return false
	}
	next := *c.entries[idx]
	next.Annotations = make(map[string]string, len(c.entries[idx].Annotations)+1)
	for k, v := range c.entries[idx].Annotations {
		next.Annotations[k] = v
	}
	next.Annotations[name] = value
	c.entries[idx] = &next
	return true
}

// Get returns the entry for key. Entries are replaced on every patch, so
// the returned view is never modified afterwards.
func (c *ViewCache) Get(key ledger.EntityKey) (*LedgerView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return c.entries[idx], true
}

// Entries returns the entries in cache order
func (c *ViewCache) Entries() []*LedgerView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*LedgerView, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of entries
func (c *ViewCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ViewCache) accepts(s *ledger.EntityState) bool {
	return c.teamID == uuid.Nil || s.TeamID() == c.teamID
}

// insert places v at its sort position, after entries that compare equal,
// or at the end when the cache is unsorted.
func (c *ViewCache) insert(v *LedgerView) {
	pos := len(c.entries)
	if c.less != nil {
		pos = sort.Search(len(c.entries), func(i int) bool {
			return c.less(v, c.entries[i])
		})
	}
	c.entries = append(c.entries, nil)
	copy(c.entries[pos+1:], c.entries[pos:])
	c.entries[pos] = v
	c.reindex(pos)
}

func (c *ViewCache) removeAt(idx int) {
	delete(c.index, c.entries[idx].Key)
	c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	c.reindex(idx)
}

func (c *ViewCache) reindex(from int) {
	for i := from; i < len(c.entries); i++ {
		c.index[c.entries[i].Key] = i
	}
}

func balanceOf(v *LedgerView) decimal.Decimal {
	if v.BalanceDue != nil {
		return *v.BalanceDue
	}
	if v.AmountUnallocated != nil {
		return *v.AmountUnallocated
	}
	return v.Amount
}
