package ledger

import (
	"sort"
	"sync"
)

// KeyedLocker hands out one mutex per entity key. Multi-key acquisitions are
// taken in sorted key order so two commands touching the same pair of
// entities cannot deadlock.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[EntityKey]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// NewKeyedLocker creates an empty locker
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[EntityKey]*refMutex)}
}

// Lock acquires the critical sections of all keys and returns the release
// function. Duplicate keys are ignored.
func (l *KeyedLocker) Lock(keys ...EntityKey) func() {
	ordered := sortedUnique(keys)
	held := make([]*refMutex, 0, len(ordered))
	for _, k := range ordered {
		m := l.acquire(k)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
			l.release(ordered[i])
		}
	}
}

func (l *KeyedLocker) acquire(k EntityKey) *refMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[k]
	if !ok {
		m = &refMutex{}
		l.locks[k] = m
	}
	m.refs++
	return m
}

func (l *KeyedLocker) release(k EntityKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.locks[k]
	m.refs--
	if m.refs == 0 {
		delete(l.locks, k)
	}
}

// size returns the number of live lock entries
func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func sortedUnique(keys []EntityKey) []EntityKey {
	seen := make(map[EntityKey]struct{}, len(keys))
	out := make([]EntityKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return lessUUID(out[i].ID, out[j].ID)
	})
	return out
}
