package event

import (
	"sync"

	"github.com/erp/ledger/internal/domain/shared"
)

// subscription is one typed Register call. Wildcard handlers live apart.
type subscription struct {
	handler shared.EventHandler
	types   map[string]struct{}
}

func (s subscription) matches(eventType string) bool {
	if len(s.types) == 0 {
		return false
	}
	_, ok := s.types[eventType]
	return ok
}

// HandlerRegistry keeps the handlers subscribed to the bus
type HandlerRegistry struct {
	mu       sync.RWMutex
	typed    []subscription
	wildcard []shared.EventHandler
}

// NewHandlerRegistry creates an empty registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{}
}

// Register subscribes handler to eventTypes, or to every event when none
// are given
func (r *HandlerRegistry) Register(handler shared.EventHandler, eventTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(eventTypes) == 0 {
		r.wildcard = append(r.wildcard, handler)
		return
	}
	types := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}
	r.typed = append(r.typed, subscription{handler: handler, types: types})
}

// Unregister drops every subscription of handler
func (r *HandlerRegistry) Unregister(handler shared.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	typed := r.typed[:0]
	for _, s := range r.typed {
		if s.handler != handler {
			typed = append(typed, s)
		}
	}
	r.typed = typed

	wildcard := r.wildcard[:0]
	for _, h := range r.wildcard {
		if h != handler {
			wildcard = append(wildcard, h)
		}
	}
	r.wildcard = wildcard
}

// GetHandlers returns the handlers subscribed to eventType in subscription
// order, followed by the wildcard handlers
func (r *HandlerRegistry) GetHandlers(eventType string) []shared.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]shared.EventHandler, 0, len(r.typed)+len(r.wildcard))
	for _, s := range r.typed {
		if s.matches(eventType) {
			out = append(out, s.handler)
		}
	}
	return append(out, r.wildcard...)
}

// Count returns the number of distinct handlers
func (r *HandlerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[shared.EventHandler]struct{}, len(r.typed)+len(r.wildcard))
	for _, s := range r.typed {
		seen[s.handler] = struct{}{}
	}
	for _, h := range r.wildcard {
		seen[h] = struct{}{}
	}
	return len(seen)
}
