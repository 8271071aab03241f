package ledger

import (
	"github.com/erp/ledger/internal/domain/shared"
)

// Event type names
const (
	EventTypeLedgerDiffApplied  = "LedgerDiffApplied"
	EventTypeLedgerDiffReverted = "LedgerDiffReverted"
)

// subject type of ledger events
const subjectTypeDiff = "LedgerDiff"

// LedgerDiffAppliedEvent is raised after a diff was applied locally and
// written remotely
type LedgerDiffAppliedEvent struct {
	shared.BaseDomainEvent
	Diff *LedgerDiff `json:"diff"`
}

// EventType returns the event type name
func (e *LedgerDiffAppliedEvent) EventType() string {
	return EventTypeLedgerDiffApplied
}

// NewLedgerDiffAppliedEvent creates a new LedgerDiffAppliedEvent
func NewLedgerDiffAppliedEvent(d *LedgerDiff) *LedgerDiffAppliedEvent {
	return &LedgerDiffAppliedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeLedgerDiffApplied, subjectTypeDiff, d.ID, d.TeamID),
		Diff:            d,
	}
}

// LedgerDiffRevertedEvent is raised when a diff was rolled back because the
// remote write failed
type LedgerDiffRevertedEvent struct {
	shared.BaseDomainEvent
	Diff   *LedgerDiff `json:"diff"`
	Reason string      `json:"reason"`
}

// EventType returns the event type name
func (e *LedgerDiffRevertedEvent) EventType() string {
	return EventTypeLedgerDiffReverted
}

// NewLedgerDiffRevertedEvent creates a new LedgerDiffRevertedEvent. d is the
// inverse diff that was applied.
func NewLedgerDiffRevertedEvent(d *LedgerDiff, cause error) *LedgerDiffRevertedEvent {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return &LedgerDiffRevertedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeLedgerDiffReverted, subjectTypeDiff, d.ID, d.TeamID),
		Diff:            d,
		Reason:          reason,
	}
}
