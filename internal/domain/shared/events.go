package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact published after the ledger changed. Events are
// delivered in process only; nothing is persisted.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	// SubjectID identifies what the event is about, e.g. a diff
	SubjectID() uuid.UUID
	SubjectType() string
	TeamID() uuid.UUID
}

// BaseDomainEvent carries the fields every ledger event shares
type BaseDomainEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Subject   uuid.UUID `json:"subject_id"`
	Kind      string    `json:"subject_type"`
	Team      uuid.UUID `json:"team_id"`
}

func (e *BaseDomainEvent) EventID() uuid.UUID    { return e.ID }
func (e *BaseDomainEvent) EventType() string     { return e.Type }
func (e *BaseDomainEvent) OccurredAt() time.Time { return e.Timestamp }
func (e *BaseDomainEvent) SubjectID() uuid.UUID  { return e.Subject }
func (e *BaseDomainEvent) SubjectType() string   { return e.Kind }
func (e *BaseDomainEvent) TeamID() uuid.UUID     { return e.Team }

// NewBaseDomainEvent stamps a new event with a fresh id and the current time
func NewBaseDomainEvent(eventType, subjectType string, subjectID, teamID uuid.UUID) BaseDomainEvent {
	return BaseDomainEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Subject:   subjectID,
		Kind:      subjectType,
		Team:      teamID,
	}
}

// EventHandler consumes events of the types it declares
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}

// EventPublisher is what the ledger service publishes through
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventBus routes published events to subscribed handlers. Subscribing
// without event types uses the handler's own EventTypes.
type EventBus interface {
	EventPublisher
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
