package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each one is published after the transaction that
// produced it has committed.
const (
	// Identity events
	EventIdentityCreated    EventType = "identity.created"
	EventIdentityLinked     EventType = "identity.linked"
	EventIdentityBackfilled EventType = "identity.backfilled"
	EventIdentityArchived   EventType = "identity.archived"

	// Merge events
	EventIdentityMerged   EventType = "identity.merged"
	EventIdentityUnmerged EventType = "identity.unmerged"

	// Conflict events
	EventConflictOpened   EventType = "conflict.opened"
	EventConflictResolved EventType = "conflict.resolved"

	// Reputation events
	EventReputationUpdated EventType = "reputation.updated"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Identity Events
// ═══════════════════════════════════════════════════════════════════════════

// IdentityCreatedEvent is emitted when the resolver creates a canonical identity.
type IdentityCreatedEvent struct {
	BaseEvent
	OrganizationID string `json:"organization_id"`
	ProfileID      string `json:"profile_id"`
}

// Payload implements Event interface.
func (e IdentityCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"organization_id": e.OrganizationID,
		"profile_id":      e.ProfileID,
	}
}

// NewIdentityCreatedEvent creates a new IdentityCreatedEvent.
func NewIdentityCreatedEvent(identityID string, ref ProfileRef) IdentityCreatedEvent {
	return IdentityCreatedEvent{
		BaseEvent:      NewBaseEvent(EventIdentityCreated, identityID),
		OrganizationID: ref.OrganizationID,
		ProfileID:      ref.ProfileID,
	}
}

// IdentityLinkedEvent is emitted when a profile is attached to an existing identity.
type IdentityLinkedEvent struct {
	BaseEvent
	OrganizationID string `json:"organization_id"`
	ProfileID      string `json:"profile_id"`
	Confidence     string `json:"confidence"`
}

// Payload implements Event interface.
func (e IdentityLinkedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"organization_id": e.OrganizationID,
		"profile_id":      e.ProfileID,
		"confidence":      e.Confidence,
	}
}

// NewIdentityLinkedEvent creates a new IdentityLinkedEvent.
func NewIdentityLinkedEvent(identityID string, ref ProfileRef, confidence string) IdentityLinkedEvent {
	return IdentityLinkedEvent{
		BaseEvent:      NewBaseEvent(EventIdentityLinked, identityID),
		OrganizationID: ref.OrganizationID,
		ProfileID:      ref.ProfileID,
		Confidence:     confidence,
	}
}

// IdentityArchivedEvent is emitted when an identity leaves the active set for good.
type IdentityArchivedEvent struct {
	BaseEvent
	Actor string `json:"actor"`
}

// Payload implements Event interface.
func (e IdentityArchivedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"actor": e.Actor}
}

// NewIdentityArchivedEvent creates a new IdentityArchivedEvent.
func NewIdentityArchivedEvent(identityID, actor string) IdentityArchivedEvent {
	return IdentityArchivedEvent{
		BaseEvent: NewBaseEvent(EventIdentityArchived, identityID),
		Actor:     actor,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Merge Events
// ═══════════════════════════════════════════════════════════════════════════

// IdentityMergedEvent is emitted after a merge commits. AggregateID is the survivor.
type IdentityMergedEvent struct {
	BaseEvent
	LoserID      string `json:"loser_id"`
	MergeAuditID string `json:"merge_audit_id"`
	MovedLinks   int    `json:"moved_links"`
}

// Payload implements Event interface.
func (e IdentityMergedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"loser_id":       e.LoserID,
		"merge_audit_id": e.MergeAuditID,
		"moved_links":    e.MovedLinks,
	}
}

// NewIdentityMergedEvent creates a new IdentityMergedEvent.
func NewIdentityMergedEvent(survivorID, loserID, auditID string, moved int) IdentityMergedEvent {
	return IdentityMergedEvent{
		BaseEvent:    NewBaseEvent(EventIdentityMerged, survivorID),
		LoserID:      loserID,
		MergeAuditID: auditID,
		MovedLinks:   moved,
	}
}

// IdentityUnmergedEvent is emitted after an unmerge commits. AggregateID is the restored identity.
type IdentityUnmergedEvent struct {
	BaseEvent
	SurvivorID       string `json:"survivor_id"`
	MergeAuditID     string `json:"merge_audit_id"`
	ReversingAuditID string `json:"reversing_audit_id"`
}

// Payload implements Event interface.
func (e IdentityUnmergedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"survivor_id":        e.SurvivorID,
		"merge_audit_id":     e.MergeAuditID,
		"reversing_audit_id": e.ReversingAuditID,
	}
}

// NewIdentityUnmergedEvent creates a new IdentityUnmergedEvent.
func NewIdentityUnmergedEvent(restoredID, survivorID, mergeAuditID, reversingAuditID string) IdentityUnmergedEvent {
	return IdentityUnmergedEvent{
		BaseEvent:        NewBaseEvent(EventIdentityUnmerged, restoredID),
		SurvivorID:       survivorID,
		MergeAuditID:     mergeAuditID,
		ReversingAuditID: reversingAuditID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Conflict Events
// ═══════════════════════════════════════════════════════════════════════════

// ConflictOpenedEvent is emitted when an ambiguous match is queued for review.
type ConflictOpenedEvent struct {
	BaseEvent
	IdentityA string `json:"identity_a"`
	IdentityB string `json:"identity_b,omitempty"`
	Field     string `json:"field"`
}

// Payload implements Event interface.
func (e ConflictOpenedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"identity_a": e.IdentityA,
		"identity_b": e.IdentityB,
		"field":      e.Field,
	}
}

// NewConflictOpenedEvent creates a new ConflictOpenedEvent.
func NewConflictOpenedEvent(conflictID, identityA, identityB, field string) ConflictOpenedEvent {
	return ConflictOpenedEvent{
		BaseEvent: NewBaseEvent(EventConflictOpened, conflictID),
		IdentityA: identityA,
		IdentityB: identityB,
		Field:     field,
	}
}

// ConflictResolvedEvent is emitted when a reviewer closes a conflict.
type ConflictResolvedEvent struct {
	BaseEvent
	Status     string `json:"status"`
	ResolvedBy string `json:"resolved_by"`
}

// Payload implements Event interface.
func (e ConflictResolvedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"status":      e.Status,
		"resolved_by": e.ResolvedBy,
	}
}

// NewConflictResolvedEvent creates a new ConflictResolvedEvent.
func NewConflictResolvedEvent(conflictID, status, resolvedBy string) ConflictResolvedEvent {
	return ConflictResolvedEvent{
		BaseEvent:  NewBaseEvent(EventConflictResolved, conflictID),
		Status:     status,
		ResolvedBy: resolvedBy,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Reputation Events
// ═══════════════════════════════════════════════════════════════════════════

// ReputationUpdatedEvent is emitted when the aggregator writes a new snapshot.
type ReputationUpdatedEvent struct {
	BaseEvent
	SnapshotID string  `json:"snapshot_id"`
	Composite  float64 `json:"composite"`
	Previous   float64 `json:"previous"`
}

// Payload implements Event interface.
func (e ReputationUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"snapshot_id": e.SnapshotID,
		"composite":   e.Composite,
		"previous":    e.Previous,
	}
}

// NewReputationUpdatedEvent creates a new ReputationUpdatedEvent.
func NewReputationUpdatedEvent(identityID, snapshotID string, composite, previous float64) ReputationUpdatedEvent {
	return ReputationUpdatedEvent{
		BaseEvent:  NewBaseEvent(EventReputationUpdated, identityID),
		SnapshotID: snapshotID,
		Composite:  composite,
		Previous:   previous,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope serializes an event payload into an envelope.
func NewEventEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	return env, nil
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
