package eventstore

import (
	"encoding/json"
	"time"
)

// Event is an immutable fact appended to the store. Events are never
// updated or deleted after commit.
type Event struct {
	// InstanceID is the tenant the event belongs to.
	InstanceID string

	// AggregateType groups aggregates of the same kind (e.g. "user").
	AggregateType string

	// AggregateID identifies the aggregate within its type.
	AggregateID string

	// EventType is the fully qualified type of the event (e.g. "user.created").
	EventType string

	// AggregateVersion is 1-based and gapless per
	// (instance, aggregate type, aggregate id).
	AggregateVersion uint64

	// Revision is the schema version of the payload.
	Revision uint16

	// Payload is the opaque JSON document carried by the event. The store
	// never inspects it.
	Payload []byte

	// Creator is the actor that produced the event.
	Creator string

	// Owner is the resource owner of the aggregate.
	Owner string

	// CreatedAt is the statement timestamp at commit.
	CreatedAt time.Time

	// Position is the global position assigned at commit.
	Position Position
}

// UnmarshalPayload decodes the event payload into ptr. It is a
// convenience for reducers that know the payload schema of their event
// types.
func (e *Event) UnmarshalPayload(ptr any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, ptr)
}

// Command is an event-to-be. It carries everything an Event does except
// the attributes assigned at commit time (version, position, timestamp).
type Command struct {
	// InstanceID is the tenant the command targets. If empty, the
	// instance bound to the context (or the configured default) is used.
	InstanceID string

	// AggregateType of the target aggregate.
	AggregateType string

	// AggregateID of the target aggregate.
	AggregateID string

	// EventType of the resulting event.
	EventType string

	// Revision is the payload schema version.
	Revision uint16

	// Payload is the opaque JSON document, may be nil.
	Payload []byte

	// Creator is the acting user or service.
	Creator string

	// Owner is the resource owner of the aggregate.
	Owner string

	// UniqueConstraints are claimed or released atomically with the event.
	UniqueConstraints []*UniqueConstraint
}

// Validate reports whether the command is structurally complete. Pushes
// reject invalid commands before opening a transaction.
func (c *Command) Validate() error {
	switch {
	case c.InstanceID == "":
		return invalidArgument("command.Validate", "InstanceID", "must not be empty")
	case c.AggregateType == "":
		return invalidArgument("command.Validate", "AggregateType", "must not be empty")
	case c.AggregateID == "":
		return invalidArgument("command.Validate", "AggregateID", "must not be empty")
	case c.EventType == "":
		return invalidArgument("command.Validate", "EventType", "must not be empty")
	case c.Creator == "":
		return invalidArgument("command.Validate", "Creator", "must not be empty")
	case c.Owner == "":
		return invalidArgument("command.Validate", "Owner", "must not be empty")
	}
	return nil
}

// aggregateKey identifies an aggregate within the store.
type aggregateKey struct {
	instanceID    string
	aggregateType string
	aggregateID   string
}

func (c *Command) aggregateKey() aggregateKey {
	return aggregateKey{
		instanceID:    c.InstanceID,
		aggregateType: c.AggregateType,
		aggregateID:   c.AggregateID,
	}
}

// Aggregate is the derived identity of an event stream: its events in
// ascending version order plus the attributes of the latest event.
type Aggregate struct {
	ID         string
	Type       string
	InstanceID string
	Owner      string
	Version    uint64
	Position   Position
	Events     []Event
}
