// Package messaging defines the out-of-process event bridge: committed
// event batches republished to an external broker for consumers living
// outside the writer process. The bridge is best-effort by contract; the
// store's correctness never depends on it.
package messaging

import (
	"context"
	"time"
)

// Message is the wire shape of one committed event.
type Message struct {
	// ID is a broker-level message id, unique per publication.
	ID string `json:"id"`

	InstanceID       string    `json:"instance_id"`
	AggregateType    string    `json:"aggregate_type"`
	AggregateID      string    `json:"aggregate_id"`
	EventType        string    `json:"event_type"`
	AggregateVersion uint64    `json:"aggregate_version"`
	Revision         uint16    `json:"revision"`
	Creator          string    `json:"creator"`
	Owner            string    `json:"owner"`
	CreatedAt        time.Time `json:"created_at"`

	// Position is the decimal global position rendered as a string with
	// the in-transaction order after the final dot.
	Position string `json:"position"`

	// Payload is the opaque event payload, may be nil.
	Payload []byte `json:"payload,omitempty"`
}

// EventBus publishes committed event batches to an external broker.
type EventBus interface {
	// Publish delivers the batch. Implementations should preserve the
	// batch order.
	Publish(ctx context.Context, messages []Message) error

	// Close releases broker resources.
	Close() error
}
