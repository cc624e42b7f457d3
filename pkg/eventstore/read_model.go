package eventstore

import "time"

// Reducer folds events into a stateful accumulator. The engine streams
// matching events into AppendEvents in batches and calls Reduce after
// each batch, so implementations never hold the full result set.
type Reducer interface {
	// AppendEvents buffers events for the next Reduce.
	AppendEvents(events ...Event)

	// Reduce applies the buffered events and clears the buffer.
	Reduce() error
}

// ReadModel is the embeddable base state of a materialized view. Concrete
// read models embed it, override Reduce to fold their domain fields and
// call the embedded Reduce to keep the bookkeeping current.
type ReadModel struct {
	AggregateID   string
	AggregateType string
	InstanceID    string
	Owner         string

	// ProcessedSequence counts the events applied so far.
	ProcessedSequence uint64

	// Position is the position of the latest applied event.
	Position Position

	// CreationDate is taken from the first applied event.
	CreationDate time.Time

	// ChangeDate is taken from the latest applied event.
	ChangeDate time.Time

	// Events buffers appended, not yet reduced events.
	Events []Event
}

// AppendEvents implements Reducer.
func (rm *ReadModel) AppendEvents(events ...Event) {
	rm.Events = append(rm.Events, events...)
}

// Reduce folds the buffered events into the base state and clears the
// buffer. Embedding read models call it after handling their own fields.
func (rm *ReadModel) Reduce() error {
	for i := range rm.Events {
		event := &rm.Events[i]
		if rm.AggregateID == "" {
			rm.AggregateID = event.AggregateID
			rm.AggregateType = event.AggregateType
			rm.InstanceID = event.InstanceID
			rm.Owner = event.Owner
		}
		if rm.CreationDate.IsZero() {
			rm.CreationDate = event.CreatedAt
		}
		rm.ChangeDate = event.CreatedAt
		rm.ProcessedSequence++
		rm.Position = event.Position
	}
	rm.Events = rm.Events[:0]
	return nil
}

// Reset returns the base state to zero. Domain fields of embedding read
// models are left untouched; resetting those is the embedder's business.
func (rm *ReadModel) Reset() {
	*rm = ReadModel{}
}
