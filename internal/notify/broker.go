package notify

import (
	"context"
	"time"
)

// EventKind describes a change to the recording index.
type EventKind string

const (
	Saved   EventKind = "saved"
	Updated EventKind = "updated"
	Deleted EventKind = "deleted"
)

// Event announces that the listed recordings changed.
type Event struct {
	Kind EventKind `json:"kind" msgpack:"kind"`
	IDs  []int64   `json:"ids" msgpack:"ids"`
	At   time.Time `json:"at" msgpack:"at"`
}

// Touches reports whether the event concerns id.
func (e Event) Touches(id int64) bool {
	for _, v := range e.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// Broker fans events out to subscribers. Delivery is best effort and events
// may be coalesced, so observers should re-read state on any event rather
// than apply events as deltas.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel closed when ctx is done or the broker closes.
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}
