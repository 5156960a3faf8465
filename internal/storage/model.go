package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/jnkforks/CallRecorder/internal/callstate"
)

// ErrNotFound is returned when a recording id does not exist.
var ErrNotFound = errors.New("recording not found")

// Recording is one row of the index.
type Recording struct {
	ID             int64               `json:"id"`
	Name           string              `json:"name"`
	Number         string              `json:"number"`
	StartInstant   time.Time           `json:"start_instant"`
	Duration       time.Duration       `json:"duration"`
	Direction      callstate.Direction `json:"direction"`
	SavePath       string              `json:"save_path"`
	SaveFormat     string              `json:"save_format"`
	IsStarred      bool                `json:"is_starred"`
	SkipAutoDelete bool                `json:"skip_auto_delete"`
}

// UnknownName is the display name used when a number has no contact.
func UnknownName(number string) string {
	return "Unknown (" + number + ")"
}

// Filter selects a subset of the recording list.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterIncoming Filter = "incoming"
	FilterOutgoing Filter = "outgoing"
	FilterStarred  Filter = "starred"
)

// ParseFilter validates s; empty means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterIncoming, FilterOutgoing, FilterStarred:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

// Match reports whether rec passes the filter.
func (f Filter) Match(rec Recording) bool {
	switch f {
	case FilterIncoming:
		return rec.Direction == callstate.Incoming
	case FilterOutgoing:
		return rec.Direction == callstate.Outgoing
	case FilterStarred:
		return rec.IsStarred
	default:
		return true
	}
}

// Apply returns the recordings matching f, keeping their order.
func (f Filter) Apply(list []Recording) []Recording {
	if f == FilterAll || f == "" {
		return list
	}
	out := make([]Recording, 0, len(list))
	for _, rec := range list {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}
