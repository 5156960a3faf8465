package callstate

import (
	"fmt"
	"time"
)

// State is the carrier-reported call state. Values match the wire encoding.
type State uint8

const (
	Idle    State = 0x00
	Ringing State = 0x01
	OffHook State = 0x02
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ringing:
		return "ringing"
	case OffHook:
		return "offhook"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ParseState accepts the names returned by State.String.
func ParseState(s string) (State, error) {
	switch s {
	case "idle":
		return Idle, nil
	case "ringing":
		return Ringing, nil
	case "offhook":
		return OffHook, nil
	default:
		return 0, fmt.Errorf("unknown call state %q", s)
	}
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	return s <= OffHook
}

// Kind identifies a call lifecycle event.
type Kind string

const (
	MissedCall       Kind = "missed_call"
	IncomingReceived Kind = "incoming_received"
	IncomingAnswered Kind = "incoming_answered"
	OutgoingStarted  Kind = "outgoing_started"
	IncomingEnded    Kind = "incoming_ended"
	OutgoingEnded    Kind = "outgoing_ended"
)

// Direction of a call.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// CallEvent is an immutable call lifecycle event.
type CallEvent struct {
	Kind        Kind      `json:"kind"`
	PhoneNumber string    `json:"phone_number"`
	Direction   Direction `json:"direction"`
	At          time.Time `json:"at"`
}

// StartsRecording reports whether the event should start capture.
func (e CallEvent) StartsRecording() bool {
	return e.Kind == IncomingAnswered || e.Kind == OutgoingStarted
}

// EndsRecording reports whether the event should stop capture.
func (e CallEvent) EndsRecording() bool {
	return e.Kind == IncomingEnded || e.Kind == OutgoingEnded
}

// RecordingJob is a capture in progress. It is owned by the recorder until
// handed to storage on stop.
type RecordingJob struct {
	ID        string    `json:"id"`
	Event     CallEvent `json:"event"`
	StartedAt time.Time `json:"started_at"`
	SavePath  string    `json:"save_path"`
}
