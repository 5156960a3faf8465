package callstate

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

type step struct {
	state  State
	number string
}

func run(steps []step) []CallEvent {
	var events []CallEvent
	l := NewListener(func(ev CallEvent) { events = append(events, ev) }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	l.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	for _, s := range steps {
		l.OnCallStateChanged(s.state, s.number)
	}
	return events
}

func TestListenerTransitions(t *testing.T) {
	tests := []struct {
		name      string
		steps     []step
		kinds     []Kind
		direction []Direction
	}{
		{
			name:      "answered incoming call",
			steps:     []step{{Idle, ""}, {Ringing, "555"}, {OffHook, ""}, {Idle, ""}},
			kinds:     []Kind{IncomingReceived, IncomingAnswered, IncomingEnded},
			direction: []Direction{Incoming, Incoming, Incoming},
		},
		{
			name:      "missed call",
			steps:     []step{{Idle, ""}, {Ringing, "555"}, {Idle, ""}},
			kinds:     []Kind{IncomingReceived, MissedCall},
			direction: []Direction{Incoming, Incoming},
		},
		{
			name:      "outgoing call",
			steps:     []step{{Idle, ""}, {OffHook, "777"}, {Idle, ""}},
			kinds:     []Kind{OutgoingStarted, OutgoingEnded},
			direction: []Direction{Outgoing, Outgoing},
		},
		{
			name:      "repeated states are ignored",
			steps:     []step{{Ringing, "555"}, {Ringing, "555"}, {OffHook, ""}, {OffHook, ""}, {Idle, ""}, {Idle, ""}},
			kinds:     []Kind{IncomingReceived, IncomingAnswered, IncomingEnded},
			direction: []Direction{Incoming, Incoming, Incoming},
		},
		{
			name:      "call waiting keeps the active call",
			steps:     []step{{OffHook, "777"}, {Ringing, "888"}, {Idle, ""}},
			kinds:     []Kind{OutgoingStarted, OutgoingEnded},
			direction: []Direction{Outgoing, Outgoing},
		},
		{
			name:      "back to back calls",
			steps:     []step{{Ringing, "1"}, {Idle, ""}, {OffHook, "2"}, {Idle, ""}},
			kinds:     []Kind{IncomingReceived, MissedCall, OutgoingStarted, OutgoingEnded},
			direction: []Direction{Incoming, Incoming, Outgoing, Outgoing},
		},
		{
			name:  "unknown state is ignored",
			steps: []step{{State(9), "1"}},
			kinds: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := run(tt.steps)
			if len(events) != len(tt.kinds) {
				t.Fatalf("Expected %d events, got %d: %+v", len(tt.kinds), len(events), events)
			}
			for i, ev := range events {
				if ev.Kind != tt.kinds[i] {
					t.Errorf("Event %d: expected kind %s, got %s", i, tt.kinds[i], ev.Kind)
				}
				if ev.Direction != tt.direction[i] {
					t.Errorf("Event %d: expected direction %s, got %s", i, tt.direction[i], ev.Direction)
				}
			}
		})
	}
}

func TestListenerStartStopPairs(t *testing.T) {
	events := run([]step{{Idle, ""}, {Ringing, "555"}, {OffHook, ""}, {Idle, ""}})

	starts, stops := 0, 0
	for _, ev := range events {
		if ev.StartsRecording() {
			starts++
		}
		if ev.EndsRecording() {
			stops++
		}
	}
	if starts != 1 || stops != 1 {
		t.Errorf("Expected one start and one stop, got %d and %d", starts, stops)
	}

	missed := run([]step{{Idle, ""}, {Ringing, "555"}, {Idle, ""}})
	for _, ev := range missed {
		if ev.StartsRecording() || ev.EndsRecording() {
			t.Errorf("Missed call must not start or stop capture, got %s", ev.Kind)
		}
	}
}

func TestListenerKeepsLastNumber(t *testing.T) {
	events := run([]step{{Ringing, "555-0100"}, {OffHook, ""}, {Idle, ""}, {OffHook, ""}, {Idle, ""}})

	for i := 0; i < 3; i++ {
		if events[i].PhoneNumber != "555-0100" {
			t.Errorf("Event %d: expected number 555-0100, got %q", i, events[i].PhoneNumber)
		}
	}
	// the number is cleared when a call ends
	if events[3].PhoneNumber != "" {
		t.Errorf("Expected empty number on next call, got %q", events[3].PhoneNumber)
	}
}

func TestParseState(t *testing.T) {
	for _, s := range []State{Idle, Ringing, OffHook} {
		got, err := ParseState(s.String())
		if err != nil {
			t.Fatalf("ParseState(%q) failed: %v", s.String(), err)
		}
		if got != s {
			t.Errorf("Expected %v, got %v", s, got)
		}
	}
	if _, err := ParseState("busy"); err == nil {
		t.Error("Expected error for unknown state")
	}
	if State(3).Valid() {
		t.Error("Expected state 3 to be invalid")
	}
}

func TestListenerCallWaitingKeepsActiveNumber(t *testing.T) {
	events := run([]step{{OffHook, "777"}, {Ringing, "888"}, {Idle, ""}})
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[1].PhoneNumber != "777" {
		t.Errorf("Expected end event for 777, got %q", events[1].PhoneNumber)
	}
}
