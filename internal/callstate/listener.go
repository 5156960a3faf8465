package callstate

import (
	"log/slog"
	"sync"
	"time"
)

// Listener is the call state machine. It expects transitions in the order the
// carrier reported them and never reorders events.
type Listener struct {
	emit   func(CallEvent)
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	last      State
	number    string
	direction Direction
}

// NewListener creates a listener in the Idle state. emit is called synchronously
// for every event, in order.
func NewListener(emit func(CallEvent), logger *slog.Logger) *Listener {
	return &Listener{
		emit:   emit,
		logger: logger,
		now:    time.Now,
		last:   Idle,
	}
}

// OnCallStateChanged feeds one observed transition into the machine. number may
// be empty; the last non-empty number of the current call is kept.
func (l *Listener) OnCallStateChanged(state State, number string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.last
	if number != "" && !(prev == OffHook && state == Ringing) {
		l.number = number
	}

	if state == prev {
		return
	}

	switch {
	case prev == Idle && state == Ringing:
		l.direction = Incoming
		l.fire(IncomingReceived)

	case prev == Ringing && state == OffHook:
		l.direction = Incoming
		l.fire(IncomingAnswered)

	case prev == Idle && state == OffHook:
		l.direction = Outgoing
		l.fire(OutgoingStarted)

	case prev == OffHook && state == Idle:
		if l.direction == Outgoing {
			l.fire(OutgoingEnded)
		} else {
			l.fire(IncomingEnded)
		}
		l.reset()

	case prev == Ringing && state == Idle:
		l.fire(MissedCall)
		l.reset()

	case prev == OffHook && state == Ringing:
		// call waiting: the active call continues and stays OffHook
		l.logger.Debug("Ignoring ringing while off hook", "number", number)
		return

	default:
		l.logger.Warn("Ignoring unknown call state", "state", state.String())
		return
	}

	l.last = state
}

// State returns the last accepted state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *Listener) fire(kind Kind) {
	ev := CallEvent{
		Kind:        kind,
		PhoneNumber: l.number,
		Direction:   l.direction,
		At:          l.now(),
	}

	l.logger.Info("Call event",
		"kind", string(kind),
		"direction", string(ev.Direction),
		"number", ev.PhoneNumber)

	if l.emit != nil {
		l.emit(ev)
	}
}

func (l *Listener) reset() {
	l.number = ""
	l.direction = ""
}
