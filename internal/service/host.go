package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jnkforks/CallRecorder/internal/callstate"
	"github.com/jnkforks/CallRecorder/internal/metrics"
	"github.com/jnkforks/CallRecorder/internal/prefs"
	"github.com/jnkforks/CallRecorder/internal/recording"
	"github.com/jnkforks/CallRecorder/internal/retention"
	"github.com/jnkforks/CallRecorder/internal/storage"
)

const (
	eventQueueSize         = 64
	defaultShutdownTimeout = 10 * time.Second
)

// CallRecorder is the part of recording.CallRecorder the host drives.
type CallRecorder interface {
	StartRecording(ctx context.Context, ev callstate.CallEvent) error
	StopRecording(ctx context.Context, ev callstate.CallEvent) (storage.Recording, error)
	ReleaseRecorder()
}

// Deps are the collaborators of a Host.
type Deps struct {
	Recorder        CallRecorder
	Prefs           *prefs.Store
	Sweeper         *retention.Sweeper
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	ShutdownTimeout time.Duration
}

// Host owns the call-state listener and applies its events in order on a
// single goroutine.
type Host struct {
	listener *callstate.Listener
	recorder CallRecorder
	prefs    *prefs.Store
	sweeper  *retention.Sweeper
	metrics  *metrics.Metrics
	logger   *slog.Logger

	shutdownTimeout time.Duration

	events chan callstate.CallEvent
	done   chan struct{}
	once   sync.Once
}

// NewHost creates a host. Run must be called to process events.
func NewHost(deps Deps) *Host {
	h := &Host{
		recorder:        deps.Recorder,
		prefs:           deps.Prefs,
		sweeper:         deps.Sweeper,
		metrics:         deps.Metrics,
		logger:          deps.Logger.With("component", "service"),
		shutdownTimeout: deps.ShutdownTimeout,
		events:          make(chan callstate.CallEvent, eventQueueSize),
		done:            make(chan struct{}),
	}
	if h.shutdownTimeout <= 0 {
		h.shutdownTimeout = defaultShutdownTimeout
	}
	h.listener = callstate.NewListener(h.enqueue, deps.Logger)
	return h
}

// OnCallStateChanged feeds a carrier signal to the listener. Calls must come
// from one goroutine in arrival order.
func (h *Host) OnCallStateChanged(state callstate.State, number string) {
	h.listener.OnCallStateChanged(state, number)
}

// CallState returns the listener's current state.
func (h *Host) CallState() callstate.State {
	return h.listener.State()
}

func (h *Host) enqueue(ev callstate.CallEvent) {
	h.metrics.RecordCallEvent(string(ev.Kind))
	select {
	case h.events <- ev:
	case <-h.done:
		h.logger.Warn("Host stopped, dropping call event", slog.String("kind", string(ev.Kind)))
	}
}

// Run processes call events until ctx is done. On return any capture still
// running has been stopped and saved.
func (h *Host) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if h.sweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.manageRetention(ctx)
		}()
	}

	h.logger.Info("Service host started")

	for {
		select {
		case <-ctx.Done():
			h.once.Do(func() { close(h.done) })
			h.shutdown()
			wg.Wait()
			h.logger.Info("Service host stopped")
			return nil
		case ev := <-h.events:
			h.handle(ctx, ev)
		}
	}
}

func (h *Host) handle(ctx context.Context, ev callstate.CallEvent) {
	switch {
	case ev.StartsRecording():
		if !h.prefs.Get().RecordingEnabled {
			h.logger.Info("Recording disabled, call not recorded",
				slog.String("kind", string(ev.Kind)),
				slog.String("number", ev.PhoneNumber),
			)
			return
		}
		if err := h.recorder.StartRecording(ctx, ev); err != nil {
			h.logger.Error("Failed to start recording",
				slog.String("kind", string(ev.Kind)),
				slog.String("number", ev.PhoneNumber),
				slog.String("error", err.Error()),
			)
		}

	case ev.EndsRecording():
		rec, err := h.recorder.StopRecording(ctx, ev)
		if err != nil {
			h.logger.Error("Failed to finish recording",
				slog.String("kind", string(ev.Kind)),
				slog.String("number", ev.PhoneNumber),
				slog.String("error", err.Error()),
			)
			return
		}
		if rec.ID != 0 {
			h.logger.Info("Call recorded",
				slog.Int64("id", rec.ID),
				slog.String("name", rec.Name),
				slog.Duration("duration", rec.Duration),
			)
		}

	default:
		h.logger.Debug("Call event", slog.String("kind", string(ev.Kind)), slog.String("number", ev.PhoneNumber))
	}
}

// shutdown applies queued events and saves a capture that is still running.
func (h *Host) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

drain:
	for {
		select {
		case ev := <-h.events:
			h.handle(ctx, ev)
		default:
			break drain
		}
	}

	rec, err := h.recorder.StopRecording(ctx, callstate.CallEvent{At: time.Now()})
	switch {
	case err != nil && !errors.Is(err, context.DeadlineExceeded):
		h.logger.Error("Failed to save recording on shutdown", slog.String("error", err.Error()))
	case err != nil:
		h.logger.Error("Timed out saving recording on shutdown")
	case rec.ID != 0:
		h.logger.Info("Recording saved on shutdown", slog.Int64("id", rec.ID))
	}
	h.recorder.ReleaseRecorder()
}

// manageRetention keeps one sweeper running while auto delete is enabled,
// restarting it when the retention changes.
func (h *Host) manageRetention(ctx context.Context) {
	var (
		cancel  context.CancelFunc
		wg      sync.WaitGroup
		running bool
		days    int
	)
	stop := func() {
		if cancel != nil {
			cancel()
			wg.Wait()
			cancel = nil
		}
		running = false
	}

	for s := range h.prefs.Subscribe(ctx) {
		if s.AutoDeleteEnabled == running && (!running || s.AutoDeleteAfterDays == days) {
			continue
		}
		stop()
		if !s.AutoDeleteEnabled {
			h.logger.Info("Auto delete disabled")
			continue
		}

		var sweepCtx context.Context
		sweepCtx, cancel = context.WithCancel(ctx)
		running, days = true, s.AutoDeleteAfterDays
		retentionPeriod := s.Retention()
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.sweeper.Run(sweepCtx, retentionPeriod)
		}()
	}
	stop()
}

var _ CallRecorder = (*recording.CallRecorder)(nil)
