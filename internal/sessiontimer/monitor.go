package sessiontimer

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericfisherdev/hairscope-lab/internal/domain"
	"github.com/ericfisherdev/hairscope-lab/internal/storage"
)

// DefaultPollInterval is how often a Monitor re-reads the session.
const DefaultPollInterval = 500 * time.Millisecond

// EventKind classifies monitor events.
type EventKind string

const (
	// EventTick carries the current status of a valid session.
	EventTick EventKind = "tick"
	// EventExpired is sent once when the session is no longer valid.
	EventExpired EventKind = "expired"
	// EventReset is sent once when any window of the profile reset the session.
	EventReset EventKind = "reset"
)

// Event is a monitor observation.
type Event struct {
	At     time.Time            `json:"at"`
	Kind   EventKind            `json:"kind"`
	Status domain.SessionStatus `json:"status"`
}

// Monitor polls a Timer at a fixed interval while a lab view is open and
// reacts to change notices from sibling windows. It emits a final expired
// or reset event and stops on its own; Stop ends it early.
type Monitor struct {
	timer    *Timer
	interval time.Duration
	sub      *storage.Subscription
	events   chan Event
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	logger   *slog.Logger
}

// NewMonitor subscribes to the timer's profile channel and starts polling.
// The events channel is closed when the monitor stops.
func NewMonitor(ctx context.Context, timer *Timer, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	monitorCtx, cancel := context.WithCancel(ctx)
	m := &Monitor{
		timer:    timer,
		interval: interval,
		events:   make(chan Event, 1),
		ctx:      monitorCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   timer.logger,
	}

	sub, err := timer.Subscribe(monitorCtx)
	if err != nil {
		m.logger.Warn("Monitor running without change notices", "profile_id", timer.profileID, "error", err)
	} else {
		m.sub = sub
	}

	go m.run()
	return m
}

// Events returns the event stream.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Done is closed once the monitor goroutine has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Stop cancels the monitor and waits for it to exit.
func (m *Monitor) Stop() {
	m.cancel()
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)
	defer close(m.events)
	defer m.cancel()

	var changes <-chan storage.Change
	if m.sub != nil {
		changes = m.sub.C
		defer m.sub.Close()
	}

	ticker := m.timer.clock.NewTicker(m.interval)
	defer ticker.Stop()

	if !m.check() {
		return
	}

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-ticker.Chan():
			if !m.check() {
				return
			}

		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if change.Kind == storage.ChangeReset {
				m.logger.Debug("Session reset observed",
					"profile_id", m.timer.profileID,
					"window_id", m.timer.windowID,
					"origin", change.Origin,
				)
				m.emit(EventReset, m.timer.Status(m.ctx))
				return
			}
			if !m.check() {
				return
			}
		}
	}
}

// check emits a tick for a valid session or an expired event otherwise.
// It returns false once the monitor should stop.
func (m *Monitor) check() bool {
	status := m.timer.Status(m.ctx)
	if !status.IsValid || !status.IsStarted() {
		m.emit(EventExpired, status)
		return false
	}
	m.emit(EventTick, status)
	return true
}

func (m *Monitor) emit(kind EventKind, status domain.SessionStatus) {
	ev := Event{
		At:     m.timer.clock.Now(),
		Kind:   kind,
		Status: status,
	}
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}
