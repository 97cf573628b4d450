package auth

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/marketbay/client-go/log"
)

// EventType discriminates manager events.
type EventType int

const (
	// EventRefreshSuccess fires after a refresh persisted a new pair.
	EventRefreshSuccess EventType = iota
	// EventLogout fires when the session was cleared. Reason carries why.
	EventLogout
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventRefreshSuccess:
		return "refresh_success"
	case EventLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Logout reason for an external revocation observed through storage.
const ReasonSessionRevoked = "session_revoked"

// Event is a manager notification for the presentation layer.
type Event struct {
	Type EventType
	// Reason is set for EventLogout.
	Reason string
	At     time.Time
}

// Handler consumes manager events.
type Handler func(Event)

// dispatcher fans events out to registered handlers on a bounded pool so
// a slow handler cannot stall the refresh path.
type dispatcher struct {
	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
	pool     *ants.Pool
	logger   *log.Logger
}

func newDispatcher(logger *log.Logger) *dispatcher {
	pool, err := ants.NewPool(4)
	if err != nil {
		logger.Warn().Err(err).Msg("event pool unavailable, dispatching synchronously")
		pool = nil
	}

	return &dispatcher{
		handlers: make(map[int]Handler),
		pool:     pool,
		logger:   logger,
	}
}

// subscribe registers a handler and returns its removal func.
func (d *dispatcher) subscribe(h Handler) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.handlers[id] = h
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.handlers, id)
		d.mu.Unlock()
	}
}

// emit delivers the event to every handler.
func (d *dispatcher) emit(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	d.mu.Lock()
	handlers := make([]Handler, 0, len(d.handlers))
	for _, h := range d.handlers {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h := h
		if d.pool != nil {
			if err := d.pool.Submit(func() { h(event) }); err == nil {
				continue
			}
		}
		h(event)
	}
}

// close releases the pool.
func (d *dispatcher) close() {
	if d.pool != nil {
		d.pool.Release()
	}
}
