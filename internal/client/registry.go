package client

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omochice/moldline/internal/metrics"
	"github.com/omochice/moldline/pkg/protocol"
)

// Handler receives every decoded chat message until it is removed.
type Handler = func(protocol.Message)

// HandlerID identifies a registered handler for later removal.
type HandlerID string

// Registry multiplexes decoded messages to any number of handlers.
//
// Handlers may be added and removed from any goroutine while a dispatch is
// in flight. Dispatch works on a snapshot, so a handler added or removed
// during a pass may or may not see the current message but never sees it
// twice.
type Registry struct {
	mu       sync.RWMutex
	handlers map[HandlerID]Handler

	log     zerolog.Logger
	metrics *metrics.Transport
}

// NewRegistry creates an empty Registry.
func NewRegistry(log zerolog.Logger, m *metrics.Transport) *Registry {
	return &Registry{
		handlers: make(map[HandlerID]Handler),
		log:      log.With().Str("component", "registry").Logger(),
		metrics:  m,
	}
}

// AddHandler registers h and returns its id.
func (r *Registry) AddHandler(h Handler) HandlerID {
	id := HandlerID(uuid.NewString())

	r.mu.Lock()
	r.handlers[id] = h
	r.mu.Unlock()

	return id
}

// RemoveHandler deregisters the handler. Unknown ids are ignored.
func (r *Registry) RemoveHandler(id HandlerID) {
	r.mu.Lock()
	delete(r.handlers, id)
	r.mu.Unlock()
}

// Subscribe registers h and returns a function that removes it.
func (r *Registry) Subscribe(h Handler) (unsubscribe func()) {
	id := r.AddHandler(h)
	return func() { r.RemoveHandler(id) }
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Dispatch invokes every registered handler with m. A panicking handler is
// recovered and logged; the others still run.
func (r *Registry) Dispatch(m protocol.Message) {
	r.mu.RLock()
	snapshot := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		snapshot = append(snapshot, h)
	}
	r.mu.RUnlock()

	r.metrics.MessageDispatched()
	for _, h := range snapshot {
		r.invoke(h, m)
	}
}

func (r *Registry) invoke(h Handler, m protocol.Message) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.HandlerPanicked()
			r.log.Error().
				Interface("panic", p).
				Str("message_id", m.ID).
				Msg("handler panicked")
		}
	}()
	h(m)
}
