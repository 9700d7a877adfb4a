package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/moldline/internal/chat"
	"github.com/omochice/moldline/internal/metrics"
	"github.com/omochice/moldline/pkg/protocol"
)

// DefaultBackoff is the fixed delay between a connection failure and the
// next attempt.
const DefaultBackoff = 2 * time.Second

// ErrEmptyUserID is returned by Connect when no identity is given.
var ErrEmptyUserID = errors.New("connect: empty user id")

// Option configures a Manager.
type Option func(*Manager)

// WithBackoff sets the reconnect delay.
func WithBackoff(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.backoff = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log.With().Str("component", "connection").Logger()
	}
}

// WithMetrics sets the transport collectors.
func WithMetrics(t *metrics.Transport) Option {
	return func(m *Manager) {
		m.metrics = t
	}
}

// WithStatusListener registers fn to be called after every status change.
// fn runs outside the manager's lock and must not block for long. When
// Disconnect races with the receive loop fn may see the loop's last change
// after the disconnect; Status is authoritative.
func WithStatusListener(fn func(Status)) Option {
	return func(m *Manager) {
		m.onStatus = fn
	}
}

// Manager owns at most one connection at a time and keeps it open until
// Disconnect is called.
//
// Connect starts a receive loop for the given identity. The loop reads
// frames, decodes them and dispatches messages to the Registry. When the
// connection fails the loop waits a fixed backoff and dials again with the
// same identity, without limit, until Disconnect or the next Connect
// cancels it.
type Manager struct {
	dialer   Dialer
	registry *Registry
	backoff  time.Duration
	log      zerolog.Logger
	metrics  *metrics.Transport
	onStatus func(Status)

	// connectMu serializes Connect calls so only one of them retires the
	// previous loop and installs the next one.
	connectMu sync.Mutex

	mu     sync.Mutex
	status Status
	userID string
	conn   chat.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a disconnected Manager.
func NewManager(dialer Dialer, registry *Registry, opts ...Option) *Manager {
	m := &Manager{
		dialer:   dialer,
		registry: registry,
		backoff:  DefaultBackoff,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = NewRegistry(m.log, m.metrics)
	}
	return m
}

// Registry returns the registry messages are dispatched to.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// UserID returns the identity of the current connection, or "" when
// disconnected.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// Connect closes any current connection, waits for its receive loop to
// exit, and starts a new loop scoped to userID.
//
// Connect must not be called from a Handler: it waits for the previous
// loop, and handlers run on that loop.
func (m *Manager) Connect(userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if done := m.detach(); done != nil {
		<-done
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.userID = userID
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.log.Info().Str("user_id", userID).Msg("connecting")
	m.transition(ctx, StatusConnecting)

	go m.run(ctx, userID, done)
	return nil
}

// Disconnect cancels the receive loop, closes the connection with a normal
// closure and sets the status to disconnected. It is a no-op when already
// disconnected and is safe to call from a Handler.
//
// Once Disconnect returns, the cancelled loop can no longer change the
// status, dispatch messages or start another attempt.
func (m *Manager) Disconnect() {
	m.detach()
}

// detach retires the current loop and returns its done channel (nil when
// there was none).
func (m *Manager) detach() chan struct{} {
	m.mu.Lock()
	cancel, conn, done := m.cancel, m.conn, m.done
	m.cancel, m.conn, m.done = nil, nil, nil
	m.userID = ""
	changed := m.status != StatusDisconnected
	m.status = StatusDisconnected
	// Cancel under mu so attach and transition see the cancelled context.
	if cancel != nil {
		cancel()
	}
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.log.Debug().Err(err).Msg("close connection")
		}
	}
	if changed {
		m.log.Info().Msg("disconnected")
		m.notify(StatusDisconnected)
	}
	return done
}

// transition sets the status on behalf of the loop owning ctx. It reports
// false when that loop has been cancelled, in which case nothing changes.
func (m *Manager) transition(ctx context.Context, s Status) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	changed := m.status != s
	m.status = s
	m.mu.Unlock()

	if changed {
		m.notify(s)
	}
	return true
}

func (m *Manager) notify(s Status) {
	m.metrics.SetStatus(int(s))
	if m.onStatus != nil {
		m.onStatus(s)
	}
}

func (m *Manager) run(ctx context.Context, userID string, done chan struct{}) {
	defer close(done)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			m.metrics.ReconnectAttempted()
			if !m.transition(ctx, StatusConnecting) {
				return
			}
			m.log.Info().Str("user_id", userID).Int("attempt", attempt).Msg("reconnecting")
		}

		err := m.serve(ctx, userID)
		if ctx.Err() != nil {
			return
		}
		m.log.Warn().Err(err).Dur("backoff", m.backoff).Msg("connection lost")

		if !m.transition(ctx, StatusDisconnected) {
			return
		}
		if err := sleepContext(ctx, m.backoff); err != nil {
			return
		}
	}
}

// serve runs one connection epoch and returns why it ended.
func (m *Manager) serve(ctx context.Context, userID string) error {
	conn, err := m.dialer.Dial(ctx, userID)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	if !m.attach(ctx, conn) {
		conn.Close()
		return ctx.Err()
	}
	defer m.release(conn)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		m.handleFrame(ctx, data)
	}
}

// attach installs conn as the current handle unless the loop was cancelled.
func (m *Manager) attach(ctx context.Context, conn chat.Conn) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	changed := m.status != StatusConnected
	m.status = StatusConnected
	m.mu.Unlock()

	m.log.Info().Str("remote", conn.RemoteAddr()).Msg("connected")
	if changed {
		m.notify(StatusConnected)
	}
	return true
}

// release closes conn and forgets it if it is still the current handle.
func (m *Manager) release(conn chat.Conn) {
	m.mu.Lock()
	owned := m.conn == conn
	if owned {
		m.conn = nil
	}
	m.mu.Unlock()

	// Disconnect already closed a handle it detached.
	if owned {
		conn.Close()
	}
}

func (m *Manager) handleFrame(ctx context.Context, data []byte) {
	m.metrics.FrameReceived()

	ev := protocol.Decode(data)
	switch ev.Kind {
	case protocol.EventHello:
		m.transition(ctx, StatusConnected)
	case protocol.EventMessage:
		if ctx.Err() != nil {
			return
		}
		m.registry.Dispatch(ev.Message)
	default:
		m.metrics.FrameDropped()
		m.log.Debug().Int("bytes", len(data)).Msg("dropped frame")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
