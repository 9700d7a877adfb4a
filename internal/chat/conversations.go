package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/omochice/moldline/pkg/protocol"
)

// refreshTimeout bounds a reload triggered by live traffic.
const refreshTimeout = 15 * time.Second

// ConversationAPI is the subset of the chat API a ConversationList needs.
type ConversationAPI interface {
	Conversations(ctx context.Context) ([]protocol.Conversation, error)
	CreateDM(ctx context.Context, otherUserID string) (protocol.Conversation, error)
	CreateRoom(ctx context.Context, name string) (protocol.Conversation, error)
	JoinRoom(ctx context.Context, roomID string) error
}

// ConversationList is the user's conversation list. Any live message
// schedules a reload so ordering and previews follow the server.
//
// Reloads caused by live traffic are rate limited and coalesced: while one
// is pending or running, further messages collapse into a single trailing
// reload.
type ConversationList struct {
	api         ConversationAPI
	log         zerolog.Logger
	onChange    func()
	limiter     *rate.Limiter
	unsubscribe func()

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	conversations []protocol.Conversation
	err           error
	closed        bool
}

// NewConversationList creates the list and starts its refresh worker.
// Call Close to stop it.
func NewConversationList(api ConversationAPI, sub Subscriber, opts ...Option) *ConversationList {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &ConversationList{
		api:      api,
		log:      o.log.With().Str("component", "conversations").Logger(),
		onChange: o.onChange,
		limiter:  rate.NewLimiter(o.refreshRate, 1),
		kick:     make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go l.refreshLoop(ctx)

	if sub != nil {
		l.unsubscribe = sub.Subscribe(func(protocol.Message) { l.RequestRefresh() })
	}
	return l
}

// Load replaces the list with the server's. On failure the current
// contents are kept and the error is returned and recorded.
func (l *ConversationList) Load(ctx context.Context) error {
	convos, err := l.api.Conversations(ctx)

	l.mu.Lock()
	if err != nil {
		l.err = err
		l.mu.Unlock()
		l.log.Warn().Err(err).Msg("load conversations")
		return err
	}
	l.err = nil
	l.conversations = convos
	l.mu.Unlock()

	if l.onChange != nil {
		l.onChange()
	}
	return nil
}

// CreateDM opens (or finds) the direct conversation with otherUserID and
// reloads the list.
func (l *ConversationList) CreateDM(ctx context.Context, otherUserID string) (protocol.Conversation, error) {
	c, err := l.api.CreateDM(ctx, otherUserID)
	if err != nil {
		return protocol.Conversation{}, err
	}
	return c, l.Load(ctx)
}

// CreateRoom creates a room and reloads the list.
func (l *ConversationList) CreateRoom(ctx context.Context, name string) (protocol.Conversation, error) {
	c, err := l.api.CreateRoom(ctx, name)
	if err != nil {
		return protocol.Conversation{}, err
	}
	return c, l.Load(ctx)
}

// JoinRoom joins a room and reloads the list.
func (l *ConversationList) JoinRoom(ctx context.Context, roomID string) error {
	if err := l.api.JoinRoom(ctx, roomID); err != nil {
		return err
	}
	return l.Load(ctx)
}

// RequestRefresh schedules a reload without blocking.
func (l *ConversationList) RequestRefresh() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *ConversationList) refreshLoop(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.kick:
		}

		if err := l.limiter.Wait(ctx); err != nil {
			return
		}

		loadCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		// Load records and logs its own error.
		_ = l.Load(loadCtx)
		cancel()
	}
}

// Conversations returns a copy of the list.
func (l *ConversationList) Conversations() []protocol.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.Conversation(nil), l.conversations...)
}

// Find returns the conversation with id.
func (l *ConversationList) Find(id string) (protocol.Conversation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return protocol.Conversation{}, false
}

// Err returns the error of the last failed Load.
func (l *ConversationList) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close unsubscribes and stops the refresh worker. It is safe to call more
// than once.
func (l *ConversationList) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	if l.unsubscribe != nil {
		l.unsubscribe()
	}
	l.cancel()
	<-l.done
}
