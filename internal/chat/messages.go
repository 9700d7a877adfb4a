package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/moldline/pkg/protocol"
)

// MessageAPI is the subset of the chat API a MessageList needs.
type MessageAPI interface {
	Messages(ctx context.Context, convoID string) ([]protocol.Message, error)
	SendMessage(ctx context.Context, convoID, text string) (protocol.Message, error)
}

// MessageList is the view state of one open conversation: its history,
// live arrivals and the compose draft.
//
// The list never holds two messages with the same id. History, live
// frames and the echo of an own send all go through the same dedup, so a
// message seen both over REST and over the socket appears once.
type MessageList struct {
	convoID     string
	api         MessageAPI
	log         zerolog.Logger
	onChange    func()
	unsubscribe func()

	mu       sync.Mutex
	messages []protocol.Message
	seen     map[string]struct{}
	draft    string
	err      error
}

// NewMessageList creates the list for convoID and subscribes it to live
// messages for that conversation. Call Close when the view goes away.
func NewMessageList(convoID string, api MessageAPI, sub Subscriber, opts ...Option) *MessageList {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	l := &MessageList{
		convoID:  convoID,
		api:      api,
		log:      o.log.With().Str("component", "messages").Str("convo_id", convoID).Logger(),
		onChange: o.onChange,
		seen:     make(map[string]struct{}),
	}
	if sub != nil {
		l.unsubscribe = sub.Subscribe(l.receive)
	}
	return l
}

// ConversationID returns the conversation this list shows.
func (l *MessageList) ConversationID() string {
	return l.convoID
}

func (l *MessageList) receive(m protocol.Message) {
	if m.ConversationID != l.convoID {
		return
	}
	l.Append(m)
}

// Load replaces the list with the conversation history. On failure the
// current contents are kept and the error is returned and recorded.
func (l *MessageList) Load(ctx context.Context) error {
	history, err := l.api.Messages(ctx, l.convoID)

	l.mu.Lock()
	if err != nil {
		l.err = err
		l.mu.Unlock()
		l.log.Warn().Err(err).Msg("load history")
		return err
	}
	l.err = nil
	l.messages = make([]protocol.Message, 0, len(history))
	l.seen = make(map[string]struct{}, len(history))
	for _, m := range history {
		l.appendLocked(m)
	}
	l.mu.Unlock()

	l.changed()
	return nil
}

// Append adds m unless a message with the same id is already present. It
// reports whether the list changed.
func (l *MessageList) Append(m protocol.Message) bool {
	l.mu.Lock()
	added := l.appendLocked(m)
	l.mu.Unlock()

	if added {
		l.changed()
	}
	return added
}

func (l *MessageList) appendLocked(m protocol.Message) bool {
	if _, ok := l.seen[m.ID]; ok {
		return false
	}
	l.seen[m.ID] = struct{}{}
	l.messages = append(l.messages, m)
	return true
}

// Send posts text to the conversation. Blank text is ignored. The draft is
// cleared while the request is in flight and restored if it fails.
func (l *MessageList) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	l.mu.Lock()
	l.draft = ""
	l.mu.Unlock()

	m, err := l.api.SendMessage(ctx, l.convoID, strings.TrimSpace(text))
	if err != nil {
		l.mu.Lock()
		l.draft = text
		l.err = err
		l.mu.Unlock()
		l.log.Warn().Err(err).Msg("send message")
		l.changed()
		return err
	}

	if !l.Append(m) {
		// The live echo won the race.
		l.log.Debug().Str("message_id", m.ID).Msg("send echo already present")
	}
	return nil
}

// SetDraft replaces the compose draft.
func (l *MessageList) SetDraft(text string) {
	l.mu.Lock()
	l.draft = text
	l.mu.Unlock()
}

// Draft returns the compose draft.
func (l *MessageList) Draft() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draft
}

// Messages returns a copy of the list in display order.
func (l *MessageList) Messages() []protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.Message(nil), l.messages...)
}

// Len returns the number of messages.
func (l *MessageList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Err returns the error of the last failed Load or Send, cleared by the
// next successful Load.
func (l *MessageList) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close stops live delivery. It is safe to call more than once.
func (l *MessageList) Close() {
	l.mu.Lock()
	unsubscribe := l.unsubscribe
	l.unsubscribe = nil
	l.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (l *MessageList) changed() {
	if l.onChange != nil {
		l.onChange()
	}
}
