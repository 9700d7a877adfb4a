package chat

import (
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/omochice/moldline/pkg/protocol"
)

// DefaultRefreshRate bounds how often live traffic may reload the
// conversation list.
const DefaultRefreshRate = rate.Limit(2)

// Subscriber delivers live messages to a handler until the returned
// function is called.
type Subscriber interface {
	Subscribe(h func(protocol.Message)) (unsubscribe func())
}

// Option configures a MessageList or ConversationList.
type Option func(*options)

type options struct {
	log         zerolog.Logger
	refreshRate rate.Limit
	onChange    func()
}

func defaultOptions() options {
	return options{
		log:         zerolog.Nop(),
		refreshRate: DefaultRefreshRate,
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithRefreshRate sets the maximum reloads per second triggered by live
// messages. Only ConversationList uses it.
func WithRefreshRate(r rate.Limit) Option {
	return func(o *options) {
		if r > 0 {
			o.refreshRate = r
		}
	}
}

// WithOnChange registers fn to be called after the list contents change.
// fn may run on the connection's receive goroutine and must not block.
func WithOnChange(fn func()) Option {
	return func(o *options) {
		o.onChange = fn
	}
}
