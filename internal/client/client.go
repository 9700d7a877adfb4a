// Package client owns the real-time connection to the chat server: the
// connection lifecycle manager and the registry that fans decoded messages
// out to subscribers.
package client

import (
	"context"

	"github.com/omochice/moldline/internal/chat"
)

// Dialer opens one connection scoped to a user.
// The websocket implementation lives in internal/transport/ws.
type Dialer interface {
	Dial(ctx context.Context, userID string) (chat.Conn, error)
}

// DialerFunc adapts an ordinary function to the Dialer interface.
type DialerFunc func(ctx context.Context, userID string) (chat.Conn, error)

// Dial calls f(ctx, userID).
func (f DialerFunc) Dial(ctx context.Context, userID string) (chat.Conn, error) {
	return f(ctx, userID)
}

// Status is the connection state of a Manager.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}
