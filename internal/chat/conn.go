// Package chat holds the chat domain logic shared by the client screens and
// the development server: the connection abstraction, the per-conversation
// message list and the conversation list.
package chat

import "context"

// Conn abstracts one bidirectional frame connection.
// This interface isolates transport details from chat logic.
type Conn interface {
	// Read blocks for the next inbound frame (JSON text).
	// It returns ctx.Err() once ctx is done and an error when the
	// connection is closed or fails.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection with a normal closure.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
