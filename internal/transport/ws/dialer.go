package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gobwas/ws"

	"github.com/omochice/moldline/internal/chat"
)

// DefaultHandshakeTimeout bounds the TCP dial and the HTTP upgrade.
const DefaultHandshakeTimeout = 10 * time.Second

// Dialer opens client connections to the chat server's event stream.
// Each dial adds the user id as the userId query parameter and, when a
// token source is set, the current bearer token, so a reconnect always
// presents the latest credentials.
type Dialer struct {
	endpoint string
	timeout  time.Duration
	token    func() string
}

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithHandshakeTimeout sets the handshake timeout.
func WithHandshakeTimeout(d time.Duration) DialerOption {
	return func(dl *Dialer) {
		if d > 0 {
			dl.timeout = d
		}
	}
}

// WithTokenSource sets the function that returns the bearer token to send.
func WithTokenSource(fn func() string) DialerOption {
	return func(dl *Dialer) {
		dl.token = fn
	}
}

// NewDialer creates a Dialer for an endpoint such as "wss://host/ws".
func NewDialer(endpoint string, opts ...DialerOption) *Dialer {
	d := &Dialer{
		endpoint: endpoint,
		timeout:  DefaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// URL returns the endpoint URL scoped to userID.
func (d *Dialer) URL(userID string) (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid endpoint scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial implements client.Dialer.
func (d *Dialer) Dial(ctx context.Context, userID string) (chat.Conn, error) {
	target, err := d.URL(userID)
	if err != nil {
		return nil, err
	}

	dialer := ws.Dialer{Timeout: d.timeout}
	if d.token != nil {
		if tok := d.token(); tok != "" {
			dialer.Header = ws.HandshakeHeaderHTTP(http.Header{
				"Authorization": []string{"Bearer " + tok},
			})
		}
	}

	conn, br, _, err := dialer.Dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}

	return newConn(conn, br, ws.StateClientSide, conn.RemoteAddr().String()), nil
}
