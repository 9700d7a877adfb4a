package client_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/omochice/moldline/internal/chat"
	"github.com/omochice/moldline/internal/client"
	"github.com/omochice/moldline/pkg/protocol"
)

// fakeConn is an in-memory chat.Conn fed by the test through push.
type fakeConn struct {
	readCh    chan []byte
	closeOnce sync.Once
	closed    chan struct{}
	userID    string
}

func newFakeConn(userID string) *fakeConn {
	return &fakeConn{
		readCh: make(chan []byte, 16),
		closed: make(chan struct{}),
		userID: userID,
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, io.EOF
	case data := <-c.readCh:
		return data, nil
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string {
	return "fake"
}

func (c *fakeConn) push(data string) {
	c.readCh <- []byte(data)
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	c.Close()
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

var _ chat.Conn = (*fakeConn)(nil)

// fakeDialer hands every new connection to the test through conns. When
// failing is set, Dial returns an error instead.
type fakeDialer struct {
	mu      sync.Mutex
	failing bool
	dials   int
	conns   chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, userID string) (chat.Conn, error) {
	d.mu.Lock()
	d.dials++
	failing := d.failing
	d.mu.Unlock()

	if failing {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn(userID)
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) setFailing(v bool) {
	d.mu.Lock()
	d.failing = v
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

var _ client.Dialer = (*fakeDialer)(nil)

func messageFrame(id, convo, text string) string {
	data, err := protocol.EncodeMessage(protocol.Message{
		ID:             id,
		ConversationID: convo,
		From:           "u2",
		Text:           text,
		TS:             1,
	})
	if err != nil {
		panic(err)
	}
	return string(data)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
