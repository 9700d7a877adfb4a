package chat_test

import (
	"context"
	"io"

	"github.com/omochice/moldline/internal/chat"
)

// mockConn is a placeholder chat.Conn for hub clients.
type mockConn struct {
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{remoteAddr: addr}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	return nil, io.EOF
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	return nil
}

func (m *mockConn) Close() error {
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

var _ chat.Conn = (*mockConn)(nil)
