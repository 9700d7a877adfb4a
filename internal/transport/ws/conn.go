// Package ws provides the WebSocket transport built on gobwas/ws: a client
// dialer for the connection manager and a server-side upgrade for the
// development server.
package ws

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// closeTimeout bounds the write of the closing handshake frame.
const closeTimeout = time.Second

// Conn adapts a gobwas connection to chat.Conn.
type Conn struct {
	conn       net.Conn
	rw         io.ReadWriter
	state      ws.State
	remoteAddr string

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// lockedWriter serializes writes from Write, Close and the control frame
// replies the reader sends.
type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.conn.Write(p)
}

func newConn(conn net.Conn, br *bufio.Reader, state ws.State, remoteAddr string) *Conn {
	c := &Conn{
		conn:       conn,
		state:      state,
		remoteAddr: remoteAddr,
	}
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	c.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{c}}
	return c
}

// Upgrade upgrades an HTTP request to a server-side Conn.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, err
	}
	var br *bufio.Reader
	if rw != nil {
		br = rw.Reader
	}
	return newConn(conn, br, ws.StateServerSide, r.RemoteAddr), nil
}

// Read implements chat.Conn. Text and binary frames are both returned as
// payload bytes; control frames are handled internally.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	var (
		data []byte
		err  error
	)
	if c.state.ClientSide() {
		data, _, err = wsutil.ReadServerData(c.rw)
	} else {
		data, _, err = wsutil.ReadClientData(c.rw)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return data, nil
}

// Write implements chat.Conn. Frames are sent as text.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.wmu.Lock()
		c.conn.SetWriteDeadline(deadline)
		c.wmu.Unlock()
		defer func() {
			c.wmu.Lock()
			c.conn.SetWriteDeadline(time.Time{})
			c.wmu.Unlock()
		}()
	}

	w := lockedWriter{c}
	if c.state.ClientSide() {
		return wsutil.WriteClientText(w, data)
	}
	return wsutil.WriteServerText(w, data)
}

// Close implements chat.Conn. It sends a normal closure frame and closes the
// underlying connection. Subsequent calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		w := lockedWriter{c}

		c.wmu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
		c.wmu.Unlock()

		// The closing handshake is best effort; the peer may already be gone.
		if c.state.ClientSide() {
			_ = wsutil.WriteClientMessage(w, ws.OpClose, body)
		} else {
			_ = wsutil.WriteServerMessage(w, ws.OpClose, body)
		}

		err := c.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		c.closeErr = err
	})
	return c.closeErr
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}
