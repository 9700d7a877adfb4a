package server

import (
	"context"
	"net/http"
	"time"

	"github.com/omochice/moldline/internal/chat"
	"github.com/omochice/moldline/internal/transport/ws"
	"github.com/omochice/moldline/pkg/protocol"
)

const (
	outgoingQueue = 32
	writeTimeout  = 10 * time.Second
)

// handleWebSocket upgrades an event stream for the user named by the userId
// query parameter. A bearer token, when sent, must belong to that user.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if _, ok := s.store.user(userID); !ok {
		writeError(w, http.StatusUnauthorized, "Unknown user")
		return
	}

	token := bearerToken(r)
	switch {
	case token == "" && s.cfg.RequireToken:
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	case token != "":
		subject, err := s.tokens.validate(token)
		if err != nil || subject != userID {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
	}

	if !s.track() {
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}
	conn, err := ws.Upgrade(w, r)
	if err != nil {
		s.wg.Done()
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	client := &chat.Client{
		Conn:     conn,
		UserID:   userID,
		Outgoing: make(chan []byte, outgoingQueue),
	}
	s.hub.Register(client)
	s.log.Info().Str("user_id", userID).Str("remote", conn.RemoteAddr()).Msg("stream connected")

	go s.serveClient(client)
}

// serveClient runs one event stream until the peer goes away or the server
// stops. Inbound frames are ignored; the client only listens.
func (s *Server) serveClient(client *chat.Client) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.hub.Unregister(client)
		client.Conn.Close()
		s.log.Info().Str("user_id", client.UserID).Msg("stream disconnected")
	}()

	// The count held for serveClient keeps wg above zero here.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer client.Conn.Close()

		if !s.write(ctx, client, mustHello()) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.quit:
				return
			case frame := <-client.Outgoing:
				if !s.write(ctx, client, frame) {
					return
				}
			}
		}
	}()

	for {
		if _, err := client.Conn.Read(ctx); err != nil {
			return
		}
	}
}

func (s *Server) write(ctx context.Context, client *chat.Client, frame []byte) bool {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := client.Conn.Write(wctx, frame); err != nil {
		s.log.Debug().Err(err).Str("user_id", client.UserID).Msg("write failed")
		return false
	}
	return true
}

func mustHello() []byte {
	frame, err := protocol.EncodeHello()
	if err != nil {
		panic(err)
	}
	return frame
}
