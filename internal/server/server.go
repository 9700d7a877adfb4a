// Package server is a development chat server. It serves the auth API, the
// chat API and the real-time event stream the client speaks, on a single
// port, with all state in memory.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/omochice/moldline/internal/chat"
)

// Config configures a Server.
type Config struct {
	// Addr is the listen address. Default ":8080".
	Addr string

	// TokenSecret signs session tokens. A random secret is generated when
	// empty, so tokens do not survive a restart.
	TokenSecret string

	// TokenTTL is the session token lifetime. Zero means 24h; negative
	// disables expiry.
	TokenTTL time.Duration

	// RequireToken rejects event stream connections without a bearer token.
	RequireToken bool

	// BcryptCost is the password hashing cost. Zero means bcrypt.DefaultCost.
	BcryptCost int

	Logger zerolog.Logger
}

var errServerStopped = errors.New("server stopped")

// Server represents a development chat server.
type Server struct {
	cfg    Config
	log    zerolog.Logger
	store  *store
	tokens *tokenService
	hub    *chat.Hub
	router *mux.Router

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
	stopping bool
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Server instance.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = uuid.NewString() + uuid.NewString()
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	s := &Server{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "server").Logger(),
		store:  newStore(),
		tokens: newTokenService(cfg.TokenSecret, cfg.TokenTTL),
		hub:    chat.NewHub(),
		quit:   make(chan struct{}),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Auth API.
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/me", s.authenticated(s.handleMe)).Methods(http.MethodGet)
	r.HandleFunc("/refresh", s.authenticated(s.handleRefresh)).Methods(http.MethodPost)
	r.HandleFunc("/users", s.authenticated(s.handleUsers)).Methods(http.MethodGet)

	// Chat API.
	r.HandleFunc("/conversations", s.authenticated(s.handleConversations)).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/messages", s.authenticated(s.handleMessages)).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/messages", s.authenticated(s.handleSendMessage)).Methods(http.MethodPost)
	r.HandleFunc("/dm", s.authenticated(s.handleCreateDM)).Methods(http.MethodPost)
	r.HandleFunc("/rooms", s.authenticated(s.handleRooms)).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.authenticated(s.handleCreateRoom)).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{id}/join", s.authenticated(s.handleJoinRoom)).Methods(http.MethodPost)

	// Event stream.
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	return r
}

// Handler returns the HTTP handler, for mounting in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background. It returns
// once the server accepts connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		listener.Close()
		return errServerStopped
	}
	s.listener = listener
	s.http = srv
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info().Str("addr", listener.Addr().String()).Msg("server started")

	go func() {
		defer s.wg.Done()
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("serve")
		}
	}()
	return nil
}

// Stop closes the listener and every event stream, then waits for the
// connection goroutines to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)

		s.mu.Lock()
		s.stopping = true
		srv := s.http
		s.mu.Unlock()
		if srv != nil {
			srv.Close()
		}

		for _, client := range s.hub.Clients() {
			client.Conn.Close()
		}
		s.wg.Wait()
		s.log.Info().Msg("server stopped")
	})
}

// track counts a new goroutine in wg unless Stop has begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.wg.Add(1)
	return true
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of connected event streams.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// authenticated wraps a handler that needs the caller's user id. The bearer
// token must be valid, name an existing user and, when the x-user-id header
// is sent, agree with it.
func (s *Server) authenticated(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.tokens.validate(bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if header := r.Header.Get("x-user-id"); header != "" && header != userID {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if _, ok := s.store.user(userID); !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r, userID)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
