// Package session holds the logged-in identity and gates the real-time
// connection on it: the connection is opened only with a valid identity and
// torn down on logout or when the server rejects the token.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	apperrors "github.com/omochice/moldline/internal/errors"
	"github.com/omochice/moldline/internal/credstore"
	"github.com/omochice/moldline/pkg/protocol"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 4

// AuthAPI is the subset of the auth API the gate needs.
type AuthAPI interface {
	Login(ctx context.Context, req protocol.LoginRequest) (protocol.AuthResponse, error)
	Register(ctx context.Context, req protocol.RegisterRequest) (protocol.AuthResponse, error)
	Me(ctx context.Context, token string) (protocol.UserProfile, error)
}

// Connector opens and closes the real-time connection.
type Connector interface {
	Connect(userID string) error
	Disconnect()
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(g *Gate) {
		g.log = log.With().Str("component", "session").Logger()
	}
}

// Gate owns the session identity.
type Gate struct {
	store credstore.Store
	auth  AuthAPI
	conn  Connector
	log   zerolog.Logger

	mu     sync.RWMutex
	userID string
	token  string
}

// NewGate creates a Gate and restores the identity held by store, if any.
// Nothing is verified or connected until Resume or Start.
func NewGate(store credstore.Store, auth AuthAPI, conn Connector, opts ...Option) *Gate {
	g := &Gate{
		store: store,
		auth:  auth,
		conn:  conn,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	token, err := store.LoadToken()
	if err != nil {
		g.log.Warn().Err(err).Msg("load stored token")
	}
	userID, err := store.LoadUserID()
	if err != nil {
		g.log.Warn().Err(err).Msg("load stored user id")
	}
	if token != "" && userID != "" {
		g.userID, g.token = userID, token
	}
	return g
}

// IsLoggedIn reports whether an identity is held.
func (g *Gate) IsLoggedIn() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.userID != "" && g.token != ""
}

// Identity returns the current user id and token, empty when logged out.
func (g *Gate) Identity() (userID, token string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.userID, g.token
}

// Token returns the current token.
func (g *Gate) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// UserID returns the current user id.
func (g *Gate) UserID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.userID
}

// Resume checks a restored session against the server. A rejected token
// logs out. Any other failure keeps the session, since the user may just
// be offline.
func (g *Gate) Resume(ctx context.Context) error {
	token := g.Token()
	if token == "" {
		return nil
	}

	if _, err := g.auth.Me(ctx, token); err != nil {
		if apperrors.IsUnauthorized(err) {
			g.log.Info().Msg("stored session rejected")
			g.Logout()
			return err
		}
		g.log.Warn().Err(err).Msg("could not verify session, keeping it")
	}
	return nil
}

// Start resumes the stored session and connects when it is still valid.
func (g *Gate) Start(ctx context.Context) error {
	if err := g.Resume(ctx); err != nil && !apperrors.IsUnauthorized(err) {
		return err
	}
	userID := g.UserID()
	if userID == "" {
		return nil
	}
	return g.conn.Connect(userID)
}

// Login authenticates, stores the credentials and connects.
func (g *Gate) Login(ctx context.Context, name, password string) error {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return apperrors.Validation("Please enter your nickname and password.")
	}

	resp, err := g.auth.Login(ctx, protocol.LoginRequest{Name: name, Password: password})
	if err != nil {
		return err
	}
	return g.establish(resp)
}

// Register creates an account, stores the credentials and connects.
// confirm must repeat req.Password.
func (g *Gate) Register(ctx context.Context, req protocol.RegisterRequest, confirm string) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)

	switch {
	case req.Name == "" || req.Password == "":
		return apperrors.Validation("Please enter your nickname and password.")
	case len(req.Password) < MinPasswordLength:
		return apperrors.Validation("Password must be at least 4 characters.")
	case req.Password != confirm:
		return apperrors.Validation("Passwords do not match.")
	}

	resp, err := g.auth.Register(ctx, req)
	if err != nil {
		return err
	}
	return g.establish(resp)
}

func (g *Gate) establish(resp protocol.AuthResponse) error {
	if resp.UserID == "" || resp.Token == "" {
		return apperrors.New(apperrors.CodeDecodeFailed, "Unexpected response from server.")
	}

	var errs []error
	if err := g.store.SaveToken(resp.Token); err != nil {
		errs = append(errs, err)
	}
	if err := g.store.SaveUserID(resp.UserID); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		// The session still works for this run.
		g.log.Warn().Err(err).Msg("persist credentials")
	}

	g.mu.Lock()
	g.userID, g.token = resp.UserID, resp.Token
	g.mu.Unlock()

	g.log.Info().Str("user_id", resp.UserID).Msg("logged in")
	return g.conn.Connect(resp.UserID)
}

// Logout clears the stored credentials, closes the connection and then
// forgets the identity, so no reconnect can run with a cleared identity.
// It is idempotent and safe to call from any goroutine, including a
// message handler.
func (g *Gate) Logout() {
	if err := g.store.ClearAll(); err != nil {
		g.log.Warn().Err(err).Msg("clear stored credentials")
	}

	g.conn.Disconnect()

	g.mu.Lock()
	was := g.userID
	g.userID, g.token = "", ""
	g.mu.Unlock()

	if was != "" {
		g.log.Info().Str("user_id", was).Msg("logged out")
	}
}

// HandleError logs out when err says the session is no longer valid. It
// returns err unchanged.
func (g *Gate) HandleError(err error) error {
	if apperrors.IsUnauthorized(err) {
		g.Logout()
	}
	return err
}
