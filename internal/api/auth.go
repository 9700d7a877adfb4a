package api

import (
	"context"
	"net/http"

	apperrors "github.com/omochice/moldline/internal/errors"
	"github.com/omochice/moldline/pkg/protocol"
)

// Register creates an account. 409 means the nickname is taken; 400 carries
// a validation message from the server.
func (c *Client) Register(ctx context.Context, req protocol.RegisterRequest) (protocol.AuthResponse, error) {
	var out protocol.AuthResponse

	status, data, err := c.do(ctx, request{method: http.MethodPost, base: c.authBaseURL, path: "/register", body: req})
	if err != nil {
		return out, err
	}

	switch status {
	case http.StatusCreated:
		return out, decode(data, &out)
	case http.StatusConflict:
		return out, apperrors.ErrUsernameTaken
	case http.StatusBadRequest:
		if msg := serverMessage(data); msg != "" {
			return out, apperrors.Validation(msg)
		}
		return out, apperrors.ErrRegistrationFailed
	default:
		return out, apperrors.ErrRegistrationFailed
	}
}

// Login exchanges a nickname and password for a token. Any status other
// than 200 is reported as invalid credentials.
func (c *Client) Login(ctx context.Context, req protocol.LoginRequest) (protocol.AuthResponse, error) {
	var out protocol.AuthResponse

	status, data, err := c.do(ctx, request{method: http.MethodPost, base: c.authBaseURL, path: "/login", body: req})
	if err != nil {
		return out, err
	}
	if status != http.StatusOK {
		return out, apperrors.ErrInvalidCredentials
	}
	return out, decode(data, &out)
}

// Me returns the profile for token. A rejected token yields the
// unauthorized kind; network failures keep their own kind so callers can
// tell "offline" from "invalid".
func (c *Client) Me(ctx context.Context, token string) (protocol.UserProfile, error) {
	var out protocol.UserProfile
	err := c.call(ctx, request{method: http.MethodGet, base: c.authBaseURL, path: "/me", token: token}, &out)
	return out, err
}

// Refresh exchanges the current token for a new one.
func (c *Client) Refresh(ctx context.Context, token string) (string, error) {
	var out protocol.RefreshResponse
	err := c.call(ctx, request{method: http.MethodPost, base: c.authBaseURL, path: "/refresh", token: token}, &out)
	return out.Token, err
}

// Users lists registered users.
func (c *Client) Users(ctx context.Context) ([]protocol.User, error) {
	var out []protocol.User
	err := c.call(ctx, request{method: http.MethodGet, base: c.authBaseURL, path: "/users"}, &out)
	return out, err
}

// AuthHealth reports whether the auth API answers 200 on /health.
func (c *Client) AuthHealth(ctx context.Context) (bool, error) {
	return c.health(ctx, c.authBaseURL)
}

func (c *Client) health(ctx context.Context, base string) (bool, error) {
	status, _, err := c.do(ctx, request{method: http.MethodGet, base: base, path: "/health"})
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}
