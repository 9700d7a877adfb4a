// Package api is the request/response client for the chat and auth HTTP
// APIs. Every authenticated call carries the bearer token (and the user id
// header the chat API expects); a 401 response is translated into the
// unauthorized error kind.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/omochice/moldline/internal/errors"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 15 * time.Second

// Credentials returns the current user id and token. Either may be empty
// when no session is held.
type Credentials func() (userID, token string)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithCredentials sets the credential source for authenticated calls.
func WithCredentials(fn Credentials) Option {
	return func(c *Client) {
		c.creds = fn
	}
}

// WithUnauthorizedHook registers fn to be called whenever an authenticated
// call is rejected with 401. The session layer installs its logout here.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) {
		c.SetUnauthorizedHook(fn)
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log.With().Str("component", "api").Logger()
	}
}

// Client performs stateless HTTP calls against the chat API and the auth
// API. It is safe for concurrent use.
type Client struct {
	chatBaseURL string
	authBaseURL string
	http        *http.Client
	creds       Credentials
	log         zerolog.Logger

	onUnauthorized atomic.Pointer[func()]
}

// New creates a Client. chatBaseURL serves conversations and messages;
// authBaseURL serves register, login, me and users.
func New(chatBaseURL, authBaseURL string, opts ...Option) *Client {
	c := &Client{
		chatBaseURL: strings.TrimRight(chatBaseURL, "/"),
		authBaseURL: strings.TrimRight(authBaseURL, "/"),
		http:        &http.Client{Timeout: DefaultTimeout},
		creds:       func() (string, string) { return "", "" },
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetUnauthorizedHook replaces the unauthorized hook after construction.
// The session gate needs the client to exist before it can be wired.
func (c *Client) SetUnauthorizedHook(fn func()) {
	if fn == nil {
		c.onUnauthorized.Store(nil)
		return
	}
	c.onUnauthorized.Store(&fn)
}

// request describes one HTTP call.
type request struct {
	method string
	base   string
	path   string
	body   any
	auth   bool
	// token overrides the credential source (used by Me and Refresh).
	token string
}

// do performs the request and returns the response status and body.
// Transport failures are wrapped as net.request_failed.
func (c *Client) do(ctx context.Context, req request) (int, []byte, error) {
	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.base+req.path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	if req.auth {
		userID, token := c.creds()
		if req.token != "" {
			token = req.token
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
		if userID != "" {
			httpReq.Header.Set("x-user-id", userID)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.Debug().Err(err).Str("path", req.path).Msg("request failed")
		return 0, nil, apperrors.Wrap(apperrors.CodeRequestFailed, "Network error. Check your connection.", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, apperrors.Wrap(apperrors.CodeRequestFailed, "Network error. Check your connection.", err)
	}

	c.log.Debug().Str("method", req.method).Str("path", req.path).Int("status", resp.StatusCode).Msg("response")
	return resp.StatusCode, data, nil
}

// call performs an authenticated request and decodes a 2xx body into out
// (when non-nil).
func (c *Client) call(ctx context.Context, req request, out any) error {
	req.auth = true
	status, data, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return c.unauthorized(req.path)
	}
	if status < 200 || status > 299 {
		return badStatus(status, data)
	}
	return decode(data, out)
}

func (c *Client) unauthorized(path string) error {
	c.log.Warn().Str("path", path).Msg("request unauthorized")
	if fn := c.onUnauthorized.Load(); fn != nil {
		(*fn)()
	}
	return apperrors.ErrUnauthorized
}

func decode(data []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Wrap(apperrors.CodeDecodeFailed, "Unexpected response from server.", err)
	}
	return nil
}

func badStatus(status int, body []byte) error {
	msg := serverMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return apperrors.Wrap(apperrors.CodeBadStatus, msg, fmt.Errorf("status %d", status))
}

// serverMessage extracts {"message": "..."} from an error body.
func serverMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}
