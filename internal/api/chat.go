package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/omochice/moldline/pkg/protocol"
)

// Conversations lists the caller's conversations.
func (c *Client) Conversations(ctx context.Context) ([]protocol.Conversation, error) {
	var out []protocol.Conversation
	err := c.call(ctx, request{method: http.MethodGet, base: c.chatBaseURL, path: "/conversations"}, &out)
	return out, err
}

// Messages returns the history of a conversation.
func (c *Client) Messages(ctx context.Context, convoID string) ([]protocol.Message, error) {
	var out []protocol.Message
	err := c.call(ctx, request{
		method: http.MethodGet,
		base:   c.chatBaseURL,
		path:   "/conversations/" + url.PathEscape(convoID) + "/messages",
	}, &out)
	return out, err
}

// SendMessage posts text to a conversation and returns the stored message.
func (c *Client) SendMessage(ctx context.Context, convoID, text string) (protocol.Message, error) {
	var out protocol.Message
	err := c.call(ctx, request{
		method: http.MethodPost,
		base:   c.chatBaseURL,
		path:   "/conversations/" + url.PathEscape(convoID) + "/messages",
		body:   map[string]string{"text": text},
	}, &out)
	return out, err
}

// CreateDM opens (or returns the existing) direct conversation with another user.
func (c *Client) CreateDM(ctx context.Context, otherUserID string) (protocol.Conversation, error) {
	var out protocol.Conversation
	err := c.call(ctx, request{
		method: http.MethodPost,
		base:   c.chatBaseURL,
		path:   "/dm",
		body:   map[string]string{"otherUserId": otherUserID},
	}, &out)
	return out, err
}

// Rooms lists the rooms visible to the caller.
func (c *Client) Rooms(ctx context.Context) ([]protocol.Conversation, error) {
	var out []protocol.Conversation
	err := c.call(ctx, request{method: http.MethodGet, base: c.chatBaseURL, path: "/rooms"}, &out)
	return out, err
}

// CreateRoom creates a room named name with the caller as its first member.
func (c *Client) CreateRoom(ctx context.Context, name string) (protocol.Conversation, error) {
	var out protocol.Conversation
	err := c.call(ctx, request{
		method: http.MethodPost,
		base:   c.chatBaseURL,
		path:   "/rooms",
		body:   map[string]string{"name": name},
	}, &out)
	return out, err
}

// JoinRoom adds the caller to a room.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.call(ctx, request{
		method: http.MethodPost,
		base:   c.chatBaseURL,
		path:   "/rooms/" + url.PathEscape(roomID) + "/join",
	}, nil)
}

// ChatHealth reports whether the chat API answers 200 on /health.
func (c *Client) ChatHealth(ctx context.Context) (bool, error) {
	return c.health(ctx, c.chatBaseURL)
}
