// Package protocol defines the chat wire types shared by the REST API and
// the real-time event stream.
package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Millis is a timestamp in milliseconds since the Unix epoch.
// The server may send it as an integral or fractional JSON number.
type Millis int64

// UnmarshalJSON accepts any JSON number and truncates it to whole milliseconds.
func (ms *Millis) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("invalid timestamp %v", f)
	}
	*ms = Millis(f)
	return nil
}

// Time converts the timestamp to a time.Time.
func (ms Millis) Time() time.Time {
	return time.UnixMilli(int64(ms))
}

// MillisFromTime converts t to epoch milliseconds.
func MillisFromTime(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Message is a single chat message. Its identity is ID.
type Message struct {
	ID             string `json:"messageId"`
	ConversationID string `json:"convoId"`
	From           string `json:"from"`
	Text           string `json:"text"`
	TS             Millis `json:"ts"`
}

// Time returns the message timestamp.
func (m Message) Time() time.Time {
	return m.TS.Time()
}

// ConversationKind distinguishes direct messages from rooms.
type ConversationKind string

const (
	ConversationDM   ConversationKind = "dm"
	ConversationRoom ConversationKind = "room"
)

// Conversation is a DM or a room and the users in it.
type Conversation struct {
	ID      string           `json:"convoId"`
	Kind    ConversationKind `json:"kind"`
	Name    string           `json:"name,omitempty"`
	Members []string         `json:"members"`
}

// User is a registered user as listed by the auth API.
type User struct {
	ID   string `json:"userId"`
	Name string `json:"name"`
}

// UserProfile is the authenticated "who am I" response.
type UserProfile struct {
	ID        string `json:"userId"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// AuthResponse is returned by both register and login.
type AuthResponse struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

// RefreshResponse is returned by POST /refresh.
type RefreshResponse struct {
	Token string `json:"token"`
}
