package protocol

import (
	"encoding/json"
)

// Inbound event type discriminators.
const (
	TypeHello   = "hello"
	TypeMessage = "message"
)

// EventKind represents the kind of a decoded inbound frame.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventHello
	EventMessage
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case EventHello:
		return "HELLO"
	case EventMessage:
		return "MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// Event is a decoded inbound frame. Message is set only for EventMessage.
type Event struct {
	Kind    EventKind
	Message Message
}

// envelope is the minimal shape every frame must have.
type envelope struct {
	Type string `json:"type"`
}

// wireMessage mirrors Message with every field required.
type wireMessage struct {
	ID             *string `json:"messageId"`
	ConversationID *string `json:"convoId"`
	From           *string `json:"from"`
	Text           *string `json:"text"`
	TS             *Millis `json:"ts"`
}

type messageEnvelope struct {
	Type string       `json:"type"`
	Data *wireMessage `json:"data"`
}

// Decode parses a raw inbound frame. It never fails: malformed frames,
// frames of an unrecognized type and message frames whose payload does not
// have the Message shape all decode to EventUnknown.
func Decode(data []byte) Event {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{Kind: EventUnknown}
	}

	switch env.Type {
	case TypeHello:
		return Event{Kind: EventHello}
	case TypeMessage:
		msg, ok := decodeMessage(data)
		if !ok {
			return Event{Kind: EventUnknown}
		}
		return Event{Kind: EventMessage, Message: msg}
	default:
		return Event{Kind: EventUnknown}
	}
}

func decodeMessage(data []byte) (Message, bool) {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, false
	}
	w := env.Data
	if w == nil || w.ID == nil || w.ConversationID == nil || w.From == nil || w.Text == nil || w.TS == nil {
		return Message{}, false
	}
	return Message{
		ID:             *w.ID,
		ConversationID: *w.ConversationID,
		From:           *w.From,
		Text:           *w.Text,
		TS:             *w.TS,
	}, true
}

// EncodeHello encodes the server handshake frame.
func EncodeHello() ([]byte, error) {
	return json.Marshal(envelope{Type: TypeHello})
}

// EncodeMessage encodes a message delivery frame.
func EncodeMessage(m Message) ([]byte, error) {
	return json.Marshal(struct {
		Type string  `json:"type"`
		Data Message `json:"data"`
	}{Type: TypeMessage, Data: m})
}
