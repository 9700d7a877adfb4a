package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/omochice/moldline/pkg/protocol"
)

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, userID string) {
	writeJSON(w, http.StatusOK, s.store.conversationsFor(userID))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, userID string) {
	msgs, err := s.store.messages(mux.Vars(r)["id"], userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}

	m, members, err := s.store.appendMessage(mux.Vars(r)["id"], userID, text)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.deliver(m, members)
	writeJSON(w, http.StatusCreated, m)
}

// deliver pushes a message frame to every connected member, the sender
// included.
func (s *Server) deliver(m protocol.Message, members []string) {
	frame, err := protocol.EncodeMessage(m)
	if err != nil {
		s.log.Error().Err(err).Msg("encode message frame")
		return
	}
	n := s.hub.SendTo(members, frame)
	s.log.Debug().
		Str("convo_id", m.ConversationID).
		Str("message_id", m.ID).
		Int("streams", n).
		Msg("message delivered")
}

func (s *Server) handleCreateDM(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		OtherUserID string `json:"otherUserId"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.OtherUserID == "" {
		writeError(w, http.StatusBadRequest, "otherUserId is required")
		return
	}

	c, err := s.store.dm(userID, req.OtherUserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request, userID string) {
	rooms := s.store.rooms()
	if rooms == nil {
		rooms = []protocol.Conversation{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Room name is required")
		return
	}
	writeJSON(w, http.StatusCreated, s.store.createRoom(req.Name, userID))
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request, userID string) {
	c, err := s.store.joinRoom(mux.Vars(r)["id"], userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, "Not a member of this conversation")
	case errors.Is(err, errNotRoom):
		writeError(w, http.StatusBadRequest, "Not a room")
	default:
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}
