package server

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/omochice/moldline/pkg/protocol"
)

const minPasswordLength = 4

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	case len(req.Password) < minPasswordLength:
		writeError(w, http.StatusBadRequest, "Password must be at least 4 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		s.log.Error().Err(err).Msg("hash password")
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	u, err := s.store.createUser(name, hash, strings.TrimSpace(req.Email), strings.TrimSpace(req.Phone))
	if errors.Is(err, errNameTaken) {
		writeError(w, http.StatusConflict, "Name already taken")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	s.log.Info().Str("user_id", u.id).Str("name", u.name).Msg("user registered")
	s.issue(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	u, ok := s.store.userByName(req.Name)
	if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid name or password")
		return
	}
	s.issue(w, http.StatusOK, u)
}

func (s *Server) issue(w http.ResponseWriter, status int, u *user) {
	token, err := s.tokens.generate(u.id, u.name)
	if err != nil {
		s.log.Error().Err(err).Msg("sign token")
		writeError(w, http.StatusInternalServerError, "Could not issue token")
		return
	}
	writeJSON(w, status, protocol.AuthResponse{UserID: u.id, Name: u.name, Token: token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID string) {
	u, _ := s.store.user(userID)
	writeJSON(w, http.StatusOK, protocol.UserProfile{
		ID:        u.id,
		Name:      u.name,
		Email:     u.email,
		CreatedAt: u.createdAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, userID string) {
	u, _ := s.store.user(userID)
	token, err := s.tokens.generate(u.id, u.name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, protocol.RefreshResponse{Token: token})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, userID string) {
	writeJSON(w, http.StatusOK, s.store.listUsers())
}
