package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/omochice/moldline/internal/server"
	"github.com/omochice/moldline/internal/transport/ws"
	"github.com/omochice/moldline/pkg/protocol"
)

func newTestServer(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()
	srv := server.New(server.Config{
		TokenSecret: "test-secret",
		BcryptCost:  bcrypt.MinCost,
		Logger:      zerolog.Nop(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

// call sends a JSON request and decodes a JSON response into out when
// out is non-nil. It returns the status code.
func call(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()

	var r *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
	} else {
		r = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func register(t *testing.T, base, name string) protocol.AuthResponse {
	t.Helper()
	var auth protocol.AuthResponse
	status := call(t, http.MethodPost, base+"/register", "", protocol.RegisterRequest{Name: name, Password: "secret"}, &auth)
	if status != http.StatusCreated {
		t.Fatalf("register %s: status = %d, want %d", name, status, http.StatusCreated)
	}
	return auth
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]string
	if status := call(t, http.MethodGet, ts.URL+"/health", "", nil, &body); status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want %q", body["status"], "ok")
	}
}

func TestServer_Register(t *testing.T) {
	_, ts := newTestServer(t)
	register(t, ts.URL, "taken")

	tests := []struct {
		name string
		req  protocol.RegisterRequest
		want int
	}{
		{"ok", protocol.RegisterRequest{Name: "alice", Password: "secret"}, http.StatusCreated},
		{"name taken", protocol.RegisterRequest{Name: "Taken", Password: "secret"}, http.StatusConflict},
		{"empty name", protocol.RegisterRequest{Name: "  ", Password: "secret"}, http.StatusBadRequest},
		{"short password", protocol.RegisterRequest{Name: "bob", Password: "abc"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var auth protocol.AuthResponse
			status := call(t, http.MethodPost, ts.URL+"/register", "", tt.req, &auth)
			if status != tt.want {
				t.Fatalf("status = %d, want %d", status, tt.want)
			}
			if status == http.StatusCreated && (auth.UserID == "" || auth.Token == "") {
				t.Errorf("auth = %+v, want user id and token", auth)
			}
		})
	}
}

func TestServer_Login(t *testing.T) {
	_, ts := newTestServer(t)
	alice := register(t, ts.URL, "alice")

	tests := []struct {
		name     string
		password string
		want     int
	}{
		{"ok", "secret", http.StatusOK},
		{"wrong password", "nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var auth protocol.AuthResponse
			status := call(t, http.MethodPost, ts.URL+"/login", "", protocol.LoginRequest{Name: "alice", Password: tt.password}, &auth)
			if status != tt.want {
				t.Fatalf("status = %d, want %d", status, tt.want)
			}
			if status == http.StatusOK && auth.UserID != alice.UserID {
				t.Errorf("UserID = %q, want %q", auth.UserID, alice.UserID)
			}
		})
	}

	if status := call(t, http.MethodPost, ts.URL+"/login", "", protocol.LoginRequest{Name: "nobody", Password: "secret"}, nil); status != http.StatusUnauthorized {
		t.Errorf("unknown user status = %d, want %d", status, http.StatusUnauthorized)
	}
}

func TestServer_Authentication(t *testing.T) {
	_, ts := newTestServer(t)
	alice := register(t, ts.URL, "alice")
	bob := register(t, ts.URL, "bob")

	if status := call(t, http.MethodGet, ts.URL+"/conversations", "", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want %d", status, http.StatusUnauthorized)
	}
	if status := call(t, http.MethodGet, ts.URL+"/conversations", "garbage", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want %d", status, http.StatusUnauthorized)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	req.Header.Set("x-user-id", bob.UserID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("mismatched user id status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	var me protocol.UserProfile
	if status := call(t, http.MethodGet, ts.URL+"/me", alice.Token, nil, &me); status != http.StatusOK {
		t.Fatalf("me status = %d, want %d", status, http.StatusOK)
	}
	if me.ID != alice.UserID || me.Name != "alice" || me.CreatedAt == "" {
		t.Errorf("me = %+v", me)
	}

	var refreshed protocol.RefreshResponse
	if status := call(t, http.MethodPost, ts.URL+"/refresh", alice.Token, nil, &refreshed); status != http.StatusOK {
		t.Fatalf("refresh status = %d, want %d", status, http.StatusOK)
	}
	if status := call(t, http.MethodGet, ts.URL+"/me", refreshed.Token, nil, nil); status != http.StatusOK {
		t.Errorf("refreshed token status = %d, want %d", status, http.StatusOK)
	}

	var users []protocol.User
	call(t, http.MethodGet, ts.URL+"/users", alice.Token, nil, &users)
	if len(users) != 2 || users[0].Name != "alice" || users[1].Name != "bob" {
		t.Errorf("users = %+v", users)
	}
}

func TestServer_DirectMessages(t *testing.T) {
	_, ts := newTestServer(t)
	alice := register(t, ts.URL, "alice")
	bob := register(t, ts.URL, "bob")
	carol := register(t, ts.URL, "carol")

	var dm protocol.Conversation
	if status := call(t, http.MethodPost, ts.URL+"/dm", alice.Token, map[string]string{"otherUserId": bob.UserID}, &dm); status != http.StatusOK {
		t.Fatalf("dm status = %d, want %d", status, http.StatusOK)
	}
	if dm.Kind != protocol.ConversationDM || len(dm.Members) != 2 {
		t.Fatalf("dm = %+v", dm)
	}

	var again protocol.Conversation
	call(t, http.MethodPost, ts.URL+"/dm", bob.Token, map[string]string{"otherUserId": alice.UserID}, &again)
	if again.ID != dm.ID {
		t.Errorf("second dm id = %q, want %q", again.ID, dm.ID)
	}

	if status := call(t, http.MethodPost, ts.URL+"/dm", alice.Token, map[string]string{"otherUserId": "ghost"}, nil); status != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want %d", status, http.StatusNotFound)
	}
	if status := call(t, http.MethodPost, ts.URL+"/dm", alice.Token, map[string]string{}, nil); status != http.StatusBadRequest {
		t.Errorf("missing user status = %d, want %d", status, http.StatusBadRequest)
	}

	messagesURL := ts.URL + "/conversations/" + dm.ID + "/messages"

	var sent protocol.Message
	if status := call(t, http.MethodPost, messagesURL, alice.Token, map[string]string{"text": "  hi bob "}, &sent); status != http.StatusCreated {
		t.Fatalf("send status = %d, want %d", status, http.StatusCreated)
	}
	if sent.Text != "hi bob" || sent.From != alice.UserID || sent.ConversationID != dm.ID || sent.ID == "" {
		t.Errorf("sent = %+v", sent)
	}
	if status := call(t, http.MethodPost, messagesURL, alice.Token, map[string]string{"text": " "}, nil); status != http.StatusBadRequest {
		t.Errorf("blank text status = %d, want %d", status, http.StatusBadRequest)
	}

	var history []protocol.Message
	call(t, http.MethodGet, messagesURL, bob.Token, nil, &history)
	if len(history) != 1 || history[0].ID != sent.ID {
		t.Errorf("history = %+v", history)
	}

	if status := call(t, http.MethodGet, messagesURL, carol.Token, nil, nil); status != http.StatusForbidden {
		t.Errorf("non-member status = %d, want %d", status, http.StatusForbidden)
	}
	if status := call(t, http.MethodGet, ts.URL+"/conversations/missing/messages", alice.Token, nil, nil); status != http.StatusNotFound {
		t.Errorf("missing conversation status = %d, want %d", status, http.StatusNotFound)
	}

	var convos []protocol.Conversation
	call(t, http.MethodGet, ts.URL+"/conversations", bob.Token, nil, &convos)
	if len(convos) != 1 || convos[0].ID != dm.ID {
		t.Errorf("bob's conversations = %+v", convos)
	}
	call(t, http.MethodGet, ts.URL+"/conversations", carol.Token, nil, &convos)
	if len(convos) != 0 {
		t.Errorf("carol's conversations = %+v, want none", convos)
	}
}

func TestServer_Rooms(t *testing.T) {
	_, ts := newTestServer(t)
	alice := register(t, ts.URL, "alice")
	bob := register(t, ts.URL, "bob")

	var room protocol.Conversation
	if status := call(t, http.MethodPost, ts.URL+"/rooms", alice.Token, map[string]string{"name": "general"}, &room); status != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", status, http.StatusCreated)
	}
	if room.Kind != protocol.ConversationRoom || room.Name != "general" {
		t.Fatalf("room = %+v", room)
	}
	if status := call(t, http.MethodPost, ts.URL+"/rooms", alice.Token, map[string]string{"name": ""}, nil); status != http.StatusBadRequest {
		t.Errorf("empty name status = %d, want %d", status, http.StatusBadRequest)
	}

	var rooms []protocol.Conversation
	call(t, http.MethodGet, ts.URL+"/rooms", bob.Token, nil, &rooms)
	if len(rooms) != 1 || rooms[0].ID != room.ID {
		t.Errorf("rooms = %+v", rooms)
	}

	var joined protocol.Conversation
	if status := call(t, http.MethodPost, ts.URL+"/rooms/"+room.ID+"/join", bob.Token, nil, &joined); status != http.StatusOK {
		t.Fatalf("join status = %d, want %d", status, http.StatusOK)
	}
	if len(joined.Members) != 2 {
		t.Errorf("members = %v, want 2", joined.Members)
	}

	if status := call(t, http.MethodPost, ts.URL+"/rooms/missing/join", bob.Token, nil, nil); status != http.StatusNotFound {
		t.Errorf("missing room status = %d, want %d", status, http.StatusNotFound)
	}

	var dm protocol.Conversation
	call(t, http.MethodPost, ts.URL+"/dm", alice.Token, map[string]string{"otherUserId": bob.UserID}, &dm)
	if status := call(t, http.MethodPost, ts.URL+"/rooms/"+dm.ID+"/join", bob.Token, nil, nil); status != http.StatusBadRequest {
		t.Errorf("join dm status = %d, want %d", status, http.StatusBadRequest)
	}
}

func startServer(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	cfg.BcryptCost = bcrypt.MinCost
	cfg.Logger = zerolog.Nop()
	srv := server.New(cfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func readFrame(t *testing.T, conn interface {
	Read(ctx context.Context) ([]byte, error)
}) protocol.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return protocol.Decode(data)
}

func TestServer_EventStream(t *testing.T) {
	srv := startServer(t, server.Config{})
	base := "http://" + srv.Addr()
	alice := register(t, base, "alice")
	bob := register(t, base, "bob")

	dialer := ws.NewDialer("ws://"+srv.Addr()+"/ws", ws.WithTokenSource(func() string { return bob.Token }))
	conn, err := dialer.Dial(context.Background(), bob.UserID)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if ev := readFrame(t, conn); ev.Kind != protocol.EventHello {
		t.Fatalf("first frame = %v, want hello", ev.Kind)
	}
	if n := srv.ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d, want 1", n)
	}

	var dm protocol.Conversation
	call(t, http.MethodPost, base+"/dm", alice.Token, map[string]string{"otherUserId": bob.UserID}, &dm)
	var sent protocol.Message
	call(t, http.MethodPost, base+"/conversations/"+dm.ID+"/messages", alice.Token, map[string]string{"text": "hello"}, &sent)

	ev := readFrame(t, conn)
	if ev.Kind != protocol.EventMessage {
		t.Fatalf("frame = %v, want message", ev.Kind)
	}
	if ev.Message != sent {
		t.Errorf("message = %+v, want %+v", ev.Message, sent)
	}
}

func TestServer_EventStreamRejects(t *testing.T) {
	srv := startServer(t, server.Config{RequireToken: true})
	base := "http://" + srv.Addr()
	alice := register(t, base, "alice")
	bob := register(t, base, "bob")
	endpoint := "ws://" + srv.Addr() + "/ws"

	tests := []struct {
		name   string
		userID string
		token  string
	}{
		{"unknown user", "ghost", alice.Token},
		{"missing token", alice.UserID, ""},
		{"token for another user", alice.UserID, bob.Token},
		{"invalid token", alice.UserID, "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := tt.token
			dialer := ws.NewDialer(endpoint, ws.WithTokenSource(func() string { return token }))
			conn, err := dialer.Dial(context.Background(), tt.userID)
			if err == nil {
				conn.Close()
				t.Fatal("Dial() succeeded, want error")
			}
		})
	}

	if n := srv.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}
}

func TestServer_StopClosesStreams(t *testing.T) {
	cfg := server.Config{
		Addr:       "127.0.0.1:0",
		BcryptCost: bcrypt.MinCost,
		Logger:     zerolog.Nop(),
	}
	srv := server.New(cfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	alice := register(t, "http://"+srv.Addr(), "alice")

	conn, err := ws.NewDialer("ws://"+srv.Addr()+"/ws").Dial(context.Background(), alice.UserID)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	readFrame(t, conn)

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.Read(ctx); err == nil {
		t.Error("Read() after Stop succeeded, want error")
	}
}

func TestServer_RejectsStreamsAfterStop(t *testing.T) {
	srv, ts := newTestServer(t)
	alice := register(t, ts.URL, "alice")

	srv.Stop()

	if status := call(t, http.MethodGet, ts.URL+"/ws?userId="+alice.UserID, "", nil, nil); status != http.StatusServiceUnavailable {
		t.Errorf("GET /ws after Stop: status = %d, want %d", status, http.StatusServiceUnavailable)
	}

	dialer := ws.NewDialer("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", ws.WithTokenSource(func() string { return alice.Token }))
	conn, err := dialer.Dial(context.Background(), alice.UserID)
	if err == nil {
		conn.Close()
		t.Fatal("Dial() after Stop succeeded, want error")
	}
	if n := srv.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}

	stopped := server.New(server.Config{Addr: "127.0.0.1:0", Logger: zerolog.Nop()})
	stopped.Stop()
	if err := stopped.Start(); err == nil {
		t.Error("Start() after Stop succeeded, want error")
	}
}
