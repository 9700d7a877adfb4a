package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/omochice/moldline/internal/chat"
	"github.com/omochice/moldline/internal/client"
	"github.com/omochice/moldline/pkg/protocol"
)

type fakeConversationAPI struct {
	mu      sync.Mutex
	convos  []protocol.Conversation
	calls   int
	failDM  bool
	joined  []string
	started chan struct{}
	// release, when set, blocks the first Conversations call until closed.
	release chan struct{}
}

func (f *fakeConversationAPI) Conversations(ctx context.Context) ([]protocol.Conversation, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	release := f.release
	convos := append([]protocol.Conversation(nil), f.convos...)
	f.mu.Unlock()

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if first && release != nil {
		<-release
	}
	return convos, nil
}

func (f *fakeConversationAPI) CreateDM(ctx context.Context, otherUserID string) (protocol.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDM {
		return protocol.Conversation{}, errors.New("no such user")
	}
	c := protocol.Conversation{ID: "dm-" + otherUserID, Kind: protocol.ConversationDM, Members: []string{"me", otherUserID}}
	f.convos = append(f.convos, c)
	return c, nil
}

func (f *fakeConversationAPI) CreateRoom(ctx context.Context, name string) (protocol.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := protocol.Conversation{ID: "room-" + name, Kind: protocol.ConversationRoom, Members: []string{"me"}}
	f.convos = append(f.convos, c)
	return c, nil
}

func (f *fakeConversationAPI) JoinRoom(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
	f.convos = append(f.convos, protocol.Conversation{ID: roomID, Kind: protocol.ConversationRoom})
	return nil
}

func (f *fakeConversationAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestConversationList_CreateReloads(t *testing.T) {
	api := &fakeConversationAPI{}
	l := chat.NewConversationList(api, nil)
	defer l.Close()

	dm, err := l.CreateDM(context.Background(), "bob")
	if err != nil {
		t.Fatalf("CreateDM() error = %v", err)
	}
	if _, err := l.CreateRoom(context.Background(), "general"); err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
	if err := l.JoinRoom(context.Background(), "room-x"); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}

	if got := len(l.Conversations()); got != 3 {
		t.Errorf("Conversations() len = %d, want 3", got)
	}
	if _, ok := l.Find(dm.ID); !ok {
		t.Errorf("Find(%q) = false after CreateDM", dm.ID)
	}
	if got := api.callCount(); got != 3 {
		t.Errorf("reloads = %d, want 3", got)
	}
}

func TestConversationList_CreateFailureSkipsReload(t *testing.T) {
	api := &fakeConversationAPI{failDM: true}
	l := chat.NewConversationList(api, nil)
	defer l.Close()

	if _, err := l.CreateDM(context.Background(), "ghost"); err == nil {
		t.Fatal("CreateDM() error = nil, want failure")
	}
	if got := api.callCount(); got != 0 {
		t.Errorf("reloads = %d, want 0", got)
	}
}

func TestConversationList_LiveMessageTriggersReload(t *testing.T) {
	reg := client.NewRegistry(zerolog.Nop(), nil)
	api := &fakeConversationAPI{convos: []protocol.Conversation{{ID: "c1", Kind: protocol.ConversationDM}}}

	l := chat.NewConversationList(api, reg, chat.WithRefreshRate(rate.Inf))
	defer l.Close()

	reg.Dispatch(msg("m1", "c1"))

	waitUntil(t, "reload", func() bool { return len(l.Conversations()) == 1 })
}

func TestConversationList_BurstIsCoalesced(t *testing.T) {
	reg := client.NewRegistry(zerolog.Nop(), nil)
	api := &fakeConversationAPI{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}

	l := chat.NewConversationList(api, reg, chat.WithRefreshRate(rate.Every(20*time.Millisecond)))
	defer l.Close()

	reg.Dispatch(msg("m0", "c1"))
	select {
	case <-api.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the first reload")
	}

	// The first reload is in flight; the burst collapses into one more.
	for i := 0; i < 20; i++ {
		reg.Dispatch(msg("m", "c1"))
	}
	close(api.release)

	waitUntil(t, "trailing reload", func() bool { return api.callCount() == 2 })
	time.Sleep(100 * time.Millisecond)

	if got := api.callCount(); got != 2 {
		t.Errorf("reloads = %d, want 2", got)
	}
}

func TestConversationList_CloseUnsubscribes(t *testing.T) {
	reg := client.NewRegistry(zerolog.Nop(), nil)
	api := &fakeConversationAPI{}

	l := chat.NewConversationList(api, reg)
	l.Close()
	l.Close()

	if reg.Len() != 0 {
		t.Errorf("registry handlers = %d after Close, want 0", reg.Len())
	}
	reg.Dispatch(msg("m1", "c1"))
	time.Sleep(20 * time.Millisecond)
	if got := api.callCount(); got != 0 {
		t.Errorf("reloads after Close = %d, want 0", got)
	}
}
