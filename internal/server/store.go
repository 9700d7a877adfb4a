package server

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omochice/moldline/pkg/protocol"
)

var (
	errNotFound  = errors.New("not found")
	errForbidden = errors.New("not a member")
	errNameTaken = errors.New("name taken")
	errNotRoom   = errors.New("not a room")
)

type user struct {
	id           string
	name         string
	email        string
	phone        string
	passwordHash []byte
	createdAt    time.Time
}

type conversation struct {
	id        string
	kind      protocol.ConversationKind
	name      string
	members   []string
	messages  []protocol.Message
	updatedAt time.Time
}

func (c *conversation) hasMember(userID string) bool {
	for _, m := range c.members {
		if m == userID {
			return true
		}
	}
	return false
}

func (c *conversation) view() protocol.Conversation {
	return protocol.Conversation{
		ID:      c.id,
		Kind:    c.kind,
		Name:    c.name,
		Members: append([]string(nil), c.members...),
	}
}

// store holds users, conversations and messages in memory.
type store struct {
	mu     sync.RWMutex
	users  map[string]*user
	byName map[string]string
	convos map[string]*conversation
	dms    map[string]string
	now    func() time.Time
}

func newStore() *store {
	return &store{
		users:  make(map[string]*user),
		byName: make(map[string]string),
		convos: make(map[string]*conversation),
		dms:    make(map[string]string),
		now:    time.Now,
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *store) createUser(name string, hash []byte, email, phone string) (*user, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := nameKey(name)
	if _, ok := s.byName[key]; ok {
		return nil, errNameTaken
	}
	u := &user{
		id:           uuid.NewString(),
		name:         strings.TrimSpace(name),
		email:        email,
		phone:        phone,
		passwordHash: hash,
		createdAt:    s.now(),
	}
	s.users[u.id] = u
	s.byName[key] = u.id
	return u, nil
}

func (s *store) userByName(name string) (*user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[nameKey(name)]
	if !ok {
		return nil, false
	}
	return s.users[id], true
}

func (s *store) user(id string) (*user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	return u, ok
}

func (s *store) listUsers() []protocol.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]protocol.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, protocol.User{ID: u.id, Name: u.name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func dmKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// dm returns the direct conversation between a and b, creating it on first
// use.
func (s *store) dm(a, b string) (protocol.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[b]; !ok {
		return protocol.Conversation{}, errNotFound
	}
	key := dmKey(a, b)
	if id, ok := s.dms[key]; ok {
		return s.convos[id].view(), nil
	}

	members := []string{a}
	if b != a {
		members = append(members, b)
	}
	c := &conversation{
		id:        uuid.NewString(),
		kind:      protocol.ConversationDM,
		members:   members,
		updatedAt: s.now(),
	}
	s.convos[c.id] = c
	s.dms[key] = c.id
	return c.view(), nil
}

func (s *store) createRoom(name, creator string) protocol.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &conversation{
		id:        uuid.NewString(),
		kind:      protocol.ConversationRoom,
		name:      strings.TrimSpace(name),
		members:   []string{creator},
		updatedAt: s.now(),
	}
	s.convos[c.id] = c
	return c.view()
}

func (s *store) joinRoom(roomID, userID string) (protocol.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convos[roomID]
	if !ok {
		return protocol.Conversation{}, errNotFound
	}
	if c.kind != protocol.ConversationRoom {
		return protocol.Conversation{}, errNotRoom
	}
	if !c.hasMember(userID) {
		c.members = append(c.members, userID)
	}
	return c.view(), nil
}

func (s *store) rooms() []protocol.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []protocol.Conversation
	for _, c := range s.sortedLocked() {
		if c.kind == protocol.ConversationRoom {
			out = append(out, c.view())
		}
	}
	return out
}

// conversationsFor lists userID's conversations, most recently active first.
func (s *store) conversationsFor(userID string) []protocol.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []protocol.Conversation{}
	for _, c := range s.sortedLocked() {
		if c.hasMember(userID) {
			out = append(out, c.view())
		}
	}
	return out
}

func (s *store) sortedLocked() []*conversation {
	all := make([]*conversation, 0, len(s.convos))
	for _, c := range s.convos {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].updatedAt.Equal(all[j].updatedAt) {
			return all[i].id < all[j].id
		}
		return all[i].updatedAt.After(all[j].updatedAt)
	})
	return all
}

func (s *store) messages(convoID, userID string) ([]protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convos[convoID]
	if !ok {
		return nil, errNotFound
	}
	if !c.hasMember(userID) {
		return nil, errForbidden
	}
	return append([]protocol.Message{}, c.messages...), nil
}

// appendMessage stores a message from userID and returns it with the
// members it must be delivered to.
func (s *store) appendMessage(convoID, userID, text string) (protocol.Message, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convos[convoID]
	if !ok {
		return protocol.Message{}, nil, errNotFound
	}
	if !c.hasMember(userID) {
		return protocol.Message{}, nil, errForbidden
	}

	now := s.now()
	m := protocol.Message{
		ID:             uuid.NewString(),
		ConversationID: convoID,
		From:           userID,
		Text:           text,
		TS:             protocol.MillisFromTime(now),
	}
	c.messages = append(c.messages, m)
	c.updatedAt = now
	return m, append([]string(nil), c.members...), nil
}
