// Package usercache maps user ids to display names for rendering.
package usercache

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/moldline/pkg/protocol"
)

// UsersAPI lists every user.
type UsersAPI interface {
	Users(ctx context.Context) ([]protocol.User, error)
}

// Cache loads the user directory once and answers name lookups from it.
// Lookup failures are never surfaced: an unknown id renders as itself.
type Cache struct {
	api UsersAPI
	log zerolog.Logger

	mu     sync.RWMutex
	names  map[string]string
	users  []protocol.User
	loaded bool
}

// New creates an empty Cache.
func New(api UsersAPI, log zerolog.Logger) *Cache {
	return &Cache{
		api:   api,
		log:   log.With().Str("component", "usercache").Logger(),
		names: make(map[string]string),
	}
}

// Load fetches the directory unless it is already loaded. A failed load is
// logged and retried by the next call.
func (c *Cache) Load(ctx context.Context) {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return
	}

	users, err := c.api.Users(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("load users")
		return
	}

	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}

	c.mu.Lock()
	c.names = names
	c.users = users
	c.loaded = true
	c.mu.Unlock()
}

// Name returns the display name for id, or id itself when unknown.
func (c *Cache) Name(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name, ok := c.names[id]; ok && name != "" {
		return name
	}
	return id
}

// Users returns the loaded directory.
func (c *Cache) Users() []protocol.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]protocol.User(nil), c.users...)
}

// Reset forgets the directory, e.g. after a logout.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.names = make(map[string]string)
	c.users = nil
	c.loaded = false
	c.mu.Unlock()
}
