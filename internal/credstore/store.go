// Package credstore persists the session token and user id between runs.
//
// Three backends are provided: a protobuf-encoded file, a SQLite database
// and an in-memory map. A missing value loads as the empty string.
package credstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

const (
	keyToken  = "token"
	keyUserID = "userId"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown credential backend")

// Store persists the session credentials.
type Store interface {
	LoadToken() (string, error)
	SaveToken(token string) error
	DeleteToken() error

	LoadUserID() (string, error)
	SaveUserID(userID string) error
	DeleteUserID() error

	// ClearAll removes both the token and the user id.
	ClearAll() error

	Close() error
}

// Open creates the named backend. path is ignored by the memory backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendFile:
		return NewFileStore(path)
	case BackendSQLite:
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		return NewSQLiteStore(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}
	return nil
}

// kv is the primitive each backend implements.
type kv interface {
	get(key string) (string, error)
	set(key, value string) error
	del(keys ...string) error
}

// keyed implements the Store accessors on top of a kv.
type keyed struct {
	kv kv
}

func (k keyed) LoadToken() (string, error) { return k.kv.get(keyToken) }
func (k keyed) SaveToken(token string) error { return k.kv.set(keyToken, token) }
func (k keyed) DeleteToken() error { return k.kv.del(keyToken) }
func (k keyed) LoadUserID() (string, error) { return k.kv.get(keyUserID) }
func (k keyed) SaveUserID(userID string) error { return k.kv.set(keyUserID, userID) }
func (k keyed) DeleteUserID() error { return k.kv.del(keyUserID) }
func (k keyed) ClearAll() error { return k.kv.del(keyToken, keyUserID) }
