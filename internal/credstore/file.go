package credstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// FileStore keeps credentials in a single protobuf-encoded file readable
// only by the owner. Every write replaces the file atomically.
type FileStore struct {
	keyed

	path string
	mu   sync.Mutex
}

// NewFileStore creates a FileStore at path. The file is created on the
// first save.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("credential file path is empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	s := &FileStore{path: path}
	s.keyed = keyed{kv: s}
	return s, nil
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return "", err
	}
	v, ok := doc.GetFields()[key]
	if !ok {
		return "", nil
	}
	return v.GetStringValue(), nil
}

func (s *FileStore) set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.Fields[key] = structpb.NewStringValue(value)
	return s.write(doc)
}

func (s *FileStore) del(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(doc.Fields, k)
	}
	if len(doc.Fields) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove credential file: %w", err)
		}
		return nil
	}
	return s.write(doc)
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read() (*structpb.Struct, error) {
	doc := &structpb.Struct{Fields: make(map[string]*structpb.Value)}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	if err := proto.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to decode credential file: %w", err)
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]*structpb.Value)
	}
	return doc, nil
}

func (s *FileStore) write(doc *structpb.Struct) error {
	data, err := proto.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode credential file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}
