package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists session records keyed by profile so that separate CLI
// invocations continue the same game.
type Store interface {
	Get(ctx context.Context, profile string) (SessionRecord, bool, error)
	Upsert(ctx context.Context, rec SessionRecord) error
	Delete(ctx context.Context, profile string) error
	Ping(ctx context.Context) error
}

type FileStore struct {
	path string
	mu   sync.RWMutex
	doc  Document
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		doc:  Document{Sessions: map[string]SessionRecord{}, UpdatedAt: time.Now().UTC()},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, profile string) (SessionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.doc.Sessions[profile]
	return r, ok, nil
}

func (s *FileStore) Upsert(_ context.Context, rec SessionRecord) error {
	if rec.Profile == "" {
		return errors.New("session record has no profile")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = time.Now().UTC()
	s.doc.Sessions[rec.Profile] = rec
	s.doc.UpdatedAt = rec.UpdatedAt
	return s.persistLocked()
}

func (s *FileStore) Delete(_ context.Context, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Sessions[profile]; !ok {
		return nil
	}
	delete(s.doc.Sessions, profile)
	s.doc.UpdatedAt = time.Now().UTC()
	return s.persistLocked()
}

// Ping checks that the state directory is usable.
func (s *FileStore) Ping(context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return nil
}

func (s *FileStore) load() error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}
	if doc.Sessions == nil {
		doc.Sessions = map[string]SessionRecord{}
	}
	s.doc = doc
	return nil
}

func (s *FileStore) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
