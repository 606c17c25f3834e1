package store

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

type processedFile struct {
	ProcessedIDs []string `json:"processed_ids"`
	UpdatedAt    string   `json:"updated_at"`
}

// FileStore keeps processed ids in a JSON document that is rewritten
// atomically after every Add.
type FileStore struct {
	path  string
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	now   func() time.Time
}

// OpenFile loads the store at path. A missing file is an empty set.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		ids:  make(map[string]struct{}),
		now:  time.Now,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read processed ids: %w", err)
	}

	var doc processedFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode processed ids %s: %w", path, err)
	}
	for _, id := range doc.ProcessedIDs {
		if _, ok := s.ids[id]; ok || id == "" {
			continue
		}
		s.ids[id] = struct{}{}
		s.order = append(s.order, id)
	}
	return s, nil
}

func (s *FileStore) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Add records id and rewrites the file. Adding a known id still refreshes
// updated_at.
func (s *FileStore) Add(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; !ok {
		s.ids[id] = struct{}{}
		s.order = append(s.order, id)
	}
	return s.flush()
}

func (s *FileStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) flush() error {
	doc := processedFile{
		ProcessedIDs: append([]string{}, s.order...),
		UpdatedAt:    s.now().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode processed ids: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create processed-id dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write processed ids: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace processed ids: %w", err)
	}
	return nil
}
