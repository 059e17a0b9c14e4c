package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
)

// FileStore keeps every snapshot in one JSON document keyed by cache key.
// Writes go through a temp file and a rename so a crash mid-write never
// leaves a truncated document behind.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileEntries map[string]json.RawMessage

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Get(_ context.Context, key Key) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	raw, ok := entries[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return decode(raw)
}

func (s *FileStore) Put(_ context.Context, key Key, snap *model.Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadForWrite()
	if err != nil {
		return err
	}
	entries[key.String()] = raw
	return s.save(entries)
}

func (s *FileStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadForWrite()
	if err != nil {
		return err
	}
	if _, ok := entries[key.String()]; !ok {
		return nil
	}
	delete(entries, key.String())
	return s.save(entries)
}

func (s *FileStore) List(_ context.Context, userID int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}

	var ids []string
	for k := range entries {
		if examID, ok := config.CacheKey.ExamIDFromSnapshotKey(userID, k); ok {
			ids = append(ids, examID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) PruneExpired(_ context.Context, before time.Time) (int, error) {
	cutoff := before.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return 0, err
	}

	n := 0
	for k, raw := range entries {
		if expiredBefore(raw, cutoff) {
			delete(entries, k)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.save(entries)
}

func (s *FileStore) load() (fileEntries, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileEntries{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fileEntries{}, nil
	}

	var entries fileEntries
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if entries == nil {
		entries = fileEntries{}
	}
	return entries, nil
}

// loadForWrite treats an unreadable document as empty: its entries are lost
// either way, and writing a fresh document lets new sessions proceed.
func (s *FileStore) loadForWrite() (fileEntries, error) {
	entries, err := s.load()
	if errors.Is(err, ErrCorrupt) {
		return fileEntries{}, nil
	}
	return entries, err
}

func (s *FileStore) save(entries fileEntries) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.path, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
