package page

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("page: archive not found")

const (
	indexFile    = "index.json"
	defaultLimit = 1000
)

// Store keeps captured archives. With a directory every archive is written
// to <dir>/<id>.html next to a JSON index; without one everything stays in
// memory.
type Store struct {
	mu       sync.RWMutex
	dir      string
	items    map[string]Archive
	contents map[string]string
	latest   string
}

func NewStore(dir string) (*Store, error) {
	s := &Store{
		dir:      dir,
		items:    make(map[string]Archive),
		contents: make(map[string]string),
	}
	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Put stores content under a new id unless a.ID is set.
func (s *Store) Put(a Archive, content string) (Archive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
		// keep List ordered by insertion on coarse clocks
		if prev, ok := s.items[s.latest]; ok && !a.CreatedAt.After(prev.CreatedAt) {
			a.CreatedAt = prev.CreatedAt.Add(time.Nanosecond)
		}
	}
	a.Size = len(content)
	if s.dir != "" {
		if err := os.WriteFile(s.contentPath(a.ID), []byte(content), 0o644); err != nil {
			return Archive{}, fmt.Errorf("write archive: %w", err)
		}
	} else {
		s.contents[a.ID] = content
	}
	s.items[a.ID] = a
	s.latest = a.ID
	if err := s.saveLocked(); err != nil {
		return Archive{}, err
	}
	return a, nil
}

func (s *Store) Get(id string) (Archive, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[id]
	return a, ok
}

func (s *Store) Content(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.items[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.dir == "" {
		return s.contents[id], nil
	}
	data, err := os.ReadFile(s.contentPath(id))
	if err != nil {
		return "", fmt.Errorf("read archive %s: %w", id, err)
	}
	return string(data), nil
}

func (s *Store) Latest() (Archive, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == "" {
		return Archive{}, false
	}
	a, ok := s.items[s.latest]
	return a, ok
}

// List returns archives newest first.
func (s *Store) List() []Archive {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Compact drops the oldest archives beyond limit and reports how many were
// removed.
func (s *Store) Compact(limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = defaultLimit
	}
	if len(s.items) <= limit {
		return 0, nil
	}
	items := s.sortedLocked()
	removed := items[limit:]
	for _, a := range removed {
		delete(s.items, a.ID)
		delete(s.contents, a.ID)
		if s.dir != "" {
			if err := os.Remove(s.contentPath(a.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return 0, fmt.Errorf("remove archive %s: %w", a.ID, err)
			}
		}
	}
	if _, ok := s.items[s.latest]; !ok {
		s.latest = items[0].ID
	}
	if err := s.saveLocked(); err != nil {
		return 0, err
	}
	return len(removed), nil
}

func (s *Store) sortedLocked() []Archive {
	out := make([]Archive, 0, len(s.items))
	for _, a := range s.items {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Archive) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

func (s *Store) contentPath(id string) string {
	return filepath.Join(s.dir, id+".html")
}

func (s *Store) load() error {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read archive index: %w", err)
	}
	var items []Archive
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode archive index: %w", err)
	}
	for _, a := range items {
		s.items[a.ID] = a
	}
	if sorted := s.sortedLocked(); len(sorted) > 0 {
		s.latest = sorted[0].ID
	}
	return nil
}

func (s *Store) saveLocked() error {
	if s.dir == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.sortedLocked(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, indexFile), data, 0o644); err != nil {
		return fmt.Errorf("write archive index: %w", err)
	}
	return nil
}
