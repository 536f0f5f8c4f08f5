package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"spesebook/internal/core"
	"spesebook/internal/storage"
)

// Store keeps the ledger in maps guarded by a single mutex. It loses
// everything on restart and is meant for development and tests.
type Store struct {
	mu         sync.Mutex
	groups     map[string]core.Group
	entries    map[string]core.Entry
	categories map[string]core.Category
	closed     bool
}

var _ storage.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		groups:     make(map[string]core.Group),
		entries:    make(map[string]core.Entry),
		categories: make(map[string]core.Category),
	}
}

func (s *Store) check() error {
	if s.closed {
		return fmt.Errorf("%w: store closed", core.ErrStorageFailure)
	}
	return nil
}

func (s *Store) InsertGroup(_ context.Context, g core.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.groups[g.ID]; ok {
		return fmt.Errorf("insert group %s: %w", g.ID, core.ErrDuplicateKey)
	}
	s.groups[g.ID] = g
	return nil
}

func (s *Store) GetGroup(_ context.Context, id string) (core.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return core.Group{}, err
	}
	g, ok := s.groups[id]
	if !ok {
		return core.Group{}, fmt.Errorf("get group %s: %w", id, core.ErrNotFound)
	}
	return g, nil
}

func (s *Store) ListGroups(_ context.Context) ([]core.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]core.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b core.Group) int {
		if c := cmp.Compare(b.CreatedAt.Millis(), a.CreatedAt.Millis()); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (s *Store) DeleteGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.groups, id)
	return nil
}

func (s *Store) UpdateGroupTotal(_ context.Context, id string) (core.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return core.Group{}, err
	}
	g, ok := s.groups[id]
	if !ok {
		return core.Group{}, fmt.Errorf("get group %s: %w", id, core.ErrNotFound)
	}
	var owned []core.Entry
	for _, e := range s.entries {
		if e.ParentID == id {
			owned = append(owned, e)
		}
	}
	g.TotalExpenses = core.SumAmounts(owned)
	s.groups[id] = g
	return g, nil
}

func (s *Store) InsertEntry(_ context.Context, e core.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.entries[e.ID]; ok {
		return fmt.Errorf("insert entry %s: %w", e.ID, core.ErrDuplicateKey)
	}
	s.entries[e.ID] = e
	return nil
}

func (s *Store) GetEntry(_ context.Context, id string) (core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return core.Entry{}, err
	}
	e, ok := s.entries[id]
	if !ok {
		return core.Entry{}, fmt.Errorf("get entry %s: %w", id, core.ErrNotFound)
	}
	return e, nil
}

func (s *Store) ReplaceEntry(_ context.Context, e core.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.entries[e.ID]; !ok {
		return fmt.Errorf("update entry %s: %w", e.ID, core.ErrNotFound)
	}
	s.entries[e.ID] = e
	return nil
}

func (s *Store) DeleteEntry(_ context.Context, id string) (core.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return core.Entry{}, false, err
	}
	e, ok := s.entries[id]
	if !ok {
		return core.Entry{}, false, nil
	}
	delete(s.entries, id)
	return e, true, nil
}

func (s *Store) ListEntriesByGroup(_ context.Context, parentID string) ([]core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := []core.Entry{}
	for _, e := range s.entries {
		if e.ParentID == parentID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b core.Entry) int {
		if c := cmp.Compare(b.Date.Millis(), a.Date.Millis()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.CreatedAt.Millis(), a.CreatedAt.Millis()); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) PurgeEntriesForGroup(_ context.Context, parentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	var n int64
	for id, e := range s.entries {
		if e.ParentID == parentID {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

// nameTaken reports whether any stored category already uses name.
// Names are unique byte-for-byte, as in the SQLite index.
func (s *Store) nameTaken(name string) bool {
	for _, c := range s.categories {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (s *Store) InsertCategory(_ context.Context, c core.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.categories[c.ID]; ok || s.nameTaken(c.Name) {
		return fmt.Errorf("insert category %s: %w", c.ID, core.ErrDuplicateKey)
	}
	s.categories[c.ID] = c
	return nil
}

func (s *Store) GetCategory(_ context.Context, id string) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return core.Category{}, err
	}
	c, ok := s.categories[id]
	if !ok {
		return core.Category{}, fmt.Errorf("get category %s: %w", id, core.ErrNotFound)
	}
	return c, nil
}

func (s *Store) ListCategories(_ context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]core.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b core.Category) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) CountCategories(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	return len(s.categories), nil
}

func (s *Store) Restore(_ context.Context, groups []core.Group, entries []core.Entry, categories []core.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	s.groups = make(map[string]core.Group, len(groups))
	for _, g := range groups {
		s.groups[g.ID] = g
	}
	s.entries = make(map[string]core.Entry, len(entries))
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	for _, c := range categories {
		if _, ok := s.categories[c.ID]; ok || s.nameTaken(c.Name) {
			continue
		}
		s.categories[c.ID] = c
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
