// Package memory is an in-process record and preference store.
package memory

import (
	"context"
	"sort"
	"sync"

	"expenses/internal/core"
	"expenses/internal/records"
)

type Store struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]core.Expense
	prefs  map[string]string
	notify records.Notifier
}

func New() *Store {
	return &Store{
		items: make(map[int64]core.Expense),
		prefs: make(map[string]string),
	}
}

// NewSeeded returns a store pre-filled with expenses; IDs are reassigned in
// slice order.
func NewSeeded(seed []core.Expense) *Store {
	s := New()
	for _, e := range seed {
		s.nextID++
		e.ID = s.nextID
		s.items[e.ID] = e.Normalize()
	}
	return s
}

// Insert stores the expense under a fresh ID.
func (s *Store) Insert(_ context.Context, e core.Expense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.nextID++
	e.ID = s.nextID
	s.items[e.ID] = e.Normalize()
	s.mu.Unlock()

	s.notify.Publish(records.ChangeEvent{Op: records.OpInsert, ID: e.ID})
	return e.ID, nil
}

func (s *Store) Update(_ context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.items[e.ID]; !ok {
		s.mu.Unlock()
		return records.ErrNotFound
	}
	s.items[e.ID] = e.Normalize()
	s.mu.Unlock()

	s.notify.Publish(records.ChangeEvent{Op: records.OpUpdate, ID: e.ID})
	return nil
}

func (s *Store) Delete(_ context.Context, e core.Expense) error {
	s.mu.Lock()
	if _, ok := s.items[e.ID]; !ok {
		s.mu.Unlock()
		return records.ErrNotFound
	}
	delete(s.items, e.ID)
	s.mu.Unlock()

	s.notify.Publish(records.ChangeEvent{Op: records.OpDelete, ID: e.ID})
	return nil
}

func (s *Store) Get(_ context.Context, id int64) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		return core.Expense{}, records.ErrNotFound
	}
	return e, nil
}

func (s *Store) Query(ctx context.Context, f core.Filter) ([]core.Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]core.Expense, 0, len(s.items))
	for _, e := range s.items {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	s.mu.Unlock()

	core.SortRecords(out)
	return out, nil
}

func (s *Store) Subscribe() (<-chan records.ChangeEvent, func()) {
	return s.notify.Subscribe()
}

// Categories returns the distinct categories in use, sorted by name.
func (s *Store) Categories(_ context.Context) ([]string, error) {
	s.mu.Lock()
	seen := make(map[string]struct{})
	for _, e := range s.items {
		seen[e.Category] = struct{}{}
	}
	s.mu.Unlock()

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of stored expenses.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) GetPreference(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.prefs[key]
	return v, ok, nil
}

func (s *Store) SetPreference(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[key] = value
	return nil
}

// Close releases subscribers.
func (s *Store) Close() error {
	s.notify.Close()
	return nil
}
