package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"expenses/internal/amqp"
	"expenses/internal/core"
	"expenses/internal/records"
	"expenses/internal/records/memory"
	"expenses/internal/settings"
)

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 12, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newSettings(t *testing.T) *settings.Settings {
	t.Helper()
	s, err := settings.Load(context.Background(), memory.New(), core.BAM)
	require.NoError(t, err)
	return s
}

func insert(t *testing.T, store records.RecordStore, title, amount, category string, date time.Time) int64 {
	t.Helper()
	id, err := store.Insert(context.Background(), core.Expense{
		Title:    title,
		Amount:   dec(amount),
		Category: category,
		Date:     date,
	})
	require.NoError(t, err)
	return id
}

func amountOf(t *testing.T, store records.RecordStore, id int64) decimal.Decimal {
	t.Helper()
	e, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return e.Amount
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.ExpenseEvent
	err    error
}

func (p *recordingPublisher) PublishExpenseEvent(_ context.Context, e *amqp.ExpenseEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// flakyStore fails updates for the listed IDs until they are cleared.
type flakyStore struct {
	*memory.Store
	mu   sync.Mutex
	fail map[int64]bool
}

func newFlakyStore(ids ...int64) *flakyStore {
	s := &flakyStore{Store: memory.New(), fail: make(map[int64]bool)}
	for _, id := range ids {
		s.fail[id] = true
	}
	return s
}

func (s *flakyStore) failOn(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = make(map[int64]bool)
	for _, id := range ids {
		s.fail[id] = true
	}
}

func (s *flakyStore) Update(ctx context.Context, e core.Expense) error {
	s.mu.Lock()
	fail := s.fail[e.ID]
	s.mu.Unlock()
	if fail {
		return &records.StoreError{Op: "update", ID: e.ID, Err: errDiskFull}
	}
	return s.Store.Update(ctx, e)
}

type staticView struct {
	filter   core.Filter
	holds    int
	releases int
}

func (v *staticView) Filter() core.Filter { return v.filter }

func (v *staticView) Hold() func() {
	v.holds++
	return func() { v.releases++ }
}

// failingPrefs persists nothing.
type failingPrefs struct {
	*memory.Store
}

func (failingPrefs) SetPreference(context.Context, string, string) error {
	return errDiskFull
}

// cancellingStore cancels the caller's context after the first update and,
// like the SQLite store, refuses work on a cancelled context.
type cancellingStore struct {
	*memory.Store
	cancel context.CancelFunc
}

func (s *cancellingStore) Update(ctx context.Context, e core.Expense) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.cancel()
	return s.Store.Update(ctx, e)
}

func (s *cancellingStore) Get(ctx context.Context, id int64) (core.Expense, error) {
	if err := ctx.Err(); err != nil {
		return core.Expense{}, err
	}
	return s.Store.Get(ctx, id)
}

// ctxPrefs refuses to persist on a cancelled context.
type ctxPrefs struct {
	*memory.Store
}

func (p ctxPrefs) SetPreference(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Store.SetPreference(ctx, key, value)
}
