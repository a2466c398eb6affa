package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expenses/internal/core"
	"expenses/internal/records"
)

func expense(title, amount, cat string, day int) core.Expense {
	return core.Expense{
		Title:    title,
		Amount:   decimal.RequireFromString(amount),
		Category: cat,
		Date:     time.Date(2025, 1, day, 8, 0, 0, 0, time.UTC),
	}
}

func TestInsertQueryOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	idA, err := s.Insert(ctx, expense("A", "100", "Food", 1))
	require.NoError(t, err)
	idB, err := s.Insert(ctx, expense("B", "50", "Food", 2))
	require.NoError(t, err)
	idC, err := s.Insert(ctx, expense("C", "30", "Transport", 1))
	require.NoError(t, err)

	f := core.Filter{From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2025, 1, 2, 23, 0, 0, 0, time.UTC)}
	got, err := s.Query(ctx, f)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{idB, idA, idC}, []int64{got[0].ID, got[1].ID, got[2].ID})

	got, err = s.Query(ctx, f.WithCategory("Transport"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, idC, got[0].ID)
}

func TestInsertRejectsInvalid(t *testing.T) {
	s := New()
	_, err := s.Insert(context.Background(), expense("", "1", "Food", 1))
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, 0, s.Len())
}

func TestUpdateDeleteUnknown(t *testing.T) {
	ctx := context.Background()
	s := New()
	e := expense("A", "1", "Food", 1)
	e.ID = 42
	assert.ErrorIs(t, s.Update(ctx, e), records.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, e), records.ErrNotFound)
	_, err := s.Get(ctx, 42)
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestMutationsNotify(t *testing.T) {
	ctx := context.Background()
	s := New()
	events, cancel := s.Subscribe()
	defer cancel()

	id, err := s.Insert(ctx, expense("A", "1", "Food", 1))
	require.NoError(t, err)
	e, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, e.WithAmount(decimal.NewFromInt(2))))
	require.NoError(t, s.Delete(ctx, e))

	assert.Equal(t, records.ChangeEvent{Op: records.OpInsert, ID: id}, <-events)
	assert.Equal(t, records.ChangeEvent{Op: records.OpUpdate, ID: id}, <-events)
	assert.Equal(t, records.ChangeEvent{Op: records.OpDelete, ID: id}, <-events)
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, ok, err := s.GetPreference(ctx, "currency")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetPreference(ctx, "currency", "EUR"))
	v, ok, err := s.GetPreference(ctx, "currency")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "EUR", v)
}
