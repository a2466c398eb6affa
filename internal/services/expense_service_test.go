package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expenses/internal/amqp"
	"expenses/internal/core"
	"expenses/internal/records"
	"expenses/internal/records/memory"
)

var errDiskFull = errors.New("disk full")

func TestExpenseService_AddExpense(t *testing.T) {
	store := memory.New()
	events := &recordingPublisher{}
	svc := NewExpenseService(store, newSettings(t), events)

	id, err := svc.AddExpense(context.Background(), NewExpenseParams{
		Title:    "  Groceries ",
		Amount:   dec("42.10"),
		Category: "Hrana",
		Date:     day(4),
	})
	require.NoError(t, err)

	got, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Title)
	assert.True(t, got.Amount.Equal(dec("42.10")))

	require.Len(t, events.events, 1)
	assert.Equal(t, amqp.EventCreated, events.events[0].Type)
	assert.Equal(t, id, events.events[0].ID)
	assert.Equal(t, "BAM", events.events[0].Currency)
}

func TestExpenseService_AddExpenseValidation(t *testing.T) {
	tests := []struct {
		name   string
		params NewExpenseParams
		want   error
	}{
		{"blank title", NewExpenseParams{Title: " ", Amount: dec("1"), Category: "Hrana", Date: day(1)}, core.ErrEmptyTitle},
		{"zero amount", NewExpenseParams{Title: "x", Amount: dec("0"), Category: "Hrana", Date: day(1)}, core.ErrInvalidAmount},
		{"negative amount", NewExpenseParams{Title: "x", Amount: dec("-3"), Category: "Hrana", Date: day(1)}, core.ErrInvalidAmount},
		{"no category", NewExpenseParams{Title: "x", Amount: dec("1"), Date: day(1)}, core.ErrEmptyCategory},
		{"no date", NewExpenseParams{Title: "x", Amount: dec("1"), Category: "Hrana"}, core.ErrInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			events := &recordingPublisher{}
			svc := NewExpenseService(store, newSettings(t), events)

			_, err := svc.AddExpense(context.Background(), tt.params)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, core.ErrValidation)
			assert.Zero(t, store.Len())
			assert.Empty(t, events.events)
		})
	}
}

func TestExpenseService_PublishFailureDoesNotFailCommand(t *testing.T) {
	store := memory.New()
	svc := NewExpenseService(store, newSettings(t), &recordingPublisher{err: errors.New("broker down")})

	_, err := svc.AddExpense(context.Background(), NewExpenseParams{Title: "x", Amount: dec("1"), Category: "Hrana", Date: day(1)})
	assert.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestExpenseService_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	events := &recordingPublisher{}
	svc := NewExpenseService(store, newSettings(t), events)

	id := insert(t, store, "Bus", "2", "Prijevoz", day(2))
	e, err := store.Get(ctx, id)
	require.NoError(t, err)

	e.Title = "Tram"
	require.NoError(t, svc.UpdateExpense(ctx, e))
	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Tram", got.Title)

	e.Amount = dec("0")
	assert.ErrorIs(t, svc.UpdateExpense(ctx, e), core.ErrInvalidAmount)

	require.NoError(t, svc.DeleteExpense(ctx, got))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, records.ErrNotFound)

	assert.ErrorIs(t, svc.DeleteExpense(ctx, got), records.ErrNotFound)
	got.Title = "Ghost"
	assert.ErrorIs(t, svc.UpdateExpense(ctx, got), records.ErrNotFound)

	assert.Equal(t, []amqp.EventType{amqp.EventUpdated, amqp.EventDeleted}, events.types())
}

func TestExpenseService_NilPublisher(t *testing.T) {
	svc := NewExpenseService(memory.New(), newSettings(t), nil)
	_, err := svc.AddExpense(context.Background(), NewExpenseParams{Title: "x", Amount: dec("1"), Category: "Hrana", Date: day(1)})
	assert.NoError(t, err)
}
