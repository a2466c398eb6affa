package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"expenses/internal/amqp"
	"expenses/internal/core"
	"expenses/internal/records"
)

// EventPublisher receives change events after a mutation has been stored.
// *amqp.Client implements it.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, event *amqp.ExpenseEvent) error
}

// CurrencyReader reports the active display currency.
type CurrencyReader interface {
	Currency() core.Currency
}

// NewExpenseParams carries the user-supplied fields of a new expense.
type NewExpenseParams struct {
	Title    string
	Amount   decimal.Decimal
	Category string
	Note     string
	Date     time.Time
}

func (p NewExpenseParams) expense() core.Expense {
	return core.Expense{
		Title:    p.Title,
		Amount:   p.Amount,
		Category: p.Category,
		Note:     p.Note,
		Date:     p.Date,
	}
}

// ExpenseService validates expense commands, applies them to the record
// store and publishes change events
type ExpenseService struct {
	store    records.RecordStore
	currency CurrencyReader
	events   EventPublisher
}

// NewExpenseService builds the service. events may be nil.
func NewExpenseService(store records.RecordStore, currency CurrencyReader, events EventPublisher) *ExpenseService {
	return &ExpenseService{
		store:    store,
		currency: currency,
		events:   events,
	}
}

// AddExpense stores a new expense in the current display currency and
// returns its ID.
func (s *ExpenseService) AddExpense(ctx context.Context, p NewExpenseParams) (int64, error) {
	e := p.expense()
	if err := e.Validate(); err != nil {
		return 0, err
	}

	id, err := s.store.Insert(ctx, e.Normalize())
	if err != nil {
		return 0, fmt.Errorf("save expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense added",
		"expense_id", id,
		"amount", e.Amount.String(),
		"category", e.Category)
	s.publish(ctx, amqp.NewExpenseEvent(amqp.EventCreated, id, e.Amount.String(), s.currency.Currency().String()))
	return id, nil
}

// UpdateExpense replaces every field of an existing expense.
func (s *ExpenseService) UpdateExpense(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := s.store.Update(ctx, e.Normalize()); err != nil {
		return fmt.Errorf("update expense %d: %w", e.ID, err)
	}

	slog.InfoContext(ctx, "Expense updated", "expense_id", e.ID)
	s.publish(ctx, amqp.NewExpenseEvent(amqp.EventUpdated, e.ID, e.Amount.String(), s.currency.Currency().String()))
	return nil
}

func (s *ExpenseService) DeleteExpense(ctx context.Context, e core.Expense) error {
	if err := s.store.Delete(ctx, e); err != nil {
		return fmt.Errorf("delete expense %d: %w", e.ID, err)
	}

	slog.InfoContext(ctx, "Expense deleted", "expense_id", e.ID)
	s.publish(ctx, amqp.NewExpenseEvent(amqp.EventDeleted, e.ID, "", s.currency.Currency().String()))
	return nil
}

// publish never fails the command: the mutation is already stored.
func (s *ExpenseService) publish(ctx context.Context, event *amqp.ExpenseEvent) {
	publishEvent(ctx, s.events, event)
}

func publishEvent(ctx context.Context, events EventPublisher, event *amqp.ExpenseEvent) {
	if events == nil {
		return
	}
	if err := events.PublishExpenseEvent(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish expense event",
			"type", event.Type,
			"expense_id", event.ID,
			"error", err)
	}
}
