package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"expenses/internal/amqp"
	"expenses/internal/core"
	applog "expenses/internal/log"
	"expenses/internal/records"
)

// ExpenseGetter reads the current state of an expense.
type ExpenseGetter interface {
	Get(ctx context.Context, id int64) (core.Expense, error)
}

// Stats counts handled events.
type Stats struct {
	Processed int
	Missing   int
	ByType    map[amqp.EventType]int
}

// EventWorker handles expense events from the queue. With a store it
// checks each record event against the expense as currently stored.
type EventWorker struct {
	store  ExpenseGetter
	logger *applog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewEventWorker returns a worker; store may be nil to only log events.
func NewEventWorker(store ExpenseGetter, logger *applog.Logger) *EventWorker {
	return &EventWorker{
		store:  store,
		logger: logger.WithComponent(applog.ComponentWorker),
		stats:  Stats{ByType: make(map[amqp.EventType]int)},
	}
}

// HandleEvent processes a single event. A returned error requeues it.
func (w *EventWorker) HandleEvent(ctx context.Context, e *amqp.ExpenseEvent) error {
	switch e.Type {
	case amqp.EventCurrencySwitched:
		w.logger.InfoContext(ctx, "Display currency switched",
			applog.FieldCurrency, e.Currency,
			applog.FieldCorrelationID, e.CorrelationID,
			"timestamp", e.Timestamp)
	case amqp.EventDeleted:
		w.logger.InfoContext(ctx, "Expense deleted",
			applog.FieldExpenseID, e.ID,
			"timestamp", e.Timestamp)
	default:
		missing, err := w.checkRecord(ctx, e)
		if err != nil {
			return err
		}
		w.record(e.Type, missing)
		return nil
	}

	w.record(e.Type, false)
	return nil
}

func (w *EventWorker) checkRecord(ctx context.Context, e *amqp.ExpenseEvent) (bool, error) {
	if w.store == nil {
		w.logger.InfoContext(ctx, "Expense event",
			"type", e.Type,
			applog.FieldExpenseID, e.ID,
			applog.FieldAmount, e.Amount,
			applog.FieldCurrency, e.Currency,
			applog.FieldCorrelationID, e.CorrelationID)
		return false, nil
	}

	expense, err := w.store.Get(ctx, e.ID)
	if errors.Is(err, records.ErrNotFound) {
		w.logger.WarnContext(ctx, "Expense from event no longer exists",
			"type", e.Type,
			applog.FieldExpenseID, e.ID)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get expense %d: %w", e.ID, err)
	}

	w.logger.InfoContext(ctx, "Expense event",
		"type", e.Type,
		applog.FieldExpenseID, e.ID,
		"title", expense.Title,
		applog.FieldAmount, expense.Amount.String(),
		applog.FieldCategory, expense.Category,
		applog.FieldCurrency, e.Currency,
		applog.FieldCorrelationID, e.CorrelationID)

	if e.Amount != "" {
		if sent, err := decimal.NewFromString(e.Amount); err == nil && !sent.Equal(expense.Amount) {
			w.logger.DebugContext(ctx, "Stored amount changed since event",
				applog.FieldExpenseID, e.ID,
				"event_amount", e.Amount,
				"stored_amount", expense.Amount.String())
		}
	}
	return false, nil
}

func (w *EventWorker) record(t amqp.EventType, missing bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Processed++
	w.stats.ByType[t]++
	if missing {
		w.stats.Missing++
	}
}

// Stats returns a copy of the counters.
func (w *EventWorker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := Stats{
		Processed: w.stats.Processed,
		Missing:   w.stats.Missing,
		ByType:    make(map[amqp.EventType]int, len(w.stats.ByType)),
	}
	for k, v := range w.stats.ByType {
		out.ByType[k] = v
	}
	return out
}
