package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"expenses/internal/amqp"
	"expenses/internal/core"
	"expenses/internal/records"
)

// ConversionScope selects which stored expenses a currency switch converts.
type ConversionScope string

const (
	// ScopeVisible converts only the expenses matching the active filter.
	ScopeVisible ConversionScope = "visible"
	// ScopeAll converts every stored expense.
	ScopeAll ConversionScope = "all"
)

func ParseConversionScope(s string) (ConversionScope, error) {
	switch ConversionScope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeVisible, "":
		return ScopeVisible, nil
	case ScopeAll:
		return ScopeAll, nil
	default:
		return "", fmt.Errorf("unknown conversion scope %q", s)
	}
}

// CurrencyState is the display currency holder the switcher updates.
type CurrencyState interface {
	Currency() core.Currency
	SetCurrency(ctx context.Context, c core.Currency) error
}

// View exposes the active filter and lets the switcher suspend
// recomputation while amounts are rewritten.
type View interface {
	Filter() core.Filter
	Hold() func()
}

type ConversionFailure struct {
	ID  int64
	Err error
}

// ConversionReport describes one currency switch.
type ConversionReport struct {
	CorrelationID string
	From          core.Currency
	To            core.Currency
	Converted     []int64
	Failures      []ConversionFailure
}

func (r ConversionReport) FailedIDs() []int64 {
	ids := make([]int64, 0, len(r.Failures))
	for _, f := range r.Failures {
		ids = append(ids, f.ID)
	}
	return ids
}

// ErrStaleConversion is returned by Retry when the named switch has no
// failures left to retry or the display currency has moved on since.
var ErrStaleConversion = errors.New("conversion is no longer pending")

// PartialConversionError is returned when some expenses kept their old
// amount. The currency switch itself has still happened. CorrelationID
// names the switch for Retry.
type PartialConversionError struct {
	CorrelationID string
	Failures      []ConversionFailure
}

func (e *PartialConversionError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, fmt.Sprint(f.ID))
	}
	return fmt.Sprintf("conversion failed for %d expense(s): %s", len(e.Failures), strings.Join(ids, ", "))
}

func (e *PartialConversionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// pendingRun holds the expenses of one switch that still carry amounts in
// the old currency.
type pendingRun struct {
	from core.Currency
	to   core.Currency
	ids  map[int64]struct{}
}

// CurrencySwitcher rewrites stored amounts when the display currency
// changes and then persists the new currency.
type CurrencySwitcher struct {
	store    records.RecordStore
	currency CurrencyState
	view     View
	events   EventPublisher
	scope    ConversionScope

	mu      sync.Mutex
	pending map[string]*pendingRun
}

func NewCurrencySwitcher(store records.RecordStore, currency CurrencyState, view View, events EventPublisher, scope ConversionScope) *CurrencySwitcher {
	if scope == "" {
		scope = ScopeVisible
	}
	return &CurrencySwitcher{
		store:    store,
		currency: currency,
		view:     view,
		events:   events,
		scope:    scope,
		pending:  make(map[string]*pendingRun),
	}
}

// Switch converts the in-scope expenses to newCurrency one by one. A failed
// expense does not stop the loop and nothing is rolled back. The currency is
// switched afterwards regardless, and a *PartialConversionError lists the
// expenses that kept their old amount. Switching to the active currency is a
// no-op.
//
// Once the first amount is rewritten the switch runs to completion even if
// ctx is cancelled. A new switch forgets the failures of earlier ones.
func (s *CurrencySwitcher) Switch(ctx context.Context, newCurrency core.Currency) (ConversionReport, error) {
	if !newCurrency.Valid() {
		return ConversionReport{}, core.ErrInvalidCurrency
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.currency.Currency()
	report := ConversionReport{From: from, To: newCurrency}
	if from == newCurrency {
		return report, nil
	}
	report.CorrelationID = uuid.NewString()

	if s.view != nil {
		release := s.view.Hold()
		defer release()
	}

	filter := core.AllTime()
	if s.scope == ScopeVisible && s.view != nil {
		filter = s.view.Filter()
	}
	targets, err := s.store.Query(ctx, filter)
	if err != nil {
		return report, fmt.Errorf("load expenses to convert: %w", err)
	}

	slog.InfoContext(ctx, "Switching display currency",
		"correlation_id", report.CorrelationID,
		"from", from,
		"to", newCurrency,
		"scope", s.scope,
		"expenses", len(targets))

	work := context.WithoutCancel(ctx)
	clear(s.pending)
	for _, e := range targets {
		s.convert(work, &report, e)
	}

	var partial *PartialConversionError
	if len(report.Failures) > 0 {
		run := &pendingRun{from: from, to: newCurrency, ids: make(map[int64]struct{}, len(report.Failures))}
		for _, f := range report.Failures {
			run.ids[f.ID] = struct{}{}
		}
		s.pending[report.CorrelationID] = run
		partial = &PartialConversionError{CorrelationID: report.CorrelationID, Failures: report.Failures}
		slog.WarnContext(ctx, "Currency switch left expenses unconverted",
			"correlation_id", report.CorrelationID,
			"failed_ids", report.FailedIDs())
	}

	if err := s.currency.SetCurrency(work, newCurrency); err != nil {
		saveErr := fmt.Errorf("save currency: %w", err)
		if partial != nil {
			return report, errors.Join(partial, saveErr)
		}
		return report, saveErr
	}
	publishEvent(work, s.events,
		amqp.NewExpenseEvent(amqp.EventCurrencySwitched, 0, "", newCurrency.String()).WithCorrelation(report.CorrelationID))

	if partial != nil {
		return report, partial
	}

	slog.InfoContext(ctx, "Display currency switched",
		"correlation_id", report.CorrelationID,
		"converted", len(report.Converted))
	return report, nil
}

// Retry converts the expenses still pending from the switch named by
// report.CorrelationID, reading each one fresh from the store. Only IDs the
// switch itself recorded as failed are touched; when report lists failures
// the retry is narrowed to those. Currencies always come from the recorded
// switch. Expenses deleted in the meantime are dropped, and an expense is
// never converted twice.
func (s *CurrencySwitcher) Retry(ctx context.Context, report ConversionReport) (ConversionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.pending[report.CorrelationID]
	if !ok {
		return ConversionReport{CorrelationID: report.CorrelationID}, fmt.Errorf("%w: %q", ErrStaleConversion, report.CorrelationID)
	}
	next := ConversionReport{CorrelationID: report.CorrelationID, From: run.from, To: run.to}
	if active := s.currency.Currency(); active != run.to {
		delete(s.pending, report.CorrelationID)
		return next, fmt.Errorf("%w: display currency is now %s", ErrStaleConversion, active)
	}

	ids := make([]int64, 0, len(run.ids))
	if len(report.Failures) == 0 {
		for id := range run.ids {
			ids = append(ids, id)
		}
	} else {
		for _, f := range report.Failures {
			if _, ok := run.ids[f.ID]; ok {
				ids = append(ids, f.ID)
			}
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	if s.view != nil {
		release := s.view.Hold()
		defer release()
	}

	work := context.WithoutCancel(ctx)
	for _, id := range ids {
		e, err := s.store.Get(work, id)
		if errors.Is(err, records.ErrNotFound) {
			slog.InfoContext(ctx, "Skipping deleted expense", "expense_id", id)
			delete(run.ids, id)
			continue
		}
		if err != nil {
			next.Failures = append(next.Failures, ConversionFailure{ID: id, Err: err})
			continue
		}
		if s.convert(work, &next, e) {
			delete(run.ids, id)
		}
	}
	if len(run.ids) == 0 {
		delete(s.pending, report.CorrelationID)
	}

	if len(next.Failures) > 0 {
		return next, &PartialConversionError{CorrelationID: next.CorrelationID, Failures: next.Failures}
	}
	return next, nil
}

func (s *CurrencySwitcher) convert(ctx context.Context, report *ConversionReport, e core.Expense) bool {
	amount := core.Convert(e.Amount, report.From, report.To)
	if err := s.store.Update(ctx, e.WithAmount(amount)); err != nil {
		slog.ErrorContext(ctx, "Failed to convert expense",
			"correlation_id", report.CorrelationID,
			"expense_id", e.ID,
			"error", err)
		report.Failures = append(report.Failures, ConversionFailure{ID: e.ID, Err: err})
		return false
	}
	report.Converted = append(report.Converted, e.ID)
	publishEvent(ctx, s.events,
		amqp.NewExpenseEvent(amqp.EventConverted, e.ID, amount.String(), report.To.String()).WithCorrelation(report.CorrelationID))
	return true
}
