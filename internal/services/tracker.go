package services

import (
	"context"
	"sort"

	"expenses/internal/core"
	"expenses/internal/pipeline"
	"expenses/internal/records"
	"expenses/internal/settings"
)

// Tracker is the surface presentation adapters talk to: the published
// snapshots, the preferences and every command.
type Tracker struct {
	expenses   *ExpenseService
	switcher   *CurrencySwitcher
	pipeline   *pipeline.Pipeline
	settings   *settings.Settings
	categories records.CategoryLister
}

type TrackerDeps struct {
	Store    records.RecordStore
	Settings *settings.Settings
	Events   EventPublisher
	Scope    ConversionScope
	Filter   core.Filter
}

func NewTracker(deps TrackerDeps) *Tracker {
	p := pipeline.New(deps.Store, deps.Settings, deps.Filter)
	lister, _ := deps.Store.(records.CategoryLister)
	return &Tracker{
		expenses:   NewExpenseService(deps.Store, deps.Settings, deps.Events),
		switcher:   NewCurrencySwitcher(deps.Store, deps.Settings, p, deps.Events, deps.Scope),
		pipeline:   p,
		settings:   deps.Settings,
		categories: lister,
	}
}

func (t *Tracker) Start(ctx context.Context) { t.pipeline.Start(ctx) }

func (t *Tracker) Stop() { t.pipeline.Stop() }

// Snapshot returns the latest published state without waiting.
func (t *Tracker) Snapshot() pipeline.Snapshot { return t.pipeline.Current() }

// Sync waits until every change made so far is reflected in a snapshot.
func (t *Tracker) Sync(ctx context.Context) (pipeline.Snapshot, error) {
	return t.pipeline.Await(ctx, t.pipeline.Refresh())
}

func (t *Tracker) Subscribe() (<-chan pipeline.Snapshot, func()) { return t.pipeline.Subscribe() }

func (t *Tracker) Filter() core.Filter { return t.pipeline.Filter() }

// SetFilter applies f and waits for the matching snapshot.
func (t *Tracker) SetFilter(ctx context.Context, f core.Filter) (pipeline.Snapshot, error) {
	return t.pipeline.Await(ctx, t.pipeline.SetFilter(f))
}

func (t *Tracker) Currency() core.Currency { return t.settings.Currency() }

func (t *Tracker) SetCurrency(ctx context.Context, c core.Currency) (ConversionReport, error) {
	return t.switcher.Switch(ctx, c)
}

func (t *Tracker) RetryConversion(ctx context.Context, report ConversionReport) (ConversionReport, error) {
	return t.switcher.Retry(ctx, report)
}

func (t *Tracker) DarkMode() bool { return t.settings.DarkMode() }

func (t *Tracker) SetDarkMode(ctx context.Context, enabled bool) error {
	return t.settings.SetDarkMode(ctx, enabled)
}

func (t *Tracker) AddExpense(ctx context.Context, p NewExpenseParams) (int64, error) {
	return t.expenses.AddExpense(ctx, p)
}

func (t *Tracker) UpdateExpense(ctx context.Context, e core.Expense) error {
	return t.expenses.UpdateExpense(ctx, e)
}

func (t *Tracker) DeleteExpense(ctx context.Context, e core.Expense) error {
	return t.expenses.DeleteExpense(ctx, e)
}

// Categories merges the default categories with those already in use.
func (t *Tracker) Categories(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{}, len(core.DefaultCategories))
	out := append([]string(nil), core.DefaultCategories...)
	for _, c := range out {
		seen[c] = struct{}{}
	}
	if t.categories == nil {
		return out, nil
	}

	used, err := t.categories.Categories(ctx)
	if err != nil {
		return nil, err
	}
	var extra []string
	for _, c := range used {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	return append(out, extra...), nil
}
