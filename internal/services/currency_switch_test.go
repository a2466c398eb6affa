package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expenses/internal/amqp"
	"expenses/internal/core"
	"expenses/internal/records/memory"
	"expenses/internal/settings"
)

func TestParseConversionScope(t *testing.T) {
	tests := []struct {
		in      string
		want    ConversionScope
		wantErr bool
	}{
		{"", ScopeVisible, false},
		{"visible", ScopeVisible, false},
		{" ALL ", ScopeAll, false},
		{"some", "", true},
	}
	for _, tt := range tests {
		got, err := ParseConversionScope(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestCurrencySwitch_VisibleScope(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	a := insert(t, store, "A", "100", "Food", day(1))
	b := insert(t, store, "B", "50", "Food", day(2))
	outside := insert(t, store, "Old", "196", "Food", day(20))

	cur := newSettings(t)
	view := &staticView{filter: core.Filter{From: day(1), To: day(2)}}
	events := &recordingPublisher{}
	sw := NewCurrencySwitcher(store, cur, view, events, ScopeVisible)

	report, err := sw.Switch(ctx, core.EUR)
	require.NoError(t, err)
	assert.Equal(t, core.EUR, cur.Currency())
	assert.ElementsMatch(t, []int64{a, b}, report.Converted)
	assert.NotEmpty(t, report.CorrelationID)

	assert.True(t, amountOf(t, store, a).Equal(core.Convert(dec("100"), core.BAM, core.EUR)))
	assert.True(t, amountOf(t, store, b).Equal(core.Convert(dec("50"), core.BAM, core.EUR)))
	assert.True(t, amountOf(t, store, outside).Equal(dec("196")), "expenses outside the filter keep their amount")

	assert.Equal(t, 1, view.holds)
	assert.Equal(t, 1, view.releases)

	types := events.types()
	require.Len(t, types, 3)
	assert.Equal(t, amqp.EventCurrencySwitched, types[2])
	for _, e := range events.events {
		assert.Equal(t, report.CorrelationID, e.CorrelationID)
	}
}

func TestCurrencySwitch_AllScope(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	a := insert(t, store, "A", "100", "Food", day(1))
	outside := insert(t, store, "Old", "196", "Food", day(20))

	view := &staticView{filter: core.Filter{From: day(1), To: day(2)}}
	sw := NewCurrencySwitcher(store, newSettings(t), view, nil, ScopeAll)

	report, err := sw.Switch(ctx, core.EUR)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a, outside}, report.Converted)
	assert.True(t, amountOf(t, store, outside).Equal(dec("100")))
}

func TestCurrencySwitch_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	a := insert(t, store, "A", "100", "Food", day(1))
	cur := newSettings(t)
	sw := NewCurrencySwitcher(store, cur, &staticView{filter: core.AllTime()}, nil, ScopeVisible)

	_, err := sw.Switch(ctx, core.EUR)
	require.NoError(t, err)
	_, err = sw.Switch(ctx, core.BAM)
	require.NoError(t, err)

	diff := amountOf(t, store, a).Sub(dec("100")).Abs()
	assert.True(t, diff.LessThanOrEqual(dec("0.000000001")), "drift %s", diff)
	assert.Equal(t, core.BAM, cur.Currency())
}

func TestCurrencySwitch_SameCurrencyIsNoop(t *testing.T) {
	store := newFlakyStore()
	a := insert(t, store, "A", "100", "Food", day(1))
	view := &staticView{filter: core.AllTime()}
	events := &recordingPublisher{}
	sw := NewCurrencySwitcher(store, newSettings(t), view, events, ScopeVisible)

	report, err := sw.Switch(context.Background(), core.BAM)
	require.NoError(t, err)
	assert.Empty(t, report.Converted)
	assert.Zero(t, view.holds)
	assert.Empty(t, events.events)
	assert.True(t, amountOf(t, store, a).Equal(dec("100")))
}

func TestCurrencySwitch_RejectsUnknownCurrency(t *testing.T) {
	sw := NewCurrencySwitcher(newFlakyStore(), newSettings(t), nil, nil, ScopeAll)
	_, err := sw.Switch(context.Background(), core.Currency("USD"))
	assert.ErrorIs(t, err, core.ErrInvalidCurrency)
}

func TestCurrencySwitch_PartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	a := insert(t, store, "A", "100", "Food", day(1))
	b := insert(t, store, "B", "50", "Food", day(2))
	c := insert(t, store, "C", "30", "Transport", day(1))
	store.failOn(b)

	cur := newSettings(t)
	sw := NewCurrencySwitcher(store, cur, &staticView{filter: core.AllTime()}, nil, ScopeVisible)

	report, err := sw.Switch(ctx, core.EUR)
	require.Error(t, err)

	var partial *PartialConversionError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, report.CorrelationID, partial.CorrelationID)
	assert.Equal(t, []int64{b}, report.FailedIDs())
	assert.ErrorIs(t, err, errDiskFull)
	assert.Contains(t, err.Error(), "1 expense(s)")

	assert.Equal(t, core.EUR, cur.Currency(), "currency switches despite failures")
	assert.ElementsMatch(t, []int64{a, c}, report.Converted)
	assert.True(t, amountOf(t, store, b).Equal(dec("50")))

	store.failOn()
	retried, err := sw.Retry(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, retried.Converted)
	assert.True(t, amountOf(t, store, b).Equal(core.Convert(dec("50"), core.BAM, core.EUR)))
}

func TestCurrencySwitch_RetrySkipsDeleted(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	b := insert(t, store, "B", "50", "Food", day(2))
	store.failOn(b)

	sw := NewCurrencySwitcher(store, newSettings(t), nil, nil, ScopeAll)
	report, err := sw.Switch(ctx, core.EUR)
	require.Error(t, err)

	e, err := store.Get(ctx, b)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, e))

	retried, err := sw.Retry(ctx, report)
	require.NoError(t, err)
	assert.Empty(t, retried.Converted)
	assert.Empty(t, retried.Failures)
}

func TestCurrencySwitch_RetryConvertsOnce(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	a := insert(t, store, "A", "100", "Food", day(1))
	b := insert(t, store, "B", "50", "Food", day(2))
	store.failOn(b)

	sw := NewCurrencySwitcher(store, newSettings(t), nil, nil, ScopeAll)
	report, err := sw.Switch(ctx, core.EUR)
	require.Error(t, err)
	store.failOn()

	retried, err := sw.Retry(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, retried.Converted)

	_, err = sw.Retry(ctx, report)
	assert.ErrorIs(t, err, ErrStaleConversion)

	want := core.Convert(dec("50"), core.BAM, core.EUR)
	assert.True(t, amountOf(t, store, b).Equal(want), "got %s want %s", amountOf(t, store, b), want)
	assert.True(t, amountOf(t, store, a).Equal(core.Convert(dec("100"), core.BAM, core.EUR)))
}

func TestCurrencySwitch_RetryOnlyTouchesRecordedFailures(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	a := insert(t, store, "A", "100", "Food", day(1))
	b := insert(t, store, "B", "50", "Food", day(2))
	store.failOn(b)

	sw := NewCurrencySwitcher(store, newSettings(t), nil, nil, ScopeAll)
	report, err := sw.Switch(ctx, core.EUR)
	require.Error(t, err)
	store.failOn()

	forged := ConversionReport{
		CorrelationID: report.CorrelationID,
		From:          core.EUR,
		To:            core.BAM,
		Failures:      []ConversionFailure{{ID: a}, {ID: b}, {ID: b}},
	}
	retried, err := sw.Retry(ctx, forged)
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, retried.Converted)
	assert.Equal(t, core.BAM, retried.From)
	assert.Equal(t, core.EUR, retried.To)

	assert.True(t, amountOf(t, store, a).Equal(core.Convert(dec("100"), core.BAM, core.EUR)))
	assert.True(t, amountOf(t, store, b).Equal(core.Convert(dec("50"), core.BAM, core.EUR)))
}

func TestCurrencySwitch_RetryRejectedAfterCurrencyMoved(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	b := insert(t, store, "B", "50", "Food", day(2))
	store.failOn(b)

	cur := newSettings(t)
	sw := NewCurrencySwitcher(store, cur, nil, nil, ScopeAll)
	report, err := sw.Switch(ctx, core.EUR)
	require.Error(t, err)
	store.failOn()

	require.NoError(t, cur.SetCurrency(ctx, core.BAM))
	_, err = sw.Retry(ctx, report)
	assert.ErrorIs(t, err, ErrStaleConversion)
	assert.True(t, amountOf(t, store, b).Equal(dec("50")))
}

func TestCurrencySwitch_RetryUnknownRun(t *testing.T) {
	sw := NewCurrencySwitcher(newFlakyStore(), newSettings(t), nil, nil, ScopeAll)
	_, err := sw.Retry(context.Background(), ConversionReport{CorrelationID: "nope"})
	assert.ErrorIs(t, err, ErrStaleConversion)
}

func TestCurrencySwitch_NewSwitchForgetsOldFailures(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	b := insert(t, store, "B", "50", "Food", day(2))
	store.failOn(b)

	sw := NewCurrencySwitcher(store, newSettings(t), nil, nil, ScopeAll)
	first, err := sw.Switch(ctx, core.EUR)
	require.Error(t, err)
	store.failOn()

	_, err = sw.Switch(ctx, core.BAM)
	require.NoError(t, err)
	_, err = sw.Switch(ctx, core.EUR)
	require.NoError(t, err)

	_, err = sw.Retry(ctx, first)
	assert.ErrorIs(t, err, ErrStaleConversion)
}

func TestCurrencySwitch_PartialFailureSurvivesSaveError(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	insert(t, store, "A", "100", "Food", day(1))
	b := insert(t, store, "B", "50", "Food", day(2))
	store.failOn(b)

	cur, err := settings.Load(ctx, failingPrefs{memory.New()}, core.BAM)
	require.NoError(t, err)
	sw := NewCurrencySwitcher(store, cur, nil, nil, ScopeAll)

	report, err := sw.Switch(ctx, core.EUR)
	require.Error(t, err)

	var partial *PartialConversionError
	require.True(t, errors.As(err, &partial), err.Error())
	require.Len(t, partial.Failures, 1)
	assert.Equal(t, b, partial.Failures[0].ID)
	assert.Equal(t, report.CorrelationID, partial.CorrelationID)
	assert.Contains(t, err.Error(), "save currency")
	assert.Equal(t, core.EUR, cur.Currency())

	store.failOn()
	retried, err := sw.Retry(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, retried.Converted)
}

func TestCurrencySwitch_FinishesWhenCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &cancellingStore{Store: memory.New(), cancel: cancel}
	a := insert(t, store, "A", "100", "Food", day(1))
	b := insert(t, store, "B", "50", "Food", day(2))

	prefs := ctxPrefs{memory.New()}
	cur, err := settings.Load(context.Background(), prefs, core.BAM)
	require.NoError(t, err)
	sw := NewCurrencySwitcher(store, cur, nil, nil, ScopeAll)

	report, err := sw.Switch(ctx, core.EUR)
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.ElementsMatch(t, []int64{a, b}, report.Converted)

	reloaded, err := settings.Load(context.Background(), prefs, core.BAM)
	require.NoError(t, err)
	assert.Equal(t, core.EUR, reloaded.Currency())
	assert.True(t, amountOf(t, store, a).Equal(core.Convert(dec("100"), core.BAM, core.EUR)))
	assert.True(t, amountOf(t, store, b).Equal(core.Convert(dec("50"), core.BAM, core.EUR)))
}
