// Package pipeline keeps the filtered expense list and its totals up to date.
//
// Every change to the filter, the record set or the display currency starts a
// new generation. Only the newest generation is ever published: an older
// computation still in flight is cancelled and its result dropped, so
// subscribers observe snapshots in strictly increasing generation order.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"expenses/internal/core"
	"expenses/internal/records"
)

// CurrencySource provides the active display currency and its changes.
type CurrencySource interface {
	Currency() core.Currency
	Subscribe() (<-chan core.Currency, func())
}

// Snapshot is one consistent published state. It is never modified after
// publication; callers must not mutate Records or ByCategory.
type Snapshot struct {
	core.AggregateResult

	Generation uint64
	Filter     core.Filter
	Currency   core.Currency
	ComputedAt time.Time
}

type Pipeline struct {
	store    records.RecordStore
	currency CurrencySource
	now      func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	filter    core.Filter
	gen       uint64
	cancelRun context.CancelFunc
	holds     int
	pending   bool
	stopped   bool

	current   Snapshot
	lastErr   error
	errGen    uint64
	changed   chan struct{}
	nextSub   int
	subs      map[int]chan Snapshot
	started   bool
	stopWatch func()
}

func New(store records.RecordStore, currency CurrencySource, initial core.Filter) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:      store,
		currency:   currency,
		now:        time.Now,
		baseCtx:    ctx,
		baseCancel: cancel,
		filter:     normalizeFilter(initial),
		changed:    make(chan struct{}),
		subs:       make(map[int]chan Snapshot),
	}
}

// Start computes the first snapshot and begins reacting to store and
// currency changes until Stop is called or ctx is done.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	events, cancelEvents := p.store.Subscribe()
	currencies, cancelCurrencies := p.currency.Subscribe()
	p.stopWatch = func() {
		cancelEvents()
		cancelCurrencies()
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.watch(ctx, events, currencies)

	p.Refresh()
}

// Stop cancels in-flight work and closes every subscriber channel.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if p.cancelRun != nil {
		p.cancelRun()
	}
	stopWatch := p.stopWatch
	p.mu.Unlock()

	if stopWatch != nil {
		stopWatch()
	}
	p.baseCancel()
	p.wg.Wait()

	p.mu.Lock()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	close(p.changed)
	p.changed = nil
	p.mu.Unlock()
}

func (p *Pipeline) watch(ctx context.Context, events <-chan records.ChangeEvent, currencies <-chan core.Currency) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.baseCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			gen := p.Refresh()
			slog.Debug("Record change triggered recompute", "op", ev.Op, "expense_id", ev.ID, "generation", gen)
		case c, ok := <-currencies:
			if !ok {
				return
			}
			gen := p.Refresh()
			slog.Debug("Currency change triggered recompute", "currency", c, "generation", gen)
		}
	}
}

// SetFilter replaces the filter and returns the generation that will
// reflect it. Bounds are truncated to the millisecond precision stores
// keep.
func (p *Pipeline) SetFilter(f core.Filter) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter = normalizeFilter(f)
	return p.requestLocked()
}

// Refresh recomputes with the current filter.
func (p *Pipeline) Refresh() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requestLocked()
}

func (p *Pipeline) Filter() core.Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter
}

// Current returns the latest published snapshot. Its Generation is zero
// until the first computation completes.
func (p *Pipeline) Current() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Hold defers recomputation until the returned release func is called.
// A computation already in flight is cancelled and redone on release, so
// nothing read during the hold is published. Requests made while held
// collapse into a single recompute on release. Holds nest.
func (p *Pipeline) Hold() func() {
	p.mu.Lock()
	p.holds++
	if p.cancelRun != nil {
		p.cancelRun()
		p.cancelRun = nil
		p.pending = true
	}
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.holds--
			if p.holds == 0 && p.pending {
				p.pending = false
				p.launchLocked()
			}
		})
	}
}

// Await blocks until a snapshot at generation gen or later is published.
// It returns the recompute error when the latest generation failed.
func (p *Pipeline) Await(ctx context.Context, gen uint64) (Snapshot, error) {
	for {
		p.mu.Lock()
		if p.current.Generation >= gen && p.current.Generation > 0 {
			s := p.current
			p.mu.Unlock()
			return s, nil
		}
		if p.lastErr != nil && p.errGen >= gen {
			err := p.lastErr
			p.mu.Unlock()
			return Snapshot{}, err
		}
		changed := p.changed
		p.mu.Unlock()

		if changed == nil {
			return Snapshot{}, context.Canceled
		}
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-changed:
		}
	}
}

// Subscribe returns a channel holding the latest snapshot. A slow reader
// skips intermediate snapshots but never sees them out of order. The
// current snapshot, if any, is delivered immediately.
func (p *Pipeline) Subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if p.stopped {
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	if p.current.Generation > 0 {
		ch <- p.current
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if _, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(ch)
			}
		})
	}
}

func (p *Pipeline) requestLocked() uint64 {
	p.gen++
	if p.stopped {
		return p.gen
	}
	if p.cancelRun != nil {
		p.cancelRun()
		p.cancelRun = nil
	}
	if p.holds > 0 {
		p.pending = true
		return p.gen
	}
	p.launchLocked()
	return p.gen
}

func (p *Pipeline) launchLocked() {
	if p.stopped {
		return
	}
	ctx, cancel := context.WithCancel(p.baseCtx)
	p.cancelRun = cancel
	gen, filter := p.gen, p.filter

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.compute(ctx, gen, filter)
	}()
}

func (p *Pipeline) compute(ctx context.Context, gen uint64, filter core.Filter) {
	currency := p.currency.Currency()
	recs, err := p.store.Query(ctx, filter)

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen || ctx.Err() != nil {
		slog.Debug("Discarding superseded computation", "generation", gen, "latest", p.gen)
		return
	}
	p.cancelRun = nil

	if err != nil {
		slog.Error("Failed to recompute expenses", "generation", gen, "error", err)
		p.lastErr = err
		p.errGen = gen
		p.wakeLocked()
		return
	}

	p.current = Snapshot{
		AggregateResult: core.Aggregate(recs),
		Generation:      gen,
		Filter:          filter,
		Currency:        currency,
		ComputedAt:      p.now(),
	}
	p.lastErr = nil
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p.current:
		default:
		}
	}
	p.wakeLocked()

	slog.Debug("Published snapshot",
		"generation", gen,
		"records", len(p.current.Records),
		"total", p.current.Total.String(),
		"currency", currency)
}

func normalizeFilter(f core.Filter) core.Filter {
	f.From = core.NormalizeDate(f.From)
	f.To = core.NormalizeDate(f.To)
	return f
}

func (p *Pipeline) wakeLocked() {
	if p.changed == nil {
		return
	}
	close(p.changed)
	p.changed = make(chan struct{})
}
