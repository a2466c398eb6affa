// Package settings holds the process-wide display preferences: the display
// currency and the dark-mode flag. Values are loaded once and written
// through to the preference store on every change.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"expenses/internal/core"
	"expenses/internal/records"
)

const (
	KeyCurrency = "currency"
	KeyDarkMode = "dark_mode"
)

type Settings struct {
	store records.PreferenceStore

	mu       sync.RWMutex
	currency core.Currency
	darkMode bool

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan core.Currency
}

// Load reads the persisted preferences. Missing or unreadable values fall
// back to defaultCurrency and light mode.
func Load(ctx context.Context, store records.PreferenceStore, defaultCurrency core.Currency) (*Settings, error) {
	if !defaultCurrency.Valid() {
		return nil, fmt.Errorf("default currency %q: %w", defaultCurrency, core.ErrInvalidCurrency)
	}
	s := &Settings{
		store:    store,
		currency: defaultCurrency,
		subs:     make(map[int]chan core.Currency),
	}

	raw, ok, err := store.GetPreference(ctx, KeyCurrency)
	if err != nil {
		return nil, fmt.Errorf("load currency: %w", err)
	}
	if ok {
		c, err := core.ParseCurrency(raw)
		if err != nil {
			slog.WarnContext(ctx, "Ignoring unknown stored currency", "value", raw, "fallback", defaultCurrency)
		} else {
			s.currency = c
		}
	}

	raw, ok, err = store.GetPreference(ctx, KeyDarkMode)
	if err != nil {
		return nil, fmt.Errorf("load dark mode: %w", err)
	}
	if ok {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			slog.WarnContext(ctx, "Ignoring unreadable dark mode flag", "value", raw)
		} else {
			s.darkMode = b
		}
	}

	return s, nil
}

func (s *Settings) Currency() core.Currency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currency
}

// SetCurrency makes c the current display currency and persists it. The
// in-memory value changes even when persisting fails, since stored amounts
// may already be expressed in c; the error is still returned.
func (s *Settings) SetCurrency(ctx context.Context, c core.Currency) error {
	if !c.Valid() {
		return core.ErrInvalidCurrency
	}
	s.mu.Lock()
	changed := s.currency != c
	s.currency = c
	s.mu.Unlock()

	if changed {
		s.broadcast(c)
	}
	if err := s.store.SetPreference(ctx, KeyCurrency, c.String()); err != nil {
		return fmt.Errorf("persist currency: %w", err)
	}
	return nil
}

func (s *Settings) DarkMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.darkMode
}

func (s *Settings) SetDarkMode(ctx context.Context, enabled bool) error {
	if err := s.store.SetPreference(ctx, KeyDarkMode, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("persist dark mode: %w", err)
	}
	s.mu.Lock()
	s.darkMode = enabled
	s.mu.Unlock()
	return nil
}

// Subscribe delivers the latest currency after each change. Only the most
// recent value is kept for a slow reader.
func (s *Settings) Subscribe() (<-chan core.Currency, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan core.Currency, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *Settings) broadcast(c core.Currency) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- c
	}
}
