// Package records defines the record store port consumed by the pipeline
// and the services, together with the change notification they share.
package records

import (
	"context"
	"errors"
	"fmt"

	"expenses/internal/core"
)

// ErrNotFound is returned when an update, delete or get names an unknown ID.
var ErrNotFound = errors.New("expense not found")

// Ports for the record store adapters.
type (
	// RecordStore is a durable collection of expenses. Each individual
	// mutation is atomic.
	RecordStore interface {
		Insert(ctx context.Context, e core.Expense) (id int64, err error)
		Update(ctx context.Context, e core.Expense) error
		Delete(ctx context.Context, e core.Expense) error
		Get(ctx context.Context, id int64) (core.Expense, error)

		// Query returns every expense matching f, date descending with
		// ties broken by ascending ID.
		Query(ctx context.Context, f core.Filter) ([]core.Expense, error)

		// Subscribe delivers a notification after each committed mutation.
		// Calling cancel releases the subscription.
		Subscribe() (events <-chan ChangeEvent, cancel func())
	}

	// CategoryLister reports the categories already in use.
	CategoryLister interface {
		Categories(ctx context.Context) ([]string, error)
	}

	// PreferenceStore persists key/value settings.
	PreferenceStore interface {
		GetPreference(ctx context.Context, key string) (value string, ok bool, err error)
		SetPreference(ctx context.Context, key, value string) error
	}
)

// StoreError wraps a persistence failure with the operation that hit it.
type StoreError struct {
	Op  string
	ID  int64
	Err error
}

func (e *StoreError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("store %s expense %d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
