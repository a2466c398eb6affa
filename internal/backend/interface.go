// Package backend builds the record store, preference store and event
// publisher selected by configuration.
package backend

import (
	"context"

	"expenses/internal/amqp"
	"expenses/internal/records"
)

// Store is everything the application needs from a data backend.
type Store interface {
	records.RecordStore
	records.PreferenceStore
	records.CategoryLister
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and its cleanup function.
// Events is nil when AMQP is not configured or unreachable.
type BackendResult struct {
	Store   Store
	Events  *amqp.Client
	Ready   func(ctx context.Context) error
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
