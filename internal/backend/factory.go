package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"expenses/internal/amqp"
	"expenses/internal/cache"
	"expenses/internal/core"
	"expenses/internal/records/memory"
	"expenses/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		result *BackendResult
		err    error
	)
	switch config.Type {
	case SQLiteBackend:
		result, err = f.createSQLiteBackend(config)
	case MemoryBackend:
		result, err = f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	f.attachEvents(result, config)
	return result, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	var (
		queryCache *cache.LRUCache[[]core.Expense]
		manager    *cache.Manager
	)
	if config.QueryCacheSize > 0 {
		queryCache = cache.NewLRUCache[[]core.Expense](config.QueryCacheSize, config.QueryCacheTTL)
		manager = cache.NewManager()
		manager.Register(queryCache)
		manager.StartCleanup(cleanupInterval(config.QueryCacheTTL))
	}

	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, storage.Options{QueryCache: queryCache})
	if err != nil {
		if manager != nil {
			manager.Stop()
		}
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"query_cache_size", config.QueryCacheSize)

	return &BackendResult{
		Store: repo,
		Ready: repo.Ping,
		Cleanup: func() error {
			if manager != nil {
				manager.Stop()
			}
			return repo.Close()
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*BackendResult, error) {
	store := memory.New()

	f.logger.Info("Initialized memory backend")

	return &BackendResult{
		Store:   store,
		Ready:   func(context.Context) error { return nil },
		Cleanup: store.Close,
	}, nil
}

// attachEvents connects the optional AMQP publisher. A broker that cannot
// be reached only disables events.
func (f *DefaultFactory) attachEvents(result *BackendResult, config Config) {
	if config.AMQPURL == "" {
		return
	}

	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		return
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)

	storeCleanup := result.Cleanup
	result.Events = client
	result.Cleanup = func() error {
		return errors.Join(storeCleanup(), client.Close())
	}
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > time.Minute {
		return time.Minute
	}
	return ttl
}
