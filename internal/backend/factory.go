package backend

import (
	"context"
	"fmt"

	"spesebook/internal/amqp"
	"spesebook/internal/log"
	"spesebook/internal/offline"
	"spesebook/internal/services"
	"spesebook/internal/storage"
	"spesebook/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger  *log.Logger
	metrics services.Recorder
}

// NewFactory creates a new backend factory. metrics may be nil.
func NewFactory(logger *log.Logger, metrics services.Recorder) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger:  logger.WithComponent(log.ComponentBackend),
		metrics: metrics,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	var (
		repo storage.Repository
		err  error
	)
	switch config.Type {
	case SQLiteBackend:
		repo, err = storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	case MemoryBackend:
		repo = memory.New()
		f.logger.Info("Initialized memory backend")
	default:
		return nil, fmt.Errorf("invalid backend type: %s", config.Type)
	}

	opts := []services.Option{services.WithLogger(f.logger)}
	if f.metrics != nil {
		opts = append(opts, services.WithMetrics(f.metrics))
	}

	// Initialize AMQP client (optional)
	if config.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without change events", log.FieldError, err)
		} else {
			opts = append(opts, services.WithPublisher(amqpClient))
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	ledger := services.NewLedgerService(repo, opts...)
	if err := ledger.EnsureDefaultCategories(ctx); err != nil {
		ledger.Close()
		return nil, fmt.Errorf("seed default categories: %w", err)
	}

	return &BackendResult{
		Ledger:  ledger,
		Cleanup: ledger.Close,
	}, nil
}

// CreateOfflineStorage implements Factory.CreateOfflineStorage
func (f *DefaultFactory) CreateOfflineStorage(_ context.Context, config Config) (*OfflineResult, error) {
	switch config.OfflineType {
	case SQLiteBackend:
		store, err := storage.NewSQLiteCacheStorage(config.OfflineDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize offline cache database: %w", err)
		}
		f.logger.Info("Initialized SQLite offline cache", "db_path", config.OfflineDBPath)
		return &OfflineResult{Storage: store, Cleanup: store.Close}, nil
	case MemoryBackend:
		f.logger.Info("Initialized memory offline cache")
		return &OfflineResult{Storage: offline.NewMemoryStorage(), Cleanup: func() error { return nil }}, nil
	default:
		return nil, fmt.Errorf("invalid offline cache backend type: %s", config.OfflineType)
	}
}
