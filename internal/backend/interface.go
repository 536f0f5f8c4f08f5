package backend

import (
	"context"
	"slices"

	"spesebook/internal/offline"
	"spesebook/internal/services"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the ledger service and its cleanup function.
type BackendResult struct {
	Ledger  *services.LedgerService
	Cleanup CleanupFunc
}

// OfflineResult contains the offline cache storage and its cleanup function.
type OfflineResult struct {
	Storage offline.CacheStorage
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend opens the ledger repository, wires the optional change
	// publisher and seeds default categories.
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
	// CreateOfflineStorage opens the storage behind the offline cache.
	CreateOfflineStorage(ctx context.Context, config Config) (*OfflineResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Ledger storage
	Type         BackendType
	SQLiteDBPath string

	// Change events; empty URL disables them.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Offline cache storage
	OfflineType   BackendType
	OfflineDBPath string
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
	return slices.Contains(GetBackendTypes(), bt)
}
