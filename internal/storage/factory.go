// Package storage selects and assembles the StorageManager backend.
package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/storage/memory"
	"github.com/bobmcallan/passage/internal/storage/postgres"
	redisstore "github.com/bobmcallan/passage/internal/storage/redis"
	"github.com/bobmcallan/passage/internal/storage/surrealdb"
)

// Backend type constants.
const (
	BackendSurrealDB = "surrealdb"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

// NewStorageManager creates the configured backend. When a Redis address is
// configured, authorization transactions are kept in Redis instead.
// Supported backends: "surrealdb" (default), "postgres", "memory".
func NewStorageManager(ctx context.Context, logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	backend := config.Storage.Backend
	if backend == "" {
		backend = BackendSurrealDB
	}

	var (
		primary interfaces.StorageManager
		err     error
	)
	switch backend {
	case BackendSurrealDB:
		primary, err = surrealdb.NewManager(logger, config)
	case BackendPostgres:
		primary, err = postgres.NewManager(ctx, logger, config)
	case BackendMemory:
		logger.Warn().Msg("Using in-memory storage: all data is lost on restart")
		primary = memory.NewManager(logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: surrealdb, postgres, memory)", backend)
	}
	if err != nil {
		return nil, err
	}

	if config.Storage.Redis.Address == "" {
		return primary, nil
	}

	client, err := redisstore.NewClient(ctx, logger, config.Storage.Redis)
	if err != nil {
		primary.Close()
		return nil, err
	}
	txns := redisstore.NewTransactionStore(client, config.OAuth.GetTransactionTTL())
	return NewManager(primary, txns, client.Close), nil
}
