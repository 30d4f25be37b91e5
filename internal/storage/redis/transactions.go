// Package redis keeps authorization transactions in Redis so that they
// expire on their own and are shared by every server instance.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
)

const defaultPrefix = "passage:txn:"

// NewClient creates a go-redis client and verifies the connection.
func NewClient(ctx context.Context, logger *common.Logger, cfg common.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(ctx, cfg.GetConnTimeout())
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	logger.Info().
		Str("address", cfg.Address).
		Int("db", cfg.DB).
		Msg("Redis transaction store initialized")
	return client, nil
}

// TransactionStore implements interfaces.TransactionStore on Redis.
// Keys expire ttl after the transaction's creation date.
type TransactionStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// Option configures a TransactionStore.
type Option func(*TransactionStore)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *TransactionStore) { s.prefix = prefix }
}

// WithClock overrides time.Now for TTL computation.
func WithClock(now func() time.Time) Option {
	return func(s *TransactionStore) { s.now = now }
}

// NewTransactionStore creates a TransactionStore over client.
func NewTransactionStore(client *redis.Client, ttl time.Duration, opts ...Option) *TransactionStore {
	s := &TransactionStore{
		client: client,
		ttl:    ttl,
		prefix: defaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TransactionStore) key(id string) string {
	return s.prefix + id
}

func (s *TransactionStore) SaveTransaction(ctx context.Context, txn *models.Transaction) error {
	data, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	// Updates keep the original deadline
	remaining := txn.CreationDate.Add(s.ttl).Sub(s.now())
	if remaining < time.Second {
		remaining = time.Second
	}
	if err := s.client.Set(ctx, s.key(txn.ID), data, remaining).Err(); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func (s *TransactionStore) FindTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return decodeTransaction(id, s.client.Get(ctx, s.key(id)))
}

// ConsumeTransaction uses GETDEL (Redis 6.2+), so exactly one caller reads the value.
func (s *TransactionStore) ConsumeTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return decodeTransaction(id, s.client.GetDel(ctx, s.key(id)))
}

func decodeTransaction(id string, cmd *redis.StringCmd) (*models.Transaction, error) {
	data, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("transaction %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	var txn models.Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &txn, nil
}

func (s *TransactionStore) DeleteTransaction(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

// Compile-time check
var _ interfaces.TransactionStore = (*TransactionStore)(nil)
