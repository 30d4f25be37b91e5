// Package postgres implements the StorageManager on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
)

// schema is applied on every start; all statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS applications (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		redirect_uri  TEXT NOT NULL,
		owner         TEXT NOT NULL,
		secret_hash   TEXT NOT NULL DEFAULT '',
		trusted       BOOLEAN NOT NULL DEFAULT FALSE,
		creation_date TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS applications_owner_idx ON applications (owner)`,
	`CREATE TABLE IF NOT EXISTS users (
		uid           TEXT PRIMARY KEY,
		username      TEXT NOT NULL,
		avatar        TEXT NOT NULL DEFAULT '',
		scopes        TEXT[] NOT NULL DEFAULT '{}',
		private       BOOLEAN NOT NULL DEFAULT FALSE,
		applications  TEXT[] NOT NULL DEFAULT '{}',
		creation_date TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS authorization_codes (
		code           TEXT PRIMARY KEY,
		application_id TEXT NOT NULL,
		redirect_uri   TEXT NOT NULL,
		uid            TEXT NOT NULL,
		scope          TEXT[] NOT NULL,
		creation_date  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS access_tokens (
		token          TEXT PRIMARY KEY,
		uid            TEXT NOT NULL,
		application_id TEXT NOT NULL,
		scope          TEXT[] NOT NULL,
		creation_date  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS access_tokens_pair_idx ON access_tokens (uid, application_id)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token          TEXT PRIMARY KEY,
		uid            TEXT NOT NULL,
		application_id TEXT NOT NULL,
		scope          TEXT[] NOT NULL,
		creation_date  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS refresh_tokens_pair_idx ON refresh_tokens (uid, application_id)`,
	`CREATE TABLE IF NOT EXISTS oauth_transactions (
		id             TEXT PRIMARY KEY,
		session_id     TEXT NOT NULL,
		uid            TEXT NOT NULL,
		application_id TEXT NOT NULL,
		redirect_uri   TEXT NOT NULL,
		scope          TEXT[] NOT NULL,
		state          TEXT NOT NULL,
		client_state   TEXT NOT NULL DEFAULT '',
		creation_date  TIMESTAMPTZ NOT NULL
	)`,
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Manager implements interfaces.StorageManager using a pgx connection pool.
type Manager struct {
	pool   *pgxpool.Pool
	logger *common.Logger

	applicationStore *ApplicationStore
	userStore        *UserStore
	codeStore        *CodeStore
	accessStore      *TokenStore
	refreshStore     *TokenStore
	transactionStore *TransactionStore
}

// NewManager connects to Postgres, applies the schema and builds the stores.
func NewManager(ctx context.Context, logger *common.Logger, config *common.Config) (*Manager, error) {
	cfg := config.Storage.Postgres

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	m, err := newManager(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Str("database", poolConfig.ConnConfig.Database).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("Postgres storage manager initialized")

	return m, nil
}

func newManager(ctx context.Context, pool *pgxpool.Pool, logger *common.Logger) (*Manager, error) {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &Manager{
		pool:             pool,
		logger:           logger,
		applicationStore: &ApplicationStore{db: pool},
		userStore:        &UserStore{db: pool},
		codeStore:        &CodeStore{db: pool},
		accessStore:      &TokenStore{db: pool, table: "access_tokens"},
		refreshStore:     &TokenStore{db: pool, table: "refresh_tokens"},
		transactionStore: &TransactionStore{db: pool},
	}, nil
}

func (m *Manager) ApplicationStore() interfaces.ApplicationStore {
	return m.applicationStore
}

func (m *Manager) UserStore() interfaces.UserStore {
	return m.userStore
}

func (m *Manager) CodeStore() interfaces.CodeStore {
	return m.codeStore
}

func (m *Manager) AccessTokenStore() interfaces.TokenStore {
	return m.accessStore
}

func (m *Manager) RefreshTokenStore() interfaces.TokenStore {
	return m.refreshStore
}

func (m *Manager) TransactionStore() interfaces.TransactionStore {
	return m.transactionStore
}

func (m *Manager) TokenSwapper() interfaces.TokenSwapper {
	return m
}

// SwapTokens replaces the token pair for (uid, application_id) in one transaction.
func (m *Manager) SwapTokens(ctx context.Context, access, refresh *models.ApplicationToken) error {
	if access.UID != refresh.UID || access.ApplicationID != refresh.ApplicationID {
		return fmt.Errorf("token pair must share uid and application id")
	}

	return pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		// Concurrent swaps for the same pair would otherwise both delete and
		// then both insert under READ COMMITTED.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, access.UID+"/"+access.ApplicationID); err != nil {
			return fmt.Errorf("failed to lock token pair: %w", err)
		}

		accessTx := &TokenStore{db: tx, table: m.accessStore.table}
		refreshTx := &TokenStore{db: tx, table: m.refreshStore.table}

		if err := accessTx.RemoveTokenByIDs(ctx, access.UID, access.ApplicationID); err != nil {
			return err
		}
		if err := refreshTx.RemoveTokenByIDs(ctx, refresh.UID, refresh.ApplicationID); err != nil {
			return err
		}
		if err := accessTx.SaveToken(ctx, access); err != nil {
			return err
		}
		return refreshTx.SaveToken(ctx, refresh)
	})
}

func (m *Manager) Close() error {
	m.pool.Close()
	return nil
}

// notFound maps pgx.ErrNoRows onto interfaces.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, interfaces.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// Compile-time checks
var (
	_ interfaces.StorageManager = (*Manager)(nil)
	_ interfaces.TokenSwapper   = (*Manager)(nil)
)
