package surrealdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/surrealdb/surrealdb.go"
)

const (
	tableApplication = "application"
	tableUser        = "user"
	tableCode        = "authorization_code"
	tableAccess      = "access_token"
	tableRefresh     = "refresh_token"
	tableTransaction = "oauth_transaction"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	applicationStore *ApplicationStore
	userStore        *UserStore
	codeStore        *CodeStore
	accessStore      *TokenStore
	refreshStore     *TokenStore
	transactionStore *TransactionStore
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()
	cfg := config.Storage.SurrealDB

	// Connect to SurrealDB
	db, err := surrealdb.New(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	// Sign in
	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	// Select namespace and database
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	m, err := newManager(ctx, db, logger)
	if err != nil {
		db.Close(ctx)
		return nil, err
	}

	logger.Info().
		Str("address", cfg.Address).
		Str("namespace", cfg.Namespace).
		Str("database", cfg.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

// newManager defines the tables and builds the stores on an open connection.
func newManager(ctx context.Context, db *surrealdb.DB, logger *common.Logger) (*Manager, error) {
	// SurrealDB v3 errors on querying non-existent tables
	tables := []string{tableApplication, tableUser, tableCode, tableAccess, tableRefresh, tableTransaction}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	// Tokens are looked up by (uid, application_id) on every issue
	indexes := []string{
		"DEFINE INDEX IF NOT EXISTS access_token_pair ON TABLE access_token FIELDS uid, application_id",
		"DEFINE INDEX IF NOT EXISTS refresh_token_pair ON TABLE refresh_token FIELDS uid, application_id",
		"DEFINE INDEX IF NOT EXISTS application_owner ON TABLE application FIELDS owner",
	}
	for _, sql := range indexes {
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define index: %w", err)
		}
	}

	return &Manager{
		db:               db,
		logger:           logger,
		applicationStore: NewApplicationStore(db, logger),
		userStore:        NewUserStore(db, logger),
		codeStore:        NewCodeStore(db, logger),
		accessStore:      NewTokenStore(db, logger, tableAccess),
		refreshStore:     NewTokenStore(db, logger, tableRefresh),
		transactionStore: NewTransactionStore(db, logger),
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

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// isNotFoundError reports whether a SurrealDB error means the record is absent.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")
}

// Compile-time checks
var (
	_ interfaces.StorageManager = (*Manager)(nil)
	_ interfaces.TokenSwapper   = (*Manager)(nil)
)
