package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// codeRow is the DB-level representation of an authorization code.
type codeRow struct {
	Code          string    `json:"code"`
	ApplicationID string    `json:"application_id"`
	RedirectURI   string    `json:"redirect_uri"`
	UID           string    `json:"uid"`
	Scope         []string  `json:"scope"`
	CreationDate  time.Time `json:"creation_date"`
}

func (r *codeRow) toModel() *models.AuthorizationCode {
	return &models.AuthorizationCode{
		Code:          r.Code,
		ApplicationID: r.ApplicationID,
		RedirectURI:   r.RedirectURI,
		UID:           r.UID,
		Scope:         models.ScopesFromStrings(r.Scope),
		CreationDate:  r.CreationDate,
	}
}

// tokenRow is the DB-level representation of an access or refresh token.
type tokenRow struct {
	Token         string    `json:"token"`
	UID           string    `json:"uid"`
	ApplicationID string    `json:"application_id"`
	Scope         []string  `json:"scope"`
	CreationDate  time.Time `json:"creation_date"`
}

func newTokenRow(t *models.ApplicationToken) tokenRow {
	return tokenRow{
		Token:         t.Token,
		UID:           t.UID,
		ApplicationID: t.ApplicationID,
		Scope:         models.ScopeStrings(t.Scope),
		CreationDate:  t.CreationDate,
	}
}

func (r *tokenRow) toModel() *models.ApplicationToken {
	return &models.ApplicationToken{
		Token:         r.Token,
		UID:           r.UID,
		ApplicationID: r.ApplicationID,
		Scope:         models.ScopesFromStrings(r.Scope),
		CreationDate:  r.CreationDate,
	}
}

// transactionRow is the DB-level representation of an authorization transaction.
type transactionRow struct {
	TransactionID string    `json:"transaction_id"`
	SessionID     string    `json:"session_id"`
	UID           string    `json:"uid"`
	ApplicationID string    `json:"application_id"`
	RedirectURI   string    `json:"redirect_uri"`
	Scope         []string  `json:"scope"`
	State         string    `json:"state"`
	ClientState   string    `json:"client_state"`
	CreationDate  time.Time `json:"creation_date"`
}

func (r *transactionRow) toModel() *models.Transaction {
	return &models.Transaction{
		ID:            r.TransactionID,
		SessionID:     r.SessionID,
		UID:           r.UID,
		ApplicationID: r.ApplicationID,
		RedirectURI:   r.RedirectURI,
		Scope:         models.ScopesFromStrings(r.Scope),
		State:         models.TransactionState(r.State),
		ClientState:   r.ClientState,
		CreationDate:  r.CreationDate,
	}
}

// --- Authorization codes ---

// CodeStore implements interfaces.CodeStore using SurrealDB.
type CodeStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewCodeStore creates a new CodeStore.
func NewCodeStore(db *surrealdb.DB, logger *common.Logger) *CodeStore {
	return &CodeStore{db: db, logger: logger}
}

func (s *CodeStore) SaveAuthorizationCode(ctx context.Context, code *models.AuthorizationCode) error {
	sql := `UPSERT $rid SET
		code = $code, application_id = $application_id,
		redirect_uri = $redirect_uri, uid = $uid,
		scope = $scope, creation_date = $creation_date`
	vars := map[string]any{
		"rid":            surrealmodels.NewRecordID(tableCode, code.Code),
		"code":           code.Code,
		"application_id": code.ApplicationID,
		"redirect_uri":   code.RedirectURI,
		"uid":            code.UID,
		"scope":          models.ScopeStrings(code.Scope),
		"creation_date":  code.CreationDate,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

func (s *CodeStore) FindAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	sql := "SELECT code, application_id, redirect_uri, uid, scope, creation_date FROM $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID(tableCode, code),
	}
	results, err := surrealdb.Query[[]codeRow](ctx, s.db, sql, vars)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("authorization code: %w", interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("authorization code: %w", interfaces.ErrNotFound)
	}
	return (*results)[0].Result[0].toModel(), nil
}

// ConsumeAuthorizationCode deletes the record and returns its prior content
// in one statement. A record already deleted yields an empty result.
func (s *CodeStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID(tableCode, code),
	}
	results, err := surrealdb.Query[[]codeRow](ctx, s.db, "DELETE $rid RETURN BEFORE", vars)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("authorization code: %w", interfaces.ErrNotFound)
	}
	return (*results)[0].Result[0].toModel(), nil
}

func (s *CodeStore) RemoveAuthorizationCode(ctx context.Context, code string) error {
	rid := surrealmodels.NewRecordID(tableCode, code)
	_, err := surrealdb.Delete[codeRow](ctx, s.db, rid)
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to remove authorization code: %w", err)
	}
	return nil
}

// --- Tokens ---

// TokenStore implements interfaces.TokenStore for one token table.
type TokenStore struct {
	db     *surrealdb.DB
	logger *common.Logger
	table  string
}

// NewTokenStore creates a TokenStore over table (access_token or refresh_token).
func NewTokenStore(db *surrealdb.DB, logger *common.Logger, table string) *TokenStore {
	return &TokenStore{db: db, logger: logger, table: table}
}

const tokenFields = "token, uid, application_id, scope, creation_date"

func (s *TokenStore) FindToken(ctx context.Context, token string) (*models.ApplicationToken, error) {
	sql := "SELECT " + tokenFields + " FROM $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID(s.table, token),
	}
	return s.queryOne(ctx, sql, vars)
}

func (s *TokenStore) FindTokenByIDs(ctx context.Context, uid, applicationID string) (*models.ApplicationToken, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE uid = $uid AND application_id = $application_id LIMIT 1", tokenFields, s.table)
	vars := map[string]any{
		"uid":            uid,
		"application_id": applicationID,
	}
	return s.queryOne(ctx, sql, vars)
}

func (s *TokenStore) queryOne(ctx context.Context, sql string, vars map[string]any) (*models.ApplicationToken, error) {
	results, err := surrealdb.Query[[]tokenRow](ctx, s.db, sql, vars)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%s: %w", s.table, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s: %w", s.table, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("%s: %w", s.table, interfaces.ErrNotFound)
	}
	return (*results)[0].Result[0].toModel(), nil
}

func (s *TokenStore) SaveToken(ctx context.Context, token *models.ApplicationToken) error {
	sql := "UPSERT $rid CONTENT $record"
	vars := map[string]any{
		"rid":    surrealmodels.NewRecordID(s.table, token.Token),
		"record": newTokenRow(token),
	}
	if _, err := surrealdb.Query[[]tokenRow](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save %s: %w", s.table, err)
	}
	return nil
}

func (s *TokenStore) RemoveTokenByIDs(ctx context.Context, uid, applicationID string) error {
	sql := fmt.Sprintf("DELETE %s WHERE uid = $uid AND application_id = $application_id", s.table)
	vars := map[string]any{
		"uid":            uid,
		"application_id": applicationID,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to remove %s: %w", s.table, err)
	}
	return nil
}

// SwapTokens replaces the token pair for (uid, application_id) inside a
// single SurrealDB transaction.
func (m *Manager) SwapTokens(ctx context.Context, access, refresh *models.ApplicationToken) error {
	if access.UID != refresh.UID || access.ApplicationID != refresh.ApplicationID {
		return fmt.Errorf("token pair must share uid and application id")
	}

	sql := `BEGIN TRANSACTION;
		DELETE access_token WHERE uid = $uid AND application_id = $application_id;
		DELETE refresh_token WHERE uid = $uid AND application_id = $application_id;
		CREATE $access_rid CONTENT $access;
		CREATE $refresh_rid CONTENT $refresh;
		COMMIT TRANSACTION;`
	vars := map[string]any{
		"uid":            access.UID,
		"application_id": access.ApplicationID,
		"access_rid":     surrealmodels.NewRecordID(tableAccess, access.Token),
		"access":         newTokenRow(access),
		"refresh_rid":    surrealmodels.NewRecordID(tableRefresh, refresh.Token),
		"refresh":        newTokenRow(refresh),
	}

	results, err := surrealdb.Query[any](ctx, m.db, sql, vars)
	if err != nil {
		return fmt.Errorf("failed to swap tokens: %w", err)
	}
	if results != nil {
		for _, r := range *results {
			if r.Status != "OK" {
				return fmt.Errorf("failed to swap tokens: statement status %s", r.Status)
			}
		}
	}
	return nil
}

// --- Transactions ---

// TransactionStore implements interfaces.TransactionStore using SurrealDB.
type TransactionStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(db *surrealdb.DB, logger *common.Logger) *TransactionStore {
	return &TransactionStore{db: db, logger: logger}
}

func (s *TransactionStore) SaveTransaction(ctx context.Context, txn *models.Transaction) error {
	row := transactionRow{
		TransactionID: txn.ID,
		SessionID:     txn.SessionID,
		UID:           txn.UID,
		ApplicationID: txn.ApplicationID,
		RedirectURI:   txn.RedirectURI,
		Scope:         models.ScopeStrings(txn.Scope),
		State:         string(txn.State),
		ClientState:   txn.ClientState,
		CreationDate:  txn.CreationDate,
	}
	sql := "UPSERT $rid CONTENT $record"
	vars := map[string]any{
		"rid":    surrealmodels.NewRecordID(tableTransaction, txn.ID),
		"record": row,
	}
	if _, err := surrealdb.Query[[]transactionRow](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func (s *TransactionStore) FindTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	sql := `SELECT transaction_id, session_id, uid, application_id, redirect_uri,
		scope, state, client_state, creation_date FROM $rid`
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID(tableTransaction, id),
	}
	results, err := surrealdb.Query[[]transactionRow](ctx, s.db, sql, vars)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("transaction %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", id, interfaces.ErrNotFound)
	}
	return (*results)[0].Result[0].toModel(), nil
}

func (s *TransactionStore) ConsumeTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID(tableTransaction, id),
	}
	results, err := surrealdb.Query[[]transactionRow](ctx, s.db, "DELETE $rid RETURN BEFORE", vars)
	if err != nil {
		return nil, fmt.Errorf("failed to consume transaction: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", id, interfaces.ErrNotFound)
	}
	return (*results)[0].Result[0].toModel(), nil
}

func (s *TransactionStore) DeleteTransaction(ctx context.Context, id string) error {
	rid := surrealmodels.NewRecordID(tableTransaction, id)
	_, err := surrealdb.Delete[transactionRow](ctx, s.db, rid)
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

// Compile-time checks
var (
	_ interfaces.CodeStore        = (*CodeStore)(nil)
	_ interfaces.TokenStore       = (*TokenStore)(nil)
	_ interfaces.TransactionStore = (*TransactionStore)(nil)
)
