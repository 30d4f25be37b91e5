package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
)

// --- Applications ---

// ApplicationStore implements interfaces.ApplicationStore.
type ApplicationStore struct {
	db querier
}

const applicationColumns = "id, name, redirect_uri, owner, secret_hash, trusted, creation_date"

func scanApplication(row pgx.Row) (*models.Application, error) {
	app := &models.Application{}
	err := row.Scan(&app.ID, &app.Name, &app.RedirectURI, &app.Owner, &app.SecretHash, &app.Trusted, &app.CreationDate)
	return app, err
}

func (s *ApplicationStore) FindApplication(ctx context.Context, applicationID string) (*models.Application, error) {
	row := s.db.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, applicationID)
	app, err := scanApplication(row)
	if err != nil {
		return nil, notFound(err, "application "+applicationID)
	}
	return app, nil
}

func (s *ApplicationStore) SaveApplication(ctx context.Context, app *models.Application) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			redirect_uri = EXCLUDED.redirect_uri,
			owner = EXCLUDED.owner,
			secret_hash = EXCLUDED.secret_hash,
			trusted = EXCLUDED.trusted,
			creation_date = EXCLUDED.creation_date`,
		app.ID, app.Name, app.RedirectURI, app.Owner, app.SecretHash, app.Trusted, app.CreationDate,
	)
	if err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

func (s *ApplicationStore) ListApplicationsByOwner(ctx context.Context, owner string) ([]*models.Application, error) {
	rows, err := s.db.Query(ctx, `SELECT `+applicationColumns+` FROM applications WHERE owner = $1 ORDER BY creation_date ASC`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return apps, nil
}

// --- Users ---

// UserStore implements interfaces.UserStore.
type UserStore struct {
	db querier
}

func (s *UserStore) FindUser(ctx context.Context, uid string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRow(ctx, `
		SELECT uid, username, avatar, scopes, private, applications, creation_date
		FROM users WHERE uid = $1`, uid,
	).Scan(&user.UID, &user.Username, &user.Avatar, &user.Scopes, &user.Private, &user.Applications, &user.CreationDate)
	if err != nil {
		return nil, notFound(err, "user "+uid)
	}
	return user, nil
}

func (s *UserStore) SaveUser(ctx context.Context, user *models.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (uid, username, avatar, scopes, private, applications, creation_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uid) DO UPDATE SET
			username = EXCLUDED.username,
			avatar = EXCLUDED.avatar,
			scopes = EXCLUDED.scopes,
			private = EXCLUDED.private,
			applications = EXCLUDED.applications,
			creation_date = EXCLUDED.creation_date`,
		user.UID, user.Username, user.Avatar, nonNil(user.Scopes), user.Private, nonNil(user.Applications), user.CreationDate,
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// --- Authorization codes ---

// CodeStore implements interfaces.CodeStore.
type CodeStore struct {
	db querier
}

const codeColumns = `code, application_id, redirect_uri, uid, scope, creation_date`

func scanCode(row pgx.Row) (*models.AuthorizationCode, error) {
	c := &models.AuthorizationCode{}
	var scope []string
	if err := row.Scan(&c.Code, &c.ApplicationID, &c.RedirectURI, &c.UID, &scope, &c.CreationDate); err != nil {
		return nil, notFound(err, "authorization code")
	}
	c.Scope = models.ScopesFromStrings(scope)
	return c, nil
}

func (s *CodeStore) FindAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	return scanCode(s.db.QueryRow(ctx, `SELECT `+codeColumns+` FROM authorization_codes WHERE code = $1`, code))
}

// ConsumeAuthorizationCode relies on the row lock taken by DELETE: a second
// concurrent delete waits, then finds no row.
func (s *CodeStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	return scanCode(s.db.QueryRow(ctx, `DELETE FROM authorization_codes WHERE code = $1 RETURNING `+codeColumns, code))
}

func (s *CodeStore) SaveAuthorizationCode(ctx context.Context, code *models.AuthorizationCode) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO authorization_codes (code, application_id, redirect_uri, uid, scope, creation_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			application_id = EXCLUDED.application_id,
			redirect_uri = EXCLUDED.redirect_uri,
			uid = EXCLUDED.uid,
			scope = EXCLUDED.scope,
			creation_date = EXCLUDED.creation_date`,
		code.Code, code.ApplicationID, code.RedirectURI, code.UID, models.ScopeStrings(code.Scope), code.CreationDate,
	)
	if err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

func (s *CodeStore) RemoveAuthorizationCode(ctx context.Context, code string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM authorization_codes WHERE code = $1`, code); err != nil {
		return fmt.Errorf("failed to remove authorization code: %w", err)
	}
	return nil
}

// --- Tokens ---

// TokenStore implements interfaces.TokenStore over one table.
type TokenStore struct {
	db    querier
	table string
}

func (s *TokenStore) scanOne(row pgx.Row) (*models.ApplicationToken, error) {
	t := &models.ApplicationToken{}
	var scope []string
	if err := row.Scan(&t.Token, &t.UID, &t.ApplicationID, &scope, &t.CreationDate); err != nil {
		return nil, notFound(err, s.table)
	}
	t.Scope = models.ScopesFromStrings(scope)
	return t, nil
}

func (s *TokenStore) FindToken(ctx context.Context, token string) (*models.ApplicationToken, error) {
	sql := fmt.Sprintf(`SELECT token, uid, application_id, scope, creation_date FROM %s WHERE token = $1`, s.table)
	return s.scanOne(s.db.QueryRow(ctx, sql, token))
}

func (s *TokenStore) FindTokenByIDs(ctx context.Context, uid, applicationID string) (*models.ApplicationToken, error) {
	sql := fmt.Sprintf(`SELECT token, uid, application_id, scope, creation_date FROM %s
		WHERE uid = $1 AND application_id = $2 LIMIT 1`, s.table)
	return s.scanOne(s.db.QueryRow(ctx, sql, uid, applicationID))
}

func (s *TokenStore) SaveToken(ctx context.Context, token *models.ApplicationToken) error {
	sql := fmt.Sprintf(`INSERT INTO %s (token, uid, application_id, scope, creation_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO UPDATE SET
			uid = EXCLUDED.uid,
			application_id = EXCLUDED.application_id,
			scope = EXCLUDED.scope,
			creation_date = EXCLUDED.creation_date`, s.table)
	_, err := s.db.Exec(ctx, sql, token.Token, token.UID, token.ApplicationID, models.ScopeStrings(token.Scope), token.CreationDate)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", s.table, err)
	}
	return nil
}

func (s *TokenStore) RemoveTokenByIDs(ctx context.Context, uid, applicationID string) error {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE uid = $1 AND application_id = $2`, s.table)
	if _, err := s.db.Exec(ctx, sql, uid, applicationID); err != nil {
		return fmt.Errorf("failed to remove %s: %w", s.table, err)
	}
	return nil
}

// --- Transactions ---

// TransactionStore implements interfaces.TransactionStore.
type TransactionStore struct {
	db querier
}

func (s *TransactionStore) SaveTransaction(ctx context.Context, txn *models.Transaction) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO oauth_transactions
			(id, session_id, uid, application_id, redirect_uri, scope, state, client_state, creation_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state`,
		txn.ID, txn.SessionID, txn.UID, txn.ApplicationID, txn.RedirectURI,
		models.ScopeStrings(txn.Scope), string(txn.State), txn.ClientState, txn.CreationDate,
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

const transactionColumns = `id, session_id, uid, application_id, redirect_uri, scope, state, client_state, creation_date`

func scanTransaction(row pgx.Row, id string) (*models.Transaction, error) {
	txn := &models.Transaction{}
	var (
		scope []string
		state string
	)
	err := row.Scan(&txn.ID, &txn.SessionID, &txn.UID, &txn.ApplicationID, &txn.RedirectURI, &scope, &state, &txn.ClientState, &txn.CreationDate)
	if err != nil {
		return nil, notFound(err, "transaction "+id)
	}
	txn.Scope = models.ScopesFromStrings(scope)
	txn.State = models.TransactionState(state)
	return txn, nil
}

func (s *TransactionStore) FindTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return scanTransaction(s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM oauth_transactions WHERE id = $1`, id), id)
}

func (s *TransactionStore) ConsumeTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return scanTransaction(s.db.QueryRow(ctx, `DELETE FROM oauth_transactions WHERE id = $1 RETURNING `+transactionColumns, id), id)
}

func (s *TransactionStore) DeleteTransaction(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM oauth_transactions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

// nonNil keeps NOT NULL array columns from receiving SQL NULL.
func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// Compile-time checks
var (
	_ interfaces.ApplicationStore = (*ApplicationStore)(nil)
	_ interfaces.UserStore        = (*UserStore)(nil)
	_ interfaces.CodeStore        = (*CodeStore)(nil)
	_ interfaces.TokenStore       = (*TokenStore)(nil)
	_ interfaces.TransactionStore = (*TransactionStore)(nil)
)
