// Package interfaces defines the storage and service contracts for passage
package interfaces

import (
	"context"
	"errors"

	"github.com/bobmcallan/passage/internal/models"
)

// ErrNotFound is returned (wrapped) by every store when a record is absent.
var ErrNotFound = errors.New("not found")

// StorageManager coordinates the storage backends.
type StorageManager interface {
	ApplicationStore() ApplicationStore
	UserStore() UserStore
	CodeStore() CodeStore
	AccessTokenStore() TokenStore
	RefreshTokenStore() TokenStore
	TransactionStore() TransactionStore

	// TokenSwapper returns nil when the backend cannot run the token
	// replacement in a single transaction.
	TokenSwapper() TokenSwapper

	// Lifecycle
	Close() error
}

// ApplicationStore persists registered applications.
type ApplicationStore interface {
	FindApplication(ctx context.Context, applicationID string) (*models.Application, error)
	SaveApplication(ctx context.Context, app *models.Application) error
	ListApplicationsByOwner(ctx context.Context, owner string) ([]*models.Application, error)
}

// UserStore persists user accounts.
type UserStore interface {
	FindUser(ctx context.Context, uid string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
}

// CodeStore persists authorization codes. Expiry is checked by the caller.
type CodeStore interface {
	FindAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error)
	SaveAuthorizationCode(ctx context.Context, code *models.AuthorizationCode) error
	RemoveAuthorizationCode(ctx context.Context, code string) error

	// ConsumeAuthorizationCode deletes the code and returns it in one atomic
	// step. Of several concurrent callers only the one whose delete removed
	// the record gets it; the others get ErrNotFound.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error)
}

// TokenStore persists one kind of application token (access or refresh).
// RemoveTokenByIDs is a no-op when no token exists for the pair.
type TokenStore interface {
	FindToken(ctx context.Context, token string) (*models.ApplicationToken, error)
	FindTokenByIDs(ctx context.Context, uid, applicationID string) (*models.ApplicationToken, error)
	SaveToken(ctx context.Context, token *models.ApplicationToken) error
	RemoveTokenByIDs(ctx context.Context, uid, applicationID string) error
}

// TokenSwapper replaces the access and refresh token of a
// (uid, applicationId) pair in a single transaction.
// Both tokens must carry the same uid and application id.
type TokenSwapper interface {
	SwapTokens(ctx context.Context, access, refresh *models.ApplicationToken) error
}

// TransactionStore persists in-flight authorization transactions.
type TransactionStore interface {
	SaveTransaction(ctx context.Context, txn *models.Transaction) error
	FindTransaction(ctx context.Context, id string) (*models.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error

	// ConsumeTransaction deletes the transaction and returns it in one atomic
	// step, with the same single-winner guarantee as ConsumeAuthorizationCode.
	ConsumeTransaction(ctx context.Context, id string) (*models.Transaction, error)
}
