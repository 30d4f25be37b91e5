// Package storagetest holds behaviour tests shared by every StorageManager backend.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
)

// Factory returns an empty, isolated manager for one subtest.
type Factory func(t *testing.T) interfaces.StorageManager

// Run exercises the full StorageManager contract against newManager.
func Run(t *testing.T, newManager Factory) {
	t.Run("Applications", func(t *testing.T) { testApplications(t, newManager(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newManager(t)) })
	t.Run("Codes", func(t *testing.T) { testCodes(t, newManager(t)) })
	t.Run("ConsumeCode", func(t *testing.T) { testConsumeCode(t, newManager(t)) })
	t.Run("Tokens", func(t *testing.T) { testTokens(t, newManager(t)) })
	t.Run("SwapTokens", func(t *testing.T) { testSwapTokens(t, newManager(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newManager(t)) })
	t.Run("ConsumeTransaction", func(t *testing.T) { testConsumeTransaction(t, newManager(t)) })
}

// now is truncated so round trips through databases with coarser clocks compare equal.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func testApplications(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.ApplicationStore()
	base := now()

	app := &models.Application{
		ID:           "app-b",
		Name:         "Notes",
		RedirectURI:  "https://app.example/cb",
		Owner:        "u1",
		SecretHash:   "$argon2id$v=19$m=16384,t=2,p=1$c2FsdA$aGFzaA",
		Trusted:      true,
		CreationDate: base.Add(time.Second),
	}
	require.NoError(t, store.SaveApplication(ctx, app))
	require.NoError(t, store.SaveApplication(ctx, &models.Application{ID: "app-a", Name: "A", Owner: "u1", CreationDate: base}))
	require.NoError(t, store.SaveApplication(ctx, &models.Application{ID: "app-c", Name: "C", Owner: "u2", CreationDate: base}))

	got, err := store.FindApplication(ctx, "app-b")
	require.NoError(t, err)
	assert.Equal(t, app.Name, got.Name)
	assert.Equal(t, app.RedirectURI, got.RedirectURI)
	assert.Equal(t, app.SecretHash, got.SecretHash)
	assert.True(t, got.Trusted)
	assert.True(t, app.CreationDate.Equal(got.CreationDate))

	// Save is an upsert
	app.Name = "Notes v2"
	require.NoError(t, store.SaveApplication(ctx, app))
	got, err = store.FindApplication(ctx, "app-b")
	require.NoError(t, err)
	assert.Equal(t, "Notes v2", got.Name)

	apps, err := store.ListApplicationsByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "app-a", apps[0].ID)
	assert.Equal(t, "app-b", apps[1].ID)

	none, err := store.ListApplicationsByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = store.FindApplication(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func testUsers(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.UserStore()

	user := &models.User{
		UID:          "u1",
		Username:     "alice",
		Avatar:       "https://cdn.example/a.png",
		Scopes:       []string{"identify"},
		Private:      true,
		Applications: []string{"app-a"},
		CreationDate: now(),
	}
	require.NoError(t, store.SaveUser(ctx, user))

	got, err := store.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, []string{"identify"}, got.Scopes)
	assert.Equal(t, []string{"app-a"}, got.Applications)
	assert.True(t, got.Private)

	_, err = store.FindUser(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func testCodes(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.CodeStore()

	code := &models.AuthorizationCode{
		Code:          "code-1",
		ApplicationID: "app1",
		RedirectURI:   "https://app.example/cb",
		UID:           "u1",
		Scope:         []models.Scope{models.ScopeIdentify, models.ScopeFiles},
		CreationDate:  now(),
	}
	require.NoError(t, store.SaveAuthorizationCode(ctx, code))

	got, err := store.FindAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, code.ApplicationID, got.ApplicationID)
	assert.Equal(t, code.RedirectURI, got.RedirectURI)
	assert.Equal(t, code.Scope, got.Scope)
	assert.True(t, code.CreationDate.Equal(got.CreationDate))

	require.NoError(t, store.RemoveAuthorizationCode(ctx, "code-1"))
	_, err = store.FindAuthorizationCode(ctx, "code-1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// Removing an absent code is not an error
	assert.NoError(t, store.RemoveAuthorizationCode(ctx, "code-1"))
}

// concurrentConsumers is how many goroutines race to consume one record.
const concurrentConsumers = 8

// race runs consume from concurrentConsumers goroutines released together
// and returns how many of them succeeded.
func race(consume func() error) int {
	var (
		wins  atomic.Int32
		start = make(chan struct{})
		wg    sync.WaitGroup
	)
	for i := 0; i < concurrentConsumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if consume() == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	return int(wins.Load())
}

func testConsumeCode(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.CodeStore()

	code := &models.AuthorizationCode{
		Code:          "code-c",
		ApplicationID: "app1",
		RedirectURI:   "https://app.example/cb",
		UID:           "u1",
		Scope:         []models.Scope{models.ScopeFiles},
		CreationDate:  now(),
	}
	require.NoError(t, store.SaveAuthorizationCode(ctx, code))

	got, err := store.ConsumeAuthorizationCode(ctx, "code-c")
	require.NoError(t, err)
	assert.Equal(t, "app1", got.ApplicationID)
	assert.Equal(t, "u1", got.UID)
	assert.Equal(t, code.Scope, got.Scope)
	assert.True(t, code.CreationDate.Equal(got.CreationDate))

	_, err = store.FindAuthorizationCode(ctx, "code-c")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = store.ConsumeAuthorizationCode(ctx, "code-c")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("code-race-%d", i)
		require.NoError(t, store.SaveAuthorizationCode(ctx, &models.AuthorizationCode{
			Code: id, ApplicationID: "app1", RedirectURI: "https://app.example/cb", UID: "u1", CreationDate: now(),
		}))
		wins := race(func() error {
			_, err := store.ConsumeAuthorizationCode(ctx, id)
			return err
		})
		assert.Equal(t, 1, wins, id)
	}
}

func testTokens(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	access := m.AccessTokenStore()
	refresh := m.RefreshTokenStore()

	tok := &models.ApplicationToken{
		Token:         "tok-1",
		UID:           "u1",
		ApplicationID: "app1",
		Scope:         []models.Scope{models.ScopeAll},
		CreationDate:  now(),
	}
	require.NoError(t, access.SaveToken(ctx, tok))

	got, err := access.FindToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, tok.Scope, got.Scope)

	byIDs, err := access.FindTokenByIDs(ctx, "u1", "app1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", byIDs.Token)

	// Access and refresh tokens are stored separately
	_, err = refresh.FindToken(ctx, "tok-1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, access.RemoveTokenByIDs(ctx, "u1", "app1"))
	_, err = access.FindToken(ctx, "tok-1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = access.FindTokenByIDs(ctx, "u1", "app1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	assert.NoError(t, access.RemoveTokenByIDs(ctx, "u1", "app1"))
}

func testSwapTokens(t *testing.T, m interfaces.StorageManager) {
	swapper := m.TokenSwapper()
	if swapper == nil {
		t.Skip("backend has no atomic token swap")
	}
	ctx := context.Background()
	ts := now()

	old := &models.ApplicationToken{Token: "old", UID: "u1", ApplicationID: "app1", CreationDate: ts}
	other := &models.ApplicationToken{Token: "other", UID: "u2", ApplicationID: "app1", CreationDate: ts}
	require.NoError(t, m.AccessTokenStore().SaveToken(ctx, old))
	require.NoError(t, m.RefreshTokenStore().SaveToken(ctx, old))
	require.NoError(t, m.AccessTokenStore().SaveToken(ctx, other))

	access := &models.ApplicationToken{Token: "new-a", UID: "u1", ApplicationID: "app1", Scope: []models.Scope{models.ScopeFiles}, CreationDate: ts}
	refresh := &models.ApplicationToken{Token: "new-r", UID: "u1", ApplicationID: "app1", Scope: []models.Scope{models.ScopeFiles}, CreationDate: ts}
	require.NoError(t, swapper.SwapTokens(ctx, access, refresh))

	_, err := m.AccessTokenStore().FindToken(ctx, "old")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = m.RefreshTokenStore().FindToken(ctx, "old")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	gotAccess, err := m.AccessTokenStore().FindTokenByIDs(ctx, "u1", "app1")
	require.NoError(t, err)
	assert.Equal(t, "new-a", gotAccess.Token)
	gotRefresh, err := m.RefreshTokenStore().FindTokenByIDs(ctx, "u1", "app1")
	require.NoError(t, err)
	assert.Equal(t, "new-r", gotRefresh.Token)
	assert.Equal(t, []models.Scope{models.ScopeFiles}, gotRefresh.Scope)

	_, err = m.AccessTokenStore().FindToken(ctx, "other")
	assert.NoError(t, err)

	mismatched := &models.ApplicationToken{Token: "x", UID: "u9", ApplicationID: "app1", CreationDate: ts}
	assert.Error(t, swapper.SwapTokens(ctx, access, mismatched))
}

func testTransactions(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.TransactionStore()

	txn := &models.Transaction{
		ID:            "txn-1",
		SessionID:     "sess-1",
		UID:           "u1",
		ApplicationID: "app1",
		RedirectURI:   "https://app.example/cb",
		Scope:         []models.Scope{models.ScopeIdentify},
		State:         models.TransactionPending,
		ClientState:   "xyz",
		CreationDate:  now(),
	}
	require.NoError(t, store.SaveTransaction(ctx, txn))

	got, err := store.FindTransaction(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, models.TransactionPending, got.State)
	assert.Equal(t, "xyz", got.ClientState)
	assert.Equal(t, txn.Scope, got.Scope)

	txn.State = models.TransactionAllowed
	require.NoError(t, store.SaveTransaction(ctx, txn))
	got, err = store.FindTransaction(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionAllowed, got.State)

	require.NoError(t, store.DeleteTransaction(ctx, "txn-1"))
	_, err = store.FindTransaction(ctx, "txn-1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.NoError(t, store.DeleteTransaction(ctx, "txn-1"))
}

func testConsumeTransaction(t *testing.T, m interfaces.StorageManager) {
	ctx := context.Background()
	store := m.TransactionStore()

	txn := &models.Transaction{
		ID:            "txn-c",
		SessionID:     "sess-1",
		UID:           "u1",
		ApplicationID: "app1",
		RedirectURI:   "https://app.example/cb",
		Scope:         []models.Scope{models.ScopeIdentify},
		State:         models.TransactionPending,
		ClientState:   "xyz",
		CreationDate:  now(),
	}
	require.NoError(t, store.SaveTransaction(ctx, txn))

	got, err := store.ConsumeTransaction(ctx, "txn-c")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "xyz", got.ClientState)
	assert.Equal(t, txn.Scope, got.Scope)

	_, err = store.FindTransaction(ctx, "txn-c")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = store.ConsumeTransaction(ctx, "txn-c")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("txn-race-%d", i)
		require.NoError(t, store.SaveTransaction(ctx, &models.Transaction{
			ID: id, SessionID: "sess-1", UID: "u1", ApplicationID: "app1",
			State: models.TransactionPending, CreationDate: now(),
		}))
		wins := race(func() error {
			_, err := store.ConsumeTransaction(ctx, id)
			return err
		})
		assert.Equal(t, 1, wins, id)
	}
}
