package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
	tcommon "github.com/bobmcallan/passage/tests/common"
)

func testStore(t *testing.T, ttl time.Duration, opts ...Option) *TransactionStore {
	t.Helper()
	rc := tcommon.StartRedis(t)

	client, err := NewClient(context.Background(), common.NewSilentLogger(), common.RedisConfig{Address: rc.Address()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	prefix := fmt.Sprintf("test:%s:%d:", t.Name(), time.Now().UnixNano())
	return NewTransactionStore(client, ttl, append([]Option{WithPrefix(prefix)}, opts...)...)
}

func TestTransactionStore_RoundTrip(t *testing.T) {
	s := testStore(t, 10*time.Minute)
	ctx := context.Background()

	txn := &models.Transaction{
		ID:            "txn-1",
		SessionID:     "sess-1",
		UID:           "u1",
		ApplicationID: "app1",
		RedirectURI:   "https://app.example/cb",
		Scope:         []models.Scope{models.ScopeIdentify},
		State:         models.TransactionPending,
		ClientState:   "xyz",
		CreationDate:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveTransaction(ctx, txn))

	got, err := s.FindTransaction(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, txn.SessionID, got.SessionID)
	assert.Equal(t, txn.Scope, got.Scope)
	assert.Equal(t, "xyz", got.ClientState)
	assert.True(t, txn.CreationDate.Equal(got.CreationDate))

	require.NoError(t, s.DeleteTransaction(ctx, "txn-1"))
	_, err = s.FindTransaction(ctx, "txn-1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.NoError(t, s.DeleteTransaction(ctx, "txn-1"))
}

func TestTransactionStore_KeyExpiresFromCreation(t *testing.T) {
	s := testStore(t, 10*time.Minute)
	ctx := context.Background()

	// Created nine minutes ago: about one minute left
	txn := &models.Transaction{ID: "txn-old", State: models.TransactionPending, CreationDate: time.Now().Add(-9 * time.Minute)}
	require.NoError(t, s.SaveTransaction(ctx, txn))

	ttl, err := s.client.TTL(ctx, s.key("txn-old")).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute)
	assert.Greater(t, ttl, 50*time.Second)
}

func TestTransactionStore_Expired(t *testing.T) {
	s := testStore(t, time.Second)
	ctx := context.Background()

	require.NoError(t, s.SaveTransaction(ctx, &models.Transaction{ID: "txn-short", CreationDate: time.Now()}))
	assert.Eventually(t, func() bool {
		_, err := s.FindTransaction(ctx, "txn-short")
		return err != nil
	}, 5*time.Second, 100*time.Millisecond)
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient(context.Background(), common.NewSilentLogger(), common.RedisConfig{
		Address:     "127.0.0.1:1",
		ConnTimeout: "200ms",
	})
	assert.Error(t, err)
}
