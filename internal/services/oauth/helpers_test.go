package oauth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
	"github.com/bobmcallan/passage/internal/storage/memory"
)

const (
	testRedirect = "https://app.example/cb"
	testSecret   = "app1-secret"
)

// memRegistry is an ApplicationRegistry backed by the store with
// plaintext secrets, keeping argon2 out of the state machine tests.
type memRegistry struct {
	store   interfaces.ApplicationStore
	secrets map[string]string
}

func (r *memRegistry) FindApplication(ctx context.Context, id string) (*models.Application, error) {
	return r.store.FindApplication(ctx, id)
}

func (r *memRegistry) CheckSecret(ctx context.Context, id, secret string) (bool, error) {
	if _, err := r.store.FindApplication(ctx, id); err != nil {
		return false, err
	}
	return r.secrets[id] == secret, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequence returns a deterministic generator: prefix-1, prefix-2, ...
func sequence(prefix string) TokenGenerator {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n), nil
	}
}

type fixture struct {
	svc      *Service
	store    *memory.Manager
	registry *memRegistry
	clock    *fakeClock
	spans    *tracetest.SpanRecorder
	app      *models.Application
	trusted  *models.Application
	session  *common.Session
}

func newFixture(t *testing.T, storeOpts ...memory.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewManager(common.NewSilentLogger(), storeOpts...)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	registry := &memRegistry{store: store.ApplicationStore(), secrets: map[string]string{}}

	app := &models.Application{ID: "app1", Name: "Notes", RedirectURI: testRedirect, Owner: "owner", CreationDate: clock.Now()}
	trusted := &models.Application{ID: "first-party", Name: "Control", RedirectURI: "https://control.example/cb", Owner: "owner", Trusted: true}
	require.NoError(t, store.ApplicationStore().SaveApplication(ctx, app))
	require.NoError(t, store.ApplicationStore().SaveApplication(ctx, trusted))
	registry.secrets["app1"] = testSecret
	registry.secrets["first-party"] = "fp-secret"

	for _, uid := range []string{"u1", "u2"} {
		require.NoError(t, store.UserStore().SaveUser(ctx, &models.User{UID: uid, Username: uid, CreationDate: clock.Now()}))
	}

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := NewService(store, registry, common.NewSilentLogger(),
		WithClock(clock.Now),
		WithTokenGenerator(sequence("tok")),
		WithTransactionTTL(10*time.Minute),
		WithTracerProvider(tp),
	)

	return &fixture{
		svc:      svc,
		store:    store,
		registry: registry,
		clock:    clock,
		spans:    spans,
		app:      app,
		trusted:  trusted,
		session:  &common.Session{ID: "sess-1", UID: "u1"},
	}
}

// grantCode runs CodeGrant directly and returns the code value.
func (f *fixture) grantCode(t *testing.T, uid string, scope ...models.Scope) string {
	t.Helper()
	res, err := f.svc.Strategies().Run(context.Background(), Request{
		Kind:        CodeGrant,
		Application: f.app,
		UID:         uid,
		Scope:       scope,
		RedirectURI: testRedirect,
	})
	require.NoError(t, err)
	return res.Code.Code
}

func (f *fixture) exchangeCode(code, redirect string) (*models.TokenPair, error) {
	return f.svc.Exchange(context.Background(), Request{
		Kind:        CodeExchange,
		Application: f.app,
		Code:        code,
		RedirectURI: redirect,
	})
}

// gatedStorage wraps a manager so that the wrapped stores hold their first
// call until every expected caller has arrived. Concurrent requests then
// overlap at exactly that step.
type gatedStorage struct {
	interfaces.StorageManager
	codes *gatedCodes
	txns  *gatedTransactions
}

func (g *gatedStorage) CodeStore() interfaces.CodeStore {
	if g.codes != nil {
		return g.codes
	}
	return g.StorageManager.CodeStore()
}

func (g *gatedStorage) TransactionStore() interfaces.TransactionStore {
	if g.txns != nil {
		return g.txns
	}
	return g.StorageManager.TransactionStore()
}

// gatedCodes gates ConsumeAuthorizationCode.
type gatedCodes struct {
	interfaces.CodeStore
	gate sync.WaitGroup
}

func (c *gatedCodes) ConsumeAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	c.gate.Done()
	c.gate.Wait()
	return c.CodeStore.ConsumeAuthorizationCode(ctx, code)
}

// gatedTransactions gates FindTransaction, so every caller has read the
// pending transaction before any of them decides it.
type gatedTransactions struct {
	interfaces.TransactionStore
	gate sync.WaitGroup
}

func (s *gatedTransactions) FindTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	s.gate.Done()
	s.gate.Wait()
	return s.TransactionStore.FindTransaction(ctx, id)
}
