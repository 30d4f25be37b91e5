// Package memory provides an in-process StorageManager for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
)

var (
	_ interfaces.StorageManager   = (*Manager)(nil)
	_ interfaces.TokenSwapper     = (*Manager)(nil)
	_ interfaces.ApplicationStore = (*applicationStore)(nil)
	_ interfaces.UserStore        = (*userStore)(nil)
	_ interfaces.CodeStore        = (*codeStore)(nil)
	_ interfaces.TokenStore       = (*tokenStore)(nil)
	_ interfaces.TransactionStore = (*transactionStore)(nil)
)

// Manager keeps every record in maps guarded by a single mutex.
type Manager struct {
	mu     sync.Mutex
	logger *common.Logger
	atomic bool

	apps         map[string]*models.Application
	users        map[string]*models.User
	codes        map[string]*models.AuthorizationCode
	access       map[string]*models.ApplicationToken
	refresh      map[string]*models.ApplicationToken
	transactions map[string]*models.Transaction
}

// Option configures a Manager.
type Option func(*Manager)

// WithoutTokenSwap disables TokenSwapper so callers fall back to
// sequential remove-then-save.
func WithoutTokenSwap() Option {
	return func(m *Manager) { m.atomic = false }
}

// NewManager creates an empty in-memory store.
func NewManager(logger *common.Logger, opts ...Option) *Manager {
	m := &Manager{
		logger:       logger,
		atomic:       true,
		apps:         make(map[string]*models.Application),
		users:        make(map[string]*models.User),
		codes:        make(map[string]*models.AuthorizationCode),
		access:       make(map[string]*models.ApplicationToken),
		refresh:      make(map[string]*models.ApplicationToken),
		transactions: make(map[string]*models.Transaction),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) ApplicationStore() interfaces.ApplicationStore {
	return &applicationStore{m: m}
}

func (m *Manager) UserStore() interfaces.UserStore {
	return &userStore{m: m}
}

func (m *Manager) CodeStore() interfaces.CodeStore {
	return &codeStore{m: m}
}

func (m *Manager) AccessTokenStore() interfaces.TokenStore {
	return &tokenStore{m: m, tokens: m.access, kind: "access token"}
}

func (m *Manager) RefreshTokenStore() interfaces.TokenStore {
	return &tokenStore{m: m, tokens: m.refresh, kind: "refresh token"}
}

func (m *Manager) TransactionStore() interfaces.TransactionStore {
	return &transactionStore{m: m}
}

func (m *Manager) TokenSwapper() interfaces.TokenSwapper {
	if !m.atomic {
		return nil
	}
	return m
}

// SwapTokens replaces both tokens of the pair under one lock.
func (m *Manager) SwapTokens(_ context.Context, access, refresh *models.ApplicationToken) error {
	if access.UID != refresh.UID || access.ApplicationID != refresh.ApplicationID {
		return fmt.Errorf("token pair must share uid and application id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	removeByIDs(m.access, access.UID, access.ApplicationID)
	removeByIDs(m.refresh, refresh.UID, refresh.ApplicationID)
	m.access[access.Token] = cloneToken(access)
	m.refresh[refresh.Token] = cloneToken(refresh)
	return nil
}

// Close is a no-op.
func (m *Manager) Close() error {
	return nil
}

// --- Applications ---

type applicationStore struct{ m *Manager }

func (s *applicationStore) FindApplication(_ context.Context, applicationID string) (*models.Application, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	app, ok := s.m.apps[applicationID]
	if !ok {
		return nil, fmt.Errorf("application %s: %w", applicationID, interfaces.ErrNotFound)
	}
	c := *app
	return &c, nil
}

func (s *applicationStore) SaveApplication(_ context.Context, app *models.Application) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c := *app
	s.m.apps[app.ID] = &c
	return nil
}

func (s *applicationStore) ListApplicationsByOwner(_ context.Context, owner string) ([]*models.Application, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*models.Application
	for _, app := range s.m.apps {
		if app.Owner == owner {
			c := *app
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.Application) int {
		return a.CreationDate.Compare(b.CreationDate)
	})
	return out, nil
}

// --- Users ---

type userStore struct{ m *Manager }

func (s *userStore) FindUser(_ context.Context, uid string) (*models.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[uid]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", uid, interfaces.ErrNotFound)
	}
	c := *u
	c.Scopes = slices.Clone(u.Scopes)
	c.Applications = slices.Clone(u.Applications)
	return &c, nil
}

func (s *userStore) SaveUser(_ context.Context, user *models.User) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c := *user
	c.Scopes = slices.Clone(user.Scopes)
	c.Applications = slices.Clone(user.Applications)
	s.m.users[user.UID] = &c
	return nil
}

// --- Authorization codes ---

type codeStore struct{ m *Manager }

func (s *codeStore) FindAuthorizationCode(_ context.Context, code string) (*models.AuthorizationCode, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.codes[code]
	if !ok {
		return nil, fmt.Errorf("authorization code: %w", interfaces.ErrNotFound)
	}
	out := *c
	out.Scope = slices.Clone(c.Scope)
	return &out, nil
}

func (s *codeStore) SaveAuthorizationCode(_ context.Context, code *models.AuthorizationCode) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c := *code
	c.Scope = slices.Clone(code.Scope)
	s.m.codes[code.Code] = &c
	return nil
}

func (s *codeStore) RemoveAuthorizationCode(_ context.Context, code string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.codes, code)
	return nil
}

func (s *codeStore) ConsumeAuthorizationCode(_ context.Context, code string) (*models.AuthorizationCode, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.codes[code]
	if !ok {
		return nil, fmt.Errorf("authorization code: %w", interfaces.ErrNotFound)
	}
	delete(s.m.codes, code)
	return c, nil
}

// --- Tokens ---

type tokenStore struct {
	m      *Manager
	tokens map[string]*models.ApplicationToken
	kind   string
}

func (s *tokenStore) FindToken(_ context.Context, token string) (*models.ApplicationToken, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%s: %w", s.kind, interfaces.ErrNotFound)
	}
	return cloneToken(t), nil
}

func (s *tokenStore) FindTokenByIDs(_ context.Context, uid, applicationID string) (*models.ApplicationToken, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, t := range s.tokens {
		if t.UID == uid && t.ApplicationID == applicationID {
			return cloneToken(t), nil
		}
	}
	return nil, fmt.Errorf("%s for %s/%s: %w", s.kind, uid, applicationID, interfaces.ErrNotFound)
}

func (s *tokenStore) SaveToken(_ context.Context, token *models.ApplicationToken) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.tokens[token.Token] = cloneToken(token)
	return nil
}

func (s *tokenStore) RemoveTokenByIDs(_ context.Context, uid, applicationID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	removeByIDs(s.tokens, uid, applicationID)
	return nil
}

// --- Transactions ---

type transactionStore struct{ m *Manager }

func (s *transactionStore) SaveTransaction(_ context.Context, txn *models.Transaction) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c := *txn
	c.Scope = slices.Clone(txn.Scope)
	s.m.transactions[txn.ID] = &c
	return nil
}

func (s *transactionStore) FindTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, interfaces.ErrNotFound)
	}
	c := *t
	c.Scope = slices.Clone(t.Scope)
	return &c, nil
}

func (s *transactionStore) DeleteTransaction(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.transactions, id)
	return nil
}

func (s *transactionStore) ConsumeTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, interfaces.ErrNotFound)
	}
	delete(s.m.transactions, id)
	return t, nil
}

// removeByIDs deletes every token of the pair. Caller holds the lock.
func removeByIDs(tokens map[string]*models.ApplicationToken, uid, applicationID string) {
	for k, t := range tokens {
		if t.UID == uid && t.ApplicationID == applicationID {
			delete(tokens, k)
		}
	}
}

func cloneToken(t *models.ApplicationToken) *models.ApplicationToken {
	c := *t
	c.Scope = slices.Clone(t.Scope)
	return &c
}
