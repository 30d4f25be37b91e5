// Package oauth implements the OAuth2 authorization code and refresh token
// state machine: scope validation, authorization transactions, grant and
// exchange strategies, and token issuance.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/metrics"
	"github.com/bobmcallan/passage/internal/models"
)

// ApplicationRegistry resolves applications and checks their secrets.
type ApplicationRegistry interface {
	FindApplication(ctx context.Context, applicationID string) (*models.Application, error)
	CheckSecret(ctx context.Context, applicationID, secret string) (bool, error)
}

// TokenGenerator returns a new high-entropy token string.
type TokenGenerator func() (string, error)

// RandomToken returns a generator producing n random bytes as hex.
func RandomToken(n int) TokenGenerator {
	return func() (string, error) {
		b := make([]byte, n)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		return hex.EncodeToString(b), nil
	}
}

// Service is the authorization server core. It owns the strategy table,
// the token issuer and the transaction manager, all built once in NewService.
type Service struct {
	apps       ApplicationRegistry
	storage    interfaces.StorageManager
	strategies *Strategies
	issuer     *Issuer
	txns       *TransactionManager
	logger     *common.Logger
	metrics    metrics.Recorder
	now        func() time.Time
}

type options struct {
	now            func() time.Time
	generator      TokenGenerator
	tokenBytes     int
	transactionTTL time.Duration
	metrics        metrics.Recorder
	tracer         trace.Tracer
}

// Option configures a Service.
type Option func(*options)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTokenGenerator overrides the random generator used for codes and tokens.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(o *options) { o.generator = g }
}

// WithTokenBytes sets the entropy of generated codes and tokens.
func WithTokenBytes(n int) Option {
	return func(o *options) { o.tokenBytes = n }
}

// WithTransactionTTL sets how long a pending transaction waits for a decision.
func WithTransactionTTL(d time.Duration) Option {
	return func(o *options) { o.transactionTTL = d }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

// WithTracerProvider sets the tracer provider. Defaults to the otel global.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp.Tracer(tracerName) }
}

// NewService wires the strategy table, issuer and transaction manager.
func NewService(storage interfaces.StorageManager, apps ApplicationRegistry, logger *common.Logger, opts ...Option) *Service {
	o := options{
		now:            time.Now,
		tokenBytes:     256,
		transactionTTL: 10 * time.Minute,
		metrics:        metrics.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.generator == nil {
		o.generator = RandomToken(o.tokenBytes)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	issuer := &Issuer{
		users:    storage.UserStore(),
		access:   storage.AccessTokenStore(),
		refresh:  storage.RefreshTokenStore(),
		swapper:  storage.TokenSwapper(),
		generate: o.generator,
		now:      o.now,
		logger:   logger,
		metrics:  o.metrics,
		tracer:   o.tracer,
	}

	strategies := &Strategies{
		codes:    storage.CodeStore(),
		refresh:  storage.RefreshTokenStore(),
		issuer:   issuer,
		generate: o.generator,
		now:      o.now,
		logger:   logger,
		metrics:  o.metrics,
		tracer:   o.tracer,
	}

	txns := &TransactionManager{
		apps:       apps,
		store:      storage.TransactionStore(),
		strategies: strategies,
		ttl:        o.transactionTTL,
		now:        o.now,
		logger:     logger,
		metrics:    o.metrics,
		tracer:     o.tracer,
	}

	return &Service{
		apps:       apps,
		storage:    storage,
		strategies: strategies,
		issuer:     issuer,
		txns:       txns,
		logger:     logger,
		metrics:    o.metrics,
		now:        o.now,
	}
}

// Strategies returns the grant/exchange table.
func (s *Service) Strategies() *Strategies {
	return s.strategies
}

// Authorize starts an authorization transaction. See TransactionManager.Authorize.
func (s *Service) Authorize(ctx context.Context, session *common.Session, req AuthorizeRequest) (*AuthorizeResult, error) {
	return s.txns.Authorize(ctx, session, req)
}

// Decide resolves a pending transaction. See TransactionManager.Decide.
func (s *Service) Decide(ctx context.Context, session *common.Session, transactionID string, allow bool) (*DecisionResult, error) {
	return s.txns.Decide(ctx, session, transactionID, allow)
}

// Exchange runs an exchange strategy for an authenticated application.
func (s *Service) Exchange(ctx context.Context, req Request) (*models.TokenPair, error) {
	if req.Kind != CodeExchange && req.Kind != RefreshExchange {
		return nil, newError(KindUnsupportedGrant, "exchange", fmt.Sprintf("%s is not an exchange", req.Kind))
	}
	res, err := s.strategies.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Tokens, nil
}

// AuthenticateClient verifies an application's credentials.
// Unknown applications and wrong secrets both fail; the kinds differ for logging only.
func (s *Service) AuthenticateClient(ctx context.Context, applicationID, secret string) (*models.Application, error) {
	if applicationID == "" || secret == "" {
		return nil, newError(KindInvalidRequest, "authenticate_client", "client credentials are required")
	}
	ok, err := s.apps.CheckSecret(ctx, applicationID, secret)
	if err != nil {
		return nil, storeError("authenticate_client", "application not found", err)
	}
	if !ok {
		return nil, newError(KindMismatch, "authenticate_client", "client secret does not match")
	}
	app, err := s.apps.FindApplication(ctx, applicationID)
	if err != nil {
		return nil, storeError("authenticate_client", "application not found", err)
	}
	return app, nil
}

// VerifyAccessToken resolves a bearer token to its grant and user.
// Access tokens older than common.FreshnessAccessToken are rejected.
func (s *Service) VerifyAccessToken(ctx context.Context, token string) (*models.ApplicationToken, *models.User, error) {
	const op = "verify_access_token"
	if token == "" {
		return nil, nil, newError(KindInvalidRequest, op, "access token is required")
	}
	at, err := s.storage.AccessTokenStore().FindToken(ctx, token)
	if err != nil {
		return nil, nil, storeError(op, "access token not found", err)
	}
	if !common.IsFresh(at.CreationDate, common.FreshnessAccessToken, s.now()) {
		return nil, nil, newError(KindExpired, op, "access token expired")
	}
	user, err := s.storage.UserStore().FindUser(ctx, at.UID)
	if err != nil {
		return nil, nil, storeError(op, "user not found", err)
	}
	return at, user, nil
}
