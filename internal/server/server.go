package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/passage/internal/app"
	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
	"github.com/bobmcallan/passage/internal/services/oauth"
)

// AuthorizationService is the part of the OAuth core the HTTP layer drives.
type AuthorizationService interface {
	Authorize(ctx context.Context, session *common.Session, req oauth.AuthorizeRequest) (*oauth.AuthorizeResult, error)
	Decide(ctx context.Context, session *common.Session, transactionID string, allow bool) (*oauth.DecisionResult, error)
	AuthenticateClient(ctx context.Context, applicationID, secret string) (*models.Application, error)
	Exchange(ctx context.Context, req oauth.Request) (*models.TokenPair, error)
	VerifyAccessToken(ctx context.Context, token string) (*models.ApplicationToken, *models.User, error)
}

var _ AuthorizationService = (*oauth.Service)(nil)

// Server wraps the HTTP server and application reference.
type Server struct {
	app     *app.App
	oauth   AuthorizationService
	apps    interfaces.ApplicationService
	server  *http.Server
	logger  *common.Logger

	// Token endpoint limits: by source address before client authentication,
	// by application only once its secret has been verified.
	ipLimiter     *keyedLimiter
	clientLimiter *keyedLimiter
	trustProxy    bool
}

// NewServer creates the HTTP server for the authorization endpoints and the
// application management API.
func NewServer(a *app.App) *Server {
	rl := a.Config.RateLimit
	s := &Server{
		app:           a,
		oauth:         a.OAuthService,
		apps:          a.ApplicationService,
		logger:        a.Logger,
		ipLimiter:     newKeyedLimiter(rl.IPRPS, rl.IPBurst, maxLimiters),
		clientLimiter: newKeyedLimiter(rl.TokenRPS, rl.TokenBurst, maxLimiters),
		trustProxy:    rl.TrustProxy,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := applyMiddleware(mux, a.Logger, a.Config, a.Metrics)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
