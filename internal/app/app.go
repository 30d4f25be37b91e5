package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/metrics"
	"github.com/bobmcallan/passage/internal/services/application"
	"github.com/bobmcallan/passage/internal/services/oauth"
	"github.com/bobmcallan/passage/internal/storage"
)

// App holds the initialized storage and services.
// It is the shared core used by cmd/passage-server and the server tests.
type App struct {
	Config             *common.Config
	Logger             *common.Logger
	Storage            interfaces.StorageManager
	Registry           *prometheus.Registry
	Metrics            metrics.Recorder
	ApplicationService *application.Service
	OAuthService       *oauth.Service
	StartupTime        time.Time
}

// NewApp loads configuration, opens storage and wires the services.
// configPath may be empty, in which case PASSAGE_CONFIG, the binary
// directory and config/passage.toml are tried in that order.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	binDir := common.BinaryDir()

	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile(binDir)

	if configPath == "" {
		configPath = os.Getenv("PASSAGE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "passage.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/passage.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	storageManager, err := storage.NewStorageManager(ctx, logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a, err := NewAppWithStorage(ctx, config, logger, storageManager)
	if err != nil {
		storageManager.Close()
		return nil, err
	}
	return a, nil
}

// NewAppWithStorage wires the services on an already open StorageManager and
// registers the bootstrap applications. Extra options are passed to the
// OAuth service after the ones derived from config.
func NewAppWithStorage(ctx context.Context, config *common.Config, logger *common.Logger, sm interfaces.StorageManager, opts ...oauth.Option) (*App, error) {
	startupStart := time.Now()

	registry := prometheus.NewRegistry()
	var recorder metrics.Recorder = metrics.NewNoopMetrics()
	if config.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder = metrics.New(registry)
	}

	appService := application.NewService(sm, logger)

	oauthOpts := []oauth.Option{
		oauth.WithTokenBytes(config.OAuth.TokenBytes),
		oauth.WithTransactionTTL(config.OAuth.GetTransactionTTL()),
		oauth.WithMetrics(recorder),
	}
	oauthService := oauth.NewService(sm, appService, logger, append(oauthOpts, opts...)...)

	a := &App{
		Config:             config,
		Logger:             logger,
		Storage:            sm,
		Registry:           registry,
		Metrics:            recorder,
		ApplicationService: appService,
		OAuthService:       oauthService,
		StartupTime:        startupStart,
	}

	if err := a.bootstrap(ctx); err != nil {
		return nil, err
	}

	logger.Info().
		Str("backend", config.Storage.Backend).
		Bool("atomic_token_swap", sm.TokenSwapper() != nil).
		Dur("elapsed", time.Since(startupStart)).
		Msg("App initialized")

	return a, nil
}

// bootstrap registers the applications listed under [[bootstrap.applications]].
// Registration is idempotent; restarts keep ids and secrets in step with config.
func (a *App) bootstrap(ctx context.Context) error {
	for _, spec := range a.Config.Bootstrap.Applications {
		if _, err := a.ApplicationService.Register(ctx, spec); err != nil {
			return fmt.Errorf("failed to register bootstrap application %s: %w", spec.ID, err)
		}
	}
	return nil
}

// Close releases all resources held by the App.
func (a *App) Close() {
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}
}
