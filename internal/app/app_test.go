package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/metrics"
	"github.com/bobmcallan/passage/internal/storage/memory"
)

func testConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Storage.Backend = "memory"
	cfg.Bootstrap.Applications = []common.BootstrapApplication{
		{ID: "dashboard", Name: "Dashboard", RedirectURI: "https://dash.example/cb", Owner: "ops", Secret: "s3cret", Trusted: true},
	}
	return cfg
}

func TestNewAppWithStorage_Bootstrap(t *testing.T) {
	ctx := context.Background()
	logger := common.NewSilentLogger()

	a, err := NewAppWithStorage(ctx, testConfig(), logger, memory.NewManager(logger))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	app, err := a.ApplicationService.FindApplication(ctx, "dashboard")
	require.NoError(t, err)
	assert.True(t, app.Trusted)
	assert.Equal(t, "ops", app.Owner)

	ok, err := a.ApplicationService.CheckSecret(ctx, "dashboard", "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	owner, err := a.Storage.UserStore().FindUser(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard"}, owner.Applications)

	assert.IsType(t, &metrics.Metrics{}, a.Metrics)
}

func TestNewAppWithStorage_BootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	logger := common.NewSilentLogger()
	store := memory.NewManager(logger)

	first, err := NewAppWithStorage(ctx, testConfig(), logger, store)
	require.NoError(t, err)
	created, err := first.ApplicationService.FindApplication(ctx, "dashboard")
	require.NoError(t, err)

	second, err := NewAppWithStorage(ctx, testConfig(), logger, store)
	require.NoError(t, err)
	again, err := second.ApplicationService.FindApplication(ctx, "dashboard")
	require.NoError(t, err)
	assert.Equal(t, created.CreationDate, again.CreationDate)

	owner, err := store.UserStore().FindUser(ctx, "ops")
	require.NoError(t, err)
	assert.Len(t, owner.Applications, 1)
}

func TestNewAppWithStorage_InvalidBootstrap(t *testing.T) {
	logger := common.NewSilentLogger()
	cfg := testConfig()
	cfg.Bootstrap.Applications[0].RedirectURI = "not-absolute"

	_, err := NewAppWithStorage(context.Background(), cfg, logger, memory.NewManager(logger))
	assert.Error(t, err)
}

func TestNewAppWithStorage_MetricsDisabled(t *testing.T) {
	logger := common.NewSilentLogger()
	cfg := testConfig()
	cfg.Metrics.Enabled = false

	a, err := NewAppWithStorage(context.Background(), cfg, logger, memory.NewManager(logger))
	require.NoError(t, err)
	assert.Equal(t, metrics.NewNoopMetrics(), a.Metrics)
}
