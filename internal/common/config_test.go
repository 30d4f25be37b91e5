package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "surrealdb", cfg.Storage.Backend)
	assert.Equal(t, 256, cfg.OAuth.TokenBytes)
	assert.Equal(t, 10*time.Minute, cfg.OAuth.GetTransactionTTL())
	assert.NoError(t, cfg.Validate())
}

func TestConfig_PortEnvOverride(t *testing.T) {
	t.Setenv("PASSAGE_PORT", "9090")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestConfig_InvalidPortEnvIgnored(t *testing.T) {
	t.Setenv("PASSAGE_PORT", "not-a-port")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestConfig_TrustProxyEnvOverride(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.False(t, cfg.RateLimit.TrustProxy)
	assert.Greater(t, cfg.RateLimit.IPRPS, 0.0)

	t.Setenv("PASSAGE_TRUST_PROXY", "true")
	applyEnvOverrides(cfg)
	assert.True(t, cfg.RateLimit.TrustProxy)
}

func TestConfig_StorageEnvOverrides(t *testing.T) {
	t.Setenv("PASSAGE_STORAGE_BACKEND", "Postgres")
	t.Setenv("PASSAGE_POSTGRES_DSN", "postgres://u:p@localhost/db")
	t.Setenv("PASSAGE_REDIS_ADDRESS", "localhost:6379")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.Storage.Postgres.DSN)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Address)
	assert.Equal(t, "postgres", cfg.StorageAddress())
}

func TestLoadConfig_MergesFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
environment = "staging"

[server]
port = 7000
consent_url = "https://control.example/redirect/authorize"

[oauth]
transaction_ttl = "5m"
`), 0o600))
	require.NoError(t, os.WriteFile(override, []byte(`
[server]
port = 7100

[[bootstrap.applications]]
id = "first-party"
name = "Control"
redirect_uri = "https://control.example/cb"
owner = "u1"
secret = "s3cret"
trusted = true
`), 0o600))

	cfg, err := LoadConfig(base, filepath.Join(dir, "missing.toml"), override)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 7100, cfg.Server.Port)
	assert.Equal(t, "https://control.example/redirect/authorize", cfg.Server.ConsentURL)
	assert.Equal(t, 5*time.Minute, cfg.OAuth.GetTransactionTTL())
	require.Len(t, cfg.Bootstrap.Applications, 1)
	assert.True(t, cfg.Bootstrap.Applications[0].Trusted)
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport = "), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Storage.Backend = "badger"
	assert.ErrorContains(t, cfg.Validate(), "unknown storage backend")

	cfg = NewDefaultConfig()
	cfg.Storage.Backend = "postgres"
	assert.ErrorContains(t, cfg.Validate(), "dsn is required")

	cfg = NewDefaultConfig()
	cfg.OAuth.TokenBytes = 8
	assert.ErrorContains(t, cfg.Validate(), "at least 16")

	cfg = NewDefaultConfig()
	cfg.Environment = "production"
	assert.ErrorContains(t, cfg.Validate(), "session_secret")
}

func TestConfig_DurationFallbacks(t *testing.T) {
	oc := OAuthConfig{TransactionTTL: "soon"}
	assert.Equal(t, 10*time.Minute, oc.GetTransactionTTL())

	rc := RedisConfig{ConnTimeout: ""}
	assert.Equal(t, 5*time.Second, rc.GetConnTimeout())
}

func TestIsFresh_Boundary(t *testing.T) {
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ttl := FreshnessAuthorizationCode

	assert.True(t, IsFresh(created, ttl, created.Add(119999*time.Millisecond)))
	assert.True(t, IsFresh(created, ttl, created.Add(120000*time.Millisecond)))
	assert.False(t, IsFresh(created, ttl, created.Add(120001*time.Millisecond)))
	assert.False(t, IsFresh(time.Time{}, ttl, created))
}

func TestLoadVersionFromFile(t *testing.T) {
	origVersion, origBuild, origCommit := Version, Build, GitCommit
	t.Cleanup(func() { Version, Build, GitCommit = origVersion, origBuild, origCommit })
	Version, Build, GitCommit = "dev", "unknown", "unknown"

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".version"),
		[]byte("# generated\nversion: 1.4.0\nbuild: 2024-05-01\ncommit: abc123\n"), 0o600))

	LoadVersionFromFile(dir)
	assert.Equal(t, "1.4.0", GetVersion())
	assert.Equal(t, "2024-05-01", GetBuild())
	assert.Equal(t, "abc123", GetGitCommit())
	assert.Equal(t, "1.4.0 (build: 2024-05-01, commit: abc123)", GetFullVersion())
}

func TestSessionContext(t *testing.T) {
	ctx := WithSession(t.Context(), &Session{ID: "sid-1", UID: "u1"})
	s := SessionFromContext(ctx)
	require.NotNil(t, s)
	assert.Equal(t, "u1", s.UID)
	assert.Nil(t, SessionFromContext(t.Context()))

	ctx = WithCorrelationID(ctx, "corr-1")
	assert.Equal(t, "corr-1", CorrelationIDFromContext(ctx))
}
