package application

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
	"github.com/bobmcallan/passage/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Manager) {
	t.Helper()
	store := memory.NewManager(common.NewSilentLogger())
	require.NoError(t, store.UserStore().SaveUser(context.Background(), &models.User{
		UID:          "u1",
		Username:     "alice",
		CreationDate: time.Now(),
	}))
	svc := NewService(store, common.NewSilentLogger())
	svc.generate = func() (string, error) { return "plain-secret", nil }
	return svc, store
}

func TestHashSecret_RoundTrip(t *testing.T) {
	hash, err := HashSecret("s3cret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=16384,t=2,p=1$"))
	assert.True(t, VerifySecret(hash, "s3cret"))
	assert.False(t, VerifySecret(hash, "wrong"))

	other, err := HashSecret("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salts must differ")
}

func TestVerifySecret_Malformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=16384,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=16384,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=16384,t=2,p=1$!!$aGFzaA",
	} {
		assert.False(t, VerifySecret(encoded, "anything"), encoded)
	}
}

func TestCreate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	app, secret, err := svc.Create(ctx, "u1", " Notes ", "https://app.example/cb")
	require.NoError(t, err)
	assert.Equal(t, "plain-secret", secret)
	assert.Equal(t, "Notes", app.Name)
	assert.False(t, app.Trusted)
	assert.NotEmpty(t, app.ID)
	assert.NotContains(t, app.SecretHash, secret)

	ok, err := svc.CheckSecret(ctx, app.ID, secret)
	require.NoError(t, err)
	assert.True(t, ok)

	owner, err := store.UserStore().FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{app.ID}, owner.Applications)
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, "u1", "", "https://app.example/cb")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = svc.Create(ctx, "u1", "App", "/relative")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = svc.Create(ctx, "u1", "App", "https://app.example/cb#frag")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = svc.Create(ctx, "ghost", "App", "https://app.example/cb")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRegenerateSecret_InvalidatesPrevious(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	app, first, err := svc.Create(ctx, "u1", "App", "https://app.example/cb")
	require.NoError(t, err)

	svc.generate = func() (string, error) { return "rotated-secret", nil }
	second, err := svc.RegenerateSecret(ctx, "u1", app.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated-secret", second)

	ok, err := svc.CheckSecret(ctx, app.ID, first)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.CheckSecret(ctx, app.ID, second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdates_RequireOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	app, _, err := svc.Create(ctx, "u1", "App", "https://app.example/cb")
	require.NoError(t, err)

	_, err = svc.UpdateName(ctx, "intruder", app.ID, "Pwned")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.RegenerateSecret(ctx, "intruder", app.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := svc.UpdateName(ctx, "u1", app.ID, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	updated, err = svc.UpdateRedirectURI(ctx, "u1", app.ID, "https://new.example/cb")
	require.NoError(t, err)
	assert.Equal(t, "https://new.example/cb", updated.RedirectURI)

	_, err = svc.UpdateRedirectURI(ctx, "u1", app.ID, "not a url")
	assert.ErrorIs(t, err, ErrInvalidInput)

	apps, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "Renamed", apps[0].Name)
}

func TestRegister_Bootstrap(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	app, err := svc.Register(ctx, common.BootstrapApplication{
		ID:          "control",
		Name:        "Control",
		RedirectURI: "https://control.example/cb",
		Owner:       "operator",
		Secret:      "bootstrap-secret",
		Trusted:     true,
	})
	require.NoError(t, err)
	assert.True(t, app.Trusted)

	ok, err := svc.CheckSecret(ctx, "control", "bootstrap-secret")
	require.NoError(t, err)
	assert.True(t, ok)

	owner, err := store.UserStore().FindUser(ctx, "operator")
	require.NoError(t, err)
	assert.Equal(t, []string{"control"}, owner.Applications)

	// Re-registering keeps the creation date and does not duplicate the link
	again, err := svc.Register(ctx, common.BootstrapApplication{
		ID: "control", Name: "Control", RedirectURI: "https://control.example/cb",
		Owner: "operator", Secret: "bootstrap-secret", Trusted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, app.CreationDate, again.CreationDate)
	owner, err = store.UserStore().FindUser(ctx, "operator")
	require.NoError(t, err)
	assert.Len(t, owner.Applications, 1)

	_, err = svc.Register(ctx, common.BootstrapApplication{ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSetTrusted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	app, _, err := svc.Create(ctx, "u1", "App", "https://app.example/cb")
	require.NoError(t, err)
	require.NoError(t, svc.SetTrusted(ctx, app.ID, true))

	got, err := svc.FindApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.True(t, got.Trusted)

	assert.ErrorIs(t, svc.SetTrusted(ctx, "missing", true), interfaces.ErrNotFound)
}
