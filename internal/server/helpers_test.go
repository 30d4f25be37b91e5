package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/passage/internal/app"
	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/models"
	"github.com/bobmcallan/passage/internal/services/oauth"
	"github.com/bobmcallan/passage/internal/storage/memory"
)

const (
	notesID       = "notes"
	notesSecret   = "notes-secret"
	notesRedirect = "https://app.example/cb"

	firstID       = "first-party"
	firstSecret   = "first-secret"
	firstRedirect = "https://first.example/cb"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	app     *app.App
	server  *Server
	handler http.Handler
	store   *memory.Manager
	clock   *testClock
}

// newTestEnv builds a server on the memory backend with two bootstrap
// applications (one untrusted, one trusted) and users u1 and u2.
func newTestEnv(t *testing.T, mutate ...func(*common.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Backend = "memory"
	cfg.OAuth.TokenBytes = 16
	cfg.RateLimit.TokenRPS = 0
	cfg.RateLimit.IPRPS = 0
	cfg.Bootstrap.Applications = []common.BootstrapApplication{
		{ID: notesID, Name: "Notes", RedirectURI: notesRedirect, Owner: "owner", Secret: notesSecret},
		{ID: firstID, Name: "Dashboard", RedirectURI: firstRedirect, Owner: "owner", Secret: firstSecret, Trusted: true},
	}
	for _, m := range mutate {
		m(cfg)
	}

	logger := common.NewSilentLogger()
	store := memory.NewManager(logger)
	clock := &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	for _, uid := range []string{"u1", "u2"} {
		require.NoError(t, store.UserStore().SaveUser(ctx, &models.User{
			UID:          uid,
			Username:     "user-" + uid,
			Scopes:       []string{"identify"},
			CreationDate: clock.Now(),
		}))
	}

	a, err := app.NewAppWithStorage(ctx, cfg, logger, store, oauth.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	srv := NewServer(a)
	return &testEnv{app: a, server: srv, handler: srv.Handler(), store: store, clock: clock}
}

// cookie returns a session cookie for uid.
func (e *testEnv) cookie(t *testing.T, uid, sessionID string) *http.Cookie {
	t.Helper()
	value, err := NewSessionToken([]byte(e.app.Config.Auth.SessionSecret), uid, sessionID, time.Hour)
	require.NoError(t, err)
	return &http.Cookie{Name: e.app.Config.Auth.SessionCookie, Value: value}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// authorize sends GET /oauth2/authorize as uid.
func (e *testEnv) authorize(t *testing.T, uid, sessionID string, q url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/oauth2/authorize?"+q.Encode(), nil)
	if uid != "" {
		req.AddCookie(e.cookie(t, uid, sessionID))
	}
	return e.do(req)
}

// decide sends POST /oauth2/authorize with the given form.
func (e *testEnv) decide(t *testing.T, uid, sessionID string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/oauth2/authorize", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(e.cookie(t, uid, sessionID))
	return e.do(req)
}

// token sends POST /oauth2/token with Basic credentials when id is not empty.
func (e *testEnv) token(t *testing.T, id, secret string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if id != "" {
		req.SetBasicAuth(url.QueryEscape(id), url.QueryEscape(secret))
	}
	return e.do(req)
}

// pendingTransaction starts an authorization for the Notes application and
// returns the transaction id.
func (e *testEnv) pendingTransaction(t *testing.T, uid, sessionID, scope string) string {
	t.Helper()
	rec := e.authorize(t, uid, sessionID, authorizeQuery(notesID, notesRedirect, scope))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body pendingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.TransactionID)
	return body.TransactionID
}

// approvedCode runs authorize and allow for Notes and returns the code.
func (e *testEnv) approvedCode(t *testing.T, uid, scope string) string {
	t.Helper()
	id := e.pendingTransaction(t, uid, "s-"+uid, scope)
	rec := e.decide(t, uid, "s-"+uid, url.Values{"transaction_id": {id}})
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	loc := redirectLocation(t, rec)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func authorizeQuery(clientID, redirect, scope string) url.Values {
	return url.Values{
		"client_id":     {clientID},
		"redirect_uri":  {redirect},
		"scope":         {scope},
		"response_type": {"code"},
		"state":         {"xyz"},
	}
}

func redirectLocation(t *testing.T, rec *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc
}

func decodeOAuthError(t *testing.T, rec *httptest.ResponseRecorder) OAuthErrorResponse {
	t.Helper()
	var body OAuthErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func decodeTokens(t *testing.T, rec *httptest.ResponseRecorder) tokenResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPathParam(t *testing.T) {
	tests := []struct {
		path, prefix, suffix, want string
	}{
		{"/api/v1/applications/abc", applicationsPrefix, "", "abc"},
		{"/api/v1/applications/abc/secret", applicationsPrefix, "/secret", "abc"},
		{"/api/v1/applications/abc/secret", applicationsPrefix, "", "abc"},
		{"/other/abc", applicationsPrefix, "", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, tt.path, nil)
		assert.Equal(t, tt.want, PathParam(r, tt.prefix, tt.suffix), tt.path)
	}
}

func TestWriteOAuthError_UnknownErrorIsServerError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeOAuthError(rec, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	body := decodeOAuthError(t, rec)
	assert.Equal(t, "server_error", body.Error)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestClientCredentials(t *testing.T) {
	form := func(v url.Values) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(v.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		require.NoError(t, r.ParseForm())
		return r
	}

	r := form(url.Values{})
	r.SetBasicAuth(url.QueryEscape("id with space"), url.QueryEscape("s3cr:t"))
	id, secret, ok := clientCredentials(r)
	require.True(t, ok)
	assert.Equal(t, "id with space", id)
	assert.Equal(t, "s3cr:t", secret)

	id, secret, ok = clientCredentials(form(url.Values{"client_id": {"a"}, "client_secret": {"b"}}))
	require.True(t, ok)
	assert.Equal(t, "a", id)
	assert.Equal(t, "b", secret)

	_, _, ok = clientCredentials(form(url.Values{"client_id": {"a"}}))
	assert.False(t, ok)

	r = form(url.Values{})
	r.SetBasicAuth("%zz", "x")
	_, _, ok = clientCredentials(r)
	assert.False(t, ok)
}
