package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) accessToken(t *testing.T, uid, scope string) string {
	t.Helper()
	code := e.approvedCode(t, uid, scope)
	return decodeTokens(t, e.token(t, notesID, notesSecret, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {notesRedirect},
	})).AccessToken
}

func (e *testEnv) profile(token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.do(req)
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t)
	token := env.accessToken(t, "u1", "identify")

	rec := env.profile(token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "u1", body["uid"])
	assert.Equal(t, "user-u1", body["username"])
	assert.Equal(t, []any{"identify"}, body["scopes"])
	assert.Equal(t, false, body["private"])
	assert.Contains(t, body, "creationDate")
}

func TestProfile_WildcardScope(t *testing.T) {
	env := newTestEnv(t)
	token := env.accessToken(t, "u1", "*")

	assert.Equal(t, http.StatusOK, env.profile(token).Code)
}

func TestProfile_Rejections(t *testing.T) {
	env := newTestEnv(t)

	rec := env.profile("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.profile("not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_token"`)

	filesOnly := env.accessToken(t, "u2", "files")
	rec = env.profile(filesOnly)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="insufficient_scope"`)
}

func TestProfile_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.accessToken(t, "u1", "identify")

	env.clock.Advance(time.Hour)
	assert.Equal(t, http.StatusOK, env.profile(token).Code)

	env.clock.Advance(time.Second)
	rec := env.profile(token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header, want string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", tt.header)
		assert.Equal(t, tt.want, bearerToken(r), tt.header)
	}
}
