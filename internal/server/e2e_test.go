package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// TestOAuth2Client drives the server with the x/oauth2 client: consent,
// code exchange, an authenticated API call and a refresh.
func TestOAuth2Client(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	conf := &oauth2.Config{
		ClientID:     notesID,
		ClientSecret: notesSecret,
		RedirectURL:  notesRedirect,
		Scopes:       []string{"identify", "files"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/oauth2/authorize",
			TokenURL:  ts.URL + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	browser := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	cookie := env.cookie(t, "u1", "browser-1")

	// Authorize
	req, err := http.NewRequest(http.MethodGet, conf.AuthCodeURL("state-1"), nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	resp, err := browser.Do(req)
	require.NoError(t, err)
	var pending pendingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"identify", "files"}, pending.Scope)

	// Consent
	form := url.Values{"transaction_id": {pending.TransactionID}}
	req, err = http.NewRequest(http.MethodPost, ts.URL+"/oauth2/authorize", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	resp, err = browser.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := resp.Location()
	require.NoError(t, err)
	assert.Equal(t, "state-1", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	// Exchange
	ctx := context.Background()
	tok, err := conf.Exchange(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
	assert.Equal(t, "identify files", tok.Extra("scope"))

	_, err = conf.Exchange(ctx, code)
	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, "invalid_grant", retrieveErr.ErrorCode)

	// API call
	resp, err = conf.Client(ctx, tok).Get(ts.URL + "/api/v1/profile")
	require.NoError(t, err)
	var profile profileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profile))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "u1", profile.UID)

	// Refresh
	stale := &oauth2.Token{RefreshToken: tok.RefreshToken, Expiry: time.Now().Add(-time.Minute)}
	refreshed, err := conf.TokenSource(ctx, stale).Token()
	require.NoError(t, err)
	assert.NotEqual(t, tok.AccessToken, refreshed.AccessToken)
	assert.NotEqual(t, tok.RefreshToken, refreshed.RefreshToken)

	// The first access token was replaced
	resp, err = conf.Client(ctx, tok).Get(ts.URL + "/api/v1/profile")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOAuth2Client_WrongSecret(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	conf := &oauth2.Config{
		ClientID:     notesID,
		ClientSecret: "wrong",
		RedirectURL:  notesRedirect,
		Endpoint: oauth2.Endpoint{
			TokenURL:  ts.URL + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	_, err := conf.Exchange(context.Background(), "whatever")
	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, http.StatusUnauthorized, retrieveErr.Response.StatusCode)
	assert.Equal(t, "invalid_client", retrieveErr.ErrorCode)
}
