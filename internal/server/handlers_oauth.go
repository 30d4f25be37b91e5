package server

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/models"
	"github.com/bobmcallan/passage/internal/services/oauth"
)

// tokenResponse is the RFC 6749 section 5.1 success body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// pendingResponse is returned for untrusted applications when no consent
// page is configured.
type pendingResponse struct {
	TransactionID string   `json:"transaction_id"`
	Application   string   `json:"application"`
	RedirectURI   string   `json:"redirect_uri"`
	Scope         []string `json:"scope"`
}

// handleAuthorize routes /oauth2/authorize by method.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleAuthorizeRequest(w, r)
	case http.MethodPost:
		s.handleAuthorizeDecision(w, r)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleAuthorizeRequest handles GET /oauth2/authorize. Errors are reported
// to the user agent as JSON and never redirected; the redirect URI is not
// trusted until it has matched the registered one.
func (s *Server) handleAuthorizeRequest(w http.ResponseWriter, r *http.Request) {
	session := requireSession(w, r)
	if session == nil {
		return
	}

	q := r.URL.Query()
	res, err := s.oauth.Authorize(r.Context(), session, oauth.AuthorizeRequest{
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		Scope:        q.Get("scope"),
		ResponseType: q.Get("response_type"),
		State:        q.Get("state"),
	})
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	if !res.Pending() {
		http.Redirect(w, r, res.Redirect, http.StatusFound)
		return
	}

	txn := res.Transaction
	consentURL := s.app.Config.Server.ConsentURL
	if consentURL == "" {
		noStore(w)
		WriteJSON(w, http.StatusOK, pendingResponse{
			TransactionID: txn.ID,
			Application:   res.Application.Name,
			RedirectURI:   txn.RedirectURI,
			Scope:         models.ScopeStrings(txn.Scope),
		})
		return
	}

	target, err := url.Parse(consentURL)
	if err != nil {
		s.logger.Error().Err(err).Msg("Configured consent URL is invalid")
		writeOAuthErrorCode(w, http.StatusInternalServerError, "server_error", "The server encountered an internal error")
		return
	}
	params := target.Query()
	params.Set("transactionId", txn.ID)
	params.Set("redirectUri", txn.RedirectURI)
	params.Set("application", res.Application.Name)
	params.Set("scope", models.JoinScopes(txn.Scope))
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handleAuthorizeDecision handles POST /oauth2/authorize. The body carries
// transaction_id; a "cancel" field or decision=deny denies the request.
func (s *Server) handleAuthorizeDecision(w http.ResponseWriter, r *http.Request) {
	session := requireSession(w, r)
	if session == nil {
		return
	}
	if !ParseForm(w, r) {
		return
	}

	_, cancel := r.PostForm["cancel"]
	allow := !cancel && r.PostForm.Get("decision") != "deny"

	res, err := s.oauth.Decide(r.Context(), session, r.PostForm.Get("transaction_id"), allow)
	if err != nil {
		if oauth.IsKind(err, oauth.KindMismatch) {
			writeOAuthErrorCode(w, http.StatusForbidden, "access_denied", "The transaction belongs to another session")
			return
		}
		writeOAuthError(w, err)
		return
	}
	http.Redirect(w, r, res.Redirect, http.StatusFound)
}

// handleToken handles POST /oauth2/token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !ParseForm(w, r) {
		return
	}

	if allowed, wait := s.ipLimiter.allow(clientIP(r, s.trustProxy)); !allowed {
		writeSlowDown(w, wait)
		return
	}

	clientID, secret, ok := clientCredentials(r)
	if !ok {
		s.writeInvalidClient(w)
		return
	}

	app, err := s.oauth.AuthenticateClient(r.Context(), clientID, secret)
	if err != nil {
		if oauth.IsKind(err, oauth.KindStoreFailure) {
			writeOAuthError(w, err)
			return
		}
		s.logger.Warn().
			Str("application_id", clientID).
			Str("kind", string(oauth.KindOf(err))).
			Str("correlation_id", common.CorrelationIDFromContext(r.Context())).
			Msg("Client authentication failed")
		s.writeInvalidClient(w)
		return
	}

	// Charged only for authenticated clients; client ids are public
	if allowed, wait := s.clientLimiter.allow(app.ID); !allowed {
		writeSlowDown(w, wait)
		return
	}

	kind, err := oauth.ExchangeKind(r.PostForm.Get("grant_type"))
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	pair, err := s.oauth.Exchange(r.Context(), oauth.Request{
		Kind:         kind,
		Application:  app,
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		RefreshToken: r.PostForm.Get("refresh_token"),
	})
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	noStore(w)
	WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken.Token,
		RefreshToken: pair.RefreshToken.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int(common.FreshnessAccessToken.Seconds()),
		Scope:        models.JoinScopes(pair.AccessToken.Scope),
	})
}

func writeSlowDown(w http.ResponseWriter, wait time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
	writeOAuthErrorCode(w, http.StatusTooManyRequests, "slow_down", "Too many token requests")
}

func (s *Server) writeInvalidClient(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="passage"`)
	writeOAuthErrorCode(w, http.StatusUnauthorized, "invalid_client", "Client authentication failed")
}

// clientCredentials reads HTTP Basic credentials, falling back to
// client_id and client_secret in the form body. Basic credentials are
// form-urlencoded per RFC 6749 section 2.3.1.
func clientCredentials(r *http.Request) (string, string, bool) {
	if id, secret, ok := r.BasicAuth(); ok {
		uid, err1 := url.QueryUnescape(id)
		usecret, err2 := url.QueryUnescape(secret)
		if err1 != nil || err2 != nil || uid == "" || usecret == "" {
			return "", "", false
		}
		return uid, usecret, true
	}
	id := r.PostForm.Get("client_id")
	secret := r.PostForm.Get("client_secret")
	if id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}
