package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/passage/internal/models"
	"github.com/bobmcallan/passage/internal/services/oauth"
)

type profileResponse struct {
	UID          string    `json:"uid"`
	Username     string    `json:"username"`
	Avatar       string    `json:"avatar,omitempty"`
	Scopes       []string  `json:"scopes"`
	Private      bool      `json:"private"`
	CreationDate time.Time `json:"creationDate"`
}

// handleProfile handles GET /api/v1/profile for bearer tokens holding the
// identify scope.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	token := bearerToken(r)
	if token == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="passage"`)
		WriteError(w, http.StatusUnauthorized, "Bearer token required")
		return
	}

	at, user, err := s.oauth.VerifyAccessToken(r.Context(), token)
	if err != nil {
		if oauth.IsKind(err, oauth.KindStoreFailure) {
			s.logger.Error().Err(err).Msg("Failed to verify access token")
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="passage", error="invalid_token"`)
		WriteError(w, http.StatusUnauthorized, "Invalid or expired access token")
		return
	}

	if !models.HasScope(at.Scope, models.ScopeIdentify) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="passage", error="insufficient_scope", scope="identify"`)
		WriteErrorWithCode(w, http.StatusForbidden, "Token lacks the identify scope", "insufficient_scope")
		return
	}

	noStore(w)
	WriteJSON(w, http.StatusOK, profileResponse{
		UID:          user.UID,
		Username:     user.Username,
		Avatar:       user.Avatar,
		Scopes:       models.ScopeStrings(at.Scope),
		Private:      user.Private,
		CreationDate: user.CreationDate,
	})
}

// bearerToken returns the token from an "Authorization: Bearer" header, or "".
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
