package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bobmcallan/passage/internal/common"
)

// sessionClaims is the payload of the session cookie issued by the login
// front end. Subject is the user id; SessionID identifies the browser session.
type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// NewSessionToken signs a session cookie value for uid. The login front end
// shares the secret; this is also how tests obtain a session.
func NewSessionToken(secret []byte, uid, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// parseSession validates a session cookie value and returns its identity.
func parseSession(tokenString string, secret []byte) (*common.Session, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, errors.New("session token is missing sub or sid")
	}
	return &common.Session{ID: claims.SessionID, UID: claims.Subject}, nil
}

// sessionMiddleware resolves the session cookie into a common.Session on the
// request context. Requests without a valid cookie pass through anonymously;
// handlers that need a user call requireSession.
func sessionMiddleware(config *common.Config, logger *common.Logger) func(http.Handler) http.Handler {
	secret := []byte(config.Auth.SessionSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(config.Auth.SessionCookie)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}
			session, err := parseSession(cookie.Value, secret)
			if err != nil {
				logger.Debug().
					Err(err).
					Str("correlation_id", common.CorrelationIDFromContext(r.Context())).
					Msg("Ignoring invalid session cookie")
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(common.WithSession(r.Context(), session)))
		})
	}
}

// requireSession returns the request's session, or writes 401 and returns nil.
func requireSession(w http.ResponseWriter, r *http.Request) *common.Session {
	session := common.SessionFromContext(r.Context())
	if session == nil {
		WriteErrorWithCode(w, http.StatusUnauthorized, "Authentication required", "unauthenticated")
		return nil
	}
	return session
}
