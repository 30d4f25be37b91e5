package models

import (
	"strings"
	"time"
)

// Scope is a single permission token granted to an application.
type Scope string

const (
	ScopeIdentify Scope = "identify"
	ScopeFiles    Scope = "files"
	ScopeAll      Scope = "*"
)

// KnownScopes is the closed set of scopes an application may request.
var KnownScopes = []Scope{ScopeIdentify, ScopeFiles, ScopeAll}

// ScopeStrings converts a scope list to plain strings for storage and responses.
func ScopeStrings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

// ScopesFromStrings is the inverse of ScopeStrings. No validation is applied.
func ScopesFromStrings(values []string) []Scope {
	out := make([]Scope, len(values))
	for i, v := range values {
		out[i] = Scope(v)
	}
	return out
}

// JoinScopes renders scopes as a space separated list.
func JoinScopes(scopes []Scope) string {
	return strings.Join(ScopeStrings(scopes), " ")
}

// HasScope reports whether want is granted, directly or through "*".
func HasScope(scopes []Scope, want Scope) bool {
	for _, s := range scopes {
		if s == want || s == ScopeAll {
			return true
		}
	}
	return false
}

// AuthorizationCode is a single-use grant artifact issued on an approved transaction.
type AuthorizationCode struct {
	Code          string    `json:"code"`
	ApplicationID string    `json:"application_id"`
	RedirectURI   string    `json:"redirect_uri"`
	UID           string    `json:"uid"`
	Scope         []Scope   `json:"scope"`
	CreationDate  time.Time `json:"creation_date"`
}

// ApplicationToken is used for both access and refresh tokens.
// Which one it is depends only on the store it lives in.
type ApplicationToken struct {
	Token         string    `json:"token"`
	UID           string    `json:"uid"`
	ApplicationID string    `json:"application_id"`
	Scope         []Scope   `json:"scope"`
	CreationDate  time.Time `json:"creation_date"`
}

// TokenPair is the result of a successful exchange.
type TokenPair struct {
	AccessToken  *ApplicationToken
	RefreshToken *ApplicationToken
}

// TransactionState tracks an authorization transaction between the
// authorize request and the user's decision.
type TransactionState string

const (
	TransactionPending  TransactionState = "pending"
	TransactionAllowed  TransactionState = "allowed"
	TransactionDenied   TransactionState = "denied"
	TransactionConsumed TransactionState = "consumed"
)

// Terminal reports whether no further transition is possible.
func (s TransactionState) Terminal() bool {
	return s == TransactionDenied || s == TransactionConsumed
}

// Transaction is the in-flight state of an authorization request.
type Transaction struct {
	ID            string           `json:"id"`
	SessionID     string           `json:"session_id"`
	UID           string           `json:"uid"`
	ApplicationID string           `json:"application_id"`
	RedirectURI   string           `json:"redirect_uri"`
	Scope         []Scope          `json:"scope"`
	State         TransactionState `json:"state"`
	ClientState   string           `json:"client_state,omitempty"` // OAuth "state" parameter, echoed on redirect
	CreationDate  time.Time        `json:"creation_date"`
}
