package oauth

import (
	"context"

	"github.com/bobmcallan/passage/internal/common"
)

// exchangeCode consumes an authorization code. Lookup and removal are one
// store operation, so concurrent exchanges of the same code have a single
// winner and a code that fails a later check is still gone.
func (s *Strategies) exchangeCode(ctx context.Context, req Request) (*Result, error) {
	const op = "code_exchange"

	if req.Code == "" {
		return nil, newError(KindInvalidRequest, op, "code is required")
	}

	code, err := s.codes.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		return nil, storeError(op, "Authorization Code not found", err)
	}

	if req.Application.ID != code.ApplicationID {
		return nil, newError(KindMismatch, op, "authorization code was issued to another application")
	}
	if req.RedirectURI != code.RedirectURI {
		return nil, newError(KindMismatch, op, "redirect URI does not match the authorization request")
	}
	if !common.IsFresh(code.CreationDate, common.FreshnessAuthorizationCode, s.now()) {
		return nil, newError(KindExpired, op, "authorization code expired")
	}

	pair, err := s.issuer.Issue(ctx, code.ApplicationID, code.UID, code.Scope)
	if err != nil {
		return nil, err
	}
	return &Result{Tokens: pair}, nil
}

// exchangeRefresh rotates a refresh token. The originally granted scope is
// carried forward unchanged.
func (s *Strategies) exchangeRefresh(ctx context.Context, req Request) (*Result, error) {
	const op = "refresh_exchange"

	if req.RefreshToken == "" {
		return nil, newError(KindInvalidRequest, op, "refresh_token is required")
	}

	token, err := s.refresh.FindToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, storeError(op, "refresh token not found", err)
	}
	if req.Application.ID != token.ApplicationID {
		return nil, newError(KindClientMismatch, op, "original token receiver is not the supplied application")
	}

	pair, err := s.issuer.Issue(ctx, token.ApplicationID, token.UID, token.Scope)
	if err != nil {
		return nil, err
	}
	return &Result{Tokens: pair}, nil
}
