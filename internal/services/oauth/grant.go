package oauth

import (
	"context"
	"slices"

	"github.com/bobmcallan/passage/internal/models"
)

// grantCode mints and persists an authorization code. Earlier codes for the
// same user and application stay valid until exchanged or expired.
func (s *Strategies) grantCode(ctx context.Context, req Request) (*Result, error) {
	const op = "code_grant"

	if req.UID == "" {
		return nil, newError(KindInvalidRequest, op, "user is required")
	}
	if len(req.Scope) == 0 {
		return nil, newError(KindInvalidScope, op, "at least one scope is required")
	}

	value, err := s.generate()
	if err != nil {
		return nil, storeFailure(op, "failed to generate code", err)
	}

	code := &models.AuthorizationCode{
		Code:          value,
		ApplicationID: req.Application.ID,
		RedirectURI:   req.RedirectURI,
		UID:           req.UID,
		Scope:         slices.Clone(req.Scope),
		CreationDate:  s.now(),
	}
	if err := s.codes.SaveAuthorizationCode(ctx, code); err != nil {
		return nil, storeFailure(op, "failed to save authorization code", err)
	}

	s.logger.Debug().
		Str("application_id", code.ApplicationID).
		Str("uid", code.UID).
		Str("scope", models.JoinScopes(code.Scope)).
		Msg("Authorization code issued")

	return &Result{Code: code}, nil
}
