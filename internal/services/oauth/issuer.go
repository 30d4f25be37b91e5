package oauth

import (
	"context"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/metrics"
	"github.com/bobmcallan/passage/internal/models"
)

const (
	issueModeAtomic     = "atomic"
	issueModeSequential = "sequential"
)

// Issuer is the only place live tokens are created or removed.
// It keeps at most one access and one refresh token per (uid, applicationId).
//
// With a TokenSwapper the replacement is a single store transaction.
// Without one, removal and save are separate calls and a failure between
// them leaves the pair without tokens; the user has to authorize again.
// Store errors are returned as they happen and are never retried.
type Issuer struct {
	users    interfaces.UserStore
	access   interfaces.TokenStore
	refresh  interfaces.TokenStore
	swapper  interfaces.TokenSwapper
	generate TokenGenerator
	now      func() time.Time
	logger   *common.Logger
	metrics  metrics.Recorder
	tracer   trace.Tracer
}

// Issue replaces the token pair for (uid, applicationID) with a new one
// carrying scope.
func (i *Issuer) Issue(ctx context.Context, applicationID, uid string, scope []models.Scope) (*models.TokenPair, error) {
	const op = "issue_tokens"

	ctx, span := i.tracer.Start(ctx, "oauth.issue_tokens", trace.WithAttributes(
		attribute.String(attrApplicationID, applicationID),
		attribute.String(attrUserID, uid),
		attribute.String(attrScope, models.JoinScopes(scope)),
	))
	defer span.End()

	pair, mode, err := i.issue(ctx, op, applicationID, uid, scope)
	span.SetAttributes(attribute.String(attrIssueMode, mode))
	finishSpan(span, err)
	if err != nil {
		return nil, err
	}

	i.metrics.RecordTokensIssued(mode)
	i.logger.Info().
		Str("application_id", applicationID).
		Str("uid", uid).
		Str("scope", models.JoinScopes(scope)).
		Str("mode", mode).
		Msg("Token pair issued")
	return pair, nil
}

func (i *Issuer) issue(ctx context.Context, op, applicationID, uid string, scope []models.Scope) (*models.TokenPair, string, error) {
	mode := issueModeSequential
	if i.swapper != nil {
		mode = issueModeAtomic
	}

	if _, err := i.users.FindUser(ctx, uid); err != nil {
		return nil, mode, storeError(op, "user not found", err)
	}

	now := i.now()
	access, err := i.mint(applicationID, uid, scope, now)
	if err != nil {
		return nil, mode, storeFailure(op, "failed to generate access token", err)
	}
	refresh, err := i.mint(applicationID, uid, scope, now)
	if err != nil {
		return nil, mode, storeFailure(op, "failed to generate refresh token", err)
	}

	if i.swapper != nil {
		if err := i.swapper.SwapTokens(ctx, access, refresh); err != nil {
			return nil, mode, storeFailure(op, "failed to swap tokens", err)
		}
		return &models.TokenPair{AccessToken: access, RefreshToken: refresh}, mode, nil
	}

	if err := i.access.RemoveTokenByIDs(ctx, uid, applicationID); err != nil {
		return nil, mode, storeFailure(op, "failed to remove previous access token", err)
	}
	if err := i.refresh.RemoveTokenByIDs(ctx, uid, applicationID); err != nil {
		return nil, mode, storeFailure(op, "failed to remove previous refresh token", err)
	}
	if err := i.access.SaveToken(ctx, access); err != nil {
		return nil, mode, storeFailure(op, "failed to save access token", err)
	}
	if err := i.refresh.SaveToken(ctx, refresh); err != nil {
		return nil, mode, storeFailure(op, "failed to save refresh token", err)
	}
	return &models.TokenPair{AccessToken: access, RefreshToken: refresh}, mode, nil
}

func (i *Issuer) mint(applicationID, uid string, scope []models.Scope, now time.Time) (*models.ApplicationToken, error) {
	value, err := i.generate()
	if err != nil {
		return nil, err
	}
	return &models.ApplicationToken{
		Token:         value,
		UID:           uid,
		ApplicationID: applicationID,
		Scope:         slices.Clone(scope),
		CreationDate:  now,
	}, nil
}
