package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/metrics"
	"github.com/bobmcallan/passage/internal/models"
)

// Kind selects one of the fixed grant/exchange strategies.
type Kind int

const (
	CodeGrant Kind = iota + 1
	CodeExchange
	RefreshExchange
)

func (k Kind) String() string {
	switch k {
	case CodeGrant:
		return "code_grant"
	case CodeExchange:
		return "code_exchange"
	case RefreshExchange:
		return "refresh_exchange"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ExchangeKind maps a token endpoint grant_type to its exchange strategy.
func ExchangeKind(grantType string) (Kind, error) {
	switch grantType {
	case "authorization_code":
		return CodeExchange, nil
	case "refresh_token":
		return RefreshExchange, nil
	case "":
		return 0, newError(KindInvalidRequest, "exchange", "grant_type is required")
	default:
		return 0, newError(KindUnsupportedGrant, "exchange", fmt.Sprintf("grant_type %q is not supported", grantType))
	}
}

// Request is the input to a strategy. Application is always required;
// the remaining fields are read according to Kind.
type Request struct {
	Kind        Kind
	Application *models.Application

	// CodeGrant
	UID   string
	Scope []models.Scope

	// CodeGrant (recorded) and CodeExchange (compared)
	RedirectURI string

	// CodeExchange
	Code string

	// RefreshExchange
	RefreshToken string
}

// Result is the output of a strategy: a code for CodeGrant, tokens otherwise.
type Result struct {
	Code   *models.AuthorizationCode
	Tokens *models.TokenPair
}

// Strategies is the grant/exchange table.
type Strategies struct {
	codes    interfaces.CodeStore
	refresh  interfaces.TokenStore
	issuer   *Issuer
	generate TokenGenerator
	now      func() time.Time
	logger   *common.Logger
	metrics  metrics.Recorder
	tracer   trace.Tracer
}

// Run dispatches req to its strategy.
func (s *Strategies) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "oauth."+req.Kind.String(),
		trace.WithAttributes(attribute.String(attrStrategy, req.Kind.String())))
	defer span.End()

	var (
		res *Result
		err error
	)
	if req.Application == nil {
		err = newError(KindInvalidRequest, req.Kind.String(), "application is required")
	} else {
		span.SetAttributes(attribute.String(attrApplicationID, req.Application.ID))
		switch req.Kind {
		case CodeGrant:
			res, err = s.grantCode(ctx, req)
		case CodeExchange:
			res, err = s.exchangeCode(ctx, req)
		case RefreshExchange:
			res, err = s.exchangeRefresh(ctx, req)
		default:
			err = newError(KindUnsupportedGrant, req.Kind.String(), "unknown strategy")
		}
	}

	finishSpan(span, err)
	s.record(req, err)
	return res, err
}

func (s *Strategies) record(req Request, err error) {
	result := "success"
	if err != nil {
		result = string(KindOf(err))
		if result == "" {
			result = "error"
		}
		level := zerolog.WarnLevel
		if IsKind(err, KindStoreFailure) || result == "error" {
			level = zerolog.ErrorLevel
		}
		appID := ""
		if req.Application != nil {
			appID = req.Application.ID
		}
		s.logger.WithLevel(level).Err(err).
			Str("strategy", req.Kind.String()).
			Str("application_id", appID).
			Msg("OAuth strategy failed")
	}
	s.metrics.RecordStrategy(req.Kind.String(), result)
}
