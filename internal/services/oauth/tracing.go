package oauth

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/bobmcallan/passage/internal/services/oauth"

// Span attribute keys. Codes, tokens and secrets are never recorded.
const (
	attrApplicationID = "oauth.application_id"
	attrUserID        = "oauth.user_id"
	attrScope         = "oauth.scope"
	attrStrategy      = "oauth.strategy"
	attrErrorKind     = "oauth.error_kind"
	attrIssueMode     = "oauth.issue_mode"
	attrTransactionID = "oauth.transaction_id"
)

// finishSpan sets the span status from err.
func finishSpan(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	if kind := KindOf(err); kind != "" {
		span.SetAttributes(attribute.String(attrErrorKind, string(kind)))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
