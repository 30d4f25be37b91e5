package oauth

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/metrics"
	"github.com/bobmcallan/passage/internal/models"
)

// AuthorizeRequest carries the query of an authorize request.
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	Scope        string
	ResponseType string
	State        string
}

// AuthorizeResult is either a pending transaction awaiting consent or,
// for trusted applications, a ready redirect carrying the code.
type AuthorizeResult struct {
	Transaction *models.Transaction
	Application *models.Application
	Redirect    string // set only when auto-approved
}

// Pending reports whether the user still has to decide.
func (r *AuthorizeResult) Pending() bool {
	return r.Transaction.State == models.TransactionPending
}

// DecisionResult is the outcome of a consent decision.
type DecisionResult struct {
	Transaction *models.Transaction
	Redirect    string
}

// TransactionManager holds authorization state between the authorize
// request and the user's decision. Transactions are bound to the session
// that created them.
type TransactionManager struct {
	apps       ApplicationRegistry
	store      interfaces.TransactionStore
	strategies *Strategies
	ttl        time.Duration
	now        func() time.Time
	logger     *common.Logger
	metrics    metrics.Recorder
	tracer     trace.Tracer
}

// Authorize validates the request and creates a transaction. The application
// must exist, its redirect URI must match exactly and the scope must validate;
// otherwise no transaction is created. Trusted applications are approved
// immediately and the code is granted in the same call.
func (m *TransactionManager) Authorize(ctx context.Context, session *common.Session, req AuthorizeRequest) (*AuthorizeResult, error) {
	const op = opAuthorize

	ctx, span := m.tracer.Start(ctx, "oauth.authorize", trace.WithAttributes(
		attribute.String(attrApplicationID, req.ClientID),
	))
	defer span.End()

	res, err := m.authorize(ctx, op, session, req)
	finishSpan(span, err)
	switch {
	case err != nil:
		m.metrics.RecordAuthorization("rejected")
		m.logger.Warn().Err(err).Str("application_id", req.ClientID).Msg("Authorization request rejected")
	case res.Pending():
		m.metrics.RecordAuthorization("pending")
	default:
		m.metrics.RecordAuthorization("auto_approved")
	}
	return res, err
}

func (m *TransactionManager) authorize(ctx context.Context, op string, session *common.Session, req AuthorizeRequest) (*AuthorizeResult, error) {
	if session == nil || session.UID == "" {
		return nil, newError(KindInvalidRequest, op, "an authenticated session is required")
	}
	if req.ResponseType != "code" {
		return nil, newError(KindUnsupportedResponse, op, "response_type must be \"code\"")
	}
	if req.ClientID == "" {
		return nil, newError(KindInvalidRequest, op, "client_id is required")
	}

	app, err := m.apps.FindApplication(ctx, req.ClientID)
	if err != nil {
		return nil, storeError(op, "application not found", err)
	}
	if app.RedirectURI != req.RedirectURI {
		return nil, newError(KindMismatch, op, "redirect URI does not match the registered redirect URI")
	}
	scope, err := ParseScope(req.Scope)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		ID:            uuid.New().String(),
		SessionID:     session.ID,
		UID:           session.UID,
		ApplicationID: app.ID,
		RedirectURI:   req.RedirectURI,
		Scope:         scope,
		State:         models.TransactionPending,
		ClientState:   req.State,
		CreationDate:  m.now(),
	}

	if app.Trusted {
		txn.State = models.TransactionAllowed
		redirect, err := m.grant(ctx, app, txn)
		if err != nil {
			return nil, err
		}
		return &AuthorizeResult{Transaction: txn, Application: app, Redirect: redirect}, nil
	}

	if err := m.store.SaveTransaction(ctx, txn); err != nil {
		return nil, storeFailure(op, "failed to save transaction", err)
	}
	m.logger.Debug().
		Str("transaction_id", txn.ID).
		Str("application_id", app.ID).
		Msg("Authorization transaction pending")
	return &AuthorizeResult{Transaction: txn, Application: app}, nil
}

// Decide applies the user's decision to a pending transaction. The session
// must be the one that created the transaction; otherwise the transaction is
// left untouched. A decision claims the transaction by consuming it from the
// store, so of two concurrent decisions only one takes effect.
func (m *TransactionManager) Decide(ctx context.Context, session *common.Session, transactionID string, allow bool) (*DecisionResult, error) {
	const op = opDecide

	ctx, span := m.tracer.Start(ctx, "oauth.decide", trace.WithAttributes(
		attribute.String(attrTransactionID, transactionID),
		attribute.Bool("oauth.allow", allow),
	))
	defer span.End()

	res, err := m.decide(ctx, op, session, transactionID, allow)
	finishSpan(span, err)
	switch {
	case err != nil:
		m.metrics.RecordAuthorization("rejected")
		m.logger.Warn().Err(err).Str("transaction_id", transactionID).Msg("Authorization decision rejected")
	case allow:
		m.metrics.RecordAuthorization("allowed")
	default:
		m.metrics.RecordAuthorization("denied")
	}
	return res, err
}

func (m *TransactionManager) decide(ctx context.Context, op string, session *common.Session, transactionID string, allow bool) (*DecisionResult, error) {
	if transactionID == "" {
		return nil, newError(KindInvalidRequest, op, "transaction_id is required")
	}

	txn, err := m.store.FindTransaction(ctx, transactionID)
	if err != nil {
		return nil, storeError(op, "transaction not found", err)
	}
	if session == nil || session.ID == "" || session.ID != txn.SessionID {
		return nil, newError(KindMismatch, op, "transaction belongs to another session")
	}
	if !common.IsFresh(txn.CreationDate, m.ttl, m.now()) {
		m.remove(ctx, txn.ID)
		return nil, newError(KindNotFound, op, "transaction expired")
	}
	if txn.State != models.TransactionPending {
		return nil, newError(KindNotFound, op, "transaction is no longer pending")
	}

	claimed, err := m.store.ConsumeTransaction(ctx, txn.ID)
	if err != nil {
		return nil, storeError(op, "transaction already decided", err)
	}

	if !allow {
		claimed.State = models.TransactionDenied
		redirect, err := buildRedirect(claimed.RedirectURI, url.Values{"error": {"access_denied"}}, claimed.ClientState)
		if err != nil {
			return nil, newError(KindInvalidRequest, op, "stored redirect URI is invalid")
		}
		return &DecisionResult{Transaction: claimed, Redirect: redirect}, nil
	}

	app, err := m.apps.FindApplication(ctx, claimed.ApplicationID)
	if err != nil {
		return nil, storeError(op, "application not found", err)
	}
	claimed.State = models.TransactionAllowed
	redirect, err := m.grant(ctx, app, claimed)
	if err != nil {
		return nil, err
	}
	return &DecisionResult{Transaction: claimed, Redirect: redirect}, nil
}

// grant runs the CodeGrant strategy for an allowed transaction and marks it consumed.
func (m *TransactionManager) grant(ctx context.Context, app *models.Application, txn *models.Transaction) (string, error) {
	res, err := m.strategies.Run(ctx, Request{
		Kind:        CodeGrant,
		Application: app,
		UID:         txn.UID,
		Scope:       txn.Scope,
		RedirectURI: txn.RedirectURI,
	})
	if err != nil {
		return "", err
	}
	txn.State = models.TransactionConsumed

	redirect, err := buildRedirect(txn.RedirectURI, url.Values{"code": {res.Code.Code}}, txn.ClientState)
	if err != nil {
		return "", newError(KindInvalidRequest, "code_grant", "registered redirect URI is invalid")
	}
	return redirect, nil
}

// remove deletes an expired transaction. Failures are logged only.
func (m *TransactionManager) remove(ctx context.Context, id string) {
	if err := m.store.DeleteTransaction(ctx, id); err != nil {
		m.logger.Warn().Err(err).Str("transaction_id", id).Msg("Failed to remove transaction")
	}
}

// buildRedirect appends params (and state, when present) to redirectURI,
// preserving any query the registered URI already carries.
func buildRedirect(redirectURI string, params url.Values, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
