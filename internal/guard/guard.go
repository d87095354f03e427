// Package guard restricts logins to the IP addresses listed on the account.
package guard

import (
	"context"
	"fmt"

	"ipauth/internal/allowlist"
	"ipauth/internal/core/errors"
	"ipauth/internal/core/pipeline"
	"ipauth/internal/logging"
	"ipauth/internal/metrics"
	"ipauth/internal/store"
)

// Guard checks a client IP against the account's stored allow-list.
type Guard struct {
	store   store.Store
	logger  *logging.Logger
	metrics *metrics.Collector
}

// New creates a Guard. Metrics may be nil.
func New(s store.Store, logger *logging.Logger, m *metrics.Collector) *Guard {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Guard{store: s, logger: logger, metrics: m}
}

func (g *Guard) record(decision string) {
	if g.metrics != nil {
		g.metrics.RecordGuardDecision(decision)
	}
}

// CheckLogin reports whether clientIP may authenticate as accountID. A deny
// carries an *errors.AuthError with code invalid_ip. An account without a
// list is unrestricted. A failed store lookup denies with a plain error.
func (g *Guard) CheckLogin(ctx context.Context, accountID, clientIP string) (bool, error) {
	raw, err := store.MetaOrEmpty(ctx, g.store, accountID, allowlist.MetaKey)
	if err != nil {
		g.record(metrics.DecisionError)
		return false, fmt.Errorf("load allow-list for %s: %w", accountID, err)
	}

	if allowlist.IsEmpty(raw) {
		g.record(metrics.DecisionOpen)
		return true, nil
	}

	if allowlist.Contains(raw, clientIP) {
		g.record(metrics.DecisionAllowed)
		g.logger.LogGuardDecision(accountID, clientIP, true)
		return true, nil
	}

	g.record(metrics.DecisionDenied)
	g.logger.LogGuardDecision(accountID, clientIP, false)
	return false, errors.NewInvalidIPError()
}

// Name identifies the stage in logs.
func (g *Guard) Name() string { return "ip_allowlist" }

// Authenticate runs the check as a pipeline stage. A deny adds invalid_ip to
// any error already on the outcome instead of replacing it. Attempts that
// did not resolve to an account pass through untouched.
func (g *Guard) Authenticate(ctx context.Context, attempt pipeline.Attempt, prior pipeline.Outcome) pipeline.Outcome {
	if prior.Account == nil {
		return prior
	}

	allowed, err := g.CheckLogin(ctx, prior.Account.ID, attempt.ClientIP)
	if allowed {
		return prior
	}
	if _, denied := err.(*errors.AuthError); denied {
		return prior.Fail(errors.CodeInvalidIP, errors.MessageInvalidIP)
	}

	g.logger.Error("Allow-list check failed", err, logging.String("account_id", prior.Account.ID))
	return prior.Fail(errors.CodeInternal, errors.MessageInternal)
}
