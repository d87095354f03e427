package pipeline

import (
	"context"
	stderrors "errors"

	"ipauth/internal/auth"
	"ipauth/internal/core/errors"
	"ipauth/internal/logging"
	"ipauth/internal/store"
)

// CredentialStage checks login and password against the account store.
type CredentialStage struct {
	accounts store.Store
	logger   *logging.Logger
}

// NewCredentialStage checks passwords against accounts. A nil logger is a no-op.
func NewCredentialStage(accounts store.Store, logger *logging.Logger) *CredentialStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CredentialStage{accounts: accounts, logger: logger}
}

func (s *CredentialStage) Name() string { return "credentials" }

// Authenticate resolves the account even when the password is wrong, so later
// stages can still attach their own reasons to the failure.
func (s *CredentialStage) Authenticate(ctx context.Context, attempt Attempt, prior Outcome) Outcome {
	if attempt.Login == "" || attempt.Password == "" {
		return prior.Fail(errors.CodeEmptyCredentials, errors.MessageEmptyCredentials)
	}

	account, err := s.accounts.FindByLogin(ctx, attempt.Login)
	if stderrors.Is(err, store.ErrNotFound) {
		return prior.Fail(errors.CodeInvalidUsername, errors.MessageInvalidUsername)
	}
	if err != nil {
		s.logger.Error("Failed to look up account", err, logging.String("login", attempt.Login))
		return prior.Fail(errors.CodeInternal, errors.MessageInternal)
	}

	prior.Account = account
	ok, err := auth.CheckPassword(account.PasswordHash, attempt.Password)
	if err != nil {
		s.logger.Warn("Stored password hash is unusable", logging.String("account_id", account.ID), logging.Error(err))
	}
	if !ok {
		return prior.Fail(errors.CodeIncorrectPassword, errors.MessageIncorrectPassword)
	}
	return prior
}
