package admin

import (
	"context"
	stderrors "errors"

	"ipauth/internal/config"
	"ipauth/internal/logging"
	"ipauth/internal/store"
)

// Bootstrap creates the configured administrator when no account with that
// login exists yet. An existing account is left as is.
func (e *Editor) Bootstrap(ctx context.Context, cfg *config.BootstrapAccount) (*store.Account, error) {
	if cfg == nil {
		return nil, nil
	}

	existing, err := e.store.FindByLogin(ctx, cfg.Login)
	if err == nil {
		e.logger.Debug("Bootstrap administrator already present", logging.String("login", cfg.Login))
		return existing, nil
	}
	if !stderrors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	account, err := e.CreateAccount(ctx, NewAccount{
		Login:      cfg.Login,
		Password:   cfg.Password,
		Email:      cfg.Email,
		Role:       store.RoleAdministrator,
		AllowedIPs: cfg.AllowedIPs,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Bootstrap administrator created", logging.String("login", account.Login))
	return account, nil
}
