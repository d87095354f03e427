// Package admin is the administrator-facing editor for account allow-lists.
package admin

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"ipauth/internal/allowlist"
	"ipauth/internal/auth"
	"ipauth/internal/core/errors"
	"ipauth/internal/logging"
	"ipauth/internal/metrics"
	"ipauth/internal/store"
)

// Labels shown on the admin surface.
const (
	SectionTitle    = "Gestion des listes d'IP"
	FieldLabel      = `Liste des adresses IP autorisées (séparées par ",")`
	ColumnTitle     = "Liste des IP"
	PlaceholderNoIP = "Pas d'IP"
)

// Update results recorded in metrics.
const (
	resultSaved    = "saved"
	resultDeleted  = "deleted"
	resultRejected = "rejected"
	resultSkipped  = "unchanged"
)

// Editor maintains the allow-list of accounts.
type Editor struct {
	store   store.Store
	logger  *logging.Logger
	metrics *metrics.Collector
}

// New creates an Editor. Metrics may be nil.
func New(s store.Store, logger *logging.Logger, m *metrics.Collector) *Editor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Editor{store: s, logger: logger, metrics: m}
}

func (e *Editor) record(result string) {
	if e.metrics != nil {
		e.metrics.RecordAllowListUpdate(result)
	}
}

// FieldValue returns the stored list for the edit field, "" when unset.
func (e *Editor) FieldValue(ctx context.Context, accountID string) (string, error) {
	return store.MetaOrEmpty(ctx, e.store, accountID, allowlist.MetaKey)
}

// Validate sanitizes submitted and rejects it as a whole when any token is
// not an IP literal. It returns the value to persist.
func (e *Editor) Validate(submitted string) (string, error) {
	clean, invalid := allowlist.Validate(submitted)
	if len(invalid) > 0 {
		return "", errors.NewWrongIPError(invalid)
	}
	return clean, nil
}

// SaveOnEdit validates submitted and replaces the stored list. An empty
// submission deletes it. Nothing is written when validation fails.
func (e *Editor) SaveOnEdit(ctx context.Context, accountID, submitted string) error {
	clean, err := e.Validate(submitted)
	if err != nil {
		e.record(resultRejected)
		e.logger.LogAllowListUpdate(accountID, "edit", err)
		return err
	}

	if clean == "" {
		if err := e.store.DeleteMeta(ctx, accountID, allowlist.MetaKey); err != nil {
			return errors.NewStorageError("failed to delete allow-list", err)
		}
		e.record(resultDeleted)
		e.logger.LogAllowListUpdate(accountID, "delete", nil)
		return nil
	}

	if err := e.store.SetMeta(ctx, accountID, allowlist.MetaKey, clean); err != nil {
		return errors.NewStorageError("failed to save allow-list", err)
	}
	e.record(resultSaved)
	e.logger.LogAllowListUpdate(accountID, "edit", nil)
	return nil
}

// SaveOnCreate stores the list of a freshly created account. An empty
// submission stores nothing.
func (e *Editor) SaveOnCreate(ctx context.Context, accountID, submitted string) error {
	clean, err := e.Validate(submitted)
	if err != nil {
		e.record(resultRejected)
		e.logger.LogAllowListUpdate(accountID, "create", err)
		return err
	}
	if clean == "" {
		e.record(resultSkipped)
		return nil
	}

	if err := e.store.AddMeta(ctx, accountID, allowlist.MetaKey, clean); err != nil {
		if stderrors.Is(err, store.ErrExists) {
			return errors.NewConflictError("allow-list already set for account")
		}
		return errors.NewStorageError("failed to save allow-list", err)
	}
	e.record(resultSaved)
	e.logger.LogAllowListUpdate(accountID, "create", nil)
	return nil
}

// Column renders the allow-list column of the account table.
func (e *Editor) Column(ctx context.Context, accountID string) (string, error) {
	v, err := e.FieldValue(ctx, accountID)
	if err != nil {
		return "", err
	}
	if v == "" {
		return PlaceholderNoIP, nil
	}
	return v, nil
}

// NewAccount is the input of the account creation screen.
type NewAccount struct {
	Login       string `json:"login"`
	Password    string `json:"password"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
	AllowedIPs  string `json:"list_ip,omitempty"`
}

func validRole(role string) bool {
	return role == store.RoleAdministrator || role == store.RoleSubscriber
}

// CreateAccount creates an account and its allow-list. An invalid list
// rejects the whole creation.
func (e *Editor) CreateAccount(ctx context.Context, in NewAccount) (*store.Account, error) {
	in.Login = strings.TrimSpace(in.Login)
	if in.Login == "" {
		return nil, errors.NewValidationError("login", "login is required")
	}
	if in.Password == "" {
		return nil, errors.NewValidationError("password", "password is required")
	}
	if in.Role == "" {
		in.Role = store.RoleSubscriber
	}
	if !validRole(in.Role) {
		return nil, errors.NewValidationError("role", fmt.Sprintf("unknown role %q", in.Role))
	}
	if _, err := e.Validate(in.AllowedIPs); err != nil {
		e.record(resultRejected)
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account := &store.Account{
		Login:        in.Login,
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		Role:         in.Role,
		PasswordHash: hash,
	}
	if err := e.store.CreateAccount(ctx, account); err != nil {
		if stderrors.Is(err, store.ErrExists) {
			return nil, errors.NewConflictError(fmt.Sprintf("login %q is already taken", in.Login))
		}
		return nil, errors.NewStorageError("failed to create account", err)
	}
	e.logger.Info("Account created",
		logging.String("account_id", account.ID),
		logging.String("login", account.Login),
		logging.String("role", account.Role),
	)

	// An account whose list failed to save would be unrestricted.
	if err := e.SaveOnCreate(ctx, account.ID, in.AllowedIPs); err != nil {
		if rbErr := e.store.DeleteAccount(ctx, account.ID); rbErr != nil {
			e.logger.Error("Failed to roll back account", rbErr, logging.String("account_id", account.ID))
			return nil, errors.NewStorageError("account created without its allow-list", err)
		}
		e.logger.Warn("Account rolled back", logging.String("account_id", account.ID))
		return nil, err
	}
	return account, nil
}

// ProfileUpdate carries the edited fields of a profile screen. Nil fields
// are left untouched.
type ProfileUpdate struct {
	AccountID   string  `json:"-"`
	Email       *string `json:"email,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	Role        *string `json:"role,omitempty"`
	Password    *string `json:"password,omitempty"`
	AllowedIPs  *string `json:"list_ip,omitempty"`
}

// UpdateProfile saves the profile fields and then the allow-list. A rejected
// allow-list does not undo the other fields: the updated account is
// returned together with the wrongIP error.
func (e *Editor) UpdateProfile(ctx context.Context, u ProfileUpdate) (*store.Account, error) {
	account, err := e.store.GetAccount(ctx, u.AccountID)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.ErrNotFound.WithDetails(map[string]interface{}{"account_id": u.AccountID})
	}
	if err != nil {
		return nil, errors.NewStorageError("failed to load account", err)
	}

	changed := false
	if u.Email != nil {
		account.Email = strings.TrimSpace(*u.Email)
		changed = true
	}
	if u.DisplayName != nil {
		account.DisplayName = strings.TrimSpace(*u.DisplayName)
		changed = true
	}
	if u.Role != nil {
		if !validRole(*u.Role) {
			return nil, errors.NewValidationError("role", fmt.Sprintf("unknown role %q", *u.Role))
		}
		account.Role = *u.Role
		changed = true
	}
	if u.Password != nil && *u.Password != "" {
		hash, err := auth.HashPassword(*u.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		account.PasswordHash = hash
		changed = true
	}
	if changed {
		if err := e.store.UpdateAccount(ctx, account); err != nil {
			return nil, errors.NewStorageError("failed to update account", err)
		}
	}

	if u.AllowedIPs != nil {
		if err := e.SaveOnEdit(ctx, account.ID, *u.AllowedIPs); err != nil {
			return account, err
		}
	}
	return account, nil
}

// Row is one line of the account table.
type Row struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
	AllowedIPs  string `json:"list_ip"`
}

// Table lists every account with its allow-list column.
func (e *Editor) Table(ctx context.Context) ([]Row, error) {
	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return nil, errors.NewStorageError("failed to list accounts", err)
	}
	rows := make([]Row, 0, len(accounts))
	for _, a := range accounts {
		column, err := e.Column(ctx, a.ID)
		if err != nil {
			return nil, errors.NewStorageError("failed to read allow-list", err)
		}
		rows = append(rows, Row{
			ID:          a.ID,
			Login:       a.Login,
			Email:       a.Email,
			DisplayName: a.DisplayName,
			Role:        a.Role,
			AllowedIPs:  column,
		})
	}
	return rows, nil
}
