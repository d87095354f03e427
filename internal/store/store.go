// Package store defines account and account-metadata persistence.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an account or metadata key does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrExists is returned when creating something that is already present.
	ErrExists = errors.New("store: already exists")
)

// Roles
const (
	RoleAdministrator = "administrator"
	RoleSubscriber    = "subscriber"
)

// Account is an identity that can authenticate.
type Account struct {
	ID           string    `json:"id"`
	Login        string    `json:"login"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"password_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdministrator reports whether the account may manage others.
func (a *Account) IsAdministrator() bool {
	return a != nil && a.Role == RoleAdministrator
}

// Store persists accounts and a string-valued metadata map per account.
// Implementations must be safe for concurrent use.
type Store interface {
	GetAccount(ctx context.Context, id string) (*Account, error)
	FindByLogin(ctx context.Context, login string) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) error
	UpdateAccount(ctx context.Context, account *Account) error
	ListAccounts(ctx context.Context) ([]Account, error)
	// DeleteAccount removes the account with its login and metadata.
	// Deleting an unknown account is not an error.
	DeleteAccount(ctx context.Context, id string) error

	// GetMeta returns ErrNotFound when the key is unset.
	GetMeta(ctx context.Context, accountID, key string) (string, error)
	// SetMeta creates or replaces the value.
	SetMeta(ctx context.Context, accountID, key, value string) error
	// AddMeta creates the value and fails with ErrExists if it is set.
	AddMeta(ctx context.Context, accountID, key, value string) error
	// DeleteMeta removes the key; deleting an unset key is not an error.
	DeleteMeta(ctx context.Context, accountID, key string) error

	Close() error
}

// MetaOrEmpty reads a metadata value, mapping ErrNotFound to "".
func MetaOrEmpty(ctx context.Context, s Store, accountID, key string) (string, error) {
	v, err := s.GetMeta(ctx, accountID, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
