// Package kvstore implements store.Store on top of a flat key/value backend.
// Accounts are stored as JSON documents, with a login index and one key per
// metadata entry:
//
//	<prefix>/accounts/<id>        account JSON
//	<prefix>/logins/<login>       account id
//	<prefix>/meta/<id>/<key>      raw metadata value
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"ipauth/internal/store"
)

// Backend is the minimal key/value surface a storage engine has to offer.
// Get returns store.ErrNotFound for a missing key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// PutIfAbsent writes value only when key does not exist yet and
	// reports whether it did.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// List returns the values of every key starting with prefix.
	List(ctx context.Context, prefix string) ([][]byte, error)
	Close() error
}

const DefaultTimeout = 5 * time.Second

// Account is re-exported so method signatures stay short.
type Account = store.Account

// Store adapts a Backend to store.Store.
type Store struct {
	backend Backend
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// New creates a Store. An empty prefix defaults to "ipauth" and a zero
// timeout to DefaultTimeout.
func New(backend Backend, prefix string, timeout time.Duration) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "ipauth"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{
		backend: backend,
		prefix:  prefix,
		timeout: timeout,
		now:     time.Now,
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) accountKey(id string) string { return s.prefix + "/accounts/" + id }
func (s *Store) loginKey(login string) string { return s.prefix + "/logins/" + login }
func (s *Store) metaKey(id, key string) string { return s.prefix + "/meta/" + id + "/" + key }
func (s *Store) metaPrefix(id string) string { return s.prefix + "/meta/" + id + "/" }
func (s *Store) accountsPrefix() string { return s.prefix + "/accounts/" }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.getAccount(ctx, id)
}

func (s *Store) getAccount(ctx context.Context, id string) (*Account, error) {
	data, err := s.backend.Get(ctx, s.accountKey(id))
	if err != nil {
		return nil, err
	}
	var account Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	return &account, nil
}

func (s *Store) FindByLogin(ctx context.Context, login string) (*Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id, err := s.backend.Get(ctx, s.loginKey(login))
	if err != nil {
		return nil, err
	}
	return s.getAccount(ctx, string(id))
}

func (s *Store) CreateAccount(ctx context.Context, account *Account) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = s.now().UTC()
	}

	if _, err := s.backend.Get(ctx, s.accountKey(account.ID)); err == nil {
		return store.ErrExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	ok, err := s.backend.PutIfAbsent(ctx, s.loginKey(account.Login), []byte(account.ID))
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrExists
	}
	return s.putAccount(ctx, account)
}

func (s *Store) putAccount(ctx context.Context, account *Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", account.ID, err)
	}
	return s.backend.Put(ctx, s.accountKey(account.ID), data)
}

func (s *Store) UpdateAccount(ctx context.Context, account *Account) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	current, err := s.getAccount(ctx, account.ID)
	if err != nil {
		return err
	}
	if current.Login != account.Login {
		ok, err := s.backend.PutIfAbsent(ctx, s.loginKey(account.Login), []byte(account.ID))
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrExists
		}
		if err := s.backend.Delete(ctx, s.loginKey(current.Login)); err != nil {
			return err
		}
	}
	account.CreatedAt = current.CreatedAt
	return s.putAccount(ctx, account)
}

func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	values, err := s.backend.List(ctx, s.accountsPrefix())
	if err != nil {
		return nil, err
	}
	accounts := make([]Account, 0, len(values))
	for _, v := range values {
		var account Account
		if err := json.Unmarshal(v, &account); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Login < accounts[j].Login })
	return accounts, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.getAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.backend.DeletePrefix(ctx, s.metaPrefix(id)); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, s.accountKey(id)); err != nil {
		return err
	}
	return s.backend.Delete(ctx, s.loginKey(account.Login))
}

func (s *Store) GetMeta(ctx context.Context, accountID, key string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	v, err := s.backend.Get(ctx, s.metaKey(accountID, key))
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (s *Store) SetMeta(ctx context.Context, accountID, key, value string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.backend.Put(ctx, s.metaKey(accountID, key), []byte(value))
}

func (s *Store) AddMeta(ctx context.Context, accountID, key, value string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.backend.PutIfAbsent(ctx, s.metaKey(accountID, key), []byte(value))
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrExists
	}
	return nil
}

func (s *Store) DeleteMeta(ctx context.Context, accountID, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.backend.Delete(ctx, s.metaKey(accountID, key))
}

func (s *Store) Close() error {
	return s.backend.Close()
}
