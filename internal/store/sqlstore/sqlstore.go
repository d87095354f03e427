// Package sqlstore implements store.Store with gorm, on postgres or sqlite.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ipauth/internal/store"
)

type accountModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Login        string `gorm:"uniqueIndex;size:191;not null"`
	Email        string `gorm:"size:191"`
	DisplayName  string `gorm:"size:191"`
	Role         string `gorm:"size:32;not null"`
	PasswordHash string `gorm:"size:255"`
	CreatedAt    time.Time
}

func (accountModel) TableName() string { return "accounts" }

type metaModel struct {
	AccountID string `gorm:"primaryKey;size:64"`
	MetaKey   string `gorm:"primaryKey;size:191"`
	MetaValue string `gorm:"type:text"`
}

func (metaModel) TableName() string { return "account_meta" }

func toModel(a *store.Account) accountModel {
	return accountModel{
		ID:           a.ID,
		Login:        a.Login,
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		Role:         a.Role,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
	}
}

func (m accountModel) toAccount() *store.Account {
	return &store.Account{
		ID:           m.ID,
		Login:        m.Login,
		Email:        m.Email,
		DisplayName:  m.DisplayName,
		Role:         m.Role,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

// Store is a gorm backed store.Store.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// OpenPostgres connects to postgres and migrates the schema.
func OpenPostgres(dsn string) (*Store, error) {
	return Open(postgres.Open(dsn))
}

// OpenSQLite opens a sqlite database and migrates the schema.
// "file::memory:?cache=shared" gives a throwaway database.
func OpenSQLite(dsn string) (*Store, error) {
	return Open(sqlite.Open(dsn))
}

// Open connects with any gorm dialector and migrates the schema.
func Open(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&accountModel{}, &metaModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrExists
	default:
		return err
	}
}

func (s *Store) GetAccount(ctx context.Context, id string) (*store.Account, error) {
	var m accountModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return m.toAccount(), nil
}

func (s *Store) FindByLogin(ctx context.Context, login string) (*store.Account, error) {
	var m accountModel
	if err := s.db.WithContext(ctx).Where("login = ?", login).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return m.toAccount(), nil
}

func (s *Store) CreateAccount(ctx context.Context, account *store.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&accountModel{}).
			Where("id = ? OR login = ?", account.ID, account.Login).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return store.ErrExists
		}
		m := toModel(account)
		return translate(tx.Create(&m).Error)
	})
}

func (s *Store) UpdateAccount(ctx context.Context, account *store.Account) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current accountModel
		if err := tx.Where("id = ?", account.ID).First(&current).Error; err != nil {
			return translate(err)
		}
		if current.Login != account.Login {
			var count int64
			if err := tx.Model(&accountModel{}).Where("login = ?", account.Login).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return store.ErrExists
			}
		}
		account.CreatedAt = current.CreatedAt
		m := toModel(account)
		return translate(tx.Save(&m).Error)
	})
}

func (s *Store) ListAccounts(ctx context.Context) ([]store.Account, error) {
	var models []accountModel
	if err := s.db.WithContext(ctx).Order("login").Find(&models).Error; err != nil {
		return nil, err
	}
	accounts := make([]store.Account, 0, len(models))
	for _, m := range models {
		accounts = append(accounts, *m.toAccount())
	}
	return accounts, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", id).Delete(&metaModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&accountModel{}).Error
	})
}

func (s *Store) GetMeta(ctx context.Context, accountID, key string) (string, error) {
	var m metaModel
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND meta_key = ?", accountID, key).
		First(&m).Error
	if err != nil {
		return "", translate(err)
	}
	return m.MetaValue, nil
}

func (s *Store) SetMeta(ctx context.Context, accountID, key, value string) error {
	m := metaModel{AccountID: accountID, MetaKey: key, MetaValue: value}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "meta_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"meta_value"}),
	}).Create(&m).Error
}

func (s *Store) AddMeta(ctx context.Context, accountID, key, value string) error {
	m := metaModel{AccountID: accountID, MetaKey: key, MetaValue: value}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrExists
	}
	return nil
}

func (s *Store) DeleteMeta(ctx context.Context, accountID, key string) error {
	return s.db.WithContext(ctx).
		Where("account_id = ? AND meta_key = ?", accountID, key).
		Delete(&metaModel{}).Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
