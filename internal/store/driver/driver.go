// Package driver opens the account store selected in the configuration.
package driver

import (
	"context"
	"fmt"

	"ipauth/internal/config"
	"ipauth/internal/logging"
	"ipauth/internal/store"
	"ipauth/internal/store/kvstore"
	"ipauth/internal/store/sqlstore"
)

// Open connects to the configured storage engine.
func Open(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (store.Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := cfg.TimeoutDuration()

	var (
		s   store.Store
		err error
	)
	switch cfg.Driver {
	case "", config.DriverMemory:
		s = kvstore.NewMemory()
	case config.DriverPostgres:
		s, err = sqlstore.OpenPostgres(cfg.DSN)
	case config.DriverSQLite:
		s, err = sqlstore.OpenSQLite(cfg.DSN)
	case config.DriverEtcd:
		var b *kvstore.EtcdBackend
		b, err = kvstore.NewEtcdBackend(kvstore.EtcdConfig{
			Endpoints:   cfg.Endpoints,
			Username:    cfg.Username,
			Password:    cfg.Password,
			DialTimeout: timeout,
		})
		if err == nil {
			s = kvstore.New(b, cfg.Prefix, timeout)
		}
	case config.DriverRedis:
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		var b *kvstore.RedisBackend
		b, err = kvstore.NewRedisBackend(dialCtx, kvstore.RedisConfig{
			Address:  cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err == nil {
			s = kvstore.New(b, cfg.Prefix, timeout)
		}
	case config.DriverConsul:
		var b *kvstore.ConsulBackend
		b, err = kvstore.NewConsulBackend(kvstore.ConsulConfig{
			Address: cfg.Address,
			Token:   cfg.Token,
		})
		if err == nil {
			s = kvstore.New(b, cfg.Prefix, timeout)
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		logger.Error("Failed to open storage", err, logging.String("driver", cfg.Driver))
		return nil, fmt.Errorf("open %s storage: %w", cfg.Driver, err)
	}

	logger.Info("Storage opened", logging.String("driver", cfg.Driver))
	return s, nil
}
