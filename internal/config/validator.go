package config

import (
	"fmt"
	"strings"
	"time"

	"ipauth/internal/allowlist"
	"ipauth/internal/core/errors"
)

// ValidationRule defines a configuration validation rule
type ValidationRule interface {
	Validate(cfg *Config) error
}

// ConfigValidator validates configuration using a set of rules
type ConfigValidator struct {
	rules []ValidationRule
}

// NewConfigValidator creates a new validator with default rules
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{
		rules: []ValidationRule{
			&ServerConfigRule{},
			&SecurityConfigRule{},
			&StorageConfigRule{},
			&BootstrapConfigRule{},
		},
	}
}

// AddRule adds a custom validation rule
func (v *ConfigValidator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
}

// Validate validates the configuration using all rules
func (v *ConfigValidator) Validate(cfg *Config) error {
	for _, rule := range v.rules {
		if err := rule.Validate(cfg); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

func validDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return errors.NewValidationError(field, "invalid duration format")
	}
	if d <= 0 {
		return errors.NewValidationError(field, "duration must be positive")
	}
	return nil
}

// ServerConfigRule validates server configuration
type ServerConfigRule struct{}

func (r *ServerConfigRule) Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.NewValidationError("server.port", "port must be between 1 and 65535")
	}
	if err := validDuration("server.readTimeout", cfg.Server.ReadTimeout); err != nil {
		return err
	}
	if err := validDuration("server.writeTimeout", cfg.Server.WriteTimeout); err != nil {
		return err
	}
	return validDuration("server.idleTimeout", cfg.Server.IdleTimeout)
}

// MinJWTSecretLength is the shortest HMAC secret accepted.
const MinJWTSecretLength = 16

// SecurityConfigRule validates security configuration
type SecurityConfigRule struct{}

func (r *SecurityConfigRule) Validate(cfg *Config) error {
	if len(cfg.Security.Jwt.Secret) < MinJWTSecretLength {
		return errors.NewValidationError("security.jwt.secret", fmt.Sprintf("secret must be at least %d characters", MinJWTSecretLength))
	}
	if err := validDuration("security.jwt.ttl", cfg.Security.Jwt.TTL); err != nil {
		return err
	}

	if _, err := cfg.Security.TrustedProxyPrefixes(); err != nil {
		return errors.NewValidationError("security.trustedProxies", err.Error())
	}
	if cfg.Security.TrustForwardedFor && len(cfg.Security.TrustedProxies) == 0 {
		return errors.NewValidationError("security.trustedProxies", "trustForwardedFor requires at least one trusted proxy")
	}

	rl := cfg.Security.LoginRateLimit
	if rl.Enabled {
		if rl.RequestsPerSecond <= 0 {
			return errors.NewValidationError("security.loginRateLimit.requestsPerSecond", "rate limit must be positive")
		}
		if rl.Burst <= 0 {
			return errors.NewValidationError("security.loginRateLimit.burst", "burst must be positive")
		}
	}
	return nil
}

// StorageConfigRule validates the storage driver settings
type StorageConfigRule struct{}

func (r *StorageConfigRule) Validate(cfg *Config) error {
	s := cfg.Storage
	switch s.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if s.DSN == "" {
			return errors.NewValidationError("storage.dsn", "dsn is required for driver "+s.Driver)
		}
	case DriverEtcd:
		if len(s.Endpoints) == 0 {
			return errors.NewValidationError("storage.endpoints", "at least one etcd endpoint is required")
		}
	case DriverRedis:
		if s.Address == "" {
			return errors.NewValidationError("storage.address", "address is required for driver redis")
		}
	case DriverConsul:
		if strings.HasPrefix(s.Prefix, "/") {
			return errors.NewValidationError("storage.prefix", "consul keys must not start with /")
		}
	default:
		return errors.NewValidationError("storage.driver", fmt.Sprintf("unsupported storage driver: %s", s.Driver))
	}
	return validDuration("storage.timeout", s.Timeout)
}

// BootstrapConfigRule validates accounts created on startup
type BootstrapConfigRule struct{}

func (r *BootstrapConfigRule) Validate(cfg *Config) error {
	admin := cfg.Bootstrap.Admin
	if admin == nil {
		return nil
	}
	if admin.Login == "" {
		return errors.NewValidationError("bootstrap.admin.login", "login is required")
	}
	if admin.Password == "" {
		return errors.NewValidationError("bootstrap.admin.password", "password is required")
	}
	if _, invalid := allowlist.Validate(admin.AllowedIPs); len(invalid) > 0 {
		return errors.NewValidationError("bootstrap.admin.allowedIPs", fmt.Sprintf("invalid IP addresses: %s", strings.Join(invalid, ", ")))
	}
	return nil
}
