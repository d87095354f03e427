package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	coreerrors "ipauth/internal/core/errors"
	"ipauth/internal/logging"
)

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Bootstrap BootstrapConfig `yaml:"bootstrap" json:"bootstrap"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port          int    `yaml:"port" json:"port"`
	ReadTimeout   string `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout  string `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout   string `yaml:"idleTimeout" json:"idleTimeout"`
	EnableLogging bool   `yaml:"enableLogging" json:"enableLogging"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	// TrustForwardedFor reads the client IP from X-Forwarded-For when the
	// peer is one of TrustedProxies. The header is walked right to left and
	// the first hop that is not a trusted proxy is the client.
	TrustForwardedFor bool `yaml:"trustForwardedFor" json:"trustForwardedFor"`

	// TrustedProxies lists proxy addresses or CIDR ranges.
	TrustedProxies []string `yaml:"trustedProxies" json:"trustedProxies,omitempty"`

	Jwt            JWTConfig         `yaml:"jwt" json:"jwt"`
	LoginRateLimit RateLimitConfig   `yaml:"loginRateLimit" json:"loginRateLimit"`
	Headers        map[string]string `yaml:"headers" json:"headers,omitempty"`
}

// JWTConfig holds token signing settings
type JWTConfig struct {
	Secret string `yaml:"secret" json:"secret"`
	Issuer string `yaml:"issuer" json:"issuer"`
	TTL    string `yaml:"ttl" json:"ttl"`
}

// RateLimitConfig limits login attempts per client IP
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// StorageConfig selects and configures the account store
type StorageConfig struct {
	Driver    string   `yaml:"driver" json:"driver"`
	DSN       string   `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Endpoints []string `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	Address   string   `yaml:"address,omitempty" json:"address,omitempty"`
	Username  string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password  string   `yaml:"password,omitempty" json:"password,omitempty"`
	Token     string   `yaml:"token,omitempty" json:"token,omitempty"`
	DB        int      `yaml:"db,omitempty" json:"db,omitempty"`
	Prefix    string   `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Timeout   string   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// BootstrapConfig describes accounts created on startup when missing
type BootstrapConfig struct {
	Admin *BootstrapAccount `yaml:"admin,omitempty" json:"admin,omitempty"`
}

type BootstrapAccount struct {
	Login      string `yaml:"login" json:"login"`
	Password   string `yaml:"password" json:"password"`
	Email      string `yaml:"email,omitempty" json:"email,omitempty"`
	AllowedIPs string `yaml:"allowedIPs,omitempty" json:"allowedIPs,omitempty"`
}

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverEtcd     = "etcd"
	DriverRedis    = "redis"
	DriverConsul   = "consul"
)

// Default returns a configuration with every optional field filled in
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8080,
			ReadTimeout:   "10s",
			WriteTimeout:  "10s",
			IdleTimeout:   "60s",
			EnableLogging: true,
		},
		Security: SecurityConfig{
			Jwt: JWTConfig{
				Issuer: "ipauth",
				TTL:    "1h",
			},
			LoginRateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 1,
				Burst:             5,
			},
		},
		Storage: StorageConfig{
			Driver:  DriverMemory,
			Prefix:  "ipauth",
			Timeout: "5s",
		},
	}
}

// Provider defines the interface for configuration providers
type Provider interface {
	Load() (*Config, error)
	Save(*Config) error
}

// FileProvider implements configuration loading from a YAML file
type FileProvider struct {
	configPath string
	logger     *logging.Logger
}

// NewFileProvider creates a new file-based configuration provider
func NewFileProvider(configPath string, logger *logging.Logger) *FileProvider {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileProvider{
		configPath: configPath,
		logger:     logger,
	}
}

// Load reads the file over Default() and validates the result
func (p *FileProvider) Load() (*Config, error) {
	data, err := os.ReadFile(p.configPath)
	if err != nil {
		p.logger.LogConfigLoad(p.configPath, err)
		return nil, coreerrors.NewConfigError("failed to read config file", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		p.logger.LogConfigLoad(p.configPath, err)
		return nil, err
	}

	p.logger.LogConfigLoad(p.configPath, nil)
	return cfg, nil
}

// Save validates and writes the configuration
func (p *FileProvider) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return coreerrors.NewConfigError("failed to marshal config", err)
	}

	if err := os.WriteFile(p.configPath, data, 0600); err != nil {
		return coreerrors.NewConfigError("failed to write config file", err)
	}

	p.logger.Info("Configuration saved successfully", logging.String("path", p.configPath))
	return nil
}

// Parse decodes YAML on top of the defaults and validates it
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, coreerrors.NewConfigError("failed to parse config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads configuration from the specified path
func LoadConfig(configPath string, logger *logging.Logger) (*Config, error) {
	return NewFileProvider(configPath, logger).Load()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	return NewConfigValidator().Validate(c)
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return coreerrors.NewConfigError("failed to load env file "+f, err)
		}
	}
	return nil
}

// Environment variables understood by ApplyEnv
const (
	EnvPort          = "IPAUTH_PORT"
	EnvJWTSecret     = "IPAUTH_JWT_SECRET"
	EnvStorageDriver = "IPAUTH_STORAGE_DRIVER"
	EnvStorageDSN    = "IPAUTH_STORAGE_DSN"
)

// ApplyEnv overrides file values from the environment and revalidates.
// It returns the names of the variables that were applied.
func ApplyEnv(cfg *Config, getenv func(string) string) ([]string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var applied []string

	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return applied, coreerrors.NewValidationError(EnvPort, "must be an integer")
		}
		cfg.Server.Port = port
		applied = append(applied, EnvPort)
	}
	if v := getenv(EnvJWTSecret); v != "" {
		cfg.Security.Jwt.Secret = v
		applied = append(applied, EnvJWTSecret)
	}
	if v := getenv(EnvStorageDriver); v != "" {
		cfg.Storage.Driver = v
		applied = append(applied, EnvStorageDriver)
	}
	if v := getenv(EnvStorageDSN); v != "" {
		cfg.Storage.DSN = v
		applied = append(applied, EnvStorageDSN)
	}

	return applied, cfg.Validate()
}

// Redacted returns a copy that is safe to print
func (c *Config) Redacted() *Config {
	out := *c
	if out.Security.Jwt.Secret != "" {
		out.Security.Jwt.Secret = "REDACTED"
	}
	if out.Storage.Password != "" {
		out.Storage.Password = "REDACTED"
	}
	if out.Storage.Token != "" {
		out.Storage.Token = "REDACTED"
	}
	if out.Bootstrap.Admin != nil {
		admin := *out.Bootstrap.Admin
		admin.Password = "REDACTED"
		out.Bootstrap.Admin = &admin
	}
	return &out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (s SecurityConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return parseDuration(s.ReadTimeout, 10*time.Second)
}

func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return parseDuration(s.WriteTimeout, 10*time.Second)
}

func (s ServerConfig) IdleTimeoutDuration() time.Duration {
	return parseDuration(s.IdleTimeout, 60*time.Second)
}

func (j JWTConfig) TTLDuration() time.Duration {
	return parseDuration(j.TTL, time.Hour)
}

func (s StorageConfig) TimeoutDuration() time.Duration {
	return parseDuration(s.Timeout, 5*time.Second)
}
