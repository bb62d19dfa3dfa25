// Package config loads service settings from defaults, an optional YAML file,
// and HUBLI_-prefixed environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"hublievents.com/internal/ids"
)

const (
	// EnvPrefix marks environment variables read by Load. A double underscore
	// separates nesting levels: HUBLI_AUTH__JWT_SECRET -> auth.jwt_secret.
	EnvPrefix = "HUBLI_"

	// PathEnvVar overrides the config file location.
	PathEnvVar = "HUBLI_CONFIG"

	minSecretBytes = 32
)

// DefaultPaths are searched when PathEnvVar is unset.
var DefaultPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/hublievents/config.yaml",
}

type Config struct {
	Environment string         `koanf:"environment"`
	Server      ServerConfig   `koanf:"server"`
	Database    DatabaseConfig `koanf:"database"`
	Redis       RedisConfig    `koanf:"redis"`
	Auth        AuthConfig     `koanf:"auth"`
	CSRF        CSRFConfig     `koanf:"csrf"`
	Security    SecurityConfig `koanf:"security"`
	Audit       AuditConfig    `koanf:"audit"`
	Log         LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	GRPCAddr        string        `koanf:"grpc_addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// RedisConfig is optional. An empty Addr keeps login throttling in memory.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type AuthConfig struct {
	JWTSecret  string        `koanf:"jwt_secret"`
	Issuer     string        `koanf:"issuer"`
	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`
	ResetTTL   time.Duration `koanf:"reset_ttl"`
	BcryptCost int           `koanf:"bcrypt_cost"`
}

type CSRFConfig struct {
	Secret       string        `koanf:"secret"`
	TokenTTL     time.Duration `koanf:"token_ttl"`
	SessionTTL   time.Duration `koanf:"session_ttl"`
	ExemptPaths  []string      `koanf:"exempt_paths"`
	CookieSecure bool          `koanf:"cookie_secure"`
}

type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	TrustedProxies    []string      `koanf:"trusted_proxies"`
	RateLimitBurst    int           `koanf:"rate_limit_burst"`
	RateLimitPerSec   int           `koanf:"rate_limit_per_sec"`
	LoginAttempts     int           `koanf:"login_attempts"`
	LoginWindow       time.Duration `koanf:"login_window"`
	RevocationEnabled bool          `koanf:"revocation_enabled"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes"`
}

type AuditConfig struct {
	RetryAttempts        int           `koanf:"retry_attempts"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// Default returns the baseline configuration applied before file and env.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Addr:            ":8080",
			GRPCAddr:        ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:     "hublievents",
			AccessTTL:  30 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			ResetTTL:   24 * time.Hour,
			BcryptCost: 12,
		},
		CSRF: CSRFConfig{
			TokenTTL:     5 * time.Minute,
			SessionTTL:   24 * time.Hour,
			ExemptPaths:  []string{"/health", "/readyz", "/metrics", "/api/v1/auth/login", "/api/v1/auth/refresh"},
			CookieSecure: true,
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:8000"},
			RateLimitBurst:  100,
			RateLimitPerSec: 50,
			LoginAttempts:   5,
			LoginWindow:     15 * time.Minute,
			MaxBodyBytes:    1 << 20,
		},
		Audit: AuditConfig{
			RetryAttempts:        3,
			RetryInitialInterval: 100 * time.Millisecond,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load layers defaults, the first config file found, and the environment.
func Load() (*Config, error) {
	return load(findFile())
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	if err := splitLists(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps HUBLI_AUTH__JWT_SECRET to auth.jwt_secret. PathEnvVar itself is
// not a setting and is skipped.
func envKey(key string) string {
	if key == PathEnvVar {
		return ""
	}
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// listPaths are settings that arrive from the environment as comma-separated
// strings but unmarshal into slices.
var listPaths = []string{
	"csrf.exempt_paths",
	"security.cors_origins",
	"security.trusted_proxies",
}

func splitLists(k *koanf.Koanf) error {
	for _, path := range listPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		if err := k.Set(path, items); err != nil {
			return fmt.Errorf("config: set %s: %w", path, err)
		}
	}
	return nil
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// IsProduction reports whether strict secret checks apply.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate checks invariants. Outside production, missing secrets are replaced
// with random per-process values so a dev server starts without setup.
func (c *Config) Validate() error {
	var errs []error

	secrets := []struct {
		name string
		val  *string
	}{
		{"auth.jwt_secret", &c.Auth.JWTSecret},
		{"csrf.secret", &c.CSRF.Secret},
	}
	for _, s := range secrets {
		if *s.val == "" && !c.IsProduction() {
			generated, err := ids.Opaque(minSecretBytes)
			if err != nil {
				return fmt.Errorf("config: generate %s: %w", s.name, err)
			}
			*s.val = generated
			continue
		}
		if len(*s.val) < minSecretBytes {
			errs = append(errs, fmt.Errorf("%s must be at least %d bytes", s.name, minSecretBytes))
		}
	}
	if c.IsProduction() && c.Auth.JWTSecret != "" && c.Auth.JWTSecret == c.CSRF.Secret {
		errs = append(errs, errors.New("auth.jwt_secret and csrf.secret must differ"))
	}
	if c.Auth.AccessTTL <= 0 {
		errs = append(errs, errors.New("auth.access_ttl must be positive"))
	}
	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		errs = append(errs, errors.New("auth.refresh_ttl must exceed auth.access_ttl"))
	}
	if c.Auth.ResetTTL <= 0 {
		errs = append(errs, errors.New("auth.reset_ttl must be positive"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost %d out of range [4,31]", c.Auth.BcryptCost))
	}
	if c.CSRF.TokenTTL <= 0 || c.CSRF.SessionTTL <= 0 {
		errs = append(errs, errors.New("csrf ttls must be positive"))
	}
	if c.Security.LoginAttempts < 0 {
		errs = append(errs, errors.New("security.login_attempts must not be negative"))
	}
	for _, entry := range c.Security.TrustedProxies {
		if !validProxyEntry(entry) {
			errs = append(errs, fmt.Errorf("security.trusted_proxies: %q is not an IP or CIDR", entry))
		}
	}
	if c.Audit.RetryAttempts < 0 {
		errs = append(errs, errors.New("audit.retry_attempts must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func validProxyEntry(entry string) bool {
	entry = strings.TrimSpace(entry)
	if _, err := netip.ParsePrefix(entry); err == nil {
		return true
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}
