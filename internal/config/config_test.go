package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsFillDevSecrets(t *testing.T) {
	cfg, err := load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 30*time.Minute, cfg.Auth.AccessTTL)
	require.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	require.Equal(t, 5*time.Minute, cfg.CSRF.TokenTTL)
	require.False(t, cfg.Security.RevocationEnabled)
	require.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), minSecretBytes)
	require.GreaterOrEqual(t, len(cfg.CSRF.Secret), minSecretBytes)
	require.NotEqual(t, cfg.Auth.JWTSecret, cfg.CSRF.Secret)
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := strings.Join([]string{
		"server:",
		"  addr: \":9000\"",
		"auth:",
		"  access_ttl: 10m",
		"  issuer: from-file",
		"csrf:",
		"  exempt_paths: [\"/health\", \"/webhooks\"]",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("HUBLI_AUTH__ISSUER", "from-env")
	t.Setenv("HUBLI_SECURITY__CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("HUBLI_SECURITY__REVOCATION_ENABLED", "true")
	t.Setenv("HUBLI_SECURITY__TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")

	cfg, err := load(path)
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.Server.Addr)
	require.Equal(t, 10*time.Minute, cfg.Auth.AccessTTL)
	require.Equal(t, "from-env", cfg.Auth.Issuer)
	require.Equal(t, []string{"/health", "/webhooks"}, cfg.CSRF.ExemptPaths)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.CORSOrigins)
	require.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.Security.TrustedProxies)
	require.True(t, cfg.Security.RevocationEnabled)
}

func TestValidateProductionRequiresSecrets(t *testing.T) {
	cfg := Default()
	cfg.Environment = "production"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "auth.jwt_secret")
	require.Contains(t, err.Error(), "csrf.secret")

	cfg.Auth.JWTSecret = strings.Repeat("j", 40)
	cfg.CSRF.Secret = strings.Repeat("j", 40)
	err = cfg.Validate()
	require.ErrorContains(t, err, "must differ")

	cfg.CSRF.Secret = strings.Repeat("c", 40)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsInvertedTTLs(t *testing.T) {
	cfg := Default()
	cfg.Auth.RefreshTTL = time.Minute
	require.ErrorContains(t, cfg.Validate(), "refresh_ttl")
}

func TestValidateRejectsMalformedTrustedProxies(t *testing.T) {
	cfg := Default()
	cfg.Security.TrustedProxies = []string{"10.0.0.0/8", "::1", "proxy.internal"}
	require.ErrorContains(t, cfg.Validate(), `"proxy.internal"`)

	cfg.Security.TrustedProxies = []string{"10.0.0.0/8", "::1"}
	require.NoError(t, cfg.Validate())
}

func TestEnvKey(t *testing.T) {
	require.Equal(t, "auth.jwt_secret", envKey("HUBLI_AUTH__JWT_SECRET"))
	require.Equal(t, "environment", envKey("HUBLI_ENVIRONMENT"))
	require.Equal(t, "", envKey(PathEnvVar))
}
