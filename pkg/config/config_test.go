package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/orchestrator"
	"github.com/platinummonkey/finmcp/pkg/rbac"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"APP_NAME", "HOST", "PORT", "CORS_ORIGINS", "JWT_SECRET_KEY", "JWT_ALGORITHM",
		"JWT_ACCESS_TOKEN_EXPIRE_MINUTES", "ALLOW_UNAUTHENTICATED_ACCESS",
		"DEFAULT_UNAUTHENTICATED_ROLE", "DEBUG", "DATABASE_URL", "DB_ECHO", "REDIS_URL",
		"LOG_LEVEL", "LOG_FILE", ConfigFileEnv,
	} {
		t.Setenv(name, "")
	}
	for _, env := range os.Environ() {
		if name, _, ok := strings.Cut(env, "="); ok && strings.HasPrefix(name, envPrefix) {
			t.Setenv(name, "")
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "HS256", cfg.Auth.JWTAlgorithm)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenExpiry)
	assert.False(t, cfg.Auth.AllowUnauthenticated)
	assert.Equal(t, "admin", cfg.Auth.DefaultUnauthenticatedRole)
	assert.True(t, cfg.UsesDefaultSecret())
	assert.True(t, cfg.RateLimit.Enabled)
	assert.False(t, cfg.RateLimit.FailClosed)
	assert.Empty(t, cfg.Auth.Issuer)
	assert.Equal(t, observability.InfoLevel, cfg.LogLevel())
	assert.Equal(t, orchestrator.DefaultPacing, cfg.Pacing())
	assert.False(t, cfg.Policy().AllowsAnonymous())
}

func TestLoadConfig_PrefixedEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("FINMCP_PORT", "9100")
	t.Setenv("FINMCP_JWT_SECRET", "s3cret")
	t.Setenv("FINMCP_JWT_EXPIRY", "45m")
	t.Setenv("FINMCP_ALLOW_UNAUTHENTICATED", "true")
	t.Setenv("FINMCP_DEFAULT_UNAUTHENTICATED_ROLE", "viewer")
	t.Setenv("FINMCP_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("FINMCP_REDIS_URL", "redis://cache:6379/0")
	t.Setenv("FINMCP_RATE_LIMIT_REQUESTS", "5")
	t.Setenv("FINMCP_LOG_LEVEL", "debug")
	t.Setenv("FINMCP_THINKING_DELAY", "0s")
	t.Setenv("FINMCP_JWT_ISSUER", "finmcp-dev")
	t.Setenv("FINMCP_RATE_LIMIT_FAIL_CLOSED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.False(t, cfg.UsesDefaultSecret())
	assert.Equal(t, 45*time.Minute, cfg.Auth.TokenExpiry)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "redis://cache:6379/0", cfg.Storage.RedisURL)
	assert.Equal(t, 5, cfg.RateLimit.RequestsPerWindow)
	assert.Equal(t, observability.DebugLevel, cfg.LogLevel())
	assert.Equal(t, time.Duration(0), cfg.Pacing().Thinking)
	assert.Equal(t, "finmcp-dev", cfg.Auth.Issuer)
	assert.True(t, cfg.RateLimit.FailClosed)

	policy := cfg.Policy()
	assert.True(t, policy.AllowsAnonymous())
	assert.Equal(t, string(rbac.RoleViewer), policy.DefaultRole)
}

func TestLoadConfig_UnprefixedFallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET_KEY", "legacy")
	t.Setenv("JWT_ACCESS_TOKEN_EXPIRE_MINUTES", "10")
	t.Setenv("DATABASE_URL", "postgres://db/finance")
	t.Setenv("ALLOW_UNAUTHENTICATED_ACCESS", "1")
	t.Setenv("LOG_FILE", "/tmp/finmcp.log")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "legacy", cfg.Auth.JWTSecret)
	assert.Equal(t, 10*time.Minute, cfg.Auth.TokenExpiry)
	assert.Equal(t, "postgres://db/finance", cfg.Storage.PostgresURL)
	assert.True(t, cfg.Auth.AllowUnauthenticated)
	assert.Equal(t, "/tmp/finmcp.log", cfg.Observability.LogFile)
}

func TestLoadConfig_PrefixWinsOverFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET_KEY", "legacy")
	t.Setenv("FINMCP_JWT_SECRET", "current")
	t.Setenv("JWT_ACCESS_TOKEN_EXPIRE_MINUTES", "10")
	t.Setenv("FINMCP_JWT_EXPIRY", "1h")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "current", cfg.Auth.JWTSecret)
	assert.Equal(t, time.Hour, cfg.Auth.TokenExpiry)
}

func TestLoadConfig_DebugAllowsAnonymous(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEBUG", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Policy().AllowsAnonymous())
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "finmcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "8100"
  cors_origins: ["https://app.example"]
auth:
  jwt_secret: from-file
  token_expiry: 15m
storage:
  redis_url: redis://localhost:6379
  l1_cache_size: 64
  cache_ttl:
    latest_prices: 5s
rate_limit:
  requests_per_window: 30
orchestrator:
  chunk_delay: 0s
`), 0o600))
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("FINMCP_PORT", "8200")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8200", cfg.Server.Port, "env overrides the file")
	assert.Equal(t, []string{"https://app.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenExpiry)
	assert.Equal(t, "redis://localhost:6379", cfg.Storage.RedisURL)
	assert.Equal(t, 64, cfg.Storage.L1CacheSize)
	assert.Equal(t, 5*time.Second, cfg.Storage.CacheTTL["latest_prices"])
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerWindow)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window, "unset keys keep defaults")
	assert.Equal(t, time.Duration(0), cfg.Orchestrator.ChunkDelay)
	assert.Equal(t, "HS256", cfg.Auth.JWTAlgorithm)
}

func TestLoad_FileErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))
	_, err = Load(path)
	assert.ErrorContains(t, err, "parse config file")
}

func TestLoadConfig_InvalidValuesKeepDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("FINMCP_READ_TIMEOUT", "soon")
	t.Setenv("FINMCP_DB_MAX_CONNS", "many")
	t.Setenv("FINMCP_DEBUG", "maybe")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 20, cfg.Storage.PostgresMaxConns)
	assert.False(t, cfg.Auth.Debug)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "non numeric port", mutate: func(c *Config) { c.Server.Port = "http" }, wantErr: "invalid server port"},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = "70000" }, wantErr: "invalid server port"},
		{name: "empty secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: "JWT secret is required"},
		{name: "unsupported algorithm", mutate: func(c *Config) { c.Auth.JWTAlgorithm = "RS256" }, wantErr: "unsupported JWT algorithm"},
		{name: "zero expiry", mutate: func(c *Config) { c.Auth.TokenExpiry = 0 }, wantErr: "token expiry"},
		{name: "unknown default role", mutate: func(c *Config) { c.Auth.DefaultUnauthenticatedRole = "root" }, wantErr: "invalid default unauthenticated role"},
		{name: "missing database", mutate: func(c *Config) { c.Storage.PostgresURL = "" }, wantErr: "database URL is required"},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimit.RequestsPerWindow = 0 }, wantErr: "rate limit"},
		{name: "zero rate limit when disabled", mutate: func(c *Config) {
			c.RateLimit.Enabled = false
			c.RateLimit.RequestsPerWindow = 0
		}},
		{name: "negative burst", mutate: func(c *Config) { c.RateLimit.Burst = -1 }, wantErr: "burst"},
		{name: "otel without endpoint", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, wantErr: "OpenTelemetry endpoint"},
		{name: "otel without service", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = ""
		}, wantErr: "OpenTelemetry service name"},
		{name: "sample ratio above one", mutate: func(c *Config) { c.Observability.OTelSampleRatio = 1.5 }, wantErr: "sample ratio"},
		{name: "negative delay", mutate: func(c *Config) { c.Orchestrator.ToolDelay = -time.Millisecond }, wantErr: "delays"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfig_ValidationFailureIsWrapped(t *testing.T) {
	clearEnv(t)
	t.Setenv("FINMCP_JWT_ALGORITHM", "none")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "configuration validation failed")
}

func TestOTel(t *testing.T) {
	cfg := Default()
	cfg.Observability.OTelEnabled = true
	cfg.Observability.OTelSampleRatio = 0.25

	otel := cfg.OTel()
	assert.True(t, otel.Enabled)
	assert.Equal(t, "localhost:4317", otel.Endpoint)
	assert.Equal(t, "financial-mcp-server", otel.ServiceName)
	assert.True(t, otel.Insecure)
	assert.Equal(t, 0.25, otel.SampleRatio)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("FINMCP_TEST_A", "")
	t.Setenv("TEST_A_FALLBACK", "fallback")
	assert.Equal(t, "fallback", getEnv(keys("TEST_A", "TEST_A_FALLBACK"), "default"))
	assert.Equal(t, "default", getEnv(keys("TEST_UNSET_VALUE"), "default"))

	t.Setenv("FINMCP_TEST_BOOL", "off")
	assert.False(t, getEnvBool(keys("TEST_BOOL"), true))
	t.Setenv("FINMCP_TEST_BOOL", "YES")
	assert.True(t, getEnvBool(keys("TEST_BOOL"), false))

	t.Setenv("FINMCP_TEST_FLOAT", "0.5")
	assert.Equal(t, 0.5, getEnvFloat(keys("TEST_FLOAT"), 1))

	t.Setenv("FINMCP_TEST_LIST", " , ")
	assert.Equal(t, []string{"x"}, getEnvList(keys("TEST_LIST"), []string{"x"}))
}
