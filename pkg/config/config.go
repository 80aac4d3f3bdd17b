package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/orchestrator"
	"github.com/platinummonkey/finmcp/pkg/rbac"
	"github.com/platinummonkey/finmcp/pkg/storage"
)

const (
	envPrefix = "FINMCP_"

	// ConfigFileEnv names the optional YAML file applied before env overrides
	ConfigFileEnv = envPrefix + "CONFIG_FILE"

	// DefaultJWTSecret is the development secret; Validate accepts it but
	// UsesDefaultSecret lets the server warn about it
	DefaultJWTSecret = "your-secret-key-change-in-production"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Storage       storage.Config      `yaml:"storage"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Name            string        `yaml:"name"`
	Version         string        `yaml:"version"`
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// AuthConfig holds token and unauthenticated-access settings
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTAlgorithm string        `yaml:"jwt_algorithm"`
	TokenExpiry  time.Duration `yaml:"token_expiry"`
	// Issuer is stamped as iss on issued tokens when set
	Issuer string `yaml:"issuer"`

	// AllowUnauthenticated lets requests without a credential act as
	// DefaultUnauthenticatedRole. Debug has the same effect.
	AllowUnauthenticated       bool   `yaml:"allow_unauthenticated"`
	DefaultUnauthenticatedRole string `yaml:"default_unauthenticated_role"`
	Debug                      bool   `yaml:"debug"`
}

// RateLimitConfig holds per-identity request limits
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
	Burst             int           `yaml:"burst"`
	// FailClosed rejects requests with 503 when the limiter backend errors
	FailClosed bool `yaml:"fail_closed"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`
	// LogFile tees log output to a file when set
	LogFile string `yaml:"log_file"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// OrchestratorConfig holds the delays between streamed reasoning events
type OrchestratorConfig struct {
	ThinkingDelay time.Duration `yaml:"thinking_delay"`
	ToolDelay     time.Duration `yaml:"tool_delay"`
	ChunkDelay    time.Duration `yaml:"chunk_delay"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:            "Financial MCP Server",
			Version:         "1.0.0",
			Host:            "0.0.0.0",
			Port:            "8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Auth: AuthConfig{
			JWTSecret:                  DefaultJWTSecret,
			JWTAlgorithm:               "HS256",
			TokenExpiry:                30 * time.Minute,
			DefaultUnauthenticatedRole: string(rbac.RoleAdmin),
		},
		Storage: storage.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 60,
			Window:            time.Minute,
			Burst:             10,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "financial-mcp-server",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
		Orchestrator: OrchestratorConfig{
			ThinkingDelay: orchestrator.DefaultPacing.Thinking,
			ToolDelay:     orchestrator.DefaultPacing.ToolStep,
			ChunkDelay:    orchestrator.DefaultPacing.Chunk,
		},
	}
}

// LoadConfig loads configuration from the file named by FINMCP_CONFIG_FILE
// (if any) and then from environment variables
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(ConfigFileEnv))
}

// Load applies defaults, the YAML file at path when path is not empty, and
// environment overrides, in that order, then validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Name = getEnv(keys("APP_NAME", "APP_NAME"), s.Name)
	s.Version = getEnv(keys("VERSION"), s.Version)
	s.Host = getEnv(keys("HOST", "HOST"), s.Host)
	s.Port = getEnv(keys("PORT", "PORT"), s.Port)
	s.ReadTimeout = getEnvDuration(keys("READ_TIMEOUT"), s.ReadTimeout)
	s.WriteTimeout = getEnvDuration(keys("WRITE_TIMEOUT"), s.WriteTimeout)
	s.IdleTimeout = getEnvDuration(keys("IDLE_TIMEOUT"), s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration(keys("SHUTDOWN_TIMEOUT"), s.ShutdownTimeout)
	s.CORSOrigins = getEnvList(keys("CORS_ORIGINS", "CORS_ORIGINS"), s.CORSOrigins)

	a := &c.Auth
	a.JWTSecret = getEnv(keys("JWT_SECRET", "JWT_SECRET_KEY"), a.JWTSecret)
	a.JWTAlgorithm = getEnv(keys("JWT_ALGORITHM", "JWT_ALGORITHM"), a.JWTAlgorithm)
	if minutes := getEnvInt([]string{"JWT_ACCESS_TOKEN_EXPIRE_MINUTES"}, 0); minutes > 0 {
		a.TokenExpiry = time.Duration(minutes) * time.Minute
	}
	a.TokenExpiry = getEnvDuration(keys("JWT_EXPIRY"), a.TokenExpiry)
	a.AllowUnauthenticated = getEnvBool(keys("ALLOW_UNAUTHENTICATED", "ALLOW_UNAUTHENTICATED_ACCESS"), a.AllowUnauthenticated)
	a.DefaultUnauthenticatedRole = getEnv(keys("DEFAULT_UNAUTHENTICATED_ROLE", "DEFAULT_UNAUTHENTICATED_ROLE"), a.DefaultUnauthenticatedRole)
	a.Debug = getEnvBool(keys("DEBUG", "DEBUG"), a.Debug)
	a.Issuer = getEnv(keys("JWT_ISSUER"), a.Issuer)

	st := &c.Storage
	st.PostgresURL = getEnv(keys("DATABASE_URL", "DATABASE_URL"), st.PostgresURL)
	st.PostgresReplicaURLs = getEnv(keys("DATABASE_REPLICA_URLS"), st.PostgresReplicaURLs)
	st.PostgresMaxConns = getEnvInt(keys("DB_MAX_CONNS"), st.PostgresMaxConns)
	st.PostgresMinConns = getEnvInt(keys("DB_MIN_CONNS"), st.PostgresMinConns)
	st.PostgresTimeout = getEnvDuration(keys("DB_TIMEOUT"), st.PostgresTimeout)
	st.PostgresEcho = getEnvBool(keys("DB_ECHO", "DB_ECHO"), st.PostgresEcho)
	st.RedisURL = getEnv(keys("REDIS_URL", "REDIS_URL"), st.RedisURL)
	st.RedisPassword = getEnv(keys("REDIS_PASSWORD"), st.RedisPassword)
	st.RedisDB = getEnvInt(keys("REDIS_DB"), st.RedisDB)
	st.RedisMaxRetries = getEnvInt(keys("REDIS_MAX_RETRIES"), st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt(keys("REDIS_POOL_SIZE"), st.RedisPoolSize)
	st.CacheEnabled = getEnvBool(keys("CACHE_ENABLED"), st.CacheEnabled)
	st.L1CacheSize = getEnvInt(keys("L1_CACHE_SIZE"), st.L1CacheSize)

	rl := &c.RateLimit
	rl.Enabled = getEnvBool(keys("RATE_LIMIT_ENABLED"), rl.Enabled)
	rl.RequestsPerWindow = getEnvInt(keys("RATE_LIMIT_REQUESTS"), rl.RequestsPerWindow)
	rl.Window = getEnvDuration(keys("RATE_LIMIT_WINDOW"), rl.Window)
	rl.Burst = getEnvInt(keys("RATE_LIMIT_BURST"), rl.Burst)
	rl.FailClosed = getEnvBool(keys("RATE_LIMIT_FAIL_CLOSED"), rl.FailClosed)

	o := &c.Observability
	o.LogLevel = getEnv(keys("LOG_LEVEL", "LOG_LEVEL"), o.LogLevel)
	o.LogFile = getEnv(keys("LOG_FILE", "LOG_FILE"), o.LogFile)
	o.MetricsEnabled = getEnvBool(keys("METRICS_ENABLED"), o.MetricsEnabled)
	o.OTelEnabled = getEnvBool(keys("OTEL_ENABLED"), o.OTelEnabled)
	o.OTelEndpoint = getEnv(keys("OTEL_ENDPOINT"), o.OTelEndpoint)
	o.OTelServiceName = getEnv(keys("OTEL_SERVICE_NAME"), o.OTelServiceName)
	o.OTelServiceVersion = getEnv(keys("OTEL_SERVICE_VERSION"), o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool(keys("OTEL_INSECURE"), o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat(keys("OTEL_SAMPLE_RATIO"), o.OTelSampleRatio)

	p := &c.Orchestrator
	p.ThinkingDelay = getEnvDuration(keys("THINKING_DELAY"), p.ThinkingDelay)
	p.ToolDelay = getEnvDuration(keys("TOOL_DELAY"), p.ToolDelay)
	p.ChunkDelay = getEnvDuration(keys("CHUNK_DELAY"), p.ChunkDelay)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %q", c.Server.Port)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret is required")
	}
	if c.Auth.JWTAlgorithm != "HS256" {
		return fmt.Errorf("unsupported JWT algorithm: %s (must be HS256)", c.Auth.JWTAlgorithm)
	}
	if c.Auth.TokenExpiry <= 0 {
		return errors.New("token expiry must be positive")
	}
	if _, ok := rbac.ParseRole(c.Auth.DefaultUnauthenticatedRole); !ok {
		return fmt.Errorf("invalid default unauthenticated role: %q", c.Auth.DefaultUnauthenticatedRole)
	}

	if c.Storage.PostgresURL == "" {
		return errors.New("database URL is required")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 {
			return errors.New("rate limit requests and window must be positive when rate limiting is enabled")
		}
		if c.RateLimit.Burst < 0 {
			return errors.New("rate limit burst must not be negative")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("OTel sample ratio must be within [0, 1], got %v", r)
	}

	o := c.Orchestrator
	if o.ThinkingDelay < 0 || o.ToolDelay < 0 || o.ChunkDelay < 0 {
		return errors.New("orchestrator delays must not be negative")
	}

	return nil
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// UsesDefaultSecret reports whether the development JWT secret is in use
func (c *Config) UsesDefaultSecret() bool {
	return c.Auth.JWTSecret == DefaultJWTSecret
}

// Policy is the unauthenticated-access policy for the RBAC resolver
func (c *Config) Policy() rbac.Policy {
	return rbac.Policy{
		AllowUnauthenticated: c.Auth.AllowUnauthenticated,
		DefaultRole:          c.Auth.DefaultUnauthenticatedRole,
		Debug:                c.Auth.Debug,
	}
}

// LogLevel parses the configured log level, defaulting to info
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLogLevel(c.Observability.LogLevel)
}

// OTel converts the observability settings for InitOTel
func (c *Config) OTel() observability.OTelConfig {
	o := c.Observability
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Pacing converts the orchestrator delays
func (c *Config) Pacing() orchestrator.Pacing {
	return orchestrator.Pacing{
		Thinking: c.Orchestrator.ThinkingDelay,
		ToolStep: c.Orchestrator.ToolDelay,
		Chunk:    c.Orchestrator.ChunkDelay,
	}
}

// keys returns the prefixed variable name followed by unprefixed fallbacks
func keys(name string, fallbacks ...string) []string {
	return append([]string{envPrefix + name}, fallbacks...)
}

// lookupEnv returns the first non-empty value among names
func lookupEnv(names []string) (string, bool) {
	for _, name := range names {
		if value := os.Getenv(name); value != "" {
			return value, true
		}
	}
	return "", false
}

// getEnv returns an environment variable value or a default
func getEnv(names []string, defaultValue string) string {
	if value, ok := lookupEnv(names); ok {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(names []string, defaultValue bool) bool {
	if value, ok := lookupEnv(names); ok {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(names []string, defaultValue int) int {
	if value, ok := lookupEnv(names); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(names []string, defaultValue float64) float64 {
	if value, ok := lookupEnv(names); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(names []string, defaultValue time.Duration) time.Duration {
	if value, ok := lookupEnv(names); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(names []string, defaultValue []string) []string {
	value, ok := lookupEnv(names)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
