package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/finmcp/pkg/auth"
	"github.com/platinummonkey/finmcp/pkg/config"
	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/rbac"
)

// Config holds the token generator configuration
type Config struct {
	ConfigFile string
	Secret     string
	Issuer     string
	UserID     int64
	Username   string
	Email      string
	Roles      string
	TTL        time.Duration
	Verbose    bool
}

// Issues a development bearer token for the financial MCP server
func main() {
	cfg := parseFlags()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stderr)
	if !cfg.Verbose {
		logger.SetLevel(logrus.WarnLevel)
	}

	secret := cfg.Secret
	ttl := cfg.TTL
	issuer := cfg.Issuer
	if secret == "" || ttl == 0 {
		appCfg, err := config.Load(cfg.ConfigFile)
		if err != nil {
			logger.Fatalf("Failed to load configuration: %v", err)
		}
		if secret == "" {
			secret = appCfg.Auth.JWTSecret
			if appCfg.UsesDefaultSecret() {
				logger.Warn("Signing with the default development secret")
			}
		}
		if ttl == 0 {
			ttl = appCfg.Auth.TokenExpiry
		}
		if issuer == "" {
			issuer = appCfg.Auth.Issuer
		}
	}

	roles := splitRoles(cfg.Roles)
	var granted []rbac.Role
	for _, r := range roles {
		role, ok := rbac.ParseRole(r)
		if !ok {
			logger.Warnf("Ignoring unknown role %q (known roles: %v)", r, rbac.AllRoles())
			continue
		}
		granted = append(granted, role)
	}

	tm, err := auth.NewTokenManager(secret, auth.WithTTL(ttl), auth.WithIssuer(issuer))
	if err != nil {
		logger.Fatalf("Failed to create token manager: %v", err)
	}

	token, err := auth.CreateTestTokenWithTTL(tm, cfg.UserID, cfg.Username, roles, cfg.Email, ttl)
	if err != nil {
		logger.Fatalf("Failed to issue token: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"user_id":     cfg.UserID,
		"roles":       roles,
		"permissions": rbac.PermissionsForRoles(granted).Sorted(),
		"ttl":         ttl.String(),
	}).Info("Issued token")

	audit := auth.NewAuditLogger(observability.NewLogger(observability.InfoLevel, os.Stderr))
	if err := auditIssue(context.Background(), audit, cfg.UserID, roles); err != nil {
		logger.Warnf("Failed to write audit event: %v", err)
	}
	fmt.Println(token)
}

// auditIssue records the issued token's subject and roles
func auditIssue(ctx context.Context, al *auth.AuditLogger, userID int64, roles []string) error {
	return al.LogAction(ctx, &auth.AuditLog{
		UserID:       &userID,
		Action:       auth.ActionTokenIssue,
		ResourceType: auth.ResourceToken,
		ResourceID:   strings.Join(roles, ","),
		Status:       auth.StatusSuccess,
	})
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ConfigFile, "config", os.Getenv(config.ConfigFileEnv), "Path to a YAML config file")
	flag.StringVar(&cfg.Secret, "secret", "", "HMAC signing secret, overriding the configuration")
	flag.StringVar(&cfg.Issuer, "issuer", "", "Token issuer, overriding the configuration")
	flag.Int64Var(&cfg.UserID, "user", 1, "User id claim")
	flag.StringVar(&cfg.Username, "username", "", "Username claim")
	flag.StringVar(&cfg.Email, "email", "", "Email claim")
	flag.StringVar(&cfg.Roles, "role", string(rbac.RoleViewer), "Comma-separated roles (admin, analyst, viewer)")
	flag.DurationVar(&cfg.TTL, "ttl", 0, "Token lifetime; defaults to the configured expiry")
	flag.BoolVar(&cfg.Verbose, "v", false, "Log token details to stderr")
	flag.Parse()

	if cfg.UserID <= 0 {
		fmt.Fprintln(os.Stderr, "-user must be positive")
		os.Exit(2)
	}
	if cfg.TTL < 0 {
		fmt.Fprintln(os.Stderr, "-ttl must not be negative")
		os.Exit(2)
	}
	return cfg
}

func splitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, strings.ToLower(r))
		}
	}
	return roles
}
