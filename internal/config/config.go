// Package config handles application configuration via environment variables.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the auth service.
type Config struct {
	// Server settings
	Host string `env:"AUTH_HOST" env-default:"0.0.0.0"`
	Port int    `env:"AUTH_PORT" env-default:"8000"`

	// Storage settings
	DataDir string `env:"AUTH_DATA_DIR" env-default:"./data"`

	// Token settings
	JWTSecret       string        `env:"AUTH_JWT_SECRET"`
	AccessTokenTTL  time.Duration `env:"AUTH_ACCESS_TOKEN_TTL" env-default:"30m"`
	RefreshTokenTTL time.Duration `env:"AUTH_REFRESH_TOKEN_TTL" env-default:"168h"` // 7 days

	// OIDC relying-party settings
	OIDCEnabled      bool   `env:"AUTH_OIDC_ENABLED" env-default:"false"`
	OIDCClientID     string `env:"AUTH_OIDC_CLIENT_ID"`
	OIDCClientSecret string `env:"AUTH_OIDC_CLIENT_SECRET"`
	OIDCDiscoveryURL string `env:"AUTH_OIDC_DISCOVERY_URL"`
	OIDCRedirectURI  string `env:"AUTH_OIDC_REDIRECT_URI" env-default:"http://localhost:8000/api/auth/oidc/callback"`
	OIDCScopes       string `env:"AUTH_OIDC_SCOPES" env-default:"openid profile email"`

	// Frontend the OIDC callback hands tokens to
	FrontendURL string `env:"AUTH_FRONTEND_URL" env-default:"http://localhost:3000"`

	// Dummy OIDC provider (development only)
	DummyOIDCEnabled bool   `env:"AUTH_DUMMY_OIDC_ENABLED" env-default:"false"`
	DummyOIDCSecret  string `env:"AUTH_DUMMY_OIDC_SECRET" env-default:"dummy-oidc-secret-key-for-development-only"`

	// Development fallback: synthesize an identity from token claims when
	// the user store is unreachable. Must stay off outside local dev.
	DevIdentityFallback bool `env:"AUTH_DEV_IDENTITY_FALLBACK" env-default:"false"`

	// Account lockout
	LockoutMaxAttempts int           `env:"AUTH_LOCKOUT_MAX_ATTEMPTS" env-default:"5"`
	LockoutDuration    time.Duration `env:"AUTH_LOCKOUT_DURATION" env-default:"15m"`

	// Rate limiting (requests per minute on login endpoints, 0 = disabled)
	LoginRateLimit int `env:"AUTH_LOGIN_RATE_LIMIT" env-default:"10"`

	// Logging
	LogLevel  string `env:"AUTH_LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"AUTH_LOG_FORMAT" env-default:"json"` // json or text

	// Bootstrap users created on startup if absent.
	// Format: "username:email:password:role,username2:email2:password2:role2"
	BootstrapUsers string `env:"AUTH_BOOTSTRAP_USERS"`

	// Internal flags (not from env)
	JWTSecretGenerated bool `env:"-"` // True if secret was auto-generated
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Generate a random signing secret if not provided. Tokens will not
	// survive a restart in that case, which is acceptable for development.
	if cfg.JWTSecret == "" {
		secret, err := generateRandomSecret(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
		}
		cfg.JWTSecret = secret
		cfg.JWTSecretGenerated = true
	}

	if cfg.OIDCEnabled && cfg.OIDCDiscoveryURL == "" {
		return nil, fmt.Errorf("AUTH_OIDC_DISCOVERY_URL is required when OIDC is enabled")
	}

	return &cfg, nil
}

// Addr returns the server address in host:port format.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ScopeList returns the configured OIDC scopes as a slice.
func (c *Config) ScopeList() []string {
	return strings.Fields(c.OIDCScopes)
}

// generateRandomSecret generates a cryptographically secure random string.
func generateRandomSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// BootstrapUser represents a user to be created on startup.
type BootstrapUser struct {
	Username string
	Email    string
	Password string
	Role     string
}

// ParseBootstrapUsers parses the AUTH_BOOTSTRAP_USERS environment variable.
// Format: "username:email:password:role,username2:email2:password2:role2"
func (c *Config) ParseBootstrapUsers() []BootstrapUser {
	if c.BootstrapUsers == "" {
		return nil
	}

	var users []BootstrapUser
	for _, entry := range strings.Split(c.BootstrapUsers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 4)
		if len(parts) < 3 {
			continue
		}

		user := BootstrapUser{
			Username: strings.TrimSpace(parts[0]),
			Email:    strings.TrimSpace(parts[1]),
			Password: strings.TrimSpace(parts[2]),
			Role:     "user",
		}
		if len(parts) >= 4 {
			user.Role = strings.TrimSpace(parts[3])
		}
		users = append(users, user)
	}
	return users
}
