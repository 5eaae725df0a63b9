package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// GatewayConfig holds all configuration for the gateway.
// Tags use mapstructure for Viper unmarshalling.
type GatewayConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// StoreBackend selects the kv implementation: memory, redis or
	// mongodb. The gateway refuses to start if the selected backend is
	// unreachable; auth must never degrade silently.
	StoreBackend   string `mapstructure:"STORE_BACKEND"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`
	MongoURI       string `mapstructure:"MONGO_URI"`
	MongoDBName    string `mapstructure:"MONGO_DB_NAME"`

	// GatewaySecret is the master secret every signing key is derived
	// from. Externally provisioned; rotation is out of scope.
	GatewaySecret string `mapstructure:"GATEWAY_SECRET"`

	OAuthClientID     string `mapstructure:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string `mapstructure:"OAUTH_CLIENT_SECRET"`
	OAuthAuthURL      string `mapstructure:"OAUTH_AUTH_URL"`
	OAuthTokenURL     string `mapstructure:"OAUTH_TOKEN_URL"`
	OAuthUserinfoURL  string `mapstructure:"OAUTH_USERINFO_URL"`
	OAuthRedirectURL  string `mapstructure:"OAUTH_REDIRECT_URL"`

	// AllowedEmailDomains is a comma-separated allow-list, e.g.
	// "agile6.com,example.org".
	AllowedEmailDomains string `mapstructure:"ALLOWED_EMAIL_DOMAINS"`

	// UpstreamAPIKey authenticates the data tools against the upstream
	// data API; reported by /health, unused by the auth core.
	UpstreamAPIKey string `mapstructure:"UPSTREAM_API_KEY"`

	RequireAuth        bool   `mapstructure:"REQUIRE_AUTH"`
	TokenSystemEnabled bool   `mapstructure:"TOKEN_SYSTEM_ENABLED"`
	AdminAPIKey        string `mapstructure:"ADMIN_API_KEY"`
	SecureCookies      bool   `mapstructure:"SECURE_COOKIES"`

	// TokenTTLHours is the MCP token lifetime; 0 keeps the deliberate
	// no-expiration policy (valid until revoked).
	TokenTTLHours int `mapstructure:"TOKEN_TTL_HOURS"`
	StateTTLMin   int `mapstructure:"STATE_TTL_MIN"`
	SessionTTLMin int `mapstructure:"SESSION_TTL_MIN"`
}

// Domains returns the parsed email domain allow-list.
func (c *GatewayConfig) Domains() []string {
	var out []string
	for _, d := range strings.Split(c.AllowedEmailDomains, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// OAuthConfigured reports whether the interactive flow can run.
func (c *GatewayConfig) OAuthConfigured() bool {
	return c.OAuthClientID != "" && c.OAuthClientSecret != ""
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*GatewayConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/mcp-auth-gateway/")
	v.AddConfigPath("$HOME/.mcp-auth-gateway")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("STORE_BACKEND", "memory")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_KEY_PREFIX", "mcpgw")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "mcp_gateway")
	v.SetDefault("ALLOWED_EMAIL_DOMAINS", "agile6.com")
	v.SetDefault("REQUIRE_AUTH", true)
	v.SetDefault("TOKEN_SYSTEM_ENABLED", true)
	v.SetDefault("SECURE_COOKIES", true)
	v.SetDefault("TOKEN_TTL_HOURS", 0) // tokens never expire unless revoked
	v.SetDefault("STATE_TTL_MIN", 10)
	v.SetDefault("SESSION_TTL_MIN", 60)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg GatewayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &cfg, nil
}
