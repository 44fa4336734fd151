package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	IDPBaseURL   string        `mapstructure:"IDP_BASE_URL"`
	IDPProjectID string        `mapstructure:"IDP_PROJECT_ID"`
	IDPSecret    string        `mapstructure:"IDP_SECRET"`
	IDPEnv       string        `mapstructure:"IDP_ENV"`
	IDPJWKSURL   string        `mapstructure:"IDP_JWKS_URL"`
	IDPTimeout   time.Duration `mapstructure:"IDP_TIMEOUT"`

	WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`
	OpsToken      string `mapstructure:"OPS_TOKEN"`

	VoiceAPIURL string `mapstructure:"VOICE_API_URL"`
	VoiceAPIKey string `mapstructure:"VOICE_API_KEY"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("IDP_ENV", "test")
	v.SetDefault("IDP_TIMEOUT", "10s")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"CORS_ORIGINS",
		"IDP_BASE_URL", "IDP_PROJECT_ID", "IDP_SECRET", "IDP_ENV",
		"IDP_JWKS_URL", "IDP_TIMEOUT",
		"WEBHOOK_SECRET", "OPS_TOKEN",
		"VOICE_API_URL", "VOICE_API_KEY",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that every credential the server cannot run without is
// present. Missing configuration fails at process start, not on first
// request.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.IDPBaseURL == "" {
		return fmt.Errorf("IDP_BASE_URL is required")
	}
	if c.IDPProjectID == "" {
		return fmt.Errorf("IDP_PROJECT_ID is required")
	}
	if c.IDPSecret == "" {
		return fmt.Errorf("IDP_SECRET is required")
	}
	if c.IDPEnv != "test" && c.IDPEnv != "live" {
		return fmt.Errorf("IDP_ENV must be \"test\" or \"live\", got %q", c.IDPEnv)
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if c.OpsToken == "" {
		return fmt.Errorf("OPS_TOKEN is required")
	}
	if c.IDPTimeout <= 0 {
		return fmt.Errorf("IDP_TIMEOUT must be positive, got %s", c.IDPTimeout)
	}
	return nil
}
