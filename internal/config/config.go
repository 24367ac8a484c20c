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
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	// Business-hours window: appointments scheduled outside it carry the
	// off-hours surcharge. Weekdays follow time.Weekday (1 = Monday).
	BusinessDayStart  int     `mapstructure:"BUSINESS_DAY_START"`
	BusinessDayEnd    int     `mapstructure:"BUSINESS_DAY_END"`
	BusinessHourStart int     `mapstructure:"BUSINESS_HOUR_START"`
	BusinessHourEnd   int     `mapstructure:"BUSINESS_HOUR_END"`
	OffHoursSurcharge float64 `mapstructure:"OFF_HOURS_SURCHARGE"`
	DepositRate       float64 `mapstructure:"DEPOSIT_RATE"`

	// Districts served by home sample collection.
	ServiceDistricts []string `mapstructure:"SERVICE_DISTRICTS"`

	SlotLockTTL time.Duration `mapstructure:"SLOT_LOCK_TTL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BUSINESS_DAY_START", 1)
	v.SetDefault("BUSINESS_DAY_END", 5)
	v.SetDefault("BUSINESS_HOUR_START", 8)
	v.SetDefault("BUSINESS_HOUR_END", 17)
	v.SetDefault("OFF_HOURS_SURCHARGE", 0.2)
	v.SetDefault("DEPOSIT_RATE", 0.3)
	v.SetDefault("SERVICE_DISTRICTS", "")
	v.SetDefault("SLOT_LOCK_TTL", "10s")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("BUSINESS_DAY_START")
	v.BindEnv("BUSINESS_DAY_END")
	v.BindEnv("BUSINESS_HOUR_START")
	v.BindEnv("BUSINESS_HOUR_END")
	v.BindEnv("OFF_HOURS_SURCHARGE")
	v.BindEnv("DEPOSIT_RATE")
	v.BindEnv("SERVICE_DISTRICTS")
	v.BindEnv("SLOT_LOCK_TTL")

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
	if cfg.ServiceDistricts == nil {
		districts := v.GetString("SERVICE_DISTRICTS")
		if districts != "" {
			cfg.ServiceDistricts = strings.Split(districts, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.BusinessHourStart < 0 || cfg.BusinessHourEnd > 24 || cfg.BusinessHourStart >= cfg.BusinessHourEnd {
		return nil, fmt.Errorf("invalid business hours window [%d, %d)", cfg.BusinessHourStart, cfg.BusinessHourEnd)
	}
	if cfg.DepositRate < 0 || cfg.DepositRate > 1 {
		return nil, fmt.Errorf("DEPOSIT_RATE must be within [0, 1], got %f", cfg.DepositRate)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// InBusinessHours reports whether t falls inside the configured
// weekday/hour window.
func (c *Config) InBusinessHours(t time.Time) bool {
	wd := int(t.Weekday())
	if wd < c.BusinessDayStart || wd > c.BusinessDayEnd {
		return false
	}
	h := t.Hour()
	return h >= c.BusinessHourStart && h < c.BusinessHourEnd
}

// ServesDistrict reports whether home collection covers the given district.
func (c *Config) ServesDistrict(district string) bool {
	for _, d := range c.ServiceDistricts {
		if strings.EqualFold(strings.TrimSpace(d), strings.TrimSpace(district)) {
			return true
		}
	}
	return false
}
