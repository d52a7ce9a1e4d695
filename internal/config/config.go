package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string   `mapstructure:"PORT"`
	Env             string   `mapstructure:"ENV"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir   string   `mapstructure:"MIGRATIONS_DIR"`
	JWTSecret       string   `mapstructure:"JWT_SECRET"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
	ScriptTimeoutMS int      `mapstructure:"SCRIPT_TIMEOUT_MS"`
	ScriptMaxSteps  int      `mapstructure:"SCRIPT_MAX_STEPS"`
	ScriptCacheMax  int      `mapstructure:"SCRIPT_CACHE_MAX"`
	NumberPrecision int      `mapstructure:"NUMBER_PRECISION"`
	CatalogFile     string   `mapstructure:"CATALOG_FILE"`
	SeedDemo        bool     `mapstructure:"SEED_DEMO"`
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
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SCRIPT_TIMEOUT_MS", 5000)
	v.SetDefault("SCRIPT_MAX_STEPS", 100000)
	v.SetDefault("SCRIPT_CACHE_MAX", 256)
	v.SetDefault("NUMBER_PRECISION", 2)
	v.SetDefault("SEED_DEMO", false)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("SCRIPT_TIMEOUT_MS")
	v.BindEnv("SCRIPT_MAX_STEPS")
	v.BindEnv("SCRIPT_CACHE_MAX")
	v.BindEnv("NUMBER_PRECISION")
	v.BindEnv("CATALOG_FILE")
	v.BindEnv("SEED_DEMO")

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

	if cfg.IsDev() && cfg.DatabaseURL == "" {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: DATABASE_URL is not set; running with in-memory repositories.")
		log.Println("WARNING: All notes, ranges, and audit events are lost on shutdown.")
		log.Println("WARNING: Set DATABASE_URL to enable Postgres persistence.")
		log.Println("WARNING: ============================================================")
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

// InMemory reports whether the server should run on in-memory repositories
// instead of Postgres. Only permitted in development.
func (c *Config) InMemory() bool {
	return c.DatabaseURL == ""
}

// ScriptTimeout returns the dynamic-segment execution deadline. Values at or
// below zero fall back to the default so a misconfigured environment can never
// disable the bound.
func (c *Config) ScriptTimeout() int {
	if c.ScriptTimeoutMS <= 0 {
		return 5000
	}
	return c.ScriptTimeoutMS
}

// Validate checks that the configuration is safe to run. Production requires
// Postgres persistence and a JWT secret so validation events carry a real
// user identity; development may run unauthenticated and in memory.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be \"development\", \"staging\", or \"production\", got %q", c.Env)
	}
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production; refusing to start with anonymous audit attribution")
		}
	}
	if len(c.JWTSecret) > 0 && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret))
	}
	if c.ScriptMaxSteps <= 0 {
		return fmt.Errorf("SCRIPT_MAX_STEPS must be positive, got %d", c.ScriptMaxSteps)
	}
	if c.NumberPrecision < 0 || c.NumberPrecision > 10 {
		return fmt.Errorf("NUMBER_PRECISION must be between 0 and 10, got %d", c.NumberPrecision)
	}
	return nil
}
