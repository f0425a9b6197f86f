package config

import (
	"log"
	"time"

	"github.com/alxbtnk/duck/internal/store"
	"github.com/spf13/viper"
)

type Config struct {
	Env         string `mapstructure:"GO_ENV"`
	Port        string `mapstructure:"PORT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	FrontendURL string `mapstructure:"FRONTEND_URL"`

	// Persistence. postgres:// URLs select PostgreSQL, anything else is a SQLite DSN.
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	MaxAssetBytes int64  `mapstructure:"MAX_ASSET_BYTES"`
	MaxStoreBytes int64  `mapstructure:"MAX_STORE_BYTES"`

	// Extra hosts admins may point slots at, comma separated.
	AssetHosts []string `mapstructure:"ASSET_HOSTS"`

	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisTTL      time.Duration `mapstructure:"REDIS_TTL"`

	// R2 / S3 offload for uploaded asset bytes
	R2AccountID       string `mapstructure:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `mapstructure:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `mapstructure:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `mapstructure:"R2_BUCKET_NAME"`
	R2PublicURL       string `mapstructure:"R2_PUBLIC_URL"` // Custom domain

	// Duckify generation service
	GenerationURL       string        `mapstructure:"GENERATION_URL"`
	GenerationAPIKey    string        `mapstructure:"GENERATION_API_KEY"`
	GenerationPrompt    string        `mapstructure:"GENERATION_PROMPT"`
	GenerationTimeout   time.Duration `mapstructure:"GENERATION_TIMEOUT"`
	GenerationRateLimit float64       `mapstructure:"GENERATION_RATE_LIMIT"` // requests per second upstream, 0 = unlimited
	MaxSourceBytes      int64         `mapstructure:"MAX_SOURCE_BYTES"`
	PropagateSlot       string        `mapstructure:"DUCKIFY_PROPAGATE_SLOT"`
	SessionIdleTTL      time.Duration `mapstructure:"SESSION_IDLE_TTL"`
	MaxSessions         int           `mapstructure:"MAX_SESSIONS"`

	AdminJWTSecret string `mapstructure:"ADMIN_JWT_SECRET"`
}

var AppConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("GO_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "file:duckhat.db?_busy_timeout=5000")
	v.SetDefault("MAX_ASSET_BYTES", 8<<20)
	v.SetDefault("MAX_STORE_BYTES", 256<<20)
	v.SetDefault("REDIS_TTL", 10*time.Minute)
	v.SetDefault("GENERATION_TIMEOUT", 90*time.Second)
	v.SetDefault("MAX_SOURCE_BYTES", 10<<20)
	v.SetDefault("SESSION_IDLE_TTL", 30*time.Minute)
	v.SetDefault("MAX_SESSIONS", 1000)
}

// Load reads .env (when present) and the environment into a Config.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"FRONTEND_URL", "ASSET_HOSTS", "REDIS_ADDR", "REDIS_PASSWORD",
		"R2_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME", "R2_PUBLIC_URL",
		"GENERATION_URL", "GENERATION_API_KEY", "GENERATION_PROMPT", "GENERATION_RATE_LIMIT",
		"DUCKIFY_PROPAGATE_SLOT", "ADMIN_JWT_SECRET",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig populates AppConfig or exits.
func LoadConfig() {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("Unable to decode config: %v", err)
	}
	AppConfig = cfg
}

// R2Options returns the bucket settings, or nil when R2 is not configured.
func (c *Config) R2Options() *store.R2Options {
	if !c.R2Enabled() {
		return nil
	}
	return &store.R2Options{
		AccountID:       c.R2AccountID,
		AccessKeyID:     c.R2AccessKeyID,
		SecretAccessKey: c.R2SecretAccessKey,
		Bucket:          c.R2BucketName,
		PublicURL:       c.R2PublicURL,
	}
}

// StoreSettings maps the persistence settings onto store.Open.
func (c *Config) StoreSettings() store.Settings {
	return store.Settings{
		MaxEntryBytes: c.MaxAssetBytes,
		MaxTotalBytes: c.MaxStoreBytes,
		CacheTTL:      c.RedisTTL,
		R2:            c.R2Options(),
	}
}

// R2Enabled reports whether uploaded bytes should be offloaded to R2.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2BucketName != "" && c.R2AccessKeyID != ""
}
