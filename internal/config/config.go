package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the runtime configuration shared by the web server and the control panel.
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Supabase  SupabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Ebay      EbayConfig
	Amazon    AmazonConfig
	Keepa     KeepaConfig
	Brickset  BricksetConfig
	Sync      SyncConfig
	Arbitrage ArbitrageConfig
}

type AppConfig struct {
	Env            string
	Port           string
	BaseURL        string
	EncryptionKey  string
	MigrateOnStart bool
}

type DatabaseConfig struct {
	URL string
}

type SupabaseConfig struct {
	URL         string
	AnonKey     string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// RedisConfig is optional; an empty URL selects the in-memory cache.
type RedisConfig struct {
	URL string
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type EbayConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Sandbox      bool
}

type AmazonConfig struct {
	LWAClientID     string
	LWAClientSecret string
	MarketplaceID   string
	Endpoint        string
}

type KeepaConfig struct {
	APIKey     string
	BatchSize  int
	BatchDelay time.Duration
}

type BricksetConfig struct {
	APIKey string
}

type SyncConfig struct {
	SchedulerEnabled bool
	Interval         time.Duration
	BatchSize        int
	BatchDelay       time.Duration
	Concurrency      int
	Lookback         time.Duration
	Overlap          time.Duration
	StaleAfter       time.Duration
	RetryAttempts    int
	RetryDelay       time.Duration
}

type ArbitrageConfig struct {
	MinMargin float64
}

// Load reads .env (when present) and the process environment.
// Keys map "." to "_" so sync.batch_size reads SYNC_BATCH_SIZE.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Env:            v.GetString("app.env"),
			Port:           v.GetString("port"),
			BaseURL:        v.GetString("app.base_url"),
			EncryptionKey:  v.GetString("encryption.key"),
			MigrateOnStart: v.GetBool("migrate.on_start"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		Supabase: SupabaseConfig{
			URL:         v.GetString("supabase.url"),
			AnonKey:     v.GetString("supabase.anon_key"),
			JWTSecret:   v.GetString("supabase.jwt_secret"),
			JWTIssuer:   v.GetString("jwt.issuer"),
			JWTAudience: v.GetString("jwt.audience"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis.url"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Ebay: EbayConfig{
			ClientID:     v.GetString("ebay.client_id"),
			ClientSecret: v.GetString("ebay.client_secret"),
			RedirectURI:  v.GetString("ebay.redirect_uri"),
			Sandbox:      v.GetBool("ebay.sandbox"),
		},
		Amazon: AmazonConfig{
			LWAClientID:     v.GetString("amazon.lwa_client_id"),
			LWAClientSecret: v.GetString("amazon.lwa_client_secret"),
			MarketplaceID:   v.GetString("amazon.marketplace_id"),
			Endpoint:        v.GetString("amazon.endpoint"),
		},
		Keepa: KeepaConfig{
			APIKey:     v.GetString("keepa.api_key"),
			BatchSize:  v.GetInt("keepa.batch_size"),
			BatchDelay: v.GetDuration("keepa.batch_delay"),
		},
		Brickset: BricksetConfig{
			APIKey: v.GetString("brickset.api_key"),
		},
		Sync: SyncConfig{
			SchedulerEnabled: v.GetBool("scheduler.enabled"),
			Interval:         v.GetDuration("sync.interval"),
			BatchSize:        v.GetInt("sync.batch_size"),
			BatchDelay:       v.GetDuration("sync.batch_delay"),
			Concurrency:      v.GetInt("sync.concurrency"),
			Lookback:         v.GetDuration("sync.lookback"),
			Overlap:          v.GetDuration("sync.overlap"),
			StaleAfter:       v.GetDuration("sync.stale_after"),
			RetryAttempts:    v.GetInt("sync.retry_attempts"),
			RetryDelay:       v.GetDuration("sync.retry_delay"),
		},
		Arbitrage: ArbitrageConfig{
			MinMargin: v.GetFloat64("arbitrage.min_margin"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = "http://localhost:" + cfg.App.Port
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "console"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Ebay.RedirectURI == "" {
		cfg.Ebay.RedirectURI = cfg.App.BaseURL + "/api/ebay/callback"
	}
	if cfg.Amazon.MarketplaceID == "" {
		// amazon.co.uk
		cfg.Amazon.MarketplaceID = "A1F83G8C2ARO7P"
	}
	if cfg.Amazon.Endpoint == "" {
		cfg.Amazon.Endpoint = "https://sellingpartnerapi-eu.amazon.com"
	}
	if cfg.Keepa.BatchSize == 0 {
		cfg.Keepa.BatchSize = 100
	}
	if cfg.Keepa.BatchDelay == 0 {
		cfg.Keepa.BatchDelay = 60 * time.Second
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 15 * time.Minute
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 200
	}
	if cfg.Sync.BatchDelay == 0 {
		cfg.Sync.BatchDelay = time.Second
	}
	if cfg.Sync.Concurrency == 0 {
		cfg.Sync.Concurrency = 5
	}
	if cfg.Sync.Lookback == 0 {
		cfg.Sync.Lookback = 90 * 24 * time.Hour
	}
	if cfg.Sync.Overlap == 0 {
		cfg.Sync.Overlap = time.Hour
	}
	if cfg.Sync.StaleAfter == 0 {
		cfg.Sync.StaleAfter = 30 * time.Minute
	}
	if cfg.Sync.RetryAttempts == 0 {
		cfg.Sync.RetryAttempts = 3
	}
	if cfg.Sync.RetryDelay == 0 {
		cfg.Sync.RetryDelay = time.Minute
	}
	if cfg.Arbitrage.MinMargin == 0 {
		cfg.Arbitrage.MinMargin = 0.2
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if c.Sync.BatchSize < 1 || c.Sync.BatchSize > 500 {
		return fmt.Errorf("sync.batch_size must be between 1 and 500, got %d", c.Sync.BatchSize)
	}
	if c.Arbitrage.MinMargin < 0 || c.Arbitrage.MinMargin >= 1 {
		return fmt.Errorf("arbitrage.min_margin must be in [0,1), got %f", c.Arbitrage.MinMargin)
	}
	if c.App.EncryptionKey != "" {
		if _, err := c.EncryptionKeyBytes(); err != nil {
			return err
		}
	}

	if c.IsProduction() {
		if len(c.Supabase.JWTSecret) < 32 {
			return fmt.Errorf("SUPABASE_JWT_SECRET must be at least 32 characters in production")
		}
		if c.App.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required in production")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// EncryptionKeyBytes decodes ENCRYPTION_KEY, a base64 encoded 32 byte AES-256 key.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.App.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key length: got %d bytes, expected 32", len(key))
	}
	return key, nil
}
