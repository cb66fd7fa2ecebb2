package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sanitization server and the anchor worker.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Journal   JournalConfig
	RabbitMQ  RabbitMQConfig
	Redis     RedisConfig
	Inventory InventoryConfig
	Engine    EngineConfig
	Verify    VerifyConfig
	Cert      CertConfig
	Ledger    LedgerConfig
	Anchor    AnchorConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port         int           `mapstructure:"API_PORT"`
	ReadTimeout  time.Duration `mapstructure:"API_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"API_WRITE_TIMEOUT"`
	RateLimit    int           `mapstructure:"API_RATE_LIMIT"`
	GinMode      string        `mapstructure:"GIN_MODE"`

	// MaxBodyBytes caps request bodies on mutating routes.
	MaxBodyBytes    int64  `mapstructure:"API_MAX_BODY_BYTES"`
	RequestIDHeader string `mapstructure:"API_REQUEST_ID_HEADER"`

	// JobRetention is how long terminal jobs stay in memory. The journal keeps them regardless.
	JobRetention time.Duration `mapstructure:"JOB_RETENTION"`
}

// DatabaseConfig selects the PostgreSQL journal. An empty URL falls back to the file journal.
type DatabaseConfig struct {
	URL string `mapstructure:"DATABASE_URL"`
}

type JournalConfig struct {
	Path string `mapstructure:"JOURNAL_PATH"`
}

// RabbitMQConfig enables job events. An empty URL disables publishing.
type RabbitMQConfig struct {
	URL string `mapstructure:"RABBITMQ_URL"`
}

// RedisConfig enables the cross-process device lock. An empty URL keeps locking in-process.
type RedisConfig struct {
	URL string `mapstructure:"REDIS_URL"`
}

type InventoryConfig struct {
	IncludeSystem bool   `mapstructure:"INVENTORY_INCLUDE_SYSTEM"`
	ImageDir      string `mapstructure:"INVENTORY_IMAGE_DIR"`
	MethodsFile   string `mapstructure:"METHODS_FILE"`
}

type EngineConfig struct {
	BlockSize        int           `mapstructure:"ENGINE_BLOCK_SIZE"`
	ProgressInterval time.Duration `mapstructure:"ENGINE_PROGRESS_INTERVAL"`
	MaxMBps          float64       `mapstructure:"ENGINE_MAX_MBPS"`
}

type VerifyConfig struct {
	SampleSize   int   `mapstructure:"VERIFY_SAMPLE_SIZE"`
	MinSamples   int   `mapstructure:"VERIFY_MIN_SAMPLES"`
	MaxSamples   int   `mapstructure:"VERIFY_MAX_SAMPLES"`
	SampleStride int64 `mapstructure:"VERIFY_SAMPLE_STRIDE"`
	MaxRewipes   int   `mapstructure:"VERIFY_MAX_REWIPES"`
}

type CertConfig struct {
	// SigningKey is a hex-encoded 32-byte Ed25519 seed. Empty disables signing.
	SigningKey string `mapstructure:"CERT_SIGNING_KEY"`
}

// LedgerConfig points at the anchoring gateway. An empty URL disables anchoring.
type LedgerConfig struct {
	URL           string        `mapstructure:"LEDGER_URL"`
	APIKey        string        `mapstructure:"LEDGER_API_KEY"`
	Confirmations int           `mapstructure:"LEDGER_CONFIRMATIONS"`
	RetryMax      int           `mapstructure:"LEDGER_RETRY_MAX"`
	Timeout       time.Duration `mapstructure:"LEDGER_TIMEOUT"`
}

type AnchorConfig struct {
	Auto         bool          `mapstructure:"ANCHOR_AUTO"`
	PollInterval time.Duration `mapstructure:"ANCHOR_POLL_INTERVAL"`
	MaxPolls     int           `mapstructure:"ANCHOR_MAX_POLLS"`
}

type WorkerConfig struct {
	PoolSize    int `mapstructure:"WORKER_POOL_SIZE"`
	MetricsPort int `mapstructure:"WORKER_METRICS_PORT"`
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("API_PORT", 8080)
	viper.SetDefault("API_READ_TIMEOUT", "10s")
	viper.SetDefault("API_WRITE_TIMEOUT", "30s")
	viper.SetDefault("API_RATE_LIMIT", 30)
	viper.SetDefault("GIN_MODE", "release")
	viper.SetDefault("API_MAX_BODY_BYTES", int64(16<<10))
	viper.SetDefault("API_REQUEST_ID_HEADER", "X-Sayonara-Request-ID")
	viper.SetDefault("JOB_RETENTION", "24h")
	viper.SetDefault("DATABASE_URL", "")
	viper.SetDefault("JOURNAL_PATH", "/var/lib/sayonara/journal.jsonl")
	viper.SetDefault("RABBITMQ_URL", "")
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("INVENTORY_INCLUDE_SYSTEM", false)
	viper.SetDefault("INVENTORY_IMAGE_DIR", "")
	viper.SetDefault("METHODS_FILE", "")
	viper.SetDefault("ENGINE_BLOCK_SIZE", 1<<20)
	viper.SetDefault("ENGINE_PROGRESS_INTERVAL", "250ms")
	viper.SetDefault("ENGINE_MAX_MBPS", 0)
	viper.SetDefault("VERIFY_SAMPLE_SIZE", 4096)
	viper.SetDefault("VERIFY_MIN_SAMPLES", 16)
	viper.SetDefault("VERIFY_MAX_SAMPLES", 1024)
	viper.SetDefault("VERIFY_SAMPLE_STRIDE", int64(1<<30))
	viper.SetDefault("VERIFY_MAX_REWIPES", 1)
	viper.SetDefault("CERT_SIGNING_KEY", "")
	viper.SetDefault("LEDGER_URL", "")
	viper.SetDefault("LEDGER_API_KEY", "")
	viper.SetDefault("LEDGER_CONFIRMATIONS", 12)
	viper.SetDefault("LEDGER_RETRY_MAX", 3)
	viper.SetDefault("LEDGER_TIMEOUT", "15s")
	viper.SetDefault("ANCHOR_AUTO", false)
	viper.SetDefault("ANCHOR_POLL_INTERVAL", "30s")
	viper.SetDefault("ANCHOR_MAX_POLLS", 40)
	viper.SetDefault("WORKER_POOL_SIZE", 4)
	viper.SetDefault("WORKER_METRICS_PORT", 9090)

	// Attempt to read .env file (non-fatal if missing)
	_ = viper.ReadInConfig()

	cfg := &Config{}
	cfg.Server.Port = viper.GetInt("API_PORT")
	cfg.Server.ReadTimeout = viper.GetDuration("API_READ_TIMEOUT")
	cfg.Server.WriteTimeout = viper.GetDuration("API_WRITE_TIMEOUT")
	cfg.Server.RateLimit = viper.GetInt("API_RATE_LIMIT")
	cfg.Server.GinMode = viper.GetString("GIN_MODE")
	cfg.Server.MaxBodyBytes = viper.GetInt64("API_MAX_BODY_BYTES")
	cfg.Server.RequestIDHeader = viper.GetString("API_REQUEST_ID_HEADER")
	cfg.Server.JobRetention = viper.GetDuration("JOB_RETENTION")
	cfg.Database.URL = viper.GetString("DATABASE_URL")
	cfg.Journal.Path = viper.GetString("JOURNAL_PATH")
	cfg.RabbitMQ.URL = viper.GetString("RABBITMQ_URL")
	cfg.Redis.URL = viper.GetString("REDIS_URL")
	cfg.Inventory.IncludeSystem = viper.GetBool("INVENTORY_INCLUDE_SYSTEM")
	cfg.Inventory.ImageDir = viper.GetString("INVENTORY_IMAGE_DIR")
	cfg.Inventory.MethodsFile = viper.GetString("METHODS_FILE")
	cfg.Engine.BlockSize = viper.GetInt("ENGINE_BLOCK_SIZE")
	cfg.Engine.ProgressInterval = viper.GetDuration("ENGINE_PROGRESS_INTERVAL")
	cfg.Engine.MaxMBps = viper.GetFloat64("ENGINE_MAX_MBPS")
	cfg.Verify.SampleSize = viper.GetInt("VERIFY_SAMPLE_SIZE")
	cfg.Verify.MinSamples = viper.GetInt("VERIFY_MIN_SAMPLES")
	cfg.Verify.MaxSamples = viper.GetInt("VERIFY_MAX_SAMPLES")
	cfg.Verify.SampleStride = viper.GetInt64("VERIFY_SAMPLE_STRIDE")
	cfg.Verify.MaxRewipes = viper.GetInt("VERIFY_MAX_REWIPES")
	cfg.Cert.SigningKey = viper.GetString("CERT_SIGNING_KEY")
	cfg.Ledger.URL = viper.GetString("LEDGER_URL")
	cfg.Ledger.APIKey = viper.GetString("LEDGER_API_KEY")
	cfg.Ledger.Confirmations = viper.GetInt("LEDGER_CONFIRMATIONS")
	cfg.Ledger.RetryMax = viper.GetInt("LEDGER_RETRY_MAX")
	cfg.Ledger.Timeout = viper.GetDuration("LEDGER_TIMEOUT")
	cfg.Anchor.Auto = viper.GetBool("ANCHOR_AUTO")
	cfg.Anchor.PollInterval = viper.GetDuration("ANCHOR_POLL_INTERVAL")
	cfg.Anchor.MaxPolls = viper.GetInt("ANCHOR_MAX_POLLS")
	cfg.Worker.PoolSize = viper.GetInt("WORKER_POOL_SIZE")
	cfg.Worker.MetricsPort = viper.GetInt("WORKER_METRICS_PORT")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.BlockSize <= 0 || c.Engine.BlockSize%512 != 0 {
		return fmt.Errorf("config: ENGINE_BLOCK_SIZE must be a positive multiple of 512, got %d", c.Engine.BlockSize)
	}
	if c.Verify.SampleSize <= 0 {
		return fmt.Errorf("config: VERIFY_SAMPLE_SIZE must be positive, got %d", c.Verify.SampleSize)
	}
	if c.Verify.MinSamples < 0 || c.Verify.MaxSamples < c.Verify.MinSamples {
		return fmt.Errorf("config: VERIFY_MIN_SAMPLES/VERIFY_MAX_SAMPLES out of range (%d, %d)", c.Verify.MinSamples, c.Verify.MaxSamples)
	}
	if c.Verify.MaxRewipes < 0 {
		return fmt.Errorf("config: VERIFY_MAX_REWIPES must not be negative")
	}
	if c.Worker.PoolSize <= 0 {
		return fmt.Errorf("config: WORKER_POOL_SIZE must be positive")
	}
	return nil
}
