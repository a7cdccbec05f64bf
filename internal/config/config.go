package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Qdrant      QdrantConfig      `mapstructure:"qdrant"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Translation TranslationConfig `mapstructure:"translation"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Search      SearchConfig      `mapstructure:"search"`
	Repair      RepairConfig      `mapstructure:"repair"`
	Sources     SourcesConfig     `mapstructure:"sources"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QueueConfig struct {
	Name            string        `mapstructure:"name"`
	Concurrency     int           `mapstructure:"concurrency"`
	MaxRetry        int           `mapstructure:"max_retry"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	IndexDelay      time.Duration `mapstructure:"index_delay"`
	TaskTimeout     time.Duration `mapstructure:"task_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type IngestConfig struct {
	Workers           int `mapstructure:"workers"`
	MergeAttempts     int `mapstructure:"merge_attempts"`
	MaxPayloadSize    int `mapstructure:"max_payload_size"`
	BackfillBatchSize int `mapstructure:"backfill_batch_size"`
}

type SearchConfig struct {
	SimilarityMargin int  `mapstructure:"similarity_margin"`
	DefaultPageSize  int  `mapstructure:"default_page_size"`
	MaxPageSize      int  `mapstructure:"max_page_size"`
	MaxPageDepth     int  `mapstructure:"max_page_depth"`
	StrictPaging     bool `mapstructure:"strict_paging"`
	ExactIDLimit     int  `mapstructure:"exact_id_limit"`
	GalleryPageSize  int  `mapstructure:"gallery_page_size"`
	SetPreviewLimit  int  `mapstructure:"set_preview_limit"`
}

type RepairConfig struct {
	MinBlobSize          int64    `mapstructure:"min_blob_size"`
	DisallowedExtensions []string `mapstructure:"disallowed_extensions"`
	BatchSize            int      `mapstructure:"batch_size"`
}

type SourcesConfig struct {
	Gelbooru GelbooruConfig `mapstructure:"gelbooru"`
	Pixiv    PixivConfig    `mapstructure:"pixiv"`
	Staging  StagingConfig  `mapstructure:"staging"`
}

type GelbooruConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	UserID  string `mapstructure:"user_id"`
}

type PixivConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Referer string `mapstructure:"referer"`
}

type StagingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BasePath string `mapstructure:"base_path"`
}

// Load reads configuration from file, environment and defaults.
// Parameters:
//   - configPath: explicit config file; empty searches ./configs and the working directory.
// Returns:
//   - *Config: populated configuration.
//   - error: non-nil if the file exists but cannot be read or decoded.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	v.BindEnv("embedding.base_url", "EMBEDDING_BASE_URL")
	v.BindEnv("translation.api_key", "DEEPL_API_KEY")
	v.BindEnv("sources.gelbooru.api_key", "GELBOORU_API_KEY")
	v.BindEnv("sources.gelbooru.user_id", "GELBOORU_USER_ID")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", false)
	v.SetDefault("server.cors.allowed_origins", []string{"https://www.pixiv.net"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/archive.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "vit_embeddings")

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "supaarchive")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.name", "default")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.max_retry", 5)
	v.SetDefault("queue.retry_base_delay", 5*time.Second)
	v.SetDefault("queue.retry_max_delay", 10*time.Minute)
	v.SetDefault("queue.index_delay", 10*time.Second)
	v.SetDefault("queue.task_timeout", 5*time.Minute)
	v.SetDefault("queue.shutdown_timeout", 30*time.Second)

	v.SetDefault("embedding.provider", "clip-server")
	v.SetDefault("embedding.model", "ViT-L-14")
	v.SetDefault("embedding.base_url", "http://localhost:51000")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.timeout", 60*time.Second)
	v.SetDefault("embedding.serialize", true)

	v.SetDefault("translation.provider", "deepl")
	v.SetDefault("translation.base_url", "https://api-free.deepl.com/v2")
	v.SetDefault("translation.target_lang", "EN-US")
	v.SetDefault("translation.timeout", 30*time.Second)

	v.SetDefault("ingest.workers", 5)
	v.SetDefault("ingest.merge_attempts", 5)
	v.SetDefault("ingest.max_payload_size", 64<<20)
	v.SetDefault("ingest.backfill_batch_size", 500)

	v.SetDefault("search.similarity_margin", 5)
	v.SetDefault("search.default_page_size", 25)
	v.SetDefault("search.max_page_size", 100)
	v.SetDefault("search.max_page_depth", 200)
	v.SetDefault("search.strict_paging", false)
	v.SetDefault("search.exact_id_limit", 100)
	v.SetDefault("search.gallery_page_size", 25)
	v.SetDefault("search.set_preview_limit", 10)

	v.SetDefault("repair.min_blob_size", 2000)
	v.SetDefault("repair.disallowed_extensions", []string{".webm", ".mp4"})
	v.SetDefault("repair.batch_size", 500)

	v.SetDefault("sources.gelbooru.enabled", true)
	v.SetDefault("sources.gelbooru.base_url", "https://gelbooru.com")
	v.SetDefault("sources.pixiv.enabled", true)
	v.SetDefault("sources.pixiv.referer", "https://www.pixiv.net/")
	v.SetDefault("sources.staging.enabled", true)
	v.SetDefault("sources.staging.base_path", "./data/staging")
}
