package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supplier transport shapes.
const (
	TransportCursor = "cursor"
	TransportExport = "export"
	TransportSearch = "search"
)

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Kafka     KafkaConfig      `mapstructure:"kafka"`
	Ingest    IngestConfig     `mapstructure:"ingest"`
	Normalize NormalizeConfig  `mapstructure:"normalize"`
	Pricing   PricingConfig    `mapstructure:"pricing"`
	Suppliers []SupplierConfig `mapstructure:"suppliers"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path
}

// StorageConfig configures the S3-compatible archive for bulk-export documents.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type IngestConfig struct {
	WindowSize       int           `mapstructure:"window_size"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	ShrinkFactor     int           `mapstructure:"shrink_factor"`
	MinChunk         int           `mapstructure:"min_chunk"`
	SnapshotPageSize int           `mapstructure:"snapshot_page_size"`
	Parallelism      int           `mapstructure:"parallelism"`
	BatchLease       time.Duration `mapstructure:"batch_lease"`
}

type NormalizeConfig struct {
	MappingsPath string `mapstructure:"mappings_path"`
	PageSize     int    `mapstructure:"page_size"`
}

type PricingConfig struct {
	DefaultMarginPercent float64                       `mapstructure:"default_margin_percent"`
	DefaultRoundTo       float64                       `mapstructure:"default_round_to"`
	DefaultFeeRate       float64                       `mapstructure:"default_fee_rate"`
	Fees                 map[string]map[string]float64 `mapstructure:"fees"`
	RulesPath            string                        `mapstructure:"rules_path"`
	Workers              int                           `mapstructure:"workers"`
	PageSize             int                           `mapstructure:"page_size"`
}

// SupplierConfig describes one upstream provider and how to page through it.
type SupplierConfig struct {
	Code         string        `mapstructure:"code"`
	Name         string        `mapstructure:"name"`
	Enabled      bool          `mapstructure:"enabled"`
	Transport    string        `mapstructure:"transport"`
	BaseURL      string        `mapstructure:"base_url"`
	Path         string        `mapstructure:"path"`
	Account      string        `mapstructure:"account"`
	APIKey       string        `mapstructure:"api_key"`
	APIKeyEnv    string        `mapstructure:"api_key_env"`
	APIKeyHeader string        `mapstructure:"api_key_header"`
	PageSize     int           `mapstructure:"page_size"`
	MinInterval  time.Duration `mapstructure:"min_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	IDField      string        `mapstructure:"id_field"`
	Retry        RetryConfig   `mapstructure:"retry"`
	Filter       FilterConfig  `mapstructure:"filter"`
	Cursor       CursorConfig  `mapstructure:"cursor"`
	Export       ExportConfig  `mapstructure:"export"`
	Search       SearchConfig  `mapstructure:"search"`
}

// ResolveAPIKey prefers the environment variable named by APIKeyEnv.
func (s *SupplierConfig) ResolveAPIKey() string {
	if s.APIKeyEnv != "" {
		if v := os.Getenv(s.APIKeyEnv); v != "" {
			return v
		}
	}
	return s.APIKey
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type FilterConfig struct {
	Category string `mapstructure:"category"`
	Keyword  string `mapstructure:"keyword"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

type CursorConfig struct {
	ItemsField      string `mapstructure:"items_field"`
	NextCursorField string `mapstructure:"next_cursor_field"`
	HasNextField    string `mapstructure:"has_next_field"`
	CursorParam     string `mapstructure:"cursor_param"`
	PageSizeParam   string `mapstructure:"page_size_param"`
}

type ExportConfig struct {
	Format       string `mapstructure:"format"` // json or xml
	CountField   string `mapstructure:"count_field"`
	ItemsField   string `mapstructure:"items_field"`
	ItemElement  string `mapstructure:"item_element"`
	ReplayKey    string `mapstructure:"replay_key"`
	KeepArchives int    `mapstructure:"keep_archives"`
}

type IDRange struct {
	From int `mapstructure:"from"`
	To   int `mapstructure:"to"`
}

type SearchConfig struct {
	Terms         []string  `mapstructure:"terms"`
	IDRanges      []IDRange `mapstructure:"id_ranges"`
	TermParam     string    `mapstructure:"term_param"`
	IDParam       string    `mapstructure:"id_param"`
	OffsetParam   string    `mapstructure:"offset_param"`
	PageSizeParam string    `mapstructure:"page_size_param"`
	ItemsField    string    `mapstructure:"items_field"`
	TotalField    string    `mapstructure:"total_field"`
}

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

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/catalog.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "catalog-exports")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "catalog.raw-records")
	v.SetDefault("kafka.group_id", "catalog-normalizer")
	v.SetDefault("ingest.window_size", 5000)
	v.SetDefault("ingest.chunk_size", 2000)
	v.SetDefault("ingest.shrink_factor", 10)
	v.SetDefault("ingest.min_chunk", 1)
	v.SetDefault("ingest.snapshot_page_size", 5000)
	v.SetDefault("ingest.parallelism", 4)
	v.SetDefault("ingest.batch_lease", "2m")
	v.SetDefault("normalize.mappings_path", "./configs/mappings.yaml")
	v.SetDefault("normalize.page_size", 1000)
	v.SetDefault("pricing.default_margin_percent", 30)
	v.SetDefault("pricing.default_round_to", 10)
	v.SetDefault("pricing.default_fee_rate", 0.10)
	v.SetDefault("pricing.workers", 8)
	v.SetDefault("pricing.page_size", 1000)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets come from the environment.
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range cfg.Suppliers {
		applySupplierDefaults(&cfg.Suppliers[i])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applySupplierDefaults(s *SupplierConfig) {
	if s.PageSize <= 0 {
		s.PageSize = 100
	}
	if s.MinInterval <= 0 {
		s.MinInterval = 500 * time.Millisecond
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.IDField == "" {
		s.IDField = "id"
	}
	if s.APIKeyHeader == "" {
		s.APIKeyHeader = "Authorization"
	}
	if s.Retry.MaxAttempts <= 0 {
		s.Retry.MaxAttempts = 3
	}
	if s.Retry.BaseDelay <= 0 {
		s.Retry.BaseDelay = time.Second
	}
	if s.Retry.MaxDelay <= 0 {
		s.Retry.MaxDelay = 30 * time.Second
	}

	c := &s.Cursor
	c.ItemsField = orDefault(c.ItemsField, "items")
	c.NextCursorField = orDefault(c.NextCursorField, "next_cursor")
	c.HasNextField = orDefault(c.HasNextField, "has_next")
	c.CursorParam = orDefault(c.CursorParam, "cursor")
	c.PageSizeParam = orDefault(c.PageSizeParam, "page_size")

	e := &s.Export
	e.Format = orDefault(e.Format, "json")
	e.CountField = orDefault(e.CountField, "declared_item_count")
	e.ItemsField = orDefault(e.ItemsField, "items")
	e.ItemElement = orDefault(e.ItemElement, "product")

	q := &s.Search
	q.TermParam = orDefault(q.TermParam, "q")
	q.IDParam = orDefault(q.IDParam, "id")
	q.OffsetParam = orDefault(q.OffsetParam, "offset")
	q.PageSizeParam = orDefault(q.PageSizeParam, "page_size")
	q.ItemsField = orDefault(q.ItemsField, "items")
	q.TotalField = orDefault(q.TotalField, "total_count")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Validate checks supplier entries for duplicates and unknown transports.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Suppliers))
	var errs []error
	for _, s := range c.Suppliers {
		if s.Code == "" {
			errs = append(errs, errors.New("supplier with empty code"))
			continue
		}
		if seen[s.Code] {
			errs = append(errs, fmt.Errorf("supplier %q declared twice", s.Code))
		}
		seen[s.Code] = true
		switch s.Transport {
		case TransportCursor, TransportExport, TransportSearch:
		default:
			errs = append(errs, fmt.Errorf("supplier %q: unknown transport %q", s.Code, s.Transport))
		}
	}
	return errors.Join(errs...)
}

// Supplier returns the configuration for a supplier code.
func (c *Config) Supplier(code string) (*SupplierConfig, bool) {
	for i := range c.Suppliers {
		if c.Suppliers[i].Code == code {
			return &c.Suppliers[i], true
		}
	}
	return nil, false
}
