package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/taxonomy-cli/internal/engine"
	"github.com/sells-group/taxonomy-cli/internal/graph"
	"github.com/sells-group/taxonomy-cli/internal/maintenance"
	"github.com/sells-group/taxonomy-cli/internal/resilience"
	"github.com/sells-group/taxonomy-cli/internal/store"
	"github.com/sells-group/taxonomy-cli/internal/taxonomy"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig        `yaml:"store" mapstructure:"store"`
	Taxonomy TaxonomyConfig     `yaml:"taxonomy" mapstructure:"taxonomy"`
	Retry    RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Graph    GraphConfig        `yaml:"graph" mapstructure:"graph"`
	Neo4j    graph.Neo4jConfig  `yaml:"neo4j" mapstructure:"neo4j"`
	Temporal maintenance.Config `yaml:"temporal" mapstructure:"temporal"`
	Server   ServerConfig       `yaml:"server" mapstructure:"server"`
	Log      LogConfig          `yaml:"log" mapstructure:"log"`
	Import   ImportConfig       `yaml:"import" mapstructure:"import"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string           `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// TaxonomyConfig tunes normalization and promotion.
type TaxonomyConfig struct {
	CorrectionThreshold int           `yaml:"correction_threshold" mapstructure:"correction_threshold"`
	GapThreshold        int           `yaml:"gap_threshold" mapstructure:"gap_threshold"`
	PromotionThreshold  int           `yaml:"promotion_threshold" mapstructure:"promotion_threshold"`
	MaxValueLength      int           `yaml:"max_value_length" mapstructure:"max_value_length"`
	MaxTextLength       int           `yaml:"max_text_length" mapstructure:"max_text_length"`
	SnapshotTTL         time.Duration `yaml:"snapshot_ttl" mapstructure:"snapshot_ttl"`
}

// RetryConfig bounds retries of edits that lose a write race.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// GraphConfig configures graph caching.
type GraphConfig struct {
	CacheTTL time.Duration     `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	Redis    graph.RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	EditRate       float64       `yaml:"edit_rate" mapstructure:"edit_rate"`
	EditBurst      int           `yaml:"edit_burst" mapstructure:"edit_burst"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// ImportConfig configures bulk loads.
type ImportConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TAXONOMY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "taxonomy.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("taxonomy.correction_threshold", 2)
	v.SetDefault("taxonomy.gap_threshold", 4)
	v.SetDefault("taxonomy.promotion_threshold", 3)
	v.SetDefault("taxonomy.max_value_length", 512)
	v.SetDefault("taxonomy.max_text_length", 20000)
	v.SetDefault("taxonomy.snapshot_ttl", "30s")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 20)
	v.SetDefault("retry.max_backoff_ms", 500)
	v.SetDefault("graph.cache_ttl", "5m")
	v.SetDefault("graph.redis.addr", "")
	v.SetDefault("graph.redis.password", "")
	v.SetDefault("graph.redis.db", 0)
	v.SetDefault("graph.redis.channel", "")
	v.SetDefault("graph.redis.key", "taxonomy:graph")
	v.SetDefault("graph.redis.ttl", "10m")
	v.SetDefault("graph.redis.breaker_threshold", 3)
	v.SetDefault("graph.redis.breaker_reset_secs", 30)
	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.timeout", "30s")
	v.SetDefault("temporal.host_port", "")
	v.SetDefault("temporal.namespace", maintenance.DefaultNamespace)
	v.SetDefault("temporal.task_queue", maintenance.DefaultTaskQueue)
	v.SetDefault("temporal.schedule_id", maintenance.DefaultScheduleID)
	v.SetDefault("temporal.cron", maintenance.DefaultCron)
	v.SetDefault("temporal.concurrency", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.edit_rate", 5.0)
	v.SetDefault("server.edit_burst", 10)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("import.concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Every problem is
// reported in one error.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	t := c.Taxonomy
	if t.CorrectionThreshold < 1 {
		errs = append(errs, "taxonomy.correction_threshold must be >= 1")
	}
	if t.GapThreshold < t.CorrectionThreshold {
		errs = append(errs, "taxonomy.gap_threshold must be >= correction_threshold")
	}
	if t.PromotionThreshold < 1 {
		errs = append(errs, "taxonomy.promotion_threshold must be >= 1")
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 20 {
		errs = append(errs, "retry.max_attempts must be between 1 and 20")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.EditRate < 0 {
			errs = append(errs, "server.edit_rate must be >= 0")
		}
	case "worker":
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
	case "export":
		if c.Neo4j.URI == "" {
			errs = append(errs, "neo4j.uri is required")
		}
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EngineConfig converts the taxonomy and retry sections for engine.New.
func (c *Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Thresholds = taxonomy.Thresholds{
		Correction: c.Taxonomy.CorrectionThreshold,
		Gap:        c.Taxonomy.GapThreshold,
	}
	if c.Taxonomy.PromotionThreshold > 0 {
		cfg.PromotionThreshold = c.Taxonomy.PromotionThreshold
	}
	if c.Taxonomy.MaxValueLength > 0 {
		cfg.MaxValueLength = c.Taxonomy.MaxValueLength
	}
	if c.Taxonomy.MaxTextLength > 0 {
		cfg.MaxTextLength = c.Taxonomy.MaxTextLength
	}
	if c.Taxonomy.SnapshotTTL > 0 {
		cfg.SnapshotTTL = c.Taxonomy.SnapshotTTL
	}
	cfg.Retry = resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)
	return cfg
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
