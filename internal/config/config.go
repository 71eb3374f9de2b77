package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Kroger    KrogerConfig    `yaml:"kroger" mapstructure:"kroger"`
	Target    TargetConfig    `yaml:"target" mapstructure:"target"`
	Meijer    MeijerConfig    `yaml:"meijer" mapstructure:"meijer"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for the extraction pipeline.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// KrogerConfig holds Kroger product API settings.
type KrogerConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// TargetConfig holds Target search API settings.
type TargetConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// MeijerConfig holds Meijer storefront search settings.
type MeijerConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// CrawlConfig holds the markdown crawl service settings used by
// content-extraction sources.
type CrawlConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`
}

// SourceConfig is the per-source tuning surface. Durations are milliseconds.
// A zero field in an override falls back to the defaults tier.
type SourceConfig struct {
	TimeoutMs         int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelayMs  int     `yaml:"retry_base_delay_ms" mapstructure:"retry_base_delay_ms"`
	CacheTTLMs        int     `yaml:"cache_ttl_ms" mapstructure:"cache_ttl_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MinIntervalMs     int     `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	CooldownMs        int     `yaml:"cooldown_ms" mapstructure:"cooldown_ms"`
	CooldownThreshold int     `yaml:"cooldown_threshold" mapstructure:"cooldown_threshold"`
}

// SourcesConfig holds the defaults tier plus per-source overrides keyed by
// source name.
type SourcesConfig struct {
	UserAgent string                  `yaml:"user_agent" mapstructure:"user_agent"`
	Defaults  SourceConfig            `yaml:"defaults" mapstructure:"defaults"`
	Overrides map[string]SourceConfig `yaml:"overrides" mapstructure:"overrides"`
}

// For returns the effective tuning for one source: overrides layered on the
// defaults, field by field.
func (s SourcesConfig) For(name string) SourceConfig {
	cfg := s.Defaults
	ov, ok := s.Overrides[name]
	if !ok {
		return cfg
	}
	if ov.TimeoutMs > 0 {
		cfg.TimeoutMs = ov.TimeoutMs
	}
	if ov.MaxRetries > 0 {
		cfg.MaxRetries = ov.MaxRetries
	}
	if ov.RetryBaseDelayMs > 0 {
		cfg.RetryBaseDelayMs = ov.RetryBaseDelayMs
	}
	if ov.CacheTTLMs > 0 {
		cfg.CacheTTLMs = ov.CacheTTLMs
	}
	if ov.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = ov.RequestsPerSecond
	}
	if ov.MinIntervalMs > 0 {
		cfg.MinIntervalMs = ov.MinIntervalMs
	}
	if ov.CooldownMs > 0 {
		cfg.CooldownMs = ov.CooldownMs
	}
	if ov.CooldownThreshold > 0 {
		cfg.CooldownThreshold = ov.CooldownThreshold
	}
	return cfg
}

// ExtractConfig configures the extraction pipeline.
type ExtractConfig struct {
	MaxRepairBlocks     int     `yaml:"max_repair_blocks" mapstructure:"max_repair_blocks"`
	MaxResults          int     `yaml:"max_results" mapstructure:"max_results"`
	MinKeepRatio        float64 `yaml:"min_keep_ratio" mapstructure:"min_keep_ratio"`
	LLMTimeoutMs        int     `yaml:"llm_timeout_ms" mapstructure:"llm_timeout_ms"`
	FullPageMaxProducts int     `yaml:"full_page_max_products" mapstructure:"full_page_max_products"`
}

// BatchConfig configures the daily batch run.
type BatchConfig struct {
	ChunkSize       int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`
	ErrorThreshold  int     `yaml:"error_threshold" mapstructure:"error_threshold"`
	FlushBatchSize  int     `yaml:"flush_batch_size" mapstructure:"flush_batch_size"`
	MinSuccessRatio float64 `yaml:"min_success_ratio" mapstructure:"min_success_ratio"`
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
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default empty so their env keys bind.
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.database_url", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("kroger.token", "")
	v.SetDefault("kroger.base_url", "")
	v.SetDefault("target.api_key", "")
	v.SetDefault("target.base_url", "")
	v.SetDefault("meijer.base_url", "")
	v.SetDefault("crawl.base_url", "")
	v.SetDefault("crawl.token", "")
	v.SetDefault("sources.user_agent", "pricewatch/1.0")
	v.SetDefault("sources.defaults.timeout_ms", 10000)
	v.SetDefault("sources.defaults.max_retries", 2)
	v.SetDefault("sources.defaults.retry_base_delay_ms", 500)
	v.SetDefault("sources.defaults.cache_ttl_ms", 1800000)
	v.SetDefault("sources.defaults.requests_per_second", 1)
	v.SetDefault("sources.defaults.min_interval_ms", 200)
	v.SetDefault("sources.defaults.cooldown_ms", 60000)
	v.SetDefault("sources.defaults.cooldown_threshold", 3)
	v.SetDefault("extract.max_repair_blocks", 4)
	v.SetDefault("extract.max_results", 10)
	v.SetDefault("extract.min_keep_ratio", 0.34)
	v.SetDefault("extract.llm_timeout_ms", 20000)
	v.SetDefault("extract.full_page_max_products", 5)
	v.SetDefault("batch.chunk_size", 10)
	v.SetDefault("batch.concurrency", 2)
	v.SetDefault("batch.error_threshold", 3)
	v.SetDefault("batch.flush_batch_size", 50)
	v.SetDefault("batch.min_success_ratio", 0.2)

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
