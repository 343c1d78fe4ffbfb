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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	OpenRouter OpenRouterConfig `yaml:"openrouter" mapstructure:"openrouter"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// OpenRouterConfig holds OpenRouter API settings.
type OpenRouterConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PipelineConfig configures the batch scoring pipeline.
type PipelineConfig struct {
	LLMBatchSize          int     `yaml:"llm_batch_size" mapstructure:"llm_batch_size"`
	DBBatchSize           int     `yaml:"db_batch_size" mapstructure:"db_batch_size"`
	MaxConcurrentRequests int     `yaml:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`
	MaxRetries            int     `yaml:"max_retries" mapstructure:"max_retries"`
	BaseBackoffMs         int     `yaml:"base_backoff_ms" mapstructure:"base_backoff_ms"`
	MaxBackoffMs          int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	RequestsPerSecond     float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	ScamThreshold         float64 `yaml:"scam_threshold" mapstructure:"scam_threshold"`
}

// FetchConfig configures source collection.
type FetchConfig struct {
	TwitterToken string `yaml:"twitter_token" mapstructure:"twitter_token"`
	QuerySetPath string `yaml:"queryset_path" mapstructure:"queryset_path"`
	MaxResults   int    `yaml:"max_results" mapstructure:"max_results"`
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("SCAMWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.table", "scam_reports")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.timeout_secs", 60)
	v.SetDefault("pipeline.llm_batch_size", 20)
	v.SetDefault("pipeline.db_batch_size", 1000)
	v.SetDefault("pipeline.max_concurrent_requests", 5)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.base_backoff_ms", 1000)
	v.SetDefault("pipeline.max_backoff_ms", 30000)
	v.SetDefault("pipeline.requests_per_second", 1.0)
	v.SetDefault("pipeline.scam_threshold", 0.7)
	v.SetDefault("fetch.queryset_path", "queries.yaml")
	v.SetDefault("fetch.max_results", 100)
	v.SetDefault("fetch.user_agent", "scamwatch/1.0")
	v.SetDefault("server.port", 8080)
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

// Validate checks that everything the named mode needs is present and sane.
// Modes: "run" (full pipeline), "fetch" (source collection), "serve"
// (webhook server). Validation runs once at process start so a missing
// credential fails before any work is dispatched.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "run":
		var missing []string
		if c.OpenRouter.Key == "" {
			missing = append(missing, "openrouter.key")
		}
		if c.OpenRouter.Model == "" {
			missing = append(missing, "openrouter.model")
		}
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
		if len(missing) > 0 {
			return eris.Errorf("config: missing required values: %s", strings.Join(missing, ", "))
		}
		if c.Pipeline.LLMBatchSize <= 0 {
			return eris.New("config: pipeline.llm_batch_size must be positive")
		}
		if c.Pipeline.DBBatchSize <= 0 {
			return eris.New("config: pipeline.db_batch_size must be positive")
		}
		if c.Pipeline.MaxConcurrentRequests <= 0 {
			return eris.New("config: pipeline.max_concurrent_requests must be positive")
		}
		if c.Pipeline.MaxRetries < 0 {
			return eris.New("config: pipeline.max_retries must not be negative")
		}
		if c.Pipeline.ScamThreshold < 0 || c.Pipeline.ScamThreshold > 1 {
			return eris.New("config: pipeline.scam_threshold must be within [0, 1]")
		}
		return nil
	case "fetch":
		if c.Fetch.TwitterToken == "" {
			return eris.New("config: missing required values: fetch.twitter_token")
		}
		return nil
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return eris.Errorf("config: invalid server.port %d", c.Server.Port)
		}
		return c.Validate("run")
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}
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
