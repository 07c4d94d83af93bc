package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/waterfall-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Harvest HarvestConfig `yaml:"harvest" mapstructure:"harvest"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// HarvestConfig configures the harvest pipeline.
type HarvestConfig struct {
	Batches     []BatchConfig `yaml:"batches" mapstructure:"batches"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
}

// BatchConfig pairs a jurisdiction prefix with its KML index URL.
type BatchConfig struct {
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	IndexURL string `yaml:"index_url" mapstructure:"index_url"`
}

// FetchConfig configures outbound HTTP behavior.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PerHostRate float64 `yaml:"per_host_rate" mapstructure:"per_host_rate"`
}

// OutputConfig configures the record sinks.
type OutputConfig struct {
	CSVPath     string `yaml:"csv_path" mapstructure:"csv_path"`
	GeoJSONPath string `yaml:"geojson_path" mapstructure:"geojson_path"`
}

// StoreConfig configures optional record persistence. An empty driver
// disables the store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
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
	v.SetEnvPrefix("WATERFALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("harvest.concurrency", 4)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.per_host_rate", 4)
	v.SetDefault("output.csv_path", "waterfalls.csv")
	v.SetDefault("store.sqlite_path", "waterfalls.db")
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

// Batches converts the configured batches into pipeline inputs.
func (c *Config) Batches() []model.SourceBatch {
	out := make([]model.SourceBatch, 0, len(c.Harvest.Batches))
	for _, b := range c.Harvest.Batches {
		out = append(out, model.SourceBatch{Prefix: b.Prefix, IndexURL: b.IndexURL})
	}
	return out
}

// LoadBatches reads a standalone YAML batches file of the form:
//
//	- prefix: OR
//	  index_url: https://example.com/api/Oregon/getKML
func LoadBatches(path string) ([]model.SourceBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read batches file %s", path)
	}
	var batches []model.SourceBatch
	if err := yaml.Unmarshal(data, &batches); err != nil {
		return nil, eris.Wrapf(err, "config: parse batches file %s", path)
	}
	for i, b := range batches {
		if b.Prefix == "" || b.IndexURL == "" {
			return nil, eris.Errorf("config: batches file entry %d missing prefix or index_url", i)
		}
	}
	return batches, nil
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
