// Package config loads the mixing configuration from mixing.yml plus
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the connection settings for all three backends.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Elastic  ElasticConfig  `mapstructure:"elastic"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig configures the relational backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// ElasticConfig configures the search backend.
type ElasticConfig struct {
	Host            string `mapstructure:"host"`
	SlowThresholdMS int    `mapstructure:"slow_threshold_ms"`
}

// MongoConfig configures the document backend.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads mixing.yml from the working directory, applying defaults and
// MIXING_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("database.driver", "pgx")
	v.SetDefault("elastic.host", "http://localhost:9200")
	v.SetDefault("elastic.slow_threshold_ms", 500)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "mixing")
	v.SetDefault("logging.level", "info")

	v.SetConfigName("mixing")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MIXING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

// GetDatabaseURL returns the database URL, preferring the DATABASE_URL
// environment variable over the config file.
func GetDatabaseURL(config *Config) string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return config.Database.URL
}
