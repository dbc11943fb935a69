package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	DatabaseURL       string   `yaml:"databaseURL"`
	ClientOrigin      string   `yaml:"clientOrigin"`
	ElasticAddresses  []string `yaml:"elasticAddresses"`
	ElasticCloudID    string   `yaml:"elasticCloudID"`
	ElasticUsername   string   `yaml:"elasticUsername"`
	ElasticPassword   string   `yaml:"elasticPassword"`
	ElasticIndex      string   `yaml:"elasticIndex"`
	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	OutboxStream      string   `yaml:"outboxStream"`
	OutboxGroup       string   `yaml:"outboxGroup"`
	OutboxConcurrency int      `yaml:"outboxConcurrency"`
	OutboxMaxRetries  int      `yaml:"outboxMaxRetries"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("CLIENT_ORIGIN"); v != "" {
		cfg.ClientOrigin = v
	}
	if v := os.Getenv("ELASTIC_ADDRESSES"); v != "" {
		cfg.ElasticAddresses = splitCSV(v)
	}
	if v := os.Getenv("ELASTIC_CLOUD_ID"); v != "" {
		cfg.ElasticCloudID = v
	}
	if v := os.Getenv("ELASTIC_USERNAME"); v != "" {
		cfg.ElasticUsername = v
	}
	if v := os.Getenv("ELASTIC_PASSWORD"); v != "" {
		cfg.ElasticPassword = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("OUTBOX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OutboxConcurrency = n
		}
	}
	if cfg.OutboxStream == "" {
		cfg.OutboxStream = "bookcatalog:index"
	}
	if cfg.OutboxGroup == "" {
		cfg.OutboxGroup = "index-replay"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	// The search index is a hard dependency: refusing to start beats running
	// with a silently dead index.
	if cfg.ElasticCloudID != "" {
		if cfg.ElasticUsername == "" || cfg.ElasticPassword == "" {
			return errors.New("config: elasticUsername and elasticPassword are required with elasticCloudID")
		}
	} else if len(cfg.ElasticAddresses) == 0 {
		return errors.New("config: elasticAddresses or elasticCloudID is required")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
