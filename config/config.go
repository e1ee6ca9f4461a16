package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Telegram TelegramConfig `yaml:"telegram"`
	Boxberry BoxberryConfig `yaml:"boxberry"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Data     DataConfig     `yaml:"data"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TelegramConfig struct {
	Token         string `yaml:"token"`
	UpdateWorkers int    `yaml:"update_workers"`
}

type BoxberryConfig struct {
	// Если base_url или token пустые, воркер и бот работают с локальным fake-клиентом.
	BaseURL         string `yaml:"base_url"`
	Token           string `yaml:"token"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

type TrackerConfig struct {
	SyncIntervalSeconds int `yaml:"sync_interval_seconds"`
	Concurrency         int `yaml:"concurrency"`
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`
	RateLimitPerMinute  int `yaml:"rate_limit_per_minute"`

	HTTPAddr string `yaml:"http_addr"`
}

type DataConfig struct {
	KeywordsPath     string `yaml:"keywords_path"`
	PricesPath       string `yaml:"prices_path"`
	RestrictionsPath string `yaml:"restrictions_path"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
