// Package config содержит логику чтения конфигурации сервиса комиссионных выплат.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress       string
	DatabaseURI      string
	AuthSecret       string
	WebhookURL       string
	RedisAddr        string
	RedisStream      string
	LogLevel         string
	FaucetEnabled    bool
	DispatchInterval time.Duration
}

// envConfig хранит значения окружения. nil означает, что переменная не задана.
type envConfig struct {
	RunAddress       *string        `env:"RUN_ADDRESS"`
	DatabaseURI      *string        `env:"DATABASE_URI"`
	AuthSecret       *string        `env:"AUTH_SECRET"`
	WebhookURL       *string        `env:"WEBHOOK_URL"`
	RedisAddr        *string        `env:"REDIS_ADDR"`
	RedisStream      *string        `env:"REDIS_STREAM"`
	LogLevel         *string        `env:"LOG_LEVEL"`
	FaucetEnabled    *bool          `env:"FAUCET_ENABLED"`
	DispatchInterval *time.Duration `env:"DISPATCH_INTERVAL"`
}

const (
	defaultRunAddress       = "localhost:8080"
	defaultRedisStream      = "redio:events"
	defaultLogLevel         = "info"
	defaultDispatchInterval = time.Second
)

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing session tokens")
	flag.StringVar(&cfg.WebhookURL, "w", "", "webhook URL for event delivery")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "redis address for the event stream")
	flag.StringVar(&cfg.RedisStream, "stream", defaultRedisStream, "redis stream name")
	flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")
	flag.BoolVar(&cfg.FaucetEnabled, "faucet", false, "enable test token faucet")
	flag.DurationVar(&cfg.DispatchInterval, "i", defaultDispatchInterval, "event dispatch interval")

	flag.Parse()

	override(&cfg.RunAddress, envCfg.RunAddress)
	override(&cfg.DatabaseURI, envCfg.DatabaseURI)
	override(&cfg.AuthSecret, envCfg.AuthSecret)
	override(&cfg.WebhookURL, envCfg.WebhookURL)
	override(&cfg.RedisAddr, envCfg.RedisAddr)
	override(&cfg.RedisStream, envCfg.RedisStream)
	override(&cfg.LogLevel, envCfg.LogLevel)
	override(&cfg.FaucetEnabled, envCfg.FaucetEnabled)
	override(&cfg.DispatchInterval, envCfg.DispatchInterval)

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.RedisStream == "" {
		cfg.RedisStream = defaultRedisStream
	}
	if cfg.DispatchInterval <= 0 {
		return nil, fmt.Errorf("dispatch interval must be positive, got %s", cfg.DispatchInterval)
	}

	return cfg, nil
}

func override[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
