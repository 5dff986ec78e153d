// Package config содержит логику чтения конфигурации сервиса комиссий.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса комиссий.
type Config struct {
	RunAddress             string `env:"RUN_ADDRESS"`
	DatabaseURI            string `env:"DATABASE_URI"`
	AffiliateSystemAddress string `env:"AFFILIATE_SYSTEM_ADDRESS"`
	AffiliateAccessToken   string `env:"AFFILIATE_ACCESS_TOKEN"`
	AdminKey               string `env:"ADMIN_API_KEY"`
	CommerceWebhookSecret  string `env:"COMMERCE_WEBHOOK_SECRET"`
	ProProductID           string `env:"PRO_PRODUCT_ID"`
	EliteProductID         string `env:"ELITE_PRODUCT_ID"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Секреты (ключ администратора, токен партнёрского сервиса, секрет вебхука)
// задаются только через окружение.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAffiliateAddress := cfg.AffiliateSystemAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AffiliateSystemAddress, "r", "", "affiliate system address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAffiliateAddress != "" {
		cfg.AffiliateSystemAddress = envAffiliateAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
