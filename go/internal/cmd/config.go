package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/holyword/trivia/go/internal/battle"
	"github.com/holyword/trivia/go/internal/challenge"
	"github.com/holyword/trivia/go/internal/match"
	"github.com/holyword/trivia/go/internal/notify"
)

// Config is the application configuration file.
type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Match     match.Config     `yaml:"match"`
	Battle    battle.Config    `yaml:"battle"`
	Challenge challenge.Config `yaml:"challenge"`
	Notify    notify.Config    `yaml:"notify"`
}

func defaultConfig() *Config {
	cfg := &Config{
		Match:     match.DefaultConfig(),
		Battle:    battle.DefaultConfig(),
		Challenge: challenge.DefaultConfig(),
		Notify:    notify.DefaultConfig(),
	}
	cfg.Server.Port = getEnv("PORT", "8080")
	cfg.Server.AllowedOrigins = []string{"*"}
	return cfg
}

// loadConfig reads the yaml config file, falling back to defaults when the
// file does not exist.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = getEnv("PORT", "8080")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
