package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/mcdev12/ludus/go/internal/chat"
	"github.com/mcdev12/ludus/go/internal/game/orchestrator"
	"github.com/mcdev12/ludus/go/internal/llm"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config is the YAML-tunable part of the server configuration.
// Infrastructure addresses and secrets come from the environment.
type Config struct {
	Game orchestrator.Config `yaml:"game"`
	Chat chat.Config         `yaml:"chat"`
	LLM  llm.Config          `yaml:"llm"`
}

func defaultConfig() *Config {
	return &Config{
		Game: orchestrator.DefaultConfig(),
		Chat: chat.DefaultConfig(),
		LLM:  llm.DefaultConfig(),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig overlays the YAML file at path on the defaults. A missing file
// leaves the defaults in place.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", path).Msg("no config file, using defaults")
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, nil
}
