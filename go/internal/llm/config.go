package llm

import (
	"os"
	"time"
)

// Config holds the Gemini settings
type Config struct {
	APIKey      string        `yaml:"-"` // Never serialize
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	GradeModel  string        `yaml:"grade_model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultConfig reads the API key and model overrides from the environment
func DefaultConfig() Config {
	model := getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash")
	return Config{
		APIKey:      os.Getenv("GEMINI_API_KEY"),
		BaseURL:     "https://generativelanguage.googleapis.com/v1beta/models",
		Model:       model,
		GradeModel:  getEnvOrDefault("GEMINI_GRADE_MODEL", model),
		Temperature: 0.7,
		MaxTokens:   2048,
		Timeout:     60 * time.Second,
	}
}

// IsEnabled returns true if the Gemini API is configured
func (c Config) IsEnabled() bool {
	return c.APIKey != ""
}

// ModelEndpoint returns the generateContent endpoint for model
func (c Config) ModelEndpoint(model string) string {
	return c.BaseURL + "/" + model + ":generateContent"
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
