package models

import (
	"fmt"
	"strings"
)

// Supported database types for generation sources.
var SupportedDatabaseTypes = []string{"mysql", "postgresql", "sqlserver"}

// Supported training data output formats.
var SupportedOutputFormats = []string{"alpaca", "sharegpt"}

// DatabaseConfig describes the source database the backend samples schemas from
type DatabaseConfig struct {
	Type     string `json:"type" yaml:"type"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
}

// LLMConfig describes the model endpoint used for sample generation
type LLMConfig struct {
	APIBase     string  `json:"api_base" yaml:"api_base"`
	APIKey      string  `json:"api_key" yaml:"api_key"`
	ModelName   string  `json:"model_name" yaml:"model_name"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Timeout     int     `json:"timeout" yaml:"timeout"`
	MaxRetries  int     `json:"max_retries" yaml:"max_retries"`
}

// GenerateConfig controls the size and shape of the generated dataset
type GenerateConfig struct {
	TotalSamples      int    `json:"total_samples" yaml:"total_samples"`
	Dialect           string `json:"dialect" yaml:"dialect"`
	OutputPath        string `json:"output_path" yaml:"output_path"`
	OutputFormat      string `json:"output_format" yaml:"output_format"`
	EnableValidation  bool   `json:"enable_validation" yaml:"enable_validation"`
	MinTablesPerTopic int    `json:"min_tables_per_topic" yaml:"min_tables_per_topic"`
	MaxTablesPerTopic int    `json:"max_tables_per_topic" yaml:"max_tables_per_topic"`
}

// TaskConfig is the full configuration submitted once per generation run
type TaskConfig struct {
	DB       DatabaseConfig `json:"db" yaml:"db"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Generate GenerateConfig `json:"generate" yaml:"generate"`
}

// Redacted returns a copy safe for persistence and logging (no password)
func (c DatabaseConfig) Redacted() DatabaseConfig {
	c.Password = ""
	return c
}

// Redacted returns a copy safe for persistence and logging (no API key)
func (c LLMConfig) Redacted() LLMConfig {
	c.APIKey = ""
	return c
}

// Validate checks the database section for submission
func (c DatabaseConfig) Validate() error {
	if !contains(SupportedDatabaseTypes, c.Type) {
		return fmt.Errorf("db.type must be one of %s, got %q", strings.Join(SupportedDatabaseTypes, ", "), c.Type)
	}
	if c.Host == "" {
		return fmt.Errorf("db.host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("db.port must be between 1 and 65535, got %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("db.user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("db.database is required")
	}
	// Password may legitimately be empty (e.g. local dev databases)
	return nil
}

// Validate checks the LLM section for submission
func (c LLMConfig) Validate() error {
	if c.APIBase == "" {
		return fmt.Errorf("llm.api_base is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be in [0,1], got %g", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("llm.top_p must be in [0,1], got %g", c.TopP)
	}
	return nil
}

// Validate checks the generation section for submission
func (c GenerateConfig) Validate() error {
	if c.TotalSamples < 1 {
		return fmt.Errorf("generate.total_samples must be >= 1, got %d", c.TotalSamples)
	}
	if !contains(SupportedOutputFormats, c.OutputFormat) {
		return fmt.Errorf("generate.output_format must be one of %s, got %q", strings.Join(SupportedOutputFormats, ", "), c.OutputFormat)
	}
	if c.MinTablesPerTopic > 0 && c.MaxTablesPerTopic > 0 && c.MinTablesPerTopic > c.MaxTablesPerTopic {
		return fmt.Errorf("generate.min_tables_per_topic (%d) exceeds max_tables_per_topic (%d)",
			c.MinTablesPerTopic, c.MaxTablesPerTopic)
	}
	return nil
}

// Validate is the submittability gate: a TaskConfig that fails here must
// never be sent to the backend or open an event stream.
func (c TaskConfig) Validate() error {
	if err := c.DB.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	return c.Generate.Validate()
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
