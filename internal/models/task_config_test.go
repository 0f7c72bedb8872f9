package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTaskConfig() TaskConfig {
	return TaskConfig{
		DB: DatabaseConfig{
			Type:     "mysql",
			Host:     "localhost",
			Port:     3306,
			User:     "root",
			Password: "secret",
			Database: "sales",
		},
		LLM: LLMConfig{
			APIBase:     "https://api.example.com/v1",
			APIKey:      "sk-test",
			ModelName:   "qwen-max",
			Temperature: 0.7,
			TopP:        0.9,
			MaxTokens:   4096,
			Timeout:     60,
			MaxRetries:  3,
		},
		Generate: GenerateConfig{
			TotalSamples:      100,
			Dialect:           "mysql",
			OutputPath:        "./data/nl2sql.jsonl",
			OutputFormat:      "alpaca",
			EnableValidation:  true,
			MinTablesPerTopic: 3,
			MaxTablesPerTopic: 8,
		},
	}
}

func TestTaskConfigValidate(t *testing.T) {
	t.Run("Should accept a fully populated configuration", func(t *testing.T) {
		require.NoError(t, validTaskConfig().Validate())
	})

	t.Run("Should accept empty database password", func(t *testing.T) {
		cfg := validTaskConfig()
		cfg.DB.Password = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Should reject missing required fields", func(t *testing.T) {
		cases := []struct {
			name   string
			mutate func(*TaskConfig)
		}{
			{"unknown db type", func(c *TaskConfig) { c.DB.Type = "oracle" }},
			{"empty host", func(c *TaskConfig) { c.DB.Host = "" }},
			{"zero port", func(c *TaskConfig) { c.DB.Port = 0 }},
			{"port too large", func(c *TaskConfig) { c.DB.Port = 70000 }},
			{"empty user", func(c *TaskConfig) { c.DB.User = "" }},
			{"empty database", func(c *TaskConfig) { c.DB.Database = "" }},
			{"empty api_base", func(c *TaskConfig) { c.LLM.APIBase = "" }},
			{"empty api_key", func(c *TaskConfig) { c.LLM.APIKey = "" }},
			{"temperature out of range", func(c *TaskConfig) { c.LLM.Temperature = 1.5 }},
			{"negative top_p", func(c *TaskConfig) { c.LLM.TopP = -0.1 }},
			{"zero samples", func(c *TaskConfig) { c.Generate.TotalSamples = 0 }},
			{"unknown output format", func(c *TaskConfig) { c.Generate.OutputFormat = "csv" }},
			{"min tables above max", func(c *TaskConfig) {
				c.Generate.MinTablesPerTopic = 9
				c.Generate.MaxTablesPerTopic = 3
			}},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				cfg := validTaskConfig()
				tc.mutate(&cfg)
				assert.Error(t, cfg.Validate())
			})
		}
	})
}

func TestRedacted(t *testing.T) {
	t.Run("Should strip the database password", func(t *testing.T) {
		cfg := validTaskConfig().DB
		redacted := cfg.Redacted()

		assert.Empty(t, redacted.Password)
		assert.Equal(t, cfg.Host, redacted.Host)
		assert.Equal(t, "secret", cfg.Password, "original must be untouched")
	})

	t.Run("Should strip the API key", func(t *testing.T) {
		cfg := validTaskConfig().LLM
		redacted := cfg.Redacted()

		assert.Empty(t, redacted.APIKey)
		assert.Equal(t, cfg.ModelName, redacted.ModelName)
		assert.Equal(t, "sk-test", cfg.APIKey, "original must be untouched")
	})
}
