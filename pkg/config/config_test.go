package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/newsdesk/internal/types"
)

func TestLoadConfig(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  provider: "openai"
  api_key: "sk-test"
  model: "gpt-4o-mini"
  max_tokens: 1000
  temperature: 0.5
  timeout: 45s

embedding:
  model: "text-embedding-3-large"
  dimensions: 3072
  batch_size: 50

index:
  backend: "postgres"
  database_url: "postgres://localhost:5432/test"
  table_name: "test_segments"

retrieval:
  top_k: 4
  min_score: 0.2

scraper:
  max_urls: 5
  rate_limit: 1.5
  timeout: 10s

processor:
  chunk_size: 500
  chunk_overlap: 100
  separators: ["\n\n", "."]

ui:
  streaming: true
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, "sk-test", config.LLM.APIKey)
	assert.Equal(t, "gpt-4o-mini", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, 45*time.Second, config.LLM.Timeout)
	assert.Equal(t, 3072, config.Embedding.Dimensions)
	assert.Equal(t, BackendPostgres, config.Index.Backend)
	assert.Equal(t, "test_segments", config.Index.TableName)
	assert.Equal(t, 4, config.Retrieval.TopK)
	assert.Equal(t, 5, config.Scraper.MaxURLs)
	assert.Equal(t, 10*time.Second, config.Scraper.Timeout)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, []string{"\n\n", "."}, config.Processor.Separators)
	assert.True(t, config.UI.Streaming)

	// Defaults still fill the gaps
	assert.Equal(t, "newsdesk_index.db", config.Index.Path)
	assert.Equal(t, ":8080", config.Server.Addr)
}

func TestDefaults(t *testing.T) {
	config := Default()

	assert.Equal(t, ProviderOpenAI, config.LLM.Provider)
	assert.Equal(t, 1000, config.Processor.ChunkSize)
	assert.Equal(t, 150, config.Processor.ChunkOverlap)
	assert.Equal(t, []string{"\n\n", "\n", ".", ","}, config.Processor.Separators)
	assert.Equal(t, 3, config.Retrieval.TopK)
	assert.Equal(t, 3, config.Scraper.MaxURLs)
	assert.Equal(t, 500, config.LLM.MaxTokens)
	assert.Equal(t, 0.9, config.LLM.Temperature)
	assert.Equal(t, BackendSQLite, config.Index.Backend)
}

func TestOllamaDefaults(t *testing.T) {
	config := &Config{LLM: LLMConfig{Provider: ProviderOllama}}
	applyDefaults(config)

	assert.Equal(t, "mistral", config.LLM.Model)
	assert.Equal(t, "nomic-embed-text:latest", config.Embedding.Model)
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Empty(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	valid := Default()
	valid.LLM.APIKey = "sk-test"

	invalid := Default()
	invalid.LLM.BaseURL = "invalid-url"
	invalid.LLM.MaxTokens = 5000
	invalid.LLM.Temperature = 3.0
	invalid.Index.Backend = BackendPostgres
	invalid.Index.DatabaseURL = ""

	tests := []struct {
		name          string
		config        *Config
		expectedErrs  int
		errorMessages []string
	}{
		{
			name:         "valid config",
			config:       valid,
			expectedErrs: 0,
		},
		{
			name:         "invalid config",
			config:       invalid,
			expectedErrs: 5, // Including missing API key
			errorMessages: []string{
				"llm.api_key: API key is required",
				"llm.base_url: invalid base URL",
				"max_tokens: max_tokens must be between 1 and 4096",
				"temperature: temperature must be between 0 and 2",
				"index.database_url: invalid database URL",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errors := tt.config.Validate()
			assert.Len(t, errors, tt.expectedErrs)

			if tt.errorMessages != nil {
				for i, msg := range tt.errorMessages {
					assert.Contains(t, errors[i].Error(), msg)
				}
			}
		})
	}
}

func TestMissingCredentialIsFatal(t *testing.T) {
	config := Default()

	err := config.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMissingCredential))

	config.LLM.APIKey = "sk-test"
	assert.NoError(t, config.Err())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("NEWSDESK_INDEX_PATH", "/tmp/env-index.db")

	config := &Config{LLM: LLMConfig{Provider: ProviderOllama}}
	mergeWithEnv(config)

	assert.Equal(t, "sk-env", config.LLM.APIKey)
	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Index.DatabaseURL)
	assert.Equal(t, "/tmp/env-index.db", config.Index.Path)
}

func TestFileAPIKeyWinsOverEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	config := &Config{LLM: LLMConfig{APIKey: "sk-file"}}
	mergeWithEnv(config)

	assert.Equal(t, "sk-file", config.LLM.APIKey)
}

func TestExplicitZeroIsKept(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configData := `
llm:
  api_key: "sk-test"
  temperature: 0

processor:
  chunk_overlap: 0
`
	require.NoError(t, os.WriteFile(configPath, []byte(configData), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 0.0, config.LLM.Temperature)
	assert.Equal(t, 0, config.Processor.ChunkOverlap)
	assert.Empty(t, config.Validate())
}

func TestOmittedKeysKeepDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  api_key: \"sk-test\"\n"), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 0.9, config.LLM.Temperature)
	assert.Equal(t, 150, config.Processor.ChunkOverlap)
}
