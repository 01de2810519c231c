package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Processor ProcessorConfig `yaml:"processor"`
	Server    ServerConfig    `yaml:"server"`
	UI        UIConfig        `yaml:"ui"`
}

type LLMConfig struct {
	Provider        string        `yaml:"provider"`
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	MaxTokens       int           `yaml:"max_tokens"`
	Temperature     float64       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
	SystemTemplate  string        `yaml:"system_template"`
	ContextTemplate string        `yaml:"context_template"`
}

type EmbeddingConfig struct {
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

type IndexConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
	TableName   string `yaml:"table_name"`
}

type RetrievalConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

type ScraperConfig struct {
	MaxURLs   int           `yaml:"max_urls"`
	RateLimit float64       `yaml:"rate_limit"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type ProcessorConfig struct {
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Separators   []string `yaml:"separators"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type UIConfig struct {
	Streaming bool `yaml:"streaming"`
}

func LoadConfig(path string) (*Config, error) {
	// .env is optional, real environment variables win over it
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/newsdesk/config.yaml"),
			"/etc/newsdesk/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Keys absent from the file keep their preset value
	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(config)

	// Apply defaults for unset values
	applyDefaults(config)

	return config, nil
}

// newConfig presets the settings where zero is a valid value.
func newConfig() *Config {
	return &Config{
		LLM:       LLMConfig{Temperature: 0.9},
		Processor: ProcessorConfig{ChunkOverlap: 150},
	}
}

func getDefaultConfig() (*Config, error) {
	config := newConfig()
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

// Default returns a configuration with every default applied and no
// environment merged in.
func Default() *Config {
	config := newConfig()
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = ProviderOpenAI
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == ProviderOllama {
			config.LLM.Model = "mistral"
		} else {
			config.LLM.Model = "gpt-3.5-turbo"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 500
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 120 * time.Second
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == ProviderOllama {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.Model == "" {
		if config.LLM.Provider == ProviderOllama {
			config.Embedding.Model = "nomic-embed-text:latest"
		} else {
			config.Embedding.Model = "text-embedding-3-small"
		}
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 100
	}
	if config.Embedding.Timeout == 0 {
		config.Embedding.Timeout = 60 * time.Second
	}

	if config.Index.Backend == "" {
		config.Index.Backend = BackendSQLite
	}
	if config.Index.Path == "" {
		config.Index.Path = "newsdesk_index.db"
	}
	if config.Index.TableName == "" {
		config.Index.TableName = "news_segments"
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 3
	}

	if config.Scraper.MaxURLs == 0 {
		config.Scraper.MaxURLs = 3
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}
	if config.Scraper.UserAgent == "" {
		config.Scraper.UserAgent = "newsdesk/1.0 (+https://github.com/xhad/newsdesk)"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if len(config.Processor.Separators) == 0 {
		config.Processor.Separators = []string{"\n\n", "\n", ".", ","}
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = apiKey
	}
	switch config.LLM.Provider {
	case ProviderOllama:
		if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
			config.LLM.BaseURL = baseURL
		}
	default:
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			config.LLM.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Index.DatabaseURL = dbURL
	}
	if indexPath := os.Getenv("NEWSDESK_INDEX_PATH"); indexPath != "" {
		config.Index.Path = indexPath
	}
}
