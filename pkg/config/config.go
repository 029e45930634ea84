package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL              string        `yaml:"base_url"`
		GenerationModel      string        `yaml:"generation_model"`
		FastModel            string        `yaml:"fast_model"`
		EmbeddingModel       string        `yaml:"embedding_model"`
		MaxTokens            int           `yaml:"max_tokens"`
		Temperature          float64       `yaml:"temperature"`
		ReformulationTimeout time.Duration `yaml:"reformulation_timeout"`
	} `yaml:"llm"`

	Embedder struct {
		BatchSize  int           `yaml:"batch_size"`
		MaxRetries int           `yaml:"max_retries"`
		BaseDelay  time.Duration `yaml:"base_delay"`
		MaxDelay   time.Duration `yaml:"max_delay"`
		RatePerSec float64       `yaml:"rate_per_sec"`
	} `yaml:"embedder"`

	Database struct {
		URL       string `yaml:"url"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Chunker struct {
		MinTokens     int `yaml:"min_tokens"`
		MaxTokens     int `yaml:"max_tokens"`
		OverlapTokens int `yaml:"overlap_tokens"`
	} `yaml:"chunker"`

	Search struct {
		Limit     int     `yaml:"limit"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"search"`

	Cache struct {
		ResponseTTL  time.Duration `yaml:"response_ttl"`
		EmbeddingTTL time.Duration `yaml:"embedding_ttl"`
	} `yaml:"cache"`

	Session struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"session"`

	Stream struct {
		MinChunkBytes int           `yaml:"min_chunk_bytes"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"stream"`

	Context struct {
		MaxTokens int `yaml:"max_tokens"`
	} `yaml:"context"`

	UI struct {
		Streaming bool `yaml:"streaming"`
	} `yaml:"ui"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/dealwise/config.yaml"),
			"/etc/dealwise/config.yaml",
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
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.GenerationModel == "" {
		config.LLM.GenerationModel = "llama3.1"
	}
	if config.LLM.FastModel == "" {
		config.LLM.FastModel = "llama3.2:1b"
	}
	if config.LLM.EmbeddingModel == "" {
		config.LLM.EmbeddingModel = "nomic-embed-text:latest"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.ReformulationTimeout == 0 {
		config.LLM.ReformulationTimeout = 3 * time.Second
	}

	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 16
	}
	if config.Embedder.MaxRetries == 0 {
		config.Embedder.MaxRetries = 3
	}
	if config.Embedder.BaseDelay == 0 {
		config.Embedder.BaseDelay = 500 * time.Millisecond
	}
	if config.Embedder.MaxDelay == 0 {
		config.Embedder.MaxDelay = 8 * time.Second
	}
	if config.Embedder.RatePerSec == 0 {
		config.Embedder.RatePerSec = 2.0
	}

	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Redis.Addr == "" {
		config.Redis.Addr = "localhost:6379"
	}

	if config.Chunker.MinTokens == 0 {
		config.Chunker.MinTokens = 64
	}
	if config.Chunker.MaxTokens == 0 {
		config.Chunker.MaxTokens = 512
	}
	if config.Chunker.OverlapTokens == 0 {
		config.Chunker.OverlapTokens = 64
	}

	if config.Search.Limit == 0 {
		config.Search.Limit = 5
	}
	if config.Search.Threshold == 0 {
		config.Search.Threshold = 0.35
	}

	if config.Cache.ResponseTTL == 0 {
		config.Cache.ResponseTTL = time.Hour
	}
	if config.Cache.EmbeddingTTL == 0 {
		config.Cache.EmbeddingTTL = 7 * 24 * time.Hour
	}

	if config.Session.TTL == 0 {
		config.Session.TTL = 30 * time.Minute
	}

	if config.Stream.MinChunkBytes == 0 {
		config.Stream.MinChunkBytes = 80
	}
	if config.Stream.FlushInterval == 0 {
		config.Stream.FlushInterval = 1500 * time.Millisecond
	}

	if config.Context.MaxTokens == 0 {
		config.Context.MaxTokens = 3000
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		config.Redis.Addr = redisAddr
	}
}
