package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	DatabaseURL    string   `yaml:"databaseURL"`
	RedisAddr      string   `yaml:"redisAddr"`
	RedisPassword  string   `yaml:"redisPassword"`
	TrustedProxies []string `yaml:"trustedProxies"`

	TenantConfigPath string   `yaml:"tenantConfigPath"`
	DefaultTenantID  string   `yaml:"defaultTenantID"`
	DefaultSources   []string `yaml:"defaultSources"`
	AllowedProfiles  []string `yaml:"allowedProfiles"`

	Generation GenerationConfig `yaml:"generation"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`

	TopK              int `yaml:"topK"`
	HistoryLimit      int `yaml:"historyLimit"`
	ChunkSize         int `yaml:"chunkSize"`
	ChunkOverlap      int `yaml:"chunkOverlap"`
	MaxQuestionLength int `yaml:"maxQuestionLength"`

	RateLimitMaxRequests int `yaml:"rateLimitMaxRequests"`
	RateLimitWindowSecs  int `yaml:"rateLimitWindowSeconds"`

	IndexOnStartup  bool `yaml:"indexOnStartup"`
	WarmupOnStartup bool `yaml:"warmupOnStartup"`

	Queue QueueConfig `yaml:"queue"`
	Minio MinioConfig `yaml:"minio"`
}

// GenerationConfig configures the chat model endpoint.
type GenerationConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"baseURL"`
	APIKey    string `yaml:"apiKey"`
	Model     string `yaml:"model"`
	MiniModel string `yaml:"miniModel"`
}

// EmbeddingConfig configures the embedding endpoint.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	BaseURL    string `yaml:"baseURL"`
	APIKey     string `yaml:"apiKey"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// QueueConfig configures the reindex job queue.
type QueueConfig struct {
	Stream      string `yaml:"stream"`
	Group       string `yaml:"group"`
	Concurrency int    `yaml:"concurrency"`
}

// MinioConfig configures object storage for s3:// indexing sources.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *FileConfig) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.Generation.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Generation.Model = v
	}
	if v := os.Getenv("LLM_MODEL_MINI"); v != "" {
		cfg.Generation.MiniModel = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("TENANT_CONFIG_PATH"); v != "" {
		cfg.TenantConfigPath = v
	}
	if v := os.Getenv("DEFAULT_TENANT_ID"); v != "" {
		cfg.DefaultTenantID = v
	}
	if v := os.Getenv("DEFAULT_SOURCES"); v != "" {
		cfg.DefaultSources = splitList(v)
	}
	if v := os.Getenv("ALLOWED_PROFILES"); v != "" {
		cfg.AllowedProfiles = splitList(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DefaultTenantID == "" {
		cfg.DefaultTenantID = "pilot"
	}
	if len(cfg.AllowedProfiles) == 0 {
		cfg.AllowedProfiles = []string{"yonetici", "ogretmen", "ogrenci"}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 150
	}
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = 4000
	}
	if cfg.RateLimitMaxRequests <= 0 {
		cfg.RateLimitMaxRequests = 20
	}
	if cfg.RateLimitWindowSecs <= 0 {
		cfg.RateLimitWindowSecs = 60
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Dimensions <= 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Queue.Stream == "" {
		cfg.Queue.Stream = "rehberai:reindex"
	}
	if cfg.Queue.Group == "" {
		cfg.Queue.Group = "indexer"
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 1
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.Generation.Model == "" {
		return errors.New("config: generation.model is required (set in config.yaml or LLM_MODEL)")
	}
	if cfg.Embedding.Model == "" {
		return errors.New("config: embedding.model is required (set in config.yaml or EMBEDDING_MODEL)")
	}
	switch cfg.Generation.Provider {
	case "openai":
	default:
		return fmt.Errorf("config: unsupported generation provider %q", cfg.Generation.Provider)
	}
	switch cfg.Embedding.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("config: unsupported embedding provider %q", cfg.Embedding.Provider)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
