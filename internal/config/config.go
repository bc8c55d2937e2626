// Package config provides configuration loading and structs for the shashin server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the YAML file.
const (
	EnvOpenAIAPIKey = "SHASHIN_OPENAI_API_KEY"
	EnvQdrantAPIKey = "SHASHIN_QDRANT_API_KEY"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Index     IndexConfig     `yaml:"index"`
	Scan      ScanConfig      `yaml:"scan"`
	Vector    VectorConfig    `yaml:"vector"`
	CLIP      CLIPConfig      `yaml:"clip"`
	TextEmbed TextEmbedConfig `yaml:"text_embed"`
	OCR       OCRConfig       `yaml:"ocr"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the catalog database and indices.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	VectorDir        string `yaml:"vector_dir"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// IndexConfig controls reconciliation.
type IndexConfig struct {
	BatchSize int  `yaml:"batch_size"`
	DeepScan  bool `yaml:"deep_scan"`
	// Workers bounds fingerprinting and scanning fan-out. Zero means runtime.NumCPU().
	Workers int `yaml:"workers"`
}

// ScanConfig controls how candidate image paths are discovered.
type ScanConfig struct {
	Method             string   `yaml:"method"`
	IncludeDirectories []string `yaml:"include_directories"`
	ExcludeDirectories []string `yaml:"exclude_directories"`
	Extensions         []string `yaml:"extensions"`
	EverythingURL      string   `yaml:"everything_url"`
}

// VectorConfig selects the vector collection backend.
type VectorConfig struct {
	Backend string       `yaml:"backend"`
	Qdrant  QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	APIKey           string `yaml:"api_key"`
	UseTLS           bool   `yaml:"use_tls"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

// CLIPConfig holds settings for the image/text CLIP model.
type CLIPConfig struct {
	Provider        string `yaml:"provider"`
	VisionModelPath string `yaml:"vision_model_path"`
	TextModelPath   string `yaml:"text_model_path"`
	Dimensions      int    `yaml:"dimensions"`
	ImageSize       int    `yaml:"image_size"`
	MaxTokens       int    `yaml:"max_tokens"`
}

// TextEmbedConfig holds settings for the OCR text embedding provider.
type TextEmbedConfig struct {
	Provider       string `yaml:"provider"`
	OllamaURL      string `yaml:"ollama_url"`
	OllamaModel    string `yaml:"ollama_model"`
	OpenAIEndpoint string `yaml:"openai_endpoint"`
	OpenAIAPIKey   string `yaml:"openai_api_key"`
	OpenAIModel    string `yaml:"openai_model"`
	Dimensions     int    `yaml:"dimensions"`
	CacheSize      int    `yaml:"cache_size"`
}

// OCRConfig holds settings for text extraction from images.
type OCRConfig struct {
	Provider       string  `yaml:"provider"`
	Endpoint       string  `yaml:"endpoint"`
	MinConfidence  float64 `yaml:"min_confidence"`
	Workers        int     `yaml:"workers"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultTopK      int     `yaml:"default_top_k"`
	MaxTopK          int     `yaml:"max_top_k"`
	DefaultThreshold float64 `yaml:"default_threshold"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMS int  `yaml:"debounce_ms"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// A .env file next to the config is loaded when present; secrets from the
// environment take precedence over the YAML values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	applyEnv(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorDir = expandPath(cfg.Storage.VectorDir, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	if cfg.CLIP.VisionModelPath != "" {
		cfg.CLIP.VisionModelPath = expandPath(cfg.CLIP.VisionModelPath, configDir)
	}
	if cfg.CLIP.TextModelPath != "" {
		cfg.CLIP.TextModelPath = expandPath(cfg.CLIP.TextModelPath, configDir)
	}
	for i := range cfg.Scan.IncludeDirectories {
		cfg.Scan.IncludeDirectories[i] = expandPath(cfg.Scan.IncludeDirectories[i], configDir)
	}
	for i := range cfg.Scan.ExcludeDirectories {
		cfg.Scan.ExcludeDirectories[i] = expandPath(cfg.Scan.ExcludeDirectories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used by the settings command.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
		cfg.TextEmbed.OpenAIAPIKey = v
	}
	if v := os.Getenv(EnvQdrantAPIKey); v != "" {
		cfg.Vector.Qdrant.APIKey = v
	}
}

// AddDirectory appends dir to list unless an equal cleaned path is present.
// Returns the new list and whether it changed.
func AddDirectory(list []string, dir string) ([]string, bool) {
	clean := filepath.Clean(dir)
	for _, d := range list {
		if filepath.Clean(d) == clean {
			return list, false
		}
	}
	return append(list, clean), true
}

// RemoveDirectory removes dir from list. Returns the new list and whether it changed.
func RemoveDirectory(list []string, dir string) ([]string, bool) {
	clean := filepath.Clean(dir)
	out := make([]string, 0, len(list))
	removed := false
	for _, d := range list {
		if filepath.Clean(d) == clean {
			removed = true
			continue
		}
		out = append(out, d)
	}
	return out, removed
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
