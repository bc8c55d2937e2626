package config

// DefaultImageExtensions are the file extensions scanned when none are configured.
var DefaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp"}

// Scan methods.
const (
	ScanMethodDefault    = "default"
	ScanMethodEverything = "everything"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 23107
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/shashin/data/db/shashin.db"
	}
	if cfg.Storage.VectorDir == "" {
		cfg.Storage.VectorDir = "/usr/local/var/shashin/data/vectors"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/shashin/data/indices/ocr.bleve"
	}
	if cfg.Index.BatchSize <= 0 {
		cfg.Index.BatchSize = 32
	}
	if cfg.Scan.Method == "" {
		cfg.Scan.Method = ScanMethodDefault
	}
	if cfg.Scan.Extensions == nil {
		cfg.Scan.Extensions = append([]string(nil), DefaultImageExtensions...)
	}
	if cfg.Scan.EverythingURL == "" {
		cfg.Scan.EverythingURL = "http://localhost:8080"
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "sqlite"
	}
	if cfg.Vector.Qdrant.Host == "" {
		cfg.Vector.Qdrant.Host = "localhost"
	}
	if cfg.Vector.Qdrant.Port == 0 {
		cfg.Vector.Qdrant.Port = 6334
	}
	if cfg.Vector.Qdrant.CollectionPrefix == "" {
		cfg.Vector.Qdrant.CollectionPrefix = "shashin_"
	}
	if cfg.CLIP.Provider == "" {
		cfg.CLIP.Provider = "onnx"
	}
	if cfg.CLIP.Dimensions == 0 {
		cfg.CLIP.Dimensions = 512
	}
	if cfg.CLIP.ImageSize == 0 {
		cfg.CLIP.ImageSize = 224
	}
	if cfg.CLIP.MaxTokens == 0 {
		cfg.CLIP.MaxTokens = 77
	}
	if cfg.TextEmbed.Provider == "" {
		cfg.TextEmbed.Provider = "ollama"
	}
	if cfg.TextEmbed.OllamaURL == "" {
		cfg.TextEmbed.OllamaURL = "http://localhost:11434"
	}
	if cfg.TextEmbed.OllamaModel == "" {
		cfg.TextEmbed.OllamaModel = "nomic-embed-text"
	}
	if cfg.TextEmbed.OpenAIModel == "" {
		cfg.TextEmbed.OpenAIModel = "text-embedding-3-small"
	}
	if cfg.TextEmbed.CacheSize == 0 {
		cfg.TextEmbed.CacheSize = 10000
	}
	if cfg.OCR.Provider == "" {
		cfg.OCR.Provider = "none"
	}
	if cfg.OCR.MinConfidence == 0 {
		cfg.OCR.MinConfidence = 0.5
	}
	if cfg.OCR.Workers <= 0 {
		cfg.OCR.Workers = 4
	}
	if cfg.OCR.TimeoutSeconds <= 0 {
		cfg.OCR.TimeoutSeconds = 60
	}
	if cfg.Search.DefaultTopK <= 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.MaxTopK <= 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Watch.DebounceMS <= 0 {
		cfg.Watch.DebounceMS = 2000
	}
}
