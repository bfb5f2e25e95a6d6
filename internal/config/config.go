// Package config provides configuration loading and structs for the shashin server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Inference InferenceConfig `yaml:"inference"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Search    SearchConfig    `yaml:"search"`
	Vector    VectorConfig    `yaml:"vector"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// DefaultOwner is used when a request carries no X-User-Id header.
	DefaultOwner string `yaml:"default_owner"`
}

// StorageConfig holds paths for the database, indices and uploaded assets.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	UploadDir       string `yaml:"upload_dir"`
	LabelIndexPath  string `yaml:"label_index_path"`
}

// InferenceConfig holds settings for the remote detection/embedding service.
type InferenceConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Enabled          *bool         `yaml:"enabled"`
	Model            string        `yaml:"model"`
	DetectTimeout    time.Duration `yaml:"detect_timeout"`
	EmbedTimeout     time.Duration `yaml:"embed_timeout"`
	HealthTimeout    time.Duration `yaml:"health_timeout"`
	TextEmbedRetries int           `yaml:"text_embed_retries"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	// TextCacheSize bounds the query embedding cache; negative disables it.
	TextCacheSize int `yaml:"text_cache_size"`
}

// IsEnabled returns whether inference calls are allowed; defaults to true when unset.
func (c *InferenceConfig) IsEnabled() bool {
	if c.Enabled != nil {
		return *c.Enabled
	}
	return true
}

// PipelineConfig holds processing pipeline settings.
type PipelineConfig struct {
	MaxConcurrent    int   `yaml:"max_concurrent"`
	ThumbnailSize    int   `yaml:"thumbnail_size"`
	ThumbnailQuality int   `yaml:"thumbnail_quality"`
	CropQuality      int   `yaml:"crop_quality"`
	EmbedObjects     *bool `yaml:"embed_objects"`
}

// EmbedObjectsOrDefault returns whether per-object embeddings are generated; defaults to true when unset.
func (p *PipelineConfig) EmbedObjectsOrDefault() bool {
	if p.EmbedObjects != nil {
		return *p.EmbedObjects
	}
	return true
}

// SearchConfig holds ranking settings.
type SearchConfig struct {
	DefaultTopK     int     `yaml:"default_top_k"`
	MaxTopK         int     `yaml:"max_top_k"`
	OverfetchFactor int     `yaml:"overfetch_factor"`
	ObjectWeight    float64 `yaml:"object_weight"`
	SceneWeight     float64 `yaml:"scene_weight"`
	Aggregation     string  `yaml:"aggregation"`
	TopObjects      int     `yaml:"top_objects"`
	PublicPrefix    string  `yaml:"public_prefix"`
}

// VectorConfig holds vector index settings.
type VectorConfig struct {
	// IndexType is "file" (persisted JSON) or "memory".
	IndexType  string `yaml:"index_type"`
	Dimensions int    `yaml:"dimensions"`
}

// WatchConfig holds inbox directory ingest settings.
type WatchConfig struct {
	Inbox      string   `yaml:"inbox"`
	Owner      string   `yaml:"owner"`
	Extensions []string `yaml:"extensions"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
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
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.UploadDir = expandPath(cfg.Storage.UploadDir, configDir)
	cfg.Storage.LabelIndexPath = expandPath(cfg.Storage.LabelIndexPath, configDir)
	if cfg.Watch.Inbox != "" {
		cfg.Watch.Inbox = expandPath(cfg.Watch.Inbox, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("search.default_top_k (%d) exceeds search.max_top_k (%d)", c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	if c.Search.ObjectWeight < 0 || c.Search.SceneWeight < 0 {
		return fmt.Errorf("search weights must not be negative")
	}
	switch c.Search.Aggregation {
	case "max", "avg", "weighted":
	default:
		return fmt.Errorf("unknown search.aggregation %q (supported: max, avg, weighted)", c.Search.Aggregation)
	}
	switch c.Vector.IndexType {
	case "file", "memory":
	default:
		return fmt.Errorf("unknown vector.index_type %q (supported: file, memory)", c.Vector.IndexType)
	}
	if c.Pipeline.MaxConcurrent < 1 {
		return fmt.Errorf("pipeline.max_concurrent must be at least 1")
	}
	return nil
}

// Save writes the config to path.
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
