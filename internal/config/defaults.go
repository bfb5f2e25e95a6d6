package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.DefaultOwner == "" {
		cfg.Server.DefaultOwner = "demo-user"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/shashin/data/db/images.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/shashin/data/indices/vector_index.json"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "/usr/local/var/shashin/uploads"
	}
	if cfg.Storage.LabelIndexPath == "" {
		cfg.Storage.LabelIndexPath = "/usr/local/var/shashin/data/indices/labels"
	}
	if cfg.Inference.BaseURL == "" {
		cfg.Inference.BaseURL = "http://localhost:8000"
	}
	if cfg.Inference.Model == "" {
		cfg.Inference.Model = "clip"
	}
	if cfg.Inference.DetectTimeout == 0 {
		cfg.Inference.DetectTimeout = 30 * time.Second
	}
	if cfg.Inference.EmbedTimeout == 0 {
		cfg.Inference.EmbedTimeout = 15 * time.Second
	}
	if cfg.Inference.HealthTimeout == 0 {
		cfg.Inference.HealthTimeout = 5 * time.Second
	}
	if cfg.Inference.TextEmbedRetries == 0 {
		cfg.Inference.TextEmbedRetries = 3
	}
	if cfg.Inference.RetryBaseDelay == 0 {
		cfg.Inference.RetryBaseDelay = 2 * time.Second
	}
	if cfg.Inference.TextCacheSize == 0 {
		cfg.Inference.TextCacheSize = 1000
	}
	if cfg.Pipeline.MaxConcurrent == 0 {
		cfg.Pipeline.MaxConcurrent = 3
	}
	if cfg.Pipeline.ThumbnailSize == 0 {
		cfg.Pipeline.ThumbnailSize = 256
	}
	if cfg.Pipeline.ThumbnailQuality == 0 {
		cfg.Pipeline.ThumbnailQuality = 80
	}
	if cfg.Pipeline.CropQuality == 0 {
		cfg.Pipeline.CropQuality = 85
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 10
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.OverfetchFactor == 0 {
		cfg.Search.OverfetchFactor = 3
	}
	// Both weights unset means the stock 0.7/0.3 split; a single explicit zero is kept.
	if cfg.Search.ObjectWeight == 0 && cfg.Search.SceneWeight == 0 {
		cfg.Search.ObjectWeight = 0.7
		cfg.Search.SceneWeight = 0.3
	}
	if cfg.Search.Aggregation == "" {
		cfg.Search.Aggregation = "weighted"
	}
	if cfg.Search.TopObjects == 0 {
		cfg.Search.TopObjects = 5
	}
	if cfg.Search.PublicPrefix == "" {
		cfg.Search.PublicPrefix = "/uploads/"
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "file"
	}
	if cfg.Vector.Dimensions == 0 {
		cfg.Vector.Dimensions = 512
	}
	if cfg.Watch.Owner == "" {
		cfg.Watch.Owner = cfg.Server.DefaultOwner
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".jpg", ".jpeg", ".png", ".webp"}
	}
}
