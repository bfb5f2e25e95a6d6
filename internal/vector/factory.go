package vector

import (
	"fmt"

	"go.uber.org/zap"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory keeps entries in memory only. Used by tests and throwaway runs.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFile keeps entries in memory and rewrites a JSON file on every mutation.
	IndexTypeFile IndexType = "file"
)

// NewIndex creates a vector index of the specified type and loads any persisted state.
// Supported types: "file" (default), "memory".
func NewIndex(indexType, path string, dimension int, logger *zap.Logger) (Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch IndexType(indexType) {
	case IndexTypeMemory:
		return NewFileIndex("", dimension, WithLogger(logger))
	case IndexTypeFile, "":
		if path == "" {
			return nil, fmt.Errorf("file index requires a path")
		}
		idx, err := NewFileIndex(path, dimension, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := idx.Load(); err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: file, memory)", indexType)
	}
}
