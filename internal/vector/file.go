package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/shashin/internal/models"
	"go.uber.org/zap"
)

// FileIndex is an in-memory vector index using brute-force cosine search.
// The whole collection is rewritten to a single JSON file after every mutation,
// so each write costs O(index size) in I/O. An empty path keeps the index in memory only.
type FileIndex struct {
	path      string
	dimension int
	entries   []*Entry
	logger    *zap.Logger
	mu        sync.RWMutex
}

// FileIndexOption configures a FileIndex.
type FileIndexOption func(*FileIndex)

// WithLogger sets a logger for persistence events.
func WithLogger(l *zap.Logger) FileIndexOption {
	return func(f *FileIndex) { f.logger = l }
}

// fileFormat is the on-disk layout.
type fileFormat struct {
	Dimension int      `json:"dimension"`
	Entries   []*Entry `json:"entries"`
}

// NewFileIndex creates an index persisted at path. dimension is informational
// (reported by Dimension and written to the file); vectors of other lengths are
// stored and simply score 0 against mismatched queries.
func NewFileIndex(path string, dimension int, opts ...FileIndexOption) (*FileIndex, error) {
	if dimension < 0 {
		return nil, fmt.Errorf("dimension must not be negative")
	}
	f := &FileIndex{
		path:      path,
		dimension: dimension,
		entries:   make([]*Entry, 0),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Upsert replaces entries with the same id and appends new ones, then persists.
// The batch is not transactional: entries are applied in order and a failed
// persist leaves the in-memory state updated.
func (f *FileIndex) Upsert(ctx context.Context, entries []*Entry) error {
	for _, e := range entries {
		if e == nil || e.ID == "" {
			return fmt.Errorf("entry id is required")
		}
		if len(e.Vector) == 0 {
			return fmt.Errorf("entry %s: %w", e.ID, models.ErrEmptyVector)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		stored := *e
		stored.Vector = vec
		f.removeLocked(func(cur *Entry) bool { return cur.ID == e.ID })
		f.entries = append(f.entries, &stored)
	}
	if err := f.persistLocked(); err != nil {
		return err
	}
	f.logger.Debug("vector index upserted", zap.Int("count", len(entries)), zap.Int("size", len(f.entries)))
	return nil
}

// Search scores every entry against query, applies filter, and returns the topK most similar.
// Ties keep insertion order.
func (f *FileIndex) Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]*Result, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query: %w", models.ErrEmptyVector)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if topK <= 0 || len(f.entries) == 0 {
		return []*Result{}, nil
	}
	results := make([]*Result, 0, len(f.entries))
	for _, e := range f.entries {
		if !filter.Matches(&e.Metadata) {
			continue
		}
		results = append(results, &Result{
			ID:       e.ID,
			Score:    CosineSimilarity(query, e.Vector),
			Metadata: e.Metadata,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByIDs removes entries by id. Absent ids are ignored.
func (f *FileIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	removeSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.removeLocked(func(e *Entry) bool { return removeSet[e.ID] }); n == 0 {
		return nil
	}
	return f.persistLocked()
}

// DeleteByImageID removes every entry whose metadata belongs to imageID. Idempotent.
func (f *FileIndex) DeleteByImageID(ctx context.Context, imageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.removeLocked(func(e *Entry) bool { return e.Metadata.ImageID == imageID })
	if n == 0 {
		return nil
	}
	f.logger.Debug("vector index deleted image entries", zap.String("image_id", imageID), zap.Int("removed", n))
	return f.persistLocked()
}

// Get returns a copy of the entry with the given id.
func (f *FileIndex) Get(id string) (*Entry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, e := range f.entries {
		if e.ID == id {
			cp := *e
			cp.Vector = append([]float32(nil), e.Vector...)
			return &cp, true
		}
	}
	return nil, false
}

// removeLocked drops entries matching pred and returns how many were removed.
func (f *FileIndex) removeLocked(pred func(*Entry) bool) int {
	kept := f.entries[:0]
	removed := 0
	for _, e := range f.entries {
		if pred(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(f.entries); i++ {
		f.entries[i] = nil
	}
	f.entries = kept
	return removed
}

// Save persists the index to its path. Directory is created if needed.
func (f *FileIndex) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.persistLocked()
}

// persistLocked writes the full collection to a temp file and renames it into place.
// Callers must hold f.mu (read or write).
func (f *FileIndex) persistLocked() error {
	if f.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	data, err := json.Marshal(fileFormat{Dimension: f.dimension, Entries: f.entries})
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

// Load reads the index from its path and replaces the in-memory contents.
// If the file does not exist, an empty index file is created.
func (f *FileIndex) Load() error {
	if f.path == "" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.entries = make([]*Entry, 0)
			f.logger.Info("created new vector index", zap.String("path", f.path))
			return f.persistLocked()
		}
		return fmt.Errorf("open index file: %w", err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("decode index file: %w", err)
	}
	if ff.Entries == nil {
		ff.Entries = make([]*Entry, 0)
	}
	if f.dimension == 0 {
		f.dimension = ff.Dimension
	}
	f.entries = ff.Entries
	f.logger.Info("loaded vector index", zap.String("path", f.path), zap.Int("entries", len(f.entries)))
	return nil
}

// Size returns the number of entries in the index.
func (f *FileIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Dimension returns the configured embedding dimension (0 when unknown).
func (f *FileIndex) Dimension() int {
	return f.dimension
}

// Close is a no-op; every mutation is already persisted.
func (f *FileIndex) Close() error {
	return nil
}
