// Package vector provides the similarity index over image and object embeddings.
package vector

import (
	"context"
	"time"

	"github.com/hyperjump/shashin/internal/models"
)

// Index defines vector storage and exact similarity search.
type Index interface {
	Upsert(ctx context.Context, entries []*Entry) error
	Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]*Result, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByImageID(ctx context.Context, imageID string) error
	Get(id string) (*Entry, bool)
	Size() int
	Dimension() int
	Save() error
	Load() error
	Close() error
}

// Metadata is the denormalized payload stored with each entry so searches filter without joins.
type Metadata struct {
	ImageID  string       `json:"imageId"`
	ObjectID string       `json:"objectId,omitempty"`
	OwnerID  string       `json:"ownerId"`
	Kind     string       `json:"kind"`
	Class    string       `json:"class,omitempty"`
	Label    string       `json:"label,omitempty"`
	Score    float64      `json:"score,omitempty"`
	BBox     *models.BBox `json:"bbox,omitempty"`
	Scene    string       `json:"scene,omitempty"`
}

// Entry is one indexed vector.
type Entry struct {
	ID        string    `json:"id"`
	Vector    []float32 `json:"vector"`
	Metadata  Metadata  `json:"metadata"`
	Timestamp time.Time `json:"timestamp"`
}

// EntryFromEmbedding projects a persisted embedding into an index entry.
func EntryFromEmbedding(v *models.EmbeddingVector) *Entry {
	md := Metadata{
		ImageID: v.ImageID,
		OwnerID: v.OwnerID,
		Kind:    v.Source.Kind(),
	}
	switch src := v.Source.(type) {
	case models.SceneSource:
		md.Scene = src.Scene
	case models.ObjectSource:
		bbox := src.BBox
		md.ObjectID = src.ObjectID
		md.Class = src.Class
		md.Label = src.Class
		md.Score = src.Score
		md.BBox = &bbox
		md.Scene = src.Scene
	}
	vec := make([]float32, len(v.Vector))
	copy(vec, v.Vector)
	return &Entry{ID: v.ID, Vector: vec, Metadata: md, Timestamp: time.Now().UTC()}
}

// Result is a single search hit.
type Result struct {
	ID       string
	Score    float64 // cosine similarity in [-1, 1]
	Metadata Metadata
}

// Filter restricts search hits. Empty fields match everything; list fields match any of their values.
type Filter struct {
	OwnerID        string
	ImageID        string
	ExcludeImageID string
	Kinds          []string
	Classes        []string
	Scenes         []string
}

// Matches reports whether md passes the filter.
// A class filter only admits object entries, since scene entries have no class.
func (f *Filter) Matches(md *Metadata) bool {
	if f == nil {
		return true
	}
	if f.OwnerID != "" && md.OwnerID != f.OwnerID {
		return false
	}
	if f.ImageID != "" && md.ImageID != f.ImageID {
		return false
	}
	if f.ExcludeImageID != "" && md.ImageID == f.ExcludeImageID {
		return false
	}
	if len(f.Kinds) > 0 && !contains(f.Kinds, md.Kind) {
		return false
	}
	if len(f.Classes) > 0 && (md.Class == "" || !contains(f.Classes, md.Class)) {
		return false
	}
	if len(f.Scenes) > 0 && (md.Scene == "" || !contains(f.Scenes, md.Scene)) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
