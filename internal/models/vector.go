package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyVector is returned for zero-length embeddings.
	ErrEmptyVector = errors.New("embedding vector is empty")
	// ErrDimensionMismatch is returned when declared dims differ from the vector length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Vector source kinds.
const (
	KindScene  = "scene"
	KindObject = "object"
)

// VectorSource describes what an embedding was computed from.
// It is either a SceneSource (whole image) or an ObjectSource (one detection crop).
type VectorSource interface {
	Kind() string
	isVectorSource()
}

// SceneSource marks a whole-image embedding. Exactly one exists per processed image.
type SceneSource struct {
	Scene string `json:"scene,omitempty"`
}

// Kind implements VectorSource.
func (SceneSource) Kind() string { return KindScene }

func (SceneSource) isVectorSource() {}

// ObjectSource marks an embedding of a detected object's crop.
type ObjectSource struct {
	ObjectID string  `json:"object_id"`
	Class    string  `json:"class"`
	Score    float64 `json:"score"`
	BBox     BBox    `json:"bbox"`
	// Scene is the owning image's primary scene, carried for scene filters.
	Scene string `json:"scene,omitempty"`
}

// Kind implements VectorSource.
func (ObjectSource) Kind() string { return KindObject }

func (ObjectSource) isVectorSource() {}

// EmbeddingVector is a persisted embedding of an image or one of its objects.
type EmbeddingVector struct {
	ID        string       `json:"id"`
	ImageID   string       `json:"image_id"`
	OwnerID   string       `json:"owner_id"`
	Vector    []float32    `json:"vector"`
	Dims      int          `json:"dims"`
	Model     string       `json:"model"`
	Source    VectorSource `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewEmbeddingVector validates and builds an EmbeddingVector.
func NewEmbeddingVector(id, imageID, ownerID string, vec []float32, dims int, model string, src VectorSource) (*EmbeddingVector, error) {
	if len(vec) == 0 {
		return nil, ErrEmptyVector
	}
	if dims != len(vec) {
		return nil, fmt.Errorf("%w: declared %d, got %d", ErrDimensionMismatch, dims, len(vec))
	}
	if src == nil {
		return nil, fmt.Errorf("embedding source is required")
	}
	if imageID == "" {
		return nil, fmt.Errorf("embedding image id is required")
	}
	return &EmbeddingVector{
		ID:      id,
		ImageID: imageID,
		OwnerID: ownerID,
		Vector:  vec,
		Dims:    dims,
		Model:   model,
		Source:  src,
	}, nil
}

// ObjectID returns the object id for object embeddings and "" for scene embeddings.
func (v *EmbeddingVector) ObjectID() string {
	if o, ok := v.Source.(ObjectSource); ok {
		return o.ObjectID
	}
	return ""
}

// IsScene reports whether v is the whole-image embedding.
func (v *EmbeddingVector) IsScene() bool {
	_, ok := v.Source.(SceneSource)
	return ok
}
