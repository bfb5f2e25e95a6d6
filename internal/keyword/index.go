// Package keyword indexes the scene labels and object classes of annotated images for
// typo-tolerant label lookup alongside vector search.
package keyword

import (
	"context"

	"github.com/hyperjump/shashin/internal/models"
)

// LabelSearcher defines label indexing and lookup operations.
type LabelSearcher interface {
	Index(ctx context.Context, img *models.Image, objects []*models.DetectedObject) error
	Search(ctx context.Context, ownerID, query string, limit int) ([]*LabelHit, error)
	Delete(ctx context.Context, imageID string) error
	Close() error
}

// LabelHit is a single label search hit.
type LabelHit struct {
	ImageID string  `json:"imageId"`
	Score   float64 `json:"score"`
}

// Vocabulary lists indexed label terms with the number of images carrying each.
type Vocabulary interface {
	Terms() (map[string]int, error)
}
