// Package inference talks to the model service that detects objects, classifies scenes
// and produces image/text embeddings.
package inference

import (
	"context"
	"errors"

	"github.com/hyperjump/shashin/internal/models"
)

// ErrUnavailable is returned when inference is disabled or the service rejects a call.
var ErrUnavailable = errors.New("inference service unavailable")

// Client produces detections and embeddings for images and text.
type Client interface {
	Detect(ctx context.Context, image []byte) (*Detection, error)
	EmbedImage(ctx context.Context, image []byte, model string) (*Embedding, error)
	EmbedText(ctx context.Context, text, model string) (*Embedding, error)
	Health(ctx context.Context) Health
}

// DetectedBox is one detector hit in pixel coordinates. BBox is not validated here.
type DetectedBox struct {
	Class string
	Score float64
	BBox  models.BBox
}

// Detection is the result of object detection plus scene classification.
type Detection struct {
	Objects []DetectedBox
	Scene   *models.Scene
}

// Embedding is a single vector with its reported dimensionality.
type Embedding struct {
	Vector []float32
	Dims   int
}

// Health reports which models the service has loaded.
type Health struct {
	Detector   bool `json:"yolo"`
	Scene      bool `json:"places365"`
	Embeddings bool `json:"clip"`
}

// Ready reports whether every model is available.
func (h Health) Ready() bool {
	return h.Detector && h.Scene && h.Embeddings
}
