// Package storage defines the persistence interface for images, detected objects and embeddings.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/shashin/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines image, object and embedding persistence operations.
type Storage interface {
	// Image operations
	CreateImage(ctx context.Context, img *models.Image) error
	GetImage(ctx context.Context, id string) (*models.Image, error)
	ListImages(ctx context.Context, ownerID string, status models.ProcessingStatus, offset, limit int) ([]*models.Image, error)
	UpdateImageStatus(ctx context.Context, id string, status models.ProcessingStatus, errMsg string) error
	SetImageDetection(ctx context.Context, id string, scene *models.Scene, thumbnailURL string) error
	SetImageObjects(ctx context.Context, id string, objectIDs []string) error
	ResetImage(ctx context.Context, id string) error
	DeleteImage(ctx context.Context, id string) error

	// Object operations
	CreateObject(ctx context.Context, obj *models.DetectedObject) error
	GetObject(ctx context.Context, id string) (*models.DetectedObject, error)
	ListObjectsByImage(ctx context.Context, imageID string) ([]*models.DetectedObject, error)
	SetObjectEmbedding(ctx context.Context, objectID, embeddingID string) error
	DeleteObjectsByImage(ctx context.Context, imageID string) error

	// Embedding operations
	CreateVector(ctx context.Context, v *models.EmbeddingVector) error
	GetSceneVector(ctx context.Context, imageID string) (*models.EmbeddingVector, error)
	ListVectorsByImage(ctx context.Context, imageID string) ([]*models.EmbeddingVector, error)
	ListVectors(ctx context.Context, offset, limit int) ([]*models.EmbeddingVector, error)
	DeleteVectorsByImage(ctx context.Context, imageID string) error

	// Stats
	CountImages(ctx context.Context, ownerID string) (int64, error)
	CountByStatus(ctx context.Context) (map[models.ProcessingStatus]int64, error)
	CountObjects(ctx context.Context) (int64, error)
	CountVectors(ctx context.Context) (int64, error)

	Close() error
}
