// Package models defines core data structures for images, detections, embeddings, queries, and results.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ProcessingStatus is the pipeline state of an Image.
type ProcessingStatus string

const (
	StatusQueued    ProcessingStatus = "queued"
	StatusDetected  ProcessingStatus = "detected"
	StatusCropped   ProcessingStatus = "cropped"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

// ErrInvalidTransition is returned when a status change would move an image backwards.
var ErrInvalidTransition = errors.New("invalid status transition")

// stage orders the non-failed states; failed has no stage.
func (s ProcessingStatus) stage() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusDetected:
		return 1
	case StatusCropped:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s ProcessingStatus) Valid() bool {
	return s == StatusFailed || s.stage() >= 0
}

// IsTerminal reports whether no further pipeline work is expected for the image.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether an image in status s may move to status to.
// Moves are forward-only and completed is entered only from cropped; failed is reachable
// from any non-failed state. Resetting to queued happens only through an explicit
// reprocess, not through this check.
func (s ProcessingStatus) CanTransition(to ProcessingStatus) bool {
	if !s.Valid() || !to.Valid() {
		return false
	}
	if s == to {
		return true
	}
	if s == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return true
	}
	if to == StatusCompleted {
		return s == StatusCropped
	}
	return to.stage() > s.stage()
}

// CheckTransition is CanTransition with an error describing the rejected move.
func (s ProcessingStatus) CheckTransition(to ProcessingStatus) error {
	if !s.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}
	return nil
}

// SceneLabel is one ranked scene classification.
type SceneLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Scene is the scene classification of a whole image.
type Scene struct {
	Primary string       `json:"primary"`
	Labels  []SceneLabel `json:"labels"`
}

// Image is an uploaded image and its annotation state. Run counts reprocessing resets;
// jobs carrying an earlier run are stale.
type Image struct {
	ID           string           `json:"id" db:"id"`
	OwnerID      string           `json:"owner_id" db:"owner_id"`
	OriginalURL  string           `json:"original_url" db:"original_url"`
	ThumbnailURL string           `json:"thumbnail_url,omitempty" db:"thumbnail_url"`
	Width        int              `json:"width" db:"width"`
	Height       int              `json:"height" db:"height"`
	Scene        *Scene           `json:"scene,omitempty" db:"scene"`
	ObjectIDs    []string         `json:"object_ids" db:"object_ids"`
	Status       ProcessingStatus `json:"processing_status" db:"status"`
	Error        string           `json:"error,omitempty" db:"error"`
	Run          int              `json:"run" db:"run"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`

	// Source is the local path of the stored original.
	Source string `json:"-" db:"source_path"`
}

// ScenePrimary returns the primary scene label or "".
func (img *Image) ScenePrimary() string {
	if img == nil || img.Scene == nil {
		return ""
	}
	return img.Scene.Primary
}

// ImageDetail is an image with its detected objects populated.
type ImageDetail struct {
	*Image
	Objects []*DetectedObject `json:"objects"`
}
