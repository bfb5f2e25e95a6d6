package models

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"
)

// ErrInvalidBBox is returned for bounding boxes that cannot describe a region.
var ErrInvalidBBox = errors.New("invalid bounding box")

// BBox is a detection rectangle in pixel coordinates: top-left corner plus size.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BBoxFromSlice builds a BBox from the [x, y, w, h] wire form.
func BBoxFromSlice(v []float64) (BBox, error) {
	if len(v) != 4 {
		return BBox{}, fmt.Errorf("%w: want 4 numbers, got %d", ErrInvalidBBox, len(v))
	}
	b := BBox{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	return b, b.Validate()
}

// Slice returns the [x, y, w, h] wire form.
func (b BBox) Slice() []float64 {
	return []float64{b.X, b.Y, b.Width, b.Height}
}

// Validate checks that all values are finite, the size is positive, and the
// origin is not negative beyond what Clamp can fix (the detector may report
// slightly negative offsets; those are clamped to zero).
func (b BBox) Validate() error {
	for _, v := range b.Slice() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidBBox)
		}
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: width and height must be positive (got %gx%g)", ErrInvalidBBox, b.Width, b.Height)
	}
	if b.X+b.Width <= 0 || b.Y+b.Height <= 0 {
		return fmt.Errorf("%w: box lies entirely at negative offsets", ErrInvalidBBox)
	}
	return nil
}

// Clamp returns the integer crop rectangle: offsets floored and clamped to zero, size floored.
func (b BBox) Clamp() image.Rectangle {
	x := int(math.Max(0, math.Floor(b.X)))
	y := int(math.Max(0, math.Floor(b.Y)))
	w := int(math.Floor(b.Width))
	h := int(math.Floor(b.Height))
	return image.Rect(x, y, x+w, y+h)
}

// DetectedObject is one detection inside an image.
type DetectedObject struct {
	ID          string    `json:"id" db:"id"`
	ImageID     string    `json:"image_id" db:"image_id"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	Class       string    `json:"class" db:"class"`
	Score       float64   `json:"score" db:"score"`
	BBox        BBox      `json:"bbox" db:"bbox"`
	CropURL     string    `json:"crop_url" db:"crop_url"`
	EmbeddingID string    `json:"embedding_id,omitempty" db:"embedding_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`

	// CropPath is the local path of the crop file.
	CropPath string `json:"-" db:"crop_path"`
}

// Validate checks the detection score range and bounding box.
func (o *DetectedObject) Validate() error {
	if o.Class == "" {
		return fmt.Errorf("object class is required")
	}
	if o.Score < 0 || o.Score > 1 || math.IsNaN(o.Score) {
		return fmt.Errorf("detection score %g out of range [0,1]", o.Score)
	}
	return o.BBox.Validate()
}
