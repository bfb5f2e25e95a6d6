// Package e2e provides end-to-end tests; this file renders synthetic images whose colors
// make embedding similarity predictable.
package e2e

import (
	"bytes"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/hyperjump/shashin/internal/inference"
	"github.com/hyperjump/shashin/internal/models"
)

// FixtureSize is the edge length of every rendered fixture.
const FixtureSize = 100

// Named colors used by fixtures and query vectors.
var (
	Red    = color.NRGBA{R: 255, A: 255}
	Green  = color.NRGBA{G: 255, A: 255}
	Blue   = color.NRGBA{B: 255, A: 255}
	Yellow = color.NRGBA{R: 255, G: 255, A: 255}
	Gray   = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
)

// FixtureObject is a solid rectangle standing in for a detected object.
type FixtureObject struct {
	Class string
	Color color.NRGBA
	BBox  models.BBox
}

// Fixture is a synthetic photo: a solid background (the scene) with object rectangles.
type Fixture struct {
	Name       string
	Owner      string
	Scene      string
	Background color.NRGBA
	Objects    []FixtureObject
}

// Render encodes the fixture as PNG.
func Render(f Fixture) ([]byte, error) {
	img := imaging.New(FixtureSize, FixtureSize, f.Background)
	for _, o := range f.Objects {
		patch := imaging.New(int(o.BBox.Width), int(o.BBox.Height), o.Color)
		img = imaging.Paste(img, patch, image.Pt(int(o.BBox.X), int(o.BBox.Y)))
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Detection is what a perfect detector would report for the fixture.
func Detection(f Fixture) *inference.Detection {
	det := &inference.Detection{
		Scene: &models.Scene{Primary: f.Scene, Labels: []models.SceneLabel{{Label: f.Scene, Score: 0.8}}},
	}
	for _, o := range f.Objects {
		det.Objects = append(det.Objects, inference.DetectedBox{Class: o.Class, Score: 0.9, BBox: o.BBox})
	}
	return det
}

// ColorEmbedding embeds an encoded image as its average 8-bit RGB.
func ColorEmbedding(data []byte) ([]float32, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var r, g, b float64
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			r += float64(cr >> 8)
			g += float64(cg >> 8)
			b += float64(cb >> 8)
		}
	}
	n := float64(bounds.Dx() * bounds.Dy())
	return []float32{float32(r / n), float32(g / n), float32(b / n)}, nil
}

// ColorVector is the query embedding of a color word.
func ColorVector(c color.NRGBA) []float32 {
	return []float32{float32(c.R), float32(c.G), float32(c.B)}
}
