package e2e

import (
	"github.com/hyperjump/shashin/internal/models"
)

// QueryCase is a text query with its expected ranking, by fixture name.
type QueryCase struct {
	Name    string
	Owner   string
	Text    string
	Mode    models.SearchMode
	Classes []string
	Scenes  []string
	// WantTop lists the expected leading results in order.
	WantTop []string
	// WantCount is the exact number of results, or -1 to skip the check.
	WantCount int
}

// Corpus is the set of fixtures and the queries run against them.
type Corpus struct {
	Fixtures []Fixture
	Queries  []QueryCase
}

var box = models.BBox{X: 10, Y: 10, Width: 30, Height: 30}

// BuildCorpus returns the fixtures and the query cases. Each fixture has one object;
// query vectors are pure colors, so an object crop of the queried color scores 1.
func BuildCorpus() *Corpus {
	fixtures := []Fixture{
		{Name: "field", Owner: "alice", Scene: "meadow", Background: Green,
			Objects: []FixtureObject{{Class: "car", Color: Red, BBox: box}}},
		{Name: "sea", Owner: "alice", Scene: "ocean", Background: Blue,
			Objects: []FixtureObject{{Class: "boat", Color: Yellow, BBox: box}}},
		{Name: "garage", Owner: "alice", Scene: "garage", Background: Gray,
			Objects: []FixtureObject{{Class: "car", Color: Blue, BBox: box}}},
		{Name: "bobs-car", Owner: "bob", Scene: "street", Background: Red,
			Objects: []FixtureObject{{Class: "car", Color: Green, BBox: box}}},
	}
	queries := []QueryCase{
		{Name: "red prefers red object", Owner: "alice", Text: "red",
			WantTop: []string{"field", "sea", "garage"}, WantCount: 3},
		{Name: "blue object beats blue scene", Owner: "alice", Text: "blue",
			WantTop: []string{"garage", "sea"}, WantCount: 3},
		{Name: "images mode ranks by scene", Owner: "alice", Text: "red", Mode: models.ModeImages,
			WantTop: []string{"garage"}, WantCount: 3},
		{Name: "class filter", Owner: "alice", Text: "red", Classes: []string{"boat"},
			WantTop: []string{"sea"}, WantCount: 1},
		{Name: "scene filter", Owner: "alice", Text: "blue", Scenes: []string{"meadow"},
			WantTop: []string{"field"}, WantCount: 1},
		{Name: "owner isolation", Owner: "bob", Text: "green",
			WantTop: []string{"bobs-car"}, WantCount: 1},
	}
	return &Corpus{Fixtures: fixtures, Queries: queries}
}

// TextVectors maps the color words used in queries to their embeddings.
func TextVectors() map[string][]float32 {
	return map[string][]float32{
		"red":    ColorVector(Red),
		"green":  ColorVector(Green),
		"blue":   ColorVector(Blue),
		"yellow": ColorVector(Yellow),
	}
}

// Owners returns the distinct owners of the fixtures.
func (c *Corpus) Owners() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range c.Fixtures {
		if !seen[f.Owner] {
			seen[f.Owner] = true
			out = append(out, f.Owner)
		}
	}
	return out
}
