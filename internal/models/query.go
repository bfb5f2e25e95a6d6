package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidQuery is returned for malformed search requests.
var ErrInvalidQuery = errors.New("invalid search query")

// SearchMode selects which evidence a text search considers.
type SearchMode string

const (
	// ModeObjects searches object crops only.
	ModeObjects SearchMode = "objects"
	// ModeImages searches whole-image (scene) embeddings only.
	ModeImages SearchMode = "images"
	// ModeBoth searches both and blends them.
	ModeBoth SearchMode = "both"
)

// SearchFilter restricts hits to any of the listed classes or scenes.
type SearchFilter struct {
	Classes []string `json:"classes,omitempty"`
	Scenes  []string `json:"scenes,omitempty"`
}

// SearchQuery is a natural-language image search request.
type SearchQuery struct {
	OwnerID string        `json:"-"`
	Text    string        `json:"text"`
	TopK    int           `json:"topK,omitempty"`
	Mode    SearchMode    `json:"mode,omitempty"`
	Filter  *SearchFilter `json:"filter,omitempty"`
}

// Validate normalizes defaults and rejects empty text, out-of-range topK, and unknown modes.
// A zero TopK takes defaultTopK; TopK above maxTopK is an error, as is a negative one.
func (q *SearchQuery) Validate(defaultTopK, maxTopK int) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return fmt.Errorf("%w: text cannot be empty", ErrInvalidQuery)
	}
	if q.TopK == 0 {
		q.TopK = defaultTopK
	}
	if q.TopK < 1 || (maxTopK > 0 && q.TopK > maxTopK) {
		return fmt.Errorf("%w: topK must be between 1 and %d", ErrInvalidQuery, maxTopK)
	}
	switch q.Mode {
	case "":
		q.Mode = ModeBoth
	case ModeObjects, ModeImages, ModeBoth:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, q.Mode)
	}
	if q.Filter != nil {
		q.Filter.Classes = cleanList(q.Filter.Classes)
		q.Filter.Scenes = cleanList(q.Filter.Scenes)
	}
	return nil
}

func cleanList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
