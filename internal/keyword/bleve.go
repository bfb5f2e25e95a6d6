package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/shashin/internal/models"
)

// labelDoc is the indexed form of one image.
type labelDoc struct {
	OwnerID string `json:"owner_id"`
	Scene   string `json:"scene"`
	Classes string `json:"classes"`
}

// LabelIndex implements LabelSearcher and Vocabulary using Bleve.
type LabelIndex struct {
	index bleve.Index
}

// NewLabelIndex creates or opens a Bleve index at path. An empty path keeps the index in memory.
// If the mapping changes, remove the index directory and run reindex.
func NewLabelIndex(path string) (*LabelIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so "dogs" stays distinct from "dog"
	// and fuzzy matching works on the literal class names.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("scene", textFieldMapping)
	docMapping.AddFieldMappingsAt("classes", textFieldMapping)
	docMapping.AddFieldMappingsAt("owner_id", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("labels", docMapping)
	im.DefaultType = "labels"
	im.DefaultMapping = docMapping

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		return &LabelIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &LabelIndex{index: index}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &LabelIndex{index: index}, nil
}

// Index stores the scene labels and object classes of an image, replacing earlier ones.
func (l *LabelIndex) Index(ctx context.Context, img *models.Image, objects []*models.DetectedObject) error {
	doc := labelDoc{OwnerID: img.OwnerID}
	if img.Scene != nil {
		scene := []string{img.Scene.Primary}
		for _, lbl := range img.Scene.Labels {
			if lbl.Label != img.Scene.Primary {
				scene = append(scene, lbl.Label)
			}
		}
		doc.Scene = strings.Join(scene, " ")
	}
	classes := make([]string, 0, len(objects))
	for _, o := range objects {
		classes = append(classes, o.Class)
	}
	doc.Classes = strings.Join(classes, " ")
	return l.index.Index(img.ID, doc)
}

// Search returns images of ownerID whose labels match any query term, allowing one edit
// for terms longer than three runes. An empty ownerID searches every owner.
func (l *LabelIndex) Search(ctx context.Context, ownerID, query string, limit int) ([]*LabelHit, error) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return []*LabelHit{}, nil
	}
	labelQueries := make([]blevequery.Query, 0, len(terms)*2)
	for _, term := range terms {
		for _, field := range []string{"classes", "scene"} {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(fuzzinessFor(term))
			fq.SetField(field)
			labelQueries = append(labelQueries, fq)
		}
	}
	var q blevequery.Query = bleve.NewDisjunctionQuery(labelQueries...)
	if ownerID != "" {
		owner := bleve.NewTermQuery(ownerID)
		owner.SetField("owner_id")
		q = bleve.NewConjunctionQuery(owner, q)
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	results, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*LabelHit, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &LabelHit{ImageID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

func fuzzinessFor(term string) int {
	if len([]rune(term)) > 3 {
		return 1
	}
	return 0
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Delete removes an image from the index. Deleting an absent image is a no-op.
func (l *LabelIndex) Delete(ctx context.Context, imageID string) error {
	return l.index.Delete(imageID)
}

// DocCount returns the number of indexed images.
func (l *LabelIndex) DocCount() (uint64, error) {
	return l.index.DocCount()
}

// Terms returns every indexed label term with its document count across both label fields.
func (l *LabelIndex) Terms() (map[string]int, error) {
	terms := make(map[string]int)
	for _, field := range []string{"classes", "scene"} {
		dict, err := l.index.FieldDict(field)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s terms: %w", field, err)
		}
		for {
			entry, err := dict.Next()
			if err != nil {
				dict.Close()
				return nil, err
			}
			if entry == nil {
				break
			}
			if int(entry.Count) > terms[entry.Term] {
				terms[entry.Term] = int(entry.Count)
			}
		}
		dict.Close()
	}
	return terms, nil
}

// Close closes the Bleve index.
func (l *LabelIndex) Close() error {
	return l.index.Close()
}
