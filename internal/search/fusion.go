// Package search ranks images for text and similar-image queries by blending
// object-level and scene-level vector evidence.
package search

import (
	"fmt"
	"sort"

	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/vector"
)

// Aggregation is the policy turning an image's object evidence into one object score.
type Aggregation string

const (
	// AggregateMax takes the best object similarity.
	AggregateMax Aggregation = "max"
	// AggregateAvg takes the unweighted mean similarity.
	AggregateAvg Aggregation = "avg"
	// AggregateWeighted weights each similarity by the object's share of detection confidence.
	AggregateWeighted Aggregation = "weighted"
)

// ParseAggregation returns the policy named s. An empty name means weighted.
func ParseAggregation(s string) (Aggregation, error) {
	switch a := Aggregation(s); a {
	case "":
		return AggregateWeighted, nil
	case AggregateMax, AggregateAvg, AggregateWeighted:
		return a, nil
	default:
		return "", fmt.Errorf("unknown aggregation %q (want max, avg or weighted)", s)
	}
}

// ObjectScore aggregates object similarities. No evidence scores 0.
// Weighted falls back to a uniform mean when the total detection score is 0.
func (a Aggregation) ObjectScore(objects []*models.ObjectEvidence) float64 {
	if len(objects) == 0 {
		return 0
	}
	switch a {
	case AggregateMax:
		best := objects[0].Similarity
		for _, o := range objects[1:] {
			if o.Similarity > best {
				best = o.Similarity
			}
		}
		return best
	case AggregateAvg:
		return mean(objects)
	default:
		var total, sum float64
		for _, o := range objects {
			total += o.Score
			sum += o.Similarity * o.Score
		}
		if total <= 0 {
			return mean(objects)
		}
		return sum / total
	}
}

func mean(objects []*models.ObjectEvidence) float64 {
	var sum float64
	for _, o := range objects {
		sum += o.Similarity
	}
	return sum / float64(len(objects))
}

// FinalScore blends object and scene scores with the configured weights.
func FinalScore(objectScore, sceneScore, objectWeight, sceneWeight float64) float64 {
	return objectScore*objectWeight + sceneScore*sceneWeight
}

// Group holds the hits of one image.
type Group struct {
	ImageID    string
	Objects    []*models.ObjectEvidence
	SceneScore float64
	HasScene   bool
}

// GroupHits groups raw index hits by image, in order of first appearance.
// Object hits become evidence; scene hits keep the maximum similarity.
func GroupHits(hits []*vector.Result) []*Group {
	byImage := make(map[string]*Group)
	groups := make([]*Group, 0)
	for _, h := range hits {
		g, ok := byImage[h.Metadata.ImageID]
		if !ok {
			g = &Group{ImageID: h.Metadata.ImageID}
			byImage[g.ImageID] = g
			groups = append(groups, g)
		}
		if h.Metadata.ObjectID != "" {
			ev := &models.ObjectEvidence{
				ObjectID:   h.Metadata.ObjectID,
				Class:      h.Metadata.Class,
				Score:      h.Metadata.Score,
				Similarity: h.Score,
			}
			if h.Metadata.BBox != nil {
				ev.BBox = *h.Metadata.BBox
			}
			g.Objects = append(g.Objects, ev)
			continue
		}
		if !g.HasScene || h.Score > g.SceneScore {
			g.SceneScore = h.Score
			g.HasScene = true
		}
	}
	return groups
}

// topObjects returns up to limit evidence entries, most similar first.
func topObjects(objects []*models.ObjectEvidence, limit int) []*models.ObjectEvidence {
	out := append([]*models.ObjectEvidence{}, objects...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
