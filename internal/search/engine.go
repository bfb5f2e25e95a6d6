package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/inference"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

// ErrEmbeddingNotFound is returned by SearchSimilar when the reference image has no
// whole-image embedding yet.
var ErrEmbeddingNotFound = errors.New("image embedding not found")

// Engine answers text and similar-image queries. It never mutates stored state.
type Engine struct {
	storage     storage.Storage
	client      inference.Client
	index       vector.Index
	config      *config.SearchConfig
	model       string
	aggregation Aggregation
	logger      *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	storage storage.Storage,
	client inference.Client,
	index vector.Index,
	cfg *config.SearchConfig,
	model string,
	opts ...Option,
) (*Engine, error) {
	agg, err := ParseAggregation(cfg.Aggregation)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		storage:     storage,
		client:      client,
		index:       index,
		config:      cfg,
		model:       model,
		aggregation: agg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search embeds the query text, over-fetches from the index, groups hits per image
// and ranks images by blended object and scene score.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := query.Validate(e.config.DefaultTopK, e.config.MaxTopK); err != nil {
		return nil, err
	}

	emb, err := e.client.EmbedText(ctx, query.Text, e.model)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	filter := &vector.Filter{OwnerID: query.OwnerID}
	switch query.Mode {
	case models.ModeObjects:
		filter.Kinds = []string{models.KindObject}
	case models.ModeImages:
		filter.Kinds = []string{models.KindScene}
	}
	if query.Filter != nil {
		filter.Classes = query.Filter.Classes
		filter.Scenes = query.Filter.Scenes
	}

	hits, err := e.index.Search(ctx, emb.Vector, query.TopK*e.overfetch(), filter)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	groups := GroupHits(hits)
	ranked := make([]*models.SearchResult, 0, len(groups))
	for _, g := range groups {
		objectScore := e.aggregation.ObjectScore(g.Objects)
		ranked = append(ranked, &models.SearchResult{
			ImageID:     g.ImageID,
			Score:       FinalScore(objectScore, g.SceneScore, e.config.ObjectWeight, e.config.SceneWeight),
			ObjectScore: objectScore,
			SceneScore:  g.SceneScore,
			TopObjects:  topObjects(g.Objects, e.config.TopObjects),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	response := &models.SearchResponse{
		Query:      query.Text,
		TotalFound: len(ranked),
	}
	if len(ranked) > query.TopK {
		ranked = ranked[:query.TopK]
	}
	if response.Results, err = e.hydrate(ctx, ranked); err != nil {
		return nil, err
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	return response, nil
}

// SearchSimilar ranks images by similarity of their whole-image embedding to the one of
// imageID, which is excluded from the results.
func (e *Engine) SearchSimilar(ctx context.Context, ownerID, imageID string, topK int) (*models.SimilarResponse, error) {
	startTime := time.Now()
	if topK == 0 {
		topK = e.config.DefaultTopK
	}
	if topK < 1 || (e.config.MaxTopK > 0 && topK > e.config.MaxTopK) {
		return nil, fmt.Errorf("%w: topK must be between 1 and %d", models.ErrInvalidQuery, e.config.MaxTopK)
	}

	img, err := e.storage.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && img.OwnerID != ownerID {
		return nil, fmt.Errorf("image %s: %w", imageID, storage.ErrNotFound)
	}
	ref, err := e.storage.GetSceneVector(ctx, imageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("image %s: %w", imageID, ErrEmbeddingNotFound)
	}
	if err != nil {
		return nil, err
	}

	hits, err := e.index.Search(ctx, ref.Vector, topK+1, &vector.Filter{
		OwnerID:        img.OwnerID,
		ExcludeImageID: imageID,
		Kinds:          []string{models.KindScene},
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}

	ranked := make([]*models.SearchResult, 0, len(hits))
	for _, h := range hits {
		ranked = append(ranked, &models.SearchResult{
			ImageID:    h.Metadata.ImageID,
			Score:      h.Score,
			SceneScore: h.Score,
			TopObjects: []*models.ObjectEvidence{},
		})
	}
	results, err := e.hydrate(ctx, ranked)
	if err != nil {
		return nil, err
	}
	return &models.SimilarResponse{
		ImageID:   imageID,
		Results:   results,
		QueryTime: time.Since(startTime).Milliseconds(),
	}, nil
}

// hydrate fills scene and thumbnail from metadata and assigns ranks. Hits whose image
// row is gone (index ahead of a delete) are dropped.
func (e *Engine) hydrate(ctx context.Context, ranked []*models.SearchResult) ([]*models.SearchResult, error) {
	out := make([]*models.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		img, err := e.storage.GetImage(ctx, r.ImageID)
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("index entry without image, run reindex or delete to repair",
				zap.String("image_id", r.ImageID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load image %s: %w", r.ImageID, err)
		}
		r.Scene = img.ScenePrimary()
		asset := img.ThumbnailURL
		if asset == "" {
			asset = img.OriginalURL
		}
		r.ThumbnailURL = PublicURL(asset, e.config.PublicPrefix)
		r.Rank = len(out) + 1
		out = append(out, r)
	}
	return out, nil
}

func (e *Engine) overfetch() int {
	if e.config.OverfetchFactor < 1 {
		return 1
	}
	return e.config.OverfetchFactor
}
