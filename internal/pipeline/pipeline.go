// Package pipeline annotates uploaded images: detection, thumbnails and crops on one queue,
// embeddings on another, both under the scheduler's shared concurrency ceiling.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/inference"
	"github.com/hyperjump/shashin/internal/media"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/queue"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

// Queue and job names.
const (
	QueueImageProcessing = "image-processing"
	QueueEmbedding       = "embedding-generation"

	JobProcessImage      = "process-image"
	JobGenerateEmbedding = "generate-embedding"
)

// ProcessImage is the payload of a detection job.
type ProcessImage struct {
	ImageID string `json:"imageId"`
	Run     int    `json:"run"`
}

// GenerateEmbedding is the payload of an embedding job. An empty ObjectID means the whole image.
type GenerateEmbedding struct {
	ImageID    string `json:"imageId"`
	ObjectID   string `json:"objectId,omitempty"`
	Run        int    `json:"run"`
	SourcePath string `json:"-"`
}

// LabelIndexer receives the labels of annotated images for keyword lookup.
type LabelIndexer interface {
	Index(ctx context.Context, img *models.Image, objects []*models.DetectedObject) error
	Delete(ctx context.Context, imageID string) error
}

// Pipeline owns the processing workflow of images.
type Pipeline struct {
	scheduler    *queue.Scheduler
	store        storage.Storage
	client       inference.Client
	media        *media.Store
	index        vector.Index
	labels       LabelIndexer
	model        string
	embedObjects bool
	logger       *zap.Logger
	locks        imageLocks
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithLabelIndex enables keyword indexing of scene labels and object classes.
func WithLabelIndex(l LabelIndexer) Option {
	return func(p *Pipeline) { p.labels = l }
}

// New wires the pipeline and registers its handlers on the scheduler.
func New(s *queue.Scheduler, store storage.Storage, client inference.Client, assets *media.Store,
	index vector.Index, cfg config.PipelineConfig, model string, opts ...Option) *Pipeline {
	p := &Pipeline{
		scheduler:    s,
		store:        store,
		client:       client,
		media:        assets,
		index:        index,
		model:        model,
		embedObjects: cfg.EmbedObjectsOrDefault(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	s.Register(QueueImageProcessing, p.handleProcessImage)
	s.Register(QueueEmbedding, p.handleGenerateEmbedding)
	return p
}

// Ingest stores an upload and submits it for processing.
func (p *Pipeline) Ingest(ctx context.Context, ownerID, name string, r io.Reader) (*models.Image, error) {
	path, url, err := p.media.SaveUpload(name, r)
	if err != nil {
		return nil, err
	}
	img, err := p.Submit(ctx, ownerID, path, url)
	if err != nil {
		p.media.Remove(url)
		return nil, err
	}
	return img, nil
}

// Submit records an image in the queued state and enqueues its detection job.
// It returns as soon as the job is enqueued; processing outcomes show up in the image status.
func (p *Pipeline) Submit(ctx context.Context, ownerID, sourcePath, originalURL string) (*models.Image, error) {
	width, height, err := media.Dimensions(sourcePath)
	if err != nil {
		return nil, err
	}
	img := &models.Image{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		OriginalURL: originalURL,
		Source:      sourcePath,
		Width:       width,
		Height:      height,
		Status:      models.StatusQueued,
	}
	if err := p.store.CreateImage(ctx, img); err != nil {
		return nil, fmt.Errorf("create image: %w", err)
	}
	if err := p.enqueueDetection(ctx, img.ID, img.Run); err != nil {
		return nil, err
	}
	p.logger.Info("image queued", zap.String("image_id", img.ID), zap.String("owner_id", ownerID))
	return img, nil
}

func (p *Pipeline) enqueueDetection(ctx context.Context, imageID string, run int) error {
	job := ProcessImage{ImageID: imageID, Run: run}
	if _, err := p.scheduler.Enqueue(QueueImageProcessing, JobProcessImage, job); err != nil {
		if uerr := p.store.UpdateImageStatus(ctx, imageID, models.StatusFailed, err.Error()); uerr != nil {
			p.logger.Error("failed to mark image failed", zap.String("image_id", imageID), zap.Error(uerr))
		}
		return fmt.Errorf("enqueue detection: %w", err)
	}
	return nil
}

// Get returns an image with its objects. Images of other owners are reported as not found.
func (p *Pipeline) Get(ctx context.Context, ownerID, imageID string) (*models.ImageDetail, error) {
	img, err := p.owned(ctx, ownerID, imageID)
	if err != nil {
		return nil, err
	}
	objects, err := p.store.ListObjectsByImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	return &models.ImageDetail{Image: img, Objects: objects}, nil
}

func (p *Pipeline) owned(ctx context.Context, ownerID, imageID string) (*models.Image, error) {
	img, err := p.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && img.OwnerID != ownerID {
		return nil, fmt.Errorf("image %s: %w", imageID, storage.ErrNotFound)
	}
	return img, nil
}

// Delete removes an image everywhere: index entries first so searches stop returning it,
// then metadata rows, label entries and asset files.
func (p *Pipeline) Delete(ctx context.Context, ownerID, imageID string) error {
	img, err := p.store.GetImage(ctx, imageID)
	if errors.Is(err, storage.ErrNotFound) {
		// Nothing in metadata; still make sure no stray vectors survive.
		if ierr := p.index.DeleteByImageID(ctx, imageID); ierr != nil {
			return ierr
		}
		return err
	}
	if err != nil {
		return err
	}
	if ownerID != "" && img.OwnerID != ownerID {
		return fmt.Errorf("image %s: %w", imageID, storage.ErrNotFound)
	}
	unlock := p.locks.lock(img.ID)
	defer unlock()
	crops, err := p.purgeAnnotations(ctx, img.ID)
	if err != nil {
		return err
	}
	if err := p.store.DeleteImage(ctx, img.ID); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	p.media.Remove(append(crops, img.OriginalURL, img.ThumbnailURL)...)
	p.logger.Info("image deleted", zap.String("image_id", img.ID))
	return nil
}

// Reprocess is the explicit re-upload path: annotations are dropped, the image goes
// back to queued and detection runs again.
func (p *Pipeline) Reprocess(ctx context.Context, ownerID, imageID string) (*models.Image, error) {
	img, err := p.owned(ctx, ownerID, imageID)
	if err != nil {
		return nil, err
	}
	if err := p.restart(ctx, img.ID); err != nil {
		return nil, err
	}
	return p.store.GetImage(ctx, img.ID)
}

// restart purges an image and queues it under a new run. Jobs still in flight for the
// previous run find the run changed and skip.
func (p *Pipeline) restart(ctx context.Context, imageID string) error {
	unlock := p.locks.lock(imageID)
	defer unlock()
	img, err := p.store.GetImage(ctx, imageID)
	if err != nil {
		return err
	}
	crops, err := p.purgeAnnotations(ctx, img.ID)
	if err != nil {
		return err
	}
	p.media.Remove(append(crops, img.ThumbnailURL)...)
	if err := p.store.ResetImage(ctx, img.ID); err != nil {
		return fmt.Errorf("reset image: %w", err)
	}
	return p.enqueueDetection(ctx, img.ID, img.Run+1)
}

// purgeAnnotations drops index entries, vectors, objects and labels of an image and
// returns the crop URLs that were referenced.
func (p *Pipeline) purgeAnnotations(ctx context.Context, imageID string) ([]string, error) {
	if err := p.index.DeleteByImageID(ctx, imageID); err != nil {
		return nil, fmt.Errorf("delete index entries: %w", err)
	}
	objects, err := p.store.ListObjectsByImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if err := p.store.DeleteVectorsByImage(ctx, imageID); err != nil {
		p.logger.Error("index entries removed but vector rows remain",
			zap.String("image_id", imageID), zap.Error(err))
		return nil, fmt.Errorf("delete vectors: %w", err)
	}
	if err := p.store.DeleteObjectsByImage(ctx, imageID); err != nil {
		return nil, fmt.Errorf("delete objects: %w", err)
	}
	if p.labels != nil {
		if err := p.labels.Delete(ctx, imageID); err != nil {
			p.logger.Warn("failed to delete label entry", zap.String("image_id", imageID), zap.Error(err))
		}
	}
	crops := make([]string, 0, len(objects))
	for _, o := range objects {
		crops = append(crops, o.CropURL)
	}
	return crops, nil
}

// Resume re-enqueues images left unfinished by a previous run. Queued images are enqueued
// as they are; partially processed ones start over.
func (p *Pipeline) Resume(ctx context.Context) (int, error) {
	var pending []*models.Image
	for _, status := range []models.ProcessingStatus{models.StatusQueued, models.StatusDetected, models.StatusCropped} {
		for offset := 0; ; offset += 100 {
			page, err := p.store.ListImages(ctx, "", status, offset, 100)
			if err != nil {
				return 0, err
			}
			pending = append(pending, page...)
			if len(page) < 100 {
				break
			}
		}
	}
	for _, img := range pending {
		var err error
		if img.Status == models.StatusQueued {
			err = p.enqueueDetection(ctx, img.ID, img.Run)
		} else {
			err = p.restart(ctx, img.ID)
		}
		if err != nil {
			return 0, fmt.Errorf("resume image %s: %w", img.ID, err)
		}
	}
	if len(pending) > 0 {
		p.logger.Info("resumed unfinished images", zap.Int("count", len(pending)))
	}
	return len(pending), nil
}

// Reindex upserts every stored embedding into the vector index, repairing entries lost
// when an index write failed after its metadata write.
func (p *Pipeline) Reindex(ctx context.Context) (int, error) {
	total := 0
	for offset := 0; ; offset += 500 {
		page, err := p.store.ListVectors(ctx, offset, 500)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			break
		}
		entries := make([]*vector.Entry, 0, len(page))
		for _, v := range page {
			entries = append(entries, vector.EntryFromEmbedding(v))
		}
		if err := p.index.Upsert(ctx, entries); err != nil {
			return total, fmt.Errorf("upsert index: %w", err)
		}
		total += len(entries)
		if len(page) < 500 {
			break
		}
	}
	p.logger.Info("reindexed embeddings", zap.Int("count", total), zap.Int("index_size", p.index.Size()))
	return total, nil
}

// Stats returns the scheduler's job table counts.
func (p *Pipeline) Stats() queue.Stats {
	return p.scheduler.Stats()
}

// FailedJobs returns retained failed jobs.
func (p *Pipeline) FailedJobs() []queue.Job {
	return p.scheduler.FailedJobs()
}

// Wait blocks until every queued job has finished.
func (p *Pipeline) Wait(ctx context.Context) error {
	return p.scheduler.Wait(ctx)
}

// vectorID derives a stable embedding id so a rerun replaces instead of duplicating.
func vectorID(imageID, objectID string) string {
	name := imageID + "/scene"
	if objectID != "" {
		name = imageID + "/object/" + objectID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
