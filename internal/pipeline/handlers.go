package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/inference"
	"github.com/hyperjump/shashin/internal/media"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/queue"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

// current loads the image a job works on and reports whether the job still applies:
// the image exists, is on the job's run and is in one of the given statuses.
func (p *Pipeline) current(ctx context.Context, imageID string, run int, statuses ...models.ProcessingStatus) (*models.Image, bool, error) {
	img, err := p.store.GetImage(ctx, imageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if img.Run != run {
		return img, false, nil
	}
	for _, s := range statuses {
		if img.Status == s {
			return img, true, nil
		}
	}
	return img, false, nil
}

// handleProcessImage runs detection for one image. Any failure moves the image to failed
// and fails the job so it is retained in the job table.
func (p *Pipeline) handleProcessImage(ctx context.Context, job *queue.Job) ([]queue.Followup, error) {
	payload, ok := job.Payload.(ProcessImage)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T", job.Payload)
	}
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("image_id", payload.ImageID))

	img, ok, err := p.current(ctx, payload.ImageID, payload.Run, models.StatusQueued)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Debug("detection job is stale, skipping")
		return nil, nil
	}

	det, detectErr := p.detect(ctx, img)

	unlock := p.locks.lock(img.ID)
	defer unlock()
	img, ok, err = p.current(ctx, img.ID, payload.Run, models.StatusQueued)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Reset or deleted while detecting; the outcome belongs to a run nobody watches.
		log.Debug("image changed during detection, skipping")
		return nil, nil
	}
	var followups []queue.Followup
	if err = detectErr; err == nil {
		followups, err = p.annotate(ctx, img, det, payload.Run, log)
	}
	if err != nil {
		if uerr := p.store.UpdateImageStatus(ctx, img.ID, models.StatusFailed, err.Error()); uerr != nil {
			log.Error("failed to mark image failed", zap.Error(uerr))
		}
		return nil, err
	}
	return followups, nil
}

func (p *Pipeline) detect(ctx context.Context, img *models.Image) (*inference.Detection, error) {
	data, err := os.ReadFile(img.Source)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return p.client.Detect(ctx, data)
}

// annotate stores the detection of the current run: thumbnail and scene (detected), then
// one crop and object row per valid box (cropped). It returns the embedding follow-ups.
func (p *Pipeline) annotate(ctx context.Context, img *models.Image, det *inference.Detection, run int, log *zap.Logger) ([]queue.Followup, error) {
	src, err := media.Decode(img.Source)
	if err != nil {
		return nil, err
	}

	_, thumbURL, err := p.media.Thumbnail(src, img.Source)
	if err != nil {
		return nil, err
	}
	if err := p.store.SetImageDetection(ctx, img.ID, det.Scene, thumbURL); err != nil {
		return nil, fmt.Errorf("store detection: %w", err)
	}
	img.Scene = det.Scene
	img.ThumbnailURL = thumbURL

	objects := make([]*models.DetectedObject, 0, len(det.Objects))
	for i, box := range det.Objects {
		obj := &models.DetectedObject{
			ID:      uuid.NewString(),
			ImageID: img.ID,
			OwnerID: img.OwnerID,
			Class:   box.Class,
			Score:   box.Score,
			BBox:    box.BBox,
		}
		if err := obj.Validate(); err != nil {
			log.Warn("skipping invalid detection", zap.Int("index", i), zap.String("class", box.Class), zap.Error(err))
			continue
		}
		cropPath, cropURL, err := p.media.Crop(src, box.BBox, img.ID, i)
		if errors.Is(err, models.ErrInvalidBBox) {
			log.Warn("skipping detection outside image", zap.Int("index", i), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("crop object %d: %w", i, err)
		}
		obj.CropPath = cropPath
		obj.CropURL = cropURL
		if err := p.store.CreateObject(ctx, obj); err != nil {
			return nil, fmt.Errorf("store object: %w", err)
		}
		objects = append(objects, obj)
	}

	ids := make([]string, len(objects))
	for i, o := range objects {
		ids[i] = o.ID
	}
	if err := p.store.SetImageObjects(ctx, img.ID, ids); err != nil {
		return nil, fmt.Errorf("store objects: %w", err)
	}
	img.ObjectIDs = ids

	if p.labels != nil {
		if err := p.labels.Index(ctx, img, objects); err != nil {
			log.Warn("failed to index labels", zap.Error(err))
		}
	}
	log.Info("image annotated", zap.Int("objects", len(objects)), zap.String("scene", img.ScenePrimary()))

	followups := []queue.Followup{{
		Queue:   QueueEmbedding,
		Type:    JobGenerateEmbedding,
		Payload: GenerateEmbedding{ImageID: img.ID, Run: run, SourcePath: img.Source},
	}}
	if p.embedObjects {
		for _, o := range objects {
			followups = append(followups, queue.Followup{
				Queue:   QueueEmbedding,
				Type:    JobGenerateEmbedding,
				Payload: GenerateEmbedding{ImageID: img.ID, ObjectID: o.ID, Run: run, SourcePath: o.CropPath},
			})
		}
	}
	return followups, nil
}

// handleGenerateEmbedding embeds a whole image or one object crop, stores the vector and
// indexes it. Failures leave the image status unchanged; the failed job is retained.
// Jobs of an earlier run write nothing.
func (p *Pipeline) handleGenerateEmbedding(ctx context.Context, job *queue.Job) ([]queue.Followup, error) {
	payload, ok := job.Payload.(GenerateEmbedding)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T", job.Payload)
	}
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("image_id", payload.ImageID))
	if payload.ObjectID != "" {
		log = log.With(zap.String("object_id", payload.ObjectID))
	}

	img, ok, err := p.current(ctx, payload.ImageID, payload.Run, models.StatusCropped, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Debug("stale embedding job, skipping")
		return nil, nil
	}

	var src models.VectorSource = models.SceneSource{Scene: img.ScenePrimary()}
	if payload.ObjectID != "" {
		obj, err := p.store.GetObject(ctx, payload.ObjectID)
		if errors.Is(err, storage.ErrNotFound) {
			log.Debug("object removed before embedding, skipping")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		src = models.ObjectSource{
			ObjectID: obj.ID,
			Class:    obj.Class,
			Score:    obj.Score,
			BBox:     obj.BBox,
			Scene:    img.ScenePrimary(),
		}
	}

	data, err := os.ReadFile(payload.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("read embedding source: %w", err)
	}
	emb, embedErr := p.client.EmbedImage(ctx, data, p.model)

	unlock := p.locks.lock(img.ID)
	defer unlock()
	if _, ok, err = p.current(ctx, img.ID, payload.Run, models.StatusCropped, models.StatusCompleted); err != nil {
		return nil, err
	}
	if !ok {
		log.Debug("image changed during embedding, skipping")
		return nil, nil
	}
	if embedErr != nil {
		return nil, embedErr
	}
	vec, err := models.NewEmbeddingVector(vectorID(img.ID, payload.ObjectID), img.ID, img.OwnerID,
		emb.Vector, emb.Dims, p.model, src)
	if err != nil {
		return nil, err
	}

	if err := p.store.CreateVector(ctx, vec); err != nil {
		return nil, fmt.Errorf("store vector: %w", err)
	}
	if err := p.index.Upsert(ctx, []*vector.Entry{vector.EntryFromEmbedding(vec)}); err != nil {
		log.Error("vector stored but not indexed; run reindex to repair",
			zap.String("vector_id", vec.ID), zap.Error(err))
		return nil, fmt.Errorf("index vector: %w", err)
	}

	if payload.ObjectID != "" {
		if err := p.store.SetObjectEmbedding(ctx, payload.ObjectID, vec.ID); err != nil {
			log.Error("vector indexed but object back-reference not stored",
				zap.String("vector_id", vec.ID), zap.Error(err))
			return nil, err
		}
		return nil, nil
	}

	if err := p.store.UpdateImageStatus(ctx, img.ID, models.StatusCompleted, ""); err != nil {
		log.Error("vector indexed but image not marked completed",
			zap.String("vector_id", vec.ID), zap.Error(err))
		return nil, err
	}
	log.Info("image completed", zap.String("vector_id", vec.ID))
	return nil, nil
}
