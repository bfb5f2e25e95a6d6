// Package integration provides tests across restarts (requires real storage and indices on disk).
package integration

import (
	"bytes"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/inference"
	"github.com/hyperjump/shashin/internal/keyword"
	"github.com/hyperjump/shashin/internal/media"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/pipeline"
	"github.com/hyperjump/shashin/internal/queue"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
	"github.com/hyperjump/shashin/internal/watcher"
)

const dims = 8

// stack is one process lifetime over the same data directory.
type stack struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	index    vector.Index
	labels   *keyword.LabelIndex
	media    *media.Store
	sched    *queue.Scheduler
	pipeline *pipeline.Pipeline
	engine   *search.Engine
}

func testConfig(dir string) *config.Config {
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath:    filepath.Join(dir, "db.sqlite"),
			VectorIndexPath: filepath.Join(dir, "vectors.json"),
			UploadDir:       filepath.Join(dir, "uploads"),
			LabelIndexPath:  filepath.Join(dir, "labels"),
		},
		Vector: config.VectorConfig{Dimensions: dims},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func openStack(t *testing.T, cfg *config.Config) *stack {
	t.Helper()
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := vector.NewIndex(cfg.Vector.IndexType, cfg.Storage.VectorIndexPath, cfg.Vector.Dimensions, nil)
	if err != nil {
		t.Fatal(err)
	}
	labels, err := keyword.NewLabelIndex(cfg.Storage.LabelIndexPath)
	if err != nil {
		t.Fatal(err)
	}
	assets, err := media.NewStore(cfg.Storage.UploadDir, cfg.Search.PublicPrefix, cfg.Pipeline)
	if err != nil {
		t.Fatal(err)
	}
	client := inference.NewMockClient(dims)
	client.SetDetectFunc(func([]byte) (*inference.Detection, error) {
		return &inference.Detection{
			Objects: []inference.DetectedBox{{Class: "kite", Score: 0.8, BBox: models.BBox{X: 4, Y: 4, Width: 16, Height: 16}}},
			Scene:   &models.Scene{Primary: "beach"},
		}, nil
	})
	sched := queue.NewScheduler(cfg.Pipeline.MaxConcurrent)
	p := pipeline.New(sched, store, client, assets, idx, cfg.Pipeline, cfg.Inference.Model, pipeline.WithLabelIndex(labels))
	engine, err := search.NewEngine(store, client, idx, &cfg.Search, cfg.Inference.Model)
	if err != nil {
		t.Fatal(err)
	}
	return &stack{cfg: cfg, store: store, index: idx, labels: labels, media: assets, sched: sched, pipeline: p, engine: engine}
}

func (s *stack) close() {
	_ = s.sched.Close()
	_ = s.labels.Close()
	_ = s.index.Save()
	_ = s.index.Close()
	_ = s.store.Close()
}

func (s *stack) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.pipeline.Wait(ctx); err != nil {
		t.Fatal(err)
	}
}

func pngOf(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(48, 32, c), imaging.PNG); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func searchIDs(t *testing.T, s *stack, text string) []string {
	t.Helper()
	resp, err := s.engine.Search(context.Background(), &models.SearchQuery{OwnerID: "alice", Text: text, TopK: 10})
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.ImageID
	}
	return ids
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestIntegration_IndexSurvivesRestartAndReindex(t *testing.T) {
	cfg := testConfig(t.TempDir())
	ctx := context.Background()

	first := openStack(t, cfg)
	for _, c := range []color.NRGBA{{R: 255, A: 255}, {G: 255, A: 255}, {B: 255, A: 255}} {
		if _, err := first.pipeline.Ingest(ctx, "alice", "shot.png", bytes.NewReader(pngOf(t, c))); err != nil {
			t.Fatal(err)
		}
	}
	first.wait(t)
	before := searchIDs(t, first, "kite on the beach")
	if len(before) != 3 || first.index.Size() != 6 {
		t.Fatalf("before restart: %d results, index size %d", len(before), first.index.Size())
	}
	first.close()

	second := openStack(t, cfg)
	if second.index.Size() != 6 {
		t.Errorf("index size after restart = %d, want 6", second.index.Size())
	}
	if after := searchIDs(t, second, "kite on the beach"); !sameOrder(before, after) {
		t.Errorf("ranking changed across restart: %v vs %v", before, after)
	}
	hits, err := second.labels.Search(ctx, "alice", "kite", 10)
	if err != nil || len(hits) != 3 {
		t.Errorf("label index after restart: %d hits, %v", len(hits), err)
	}
	second.close()

	if err := os.Remove(cfg.Storage.VectorIndexPath); err != nil {
		t.Fatal(err)
	}
	third := openStack(t, cfg)
	defer third.close()
	if third.index.Size() != 0 {
		t.Fatalf("index size without file = %d", third.index.Size())
	}
	n, err := third.pipeline.Reindex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 || third.index.Size() != 6 {
		t.Errorf("reindexed %d, index size %d", n, third.index.Size())
	}
	if after := searchIDs(t, third, "kite on the beach"); !sameOrder(before, after) {
		t.Errorf("ranking changed across reindex: %v vs %v", before, after)
	}
}

func TestIntegration_ResumeUnfinishedImages(t *testing.T) {
	cfg := testConfig(t.TempDir())
	ctx := context.Background()

	// Simulate a process that stopped with one image queued and one half-annotated.
	crashed := openStack(t, cfg)
	var ids []string
	for i, c := range []color.NRGBA{{R: 200, A: 255}, {G: 200, A: 255}} {
		path, url, err := crashed.media.SaveUpload("left.png", bytes.NewReader(pngOf(t, c)))
		if err != nil {
			t.Fatal(err)
		}
		img := &models.Image{ID: []string{"queued-img", "cropped-img"}[i], OwnerID: "alice",
			OriginalURL: url, Source: path, Width: 48, Height: 32}
		if err := crashed.store.CreateImage(ctx, img); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, img.ID)
	}
	if err := crashed.store.SetImageDetection(ctx, "cropped-img", &models.Scene{Primary: "beach"}, ""); err != nil {
		t.Fatal(err)
	}
	if err := crashed.store.SetImageObjects(ctx, "cropped-img", []string{}); err != nil {
		t.Fatal(err)
	}
	crashed.close()

	restarted := openStack(t, cfg)
	defer restarted.close()
	n, err := restarted.pipeline.Resume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("resumed %d images, want 2", n)
	}
	restarted.wait(t)
	for _, id := range ids {
		detail, err := restarted.pipeline.Get(ctx, "alice", id)
		if err != nil {
			t.Fatal(err)
		}
		if detail.Status != models.StatusCompleted || len(detail.Objects) != 1 {
			t.Errorf("%s: status %s with %d objects", id, detail.Status, len(detail.Objects))
		}
	}
	if n, _ := restarted.pipeline.Resume(ctx); n != 0 {
		t.Errorf("second resume found %d images", n)
	}
}

func TestIntegration_InboxIngest(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	s := openStack(t, cfg)
	defer s.close()

	inboxDir := filepath.Join(dir, "inbox")
	if err := os.MkdirAll(inboxDir, 0755); err != nil {
		t.Fatal(err)
	}
	// Present before start: picked up by the initial sync.
	if err := os.WriteFile(filepath.Join(inboxDir, "early.png"), pngOf(t, color.NRGBA{R: 90, A: 255}), 0644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbox := watcher.NewInbox(inboxDir, "alice", cfg.Watch.Extensions, s.pipeline, watcher.WithDebounce(20*time.Millisecond))
	if err := inbox.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer inbox.Stop()
	if err := os.WriteFile(filepath.Join(inboxDir, "late.png"), pngOf(t, color.NRGBA{B: 90, A: 255}), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		count, err := s.store.CountImages(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if count == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("inbox ingested %d of 2 images", count)
		}
		time.Sleep(20 * time.Millisecond)
	}
	s.wait(t)
	images, err := s.store.ListImages(ctx, "alice", models.StatusCompleted, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 2 {
		t.Errorf("completed images = %d, want 2", len(images))
	}
}
