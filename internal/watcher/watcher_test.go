package watcher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/shashin/internal/models"
)

type recordingIngester struct {
	mu    sync.Mutex
	names []string
	owner string
	body  map[string]string
}

func (r *recordingIngester) Ingest(ctx context.Context, ownerID, name string, rd io.Reader) (*models.Image, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "bad.png" {
		return nil, errors.New("unsupported image format")
	}
	r.names = append(r.names, name)
	r.owner = ownerID
	if r.body == nil {
		r.body = map[string]string{}
	}
	r.body[name] = string(data)
	return &models.Image{ID: "img-" + name, OwnerID: ownerID}, nil
}

func (r *recordingIngester) ingested() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestInbox_SyncExistingFilesOnStart(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("jpeg"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".partial.jpg"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ing := &recordingIngester{}
	in := NewInbox(dir, "alice", []string{".jpg", ".png"}, ing)
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	got := ing.ingested()
	if len(got) != 1 || got[0] != "a.jpg" || ing.owner != "alice" || ing.body["a.jpg"] != "jpeg" {
		t.Errorf("ingested %v as %q", got, ing.owner)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.jpg")); !os.IsNotExist(err) {
		t.Error("ingested file should be removed from the inbox")
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Error("non-image file should be left alone")
	}
}

func TestInbox_IngestsNewFilesAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	in := NewInbox(dir, "alice", []string{".png"}, ing, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	path := filepath.Join(dir, "new.png")
	if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(ing.ingested()) == 1 })
	waitFor(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	})
	if got := ing.ingested(); got[0] != "new.png" {
		t.Errorf("ingested = %v", got)
	}
}

func TestInbox_RejectedFilesMoved(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.png"), []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}
	ing := &recordingIngester{}
	in := NewInbox(dir, "alice", nil, ing)
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()

	if len(ing.ingested()) != 0 {
		t.Errorf("ingested = %v", ing.ingested())
	}
	if _, err := os.Stat(filepath.Join(dir, rejectedDir, "bad.png")); err != nil {
		t.Errorf("rejected file not moved: %v", err)
	}
}

func TestInbox_StartCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox", "drop")
	in := NewInbox(dir, "alice", nil, &recordingIngester{})
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer in.Stop()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("inbox should exist after Start: %v", err)
	}
	in.Stop()
	in.Stop()
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.jpg", []string{".jpg"}, true},
		{"/a/b.JPG", []string{"jpg"}, true},
		{"/a/b.gif", []string{".jpg", ".png"}, false},
		{"/a/b", nil, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}
