package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Config{}
	config.ApplyDefaults(&cfg)
	s, err := NewStore(t.TempDir(), "/uploads/", cfg.Pipeline)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(w, h, color.NRGBA{R: 200, A: 255}), imaging.PNG); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	if ext, err := DetectFormat(encodePNG(t, 2, 2)); err != nil || ext != ".png" {
		t.Errorf("png: %q %v", ext, err)
	}
	var jpg bytes.Buffer
	_ = imaging.Encode(&jpg, imaging.New(2, 2, color.White), imaging.JPEG)
	if ext, err := DetectFormat(jpg.Bytes()); err != nil || ext != ".jpg" {
		t.Errorf("jpeg: %q %v", ext, err)
	}
	if _, err := DetectFormat([]byte("GIF89a......")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("gif should be rejected, got %v", err)
	}
}

func TestUploadName(t *testing.T) {
	name := UploadName("../My Holiday Photo!.PNG", ".png")
	if !strings.HasPrefix(name, "img_") || !strings.HasSuffix(name, "_My_Holiday_Photo.png") {
		t.Errorf("name = %s", name)
	}
	if strings.Contains(name, "/") || strings.Contains(name, " ") {
		t.Errorf("unsafe characters in %s", name)
	}
	if UploadName("x.png", ".png") == UploadName("x.png", ".png") {
		t.Error("names should be unique")
	}
}

func TestSaveUploadAndDecode(t *testing.T) {
	s := newTestStore(t)
	path, url, err := s.SaveUpload("cat.png", bytes.NewReader(encodePNG(t, 40, 30)))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != s.Root() || !strings.HasPrefix(url, "/uploads/img_") {
		t.Errorf("path=%s url=%s", path, url)
	}
	w, h, err := Dimensions(path)
	if err != nil {
		t.Fatal(err)
	}
	if w != 40 || h != 30 {
		t.Errorf("dimensions = %dx%d", w, h)
	}
	if got, ok := s.LocalPath(url); !ok || got != path {
		t.Errorf("LocalPath(%s) = %s, %v", url, got, ok)
	}
}

func TestSaveUploadRejectsUnsupported(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.SaveUpload("notes.txt", strings.NewReader("hello world")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v", err)
	}
	entries, _ := os.ReadDir(s.Root())
	for _, e := range entries {
		if !e.IsDir() {
			t.Errorf("rejected upload left a file: %s", e.Name())
		}
	}
}

func TestThumbnail(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		name        string
		w, h        int
		wantW, wantH int
	}{
		{"landscape", 1024, 512, 256, 128},
		{"portrait", 300, 600, 128, 256},
		{"small image not enlarged", 100, 50, 100, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := imaging.New(tt.w, tt.h, color.White)
			path, url, err := s.Thumbnail(src, "/somewhere/img_1_ab_photo.png")
			if err != nil {
				t.Fatal(err)
			}
			if url != "/uploads/thumbnails/thumb_img_1_ab_photo.jpg" {
				t.Errorf("url = %s", url)
			}
			w, h, err := Dimensions(path)
			if err != nil {
				t.Fatal(err)
			}
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("thumbnail = %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestCrop(t *testing.T) {
	s := newTestStore(t)
	src := imaging.New(100, 80, color.White)

	path, url, err := s.Crop(src, models.BBox{X: 10.7, Y: 5.2, Width: 30.9, Height: 20}, "img1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if url != "/uploads/crops/crop_img1_0.jpg" {
		t.Errorf("url = %s", url)
	}
	w, h, _ := Dimensions(path)
	if w != 30 || h != 20 {
		t.Errorf("crop = %dx%d, want 30x20", w, h)
	}

	// Negative offsets clamp to zero; overhang is trimmed to the image.
	path, _, err = s.Crop(src, models.BBox{X: -3, Y: 70, Width: 20, Height: 30}, "img1", 1)
	if err != nil {
		t.Fatal(err)
	}
	w, h, _ = Dimensions(path)
	if w != 20 || h != 10 {
		t.Errorf("clamped crop = %dx%d, want 20x10", w, h)
	}

	if _, _, err := s.Crop(src, models.BBox{X: 200, Y: 200, Width: 10, Height: 10}, "img1", 2); !errors.Is(err, models.ErrInvalidBBox) {
		t.Errorf("outside box err = %v", err)
	}
}

func TestCropNonZeroOrigin(t *testing.T) {
	s := newTestStore(t)
	full := imaging.New(50, 50, color.White)
	sub := full.SubImage(image.Rect(10, 10, 50, 50))
	path, _, err := s.Crop(sub, models.BBox{X: 0, Y: 0, Width: 5, Height: 5}, "img2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if w, h, _ := Dimensions(path); w != 5 || h != 5 {
		t.Errorf("crop = %dx%d", w, h)
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	path, url, err := s.SaveUpload("a.png", bytes.NewReader(encodePNG(t, 4, 4)))
	if err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(t.TempDir(), "keep.txt")
	_ = os.WriteFile(outside, []byte("x"), 0644)

	s.Remove(url, "", "/uploads/missing.jpg", "/uploads/../../"+filepath.Base(outside), "https://cdn.example.com/a.jpg")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("upload should be removed")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Error("files outside the root must not be touched")
	}
}
