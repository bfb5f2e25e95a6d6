// Package media stores uploaded originals and the thumbnails and crops derived from them.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/models"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

const (
	thumbnailDir = "thumbnails"
	cropDir      = "crops"
)

// ErrUnsupportedFormat is returned for uploads that are not JPEG, PNG or WebP.
var ErrUnsupportedFormat = errors.New("unsupported image format")

var formatExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Store lays out assets under a root directory that is served at a public prefix.
type Store struct {
	root             string
	prefix           string
	thumbnailSize    int
	thumbnailQuality int
	cropQuality      int
	logger           *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates the directory layout under root.
func NewStore(root, publicPrefix string, cfg config.PipelineConfig, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("upload dir is required")
	}
	s := &Store{
		root:             root,
		prefix:           "/" + strings.Trim(publicPrefix, "/") + "/",
		thumbnailSize:    cfg.ThumbnailSize,
		thumbnailQuality: cfg.ThumbnailQuality,
		cropQuality:      cfg.CropQuality,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, dir := range []string{root, filepath.Join(root, thumbnailDir), filepath.Join(root, cropDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Root returns the directory assets are written to.
func (s *Store) Root() string {
	return s.root
}

// DetectFormat sniffs the leading bytes of an upload and returns the file extension
// for supported formats.
func DetectFormat(head []byte) (string, error) {
	ct := http.DetectContentType(head)
	if ext, ok := formatExt[ct]; ok {
		return ext, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ct)
}

// UploadName builds the stored file name img_<unix ms>_<random>_<base><ext>.
func UploadName(original, ext string) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	base = strings.Trim(unsafeName.ReplaceAllString(base, "_"), "_")
	if len(base) > 40 {
		base = base[:40]
	}
	if base == "" {
		base = "image"
	}
	rnd := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("img_%d_%s_%s%s", time.Now().UnixMilli(), rnd, base, ext)
}

// SaveUpload sniffs r, rejects unsupported formats, and writes it under the root.
// Returns the local path and public URL.
func (s *Store) SaveUpload(originalName string, r io.Reader) (path, url string, err error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", "", fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	ext, err := DetectFormat(head)
	if err != nil {
		return "", "", err
	}
	name := UploadName(originalName, ext)
	path = filepath.Join(s.root, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, io.MultiReader(bytes.NewReader(head), r)); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", "", fmt.Errorf("write upload file: %w", err)
	}
	return path, s.URL(name), nil
}

// Decode opens an image file, applying EXIF orientation.
func Decode(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Dimensions returns the pixel size of an image file.
func Dimensions(path string) (width, height int, err error) {
	img, err := Decode(path)
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// Thumbnail writes a JPEG that fits inside thumbnailSize×thumbnailSize without enlarging,
// named after the source file.
func (s *Store) Thumbnail(src image.Image, sourcePath string) (path, url string, err error) {
	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	thumb := imaging.Fit(src, s.thumbnailSize, s.thumbnailSize, imaging.Lanczos)
	rel := filepath.Join(thumbnailDir, "thumb_"+base+".jpg")
	path = filepath.Join(s.root, rel)
	if err := imaging.Save(thumb, path, imaging.JPEGQuality(s.thumbnailQuality)); err != nil {
		return "", "", fmt.Errorf("save thumbnail: %w", err)
	}
	return path, s.URL(rel), nil
}

// Crop cuts bbox out of src and writes crop_<imageID>_<index>.jpg. The box is clamped to
// the image; a box that does not overlap the image is an error.
func (s *Store) Crop(src image.Image, bbox models.BBox, imageID string, index int) (path, url string, err error) {
	bounds := src.Bounds()
	rect := bbox.Clamp().Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return "", "", fmt.Errorf("%w: box %v outside %dx%d image", models.ErrInvalidBBox, bbox.Slice(), bounds.Dx(), bounds.Dy())
	}
	crop := imaging.Crop(src, rect)
	rel := filepath.Join(cropDir, fmt.Sprintf("crop_%s_%d.jpg", imageID, index))
	path = filepath.Join(s.root, rel)
	if err := imaging.Save(crop, path, imaging.JPEGQuality(s.cropQuality)); err != nil {
		return "", "", fmt.Errorf("save crop: %w", err)
	}
	return path, s.URL(rel), nil
}

// URL returns the public URL of a path relative to the root.
func (s *Store) URL(rel string) string {
	return s.prefix + filepath.ToSlash(rel)
}

// LocalPath maps a public URL back to a file under the root.
func (s *Store) LocalPath(url string) (string, bool) {
	if !strings.HasPrefix(url, s.prefix) {
		return "", false
	}
	rel := filepath.FromSlash(strings.TrimPrefix(url, s.prefix))
	path := filepath.Join(s.root, rel)
	if r, err := filepath.Rel(s.root, path); err != nil || r == "." || strings.HasPrefix(r, "..") {
		return "", false
	}
	return path, true
}

// Remove deletes the asset behind a public URL. Missing files and foreign URLs are ignored.
func (s *Store) Remove(urls ...string) {
	for _, u := range urls {
		if u == "" {
			continue
		}
		path, ok := s.LocalPath(u)
		if !ok {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove asset", zap.String("path", path), zap.Error(err))
		}
	}
}
