package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shashin/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Workers write concurrently; a single connection serializes them and keeps
	// ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		original_url TEXT NOT NULL,
		source_path TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		scene TEXT NOT NULL DEFAULT '',
		object_ids TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		run INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_images_owner_created ON images(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_images_status ON images(status);

	CREATE TABLE IF NOT EXISTS objects (
		id TEXT PRIMARY KEY,
		image_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		class TEXT NOT NULL,
		score REAL NOT NULL,
		bbox TEXT NOT NULL,
		crop_url TEXT NOT NULL DEFAULT '',
		crop_path TEXT NOT NULL DEFAULT '',
		embedding_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (image_id) REFERENCES images(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_objects_image_id ON objects(image_id);

	CREATE TABLE IF NOT EXISTS vectors (
		id TEXT PRIMARY KEY,
		image_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		object_id TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		vector TEXT NOT NULL,
		dims INTEGER NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (image_id) REFERENCES images(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_vectors_image_kind ON vectors(image_id, kind);
	`
	_, err := db.Exec(schema)
	return err
}

const imageColumns = `id, owner_id, original_url, source_path, thumbnail_url, width, height,
	scene, object_ids, status, error, run, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanImage(row rowScanner) (*models.Image, error) {
	var img models.Image
	var sceneJSON, objectIDsJSON, status string
	if err := row.Scan(&img.ID, &img.OwnerID, &img.OriginalURL, &img.Source, &img.ThumbnailURL,
		&img.Width, &img.Height, &sceneJSON, &objectIDsJSON, &status, &img.Error, &img.Run,
		&img.CreatedAt, &img.UpdatedAt); err != nil {
		return nil, err
	}
	img.Status = models.ProcessingStatus(status)
	if sceneJSON != "" {
		var scene models.Scene
		if err := json.Unmarshal([]byte(sceneJSON), &scene); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scene: %w", err)
		}
		img.Scene = &scene
	}
	img.ObjectIDs = []string{}
	if objectIDsJSON != "" {
		if err := json.Unmarshal([]byte(objectIDsJSON), &img.ObjectIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal object ids: %w", err)
		}
	}
	return &img, nil
}

// CreateImage inserts an image. A zero status becomes queued.
func (s *SQLiteStorage) CreateImage(ctx context.Context, img *models.Image) error {
	if img.Status == "" {
		img.Status = models.StatusQueued
	}
	if !img.Status.Valid() {
		return fmt.Errorf("invalid status %q", img.Status)
	}
	if img.ObjectIDs == nil {
		img.ObjectIDs = []string{}
	}
	objectIDsJSON, err := json.Marshal(img.ObjectIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal object ids: %w", err)
	}
	sceneJSON, err := marshalScene(img.Scene)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	img.CreatedAt = now
	img.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO images (`+imageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.OwnerID, img.OriginalURL, img.Source, img.ThumbnailURL, img.Width, img.Height,
		sceneJSON, string(objectIDsJSON), string(img.Status), img.Error, img.Run, img.CreatedAt, img.UpdatedAt,
	)
	return err
}

// GetImage returns an image by ID.
func (s *SQLiteStorage) GetImage(ctx context.Context, id string) (*models.Image, error) {
	img, err := scanImage(s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

// ListImages returns images newest first. Empty ownerID or status match everything.
func (s *SQLiteStorage) ListImages(ctx context.Context, ownerID string, status models.ProcessingStatus, offset, limit int) ([]*models.Image, error) {
	var where []string
	var args []interface{}
	if ownerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, ownerID)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}
	query := `SELECT ` + imageColumns + ` FROM images`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := []*models.Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// UpdateImageStatus moves an image to status. Backward moves fail with models.ErrInvalidTransition.
func (s *SQLiteStorage) UpdateImageStatus(ctx context.Context, id string, status models.ProcessingStatus, errMsg string) error {
	return s.transition(ctx, id, status, `error = ?`, errMsg)
}

// SetImageDetection stores the scene and thumbnail and moves the image to detected.
func (s *SQLiteStorage) SetImageDetection(ctx context.Context, id string, scene *models.Scene, thumbnailURL string) error {
	sceneJSON, err := marshalScene(scene)
	if err != nil {
		return err
	}
	return s.transition(ctx, id, models.StatusDetected, `scene = ?, thumbnail_url = ?`, sceneJSON, thumbnailURL)
}

// SetImageObjects stores the object back-references and moves the image to cropped.
func (s *SQLiteStorage) SetImageObjects(ctx context.Context, id string, objectIDs []string) error {
	if objectIDs == nil {
		objectIDs = []string{}
	}
	data, err := json.Marshal(objectIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal object ids: %w", err)
	}
	return s.transition(ctx, id, models.StatusCropped, `object_ids = ?`, string(data))
}

// transition checks the status move and applies it with extra column assignments in one transaction.
func (s *SQLiteStorage) transition(ctx context.Context, id string, to models.ProcessingStatus, set string, args ...interface{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM images WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if err := models.ProcessingStatus(current).CheckTransition(to); err != nil {
		return fmt.Errorf("image %s: %w", id, err)
	}

	args = append(args, string(to), time.Now().UTC(), id)
	if _, err := tx.ExecContext(ctx,
		`UPDATE images SET `+set+`, status = ?, updated_at = ? WHERE id = ?`, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetImage returns an image to queued, clears its annotations and starts a new run.
// This is the only way back to an earlier state and is used for explicit reprocessing.
func (s *SQLiteStorage) ResetImage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE images SET status = ?, scene = '', object_ids = '[]', thumbnail_url = '', error = '',
		 run = run + 1, updated_at = ?
		 WHERE id = ?`,
		string(models.StatusQueued), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteImage removes an image and, through cascades, its objects and vectors.
func (s *SQLiteStorage) DeleteImage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	return err
}

const objectColumns = `id, image_id, owner_id, class, score, bbox, crop_url, crop_path, embedding_id, created_at`

func scanObject(row rowScanner) (*models.DetectedObject, error) {
	var obj models.DetectedObject
	var bboxJSON string
	if err := row.Scan(&obj.ID, &obj.ImageID, &obj.OwnerID, &obj.Class, &obj.Score, &bboxJSON,
		&obj.CropURL, &obj.CropPath, &obj.EmbeddingID, &obj.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(bboxJSON), &obj.BBox); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bbox: %w", err)
	}
	return &obj, nil
}

// CreateObject inserts a detected object.
func (s *SQLiteStorage) CreateObject(ctx context.Context, obj *models.DetectedObject) error {
	if err := obj.Validate(); err != nil {
		return err
	}
	bboxJSON, err := json.Marshal(obj.BBox)
	if err != nil {
		return fmt.Errorf("failed to marshal bbox: %w", err)
	}
	obj.CreatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO objects (`+objectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obj.ID, obj.ImageID, obj.OwnerID, obj.Class, obj.Score, string(bboxJSON),
		obj.CropURL, obj.CropPath, obj.EmbeddingID, obj.CreatedAt,
	)
	return err
}

// GetObject returns an object by ID.
func (s *SQLiteStorage) GetObject(ctx context.Context, id string) (*models.DetectedObject, error) {
	obj, err := scanObject(s.db.QueryRowContext(ctx,
		`SELECT `+objectColumns+` FROM objects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// ListObjectsByImage returns the objects of an image in detection order.
func (s *SQLiteStorage) ListObjectsByImage(ctx context.Context, imageID string) ([]*models.DetectedObject, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+objectColumns+` FROM objects WHERE image_id = ? ORDER BY created_at, rowid`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	objects := []*models.DetectedObject{}
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

// SetObjectEmbedding records the embedding back-reference of an object.
func (s *SQLiteStorage) SetObjectEmbedding(ctx context.Context, objectID, embeddingID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE objects SET embedding_id = ? WHERE id = ?`, embeddingID, objectID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("object %s: %w", objectID, ErrNotFound)
	}
	return nil
}

// DeleteObjectsByImage removes all objects of an image.
func (s *SQLiteStorage) DeleteObjectsByImage(ctx context.Context, imageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE image_id = ?`, imageID)
	return err
}

const vectorColumns = `id, image_id, owner_id, kind, object_id, source, vector, dims, model, created_at`

func scanVector(row rowScanner) (*models.EmbeddingVector, error) {
	var v models.EmbeddingVector
	var kind, objectID, sourceJSON, vectorJSON string
	if err := row.Scan(&v.ID, &v.ImageID, &v.OwnerID, &kind, &objectID, &sourceJSON,
		&vectorJSON, &v.Dims, &v.Model, &v.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(vectorJSON), &v.Vector); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vector: %w", err)
	}
	switch kind {
	case models.KindScene:
		var src models.SceneSource
		if err := json.Unmarshal([]byte(sourceJSON), &src); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source: %w", err)
		}
		v.Source = src
	case models.KindObject:
		var src models.ObjectSource
		if err := json.Unmarshal([]byte(sourceJSON), &src); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source: %w", err)
		}
		v.Source = src
	default:
		return nil, fmt.Errorf("vector %s: unknown source kind %q", v.ID, kind)
	}
	return &v, nil
}

// CreateVector stores an embedding, replacing any previous row with the same ID.
func (s *SQLiteStorage) CreateVector(ctx context.Context, v *models.EmbeddingVector) error {
	if v.Source == nil {
		return fmt.Errorf("vector %s: source is required", v.ID)
	}
	if len(v.Vector) == 0 {
		return models.ErrEmptyVector
	}
	sourceJSON, err := json.Marshal(v.Source)
	if err != nil {
		return fmt.Errorf("failed to marshal source: %w", err)
	}
	vectorJSON, err := json.Marshal(v.Vector)
	if err != nil {
		return fmt.Errorf("failed to marshal vector: %w", err)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vectors (`+vectorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ImageID, v.OwnerID, v.Source.Kind(), v.ObjectID(), string(sourceJSON),
		string(vectorJSON), v.Dims, v.Model, v.CreatedAt,
	)
	return err
}

// GetSceneVector returns the whole-image embedding of an image.
func (s *SQLiteStorage) GetSceneVector(ctx context.Context, imageID string) (*models.EmbeddingVector, error) {
	v, err := scanVector(s.db.QueryRowContext(ctx,
		`SELECT `+vectorColumns+` FROM vectors WHERE image_id = ? AND kind = ?
		 ORDER BY created_at DESC LIMIT 1`, imageID, models.KindScene))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scene vector for image %s: %w", imageID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListVectorsByImage returns every embedding of an image.
func (s *SQLiteStorage) ListVectorsByImage(ctx context.Context, imageID string) ([]*models.EmbeddingVector, error) {
	return s.queryVectors(ctx,
		`SELECT `+vectorColumns+` FROM vectors WHERE image_id = ? ORDER BY created_at, id`, imageID)
}

// ListVectors pages through all embeddings.
func (s *SQLiteStorage) ListVectors(ctx context.Context, offset, limit int) ([]*models.EmbeddingVector, error) {
	return s.queryVectors(ctx,
		`SELECT `+vectorColumns+` FROM vectors ORDER BY rowid LIMIT ? OFFSET ?`, limit, offset)
}

func (s *SQLiteStorage) queryVectors(ctx context.Context, query string, args ...interface{}) ([]*models.EmbeddingVector, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vectors := []*models.EmbeddingVector{}
	for rows.Next() {
		v, err := scanVector(rows)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

// DeleteVectorsByImage removes all embeddings of an image.
func (s *SQLiteStorage) DeleteVectorsByImage(ctx context.Context, imageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE image_id = ?`, imageID)
	return err
}

// CountImages returns the number of images, for one owner or all when ownerID is empty.
func (s *SQLiteStorage) CountImages(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	var err error
	if ownerID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE owner_id = ?`, ownerID).Scan(&count)
	}
	return count, err
}

// CountByStatus returns image counts per processing status.
func (s *SQLiteStorage) CountByStatus(ctx context.Context) (map[models.ProcessingStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM images GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.ProcessingStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.ProcessingStatus(status)] = n
	}
	return counts, rows.Err()
}

// CountObjects returns the total number of detected objects.
func (s *SQLiteStorage) CountObjects(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects`).Scan(&count)
	return count, err
}

// CountVectors returns the total number of stored embeddings.
func (s *SQLiteStorage) CountVectors(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func marshalScene(scene *models.Scene) (string, error) {
	if scene == nil {
		return "", nil
	}
	data, err := json.Marshal(scene)
	if err != nil {
		return "", fmt.Errorf("failed to marshal scene: %w", err)
	}
	return string(data), nil
}
