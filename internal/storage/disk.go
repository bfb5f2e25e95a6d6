package storage

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyperjump/shashin/internal/config"
)

// Footprint is the on-disk size of each store, in bytes.
type Footprint struct {
	Database    int64 `json:"database"`
	VectorIndex int64 `json:"vector_index"`
	LabelIndex  int64 `json:"label_index"`
	Uploads     int64 `json:"uploads"`
}

// Total sums every store.
func (f Footprint) Total() int64 {
	return f.Database + f.VectorIndex + f.LabelIndex + f.Uploads
}

// MeasureFootprint sizes the stores configured in cfg. The SQLite -wal and -shm
// sidecars count toward the database. Missing paths contribute 0.
func MeasureFootprint(cfg config.StorageConfig) (Footprint, error) {
	var (
		fp  Footprint
		err error
	)
	db := cfg.DatabasePath
	if db == ":memory:" {
		db = ""
	}
	if fp.Database, err = sizeOf(db, sidecar(db, "-wal"), sidecar(db, "-shm")); err != nil {
		return Footprint{}, err
	}
	if fp.VectorIndex, err = sizeOf(cfg.VectorIndexPath); err != nil {
		return Footprint{}, err
	}
	if fp.LabelIndex, err = sizeOf(cfg.LabelIndexPath); err != nil {
		return Footprint{}, err
	}
	if fp.Uploads, err = sizeOf(cfg.UploadDir); err != nil {
		return Footprint{}, err
	}
	return fp, nil
}

func sidecar(path, suffix string) string {
	if path == "" {
		return ""
	}
	return path + suffix
}

// sizeOf sums files and directory trees; empty and missing paths are skipped.
func sizeOf(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
