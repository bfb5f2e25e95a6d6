// Package watcher ingests image files dropped into an inbox directory.
package watcher

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/models"
)

const (
	defaultDebounce = 400 * time.Millisecond
	rejectedDir     = "rejected"
)

// Ingester accepts an image for processing.
type Ingester interface {
	Ingest(ctx context.Context, ownerID, name string, r io.Reader) (*models.Image, error)
}

// Inbox watches a directory and hands new image files to an Ingester under one owner.
// Ingested files are removed from the inbox; files that fail are moved to rejected/.
type Inbox struct {
	dir        string
	owner      string
	extensions []string
	ingester   Ingester
	debounce   time.Duration
	logger     *zap.Logger

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	debounceMap map[string]*time.Timer
	active      map[string]bool
	started     bool
	ctx         context.Context
	done        chan struct{}
	stopOnce    sync.Once
	inflight    sync.WaitGroup
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) { in.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) { in.debounce = d }
}

// NewInbox creates an inbox watcher. extensions filter which files are ingested (empty = all).
func NewInbox(dir, owner string, extensions []string, ing Ingester, opts ...Option) *Inbox {
	in := &Inbox{
		dir:         filepath.Clean(dir),
		owner:       owner,
		extensions:  extensions,
		ingester:    ing,
		debounce:    defaultDebounce,
		logger:      zap.NewNop(),
		debounceMap: make(map[string]*time.Timer),
		active:      make(map[string]bool),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string {
	return in.dir
}

// Start creates the inbox if needed, begins watching and ingests files already present.
// It runs until ctx is cancelled or Stop is called.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.started {
		in.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(in.dir, 0755); err != nil {
		in.mu.Unlock()
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		in.mu.Unlock()
		return err
	}
	if err := fw.Add(in.dir); err != nil {
		_ = fw.Close()
		in.mu.Unlock()
		return err
	}
	in.watcher = fw
	in.started = true
	in.ctx = ctx
	in.mu.Unlock()

	in.logger.Info("watching inbox", zap.String("dir", in.dir), zap.String("owner", in.owner))
	go in.run(ctx, fw)
	in.SyncExistingFiles()
	return nil
}

func (in *Inbox) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			in.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				in.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (in *Inbox) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if filepath.Dir(filepath.Clean(path)) != in.dir {
		return
	}
	in.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if in.candidate(path) {
			in.debounceIngest(path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		in.cancelDebounce(path)
	}
}

// candidate reports whether path is a visible regular file with an accepted extension.
func (in *Inbox) candidate(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") || !matchExtension(path, in.extensions) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (in *Inbox) debounceIngest(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.started {
		return
	}
	if t, ok := in.debounceMap[path]; ok {
		t.Stop()
	}
	in.debounceMap[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.debounceMap, path)
		in.mu.Unlock()
		in.ingest(path)
	})
}

func (in *Inbox) cancelDebounce(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.debounceMap[path]; ok {
		t.Stop()
		delete(in.debounceMap, path)
	}
}

// ingest submits one file. It is safe to call for a path that has already been consumed.
func (in *Inbox) ingest(path string) {
	in.mu.Lock()
	if !in.started || in.active[path] {
		in.mu.Unlock()
		return
	}
	ctx := in.ctx
	in.active[path] = true
	in.inflight.Add(1)
	in.mu.Unlock()
	defer func() {
		in.mu.Lock()
		delete(in.active, path)
		in.mu.Unlock()
		in.inflight.Done()
	}()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		in.logger.Warn("failed to open inbox file", zap.String("path", path), zap.Error(err))
		return
	}
	img, err := in.ingester.Ingest(ctx, in.owner, filepath.Base(path), f)
	f.Close()
	if err != nil {
		in.logger.Warn("inbox file rejected", zap.String("path", path), zap.Error(err))
		in.reject(path)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		in.logger.Warn("failed to remove ingested inbox file", zap.String("path", path), zap.Error(err))
	}
	in.logger.Info("inbox file ingested", zap.String("path", path), zap.String("image_id", img.ID))
}

func (in *Inbox) reject(path string) {
	dst := filepath.Join(in.dir, rejectedDir)
	if err := os.MkdirAll(dst, 0755); err != nil {
		in.logger.Warn("failed to create rejected directory", zap.Error(err))
		return
	}
	if err := os.Rename(path, filepath.Join(dst, filepath.Base(path))); err != nil {
		in.logger.Warn("failed to move rejected file", zap.String("path", path), zap.Error(err))
	}
}

// SyncExistingFiles ingests every matching file currently in the inbox.
// Files in subdirectories, including rejected/, are left alone.
func (in *Inbox) SyncExistingFiles() {
	in.logger.Debug("watcher syncing existing files", zap.String("dir", in.dir))
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Warn("failed to read inbox", zap.String("dir", in.dir), zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.Type()&fs.ModeType != 0 {
			continue
		}
		path := filepath.Join(in.dir, e.Name())
		if in.candidate(path) {
			in.cancelDebounce(path)
			in.ingest(path)
		}
	}
}

// Stop stops watching, drops pending debounced files and waits for running ingests.
func (in *Inbox) Stop() {
	in.mu.Lock()
	if !in.started {
		in.mu.Unlock()
		return
	}
	for path, t := range in.debounceMap {
		t.Stop()
		delete(in.debounceMap, path)
	}
	_ = in.watcher.Close()
	in.started = false
	in.mu.Unlock()
	in.stopOnce.Do(func() { close(in.done) })
	in.inflight.Wait()
}
