// Package main is the shashin CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/cli"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/inference"
	"github.com/hyperjump/shashin/internal/keyword"
	"github.com/hyperjump/shashin/internal/media"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/pipeline"
	"github.com/hyperjump/shashin/internal/queue"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/server"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
	"github.com/hyperjump/shashin/internal/watcher"
	"github.com/hyperjump/shashin/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/shashin/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "similar":
		runSimilar()
	case "upload":
		runUpload()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "reindex":
		runReindex()
	case "version", "--version", "-v":
		fmt.Printf("shashin version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (job lifecycle, inbox events, etc.)")
	mock := fs.Bool("mock-inference", false, "use the deterministic mock inference client (no model service needed)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	// ctx is handed to job handlers; cancelling it aborts jobs still in flight at shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger, *mock)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	healthCtx, healthCancel := context.WithTimeout(ctx, cfg.Inference.HealthTimeout)
	if h := components.Client.Health(healthCtx); !h.Ready() {
		logger.Warn("inference service not fully ready; uploads will fail until it is",
			zap.Bool("yolo", h.Detector), zap.Bool("places365", h.Scene), zap.Bool("clip", h.Embeddings))
	}
	healthCancel()

	if n, err := components.Pipeline.Resume(ctx); err != nil {
		logger.Error("resume unfinished images failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("resumed unfinished images", zap.Int("count", n))
	}

	var inbox *watcher.Inbox
	if cfg.Watch.Inbox != "" {
		inbox = watcher.NewInbox(cfg.Watch.Inbox, cfg.Watch.Owner, cfg.Watch.Extensions,
			components.Pipeline, watcher.WithLogger(logger))
		if err := inbox.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Pipeline,
		components.Engine,
		components.Storage,
		components.Client,
		components.VectorIndex,
		cfg,
		logger,
		server.WithLabelIndex(components.Labels),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if inbox != nil {
		inbox.Stop()
	}
	if err := components.Pipeline.Wait(shutdownCtx); err != nil {
		logger.Warn("shutdown with jobs still in flight; they resume on next start", zap.Error(err))
	}
	cancel()
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: shashin search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Images are ranked by a blend of object-crop similarity and whole-image similarity.
  • Use --mode objects to rank by detected objects only, --mode images for whole images only.
  • --class and --scene restrict results to detections of those classes or images of those scenes.

Examples:
  shashin search dog on a beach
  shashin search --mode objects --class dog "brown dog"
  shashin search --scene kitchen --limit 20 coffee mug
  shashin search --output json red car     # parseable output
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchConfigPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func searchConfigPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// searchTopKDefaultFromConfig returns search.default_top_k from the config at path, or 10
// when the config cannot be loaded.
func searchTopKDefaultFromConfig(path string) int {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil {
		return 10
	}
	return cfg.Search.DefaultTopK
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// splitList parses a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])
	configPath := searchConfigPathFromArgs(searchArgs, defaultConfigPath)

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPathFlag := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = search local storage directly when the server is not running)")
	user := fs.String("user", "", "owner id sent as X-User-Id (default: server's default owner)")
	limit := fs.Int("limit", searchTopKDefaultFromConfig(configPath), "number of images")
	mode := fs.String("mode", "both", "evidence to rank by: objects, images, or both")
	classes := fs.String("class", "", "comma-separated object classes to restrict to")
	scenes := fs.String("scene", "", "comma-separated scene labels to restrict to")
	outputFormat := fs.String("output", "text", "output format: text (human-readable), compact (one result per line), or json (parseable)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	query := &models.SearchQuery{
		Text: queryStr,
		TopK: *limit,
		Mode: models.SearchMode(*mode),
	}
	if c, s := splitList(*classes), splitList(*scenes); len(c) > 0 || len(s) > 0 {
		query.Filter = &models.SearchFilter{Classes: c, Scenes: s}
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		response = new(models.SearchResponse)
		err = postJSON(*serverURL+"/api/v1/search", *user, query, response)
	} else {
		response, err = searchDirect(*configPathFlag, *user, query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// searchDirect runs a search against local storage. Only safe while no server holds the database.
func searchDirect(configPath, user string, query *models.SearchQuery) (*models.SearchResponse, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	components, err := initializeComponents(context.Background(), cfg, logger, false)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	query.OwnerID = user
	if query.OwnerID == "" {
		query.OwnerID = cfg.Server.DefaultOwner
	}
	return components.Engine.Search(context.Background(), query)
}

func runSimilar() {
	fs := flag.NewFlagSet("similar", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	user := fs.String("user", "", "owner id sent as X-User-Id")
	limit := fs.Int("limit", 0, "number of images (0 = server default)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: shashin similar [flags] <image-id>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var response models.SimilarResponse
	endpoint := *serverURL + "/api/v1/search/similar/" + url.PathEscape(fs.Arg(0))
	if err := postJSON(endpoint, *user, map[string]int{"topK": *limit}, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Similar search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSimilarResults(os.Stdout, &response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	user := fs.String("user", "", "owner id sent as X-User-Id")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: shashin upload [flags] <image-file>...")
		os.Exit(1)
	}
	failed := false
	for _, path := range fs.Args() {
		out, err := uploadFile(*serverURL, *user, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}
		fmt.Printf("%s\t%s\t%dx%d\t%s\n", out.ImageID, out.Status, out.Width, out.Height, path)
	}
	if failed {
		os.Exit(1)
	}
}

type uploadResult struct {
	ImageID   string `json:"imageId"`
	UploadURL string `json:"uploadUrl"`
	Status    string `json:"status"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

func uploadFile(serverURL, user, path string) (*uploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/v1/images", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out uploadResult
	if err := doJSON(req, user, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	user := fs.String("user", "", "owner id sent as X-User-Id")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: shashin delete [flags] <image-id>")
		os.Exit(1)
	}
	imageID := fs.Arg(0)
	req, err := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/images/"+url.PathEscape(imageID), nil)
	if err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	if err := doJSON(req, *user, http.StatusOK, nil); err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Image deleted: %s\n", imageID)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read local storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil || format == cli.OutputCompact {
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}

	var status map[string]interface{}
	if *serverURL != "" {
		req, rerr := http.NewRequest(http.MethodGet, *serverURL+"/api/v1/status", nil)
		if rerr == nil {
			err = doJSON(req, "", http.StatusOK, &status)
		} else {
			err = rerr
		}
	} else {
		status, err = statusDirect(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusDirect(configPath string) (map[string]interface{}, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	components, err := initializeComponents(context.Background(), cfg, logger, false)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	ctx := context.Background()
	images, err := components.Storage.CountImages(ctx, "")
	if err != nil {
		return nil, err
	}
	byStatus, err := components.Storage.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	objects, err := components.Storage.CountObjects(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := components.Storage.CountVectors(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make(map[string]interface{}, len(byStatus))
	for k, v := range byStatus {
		statuses[string(k)] = v
	}
	status := map[string]interface{}{
		"images":            images,
		"images_by_status":  statuses,
		"objects":           objects,
		"vectors":           vectors,
		"vector_index_size": components.VectorIndex.Size(),
		"config": map[string]interface{}{
			"vector_index_type": cfg.Vector.IndexType,
			"vector_dimensions": cfg.Vector.Dimensions,
			"database_path":     cfg.Storage.DatabasePath,
			"vector_index_path": cfg.Storage.VectorIndexPath,
			"upload_dir":        cfg.Storage.UploadDir,
		},
	}
	if fp, err := storage.MeasureFootprint(cfg.Storage); err == nil {
		status["disk_usage_bytes"] = fp.Total()
		status["disk_usage"] = map[string]interface{}{
			"database":     fp.Database,
			"vector_index": fp.VectorIndex,
			"label_index":  fp.LabelIndex,
			"uploads":      fp.Uploads,
		}
	}
	return status, nil
}

// runReindex rebuilds the vector index from stored embeddings. Run it while the server is stopped.
func runReindex() {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(context.Background(), cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	n, err := components.Pipeline.Reindex(context.Background())
	if err != nil {
		fmt.Printf("Reindex failed after %d vectors: %v\n", n, err)
		os.Exit(1)
	}
	fmt.Printf("Reindexed %d vectors (index size %d)\n", n, components.VectorIndex.Size())
}

// postJSON sends body as JSON and decodes a 200 response into out.
func postJSON(endpoint, user string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(req, user, http.StatusOK, out)
}

func doJSON(req *http.Request, user string, want int, out interface{}) error {
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiError(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError extracts the message of an {"error": ...} body, falling back to the raw body.
func apiError(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// Components holds initialized services.
type Components struct {
	Storage     storage.Storage
	VectorIndex vector.Index
	Client      inference.Client
	Media       *media.Store
	Scheduler   *queue.Scheduler
	Labels      *keyword.LabelIndex
	Pipeline    *pipeline.Pipeline
	Engine      *search.Engine
}

// Close releases components in reverse dependency order. The vector index is saved last.
func (c *Components) Close() {
	if c.Scheduler != nil {
		_ = c.Scheduler.Close()
	}
	if c.Labels != nil {
		_ = c.Labels.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Save()
		_ = c.VectorIndex.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, mockInference bool) (*Components, error) {
	c := &Components{}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	c.VectorIndex, err = vector.NewIndex(cfg.Vector.IndexType, cfg.Storage.VectorIndexPath, cfg.Vector.Dimensions, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	logger.Info("vector index initialized",
		zap.String("type", cfg.Vector.IndexType),
		zap.Int("size", c.VectorIndex.Size()))

	var client inference.Client
	if mockInference {
		logger.Warn("using mock inference client")
		client = inference.NewMockClient(cfg.Vector.Dimensions)
	} else {
		client = inference.NewHTTPClient(cfg.Inference, inference.WithLogger(logger))
	}
	if cfg.Inference.TextCacheSize > 0 {
		client = inference.NewCachingClient(client, cfg.Inference.TextCacheSize)
	}
	c.Client = client

	c.Media, err = media.NewStore(cfg.Storage.UploadDir, cfg.Search.PublicPrefix, cfg.Pipeline, media.WithLogger(logger))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize media store: %w", err)
	}

	c.Labels, err = keyword.NewLabelIndex(cfg.Storage.LabelIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize label index: %w", err)
	}

	c.Scheduler = queue.NewScheduler(cfg.Pipeline.MaxConcurrent, queue.WithLogger(logger), queue.WithContext(ctx))
	c.Pipeline = pipeline.New(c.Scheduler, store, client, c.Media, c.VectorIndex, cfg.Pipeline, cfg.Inference.Model,
		pipeline.WithLogger(logger), pipeline.WithLabelIndex(c.Labels))

	c.Engine, err = search.NewEngine(store, client, c.VectorIndex, &cfg.Search, cfg.Inference.Model, search.WithLogger(logger))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize search engine: %w", err)
	}
	return c, nil
}

func printUsage() {
	fmt.Println(`shashin - Image annotation and semantic image search

Usage:
  shashin server [flags]              Start the HTTP server and processing pipeline
  shashin search [flags] <query>      Search images by text
  shashin similar [flags] <image-id>  Find images similar to an image
  shashin upload [flags] <file>...    Upload images for annotation
  shashin delete [flags] <image-id>   Delete an image and its annotations
  shashin status [flags]              Show storage, index and queue status
  shashin reindex [flags]             Rebuild the vector index from stored embeddings
  shashin version                     Show version
  shashin help                        Show this help

Server Flags:
  --config string     Config file path (default: /usr/local/etc/shashin/config.yaml)
  --debug             Enable debug logging
  --mock-inference    Use deterministic mock models instead of the inference service

Search Flags:
  --config string   Config file path (for direct storage mode; also used for the default limit)
  --server string   Server URL (default: http://localhost:8080). Use --server "" to search local storage directly.
  --user string     Owner id (X-User-Id)
  --limit int       Number of images (default from config, or 10)
  --mode string     objects, images, or both (default: both)
  --class string    Comma-separated object classes
  --scene string    Comma-separated scene labels
  --output string   text, compact, or json (default: text)

Similar / Upload / Delete Flags:
  --server string   Server URL (default: http://localhost:8080)
  --user string     Owner id (X-User-Id)

Status Flags:
  --config string   Config file path (for direct storage mode)
  --server string   Server URL. Use --server "" to read local storage directly.
  --output string   text or json (default: text)

Examples:
  shashin server --debug
  shashin upload holiday/*.jpg
  shashin search "dog playing in the snow"
  shashin search --mode objects --class bicycle red bike
  shashin similar 6f1c0c1e-3a7e-4c3e-9d55-1b0f4a8a2e10
  shashin status --output json`)
}
