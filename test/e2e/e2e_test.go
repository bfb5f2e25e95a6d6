package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

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
)

const e2eDimensions = 3

type e2eEnv struct {
	url string
	// ids maps fixture names to image ids and back.
	ids   map[string]string
	names map[string]string
}

func startServer(t *testing.T) *e2eEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath:    filepath.Join(dir, "db.sqlite"),
			VectorIndexPath: filepath.Join(dir, "vectors.json"),
			UploadDir:       filepath.Join(dir, "uploads"),
			LabelIndexPath:  filepath.Join(dir, "labels"),
		},
		Vector: config.VectorConfig{IndexType: "file", Dimensions: e2eDimensions},
	}
	config.ApplyDefaults(cfg)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	idx, err := vector.NewIndex(cfg.Vector.IndexType, cfg.Storage.VectorIndexPath, cfg.Vector.Dimensions, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	labels, err := keyword.NewLabelIndex(cfg.Storage.LabelIndexPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { labels.Close() })
	assets, err := media.NewStore(cfg.Storage.UploadDir, cfg.Search.PublicPrefix, cfg.Pipeline)
	if err != nil {
		t.Fatal(err)
	}

	corpus := BuildCorpus()
	mock := inference.NewMockClient(e2eDimensions)
	mock.SetImageEmbedFunc(ColorEmbedding)
	for text, vec := range TextVectors() {
		mock.SetTextVector(text, vec)
	}
	for _, f := range corpus.Fixtures {
		data, err := Render(f)
		if err != nil {
			t.Fatal(err)
		}
		mock.SetDetection(data, Detection(f))
	}
	client := inference.NewCachingClient(mock, 16)

	s := queue.NewScheduler(cfg.Pipeline.MaxConcurrent)
	t.Cleanup(func() { s.Close() })
	p := pipeline.New(s, store, client, assets, idx, cfg.Pipeline, cfg.Inference.Model, pipeline.WithLabelIndex(labels))
	engine, err := search.NewEngine(store, client, idx, &cfg.Search, cfg.Inference.Model)
	if err != nil {
		t.Fatal(err)
	}
	srv := server.NewServer(p, engine, store, client, idx, cfg, zap.NewNop(), server.WithLabelIndex(labels))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	env := &e2eEnv{url: ts.URL, ids: map[string]string{}, names: map[string]string{}}
	for _, f := range corpus.Fixtures {
		id := env.upload(t, f)
		env.ids[f.Name] = id
		env.names[id] = f.Name
	}
	for _, f := range corpus.Fixtures {
		env.waitCompleted(t, f.Owner, env.ids[f.Name])
	}
	return env
}

func (e *e2eEnv) request(t *testing.T, method, path, owner string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.url+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if owner != "" {
		req.Header.Set("X-User-Id", owner)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (e *e2eEnv) getJSON(t *testing.T, method, path, owner string, body interface{}, want int, out interface{}) {
	t.Helper()
	var r io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
		contentType = "application/json"
	}
	resp := e.request(t, method, path, owner, r, contentType)
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, b)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func (e *e2eEnv) upload(t *testing.T, f Fixture) string {
	t.Helper()
	data, err := Render(f)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", f.Name+".png")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()

	resp := e.request(t, http.MethodPost, "/api/v1/images", f.Owner, &buf, mw.FormDataContentType())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload %s: status %d: %s", f.Name, resp.StatusCode, b)
	}
	var out struct {
		ImageID string `json:"imageId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.ImageID
}

func (e *e2eEnv) waitCompleted(t *testing.T, owner, id string) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for {
		var detail struct {
			Status  models.ProcessingStatus `json:"processing_status"`
			Error   string                  `json:"error"`
			Objects []*models.DetectedObject `json:"objects"`
		}
		e.getJSON(t, http.MethodGet, "/api/v1/images/"+id, owner, nil, http.StatusOK, &detail)
		// Object embeddings run after the image is completed; wait for their back-references too.
		done := detail.Status == models.StatusCompleted
		for _, o := range detail.Objects {
			done = done && o.EmbeddingID != ""
		}
		if done {
			return
		}
		if detail.Status == models.StatusFailed {
			t.Fatalf("image %s failed: %s", id, detail.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("image %s stuck in %s", id, detail.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (e *e2eEnv) search(t *testing.T, q QueryCase) []string {
	t.Helper()
	query := models.SearchQuery{Text: q.Text, TopK: 10, Mode: q.Mode}
	if len(q.Classes) > 0 || len(q.Scenes) > 0 {
		query.Filter = &models.SearchFilter{Classes: q.Classes, Scenes: q.Scenes}
	}
	var resp models.SearchResponse
	e.getJSON(t, http.MethodPost, "/api/v1/search", q.Owner, query, http.StatusOK, &resp)
	names := make([]string, 0, len(resp.Results))
	for i, r := range resp.Results {
		if r.Rank != i+1 {
			t.Errorf("%s: result %d has rank %d", q.Name, i, r.Rank)
		}
		names = append(names, e.names[r.ImageID])
	}
	return names
}

func TestE2E_SearchReturnsCorrectResults(t *testing.T) {
	env := startServer(t)
	for _, q := range BuildCorpus().Queries {
		t.Run(q.Name, func(t *testing.T) {
			got := env.search(t, q)
			if q.WantCount >= 0 && len(got) != q.WantCount {
				t.Errorf("got %d results %v, want %d", len(got), got, q.WantCount)
			}
			if len(got) < len(q.WantTop) {
				t.Fatalf("got %v, want prefix %v", got, q.WantTop)
			}
			for i, want := range q.WantTop {
				if got[i] != want {
					t.Errorf("got %v, want prefix %v", got, q.WantTop)
					break
				}
			}
		})
	}
}

func TestE2E_SimilarAndLabels(t *testing.T) {
	env := startServer(t)

	var sim models.SimilarResponse
	env.getJSON(t, http.MethodPost, "/api/v1/search/similar/"+env.ids["field"], "alice",
		map[string]int{"topK": 5}, http.StatusOK, &sim)
	var got []string
	for _, r := range sim.Results {
		got = append(got, env.names[r.ImageID])
	}
	// Gray is closer to green-dominant than blue-dominant is.
	if fmt.Sprint(got) != "[garage sea]" {
		t.Errorf("similar to field = %v, want [garage sea]", got)
	}

	var labels keyword.LabelResults
	env.getJSON(t, http.MethodGet, "/api/v1/labels/search?q="+url.QueryEscape("ocaen"), "alice",
		nil, http.StatusOK, &labels)
	if labels.Suggestion != "ocean" || len(labels.Results) != 1 || env.names[labels.Results[0].ImageID] != "sea" {
		t.Errorf("label lookup = %+v", labels)
	}
	env.getJSON(t, http.MethodGet, "/api/v1/labels/search?q=car", "bob", nil, http.StatusOK, &labels)
	if len(labels.Results) != 1 || env.names[labels.Results[0].ImageID] != "bobs-car" {
		t.Errorf("bob's car lookup = %+v", labels)
	}
}

func TestE2E_DeleteRemovesFromSearch(t *testing.T) {
	env := startServer(t)
	env.getJSON(t, http.MethodDelete, "/api/v1/images/"+env.ids["field"], "bob", nil, http.StatusNotFound, nil)
	env.getJSON(t, http.MethodDelete, "/api/v1/images/"+env.ids["field"], "alice", nil, http.StatusOK, nil)

	got := env.search(t, QueryCase{Name: "after delete", Owner: "alice", Text: "red"})
	if fmt.Sprint(got) != "[sea garage]" {
		t.Errorf("results after delete = %v", got)
	}
	env.getJSON(t, http.MethodPost, "/api/v1/search/similar/"+env.ids["field"], "alice", nil, http.StatusNotFound, nil)

	var status struct {
		Images          int64 `json:"images"`
		VectorIndexSize int   `json:"vector_index_size"`
	}
	env.getJSON(t, http.MethodGet, "/api/v1/status", "", nil, http.StatusOK, &status)
	if status.Images != 3 || status.VectorIndexSize != 6 {
		t.Errorf("status after delete = %+v", status)
	}
}
