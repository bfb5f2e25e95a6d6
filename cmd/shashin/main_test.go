package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"dog on the beach", "-limit", "5"},
			expected: []string{"-limit", "5", "dog on the beach"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-mode", "objects", "dog"},
			expected: []string{"-mode", "objects", "dog"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"dog on the beach"},
			expected: []string{"dog on the beach"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"red", "car", "-class", "car"},
			expected: []string{"-class", "car", "red", "car"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"dog"}, "dog"},
		{"multiple words", []string{"dog", "snow"}, "dog snow"},
		{"single quoted phrase", []string{"dog in snow"}, "dog in snow"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSearchQuery(tt.args); got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestSearchConfigPathFromArgs(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		defaultPath string
		want        string
	}{
		{"no config flag", []string{"-limit", "5", "query"}, "/default.yaml", "/default.yaml"},
		{"-config present", []string{"-config", "/custom.yaml", "query"}, "/default.yaml", "/custom.yaml"},
		{"--config present", []string{"--config", "/other.yaml"}, "/default.yaml", "/other.yaml"},
		{"config at end", []string{"query", "-config", "/end.yaml"}, "/default.yaml", "/end.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := searchConfigPathFromArgs(tt.args, tt.defaultPath); got != tt.want {
				t.Errorf("searchConfigPathFromArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSearchTopKDefaultFromConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("search:\n  default_top_k: 25\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := searchTopKDefaultFromConfig(configPath); got != 25 {
		t.Errorf("searchTopKDefaultFromConfig() = %d, want 25", got)
	}
	if got := searchTopKDefaultFromConfig(filepath.Join(dir, "nonexistent.yaml")); got != 10 {
		t.Errorf("missing config = %d, want 10", got)
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(" dog, cat ,,person "); !reflect.DeepEqual(got, []string{"dog", "cat", "person"}) {
		t.Errorf("splitList() = %v", got)
	}
	if got := splitList(""); got != nil {
		t.Errorf("splitList(\"\") = %v, want nil", got)
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestUploadFile(t *testing.T) {
	var gotUser, gotName string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-User-Id")
		f, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, `{"error":"no image file provided"}`, http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotName = header.Filename
		_, _ = io.Copy(io.Discard, f)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"imageId":"img-1","status":"queued","width":4,"height":3}`))
	}))
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(path, []byte("not really a png"), 0600); err != nil {
		t.Fatal(err)
	}
	out, err := uploadFile(ts.URL, "alice", path)
	if err != nil {
		t.Fatal(err)
	}
	if out.ImageID != "img-1" || out.Status != "queued" || out.Width != 4 {
		t.Errorf("upload result = %+v", out)
	}
	if gotUser != "alice" || gotName != "cat.png" {
		t.Errorf("server saw user %q file %q", gotUser, gotName)
	}
}

func TestPostJSON_reportsAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"image embedding not found"}`))
	}))
	defer ts.Close()

	var out map[string]interface{}
	err := postJSON(ts.URL+"/api/v1/search/similar/x", "", map[string]int{"topK": 3}, &out)
	if err == nil || !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "image embedding not found") {
		t.Errorf("postJSON error = %v", err)
	}
}

func TestAPIError(t *testing.T) {
	if got := apiError([]byte(`{"error":"boom"}`)); got != "boom" {
		t.Errorf("apiError(json) = %q", got)
	}
	if got := apiError([]byte("plain failure\n")); got != "plain failure" {
		t.Errorf("apiError(text) = %q", got)
	}
}
