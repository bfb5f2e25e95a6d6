package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/models"
	"go.uber.org/zap"
)

// HTTPClient calls the model service over JSON/HTTP.
type HTTPClient struct {
	baseURL        string
	enabled        bool
	detectTimeout  time.Duration
	embedTimeout   time.Duration
	healthTimeout  time.Duration
	textRetries    int
	retryBaseDelay time.Duration
	http           *http.Client
	logger         *zap.Logger
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithLogger sets the logger used for retries and failures.
func WithLogger(l *zap.Logger) HTTPClientOption {
	return func(c *HTTPClient) { c.logger = l }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) HTTPClientOption {
	return func(c *HTTPClient) { c.http = hc }
}

// NewHTTPClient builds a client from the inference config section.
func NewHTTPClient(cfg config.InferenceConfig, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		enabled:        cfg.IsEnabled(),
		detectTimeout:  cfg.DetectTimeout,
		embedTimeout:   cfg.EmbedTimeout,
		healthTimeout:  cfg.HealthTimeout,
		textRetries:    cfg.TextEmbedRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
		http:           &http.Client{},
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.textRetries < 1 {
		c.textRetries = 1
	}
	return c
}

type detectRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type detectResponse struct {
	Objects []struct {
		ClassName string    `json:"class_name"`
		Score     float64   `json:"score"`
		BBox      []float64 `json:"bbox"`
	} `json:"objects"`
	Scene *struct {
		Primary string `json:"primary"`
		Labels  []struct {
			Label string  `json:"label"`
			Score float64 `json:"score"`
		} `json:"labels"`
	} `json:"scene"`
}

type embedImageRequest struct {
	ImageBase64 string `json:"image_base64"`
	Model       string `json:"model"`
}

type embedTextRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Dims      int       `json:"dims"`
}

// Detect runs object detection and scene classification on an encoded image. Boxes are
// passed through unvalidated; a box that is not four numbers arrives as the zero box.
func (c *HTTPClient) Detect(ctx context.Context, image []byte) (*Detection, error) {
	var resp detectResponse
	req := detectRequest{ImageBase64: base64.StdEncoding.EncodeToString(image)}
	if err := c.post(ctx, "/detect", c.detectTimeout, req, &resp); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	det := &Detection{Objects: make([]DetectedBox, 0, len(resp.Objects))}
	for i, o := range resp.Objects {
		bbox, err := models.BBoxFromSlice(o.BBox)
		if err != nil {
			c.logger.Debug("detector returned an invalid box", zap.Int("index", i), zap.Error(err))
		}
		det.Objects = append(det.Objects, DetectedBox{Class: o.ClassName, Score: o.Score, BBox: bbox})
	}
	if resp.Scene != nil {
		scene := &models.Scene{Primary: resp.Scene.Primary}
		for _, l := range resp.Scene.Labels {
			scene.Labels = append(scene.Labels, models.SceneLabel{Label: l.Label, Score: l.Score})
		}
		det.Scene = scene
	}
	return det, nil
}

// EmbedImage returns the embedding of an encoded image. No retries.
func (c *HTTPClient) EmbedImage(ctx context.Context, image []byte, model string) (*Embedding, error) {
	var resp embedResponse
	req := embedImageRequest{ImageBase64: base64.StdEncoding.EncodeToString(image), Model: model}
	if err := c.post(ctx, "/embed", c.embedTimeout, req, &resp); err != nil {
		return nil, fmt.Errorf("embed image: %w", err)
	}
	return toEmbedding(resp)
}

// EmbedText returns the embedding of a query text, retrying with exponential backoff
// between attempts (see retryDelay).
func (c *HTTPClient) EmbedText(ctx context.Context, text, model string) (*Embedding, error) {
	req := embedTextRequest{Text: text, Model: model}
	var lastErr error
	for attempt := 0; attempt < c.textRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay(attempt)
			c.logger.Warn("retrying text embedding",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("embed text: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
		var resp embedResponse
		err := c.post(ctx, "/embed-text", c.embedTimeout, req, &resp)
		if err == nil {
			return toEmbedding(resp)
		}
		lastErr = err
		if ctx.Err() != nil || !c.enabled {
			break
		}
	}
	return nil, fmt.Errorf("embed text: %w", lastErr)
}

// retryDelay is the wait before retry n (n >= 1): base, 2×base, 4×base. With the 2s
// default that is 2s then 4s.
func (c *HTTPClient) retryDelay(n int) time.Duration {
	return c.retryBaseDelay << uint(n-1)
}

// Health probes the service. Any failure reports every model as unavailable.
func (c *HTTPClient) Health(ctx context.Context) Health {
	if !c.enabled {
		return Health{}
	}
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return Health{}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("health check failed", zap.Error(err))
		return Health{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Health{}
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}
	}
	return h
}

func (c *HTTPClient) post(ctx context.Context, path string, timeout time.Duration, in, out interface{}) error {
	if !c.enabled {
		return ErrUnavailable
	}
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: server returned %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toEmbedding(resp embedResponse) (*Embedding, error) {
	if len(resp.Embedding) == 0 {
		return nil, models.ErrEmptyVector
	}
	dims := resp.Dims
	if dims == 0 {
		dims = len(resp.Embedding)
	}
	if dims != len(resp.Embedding) {
		return nil, fmt.Errorf("%w: reported %d, got %d", models.ErrDimensionMismatch, dims, len(resp.Embedding))
	}
	return &Embedding{Vector: resp.Embedding, Dims: dims}, nil
}
