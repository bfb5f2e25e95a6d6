package inference

import (
	"context"
	"math"
	"sync"

	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/pkg/utils"
)

// MockClient is a deterministic Client for tests. Embeddings are derived from a hash of
// the input so the same text or image bytes always produce the same vector. Detections,
// vectors and failures can be scripted.
type MockClient struct {
	dimensions int

	mu             sync.Mutex
	detections     map[int]*Detection
	textVectors    map[string][]float32
	defaultScene   string
	detectFunc     func([]byte) (*Detection, error)
	imageEmbedFunc func([]byte) ([]float32, error)
	detectErr      error
	embedImageErr  error
	embedTextErr   error
	health         Health

	detectCalls     int
	embedImageCalls int
	embedTextCalls  int
}

// NewMockClient returns a mock producing vectors of the given dimensions.
func NewMockClient(dimensions int) *MockClient {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockClient{
		dimensions:   dimensions,
		detections:   make(map[int]*Detection),
		textVectors:  make(map[string][]float32),
		defaultScene: "unknown",
		health:       Health{Detector: true, Scene: true, Embeddings: true},
	}
}

// Dimensions returns the embedding dimension.
func (m *MockClient) Dimensions() int {
	return m.dimensions
}

// SetDetection scripts the detection returned for exactly these image bytes.
func (m *MockClient) SetDetection(image []byte, det *Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections[HashBytes(image)] = det
}

// SetDetectFunc overrides detection for every image.
func (m *MockClient) SetDetectFunc(fn func([]byte) (*Detection, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detectFunc = fn
}

// SetImageEmbedFunc overrides image embedding for every image.
func (m *MockClient) SetImageEmbedFunc(fn func([]byte) ([]float32, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageEmbedFunc = fn
}

// SetTextVector scripts the embedding returned for text.
func (m *MockClient) SetTextVector(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textVectors[text] = vec
}

// FailDetect makes Detect return err (nil restores normal behavior).
func (m *MockClient) FailDetect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detectErr = err
}

// FailEmbedImage makes EmbedImage return err.
func (m *MockClient) FailEmbedImage(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedImageErr = err
}

// FailEmbedText makes EmbedText return err.
func (m *MockClient) FailEmbedText(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedTextErr = err
}

// SetHealth sets the value reported by Health.
func (m *MockClient) SetHealth(h Health) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = h
}

// Calls returns the detect, embed-image and embed-text call counts.
func (m *MockClient) Calls() (detect, embedImage, embedText int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detectCalls, m.embedImageCalls, m.embedTextCalls
}

// Detect returns the scripted detection, or no objects and the default scene.
func (m *MockClient) Detect(ctx context.Context, image []byte) (*Detection, error) {
	m.mu.Lock()
	m.detectCalls++
	err, fn := m.detectErr, m.detectFunc
	det, ok := m.detections[HashBytes(image)]
	scene := m.defaultScene
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ok {
		return det, nil
	}
	if fn != nil {
		return fn(image)
	}
	return &Detection{Objects: []DetectedBox{}, Scene: &models.Scene{Primary: scene}}, nil
}

// EmbedImage returns a deterministic embedding of the image bytes.
func (m *MockClient) EmbedImage(ctx context.Context, image []byte, model string) (*Embedding, error) {
	m.mu.Lock()
	m.embedImageCalls++
	err, fn := m.embedImageErr, m.imageEmbedFunc
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		vec, err := fn(image)
		if err != nil {
			return nil, err
		}
		return &Embedding{Vector: vec, Dims: len(vec)}, nil
	}
	vec := hashVector(HashBytes(image), m.dimensions)
	return &Embedding{Vector: vec, Dims: len(vec)}, nil
}

// EmbedText returns the scripted vector for text or a deterministic hash embedding.
func (m *MockClient) EmbedText(ctx context.Context, text, model string) (*Embedding, error) {
	m.mu.Lock()
	m.embedTextCalls++
	err := m.embedTextErr
	vec, ok := m.textVectors[text]
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		vec = hashVector(HashString(text), m.dimensions)
	}
	out := append([]float32(nil), vec...)
	return &Embedding{Vector: out, Dims: len(out)}, nil
}

// Health returns the configured health.
func (m *MockClient) Health(ctx context.Context) Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// hashVector spreads h over dims sine values and normalizes to unit length.
func hashVector(h, dims int) []float32 {
	emb := make([]float32, dims)
	for i := 0; i < dims; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.UnitScale(emb)
	return emb
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}

// HashBytes returns a deterministic non-negative hash of b.
func HashBytes(b []byte) int {
	h := 0
	for _, c := range b {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
