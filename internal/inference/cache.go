package inference

import (
	"container/list"
	"context"
	"sync"
)

// TextCache is an LRU cache for text embeddings keyed by model and text.
type TextCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value *Embedding
}

// NewTextCache creates a new cache with the given capacity.
func NewTextCache(capacity int) *TextCache {
	return &TextCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func cacheKey(model, text string) string {
	return model + "\x00" + text
}

// Get returns the cached embedding for key if present.
func (c *TextCache) Get(key string) (*Embedding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores the embedding for key, evicting the oldest entry if at capacity.
func (c *TextCache) Set(key string, value *Embedding) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	entry := &cacheEntry{key: key, value: value}
	elem := c.lru.PushFront(entry)
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Len returns the number of cached entries.
func (c *TextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CachingClient memoizes EmbedText results of the wrapped Client. Errors are not cached.
type CachingClient struct {
	Client
	cache *TextCache
}

// NewCachingClient wraps c. A capacity below 1 disables caching and returns c itself.
func NewCachingClient(c Client, capacity int) Client {
	if capacity < 1 {
		return c
	}
	return &CachingClient{Client: c, cache: NewTextCache(capacity)}
}

// EmbedText returns a cached embedding or asks the wrapped client.
func (c *CachingClient) EmbedText(ctx context.Context, text, model string) (*Embedding, error) {
	key := cacheKey(model, text)
	if emb, ok := c.cache.Get(key); ok {
		return copyEmbedding(emb), nil
	}
	emb, err := c.Client.EmbedText(ctx, text, model)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, copyEmbedding(emb))
	return emb, nil
}

func copyEmbedding(e *Embedding) *Embedding {
	return &Embedding{Vector: append([]float32(nil), e.Vector...), Dims: e.Dims}
}
