package oracle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores raw oracle replies by key. Implementations must be safe for
// concurrent use. A cache is optional; the router works without one.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

// CacheKey hashes everything that determines a provider reply.
func CacheKey(provider, model string, temperature float64, maxTokens int, messages []Message) string {
	payload := struct {
		Provider    string    `json:"provider"`
		Model       string    `json:"model"`
		Temperature float64   `json:"temperature"`
		MaxTokens   int       `json:"max_tokens"`
		Messages    []Message `json:"messages"`
	}{provider, model, temperature, maxTokens, messages}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// MemoryCache is a bounded in-process cache with per-entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1024
	}
	return &MemoryCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	return c.lru.Get(key)
}

func (c *MemoryCache) Set(key string, value []byte) {
	c.lru.Add(key, value)
}

// FileCache keeps one JSON file per key under dir. Entries older than ttl
// are treated as missing; ttl <= 0 disables expiry.
type FileCache struct {
	dir string
	ttl time.Duration
	log *slog.Logger
	now func() time.Time
}

type fileCacheEntry struct {
	CreatedAt time.Time       `json:"created_at"`
	Value     json.RawMessage `json:"value"`
}

func NewFileCache(dir string, ttl time.Duration, log *slog.Logger) *FileCache {
	if log == nil {
		log = slog.Default()
	}
	return &FileCache{dir: dir, ttl: ttl, log: log, now: time.Now}
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *FileCache) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var entry fileCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.log.Warn("corrupt cache entry", "key", key, "error", err)
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.CreatedAt) > c.ttl {
		return nil, false
	}
	return entry.Value, true
}

// Set writes value, which must be valid JSON. Write failures are logged and
// otherwise ignored.
func (c *FileCache) Set(key string, value []byte) {
	if !json.Valid(value) {
		return
	}
	data, err := json.Marshal(fileCacheEntry{CreatedAt: c.now(), Value: value})
	if err != nil {
		return
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.log.Warn("cache dir", "dir", c.dir, "error", err)
		return
	}
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.log.Warn("cache write", "key", key, "error", err)
		return
	}
	if err := os.Rename(tmp, c.path(key)); err != nil {
		c.log.Warn("cache rename", "key", key, "error", err)
	}
}

// Tiered consults caches in order. A hit in a later tier is copied into the
// earlier ones; Set writes through to every tier.
type Tiered []Cache

func (t Tiered) Get(key string) ([]byte, bool) {
	for i, c := range t {
		if v, ok := c.Get(key); ok {
			for _, earlier := range t[:i] {
				earlier.Set(key, v)
			}
			return v, true
		}
	}
	return nil, false
}

func (t Tiered) Set(key string, value []byte) {
	for _, c := range t {
		c.Set(key, value)
	}
}
