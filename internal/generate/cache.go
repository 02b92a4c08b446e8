package generate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cache remembers generated text by request so repeated runs over unchanged
// functions do not call the service again. Entries are persisted as JSON by
// Save.
type Cache struct {
	next  Generator
	model string
	path  string

	mu      sync.Mutex
	entries map[string]string
	dirty   bool
	hits    int
	misses  int
}

type cacheFile struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries"`
}

const cacheVersion = 1

// NewCache wraps next with a cache stored at path. model is part of every key
// so switching models does not return stale text. A missing file starts an
// empty cache; an unreadable one is an error.
func NewCache(next Generator, path, model string) (*Cache, error) {
	c := &Cache{next: next, model: model, path: path, entries: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache: %w", err)
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding cache %s: %w", path, err)
	}
	if f.Version == cacheVersion && f.Entries != nil {
		c.entries = f.Entries
	}
	return c, nil
}

// CacheKey returns the SHA-256 hex digest identifying one request.
func CacheKey(model, signature, body string) string {
	h := sha256.New()
	for _, s := range []string{model, signature, body} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Generate returns the cached text for the request, calling the wrapped
// generator on a miss. Failures are not cached.
func (c *Cache) Generate(ctx context.Context, signature, body string) (string, error) {
	key := CacheKey(c.model, signature, body)

	c.mu.Lock()
	text, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	if ok {
		return text, nil
	}

	text, err := c.next.Generate(ctx, signature, body)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[key] = text
	c.dirty = true
	c.mu.Unlock()
	return text, nil
}

// Stats returns the number of cache hits and misses so far.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Save writes the cache to disk if it changed. The file is replaced
// atomically.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(cacheFile{Version: cacheVersion, Entries: c.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".autodocstr-cache-*")
	if err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache: %w", err)
	}
	c.dirty = false
	return nil
}
