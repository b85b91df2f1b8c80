package speech

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Cache is a thread-safe two-tier cache (in-memory + filesystem) for
// synthesized audio backing the speak-and-cache request path. The key is
// sha256(voice + ":" + text), so a voice change causes clean misses until
// the voice is switched back.
//
// The disk layer is always consulted for reads when a directory is set,
// giving a warm start from previous runs; writes to disk are gated on
// diskWrite.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string][]byte // key -> raw PCM
	log       *slog.Logger
	voice     string
	cacheDir  string // empty = no disk layer
	diskWrite bool
	hits      int64
	misses    int64
}

// NewCache creates a speech cache. An empty cacheDir disables the disk layer
// entirely.
func NewCache(voice, cacheDir string, diskWrite bool, log *slog.Logger) *Cache {
	c := &Cache{
		entries:   make(map[string][]byte),
		log:       log.With(slog.String("component", "speech-cache")),
		voice:     voice,
		cacheDir:  cacheDir,
		diskWrite: diskWrite,
	}
	if cacheDir != "" && diskWrite {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			c.log.Error("failed to create cache dir", slog.String("dir", cacheDir), slog.String("error", err.Error()))
		}
	}
	return c
}

// Get returns cached audio for the text, checking memory first and then the
// disk layer. Disk hits are promoted to memory.
func (c *Cache) Get(text string) ([]byte, bool) {
	key := c.hashKey(text)

	c.mu.RLock()
	data, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return data, true
	}

	if c.cacheDir != "" {
		if diskData, err := os.ReadFile(c.diskPath(key)); err == nil {
			c.mu.Lock()
			c.entries[key] = diskData
			c.hits++
			c.mu.Unlock()
			return diskData, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Put stores audio for the text. Always writes to memory; writes to disk
// only when enabled.
func (c *Cache) Put(text string, audio []byte) {
	key := c.hashKey(text)

	c.mu.Lock()
	c.entries[key] = audio
	c.mu.Unlock()

	if c.cacheDir != "" && c.diskWrite {
		if err := os.WriteFile(c.diskPath(key), audio, 0o644); err != nil {
			c.log.Warn("failed to persist cache entry", slog.String("error", err.Error()))
		}
	}
}

// Has reports whether audio for the text is cached in either tier.
func (c *Cache) Has(text string) bool {
	key := c.hashKey(text)

	c.mu.RLock()
	_, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return true
	}
	if c.cacheDir != "" {
		if _, err := os.Stat(c.diskPath(key)); err == nil {
			return true
		}
	}
	return false
}

// Len returns the number of in-memory entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *Cache) hashKey(text string) string {
	sum := sha256.Sum256([]byte(c.voice + ":" + text))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) diskPath(key string) string {
	return filepath.Join(c.cacheDir, key+".pcm")
}
