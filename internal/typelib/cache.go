package typelib

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"
)

const cacheSchemaVersion uint16 = 1

// Cache stores decoded library descriptors on disk, keyed by a hash of
// the descriptor bytes. A nil *Cache is a no-op.
type Cache struct {
	dir string
}

type cachePayload struct {
	Schema  uint16  `msgpack:"schema"`
	Library Library `msgpack:"library"`
}

// NewCache creates a cache rooted at dir, creating it if needed.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("typelib: cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// CacheKey hashes descriptor bytes.
func CacheKey(data []byte) string {
	h := xxh3.New()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".mp")
}

// Get returns the cached library for key. Misses, unreadable entries and
// entries of another schema all report false.
func (c *Cache) Get(key string) (*Library, bool) {
	if c == nil {
		return nil, false
	}
	f, err := os.Open(c.path(key))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var p cachePayload
	if err := msgpack.NewDecoder(f).Decode(&p); err != nil {
		return nil, false
	}
	if p.Schema != cacheSchemaVersion {
		return nil, false
	}
	return &p.Library, true
}

// Put writes lib under key. The entry is written to a temp file and
// renamed into place so readers never see a partial entry.
func (c *Cache) Put(key string, lib *Library) error {
	if c == nil {
		return nil
	}
	tmp, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("typelib: cache temp: %w", err)
	}
	p := cachePayload{Schema: cacheSchemaVersion, Library: *lib}
	if err := msgpack.NewEncoder(tmp).Encode(&p); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("typelib: cache encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("typelib: cache close: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("typelib: cache rename: %w", err)
	}
	return nil
}

// Clear removes every cache entry.
func (c *Cache) Clear() error {
	if c == nil {
		return nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".mp" {
			if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
