package typelib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jward/mallard/internal/naming"
)

// ErrNotFound is returned by providers that have no library of that name.
var ErrNotFound = errors.New("typelib: library not found")

// Provider opens referenced libraries by name.
type Provider interface {
	Open(ctx context.Context, name string) (Handle, error)
}

// Handle is an open library. Callers must Close it on every exit path.
type Handle interface {
	Library(ctx context.Context) (*Library, error)
	Close() error
}

// DirProvider reads <name>.yaml descriptors from a list of directories,
// first match wins. Decoded descriptors are cached when a Cache is set.
type DirProvider struct {
	dirs  []string
	cache *Cache
}

// NewDirProvider creates a DirProvider over dirs. cache may be nil.
func NewDirProvider(cache *Cache, dirs ...string) *DirProvider {
	return &DirProvider{dirs: dirs, cache: cache}
}

// Open locates the descriptor for name. The name match is
// case-insensitive.
func (p *DirProvider) Open(ctx context.Context, name string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := naming.Fold(name)
	for _, dir := range p.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("typelib: read %s: %w", dir, err)
		}
		for _, e := range entries {
			ext := filepath.Ext(e.Name())
			if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			if naming.Fold(strings.TrimSuffix(e.Name(), ext)) == want {
				return &fileHandle{path: filepath.Join(dir, e.Name()), cache: p.cache}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

type fileHandle struct {
	path   string
	cache  *Cache
	mu     sync.Mutex
	closed bool
}

func (h *fileHandle) Library(ctx context.Context) (*Library, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("typelib: %s: handle closed", h.path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(h.path)
	if err != nil {
		return nil, fmt.Errorf("typelib: read %s: %w", h.path, err)
	}
	key := CacheKey(data)
	if lib, ok := h.cache.Get(key); ok {
		return lib, nil
	}
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("typelib: parse %s: %w", h.path, err)
	}
	if lib.Name == "" {
		return nil, fmt.Errorf("typelib: %s: descriptor has no name", h.path)
	}
	// A failed cache write only costs a re-parse next time.
	_ = h.cache.Put(key, &lib)
	return &lib, nil
}

func (h *fileHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// StaticProvider serves in-memory descriptors keyed by library name.
type StaticProvider map[string]*Library

func (p StaticProvider) Open(ctx context.Context, name string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for k, lib := range p {
		if naming.EqualFold(k, name) {
			return staticHandle{lib: lib}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

type staticHandle struct {
	lib *Library
}

func (h staticHandle) Library(ctx context.Context) (*Library, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.lib, nil
}

func (staticHandle) Close() error { return nil }
