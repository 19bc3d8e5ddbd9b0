// Package config loads the mallard.toml workspace manifest.
//
// A manifest names the source projects of a workspace, their references
// and where referenced type libraries are described:
//
//	[workspace]
//	database = ".mallard/index.db"
//	policy = "isolate"
//	typelib_dirs = ["typelibs"]
//
//	[[project]]
//	name = "VBAProject"
//	root = "src"
//	references = ["VBA", "Excel"]
//
// A .env file next to the manifest is loaded first, then MALLARD_*
// environment variables override the manifest.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jward/mallard/internal/naming"
)

// FileName is the manifest file looked up by Find.
const FileName = "mallard.toml"

// Environment overrides.
const (
	EnvDatabase    = "MALLARD_DB"
	EnvPolicy      = "MALLARD_POLICY"
	EnvWorkers     = "MALLARD_WORKERS"
	EnvTypelibPath = "MALLARD_TYPELIB_PATH"
	EnvCacheDir    = "MALLARD_CACHE_DIR"
	EnvLogLevel    = "MALLARD_LOG_LEVEL"
)

// Config is a loaded workspace. Paths are absolute after Load.
type Config struct {
	// Path is the manifest file; empty for a default config.
	Path      string    `toml:"-"`
	Root      string    `toml:"-"`
	Workspace Workspace `toml:"workspace"`
	Projects  []Project `toml:"project"`
}

type Workspace struct {
	Database    string   `toml:"database"`
	Policy      string   `toml:"policy"`
	Workers     int      `toml:"workers"`
	TypelibDirs []string `toml:"typelib_dirs"`
	CacheDir    string   `toml:"cache_dir"`
	LogLevel    string   `toml:"log_level"`
}

// Project is one source project. Root holds its module files.
type Project struct {
	Name       string   `toml:"name"`
	Root       string   `toml:"root"`
	References []string `toml:"references"`
}

// Find looks for FileName in startDir and its parents.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("config: resolve %q: %w", startDir, err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", false, fmt.Errorf("config: stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

// Load reads the manifest at path.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %q: %w", path, err)
	}
	root := filepath.Dir(abs)
	if err := loadDotEnv(root); err != nil {
		return nil, err
	}

	cfg := &Config{Path: abs, Root: root}
	meta, err := toml.DecodeFile(abs, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", abs, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", abs, undecoded[0].String())
	}
	if !meta.IsDefined("project") {
		return nil, fmt.Errorf("%s: missing [[project]]", abs)
	}
	if err := cfg.finish(); err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	return cfg, nil
}

// Default is the workspace used when no manifest exists: one project
// named after root whose modules live in root.
func Default(root string) (*Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %q: %w", root, err)
	}
	if err := loadDotEnv(abs); err != nil {
		return nil, err
	}
	cfg := &Config{
		Root:     abs,
		Projects: []Project{{Name: filepath.Base(abs), Root: "."}},
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Discover loads the manifest above startDir, or the default workspace
// rooted at startDir.
func Discover(startDir string) (*Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Default(startDir)
	}
	return Load(path)
}

func loadDotEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return nil
}

// finish applies environment overrides and defaults, validates projects
// and makes paths absolute.
func (c *Config) finish() error {
	w := &c.Workspace
	if v := os.Getenv(EnvDatabase); v != "" {
		w.Database = v
	}
	if v := os.Getenv(EnvPolicy); v != "" {
		w.Policy = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		w.Workers = n
	}
	if v := os.Getenv(EnvTypelibPath); v != "" {
		w.TypelibDirs = filepath.SplitList(v)
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		w.CacheDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		w.LogLevel = v
	}

	if w.Database == "" {
		w.Database = filepath.Join(".mallard", "index.db")
	}
	if w.CacheDir == "" {
		w.CacheDir = filepath.Join(".mallard", "typelib-cache")
	}
	if w.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", w.Workers)
	}
	if _, err := ParseLevel(w.LogLevel); err != nil {
		return err
	}

	w.Database = c.abs(w.Database)
	w.CacheDir = c.abs(w.CacheDir)
	for i, d := range w.TypelibDirs {
		w.TypelibDirs[i] = c.abs(d)
	}

	seen := make(map[string]bool, len(c.Projects))
	for i := range c.Projects {
		p := &c.Projects[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return fmt.Errorf("project %d: missing name", i+1)
		}
		k := naming.Fold(p.Name)
		if seen[k] {
			return fmt.Errorf("project %q declared twice", p.Name)
		}
		seen[k] = true
		if p.Root == "" {
			p.Root = p.Name
		}
		p.Root = c.abs(p.Root)
	}
	return nil
}

func (c *Config) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Root, filepath.FromSlash(p))
}

// Project returns the named project, matching case-insensitively.
func (c *Config) Project(name string) (Project, bool) {
	for _, p := range c.Projects {
		if naming.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Project{}, false
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.Workspace.LogLevel)
	return l
}

// ParseLevel parses debug, info, warn or error. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
}
