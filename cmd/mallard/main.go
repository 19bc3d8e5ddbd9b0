package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/mallard"
	"github.com/jward/mallard/internal/config"
)

var (
	flagDB       string
	flagConfig   string
	flagFormat   string
	flagLogLevel string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "mallard",
	Short:         "Declaration index and resolver for VBA projects",
	Long:          "Mallard parses exported VBA modules, resolves every identifier against the workspace's projects and type libraries, and mirrors the result into SQLite for queries.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		if flagLogLevel != "" {
			if _, err := config.ParseLevel(flagLogLevel); err != nil {
				return err
			}
		}
		return nil
	},
	// No Run, prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path, relative to the working directory (default: from mallard.toml, else .mallard/index.db)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "workspace manifest (default: mallard.toml found from the working directory)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (default: from the manifest)")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(queryCmd)
}

var (
	flagForce   bool
	flagProject string
)

var indexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Index the workspace's VBA modules",
	Long:  "Reads every module file of the workspace projects, runs a parse and resolution cycle, and writes the declarations to the SQLite database.\nWithout a mallard.toml, dir is indexed as a single project named after it.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete database and reindex from scratch")
	indexCmd.Flags().StringVar(&flagProject, "project", "", "index only this project")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return outputError("index", err)
	}

	if flagForce {
		if err := os.Remove(cfg.Workspace.Database); err != nil && !os.IsNotExist(err) {
			return outputError("index", fmt.Errorf("removing database for --force: %w", err))
		}
		fmt.Fprintf(os.Stderr, "Cleared database: %s\n", cfg.Workspace.Database)
	}

	ctx := context.Background()
	engine, err := mallard.Open(ctx, cfg, mallard.WithLogger(newLogger(cfg)))
	if err != nil {
		return outputError("index", fmt.Errorf("opening workspace: %w", err))
	}
	defer engine.Close()

	var stats *mallard.IndexStats
	if flagProject != "" {
		stats, err = engine.IndexDirectory(ctx, flagProject)
	} else {
		stats, err = engine.IndexWorkspace(ctx)
	}
	if stats == nil {
		return outputError("index", err)
	}

	summary, sumErr := indexSummary(engine, stats)
	if sumErr != nil {
		return outputError("index", sumErr)
	}
	fmt.Fprintf(os.Stderr, "Indexed %d file(s) in %s\n", stats.Files, time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "Database: %s\n", cfg.Workspace.Database)

	if err != nil {
		result := CLIResult{Command: "index", Results: summary, Error: err.Error()}
		_ = outputResult(result)
		errorHandled = true
		return err
	}
	return outputResult(CLIResult{Command: "index", Results: summary})
}

// indexSummary reports the run with every source module's status.
func indexSummary(engine *mallard.Engine, stats *mallard.IndexStats) (CLIIndexSummary, error) {
	summary := CLIIndexSummary{
		State:     stats.State.String(),
		Files:     stats.Files,
		Changed:   stats.Changed,
		Unchanged: stats.Unchanged,
		Removed:   stats.Removed,
		Version:   stats.Mirror.Version,
		Modules:   []CLIModule{},
	}
	mods, err := engine.Query().Modules()
	if err != nil {
		return summary, err
	}
	for _, m := range mods {
		if m.Name == "" {
			continue
		}
		summary.Modules = append(summary.Modules, moduleToCLI(m))
	}
	unavailable, err := engine.Query().Unavailable()
	if err != nil {
		return summary, err
	}
	summary.Unavailable = unavailable
	return summary, nil
}

// loadConfig loads the --config manifest, or discovers one from dir.
// --db overrides the manifest's database.
func loadConfig(dir string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
	} else {
		if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
			return nil, fmt.Errorf("directory not found: %s", dir)
		}
		cfg, err = config.Discover(dir)
	}
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting cwd: %w", err)
		}
		cfg.Workspace.Database = resolveDBPath(cwd)
	}
	return cfg, nil
}

// resolveDBPath returns the database path from the --db flag relative to
// base, the working directory.
func resolveDBPath(base string) string {
	if flagDB == "" || filepath.IsAbs(flagDB) {
		return flagDB
	}
	return filepath.Join(base, flagDB)
}

// newLogger builds the stderr logger at the --log-level, else the
// manifest's level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.Level()
	if flagLogLevel != "" {
		level, _ = config.ParseLevel(flagLogLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
