// Command songbook imports a JSON songbook into the local catalog
// database, so the catalog can be (re)built without starting rotationd.
// It reads the same configuration sources as the daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/solttila/rotation/internal/catalog"
	"github.com/solttila/rotation/internal/config"
)

// version is set at build time via ldflags.
var version = "0.0.0-dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.ShowVersion {
		fmt.Printf("songbook version %s\n", version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if cfg.Catalog.Mode != "local" {
		logger.Error("Songbook import requires the local catalog", "catalog_mode", cfg.Catalog.Mode)
		os.Exit(1)
	}
	if cfg.Catalog.Songbook == "" {
		logger.Error("No songbook file given, use -songbook")
		os.Exit(1)
	}

	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		logger.Error("Failed to open catalog database", "path", cfg.Catalog.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	n, err := store.ImportFile(context.Background(), cfg.Catalog.Songbook)
	if err != nil {
		logger.Error("Failed to import songbook", "file", cfg.Catalog.Songbook, "error", err)
		os.Exit(1)
	}
	logger.Info("Imported songbook", "file", cfg.Catalog.Songbook, "songs", n, "catalog", cfg.Catalog.Path)
}
