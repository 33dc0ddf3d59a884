package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solttila/rotation/internal/audit"
	"github.com/solttila/rotation/internal/catalog"
	"github.com/solttila/rotation/internal/config"
	"github.com/solttila/rotation/internal/metrics"
	"github.com/solttila/rotation/internal/queue"
	"github.com/solttila/rotation/internal/server"
)

var version = "0.0.0-dev" // Set by ldflags during build

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if cfg.ShowVersion {
		fmt.Printf("rotationd version %s\n", version)
		os.Exit(0)
	}

	// Initialize structured logging
	// LOG_FORMAT environment variable controls output: "json" or "text" (default)
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	var logger *slog.Logger

	lvl := parseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     lvl,
	}

	if logFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	}

	slog.SetDefault(logger)

	slog.Info("rotationd starting", "version", version, "log_level", lvl.String())

	slog.Info("Starting rotationd",
		"http_addr", cfg.HTTPAddr,
		"metrics_addr", cfg.MetricsAddr,
		"catalog_mode", cfg.Catalog.Mode,
		"state_file", cfg.StateFile,
	)

	// Initialize metrics with default prometheus registry
	m := metrics.New(prometheus.DefaultRegisterer)

	// Open the song catalog
	var cat catalog.Catalog

	switch cfg.Catalog.Mode {
	case "local":
		slog.Info("Opening local song catalog", "path", cfg.Catalog.Path)
		local, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			slog.Error("failed to open catalog", "error", err)
			os.Exit(1)
		}
		if cfg.Catalog.Songbook != "" {
			n, err := local.ImportFile(context.Background(), cfg.Catalog.Songbook)
			if err != nil {
				slog.Error("failed to import songbook", "path", cfg.Catalog.Songbook, "error", err)
				os.Exit(1)
			}
			slog.Info("Imported songbook", "path", cfg.Catalog.Songbook, "songs", n)
		}
		cat = local
	case "remote":
		slog.Info("Using remote song catalog", "url", cfg.Catalog.URL)
		cat = catalog.NewClient(cfg.Catalog.URL, cfg.Catalog.Token)
	default:
		slog.Error("Unknown catalog mode", "mode", cfg.Catalog.Mode)
		os.Exit(1)
	}

	defer func() {
		if err := cat.Close(); err != nil {
			slog.Error("error closing catalog", "error", err)
		}
	}()

	// The valid song set is fixed for the process lifetime; submissions
	// and persisted entries are checked against it.
	validSongs, err := cat.AllIDs(context.Background())
	if err != nil {
		slog.Error("failed to enumerate valid songs", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded valid song set", "songs", len(validSongs))

	store, err := queue.Load(cfg.StateFile, cat, validSongs, logger, m)
	if err != nil {
		slog.Error("failed to load queue state", "error", err)
		os.Exit(1)
	}
	slog.Info("Queue state loaded", "pending", store.Len())

	if cfg.SongLog != "" {
		songLog, err := audit.Open(cfg.SongLog)
		if err != nil {
			slog.Error("failed to open song log", "path", cfg.SongLog, "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := songLog.Close(); err != nil {
				slog.Error("error closing song log", "error", err)
			}
		}()
		store.SetSongLog(songLog)
	}

	if cfg.BugLog != "" {
		bugLog, err := audit.Open(cfg.BugLog)
		if err != nil {
			slog.Error("failed to open bug log", "path", cfg.BugLog, "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := bugLog.Close(); err != nil {
				slog.Error("error closing bug log", "error", err)
			}
		}()
		store.SetBugLog(bugLog)
	}

	// Create HTTP server for the queue API
	apiSrv := server.New(store, cat, logger)
	apiHTTP := &http.Server{Addr: cfg.HTTPAddr, Handler: apiSrv.Handler()}

	// Create HTTP server for metrics with health and readiness probes
	var readyFlag uint32 // 0 = not ready, 1 = ready
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		// Liveness check: process is up
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsMux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()

		if atomic.LoadUint32(&readyFlag) == 0 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if err := cat.Ping(ctx); err != nil {
			http.Error(w, "catalog not healthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	metricsHTTP := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	// Bind API listener before serving; mark ready only after bind success
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		slog.Error("failed to bind api listener", "addr", cfg.HTTPAddr, "error", err)
		os.Exit(1)
	}

	// Start servers in goroutines
	done := make(chan struct{}, 2)
	go func() {
		slog.Info("API server listening", "addr", cfg.HTTPAddr)
		atomic.StoreUint32(&readyFlag, 1)
		if err := apiHTTP.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
		}
		done <- struct{}{}
	}()

	go func() {
		slog.Info("Metrics HTTP server listening", "addr", cfg.MetricsAddr)
		if err := metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
		done <- struct{}{}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Shutdown signal received", "signal", sig.String())

	// Graceful shutdown
	atomic.StoreUint32(&readyFlag, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Drop listeners first so WebSocket write loops finish and their
	// connections close.
	store.Close()

	if err := apiHTTP.Shutdown(ctx); err != nil {
		slog.Error("error shutting down api server", "error", err)
	}
	if err := metricsHTTP.Shutdown(ctx); err != nil {
		slog.Error("error shutting down metrics server", "error", err)
	}

	// Wait for goroutines to exit or timeout
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

// parseLogLevel converts a string log level to slog.Level, defaulting to info on unknown values.
func parseLogLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "unknown log level %q, defaulting to info\n", lvl)
		return slog.LevelInfo
	}
}
