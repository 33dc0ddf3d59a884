// Package config loads the daemon configuration from defaults, an
// optional TOML file, environment variables and command-line flags,
// later sources winning.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const appName = "rotation"

// CatalogConfig selects and parameterizes the song catalog backend.
type CatalogConfig struct {
	Mode     string `koanf:"mode"`     // "local" or "remote"
	Path     string `koanf:"path"`     // SQLite database path for local mode
	Songbook string `koanf:"songbook"` // JSON songbook imported at startup, local mode only
	URL      string `koanf:"url"`      // remote catalog base URL
	Token    string `koanf:"token"`    // remote catalog bearer token
}

// Config holds application configuration.
type Config struct {
	HTTPAddr    string        `koanf:"http_addr"`
	MetricsAddr string        `koanf:"metrics_addr"`
	LogLevel    string        `koanf:"log_level"`
	StateFile   string        `koanf:"state_file"`
	SongLog     string        `koanf:"song_log"`
	BugLog      string        `koanf:"bug_log"`
	Catalog     CatalogConfig `koanf:"catalog"`

	ShowVersion bool `koanf:"-"`
}

// Load reads configuration for the given command-line arguments. An
// explicitly passed -config file must exist; the default file is
// loaded only when present.
func Load(args []string) (*Config, error) {
	cfg := &Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		StateFile:   filepath.Join(xdg.DataHome, appName, "queue.json"),
		BugLog:      filepath.Join(xdg.DataHome, appName, "bugs.csv"),
		Catalog: CatalogConfig{
			Mode: "local",
			Path: filepath.Join(xdg.DataHome, appName, "catalog.db"),
		},
	}

	configPath, explicit := configFlag(args)
	if configPath == "" {
		configPath = filepath.Join(xdg.ConfigHome, appName, "config.toml")
	}

	if _, err := os.Stat(configPath); err == nil {
		k := koanf.New(".")
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		if err := k.Unmarshal("", cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	loadEnv(cfg)

	fs := flag.NewFlagSet("rotationd", flag.ContinueOnError)
	fs.String("config", "", "Path to the TOML config file")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP server listen address for the queue API")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "HTTP server listen address for Prometheus metrics")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.StateFile, "state-file", cfg.StateFile, "Path to the persisted queue snapshot")
	fs.StringVar(&cfg.SongLog, "song-log", cfg.SongLog, "Path to the played-song log, empty disables it")
	fs.StringVar(&cfg.BugLog, "bug-log", cfg.BugLog, "Path to the bug-report log, empty disables it")
	fs.StringVar(&cfg.Catalog.Mode, "catalog-mode", cfg.Catalog.Mode, "Catalog mode: local or remote")
	fs.StringVar(&cfg.Catalog.Path, "catalog-path", cfg.Catalog.Path, "SQLite catalog path for local mode")
	fs.StringVar(&cfg.Catalog.Songbook, "songbook", cfg.Catalog.Songbook, "JSON songbook imported into the local catalog at startup")
	fs.StringVar(&cfg.Catalog.URL, "catalog-url", cfg.Catalog.URL, "Remote catalog base URL")
	fs.StringVar(&cfg.Catalog.Token, "catalog-token", cfg.Catalog.Token, "Remote catalog bearer token")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Catalog.Mode != "local" && cfg.Catalog.Mode != "remote" {
		return nil, fmt.Errorf("invalid catalog mode %q", cfg.Catalog.Mode)
	}
	if cfg.Catalog.Mode == "remote" && cfg.Catalog.URL == "" {
		return nil, fmt.Errorf("catalog mode remote requires a catalog url")
	}
	return cfg, nil
}

// configFlag pre-scans args for -config so the file can be loaded
// before the remaining flags override its values.
func configFlag(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-config" || arg == "--config":
			if i+1 < len(args) {
				return args[i+1], true
			}
		case strings.HasPrefix(arg, "-config="):
			return strings.TrimPrefix(arg, "-config="), true
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config="), true
		}
	}
	return "", false
}

func loadEnv(cfg *Config) {
	cfg.HTTPAddr = envOrDefault("ROTATION_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envOrDefault("ROTATION_METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = envOrDefault("ROTATION_LOG_LEVEL", cfg.LogLevel)
	cfg.StateFile = envOrDefault("ROTATION_STATE_FILE", cfg.StateFile)
	cfg.SongLog = envOrDefault("ROTATION_SONG_LOG", cfg.SongLog)
	cfg.BugLog = envOrDefault("ROTATION_BUG_LOG", cfg.BugLog)
	cfg.Catalog.Mode = envOrDefault("ROTATION_CATALOG_MODE", cfg.Catalog.Mode)
	cfg.Catalog.Path = envOrDefault("ROTATION_CATALOG_PATH", cfg.Catalog.Path)
	cfg.Catalog.Songbook = envOrDefault("ROTATION_CATALOG_SONGBOOK", cfg.Catalog.Songbook)
	cfg.Catalog.URL = envOrDefault("ROTATION_CATALOG_URL", cfg.Catalog.URL)
	cfg.Catalog.Token = envOrDefault("ROTATION_CATALOG_TOKEN", cfg.Catalog.Token)
}

func envOrDefault(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}
