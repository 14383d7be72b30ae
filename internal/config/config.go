// Package config resolves Axon's CLI surface (§6): flags, environment
// overrides, and an optional YAML file for defaults. Modeled on
// cmd/cliaimonitor/main.go's flag.* parsing, generalized with a file-backed
// default layer the way internal/agents.LoadTeamsConfig loads teams.yaml.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultTransport   = "stream"
	defaultDatabaseURL = "axon.sqlite"
	defaultListenAddr  = "127.0.0.1:8080"
	defaultLogLevel    = "info"
)

// Version is stamped at build time via -ldflags; left as a constant default
// for a plain `go build`, matching the teacher's lack of a build-info package.
var Version = "dev"

// fileDefaults mirrors the subset of flags an on-disk config file may set.
// Loaded first so CLI flags and environment variables can still override it,
// per §6 ("CLI surface" / "environment variables override CLI flags").
type fileDefaults struct {
	Transport   string `yaml:"transport"`
	DatabaseURL string `yaml:"database_url"`
	ListenAddr  string `yaml:"listen"`
	LogLevel    string `yaml:"log_level"`
}

// Config is the resolved, validated set of startup parameters.
type Config struct {
	Transport   string // "stream" or "http"
	DatabaseURL string
	ListenAddr  string
	LogLevel    string
	ShowVersion bool
}

// Load parses args (normally os.Args[1:]) against four layers of
// precedence, lowest to highest: built-in defaults, an optional --config
// YAML file, CLI flags, then DATABASE_URL/LISTEN_ADDR/LOG_LEVEL environment
// variables. It returns a plain error on malformed input; main maps that to
// exit code 1 (configuration error, §6).
func Load(args []string) (*Config, error) {
	defaults := fileDefaults{
		Transport:   defaultTransport,
		DatabaseURL: defaultDatabaseURL,
		ListenAddr:  defaultListenAddr,
		LogLevel:    defaultLogLevel,
	}

	configPath := scanConfigFlag(args)
	if configPath != "" {
		loaded, err := loadFileDefaults(configPath)
		if err != nil {
			return nil, err
		}
		defaults = loaded
	}

	fs := flag.NewFlagSet("axon", flag.ContinueOnError)
	transport := fs.String("transport", defaults.Transport, "transport to serve: stream or http")
	databaseURL := fs.String("database-url", defaults.DatabaseURL, "sqlite database path or memory:// for an in-memory store")
	listenAddr := fs.String("listen", defaults.ListenAddr, "host:port for the http transport")
	logLevel := fs.String("log-level", defaults.LogLevel, "zerolog level: debug, info, warn, error")
	fs.String("config", configPath, "optional YAML file of defaults (transport, database_url, listen, log_level)")
	version := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Transport:   *transport,
		DatabaseURL: *databaseURL,
		ListenAddr:  *listenAddr,
		LogLevel:    *logLevel,
		ShowVersion: *version,
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.ShowVersion {
		return cfg, nil
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport {
	case "stream", "http":
	default:
		return fmt.Errorf("config: --transport must be %q or %q, got %q", "stream", "http", c.Transport)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: --database-url must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: --log-level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}

// scanConfigFlag looks for --config/-config in args without triggering flag
// parsing errors on the rest of the flag set, since the config file's
// contents decide what the real flag set's defaults are.
func scanConfigFlag(args []string) string {
	fs := flag.NewFlagSet("axon-config-scan", flag.ContinueOnError)
	fs.SetOutput(discardWriter{})
	path := fs.String("config", "", "")
	_ = fs.Parse(args)
	return *path
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func loadFileDefaults(path string) (fileDefaults, error) {
	d := fileDefaults{
		Transport:   defaultTransport,
		DatabaseURL: defaultDatabaseURL,
		ListenAddr:  defaultListenAddr,
		LogLevel:    defaultLogLevel,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return d, nil
}
