package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the callrelay server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	DatabaseURL string // Postgres connection string; empty selects embedded SQLite
	TLSCert     string
	TLSKey      string
	LogLevel    string
	LogFormat   string // log output format: "text" or "json"
	CORSOrigins string
	JWTSecret   string // hex-encoded 32-byte secret for client token signing

	// RingTimeout bounds how long an unanswered call keeps ringing. Zero
	// disables the sweep and calls ring until a party acts.
	RingTimeout time.Duration

	// HistoryRetentionDays removes call records older than this many days.
	// Zero keeps history forever.
	HistoryRetentionDays int

	WSReadLimit    int64 // maximum inbound websocket frame size in bytes
	WSPongWait     time.Duration
	WSPingInterval time.Duration
}

// defaults
const (
	defaultDataDir        = "./data"
	defaultHTTPPort       = 8080
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultWSReadLimit    = 64 * 1024
	defaultWSPongWait     = 60 * time.Second
	defaultWSPingInterval = 25 * time.Second
)

// envPrefix is the prefix for all callrelay environment variables.
const envPrefix = "CALLRELAY_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callrelay", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the embedded database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres connection string for call history (embedded SQLite if empty)")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to TLS private key file")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for client token signing (auto-generated if empty)")
	fs.DurationVar(&cfg.RingTimeout, "ring-timeout", 0, "fail unanswered calls after this duration (0 disables)")
	fs.IntVar(&cfg.HistoryRetentionDays, "history-retention-days", 0, "delete call records older than this many days (0 keeps forever)")
	fs.Int64Var(&cfg.WSReadLimit, "ws-read-limit", defaultWSReadLimit, "maximum inbound websocket message size in bytes")
	fs.DurationVar(&cfg.WSPongWait, "ws-pong-wait", defaultWSPongWait, "websocket pong deadline")
	fs.DurationVar(&cfg.WSPingInterval, "ws-ping-interval", defaultWSPingInterval, "websocket ping interval (must be shorter than ws-pong-wait)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":               envPrefix + "DATA_DIR",
		"http-port":              envPrefix + "HTTP_PORT",
		"database-url":           envPrefix + "DATABASE_URL",
		"tls-cert":               envPrefix + "TLS_CERT",
		"tls-key":                envPrefix + "TLS_KEY",
		"log-level":              envPrefix + "LOG_LEVEL",
		"log-format":             envPrefix + "LOG_FORMAT",
		"cors-origins":           envPrefix + "CORS_ORIGINS",
		"jwt-secret":             envPrefix + "JWT_SECRET",
		"ring-timeout":           envPrefix + "RING_TIMEOUT",
		"history-retention-days": envPrefix + "HISTORY_RETENTION_DAYS",
		"ws-read-limit":          envPrefix + "WS_READ_LIMIT",
		"ws-pong-wait":           envPrefix + "WS_PONG_WAIT",
		"ws-ping-interval":       envPrefix + "WS_PING_INTERVAL",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "database-url":
			cfg.DatabaseURL = val
		case "tls-cert":
			cfg.TLSCert = val
		case "tls-key":
			cfg.TLSKey = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "ring-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.RingTimeout = v
			}
		case "history-retention-days":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HistoryRetentionDays = v
			}
		case "ws-read-limit":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cfg.WSReadLimit = v
			}
		case "ws-pong-wait":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.WSPongWait = v
			}
		case "ws-ping-interval":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.WSPingInterval = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	// TLS cert and key must both be set or both be empty.
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls-cert and tls-key must both be provided or both be omitted")
	}

	if c.RingTimeout < 0 {
		return fmt.Errorf("ring-timeout must not be negative, got %s", c.RingTimeout)
	}
	if c.HistoryRetentionDays < 0 {
		return fmt.Errorf("history-retention-days must not be negative, got %d", c.HistoryRetentionDays)
	}
	if c.WSReadLimit < 1024 {
		return fmt.Errorf("ws-read-limit must be at least 1024 bytes, got %d", c.WSReadLimit)
	}
	if c.WSPongWait <= 0 || c.WSPingInterval <= 0 {
		return fmt.Errorf("ws-pong-wait and ws-ping-interval must be positive")
	}
	if c.WSPingInterval >= c.WSPongWait {
		return fmt.Errorf("ws-ping-interval (%s) must be shorter than ws-pong-wait (%s)", c.WSPingInterval, c.WSPongWait)
	}

	return nil
}

// TLSEnabled returns true if TLS certificates are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != ""
}

// JWTSecretBytes returns the decoded 32-byte token signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
