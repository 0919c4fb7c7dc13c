package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config captures everything portal needs at startup.
type Config struct {
	Listen      string
	QBittorrent QBittorrentConfig
	Log         LogConfig
	Telemetry   TelemetryConfig
	Watch       WatchConfig
}

// QBittorrentConfig describes the downstream WebUI API.
type QBittorrentConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string
	Format string
}

// TelemetryConfig controls trace export. An empty Endpoint disables export.
type TelemetryConfig struct {
	Endpoint string
	Insecure bool
}

// WatchConfig controls the terminal monitor.
type WatchConfig struct {
	PollInterval time.Duration
	Theme        string
}

const (
	defaultConfigPath   = "~/.config/portal/config.toml"
	defaultPort         = 3000
	defaultTimeout      = 5 * time.Second
	defaultPollInterval = 2 * time.Second
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
)

// Environment variables that override file values.
const (
	EnvPort           = "PORT"
	EnvBaseURL        = "QBITTORRENT_URL"
	EnvUsername       = "QBITTORRENT_USERNAME"
	EnvPassword       = "QBITTORRENT_PASSWORD"
	EnvLogLevel       = "PORTAL_LOG_LEVEL"
	EnvLogFormat      = "PORTAL_LOG_FORMAT"
	EnvOTLPEndpoint   = "OTEL_EXPORTER_OTLP_ENDPOINT"
	defaultDotEnvFile = ".env"
)

// ErrInvalid marks a configuration that cannot be used.
var ErrInvalid = errors.New("invalid config")

type fileConfig struct {
	Listen      string `toml:"listen"`
	QBittorrent struct {
		BaseURL        string `toml:"base_url"`
		Username       string `toml:"username"`
		Password       string `toml:"password"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"qbittorrent"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
	Telemetry struct {
		Endpoint string `toml:"endpoint"`
		Insecure bool   `toml:"insecure"`
	} `toml:"telemetry"`
	Watch struct {
		PollSeconds int    `toml:"poll_seconds"`
		Theme       string `toml:"theme"`
	} `toml:"watch"`
}

// Default returns the configuration used when nothing is set. It carries no
// credentials; Validate rejects it until they are supplied.
func Default() Config {
	return Config{
		Listen:      fmt.Sprintf(":%d", defaultPort),
		QBittorrent: QBittorrentConfig{Timeout: defaultTimeout},
		Log:         LogConfig{Level: defaultLogLevel, Format: defaultLogFormat},
		Watch:       WatchConfig{PollInterval: defaultPollInterval},
	}
}

// Load reads the TOML file at path (the default path when empty), then applies
// .env and environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	if err := loadDotEnv(defaultDotEnvFile); err != nil {
		return Config{}, err
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	switch {
	case err == nil:
		defer file.Close()
		bytes, err := io.ReadAll(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		var raw fileConfig
		if err := toml.Unmarshal(bytes, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
		cfg = merge(cfg, raw)
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("open config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails when the downstream address or credentials are missing.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.QBittorrent.BaseURL) == "" {
		missing = append(missing, "qbittorrent.base_url")
	}
	if c.QBittorrent.Username == "" {
		missing = append(missing, "qbittorrent.username")
	}
	if c.QBittorrent.Password == "" {
		missing = append(missing, "qbittorrent.password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalid)
	}
	return nil
}

func merge(cfg Config, raw fileConfig) Config {
	if listen := strings.TrimSpace(raw.Listen); listen != "" {
		cfg.Listen = listen
	}
	cfg.QBittorrent.BaseURL = strings.TrimSpace(raw.QBittorrent.BaseURL)
	cfg.QBittorrent.Username = strings.TrimSpace(raw.QBittorrent.Username)
	cfg.QBittorrent.Password = raw.QBittorrent.Password
	if raw.QBittorrent.TimeoutSeconds > 0 {
		cfg.QBittorrent.Timeout = time.Duration(raw.QBittorrent.TimeoutSeconds) * time.Second
	}
	if level := strings.TrimSpace(raw.Log.Level); level != "" {
		cfg.Log.Level = level
	}
	if format := strings.TrimSpace(raw.Log.Format); format != "" {
		cfg.Log.Format = format
	}
	cfg.Telemetry.Endpoint = strings.TrimSpace(raw.Telemetry.Endpoint)
	cfg.Telemetry.Insecure = raw.Telemetry.Insecure
	if raw.Watch.PollSeconds > 0 {
		cfg.Watch.PollInterval = time.Duration(raw.Watch.PollSeconds) * time.Second
	}
	cfg.Watch.Theme = strings.TrimSpace(raw.Watch.Theme)
	return cfg
}

func applyEnv(cfg *Config) error {
	if port := strings.TrimSpace(os.Getenv(EnvPort)); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("%w: %s=%q is not a port", ErrInvalid, EnvPort, port)
		}
		cfg.Listen = fmt.Sprintf(":%d", n)
	}
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		cfg.QBittorrent.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvUsername)); v != "" {
		cfg.QBittorrent.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		cfg.QBittorrent.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Log.Format = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvOTLPEndpoint)); v != "" {
		cfg.Telemetry.Endpoint = v
	}
	return nil
}

// loadDotEnv populates unset environment variables from path when it exists.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return ExpandPath(defaultConfigPath)
	}
	return ExpandPath(path)
}

// ExpandPath resolves a leading ~ to the home directory and returns an absolute path.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
