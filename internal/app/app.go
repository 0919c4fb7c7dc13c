package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/five82/portal/internal/config"
	"github.com/five82/portal/internal/gateway"
	"github.com/five82/portal/internal/logging"
	"github.com/five82/portal/internal/prefs"
	"github.com/five82/portal/internal/qbittorrent"
	"github.com/five82/portal/internal/state"
	"github.com/five82/portal/internal/telemetry"
	"github.com/five82/portal/internal/ui"
)

const (
	serviceName        = "portal"
	defaultWatchLog    = "~/.local/state/portal/watch.log"
	telemetryFlushWait = 5 * time.Second
)

// Options configure a portal run.
type Options struct {
	ConfigPath string
	PrefsPath  string // empty uses ~/.config/portal/prefs.toml
	PollEvery  int    // seconds; zero uses the config value
	Listen     string // overrides the configured listen address
	Version    string
}

type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	client   *qbittorrent.Client
	shutdown func(context.Context) error
	closeLog func() error
}

func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushWait)
	defer cancel()
	if err := r.shutdown(ctx); err != nil {
		r.logger.Warn("telemetry shutdown failed", "error", err)
	}
	if r.closeLog != nil {
		_ = r.closeLog()
	}
}

// setup loads configuration and builds the logger, tracer and client shared by
// both modes. logOut nil means stderr.
func setup(ctx context.Context, opts Options, logOut io.Writer) (*runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: logOut})

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	client, err := qbittorrent.NewClient(qbittorrent.Config{
		BaseURL:  cfg.QBittorrent.BaseURL,
		Username: cfg.QBittorrent.Username,
		Password: cfg.QBittorrent.Password,
		Timeout:  cfg.QBittorrent.Timeout,
		Logger:   logging.WithComponent(logger, "qbittorrent"),
	})
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("init qbittorrent client: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, client: client, shutdown: shutdown}, nil
}

// Serve runs the HTTP gateway until ctx is cancelled.
func Serve(ctx context.Context, opts Options) error {
	rt, err := setup(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := gateway.NewServer(rt.client, logging.WithComponent(rt.logger, "gateway"))
	return gateway.Run(ctx, gateway.RunConfig{
		Addr:    rt.cfg.Listen,
		Handler: srv.Handler(),
		Bound: func(addr net.Addr) {
			rt.logger.Info("web portal listening",
				"addr", addr.String(),
				"qbittorrent", rt.cfg.QBittorrent.BaseURL,
			)
		},
	})
}

// Watch runs the terminal monitor until the user quits or ctx is cancelled.
// Logs go to a file so they do not corrupt the screen.
func Watch(ctx context.Context, opts Options) error {
	logFile, err := openWatchLog()
	if err != nil {
		return err
	}

	rt, err := setup(ctx, opts, logFile)
	if err != nil {
		_ = logFile.Close()
		return err
	}
	rt.closeLog = logFile.Close
	defer rt.close()

	userPrefs, err := prefs.Load(opts.PrefsPath)
	if err != nil {
		rt.logger.Warn("load preferences failed", "error", err)
	}
	themeName := userPrefs.Theme
	if themeName == "" {
		themeName = rt.cfg.Watch.Theme
	}

	interval := rt.cfg.Watch.PollInterval
	if opts.PollEvery > 0 {
		interval = time.Duration(opts.PollEvery) * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := &state.Store{}
	StartPoller(ctx, store, rt.client, interval, logging.WithComponent(rt.logger, "poller"))

	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}
	return ui.Run(ctx, ui.Options{
		Store:     store,
		PollTick:  time.Second,
		ThemeName: themeName,
		Filter:    userPrefs.Filter,
		PrefsPath: prefsPath,
		LogPath:   logFile.Name(),
		Logger:    logging.WithComponent(rt.logger, "ui"),
	})
}

func openWatchLog() (*os.File, error) {
	path, err := config.ExpandPath(defaultWatchLog)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open watch log: %w", err)
	}
	return f, nil
}
