// Package app is the composition root for portal.
//
// # Modes
//
// Serve and Watch share one setup path:
//
//  1. config.Load reads .env, the TOML file and environment overrides
//  2. Config.Validate fails fast on a missing URL, username or password
//  3. logging.Init installs the slog default
//  4. telemetry.Init installs the OTLP tracer provider when an endpoint is set
//  5. qbittorrent.NewClient builds the lazily authenticated session
//
// Serve then hands the client to gateway.Run and blocks until the context is
// cancelled. Watch starts the background poller and runs the Bubble Tea view;
// its logs go to ~/.local/state/portal/watch.log so they do not corrupt the
// screen.
//
// # Polling
//
//	StartPoller goroutine
//	 ├─> Version
//	 ├─> Torrents
//	 ├─> TransferInfo (best effort)
//	 └─> store.Update
//
// Polls run every PollInterval (default 2s). After a failure the wait doubles
// per consecutive failure and is capped at 30s, so a restarting qBittorrent is
// not hammered with logins. The first success resets the cadence.
package app
