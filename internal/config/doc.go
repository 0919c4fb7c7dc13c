// Package config loads portal's configuration.
//
// # Resolution Order
//
//  1. A .env file in the working directory is loaded into the process
//     environment. Variables that are already set are left alone.
//  2. The TOML file is read: the -config path when given, otherwise
//     ~/.config/portal/config.toml. A missing file is not an error.
//  3. Environment variables override file values.
//
// # TOML Format
//
//	listen = ":3000"
//
//	[qbittorrent]
//	base_url = "http://qbittorrent:8080"
//	username = "admin"
//	password = "secret"
//	timeout_seconds = 5
//
//	[log]
//	level = "info"   # debug, info, warn, error
//	format = "text"  # text or json
//
//	[telemetry]
//	endpoint = ""    # OTLP/HTTP collector; empty disables export
//	insecure = false
//
//	[watch]
//	poll_seconds = 2
//	theme = ""
//
// # Environment
//
//   - PORT: listen port (the listen address becomes ":PORT"), default 3000
//   - QBITTORRENT_URL, QBITTORRENT_USERNAME, QBITTORRENT_PASSWORD
//   - PORTAL_LOG_LEVEL, PORTAL_LOG_FORMAT
//   - OTEL_EXPORTER_OTLP_ENDPOINT
//
// # Validation
//
// Defaults never include credentials. Validate reports every missing
// qbittorrent field so a misconfigured deployment fails at startup instead of
// logging in with placeholder values.
package config
