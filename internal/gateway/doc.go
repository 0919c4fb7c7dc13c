// Package gateway exposes the qBittorrent session over a small HTTP API and an
// auto-refreshing status page.
//
// # Routes
//
//	GET /              status page, polls the API every 5 seconds
//	GET /api/status    {"status":"connected","version":"v4.6.2"}
//	GET /api/torrents  task records forwarded verbatim
//	GET /api/transfer  global transfer statistics
//	GET /healthz       liveness probe
//
// /api/torrents forwards filter, category, tag, sort, reverse, limit, offset
// and hashes to qBittorrent.
//
// # Errors
//
// Downstream failures are logged with full detail but reach the caller only as
// a fixed 500 message per route, such as
// {"error":"Failed to connect to qBittorrent"}. Credentials and upstream
// payloads never appear in responses.
//
// # Middleware
//
// Requests pass through request ID assignment (X-Request-Id, uuid when
// absent), panic recovery, permissive CORS and request logging, in that order.
package gateway
