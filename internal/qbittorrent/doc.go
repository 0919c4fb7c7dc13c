// Package qbittorrent provides an authenticated HTTP client for the qBittorrent
// WebUI API (v2).
//
// # Overview
//
// The API authenticates with a session cookie (SID) issued by
// POST /api/v2/auth/login. Client owns one such session: a cookie jar plus an
// authenticated flag. It logs in lazily on first use and, when a call comes
// back with 403, logs in once more and retries that call exactly once.
//
// # Client Usage
//
//	client, err := qbittorrent.NewClient(qbittorrent.Config{
//		BaseURL:  "http://qbittorrent:8080",
//		Username: "admin",
//		Password: "secret",
//	})
//	if err != nil {
//		return err
//	}
//
//	version, err := client.Version(ctx)
//	torrents, err := client.Torrents(ctx, qbittorrent.TorrentQuery{Filter: "active"})
//
// # Session Lifecycle
//
//	Unauthenticated --login ok--> Authenticated --403 seen--> Unauthenticated
//
// A failed login leaves the session unauthenticated and surfaces an error to the
// caller. The client never retries a login on its own beyond the single
// re-login that follows a 403, so a permanently rejecting backend cannot cause a
// login loop. Concurrent callers that need a session share one in-flight login.
//
// # API Endpoints
//
// All calls are read-only:
//
//   - GET /api/v2/app/version: application version (plain text)
//   - GET /api/v2/app/webapiVersion: WebUI API version (plain text)
//   - GET /api/v2/torrents/info: task list (JSON array, forwarded verbatim)
//   - GET /api/v2/transfer/info: global transfer statistics (JSON object)
//
// # Error Handling
//
// Failures come back as one of two types:
//
//   - *AuthenticationError: no session could be established (first login or
//     the re-login after a 403). errors.Is(err, ErrAuthentication) matches it.
//   - *RequestError: any other downstream failure, carrying the endpoint, the
//     HTTP status when there was one, and a truncated error payload.
//
// # Timeouts
//
// Every call is bounded by Config.Timeout (5 seconds by default) and by the
// caller's context.
package qbittorrent
