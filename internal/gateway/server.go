package gateway

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/five82/portal/internal/logging"
	"github.com/five82/portal/internal/qbittorrent"
)

// Backend is the downstream surface the gateway reads from.
type Backend interface {
	Version(ctx context.Context) (string, error)
	WebAPIVersion(ctx context.Context) (string, error)
	Torrents(ctx context.Context, query qbittorrent.TorrentQuery) ([]json.RawMessage, error)
	TransferInfo(ctx context.Context) (json.RawMessage, error)
}

var _ Backend = (*qbittorrent.Client)(nil)

// User-facing failure messages. Details stay in the server log.
const (
	msgConnectFailed  = "Failed to connect to qBittorrent"
	msgTorrentsFailed = "Failed to fetch torrents"
	msgTransferFailed = "Failed to fetch transfer info"
	msgInternal       = "Internal server error"
)

//go:embed page.html
var statusPage []byte

// Server serves the status page and the JSON API.
type Server struct {
	backend Backend
	logger  *slog.Logger
	newID   func() string
}

// NewServer creates a Server reading from backend. A nil logger falls back to
// the slog default.
func NewServer(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: backend, logger: logger, newID: newRequestID}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handlePage)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/torrents", s.handleTorrents)
	mux.HandleFunc("GET /api/transfer", s.handleTransfer)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	var handler http.Handler = mux
	handler = logging.RequestLogger(s.logger)(handler)
	handler = corsMiddleware(handler)
	handler = recoverMiddleware(s.logger, handler)
	handler = requestIDMiddleware(s.newID, handler)
	return handler
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(statusPage)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	version, err := s.backend.Version(r.Context())
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("status check failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgConnectFailed)
		return
	}
	body := map[string]string{"status": "connected", "version": version}
	if webAPI, err := s.backend.WebAPIVersion(r.Context()); err == nil {
		body["webapi"] = webAPI
	} else {
		logging.FromContext(r.Context(), s.logger).Warn("webapi version lookup failed", "error", err)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	records, err := s.backend.Torrents(r.Context(), torrentQueryFromRequest(r))
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("fetch torrents failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgTorrentsFailed)
		return
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	logging.FromContext(r.Context(), s.logger).Debug("fetched torrents", "count", len(records))
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	info, err := s.backend.TransferInfo(r.Context())
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("fetch transfer info failed", "error", err)
		writeError(w, http.StatusInternalServerError, msgTransferFailed)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func torrentQueryFromRequest(r *http.Request) qbittorrent.TorrentQuery {
	values := r.URL.Query()
	query := qbittorrent.TorrentQuery{
		Filter:   values.Get("filter"),
		Category: values.Get("category"),
		Tag:      values.Get("tag"),
		Sort:     values.Get("sort"),
		Reverse:  parseBool(values.Get("reverse")),
		Limit:    parseNonNegative(values.Get("limit")),
		Offset:   parseInt(values.Get("offset")),
	}
	if hashes := values.Get("hashes"); hashes != "" {
		query.Hashes = splitHashes(hashes)
	}
	return query
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
