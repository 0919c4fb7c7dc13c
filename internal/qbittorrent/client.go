package qbittorrent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"
)

// Fetcher is the read surface the gateway and the poller depend on.
// It is implemented by *Client and can be faked in tests.
type Fetcher interface {
	Version(ctx context.Context) (string, error)
	WebAPIVersion(ctx context.Context) (string, error)
	Torrents(ctx context.Context, query TorrentQuery) ([]json.RawMessage, error)
	TransferInfo(ctx context.Context) (json.RawMessage, error)
}

// Ensure Client implements Fetcher at compile time.
var _ Fetcher = (*Client)(nil)

const (
	loginPath         = "/api/v2/auth/login"
	versionPath       = "/api/v2/app/version"
	webAPIVersionPath = "/api/v2/app/webapiVersion"
	torrentsPath      = "/api/v2/torrents/info"
	transferPath      = "/api/v2/transfer/info"

	defaultUserAgent = "portal/0.1"
	defaultTimeout   = 5 * time.Second

	// qBittorrent answers bad credentials with 200 and this body.
	loginRejectedBody = "Fails."

	maxResponseBytes = 32 << 20
	maxPayloadBytes  = 4 << 10

	tracerName = "github.com/five82/portal/internal/qbittorrent"
)

// Config holds the settings for one downstream session. BaseURL, Username and
// Password are required.
type Config struct {
	BaseURL  string
	Username string
	Password string

	// Timeout bounds every downstream call. Zero uses 5s.
	Timeout time.Duration

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider

	// HTTPClient is copied; the client always installs its own cookie jar.
	HTTPClient *http.Client
}

// Client talks to the qBittorrent WebUI API over a cookie-backed session.
// It logs in lazily and re-authenticates once when a call returns 403.
type Client struct {
	baseURL   *url.URL
	username  string
	password  string
	http      *http.Client
	userAgent string
	logger    *slog.Logger
	tracer    trace.Tracer

	authenticated atomic.Bool
	logins        singleflight.Group
}

// NewClient validates cfg and builds an unauthenticated Client.
func NewClient(cfg Config) (*Client, error) {
	switch {
	case strings.TrimSpace(cfg.BaseURL) == "":
		return nil, errors.New("qbittorrent base url is required")
	case cfg.Username == "":
		return nil, errors.New("qbittorrent username is required")
	case cfg.Password == "":
		return nil, errors.New("qbittorrent password is required")
	}

	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	var httpClient http.Client
	if cfg.HTTPClient != nil {
		httpClient = *cfg.HTTPClient
	}
	httpClient.Jar = jar
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = timeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Client{
		baseURL:   base,
		username:  cfg.Username,
		password:  cfg.Password,
		http:      &httpClient,
		userAgent: defaultUserAgent,
		logger:    logger,
		tracer:    tp.Tracer(tracerName),
	}, nil
}

// Authenticated reports whether the session is currently believed valid.
func (c *Client) Authenticated() bool {
	return c.authenticated.Load()
}

// Login submits the configured credentials and stores the session cookie.
// Failures clear the session and are returned as *AuthenticationError.
// Concurrent callers share a single in-flight login.
func (c *Client) Login(ctx context.Context) error {
	// The shared login must not be aborted by one caller going away; the
	// http.Client timeout still bounds it.
	shared := context.WithoutCancel(ctx)
	ch := c.logins.DoChan("login", func() (any, error) {
		return nil, c.login(shared)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return &AuthenticationError{Err: ctx.Err()}
	}
}

func (c *Client) login(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "qbittorrent.login")
	defer span.End()

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)
	encoded := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(loginPath, nil), strings.NewReader(encoded))
	if err != nil {
		return c.loginFailed(span, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Length", strconv.Itoa(len(encoded)))
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return c.loginFailed(span, 0, fmt.Errorf("execute request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if resp.StatusCode != http.StatusOK {
		return c.loginFailed(span, resp.StatusCode, nil)
	}
	if strings.TrimSpace(string(body)) == loginRejectedBody {
		return c.loginFailed(span, resp.StatusCode, errors.New("credentials rejected"))
	}

	c.authenticated.Store(true)
	c.logger.Info("login succeeded", "username", c.username)
	return nil
}

func (c *Client) loginFailed(span trace.Span, status int, cause error) error {
	c.authenticated.Store(false)
	authErr := &AuthenticationError{Status: status, Err: cause}
	span.RecordError(authErr)
	span.SetStatus(codes.Error, "login failed")
	c.logger.Warn("login failed", "username", c.username, "status", status, "error", cause)
	return authErr
}

// Request issues an authenticated GET to endpoint and returns the response
// body unmodified. It logs in first when no session exists and, when the call
// returns 403, logs in once more and retries exactly once.
func (c *Client) Request(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "qbittorrent.request",
		trace.WithAttributes(attribute.String("qbittorrent.endpoint", endpoint)))
	defer span.End()

	body, err := c.request(ctx, span, endpoint, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		c.logger.Warn("request failed", "endpoint", endpoint, "error", err)
		return nil, err
	}
	return body, nil
}

func (c *Client) request(ctx context.Context, span trace.Span, endpoint string, query url.Values) ([]byte, error) {
	if !c.authenticated.Load() {
		if err := c.Login(ctx); err != nil {
			return nil, sessionError(endpoint, err)
		}
	}

	status, body, err := c.get(ctx, endpoint, query)
	if err != nil {
		return nil, &RequestError{Endpoint: endpoint, Err: err}
	}

	if status == http.StatusForbidden {
		c.logger.Info("session expired, re-authenticating", "endpoint", endpoint)
		c.authenticated.Store(false)
		if err := c.Login(ctx); err != nil {
			return nil, sessionError(endpoint, err)
		}
		span.AddEvent("retry after re-authentication")
		status, body, err = c.get(ctx, endpoint, query)
		if err != nil {
			return nil, &RequestError{Endpoint: endpoint, Err: err}
		}
		if status == http.StatusForbidden {
			c.authenticated.Store(false)
		}
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	if status < 200 || status >= 300 {
		return nil, &RequestError{Endpoint: endpoint, Status: status, Payload: payloadSnippet(body)}
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL(endpoint, query), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// Version returns the application version string, e.g. "v4.6.2".
func (c *Client) Version(ctx context.Context) (string, error) {
	body, err := c.Request(ctx, versionPath, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// WebAPIVersion returns the WebUI API version string, e.g. "2.9.3".
func (c *Client) WebAPIVersion(ctx context.Context) (string, error) {
	body, err := c.Request(ctx, webAPIVersionPath, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// TorrentQuery configures /api/v2/torrents/info requests.
type TorrentQuery struct {
	Filter   string
	Category string
	Tag      string
	Sort     string
	Reverse  bool
	Limit    int
	Offset   int
	Hashes   []string
}

// Values encodes the query; zero fields are omitted.
func (q TorrentQuery) Values() url.Values {
	values := url.Values{}
	if filter := strings.TrimSpace(q.Filter); filter != "" {
		values.Set("filter", filter)
	}
	if category := strings.TrimSpace(q.Category); category != "" {
		values.Set("category", category)
	}
	if tag := strings.TrimSpace(q.Tag); tag != "" {
		values.Set("tag", tag)
	}
	if sort := strings.TrimSpace(q.Sort); sort != "" {
		values.Set("sort", sort)
	}
	if q.Reverse {
		values.Set("reverse", "true")
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset != 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(q.Hashes) > 0 {
		values.Set("hashes", strings.Join(q.Hashes, "|"))
	}
	return values
}

// Torrents returns the task records verbatim. An empty list is returned as an
// empty, non-nil slice.
func (c *Client) Torrents(ctx context.Context, query TorrentQuery) ([]json.RawMessage, error) {
	body, err := c.Request(ctx, torrentsPath, query.Values())
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []json.RawMessage{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, &RequestError{Endpoint: torrentsPath, Status: http.StatusOK, Err: fmt.Errorf("decode response: %w", err)}
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items, nil
}

// TransferInfo returns the global transfer statistics object verbatim.
func (c *Client) TransferInfo(ctx context.Context) (json.RawMessage, error) {
	body, err := c.Request(ctx, transferPath, nil)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, &RequestError{Endpoint: transferPath, Status: http.StatusOK, Err: errors.New("decode response: invalid json")}
	}
	return json.RawMessage(trimmed), nil
}

func (c *Client) endpointURL(endpoint string, query url.Values) string {
	u := *c.baseURL
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + endpoint
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// setHeaders adds the headers qBittorrent's CSRF protection checks.
func (c *Client) setHeaders(req *http.Request) {
	origin := c.baseURL.Scheme + "://" + c.baseURL.Host
	req.Header.Set("Referer", origin)
	req.Header.Set("Origin", origin)
	req.Header.Set("User-Agent", c.userAgent)
}

// sessionError attaches the endpoint to a login failure.
func sessionError(endpoint string, err error) error {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return &AuthenticationError{Endpoint: endpoint, Status: authErr.Status, Err: authErr.Err}
	}
	return &AuthenticationError{Endpoint: endpoint, Err: err}
}

func payloadSnippet(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > maxPayloadBytes {
		trimmed = trimmed[:maxPayloadBytes]
	}
	return string(trimmed)
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse base url %q: missing host", raw)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u, nil
}
