package qbittorrent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fakeQBittorrent emulates the WebUI API session handling: a successful login
// issues a fresh SID cookie and only the latest SID is accepted.
type fakeQBittorrent struct {
	mu            sync.Mutex
	loginAttempts int
	calls         map[string]int
	validSID      string
	loginOK       func(attempt int) bool
	rejectBody    bool
	loginGate     chan struct{}
	bodies        map[string]string
	statuses      map[string]int
	lastForm      url.Values
	lastHeaders   http.Header
	lastQuery     url.Values
	server        *httptest.Server
}

func newFakeQBittorrent(t *testing.T) *fakeQBittorrent {
	t.Helper()
	f := &fakeQBittorrent{
		calls:    make(map[string]int),
		bodies:   make(map[string]string),
		statuses: make(map[string]int),
		loginOK:  func(int) bool { return true },
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeQBittorrent) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == loginPath {
		f.mu.Lock()
		gate := f.loginGate
		f.mu.Unlock()
		if gate != nil {
			f.mu.Lock()
			f.loginAttempts++
			f.mu.Unlock()
			<-gate
			f.mu.Lock()
			defer f.mu.Unlock()
			f.finishLogin(w, r)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.loginAttempts++
		f.finishLogin(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.URL.Path]++
	f.lastQuery = r.URL.Query()

	cookie, err := r.Cookie("SID")
	if err != nil || f.validSID == "" || cookie.Value != f.validSID {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Forbidden"))
		return
	}
	body, ok := f.bodies[r.URL.Path]
	if code := f.statuses[r.URL.Path]; code != 0 {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(body))
}

func (f *fakeQBittorrent) finishLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_ = r.ParseForm()
	f.lastForm = r.PostForm
	f.lastHeaders = r.Header.Clone()

	if !f.loginOK(f.loginAttempts) {
		if f.rejectBody {
			_, _ = w.Write([]byte("Fails."))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.validSID = fmt.Sprintf("sid-%d", f.loginAttempts)
	http.SetCookie(w, &http.Cookie{Name: "SID", Value: f.validSID, Path: "/", HttpOnly: true})
	_, _ = w.Write([]byte("Ok."))
}

func (f *fakeQBittorrent) expireSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validSID = ""
}

func (f *fakeQBittorrent) counts(path string) (logins, calls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginAttempts, f.calls[path]
}

func (f *fakeQBittorrent) set(path, body string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[path] = body
	f.statuses[path] = status
}

func (f *fakeQBittorrent) setLoginOK(fn func(attempt int) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginOK = fn
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:  baseURL,
		Username: "admin",
		Password: "adminadmin",
		Timeout:  2 * time.Second,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewClient_RequiresAllFields(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing base url", Config{Username: "u", Password: "p"}, "base url"},
		{"blank base url", Config{BaseURL: "   ", Username: "u", Password: "p"}, "base url"},
		{"missing username", Config{BaseURL: "http://qb:8080", Password: "p"}, "username"},
		{"missing password", Config{BaseURL: "http://qb:8080", Username: "u"}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("NewClient error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestParseBaseURL_Normalizes(t *testing.T) {
	u, err := parseBaseURL("qbittorrent:8080")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.Scheme != "http" || u.Host != "qbittorrent:8080" {
		t.Fatalf("parseBaseURL = %q, want http://qbittorrent:8080", u.String())
	}

	u, err = parseBaseURL("https://nas.local/qbt/?x=1#frag")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.Path != "/qbt" || u.RawQuery != "" || u.Fragment != "" {
		t.Fatalf("url not normalized: %q", u.String())
	}

	if _, err := parseBaseURL("http://"); err == nil {
		t.Fatalf("parseBaseURL returned nil error for missing host")
	}
}

func TestVersion_LogsInOnceBeforeFirstCall(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.set(versionPath, "4.5.0", 0)
	c := newTestClient(t, f.server.URL)

	version, err := c.Version(testContext(t))
	if err != nil {
		t.Fatalf("Version returned error: %v", err)
	}
	if version != "4.5.0" {
		t.Fatalf("Version = %q, want 4.5.0", version)
	}

	logins, calls := f.counts(versionPath)
	if logins != 1 || calls != 1 {
		t.Fatalf("logins=%d calls=%d, want 1 and 1", logins, calls)
	}
	if !c.Authenticated() {
		t.Fatalf("Authenticated() = false after successful login")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastForm.Get("username") != "admin" || f.lastForm.Get("password") != "adminadmin" {
		t.Fatalf("login form = %v, want username/password", f.lastForm)
	}
	if ct := f.lastHeaders.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
		t.Fatalf("login Content-Type = %q", ct)
	}
	if ref := f.lastHeaders.Get("Referer"); ref != f.server.URL {
		t.Fatalf("login Referer = %q, want %q", ref, f.server.URL)
	}
	if !strings.HasPrefix(f.lastHeaders.Get("User-Agent"), "portal/") {
		t.Fatalf("User-Agent = %q, want portal/*", f.lastHeaders.Get("User-Agent"))
	}
}

func TestRequest_AuthenticatedSessionSkipsLogin(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.set(versionPath, "4.5.0", 0)
	c := newTestClient(t, f.server.URL)
	ctx := testContext(t)

	for i := 0; i < 3; i++ {
		if _, err := c.Version(ctx); err != nil {
			t.Fatalf("Version call %d returned error: %v", i, err)
		}
	}
	logins, calls := f.counts(versionPath)
	if logins != 1 || calls != 3 {
		t.Fatalf("logins=%d calls=%d, want 1 and 3", logins, calls)
	}
}

func TestTorrents_LoginFailureMakesNoDownstreamCall(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.set(torrentsPath, "[]", 0)
	f.setLoginOK(func(int) bool { return false })
	c := newTestClient(t, f.server.URL)

	_, err := c.Torrents(testContext(t), TorrentQuery{})
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("Torrents error = %v, want *AuthenticationError", err)
	}
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("errors.Is(err, ErrAuthentication) = false")
	}
	if authErr.Endpoint != torrentsPath || authErr.Status != http.StatusUnauthorized {
		t.Fatalf("AuthenticationError = %#v, want endpoint %s status 401", authErr, torrentsPath)
	}

	logins, calls := f.counts(torrentsPath)
	if logins != 1 || calls != 0 {
		t.Fatalf("logins=%d calls=%d, want 1 and 0", logins, calls)
	}
	if c.Authenticated() {
		t.Fatalf("Authenticated() = true after failed login")
	}
}

func TestLogin_RejectedCredentialsBody(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.rejectBody = true
	f.setLoginOK(func(int) bool { return false })
	c := newTestClient(t, f.server.URL)

	err := c.Login(testContext(t))
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("Login error = %v, want *AuthenticationError", err)
	}
	if authErr.Status != http.StatusOK || !strings.Contains(err.Error(), "credentials rejected") {
		t.Fatalf("Login error = %v, want rejected credentials on status 200", err)
	}
}

func TestLogin_TransportFailure(t *testing.T) {
	f := newFakeQBittorrent(t)
	c := newTestClient(t, f.server.URL)
	f.server.Close()

	err := c.Login(testContext(t))
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("Login error = %v, want *AuthenticationError", err)
	}
	if authErr.Status != 0 || authErr.Err == nil {
		t.Fatalf("AuthenticationError = %#v, want transport cause and no status", authErr)
	}
}

func TestVersion_ReauthenticatesOnExpiredSession(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.set(versionPath, "4.5.1", 0)
	c := newTestClient(t, f.server.URL)
	ctx := testContext(t)

	if err := c.Login(ctx); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	f.expireSession()

	version, err := c.Version(ctx)
	if err != nil {
		t.Fatalf("Version returned error: %v", err)
	}
	if version != "4.5.1" {
		t.Fatalf("Version = %q, want 4.5.1", version)
	}
	logins, calls := f.counts(versionPath)
	if logins != 2 || calls != 2 {
		t.Fatalf("logins=%d calls=%d, want 2 and 2", logins, calls)
	}
}

func TestVersion_ReloginFailureMakesNoRetry(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.set(versionPath, "4.5.1", 0)
	c := newTestClient(t, f.server.URL)
	ctx := testContext(t)

	if err := c.Login(ctx); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	f.expireSession()
	f.setLoginOK(func(attempt int) bool { return attempt == 1 })

	_, err := c.Version(ctx)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Version error = %v, want authentication error", err)
	}
	logins, calls := f.counts(versionPath)
	if logins != 2 || calls != 1 {
		t.Fatalf("logins=%d calls=%d, want 2 and 1", logins, calls)
	}
	if c.Authenticated() {
		t.Fatalf("Authenticated() = true after failed re-login")
	}
}

func TestRequest_RetryFailurePropagates(t *testing.T) {
	f := newFakeQBittorrent(t)
	// A valid session still gets 403 here, so the retry fails too.
	f.set(versionPath, "Forbidden", http.StatusForbidden)
	c := newTestClient(t, f.server.URL)

	_, err := c.Version(testContext(t))
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Version error = %v, want *RequestError", err)
	}
	if reqErr.Status != http.StatusForbidden || reqErr.Endpoint != versionPath {
		t.Fatalf("RequestError = %#v, want 403 on %s", reqErr, versionPath)
	}
	logins, calls := f.counts(versionPath)
	if logins != 2 || calls != 2 {
		t.Fatalf("logins=%d calls=%d, want 2 and 2", logins, calls)
	}
	if c.Authenticated() {
		t.Fatalf("Authenticated() = true after the retry was also forbidden")
	}
}

func TestRequest_ErrorStatusIsNotRetried(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.set(versionPath, "boom", http.StatusInternalServerError)
	c := newTestClient(t, f.server.URL)

	_, err := c.Version(testContext(t))
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Version error = %v, want *RequestError", err)
	}
	if reqErr.Status != http.StatusInternalServerError || reqErr.Payload != "boom" {
		t.Fatalf("RequestError = %#v, want status 500 payload boom", reqErr)
	}
	if !strings.Contains(err.Error(), "returned status 500") {
		t.Fatalf("error = %q, want status in message", err.Error())
	}
	logins, calls := f.counts(versionPath)
	if logins != 1 || calls != 1 {
		t.Fatalf("logins=%d calls=%d, want 1 and 1", logins, calls)
	}
}

func TestTorrents_EmptyListIsNotError(t *testing.T) {
	f := newFakeQBittorrent(t)
	c := newTestClient(t, f.server.URL)
	ctx := testContext(t)

	for _, body := range []string{"[]", "null", ""} {
		f.set(torrentsPath, body, 0)
		items, err := c.Torrents(ctx, TorrentQuery{})
		if err != nil {
			t.Fatalf("Torrents(%q) returned error: %v", body, err)
		}
		if items == nil || len(items) != 0 {
			t.Fatalf("Torrents(%q) = %#v, want empty non-nil slice", body, items)
		}
	}
}

func TestTorrents_ForwardsRecordsVerbatimAndEncodesQuery(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.set(torrentsPath, `[{"name":"ubuntu.iso","progress":0.5,"dlspeed":1048576,"custom":{"x":1}}]`, 0)
	c := newTestClient(t, f.server.URL)

	items, err := c.Torrents(testContext(t), TorrentQuery{
		Filter:   "downloading",
		Category: "linux",
		Sort:     "name",
		Reverse:  true,
		Limit:    10,
		Offset:   5,
		Hashes:   []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("Torrents returned error: %v", err)
	}
	if len(items) != 1 || string(items[0]) != `{"name":"ubuntu.iso","progress":0.5,"dlspeed":1048576,"custom":{"x":1}}` {
		t.Fatalf("Torrents = %s, want record forwarded verbatim", items)
	}

	f.mu.Lock()
	q := f.lastQuery
	f.mu.Unlock()
	if q.Get("filter") != "downloading" ||
		q.Get("category") != "linux" ||
		q.Get("sort") != "name" ||
		q.Get("reverse") != "true" ||
		q.Get("limit") != "10" ||
		q.Get("offset") != "5" ||
		q.Get("hashes") != "a|b" {
		t.Fatalf("query = %v, want params encoded", q)
	}
}

func TestTorrents_DecodeError(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.set(torrentsPath, "{not-json", 0)
	c := newTestClient(t, f.server.URL)

	_, err := c.Torrents(testContext(t), TorrentQuery{})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || !strings.Contains(err.Error(), "decode response") {
		t.Fatalf("Torrents error = %v, want decode response RequestError", err)
	}
}

func TestTransferInfoAndWebAPIVersion(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.set(transferPath, `{"dl_info_speed":2048,"connection_status":"connected"}`, 0)
	f.set(webAPIVersionPath, "2.9.3\n", 0)
	c := newTestClient(t, f.server.URL)
	ctx := testContext(t)

	raw, err := c.TransferInfo(ctx)
	if err != nil {
		t.Fatalf("TransferInfo returned error: %v", err)
	}
	info, err := DecodeTransferInfo(raw)
	if err != nil {
		t.Fatalf("DecodeTransferInfo returned error: %v", err)
	}
	if info.DLSpeed != 2048 || info.ConnectionStatus != "connected" {
		t.Fatalf("TransferInfo = %#v, want dl 2048 connected", info)
	}

	api, err := c.WebAPIVersion(ctx)
	if err != nil {
		t.Fatalf("WebAPIVersion returned error: %v", err)
	}
	if api != "2.9.3" {
		t.Fatalf("WebAPIVersion = %q, want 2.9.3", api)
	}
}

func TestClient_BaseURLPathPrefix(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.set(versionPath, "4.6.0", 0)
	prefixed := httptest.NewServer(http.StripPrefix("/qbt", http.HandlerFunc(f.serveHTTP)))
	t.Cleanup(prefixed.Close)

	c := newTestClient(t, prefixed.URL+"/qbt/")
	version, err := c.Version(testContext(t))
	if err != nil {
		t.Fatalf("Version returned error: %v", err)
	}
	if version != "4.6.0" {
		t.Fatalf("Version = %q, want 4.6.0", version)
	}
}

func TestLogin_ConcurrentCallersShareOneLogin(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.set(versionPath, "4.5.0", 0)
	gate := make(chan struct{})
	f.loginGate = gate
	c := newTestClient(t, f.server.URL)
	ctx := testContext(t)

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Version(ctx)
			errs <- err
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if logins, _ := f.counts(versionPath); logins > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("login never reached the server")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Version returned error: %v", err)
		}
	}
	logins, calls := f.counts(versionPath)
	if logins != 1 || calls != callers {
		t.Fatalf("logins=%d calls=%d, want 1 and %d", logins, calls, callers)
	}
}

func TestRequest_RecordsSpans(t *testing.T) {
	f := newFakeQBittorrent(t)
	f.set(versionPath, "4.5.0", 0)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c, err := NewClient(Config{
		BaseURL:        f.server.URL,
		Username:       "admin",
		Password:       "adminadmin",
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		TracerProvider: tp,
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := c.Version(testContext(t)); err != nil {
		t.Fatalf("Version returned error: %v", err)
	}

	names := map[string]bool{}
	for _, span := range exp.GetSpans() {
		names[span.Name] = true
	}
	if !names["qbittorrent.login"] || !names["qbittorrent.request"] {
		t.Fatalf("spans = %v, want login and request spans", names)
	}
}
