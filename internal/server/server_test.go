package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/haunt/internal/metrics"
	"github.com/poltergeist/haunt/pkg/types"
)

func newSite(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"build/index.html":        "<html><body><h1>Hi</h1></body></html>",
		"build/about/index.html":  "<p>no body tag</p>",
		"build/css/index.min.css": ".a{color:red}",
	}
	for name, contents := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(contents), 0644))
	}
	return root
}

func testConfig() types.ServerConfig {
	return types.ServerConfig{Host: "127.0.0.1", Port: 0, BaseDir: "build", LiveReload: true}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandler_InjectsScript(t *testing.T) {
	s := New(newSite(t), testConfig(), nil)
	h := s.Handler()

	rec := get(t, h, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `<script async src="/__haunt/livereload.js"></script></body>`)
	assert.Equal(t, len(body), int(rec.Result().ContentLength))

	rec = get(t, h, "/about/")
	assert.Equal(t, `<p>no body tag</p><script async src="/__haunt/livereload.js"></script>`, rec.Body.String())

	rec = get(t, h, "/css/index.min.css")
	assert.Equal(t, ".a{color:red}", rec.Body.String())

	rec = get(t, h, "/missing.html")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "livereload")
}

func TestHandler_Script(t *testing.T) {
	cfg := testConfig()
	cfg.Notify = true
	rec := get(t, New(newSite(t), cfg, nil).Handler(), ScriptPath)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/javascript")
	assert.Contains(t, rec.Body.String(), "const notify = true;")
	assert.Contains(t, rec.Body.String(), "new EventSource('/__haunt/livereload')")
}

func TestHandler_LiveReloadDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.LiveReload = false
	h := New(newSite(t), cfg, nil).Handler()

	assert.NotContains(t, get(t, h, "/").Body.String(), "livereload")
	assert.Equal(t, http.StatusNotFound, get(t, h, ScriptPath).Code)
}

func TestHandler_MetricsAndHealth(t *testing.T) {
	rec := metrics.NewPrometheusRecorder(nil)
	s := New(newSite(t), testConfig(), nil, WithRecorder(rec), WithMetricsHandler(rec.Handler()))
	h := s.Handler()

	health := get(t, h, HealthPath)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, health.Body.String())

	s.Reload([]string{"build/index.html"})
	scrape := get(t, h, MetricsPath)
	assert.Equal(t, http.StatusOK, scrape.Code)
	assert.Contains(t, scrape.Body.String(), "haunt_livereload_broadcasts_total")
}

type clientsRecorder struct {
	metrics.NoopRecorder
	mu      sync.Mutex
	clients int
	reloads []string
}

func (r *clientsRecorder) SetLiveReloadClients(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = n
}

func (r *clientsRecorder) IncReload(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloads = append(r.reloads, kind)
}

func (r *clientsRecorder) snapshot() (int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients, append([]string(nil), r.reloads...)
}

type stream struct {
	lines chan string
}

func openStream(t *testing.T, url string) *stream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+EventsPath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	st := &stream{lines: make(chan string, 16)}
	go func() {
		defer close(st.lines)
		r := bufio.NewReader(resp.Body)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				st.lines <- strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}()
	return st
}

func (st *stream) next(t *testing.T) string {
	t.Helper()
	select {
	case line := <-st.lines:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func decodeMessage(t *testing.T, data string) Message {
	t.Helper()
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	return msg
}

func TestHub_BroadcastsReloads(t *testing.T) {
	rec := &clientsRecorder{}
	s := New(newSite(t), testConfig(), nil, WithRecorder(rec))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(s.Hub().Shutdown)

	st := openStream(t, ts.URL)
	require.Eventually(t, func() bool {
		clients, _ := rec.snapshot()
		return clients == 1 && s.Hub().Clients() == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Reload([]string{"build/css/index.min.css"})
	msg := decodeMessage(t, st.next(t))
	assert.Equal(t, ReloadCSS, msg.Type)
	assert.Equal(t, []string{"/css/index.min.css"}, msg.Paths)
	assert.NotEmpty(t, msg.Hash)

	s.Reload([]string{"build/index.html", "build/css/index.min.css"})
	first := decodeMessage(t, st.next(t))
	assert.Equal(t, ReloadPage, first.Type)
	assert.Empty(t, first.Paths)

	// same outputs, same contents: suppressed
	s.Reload([]string{"build/css/index.min.css", "build/index.html"})

	require.NoError(t, os.WriteFile(filepath.Join(s.root, "build/index.html"), []byte("<h1>Bye</h1>"), 0644))
	s.Reload([]string{"build/css/index.min.css", "build/index.html"})
	second := decodeMessage(t, st.next(t))
	assert.Equal(t, ReloadPage, second.Type)
	assert.NotEqual(t, first.Hash, second.Hash)

	s.Hub().Shutdown()
	require.Eventually(t, func() bool { return s.Hub().Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	clients, reloads := rec.snapshot()
	assert.Equal(t, 0, clients)
	assert.Equal(t, []string{"css", "reload", "reload"}, reloads)

	// refused after shutdown
	resp, err := http.Get(ts.URL + EventsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := New(newSite(t), testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	assert.True(t, strings.HasPrefix(s.URL(), "http://127.0.0.1:"))

	resp, err := http.Get(s.URL() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "<h1>Hi</h1>")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestServer_URLPath(t *testing.T) {
	s := New(t.TempDir(), testConfig(), nil)
	assert.Equal(t, "/css/index.min.css", s.urlPath("build/css/index.min.css"))
	assert.Equal(t, "/other.css", s.urlPath("other.css"))
}
