package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gezibash/arc-botstore/internal/blobstore"
	"github.com/gezibash/arc-botstore/internal/blobstore/pool"
	"github.com/gezibash/arc-botstore/internal/blobstore/retry"
	"github.com/gezibash/arc-botstore/internal/blobstore/transport"
	"github.com/gezibash/arc-botstore/internal/middleware"
	"github.com/gezibash/arc-botstore/internal/monitor"
	"github.com/gezibash/arc-botstore/internal/quota"
)

// memTransport keeps uploads in memory and serves them from files.
type memTransport struct {
	mu      sync.Mutex
	files   map[string][]byte
	fileURL string
	fail    bool
	n       int
}

func (m *memTransport) Upload(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", &transport.Error{Kind: transport.KindTransient, Code: http.StatusBadGateway}
	}
	m.n++
	id := fmt.Sprintf("f%d-%s", m.n, name)
	m.files[id] = append([]byte(nil), data...)
	return id, nil
}

func (m *memTransport) ResolveURL(_ context.Context, fileID string) (string, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[fileID]; !ok {
		return "", 0, transport.FromStatus(http.StatusBadRequest, "Bad Request: invalid file_id")
	}
	return m.fileURL + "/secret-token/" + fileID, time.Hour, nil
}

func (m *memTransport) Close() error { return nil }

func (m *memTransport) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	data, ok := m.files[strings.TrimPrefix(r.URL.Path, "/secret-token/")]
	m.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

type apiFixture struct {
	store *blobstore.BlobStore
	mem   *memTransport
	api   http.Handler
}

func newAPI(t *testing.T, ids []string, q quota.Checker, opts Options) *apiFixture {
	t.Helper()
	mem := &memTransport{files: make(map[string][]byte)}
	files := httptest.NewServer(http.HandlerFunc(mem.serve))
	t.Cleanup(files.Close)
	mem.fileURL = files.URL

	backends := make([]blobstore.Backend, 0, len(ids))
	for _, id := range ids {
		backends = append(backends, blobstore.Backend{Spec: pool.Spec{ID: id}, Transport: mem})
	}
	policy := retry.DefaultPolicy()
	policy.MaxRetries = 1
	s, err := blobstore.New(backends, blobstore.Deps{Quota: q, HTTPClient: files.Client()}, blobstore.Config{
		MaxBlobSize: 64,
		RetryOptions: []retry.Option{
			retry.WithPolicy(policy),
			retry.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return &apiFixture{store: s, mem: mem, api: Handler(s, opts)}
}

func (f *apiFixture) do(t *testing.T, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	return rec
}

func owner(name string) http.Header {
	return http.Header{middleware.HeaderOwner: []string{name}}
}

func TestUploadAndDownloadRaw(t *testing.T) {
	f := newAPI(t, []string{"bot-1"}, nil, Options{})

	rec := f.do(t, http.MethodPost, "/v1/blobs?filename=notes.txt", strings.NewReader("hello world"), owner("alice"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d body = %s", rec.Code, rec.Body)
	}
	var up uploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&up); err != nil {
		t.Fatal(err)
	}
	if up.BackendID != "bot-1" || up.Size != 11 || up.Reference != up.BackendID+":"+up.FileID {
		t.Fatalf("upload response = %+v", up)
	}

	rec = f.do(t, http.MethodGet, "/v1/blobs/bot-1/"+up.FileID, nil, owner("alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d body = %s", rec.Code, rec.Body)
	}
	if rec.Body.String() != "hello world" {
		t.Errorf("body = %q", rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if cl := rec.Header().Get("Content-Length"); cl != strconv.Itoa(11) {
		t.Errorf("content length = %q", cl)
	}
}

func TestUploadMultipart(t *testing.T) {
	f := newAPI(t, []string{"bot-1"}, nil, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("note", "ignored")
	fw, _ := mw.CreateFormFile("file", "photo.png")
	_, _ = fw.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	_ = mw.Close()

	rec := f.do(t, http.MethodPost, "/v1/blobs", &buf, http.Header{
		middleware.HeaderOwner: []string{"alice"},
		"Content-Type":         []string{mw.FormDataContentType()},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var up uploadResponse
	_ = json.NewDecoder(rec.Body).Decode(&up)
	if !strings.HasSuffix(up.FileID, ".png") || strings.Contains(up.FileID, "photo") {
		t.Errorf("stored name = %q, want obfuscated .png", up.FileID)
	}
}

func TestUploadErrors(t *testing.T) {
	t.Run("missing owner", func(t *testing.T) {
		f := newAPI(t, []string{"bot-1"}, nil, Options{})
		if rec := f.do(t, http.MethodPost, "/v1/blobs", strings.NewReader("x"), nil); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})
	t.Run("empty", func(t *testing.T) {
		f := newAPI(t, []string{"bot-1"}, nil, Options{})
		if rec := f.do(t, http.MethodPost, "/v1/blobs", strings.NewReader(""), owner("a")); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})
	t.Run("too large", func(t *testing.T) {
		f := newAPI(t, []string{"bot-1"}, nil, Options{})
		rec := f.do(t, http.MethodPost, "/v1/blobs", strings.NewReader(strings.Repeat("x", 65)), owner("a"))
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d", rec.Code)
		}
	})
	t.Run("quota", func(t *testing.T) {
		f := newAPI(t, []string{"bot-1"}, denyQuota{}, Options{})
		if rec := f.do(t, http.MethodPost, "/v1/blobs", strings.NewReader("x"), owner("a")); rec.Code != http.StatusInsufficientStorage {
			t.Errorf("status = %d", rec.Code)
		}
	})
	t.Run("no backends", func(t *testing.T) {
		f := newAPI(t, nil, nil, Options{})
		rec := f.do(t, http.MethodPost, "/v1/blobs", strings.NewReader("x"), owner("a"))
		if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") == "" {
			t.Errorf("status = %d retry-after = %q", rec.Code, rec.Header().Get("Retry-After"))
		}
	})
	t.Run("exhausted", func(t *testing.T) {
		f := newAPI(t, []string{"bot-1"}, nil, Options{})
		f.mem.fail = true
		rec := f.do(t, http.MethodPost, "/v1/blobs", strings.NewReader("x"), owner("a"))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d", rec.Code)
		}
		if secs, err := strconv.Atoi(rec.Header().Get("Retry-After")); err != nil || secs < 1 {
			t.Errorf("retry-after = %q", rec.Header().Get("Retry-After"))
		}
	})
}

type denyQuota struct{ quota.Unlimited }

func (denyQuota) Check(context.Context, string, int64) (bool, error) { return false, nil }

func TestDownloadNeverLeaksURL(t *testing.T) {
	f := newAPI(t, []string{"bot-1"}, nil, Options{})

	rec := f.do(t, http.MethodGet, "/v1/blobs/bot-1/nope", nil, owner("a"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret-token") || strings.Contains(rec.Body.String(), "http") {
		t.Errorf("error body leaks backend detail: %s", rec.Body)
	}

	if rec := f.do(t, http.MethodGet, "/v1/blobs/bot-7/nope", nil, owner("a")); rec.Code != http.StatusNotFound {
		t.Errorf("unknown backend status = %d", rec.Code)
	}
}

func TestDeleteAlwaysSucceeds(t *testing.T) {
	f := newAPI(t, []string{"bot-1"}, nil, Options{})
	for _, target := range []string{"/v1/blobs/bot-1/anything", "/v1/blobs/bot-9/other"} {
		if rec := f.do(t, http.MethodDelete, target, nil, owner("a")); rec.Code != http.StatusNoContent {
			t.Errorf("DELETE %s = %d", target, rec.Code)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPI(t, []string{"bot-1", "bot-2"}, nil, Options{})

	rec := f.do(t, http.MethodGet, "/v1/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var h blobstore.Health
	if err := json.NewDecoder(rec.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != monitor.StatusHealthy || len(h.Backends) != 2 {
		t.Errorf("health = %+v", h)
	}

	empty := newAPI(t, nil, nil, Options{})
	if rec := empty.do(t, http.MethodGet, "/v1/health", nil, nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("empty pool health status = %d", rec.Code)
	}
}

func TestAlertsAndResolve(t *testing.T) {
	f := newAPI(t, []string{"bot-1"}, nil, Options{})
	a := f.store.Monitor().Raise(monitor.SeverityWarning, monitor.CategorySystem, "disk nearly full", nil)

	rec := f.do(t, http.MethodGet, "/v1/alerts?unresolved=true&severity=warning", nil, nil)
	var body struct {
		Alerts []monitor.Alert `json:"alerts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Alerts) != 1 || body.Alerts[0].ID != a.ID {
		t.Fatalf("alerts = %+v", body.Alerts)
	}

	if rec := f.do(t, http.MethodPost, "/v1/alerts/"+a.ID+"/resolve", nil, nil); rec.Code != http.StatusNoContent {
		t.Errorf("resolve status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/alerts/missing/resolve", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing resolve status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/alerts?limit=-1", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

func TestAlertsExpression(t *testing.T) {
	f := newAPI(t, []string{"bot-1"}, nil, Options{})
	mon := f.store.Monitor()
	mon.Raise(monitor.SeverityWarning, monitor.CategoryBackendHealth, "bot-1 failing", map[string]string{"backend": "bot-1"})
	want := mon.Raise(monitor.SeverityWarning, monitor.CategoryBackendHealth, "bot-2 failing", map[string]string{"backend": "bot-2"})
	mon.Raise(monitor.SeverityInfo, monitor.CategorySystem, "started", nil)

	q := url.Values{"expr": {`metadata.backend == "bot-2"`}}
	rec := f.do(t, http.MethodGet, "/v1/alerts?"+q.Encode(), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Alerts []monitor.Alert `json:"alerts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Alerts) != 1 || body.Alerts[0].ID != want.ID {
		t.Fatalf("alerts = %+v", body.Alerts)
	}

	q = url.Values{"expr": {`severity`}}
	if rec := f.do(t, http.MethodGet, "/v1/alerts?"+q.Encode(), nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("non-bool expr status = %d", rec.Code)
	}
}

func TestBackendSwitch(t *testing.T) {
	f := newAPI(t, []string{"bot-1"}, nil, Options{})

	if rec := f.do(t, http.MethodPost, "/v1/backends/bot-1/deactivate", nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("deactivate = %d", rec.Code)
	}
	if b, _ := f.store.Pool().Get("bot-1"); b.Active {
		t.Error("bot-1 still active")
	}
	if rec := f.do(t, http.MethodPost, "/v1/backends/bot-1/activate", nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("activate = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/backends/bot-9/activate", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown backend = %d", rec.Code)
	}
}

func TestServiceToken(t *testing.T) {
	f := newAPI(t, []string{"bot-1"}, nil, Options{ServiceToken: "s3cret"})
	if rec := f.do(t, http.MethodGet, "/v1/health", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/v1/health", nil, http.Header{middleware.HeaderServiceToken: []string{"s3cret"}})
	if rec.Code != http.StatusOK {
		t.Errorf("with token = %d", rec.Code)
	}
}

func TestServerLifecycle(t *testing.T) {
	f := newAPI(t, []string{"bot-1"}, nil, Options{})
	srv, err := New("127.0.0.1:0", f.store, Options{})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	resp, err := http.Get("http://" + srv.Addr() + "/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve returned %v", err)
	}
}
