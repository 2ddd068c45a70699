package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gezibash/arc-botstore/internal/blobstore/transport"
	"github.com/gezibash/arc-botstore/internal/storage"
)

const testToken = "123456:ABC-secret"

// mockBotAPI emulates the sendDocument and getFile Bot API methods.
type mockBotAPI struct {
	mu      sync.Mutex
	files   map[string][]byte
	names   map[string]string
	chatIDs []string
	next    int
	fail    func(method string) (code int, desc string, retryAfter int)
}

func newMockBotAPI(t *testing.T) (*mockBotAPI, *httptest.Server) {
	t.Helper()
	m := &mockBotAPI{files: make(map[string][]byte), names: make(map[string]string)}
	srv := httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(srv.Close)
	return m, srv
}

func (m *mockBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	prefix := "/bot" + testToken + "/"
	if strings.HasPrefix(r.URL.Path, "/file/bot"+testToken+"/") {
		id := strings.TrimPrefix(r.URL.Path, "/file/bot"+testToken+"/documents/")
		m.mu.Lock()
		data, ok := m.files[id]
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
		return
	}
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusUnauthorized, "Unauthorized", 0)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, prefix)

	if m.fail != nil {
		if code, desc, retry := m.fail(method); code != 0 {
			writeError(w, code, desc, retry)
			return
		}
	}

	switch method {
	case "sendDocument":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "Bad Request: bad form", 0)
			return
		}
		f, hdr, err := r.FormFile("document")
		if err != nil {
			writeError(w, http.StatusBadRequest, "Bad Request: there is no document in the request", 0)
			return
		}
		data, _ := io.ReadAll(f)

		m.mu.Lock()
		m.next++
		seq := m.next
		id := fmt.Sprintf("BQAC%04d", seq)
		m.files[id] = data
		m.names[id] = hdr.Filename
		m.chatIDs = append(m.chatIDs, r.FormValue("chat_id"))
		m.mu.Unlock()

		writeResult(w, map[string]any{
			"message_id": seq,
			"document":   map[string]any{"file_id": id, "file_name": hdr.Filename},
		})
	case "getFile":
		id := r.URL.Query().Get("file_id")
		m.mu.Lock()
		_, ok := m.files[id]
		m.mu.Unlock()
		if !ok {
			writeError(w, http.StatusBadRequest, "Bad Request: invalid file_id", 0)
			return
		}
		writeResult(w, map[string]any{"file_id": id, "file_path": "documents/" + id})
	default:
		writeError(w, http.StatusNotFound, "Not Found", 0)
	}
}

func (m *mockBotAPI) stored(id string) (name, chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.chatIDs) > 0 {
		chatID = m.chatIDs[len(m.chatIDs)-1]
	}
	return m.names[id], chatID
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func writeError(w http.ResponseWriter, code int, desc string, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]any{"ok": false, "error_code": code, "description": desc}
	if retryAfter > 0 {
		body["parameters"] = map[string]any{"retry_after": retryAfter}
	}
	_ = json.NewEncoder(w).Encode(body)
}

func newTestBackend(t *testing.T, apiURL string) *Backend {
	t.Helper()
	tr, err := transport.New(context.Background(), "telegram", map[string]string{
		KeyToken:         testToken,
		KeyChatID:        "-1001234",
		KeyAPIURL:        apiURL,
		KeyRatePerMinute: "0",
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr.(*Backend)
}

func TestUploadResolveRoundTrip(t *testing.T) {
	api, srv := newMockBotAPI(t)
	b := newTestBackend(t, srv.URL)
	ctx := context.Background()
	data := []byte("hello telegram")

	fileID, err := b.Upload(ctx, "0123456789abcdef0123456789abcdef.txt", data)
	if err != nil {
		t.Fatal(err)
	}
	if fileID == "" {
		t.Fatal("empty file id")
	}
	name, chat := api.stored(fileID)
	if name != "0123456789abcdef0123456789abcdef.txt" {
		t.Errorf("stored name = %q", name)
	}
	if chat != "-1001234" {
		t.Errorf("chat_id = %q, want -1001234", chat)
	}

	u, ttl, err := b.ResolveURL(ctx, fileID)
	if err != nil {
		t.Fatal(err)
	}
	if ttl != DefaultURLTTL {
		t.Errorf("ttl = %v, want %v", ttl, DefaultURLTTL)
	}
	if !strings.HasPrefix(u, srv.URL+"/file/bot"+testToken+"/") {
		t.Errorf("url = %q", u)
	}

	resp, err := http.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if string(got) != string(data) {
		t.Errorf("downloaded %q, want %q", got, data)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		desc       string
		retryAfter int
		kind       transport.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, "Too Many Requests: retry after 7", 7, transport.KindRateLimited},
		{"forbidden", http.StatusForbidden, "Forbidden: bot was kicked from the channel chat", 0, transport.KindRejected},
		{"unauthorized", http.StatusUnauthorized, "Unauthorized", 0, transport.KindRejected},
		{"bad request", http.StatusBadRequest, "Bad Request: file must be non-empty", 0, transport.KindClientPayload},
		{"server error", http.StatusBadGateway, "Bad Gateway", 0, transport.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newMockBotAPI(t)
			api.fail = func(string) (int, string, int) { return tt.code, tt.desc, tt.retryAfter }
			b := newTestBackend(t, srv.URL)

			_, err := b.Upload(context.Background(), "x.bin", []byte("x"))
			if err == nil {
				t.Fatal("expected error")
			}
			var te *transport.Error
			if !errors.As(err, &te) {
				t.Fatalf("expected *transport.Error, got %T: %v", err, err)
			}
			if te.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", te.Kind, tt.kind)
			}
			if te.Code != tt.code {
				t.Errorf("code = %d, want %d", te.Code, tt.code)
			}
			if te.Description != tt.desc {
				t.Errorf("description = %q, want %q", te.Description, tt.desc)
			}
			if want := time.Duration(tt.retryAfter) * time.Second; te.RetryAfter != want {
				t.Errorf("retry after = %v, want %v", te.RetryAfter, want)
			}
		})
	}
}

func TestResolveUnknownFile(t *testing.T) {
	_, srv := newMockBotAPI(t)
	b := newTestBackend(t, srv.URL)

	_, _, err := b.ResolveURL(context.Background(), "nope")
	if transport.Classify(err) != transport.KindClientPayload {
		t.Fatalf("expected client payload error, got %v", err)
	}
}

func TestNetworkErrorDoesNotLeakToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	b := newTestBackend(t, srv.URL)

	_, err := b.Upload(context.Background(), "x.bin", []byte("x"))
	if err == nil {
		t.Fatal("expected error against closed server")
	}
	if strings.Contains(err.Error(), testToken) {
		t.Fatalf("error leaks token: %v", err)
	}
	if transport.Classify(err) != transport.KindTransient {
		t.Errorf("kind = %v, want transient", transport.Classify(err))
	}
}

func TestUploadAfterClose(t *testing.T) {
	_, srv := newMockBotAPI(t)
	b := newTestBackend(t, srv.URL)
	_ = b.Close()

	if _, err := b.Upload(context.Background(), "x", []byte("x")); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, _, err := b.ResolveURL(context.Background(), "x"); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFactoryValidation(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]string
		field  string
	}{
		{"missing token", map[string]string{KeyChatID: "1"}, KeyToken},
		{"missing chat", map[string]string{KeyToken: "t"}, KeyChatID},
		{"bad rate", map[string]string{KeyToken: "t", KeyChatID: "1", KeyRatePerMinute: "fast"}, KeyRatePerMinute},
		{"bad ttl", map[string]string{KeyToken: "t", KeyChatID: "1", KeyURLTTL: "later"}, KeyURLTTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transport.New(context.Background(), "telegram", tt.config)
			var cfgErr *storage.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestMaxUploadBytes(t *testing.T) {
	_, srv := newMockBotAPI(t)
	b := newTestBackend(t, srv.URL)
	if got := b.MaxUploadBytes(); got != 2<<30 {
		t.Errorf("MaxUploadBytes = %d, want %d", got, int64(2<<30))
	}
}

func TestMessageFileIDFallbacks(t *testing.T) {
	var m message
	if err := json.Unmarshal([]byte(`{"animation":{"file_id":"CgAC1"}}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.fileID() != "CgAC1" {
		t.Errorf("fileID = %q, want CgAC1", m.fileID())
	}

	m = message{}
	if err := json.Unmarshal([]byte(`{"photo":[{"file_id":"small"},{"file_id":"large"}]}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.fileID() != "large" {
		t.Errorf("fileID = %q, want large", m.fileID())
	}
}
