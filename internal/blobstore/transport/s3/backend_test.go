package s3

import (
	"context"
	"errors"
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

// mockS3Server emulates PutObject, GetObject and HeadBucket with path-style URLs.
func mockS3Server(t *testing.T, putStatus int) (*httptest.Server, *mockStore) {
	t.Helper()
	store := &mockStore{blobs: make(map[string][]byte)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.SplitN(r.URL.Path, "/", 3)
		if len(parts) < 3 || parts[2] == "" {
			w.WriteHeader(http.StatusOK)
			return
		}

		key := parts[2]
		switch r.Method {
		case http.MethodPut:
			if putStatus != 0 {
				w.WriteHeader(putStatus)
				_, _ = w.Write([]byte(`<?xml version="1.0"?><Error><Code>SlowDown</Code><Message>Please reduce your request rate.</Message></Error>`))
				return
			}
			data, _ := io.ReadAll(r.Body)
			store.put(key, data)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			data, ok := store.get(key)
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(data)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, store
}

type mockStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *mockStore) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
}

func (m *mockStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.blobs[key]
	return d, ok
}

func newTestBackend(t *testing.T, endpoint string) *Backend {
	t.Helper()
	tr, err := transport.New(context.Background(), "s3", map[string]string{
		KeyBucket:          "botstore",
		KeyEndpoint:        endpoint,
		KeyForcePathStyle:  "true",
		KeyAccessKeyID:     "test",
		KeySecretAccessKey: "test",
		KeyURLTTL:          "30m",
	})
	if err != nil {
		t.Fatal(err)
	}
	return tr.(*Backend)
}

func TestUploadAndPresignedFetch(t *testing.T) {
	srv, store := mockS3Server(t, 0)
	b := newTestBackend(t, srv.URL)
	ctx := context.Background()

	fileID, err := b.Upload(ctx, "00112233445566778899aabbccddeeff.jpg", []byte("jpeg bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if fileID != "blobs/00112233445566778899aabbccddeeff.jpg" {
		t.Errorf("fileID = %q", fileID)
	}
	if _, ok := store.get(fileID); !ok {
		t.Fatal("object not stored under file id")
	}

	u, ttl, err := b.ResolveURL(ctx, fileID)
	if err != nil {
		t.Fatal(err)
	}
	if ttl != 30*time.Minute {
		t.Errorf("ttl = %v, want 30m", ttl)
	}
	if !strings.Contains(u, "X-Amz-Signature") {
		t.Errorf("url is not presigned: %s", u)
	}

	resp, err := http.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if string(got) != "jpeg bytes" {
		t.Errorf("fetched %q", got)
	}
}

func TestUploadThrottledIsRateLimited(t *testing.T) {
	srv, _ := mockS3Server(t, http.StatusTooManyRequests)
	b := newTestBackend(t, srv.URL)

	_, err := b.Upload(context.Background(), "x.bin", []byte("x"))
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := transport.Classify(err); kind != transport.KindRateLimited {
		t.Errorf("kind = %v, want rate_limited", kind)
	}
}

func TestUploadForbiddenIsRejected(t *testing.T) {
	srv, _ := mockS3Server(t, http.StatusForbidden)
	b := newTestBackend(t, srv.URL)

	_, err := b.Upload(context.Background(), "x.bin", []byte("x"))
	if kind := transport.Classify(err); kind != transport.KindRejected {
		t.Errorf("kind = %v, want rejected (err=%v)", kind, err)
	}
}

func TestMissingBucket(t *testing.T) {
	_, err := transport.New(context.Background(), "s3", map[string]string{})
	var cfgErr *storage.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != KeyBucket {
		t.Fatalf("expected bucket ConfigError, got %v", err)
	}
}

func TestClosed(t *testing.T) {
	srv, _ := mockS3Server(t, 0)
	b := newTestBackend(t, srv.URL)
	_ = b.Close()

	if _, err := b.Upload(context.Background(), "x", nil); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
