package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gezibash/arc-botstore/internal/blobstore"
	"github.com/gezibash/arc-botstore/internal/blobstore/pool"
	"github.com/gezibash/arc-botstore/internal/cel"
	"github.com/gezibash/arc-botstore/internal/middleware"
	"github.com/gezibash/arc-botstore/internal/monitor"
)

// multipartSlack covers multipart headers and boundaries around the file part.
const multipartSlack = 1 << 20

type handlers struct {
	store Store
}

type uploadResponse struct {
	Reference string `json:"reference"`
	BackendID string `json:"backend_id"`
	FileID    string `json:"file_id"`
	Size      int    `json:"size"`
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.store.MaxBlobSize()+multipartSlack)

	filename, data, err := readUpload(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ref, err := h.store.Store(r.Context(), middleware.OwnerFrom(r.Context()), filename, data)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		Reference: ref.Key(),
		BackendID: ref.BackendID,
		FileID:    ref.FileID,
		Size:      len(data),
	})
}

// readUpload accepts a multipart form with a "file" part or a raw body
// named by the filename query parameter.
func readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		return r.URL.Query().Get("filename"), data, err
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, fmt.Errorf("read multipart: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil, errors.New(`multipart form has no "file" part`)
		}
		if err != nil {
			return "", nil, fmt.Errorf("read multipart: %w", err)
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		return part.FileName(), data, err
	}
}

func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	ref := blobstore.Reference{BackendID: r.PathValue("backend"), FileID: r.PathValue("file")}
	c, err := h.store.Proxy(r.Context(), middleware.OwnerFrom(r.Context()), ref)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", c.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(c.Data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(c.Data)
}

func (h *handlers) delete(w http.ResponseWriter, r *http.Request) {
	ref := blobstore.Reference{BackendID: r.PathValue("backend"), FileID: r.PathValue("file")}
	_ = h.store.Delete(r.Context(), ref)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	hh := h.store.Health(r.Context())
	status := http.StatusOK
	if hh.Status == monitor.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, hh)
}

func (h *handlers) alerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := monitor.Filter{
		Severity: monitor.Severity(q.Get("severity")),
		Category: monitor.Category(q.Get("category")),
	}
	if v := q.Get("unresolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unresolved must be a boolean")
			return
		}
		f.Unresolved = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	if expr := q.Get("expr"); expr != "" {
		filter, err := cel.Compile(expr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Match = filter.Match
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": h.store.Monitor().Alerts(f)})
}

func (h *handlers) resolveAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Monitor().Resolve(r.PathValue("id")); err != nil {
		if errors.Is(err, monitor.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := h.store.Pool().SetActive(id, active); err != nil {
			if errors.Is(err, pool.ErrUnknownBackend) {
				writeError(w, http.StatusNotFound, "backend not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		slog.InfoContext(r.Context(), "backend switched by operator", "backend", id, "active", active)
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeStoreError maps store errors to statuses. Messages are fixed so no
// backend detail, retrieval URL included, reaches the client.
func (h *handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, blobstore.ErrEmptyPayload):
		writeError(w, http.StatusBadRequest, "empty payload")
	case errors.Is(err, blobstore.ErrInvalidReference):
		writeError(w, http.StatusBadRequest, "invalid blob reference")
	case errors.Is(err, blobstore.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
	case errors.Is(err, blobstore.ErrQuotaExceeded):
		writeError(w, http.StatusInsufficientStorage, "quota exceeded")
	case errors.Is(err, blobstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "blob not found")
	case errors.Is(err, blobstore.ErrNoBackendAvailable), errors.Is(err, blobstore.ErrRetryExhausted):
		secs := int(h.store.RetryAfter().Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		writeError(w, http.StatusServiceUnavailable, "storage backends unavailable, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "storage backend timed out")
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		slog.ErrorContext(r.Context(), "unhandled store error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
