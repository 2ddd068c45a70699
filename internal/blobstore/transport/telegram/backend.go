// Package telegram provides a transport driver that stores blobs as document
// messages in a Telegram channel through the Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/gezibash/arc-botstore/internal/blobstore/transport"
	"github.com/gezibash/arc-botstore/internal/storage"
)

const (
	KeyToken          = "token"
	KeyChatID         = "chat_id"
	KeyAPIURL         = "api_url"
	KeyTimeout        = "timeout"
	KeyRatePerMinute  = "rate_per_minute"
	KeyBurst          = "burst"
	KeyMaxUploadBytes = "max_upload_bytes"
	KeyURLTTL         = "url_ttl"
)

// DefaultURLTTL is how long the Bot API keeps a getFile download link valid.
const DefaultURLTTL = time.Hour

func init() {
	transport.Register("telegram", NewFactory, Defaults)
}

// Defaults returns the default configuration for the telegram driver.
func Defaults() map[string]string {
	return map[string]string{
		KeyAPIURL:         "https://api.telegram.org",
		KeyTimeout:        "2m",
		KeyRatePerMinute:  "20",
		KeyBurst:          "5",
		KeyMaxUploadBytes: fmt.Sprint(int64(2) << 30),
		KeyURLTTL:         DefaultURLTTL.String(),
	}
}

// NewFactory creates a telegram transport from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (transport.Transport, error) {
	token := storage.GetString(config, KeyToken, "")
	if token == "" {
		return nil, storage.NewConfigError("telegram", KeyToken, "cannot be empty")
	}
	chatID := storage.GetString(config, KeyChatID, "")
	if chatID == "" {
		return nil, storage.NewConfigError("telegram", KeyChatID, "cannot be empty")
	}

	apiURL := strings.TrimRight(storage.GetString(config, KeyAPIURL, "https://api.telegram.org"), "/")
	if _, err := url.Parse(apiURL); err != nil {
		return nil, storage.NewConfigErrorWithValue("telegram", KeyAPIURL, apiURL, err.Error())
	}

	timeout, err := storage.GetDuration(config, KeyTimeout, 2*time.Minute)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("telegram", KeyTimeout, config[KeyTimeout], err.Error())
	}
	perMinute, err := storage.GetFloat(config, KeyRatePerMinute, 20)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("telegram", KeyRatePerMinute, config[KeyRatePerMinute], err.Error())
	}
	burst, err := storage.GetInt(config, KeyBurst, 5)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("telegram", KeyBurst, config[KeyBurst], err.Error())
	}
	maxUpload, err := storage.GetInt64(config, KeyMaxUploadBytes, int64(2)<<30)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("telegram", KeyMaxUploadBytes, config[KeyMaxUploadBytes], err.Error())
	}
	urlTTL, err := storage.GetDuration(config, KeyURLTTL, DefaultURLTTL)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("telegram", KeyURLTTL, config[KeyURLTTL], err.Error())
	}

	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	if burst < 1 {
		burst = 1
	}

	slog.Info("telegram transport initialized", "api_url", apiURL, "chat_id", chatID, "rate_per_minute", perMinute)

	return &Backend{
		apiURL:    apiURL,
		token:     token,
		chatID:    chatID,
		maxUpload: maxUpload,
		urlTTL:    urlTTL,
		limiter:   rate.NewLimiter(limit, burst),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
			},
		},
	}, nil
}

// Backend is a Bot API implementation of transport.Transport bound to one
// bot token and one storage chat.
type Backend struct {
	apiURL    string
	token     string
	chatID    string
	maxUpload int64
	urlTTL    time.Duration
	limiter   *rate.Limiter
	client    *http.Client
	closed    atomic.Bool
}

func (b *Backend) methodURL(method string) string {
	return b.apiURL + "/bot" + b.token + "/" + method
}

// MaxUploadBytes implements transport.Limiter.
func (b *Backend) MaxUploadBytes() int64 {
	return b.maxUpload
}

// Upload sends data as a document to the storage chat and returns the
// Bot API file_id of the stored document.
func (b *Backend) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if b.closed.Load() {
		return "", transport.ErrClosed
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("telegram upload: pacing: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeDocumentForm(mw, b.chatID, name, data)
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendDocument"), pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("telegram upload: %w", b.redact(err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var msg message
	if err := b.do(req, &msg); err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("telegram upload: %w", err)
	}

	fileID := msg.fileID()
	if fileID == "" {
		return "", fmt.Errorf("telegram upload: %w", &transport.Error{
			Kind:        transport.KindTransient,
			Code:        http.StatusBadGateway,
			Description: "response carries no file_id",
		})
	}
	return fileID, nil
}

func writeDocumentForm(mw *multipart.Writer, chatID, name string, data []byte) error {
	if err := mw.WriteField("chat_id", chatID); err != nil {
		return err
	}
	if err := mw.WriteField("disable_notification", "true"); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("document", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	return mw.Close()
}

// ResolveURL asks the Bot API for the file path of fileID and builds the
// download URL. The URL embeds the bot token.
func (b *Backend) ResolveURL(ctx context.Context, fileID string) (string, time.Duration, error) {
	if b.closed.Load() {
		return "", 0, transport.ErrClosed
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return "", 0, fmt.Errorf("telegram resolve: pacing: %w", err)
	}

	u := b.methodURL("getFile") + "?file_id=" + url.QueryEscape(fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", 0, fmt.Errorf("telegram resolve: %w", b.redact(err))
	}

	var f file
	if err := b.do(req, &f); err != nil {
		return "", 0, fmt.Errorf("telegram resolve: %w", err)
	}
	if f.FilePath == "" {
		return "", 0, fmt.Errorf("telegram resolve: %w", &transport.Error{
			Kind:        transport.KindClientPayload,
			Code:        http.StatusNotFound,
			Description: "file has no downloadable path",
		})
	}
	return b.apiURL + "/file/bot" + b.token + "/" + strings.TrimLeft(f.FilePath, "/"), b.urlTTL, nil
}

// do executes a Bot API call and decodes result into out.
func (b *Backend) do(req *http.Request, out any) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return &transport.Error{Kind: transport.KindTransient, Cause: b.redact(err)}
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return transport.FromStatus(resp.StatusCode, fmt.Sprintf("undecodable response: %v", err))
	}
	if !env.OK {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		te := transport.FromStatus(code, env.Description)
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			te.RetryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return te
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &transport.Error{Kind: transport.KindTransient, Code: resp.StatusCode, Description: "malformed result", Cause: err}
	}
	return nil
}

// redact strips the bot token from URL errors produced by net/http.
func (b *Backend) redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = strings.ReplaceAll(uerr.URL, b.token, "***")
	}
	return err
}

// Close releases idle connections.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.client.CloseIdleConnections()
	return nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type fileRef struct {
	FileID string `json:"file_id"`
}

type message struct {
	Document  *fileRef  `json:"document"`
	Video     *fileRef  `json:"video"`
	Audio     *fileRef  `json:"audio"`
	Animation *fileRef  `json:"animation"`
	Voice     *fileRef  `json:"voice"`
	Photo     []fileRef `json:"photo"`
}

// fileID picks the stored attachment. The Bot API may re-type a document
// (a GIF becomes an animation) so every attachment kind is checked.
func (m message) fileID() string {
	for _, ref := range []*fileRef{m.Document, m.Video, m.Audio, m.Animation, m.Voice} {
		if ref != nil && ref.FileID != "" {
			return ref.FileID
		}
	}
	if n := len(m.Photo); n > 0 {
		return m.Photo[n-1].FileID
	}
	return ""
}

type file struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}
