// Package cloudsync provides best-effort realtime synchronization of chat
// messages against a hosted room collection. The facade enables once at
// startup; on any enable-time failure it stays disabled for the life of the
// process and the caller falls back to local storage.
package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jinokyu-chat/internal/message"
)

// ErrDisabled is returned by operations invoked while the facade is not
// enabled.
var ErrDisabled = errors.New("cloud sync disabled")

// State tracks the facade lifecycle. The only transitions are
// Disabled -> Enabling -> Enabled and Disabled -> Enabling -> Disabled;
// there is no retry.
type State int

const (
	StateDisabled State = iota
	StateEnabling
	StateEnabled
)

func (s State) String() string {
	switch s {
	case StateEnabling:
		return "enabling"
	case StateEnabled:
		return "enabled"
	default:
		return "disabled"
	}
}

// Config locates the remote sync service.
type Config struct {
	BaseURL string
	Room    string
	Token   string
}

// Valid reports whether the configuration is complete enough to attempt
// enabling.
func (c Config) Valid() bool {
	if c.BaseURL == "" || c.Room == "" {
		return false
	}
	u, err := url.Parse(c.BaseURL)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// File is an attachment payload queued for upload.
type File struct {
	Name string
	Mime string
	Data []byte
}

// SendRequest describes one outgoing message. A zero ID asks the facade to
// generate one; a zero Timestamp means "now".
type SendRequest struct {
	ID        string
	Text      string
	Username  string
	Timestamp time.Time
	Files     []File
}

// Item is one entry of a room snapshot, ordered ascending by timestamp.
type Item struct {
	ID        string               `json:"id"`
	Text      string               `json:"text"`
	Username  string               `json:"username"`
	Media     []message.Attachment `json:"media"`
	Timestamp time.Time            `json:"timestamp"`
}

type snapshotFrame struct {
	Kind     string `json:"kind"`
	Room     string `json:"room"`
	Messages []Item `json:"messages"`
}

// Facade is the sync client. At most one subscription is live per instance;
// Listen replaces any prior one (cancel-then-set).
type Facade struct {
	mu     sync.Mutex
	state  State
	cfg    Config
	httpc  *http.Client
	sub    *subscription
	logger zerolog.Logger
}

// NewFacade returns a disabled facade.
func NewFacade(logger zerolog.Logger) *Facade {
	return &Facade{
		state:  StateDisabled,
		httpc:  &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Enable validates the configuration and probes the remote service. Any
// failure leaves the facade disabled; success is terminal.
func (f *Facade) Enable(ctx context.Context, cfg Config) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateEnabled {
		return true
	}
	f.state = StateEnabling
	if !cfg.Valid() {
		f.state = StateDisabled
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(cfg.BaseURL, "/")+"/healthz", nil)
	if err != nil {
		f.state = StateDisabled
		return false
	}
	resp, err := f.httpc.Do(req)
	if err != nil {
		f.logger.Warn().Err(err).Msg("cloud sync unreachable, staying local")
		f.state = StateDisabled
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		f.logger.Warn().Int("status", resp.StatusCode).Msg("cloud sync unhealthy, staying local")
		f.state = StateDisabled
		return false
	}
	f.cfg = cfg
	f.state = StateEnabled
	return true
}

// Enabled reports whether send/listen operations are live.
func (f *Facade) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == StateEnabled
}

// State returns the current lifecycle state.
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Room returns the current room id.
func (f *Facade) Room() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Room
}

// SetRoom switches the current room. Any live subscription is torn down
// first so no callback for the old room fires after the switch.
func (f *Facade) SetRoom(room string) {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.cfg.Room = room
	f.mu.Unlock()
	if sub != nil {
		sub.cancel()
	}
}

// UploadAttachments pushes each file to the room blob path, one at a time.
// The first failure aborts the whole batch; there is no partial-success
// reporting, matching the send path's all-or-nothing contract.
func (f *Facade) UploadAttachments(ctx context.Context, msgID string, files []File) ([]message.Attachment, error) {
	if !f.Enabled() {
		return nil, ErrDisabled
	}
	if len(files) == 0 {
		return nil, nil
	}
	out := make([]message.Attachment, 0, len(files))
	for _, file := range files {
		blobName := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), sanitizeName(file.Name))
		target := f.endpoint("rooms", f.Room(), msgID, blobName)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(file.Data))
		if err != nil {
			return nil, err
		}
		if file.Mime != "" {
			req.Header.Set("Content-Type", file.Mime)
		}
		f.authorize(req)
		resp, err := f.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", file.Name, err)
		}
		var blob struct {
			Success bool   `json:"success"`
			URL     string `json:"url"`
			Size    int64  `json:"size"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&blob)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("upload %s: status %d", file.Name, resp.StatusCode)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("upload %s: %w", file.Name, decodeErr)
		}
		out = append(out, message.Attachment{
			URL:  f.absoluteURL(blob.URL),
			Mime: file.Mime,
			Name: file.Name,
			Size: blob.Size,
		})
	}
	return out, nil
}

// Send uploads the request's attachments and merge-upserts the message
// document. Resending with the same id is safe: the upsert augments rather
// than replaces, so retries are at-least-once friendly.
func (f *Facade) Send(ctx context.Context, req SendRequest) (string, error) {
	if !f.Enabled() {
		return "", ErrDisabled
	}
	msgID := req.ID
	if msgID == "" {
		msgID = message.NewID()
	}
	media, err := f.UploadAttachments(ctx, msgID, req.Files)
	if err != nil {
		return "", err
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	payload, err := json.Marshal(map[string]any{
		"text":      req.Text,
		"username":  req.Username,
		"media":     media,
		"timestamp": ts,
	})
	if err != nil {
		return "", err
	}
	target := f.endpoint("rooms", f.Room(), "messages", msgID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	f.authorize(httpReq)
	resp, err := f.httpc.Do(httpReq)
	if err != nil {
		return "", err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("send %s: status %d", msgID, resp.StatusCode)
	}
	return msgID, nil
}

// DeleteAllMessages wipes the room collection in one server-side batch.
func (f *Facade) DeleteAllMessages(ctx context.Context) error {
	if !f.Enabled() {
		return ErrDisabled
	}
	target := f.endpoint("rooms", f.Room(), "messages")
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	f.authorize(req)
	resp, err := f.httpc.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete all: status %d", resp.StatusCode)
	}
	return nil
}

func (f *Facade) endpoint(parts ...string) string {
	f.mu.Lock()
	base := strings.TrimRight(f.cfg.BaseURL, "/")
	f.mu.Unlock()
	for _, p := range parts {
		base += "/" + url.PathEscape(p)
	}
	return base
}

func (f *Facade) absoluteURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	f.mu.Lock()
	base := strings.TrimRight(f.cfg.BaseURL, "/")
	f.mu.Unlock()
	return base + path
}

func (f *Facade) authorize(req *http.Request) {
	f.mu.Lock()
	token := f.cfg.Token
	f.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func sanitizeName(name string) string {
	cleaned := strings.TrimSpace(filepath.Base(name))
	var sb strings.Builder
	for _, r := range cleaned {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := sb.String()
	if out == "" || out == "." || out == ".." {
		return "upload.bin"
	}
	return out
}
