// Package chat composes the local store and the cloud sync facade behind one
// surface: outgoing messages try sync first when it is enabled, history is
// either streamed (sync) or loaded once (local).
package chat

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"jinokyu-chat/internal/backup"
	"jinokyu-chat/internal/cloudsync"
	"jinokyu-chat/internal/message"
	"jinokyu-chat/internal/settings"
	"jinokyu-chat/internal/store"
)

// Service is the orchestration layer over LocalStore and CloudSync.
type Service struct {
	store    store.Store
	sync     *cloudsync.Facade
	settings settings.Settings
	logger   zerolog.Logger
	stop     func()
}

// New picks the operating mode: the facade is consulted only when it
// enabled, otherwise everything goes through the local store.
func New(s store.Store, facade *cloudsync.Facade, prefs settings.Settings, logger zerolog.Logger) *Service {
	return &Service{store: s, sync: facade, settings: prefs, logger: logger}
}

// Synced reports whether cloud sync is live.
func (svc *Service) Synced() bool {
	return svc.sync != nil && svc.sync.Enabled()
}

// Settings returns the preferences this service renders with.
func (svc *Service) Settings() settings.Settings {
	return svc.settings
}

// Send validates and persists one outgoing message, remote-first. The
// returned id identifies the message in whichever store took it.
func (svc *Service) Send(ctx context.Context, username, text string, files []cloudsync.File) (string, error) {
	probe := message.Message{Content: text}
	for range files {
		probe.Attachments = append(probe.Attachments, message.Attachment{LocalID: "pending"})
	}
	if err := probe.Validate(); err != nil {
		return "", err
	}

	if svc.Synced() {
		return svc.sync.Send(ctx, cloudsync.SendRequest{
			Text:     text,
			Username: username,
			Files:    files,
		})
	}

	var attachments []message.Attachment
	for _, f := range files {
		id, err := svc.store.SaveMedia(store.MediaRecord{
			Blob: f.Data,
			Mime: f.Mime,
			Name: f.Name,
			Size: int64(len(f.Data)),
		})
		if err != nil {
			return "", err
		}
		attachments = append(attachments, message.Attachment{
			LocalID: id,
			Mime:    f.Mime,
			Name:    f.Name,
			Size:    int64(len(f.Data)),
		})
	}
	msg := message.New(username, text, attachments)
	return svc.store.SaveMessage(msg)
}

// History delivers chat history to onChange. In sync mode onChange fires on
// every remote change with the full ordered snapshot; in local mode it fires
// exactly once. The returned stop function cancels a live subscription and
// is inert in local mode.
func (svc *Service) History(onChange func([]message.Message), onError func(error)) (func(), error) {
	if svc.Synced() {
		stop, err := svc.sync.Listen(func(items []cloudsync.Item) {
			onChange(itemsToMessages(items))
		}, onError)
		if err != nil {
			return func() {}, err
		}
		svc.stop = stop
		return stop, nil
	}
	msgs, err := svc.store.LoadMessages()
	if err != nil {
		return func() {}, err
	}
	onChange(msgs)
	return func() {}, nil
}

// SwitchRoom tears down the current subscription, moves the facade to the
// new room, and re-subscribes. Local mode only reloads history.
func (svc *Service) SwitchRoom(room string, onChange func([]message.Message), onError func(error)) error {
	if svc.stop != nil {
		svc.stop()
		svc.stop = nil
	}
	if svc.Synced() {
		svc.sync.SetRoom(room)
	}
	_, err := svc.History(onChange, onError)
	return err
}

// DeleteAll wipes remote history first (when synced), then local.
func (svc *Service) DeleteAll(ctx context.Context) error {
	if svc.Synced() {
		if err := svc.sync.DeleteAllMessages(ctx); err != nil {
			return err
		}
	}
	return svc.store.DeleteAll()
}

// Export writes the local history as a portable backup.
func (svc *Service) Export(w io.Writer) error {
	return backup.Export(svc.store, w)
}

// Import replays a backup into the local store and reports counts.
func (svc *Service) Import(r io.Reader) (backup.Result, error) {
	return backup.Import(svc.store, r)
}

// Close cancels any live subscription and closes the local store.
func (svc *Service) Close() error {
	if svc.stop != nil {
		svc.stop()
		svc.stop = nil
	}
	return svc.store.Close()
}

func itemsToMessages(items []cloudsync.Item) []message.Message {
	out := make([]message.Message, 0, len(items))
	for _, it := range items {
		ts := it.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		out = append(out, message.Message{
			ID:          it.ID,
			SenderID:    it.Username,
			Content:     it.Text,
			Attachments: it.Media,
			Timestamp:   ts,
		})
	}
	return out
}
