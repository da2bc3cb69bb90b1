// Package backup reads and writes the portable chat history format shared
// with other clients: a version-2 JSON envelope around the message list.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"jinokyu-chat/internal/message"
	"jinokyu-chat/internal/store"
)

// FormatVersion is the only supported envelope version.
const FormatVersion = 2

// ErrBadFormat is returned for payloads that are not a valid backup.
var ErrBadFormat = errors.New("malformed backup payload")

// Envelope is the on-disk backup shape.
type Envelope struct {
	Version   int               `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Messages  []message.Message `json:"messages"`
}

// Result summarizes an import: records written and duplicates skipped.
type Result struct {
	Imported int
	Skipped  int
}

// Export writes the store's full history as a backup envelope.
func Export(s store.Store, w io.Writer) error {
	msgs, err := s.LoadMessages()
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	env := Envelope{
		Version:   FormatVersion,
		Timestamp: time.Now().UTC(),
		Messages:  msgs,
	}
	return json.NewEncoder(w).Encode(env)
}

// Import replays each backup record through the store. It is best-effort by
// choice: records whose id is already taken are skipped and counted rather
// than aborting the run, so re-importing the same backup is harmless. Any
// other storage error aborts and reports how far the import got.
func Import(s store.Store, r io.Reader) (Result, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if env.Version != FormatVersion {
		return Result{}, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, env.Version)
	}
	if env.Messages == nil {
		return Result{}, fmt.Errorf("%w: missing messages", ErrBadFormat)
	}
	var res Result
	for _, msg := range env.Messages {
		if _, err := s.SaveMessage(msg); err != nil {
			if errors.Is(err, store.ErrDuplicateID) {
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("import %s: %w", msg.ID, err)
		}
		res.Imported++
	}
	return res, nil
}
