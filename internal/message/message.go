package message

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrEmpty is returned when a message carries neither text nor attachments.
var ErrEmpty = errors.New("message requires text or attachments")

// Message is a single chat entry scoped to a room.
type Message struct {
	ID              string              `json:"id"`
	SenderID        string              `json:"senderId"`
	Content         string              `json:"content"`
	Attachments     []Attachment        `json:"attachments,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
	Reactions       map[string][]string `json:"reactions,omitempty"`
	ReplyTo         string              `json:"replyTo,omitempty"`
	IsEdited        bool                `json:"isEdited"`
	EditedTimestamp *time.Time          `json:"editedTimestamp,omitempty"`
}

// Attachment references binary media in one of two shapes: a resolved remote
// descriptor (URL filled in) or a local reference (LocalID filled in).
// Renderers must accept both.
type Attachment struct {
	URL     string `json:"url,omitempty"`
	Mime    string `json:"type,omitempty"`
	Name    string `json:"name,omitempty"`
	Size    int64  `json:"size,omitempty"`
	LocalID string `json:"localId,omitempty"`
}

// Resolved reports whether the attachment points at remote media.
func (a Attachment) Resolved() bool {
	return a.URL != ""
}

// New builds a message with a fresh id and the current timestamp.
func New(senderID, content string, attachments []Attachment) Message {
	return Message{
		ID:          NewID(),
		SenderID:    senderID,
		Content:     content,
		Attachments: attachments,
		Timestamp:   time.Now().UTC(),
	}
}

// NewID returns a collision-resistant, time-ordered message id.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Validate rejects messages that carry neither text nor attachments. Callers
// must run this before handing the message to any store.
func (m Message) Validate() error {
	if m.Content == "" && len(m.Attachments) == 0 {
		return ErrEmpty
	}
	return nil
}

// AddReaction records userID under the given reaction symbol, once.
func (m *Message) AddReaction(symbol, userID string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	for _, id := range m.Reactions[symbol] {
		if id == userID {
			return
		}
	}
	m.Reactions[symbol] = append(m.Reactions[symbol], userID)
}

// RemoveReaction drops userID from the symbol's author set and removes the
// symbol entirely once nobody holds it.
func (m *Message) RemoveReaction(symbol, userID string) {
	authors := m.Reactions[symbol]
	if authors == nil {
		return
	}
	kept := authors[:0]
	for _, id := range authors {
		if id != userID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(m.Reactions, symbol)
		return
	}
	m.Reactions[symbol] = kept
}

// Edit replaces the text body and marks the message edited.
func (m *Message) Edit(content string) {
	m.Content = content
	m.IsEdited = true
	now := time.Now().UTC()
	m.EditedTimestamp = &now
}
