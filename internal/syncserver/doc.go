// Package syncserver hosts the document collection and blob storage that
// sync clients talk to. Each room is a collection of message documents
// ordered by their client-supplied timestamp; subscribers receive the full
// ordered snapshot on every change.
package syncserver

import (
	"context"
	"time"

	"jinokyu-chat/internal/message"
)

// Document is one message document in a room collection.
type Document struct {
	ID        string               `json:"id"`
	Text      string               `json:"text"`
	Username  string               `json:"username"`
	Media     []message.Attachment `json:"media"`
	Timestamp time.Time            `json:"timestamp"`
	CreatedAt time.Time            `json:"createdAt"`
}

// DocStore persists room collections. Upsert follows merge semantics: empty
// incoming fields keep whatever the stored document already has, and
// CreatedAt is assigned by the store on first write only.
type DocStore interface {
	Upsert(ctx context.Context, room string, doc Document) error
	List(ctx context.Context, room string) ([]Document, error)
	DeleteRoom(ctx context.Context, room string) error
	Ping(ctx context.Context) error
	Close() error
}

// merge applies the incoming document on top of the stored one.
func merge(existing, incoming Document) Document {
	out := existing
	if incoming.Text != "" {
		out.Text = incoming.Text
	}
	if incoming.Username != "" {
		out.Username = incoming.Username
	}
	if incoming.Media != nil {
		out.Media = incoming.Media
	}
	if !incoming.Timestamp.IsZero() {
		out.Timestamp = incoming.Timestamp
	}
	return out
}
