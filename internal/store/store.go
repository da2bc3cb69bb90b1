// Package store provides durable on-device persistence of chat messages and
// media blobs, degrading to an in-process store when the database cannot be
// opened.
package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"jinokyu-chat/internal/message"
)

// ErrDuplicateID is returned by SaveMessage when the id is already taken.
var ErrDuplicateID = errors.New("message id already exists")

// MediaRecord holds a stored blob together with its metadata.
type MediaRecord struct {
	ID   string `json:"id"`
	Blob []byte `json:"blob"`
	Mime string `json:"type"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Store is the single storage surface used by callers. Exactly one concrete
// strategy backs it per process: bbolt when the database opens, memory
// otherwise. Call sites never branch on which.
type Store interface {
	SaveMedia(rec MediaRecord) (string, error)
	GetMedia(id string) (*MediaRecord, error)
	SaveMessage(msg message.Message) (string, error)
	LoadMessages() ([]message.Message, error)
	DeleteAll() error
	Mode() string
	Close() error
}

// Open picks the storage strategy. A failure to open or prepare the bbolt
// database is logged and swallowed: the caller always gets a working Store,
// in memory mode if need be.
func Open(path string, logger zerolog.Logger) Store {
	s, err := openBolt(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("local database unavailable, using memory store")
		return NewMemory()
	}
	return s
}

// NewMediaID generates an opaque blob id. The timestamp prefix is cosmetic,
// not an ordering key; uniqueness comes from the random suffix.
func NewMediaID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("media_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("media_%d_%x", time.Now().UnixMilli(), b)
}
