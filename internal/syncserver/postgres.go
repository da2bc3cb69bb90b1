package syncserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"jinokyu-chat/internal/message"
)

// pgDocStore keeps room collections in Postgres. Merge semantics are pushed
// into the upsert statement so a resent document never clobbers fields with
// empty values.
type pgDocStore struct {
	db *sql.DB
}

// OpenPostgres connects via the pgx stdlib driver and runs migrations.
func OpenPostgres(url string) (DocStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	store := &pgDocStore{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing connection, for tests.
func NewPostgresStore(db *sql.DB) DocStore {
	return &pgDocStore{db: db}
}

func (s *pgDocStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS room_messages (
			room_id    TEXT        NOT NULL,
			msg_id     TEXT        NOT NULL,
			body       TEXT        NOT NULL DEFAULT '',
			username   TEXT        NOT NULL DEFAULT '',
			media      JSONB,
			ts         TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (room_id, msg_id)
		)`)
	if err != nil {
		return fmt.Errorf("migrate room_messages: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS room_messages_ts ON room_messages (room_id, ts)`)
	return err
}

func (s *pgDocStore) Upsert(ctx context.Context, room string, doc Document) error {
	var media any
	if doc.Media != nil {
		data, err := json.Marshal(doc.Media)
		if err != nil {
			return err
		}
		media = data
	}
	var ts any
	if !doc.Timestamp.IsZero() {
		ts = doc.Timestamp
	} else {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_messages (room_id, msg_id, body, username, media, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, msg_id) DO UPDATE SET
			body     = CASE WHEN EXCLUDED.body <> ''     THEN EXCLUDED.body     ELSE room_messages.body     END,
			username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE room_messages.username END,
			media    = COALESCE(EXCLUDED.media, room_messages.media),
			ts       = EXCLUDED.ts`,
		room, doc.ID, doc.Text, doc.Username, media, ts)
	return err
}

func (s *pgDocStore) List(ctx context.Context, room string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT msg_id, body, username, media, ts, created_at
		FROM room_messages WHERE room_id = $1
		ORDER BY ts ASC, msg_id ASC`, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var doc Document
		var media sql.NullString
		if err := rows.Scan(&doc.ID, &doc.Text, &doc.Username, &media, &doc.Timestamp, &doc.CreatedAt); err != nil {
			return nil, err
		}
		if media.Valid && media.String != "" {
			var atts []message.Attachment
			if err := json.Unmarshal([]byte(media.String), &atts); err == nil {
				doc.Media = atts
			}
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *pgDocStore) DeleteRoom(ctx context.Context, room string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM room_messages WHERE room_id = $1`, room)
	return err
}

func (s *pgDocStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *pgDocStore) Close() error {
	return s.db.Close()
}
