package syncserver

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"jinokyu-chat/internal/authutil"
	"jinokyu-chat/internal/message"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	blobs, err := NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	opts.Logger = zerolog.Nop()
	srv := New(NewMemDocStore(), blobs, opts)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func newTestServerWithUserDB(t *testing.T, db *sql.DB) (*Server, *httptest.Server) {
	t.Helper()
	blobs, err := NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	srv := New(NewMemDocStore(), blobs, Options{UserDB: db, Logger: zerolog.Nop()})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func postJSON(t *testing.T, url, body string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func putDoc(t *testing.T, base, room, id string, doc upsertDocument) {
	t.Helper()
	payload, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/rooms/%s/messages/%s", base, room, id), bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upsert %s: status %d: %s", id, resp.StatusCode, body)
	}
}

func listDocs(t *testing.T, base, room string) []Document {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/rooms/%s/messages", base, room))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	var out struct {
		Messages []Document `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.Messages
}

func TestUpsertAndListOrdering(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	// Submitted out of timestamp order.
	putDoc(t, ts.URL, "general", "m2", upsertDocument{Text: "second", Username: "a", Timestamp: base.Add(2 * time.Second)})
	putDoc(t, ts.URL, "general", "m1", upsertDocument{Text: "first", Username: "a", Timestamp: base.Add(1 * time.Second)})
	putDoc(t, ts.URL, "general", "m3", upsertDocument{Text: "third", Username: "a", Timestamp: base.Add(3 * time.Second)})

	docs := listDocs(t, ts.URL, "general")
	if len(docs) != 3 || docs[0].ID != "m1" || docs[1].ID != "m2" || docs[2].ID != "m3" {
		t.Fatalf("unexpected order: %+v", docs)
	}
	if docs[0].CreatedAt.IsZero() {
		t.Fatal("createdAt not assigned")
	}
}

func TestUpsertMergeKeepsExistingFields(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	now := time.Now().UTC().Truncate(time.Second)
	putDoc(t, ts.URL, "general", "m1", upsertDocument{Text: "hello", Username: "alice", Timestamp: now})
	// Resend with only media set must not clobber text or username.
	putDoc(t, ts.URL, "general", "m1", upsertDocument{
		Media:     []message.Attachment{{URL: "/rooms/general/m1/pic.png", Name: "pic.png"}},
		Timestamp: now,
	})
	docs := listDocs(t, ts.URL, "general")
	if len(docs) != 1 {
		t.Fatalf("merge created a second document: %+v", docs)
	}
	if docs[0].Text != "hello" || docs[0].Username != "alice" {
		t.Fatalf("merge clobbered fields: %+v", docs[0])
	}
	if len(docs[0].Media) != 1 {
		t.Fatalf("media not merged: %+v", docs[0])
	}
}

func TestDeleteAllIdempotent(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	putDoc(t, ts.URL, "general", "m1", upsertDocument{Text: "x", Timestamp: time.Now()})
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/rooms/general/messages", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delete #%d: status %d", i+1, resp.StatusCode)
		}
	}
	if docs := listDocs(t, ts.URL, "general"); len(docs) != 0 {
		t.Fatalf("room not empty: %+v", docs)
	}
}

func TestBlobUploadDownload(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	blob := []byte("\x89PNG\r\n\x1a\nfakeimagedata")
	resp, err := http.Post(ts.URL+"/rooms/general/m1/123_pic.png", "image/png", bytes.NewReader(blob))
	if err != nil {
		t.Fatal(err)
	}
	var up blobResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !up.Success || up.Size != int64(len(blob)) || up.URL == "" {
		t.Fatalf("unexpected upload response: %+v", up)
	}

	dl, err := http.Get(ts.URL + up.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Body.Close()
	got, _ := io.ReadAll(dl.Body)
	if !bytes.Equal(got, blob) {
		t.Fatalf("blob round-trip mismatch: %d bytes", len(got))
	}
}

func TestSubscribePushesFullSnapshots(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/general/subscribe"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	readFrame := func() snapshotFrame {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var frame snapshotFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		return frame
	}

	if frame := readFrame(); len(frame.Messages) != 0 || frame.Kind != "snapshot" {
		t.Fatalf("expected empty initial snapshot, got %+v", frame)
	}

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	putDoc(t, ts.URL, "general", "m2", upsertDocument{Text: "two", Timestamp: base.Add(2 * time.Second)})
	if frame := readFrame(); len(frame.Messages) != 1 {
		t.Fatalf("expected 1 message, got %+v", frame)
	}
	putDoc(t, ts.URL, "general", "m1", upsertDocument{Text: "one", Timestamp: base.Add(1 * time.Second)})
	frame := readFrame()
	if len(frame.Messages) != 2 {
		t.Fatalf("expected full snapshot of 2, got %+v", frame)
	}
	if frame.Messages[0].ID != "m1" || frame.Messages[1].ID != "m2" {
		t.Fatalf("snapshot not timestamp-ordered: %+v", frame.Messages)
	}
}

func TestMutatingRoutesRequireAuth(t *testing.T) {
	_, ts := newTestServer(t, Options{RequireAuth: true})
	payload := `{"text":"x","timestamp":"2024-05-01T12:00:00Z"}`

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/rooms/general/messages/m1", strings.NewReader(payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	token, err := authutil.IssueToken("alice")
	if err != nil {
		t.Fatal(err)
	}
	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/rooms/general/messages/m1", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}

	// Reads stay open.
	if docs := listDocs(t, ts.URL, "general"); len(docs) != 1 {
		t.Fatalf("authorized write not visible: %+v", docs)
	}
}

func TestRegisterWithoutUserDB(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	resp, err := http.Post(ts.URL+"/register", "application/json", strings.NewReader(`{"username":"a","password":"b"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without user store, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
