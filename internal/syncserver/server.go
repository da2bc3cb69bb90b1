package syncserver

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"jinokyu-chat/internal/message"
)

// maxBlobBytes caps a single attachment upload.
const maxBlobBytes = 25 << 20

// Server exposes the room document collections, blob storage, and the
// snapshot subscription endpoint.
type Server struct {
	docs        DocStore
	blobs       *BlobStore
	hub         *hub
	userDB      *sql.DB
	requireAuth bool
	logger      zerolog.Logger
	upgrader    websocket.Upgrader
}

// Options tunes optional server features.
type Options struct {
	// UserDB backs register/login; nil leaves accounts unavailable.
	UserDB *sql.DB
	// RequireAuth gates mutating routes and subscriptions behind JWT.
	RequireAuth bool
	Logger      zerolog.Logger
}

// New assembles a Server around the given document and blob stores.
func New(docs DocStore, blobs *BlobStore, opts Options) *Server {
	return &Server{
		docs:        docs,
		blobs:       blobs,
		hub:         newHub(opts.Logger),
		userDB:      opts.UserDB,
		requireAuth: opts.RequireAuth,
		logger:      opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Close drops every live subscription.
func (s *Server) Close() {
	s.hub.closeAll()
}

// Router wires up chi routes, middleware, and handlers ready for
// http.ListenAndServe.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthHandler())
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/register", s.registerHandler())
	r.Post("/login", s.loginHandler())

	r.Route("/rooms/{roomID}", func(r chi.Router) {
		r.Get("/messages", s.listHandler())
		r.With(s.authenticated()).Put("/messages/{messageID}", s.upsertHandler())
		r.With(s.authenticated()).Delete("/messages", s.deleteAllHandler())
		r.With(s.authenticated()).Get("/subscribe", s.subscribeHandler())
		r.With(s.authenticated()).Post("/{messageID}/{fileName}", s.uploadBlobHandler())
		r.Get("/{messageID}/{fileName}", s.downloadBlobHandler())
	})

	return r
}

type healthPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.docs.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthPayload{Status: "error", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, healthPayload{Status: "ok", Message: "ok"})
	}
}

// upsertDocument is the wire shape for PUT .../messages/{id}. Timestamp is
// client-supplied and drives ordering; createdAt is assigned server-side.
type upsertDocument struct {
	Text      string               `json:"text"`
	Username  string               `json:"username"`
	Media     []message.Attachment `json:"media"`
	Timestamp time.Time            `json:"timestamp"`
}

func (s *Server) upsertHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "roomID")
		msgID := chi.URLParam(r, "messageID")
		var req upsertDocument
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now().UTC()
		}
		doc := Document{
			ID:        msgID,
			Text:      req.Text,
			Username:  req.Username,
			Media:     req.Media,
			Timestamp: req.Timestamp,
		}
		if err := s.docs.Upsert(r.Context(), room, doc); err != nil {
			s.logger.Error().Err(err).Str("room", room).Str("msg", msgID).Msg("upsert failed")
			http.Error(w, "write failed", http.StatusInternalServerError)
			return
		}
		messagesUpserted.Inc()
		s.notifyRoom(r, room)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "id": msgID})
	}
}

func (s *Server) listHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "roomID")
		docs, err := s.docs.List(r.Context(), room)
		if err != nil {
			http.Error(w, "read failed", http.StatusInternalServerError)
			return
		}
		if docs == nil {
			docs = []Document{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": docs})
	}
}

func (s *Server) deleteAllHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "roomID")
		if err := s.docs.DeleteRoom(r.Context(), room); err != nil {
			http.Error(w, "delete failed", http.StatusInternalServerError)
			return
		}
		roomsDeleted.Inc()
		s.notifyRoom(r, room)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type blobResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
}

func (s *Server) uploadBlobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "roomID")
		msgID := chi.URLParam(r, "messageID")
		name := chi.URLParam(r, "fileName")
		size, err := s.blobs.Put(room, msgID, name, http.MaxBytesReader(w, r.Body, maxBlobBytes))
		if err != nil {
			s.logger.Error().Err(err).Str("room", room).Str("msg", msgID).Msg("blob upload failed")
			http.Error(w, "upload failed", http.StatusBadRequest)
			return
		}
		blobsUploaded.Inc()
		writeJSON(w, http.StatusOK, blobResponse{
			Success: true,
			URL:     fmt.Sprintf("/rooms/%s/%s/%s", room, msgID, name),
			Name:    name,
			Size:    size,
		})
	}
}

func (s *Server) downloadBlobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "roomID")
		msgID := chi.URLParam(r, "messageID")
		name := chi.URLParam(r, "fileName")
		f, mime, err := s.blobs.Open(room, msgID, name)
		if err != nil {
			http.Error(w, "blob not found", http.StatusNotFound)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", mime)
		_, _ = io.Copy(w, f)
	}
}

func (s *Server) subscribeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "roomID")
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debug().Err(err).Msg("ws upgrade failed")
			return
		}
		s.hub.register(room, conn)
		docs, err := s.docs.List(r.Context(), room)
		if err != nil {
			s.hub.unregister(room, conn)
			return
		}
		if err := s.hub.sendTo(conn, room, docs); err != nil {
			s.hub.unregister(room, conn)
			return
		}
		snapshotsSent.Inc()
		go s.readUntilClose(room, conn)
	}
}

// readUntilClose drains the connection so close frames are processed, then
// unregisters the subscriber.
func (s *Server) readUntilClose(room string, conn *websocket.Conn) {
	defer s.hub.unregister(room, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// notifyRoom pushes a fresh full snapshot to every subscriber after a
// mutation.
func (s *Server) notifyRoom(r *http.Request, room string) {
	docs, err := s.docs.List(r.Context(), room)
	if err != nil {
		s.logger.Error().Err(err).Str("room", room).Msg("snapshot read failed")
		return
	}
	s.hub.broadcast(room, docs)
	snapshotsSent.Inc()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
