// Package upload implements the image upload API: a single multipart field,
// a fixed MIME/extension allow-list, and a hard size cap. This validation
// protects only the public upload endpoint, not the attachment paths used by
// the sync or local stores.
package upload

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// MaxFileBytes caps one uploaded image.
const MaxFileBytes = 5 << 20

// FieldName is the only multipart field accepted.
const FieldName = "image"

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

var allowedExts = map[string]struct{}{
	".jpeg": {}, ".jpg": {}, ".png": {}, ".webp": {}, ".gif": {},
}

// Handler stores validated images on disk and serves them back.
type Handler struct {
	dir    string
	logger zerolog.Logger
}

// NewHandler prepares the uploads directory.
func NewHandler(dir string, logger zerolog.Logger) (*Handler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Handler{dir: dir, logger: logger}, nil
}

// FileInfo describes a stored upload in API responses.
type FileInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type uploadResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	File    *FileInfo `json:"file,omitempty"`
}

// Router exposes POST / for uploads and GET /{name} for retrieval.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.handleUpload)
	r.Get("/{name}", h.handleDownload)
	return r
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxFileBytes+4096)
	file, header, err := r.FormFile(FieldName)
	if err != nil {
		h.fail(w, http.StatusBadRequest, "please choose a file to upload")
		return
	}
	defer file.Close()

	if err := validate(header); err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}

	name := storedName(header.Filename)
	path := filepath.Join(h.dir, name)
	dst, err := os.Create(path)
	if err != nil {
		h.logger.Error().Err(err).Msg("upload create failed")
		h.fail(w, http.StatusInternalServerError, "upload processing failed")
		return
	}
	defer dst.Close()
	size, err := io.Copy(dst, io.LimitReader(file, MaxFileBytes+1))
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "upload processing failed")
		return
	}
	if size > MaxFileBytes {
		_ = os.Remove(path)
		h.fail(w, http.StatusBadRequest, "file exceeds the 5MB limit")
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		Message: "upload complete",
		File: &FileInfo{
			Name: name,
			URL:  "/uploads/" + name,
			Size: size,
		},
	})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || filepath.Base(name) != name {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.dir, name))
}

// validate enforces the allow-list against both the declared MIME type and
// the file extension, like the original API did.
func validate(header *multipart.FileHeader) error {
	mime := strings.ToLower(header.Header.Get("Content-Type"))
	if _, ok := allowedTypes[mime]; !ok {
		return fmt.Errorf("invalid file type: only images are accepted (jpg, png, webp, gif)")
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := allowedExts[ext]; !ok {
		return fmt.Errorf("invalid file extension: only images are accepted (jpg, png, webp, gif)")
	}
	return nil
}

func storedName(original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	return fmt.Sprintf("%s-%d-%d%s", FieldName, time.Now().UnixMilli(), rand.Int63n(1_000_000_000), ext)
}

func (h *Handler) fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, uploadResponse{Success: false, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
