package syncserver

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore writes uploaded attachment blobs to disk under
// <dir>/<room>/<messageID>/<name>. Names arrive pre-timestamped by the
// client; the store only has to keep them on a safe path.
type BlobStore struct {
	dir string
}

// NewBlobStore prepares the blob root directory.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &BlobStore{dir: dir}, nil
}

// Put stores the blob and returns its size.
func (b *BlobStore) Put(room, msgID, name string, src io.Reader) (int64, error) {
	path, err := b.path(room, msgID, name)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer dst.Close()
	return io.Copy(dst, src)
}

// Open returns the blob contents and a sniffed content type.
func (b *BlobStore) Open(room, msgID, name string) (*os.File, string, error) {
	path, err := b.path(room, msgID, name)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, "", err
	}
	return f, http.DetectContentType(buf[:n]), nil
}

func (b *BlobStore) path(room, msgID, name string) (string, error) {
	for _, part := range []string{room, msgID, name} {
		if !safePathToken(part) {
			return "", fmt.Errorf("unsafe blob path element %q", part)
		}
	}
	return filepath.Join(b.dir, room, msgID, name), nil
}

func safePathToken(val string) bool {
	if val == "" || val == "." || val == ".." {
		return false
	}
	if strings.ContainsAny(val, "/\\") {
		return false
	}
	return filepath.Base(val) == val
}

// SanitizeBlobName reduces an original file name to characters safe for both
// URL paths and the filesystem, mirroring what clients do before upload.
func SanitizeBlobName(name string) string {
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
