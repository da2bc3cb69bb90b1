package syncserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"jinokyu-chat/internal/authutil"
)

type ctxUserKey struct{}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (s *Server) userStoreUnavailable(w http.ResponseWriter) {
	http.Error(w, "user store unavailable: set DATABASE_URL to enable accounts", http.StatusServiceUnavailable)
}

func (s *Server) registerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.userDB == nil {
			s.userStoreUnavailable(w)
			return
		}
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			http.Error(w, "username/password required", http.StatusBadRequest)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "hash error", http.StatusInternalServerError)
			return
		}
		_, err = s.userDB.Exec(`INSERT INTO users (username, password_hash) VALUES ($1, $2)`, req.Username, string(hash))
		if err != nil {
			http.Error(w, "username exists", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.userDB == nil {
			s.userStoreUnavailable(w)
			return
		}
		var req credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		var storedHash string
		if err := s.userDB.QueryRow(`SELECT password_hash FROM users WHERE username=$1`, req.Username).Scan(&storedHash); err != nil {
			http.Error(w, "invalid username", http.StatusBadRequest)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(req.Password)); err != nil {
			http.Error(w, "wrong password", http.StatusBadRequest)
			return
		}
		token, err := authutil.IssueToken(req.Username)
		if err != nil {
			http.Error(w, "token error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, loginResponse{Token: token, Username: req.Username})
	}
}

// authenticated gates mutating routes behind a bearer token when the server
// was configured to require auth; otherwise it is a pass-through, matching
// the open single-tenant deployment mode.
func (s *Server) authenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.requireAuth {
				next.ServeHTTP(w, r)
				return
			}
			token := parseBearer(r.Header.Get("Authorization"))
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			username, err := authutil.ValidateToken(token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxUserKey{}, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(header)
}

// MigrateUsers creates the accounts table used by register/login.
func MigrateUsers(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			username      TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL
		)`)
	return err
}
