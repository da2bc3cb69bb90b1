package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"jinokyu-chat/internal/syncserver"
	"jinokyu-chat/internal/upload"
)

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "syncd").Logger()
	reqLogger := httplog.NewLogger("syncd", httplog.Options{JSON: true})

	addr := ":" + getEnv("PORT", "8090")
	blobDir := getEnv("BLOB_DIR", "data/blobs")
	uploadDir := getEnv("UPLOAD_DIR", "uploads")
	requireAuth := getEnv("REQUIRE_AUTH", "false") == "true"

	var docs syncserver.DocStore
	var userDB *sql.DB
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pg, err := syncserver.OpenPostgres(dbURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("open postgres")
		}
		docs = pg
		userDB, err = sql.Open("pgx", dbURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("open user db")
		}
		if err := syncserver.MigrateUsers(userDB); err != nil {
			logger.Fatal().Err(err).Msg("migrate users")
		}
	} else {
		logger.Info().Msg("DATABASE_URL not set; rooms held in memory, accounts disabled")
		docs = syncserver.NewMemDocStore()
	}
	defer docs.Close()

	blobs, err := syncserver.NewBlobStore(blobDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("prepare blob dir")
	}
	uploads, err := upload.NewHandler(uploadDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("prepare upload dir")
	}

	server := syncserver.New(docs, blobs, syncserver.Options{
		UserDB:      userDB,
		RequireAuth: requireAuth,
		Logger:      logger,
	})
	defer server.Close()

	r := chi.NewRouter()
	r.Mount("/api/upload", uploads.Router())
	r.Mount("/uploads", uploads.Router())
	r.Mount("/", server.Router())

	srv := &http.Server{
		Addr:    addr,
		Handler: httplog.RequestLogger(reqLogger)(r),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Bool("auth", requireAuth).Msg("sync server running")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("sync server stopped")
	}
}
