package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"havenregistry.org/internal/files"
	"havenregistry.org/internal/httpapi"
	"havenregistry.org/internal/obs"
	"havenregistry.org/internal/registry"
	"havenregistry.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Registry backend: PostgreSQL when a DSN is present, in-memory otherwise
	// (local development and smoke tests).
	var (
		reg registry.Service
		db  *sql.DB
	)
	if dsn := os.Getenv("HAVEN_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		reg = store
		db = store.DB()
	} else {
		log.Println(`{"level":"warn","msg":"HAVEN_PG_DSN not set, using in-memory registry"}`)
		reg = registry.NewInMemory()
	}

	fileStore, err := buildFileStore()
	if err != nil {
		log.Fatalf("file store: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, reg, fileStore)

	addr := os.Getenv("HAVEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting haven-registry-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// buildFileStore selects MinIO when endpoint configuration is present and
// falls back to the local uploads directory otherwise.
func buildFileStore() (files.Store, error) {
	if endpoint := os.Getenv("HAVEN_MINIO_ENDPOINT"); endpoint != "" {
		return files.NewMinIOStore(files.MinIOConfig{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("HAVEN_MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("HAVEN_MINIO_SECRET_KEY"),
			Bucket:    envOr("HAVEN_MINIO_BUCKET", "verification-documents"),
			UseSSL:    os.Getenv("HAVEN_MINIO_USE_SSL") == "true",
		})
	}
	return files.NewLocalStore(envOr("HAVEN_UPLOAD_DIR", "uploads"))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
