package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"weldvault/api/internal/app"
	"weldvault/api/internal/authpw"
	"weldvault/api/internal/config"
	"weldvault/api/internal/export"
	"weldvault/api/internal/files"
	"weldvault/api/internal/notify"
	"weldvault/api/internal/record"
	"weldvault/api/internal/revisions"
	"weldvault/api/internal/search"
	"weldvault/api/internal/session"
	"weldvault/api/internal/store"
	"weldvault/api/internal/watch"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	backend := store.NewPostgres(db, record.Limits{
		MaxBatchOps: cfg.MaxBatchOps,
		MaxInValues: cfg.MaxInValues,
	})

	hub, err := watch.NewHub(cfg.RedisURL, backend)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer hub.Close()

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis session store failed: %v", err)
	}
	defer sessions.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgRecords(db))
	go searchService.ReindexAll(ctx, backend)

	var fileStore *files.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		fileStore, err = files.NewStore(ctx, files.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: attachment storage unavailable: %v", err)
			fileStore = nil
		}
	}

	service := app.NewService(cfg, app.Deps{
		Backend:   backend,
		Publisher: hub,
		Watcher:   hub,
		Notifier:  notify.NewLog("api"),
		Sessions:  sessions,
		Passwords: authpw.NewService(backend),
		Search:    searchService,
		Revisions: revisions.New(cfg.ReposDir),
		Files:     fileStore,
		Exporter:  export.NewService(backend),
		Pinger:    backend,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("WeldVault API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
