package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/scottjenson/xe-darc/internal/attach"
	"github.com/scottjenson/xe-darc/internal/clipboard"
	"github.com/scottjenson/xe-darc/internal/config"
	"github.com/scottjenson/xe-darc/internal/render"
	"github.com/scottjenson/xe-darc/internal/search"
	"github.com/scottjenson/xe-darc/internal/seed"
	"github.com/scottjenson/xe-darc/internal/shell"
	"github.com/scottjenson/xe-darc/internal/store"
	darcsync "github.com/scottjenson/xe-darc/internal/sync"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	local, err := store.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer local.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient)

	opts := []shell.Option{shell.WithSearch(searchService)}

	if cfg.S3Endpoint != "" {
		blobs, err := attach.NewS3Blobs(ctx, attach.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Fatalf("blob store connection failed: %v", err)
		}
		opts = append(opts, shell.WithScreenshotStore(blobs))
	}

	if cfg.RenderEnabled && render.Available() {
		renderer := render.New(ctx)
		defer renderer.Close()
		opts = append(opts, shell.WithFrameFactory(func(tabID, url string) (shell.RenderContext, error) {
			return renderer.NewTabContext(tabID, url)
		}))
	} else {
		log.Printf("rendering disabled, tabs will have no live contexts")
	}

	sh := shell.New(local, opts...)
	if err := sh.Bootstrap(ctx, seed.Documents()); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}
	if err := sh.Start(ctx); err != nil {
		log.Fatalf("shell start failed: %v", err)
	}
	defer sh.Close()

	go sh.RunHibernation(ctx)

	if cfg.ClipboardEnabled {
		if reader := clipboard.NewSystemReader(); reader != nil {
			go clipboard.NewMonitor(reader, local).Run(ctx)
		} else {
			log.Printf("clipboard history enabled but no clipboard tool found")
		}
	}

	// Remote sync peer is optional; without it the shell is purely local.
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		remote := store.NewPostgresStore(db)
		go darcsync.Pair(ctx, local, remote)
		log.Printf("replicating with %s", cfg.DatabaseURL)
	}

	httpServer := shell.NewHTTPServer(sh, searchService)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("darc shell listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
