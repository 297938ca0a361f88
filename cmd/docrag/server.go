package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bvergne/docrag/internal/api"
	"github.com/bvergne/docrag/internal/cache"
	"github.com/bvergne/docrag/internal/config"
	"github.com/bvergne/docrag/internal/index"
	"github.com/bvergne/docrag/internal/ingest"
	"github.com/bvergne/docrag/internal/kv"
	"github.com/bvergne/docrag/internal/llm"
	"github.com/bvergne/docrag/internal/memory"
	"github.com/bvergne/docrag/internal/rag"
	"github.com/bvergne/docrag/internal/stats"
	"github.com/bvergne/docrag/internal/storage"
	"github.com/bvergne/docrag/internal/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docrag HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		return runServer(watch)
	},
}

func init() {
	serveCmd.Flags().Bool("watch", false, "reindex documents as the folder changes")
}

func setupLogging(cfg config.LogConfig) {
	level := slog.LevelInfo
	if strings.EqualFold(cfg.Level, "debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openKV returns the configured Redis store, or the in-process fallback
// when no Redis address is configured.
func openKV(ctx context.Context, cfg config.RedisConfig) (kv.Store, func(), error) {
	if cfg.Addr == "" {
		slog.Warn("no redis configured, cache and conversations are process-local")
		return kv.NewMemory(), func() {}, nil
	}
	r, err := kv.NewRedis(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	return r, func() { r.Close() }, nil
}

func runServer(watch bool) error {
	fmt.Fprintf(os.Stderr, "docrag version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	if !provider.IsRunning(ctx) {
		slog.Warn("LLM backend is not reachable, requests will fail until it is", "base_url", cfg.LLM.BaseURL)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	kvStore, closeKV, err := openKV(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer closeKV()

	// Wire the stack once; every component receives its collaborators
	// explicitly.
	c := cache.New(kvStore, cfg.Retrieval, cfg.RateLimit, slog.Default())
	m := memory.New(kvStore, cfg.Retrieval.HistoryLength, cfg.Retrieval.SessionTTL, slog.Default())
	tr := tracker.New(store.DB())
	writer := index.NewWriter(index.NewEmbedder(provider, c), index.NewSQLiteStore(store.DB()))
	recorder := stats.NewRecorder(store.DB())
	pipe := ingest.New(tr, writer, ingest.Options{Chunking: chunkingConfig(cfg.Ingest)}, slog.Default())
	engine := rag.New(provider, writer, c, m, recorder, cfg.Retrieval.TopK, slog.Default())

	handler := api.NewHandler(api.Deps{
		Engine:          engine,
		Pipeline:        pipe,
		Memory:          m,
		Cache:           c,
		Tracker:         tr,
		Stats:           recorder,
		Provider:        provider,
		Token:           cfg.Server.APIToken,
		DocumentsFolder: cfg.Ingest.DocumentsFolder,
		MaxUploadBytes:  cfg.Ingest.MaxUploadBytes,
	}, writer)

	if watch {
		go func() {
			if err := pipe.Watch(ctx, cfg.Ingest.DocumentsFolder); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("watch mode stopped", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("docrag listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
