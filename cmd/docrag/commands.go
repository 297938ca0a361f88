package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bvergne/docrag/internal/chunker"
	"github.com/bvergne/docrag/internal/config"
	"github.com/bvergne/docrag/internal/index"
	"github.com/bvergne/docrag/internal/ingest"
	"github.com/bvergne/docrag/internal/llm"
	"github.com/bvergne/docrag/internal/storage"
	"github.com/bvergne/docrag/internal/tracker"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [folder]",
	Short: "Run one indexing pass over the documents folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log)

		folder := cfg.Ingest.DocumentsFolder
		if len(args) == 1 {
			folder = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		provider, err := llm.New(cfg.LLM)
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		// The CLI pass runs without Redis; the embedding cache only saves
		// recomputation, never correctness.
		writer := index.NewWriter(index.NewEmbedder(provider, nil), index.NewSQLiteStore(store.DB()))
		pipe := ingest.New(tracker.New(store.DB()), writer, ingest.Options{Chunking: chunkingConfig(cfg.Ingest)}, slog.Default())

		summary, err := pipe.Reindex(ctx, folder, full)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "total %d, indexed %d, skipped %d, errors %d\n",
			summary.Total, summary.Indexed, summary.Skipped, summary.Errors)
		if summary.Errors > 0 {
			return fmt.Errorf("%d document(s) failed, they will be retried on the next run", summary.Errors)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		ledger, err := tracker.New(store.DB()).Stats()
		if err != nil {
			return err
		}
		passages, err := index.NewSQLiteStore(store.DB()).Count()
		if err != nil {
			return err
		}

		for _, status := range []string{tracker.StatusSuccess, tracker.StatusError, tracker.StatusPending} {
			if sc, ok := ledger[status]; ok {
				fmt.Fprintf(os.Stdout, "%-8s %d file(s), %d chunk(s)\n", status, sc.Files, sc.Chunks)
			}
		}
		fmt.Fprintf(os.Stdout, "index    %d passage(s)\n", passages)
		return nil
	},
}

func init() {
	ingestCmd.Flags().Bool("full", false, "reset the ledger and reprocess every document")
}

func chunkingConfig(cfg config.IngestConfig) chunker.Config {
	return chunker.Config{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		MinChunkSize: cfg.MinChunkSize,
	}
}
