package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sreyakumar/metadata-embeddings/internal/logger"
	"github.com/sreyakumar/metadata-embeddings/internal/scheduler"
	"github.com/sreyakumar/metadata-embeddings/models"
	"github.com/sreyakumar/metadata-embeddings/services"
	"github.com/sreyakumar/metadata-embeddings/utils"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest every record that is not in the vector collection yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		err = a.runOnce(ctx)
		if errors.Is(err, services.ErrLockHeld) {
			logger.Warn("Another ingestion run is in progress, exiting")
			return nil
		}
		return err
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Create or rebuild the vector index without ingesting",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := utils.WithIndexTimeout(cmd.Context())
		defer cancel()

		if err := a.vectorStore.CreateIndex(ctx, a.cfg.VectorDimensions, a.cfg.Similarity); err != nil {
			return err
		}
		cmd.Printf("Index %s is ready.\n", a.cfg.IndexName)
		return nil
	},
}

var searchK int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a similarity query against the vector index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := utils.WithTimeout(cmd.Context())
		defer cancel()

		results, err := a.vectorStore.SimilaritySearch(ctx, args[0], searchK)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			cmd.Println("No results.")
			return nil
		}
		for i, r := range results {
			cmd.Printf("%d. %v (%v)\n", i+1, r.Chunk.Metadata["name"], r.Chunk.OriginalID())
			cmd.Printf("   %s\n", truncate(r.Chunk.PageContent, 200))
		}
		return nil
	},
}

var scheduleExpr string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run ingestion repeatedly until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		expr := scheduleExpr
		if expr == "" {
			expr = a.cfg.IngestSchedule
		}
		if expr == "" {
			return errors.New("no schedule: pass --every or set INGEST_SCHEDULE")
		}

		s := scheduler.NewScheduler()
		err = s.Schedule(scheduler.IngestJobTag, expr, func(jobCtx context.Context) error {
			err := a.runOnce(jobCtx)
			if errors.Is(err, services.ErrLockHeld) {
				logger.Warn("Skipping scheduled run, lock is held elsewhere")
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}

		s.Start()
		for _, job := range s.GetJobs() {
			logger.Info("Scheduler started", "schedule", expr, "tags", job.Tags(), "next_run", job.NextRun())
		}
		<-ctx.Done()
		logger.Info("Shutting down scheduler...")
		s.Stop()
		return nil
	},
}

var inspectTokenLimit int

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show how a metadata record (JSON file) would be chunked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		dec := json.NewDecoder(f)
		dec.UseNumber()
		var fields map[string]interface{}
		if err := dec.Decode(&fields); err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[0], err)
		}

		doc := models.NewSourceDocument(fields)
		partition := services.Classify(doc)
		chunks, oversized, err := services.NewTransformer(inspectTokenLimit).Transform(doc)
		if err != nil {
			return err
		}

		out := map[string]interface{}{
			"group":           partition.Group.String(),
			"embed_fields":    partition.EmbedFieldNames(),
			"metadata_fields": partition.MetadataFieldNames(),
			"chunks":          chunks,
			"oversized":       oversized,
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(out)
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func init() {
	searchCmd.Flags().IntVar(&searchK, "k", 4, "number of results")
	scheduleCmd.Flags().StringVar(&scheduleExpr, "every", "", "interval (\"6h\") or cron expression; defaults to INGEST_SCHEDULE")
	inspectCmd.Flags().IntVar(&inspectTokenLimit, "token-limit", 8192, "chunk budget in characters")

	rootCmd.AddCommand(runCmd, indexCmd, searchCmd, scheduleCmd, inspectCmd)
}
