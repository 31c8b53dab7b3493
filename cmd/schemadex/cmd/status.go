package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/schemadex/schemadex/internal/builder"
	"github.com/schemadex/schemadex/internal/config"
	"github.com/schemadex/schemadex/internal/docmodel"
	"github.com/schemadex/schemadex/internal/store"
)

func newStatusCmd() *cobra.Command {
	var (
		check  bool
		repair bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index contents and the last run's outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			if !indexExists(cfg) {
				fmt.Fprintf(w, "No index found in %s (run 'schemadex index' first)\n", cfg.Paths.IndexDir)
				return nil
			}

			docs, err := store.NewSQLiteStore(metadataPath(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = docs.Close() }()

			ctx := cmd.Context()
			stats, err := docs.Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(w, "Index directory: %s\n", cfg.Paths.IndexDir)
			fmt.Fprintf(w, "Documents: %d (%d relationships, %d degraded)\n",
				stats.DocumentCount, stats.RelationshipCount, stats.DegradedCount)
			printTypeCounts(w, stats)

			if model, err := docs.GetState(ctx, store.StateKeyIndexModel); err == nil && model != "" {
				dim, _ := docs.GetState(ctx, store.StateKeyIndexDimension)
				fmt.Fprintf(w, "Embedding model: %s (dimension %s)\n", model, dim)
			} else {
				fmt.Fprintln(w, "Embedding model: none (keyword-only index)")
			}

			if status, err := docs.GetState(ctx, store.StateKeyLastRunStatus); err == nil && status != "" {
				at, _ := docs.GetState(ctx, store.StateKeyLastRunAt)
				fmt.Fprintf(w, "Last run: %s at %s\n", status, at)
			}

			if cp, err := docs.LoadCheckpoint(ctx); err == nil && cp != nil {
				fmt.Fprintf(w, "Interrupted run checkpoint: %d/%d files done (resume with 'schemadex index --resume')\n",
					len(cp.DonePaths), cp.FilesTotal)
			}

			prog, err := builder.LoadProgress(progressPath(cfg))
			if err == nil && prog != nil {
				fmt.Fprintf(w, "Progress file: %s, %d/%d indexed, %d failed, %d skipped\n",
					prog.Status, prog.FilesIndexed, prog.FilesTotal, prog.FilesFailed, prog.FilesSkipped)
			}

			if check || repair {
				return runConsistencyCheck(ctx, w, cfg, docs, repair)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Verify keyword and vector indexes against document metadata")
	cmd.Flags().BoolVar(&repair, "repair", false, "Remove orphaned index entries found by --check")

	return cmd
}

func runConsistencyCheck(ctx context.Context, w io.Writer, cfg *config.Config, docs store.DocumentStore, repair bool) error {
	bm25, err := openBM25(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = bm25.Close() }()

	vectors, err := openVectors(cfg, 0)
	if err != nil {
		slog.Warn("vector_index_unavailable", slog.String("error", err.Error()))
	}
	if vectors != nil {
		defer func() { _ = vectors.Close() }()
	}

	checker := builder.NewConsistencyChecker(docs, bm25, vectors)
	result, err := checker.Check(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Consistency: %d documents checked, %d issues", result.Checked, len(result.Inconsistencies))
	if result.MissingVectors > 0 {
		fmt.Fprintf(w, ", %d vectors missing", result.MissingVectors)
	}
	fmt.Fprintln(w)
	for _, is := range result.Inconsistencies {
		fmt.Fprintf(w, "  %s: %s\n", is.Type, is.DocID)
	}

	if repair && len(result.Inconsistencies) > 0 {
		if err := checker.Repair(ctx, result); err != nil {
			return err
		}
		if err := bm25.Save(); err != nil {
			return err
		}
		if vectors != nil {
			if err := vectors.Save(vectorPath(cfg)); err != nil {
				return err
			}
		}
		fmt.Fprintln(w, "Orphaned entries removed.")
	}

	if len(result.Inconsistencies) > 0 && !repair {
		return fmt.Errorf("%w: %d index inconsistencies", ErrPartial, len(result.Inconsistencies))
	}
	return nil
}

func printTypeCounts(w io.Writer, stats *store.StoreStats) {
	if len(stats.DocumentsByType) == 0 {
		return
	}
	types := make([]string, 0, len(stats.DocumentsByType))
	for t := range stats.DocumentsByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %-14s %d\n", t, stats.DocumentsByType[docmodel.DocType(t)])
	}
}
