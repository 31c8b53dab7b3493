package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schemadex/schemadex/internal/builder"
	"github.com/schemadex/schemadex/internal/embed"
	"github.com/schemadex/schemadex/internal/manifest"
	"github.com/schemadex/schemadex/internal/store"
)

// defaultManifestName is looked up under the docs root when no manifest
// path is given.
const defaultManifestName = "manifest.json"

func newIndexCmd() *cobra.Command {
	var (
		force    bool
		resume   bool
		dryRun   bool
		workUnit string
	)

	cmd := &cobra.Command{
		Use:   "index [manifest]",
		Short: "Build or update the index from a manifest",
		Long: `Build or incrementally update the search index from a batch manifest.

Unchanged files (same content hash) are skipped. Files whose hash moved
are re-parsed and re-embedded. Files that vanished from a complete
manifest generation are removed at end of run.

Use --resume to continue an interrupted run from its checkpoint.
Use --force to reprocess every file regardless of stored hashes.
Use --dry-run to validate the manifest against disk without writing.

Exit code 0 means every file was indexed; 2 means the index is usable
but some files or embeddings failed (see the progress file).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if force && resume {
				return fmt.Errorf("--force and --resume are mutually exclusive")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			manifestPath := filepath.Join(cfg.Paths.DocsDir, defaultManifestName)
			if len(args) > 0 {
				manifestPath = args[0]
			}
			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}

			docs, err := store.NewSQLiteStore(metadataPath(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = docs.Close() }()

			bm25, err := openBM25(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = bm25.Close() }()

			var (
				embedder embed.Embedder
				vectors  store.VectorStore
			)
			if !dryRun {
				embedder, err = newEmbedder(ctx, cfg)
				if err != nil {
					// Missing provider degrades to keyword-only; it never
					// blocks indexing.
					slog.Warn("embedding_provider_unavailable", slog.String("error", err.Error()))
					fmt.Fprintln(cmd.OutOrStdout(), "Embedding provider unavailable; indexing keyword-only.")
				}
			}
			if embedder != nil {
				defer func() { _ = embedder.Close() }()
				vectors, err = openVectors(cfg, embedder.Dimensions())
				if err != nil {
					return err
				}
				defer func() { _ = vectors.Close() }()
			}

			b, err := builder.New(docs, bm25, vectors, embedder, generatorConfig(cfg), builderConfig(cfg))
			if err != nil {
				return err
			}

			prog, err := b.Run(ctx, m, builder.Options{
				Force:    force,
				Resume:   resume,
				DryRun:   dryRun,
				WorkUnit: workUnit,
			})
			if err != nil {
				return err
			}

			printRunSummary(cmd.OutOrStdout(), prog, dryRun)

			if prog.Status != builder.StatusCompleted {
				return fmt.Errorf("%w: %d of %d files failed", ErrPartial, prog.FilesFailed, prog.FilesTotal)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reprocess every file regardless of stored hashes")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume from the persisted checkpoint")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the manifest without writing anything")
	cmd.Flags().StringVar(&workUnit, "work-unit", "", "Restrict the run to one named work unit")

	return cmd
}

// printRunSummary writes the human-readable outcome of a run.
func printRunSummary(w io.Writer, prog *builder.Progress, dryRun bool) {
	if dryRun {
		fmt.Fprintf(w, "Dry run %s: %d/%d files valid, %d rejected\n",
			prog.Status, prog.FilesTotal-prog.FilesFailed, prog.FilesTotal, prog.FilesFailed)
	} else {
		fmt.Fprintf(w, "Run %s: %d/%d files indexed, %d skipped, %d failed\n",
			prog.Status, prog.FilesIndexed, prog.FilesTotal, prog.FilesSkipped, prog.FilesFailed)
	}
	if prog.EmbeddingsGenerated > 0 {
		fmt.Fprintf(w, "Embeddings generated: %d\n", prog.EmbeddingsGenerated)
	}

	const maxShown = 10
	for i, e := range prog.Errors {
		if i == maxShown {
			fmt.Fprintf(w, "  ... and %d more (see progress file)\n", len(prog.Errors)-maxShown)
			break
		}
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}
