// Package cmd provides the CLI commands for Schemadex.
package cmd

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/schemadex/schemadex/internal/logging"
)

// Exit codes. An index that completed with some failures is still usable,
// so partial completion gets its own code instead of a hard failure.
const (
	ExitOK      = 0
	ExitFatal   = 1
	ExitPartial = 2
)

// ErrPartial marks a run that finished with some files or documents failed.
var ErrPartial = stderrors.New("completed with errors")

var (
	flagDocsDir  string
	flagLogLevel string
	flagVerbose  bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the schemadex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemadex",
		Short: "Hybrid search index over database schema documentation",
		Long: `Schemadex builds a local hybrid search index (BM25 + vector) over
generated database schema documentation, and answers natural-language
questions about tables, columns, and relationships.

Indexing is incremental: unchanged files are skipped, interrupted runs
resume from a checkpoint, and a failing embedding provider degrades to
keyword-only search instead of aborting.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setupLogging,
		PersistentPostRun:  teardownLogging,
	}

	cmd.PersistentFlags().StringVar(&flagDocsDir, "docs", ".", "Documentation root directory")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Mirror logs to stderr")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and maps the outcome to an exit code.
func Execute() int {
	err := NewRootCmd().Execute()
	switch {
	case err == nil:
		return ExitOK
	case stderrors.Is(err, ErrPartial):
		fmt.Fprintln(os.Stderr, err)
		return ExitPartial
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		return ExitFatal
	}
}

// setupLogging installs the file-backed JSON logger before any command runs.
func setupLogging(_ *cobra.Command, _ []string) error {
	level := flagLogLevel
	if level == "" {
		level = "info"
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         level,
		FilePath:      logging.DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: flagVerbose,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}
