package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/schemadex/schemadex/internal/manifest"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Validate a manifest against the documentation on disk",
		Long: `Check every file a manifest lists: the file must exist with a
byte-identical content hash. Rejected files are reported per file;
they degrade the working set of a later index run but never abort it.

Exit code 0 when every file is valid, 2 when some were rejected, 1 on
structural manifest errors.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			result, err := manifest.NewValidator(cfg.Paths.DocsDir).Validate(m)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Manifest %s: status=%s, plan=%s\n", manifestPath, m.Status, m.PlanHash)
			fmt.Fprintf(w, "Files: %d listed, %d valid, %d rejected\n",
				len(m.IndexableFiles), len(result.Valid), len(result.Errors))
			for _, u := range m.Units() {
				fmt.Fprintf(w, "  work unit %-20s %d files\n", u.Name, len(u.Files))
			}
			for _, fe := range result.Errors {
				fmt.Fprintf(w, "  %s: %s\n", fe.Code, fe.Path)
			}

			if len(result.Errors) > 0 {
				return fmt.Errorf("%w: %d files rejected", ErrPartial, len(result.Errors))
			}
			return nil
		},
	}
	return cmd
}
