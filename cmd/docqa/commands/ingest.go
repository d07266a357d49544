package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/logging"
)

// NewIngestCmd constructs the `docqa ingest` command, which extracts,
// chunks and embeds documents and persists the resulting index.
func NewIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Build the vector index from documents",
		Long: `Extract, chunk and embed documents and persist the index, replacing the
previous one.

Without arguments the documents in DOCQA_DOCUMENTS (or the YAML documents
list) are ingested. Documents that cannot be read are reported and skipped.

Examples:
  docqa ingest
  docqa ingest BDO-Malaysia-Budget-2025-Highlights.pdf notes.md
  INDEX_BACKEND=qdrant docqa ingest report.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := newApp(ctx, log, appOptions{})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer a.Close()

			report, err := a.ingest(ctx, args)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Indexed %d chunks from %d documents into %s (%s)\n",
				report.Chunks, report.Documents, report.Location, report.Elapsed.Round(1e6))
			for _, s := range report.Skipped {
				fmt.Fprintf(out, "  skipped: %s\n", s)
			}
			log.Debug("ingest command finished", slog.Int("skipped", len(report.Skipped)))
			return nil
		},
	}
}
