package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/pipeline"
)

// NewAskCmd constructs the `docqa ask` command, which answers one question
// from the persisted index and prints the answer with its sources.
func NewAskCmd() *cobra.Command {
	var (
		sessionID string
		asJSON    bool
		ingest    bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question about the documents",
		Long: `Answer a single question from the persisted index.

The answer is drawn only from the retrieved document chunks; when they do not
contain it, docqa says it cannot find the answer in the document.

Examples:
  docqa ask "What is the content of the document?"
  docqa ask --json "Summarize the tax personal update."
  docqa ask --ingest "What reliefs were announced?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			printAnswer := func(ans *pipeline.Answer) error {
				if asJSON {
					return writeAnswerJSON(cmd.OutOrStdout(), sessionID, ans)
				}
				writeAnswerText(cmd.OutOrStdout(), ans)
				return nil
			}

			// A blank question never needs the index, the models or an ingest.
			question := strings.Join(args, " ")
			if strings.TrimSpace(question) == "" {
				return printAnswer(&pipeline.Answer{Text: pipeline.PromptMessage, Prompted: true})
			}

			a, err := newApp(ctx, log, appOptions{withEngine: true, withTranscripts: true})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer a.Close()

			if err := a.loadIndex(ctx, ingest); err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			ans, err := a.engine.Ask(ctx, pipeline.Query{
				Question:  question,
				SessionID: sessionID,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			return printAnswer(ans)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID the exchange is recorded under (default: new)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the answer as JSON")
	cmd.Flags().BoolVar(&ingest, "ingest", false, "Ingest the configured documents if no index exists")

	return cmd
}

func writeAnswerText(w io.Writer, ans *pipeline.Answer) {
	fmt.Fprintln(w, ans.Text)
	if len(ans.Sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, s := range ans.Sources {
		fmt.Fprintf(w, "  - %s (score %.3f)\n", s.Label(), s.Score)
	}
}

type answerJSON struct {
	SessionID string            `json:"session_id"`
	Answer    string            `json:"answer"`
	Sources   []pipeline.Source `json:"sources"`
	Prompted  bool              `json:"prompted,omitempty"`
}

func writeAnswerJSON(w io.Writer, sessionID string, ans *pipeline.Answer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	sources := ans.Sources
	if sources == nil {
		sources = []pipeline.Source{}
	}
	return enc.Encode(answerJSON{ //nolint:wrapcheck // CLI output
		SessionID: sessionID,
		Answer:    ans.Text,
		Sources:   sources,
		Prompted:  ans.Prompted,
	})
}
