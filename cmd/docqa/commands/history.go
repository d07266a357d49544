package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/config"
	"github.com/54b3r/docqa-go/internal/store"
)

// NewHistoryCmd constructs the `docqa history` command, which prints or
// clears the recorded exchanges of a session.
func NewHistoryCmd() *cobra.Command {
	var (
		limit    int
		clearAll bool
	)

	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show or clear the recorded exchanges of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sessionID := args[0]

			settings, err := config.SettingsFromEnv()
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if settings.HistoryDisabled() {
				return errors.New("history: disabled via DOCQA_HISTORY_DB=disabled")
			}
			path := settings.HistoryDB
			if path == "" {
				if path, err = store.DefaultDBPath(); err != nil {
					return fmt.Errorf("history: %w", err)
				}
			}
			ts, err := store.Open(path)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			defer func() { _ = ts.Close() }()

			out := cmd.OutOrStdout()
			if clearAll {
				n, err := ts.Clear(ctx, sessionID)
				if err != nil {
					return fmt.Errorf("history: %w", err)
				}
				fmt.Fprintf(out, "Removed %d exchanges from session %s\n", n, sessionID)
				return nil
			}

			exchanges, err := ts.Recent(ctx, sessionID, limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(exchanges) == 0 {
				fmt.Fprintf(out, "No exchanges recorded for session %s\n", sessionID)
				return nil
			}
			for _, ex := range exchanges {
				fmt.Fprintf(out, "[%s]\nQ: %s\nA: %s\n", ex.CreatedAt.Format("2006-01-02 15:04:05"), ex.Question, ex.Answer)
				if len(ex.Sources) > 0 {
					fmt.Fprintf(out, "Sources: %s\n", strings.Join(ex.Sources, ", "))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of most recent exchanges to show")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Delete the session's exchanges instead of printing them")

	return cmd
}
