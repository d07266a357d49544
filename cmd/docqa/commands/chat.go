package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/tui"
)

// NewChatCmd constructs the `docqa chat` command, an interactive terminal
// chat over the query flow.
func NewChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the documents in the terminal",
		Long: `Open an interactive chat. Each question is answered from the index;
if none exists yet the configured documents are ingested first.

Logs are appended to LOG_FILE (default ~/.docqa/chat.log) while the chat
is open.

Commands inside the chat:
  /clear  reset the conversation and its stored history
  /help   show example questions
  /quit   exit`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log, closeLog := chatLogger()
			defer closeLog()
			ctx = logging.WithLogger(ctx, log)

			a, err := newApp(ctx, log, appOptions{withEngine: true, withTranscripts: true})
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer a.Close()

			if err := a.loadIndex(ctx, true); err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			cfg := tui.Config{
				Engine:    a.engine,
				SessionID: sessionID,
				Timeout:   a.settings.SynthTimeout * 2,
				Logger:    log,
			}
			if a.transcripts != nil {
				cfg.Transcripts = a.transcripts
			}
			return tui.Run(cfg) //nolint:wrapcheck // CLI entry point
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to record the chat under (default: new)")

	return cmd
}

// chatLogger opens LOG_FILE for the chat session. Stderr is the fallback
// when the file cannot be opened.
func chatLogger() (*slog.Logger, func()) {
	path := os.Getenv("LOG_FILE")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return logging.New(), func() {}
		}
		path = filepath.Join(home, ".docqa", "chat.log")
	}
	log, f, err := logging.OpenFile(path)
	if err != nil {
		fallback := logging.New()
		fallback.Warn("chat: logging to stderr", slog.Any("error", err))
		return fallback, func() {}
	}
	return log, func() { _ = f.Close() }
}
