// Package tui is the interactive terminal chat over the query flow. Each
// question runs off the UI goroutine; the transcript scrolls in a viewport.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/pipeline"
	"github.com/54b3r/docqa-go/internal/rag"
)

// ExamplePrompts are offered on the welcome screen and by /help.
var ExamplePrompts = []string{
	"What is the content of the document?",
	"Summarize the tax personal update.",
}

// Asker answers one question. *pipeline.Engine satisfies it.
type Asker interface {
	Ask(ctx context.Context, q pipeline.Query) (*pipeline.Answer, error)
}

// Clearer drops the stored transcript of a session. store.TranscriptStore
// satisfies it.
type Clearer interface {
	Clear(ctx context.Context, sessionID string) (int64, error)
}

// Config holds the dependencies of the chat model.
type Config struct {
	// Engine answers questions. Required.
	Engine Asker

	// Transcripts, when set, is cleared by /clear.
	Transcripts Clearer

	// SessionID keys the transcript of this chat.
	SessionID string

	// Timeout bounds one question. Zero means two minutes.
	Timeout time.Duration

	// Logger is attached to the context of every question.
	Logger *slog.Logger
}

type role int

const (
	roleUser role = iota
	roleAssistant
	roleSystem
	roleError
)

// entry is one rendered line group of the transcript.
type entry struct {
	role    role
	text    string
	sources []pipeline.Source
}

// answerMsg carries the result of an asynchronous question.
type answerMsg struct {
	question string
	answer   *pipeline.Answer
	err      error
}

// clearedMsg carries the result of clearing the stored transcript.
type clearedMsg struct {
	removed int64
	err     error
}

// Model is the Bubble Tea model of the chat.
type Model struct {
	cfg      Config
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	entries []entry
	history []pipeline.Turn
	busy    bool
	ready   bool
}

// New returns a chat model. It fails when cfg.Engine is nil.
func New(cfg Config) (Model, error) {
	if cfg.Engine == nil {
		return Model{}, errors.New("tui: engine is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the documents and press Enter"
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	return Model{
		cfg:      cfg,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		entries:  []entry{{role: roleSystem, text: welcomeText()}},
	}, nil
}

func welcomeText() string {
	var sb strings.Builder
	sb.WriteString("Ask a question about the ingested documents. For example:\n")
	for _, p := range ExamplePrompts {
		sb.WriteString("  " + p + "\n")
	}
	sb.WriteString("Commands: /clear resets the conversation, /help repeats this, /quit exits.")
	return sb.String()
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, resize and result messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d", "esc":
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case answerMsg:
		m.busy = false
		switch {
		case msg.err != nil:
			m.push(entry{role: roleError, text: describeError(msg.err)})
		case msg.answer.Prompted:
			m.push(entry{role: roleSystem, text: msg.answer.Text})
		default:
			m.history = append(m.history, pipeline.Turn{Question: msg.question, Answer: msg.answer.Text})
			m.push(entry{role: roleAssistant, text: msg.answer.Text, sources: msg.answer.Sources})
		}
		return m, nil

	case clearedMsg:
		if msg.err != nil {
			m.push(entry{role: roleError, text: "Could not clear stored history: " + msg.err.Error()})
		} else {
			m.push(entry{role: roleSystem, text: fmt.Sprintf("Stored history cleared (%d exchanges).", msg.removed)})
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles Enter: slash commands run locally, anything else is asked.
func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()

	switch strings.ToLower(text) {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.push(entry{role: roleSystem, text: welcomeText()})
		return m, nil
	case "/clear":
		m.entries = nil
		m.history = nil
		m.push(entry{role: roleSystem, text: "Conversation cleared."})
		return m, m.clearTranscript()
	case "":
		m.push(entry{role: roleSystem, text: pipeline.PromptMessage})
		return m, nil
	}

	m.push(entry{role: roleUser, text: text})
	m.busy = true
	return m, tea.Batch(m.ask(text), m.spinner.Tick)
}

// ask runs the question in a command so the UI stays responsive.
func (m Model) ask(question string) tea.Cmd {
	cfg := m.cfg
	history := slices.Clone(m.history)
	return func() tea.Msg {
		ctx := logging.WithLogger(context.Background(), cfg.Logger.With(slog.String("session_id", cfg.SessionID)))
		ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		ans, err := cfg.Engine.Ask(ctx, pipeline.Query{
			Question:  question,
			History:   history,
			SessionID: cfg.SessionID,
		})
		return answerMsg{question: question, answer: ans, err: err}
	}
}

func (m Model) clearTranscript() tea.Cmd {
	if m.cfg.Transcripts == nil || m.cfg.SessionID == "" {
		return nil
	}
	cfg := m.cfg
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := cfg.Transcripts.Clear(ctx, cfg.SessionID)
		return clearedMsg{removed: n, err: err}
	}
}

// describeError turns a query failure into a message for the user.
func describeError(err error) string {
	switch {
	case errors.Is(err, rag.ErrIndexNotFound):
		return "No index found. Run `docqa ingest` first."
	case errors.Is(err, rag.ErrIndexCorrupt):
		return "The index is unreadable. Re-run `docqa ingest`."
	case errors.Is(err, context.DeadlineExceeded):
		return "The question timed out. Try again or ask something narrower."
	default:
		return "Error: " + err.Error()
	}
}

func (m *Model) push(e entry) {
	m.entries = append(m.entries, e)
	m.refresh()
}

func (m *Model) resize(width, height int) {
	m.ready = true
	_, th := transcriptBox.GetFrameSize()
	_, ih := inputBox.GetFrameSize()
	// title + input line + status line
	reserved := 3 + th + ih
	m.viewport.Width = max(20, width-2)
	m.viewport.Height = max(3, height-reserved)
	m.input.Width = max(10, width-6)
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	wrap := lipgloss.NewStyle().Width(max(10, m.viewport.Width-2))
	blocks := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		var b strings.Builder
		switch e.role {
		case roleUser:
			b.WriteString(userLabel.Render("You") + "\n" + wrap.Render(e.text))
		case roleAssistant:
			b.WriteString(assistantLabel.Render("Assistant") + "\n" + wrap.Render(e.text))
			if len(e.sources) > 0 {
				b.WriteString("\n" + sourceStyle.Render("Sources: "+sourceLabels(e.sources)))
			}
		case roleError:
			b.WriteString(errorStyle.Render(wrap.Render(e.text)))
		default:
			b.WriteString(mutedStyle.Render(wrap.Render(e.text)))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// sourceLabels joins distinct source labels in rank order.
func sourceLabels(sources []pipeline.Source) string {
	seen := make(map[string]bool, len(sources))
	labels := make([]string, 0, len(sources))
	for _, s := range sources {
		l := s.Label()
		if seen[l] {
			continue
		}
		seen[l] = true
		labels = append(labels, l)
	}
	return strings.Join(labels, ", ")
}

// View renders the title, transcript, input and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	status := mutedStyle.Render("Enter to ask, /clear to reset, Ctrl+C to quit")
	if m.busy {
		status = m.spinner.View() + " Thinking..."
	}
	return titleStyle.Render("Document Q&A") + "\n" +
		transcriptBox.Render(m.viewport.View()) + "\n" +
		inputBox.Render(m.input.View()) + "\n" +
		status
}
