package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/store"
)

// PromptMessage is returned instead of an answer for an empty question.
const PromptMessage = "Please enter a question."

// Answerer synthesises an answer from retrieved chunks. *synth.Synthesizer
// satisfies it.
type Answerer interface {
	Answer(ctx context.Context, question string, chunks []rag.ScoredChunk) (string, error)
}

// Turn is one earlier exchange supplied by a chat surface.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Query is a question plus optional conversational context.
type Query struct {
	// Question is the user's question.
	Question string

	// History holds earlier turns. It is accepted for interface stability
	// and has no effect on retrieval or synthesis.
	History []Turn

	// SessionID keys the transcript; empty disables recording.
	SessionID string
}

// Source identifies a retrieved chunk an answer was drawn from.
type Source struct {
	Document  string  `json:"document"`
	PageStart int     `json:"page_start,omitempty"`
	PageEnd   int     `json:"page_end,omitempty"`
	Score     float32 `json:"score"`
}

// Label renders the source as "file p.N" or "file p.N-M" using the base
// name of the document.
func (s Source) Label() string {
	name := filepath.Base(s.Document)
	switch {
	case s.PageStart == 0:
		return name
	case s.PageEnd > s.PageStart:
		return fmt.Sprintf("%s p.%d-%d", name, s.PageStart, s.PageEnd)
	default:
		return fmt.Sprintf("%s p.%d", name, s.PageStart)
	}
}

// Answer is the result of the query flow.
type Answer struct {
	// Text is the answer, FallbackAnswer, or PromptMessage.
	Text string

	// Sources lists the retrieved chunks in rank order.
	Sources []Source

	// Prompted is true when the question was empty and Text is PromptMessage.
	Prompted bool
}

// EngineConfig holds the dependencies of an Engine.
type EngineConfig struct {
	// Index is the initial index handle; nil until an ingestion or load
	// succeeds.
	Index rag.Index

	// Synthesizer produces answers. Required.
	Synthesizer Answerer

	// TopK is the number of chunks retrieved per question.
	// Defaults to rag.DefaultTopK.
	TopK int

	// Transcripts records exchanges. Optional.
	Transcripts store.TranscriptStore

	// Metrics is optional.
	Metrics *Metrics
}

// Engine runs the query flow. Safe for concurrent use.
type Engine struct {
	mu  sync.RWMutex
	idx rag.Index

	synth       Answerer
	topK        int
	transcripts store.TranscriptStore
	metrics     *Metrics
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg.Synthesizer == nil {
		return nil, fmt.Errorf("pipeline: synthesizer must not be nil")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = rag.DefaultTopK
	}
	return &Engine{
		idx:         cfg.Index,
		synth:       cfg.Synthesizer,
		topK:        topK,
		transcripts: cfg.Transcripts,
		metrics:     cfg.Metrics,
	}, nil
}

// SetIndex replaces the index handle, typically after a re-ingestion.
func (e *Engine) SetIndex(idx rag.Index) {
	e.mu.Lock()
	e.idx = idx
	e.mu.Unlock()
}

// Index returns the current index handle, or nil.
func (e *Engine) Index() rag.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx
}

// Ask answers q. A whitespace-only question returns PromptMessage without
// retrieval or synthesis. Without an index it returns an error wrapping
// rag.ErrIndexNotFound.
func (e *Engine) Ask(ctx context.Context, q Query) (*Answer, error) {
	log := logging.FromContext(ctx).With(slog.String("component", "query"))

	question := strings.TrimSpace(q.Question)
	if question == "" {
		e.metrics.observeQuery(outcomePrompted, 0)
		return &Answer{Text: PromptMessage, Prompted: true}, nil
	}
	if len(q.History) > 0 {
		log.Debug("conversation history ignored", slog.Int("turns", len(q.History)))
	}

	idx := e.Index()
	if idx == nil {
		e.metrics.observeQuery(outcomeError, 0)
		return nil, fmt.Errorf("pipeline: %w: run ingest first", rag.ErrIndexNotFound)
	}

	start := time.Now()
	hits, err := idx.Search(ctx, q.Question, e.topK)
	if err != nil {
		e.metrics.observeQuery(outcomeError, 0)
		return nil, fmt.Errorf("pipeline: retrieve: %w", err)
	}

	text, err := e.synth.Answer(ctx, q.Question, hits)
	if err != nil {
		e.metrics.observeQuery(outcomeError, 0)
		return nil, fmt.Errorf("pipeline: answer: %w", err)
	}

	ans := &Answer{Text: text, Sources: sourcesOf(hits)}
	elapsed := time.Since(start)
	e.metrics.observeQuery(outcomeOK, elapsed)
	log.Info("question answered",
		slog.Int("retrieved", len(hits)),
		slog.Duration("elapsed", elapsed),
	)

	e.record(ctx, log, q.SessionID, q.Question, ans)
	return ans, nil
}

// record appends the exchange to the transcript store. Failures are logged
// and never fail the query.
func (e *Engine) record(ctx context.Context, log *slog.Logger, sessionID, question string, ans *Answer) {
	if e.transcripts == nil || sessionID == "" {
		return
	}
	labels := make([]string, len(ans.Sources))
	for i, s := range ans.Sources {
		labels[i] = s.Label()
	}
	err := e.transcripts.Append(ctx, store.Exchange{
		SessionID: sessionID,
		Question:  question,
		Answer:    ans.Text,
		Sources:   labels,
	})
	if err != nil {
		log.Warn("failed to record transcript", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
}

func sourcesOf(hits []rag.ScoredChunk) []Source {
	out := make([]Source, len(hits))
	for i, h := range hits {
		out[i] = Source{
			Document:  h.Source,
			PageStart: h.PageStart,
			PageEnd:   h.PageEnd,
			Score:     h.Score,
		}
	}
	return out
}
