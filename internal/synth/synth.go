// Package synth turns a question and retrieved chunks into an answer. The
// model is instructed to answer only from the supplied context and to reply
// with FallbackAnswer when the context does not contain the answer.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// FallbackAnswer is the literal reply when the context does not contain the
// answer. Callers may compare against it.
const FallbackAnswer = "answer is not available in the context."

// DefaultTimeout bounds one Answer call, including any map steps.
const DefaultTimeout = 60 * time.Second

// instruction is the system message of the answer prompt.
const instruction = `Answer the question as detailed as possible from the provided context, making sure to include all the relevant details. If the answer is not in the provided context, just say, "` + FallbackAnswer + `" Do not provide incorrect answers.`

// answerTemplate is rendered with the combined context and the question.
const answerTemplate = "Context:\n{context}\n\nQuestion:\n{question}\n\nAnswer:"

// ErrEmptyResponse is wrapped in a SynthesisError when the model replies
// with no text.
var ErrEmptyResponse = errors.New("synth: model returned an empty response")

// SynthesisError reports a failed model call. It is never replaced by the
// fallback answer.
type SynthesisError struct {
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synth: answer generation failed: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *SynthesisError) Unwrap() error { return e.Err }

// Config holds the dependencies of a Synthesizer.
type Config struct {
	// ChatModel generates the answer.
	ChatModel model.BaseChatModel

	// Combiner merges retrieved chunks into one context string.
	// Defaults to a StuffCombiner with MaxContextTokens.
	Combiner Combiner

	// MaxContextTokens is the token budget of the default StuffCombiner.
	// Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int

	// Timeout bounds each Answer call. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Synthesizer answers questions from retrieved chunks. Safe for concurrent use.
type Synthesizer struct {
	// chain renders the prompt and invokes the model.
	chain compose.Runnable[map[string]any, *schema.Message]

	// combiner builds the context string.
	combiner Combiner

	// timeout bounds each Answer call.
	timeout time.Duration
}

// New compiles the answer chain.
func New(ctx context.Context, cfg *Config) (*Synthesizer, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("synth: ChatModel must not be nil")
	}

	chain, err := buildChain(ctx, cfg.ChatModel, instruction, answerTemplate)
	if err != nil {
		return nil, err
	}

	combiner := cfg.Combiner
	if combiner == nil {
		maxTokens := cfg.MaxContextTokens
		if maxTokens <= 0 {
			maxTokens = budget.DefaultMaxContextTokens
		}
		combiner = &StuffCombiner{MaxTokens: maxTokens}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Synthesizer{chain: chain, combiner: combiner, timeout: timeout}, nil
}

// buildChain compiles a ChatTemplate → ChatModel chain from a system
// instruction and an FString user template.
func buildChain(ctx context.Context, cm model.BaseChatModel, system, user string) (compose.Runnable[map[string]any, *schema.Message], error) {
	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	r, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(tpl).
		AppendChatModel(cm).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("synth: failed to compile chain: %w", err)
	}
	return r, nil
}

// Answer asks the model to answer question using chunks, in the order given.
// With no chunks, or a combined context that is empty, it returns
// FallbackAnswer without calling the model.
func (s *Synthesizer) Answer(ctx context.Context, question string, chunks []rag.ScoredChunk) (string, error) {
	if len(chunks) == 0 {
		return FallbackAnswer, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	contextText, err := s.combiner.Combine(ctx, question, chunks)
	if err != nil {
		return "", &SynthesisError{Err: err}
	}
	if strings.TrimSpace(contextText) == "" {
		logging.FromContext(ctx).Debug("synth: combined context is empty, returning fallback")
		return FallbackAnswer, nil
	}

	start := time.Now()
	msg, err := s.chain.Invoke(ctx, map[string]any{
		"context":  contextText,
		"question": question,
	})
	if err != nil {
		return "", &SynthesisError{Err: err}
	}
	text := ""
	if msg != nil {
		text = strings.TrimSpace(msg.Content)
	}
	if text == "" {
		return "", &SynthesisError{Err: ErrEmptyResponse}
	}

	logging.FromContext(ctx).Debug("synth: answer generated",
		slog.Int("chunks", len(chunks)),
		slog.Int("context_tokens", budget.Estimate(contextText)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return text, nil
}

// PromptTokens estimates the fixed part of the answer prompt for question.
func PromptTokens(question string) int {
	return budget.EstimateMessages([]*schema.Message{
		schema.SystemMessage(instruction),
		schema.UserMessage(answerTemplate + question),
	})
}
