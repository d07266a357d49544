package synth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Strategy names accepted by NewCombiner (SYNTH_STRATEGY).
const (
	StrategyStuff     = "stuff"
	StrategyMapReduce = "map_reduce"
)

// Combiner merges retrieved chunks into the single context string placed in
// the answer prompt.
type Combiner interface {
	Combine(ctx context.Context, question string, chunks []rag.ScoredChunk) (string, error)
}

// NewCombiner returns the Combiner for strategy. cm is only used by
// map_reduce.
func NewCombiner(ctx context.Context, strategy string, cm model.BaseChatModel, maxTokens int) (Combiner, error) {
	stuff := &StuffCombiner{MaxTokens: maxTokens}
	switch strategy {
	case "", StrategyStuff:
		return stuff, nil
	case StrategyMapReduce:
		return NewMapReduceCombiner(ctx, cm, stuff)
	default:
		return nil, fmt.Errorf("synth: unknown strategy %q: valid values are %s, %s", strategy, StrategyStuff, StrategyMapReduce)
	}
}

// StuffCombiner concatenates chunk texts in the order supplied, separated by
// a blank line. Lowest-ranked chunks are dropped first when the result would
// exceed MaxTokens.
type StuffCombiner struct {
	// MaxTokens is the prompt budget; 0 disables trimming.
	MaxTokens int
}

// Combine implements Combiner.
func (c *StuffCombiner) Combine(ctx context.Context, question string, chunks []rag.ScoredChunk) (string, error) {
	kept := budget.TrimChunks(PromptTokens(question), chunks, c.MaxTokens)
	if dropped := len(chunks) - len(kept); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped chunks to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(kept)),
			slog.Int("max_tokens", c.MaxTokens),
		)
	}

	texts := make([]string, len(kept))
	for i, ch := range kept {
		texts[i] = ch.Text
	}
	return strings.Join(texts, "\n\n"), nil
}

// noneMarker is the map step's reply for a chunk with nothing relevant.
const noneMarker = "NONE"

const mapInstruction = `Extract every passage of the context that is relevant to answering the question. Copy the passages verbatim. If nothing in the context is relevant, reply with exactly ` + noneMarker + `.`

const mapTemplate = "Context:\n{context}\n\nQuestion:\n{question}\n\nRelevant passages:"

// MapReduceCombiner asks the model to extract the relevant passages of each
// chunk, then stuffs the extracts. Chunks whose extract is NONE are dropped.
// It costs one model call per chunk but keeps long chunks from crowding the
// final prompt.
type MapReduceCombiner struct {
	mapChain compose.Runnable[map[string]any, *schema.Message]
	reduce   *StuffCombiner
}

// NewMapReduceCombiner compiles the map chain over cm.
func NewMapReduceCombiner(ctx context.Context, cm model.BaseChatModel, reduce *StuffCombiner) (*MapReduceCombiner, error) {
	if cm == nil {
		return nil, fmt.Errorf("synth: map_reduce requires a chat model")
	}
	chain, err := buildChain(ctx, cm, mapInstruction, mapTemplate)
	if err != nil {
		return nil, err
	}
	if reduce == nil {
		reduce = &StuffCombiner{}
	}
	return &MapReduceCombiner{mapChain: chain, reduce: reduce}, nil
}

// Combine implements Combiner.
func (c *MapReduceCombiner) Combine(ctx context.Context, question string, chunks []rag.ScoredChunk) (string, error) {
	extracts := make([]rag.ScoredChunk, 0, len(chunks))
	for _, ch := range chunks {
		msg, err := c.mapChain.Invoke(ctx, map[string]any{
			"context":  ch.Text,
			"question": question,
		})
		if err != nil {
			return "", fmt.Errorf("map step for chunk %d: %w", ch.Position, err)
		}
		text := ""
		if msg != nil {
			text = strings.TrimSpace(msg.Content)
		}
		if text == "" || strings.EqualFold(strings.Trim(text, ". "), noneMarker) {
			continue
		}
		ex := ch
		ex.Text = text
		extracts = append(extracts, ex)
	}
	logging.FromContext(ctx).Debug("synth: map step complete",
		slog.Int("chunks", len(chunks)),
		slog.Int("relevant", len(extracts)),
	)
	return c.reduce.Combine(ctx, question, extracts)
}
