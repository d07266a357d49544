// Package budget provides token budget estimation and context trimming for
// answer synthesis. Because docqa supports multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/rag"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input budget in tokens. Four
	// default-sized chunks (10,000 characters each) plus the instruction fit
	// with room to spare. Override with CONTEXT_MAX_TOKENS.
	DefaultMaxContextTokens = 32000

	// chunkSeparatorTokens accounts for the blank line placed between chunks.
	chunkSeparatorTokens = 1
)

// Estimate returns a rough token count for s using the character heuristic.
// It counts runes, not bytes, so non-Latin text is not over-counted.
func Estimate(s string) int {
	r := len([]rune(s))
	n := r / charsPerToken
	if n == 0 && r > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimChunks drops the lowest-ranked chunks until fixedTokens plus the
// estimated size of the remaining chunks fits within maxTokens. chunks must
// be ordered best first. The top chunk is always kept, even when it alone
// exceeds the budget, so a non-empty retrieval never becomes an empty
// context. maxTokens <= 0 disables trimming.
func TrimChunks(fixedTokens int, chunks []rag.ScoredChunk, maxTokens int) []rag.ScoredChunk {
	if maxTokens <= 0 || len(chunks) <= 1 {
		return chunks
	}

	used := fixedTokens
	for i, c := range chunks {
		used += Estimate(c.Text) + chunkSeparatorTokens
		if i > 0 && used > maxTokens {
			return chunks[:i]
		}
	}
	return chunks
}
