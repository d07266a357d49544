// Package synthtest provides a scripted chat model for tests of packages
// that synthesise answers.
package synthtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel is a model.BaseChatModel whose replies come from Reply. It
// records every prompt it receives.
type ChatModel struct {
	// Reply computes the answer from the rendered messages. Nil replies with
	// the last message's content.
	Reply func(msgs []*schema.Message) (string, error)

	// Delay holds each reply back; a context that ends first wins.
	Delay time.Duration

	mu    sync.Mutex
	calls [][]*schema.Message
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// Generate implements model.BaseChatModel.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, input)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply := func(msgs []*schema.Message) (string, error) { return msgs[len(msgs)-1].Content, nil }
	if m.Reply != nil {
		reply = m.Reply
	}
	text, err := reply(input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream is not supported.
func (m *ChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("synthtest: streaming not supported")
}

// Calls returns the number of Generate calls.
func (m *ChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastPrompt returns the concatenated content of the most recent prompt.
func (m *ChatModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, msg := range m.calls[len(m.calls)-1] {
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ContextSection returns the text between "Context:" and "Question:" in the
// user message of msgs.
func ContextSection(msgs []*schema.Message) string {
	user := msgs[len(msgs)-1].Content
	start := strings.Index(user, "Context:\n")
	end := strings.LastIndex(user, "\n\nQuestion:")
	if start < 0 || end < start {
		return ""
	}
	return user[start+len("Context:\n") : end]
}

// Grounded returns a Reply that answers with the first context line
// containing any of keywords, or with fallback when none does. It mimics a
// model that follows the "answer only from context" instruction.
func Grounded(fallback string, keywords ...string) func([]*schema.Message) (string, error) {
	return func(msgs []*schema.Message) (string, error) {
		for _, line := range strings.Split(ContextSection(msgs), "\n") {
			for _, kw := range keywords {
				if strings.Contains(line, kw) {
					return strings.TrimSpace(line), nil
				}
			}
		}
		return fallback, nil
	}
}
