// Package responder produces the general conversational replies: anything
// the router's commands and workflows did not claim ends up here. Replies
// are grounded in the static event content plus the sender's recent history.
package responder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jholhewres/concierge/pkg/concierge/content"
	"github.com/jholhewres/concierge/pkg/concierge/history"
	"github.com/jholhewres/concierge/pkg/concierge/llm"
)

// completer is the subset of the LLM client the responder needs.
type completer interface {
	Complete(ctx context.Context, systemPrompt string, hist []llm.Message, userMessage string) (string, error)
}

// Responder answers free-form messages with event context.
type Responder struct {
	llm     completer
	content *content.Provider
	memory  *history.Memory
	name    string
	logger  *slog.Logger
}

// New creates a responder.
func New(client completer, provider *content.Provider, memory *history.Memory, agentName string, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		llm:     client,
		content: provider,
		memory:  memory,
		name:    agentName,
		logger:  logger.With("component", "responder"),
	}
}

// Reply generates a response to a free-form message, using the sender's
// recent exchanges as conversational context.
func (r *Responder) Reply(ctx context.Context, senderID, message string) (string, error) {
	hist := r.historyMessages(senderID)

	reply, err := r.llm.Complete(ctx, r.systemPrompt(), hist, message)
	if err != nil {
		return "", fmt.Errorf("generating reply: %w", err)
	}
	return reply, nil
}

// Greeting generates a short greeting response.
func (r *Responder) Greeting(ctx context.Context, senderID, message string) (string, error) {
	prompt := r.systemPrompt() +
		"\n\nThe user is greeting you. Reply with a short, warm greeting and offer to help."
	reply, err := r.llm.Complete(ctx, prompt, nil, message)
	if err != nil {
		return "", fmt.Errorf("generating greeting: %w", err)
	}
	return reply, nil
}

// systemPrompt assembles the agent persona and event knowledge.
func (r *Responder) systemPrompt() string {
	return fmt.Sprintf(`You are %s, a friendly event concierge in a group messaging app.
Keep replies short and conversational; this is chat, not email.
Answer only from the information below. If you don't know, say so and point
the user to the welcome desk.

%s`, r.name, r.content.Context())
}

// historyMessages converts the sender's recent exchanges into chat turns.
func (r *Responder) historyMessages(senderID string) []llm.Message {
	entries := r.memory.Recent(senderID)
	if len(entries) == 0 {
		return nil
	}

	out := make([]llm.Message, 0, len(entries)*2)
	for _, e := range entries {
		out = append(out, llm.Message{Role: "user", Content: e.UserMessage})
		if e.AssistantResponse != "" {
			out = append(out, llm.Message{Role: "assistant", Content: e.AssistantResponse})
		}
	}
	return out
}
