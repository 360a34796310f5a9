// Package router – classify.go holds the ordered LLM classification rules.
// Each rule is one yes/no question; the first yes decides the branch. Order
// is policy: greetings are checked before questions so "hey, quick question"
// still gets a greeting, and group-join intent comes last because it is the
// broadest.
package router

import (
	"context"

	"github.com/jholhewres/concierge/pkg/concierge/messaging"
)

// classifyRule pairs a yes/no question with the branch it selects.
type classifyRule struct {
	name     string
	question string
	handle   func(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, text string)
}

// buildRules assembles the ordered classification rules.
func (r *Router) buildRules() []classifyRule {
	return []classifyRule{
		{
			name:     "greeting",
			question: "Is this message a simple greeting or hello with no other request?",
			handle: func(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, text string) {
				reply, err := r.responder.Greeting(ctx, msg.SenderID, text)
				if err != nil {
					r.logger.Error("greeting failed", "error", err)
					r.send(ctx, conv, apology)
					return
				}
				r.memory.Record(msg.SenderID, text, reply)
				r.send(ctx, conv, reply)
			},
		},
		{
			name:     "question",
			question: "Is this message a question asking for information?",
			handle: func(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, text string) {
				r.respond(ctx, conv, msg.SenderID, text)
			},
		},
		{
			name:     "group-join",
			question: "Is this message expressing interest in joining a group, activity, or community?",
			handle: func(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, text string) {
				if err := conv.SendPrompt(ctx, r.groups.JoinPrompt("")); err != nil {
					r.logger.Error("sending join prompt", "error", err)
				}
			},
		},
	}
}
