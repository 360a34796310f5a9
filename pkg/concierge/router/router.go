// Package router receives every inbound message and decides what handles
// it: the command table, an activity keyword, the LLM classifiers, or the
// fallback responder. Selected options from choice prompts dispatch through
// a registry and never enter the text pipeline.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/jholhewres/concierge/pkg/concierge/broadcast"
	"github.com/jholhewres/concierge/pkg/concierge/errs"
	"github.com/jholhewres/concierge/pkg/concierge/groups"
	"github.com/jholhewres/concierge/pkg/concierge/history"
	"github.com/jholhewres/concierge/pkg/concierge/identity"
	"github.com/jholhewres/concierge/pkg/concierge/messaging"
	"github.com/jholhewres/concierge/pkg/concierge/reminder"
)

// apology is the single user-facing message for unexpected failures. Detail
// goes to the log, never to the chat.
const apology = "Sorry, something went wrong on my end. Please try again."

// conversations is the subset of the transport the router needs.
type conversations interface {
	ConversationByID(ctx context.Context, id string) (messaging.Conversation, error)
	NewDM(ctx context.Context, address string) (messaging.Conversation, error)
	SelfID() string
}

// classifier asks yes/no questions about a message.
type classifier interface {
	ClassifyYesNo(ctx context.Context, question, message string) (bool, error)
}

// replier produces free-form responses.
type replier interface {
	Reply(ctx context.Context, senderID, message string) (string, error)
	Greeting(ctx context.Context, senderID, message string) (string, error)
}

// Config holds the router's policy knobs.
type Config struct {
	// AgentName is used in the first-contact welcome.
	AgentName string

	// Aliases activate the agent in group conversations via @mention.
	Aliases []string

	// AdminAllowlist holds addresses authorized for broadcast and
	// addToGroup.
	AdminAllowlist []string

	// RelayAddress is the single identity allowed to use SEND_TO relay.
	RelayAddress string
}

// Router dispatches inbound messages.
type Router struct {
	cfg        Config
	transport  conversations
	ids        *identity.Resolver
	broadcasts *broadcast.Workflow
	groups     *groups.Workflow
	reminders  *reminder.Service
	responder  replier
	classify   classifier
	memory     *history.Memory
	logger     *slog.Logger

	// mentionRe matches any configured alias as an @mention.
	mentionRe *regexp.Regexp

	// seen tracks DM senders for the one-time welcome.
	seen   map[string]bool
	seenMu sync.Mutex

	commands []command
	options  *optionRegistry
	rules    []classifyRule
}

// New creates a router wired to its collaborators.
func New(
	cfg Config,
	transport conversations,
	ids *identity.Resolver,
	broadcasts *broadcast.Workflow,
	groupsWF *groups.Workflow,
	reminders *reminder.Service,
	resp replier,
	classify classifier,
	memory *history.Memory,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		cfg:        cfg,
		transport:  transport,
		ids:        ids,
		broadcasts: broadcasts,
		groups:     groupsWF,
		reminders:  reminders,
		responder:  resp,
		classify:   classify,
		memory:     memory,
		logger:     logger.With("component", "router"),
		mentionRe:  buildMentionRegexp(cfg.Aliases),
		seen:       make(map[string]bool),
	}
	r.commands = r.buildCommands()
	r.options = r.buildOptions()
	r.rules = r.buildRules()
	return r
}

// HandleMessage processes one inbound message. It never returns an error:
// every failure ends in either a mapped user-facing message or the generic
// apology, with detail logged.
func (r *Router) HandleMessage(ctx context.Context, msg *messaging.Incoming) {
	// Never react to our own traffic.
	if msg.SenderID == r.transport.SelfID() {
		return
	}

	conv, err := r.transport.ConversationByID(ctx, msg.ConversationID)
	if err != nil {
		r.logger.Error("resolving conversation",
			"conversation", msg.ConversationID, "error", err)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic handling message",
				"sender", msg.SenderID, "panic", rec)
			r.send(ctx, conv, apology)
		}
	}()

	if msg.Kind == messaging.KindSelectedOption {
		r.handleOption(ctx, conv, msg)
		return
	}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return
	}

	// Group messages require an @mention; everything else there is not
	// addressed to us and is dropped without a reply.
	if msg.IsGroup {
		stripped, mentioned := r.stripMention(text)
		if !mentioned {
			return
		}
		text = stripped
		if text == "" {
			r.send(ctx, conv, "Hi! How can I help?")
			return
		}
	} else {
		r.welcomeFirstContact(ctx, conv, msg.SenderID)
	}

	r.handleText(ctx, conv, msg, text)
}

// handleText runs the text pipeline: commands, activity keywords, LLM
// classifiers, then the fallback responder.
func (r *Router) handleText(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, text string) {
	// 1. Command table.
	for _, cmd := range r.commands {
		args, ok := cmd.match(text)
		if !ok {
			continue
		}
		r.logger.Debug("command matched", "command", cmd.name, "sender", msg.SenderID)
		if err := cmd.handle(ctx, conv, msg, args); err != nil {
			r.sendError(ctx, conv, cmd.name, err)
		}
		return
	}

	// 2. Activity keyword: a bare activity name offers the join prompt.
	if name := r.groups.NormalizeActivity(text); name != "" {
		if err := conv.SendPrompt(ctx, r.groups.JoinPrompt(name)); err != nil {
			r.logger.Error("sending join prompt", "error", err)
		}
		return
	}

	// 3. Ordered LLM classifiers; first yes wins.
	for _, rule := range r.rules {
		yes, err := r.classify.ClassifyYesNo(ctx, rule.question, text)
		if err != nil {
			// Classification is advisory; fall through to the responder.
			r.logger.Warn("classifier failed", "rule", rule.name, "error", err)
			break
		}
		if yes {
			r.logger.Debug("classified", "rule", rule.name, "sender", msg.SenderID)
			rule.handle(ctx, conv, msg, text)
			return
		}
	}

	// 4. Fallback responder.
	r.respond(ctx, conv, msg.SenderID, text)
}

// respond generates and sends a free-form reply, recording it in history.
func (r *Router) respond(ctx context.Context, conv messaging.Conversation, senderID, text string) {
	reply, err := r.responder.Reply(ctx, senderID, text)
	if err != nil {
		r.logger.Error("responder failed", "sender", senderID, "error", err)
		r.send(ctx, conv, apology)
		return
	}
	r.memory.Record(senderID, text, reply)
	r.send(ctx, conv, reply)
}

// welcomeFirstContact sends the one-time DM welcome. Best-effort; the
// message that triggered it is still processed.
func (r *Router) welcomeFirstContact(ctx context.Context, conv messaging.Conversation, senderID string) {
	r.seenMu.Lock()
	if r.seen[senderID] {
		r.seenMu.Unlock()
		return
	}
	r.seen[senderID] = true
	r.seenMu.Unlock()

	welcome := fmt.Sprintf("👋 Hi, I'm %s! Ask me about the schedule, set reminders, or say an activity name to join its group chat.",
		r.cfg.AgentName)
	r.send(ctx, conv, welcome)
}

// send delivers text, logging failures.
func (r *Router) send(ctx context.Context, conv messaging.Conversation, text string) {
	if err := conv.SendText(ctx, text); err != nil {
		r.logger.Error("sending reply", "conversation", conv.ID(), "error", err)
	}
}

// sendError maps a workflow error to its user-facing message.
func (r *Router) sendError(ctx context.Context, conv messaging.Conversation, op string, err error) {
	switch {
	case errs.IsValidation(err):
		r.send(ctx, conv, err.Error())
	case errs.IsAuthorization(err):
		r.send(ctx, conv, "Sorry, you're not authorized to do that.")
	case errs.IsNotFound(err):
		r.send(ctx, conv, notFoundMessage(err))
	case errs.IsTransient(err):
		r.logger.Warn("transient failure", "op", op, "error", err)
		r.send(ctx, conv, "The platform is still syncing keys for that account. Please try again in a few minutes.")
	default:
		r.logger.Error("operation failed", "op", op, "error", err)
		r.send(ctx, conv, apology)
	}
}

// notFoundMessage renders a NotFoundError for the user.
func notFoundMessage(err error) string {
	var nf *errs.NotFoundError
	if errors.As(err, &nf) {
		switch nf.What {
		case "pending broadcast":
			return "There's no broadcast waiting for confirmation. Start one with /broadcast <message>."
		case "reminder":
			return fmt.Sprintf("I couldn't find reminder %s in your pending list.", nf.Key)
		case "group", "activity group":
			return "I couldn't find that group."
		}
	}
	return "I couldn't find that."
}

// stripMention checks for an @alias mention and removes it.
func (r *Router) stripMention(text string) (string, bool) {
	if r.mentionRe == nil {
		return text, false
	}
	loc := r.mentionRe.FindStringIndex(text)
	if loc == nil {
		return text, false
	}
	stripped := text[:loc[0]] + text[loc[1]:]
	return strings.TrimSpace(stripped), true
}

// buildMentionRegexp compiles a case-insensitive word-boundary matcher over
// the alias list. Nil when no aliases are configured.
func buildMentionRegexp(aliases []string) *regexp.Regexp {
	var quoted []string
	for _, a := range aliases {
		a = strings.TrimSpace(strings.TrimPrefix(a, "@"))
		if a != "" {
			quoted = append(quoted, regexp.QuoteMeta(a))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)@(` + strings.Join(quoted, "|") + `)\b`)
}
