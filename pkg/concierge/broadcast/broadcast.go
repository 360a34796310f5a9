// Package broadcast implements the staged announcement workflow: a sender
// previews a message, confirms or cancels it, and on confirmation the agent
// fans it out to every known conversation. Each sender holds at most one
// pending broadcast; a new preview replaces the old one.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/concierge/pkg/concierge/errs"
	"github.com/jholhewres/concierge/pkg/concierge/messaging"
)

// Option ids used in the confirmation prompt.
const (
	OptionYes = "broadcast_yes"
	OptionNo  = "broadcast_no"
)

// lister is the subset of the transport the workflow needs.
type lister interface {
	ListConversations(ctx context.Context) ([]messaging.Conversation, error)
}

// namer resolves sender display names for the "Sent by" attribution.
type namer interface {
	DisplayName(ctx context.Context, senderID string) string
}

// Summary reports the outcome of a fan-out.
type Summary struct {
	Delivered int
	Failed    int
	Total     int
}

func (s Summary) String() string {
	return fmt.Sprintf("✅ Broadcast sent to %d of %d conversations (%d failed)",
		s.Delivered, s.Total, s.Failed)
}

// pending is a staged broadcast awaiting confirmation.
type pending struct {
	message  string
	originID string
	stagedAt time.Time
}

// Workflow manages staged broadcasts.
type Workflow struct {
	transport lister
	names     namer
	logger    *slog.Logger

	// includeGroups extends the fan-out to group conversations.
	includeGroups bool

	// sendDelay is the pause between consecutive sends.
	sendDelay time.Duration

	mu      sync.Mutex
	pending map[string]*pending
}

// New creates a broadcast workflow.
func New(transport lister, names namer, includeGroups bool, sendDelay time.Duration, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	if sendDelay <= 0 {
		sendDelay = 100 * time.Millisecond
	}
	return &Workflow{
		transport:     transport,
		names:         names,
		logger:        logger.With("component", "broadcast"),
		includeGroups: includeGroups,
		sendDelay:     sendDelay,
		pending:       make(map[string]*pending),
	}
}

// Preview stages a broadcast and returns the confirmation prompt showing the
// exact message that would go out. Replaces any earlier staged broadcast
// from the same sender.
func (w *Workflow) Preview(ctx context.Context, senderID, originConversationID, message string) (*messaging.ChoicePrompt, error) {
	if message == "" {
		return nil, errs.Validation("broadcast message cannot be empty. Usage: /broadcast <message>")
	}

	w.mu.Lock()
	w.pending[senderID] = &pending{
		message:  message,
		originID: originConversationID,
		stagedAt: time.Now(),
	}
	w.mu.Unlock()

	body := w.format(ctx, senderID, message)
	return &messaging.ChoicePrompt{
		ID:          "broadcast_confirm",
		Description: "You are about to send this broadcast:\n\n" + body + "\n\nSend it?",
		Options: []messaging.ChoiceOption{
			{ID: OptionYes, Label: "Send broadcast", Style: messaging.StylePrimary},
			{ID: OptionNo, Label: "Cancel", Style: messaging.StyleDanger},
		},
	}, nil
}

// Confirm sends the sender's staged broadcast to every eligible
// conversation and clears the slot. The origin conversation is skipped
// (the sender gets the summary there instead), as are groups unless
// configured otherwise.
func (w *Workflow) Confirm(ctx context.Context, senderID string) (*Summary, error) {
	w.mu.Lock()
	p, ok := w.pending[senderID]
	delete(w.pending, senderID)
	w.mu.Unlock()

	if !ok {
		return nil, errs.NotFound("pending broadcast", "")
	}

	conversations, err := w.transport.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	body := w.format(ctx, senderID, p.message)
	summary := &Summary{}

	for _, conv := range conversations {
		if conv.ID() == p.originID {
			continue
		}
		if conv.IsGroup() && !w.includeGroups {
			continue
		}

		summary.Total++
		if err := conv.SendText(ctx, body); err != nil {
			summary.Failed++
			w.logger.Warn("broadcast send failed",
				"conversation", conv.ID(), "error", err)
		} else {
			summary.Delivered++
		}

		// Pace sends to avoid platform rate limits.
		select {
		case <-time.After(w.sendDelay):
		case <-ctx.Done():
			return summary, ctx.Err()
		}
	}

	w.logger.Info("broadcast complete",
		"sender", senderID,
		"delivered", summary.Delivered,
		"failed", summary.Failed,
		"total", summary.Total)
	return summary, nil
}

// Cancel discards the sender's staged broadcast.
func (w *Workflow) Cancel(senderID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pending[senderID]; !ok {
		return errs.NotFound("pending broadcast", "")
	}
	delete(w.pending, senderID)
	return nil
}

// HasPending reports whether the sender has a staged broadcast.
func (w *Workflow) HasPending(senderID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[senderID]
	return ok
}

// format builds the announcement body with sender attribution.
func (w *Workflow) format(ctx context.Context, senderID, message string) string {
	name := w.names.DisplayName(ctx, senderID)
	return fmt.Sprintf("📢 Announcement:\n\n%s\n\nSent by: %s", message, name)
}
