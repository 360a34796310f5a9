// Package reminder – dispatcher.go delivers due reminders. Each tick claims
// rows before sending (mark-then-send): a crash between claim and send loses
// at most that delivery, and a cancel racing a tick can never cause a
// delivered-then-deleted reminder.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/concierge/pkg/concierge/messaging"
)

// sender is the subset of the transport the dispatcher needs.
type sender interface {
	ConversationByID(ctx context.Context, id string) (messaging.Conversation, error)
}

// Dispatcher periodically delivers due reminders.
type Dispatcher struct {
	store     Store
	transport sender
	logger    *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewDispatcher creates a dispatcher over the given store and transport.
func NewDispatcher(store Store, transport sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     store,
		transport: transport,
		logger:    logger.With("component", "reminder-dispatcher"),
		now:       time.Now,
	}
}

// Tick claims and delivers every due reminder. Intended to run on the app
// scheduler; safe to call concurrently because claims are atomic.
func (d *Dispatcher) Tick(ctx context.Context) {
	due, err := d.store.Due(ctx, d.now())
	if err != nil {
		d.logger.Error("querying due reminders", "error", err)
		return
	}

	for _, r := range due {
		if err := d.deliver(ctx, r); err != nil {
			d.logger.Error("delivering reminder",
				"id", r.ID, "sender", r.SenderID, "error", err)
		}
	}
}

// deliver claims one reminder and sends it to its conversation.
func (d *Dispatcher) deliver(ctx context.Context, r *Reminder) error {
	// Rows from before conversation tracking cannot be routed anywhere.
	if r.ConversationID == LegacyConversation || r.ConversationID == "" {
		d.logger.Warn("skipping legacy reminder without conversation", "id", r.ID)
		if _, err := d.store.Claim(ctx, r.ID); err != nil {
			return err
		}
		return nil
	}

	claimed, err := d.store.Claim(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("claiming: %w", err)
	}
	if !claimed {
		// Cancelled or taken by a concurrent tick.
		return nil
	}

	conv, err := d.transport.ConversationByID(ctx, r.ConversationID)
	if err != nil {
		if errors.Is(err, messaging.ErrConversationNotFound) {
			// The conversation is gone; retrying cannot help. Leave the
			// reminder claimed so it does not loop forever.
			d.logger.Warn("reminder conversation no longer exists",
				"id", r.ID, "conversation", r.ConversationID)
			return nil
		}
		// Transient resolution failure: requeue for the next tick.
		if reqErr := d.store.Requeue(ctx, r.ID); reqErr != nil {
			return fmt.Errorf("requeue after resolve failure: %w", reqErr)
		}
		return fmt.Errorf("resolving conversation: %w", err)
	}

	if err := conv.SendText(ctx, "⏰ Reminder: "+r.Message); err != nil {
		if reqErr := d.store.Requeue(ctx, r.ID); reqErr != nil {
			return fmt.Errorf("requeue after send failure: %w", reqErr)
		}
		return fmt.Errorf("sending: %w", err)
	}

	d.logger.Info("reminder delivered", "id", r.ID, "sender", r.SenderID)
	return nil
}
