// Package router – commands.go defines the explicit command table. Commands
// match before any classification: a matching prefix is authoritative and
// ends the pipeline, whatever the rest of the text looks like.
package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jholhewres/concierge/pkg/concierge/errs"
	"github.com/jholhewres/concierge/pkg/concierge/messaging"
)

// command is one entry in the router's command table.
type command struct {
	name   string
	match  func(text string) (args string, ok bool)
	handle func(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, args string) error
}

// prefixMatch builds a matcher for "<prefix> <args>" commands.
func prefixMatch(prefix string) func(string) (string, bool) {
	return func(text string) (string, bool) {
		if strings.EqualFold(text, prefix) {
			return "", true
		}
		if len(text) > len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) && text[len(prefix)] == ' ' {
			return strings.TrimSpace(text[len(prefix)+1:]), true
		}
		return "", false
	}
}

// exactMatch builds a matcher for argument-less commands.
func exactMatch(words ...string) func(string) (string, bool) {
	return func(text string) (string, bool) {
		for _, w := range words {
			if strings.EqualFold(strings.TrimSpace(text), w) {
				return "", true
			}
		}
		return "", false
	}
}

// buildCommands assembles the ordered command table.
func (r *Router) buildCommands() []command {
	return []command{
		{
			name: "relay",
			match: func(text string) (string, bool) {
				if strings.HasPrefix(text, "SEND_TO:") {
					return strings.TrimPrefix(text, "SEND_TO:"), true
				}
				return "", false
			},
			handle: r.cmdRelay,
		},
		{name: "reminders", match: prefixMatch("/reminders"), handle: r.cmdReminders},
		{name: "remind", match: prefixMatch("/remind"), handle: r.cmdRemind},
		{name: "broadcast", match: prefixMatch("/broadcast"), handle: r.cmdBroadcast},
		{name: "confirm", match: exactMatch("/confirm"), handle: r.cmdConfirm},
		{name: "cancel", match: exactMatch("/cancel"), handle: r.cmdCancel},
		{name: "addToGroup", match: prefixMatch("addToGroup"), handle: r.cmdAddToGroup},
		{name: "dm", match: exactMatch("dm me", "start dm"), handle: r.cmdDM},
		{name: "sidebar", match: prefixMatch("sidebar"), handle: r.cmdSidebar},
	}
}

// cmdRelay forwards a message to an arbitrary address. Restricted to the
// single configured relay identity.
func (r *Router) cmdRelay(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, args string) error {
	if r.cfg.RelayAddress == "" ||
		r.ids.Address(ctx, msg.SenderID) != strings.ToLower(strings.TrimSpace(r.cfg.RelayAddress)) {
		return &errs.AuthorizationError{Action: "relay messages"}
	}

	parts := strings.SplitN(args, ":", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return errs.Validation("usage: SEND_TO:<address>:<message>")
	}
	address, body := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	dm, err := r.transport.NewDM(ctx, address)
	if err != nil {
		return errs.NotFound("conversation with", address)
	}
	if err := dm.SendText(ctx, body); err != nil {
		return fmt.Errorf("relaying to %s: %w", address, err)
	}

	r.send(ctx, conv, "Relayed ✅")
	return nil
}

// cmdBroadcast stages a broadcast and shows the confirmation prompt.
func (r *Router) cmdBroadcast(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, args string) error {
	if !r.ids.IsAllowed(ctx, msg.SenderID, r.cfg.AdminAllowlist) {
		return &errs.AuthorizationError{Action: "broadcast"}
	}

	prompt, err := r.broadcasts.Preview(ctx, msg.SenderID, msg.ConversationID, args)
	if err != nil {
		return err
	}
	return conv.SendPrompt(ctx, prompt)
}

// cmdConfirm sends the sender's staged broadcast.
func (r *Router) cmdConfirm(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, _ string) error {
	summary, err := r.broadcasts.Confirm(ctx, msg.SenderID)
	if err != nil {
		return err
	}
	r.send(ctx, conv, summary.String())
	return nil
}

// cmdCancel discards the sender's staged broadcast.
func (r *Router) cmdCancel(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, _ string) error {
	if err := r.broadcasts.Cancel(msg.SenderID); err != nil {
		return err
	}
	r.send(ctx, conv, "Broadcast cancelled.")
	return nil
}

// cmdRemind schedules a reminder: /remind <time> | <message>.
func (r *Router) cmdRemind(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, args string) error {
	parts := strings.SplitN(args, "|", 2)
	if len(parts) != 2 {
		return errs.Validation("usage: /remind <time> | <message>\nExample: /remind 2026-09-01 18:00 | stretch before the run")
	}

	rem, err := r.reminders.Schedule(ctx, msg.SenderID, msg.ConversationID,
		strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	if err != nil {
		return err
	}

	r.send(ctx, conv, fmt.Sprintf("⏰ Reminder #%d set for %s.",
		rem.ID, rem.RemindAt.In(r.reminders.Zone()).Format("Mon Jan 2 15:04 MST")))
	return nil
}

// cmdReminders lists or cancels reminders:
// /reminders, /reminders cancel <id>, /reminders cancel all.
func (r *Router) cmdReminders(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, args string) error {
	fields := strings.Fields(args)

	switch {
	case len(fields) == 0:
		pending, err := r.reminders.ListPending(ctx, msg.SenderID)
		if err != nil {
			return fmt.Errorf("listing reminders: %w", err)
		}
		if len(pending) == 0 {
			r.send(ctx, conv, "You have no pending reminders.")
			return nil
		}
		var b strings.Builder
		b.WriteString("Your reminders:")
		for _, rem := range pending {
			fmt.Fprintf(&b, "\n#%d — %s — %s",
				rem.ID, rem.RemindAt.In(r.reminders.Zone()).Format("Mon Jan 2 15:04"), rem.Message)
		}
		r.send(ctx, conv, b.String())
		return nil

	case len(fields) == 2 && strings.EqualFold(fields[0], "cancel") && strings.EqualFold(fields[1], "all"):
		n, err := r.reminders.CancelAll(ctx, msg.SenderID)
		if err != nil {
			return fmt.Errorf("cancelling reminders: %w", err)
		}
		r.send(ctx, conv, fmt.Sprintf("Cancelled %d reminder(s).", n))
		return nil

	case len(fields) == 2 && strings.EqualFold(fields[0], "cancel"):
		id, err := strconv.ParseInt(strings.TrimPrefix(fields[1], "#"), 10, 64)
		if err != nil {
			return errs.Validation("usage: /reminders cancel <id>")
		}
		if err := r.reminders.Cancel(ctx, id, msg.SenderID); err != nil {
			return err
		}
		r.send(ctx, conv, fmt.Sprintf("Reminder #%d cancelled.", id))
		return nil

	default:
		return errs.Validation("usage: /reminders, /reminders cancel <id>, or /reminders cancel all")
	}
}

// cmdAddToGroup adds addresses to the current group. Group context and an
// allow-listed sender are both required.
func (r *Router) cmdAddToGroup(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, args string) error {
	if !msg.IsGroup {
		return errs.Validation("addToGroup only works inside a group chat")
	}
	if !r.ids.IsAllowed(ctx, msg.SenderID, r.cfg.AdminAllowlist) {
		return &errs.AuthorizationError{Action: "add members"}
	}

	addresses := strings.Fields(args)
	if len(addresses) == 0 {
		return errs.Validation("usage: addToGroup <address> [address...]")
	}

	added := 0
	var failures []string
	for _, addr := range addresses {
		if err := r.groups.AddMember(ctx, msg.ConversationID, addr); err != nil {
			if errs.IsTransient(err) {
				return err
			}
			r.logger.Warn("addToGroup failed", "address", addr, "error", err)
			failures = append(failures, addr)
			continue
		}
		added++
	}

	reply := fmt.Sprintf("Added %d member(s).", added)
	if len(failures) > 0 {
		reply += " Could not add: " + strings.Join(failures, ", ")
	}
	r.send(ctx, conv, reply)
	return nil
}

// cmdDM opens a direct conversation with the sender.
func (r *Router) cmdDM(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, _ string) error {
	addr := r.ids.Address(ctx, msg.SenderID)
	dm, err := r.transport.NewDM(ctx, addr)
	if err != nil {
		return fmt.Errorf("opening DM with %s: %w", addr, err)
	}
	if err := dm.SendText(ctx, "Here's our private chat! What can I do for you?"); err != nil {
		return fmt.Errorf("sending DM: %w", err)
	}
	if msg.IsGroup {
		r.send(ctx, conv, "Check your DMs 📬")
	}
	return nil
}

// cmdSidebar creates a sidebar group and posts the invitation into the
// originating conversation.
func (r *Router) cmdSidebar(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, args string) error {
	creatorName := r.ids.DisplayName(ctx, msg.SenderID)

	result, err := r.groups.CreateSidebar(ctx, args, msg.SenderID, creatorName)
	if err != nil {
		return err
	}
	return conv.SendPrompt(ctx, result.Invitation)
}
