// Package router – options.go dispatches selected options from choice
// prompts. Options are routed by id through this registry only; they never
// fall through to the text pipeline.
package router

import (
	"context"
	"strings"

	"github.com/jholhewres/concierge/pkg/concierge/broadcast"
	"github.com/jholhewres/concierge/pkg/concierge/groups"
	"github.com/jholhewres/concierge/pkg/concierge/messaging"
)

// optionHandler reacts to one selected option. arg carries the dynamic
// suffix for prefix-registered handlers, empty otherwise.
type optionHandler func(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, arg string) error

// optionRegistry maps option ids to handlers. Exact ids win over prefixes;
// prefixes serve dynamically generated ids like join_sidebar_<group>.
type optionRegistry struct {
	exact    map[string]optionHandler
	prefixes []prefixEntry
}

type prefixEntry struct {
	prefix  string
	handler optionHandler
}

func (reg *optionRegistry) lookup(id string) (optionHandler, string, bool) {
	if h, ok := reg.exact[id]; ok {
		return h, "", true
	}
	for _, p := range reg.prefixes {
		if strings.HasPrefix(id, p.prefix) {
			return p.handler, strings.TrimPrefix(id, p.prefix), true
		}
	}
	return nil, "", false
}

// buildOptions assembles the option registry.
func (r *Router) buildOptions() *optionRegistry {
	reg := &optionRegistry{exact: make(map[string]optionHandler)}

	reg.exact[broadcast.OptionYes] = func(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, _ string) error {
		summary, err := r.broadcasts.Confirm(ctx, msg.SenderID)
		if err != nil {
			return err
		}
		r.send(ctx, conv, summary.String())
		return nil
	}

	reg.exact[broadcast.OptionNo] = func(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, _ string) error {
		if err := r.broadcasts.Cancel(msg.SenderID); err != nil {
			return err
		}
		r.send(ctx, conv, "Broadcast cancelled.")
		return nil
	}

	reg.exact[groups.OptionNoJoin] = func(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, _ string) error {
		r.send(ctx, conv, "No problem! Say an activity name any time to join its group.")
		return nil
	}

	// Sidebar invitations carry the group id in the option id. The
	// sidebar prefixes must be registered before the generic join_
	// prefix, which would otherwise shadow them.
	reg.prefixes = append(reg.prefixes,
		prefixEntry{groups.JoinSidebarPrefix, func(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, groupID string) error {
			reply, err := r.groups.AcceptInvitation(ctx, groupID, msg.SenderID)
			if err != nil {
				return err
			}
			r.send(ctx, conv, reply)
			return nil
		}},
		prefixEntry{groups.DeclineSidebarPrefix, func(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, _ string) error {
			r.send(ctx, conv, r.groups.DeclineInvitation())
			return nil
		}},
		prefixEntry{groups.JoinPrefix, func(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming, name string) error {
			reply, err := r.groups.JoinActivity(ctx, name, msg.SenderID)
			if err != nil {
				return err
			}
			r.send(ctx, conv, reply)
			return nil
		}},
	)

	return reg
}

// handleOption dispatches one selected option through the registry.
func (r *Router) handleOption(ctx context.Context, conv messaging.Conversation, msg *messaging.Incoming) {
	handler, arg, ok := r.options.lookup(msg.OptionID)
	if !ok {
		r.logger.Warn("unknown option selected",
			"option", msg.OptionID, "sender", msg.SenderID)
		return
	}

	if err := handler(ctx, conv, msg, arg); err != nil {
		r.sendError(ctx, conv, "option "+msg.OptionID, err)
	}
}
