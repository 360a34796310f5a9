// Package groups implements group membership workflows: joining the fixed
// activity groups and creating ad-hoc sidebar groups with invitations.
package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jholhewres/concierge/pkg/concierge/errs"
	"github.com/jholhewres/concierge/pkg/concierge/messaging"
)

// Option id prefixes for dynamic sidebar invitations, and the fixed ids for
// activity join prompts.
const (
	JoinPrefix           = "join_"
	JoinSidebarPrefix    = "join_sidebar_"
	DeclineSidebarPrefix = "decline_sidebar_"
	OptionNoJoin         = "no_group_join"
)

// Activity describes one fixed activity group.
type Activity struct {
	GroupID string
	Label   string
}

// transport is the subset of messaging.Transport the workflow needs.
type transport interface {
	ConversationByID(ctx context.Context, id string) (messaging.Conversation, error)
	CreateGroup(ctx context.Context, name string, memberIDs []string) (messaging.Conversation, error)
}

// Workflow manages activity and sidebar group membership.
type Workflow struct {
	transport  transport
	activities map[string]Activity
	logger     *slog.Logger
}

// New creates a groups workflow over the configured activity map.
func New(t transport, activities map[string]Activity, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		transport:  t,
		activities: activities,
		logger:     logger.With("component", "groups"),
	}
}

// NormalizeActivity maps user phrasing to a configured activity name.
// Returns empty if the word is not an activity.
func (w *Workflow) NormalizeActivity(word string) string {
	name := strings.ToLower(strings.TrimSpace(word))
	// Common synonym.
	if name == "hiking" {
		name = "hike"
	}
	if _, ok := w.activities[name]; ok {
		return name
	}
	return ""
}

// Activities returns the configured activity names, sorted.
func (w *Workflow) Activities() []string {
	names := make([]string, 0, len(w.activities))
	for name := range w.activities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JoinPrompt builds the choice prompt offering membership in one activity
// group (or all of them when name is empty).
func (w *Workflow) JoinPrompt(name string) *messaging.ChoicePrompt {
	prompt := &messaging.ChoicePrompt{
		ID:          uuid.NewString(),
		Description: "Want me to add you to a group chat?",
	}

	if name != "" {
		act := w.activities[name]
		prompt.Options = append(prompt.Options, messaging.ChoiceOption{
			ID:    JoinPrefix + name,
			Label: act.Label,
			Style: messaging.StylePrimary,
		})
	} else {
		for _, n := range w.Activities() {
			prompt.Options = append(prompt.Options, messaging.ChoiceOption{
				ID:    JoinPrefix + n,
				Label: w.activities[n].Label,
				Style: messaging.StylePrimary,
			})
		}
	}

	prompt.Options = append(prompt.Options, messaging.ChoiceOption{
		ID:    OptionNoJoin,
		Label: "No thanks",
		Style: messaging.StyleSecondary,
	})
	return prompt
}

// JoinActivity adds the sender to an activity group and returns the
// user-facing confirmation.
func (w *Workflow) JoinActivity(ctx context.Context, name, memberID string) (string, error) {
	act, ok := w.activities[name]
	if !ok {
		return "", errs.NotFound("activity group", name)
	}

	if err := w.AddMember(ctx, act.GroupID, memberID); err != nil {
		return "", err
	}
	return fmt.Sprintf("You're in! Added you to %s.", act.Label), nil
}

// AddMember adds one identity to a group. Already being a member counts as
// success. Failures carrying the installation-verification signature are
// classified transient so callers can suggest a retry.
func (w *Workflow) AddMember(ctx context.Context, groupID, memberID string) error {
	conv, err := w.transport.ConversationByID(ctx, groupID)
	if err != nil {
		return errs.NotFound("group", groupID)
	}
	if !conv.IsGroup() {
		return errs.NotFound("group", groupID)
	}

	err = conv.AddMembers(ctx, []string{memberID})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, messaging.ErrAlreadyMember):
		// Idempotent: the desired state already holds.
		return nil
	case isTransientSignature(err):
		return &errs.TransientError{Cause: err}
	default:
		return fmt.Errorf("adding %s to group %s: %w", memberID, groupID, err)
	}
}

// isTransientSignature recognizes failures caused by key-propagation delay
// on the platform. These resolve on their own within minutes.
func isTransientSignature(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "failed to verify all installations") ||
		strings.Contains(msg, "installation")
}

// SidebarResult reports a created sidebar group.
type SidebarResult struct {
	Group      messaging.Conversation
	Invitation *messaging.ChoicePrompt
}

// CreateSidebar creates a named group containing the creator, promotes them
// to admin (best-effort), posts a welcome message, and returns the
// invitation prompt to post back into the originating conversation.
func (w *Workflow) CreateSidebar(ctx context.Context, name, creatorID string, creatorName string) (*SidebarResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Validation("sidebar name cannot be empty. Usage: sidebar <name>")
	}

	group, err := w.transport.CreateGroup(ctx, name, []string{creatorID})
	if err != nil {
		if isTransientSignature(err) {
			return nil, &errs.TransientError{Cause: err}
		}
		return nil, fmt.Errorf("creating sidebar group: %w", err)
	}

	if err := group.SetName(ctx, name); err != nil {
		w.logger.Warn("setting sidebar name failed", "group", group.ID(), "error", err)
	}

	// Creator admin rights are a courtesy, not a requirement.
	if err := group.PromoteAdmin(ctx, creatorID); err != nil {
		w.logger.Warn("promoting sidebar creator failed",
			"group", group.ID(), "creator", creatorID, "error", err)
	}

	welcome := fmt.Sprintf("👋 Welcome to %q! %s started this sidebar. Invite others from the original chat.",
		name, creatorName)
	if err := group.SendText(ctx, welcome); err != nil {
		w.logger.Warn("sidebar welcome message failed", "group", group.ID(), "error", err)
	}

	w.logger.Info("sidebar created", "group", group.ID(), "name", name, "creator", creatorID)

	return &SidebarResult{
		Group: group,
		Invitation: &messaging.ChoicePrompt{
			ID: uuid.NewString(),
			Description: fmt.Sprintf("%s started a sidebar: %q. Want in?",
				creatorName, name),
			Options: []messaging.ChoiceOption{
				{ID: JoinSidebarPrefix + group.ID(), Label: "Join", Style: messaging.StylePrimary},
				{ID: DeclineSidebarPrefix + group.ID(), Label: "No thanks", Style: messaging.StyleSecondary},
			},
		},
	}, nil
}

// AcceptInvitation adds the sender to the sidebar group they accepted.
func (w *Workflow) AcceptInvitation(ctx context.Context, groupID, memberID string) (string, error) {
	if err := w.AddMember(ctx, groupID, memberID); err != nil {
		return "", err
	}
	return "Added you to the sidebar. See you there!", nil
}

// DeclineInvitation acknowledges a declined invitation. Nothing to tear
// down; the invitation carries no state.
func (w *Workflow) DeclineInvitation() string {
	return "No problem, you can always join later."
}
