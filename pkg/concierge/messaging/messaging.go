// Package messaging defines the interfaces and types for the concierge
// messaging transport. The transport itself (connection handling, encryption,
// delivery guarantees) is an external collaborator; each implementation
// (WhatsApp, Discord) adapts its platform to the Transport interface so the
// router can receive and send messages in a unified way.
package messaging

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies the kind of inbound payload.
type Kind string

const (
	// KindText is a plain text message.
	KindText Kind = "text"

	// KindSelectedOption carries the id of a previously offered
	// choice-prompt option.
	KindSelectedOption Kind = "selected_option"
)

// Incoming represents a message received from the transport.
type Incoming struct {
	// ID is the unique message identifier in the source platform.
	ID string

	// SenderID is the platform-opaque sender identity.
	SenderID string

	// ConversationID identifies the conversation (DM or group).
	ConversationID string

	// IsGroup indicates a multi-party conversation.
	IsGroup bool

	// Kind is the payload kind.
	Kind Kind

	// Content is the text content (KindText).
	Content string

	// OptionID is the selected option id (KindSelectedOption).
	OptionID string

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// OptionStyle is the visual style hint for a choice-prompt option.
type OptionStyle string

const (
	StylePrimary   OptionStyle = "primary"
	StyleSecondary OptionStyle = "secondary"
	StyleDanger    OptionStyle = "danger"
)

// ChoiceOption is one selectable option in a choice prompt.
type ChoiceOption struct {
	ID    string
	Label string
	Style OptionStyle
}

// ChoicePrompt is a structured outbound message offering a small set of
// labeled options instead of free text. The wire encoding is
// transport-defined; the router treats it as an opaque payload kind.
type ChoicePrompt struct {
	ID          string
	Description string
	Options     []ChoiceOption
}

// Conversation is a live handle to a DM or group conversation.
type Conversation interface {
	// ID returns the stable conversation identifier.
	ID() string

	// IsGroup reports whether this is a multi-party conversation.
	IsGroup() bool

	// Name returns the display name, if the platform has one.
	Name() string

	// SendText sends a plain text message.
	SendText(ctx context.Context, text string) error

	// SendPrompt sends a choice prompt in the transport's encoding.
	SendPrompt(ctx context.Context, prompt *ChoicePrompt) error

	// AddMembers adds the given member identities to a group conversation.
	AddMembers(ctx context.Context, memberIDs []string) error

	// PromoteAdmin grants admin rights to a group member.
	PromoteAdmin(ctx context.Context, memberID string) error

	// SetName updates the group display name.
	SetName(ctx context.Context, name string) error
}

// Transport is the messaging platform boundary.
type Transport interface {
	// Name returns the transport identifier (e.g. "whatsapp").
	Name() string

	// Connect establishes the platform connection.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection. The Messages channel is
	// closed once no more messages will be delivered.
	Disconnect() error

	// Messages returns the stream of incoming messages.
	Messages() <-chan *Incoming

	// ConversationByID resolves a conversation handle. Returns an error
	// wrapping ErrConversationNotFound for deleted/unknown conversations.
	ConversationByID(ctx context.Context, id string) (Conversation, error)

	// ListConversations enumerates all conversations known to the account.
	ListConversations(ctx context.Context) ([]Conversation, error)

	// CreateGroup creates a new group containing the given members.
	CreateGroup(ctx context.Context, name string, memberIDs []string) (Conversation, error)

	// NewDM opens (or returns) a direct conversation with an address.
	NewDM(ctx context.Context, address string) (Conversation, error)

	// ResolveAddress maps a sender identity to its underlying address.
	ResolveAddress(ctx context.Context, senderID string) (string, error)

	// ContactName returns a human-readable name for a sender identity,
	// or empty if the platform has none.
	ContactName(ctx context.Context, senderID string) (string, error)

	// SelfID returns the identity of the agent's own account, used to
	// skip our own messages.
	SelfID() string
}

// Errors shared across transport implementations.
var (
	ErrDisconnected         = fmt.Errorf("transport is not connected")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrAlreadyMember        = fmt.Errorf("already a member")
	ErrNotAGroup            = fmt.Errorf("conversation is not a group")
)
