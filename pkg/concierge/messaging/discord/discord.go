// Package discord implements the concierge messaging transport for Discord
// using discordgo.
//
// Features:
//   - Send/receive text in guild channels and DMs
//   - Choice prompts as native button components; clicks arrive as
//     interactions and surface as selected options
//   - Group operations mapped to guild channels (create, invite via
//     permission overwrites, rename)
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/concierge/pkg/concierge/messaging"
)

// Config holds Discord transport configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// GuildID is the guild (server) the agent operates in. Group
	// conversations are text channels of this guild.
	GuildID string `yaml:"guild_id"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{}
}

// Discord implements the messaging.Transport interface.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages is the channel for incoming messages.
	messages chan *messaging.Incoming

	// connected tracks connection state.
	connected atomic.Bool

	// messagesClosed prevents sending to a closed channel on shutdown.
	messagesClosed atomic.Bool

	// dmChannels caches user id → DM channel id.
	dmChannels   map[string]string
	dmChannelsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Discord transport instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord"),
		messages:   make(chan *messaging.Incoming, 256),
		dmChannels: make(map[string]string),
	}
}

// ---------- Transport Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)

	if d.messagesClosed.CompareAndSwap(false, true) {
		close(d.messages)
	}

	d.logger.Info("disconnected")
	return nil
}

// Messages returns the incoming messages channel.
func (d *Discord) Messages() <-chan *messaging.Incoming {
	return d.messages
}

// SelfID returns the bot's own user id.
func (d *Discord) SelfID() string {
	if d.session != nil && d.session.State.User != nil {
		return d.session.State.User.ID
	}
	return ""
}

// ConversationByID resolves a conversation handle from a channel id.
func (d *Discord) ConversationByID(ctx context.Context, id string) (messaging.Conversation, error) {
	if d.session == nil {
		return nil, messaging.ErrDisconnected
	}
	ch, err := d.session.Channel(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", messaging.ErrConversationNotFound, err)
	}
	return d.wrapChannel(ch), nil
}

// ListConversations enumerates the guild's text channels plus known DMs.
func (d *Discord) ListConversations(ctx context.Context) ([]messaging.Conversation, error) {
	if d.session == nil {
		return nil, messaging.ErrDisconnected
	}

	var out []messaging.Conversation

	if d.cfg.GuildID != "" {
		channels, err := d.session.GuildChannels(d.cfg.GuildID)
		if err != nil {
			return nil, fmt.Errorf("discord: listing guild channels: %w", err)
		}
		for _, ch := range channels {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			out = append(out, d.wrapChannel(ch))
		}
	}

	d.dmChannelsMu.Lock()
	for _, chID := range d.dmChannels {
		out = append(out, &conversation{t: d, id: chID})
	}
	d.dmChannelsMu.Unlock()

	return out, nil
}

// CreateGroup creates a text channel in the configured guild and grants the
// given members access via permission overwrites.
func (d *Discord) CreateGroup(ctx context.Context, name string, memberIDs []string) (messaging.Conversation, error) {
	if d.session == nil {
		return nil, messaging.ErrDisconnected
	}
	if d.cfg.GuildID == "" {
		return nil, fmt.Errorf("discord: guild_id is required for group creation")
	}

	ch, err := d.session.GuildChannelCreate(d.cfg.GuildID, name, discordgo.ChannelTypeGuildText)
	if err != nil {
		return nil, fmt.Errorf("discord: creating channel: %w", err)
	}

	conv := &conversation{t: d, id: ch.ID, isGroup: true, name: ch.Name}
	if len(memberIDs) > 0 {
		if err := conv.AddMembers(ctx, memberIDs); err != nil {
			return nil, err
		}
	}

	d.logger.Info("channel created", "id", ch.ID, "name", name)
	return conv, nil
}

// NewDM opens (or returns) a direct message channel with a user.
func (d *Discord) NewDM(ctx context.Context, address string) (messaging.Conversation, error) {
	if d.session == nil {
		return nil, messaging.ErrDisconnected
	}

	d.dmChannelsMu.Lock()
	if chID, ok := d.dmChannels[address]; ok {
		d.dmChannelsMu.Unlock()
		return &conversation{t: d, id: chID}, nil
	}
	d.dmChannelsMu.Unlock()

	ch, err := d.session.UserChannelCreate(address)
	if err != nil {
		return nil, fmt.Errorf("discord: opening DM: %w", err)
	}

	d.dmChannelsMu.Lock()
	d.dmChannels[address] = ch.ID
	d.dmChannelsMu.Unlock()

	return &conversation{t: d, id: ch.ID}, nil
}

// ResolveAddress is the identity itself on Discord (user ids are stable).
func (d *Discord) ResolveAddress(ctx context.Context, senderID string) (string, error) {
	return senderID, nil
}

// ContactName returns the username for a user id, or empty.
func (d *Discord) ContactName(ctx context.Context, senderID string) (string, error) {
	if d.session == nil {
		return "", messaging.ErrDisconnected
	}
	user, err := d.session.User(senderID)
	if err != nil {
		return "", nil
	}
	if user.GlobalName != "" {
		return user.GlobalName, nil
	}
	return user.Username, nil
}

// ---------- Conversation ----------

// conversation is a live handle to a Discord channel.
type conversation struct {
	t       *Discord
	id      string
	isGroup bool
	name    string
}

func (c *conversation) ID() string    { return c.id }
func (c *conversation) IsGroup() bool { return c.isGroup }
func (c *conversation) Name() string  { return c.name }

// SendText sends a text message, splitting at Discord's 2000 char limit.
func (c *conversation) SendText(ctx context.Context, text string) error {
	if c.t.session == nil {
		return messaging.ErrDisconnected
	}
	for _, chunk := range splitMessage(text, 2000) {
		if _, err := c.t.session.ChannelMessageSend(c.id, chunk); err != nil {
			return fmt.Errorf("discord: sending message: %w", err)
		}
	}
	return nil
}

// SendPrompt sends a choice prompt as a message with button components.
// Button custom ids carry the option ids back through interactions.
func (c *conversation) SendPrompt(ctx context.Context, prompt *messaging.ChoicePrompt) error {
	if c.t.session == nil {
		return messaging.ErrDisconnected
	}

	buttons := make([]discordgo.MessageComponent, 0, len(prompt.Options))
	for _, opt := range prompt.Options {
		buttons = append(buttons, discordgo.Button{
			Label:    opt.Label,
			Style:    buttonStyle(opt.Style),
			CustomID: opt.ID,
		})
	}

	_, err := c.t.session.ChannelMessageSendComplex(c.id, &discordgo.MessageSend{
		Content: prompt.Description,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: buttons},
		},
	})
	if err != nil {
		return fmt.Errorf("discord: sending prompt: %w", err)
	}
	return nil
}

// AddMembers grants the given users access to the channel.
func (c *conversation) AddMembers(ctx context.Context, memberIDs []string) error {
	if !c.isGroup {
		return messaging.ErrNotAGroup
	}
	allow := discordgo.PermissionViewChannel | discordgo.PermissionSendMessages
	for _, id := range memberIDs {
		err := c.t.session.ChannelPermissionSet(c.id, id,
			discordgo.PermissionOverwriteTypeMember, int64(allow), 0)
		if err != nil {
			return fmt.Errorf("discord: granting channel access to %s: %w", id, err)
		}
	}
	return nil
}

// PromoteAdmin grants a member channel-management permissions.
func (c *conversation) PromoteAdmin(ctx context.Context, memberID string) error {
	if !c.isGroup {
		return messaging.ErrNotAGroup
	}
	allow := discordgo.PermissionViewChannel | discordgo.PermissionSendMessages |
		discordgo.PermissionManageChannels | discordgo.PermissionManageMessages
	err := c.t.session.ChannelPermissionSet(c.id, memberID,
		discordgo.PermissionOverwriteTypeMember, int64(allow), 0)
	if err != nil {
		return fmt.Errorf("discord: promoting %s: %w", memberID, err)
	}
	return nil
}

// SetName renames the channel.
func (c *conversation) SetName(ctx context.Context, name string) error {
	if !c.isGroup {
		return messaging.ErrNotAGroup
	}
	_, err := c.t.session.ChannelEdit(c.id, &discordgo.ChannelEdit{Name: name})
	if err != nil {
		return fmt.Errorf("discord: renaming channel: %w", err)
	}
	c.name = name
	return nil
}

// ---------- Event Handlers ----------

// onMessageCreate handles incoming Discord messages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore messages from the bot itself and other bots.
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	// Apply channel filter.
	if len(d.cfg.AllowedChannels) > 0 && !contains(d.cfg.AllowedChannels, m.ChannelID) {
		return
	}

	isGroup := m.GuildID != ""
	if !isGroup {
		// Remember DM channels so broadcasts can reach them.
		d.dmChannelsMu.Lock()
		d.dmChannels[m.Author.ID] = m.ChannelID
		d.dmChannelsMu.Unlock()
	}

	d.emitMessage(&messaging.Incoming{
		ID:             m.ID,
		SenderID:       m.Author.ID,
		ConversationID: m.ChannelID,
		IsGroup:        isGroup,
		Kind:           messaging.KindText,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
	})
}

// onInteractionCreate handles button clicks and surfaces them as selected
// options. The interaction is acknowledged so Discord stops the spinner.
func (d *Discord) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}

	user := i.User
	if user == nil && i.Member != nil {
		user = i.Member.User
	}
	if user == nil || user.Bot {
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		d.logger.Warn("failed to acknowledge interaction", "error", err)
	}

	d.emitMessage(&messaging.Incoming{
		ID:             i.ID,
		SenderID:       user.ID,
		ConversationID: i.ChannelID,
		IsGroup:        i.GuildID != "",
		Kind:           messaging.KindSelectedOption,
		OptionID:       i.MessageComponentData().CustomID,
		Timestamp:      time.Now(),
	})
}

// emitMessage sends a message to the incoming messages channel.
func (d *Discord) emitMessage(msg *messaging.Incoming) {
	if d.messagesClosed.Load() {
		return
	}
	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// ---------- Helpers ----------

// wrapChannel builds a conversation handle from a discordgo channel.
func (d *Discord) wrapChannel(ch *discordgo.Channel) *conversation {
	isGroup := ch.Type == discordgo.ChannelTypeGuildText
	return &conversation{t: d, id: ch.ID, isGroup: isGroup, name: ch.Name}
}

// buttonStyle maps an option style hint to a discordgo button style.
func buttonStyle(s messaging.OptionStyle) discordgo.ButtonStyle {
	switch s {
	case messaging.StylePrimary:
		return discordgo.PrimaryButton
	case messaging.StyleDanger:
		return discordgo.DangerButton
	default:
		return discordgo.SecondaryButton
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// splitMessage splits a message into chunks respecting the length limit.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		// Try to split at a newline.
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var _ messaging.Transport = (*Discord)(nil)
