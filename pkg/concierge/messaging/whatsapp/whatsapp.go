// Package whatsapp implements the concierge messaging transport for WhatsApp
// using whatsmeow — a native Go WhatsApp Web API library.
//
// Features:
//   - QR code login with persistent session (SQLite)
//   - Send/receive text in DMs and groups
//   - Group management: create, add members, promote admins, rename
//   - Choice prompts rendered as numbered lists (replies map back to options)
//   - Automatic reconnection with backoff
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/concierge/pkg/concierge/messaging"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for session store.
)

// Config holds WhatsApp transport configuration.
type Config struct {
	// SessionDir is the directory for session persistence (SQLite).
	// Ignored if DatabasePath is set.
	SessionDir string `yaml:"session_dir"`

	// DatabasePath is the path to the SQLite database file for session
	// storage. If empty, defaults to {SessionDir}/whatsapp.db.
	DatabasePath string `yaml:"database_path"`

	// DeviceName is shown in the WhatsApp linked devices list.
	DeviceName string `yaml:"device_name"`

	// ReconnectBackoff is the initial backoff duration for reconnection.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// MaxReconnectAttempts is the maximum number of reconnection attempts
	// (0 = unlimited).
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionDir:           "./sessions/whatsapp",
		DeviceName:           "Concierge",
		ReconnectBackoff:     5 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// WhatsApp implements the messaging.Transport interface.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	// messages is the channel for incoming messages.
	messages chan *messaging.Incoming

	// connected tracks connection state.
	connected atomic.Bool

	// messagesClosed prevents sending to a closed channel on shutdown.
	messagesClosed atomic.Bool

	// reconnectAttempts tracks reconnection tries.
	reconnectAttempts atomic.Int32

	// reconnectGuard prevents multiple concurrent reconnection attempts.
	reconnectGuard atomic.Bool

	// lastPrompts maps conversation id to the choice prompt most recently
	// sent there, so a bare-number reply can be mapped back to an option.
	lastPrompts   map[string]*messaging.ChoicePrompt
	lastPromptsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new WhatsApp transport instance.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	return &WhatsApp{
		cfg:         cfg,
		logger:      logger.With("component", "whatsapp"),
		messages:    make(chan *messaging.Incoming, 256),
		lastPrompts: make(map[string]*messaging.ChoicePrompt),
	}
}

// ---------- Transport Interface ----------

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect establishes the WhatsApp Web connection via whatsmeow.
// If no existing session is found, the QR code is printed to the log for
// scanning; the call blocks until login succeeds or the context is done.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	dbPath := w.cfg.DatabasePath
	if dbPath == "" {
		dbPath = w.cfg.SessionDir + "/whatsapp.db"
	}
	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		return fmt.Errorf("getting device: %w", err)
	}

	// Device name shown in WhatsApp linked devices list.
	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		// First login — QR flow.
		return w.loginWithQR(w.ctx)
	}

	// Existing session — reconnect.
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	w.connected.Store(true)
	w.logger.Info("connected (existing session)", "jid", w.SelfID())
	return nil
}

// Disconnect gracefully closes the WhatsApp connection.
func (w *WhatsApp) Disconnect() error {
	w.connected.Store(false)

	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}

	// Mark closed before closing so emitMessage never sends on a closed
	// channel.
	if w.messagesClosed.CompareAndSwap(false, true) {
		close(w.messages)
	}

	w.logger.Info("disconnected")
	return nil
}

// Messages returns the incoming messages channel.
func (w *WhatsApp) Messages() <-chan *messaging.Incoming {
	return w.messages
}

// SelfID returns the agent's own JID, or empty before login.
func (w *WhatsApp) SelfID() string {
	if w.client != nil && w.client.Store.ID != nil {
		return w.client.Store.ID.ToNonAD().String()
	}
	return ""
}

// ConversationByID resolves a conversation handle from a JID string.
func (w *WhatsApp) ConversationByID(ctx context.Context, id string) (messaging.Conversation, error) {
	jid, err := parseJID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", messaging.ErrConversationNotFound, err)
	}

	if jid.Server == types.GroupServer {
		info, err := w.client.GetGroupInfo(ctx, jid)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", messaging.ErrConversationNotFound, err)
		}
		return &conversation{t: w, jid: jid, isGroup: true, name: info.Name}, nil
	}

	return &conversation{t: w, jid: jid}, nil
}

// ListConversations enumerates all conversations known to the account:
// every joined group plus a DM per known contact.
func (w *WhatsApp) ListConversations(ctx context.Context) ([]messaging.Conversation, error) {
	if !w.connected.Load() {
		return nil, messaging.ErrDisconnected
	}

	var out []messaging.Conversation

	groups, err := w.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	for _, g := range groups {
		out = append(out, &conversation{t: w, jid: g.JID, isGroup: true, name: g.Name})
	}

	contacts, err := w.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	for jid := range contacts {
		if jid.Server != types.DefaultUserServer {
			continue
		}
		out = append(out, &conversation{t: w, jid: jid})
	}

	return out, nil
}

// CreateGroup creates a new WhatsApp group containing the given members.
func (w *WhatsApp) CreateGroup(ctx context.Context, name string, memberIDs []string) (messaging.Conversation, error) {
	if !w.connected.Load() {
		return nil, messaging.ErrDisconnected
	}

	jids, err := parseJIDs(memberIDs)
	if err != nil {
		return nil, err
	}

	info, err := w.client.CreateGroup(ctx, whatsmeow.ReqCreateGroup{
		Name:         name,
		Participants: jids,
	})
	if err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}

	w.logger.Info("group created", "jid", info.JID.String(), "name", name)
	return &conversation{t: w, jid: info.JID, isGroup: true, name: name}, nil
}

// NewDM opens a direct conversation with an address (phone number or JID).
func (w *WhatsApp) NewDM(ctx context.Context, address string) (messaging.Conversation, error) {
	jid, err := parseJID(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if jid.Server == types.GroupServer {
		return nil, fmt.Errorf("address %q is a group", address)
	}
	return &conversation{t: w, jid: jid}, nil
}

// ResolveAddress maps a sender identity to its underlying address. WhatsApp
// may deliver messages under a LID (linked identity); resolve to the phone
// JID when possible so allow-list checks are stable.
func (w *WhatsApp) ResolveAddress(ctx context.Context, senderID string) (string, error) {
	jid, err := parseJID(senderID)
	if err != nil {
		return "", err
	}
	if jid.Server == "lid" && w.client != nil && w.client.Store != nil {
		if altJID, err := w.client.Store.GetAltJID(ctx, jid); err == nil && !altJID.IsEmpty() {
			return altJID.ToNonAD().String(), nil
		}
	}
	return jid.ToNonAD().String(), nil
}

// ContactName returns the contact or push name for a sender, or empty.
func (w *WhatsApp) ContactName(ctx context.Context, senderID string) (string, error) {
	jid, err := parseJID(senderID)
	if err != nil {
		return "", err
	}
	info, err := w.client.Store.Contacts.GetContact(ctx, jid)
	if err != nil || !info.Found {
		return "", nil
	}
	if info.FullName != "" {
		return info.FullName, nil
	}
	return info.PushName, nil
}

// ---------- Conversation ----------

// conversation is a live handle to a WhatsApp chat.
type conversation struct {
	t       *WhatsApp
	jid     types.JID
	isGroup bool
	name    string
}

func (c *conversation) ID() string    { return c.jid.String() }
func (c *conversation) IsGroup() bool { return c.isGroup }
func (c *conversation) Name() string  { return c.name }

// SendText sends a plain text message to the chat.
func (c *conversation) SendText(ctx context.Context, text string) error {
	if !c.t.connected.Load() {
		return messaging.ErrDisconnected
	}
	_, err := c.t.client.SendMessage(ctx, c.jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// SendPrompt renders a choice prompt as a numbered list. The prompt is
// remembered per conversation so a bare-number reply maps back to the
// corresponding option id.
func (c *conversation) SendPrompt(ctx context.Context, prompt *messaging.ChoicePrompt) error {
	var b strings.Builder
	b.WriteString(prompt.Description)
	for i, opt := range prompt.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Label)
	}
	b.WriteString("\n\nReply with a number to choose.")

	if err := c.SendText(ctx, b.String()); err != nil {
		return err
	}

	c.t.lastPromptsMu.Lock()
	c.t.lastPrompts[c.jid.String()] = prompt
	c.t.lastPromptsMu.Unlock()
	return nil
}

// AddMembers adds the given identities to the group.
func (c *conversation) AddMembers(ctx context.Context, memberIDs []string) error {
	if !c.isGroup {
		return messaging.ErrNotAGroup
	}
	jids, err := parseJIDs(memberIDs)
	if err != nil {
		return err
	}

	results, err := c.t.client.UpdateGroupParticipants(ctx, c.jid, jids, whatsmeow.ParticipantChangeAdd)
	if err != nil {
		return fmt.Errorf("adding members: %w", err)
	}
	for _, p := range results {
		// 409: participant is already in the group.
		if p.Error == 409 {
			return messaging.ErrAlreadyMember
		}
		if p.Error != 0 {
			return fmt.Errorf("adding member %s: status %d", p.JID, p.Error)
		}
	}
	return nil
}

// PromoteAdmin grants admin rights to a group member.
func (c *conversation) PromoteAdmin(ctx context.Context, memberID string) error {
	if !c.isGroup {
		return messaging.ErrNotAGroup
	}
	jid, err := parseJID(memberID)
	if err != nil {
		return err
	}
	_, err = c.t.client.UpdateGroupParticipants(ctx, c.jid, []types.JID{jid}, whatsmeow.ParticipantChangePromote)
	if err != nil {
		return fmt.Errorf("promoting member: %w", err)
	}
	return nil
}

// SetName updates the group subject.
func (c *conversation) SetName(ctx context.Context, name string) error {
	if !c.isGroup {
		return messaging.ErrNotAGroup
	}
	if err := c.t.client.SetGroupName(ctx, c.jid, name); err != nil {
		return fmt.Errorf("renaming group: %w", err)
	}
	c.name = name
	return nil
}

// ---------- Internal ----------

// getDevice retrieves an existing device or creates a new one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR handles the QR code login flow. The raw code is logged for
// rendering by an external tool (headless deployments).
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	w.logger.Info("no existing session, waiting for QR scan")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				w.logger.Info("QR code ready, scan with WhatsApp", "code", evt.Code)
			case "success":
				w.connected.Store(true)
				w.reconnectAttempts.Store(0)
				w.logger.Info("login successful", "jid", w.SelfID())
				return nil
			case "timeout":
				return fmt.Errorf("QR code timeout")
			default:
				if evt.Error != nil {
					return fmt.Errorf("QR login error: %v", evt.Error)
				}
			}
		}
	}
}

// attemptReconnect tries to reconnect with linear backoff. Guarded so only
// one reconnect loop runs at a time.
func (w *WhatsApp) attemptReconnect() {
	if !w.reconnectGuard.CompareAndSwap(false, true) {
		return
	}
	defer w.reconnectGuard.Store(false)

	for {
		if w.ctx.Err() != nil {
			return
		}

		attempts := w.reconnectAttempts.Add(1)
		if w.cfg.MaxReconnectAttempts > 0 && attempts > int32(w.cfg.MaxReconnectAttempts) {
			w.logger.Error("max reconnect attempts reached", "attempts", attempts)
			return
		}

		backoff := min(w.cfg.ReconnectBackoff*time.Duration(attempts), 5*time.Minute)
		w.logger.Info("attempting reconnect", "attempt", attempts, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
			return
		}

		if w.client == nil {
			return
		}

		// Clear stale websocket state before reconnecting.
		if w.client.IsConnected() {
			w.client.Disconnect()
			time.Sleep(100 * time.Millisecond)
		}

		if err := w.client.Connect(); err != nil {
			w.logger.Warn("reconnect attempt failed, will retry",
				"attempt", attempts, "error", err)
			continue
		}
		return
	}
}

// emitMessage sends a message to the incoming messages channel.
func (w *WhatsApp) emitMessage(msg *messaging.Incoming) {
	if w.messagesClosed.Load() {
		return
	}
	select {
	case w.messages <- msg:
	case <-w.ctx.Done():
	default:
		w.logger.Warn("message channel full, dropping message",
			"from", msg.SenderID)
	}
}

// Compile-time interface verification.
var _ messaging.Transport = (*WhatsApp)(nil)
