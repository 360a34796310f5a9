// Package whatsapp – events.go processes incoming whatsmeow events and
// converts them into unified messaging.Incoming values.
package whatsapp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jholhewres/concierge/pkg/concierge/messaging"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.connected.Store(true)
		w.reconnectAttempts.Store(0)
		w.logger.Info("connected", "jid", w.SelfID())

	case *events.Disconnected:
		wasConnected := w.connected.Load()
		w.connected.Store(false)
		w.logger.Warn("disconnected", "was_connected", wasConnected)
		if wasConnected && w.ctx.Err() == nil {
			go w.attemptReconnect()
		}

	case *events.StreamReplaced:
		w.connected.Store(false)
		w.logger.Error("stream replaced, another device connected")

	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Error("logged out, session invalidated", "reason", evt.Reason.String())

	case *events.TemporaryBan:
		w.connected.Store(false)
		w.logger.Error("temporary ban", "code", evt.Code, "expire", evt.Expire)

	case *events.KeepAliveTimeout:
		w.logger.Warn("keep-alive timeout", "error_count", evt.ErrorCount)
		if evt.ErrorCount >= 3 && w.connected.Load() {
			w.connected.Store(false)
			go w.attemptReconnect()
		}
	}
}

// handleMessageEvt processes an incoming WhatsApp message event.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	// Skip messages from self.
	if evt.Info.IsFromMe {
		return
	}

	// Skip status broadcasts.
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	text := extractText(evt.Message)
	if text == "" {
		return
	}

	// Resolve sender JID — WhatsApp may use LID (Linked Identity) format
	// instead of phone numbers. Resolve to phone JID for access control.
	senderJID := evt.Info.Sender
	resolvedSender := senderJID.ToNonAD().String()
	if senderJID.Server == "lid" && w.client != nil && w.client.Store != nil {
		if altJID, err := w.client.Store.GetAltJID(w.ctx, senderJID); err == nil && !altJID.IsEmpty() {
			resolvedSender = altJID.ToNonAD().String()
		}
	}

	msg := &messaging.Incoming{
		ID:             string(evt.Info.ID),
		SenderID:       resolvedSender,
		ConversationID: evt.Info.Chat.String(),
		IsGroup:        evt.Info.IsGroup,
		Kind:           messaging.KindText,
		Content:        text,
		Timestamp:      evt.Info.Timestamp,
	}

	// A bare-number reply after a choice prompt is a selection, not text.
	if opt := w.matchPromptReply(msg.ConversationID, text); opt != "" {
		msg.Kind = messaging.KindSelectedOption
		msg.OptionID = opt
		msg.Content = ""
	}

	w.emitMessage(msg)
}

// matchPromptReply maps a bare-number reply to the option id of the last
// prompt sent in the conversation. The prompt is consumed on match.
func (w *WhatsApp) matchPromptReply(conversationID, text string) string {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return ""
	}

	w.lastPromptsMu.Lock()
	defer w.lastPromptsMu.Unlock()

	prompt, ok := w.lastPrompts[conversationID]
	if !ok || n < 1 || n > len(prompt.Options) {
		return ""
	}
	delete(w.lastPrompts, conversationID)
	return prompt.Options[n-1].ID
}

// extractText gets the text content from a WhatsApp message, or empty for
// unsupported types (media, reactions, etc.).
func extractText(waMsg *waE2E.Message) string {
	if waMsg == nil {
		return ""
	}
	if waMsg.Conversation != nil {
		return waMsg.GetConversation()
	}
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	return ""
}

// ---------- Helpers ----------

// parseJID converts a string JID to types.JID.
// Accepts formats: "5511999999999" or "5511999999999@s.whatsapp.net"
// or group IDs like "123456789-1234@g.us".
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	// Already a full JID with server.
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	// Bare phone number — add @s.whatsapp.net.
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}

// parseJIDs converts a slice of JID strings, failing on the first invalid one.
func parseJIDs(ids []string) ([]types.JID, error) {
	jids := make([]types.JID, 0, len(ids))
	for _, id := range ids {
		jid, err := parseJID(id)
		if err != nil {
			return nil, fmt.Errorf("invalid member %q: %w", id, err)
		}
		jids = append(jids, jid)
	}
	return jids, nil
}
