package whatsapp

import (
	"testing"

	"github.com/jholhewres/concierge/pkg/concierge/messaging"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

func TestParseJID(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare phone number", "5511999999999", "5511999999999@s.whatsapp.net", false},
		{"formatted phone number", "+55 (11) 99999-9999", "5511999999999@s.whatsapp.net", false},
		{"full user jid", "5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net", false},
		{"group jid", "123456789-1234@g.us", "123456789-1234@g.us", false},
		{"too short", "12345", "", true},
		{"empty", "", "", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			jid, err := parseJID(c.in)
			if c.wantErr {
				if err == nil {
					t.Errorf("parseJID(%q) expected error, got %s", c.in, jid)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseJID(%q): %v", c.in, err)
			}
			if jid.String() != c.want {
				t.Errorf("parseJID(%q) = %s, want %s", c.in, jid, c.want)
			}
		})
	}
}

func TestParseJIDs(t *testing.T) {
	jids, err := parseJIDs([]string{"5511999999999", "5521888888888@s.whatsapp.net"})
	if err != nil {
		t.Fatalf("parseJIDs: %v", err)
	}
	if len(jids) != 2 {
		t.Fatalf("expected 2 jids, got %d", len(jids))
	}

	if _, err := parseJIDs([]string{"5511999999999", "bad"}); err == nil {
		t.Error("expected error for invalid member")
	}
}

func TestExtractText(t *testing.T) {
	t.Run("plain conversation", func(t *testing.T) {
		msg := &waE2E.Message{Conversation: proto.String("hello")}
		if got := extractText(msg); got != "hello" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("extended text", func(t *testing.T) {
		msg := &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi there")},
		}
		if got := extractText(msg); got != "hi there" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("unsupported types yield empty", func(t *testing.T) {
		if got := extractText(&waE2E.Message{}); got != "" {
			t.Errorf("got %q", got)
		}
		if got := extractText(nil); got != "" {
			t.Errorf("got %q", got)
		}
	})
}

func TestMatchPromptReply(t *testing.T) {
	prompt := &messaging.ChoicePrompt{
		Options: []messaging.ChoiceOption{
			{ID: "opt_a"},
			{ID: "opt_b"},
		},
	}

	newClient := func() *WhatsApp {
		return &WhatsApp{
			lastPrompts: map[string]*messaging.ChoicePrompt{"conv-1": prompt},
		}
	}

	t.Run("number selects and consumes the prompt", func(t *testing.T) {
		w := newClient()
		if got := w.matchPromptReply("conv-1", " 2 "); got != "opt_b" {
			t.Errorf("got %q", got)
		}
		if got := w.matchPromptReply("conv-1", "1"); got != "" {
			t.Errorf("prompt should be consumed, got %q", got)
		}
	})

	t.Run("out of range is plain text", func(t *testing.T) {
		w := newClient()
		if got := w.matchPromptReply("conv-1", "3"); got != "" {
			t.Errorf("got %q", got)
		}
		if got := w.matchPromptReply("conv-1", "0"); got != "" {
			t.Errorf("got %q", got)
		}
		// The prompt survives a miss.
		if got := w.matchPromptReply("conv-1", "1"); got != "opt_a" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("non-numeric is plain text", func(t *testing.T) {
		w := newClient()
		if got := w.matchPromptReply("conv-1", "yes please"); got != "" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("no prompt outstanding", func(t *testing.T) {
		w := &WhatsApp{lastPrompts: map[string]*messaging.ChoicePrompt{}}
		if got := w.matchPromptReply("conv-1", "1"); got != "" {
			t.Errorf("got %q", got)
		}
	})
}
