package router

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/concierge/pkg/concierge/broadcast"
	"github.com/jholhewres/concierge/pkg/concierge/groups"
	"github.com/jholhewres/concierge/pkg/concierge/history"
	"github.com/jholhewres/concierge/pkg/concierge/identity"
	"github.com/jholhewres/concierge/pkg/concierge/messaging"
	"github.com/jholhewres/concierge/pkg/concierge/reminder"
)

// ---------- Fakes ----------

type fakeConversation struct {
	id      string
	isGroup bool
	sent    []string
	prompts []*messaging.ChoicePrompt
	members []string
}

func (f *fakeConversation) ID() string    { return f.id }
func (f *fakeConversation) IsGroup() bool { return f.isGroup }
func (f *fakeConversation) Name() string  { return "" }
func (f *fakeConversation) SendText(_ context.Context, text string) error {
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeConversation) SendPrompt(_ context.Context, p *messaging.ChoicePrompt) error {
	f.prompts = append(f.prompts, p)
	return nil
}
func (f *fakeConversation) AddMembers(_ context.Context, ids []string) error {
	f.members = append(f.members, ids...)
	return nil
}
func (f *fakeConversation) PromoteAdmin(context.Context, string) error { return nil }
func (f *fakeConversation) SetName(context.Context, string) error      { return nil }

// fakeTransport backs the router, the broadcast lister, and the groups
// workflow from one conversation map.
type fakeTransport struct {
	self  string
	convs map[string]*fakeConversation
	dms   map[string]*fakeConversation
}

func (f *fakeTransport) SelfID() string { return f.self }

func (f *fakeTransport) ConversationByID(_ context.Context, id string) (messaging.Conversation, error) {
	if c, ok := f.convs[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", messaging.ErrConversationNotFound, id)
}

func (f *fakeTransport) NewDM(_ context.Context, address string) (messaging.Conversation, error) {
	if c, ok := f.dms[address]; ok {
		return c, nil
	}
	c := &fakeConversation{id: "dm:" + address}
	f.dms[address] = c
	return c, nil
}

func (f *fakeTransport) CreateGroup(_ context.Context, name string, memberIDs []string) (messaging.Conversation, error) {
	c := &fakeConversation{id: "g-" + name, isGroup: true, members: memberIDs}
	f.convs[c.id] = c
	return c, nil
}

func (f *fakeTransport) ListConversations(context.Context) ([]messaging.Conversation, error) {
	var out []messaging.Conversation
	for _, c := range f.convs {
		out = append(out, c)
	}
	return out, nil
}

type fakeLookups struct {
	addrs map[string]string
	names map[string]string
}

func (f *fakeLookups) ResolveAddress(_ context.Context, senderID string) (string, error) {
	if a, ok := f.addrs[senderID]; ok {
		return a, nil
	}
	return "", fmt.Errorf("no address for %s", senderID)
}

func (f *fakeLookups) ContactName(_ context.Context, senderID string) (string, error) {
	if n, ok := f.names[senderID]; ok {
		return n, nil
	}
	return "", fmt.Errorf("no contact for %s", senderID)
}

// fakeClassifier answers from a scripted queue and records every question.
type fakeClassifier struct {
	answers []bool
	asked   []string
	err     error
}

func (f *fakeClassifier) ClassifyYesNo(_ context.Context, question, _ string) (bool, error) {
	f.asked = append(f.asked, question)
	if f.err != nil {
		return false, f.err
	}
	if len(f.answers) == 0 {
		return false, nil
	}
	ans := f.answers[0]
	f.answers = f.answers[1:]
	return ans, nil
}

type fakeResponder struct {
	replyErr error
}

func (f *fakeResponder) Reply(_ context.Context, _, message string) (string, error) {
	if f.replyErr != nil {
		return "", f.replyErr
	}
	return "echo: " + message, nil
}

func (f *fakeResponder) Greeting(context.Context, string, string) (string, error) {
	return "hello there!", nil
}

// ---------- Fixture ----------

type fixture struct {
	router     *Router
	transport  *fakeTransport
	classifier *fakeClassifier
	responder  *fakeResponder
	memory     *history.Memory
	dm         *fakeConversation
	group      *fakeConversation
	yogaGroup  *fakeConversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dm := &fakeConversation{id: "dm-1"}
	group := &fakeConversation{id: "group-1", isGroup: true}
	yoga := &fakeConversation{id: "g-yoga", isGroup: true}
	transport := &fakeTransport{
		self: "self-id",
		convs: map[string]*fakeConversation{
			"dm-1":    dm,
			"group-1": group,
			"g-yoga":  yoga,
		},
		dms: make(map[string]*fakeConversation),
	}

	ids := identity.NewResolver(&fakeLookups{
		addrs: map[string]string{
			"admin-id": "admin@example.com",
			"relay-id": "relay@example.com",
			"user-id":  "user@example.com",
		},
		names: map[string]string{"admin-id": "Alice"},
	}, nil)

	store, err := reminder.OpenStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	reminders, err := reminder.NewService(store, "UTC")
	if err != nil {
		t.Fatalf("creating reminder service: %v", err)
	}

	classifier := &fakeClassifier{}
	responder := &fakeResponder{}
	memory := history.New(3, time.Hour, nil)

	r := New(
		Config{
			AgentName:      "Concierge",
			Aliases:        []string{"concierge", "rocky"},
			AdminAllowlist: []string{"admin@example.com"},
			RelayAddress:   "relay@example.com",
		},
		transport,
		ids,
		broadcast.New(transport, ids, false, time.Millisecond, nil),
		groups.New(transport, map[string]groups.Activity{
			"yoga": {GroupID: "g-yoga", Label: "🧘 Yoga"},
		}, nil),
		reminders,
		responder,
		classifier,
		memory,
		nil,
	)

	// Suppress the first-contact welcome unless a test wants it.
	for _, sender := range []string{"admin-id", "relay-id", "user-id"} {
		r.seen[sender] = true
	}

	return &fixture{
		router:     r,
		transport:  transport,
		classifier: classifier,
		responder:  responder,
		memory:     memory,
		dm:         dm,
		group:      group,
		yogaGroup:  yoga,
	}
}

func dmMessage(sender, text string) *messaging.Incoming {
	return &messaging.Incoming{
		SenderID:       sender,
		ConversationID: "dm-1",
		Kind:           messaging.KindText,
		Content:        text,
	}
}

func groupMessage(sender, text string) *messaging.Incoming {
	return &messaging.Incoming{
		SenderID:       sender,
		ConversationID: "group-1",
		IsGroup:        true,
		Kind:           messaging.KindText,
		Content:        text,
	}
}

func optionMessage(sender, optionID string) *messaging.Incoming {
	return &messaging.Incoming{
		SenderID:       sender,
		ConversationID: "dm-1",
		Kind:           messaging.KindSelectedOption,
		OptionID:       optionID,
	}
}

func lastSent(t *testing.T, conv *fakeConversation) string {
	t.Helper()
	if len(conv.sent) == 0 {
		t.Fatal("no message sent")
	}
	return conv.sent[len(conv.sent)-1]
}

// ---------- Tests ----------

func TestSelfMessagesIgnored(t *testing.T) {
	f := newFixture(t)
	f.router.HandleMessage(context.Background(), dmMessage("self-id", "hello"))

	if len(f.dm.sent) != 0 {
		t.Errorf("own message must not produce a reply, got %v", f.dm.sent)
	}
	if len(f.classifier.asked) != 0 {
		t.Error("own message must not reach the classifier")
	}
}

func TestMentionGate(t *testing.T) {
	ctx := context.Background()

	t.Run("group message without mention is dropped silently", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, groupMessage("user-id", "what time is yoga?"))

		if len(f.group.sent) != 0 || len(f.classifier.asked) != 0 {
			t.Error("unmentioned group message must be ignored")
		}
	})

	t.Run("mention is stripped before the pipeline", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, groupMessage("user-id", "@rocky what time is yoga?"))

		if got := lastSent(t, f.group); got != "echo: what time is yoga?" {
			t.Errorf("expected stripped text in reply, got %q", got)
		}
	})

	t.Run("mention is case-insensitive", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, groupMessage("user-id", "@ROCKY what's up"))

		if len(f.group.sent) != 1 {
			t.Fatalf("expected a reply, got %v", f.group.sent)
		}
	})

	t.Run("bare mention gets a nudge", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, groupMessage("user-id", "@concierge"))

		if got := lastSent(t, f.group); got != "Hi! How can I help?" {
			t.Errorf("unexpected reply %q", got)
		}
		if len(f.classifier.asked) != 0 {
			t.Error("bare mention must not reach the classifier")
		}
	})
}

func TestFirstContactWelcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	delete(f.router.seen, "user-id")

	f.router.HandleMessage(ctx, dmMessage("user-id", "what's the wifi?"))

	if len(f.dm.sent) != 2 {
		t.Fatalf("expected welcome plus reply, got %v", f.dm.sent)
	}
	if !strings.Contains(f.dm.sent[0], "I'm Concierge") {
		t.Errorf("first message should be the welcome, got %q", f.dm.sent[0])
	}

	// Second contact gets no welcome.
	f.dm.sent = nil
	f.router.HandleMessage(ctx, dmMessage("user-id", "thanks"))
	if len(f.dm.sent) != 1 {
		t.Errorf("expected a single reply on second contact, got %v", f.dm.sent)
	}
}

func TestActivityKeyword(t *testing.T) {
	f := newFixture(t)
	f.router.HandleMessage(context.Background(), dmMessage("user-id", "yoga"))

	if len(f.dm.prompts) != 1 {
		t.Fatalf("expected a join prompt, got %d", len(f.dm.prompts))
	}
	if f.dm.prompts[0].Options[0].ID != "join_yoga" {
		t.Errorf("unexpected option id %q", f.dm.prompts[0].Options[0].ID)
	}
	if len(f.classifier.asked) != 0 {
		t.Error("activity keyword must bypass classification")
	}
}

func TestClassificationOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("first yes short-circuits", func(t *testing.T) {
		f := newFixture(t)
		f.classifier.answers = []bool{true}

		f.router.HandleMessage(ctx, dmMessage("user-id", "hey there"))

		if got := lastSent(t, f.dm); got != "hello there!" {
			t.Errorf("expected greeting branch, got %q", got)
		}
		if len(f.classifier.asked) != 1 {
			t.Errorf("later rules must not run, asked %d questions", len(f.classifier.asked))
		}
	})

	t.Run("question branch responds with context", func(t *testing.T) {
		f := newFixture(t)
		f.classifier.answers = []bool{false, true}

		f.router.HandleMessage(ctx, dmMessage("user-id", "what time is the run?"))

		if got := lastSent(t, f.dm); got != "echo: what time is the run?" {
			t.Errorf("unexpected reply %q", got)
		}
		if len(f.memory.Recent("user-id")) != 1 {
			t.Error("exchange should be recorded in history")
		}
	})

	t.Run("group-join branch offers all activities", func(t *testing.T) {
		f := newFixture(t)
		f.classifier.answers = []bool{false, false, true}

		f.router.HandleMessage(ctx, dmMessage("user-id", "I want to meet people"))

		if len(f.dm.prompts) != 1 {
			t.Fatalf("expected a join prompt, got %d", len(f.dm.prompts))
		}
	})

	t.Run("classifier failure falls through to the responder", func(t *testing.T) {
		f := newFixture(t)
		f.classifier.err = fmt.Errorf("model unavailable")

		f.router.HandleMessage(ctx, dmMessage("user-id", "hey"))

		if got := lastSent(t, f.dm); got != "echo: hey" {
			t.Errorf("expected fallback reply, got %q", got)
		}
		if len(f.classifier.asked) != 1 {
			t.Errorf("classification should stop after the first failure, asked %d", len(f.classifier.asked))
		}
	})

	t.Run("all no means fallback responder", func(t *testing.T) {
		f := newFixture(t)

		f.router.HandleMessage(ctx, dmMessage("user-id", "tell me a story"))

		if got := lastSent(t, f.dm); got != "echo: tell me a story" {
			t.Errorf("unexpected reply %q", got)
		}
		if len(f.classifier.asked) != 3 {
			t.Errorf("all rules should be consulted, asked %d", len(f.classifier.asked))
		}
	})
}

func TestBroadcastCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("requires allow-listed sender", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, dmMessage("user-id", "/broadcast party tonight"))

		if got := lastSent(t, f.dm); got != "Sorry, you're not authorized to do that." {
			t.Errorf("unexpected reply %q", got)
		}
	})

	t.Run("stages and confirms through the option prompt", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, dmMessage("admin-id", "/broadcast party tonight"))

		if len(f.dm.prompts) != 1 {
			t.Fatalf("expected confirmation prompt, got %d", len(f.dm.prompts))
		}
		if f.dm.prompts[0].Options[0].ID != broadcast.OptionYes {
			t.Errorf("unexpected option id %q", f.dm.prompts[0].Options[0].ID)
		}

		f.router.HandleMessage(ctx, optionMessage("admin-id", broadcast.OptionYes))
		if got := lastSent(t, f.dm); !strings.Contains(got, "Broadcast sent") {
			t.Errorf("expected summary, got %q", got)
		}
	})

	t.Run("confirm without staging reports nothing pending", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, dmMessage("admin-id", "/confirm"))

		if got := lastSent(t, f.dm); !strings.Contains(got, "no broadcast waiting") {
			t.Errorf("unexpected reply %q", got)
		}
	})

	t.Run("cancel option discards the staged broadcast", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, dmMessage("admin-id", "/broadcast oops"))
		f.router.HandleMessage(ctx, optionMessage("admin-id", broadcast.OptionNo))

		if got := lastSent(t, f.dm); got != "Broadcast cancelled." {
			t.Errorf("unexpected reply %q", got)
		}
	})
}

func TestReminderCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("schedules and lists", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, dmMessage("user-id", "/remind 2030-01-01 10:00 | stretch"))

		if got := lastSent(t, f.dm); !strings.Contains(got, "Reminder #") {
			t.Errorf("unexpected reply %q", got)
		}

		f.router.HandleMessage(ctx, dmMessage("user-id", "/reminders"))
		if got := lastSent(t, f.dm); !strings.Contains(got, "stretch") {
			t.Errorf("listing should include the reminder, got %q", got)
		}
	})

	t.Run("rejects missing separator", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, dmMessage("user-id", "/remind tomorrow stretch"))

		if got := lastSent(t, f.dm); !strings.Contains(got, "usage: /remind") {
			t.Errorf("unexpected reply %q", got)
		}
	})

	t.Run("empty list", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, dmMessage("user-id", "/reminders"))

		if got := lastSent(t, f.dm); got != "You have no pending reminders." {
			t.Errorf("unexpected reply %q", got)
		}
	})

	t.Run("cancel unknown id reports not found", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, dmMessage("user-id", "/reminders cancel 99"))

		if got := lastSent(t, f.dm); !strings.Contains(got, "couldn't find reminder 99") {
			t.Errorf("unexpected reply %q", got)
		}
	})
}

func TestRelayCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects non-relay senders", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, dmMessage("user-id", "SEND_TO:someone@example.com:hi"))

		if got := lastSent(t, f.dm); got != "Sorry, you're not authorized to do that." {
			t.Errorf("unexpected reply %q", got)
		}
	})

	t.Run("relays for the configured identity", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, dmMessage("relay-id", "SEND_TO:someone@example.com:meeting moved to 3pm"))

		target, ok := f.transport.dms["someone@example.com"]
		if !ok {
			t.Fatal("relay target DM not opened")
		}
		if len(target.sent) != 1 || target.sent[0] != "meeting moved to 3pm" {
			t.Errorf("unexpected relayed message %v", target.sent)
		}
		if got := lastSent(t, f.dm); got != "Relayed ✅" {
			t.Errorf("unexpected ack %q", got)
		}
	})

	t.Run("rejects malformed relay text", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, dmMessage("relay-id", "SEND_TO:missing-body"))

		if got := lastSent(t, f.dm); !strings.Contains(got, "usage: SEND_TO") {
			t.Errorf("unexpected reply %q", got)
		}
	})
}

func TestAddToGroupCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("only works inside a group", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, dmMessage("admin-id", "addToGroup someone@example.com"))

		if got := lastSent(t, f.dm); !strings.Contains(got, "inside a group chat") {
			t.Errorf("unexpected reply %q", got)
		}
	})

	t.Run("adds members for allow-listed senders", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, groupMessage("admin-id", "@rocky addToGroup a@x.com b@x.com"))

		if len(f.group.members) != 2 {
			t.Errorf("expected 2 members added, got %v", f.group.members)
		}
		if got := lastSent(t, f.group); got != "Added 2 member(s)." {
			t.Errorf("unexpected reply %q", got)
		}
	})
}

func TestDMCommand(t *testing.T) {
	f := newFixture(t)
	f.router.HandleMessage(context.Background(), groupMessage("user-id", "@rocky dm me"))

	dm, ok := f.transport.dms["user@example.com"]
	if !ok {
		t.Fatal("DM not opened")
	}
	if len(dm.sent) != 1 || !strings.Contains(dm.sent[0], "private chat") {
		t.Errorf("unexpected DM content %v", dm.sent)
	}
	if got := lastSent(t, f.group); got != "Check your DMs 📬" {
		t.Errorf("unexpected group reply %q", got)
	}
}

func TestSidebarCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.HandleMessage(ctx, groupMessage("admin-id", "@rocky sidebar trail planning"))

	if len(f.group.prompts) != 1 {
		t.Fatalf("expected invitation prompt in origin, got %d", len(f.group.prompts))
	}
	invite := f.group.prompts[0]
	if !strings.HasPrefix(invite.Options[0].ID, groups.JoinSidebarPrefix) {
		t.Errorf("unexpected invite option %q", invite.Options[0].ID)
	}

	// Another member accepts via the invitation option.
	groupID := strings.TrimPrefix(invite.Options[0].ID, groups.JoinSidebarPrefix)
	sidebar := f.transport.convs[groupID]
	if sidebar == nil {
		t.Fatalf("sidebar group %q not registered", groupID)
	}

	f.router.HandleMessage(ctx, optionMessage("user-id", invite.Options[0].ID))
	if got := lastSent(t, f.dm); !strings.Contains(got, "Added you to the sidebar") {
		t.Errorf("unexpected reply %q", got)
	}
	found := false
	for _, m := range sidebar.members {
		if m == "user-id" {
			found = true
		}
	}
	if !found {
		t.Errorf("accepting member missing from sidebar: %v", sidebar.members)
	}
}

func TestOptionDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("join activity option", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, optionMessage("user-id", "join_yoga"))

		if len(f.yogaGroup.members) != 1 || f.yogaGroup.members[0] != "user-id" {
			t.Errorf("expected membership, got %v", f.yogaGroup.members)
		}
		if got := lastSent(t, f.dm); !strings.Contains(got, "You're in!") {
			t.Errorf("unexpected reply %q", got)
		}
	})

	t.Run("decline option", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, optionMessage("user-id", groups.OptionNoJoin))

		if got := lastSent(t, f.dm); !strings.Contains(got, "No problem") {
			t.Errorf("unexpected reply %q", got)
		}
	})

	t.Run("sidebar decline option", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, optionMessage("user-id", groups.DeclineSidebarPrefix+"g-x"))

		if got := lastSent(t, f.dm); !strings.Contains(got, "join later") {
			t.Errorf("unexpected reply %q", got)
		}
	})

	t.Run("unknown option is ignored", func(t *testing.T) {
		f := newFixture(t)
		f.router.HandleMessage(ctx, optionMessage("user-id", "bogus_option"))

		if len(f.dm.sent) != 0 {
			t.Errorf("unknown option must not reply, got %v", f.dm.sent)
		}
	})

	t.Run("selected options never enter the text pipeline", func(t *testing.T) {
		f := newFixture(t)
		msg := optionMessage("user-id", "bogus_option")
		msg.Content = "/broadcast should not run"
		f.router.HandleMessage(ctx, msg)

		if len(f.dm.sent) != 0 || len(f.dm.prompts) != 0 {
			t.Error("option message content must be ignored")
		}
	})
}

func TestMatchers(t *testing.T) {
	t.Run("prefix requires a word boundary", func(t *testing.T) {
		m := prefixMatch("/remind")
		if _, ok := m("/reminders"); ok {
			t.Error("/reminders must not match /remind")
		}
		if args, ok := m("/remind 10:00 | go"); !ok || args != "10:00 | go" {
			t.Errorf("unexpected match %q %v", args, ok)
		}
		if _, ok := m("/REMIND later | x"); !ok {
			t.Error("prefix match should be case-insensitive")
		}
	})

	t.Run("exact matches any listed form", func(t *testing.T) {
		m := exactMatch("dm me", "start dm")
		if _, ok := m("Start DM"); !ok {
			t.Error("case-insensitive exact match expected")
		}
		if _, ok := m("dm me please"); ok {
			t.Error("trailing text must not match")
		}
	})
}

func TestResponderFailureSendsApology(t *testing.T) {
	f := newFixture(t)
	f.responder.replyErr = fmt.Errorf("llm down")

	f.router.HandleMessage(context.Background(), dmMessage("user-id", "hello?"))

	if got := lastSent(t, f.dm); got != apology {
		t.Errorf("expected apology, got %q", got)
	}
	if len(f.memory.Recent("user-id")) != 0 {
		t.Error("failed exchange must not be recorded")
	}
}
