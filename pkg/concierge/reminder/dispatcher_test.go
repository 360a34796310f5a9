package reminder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jholhewres/concierge/pkg/concierge/messaging"
)

// fakeConversation records sends and can be told to fail.
type fakeConversation struct {
	id      string
	sent    []string
	sendErr error
}

func (f *fakeConversation) ID() string    { return f.id }
func (f *fakeConversation) IsGroup() bool { return false }
func (f *fakeConversation) Name() string  { return "" }
func (f *fakeConversation) SendText(_ context.Context, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeConversation) SendPrompt(context.Context, *messaging.ChoicePrompt) error { return nil }
func (f *fakeConversation) AddMembers(context.Context, []string) error                { return nil }
func (f *fakeConversation) PromoteAdmin(context.Context, string) error                { return nil }
func (f *fakeConversation) SetName(context.Context, string) error                     { return nil }

// fakeSender resolves conversations from a fixed map.
type fakeSender struct {
	convs map[string]*fakeConversation
}

func (f *fakeSender) ConversationByID(_ context.Context, id string) (messaging.Conversation, error) {
	if c, ok := f.convs[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", messaging.ErrConversationNotFound, id)
}

func dueReminder(t *testing.T, store Store, conversationID string) int64 {
	t.Helper()
	id, err := store.Insert(context.Background(), &Reminder{
		SenderID:       "alice",
		ConversationID: conversationID,
		Message:        "drink water",
		RemindAt:       time.Now().Add(-time.Minute),
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

func TestDispatcherTick(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers due reminder once", func(t *testing.T) {
		store := openTestStore(t)
		conv := &fakeConversation{id: "conv-1"}
		d := NewDispatcher(store, &fakeSender{convs: map[string]*fakeConversation{"conv-1": conv}}, nil)

		dueReminder(t, store, "conv-1")
		d.Tick(ctx)
		d.Tick(ctx)

		if len(conv.sent) != 1 {
			t.Fatalf("expected exactly 1 delivery, got %d", len(conv.sent))
		}
		if conv.sent[0] != "⏰ Reminder: drink water" {
			t.Errorf("unexpected message: %q", conv.sent[0])
		}
	})

	t.Run("requeues on send failure and retries next tick", func(t *testing.T) {
		store := openTestStore(t)
		conv := &fakeConversation{id: "conv-1", sendErr: fmt.Errorf("rate limited")}
		d := NewDispatcher(store, &fakeSender{convs: map[string]*fakeConversation{"conv-1": conv}}, nil)

		dueReminder(t, store, "conv-1")
		d.Tick(ctx)
		if len(conv.sent) != 0 {
			t.Fatalf("expected no delivery while failing, got %d", len(conv.sent))
		}

		conv.sendErr = nil
		d.Tick(ctx)
		if len(conv.sent) != 1 {
			t.Fatalf("expected delivery after recovery, got %d", len(conv.sent))
		}
	})

	t.Run("unresolvable conversation stays claimed", func(t *testing.T) {
		store := openTestStore(t)
		d := NewDispatcher(store, &fakeSender{convs: map[string]*fakeConversation{}}, nil)

		dueReminder(t, store, "gone")
		d.Tick(ctx)

		due, err := store.Due(ctx, time.Now())
		if err != nil {
			t.Fatalf("due: %v", err)
		}
		if len(due) != 0 {
			t.Errorf("reminder to a deleted conversation should not loop, got %d due", len(due))
		}
	})

	t.Run("legacy rows are skipped without delivery", func(t *testing.T) {
		store := openTestStore(t)
		conv := &fakeConversation{id: "conv-1"}
		d := NewDispatcher(store, &fakeSender{convs: map[string]*fakeConversation{"conv-1": conv}}, nil)

		dueReminder(t, store, LegacyConversation)
		d.Tick(ctx)

		if len(conv.sent) != 0 {
			t.Errorf("legacy reminder must not be delivered, got %d sends", len(conv.sent))
		}
		due, _ := store.Due(ctx, time.Now())
		if len(due) != 0 {
			t.Errorf("legacy reminder should be claimed after skip, got %d due", len(due))
		}
	})
}
