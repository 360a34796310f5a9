package reminder

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jholhewres/concierge/pkg/concierge/errs"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestService(t *testing.T, store Store, now time.Time) *Service {
	t.Helper()
	svc, err := NewService(store, "America/New_York")
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}
	svc.now = func() time.Time { return now }
	return svc
}

func TestServiceSchedule(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	t.Run("stores future reminder in UTC", func(t *testing.T) {
		store := openTestStore(t)
		svc := newTestService(t, store, now)

		r, err := svc.Schedule(ctx, "alice", "conv-1", "2026-09-01 18:00", "stretch")
		if err != nil {
			t.Fatalf("schedule: %v", err)
		}
		if r.ID == 0 {
			t.Error("expected assigned id")
		}
		if r.RemindAt.Location() != time.UTC {
			t.Errorf("expected UTC storage, got %v", r.RemindAt.Location())
		}
		// 18:00 New York is 22:00 UTC during DST.
		if got := r.RemindAt.Hour(); got != 22 {
			t.Errorf("expected 22:00 UTC, got %d:00", got)
		}
	})

	t.Run("accepts RFC 3339 with explicit offset", func(t *testing.T) {
		store := openTestStore(t)
		svc := newTestService(t, store, now)

		r, err := svc.Schedule(ctx, "alice", "conv-1", "2026-09-01T10:00:00-04:00", "brunch")
		if err != nil {
			t.Fatalf("schedule: %v", err)
		}
		if got := r.RemindAt.UTC().Hour(); got != 14 {
			t.Errorf("expected 14:00 UTC, got %d:00", got)
		}
	})

	t.Run("rejects past time", func(t *testing.T) {
		store := openTestStore(t)
		svc := newTestService(t, store, now)

		_, err := svc.Schedule(ctx, "alice", "conv-1", "2026-08-30 18:00", "too late")
		if !errs.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("rejects unparsable time", func(t *testing.T) {
		store := openTestStore(t)
		svc := newTestService(t, store, now)

		_, err := svc.Schedule(ctx, "alice", "conv-1", "tomorrow-ish", "vague")
		if !errs.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("rejects empty message", func(t *testing.T) {
		store := openTestStore(t)
		svc := newTestService(t, store, now)

		_, err := svc.Schedule(ctx, "alice", "conv-1", "2026-09-01 18:00", "   ")
		if !errs.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestStoreClaimAndCancel(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	insert := func(t *testing.T, sender string) int64 {
		t.Helper()
		id, err := store.Insert(ctx, &Reminder{
			SenderID:       sender,
			ConversationID: "conv-1",
			Message:        "hello",
			RemindAt:       time.Now().Add(-time.Minute),
			CreatedAt:      time.Now(),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		return id
	}

	t.Run("claim succeeds once", func(t *testing.T) {
		id := insert(t, "alice")

		ok, err := store.Claim(ctx, id)
		if err != nil || !ok {
			t.Fatalf("first claim: ok=%v err=%v", ok, err)
		}
		ok, err = store.Claim(ctx, id)
		if err != nil {
			t.Fatalf("second claim: %v", err)
		}
		if ok {
			t.Error("second claim should not succeed")
		}
	})

	t.Run("cancel loses against claim", func(t *testing.T) {
		id := insert(t, "bob")

		if ok, _ := store.Claim(ctx, id); !ok {
			t.Fatal("claim failed")
		}
		ok, err := store.Cancel(ctx, id, "bob")
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if ok {
			t.Error("cancel of a claimed reminder should report not found")
		}
	})

	t.Run("cancel requires ownership", func(t *testing.T) {
		id := insert(t, "carol")

		if ok, _ := store.Cancel(ctx, id, "mallory"); ok {
			t.Error("cancel by non-owner should fail")
		}
		if ok, _ := store.Cancel(ctx, id, "carol"); !ok {
			t.Error("cancel by owner should succeed")
		}
	})

	t.Run("requeue makes a claimed reminder due again", func(t *testing.T) {
		id := insert(t, "dave")

		if ok, _ := store.Claim(ctx, id); !ok {
			t.Fatal("claim failed")
		}
		if err := store.Requeue(ctx, id); err != nil {
			t.Fatalf("requeue: %v", err)
		}
		due, err := store.Due(ctx, time.Now())
		if err != nil {
			t.Fatalf("due: %v", err)
		}
		found := false
		for _, r := range due {
			if r.ID == id {
				found = true
			}
		}
		if !found {
			t.Error("requeued reminder should be due")
		}
	})

	t.Run("cancel all only removes the owner's unsent rows", func(t *testing.T) {
		a := insert(t, "erin")
		insert(t, "erin")
		insert(t, "frank")
		if ok, _ := store.Claim(ctx, a); !ok {
			t.Fatal("claim failed")
		}

		n, err := store.CancelAll(ctx, "erin")
		if err != nil {
			t.Fatalf("cancel all: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 cancelled, got %d", n)
		}
		frank, _ := store.ListPending(ctx, "frank")
		if len(frank) != 1 {
			t.Errorf("frank's reminders should be untouched, got %d", len(frank))
		}
	})
}

func TestMigrationBackfillsLegacy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	// Simulate a database created before conversation tracking existed.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE reminders (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id  TEXT NOT NULL,
			message    TEXT NOT NULL,
			remind_at  TEXT NOT NULL,
			sent       INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		INSERT INTO reminders (sender_id, message, remind_at, sent, created_at)
		VALUES ('alice', 'old reminder', '2026-01-01T00:00:00Z', 0, '2025-12-01T00:00:00Z');
	`)
	if err != nil {
		t.Fatalf("seeding old schema: %v", err)
	}
	db.Close()

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("opening migrated store: %v", err)
	}
	defer store.Close()

	pending, err := store.ListPending(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(pending))
	}
	if pending[0].ConversationID != LegacyConversation {
		t.Errorf("expected legacy marker, got %q", pending[0].ConversationID)
	}
}
