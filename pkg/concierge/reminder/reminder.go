// Package reminder implements scheduled reminders: validation and storage on
// the way in, a claim-based dispatcher on the way out. Times are stored UTC;
// parsing happens in the sender's (or event's) IANA zone.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/concierge/pkg/concierge/errs"
)

// LegacyConversation marks rows created before conversation tracking was
// added. Such rows cannot be delivered and are skipped at dispatch.
const LegacyConversation = "legacy"

// Reminder is one scheduled reminder.
type Reminder struct {
	ID             int64
	SenderID       string
	ConversationID string
	Message        string
	RemindAt       time.Time // UTC
	Sent           bool
	CreatedAt      time.Time // UTC
}

// Store persists reminders.
type Store interface {
	// Insert adds a reminder and returns its id.
	Insert(ctx context.Context, r *Reminder) (int64, error)

	// ListPending returns a sender's unsent reminders, soonest first.
	ListPending(ctx context.Context, senderID string) ([]*Reminder, error)

	// ListAll returns every unsent reminder, soonest first.
	ListAll(ctx context.Context) ([]*Reminder, error)

	// Due returns unsent reminders whose time has passed.
	Due(ctx context.Context, now time.Time) ([]*Reminder, error)

	// Claim atomically marks a reminder sent. Returns false if it was
	// already sent or cancelled.
	Claim(ctx context.Context, id int64) (bool, error)

	// Requeue clears the sent flag so the next tick retries delivery.
	Requeue(ctx context.Context, id int64) error

	// Cancel deletes one unsent reminder owned by the sender. Returns
	// false if no such reminder exists.
	Cancel(ctx context.Context, id int64, senderID string) (bool, error)

	// CancelAll deletes all of a sender's unsent reminders and returns
	// the count.
	CancelAll(ctx context.Context, senderID string) (int64, error)

	// Close releases the underlying database.
	Close() error
}

// acceptedFormats are the reminder time layouts tried in order.
var acceptedFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// Service validates and schedules reminders.
type Service struct {
	store Store

	// zone is the default zone for interpreting wall-clock times.
	zone *time.Location

	// now is injectable for tests.
	now func() time.Time
}

// NewService creates a reminder service. Times without an explicit offset
// are interpreted in the given IANA zone name.
func NewService(store Store, zoneName string) (*Service, error) {
	zone, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", zoneName, err)
	}
	return &Service{store: store, zone: zone, now: time.Now}, nil
}

// Schedule validates and persists a reminder. The time must parse in one of
// the accepted layouts and lie strictly in the future.
func (s *Service) Schedule(ctx context.Context, senderID, conversationID, timeSpec, message string) (*Reminder, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errs.Validation("reminder message cannot be empty")
	}

	remindAt, err := s.parseTime(timeSpec)
	if err != nil {
		return nil, err
	}

	if !remindAt.After(s.now()) {
		return nil, errs.Validation("reminder time %s is in the past", remindAt.In(s.zone).Format("2006-01-02 15:04 MST"))
	}

	r := &Reminder{
		SenderID:       senderID,
		ConversationID: conversationID,
		Message:        message,
		RemindAt:       remindAt.UTC(),
		CreatedAt:      s.now().UTC(),
	}
	id, err := s.store.Insert(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("storing reminder: %w", err)
	}
	r.ID = id
	return r, nil
}

// ListPending returns a sender's unsent reminders.
func (s *Service) ListPending(ctx context.Context, senderID string) ([]*Reminder, error) {
	return s.store.ListPending(ctx, senderID)
}

// Cancel removes one of the sender's unsent reminders.
func (s *Service) Cancel(ctx context.Context, id int64, senderID string) error {
	ok, err := s.store.Cancel(ctx, id, senderID)
	if err != nil {
		return fmt.Errorf("cancelling reminder: %w", err)
	}
	if !ok {
		return errs.NotFound("reminder", fmt.Sprintf("%d", id))
	}
	return nil
}

// CancelAll removes all of the sender's unsent reminders.
func (s *Service) CancelAll(ctx context.Context, senderID string) (int64, error) {
	return s.store.CancelAll(ctx, senderID)
}

// Zone returns the service's display timezone.
func (s *Service) Zone() *time.Location { return s.zone }

// parseTime tries the accepted layouts, interpreting zone-less layouts in
// the configured zone.
func (s *Service) parseTime(spec string) (time.Time, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return time.Time{}, errs.Validation("reminder time cannot be empty")
	}

	for _, layout := range acceptedFormats {
		var t time.Time
		var err error
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, spec)
		} else {
			t, err = time.ParseInLocation(layout, spec, s.zone)
		}
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, errs.Validation(
		"could not parse time %q. Use RFC 3339 (2026-09-01T15:04:00-04:00) or \"2006-01-02 15:04\"", spec)
}
