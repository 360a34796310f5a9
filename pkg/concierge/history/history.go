// Package history keeps a bounded, short-lived conversation memory per
// sender. It exists to give the responder a few turns of context, not to be
// a durable log: everything lives in memory and expires.
package history

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one user/assistant exchange.
type Entry struct {
	UserMessage       string
	AssistantResponse string
	Timestamp         time.Time
}

// Memory holds per-sender conversation rings.
type Memory struct {
	maxEntries int
	ttl        time.Duration
	logger     *slog.Logger

	// now is injectable for tests.
	now func() time.Time

	mu      sync.Mutex
	entries map[string][]Entry
}

// New creates a Memory with the given per-sender cap and entry TTL.
func New(maxEntries int, ttl time.Duration, logger *slog.Logger) *Memory {
	if maxEntries <= 0 {
		maxEntries = 3
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		maxEntries: maxEntries,
		ttl:        ttl,
		logger:     logger.With("component", "history"),
		now:        time.Now,
		entries:    make(map[string][]Entry),
	}
}

// Record appends an exchange for a sender, evicting the oldest entry when
// the ring is full.
func (m *Memory) Record(senderID, userMessage, assistantResponse string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := m.entries[senderID]
	ring = append(ring, Entry{
		UserMessage:       userMessage,
		AssistantResponse: assistantResponse,
		Timestamp:         m.now(),
	})
	if len(ring) > m.maxEntries {
		ring = ring[len(ring)-m.maxEntries:]
	}
	m.entries[senderID] = ring
}

// Recent returns the sender's unexpired entries, oldest first.
func (m *Memory) Recent(senderID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	var out []Entry
	for _, e := range m.entries[senderID] {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// ContextFor renders the sender's recent exchanges as a prompt prefix, or
// empty when there is no usable history.
func (m *Memory) ContextFor(senderID string) string {
	entries := m.Recent(senderID)
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", e.UserMessage, e.AssistantResponse)
	}
	return b.String()
}

// Sweep removes expired entries and empty rings. Intended to run
// periodically from the app scheduler.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	removed := 0
	for sender, ring := range m.entries {
		kept := ring[:0]
		for _, e := range ring {
			if e.Timestamp.After(cutoff) {
				kept = append(kept, e)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(m.entries, sender)
		} else {
			m.entries[sender] = kept
		}
	}

	if removed > 0 {
		m.logger.Debug("history sweep", "removed", removed, "senders", len(m.entries))
	}
}
