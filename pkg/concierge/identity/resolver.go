// Package identity resolves platform sender identities to display names and
// addresses. All identity fan-out (allow-list checks, "Sent by" labels,
// relay targets) goes through the Resolver so every caller shares one
// fallback policy and one cache.
package identity

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Lookups is the subset of the transport the resolver needs.
type Lookups interface {
	ResolveAddress(ctx context.Context, senderID string) (string, error)
	ContactName(ctx context.Context, senderID string) (string, error)
}

// Resolver maps sender identities to human-readable names and stable
// addresses. Lookups are cached for the process lifetime; identities do not
// change mid-session.
type Resolver struct {
	lookups Lookups
	logger  *slog.Logger

	mu        sync.Mutex
	names     map[string]string
	addresses map[string]string
}

// NewResolver creates a resolver backed by the given transport lookups.
func NewResolver(lookups Lookups, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		lookups:   lookups,
		logger:    logger.With("component", "identity"),
		names:     make(map[string]string),
		addresses: make(map[string]string),
	}
}

// DisplayName resolves a sender to the best available label:
// contact name, then truncated address, then truncated opaque id.
// Never fails; the opaque id fallback always applies.
func (r *Resolver) DisplayName(ctx context.Context, senderID string) string {
	r.mu.Lock()
	if name, ok := r.names[senderID]; ok {
		r.mu.Unlock()
		return name
	}
	r.mu.Unlock()

	name := r.resolveName(ctx, senderID)

	r.mu.Lock()
	r.names[senderID] = name
	r.mu.Unlock()
	return name
}

// Address resolves a sender to its normalized underlying address, used for
// allow-list comparison. Falls back to the sender id itself.
func (r *Resolver) Address(ctx context.Context, senderID string) string {
	r.mu.Lock()
	if addr, ok := r.addresses[senderID]; ok {
		r.mu.Unlock()
		return addr
	}
	r.mu.Unlock()

	addr, err := r.lookups.ResolveAddress(ctx, senderID)
	if err != nil || addr == "" {
		r.logger.Debug("address lookup failed, using sender id",
			"sender", senderID, "error", err)
		addr = senderID
	}
	addr = Normalize(addr)

	r.mu.Lock()
	r.addresses[senderID] = addr
	r.mu.Unlock()
	return addr
}

// IsAllowed reports whether the sender's address appears in the allow-list.
// Comparison is case-insensitive after normalization.
func (r *Resolver) IsAllowed(ctx context.Context, senderID string, allowlist []string) bool {
	addr := r.Address(ctx, senderID)
	for _, allowed := range allowlist {
		if Normalize(allowed) == addr {
			return true
		}
	}
	return false
}

// resolveName walks the fallback chain without consulting the cache.
func (r *Resolver) resolveName(ctx context.Context, senderID string) string {
	if name, err := r.lookups.ContactName(ctx, senderID); err == nil && name != "" {
		return name
	}

	if addr, err := r.lookups.ResolveAddress(ctx, senderID); err == nil && addr != "" {
		return TruncateAddress(addr)
	}

	// Last resort: a recognizable prefix of the opaque id.
	id := senderID
	if len(id) > 6 {
		id = id[:6] + "..."
	}
	return "inbox-" + id
}

// Normalize lowercases an address for comparison. Hex addresses keep their
// 0x prefix.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// TruncateAddress shortens an address for display: "0xabcdef...1234".
// Short addresses are returned unchanged.
func TruncateAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
