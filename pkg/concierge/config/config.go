// Package config – config.go defines all configuration structures for the
// concierge agent. Everything here is fixed at startup; nothing is reloaded
// dynamically.
package config

import (
	"strings"
	"time"

	"github.com/jholhewres/concierge/pkg/concierge/messaging/discord"
	"github.com/jholhewres/concierge/pkg/concierge/messaging/whatsapp"
)

// Config holds all agent configuration.
type Config struct {
	// Name is the agent name shown in responses.
	Name string `yaml:"name"`

	// MentionHandles is the comma-separated list of aliases that activate
	// the agent in group conversations (e.g. "concierge,rocky").
	MentionHandles string `yaml:"mention_handles"`

	// Timezone is the event timezone (e.g. "America/New_York"). Used for
	// reference output; reminder times are stored UTC regardless.
	Timezone string `yaml:"timezone"`

	// LLM configures the language-model endpoint.
	LLM LLMConfig `yaml:"llm"`

	// Transport selects and configures the messaging transport.
	Transport TransportConfig `yaml:"transport"`

	// Admin configures the authorized-identity allow-list and the relay
	// identity.
	Admin AdminConfig `yaml:"admin"`

	// Reminders configures the reminder store and dispatcher.
	Reminders RemindersConfig `yaml:"reminders"`

	// Broadcast configures the staged-broadcast workflow.
	Broadcast BroadcastConfig `yaml:"broadcast"`

	// History configures the bounded conversation memory.
	History HistoryConfig `yaml:"history"`

	// Activities maps activity keywords to their fixed group chats.
	Activities map[string]ActivityConfig `yaml:"activities"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the language-model client.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible endpoint base URL.
	BaseURL string `yaml:"base_url"`

	// APIKey is the API key. Prefer leaving this empty and using the OS
	// keyring or the CONCIERGE_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`
}

// TransportConfig selects the messaging transport.
type TransportConfig struct {
	// Kind is "whatsapp" or "discord".
	Kind string `yaml:"kind"`

	// WhatsApp is the WhatsApp transport config.
	WhatsApp whatsapp.Config `yaml:"whatsapp"`

	// Discord is the Discord transport config.
	Discord discord.Config `yaml:"discord"`
}

// AdminConfig configures privileged identities.
type AdminConfig struct {
	// Allowlist holds the addresses authorized for broadcast and
	// addToGroup, compared case-insensitively.
	Allowlist []string `yaml:"allowlist"`

	// RelayAddress is the single identity allowed to use the
	// SEND_TO:<address>:<message> relay.
	RelayAddress string `yaml:"relay_address"`
}

// RemindersConfig configures the reminder store and dispatcher.
type RemindersConfig struct {
	// DBPath is the SQLite database file path.
	DBPath string `yaml:"db_path"`

	// PollInterval is how often the dispatcher checks for due reminders.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// BroadcastConfig configures staged broadcasts.
type BroadcastConfig struct {
	// IncludeGroups includes multi-party group conversations in the
	// fan-out. Default false: broadcasts go to DMs only.
	IncludeGroups bool `yaml:"include_groups"`

	// SendDelay is the pause between consecutive sends (rate-limit
	// avoidance).
	SendDelay time.Duration `yaml:"send_delay"`
}

// HistoryConfig configures the per-sender conversation memory.
type HistoryConfig struct {
	// MaxEntries is the max retained exchanges per sender.
	MaxEntries int `yaml:"max_entries"`

	// TTL is how long an entry stays relevant.
	TTL time.Duration `yaml:"ttl"`

	// SweepInterval is how often expired entries are purged.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ActivityConfig describes one fixed activity group.
type ActivityConfig struct {
	// GroupID is the stable conversation id of the activity group.
	GroupID string `yaml:"group_id"`

	// Label is the display name used in prompts (e.g. "🧘 Yoga").
	Label string `yaml:"label"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// Aliases returns the mention handles as a cleaned slice.
func (c *Config) Aliases() []string {
	var out []string
	for _, h := range strings.Split(c.MentionHandles, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:           "Concierge",
		MentionHandles: "concierge",
		Timezone:       "America/New_York",
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Transport: TransportConfig{
			Kind:     "whatsapp",
			WhatsApp: whatsapp.DefaultConfig(),
			Discord:  discord.DefaultConfig(),
		},
		Reminders: RemindersConfig{
			DBPath:       "./data/concierge.db",
			PollInterval: 30 * time.Second,
		},
		Broadcast: BroadcastConfig{
			IncludeGroups: false,
			SendDelay:     100 * time.Millisecond,
		},
		History: HistoryConfig{
			MaxEntries:    3,
			TTL:           time.Hour,
			SweepInterval: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
