// Package content holds the static event knowledge the responder can quote:
// the activity schedule and venue logistics. The data is fixed at build time;
// editing it is an intentional release, not a runtime concern.
package content

import "strings"

// Provider serves read-only event content for prompt assembly.
type Provider struct {
	schedule  string
	logistics string
}

// New returns a Provider with the built-in event content.
func New() *Provider {
	return &Provider{
		schedule:  defaultSchedule,
		logistics: defaultLogistics,
	}
}

// Schedule returns the full activity schedule text.
func (p *Provider) Schedule() string { return p.schedule }

// Logistics returns the venue and FAQ text.
func (p *Provider) Logistics() string { return p.logistics }

// Context renders all content as a prompt section for the responder.
func (p *Provider) Context() string {
	var b strings.Builder
	b.WriteString("Event schedule:\n")
	b.WriteString(p.schedule)
	b.WriteString("\n\nVenue and logistics:\n")
	b.WriteString(p.logistics)
	return b.String()
}

const defaultSchedule = `Daily activities:
- 7:00 AM — Sunrise yoga on the main lawn (mats provided)
- 8:00 AM — Group run, meet at the front gate (5k and 10k routes)
- 12:00 PM — Pickleball open play at the sport courts
- 4:00 PM — Guided hike, meet at the trailhead by the east parking lot

Evenings:
- 6:30 PM — Dinner at the main hall
- 8:00 PM — Fireside social`

const defaultLogistics = `Venue: main campus, check in at the welcome desk in the lobby.
WiFi: network "event-guest", no password.
Meals: breakfast 7-9 AM, lunch 12-2 PM, dinner 6:30-8 PM, all in the main hall.
Parking: east and north lots, overnight parking allowed.
Quiet hours: 10 PM to 6 AM.
Need help? Message the concierge or visit the welcome desk.`
