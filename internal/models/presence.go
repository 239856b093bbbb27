package models

import (
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// Status is a user's online status.
type Status string

// Status values
const (
	StatusOnline    Status = "online"
	StatusIdle      Status = "idle"
	StatusDND       Status = "dnd"
	StatusInvisible Status = "invisible"
	StatusOffline   Status = "offline"
)

// ActivityType distinguishes playing, streaming, listening and so on.
type ActivityType int

// Activity is one entry of a presence's activity list.
type Activity struct {
	Name    string       `json:"name"`
	Type    ActivityType `json:"type"`
	URL     string       `json:"url,omitempty"`
	State   string       `json:"state,omitempty"`
	Details string       `json:"details,omitempty"`
}

// ClientStatus is the per-platform status.
type ClientStatus struct {
	Desktop Status `json:"desktop,omitempty"`
	Mobile  Status `json:"mobile,omitempty"`
	Web     Status `json:"web,omitempty"`
}

// Presence is an immutable snapshot of a member's presence in a guild.
type Presence struct {
	GuildID      snowflake.Snowflake
	UserID       snowflake.Snowflake
	Status       Status
	Activities   []Activity
	ClientStatus ClientStatus
}

// Clone returns a copy that shares no slices with p.
func (p Presence) Clone() Presence {
	out := p
	out.Activities = append([]Activity(nil), p.Activities...)
	return out
}

// PresencePayload is a presence object. The user is reference-only in
// GUILD_CREATE and may be inline in PRESENCE_UPDATE.
type PresencePayload struct {
	User         UserRef             `json:"user"`
	GuildID      snowflake.Snowflake `json:"guild_id"`
	Status       Field[Status]       `json:"status"`
	Activities   Field[[]Activity]   `json:"activities"`
	ClientStatus Field[ClientStatus] `json:"client_status"`
}

// ApplyTo merges the present fields into p.
func (pp PresencePayload) ApplyTo(p *Presence) {
	p.UserID = pp.User.ID()
	pp.Status.Apply(&p.Status)
	if pp.Activities.Set {
		p.Activities = append([]Activity(nil), pp.Activities.Value...)
	}
	pp.ClientStatus.Apply(&p.ClientStatus)
}
