package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// Guild is an immutable snapshot of a cached guild. Roles, channels, members,
// presences and voice states are separate tables keyed by the guild id.
type Guild struct {
	ID                          snowflake.Snowflake
	Name                        string
	Icon                        string
	Splash                      string
	OwnerID                     snowflake.Snowflake
	Region                      string
	AFKChannelID                snowflake.Snowflake
	AFKTimeout                  int
	SystemChannelID             snowflake.Snowflake
	VerificationLevel           int
	DefaultMessageNotifications int
	ExplicitContentFilter       int
	MFALevel                    int
	Features                    []string
	Emojis                      []Emoji
	MemberCount                 int
	Large                       bool
	JoinedAt                    time.Time
	Available                   bool
}

// Clone returns a copy that shares no slices with g.
func (g Guild) Clone() Guild {
	out := g
	out.Features = append([]string(nil), g.Features...)
	out.Emojis = make([]Emoji, len(g.Emojis))
	for i, e := range g.Emojis {
		out.Emojis[i] = e.Clone()
	}
	return out
}

// HasFeature reports whether the guild has the named feature flag.
func (g Guild) HasFeature(name string) bool {
	for _, f := range g.Features {
		if f == name {
			return true
		}
	}
	return false
}

// GuildPayload is a guild object from GUILD_CREATE, GUILD_UPDATE or
// GUILD_DELETE. The nested collections are only sent on GUILD_CREATE.
type GuildPayload struct {
	ID                          snowflake.Snowflake        `json:"id"`
	Unavailable                 Field[bool]                `json:"unavailable"`
	Name                        Field[string]              `json:"name"`
	Icon                        Field[string]              `json:"icon"`
	Splash                      Field[string]              `json:"splash"`
	OwnerID                     Field[snowflake.Snowflake] `json:"owner_id"`
	Region                      Field[string]              `json:"region"`
	AFKChannelID                Field[snowflake.Snowflake] `json:"afk_channel_id"`
	AFKTimeout                  Field[int]                 `json:"afk_timeout"`
	SystemChannelID             Field[snowflake.Snowflake] `json:"system_channel_id"`
	VerificationLevel           Field[int]                 `json:"verification_level"`
	DefaultMessageNotifications Field[int]                 `json:"default_message_notifications"`
	ExplicitContentFilter       Field[int]                 `json:"explicit_content_filter"`
	MFALevel                    Field[int]                 `json:"mfa_level"`
	Features                    Field[[]string]            `json:"features"`
	Emojis                      Field[[]Emoji]             `json:"emojis"`
	MemberCount                 Field[int]                 `json:"member_count"`
	Large                       Field[bool]                `json:"large"`
	JoinedAt                    Field[time.Time]           `json:"joined_at"`

	Roles       []Role              `json:"roles"`
	Members     []MemberPayload     `json:"members"`
	Channels    []ChannelPayload    `json:"channels"`
	Presences   []PresencePayload   `json:"presences"`
	VoiceStates []VoiceStatePayload `json:"voice_states"`
}

// IsUnavailable reports whether the payload announces an outage.
func (p GuildPayload) IsUnavailable() bool {
	v, ok := p.Unavailable.Get()
	return ok && v
}

// ApplyTo merges the present scalar fields into g.
func (p GuildPayload) ApplyTo(g *Guild) {
	g.ID = p.ID
	p.Name.Apply(&g.Name)
	p.Icon.Apply(&g.Icon)
	p.Splash.Apply(&g.Splash)
	p.OwnerID.Apply(&g.OwnerID)
	p.Region.Apply(&g.Region)
	p.AFKChannelID.Apply(&g.AFKChannelID)
	p.AFKTimeout.Apply(&g.AFKTimeout)
	p.SystemChannelID.Apply(&g.SystemChannelID)
	p.VerificationLevel.Apply(&g.VerificationLevel)
	p.DefaultMessageNotifications.Apply(&g.DefaultMessageNotifications)
	p.ExplicitContentFilter.Apply(&g.ExplicitContentFilter)
	p.MFALevel.Apply(&g.MFALevel)
	if p.Features.Set {
		g.Features = append([]string(nil), p.Features.Value...)
	}
	if p.Emojis.Set {
		g.Emojis = cloneEmojis(p.Emojis.Value)
	}
	p.MemberCount.Apply(&g.MemberCount)
	p.Large.Apply(&g.Large)
	p.JoinedAt.Apply(&g.JoinedAt)
}

// Permissions is a permission bit set. The wire carries it as a decimal
// string; older payloads use a number.
type Permissions uint64

// Has reports whether every bit in flag is set.
func (p Permissions) Has(flag Permissions) bool {
	return p&flag == flag
}

// UnmarshalJSON accepts both encodings.
func (p *Permissions) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*p = 0
		return nil
	}
	raw := string(bytes.Trim(b, `"`))
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid permissions %q: %w", raw, err)
	}
	*p = Permissions(v)
	return nil
}

// MarshalJSON writes the string form.
func (p Permissions) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(p), 10))
}

// Role is an immutable snapshot of a guild role.
type Role struct {
	ID          snowflake.Snowflake `json:"id"`
	GuildID     snowflake.Snowflake `json:"-"`
	Name        string              `json:"name"`
	Color       int                 `json:"color"`
	Hoist       bool                `json:"hoist"`
	Position    int                 `json:"position"`
	Permissions Permissions         `json:"permissions"`
	Managed     bool                `json:"managed"`
	Mentionable bool                `json:"mentionable"`
}

// Mention returns the chat markup that mentions the role.
func (r Role) Mention() string {
	return "<@&" + r.ID.String() + ">"
}

// Emoji is a custom guild emoji.
type Emoji struct {
	ID            snowflake.Snowflake   `json:"id"`
	Name          string                `json:"name"`
	RoleIDs       []snowflake.Snowflake `json:"roles"`
	User          *UserRef              `json:"user,omitempty"`
	RequireColons bool                  `json:"require_colons"`
	Managed       bool                  `json:"managed"`
	Animated      bool                  `json:"animated"`
	Available     bool                  `json:"available"`
}

// Clone returns a copy that shares no slices with e.
func (e Emoji) Clone() Emoji {
	out := e
	out.RoleIDs = append([]snowflake.Snowflake(nil), e.RoleIDs...)
	if e.User != nil {
		ref := *e.User
		out.User = &ref
	}
	return out
}

func cloneEmojis(in []Emoji) []Emoji {
	out := make([]Emoji, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

// UnavailableGuild is the stub listed in READY for each guild the session
// will receive a GUILD_CREATE for.
type UnavailableGuild struct {
	ID          snowflake.Snowflake `json:"id"`
	Unavailable bool                `json:"unavailable"`
}
