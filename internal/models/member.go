package models

import (
	"time"

	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// Member is an immutable snapshot of a guild member. User is resolved from
// the user table when the snapshot is built.
type Member struct {
	GuildID      snowflake.Snowflake
	User         User
	Nick         string
	Avatar       string
	RoleIDs      []snowflake.Snowflake
	JoinedAt     time.Time
	PremiumSince time.Time
	Deaf         bool
	Mute         bool
	Pending      bool
}

// UserID returns the id of the member's user.
func (m Member) UserID() snowflake.Snowflake {
	return m.User.ID
}

// DisplayName returns the nickname, falling back to the global then the
// account name.
func (m Member) DisplayName() string {
	switch {
	case m.Nick != "":
		return m.Nick
	case m.User.GlobalName != "":
		return m.User.GlobalName
	default:
		return m.User.Username
	}
}

// HasRole reports whether the member holds the role.
func (m Member) HasRole(id snowflake.Snowflake) bool {
	for _, r := range m.RoleIDs {
		if r == id {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with m.
func (m Member) Clone() Member {
	out := m
	out.RoleIDs = append([]snowflake.Snowflake(nil), m.RoleIDs...)
	return out
}

// MemberPayload is a guild member object. GUILD_MEMBER_UPDATE sends a
// partial one.
type MemberPayload struct {
	GuildID      snowflake.Snowflake          `json:"guild_id"`
	User         UserPayload                  `json:"user"`
	Nick         Field[string]                `json:"nick"`
	Avatar       Field[string]                `json:"avatar"`
	Roles        Field[[]snowflake.Snowflake] `json:"roles"`
	JoinedAt     Field[time.Time]             `json:"joined_at"`
	PremiumSince Field[time.Time]             `json:"premium_since"`
	Deaf         Field[bool]                  `json:"deaf"`
	Mute         Field[bool]                  `json:"mute"`
	Pending      Field[bool]                  `json:"pending"`
}

// ApplyTo merges the member fields into m. The user is handled separately
// because it lives in its own table.
func (p MemberPayload) ApplyTo(m *Member) {
	p.Nick.Apply(&m.Nick)
	p.Avatar.Apply(&m.Avatar)
	if p.Roles.Set {
		m.RoleIDs = append([]snowflake.Snowflake(nil), p.Roles.Value...)
	}
	p.JoinedAt.Apply(&m.JoinedAt)
	p.PremiumSince.Apply(&m.PremiumSince)
	p.Deaf.Apply(&m.Deaf)
	p.Mute.Apply(&m.Mute)
	p.Pending.Apply(&m.Pending)
}
