package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// ChannelType represents channel types
type ChannelType int

// Channel type constants
const (
	ChannelTypeGuildText          ChannelType = 0
	ChannelTypeDM                 ChannelType = 1
	ChannelTypeGuildVoice         ChannelType = 2
	ChannelTypeGroupDM            ChannelType = 3
	ChannelTypeGuildCategory      ChannelType = 4
	ChannelTypeGuildNews          ChannelType = 5
	ChannelTypeGuildStore         ChannelType = 6
	ChannelTypeGuildNewsThread    ChannelType = 10
	ChannelTypeGuildPublicThread  ChannelType = 11
	ChannelTypeGuildPrivateThread ChannelType = 12
	ChannelTypeGuildStageVoice    ChannelType = 13
	ChannelTypeGuildForum         ChannelType = 15
)

// legacyChannelTypes maps the string encoding used by old API versions.
var legacyChannelTypes = map[string]ChannelType{
	"text":     ChannelTypeGuildText,
	"voice":    ChannelTypeGuildVoice,
	"category": ChannelTypeGuildCategory,
	"dm":       ChannelTypeDM,
	"group":    ChannelTypeGroupDM,
}

// UnmarshalJSON decodes the numeric type. The string form is accepted for
// old payloads only.
func (t *ChannelType) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, ok := legacyChannelTypes[s]
		if !ok {
			return fmt.Errorf("unknown legacy channel type %q", s)
		}
		*t = v
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid channel type %s: %w", b, err)
	}
	*t = ChannelType(n)
	return nil
}

// IsGuild reports whether channels of this type belong to a guild.
func (t ChannelType) IsGuild() bool {
	return t != ChannelTypeDM && t != ChannelTypeGroupDM
}

// Channel is the closed set of channel snapshots: TextChannel, VoiceChannel,
// CategoryChannel, UnknownChannel and DMChannel.
type Channel interface {
	ChannelID() snowflake.Snowflake
	Kind() ChannelType
	clone() Channel
}

// GuildScoped is implemented by channels that belong to a guild.
type GuildScoped interface {
	Channel
	OwningGuild() snowflake.Snowflake
}

// Positioned is implemented by channels with a sort position in the guild's
// channel list.
type Positioned interface {
	Channel
	SortPosition() int
}

// CloneChannel returns a deep copy of c.
func CloneChannel(c Channel) Channel {
	if c == nil {
		return nil
	}
	return c.clone()
}

// OverwriteType is the target kind of a permission overwrite.
type OverwriteType int

// Overwrite target kinds
const (
	OverwriteTypeRole   OverwriteType = 0
	OverwriteTypeMember OverwriteType = 1
)

// UnmarshalJSON accepts the numeric form and the legacy "role"/"member".
func (o *OverwriteType) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"role"`:
		*o = OverwriteTypeRole
		return nil
	case `"member"`:
		*o = OverwriteTypeMember
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid overwrite type %s: %w", b, err)
	}
	*o = OverwriteType(n)
	return nil
}

// Overwrite is a per-role or per-member permission overwrite.
type Overwrite struct {
	ID    snowflake.Snowflake `json:"id"`
	Type  OverwriteType       `json:"type"`
	Allow Permissions         `json:"allow"`
	Deny  Permissions         `json:"deny"`
}

// GuildChannelInfo holds the fields every guild channel kind shares.
type GuildChannelInfo struct {
	ID         snowflake.Snowflake
	Type       ChannelType
	GuildID    snowflake.Snowflake
	Name       string
	Position   int
	ParentID   snowflake.Snowflake
	NSFW       bool
	Overwrites []Overwrite
}

func (g GuildChannelInfo) ChannelID() snowflake.Snowflake   { return g.ID }
func (g GuildChannelInfo) Kind() ChannelType                { return g.Type }
func (g GuildChannelInfo) OwningGuild() snowflake.Snowflake { return g.GuildID }
func (g GuildChannelInfo) SortPosition() int                { return g.Position }

// Mention returns the chat markup that links the channel.
func (g GuildChannelInfo) Mention() string {
	return "<#" + g.ID.String() + ">"
}

func (g GuildChannelInfo) cloneInfo() GuildChannelInfo {
	out := g
	out.Overwrites = append([]Overwrite(nil), g.Overwrites...)
	return out
}

// TextChannel covers text, news and forum channels.
type TextChannel struct {
	GuildChannelInfo
	Topic            string
	LastMessageID    snowflake.Snowflake
	RateLimitPerUser int
	LastPinTimestamp time.Time
}

func (c TextChannel) clone() Channel {
	c.GuildChannelInfo = c.GuildChannelInfo.cloneInfo()
	return c
}

// VoiceChannel covers voice and stage channels.
type VoiceChannel struct {
	GuildChannelInfo
	Bitrate   int
	UserLimit int
	RTCRegion string
}

func (c VoiceChannel) clone() Channel {
	c.GuildChannelInfo = c.GuildChannelInfo.cloneInfo()
	return c
}

// CategoryChannel groups other guild channels.
type CategoryChannel struct {
	GuildChannelInfo
}

func (c CategoryChannel) clone() Channel {
	c.GuildChannelInfo = c.GuildChannelInfo.cloneInfo()
	return c
}

// UnknownChannel is a guild channel of a kind this client does not model.
type UnknownChannel struct {
	GuildChannelInfo
}

func (c UnknownChannel) clone() Channel {
	c.GuildChannelInfo = c.GuildChannelInfo.cloneInfo()
	return c
}

// DMChannel is a direct message or group DM channel.
type DMChannel struct {
	ID               snowflake.Snowflake
	Type             ChannelType
	Name             string
	OwnerID          snowflake.Snowflake
	RecipientIDs     []snowflake.Snowflake
	LastMessageID    snowflake.Snowflake
	LastPinTimestamp time.Time
}

func (c DMChannel) ChannelID() snowflake.Snowflake { return c.ID }
func (c DMChannel) Kind() ChannelType              { return c.Type }

func (c DMChannel) clone() Channel {
	c.RecipientIDs = append([]snowflake.Snowflake(nil), c.RecipientIDs...)
	return c
}

// ChannelPayload is a channel object from CHANNEL_* events, GUILD_CREATE or
// READY.
type ChannelPayload struct {
	ID                   snowflake.Snowflake `json:"id"`
	Type                 ChannelType         `json:"type"`
	GuildID              snowflake.Snowflake `json:"guild_id"`
	Name                 string              `json:"name"`
	Position             int                 `json:"position"`
	ParentID             snowflake.Snowflake `json:"parent_id"`
	NSFW                 bool                `json:"nsfw"`
	PermissionOverwrites []Overwrite         `json:"permission_overwrites"`
	Topic                string              `json:"topic"`
	LastMessageID        snowflake.Snowflake `json:"last_message_id"`
	RateLimitPerUser     int                 `json:"rate_limit_per_user"`
	LastPinTimestamp     *time.Time          `json:"last_pin_timestamp"`
	Bitrate              int                 `json:"bitrate"`
	UserLimit            int                 `json:"user_limit"`
	RTCRegion            string              `json:"rtc_region"`
	OwnerID              snowflake.Snowflake `json:"owner_id"`
	Recipients           []UserPayload       `json:"recipients"`
}

// Build converts the payload into its channel variant. guildID fills in the
// owning guild for channels nested in GUILD_CREATE, which omit it.
func (p ChannelPayload) Build(guildID snowflake.Snowflake) Channel {
	var lastPin time.Time
	if p.LastPinTimestamp != nil {
		lastPin = *p.LastPinTimestamp
	}

	if !p.Type.IsGuild() {
		ids := make([]snowflake.Snowflake, 0, len(p.Recipients))
		for _, r := range p.Recipients {
			ids = append(ids, r.ID)
		}
		return DMChannel{
			ID:               p.ID,
			Type:             p.Type,
			Name:             p.Name,
			OwnerID:          p.OwnerID,
			RecipientIDs:     ids,
			LastMessageID:    p.LastMessageID,
			LastPinTimestamp: lastPin,
		}
	}

	if p.GuildID.IsZero() {
		p.GuildID = guildID
	}
	info := GuildChannelInfo{
		ID:         p.ID,
		Type:       p.Type,
		GuildID:    p.GuildID,
		Name:       p.Name,
		Position:   p.Position,
		ParentID:   p.ParentID,
		NSFW:       p.NSFW,
		Overwrites: append([]Overwrite(nil), p.PermissionOverwrites...),
	}

	switch p.Type {
	case ChannelTypeGuildText, ChannelTypeGuildNews, ChannelTypeGuildForum:
		return TextChannel{
			GuildChannelInfo: info,
			Topic:            p.Topic,
			LastMessageID:    p.LastMessageID,
			RateLimitPerUser: p.RateLimitPerUser,
			LastPinTimestamp: lastPin,
		}
	case ChannelTypeGuildVoice, ChannelTypeGuildStageVoice:
		return VoiceChannel{
			GuildChannelInfo: info,
			Bitrate:          p.Bitrate,
			UserLimit:        p.UserLimit,
			RTCRegion:        p.RTCRegion,
		}
	case ChannelTypeGuildCategory:
		return CategoryChannel{GuildChannelInfo: info}
	default:
		return UnknownChannel{GuildChannelInfo: info}
	}
}

// IsNull reports whether raw is absent or JSON null.
func IsNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
