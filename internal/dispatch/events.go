package dispatch

import (
	"time"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// Event is a typed notification raised after the cache was mutated. Name
// identifies the kind for subscription filters.
type Event interface {
	Name() string
}

// Notification is an event tagged with the shard that produced it.
type Notification struct {
	Shard int
	Event Event
}

// Sink receives notifications in the order the dispatch sequence produced
// them. Publish is called from the dispatch sequence and must not block.
type Sink interface {
	Publish(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(n Notification)

// Publish calls f(n).
func (f SinkFunc) Publish(n Notification) { f(n) }

// Notification kinds
const (
	EventReady                    = "READY"
	EventResumed                  = "RESUMED"
	EventGuildCreated             = "GUILD_CREATE"
	EventGuildAvailable           = "GUILD_AVAILABLE"
	EventGuildUpdated             = "GUILD_UPDATE"
	EventGuildUnavailable         = "GUILD_UNAVAILABLE"
	EventGuildRemoved             = "GUILD_DELETE"
	EventGuildBanAdded            = "GUILD_BAN_ADD"
	EventGuildBanRemoved          = "GUILD_BAN_REMOVE"
	EventGuildEmojisUpdated       = "GUILD_EMOJIS_UPDATE"
	EventGuildIntegrationsUpdated = "GUILD_INTEGRATIONS_UPDATE"
	EventGuildMemberAdded         = "GUILD_MEMBER_ADD"
	EventGuildMemberUpdated       = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemoved       = "GUILD_MEMBER_REMOVE"
	EventGuildMembersChunk        = "GUILD_MEMBERS_CHUNK"
	EventGuildRoleCreated         = "GUILD_ROLE_CREATE"
	EventGuildRoleUpdated         = "GUILD_ROLE_UPDATE"
	EventGuildRoleDeleted         = "GUILD_ROLE_DELETE"
	EventChannelCreated           = "CHANNEL_CREATE"
	EventChannelUpdated           = "CHANNEL_UPDATE"
	EventChannelRemoved           = "CHANNEL_DELETE"
	EventChannelPinsUpdated       = "CHANNEL_PINS_UPDATE"
	EventMessageCreated           = "MESSAGE_CREATE"
	EventMessageUpdated           = "MESSAGE_UPDATE"
	EventMessageDeleted           = "MESSAGE_DELETE"
	EventMessageReactionAdded     = "MESSAGE_REACTION_ADD"
	EventMessageReactionRemoved   = "MESSAGE_REACTION_REMOVE"
	EventMessageReactionsCleared  = "MESSAGE_REACTION_REMOVE_ALL"
	EventPresenceUpdated          = "PRESENCE_UPDATE"
	EventTypingStarted            = "TYPING_START"
	EventUserUpdated              = "USER_UPDATE"
	EventVoiceStateUpdated        = "VOICE_STATE_UPDATE"
)

// Ready is raised once the cache has been seeded from READY.
type Ready struct {
	User      models.User
	SessionID string
	GuildIDs  []snowflake.Snowflake
	Version   int
}

// Resumed is raised when a session resumed; the cache was not rebuilt.
type Resumed struct{}

// GuildCreated is raised when the current user joins a guild.
type GuildCreated struct{ Guild models.Guild }

// GuildAvailable is raised when a guild listed in READY, or one that had an
// outage, is loaded.
type GuildAvailable struct{ Guild models.Guild }

// GuildUpdated is raised after a guild's settings changed.
type GuildUpdated struct{ Guild models.Guild }

// GuildUnavailable is raised on an outage. Cached children are kept.
type GuildUnavailable struct{ Guild models.Guild }

// GuildRemoved is raised when the current user left or was removed from a
// guild. Its children have been dropped from the cache.
type GuildRemoved struct{ Guild models.Guild }

// GuildBanAdded is raised when a user is banned.
type GuildBanAdded struct {
	Guild models.Guild
	User  models.User
}

// GuildBanRemoved is raised when a ban is lifted.
type GuildBanRemoved struct {
	Guild models.Guild
	User  models.User
}

// GuildEmojisUpdated is raised after the emoji list was replaced.
type GuildEmojisUpdated struct{ Guild models.Guild }

// GuildIntegrationsUpdated is raised when a guild's integrations changed.
type GuildIntegrationsUpdated struct{ Guild models.Guild }

// GuildMemberAdded is raised when a user joins a guild.
type GuildMemberAdded struct {
	Guild  models.Guild
	Member models.Member
}

// GuildMemberUpdated is raised after a member was merged.
type GuildMemberUpdated struct {
	Guild  models.Guild
	Member models.Member
}

// GuildMemberRemoved is raised when a cached member leaves.
type GuildMemberRemoved struct {
	Guild  models.Guild
	Member models.Member
}

// GuildMembersChunk is raised for each response chunk of a member request.
type GuildMembersChunk struct {
	Guild      models.Guild
	Members    []models.Member
	ChunkIndex int
	ChunkCount int
	NotFound   []snowflake.Snowflake
	Nonce      string
}

// GuildRoleCreated is raised when a role is created.
type GuildRoleCreated struct {
	Guild models.Guild
	Role  models.Role
}

// GuildRoleUpdated is raised when a role changed.
type GuildRoleUpdated struct {
	Guild models.Guild
	Role  models.Role
}

// GuildRoleDeleted is raised with the last snapshot of a deleted role.
type GuildRoleDeleted struct {
	Guild models.Guild
	Role  models.Role
}

// ChannelCreated is raised for new guild and DM channels.
type ChannelCreated struct{ Channel models.Channel }

// ChannelUpdated is raised when a channel changed.
type ChannelUpdated struct{ Channel models.Channel }

// ChannelRemoved is raised with the last snapshot of a deleted channel.
type ChannelRemoved struct{ Channel models.Channel }

// ChannelPinsUpdated is raised when a message was pinned or unpinned.
type ChannelPinsUpdated struct {
	Channel          models.Channel
	LastPinTimestamp time.Time
}

// MessageCreated carries a new message with its author resolved.
type MessageCreated struct{ Message models.Message }

// MessageUpdated carries the changed fields of a message. Author is set when
// the payload included one.
type MessageUpdated struct {
	Update models.MessageUpdate
	Author *models.User
}

// MessageDeleted is raised once per deleted message, bulk deletes included.
// Channel is nil when the channel is not cached.
type MessageDeleted struct {
	MessageID snowflake.Snowflake
	ChannelID snowflake.Snowflake
	GuildID   snowflake.Snowflake
	Channel   models.Channel
}

// MessageReactionAdded is raised when a user reacts.
type MessageReactionAdded struct {
	UserID    snowflake.Snowflake
	User      models.User
	MessageID snowflake.Snowflake
	ChannelID snowflake.Snowflake
	GuildID   snowflake.Snowflake
	Emoji     models.ReactionEmoji
}

// MessageReactionRemoved is raised when a user removes a reaction.
type MessageReactionRemoved struct {
	UserID    snowflake.Snowflake
	User      models.User
	MessageID snowflake.Snowflake
	ChannelID snowflake.Snowflake
	GuildID   snowflake.Snowflake
	Emoji     models.ReactionEmoji
}

// MessageReactionsCleared is raised when every reaction of a message is
// removed.
type MessageReactionsCleared struct {
	MessageID snowflake.Snowflake
	ChannelID snowflake.Snowflake
	GuildID   snowflake.Snowflake
}

// PresenceUpdated carries a member's new presence.
type PresenceUpdated struct {
	Guild    models.Guild
	Member   models.Member
	Presence models.Presence
}

// TypingStarted is raised when a user starts typing.
type TypingStarted struct {
	User      models.User
	ChannelID snowflake.Snowflake
	GuildID   snowflake.Snowflake
	Timestamp time.Time
}

// UserUpdated is raised when the current user's account changed.
type UserUpdated struct{ User models.User }

// VoiceStateUpdated carries a voice state change. Previous is the zero value
// when HadPrevious is false.
type VoiceStateUpdated struct {
	State       models.VoiceState
	Previous    models.VoiceState
	HadPrevious bool
}

func (Ready) Name() string                    { return EventReady }
func (Resumed) Name() string                  { return EventResumed }
func (GuildCreated) Name() string             { return EventGuildCreated }
func (GuildAvailable) Name() string           { return EventGuildAvailable }
func (GuildUpdated) Name() string             { return EventGuildUpdated }
func (GuildUnavailable) Name() string         { return EventGuildUnavailable }
func (GuildRemoved) Name() string             { return EventGuildRemoved }
func (GuildBanAdded) Name() string            { return EventGuildBanAdded }
func (GuildBanRemoved) Name() string          { return EventGuildBanRemoved }
func (GuildEmojisUpdated) Name() string       { return EventGuildEmojisUpdated }
func (GuildIntegrationsUpdated) Name() string { return EventGuildIntegrationsUpdated }
func (GuildMemberAdded) Name() string         { return EventGuildMemberAdded }
func (GuildMemberUpdated) Name() string       { return EventGuildMemberUpdated }
func (GuildMemberRemoved) Name() string       { return EventGuildMemberRemoved }
func (GuildMembersChunk) Name() string        { return EventGuildMembersChunk }
func (GuildRoleCreated) Name() string         { return EventGuildRoleCreated }
func (GuildRoleUpdated) Name() string         { return EventGuildRoleUpdated }
func (GuildRoleDeleted) Name() string         { return EventGuildRoleDeleted }
func (ChannelCreated) Name() string           { return EventChannelCreated }
func (ChannelUpdated) Name() string           { return EventChannelUpdated }
func (ChannelRemoved) Name() string           { return EventChannelRemoved }
func (ChannelPinsUpdated) Name() string       { return EventChannelPinsUpdated }
func (MessageCreated) Name() string           { return EventMessageCreated }
func (MessageUpdated) Name() string           { return EventMessageUpdated }
func (MessageDeleted) Name() string           { return EventMessageDeleted }
func (MessageReactionAdded) Name() string     { return EventMessageReactionAdded }
func (MessageReactionRemoved) Name() string   { return EventMessageReactionRemoved }
func (MessageReactionsCleared) Name() string  { return EventMessageReactionsCleared }
func (PresenceUpdated) Name() string          { return EventPresenceUpdated }
func (TypingStarted) Name() string            { return EventTypingStarted }
func (UserUpdated) Name() string              { return EventUserUpdated }
func (VoiceStateUpdated) Name() string        { return EventVoiceStateUpdated }
