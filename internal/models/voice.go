package models

import (
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// VoiceState is an immutable snapshot of a user's voice connection state in
// a guild. A zero ChannelID means the user is not in a voice channel.
type VoiceState struct {
	GuildID    snowflake.Snowflake `json:"guild_id"`
	ChannelID  snowflake.Snowflake `json:"channel_id"`
	UserID     snowflake.Snowflake `json:"user_id"`
	SessionID  string              `json:"session_id"`
	Deaf       bool                `json:"deaf"`
	Mute       bool                `json:"mute"`
	SelfDeaf   bool                `json:"self_deaf"`
	SelfMute   bool                `json:"self_mute"`
	SelfStream bool                `json:"self_stream"`
	SelfVideo  bool                `json:"self_video"`
	Suppress   bool                `json:"suppress"`
}

// InChannel reports whether the user is connected to a voice channel.
func (v VoiceState) InChannel() bool {
	return !v.ChannelID.IsZero()
}

// VoiceStatePayload is a voice state object. VOICE_STATE_UPDATE carries the
// member inline.
type VoiceStatePayload struct {
	VoiceState
	Member *MemberPayload `json:"member"`
}

// VoiceServer is the VOICE_SERVER_UPDATE payload. A null endpoint means the
// voice server went away and a new one will be allocated.
type VoiceServer struct {
	Token    string              `json:"token"`
	GuildID  snowflake.Snowflake `json:"guild_id"`
	Endpoint *string             `json:"endpoint"`
}

// EndpointHost returns the endpoint or an empty string.
func (v VoiceServer) EndpointHost() string {
	if v.Endpoint == nil {
		return ""
	}
	return *v.Endpoint
}
