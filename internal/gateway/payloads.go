package gateway

import (
	"encoding/json"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// Payload is the gateway envelope
type Payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s,omitempty"`
	T  *string         `json:"t,omitempty"`
}

type outbound struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type helloPayload struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type readyPayload struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type identifyPayload struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Shard          [2]int             `json:"shard"`
	Intents        int                `json:"intents"`
	Presence       *PresenceUpdate    `json:"presence,omitempty"`
}

type resumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// VoiceStateUpdate is the op 4 command. A nil ChannelID leaves voice.
type VoiceStateUpdate struct {
	GuildID   snowflake.Snowflake  `json:"guild_id"`
	ChannelID *snowflake.Snowflake `json:"channel_id"`
	SelfMute  bool                 `json:"self_mute"`
	SelfDeaf  bool                 `json:"self_deaf"`
}

// PresenceUpdate is the op 3 command.
type PresenceUpdate struct {
	Since      *int64            `json:"since"`
	Activities []models.Activity `json:"activities"`
	Status     models.Status     `json:"status"`
	AFK        bool              `json:"afk"`
}

// RequestGuildMembers is the op 8 command. Members arrive as
// GUILD_MEMBERS_CHUNK dispatches. Either Query or UserIDs is sent; an empty
// query with limit 0 requests every member.
type RequestGuildMembers struct {
	GuildID   snowflake.Snowflake   `json:"guild_id"`
	Query     *string               `json:"query,omitempty"`
	Limit     int                   `json:"limit"`
	Presences bool                  `json:"presences,omitempty"`
	UserIDs   []snowflake.Snowflake `json:"user_ids,omitempty"`
	Nonce     string                `json:"nonce,omitempty"`
}
