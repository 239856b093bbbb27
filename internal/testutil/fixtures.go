package testutil

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
)

// BotUserID is the id of the bot user in READY and in the generated guilds.
const BotUserID = "1"

// GenerateUser creates a user payload with the given id.
func GenerateUser(id, username string) map[string]any {
	return map[string]any{
		"id":            id,
		"username":      username,
		"discriminator": "0",
		"avatar":        nil,
	}
}

// GenerateMember creates a member payload for the given user.
func GenerateMember(user map[string]any, nick string) map[string]any {
	member := map[string]any{
		"user":      user,
		"roles":     []any{},
		"joined_at": "2024-01-01T00:00:00.000000+00:00",
		"deaf":      false,
		"mute":      false,
	}
	if nick != "" {
		member["nick"] = nick
	}
	return member
}

// GenerateGuild creates a GUILD_CREATE payload holding the @everyone role
// and the bot as its only member. Channels are added as given.
func GenerateGuild(id, name string, channels ...map[string]any) map[string]any {
	chans := make([]any, 0, len(channels))
	for _, ch := range channels {
		chans = append(chans, ch)
	}
	return map[string]any{
		"id":           id,
		"name":         name,
		"owner_id":     BotUserID,
		"member_count": 1,
		"roles": []any{
			map[string]any{"id": id, "name": "@everyone", "permissions": "0"},
		},
		"members": []any{
			GenerateMember(map[string]any{"id": BotUserID, "username": "gateway-bot", "bot": true}, ""),
		},
		"channels": chans,
	}
}

// GenerateVoiceChannel creates a guild voice channel payload.
func GenerateVoiceChannel(id, name string) map[string]any {
	return map[string]any{"id": id, "type": 2, "name": name, "bitrate": 64000}
}

// GenerateShardSession creates a resumable session for the given shard.
func GenerateShardSession(shardID, shardCount int, sessionID string, seq int64) *models.ShardSession {
	return &models.ShardSession{
		ShardID:          shardID,
		ShardCount:       shardCount,
		SessionID:        sessionID,
		ResumeGatewayURL: "wss://resume.example",
		Sequence:         seq,
		Status:           models.SessionStatusReady,
		LastHeartbeatAt:  sql.NullTime{Time: time.Now().UTC(), Valid: true},
		ExpiresAt:        time.Now().UTC().Add(time.Hour),
	}
}

// GenerateExpiredShardSession creates a session that can no longer resume.
func GenerateExpiredShardSession(shardID, shardCount int) *models.ShardSession {
	session := GenerateShardSession(shardID, shardCount, GenerateSessionID(), 1)
	session.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	return session
}

// GenerateSessionID returns a unique gateway session id.
func GenerateSessionID() string {
	return fmt.Sprintf("session-%s", uuid.NewString())
}
