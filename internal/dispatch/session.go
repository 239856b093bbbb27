package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

type readyPayload struct {
	Version          int                       `json:"v"`
	User             models.UserPayload        `json:"user"`
	SessionID        string                    `json:"session_id"`
	ResumeGatewayURL string                    `json:"resume_gateway_url"`
	Guilds           []models.UnavailableGuild `json:"guilds"`
	PrivateChannels  []models.ChannelPayload   `json:"private_channels"`
	Shard            []int                     `json:"shard"`
}

// handleReady seeds a fresh cache. READY only follows an identify, so
// whatever the cache held belongs to a dead session.
func handleReady(_ context.Context, r *Router, data json.RawMessage) error {
	var p readyPayload
	if err := decode("READY", data, &p); err != nil {
		return err
	}

	r.logger.Debug("received READY event",
		zap.String("session_id", p.SessionID),
		zap.Int("guilds", len(p.Guilds)),
	)

	if r.version != 0 && p.Version != r.version {
		r.logger.Warn("gateway protocol version mismatch",
			zap.Int("expected", r.version),
			zap.Int("received", p.Version),
		)
	}

	r.cache.Clear()

	me := r.cache.UpsertUser(p.User)
	r.cache.SetCurrentUser(me.ID)

	ids := make([]snowflake.Snowflake, 0, len(p.Guilds))
	for _, g := range p.Guilds {
		r.cache.AddUnavailableGuild(g.ID)
		ids = append(ids, g.ID)
	}

	for _, cp := range p.PrivateChannels {
		for _, u := range cp.Recipients {
			r.cache.UpsertUser(u)
		}
		if _, _, err := r.cache.UpsertChannel(cp.Build(0)); err != nil {
			return err
		}
	}

	r.logger.Info("session ready",
		zap.String("user", me.Tag()),
		zap.Int("guilds", len(ids)),
		zap.Int("private_channels", len(p.PrivateChannels)),
	)

	r.publish(Ready{User: me, SessionID: p.SessionID, GuildIDs: ids, Version: p.Version})
	return nil
}

func handleResumed(_ context.Context, r *Router, _ json.RawMessage) error {
	r.logger.Info("session resumed")
	r.publish(Resumed{})
	return nil
}

type userEnvelope struct {
	GuildID snowflake.Snowflake `json:"guild_id"`
	User    models.UserPayload  `json:"user"`
}

func handleUserUpdate(_ context.Context, r *Router, data json.RawMessage) error {
	var p models.UserPayload
	if err := decode("USER_UPDATE", data, &p); err != nil {
		return err
	}
	r.publish(UserUpdated{User: r.cache.UpsertUser(p)})
	return nil
}

type typingPayload struct {
	ChannelID snowflake.Snowflake   `json:"channel_id"`
	GuildID   snowflake.Snowflake   `json:"guild_id"`
	UserID    snowflake.Snowflake   `json:"user_id"`
	Timestamp int64                 `json:"timestamp"`
	Member    *models.MemberPayload `json:"member"`
}

func handleTypingStart(_ context.Context, r *Router, data json.RawMessage) error {
	var p typingPayload
	if err := decode("TYPING_START", data, &p); err != nil {
		return err
	}

	if p.Member != nil {
		r.cache.UpsertUser(p.Member.User)
	}
	user, ok := r.cache.User(p.UserID)
	if !ok {
		return missingEntity("user", p.GuildID, p.UserID)
	}

	r.publish(TypingStarted{
		User:      user,
		ChannelID: p.ChannelID,
		GuildID:   p.GuildID,
		Timestamp: unixSeconds(p.Timestamp),
	})
	return nil
}

func handlePresenceUpdate(_ context.Context, r *Router, data json.RawMessage) error {
	var p models.PresencePayload
	if err := decode("PRESENCE_UPDATE", data, &p); err != nil {
		return err
	}

	presence, err := r.cache.UpsertPresence(p)
	if err != nil {
		return err
	}
	guild, err := r.guild(p.GuildID)
	if err != nil {
		return err
	}
	member, ok := r.cache.Member(p.GuildID, presence.UserID)
	if !ok {
		return missingEntity("member", p.GuildID, presence.UserID)
	}

	r.publish(PresenceUpdated{Guild: guild, Member: member, Presence: presence})
	return nil
}
