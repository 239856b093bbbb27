package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// handleGuildCreate loads a guild. The same event announces a join, a guild
// listed in READY, and the end of an outage. Only a guild cached as
// unavailable becomes available; a repeated create of an available guild
// reloads it and reads as created.
func handleGuildCreate(_ context.Context, r *Router, data json.RawMessage) error {
	var p models.GuildPayload
	if err := decode("GUILD_CREATE", data, &p); err != nil {
		return err
	}

	if p.IsUnavailable() {
		r.logger.Debug("guild unavailable at create", zap.String("guild_id", p.ID.String()))
		r.publish(GuildUnavailable{Guild: r.cache.AddUnavailableGuild(p.ID)})
		return nil
	}

	guild, wasUnavailable := r.cache.CreateGuild(p)

	r.logger.Debug("received GUILD_CREATE event",
		zap.String("guild_id", p.ID.String()),
		zap.Int("members", len(p.Members)),
		zap.Int("channels", len(p.Channels)),
		zap.Bool("was_unavailable", wasUnavailable),
	)

	if wasUnavailable {
		r.publish(GuildAvailable{Guild: guild})
		return nil
	}
	r.publish(GuildCreated{Guild: guild})
	return nil
}

func handleGuildUpdate(_ context.Context, r *Router, data json.RawMessage) error {
	var p models.GuildPayload
	if err := decode("GUILD_UPDATE", data, &p); err != nil {
		return err
	}
	guild, err := r.cache.UpdateGuild(p)
	if err != nil {
		return err
	}
	r.publish(GuildUpdated{Guild: guild})
	return nil
}

// handleGuildDelete is either an outage (unavailable set) or the current
// user leaving. An outage keeps every cached child.
func handleGuildDelete(_ context.Context, r *Router, data json.RawMessage) error {
	var p models.UnavailableGuild
	if err := decode("GUILD_DELETE", data, &p); err != nil {
		return err
	}

	if p.Unavailable {
		guild, err := r.cache.MarkGuildUnavailable(p.ID)
		if err != nil {
			return err
		}
		r.logger.Info("guild became unavailable", zap.String("guild_id", p.ID.String()))
		r.publish(GuildUnavailable{Guild: guild})
		return nil
	}

	if r.voice != nil {
		r.voice.DisconnectGuild(p.ID)
	}
	guild, err := r.cache.RemoveGuild(p.ID)
	if err != nil {
		return err
	}
	r.logger.Info("left guild", zap.String("guild_id", p.ID.String()))
	r.publish(GuildRemoved{Guild: guild})
	return nil
}

func handleGuildBanAdd(_ context.Context, r *Router, data json.RawMessage) error {
	guild, user, err := banEvent(r, "GUILD_BAN_ADD", data)
	if err != nil {
		return err
	}
	r.publish(GuildBanAdded{Guild: guild, User: user})
	return nil
}

func handleGuildBanRemove(_ context.Context, r *Router, data json.RawMessage) error {
	guild, user, err := banEvent(r, "GUILD_BAN_REMOVE", data)
	if err != nil {
		return err
	}
	r.publish(GuildBanRemoved{Guild: guild, User: user})
	return nil
}

func banEvent(r *Router, event string, data json.RawMessage) (models.Guild, models.User, error) {
	var p userEnvelope
	if err := decode(event, data, &p); err != nil {
		return models.Guild{}, models.User{}, err
	}
	guild, err := r.guild(p.GuildID)
	if err != nil {
		return models.Guild{}, models.User{}, err
	}
	return guild, r.cache.UpsertUser(p.User), nil
}

type emojisPayload struct {
	GuildID snowflake.Snowflake `json:"guild_id"`
	Emojis  []models.Emoji      `json:"emojis"`
}

func handleGuildEmojisUpdate(_ context.Context, r *Router, data json.RawMessage) error {
	var p emojisPayload
	if err := decode("GUILD_EMOJIS_UPDATE", data, &p); err != nil {
		return err
	}
	for _, e := range p.Emojis {
		if e.User != nil {
			r.cache.EnsureUser(*e.User)
		}
	}
	guild, err := r.cache.SetGuildEmojis(p.GuildID, p.Emojis)
	if err != nil {
		return err
	}
	r.publish(GuildEmojisUpdated{Guild: guild})
	return nil
}

func handleGuildIntegrationsUpdate(_ context.Context, r *Router, data json.RawMessage) error {
	var p struct {
		GuildID snowflake.Snowflake `json:"guild_id"`
	}
	if err := decode("GUILD_INTEGRATIONS_UPDATE", data, &p); err != nil {
		return err
	}
	guild, err := r.guild(p.GuildID)
	if err != nil {
		return err
	}
	r.publish(GuildIntegrationsUpdated{Guild: guild})
	return nil
}

type rolePayload struct {
	GuildID snowflake.Snowflake `json:"guild_id"`
	Role    models.Role         `json:"role"`
	RoleID  snowflake.Snowflake `json:"role_id"`
}

func handleGuildRoleCreate(_ context.Context, r *Router, data json.RawMessage) error {
	guild, role, err := upsertRole(r, "GUILD_ROLE_CREATE", data)
	if err != nil {
		return err
	}
	r.publish(GuildRoleCreated{Guild: guild, Role: role})
	return nil
}

func handleGuildRoleUpdate(_ context.Context, r *Router, data json.RawMessage) error {
	guild, role, err := upsertRole(r, "GUILD_ROLE_UPDATE", data)
	if err != nil {
		return err
	}
	r.publish(GuildRoleUpdated{Guild: guild, Role: role})
	return nil
}

func upsertRole(r *Router, event string, data json.RawMessage) (models.Guild, models.Role, error) {
	var p rolePayload
	if err := decode(event, data, &p); err != nil {
		return models.Guild{}, models.Role{}, err
	}
	role, err := r.cache.UpsertRole(p.GuildID, p.Role)
	if err != nil {
		return models.Guild{}, models.Role{}, err
	}
	guild, err := r.guild(p.GuildID)
	if err != nil {
		return models.Guild{}, models.Role{}, err
	}
	return guild, role, nil
}

func handleGuildRoleDelete(_ context.Context, r *Router, data json.RawMessage) error {
	var p rolePayload
	if err := decode("GUILD_ROLE_DELETE", data, &p); err != nil {
		return err
	}
	role, err := r.cache.RemoveRole(p.GuildID, p.RoleID)
	if err != nil {
		return err
	}
	guild, err := r.guild(p.GuildID)
	if err != nil {
		return err
	}
	r.publish(GuildRoleDeleted{Guild: guild, Role: role})
	return nil
}
