package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

func handleGuildMemberAdd(_ context.Context, r *Router, data json.RawMessage) error {
	var p models.MemberPayload
	if err := decode("GUILD_MEMBER_ADD", data, &p); err != nil {
		return err
	}

	member, err := r.cache.AddMember(p)
	if err != nil {
		return err
	}
	guild, err := r.guild(p.GuildID)
	if err != nil {
		return err
	}

	r.logger.Debug("member joined",
		zap.String("guild_id", p.GuildID.String()),
		zap.String("user_id", p.User.ID.String()),
	)
	r.publish(GuildMemberAdded{Guild: guild, Member: member})
	return nil
}

func handleGuildMemberUpdate(_ context.Context, r *Router, data json.RawMessage) error {
	var p models.MemberPayload
	if err := decode("GUILD_MEMBER_UPDATE", data, &p); err != nil {
		return err
	}

	member, err := r.cache.UpdateMember(p)
	if err != nil {
		return err
	}
	guild, err := r.guild(p.GuildID)
	if err != nil {
		return err
	}
	r.publish(GuildMemberUpdated{Guild: guild, Member: member})
	return nil
}

// handleGuildMemberRemove raises a notification only when the member was
// cached; large guilds send removals for members never loaded.
func handleGuildMemberRemove(_ context.Context, r *Router, data json.RawMessage) error {
	var p userEnvelope
	if err := decode("GUILD_MEMBER_REMOVE", data, &p); err != nil {
		return err
	}

	r.cache.UpsertUser(p.User)
	member, removed, err := r.cache.RemoveMember(p.GuildID, p.User.ID)
	if err != nil {
		return err
	}
	if !removed {
		r.logger.Debug("removed member was not cached",
			zap.String("guild_id", p.GuildID.String()),
			zap.String("user_id", p.User.ID.String()),
		)
		return nil
	}

	guild, err := r.guild(p.GuildID)
	if err != nil {
		return err
	}
	r.publish(GuildMemberRemoved{Guild: guild, Member: member})
	return nil
}

type membersChunkPayload struct {
	GuildID    snowflake.Snowflake      `json:"guild_id"`
	Members    []models.MemberPayload   `json:"members"`
	ChunkIndex int                      `json:"chunk_index"`
	ChunkCount int                      `json:"chunk_count"`
	NotFound   []snowflake.Snowflake    `json:"not_found"`
	Presences  []models.PresencePayload `json:"presences"`
	Nonce      string                   `json:"nonce"`
}

// handleGuildMembersChunk seeds members from a member request. Members that
// are already cached keep their live state.
func handleGuildMembersChunk(_ context.Context, r *Router, data json.RawMessage) error {
	var p membersChunkPayload
	if err := decode("GUILD_MEMBERS_CHUNK", data, &p); err != nil {
		return err
	}

	guild, err := r.guild(p.GuildID)
	if err != nil {
		return err
	}

	members := make([]models.Member, 0, len(p.Members))
	for _, mp := range p.Members {
		mp.GuildID = p.GuildID
		m, _, err := r.cache.SeedMember(mp)
		if err != nil {
			return err
		}
		members = append(members, m)
	}
	for _, pp := range p.Presences {
		pp.GuildID = p.GuildID
		if _, err := r.cache.UpsertPresence(pp); err != nil {
			return err
		}
	}

	r.logger.Debug("received member chunk",
		zap.String("guild_id", p.GuildID.String()),
		zap.Int("chunk_index", p.ChunkIndex),
		zap.Int("chunk_count", p.ChunkCount),
		zap.Int("members", len(members)),
	)

	r.publish(GuildMembersChunk{
		Guild:      guild,
		Members:    members,
		ChunkIndex: p.ChunkIndex,
		ChunkCount: p.ChunkCount,
		NotFound:   p.NotFound,
		Nonce:      p.Nonce,
	})
	return nil
}
