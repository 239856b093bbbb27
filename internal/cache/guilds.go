package cache

import (
	"sort"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

func guildKey(id snowflake.Snowflake) Key {
	return Key{ID: id}
}

func snapshotGuild(rec *guildRecord) models.Guild {
	return rec.snapshot(0, cloneGuild)
}

// Guild returns the cached guild, available or not.
func (c *Cache) Guild(id snowflake.Snowflake) (models.Guild, bool) {
	rec, ok := c.guilds.get(guildKey(id))
	if !ok {
		return models.Guild{}, false
	}
	return snapshotGuild(rec), true
}

// Guilds returns every cached guild ordered by id.
func (c *Cache) Guilds() []models.Guild {
	recs := c.guilds.byParent(0)
	out := make([]models.Guild, 0, len(recs))
	for _, rec := range recs {
		out = append(out, snapshotGuild(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GuildIDs returns the ids of every cached guild.
func (c *Cache) GuildIDs() []snowflake.Snowflake {
	ids := c.guilds.keys(0)
	sortIDs(ids)
	return ids
}

// IsGuildAvailable reports whether the guild is cached and available.
func (c *Cache) IsGuildAvailable(id snowflake.Snowflake) bool {
	g, ok := c.Guild(id)
	return ok && g.Available
}

// AddUnavailableGuild records a guild announced in READY whose
// GUILD_CREATE has not arrived yet.
func (c *Cache) AddUnavailableGuild(id snowflake.Snowflake) models.Guild {
	rec, _ := c.guilds.getOrCreate(guildKey(id), func() *guildRecord {
		return newRecord[models.Guild, models.Guild](models.Guild{ID: id})
	})
	rec.update(func(g *models.Guild) { g.Available = false })
	return snapshotGuild(rec)
}

// CreateGuild fully replaces the guild and reloads its child tables from the
// GUILD_CREATE payload. wasUnavailable is true when the guild was already
// cached as unavailable, which tells an outage recovery apart from a join.
func (c *Cache) CreateGuild(p models.GuildPayload) (snap models.Guild, wasUnavailable bool) {
	rec, created := c.guilds.getOrCreate(guildKey(p.ID), func() *guildRecord {
		return newRecord[models.Guild, models.Guild](models.Guild{ID: p.ID})
	})
	rec.update(func(g *models.Guild) {
		wasUnavailable = !created && !g.Available
		*g = models.Guild{}
		p.ApplyTo(g)
	})

	c.releaseChildren(p.ID)

	for _, role := range p.Roles {
		role.GuildID = p.ID
		c.roles.put(Key{Guild: p.ID, ID: role.ID}, newRecord[models.Role, models.Role](role))
	}
	for _, mp := range p.Members {
		mp.GuildID = p.ID
		c.putMember(mp)
	}
	for _, cp := range p.Channels {
		c.putChannel(cp.Build(p.ID))
	}
	for _, pp := range p.Presences {
		pp.GuildID = p.ID
		c.putPresence(pp)
	}
	for _, vp := range p.VoiceStates {
		vs := vp.VoiceState
		vs.GuildID = p.ID
		c.putVoiceState(vs)
	}

	// Children are in place before the guild reads as available.
	rec.update(func(g *models.Guild) { g.Available = true })

	return snapshotGuild(rec), wasUnavailable
}

// UpdateGuild merges a GUILD_UPDATE payload. Roles, when present, replace
// the guild's role table.
func (c *Cache) UpdateGuild(p models.GuildPayload) (models.Guild, error) {
	rec, ok := c.guilds.get(guildKey(p.ID))
	if !ok {
		return models.Guild{}, missingGuild(p.ID)
	}
	rec.update(func(g *models.Guild) { p.ApplyTo(g) })

	if len(p.Roles) > 0 {
		for _, r := range c.roles.removeAllByParent(p.ID) {
			r.release(identity[models.Role])
		}
		for _, role := range p.Roles {
			role.GuildID = p.ID
			c.roles.put(Key{Guild: p.ID, ID: role.ID}, newRecord[models.Role, models.Role](role))
		}
	}
	return snapshotGuild(rec), nil
}

// MarkGuildUnavailable flags an outage. Child tables are retained.
func (c *Cache) MarkGuildUnavailable(id snowflake.Snowflake) (models.Guild, error) {
	rec, ok := c.guilds.get(guildKey(id))
	if !ok {
		return models.Guild{}, missingGuild(id)
	}
	rec.update(func(g *models.Guild) { g.Available = false })
	return snapshotGuild(rec), nil
}

// RemoveGuild erases the guild and cascades to every child table. The guild
// is marked unavailable before any child is released, so a concurrent reader
// never sees children of a removed guild under an available parent.
func (c *Cache) RemoveGuild(id snowflake.Snowflake) (models.Guild, error) {
	rec, ok := c.guilds.get(guildKey(id))
	if !ok {
		return models.Guild{}, missingGuild(id)
	}
	rec.update(func(g *models.Guild) { g.Available = false })

	c.releaseChildren(id)

	c.guilds.remove(guildKey(id))
	snap := rec.release(cloneGuild)

	c.logger.Debug("guild removed from cache", zap.Stringer("guild_id", id))
	return snap, nil
}

// SetGuildEmojis replaces the guild's emoji list.
func (c *Cache) SetGuildEmojis(id snowflake.Snowflake, emojis []models.Emoji) (models.Guild, error) {
	rec, ok := c.guilds.get(guildKey(id))
	if !ok {
		return models.Guild{}, missingGuild(id)
	}
	rec.update(func(g *models.Guild) {
		g.Emojis = make([]models.Emoji, len(emojis))
		for i, e := range emojis {
			g.Emojis[i] = e.Clone()
		}
	})
	return snapshotGuild(rec), nil
}

// releaseChildren drops every guild-scoped row of the guild.
func (c *Cache) releaseChildren(guild snowflake.Snowflake) {
	for _, r := range c.roles.removeAllByParent(guild) {
		r.release(identity[models.Role])
	}
	for _, r := range c.members.removeAllByParent(guild) {
		r.release(cloneMember)
	}
	for _, r := range c.channels.removeAllByParent(guild) {
		ch := r.release(models.CloneChannel)
		if ch != nil {
			c.channelIndex.Delete(ch.ChannelID())
		}
	}
	for _, r := range c.presences.removeAllByParent(guild) {
		r.release(clonePresence)
	}
	for _, r := range c.voiceStates.removeAllByParent(guild) {
		vs := r.release(identity[models.VoiceState])
		c.unindexVoice(vs.ChannelID, vs.UserID)
	}
}

// Role returns a cached role.
func (c *Cache) Role(guild, id snowflake.Snowflake) (models.Role, bool) {
	rec, ok := c.roles.get(Key{Guild: guild, ID: id})
	if !ok {
		return models.Role{}, false
	}
	return rec.snapshot(0, identity[models.Role]), true
}

// Roles returns the guild's roles ordered by position.
func (c *Cache) Roles(guild snowflake.Snowflake) []models.Role {
	recs := c.roles.byParent(guild)
	out := make([]models.Role, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot(0, identity[models.Role]))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpsertRole stores a created or updated role.
func (c *Cache) UpsertRole(guild snowflake.Snowflake, role models.Role) (models.Role, error) {
	if _, ok := c.guilds.get(guildKey(guild)); !ok {
		return models.Role{}, missingGuild(guild)
	}
	role.GuildID = guild
	rec, _ := c.roles.getOrCreate(Key{Guild: guild, ID: role.ID}, func() *roleRecord {
		return newRecord[models.Role, models.Role](role)
	})
	rec.update(func(r *models.Role) { *r = role })
	return rec.snapshot(0, identity[models.Role]), nil
}

// RemoveRole deletes a role.
func (c *Cache) RemoveRole(guild, id snowflake.Snowflake) (models.Role, error) {
	if _, ok := c.guilds.get(guildKey(guild)); !ok {
		return models.Role{}, missingGuild(guild)
	}
	rec, ok := c.roles.remove(Key{Guild: guild, ID: id})
	if !ok {
		return models.Role{}, missing("role", guild, id)
	}
	return rec.release(identity[models.Role]), nil
}
