package cache

import (
	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

func (c *Cache) putPresence(p models.PresencePayload) *presenceRecord {
	c.EnsureUser(p.User)

	key := Key{Guild: p.GuildID, ID: p.User.ID()}
	rec, _ := c.presences.getOrCreate(key, func() *presenceRecord {
		return newRecord[models.Presence, models.Presence](models.Presence{GuildID: p.GuildID, UserID: p.User.ID()})
	})
	rec.update(func(pr *models.Presence) {
		pr.GuildID = p.GuildID
		p.ApplyTo(pr)
	})
	return rec
}

// Presence returns a member's cached presence.
func (c *Cache) Presence(guild, user snowflake.Snowflake) (models.Presence, bool) {
	rec, ok := c.presences.get(Key{Guild: guild, ID: user})
	if !ok {
		return models.Presence{}, false
	}
	return rec.snapshot(0, clonePresence), true
}

// UpsertPresence merges a PRESENCE_UPDATE. The referenced user is resolved
// bottom-up before the presence is written.
func (c *Cache) UpsertPresence(p models.PresencePayload) (models.Presence, error) {
	if _, ok := c.guilds.get(guildKey(p.GuildID)); !ok {
		return models.Presence{}, missingGuild(p.GuildID)
	}
	rec := c.putPresence(p)
	return rec.snapshot(0, clonePresence), nil
}
