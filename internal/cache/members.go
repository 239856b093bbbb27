package cache

import (
	"sort"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// memberSnapshot builds the member with its user resolved from the user
// table. The cached snapshot is keyed on the user's version as well, so a
// user update is picked up on the next read.
func (c *Cache) memberSnapshot(rec *memberRecord) models.Member {
	var userID snowflake.Snowflake
	rec.read(func(m models.Member) { userID = m.User.ID })

	urec, ok := c.users.rows.get(userKey(userID))
	var dep uint64
	if ok {
		dep = urec.currentVersion()
	}
	return rec.snapshot(dep, func(m models.Member) models.Member {
		out := m.Clone()
		if ok {
			out.User = snapshotUser(urec)
		}
		return out
	})
}

func newMember(p models.MemberPayload) models.Member {
	m := models.Member{GuildID: p.GuildID, User: models.User{ID: p.User.ID}}
	p.ApplyTo(&m)
	return m
}

// putMember upserts the user and fully replaces the member record.
func (c *Cache) putMember(p models.MemberPayload) *memberRecord {
	c.UpsertUser(p.User)

	state := newMember(p)
	rec, created := c.members.getOrCreate(Key{Guild: p.GuildID, ID: p.User.ID}, func() *memberRecord {
		return newRecord[models.Member, models.Member](state)
	})
	if !created {
		rec.update(func(m *models.Member) { *m = state })
	}
	return rec
}

// Member returns the cached member.
func (c *Cache) Member(guild, user snowflake.Snowflake) (models.Member, bool) {
	rec, ok := c.members.get(Key{Guild: guild, ID: user})
	if !ok {
		return models.Member{}, false
	}
	return c.memberSnapshot(rec), true
}

// Members returns every cached member of the guild ordered by user id.
func (c *Cache) Members(guild snowflake.Snowflake) []models.Member {
	recs := c.members.byParent(guild)
	out := make([]models.Member, 0, len(recs))
	for _, rec := range recs {
		out = append(out, c.memberSnapshot(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User.ID < out[j].User.ID })
	return out
}

// AddMember handles a member joining: the user is upserted first, then the
// member record is created or replaced. The guild must be cached.
func (c *Cache) AddMember(p models.MemberPayload) (models.Member, error) {
	grec, ok := c.guilds.get(guildKey(p.GuildID))
	if !ok {
		return models.Member{}, missingGuild(p.GuildID)
	}

	rec := c.putMember(p)
	grec.update(func(g *models.Guild) { g.MemberCount++ })
	return c.memberSnapshot(rec), nil
}

// UpdateMember merges a partial member payload. Both the guild and the
// member must already be cached.
func (c *Cache) UpdateMember(p models.MemberPayload) (models.Member, error) {
	if _, ok := c.guilds.get(guildKey(p.GuildID)); !ok {
		return models.Member{}, missingGuild(p.GuildID)
	}
	c.UpsertUser(p.User)

	rec, ok := c.members.get(Key{Guild: p.GuildID, ID: p.User.ID})
	if !ok {
		return models.Member{}, missing("member", p.GuildID, p.User.ID)
	}
	rec.update(func(m *models.Member) { p.ApplyTo(m) })
	return c.memberSnapshot(rec), nil
}

// RemoveMember deletes the member. Removing a member that is not cached is
// not an error; large guilds never send their full member list.
func (c *Cache) RemoveMember(guild, user snowflake.Snowflake) (models.Member, bool, error) {
	grec, ok := c.guilds.get(guildKey(guild))
	if !ok {
		return models.Member{}, false, missingGuild(guild)
	}
	rec, ok := c.members.remove(Key{Guild: guild, ID: user})
	if !ok {
		return models.Member{}, false, nil
	}
	snap := c.memberSnapshot(rec)
	rec.release(cloneMember)
	grec.update(func(g *models.Guild) {
		if g.MemberCount > 0 {
			g.MemberCount--
		}
	})
	return snap, true, nil
}

// SeedMember inserts a member only when none is cached. It is used by
// member chunks and REST lookups, which must never overwrite live state.
func (c *Cache) SeedMember(p models.MemberPayload) (models.Member, bool, error) {
	if _, ok := c.guilds.get(guildKey(p.GuildID)); !ok {
		return models.Member{}, false, missingGuild(p.GuildID)
	}
	c.UpsertUser(p.User)

	state := newMember(p)
	rec, created := c.members.getOrCreate(Key{Guild: p.GuildID, ID: p.User.ID}, func() *memberRecord {
		return newRecord[models.Member, models.Member](state)
	})
	return c.memberSnapshot(rec), created, nil
}
