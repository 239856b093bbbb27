package cache

import (
	"sort"
	"time"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

func snapshotChannel(rec *channelRecord) models.Channel {
	return rec.snapshot(0, models.CloneChannel)
}

func channelKey(ch models.Channel) Key {
	if g, ok := ch.(models.GuildScoped); ok {
		return Key{Guild: g.OwningGuild(), ID: ch.ChannelID()}
	}
	return Key{ID: ch.ChannelID()}
}

// putChannel fully replaces a channel record.
func (c *Cache) putChannel(ch models.Channel) (*channelRecord, bool) {
	tbl := c.channels
	if _, ok := ch.(models.GuildScoped); !ok {
		tbl = c.dmChannels
	}
	state := models.CloneChannel(ch)
	rec, created := tbl.getOrCreate(channelKey(ch), func() *channelRecord {
		return newRecord[models.Channel, models.Channel](state)
	})
	if !created {
		rec.update(func(s *models.Channel) { *s = state })
	}
	if g, ok := ch.(models.GuildScoped); ok {
		c.channelIndex.Store(ch.ChannelID(), g.OwningGuild())
	}
	return rec, created
}

func (c *Cache) channelRecord(id snowflake.Snowflake) (*channelRecord, bool) {
	if rec, ok := c.dmChannels.get(Key{ID: id}); ok {
		return rec, true
	}
	guild, ok := c.channelIndex.Load(id)
	if !ok {
		return nil, false
	}
	return c.channels.get(Key{Guild: guild.(snowflake.Snowflake), ID: id})
}

// Channel returns a cached guild or DM channel by id.
func (c *Cache) Channel(id snowflake.Snowflake) (models.Channel, bool) {
	rec, ok := c.channelRecord(id)
	if !ok {
		return nil, false
	}
	return snapshotChannel(rec), true
}

// GuildChannels returns the guild's channels ordered by position.
func (c *Cache) GuildChannels(guild snowflake.Snowflake) []models.Channel {
	recs := c.channels.byParent(guild)
	out := make([]models.Channel, 0, len(recs))
	for _, rec := range recs {
		out = append(out, snapshotChannel(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := position(out[i]), position(out[j])
		if pi != pj {
			return pi < pj
		}
		return out[i].ChannelID() < out[j].ChannelID()
	})
	return out
}

func position(ch models.Channel) int {
	if p, ok := ch.(models.Positioned); ok {
		return p.SortPosition()
	}
	return 0
}

// DMChannels returns every cached DM channel ordered by id.
func (c *Cache) DMChannels() []models.DMChannel {
	recs := c.dmChannels.byParent(0)
	out := make([]models.DMChannel, 0, len(recs))
	for _, rec := range recs {
		if dm, ok := snapshotChannel(rec).(models.DMChannel); ok {
			out = append(out, dm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpsertChannel stores a created or updated channel. Guild channels require
// their guild to be cached. created is false when an existing record was
// replaced.
func (c *Cache) UpsertChannel(ch models.Channel) (snap models.Channel, created bool, err error) {
	if g, ok := ch.(models.GuildScoped); ok {
		if _, ok := c.guilds.get(guildKey(g.OwningGuild())); !ok {
			return nil, false, missingGuild(g.OwningGuild())
		}
	}
	rec, created := c.putChannel(ch)
	return snapshotChannel(rec), created, nil
}

// RemoveChannel deletes a channel by id. ok is false when it was not cached.
func (c *Cache) RemoveChannel(id snowflake.Snowflake) (models.Channel, bool) {
	if rec, ok := c.dmChannels.remove(Key{ID: id}); ok {
		return rec.release(models.CloneChannel), true
	}
	guild, ok := c.channelIndex.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	rec, ok := c.channels.remove(Key{Guild: guild.(snowflake.Snowflake), ID: id})
	if !ok {
		return nil, false
	}
	return rec.release(models.CloneChannel), true
}

// SetChannelLastPin records a CHANNEL_PINS_UPDATE on a text or DM channel.
func (c *Cache) SetChannelLastPin(id snowflake.Snowflake, at time.Time) (models.Channel, error) {
	rec, ok := c.channelRecord(id)
	if !ok {
		return nil, missing("channel", 0, id)
	}
	rec.update(func(s *models.Channel) {
		switch ch := (*s).(type) {
		case models.TextChannel:
			ch.LastPinTimestamp = at
			*s = ch
		case models.DMChannel:
			ch.LastPinTimestamp = at
			*s = ch
		}
	})
	return snapshotChannel(rec), nil
}

// SetChannelLastMessage records the newest message id of a text or DM
// channel. Unknown channels are ignored.
func (c *Cache) SetChannelLastMessage(id, messageID snowflake.Snowflake) {
	rec, ok := c.channelRecord(id)
	if !ok {
		return
	}
	rec.update(func(s *models.Channel) {
		switch ch := (*s).(type) {
		case models.TextChannel:
			ch.LastMessageID = messageID
			*s = ch
		case models.DMChannel:
			ch.LastMessageID = messageID
			*s = ch
		}
	})
}
