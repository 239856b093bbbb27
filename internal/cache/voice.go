package cache

import (
	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// putVoiceState writes a voice state. A state without a channel removes the
// record. prev is the state that was cached before.
func (c *Cache) putVoiceState(vs models.VoiceState) (prev models.VoiceState, hadPrev bool) {
	key := Key{Guild: vs.GuildID, ID: vs.UserID}

	if old, ok := c.voiceStates.get(key); ok {
		prev = old.snapshot(0, identity[models.VoiceState])
		hadPrev = true
	}

	if !vs.InChannel() {
		if rec, ok := c.voiceStates.remove(key); ok {
			rec.release(identity[models.VoiceState])
		}
	} else {
		rec, created := c.voiceStates.getOrCreate(key, func() *voiceRecord {
			return newRecord[models.VoiceState, models.VoiceState](vs)
		})
		if !created {
			rec.update(func(s *models.VoiceState) { *s = vs })
		}
	}

	if hadPrev && prev.InChannel() && prev.ChannelID != vs.ChannelID {
		c.unindexVoice(prev.ChannelID, vs.UserID)
	}
	if vs.InChannel() {
		c.indexVoice(vs.ChannelID, vs.UserID)
	}
	return prev, hadPrev
}

// VoiceState returns a user's cached voice state in the guild.
func (c *Cache) VoiceState(guild, user snowflake.Snowflake) (models.VoiceState, bool) {
	rec, ok := c.voiceStates.get(Key{Guild: guild, ID: user})
	if !ok {
		return models.VoiceState{}, false
	}
	return rec.snapshot(0, identity[models.VoiceState]), true
}

// VoiceStates returns every voice state cached for the guild.
func (c *Cache) VoiceStates(guild snowflake.Snowflake) []models.VoiceState {
	recs := c.voiceStates.byParent(guild)
	out := make([]models.VoiceState, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot(0, identity[models.VoiceState]))
	}
	return out
}

// UpdateVoiceState applies a VOICE_STATE_UPDATE. When the payload carries
// the member it is upserted first.
func (c *Cache) UpdateVoiceState(p models.VoiceStatePayload) (prev models.VoiceState, hadPrev bool, err error) {
	if _, ok := c.guilds.get(guildKey(p.GuildID)); !ok {
		return models.VoiceState{}, false, missingGuild(p.GuildID)
	}
	if p.Member != nil {
		mp := *p.Member
		mp.GuildID = p.GuildID
		if _, ok := c.members.get(Key{Guild: p.GuildID, ID: mp.User.ID}); ok {
			if _, err := c.UpdateMember(mp); err != nil {
				return models.VoiceState{}, false, err
			}
		} else {
			c.putMember(mp)
		}
	}
	prev, hadPrev = c.putVoiceState(p.VoiceState)
	return prev, hadPrev, nil
}

// VoiceChannelUsers returns the ids of users connected to a voice channel.
func (c *Cache) VoiceChannelUsers(channel snowflake.Snowflake) []snowflake.Snowflake {
	c.voiceMu.Lock()
	users := c.voiceChannels[channel]
	out := make([]snowflake.Snowflake, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	c.voiceMu.Unlock()

	sortIDs(out)
	return out
}

func (c *Cache) indexVoice(channel, user snowflake.Snowflake) {
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()

	users, ok := c.voiceChannels[channel]
	if !ok {
		users = make(map[snowflake.Snowflake]struct{})
		c.voiceChannels[channel] = users
	}
	users[user] = struct{}{}
}

func (c *Cache) unindexVoice(channel, user snowflake.Snowflake) {
	if channel.IsZero() {
		return
	}
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()

	users := c.voiceChannels[channel]
	delete(users, user)
	if len(users) == 0 {
		delete(c.voiceChannels, channel)
	}
}
