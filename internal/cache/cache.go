// Package cache holds the local mirror of remote state built from gateway
// dispatch events.
//
// Every entity lives in a mutable record behind its own lock. Readers get
// immutable snapshots that are rebuilt only when the record's version moved
// since the last read. Records reference each other by id only; the cache
// resolves those ids on read.
//
// Writes belong to the owning shard's dispatch sequence. Reads are safe from
// any goroutine, and the user table may be shared by every shard of a process.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

type (
	userRecord     = record[models.User, models.User]
	guildRecord    = record[models.Guild, models.Guild]
	roleRecord     = record[models.Role, models.Role]
	memberRecord   = record[models.Member, models.Member]
	channelRecord  = record[models.Channel, models.Channel]
	presenceRecord = record[models.Presence, models.Presence]
	voiceRecord    = record[models.VoiceState, models.VoiceState]
)

// Cache is one shard's view of remote state.
type Cache struct {
	logger *zap.Logger

	users       *UserTable
	sharedUsers bool
	currentUser atomic.Uint64

	guilds      *table[*guildRecord]
	roles       *table[*roleRecord]
	members     *table[*memberRecord]
	channels    *table[*channelRecord]
	dmChannels  *table[*channelRecord]
	presences   *table[*presenceRecord]
	voiceStates *table[*voiceRecord]

	// channel id -> owning guild id, for lookups by bare channel id
	channelIndex sync.Map

	voiceMu       sync.Mutex
	voiceChannels map[snowflake.Snowflake]map[snowflake.Snowflake]struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithUserTable makes the cache use a user table shared with other shards.
func WithUserTable(users *UserTable) Option {
	return func(c *Cache) {
		c.users = users
		c.sharedUsers = true
	}
}

// New creates an empty cache.
func New(logger *zap.Logger, opts ...Option) *Cache {
	c := &Cache{
		logger:        logger.Named("cache"),
		guilds:        newTable[*guildRecord](),
		roles:         newTable[*roleRecord](),
		members:       newTable[*memberRecord](),
		channels:      newTable[*channelRecord](),
		dmChannels:    newTable[*channelRecord](),
		presences:     newTable[*presenceRecord](),
		voiceStates:   newTable[*voiceRecord](),
		voiceChannels: make(map[snowflake.Snowflake]map[snowflake.Snowflake]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.users == nil {
		c.users = NewUserTable()
	}
	return c
}

// Stats holds per-table row counts.
type Stats struct {
	Users             int `json:"users"`
	Guilds            int `json:"guilds"`
	UnavailableGuilds int `json:"unavailable_guilds"`
	Roles             int `json:"roles"`
	Members           int `json:"members"`
	Channels          int `json:"channels"`
	DMChannels        int `json:"dm_channels"`
	Presences         int `json:"presences"`
	VoiceStates       int `json:"voice_states"`
}

// Stats returns the current row counts.
func (c *Cache) Stats() Stats {
	s := Stats{
		Users:       c.users.Len(),
		Roles:       c.roles.len(),
		Members:     c.members.len(),
		Channels:    c.channels.len(),
		DMChannels:  c.dmChannels.len(),
		Presences:   c.presences.len(),
		VoiceStates: c.voiceStates.len(),
	}
	for _, rec := range c.guilds.byParent(0) {
		s.Guilds++
		rec.read(func(g models.Guild) {
			if !g.Available {
				s.UnavailableGuilds++
			}
		})
	}
	return s
}

// Clear drops every table this shard owns. A shared user table is left
// alone since other shards still reference it.
func (c *Cache) Clear() {
	for _, rec := range c.guilds.clear() {
		rec.update(func(g *models.Guild) { g.Available = false })
		rec.release(cloneGuild)
	}
	for _, rec := range c.roles.clear() {
		rec.release(identity[models.Role])
	}
	for _, rec := range c.members.clear() {
		rec.release(cloneMember)
	}
	for _, rec := range c.channels.clear() {
		rec.release(models.CloneChannel)
	}
	for _, rec := range c.dmChannels.clear() {
		rec.release(models.CloneChannel)
	}
	for _, rec := range c.presences.clear() {
		rec.release(clonePresence)
	}
	for _, rec := range c.voiceStates.clear() {
		rec.release(identity[models.VoiceState])
	}

	c.channelIndex.Range(func(k, _ any) bool {
		c.channelIndex.Delete(k)
		return true
	})
	c.voiceMu.Lock()
	c.voiceChannels = make(map[snowflake.Snowflake]map[snowflake.Snowflake]struct{})
	c.voiceMu.Unlock()

	if !c.sharedUsers {
		c.users.clear()
	}
	c.logger.Debug("cache cleared", zap.Bool("shared_users", c.sharedUsers))
}

func identity[T any](v T) T { return v }

func cloneGuild(g models.Guild) models.Guild          { return g.Clone() }
func cloneMember(m models.Member) models.Member       { return m.Clone() }
func clonePresence(p models.Presence) models.Presence { return p.Clone() }

func sortIDs(ids []snowflake.Snowflake) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
