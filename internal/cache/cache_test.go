package cache

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

func newTestCache() *Cache {
	return New(zap.NewNop())
}

func decode[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

const guildCreate = `{
	"id": "42",
	"name": "zion",
	"owner_id": "1",
	"member_count": 2,
	"roles": [{"id": "42", "name": "@everyone", "permissions": "0", "position": 0}],
	"members": [
		{"user": {"id": "1", "username": "morpheus"}, "roles": [], "joined_at": "2020-01-01T00:00:00+00:00"},
		{"user": {"id": "2", "username": "trinity"}, "nick": "trin", "roles": ["42"], "joined_at": "2020-01-02T00:00:00.000000+00:00"}
	],
	"channels": [
		{"id": "100", "type": 0, "name": "general", "position": 1},
		{"id": "101", "type": 2, "name": "voice", "position": 0, "bitrate": 64000}
	],
	"presences": [{"user": {"id": "1"}, "status": "online"}],
	"voice_states": [{"channel_id": "101", "user_id": "2", "session_id": "s2"}]
}`

func seedGuild(t *testing.T, c *Cache) models.Guild {
	t.Helper()
	g, _ := c.CreateGuild(decode[models.GuildPayload](t, guildCreate))
	return g
}

// ============================================================================
// Member scenarios
// ============================================================================

func TestAddMember_MissingGuildIsIntegrityError(t *testing.T) {
	c := newTestCache()

	_, err := c.AddMember(decode[models.MemberPayload](t, `{"guild_id":"42","user":{"id":"7","username":"neo"},"roles":[]}`))
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))
	assert.ErrorIs(t, err, ErrNotCached)

	_, ok := c.User(7)
	assert.False(t, ok, "a rejected event must not leave partial state")
}

func TestAddMember_InsertsUserAndMember(t *testing.T) {
	c := newTestCache()
	c.AddUnavailableGuild(42)
	before := c.Stats()

	m, err := c.AddMember(decode[models.MemberPayload](t, `{"guild_id":"42","user":{"id":"7","username":"neo"},"roles":[]}`))
	require.NoError(t, err)

	assert.Equal(t, snowflake.Snowflake(7), m.UserID())
	assert.Equal(t, "neo", m.User.Username)

	after := c.Stats()
	assert.Equal(t, before.Users+1, after.Users)
	assert.Equal(t, before.Members+1, after.Members)

	cached, ok := c.Member(42, 7)
	require.True(t, ok)
	assert.Equal(t, m, cached)
}

func TestUpdateMember(t *testing.T) {
	c := newTestCache()
	seedGuild(t, c)

	t.Run("merge keeps absent fields", func(t *testing.T) {
		m, err := c.UpdateMember(decode[models.MemberPayload](t, `{"guild_id":"42","user":{"id":"2"},"roles":["42","43"]}`))
		require.NoError(t, err)
		assert.Equal(t, "trin", m.Nick)
		assert.Equal(t, []snowflake.Snowflake{42, 43}, m.RoleIDs)
		assert.Equal(t, "trinity", m.User.Username)
	})

	t.Run("missing member is an integrity error", func(t *testing.T) {
		_, err := c.UpdateMember(decode[models.MemberPayload](t, `{"guild_id":"42","user":{"id":"9"}}`))
		require.Error(t, err)
		var ie *IntegrityError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "member", ie.Entity)
		assert.Equal(t, snowflake.Snowflake(9), ie.ID)
	})

	t.Run("idempotent", func(t *testing.T) {
		patch := decode[models.MemberPayload](t, `{"guild_id":"42","user":{"id":"1","username":"morph"},"nick":"captain","deaf":true}`)
		once, err := c.UpdateMember(patch)
		require.NoError(t, err)
		twice, err := c.UpdateMember(patch)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	})
}

func TestRemoveMember(t *testing.T) {
	c := newTestCache()
	seedGuild(t, c)

	m, ok, err := c.RemoveMember(42, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "trin", m.Nick)

	_, ok = c.Member(42, 2)
	assert.False(t, ok)

	_, ok, err = c.RemoveMember(42, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = c.RemoveMember(99, 2)
	assert.True(t, IsIntegrityError(err))
}

func TestMemberSnapshotFollowsUser(t *testing.T) {
	c := newTestCache()
	seedGuild(t, c)

	before, _ := c.Member(42, 1)
	assert.Equal(t, "morpheus", before.User.Username)

	c.UpsertUser(decode[models.UserPayload](t, `{"id":"1","username":"morpheus_v2"}`))

	after, _ := c.Member(42, 1)
	assert.Equal(t, "morpheus_v2", after.User.Username)
	assert.Equal(t, "morpheus", before.User.Username, "earlier snapshot must not change")
}

func TestSeedMemberNeverOverwrites(t *testing.T) {
	c := newTestCache()
	seedGuild(t, c)

	m, created, err := c.SeedMember(decode[models.MemberPayload](t, `{"guild_id":"42","user":{"id":"2"},"nick":"stale"}`))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "trin", m.Nick)

	m, created, err = c.SeedMember(decode[models.MemberPayload](t, `{"guild_id":"42","user":{"id":"3","username":"tank"},"nick":"op"}`))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "op", m.Nick)
}

// ============================================================================
// Guild lifecycle
// ============================================================================

func TestCreateGuild_LoadsChildren(t *testing.T) {
	c := newTestCache()
	g := seedGuild(t, c)

	assert.True(t, g.Available)
	assert.Equal(t, "zion", g.Name)
	assert.Len(t, c.Members(42), 2)
	assert.Len(t, c.Roles(42), 1)

	channels := c.GuildChannels(42)
	require.Len(t, channels, 2)
	assert.Equal(t, snowflake.Snowflake(101), channels[0].ChannelID(), "ordered by position")

	p, ok := c.Presence(42, 1)
	require.True(t, ok)
	assert.Equal(t, models.StatusOnline, p.Status)

	vs, ok := c.VoiceState(42, 2)
	require.True(t, ok)
	assert.Equal(t, snowflake.Snowflake(101), vs.ChannelID)
	assert.Equal(t, []snowflake.Snowflake{2}, c.VoiceChannelUsers(101))

	ch, ok := c.Channel(100)
	require.True(t, ok)
	assert.IsType(t, models.TextChannel{}, ch)
}

func TestCreateGuild_ReportsRecoveredOutage(t *testing.T) {
	c := newTestCache()

	_, wasUnavailable := c.CreateGuild(decode[models.GuildPayload](t, `{"id":"5","name":"new"}`))
	assert.False(t, wasUnavailable, "a guild seen for the first time is a join")

	c.AddUnavailableGuild(6)
	assert.False(t, c.IsGuildAvailable(6))
	_, wasUnavailable = c.CreateGuild(decode[models.GuildPayload](t, `{"id":"6","name":"back"}`))
	assert.True(t, wasUnavailable)
	assert.True(t, c.IsGuildAvailable(6))
}

func TestRemoveGuild_Cascades(t *testing.T) {
	c := newTestCache()
	seedGuild(t, c)

	g, err := c.RemoveGuild(42)
	require.NoError(t, err)
	assert.False(t, g.Available)
	assert.Equal(t, "zion", g.Name)

	_, ok := c.Guild(42)
	assert.False(t, ok)
	for _, user := range []snowflake.Snowflake{1, 2} {
		_, ok = c.Member(42, user)
		assert.False(t, ok)
		_, ok = c.Presence(42, user)
		assert.False(t, ok)
		_, ok = c.VoiceState(42, user)
		assert.False(t, ok)
	}
	_, ok = c.Channel(100)
	assert.False(t, ok)
	_, ok = c.Role(42, 42)
	assert.False(t, ok)
	assert.Empty(t, c.VoiceChannelUsers(101))

	_, ok = c.User(1)
	assert.True(t, ok, "users are guild independent")

	_, err = c.RemoveGuild(42)
	assert.True(t, IsIntegrityError(err))
}

func TestMarkGuildUnavailable_RetainsChildren(t *testing.T) {
	c := newTestCache()
	seedGuild(t, c)

	g, err := c.MarkGuildUnavailable(42)
	require.NoError(t, err)
	assert.False(t, g.Available)
	assert.Len(t, c.Members(42), 2)
	assert.Len(t, c.GuildChannels(42), 2)

	_, err = c.MarkGuildUnavailable(77)
	assert.True(t, IsIntegrityError(err))
}

func TestUpdateGuild(t *testing.T) {
	c := newTestCache()
	seedGuild(t, c)

	g, err := c.UpdateGuild(decode[models.GuildPayload](t, `{"id":"42","name":"zion 2","afk_timeout":300}`))
	require.NoError(t, err)
	assert.Equal(t, "zion 2", g.Name)
	assert.Equal(t, snowflake.Snowflake(1), g.OwnerID)
	assert.Equal(t, 300, g.AFKTimeout)
	assert.True(t, g.Available)

	_, err = c.UpdateGuild(decode[models.GuildPayload](t, `{"id":"43","name":"x"}`))
	assert.True(t, IsIntegrityError(err))
}

func TestRoles(t *testing.T) {
	c := newTestCache()
	seedGuild(t, c)

	r, err := c.UpsertRole(42, models.Role{ID: 50, Name: "operator", Position: 2})
	require.NoError(t, err)
	assert.Equal(t, snowflake.Snowflake(42), r.GuildID)
	assert.Len(t, c.Roles(42), 2)

	removed, err := c.RemoveRole(42, 50)
	require.NoError(t, err)
	assert.Equal(t, "operator", removed.Name)

	_, err = c.RemoveRole(42, 50)
	assert.True(t, IsIntegrityError(err))
	_, err = c.UpsertRole(9, models.Role{ID: 1})
	assert.True(t, IsIntegrityError(err))
}

func TestSetGuildEmojis(t *testing.T) {
	c := newTestCache()
	seedGuild(t, c)

	emojis := []models.Emoji{{ID: 1, Name: "pill", RoleIDs: []snowflake.Snowflake{42}}}
	g, err := c.SetGuildEmojis(42, emojis)
	require.NoError(t, err)
	require.Len(t, g.Emojis, 1)

	emojis[0].RoleIDs[0] = 99
	g, _ = c.Guild(42)
	assert.Equal(t, snowflake.Snowflake(42), g.Emojis[0].RoleIDs[0])
}

// ============================================================================
// Channels, presences, voice
// ============================================================================

func TestChannels(t *testing.T) {
	c := newTestCache()
	seedGuild(t, c)

	t.Run("guild channel requires guild", func(t *testing.T) {
		_, _, err := c.UpsertChannel(models.ChannelPayload{ID: 200, Type: models.ChannelTypeGuildText, GuildID: 77}.Build(0))
		assert.True(t, IsIntegrityError(err))
	})

	t.Run("update replaces", func(t *testing.T) {
		ch, created, err := c.UpsertChannel(models.ChannelPayload{ID: 100, Type: models.ChannelTypeGuildText, GuildID: 42, Name: "lobby"}.Build(0))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "lobby", ch.(models.TextChannel).Name)
	})

	t.Run("dm channel", func(t *testing.T) {
		_, created, err := c.UpsertChannel(models.DMChannel{ID: 300, Type: models.ChannelTypeDM, RecipientIDs: []snowflake.Snowflake{1}})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Len(t, c.DMChannels(), 1)
	})

	t.Run("pins", func(t *testing.T) {
		at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		ch, err := c.SetChannelLastPin(100, at)
		require.NoError(t, err)
		assert.Equal(t, at, ch.(models.TextChannel).LastPinTimestamp)

		_, err = c.SetChannelLastPin(999, at)
		assert.True(t, IsIntegrityError(err))
	})

	t.Run("remove", func(t *testing.T) {
		_, ok := c.RemoveChannel(100)
		assert.True(t, ok)
		_, ok = c.Channel(100)
		assert.False(t, ok)
		_, ok = c.RemoveChannel(300)
		assert.True(t, ok)
		_, ok = c.RemoveChannel(300)
		assert.False(t, ok)
	})
}

func TestUpsertPresence(t *testing.T) {
	c := newTestCache()
	seedGuild(t, c)

	p, err := c.UpsertPresence(decode[models.PresencePayload](t, `{"guild_id":"42","user":{"id":"8","username":"tank"},"status":"dnd"}`))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDND, p.Status)

	u, ok := c.User(8)
	require.True(t, ok, "presence users are inserted bottom-up")
	assert.Equal(t, "tank", u.Username)

	_, err = c.UpsertPresence(decode[models.PresencePayload](t, `{"guild_id":"9","user":{"id":"8"},"status":"dnd"}`))
	assert.True(t, IsIntegrityError(err))
}

func TestUpdateVoiceState(t *testing.T) {
	c := newTestCache()
	seedGuild(t, c)

	prev, hadPrev, err := c.UpdateVoiceState(decode[models.VoiceStatePayload](t, `{"guild_id":"42","channel_id":"102","user_id":"2","session_id":"s2"}`))
	require.NoError(t, err)
	require.True(t, hadPrev)
	assert.Equal(t, snowflake.Snowflake(101), prev.ChannelID)
	assert.Empty(t, c.VoiceChannelUsers(101))
	assert.Equal(t, []snowflake.Snowflake{2}, c.VoiceChannelUsers(102))

	_, _, err = c.UpdateVoiceState(decode[models.VoiceStatePayload](t, `{"guild_id":"42","channel_id":null,"user_id":"2","session_id":"s2"}`))
	require.NoError(t, err)
	_, ok := c.VoiceState(42, 2)
	assert.False(t, ok)
	assert.Empty(t, c.VoiceChannelUsers(102))

	_, _, err = c.UpdateVoiceState(decode[models.VoiceStatePayload](t, `{"guild_id":"42","channel_id":"101","user_id":"5","member":{"user":{"id":"5","username":"mouse"},"roles":[]}}`))
	require.NoError(t, err)
	m, ok := c.Member(42, 5)
	require.True(t, ok)
	assert.Equal(t, "mouse", m.User.Username)
}

// ============================================================================
// Clear, sharing and concurrency
// ============================================================================

func TestClear(t *testing.T) {
	t.Run("owned users are cleared", func(t *testing.T) {
		c := newTestCache()
		seedGuild(t, c)
		c.Clear()

		assert.Equal(t, Stats{}, c.Stats())
		_, ok := c.Channel(100)
		assert.False(t, ok)
	})

	t.Run("shared users survive", func(t *testing.T) {
		users := NewUserTable()
		c := New(zap.NewNop(), WithUserTable(users))
		other := New(zap.NewNop(), WithUserTable(users))
		seedGuild(t, c)

		_, ok := other.User(1)
		assert.True(t, ok, "users are visible across shards")

		c.Clear()
		assert.Equal(t, 0, c.Stats().Guilds)
		assert.Equal(t, 2, users.Len())
	})
}

func TestReleasedRecordIsNotResurrected(t *testing.T) {
	rec := newRecord[models.User, models.User](models.User{ID: 1, Username: "a"})
	snap := rec.release(identity[models.User])
	assert.Equal(t, "a", snap.Username)

	assert.False(t, rec.update(func(u *models.User) { u.Username = "b" }))
	assert.Equal(t, "a", rec.snapshot(0, identity[models.User]).Username)
}

func TestSnapshotRegeneratedOnlyOnVersionChange(t *testing.T) {
	builds := 0
	build := func(u models.User) models.User {
		builds++
		return u
	}
	rec := newRecord[models.User, models.User](models.User{ID: 1})

	rec.snapshot(0, build)
	rec.snapshot(0, build)
	assert.Equal(t, 1, builds)

	rec.update(func(u *models.User) { u.Username = "x" })
	assert.Equal(t, "x", rec.snapshot(0, build).Username)
	assert.Equal(t, 2, builds)

	rec.snapshot(1, build)
	assert.Equal(t, 3, builds, "a dependency change also rebuilds")
}

func TestConcurrentUserAccess(t *testing.T) {
	users := NewUserTable()
	shards := []*Cache{New(zap.NewNop(), WithUserTable(users)), New(zap.NewNop(), WithUserTable(users))}

	var wg sync.WaitGroup
	for i, c := range shards {
		wg.Add(1)
		go func(i int, c *Cache) {
			defer wg.Done()
			for n := 0; n < 500; n++ {
				id := snowflake.Snowflake(n%50 + 1)
				c.UpsertUser(models.UserPayload{ID: id, Username: models.Some(fmt.Sprintf("u%d-%d", i, n))})
				c.User(id)
			}
		}(i, c)
	}
	wg.Wait()

	assert.Equal(t, 50, users.Len())
}

// TestUserMergeMatchesReferenceModel applies random partial updates and
// compares every resulting snapshot with a plain last-write-wins map.
func TestUserMergeMatchesReferenceModel(t *testing.T) {
	c := newTestCache()
	rng := rand.New(rand.NewSource(42))
	ref := map[snowflake.Snowflake]map[string]any{}

	for i := 0; i < 2000; i++ {
		id := snowflake.Snowflake(rng.Intn(10) + 1)
		p := models.UserPayload{ID: id}
		fields := ref[id]
		if fields == nil {
			fields = map[string]any{"username": "", "avatar": "", "bot": false}
			ref[id] = fields
		}

		if rng.Intn(2) == 0 {
			v := fmt.Sprintf("name-%d", rng.Intn(100))
			p.Username = models.Some(v)
			fields["username"] = v
		}
		switch rng.Intn(3) {
		case 0:
			v := fmt.Sprintf("hash-%d", rng.Intn(100))
			p.Avatar = models.Some(v)
			fields["avatar"] = v
		case 1:
			p.Avatar = models.Null[string]()
			fields["avatar"] = ""
		}
		if rng.Intn(4) == 0 {
			v := rng.Intn(2) == 0
			p.Bot = models.Some(v)
			fields["bot"] = v
		}

		got := c.UpsertUser(p)
		require.Equal(t, fields["username"], got.Username)
		require.Equal(t, fields["avatar"], got.Avatar)
		require.Equal(t, fields["bot"], got.Bot)
	}
}
