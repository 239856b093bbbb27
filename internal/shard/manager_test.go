package shard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/dispatch"
	"github.com/parsascontentcorner/discordlitegateway/internal/gateway"
	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/ratelimit"
	"github.com/parsascontentcorner/discordlitegateway/internal/rest"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
	"github.com/parsascontentcorner/discordlitegateway/internal/testutil"
)

const (
	guildOnShard0 = "8388608" // 2 << 22
	guildOnShard1 = "4194304" // 1 << 22
)

func newRESTClient(t *testing.T, mds *testutil.MockDiscordServer) *rest.Client {
	t.Helper()
	client, err := rest.NewClient(rest.Config{
		BaseURL:  mds.APIBaseURL(),
		BotToken: testutil.MockBotToken,
	}, ratelimit.NewRateLimiter(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	return client
}

func testManagerConfig(url string) Config {
	return Config{
		Gateway: gateway.Config{
			Token:          testutil.MockBotToken,
			URL:            url,
			Version:        10,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
		},
		IdentifyInterval: 10 * time.Millisecond,
	}
}

func shutdown(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
}

// ============================================================================
// Start
// ============================================================================

func TestManager_StartDiscoversLayout(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()
	gw.AddGuild(testutil.GenerateGuild(guildOnShard0, "nebuchadnezzar"))
	gw.AddGuild(testutil.GenerateGuild(guildOnShard1, "zion"))

	mds := testutil.NewMockDiscordServer()
	defer mds.Close()
	mds.SetGatewayBot(gw.URL, 2, 2)

	m := NewManager(testManagerConfig(""), newRESTClient(t, mds), nil, zap.NewNop())
	ready := m.Subscribe(dispatch.EventReady)

	require.NoError(t, m.Start(context.Background()))
	defer shutdown(t, m)

	require.Eventually(t, m.Ready, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, mds.Calls("/gateway/bot"))
	assert.Equal(t, 2, m.ShardCount())

	shards := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case n := <-ready.C:
			shards[n.Shard] = true
		case <-time.After(5 * time.Second):
			t.Fatal("READY notification not delivered")
		}
	}
	assert.Equal(t, map[int]bool{0: true, 1: true}, shards)

	identified := map[[2]int]bool{}
	for _, ident := range gw.Identifies() {
		assert.Equal(t, testutil.MockBotToken, ident.Token)
		identified[ident.Shard] = true
	}
	assert.Equal(t, map[[2]int]bool{{0, 2}: true, {1, 2}: true}, identified)

	s, ok := m.ShardForGuild(snowflake.MustParse(guildOnShard1))
	require.True(t, ok)
	assert.Equal(t, 1, s.ID())
	require.Eventually(t, func() bool {
		g, ok := s.Cache().Guild(snowflake.MustParse(guildOnShard1))
		return ok && g.Name == "zion"
	}, 5*time.Second, 10*time.Millisecond)

	_, ok = s.Cache().Guild(snowflake.MustParse(guildOnShard0))
	assert.False(t, ok)

	stats := m.Stats()
	assert.True(t, stats.Ready)
	assert.Len(t, stats.Shards, 2)
	assert.Equal(t, 1, stats.Users)
}

func TestManager_ConfiguredLayoutSkipsDiscovery(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()

	cfg := testManagerConfig(gw.URL)
	cfg.ShardCount = 4
	cfg.ShardIDs = []int{2}
	m := NewManager(cfg, nil, nil, zap.NewNop())

	require.NoError(t, m.Start(context.Background()))
	defer shutdown(t, m)

	require.Eventually(t, m.Ready, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, m.Shards(), 1)
	_, ok := m.Shard(0)
	assert.False(t, ok)

	idents := gw.Identifies()
	require.Len(t, idents, 1)
	assert.Equal(t, [2]int{2, 4}, idents[0].Shard)

	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
}

// collect reads notification names until want arrives.
func collect(t *testing.T, sub *Subscription, want string) []string {
	t.Helper()
	var names []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n, ok := <-sub.C:
			require.True(t, ok, "subscription closed while waiting for %s", want)
			names = append(names, n.Event.Name())
			if n.Event.Name() == want {
				return names
			}
		case <-timeout:
			t.Fatalf("no %s notification, got %v", want, names)
			return nil
		}
	}
}

func TestManager_ResumesAfterConnectionLoss(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()
	gw.AddGuild(testutil.GenerateGuild(guildOnShard0, "zion",
		testutil.GenerateVoiceChannel("8388700", "dock")))

	cfg := testManagerConfig(gw.URL)
	cfg.ShardCount = 1
	m := NewManager(cfg, nil, nil, zap.NewNop())
	all := m.Subscribe()

	require.NoError(t, m.Start(context.Background()))
	defer shutdown(t, m)
	require.Eventually(t, m.Ready, 5*time.Second, 10*time.Millisecond)
	collect(t, all, dispatch.EventGuildAvailable)

	s, ok := m.Shard(0)
	require.True(t, ok)
	guildID := snowflake.MustParse(guildOnShard0)
	guild, ok := s.Cache().Guild(guildID)
	require.True(t, ok)
	channels := s.Cache().GuildChannels(guildID)
	require.Len(t, channels, 1)

	// A guild rebuild would drop members it did not list.
	_, _, err := s.Cache().SeedMember(models.MemberPayload{
		GuildID: guildID,
		User:    models.UserPayload{ID: 99, Username: models.Some("tank")},
	})
	require.NoError(t, err)

	gw.DropConnections()
	names := collect(t, all, dispatch.EventResumed)

	// Anything still in flight after RESUMED counts too.
	drain := time.After(100 * time.Millisecond)
loop:
	for {
		select {
		case n := <-all.C:
			names = append(names, n.Event.Name())
		case <-drain:
			break loop
		}
	}
	assert.NotContains(t, names, dispatch.EventReady)
	assert.NotContains(t, names, dispatch.EventGuildCreated)
	assert.NotContains(t, names, dispatch.EventGuildAvailable)
	assert.NotContains(t, names, EventShardSessionInvalidated)

	after, ok := s.Cache().Guild(guildID)
	require.True(t, ok)
	assert.Equal(t, guild, after)
	assert.Equal(t, channels, s.Cache().GuildChannels(guildID))
	_, ok = s.Cache().Member(guildID, 99)
	assert.True(t, ok, "seeded member lost across resume")

	resumes := gw.Resumes()
	require.Len(t, resumes, 1)
	assert.Equal(t, "session-0-1", resumes[0].SessionID)
	assert.Equal(t, int64(2), resumes[0].Seq)
	assert.Len(t, gw.Identifies(), 1)
}

func TestManager_ShutdownClosesSubscriptions(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()

	cfg := testManagerConfig(gw.URL)
	cfg.ShardCount = 1
	m := NewManager(cfg, nil, nil, zap.NewNop())
	assert.ErrorIs(t, m.Shutdown(context.Background()), ErrNotStarted)

	sub := m.Subscribe(EventShardDisconnected)
	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, m.Ready, 5*time.Second, 10*time.Millisecond)

	shutdown(t, m)

	n, open := <-sub.C
	require.True(t, open)
	assert.Equal(t, ShardDisconnected{}, n.Event)
	_, open = <-sub.C
	assert.False(t, open)

	select {
	case <-m.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}
	assert.NoError(t, m.Err())
	assert.False(t, m.Ready())
}

func TestManager_DiscoveryFailure(t *testing.T) {
	mds := testutil.NewMockDiscordServer()
	defer mds.Close()

	client, err := rest.NewClient(rest.Config{
		BaseURL:  mds.APIBaseURL(),
		BotToken: "wrong",
	}, ratelimit.NewRateLimiter(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)

	m := NewManager(testManagerConfig(""), client, nil, zap.NewNop())
	err = m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to discover gateway")
	assert.Empty(t, m.Shards())
	assert.False(t, m.Ready())
}

func TestShardIDs(t *testing.T) {
	tests := []struct {
		name       string
		configured []int
		count      int
		want       []int
		wantErr    bool
	}{
		{name: "all", count: 3, want: []int{0, 1, 2}},
		{name: "subset sorted", configured: []int{3, 1}, count: 4, want: []int{1, 3}},
		{name: "out of range", configured: []int{4}, count: 4, wantErr: true},
		{name: "negative", configured: []int{-1}, count: 4, wantErr: true},
		{name: "duplicate", configured: []int{1, 1}, count: 4, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := shardIDs(tt.configured, tt.count)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
