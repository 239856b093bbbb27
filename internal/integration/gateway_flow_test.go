package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/cache"
	"github.com/parsascontentcorner/discordlitegateway/internal/database"
	"github.com/parsascontentcorner/discordlitegateway/internal/dispatch"
	httpserver "github.com/parsascontentcorner/discordlitegateway/internal/http"
	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
	"github.com/parsascontentcorner/discordlitegateway/internal/testutil"
	"github.com/parsascontentcorner/discordlitegateway/internal/voice"
)

const (
	guildID = "8388608"
	voiceID = "8388700"
)

// ============================================================================
// Identify, cache and REST seeding
// ============================================================================

func TestGateway_IdentifyAndServe(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := setupTestSuite(t)
	ts.api.SetGatewayBot(ts.gw.URL, 2, 2)
	ts.gw.AddGuild(testutil.GenerateGuild(guildID, "zion", testutil.GenerateVoiceChannel(voiceID, "voice")))
	ts.api.AddUser(testutil.GenerateUser("77", "trinity"))
	ts.api.AddMember(guildID, testutil.GenerateMember(testutil.GenerateUser("78", "morpheus"), "captain"))

	m := ts.newManager(nil)
	created := m.Subscribe(dispatch.EventGuildAvailable)
	startManager(t, m)
	defer stopManager(t, m)

	select {
	case n := <-created.C:
		assert.Equal(t, 0, n.Shard)
		assert.Equal(t, "zion", n.Event.(dispatch.GuildAvailable).Guild.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("guild never became available")
	}

	s, ok := m.ShardForGuild(snowflake.MustParse(guildID))
	require.True(t, ok)
	assert.Len(t, s.Cache().GuildChannels(snowflake.MustParse(guildID)), 1)

	ctx := context.Background()
	u, err := s.FetchUser(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, "trinity", u.Username)

	// The user table is shared, so the other shard sees the seeded user.
	other, ok := m.Shard(1)
	require.True(t, ok)
	_, ok = other.Cache().User(77)
	assert.True(t, ok)

	member, err := s.FetchMember(ctx, snowflake.MustParse(guildID), 78)
	require.NoError(t, err)
	assert.Equal(t, "captain", member.Nick)
	assert.Equal(t, "morpheus", member.User.Username)

	_, err = s.FetchMember(ctx, snowflake.MustParse(guildID), 79)
	require.Error(t, err)
	assert.False(t, cache.IsIntegrityError(err))

	rr := httptest.NewRecorder()
	httpserver.NewHandlers(m, nil, zap.NewNop()).HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

// ============================================================================
// Voice handshake through the gateway
// ============================================================================

func TestGateway_VoiceJoin(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := setupTestSuite(t)
	ts.gw.AddGuild(testutil.GenerateGuild(guildID, "zion", testutil.GenerateVoiceChannel(voiceID, "voice")))
	m := ts.newManager(nil)
	available := m.Subscribe(dispatch.EventGuildAvailable)
	startManager(t, m)
	defer stopManager(t, m)

	select {
	case <-available.C:
	case <-time.After(5 * time.Second):
		t.Fatal("guild never became available")
	}

	s, ok := m.ShardForGuild(snowflake.MustParse(guildID))
	require.True(t, ok)

	joined := make(chan error, 1)
	go func() {
		joined <- s.JoinVoice(context.Background(), snowflake.MustParse(guildID), snowflake.MustParse(voiceID), voice.Options{SelfDeaf: true})
	}()

	require.Eventually(t, func() bool { return len(ts.gw.VoiceStates()) == 1 }, 5*time.Second, 10*time.Millisecond)
	intent := ts.gw.VoiceStates()[0]
	assert.Equal(t, guildID, intent.GuildID)
	require.NotNil(t, intent.ChannelID)
	assert.Equal(t, voiceID, *intent.ChannelID)
	assert.True(t, intent.SelfDeaf)

	// Server half first, state half second.
	require.NoError(t, ts.gw.Dispatch(0, "VOICE_SERVER_UPDATE", map[string]any{
		"guild_id": guildID,
		"token":    "voice-token",
		"endpoint": "voice-1.example:443",
	}))
	require.NoError(t, ts.gw.Dispatch(0, "VOICE_STATE_UPDATE", map[string]any{
		"guild_id":   guildID,
		"channel_id": voiceID,
		"user_id":    testutil.BotUserID,
		"session_id": "voice-session",
		"self_deaf":  true,
	}))

	select {
	case err := <-joined:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("voice join did not finish")
	}
	assert.Equal(t, voice.StateConnected, s.VoiceState(snowflake.MustParse(guildID)))

	dialed := ts.voice.dialed()
	require.Len(t, dialed, 1)
	assert.Equal(t, "voice-session", dialed[0].SessionID)
	assert.Equal(t, "voice-token", dialed[0].Token)
	assert.Equal(t, "voice-1.example:443", dialed[0].Endpoint)
	assert.Equal(t, snowflake.Snowflake(1), dialed[0].UserID)

	vs, ok := s.Cache().VoiceState(snowflake.MustParse(guildID), 1)
	require.True(t, ok)
	assert.Equal(t, snowflake.MustParse(voiceID), vs.ChannelID)

	require.NoError(t, s.LeaveVoice(context.Background(), snowflake.MustParse(guildID)))
	require.Eventually(t, func() bool { return len(ts.gw.VoiceStates()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Nil(t, ts.gw.VoiceStates()[1].ChannelID)
	assert.Equal(t, voice.StateIdle, s.VoiceState(snowflake.MustParse(guildID)))
}

// ============================================================================
// Resume across restarts
// ============================================================================

func TestGateway_ResumesStoredSessionAfterRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db, cleanup, err := database.SetupTestDB(ctx, migrationsPath)
	require.NoError(t, err)
	defer cleanup()
	store := database.NewStore(db, time.Minute, zap.NewNop())

	ts := setupTestSuite(t)

	first := ts.newManager(store)
	startManager(t, first)

	var stored *models.ShardSession
	require.Eventually(t, func() bool {
		stored, err = db.GetShardSession(ctx, 0)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	testutil.AssertShardSessionEqual(t, &models.ShardSession{
		ShardID:          0,
		ShardCount:       1,
		SessionID:        "session-0-1",
		ResumeGatewayURL: ts.gw.URL,
		Sequence:         stored.Sequence,
		Status:           models.SessionStatusReady,
	}, stored)
	stopManager(t, first)

	resumed := make(chan struct{}, 1)
	second := ts.newManager(store)
	sub := second.Subscribe(dispatch.EventResumed)
	go func() {
		if _, ok := <-sub.C; ok {
			resumed <- struct{}{}
		}
	}()
	startManager(t, second)
	defer stopManager(t, second)

	select {
	case <-resumed:
	case <-time.After(5 * time.Second):
		t.Fatal("restarted shard did not resume")
	}

	assert.Len(t, ts.gw.Identifies(), 1)
	resumes := ts.gw.Resumes()
	require.Len(t, resumes, 1)
	assert.Equal(t, "session-0-1", resumes[0].SessionID)
	assert.Equal(t, stored.Sequence, resumes[0].Seq)
}

func TestGateway_StatsAreJSON(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := setupTestSuite(t)
	m := ts.newManager(nil)
	startManager(t, m)
	defer stopManager(t, m)

	rr := httptest.NewRecorder()
	httpserver.NewHandlers(m, nil, zap.NewNop()).ShardsHandler(rr, httptest.NewRequest(http.MethodGet, "/shards", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		ShardCount int  `json:"shard_count"`
		Ready      bool `json:"ready"`
		Shards     []struct {
			Session struct {
				State     string `json:"state"`
				SessionID string `json:"session_id"`
			} `json:"session"`
		} `json:"shards"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.ShardCount)
	assert.True(t, body.Ready)
	require.Len(t, body.Shards, 1)
	assert.Equal(t, "ready", body.Shards[0].Session.State)
	assert.Equal(t, "session-0-1", body.Shards[0].Session.SessionID)
}
