// Package integration drives the shard manager end to end against the mock
// REST API and mock gateway, and against Postgres for session persistence.
package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/gateway"
	"github.com/parsascontentcorner/discordlitegateway/internal/ratelimit"
	"github.com/parsascontentcorner/discordlitegateway/internal/rest"
	"github.com/parsascontentcorner/discordlitegateway/internal/shard"
	"github.com/parsascontentcorner/discordlitegateway/internal/testutil"
	"github.com/parsascontentcorner/discordlitegateway/internal/voice"
)

// migrationsPath is relative to this package.
const migrationsPath = "../database/migrations"

// testSuite holds the mock Discord surfaces shared by a test.
type testSuite struct {
	api    *testutil.MockDiscordServer
	gw     *testutil.MockGateway
	client *rest.Client
	voice  *voiceDialer
}

func setupTestSuite(t *testing.T) *testSuite {
	t.Helper()

	gw := testutil.NewMockGateway()
	api := testutil.NewMockDiscordServer()
	api.SetGatewayBot(gw.URL, 1, 1)
	t.Cleanup(func() {
		gw.Close()
		api.Close()
	})

	client, err := rest.NewClient(rest.Config{
		BaseURL:  api.APIBaseURL(),
		BotToken: testutil.MockBotToken,
	}, ratelimit.NewRateLimiter(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)

	return &testSuite{api: api, gw: gw, client: client, voice: &voiceDialer{}}
}

// newManager builds a manager that discovers its layout over REST.
func (ts *testSuite) newManager(store gateway.SessionStore) *shard.Manager {
	return shard.NewManager(shard.Config{
		Gateway: gateway.Config{
			Token:          testutil.MockBotToken,
			Version:        10,
			Intents:        641,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
		},
		VoiceHandshakeTimeout: 2 * time.Second,
		IdentifyInterval:      10 * time.Millisecond,
		VoiceDialer:           ts.voice,
	}, ts.client, store, zap.NewNop())
}

func startManager(t *testing.T, m *shard.Manager) {
	t.Helper()
	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, m.Ready, 5*time.Second, 10*time.Millisecond)
}

func stopManager(t *testing.T, m *shard.Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
}

// voiceDialer records voice handshakes instead of opening a voice gateway.
type voiceDialer struct {
	mu         sync.Mutex
	handshakes []voice.Handshake
}

type voiceTransport struct{}

func (voiceTransport) Close() error { return nil }

func (d *voiceDialer) Dial(_ context.Context, hs voice.Handshake) (voice.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handshakes = append(d.handshakes, hs)
	return voiceTransport{}, nil
}

func (d *voiceDialer) dialed() []voice.Handshake {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]voice.Handshake(nil), d.handshakes...)
}
