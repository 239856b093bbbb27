package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/cache"
	"github.com/parsascontentcorner/discordlitegateway/internal/gateway"
	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

type fakeGateway struct {
	sent chan gateway.VoiceStateUpdate
	err  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sent: make(chan gateway.VoiceStateUpdate, 32)}
}

func (g *fakeGateway) UpdateVoiceState(_ context.Context, u gateway.VoiceStateUpdate) error {
	if g.err != nil {
		return g.err
	}
	g.sent <- u
	return nil
}

func (g *fakeGateway) next(t *testing.T) gateway.VoiceStateUpdate {
	t.Helper()
	select {
	case u := <-g.sent:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no voice state update sent")
		return gateway.VoiceStateUpdate{}
	}
}

type fakeTransport struct {
	mu     sync.Mutex
	closed bool
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeDialer struct {
	mu         sync.Mutex
	handshakes []Handshake
	transports []*fakeTransport
	err        error
}

func (d *fakeDialer) Dial(_ context.Context, hs Handshake) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handshakes = append(d.handshakes, hs)
	if d.err != nil {
		return nil, d.err
	}
	t := &fakeTransport{}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) dials() ([]Handshake, []*fakeTransport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Handshake(nil), d.handshakes...), append([]*fakeTransport(nil), d.transports...)
}

type transitionLog struct {
	mu  sync.Mutex
	log []State
}

func (l *transitionLog) hook(_ snowflake.Snowflake, _, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log = append(l.log, to)
}

func (l *transitionLog) count(s State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, v := range l.log {
		if v == s {
			n++
		}
	}
	return n
}

const (
	testUser  = snowflake.Snowflake(1)
	testGuild = snowflake.Snowflake(42)
	testVoice = snowflake.Snowflake(100)
)

type harness struct {
	m           *Manager
	gw          *fakeGateway
	dialer      *fakeDialer
	transitions *transitionLog
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{gw: newFakeGateway(), dialer: &fakeDialer{}, transitions: &transitionLog{}}
	h.m = NewManager(h.gw, h.dialer, func() snowflake.Snowflake { return testUser },
		Config{HandshakeTimeout: timeout}, zap.NewNop())
	h.m.SetStateHook(h.transitions.hook)
	return h
}

func endpoint(s string) *string { return &s }

func stateSignal(guild snowflake.Snowflake) models.VoiceState {
	return models.VoiceState{GuildID: guild, ChannelID: testVoice, UserID: testUser, SessionID: "voice-session"}
}

func serverSignal(guild snowflake.Snowflake, host string) models.VoiceServer {
	return models.VoiceServer{GuildID: guild, Token: "voice-token", Endpoint: endpoint(host)}
}

// connect starts Connect in the background and waits for the join intent.
func (h *harness) connect(t *testing.T, guild snowflake.Snowflake) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- h.m.Connect(context.Background(), guild, testVoice, Options{SelfDeaf: true})
	}()
	join := h.gw.next(t)
	require.Equal(t, guild, join.GuildID)
	require.NotNil(t, join.ChannelID)
	assert.Equal(t, testVoice, *join.ChannelID)
	assert.True(t, join.SelfDeaf)
	return done
}

func result(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return")
		return nil
	}
}

func (h *harness) connected(t *testing.T, guild snowflake.Snowflake) {
	t.Helper()
	done := h.connect(t, guild)
	h.m.HandleVoiceStateUpdate(stateSignal(guild))
	require.NoError(t, h.m.HandleVoiceServerUpdate(serverSignal(guild, "voice-1.example")))
	require.NoError(t, result(t, done))
	require.Equal(t, StateConnected, h.m.State(guild))
}

func TestManager_SignalOrder(t *testing.T) {
	tests := []struct {
		name        string
		serverFirst bool
	}{
		{"state then server", false},
		{"server then state", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 2*time.Second)
			done := h.connect(t, testGuild)

			if tt.serverFirst {
				require.NoError(t, h.m.HandleVoiceServerUpdate(serverSignal(testGuild, "voice-1.example")))
				assert.Equal(t, StateAwaitingHandshakeSignals, h.m.State(testGuild))
				h.m.HandleVoiceStateUpdate(stateSignal(testGuild))
			} else {
				h.m.HandleVoiceStateUpdate(stateSignal(testGuild))
				assert.Equal(t, StateAwaitingHandshakeSignals, h.m.State(testGuild))
				require.NoError(t, h.m.HandleVoiceServerUpdate(serverSignal(testGuild, "voice-1.example")))
			}

			require.NoError(t, result(t, done))
			assert.Equal(t, StateConnected, h.m.State(testGuild))
			assert.Equal(t, 1, h.transitions.count(StateHandshaking))

			handshakes, _ := h.dialer.dials()
			require.Len(t, handshakes, 1)
			hs := handshakes[0]
			assert.Equal(t, testGuild, hs.GuildID)
			assert.Equal(t, testVoice, hs.ChannelID)
			assert.Equal(t, testUser, hs.UserID)
			assert.Equal(t, "voice-session", hs.SessionID)
			assert.Equal(t, "voice-token", hs.Token)
			assert.Equal(t, "voice-1.example", hs.Endpoint)
		})
	}
}

func TestManager_DuplicateSignalsHandshakeOnce(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	done := h.connect(t, testGuild)

	h.m.HandleVoiceStateUpdate(stateSignal(testGuild))
	h.m.HandleVoiceStateUpdate(stateSignal(testGuild))
	require.NoError(t, h.m.HandleVoiceServerUpdate(serverSignal(testGuild, "voice-1.example")))
	require.NoError(t, result(t, done))
	require.NoError(t, h.m.HandleVoiceServerUpdate(serverSignal(testGuild, "voice-1.example")))

	assert.Equal(t, 1, h.transitions.count(StateHandshaking))
	handshakes, _ := h.dialer.dials()
	assert.Len(t, handshakes, 1)
}

func TestManager_NullEndpointIsNotASignal(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	done := h.connect(t, testGuild)

	h.m.HandleVoiceStateUpdate(stateSignal(testGuild))
	require.NoError(t, h.m.HandleVoiceServerUpdate(models.VoiceServer{GuildID: testGuild, Token: "pending"}))
	assert.Equal(t, StateAwaitingHandshakeSignals, h.m.State(testGuild))

	require.NoError(t, h.m.HandleVoiceServerUpdate(serverSignal(testGuild, "voice-1.example")))
	require.NoError(t, result(t, done))
	assert.Equal(t, StateConnected, h.m.State(testGuild))
}

func TestManager_HandshakeTimeout(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	done := h.connect(t, testGuild)

	// Only one of the two signals arrives.
	h.m.HandleVoiceStateUpdate(stateSignal(testGuild))

	err := result(t, done)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, StateIdle, h.m.State(testGuild))

	leave := h.gw.next(t)
	assert.Equal(t, testGuild, leave.GuildID)
	assert.Nil(t, leave.ChannelID)

	// The guild can be joined again.
	h.connected(t, testGuild)
}

func TestManager_AlreadyConnectingOrConnected(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	done := h.connect(t, testGuild)

	err := h.m.Connect(context.Background(), testGuild, testVoice, Options{})
	assert.ErrorIs(t, err, ErrAlreadyConnecting)

	require.NoError(t, h.m.Disconnect(context.Background(), testGuild))
	assert.ErrorIs(t, result(t, done), ErrDisconnected)
	h.gw.next(t)

	h.connected(t, testGuild)
	err = h.m.Connect(context.Background(), testGuild, testVoice, Options{})
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestManager_Disconnect(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.connected(t, testGuild)

	require.NoError(t, h.m.Disconnect(context.Background(), testGuild))
	assert.Equal(t, StateIdle, h.m.State(testGuild))

	leave := h.gw.next(t)
	assert.Nil(t, leave.ChannelID)
	_, transports := h.dialer.dials()
	require.Len(t, transports, 1)
	assert.True(t, transports[0].isClosed())

	// Disconnecting an idle or unknown guild is a no-op.
	require.NoError(t, h.m.Disconnect(context.Background(), testGuild))
	require.NoError(t, h.m.Disconnect(context.Background(), snowflake.Snowflake(999)))
	assert.Empty(t, h.gw.sent)
}

func TestManager_ImplicitDisconnect(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.connected(t, testGuild)

	h.m.HandleVoiceStateUpdate(models.VoiceState{GuildID: testGuild, UserID: testUser, SessionID: "voice-session"})

	leave := h.gw.next(t)
	assert.Equal(t, testGuild, leave.GuildID)
	assert.Nil(t, leave.ChannelID)

	assert.Eventually(t, func() bool { return h.m.State(testGuild) == StateIdle }, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.m.Connections())

	_, transports := h.dialer.dials()
	require.Len(t, transports, 1)
	assert.True(t, transports[0].isClosed())

	// A repeated report while leaving sends nothing more.
	h.m.HandleVoiceStateUpdate(models.VoiceState{GuildID: testGuild, UserID: testUser})
	assert.Never(t, func() bool { return len(h.gw.sent) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestManager_ImplicitDisconnectDuringHandshake(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	done := h.connect(t, testGuild)

	h.m.HandleVoiceStateUpdate(models.VoiceState{GuildID: testGuild, UserID: testUser})
	assert.ErrorIs(t, result(t, done), ErrDisconnected)
	assert.Equal(t, StateIdle, h.m.State(testGuild))

	leave := h.gw.next(t)
	assert.Nil(t, leave.ChannelID)
}

func TestManager_DisconnectGuildForgetsIdleEntry(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.connected(t, testGuild)

	h.m.DisconnectGuild(testGuild)
	leave := h.gw.next(t)
	assert.Nil(t, leave.ChannelID)

	assert.Eventually(t, func() bool {
		h.m.mu.Lock()
		defer h.m.mu.Unlock()
		_, ok := h.m.conns[testGuild]
		return !ok
	}, time.Second, 5*time.Millisecond)

	// The guild can be joined again with a fresh entry.
	h.connected(t, testGuild)
}

func TestManager_ForgetKeepsRacingConnect(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	stale := h.m.connection(testGuild, true)

	// A Connect reuses the idle entry before it is forgotten.
	done := h.connect(t, testGuild)
	assert.False(t, h.m.forget(stale))

	h.m.HandleVoiceStateUpdate(stateSignal(testGuild))
	require.NoError(t, h.m.HandleVoiceServerUpdate(serverSignal(testGuild, "voice-1.example")))
	require.NoError(t, result(t, done))
	assert.Equal(t, StateConnected, h.m.State(testGuild))
}

func TestManager_ConnectSkipsForgottenEntry(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	stale := h.m.connection(testGuild, true)
	require.True(t, h.m.forget(stale))

	h.connected(t, testGuild)
	current := h.m.connection(testGuild, false)
	require.NotNil(t, current)
	assert.NotSame(t, stale, current)
	assert.Equal(t, StateIdle, func() State {
		stale.mu.Lock()
		defer stale.mu.Unlock()
		return stale.state
	}())
}

func TestManager_ServerUpdateWithoutConnection(t *testing.T) {
	h := newHarness(t, time.Second)

	err := h.m.HandleVoiceServerUpdate(serverSignal(testGuild, "voice-1.example"))
	require.Error(t, err)
	assert.True(t, cache.IsIntegrityError(err))

	// State updates for unknown guilds are ignored.
	h.m.HandleVoiceStateUpdate(stateSignal(testGuild))
	assert.Equal(t, StateIdle, h.m.State(testGuild))

	h.connected(t, testGuild)
	require.NoError(t, h.m.Disconnect(context.Background(), testGuild))
	err = h.m.HandleVoiceServerUpdate(serverSignal(testGuild, "voice-1.example"))
	assert.True(t, cache.IsIntegrityError(err))
}

func TestManager_EndpointChangeReopens(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.connected(t, testGuild)

	require.NoError(t, h.m.HandleVoiceServerUpdate(serverSignal(testGuild, "voice-2.example")))

	assert.Eventually(t, func() bool {
		handshakes, _ := h.dialer.dials()
		return len(handshakes) == 2 && h.m.State(testGuild) == StateConnected
	}, time.Second, 5*time.Millisecond)

	handshakes, transports := h.dialer.dials()
	assert.Equal(t, "voice-2.example", handshakes[1].Endpoint)
	assert.True(t, transports[0].isClosed())
	assert.False(t, transports[1].isClosed())
}

func TestManager_DialFailure(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.dialer.err = errors.New("connection refused")
	done := h.connect(t, testGuild)

	h.m.HandleVoiceStateUpdate(stateSignal(testGuild))
	require.NoError(t, h.m.HandleVoiceServerUpdate(serverSignal(testGuild, "voice-1.example")))

	err := result(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, StateIdle, h.m.State(testGuild))

	leave := h.gw.next(t)
	assert.Nil(t, leave.ChannelID)
}

func TestManager_JoinIntentFailure(t *testing.T) {
	h := newHarness(t, time.Second)
	h.gw.err = gateway.ErrNotConnected

	err := h.m.Connect(context.Background(), testGuild, testVoice, Options{})
	assert.ErrorIs(t, err, gateway.ErrNotConnected)
	assert.Equal(t, StateIdle, h.m.State(testGuild))
}

func TestManager_GuildsAreIndependent(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	other := snowflake.Snowflake(43)

	doneA := h.connect(t, testGuild)
	doneB := h.connect(t, other)

	h.m.HandleVoiceStateUpdate(stateSignal(testGuild))
	require.NoError(t, h.m.HandleVoiceServerUpdate(serverSignal(testGuild, "voice-1.example")))
	require.NoError(t, result(t, doneA))

	assert.Equal(t, StateConnected, h.m.State(testGuild))
	assert.Equal(t, StateAwaitingHandshakeSignals, h.m.State(other))
	assert.Len(t, h.m.Connections(), 2)

	require.NoError(t, h.m.Disconnect(context.Background(), other))
	assert.ErrorIs(t, result(t, doneB), ErrDisconnected)
	assert.Equal(t, StateConnected, h.m.State(testGuild))
}

func TestManager_DisconnectGuild(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.connected(t, testGuild)

	h.m.DisconnectGuild(testGuild)

	leave := h.gw.next(t)
	assert.Equal(t, testGuild, leave.GuildID)
	assert.Nil(t, leave.ChannelID)
	assert.Eventually(t, func() bool {
		return len(h.m.Connections()) == 0 && h.m.State(testGuild) == StateIdle
	}, time.Second, 5*time.Millisecond)
}

func TestManager_Connections(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.connected(t, testGuild)

	conns := h.m.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, testGuild, conns[0].GuildID)
	assert.Equal(t, testVoice, conns[0].ChannelID)
	assert.Equal(t, "connected", conns[0].State)
	assert.Equal(t, "voice-1.example", conns[0].Endpoint)
	assert.NotEmpty(t, conns[0].Attempt)

	h.m.Close(context.Background())
	assert.Empty(t, h.m.Connections())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_signals", StateAwaitingHandshakeSignals.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestManager_Reset(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.connected(t, testGuild)
	done := h.connect(t, snowflake.Snowflake(43))

	h.m.Reset()

	assert.ErrorIs(t, result(t, done), ErrDisconnected)
	assert.Empty(t, h.m.Connections())
	assert.Empty(t, h.gw.sent)

	_, transports := h.dialer.dials()
	require.Len(t, transports, 1)
	assert.Eventually(t, transports[0].isClosed, time.Second, 5*time.Millisecond)
}
