// Package voice manages the per-guild voice connection handshake. Joining
// a channel needs two gateway signals, the own voice state and the voice
// server assignment, which may arrive in either order.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/cache"
	"github.com/parsascontentcorner/discordlitegateway/internal/gateway"
	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// State is the state of one guild's voice connection.
type State int32

const (
	StateIdle State = iota
	StateAwaitingHandshakeSignals
	StateHandshaking
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingHandshakeSignals:
		return "awaiting_signals"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

var (
	ErrAlreadyConnecting = errors.New("voice connection already in progress")
	ErrAlreadyConnected  = errors.New("voice already connected")
	ErrHandshakeTimeout  = errors.New("voice handshake timed out")
	ErrDisconnected      = errors.New("voice connection closed during handshake")
)

const (
	// DefaultHandshakeTimeout bounds the wait for both handshake signals.
	DefaultHandshakeTimeout = 10 * time.Second
	leaveTimeout            = 5 * time.Second
)

// Gateway sends voice state intents on the shard's gateway connection.
type Gateway interface {
	UpdateVoiceState(ctx context.Context, update gateway.VoiceStateUpdate) error
}

// Handshake is everything needed to open the voice transport.
type Handshake struct {
	GuildID   snowflake.Snowflake
	ChannelID snowflake.Snowflake
	UserID    snowflake.Snowflake
	SessionID string
	Token     string
	Endpoint  string
	Attempt   uuid.UUID
}

// Transport is an open voice gateway connection.
type Transport interface {
	Close() error
}

// Dialer opens the voice transport once the handshake signals arrived.
type Dialer interface {
	Dial(ctx context.Context, hs Handshake) (Transport, error)
}

// Options are the self mute and deaf flags sent with the join intent.
type Options struct {
	SelfMute bool
	SelfDeaf bool
}

// Info describes a guild's voice connection.
type Info struct {
	GuildID   snowflake.Snowflake `json:"guild_id"`
	ChannelID snowflake.Snowflake `json:"channel_id"`
	State     string              `json:"state"`
	SessionID string              `json:"session_id,omitempty"`
	Endpoint  string              `json:"endpoint,omitempty"`
	Attempt   string              `json:"attempt,omitempty"`
}

// StateHook observes every state transition.
type StateHook func(guildID snowflake.Snowflake, from, to State)

// Config configures a Manager.
type Config struct {
	HandshakeTimeout time.Duration
}

// Manager owns the voice connections of one shard.
type Manager struct {
	gateway     Gateway
	dialer      Dialer
	currentUser func() snowflake.Snowflake
	timeout     time.Duration
	hook        StateHook
	logger      *zap.Logger

	mu    sync.Mutex
	conns map[snowflake.Snowflake]*connection
}

// connection is one guild's state machine.
type connection struct {
	guildID snowflake.Snowflake

	mu           sync.Mutex
	state        State
	attempt      uuid.UUID
	opts         Options
	channelID    snowflake.Snowflake
	sessionID    string
	server       models.VoiceServer
	stateSignal  bool
	serverSignal bool
	ready        chan struct{} // closed when both signals arrived
	aborted      chan struct{} // closed when the attempt is abandoned
	transport    Transport
	removed      bool // dropped from the manager map; callers look it up again
}

// NewManager creates a voice manager. currentUser returns the bot's user id.
func NewManager(gw Gateway, dialer Dialer, currentUser func() snowflake.Snowflake, cfg Config, logger *zap.Logger) *Manager {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Manager{
		gateway:     gw,
		dialer:      dialer,
		currentUser: currentUser,
		timeout:     cfg.HandshakeTimeout,
		hook:        func(snowflake.Snowflake, State, State) {},
		logger:      logger.Named("voice"),
		conns:       make(map[snowflake.Snowflake]*connection),
	}
}

// SetStateHook installs a transition observer. It is called with the
// connection lock held and must not call back into the manager.
func (m *Manager) SetStateHook(hook StateHook) {
	if hook == nil {
		hook = func(snowflake.Snowflake, State, State) {}
	}
	m.hook = hook
}

func (m *Manager) connection(guildID snowflake.Snowflake, create bool) *connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[guildID]
	if !ok && create {
		c = &connection{guildID: guildID}
		m.conns[guildID] = c
	}
	return c
}

// transition must be called with c.mu held.
func (m *Manager) transition(c *connection, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	m.logger.Debug("voice state changed",
		zap.String("guild_id", c.guildID.String()),
		zap.String("attempt", c.attempt.String()),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	m.hook(c.guildID, from, to)
}

// reset returns c to Idle. Must be called with c.mu held.
func (m *Manager) reset(c *connection) {
	if c.aborted != nil {
		select {
		case <-c.aborted:
		default:
			close(c.aborted)
		}
	}
	c.channelID = 0
	c.sessionID = ""
	c.server = models.VoiceServer{}
	c.stateSignal = false
	c.serverSignal = false
	c.transport = nil
	m.transition(c, StateIdle)
}

// Connect joins a voice channel and blocks until the voice transport is
// open, the handshake times out or ctx is done.
func (m *Manager) Connect(ctx context.Context, guildID, channelID snowflake.Snowflake, opts Options) error {
	var c *connection
	for {
		c = m.connection(guildID, true)
		c.mu.Lock()
		if !c.removed {
			break
		}
		c.mu.Unlock()
	}

	switch c.state {
	case StateIdle:
	case StateConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	default:
		c.mu.Unlock()
		return ErrAlreadyConnecting
	}
	attempt := uuid.New()
	c.attempt = attempt
	c.opts = opts
	c.channelID = channelID
	c.ready = make(chan struct{})
	c.aborted = make(chan struct{})
	ready, aborted := c.ready, c.aborted
	m.transition(c, StateAwaitingHandshakeSignals)
	c.mu.Unlock()

	logger := m.logger.With(
		zap.String("guild_id", guildID.String()),
		zap.String("channel_id", channelID.String()),
		zap.String("attempt", attempt.String()),
	)
	logger.Info("joining voice channel")

	err := m.gateway.UpdateVoiceState(ctx, gateway.VoiceStateUpdate{
		GuildID:   guildID,
		ChannelID: &channelID,
		SelfMute:  opts.SelfMute,
		SelfDeaf:  opts.SelfDeaf,
	})
	if err != nil {
		m.abandon(c, attempt, false)
		return fmt.Errorf("failed to send voice state update: %w", err)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-aborted:
		return ErrDisconnected
	case <-timer.C:
		logger.Warn("voice handshake timed out", zap.Duration("timeout", m.timeout))
		m.abandon(c, attempt, true)
		return ErrHandshakeTimeout
	case <-ctx.Done():
		m.abandon(c, attempt, true)
		return ctx.Err()
	}

	if err := m.open(ctx, c, attempt); err != nil {
		logger.Error("failed to open voice transport", zap.Error(err))
		m.abandon(c, attempt, true)
		return err
	}
	logger.Info("voice connected")
	return nil
}

// open dials the voice transport for the current attempt.
func (m *Manager) open(ctx context.Context, c *connection, attempt uuid.UUID) error {
	c.mu.Lock()
	if c.attempt != attempt || c.state != StateHandshaking {
		c.mu.Unlock()
		return ErrDisconnected
	}
	hs := Handshake{
		GuildID:   c.guildID,
		ChannelID: c.channelID,
		SessionID: c.sessionID,
		Token:     c.server.Token,
		Endpoint:  c.server.EndpointHost(),
		Attempt:   attempt,
	}
	c.mu.Unlock()
	if m.currentUser != nil {
		hs.UserID = m.currentUser()
	}

	transport, err := m.dialer.Dial(ctx, hs)
	if err != nil {
		return fmt.Errorf("failed to open voice transport: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt || c.state != StateHandshaking {
		transport.Close()
		return ErrDisconnected
	}
	c.transport = transport
	m.transition(c, StateConnected)
	return nil
}

// abandon ends an attempt, optionally sending the leave intent first.
func (m *Manager) abandon(c *connection, attempt uuid.UUID, leave bool) {
	c.mu.Lock()
	if c.attempt != attempt || c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	transport := m.beginLeave(c)
	c.mu.Unlock()

	m.finishLeave(c, attempt, transport, leave)
}

// beginLeave moves c to Disconnecting and takes its transport. Must be
// called with c.mu held.
func (m *Manager) beginLeave(c *connection) Transport {
	transport := c.transport
	c.transport = nil
	m.transition(c, StateDisconnecting)
	return transport
}

// finishLeave sends the leave intent when asked, closes the transport and
// returns c to Idle unless a newer attempt took over.
func (m *Manager) finishLeave(c *connection, attempt uuid.UUID, transport Transport, leave bool) {
	if leave {
		m.sendLeave(c.guildID)
	}
	if transport != nil {
		transport.Close()
	}

	c.mu.Lock()
	if c.attempt == attempt {
		m.reset(c)
	}
	c.mu.Unlock()
}

func (m *Manager) sendLeave(guildID snowflake.Snowflake) error {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	err := m.gateway.UpdateVoiceState(ctx, gateway.VoiceStateUpdate{GuildID: guildID})
	if err != nil {
		m.logger.Warn("failed to send voice leave",
			zap.String("guild_id", guildID.String()),
			zap.Error(err),
		)
	}
	return err
}

// Disconnect leaves the guild's voice channel. It is a no-op when the guild
// has no connection.
func (m *Manager) Disconnect(ctx context.Context, guildID snowflake.Snowflake) error {
	c := m.connection(guildID, false)
	if c == nil {
		return nil
	}

	c.mu.Lock()
	if c.state == StateIdle || c.state == StateDisconnecting {
		c.mu.Unlock()
		return nil
	}
	attempt := c.attempt
	transport := c.transport
	c.transport = nil
	m.transition(c, StateDisconnecting)
	c.mu.Unlock()

	err := m.gateway.UpdateVoiceState(ctx, gateway.VoiceStateUpdate{GuildID: guildID})
	if transport != nil {
		transport.Close()
	}

	c.mu.Lock()
	if c.attempt == attempt {
		m.reset(c)
	}
	c.mu.Unlock()

	m.logger.Info("left voice channel", zap.String("guild_id", guildID.String()))
	if err != nil {
		return fmt.Errorf("failed to send voice leave: %w", err)
	}
	return nil
}

// DisconnectGuild disconnects in the background. The dispatch sequence calls
// it when the current user leaves a guild.
func (m *Manager) DisconnectGuild(guildID snowflake.Snowflake) {
	c := m.connection(guildID, false)
	if c == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if err := m.Disconnect(ctx, guildID); err != nil {
			m.logger.Warn("failed to disconnect voice of removed guild",
				zap.String("guild_id", guildID.String()),
				zap.Error(err),
			)
		}
		m.forget(c)
	}()
}

// forget drops c from the map when it is still the guild's idle entry. A
// Connect that raced the disconnect keeps its entry.
func (m *Manager) forget(c *connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns[c.guildID] != c {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return false
	}
	c.removed = true
	delete(m.conns, c.guildID)
	return true
}

// HandleVoiceStateUpdate receives the current user's voice state. A state
// without a channel means the user was disconnected.
func (m *Manager) HandleVoiceStateUpdate(vs models.VoiceState) {
	c := m.connection(vs.GuildID, false)
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !vs.InChannel() {
		if c.state == StateIdle || c.state == StateDisconnecting {
			return
		}
		m.logger.Info("voice disconnected by the server", zap.String("guild_id", vs.GuildID.String()))
		// The leave goes out off the dispatch sequence.
		go m.finishLeave(c, c.attempt, m.beginLeave(c), true)
		return
	}

	switch c.state {
	case StateAwaitingHandshakeSignals:
		c.sessionID = vs.SessionID
		c.channelID = vs.ChannelID
		c.stateSignal = true
		m.maybeHandshake(c)
	case StateHandshaking, StateConnected:
		// Moved to another channel; the transport stays open.
		c.sessionID = vs.SessionID
		c.channelID = vs.ChannelID
	}
}

// HandleVoiceServerUpdate receives the voice server assignment. A guild
// without an active connection is an integrity violation.
func (m *Manager) HandleVoiceServerUpdate(vs models.VoiceServer) error {
	c := m.connection(vs.GuildID, false)
	if c == nil {
		return &cache.IntegrityError{Entity: "voice connection", GuildID: vs.GuildID, ID: vs.GuildID}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateAwaitingHandshakeSignals:
		if vs.Endpoint == nil {
			// No server allocated yet; another update follows.
			return nil
		}
		c.server = vs
		c.serverSignal = true
		m.maybeHandshake(c)

	case StateHandshaking:
		if vs.Endpoint != nil {
			c.server = vs
		}

	case StateConnected:
		if vs.Endpoint == nil {
			m.logger.Info("voice server going away", zap.String("guild_id", vs.GuildID.String()))
			return nil
		}
		if vs.EndpointHost() == c.server.EndpointHost() && vs.Token == c.server.Token {
			return nil
		}
		m.logger.Info("voice server changed, reconnecting",
			zap.String("guild_id", vs.GuildID.String()),
			zap.String("endpoint", vs.EndpointHost()),
		)
		c.server = vs
		old := c.transport
		c.transport = nil
		m.transition(c, StateHandshaking)
		go m.reopen(c, c.attempt, old)

	default:
		return &cache.IntegrityError{Entity: "voice connection", GuildID: vs.GuildID, ID: vs.GuildID}
	}
	return nil
}

// maybeHandshake moves to Handshaking once both signals are in. Must be
// called with c.mu held.
func (m *Manager) maybeHandshake(c *connection) {
	if !c.stateSignal || !c.serverSignal || c.state != StateAwaitingHandshakeSignals {
		return
	}
	m.transition(c, StateHandshaking)
	close(c.ready)
}

func (m *Manager) reopen(c *connection, attempt uuid.UUID, old Transport) {
	if old != nil {
		old.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.open(ctx, c, attempt); err != nil {
		m.logger.Error("failed to reopen voice transport",
			zap.String("guild_id", c.guildID.String()),
			zap.Error(err),
		)
		m.abandon(c, attempt, true)
	}
}

// State returns the guild's voice state.
func (m *Manager) State(guildID snowflake.Snowflake) State {
	c := m.connection(guildID, false)
	if c == nil {
		return StateIdle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connections describes every guild that is not idle.
func (m *Manager) Connections() []Info {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(conns))
	for _, c := range conns {
		c.mu.Lock()
		if c.state != StateIdle {
			out = append(out, Info{
				GuildID:   c.guildID,
				ChannelID: c.channelID,
				State:     c.state.String(),
				SessionID: c.sessionID,
				Endpoint:  c.server.EndpointHost(),
				Attempt:   c.attempt.String(),
			})
		}
		c.mu.Unlock()
	}
	return out
}

// Reset drops every connection locally without sending leave intents. A
// new gateway session does not carry the old voice sessions over.
func (m *Manager) Reset() {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		if c.state != StateIdle {
			if transport := c.transport; transport != nil {
				go transport.Close()
			}
			m.reset(c)
		}
		c.mu.Unlock()
	}
}

// Close disconnects every guild.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	ids := make([]snowflake.Snowflake, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Disconnect(ctx, id); err != nil {
			m.logger.Warn("failed to disconnect voice", zap.String("guild_id", id.String()), zap.Error(err))
		}
	}
}
