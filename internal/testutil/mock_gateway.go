package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// Gateway opcodes the mock speaks.
const (
	gwOpDispatch       = 0
	gwOpHeartbeat      = 1
	gwOpIdentify       = 2
	gwOpVoiceState     = 4
	gwOpResume         = 6
	gwOpInvalidSession = 9
	gwOpHello          = 10
	gwOpHeartbeatACK   = 11
)

// GatewayIdentify is an identify the mock gateway received.
type GatewayIdentify struct {
	Token          string `json:"token"`
	Shard          [2]int `json:"shard"`
	Intents        int    `json:"intents"`
	Compress       bool   `json:"compress"`
	LargeThreshold int    `json:"large_threshold"`
}

// GatewayResume is a resume the mock gateway received.
type GatewayResume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// GatewayVoiceState is a voice state update the mock gateway received.
type GatewayVoiceState struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

type gatewayFrame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s,omitempty"`
	T  *string         `json:"t,omitempty"`
}

// MockGateway is a websocket Discord gateway. It sends hello on accept,
// acknowledges heartbeats, answers identify with READY followed by a
// GUILD_CREATE for each of the shard's guilds, and resumes sessions it
// issued.
type MockGateway struct {
	Server *httptest.Server
	// URL is the ws:// address of the gateway.
	URL string
	// HeartbeatInterval is sent in hello, in milliseconds.
	HeartbeatInterval int
	// User is the bot user sent in READY.
	User map[string]any

	mu          sync.Mutex
	guilds      []map[string]any
	conns       map[int]*gatewayConn // shard id -> latest connection
	all         []*gatewayConn
	sessions    map[string]int64     // session id -> last sequence
	identifies  []GatewayIdentify
	resumes     []GatewayResume
	voiceStates []GatewayVoiceState
	accepted    int
	nextSession int
}

type gatewayConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	shard     [2]int
	sessionID string
}

// NewMockGateway starts a mock gateway.
func NewMockGateway() *MockGateway {
	m := &MockGateway{
		HeartbeatInterval: 1000,
		User:              map[string]any{"id": "1", "username": "gateway-bot", "bot": true},
		conns:             make(map[int]*gatewayConn),
		sessions:          make(map[string]int64),
	}
	upgrader := websocket.Upgrader{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.serve(&gatewayConn{ws: ws})
	}))
	m.URL = "ws" + strings.TrimPrefix(m.Server.URL, "http")
	return m
}

// AddGuild adds a guild that is created on the shard owning its id.
func (m *MockGateway) AddGuild(guild map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guilds = append(m.guilds, guild)
}

func (m *MockGateway) serve(c *gatewayConn) {
	defer c.ws.Close()

	m.mu.Lock()
	m.accepted++
	m.all = append(m.all, c)
	interval := m.HeartbeatInterval
	m.mu.Unlock()

	if err := c.send(gwOpHello, map[string]any{"heartbeat_interval": interval}, nil, nil); err != nil {
		return
	}

	for {
		var f gatewayFrame
		if err := c.ws.ReadJSON(&f); err != nil {
			return
		}
		switch f.Op {
		case gwOpHeartbeat:
			if err := c.send(gwOpHeartbeatACK, nil, nil, nil); err != nil {
				return
			}
		case gwOpIdentify:
			var ident GatewayIdentify
			if err := json.Unmarshal(f.D, &ident); err != nil {
				return
			}
			m.identify(c, ident)
		case gwOpResume:
			var res GatewayResume
			if err := json.Unmarshal(f.D, &res); err != nil {
				return
			}
			m.resume(c, res)
		case gwOpVoiceState:
			var vs GatewayVoiceState
			if err := json.Unmarshal(f.D, &vs); err == nil {
				m.mu.Lock()
				m.voiceStates = append(m.voiceStates, vs)
				m.mu.Unlock()
			}
		}
	}
}

func (m *MockGateway) identify(c *gatewayConn, ident GatewayIdentify) {
	m.mu.Lock()
	m.identifies = append(m.identifies, ident)
	m.nextSession++
	c.shard = ident.Shard
	c.sessionID = fmt.Sprintf("session-%d-%d", ident.Shard[0], m.nextSession)
	m.conns[ident.Shard[0]] = c

	var guilds []map[string]any
	unavailable := make([]map[string]any, 0)
	for _, g := range m.guilds {
		if guildShard(g, ident.Shard[1]) != ident.Shard[0] {
			continue
		}
		guilds = append(guilds, g)
		unavailable = append(unavailable, map[string]any{"id": g["id"], "unavailable": true})
	}
	ready := map[string]any{
		"v":                  10,
		"user":               m.User,
		"session_id":         c.sessionID,
		"resume_gateway_url": m.URL,
		"guilds":             unavailable,
		"shard":              ident.Shard,
	}
	m.mu.Unlock()

	if err := m.dispatch(c, "READY", ready); err != nil {
		return
	}
	for _, g := range guilds {
		if err := m.dispatch(c, "GUILD_CREATE", g); err != nil {
			return
		}
	}
}

func (m *MockGateway) resume(c *gatewayConn, res GatewayResume) {
	m.mu.Lock()
	m.resumes = append(m.resumes, res)
	_, known := m.sessions[res.SessionID]
	if known {
		c.sessionID = res.SessionID
		for shard, prev := range m.conns {
			if prev.sessionID == res.SessionID {
				c.shard = prev.shard
				m.conns[shard] = c
			}
		}
	}
	m.mu.Unlock()

	if !known {
		_ = c.send(gwOpInvalidSession, false, nil, nil)
		return
	}
	_ = m.dispatch(c, "RESUMED", map[string]any{})
}

func (m *MockGateway) dispatch(c *gatewayConn, event string, d any) error {
	m.mu.Lock()
	seq := m.sessions[c.sessionID] + 1
	m.sessions[c.sessionID] = seq
	m.mu.Unlock()
	return c.send(gwOpDispatch, d, &seq, &event)
}

func (c *gatewayConn) send(op int, d any, seq *int64, event *string) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(gatewayFrame{Op: op, D: raw, S: seq, T: event})
}

func guildShard(g map[string]any, count int) int {
	id, _ := g["id"].(string)
	sf, err := snowflake.Parse(id)
	if err != nil || count <= 0 {
		return 0
	}
	return sf.Shard(count)
}

// Dispatch sends an event on the shard's current connection.
func (m *MockGateway) Dispatch(shardID int, event string, d any) error {
	m.mu.Lock()
	c, ok := m.conns[shardID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("shard %d is not connected", shardID)
	}
	return m.dispatch(c, event, d)
}

// DropConnections closes every connection without a close frame, as a
// network failure would.
func (m *MockGateway) DropConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.all {
		c.ws.Close()
	}
}

// Accepted returns the number of websocket connections accepted.
func (m *MockGateway) Accepted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepted
}

// Identifies returns the identify payloads received so far.
func (m *MockGateway) Identifies() []GatewayIdentify {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GatewayIdentify(nil), m.identifies...)
}

// Resumes returns the resume payloads received so far.
func (m *MockGateway) Resumes() []GatewayResume {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GatewayResume(nil), m.resumes...)
}

// VoiceStates returns the voice state updates received so far.
func (m *MockGateway) VoiceStates() []GatewayVoiceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GatewayVoiceState(nil), m.voiceStates...)
}

// Close shuts the gateway down.
func (m *MockGateway) Close() {
	m.DropConnections()
	m.Server.Close()
}
