package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// VoiceGatewayVersion is the voice gateway protocol version.
const VoiceGatewayVersion = 4

// Voice gateway opcodes.
const (
	voiceOpIdentify     = 0
	voiceOpReady        = 2
	voiceOpHeartbeat    = 3
	voiceOpHeartbeatAck = 6
	voiceOpHello        = 8
)

type voicePayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type voiceOutbound struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type voiceHello struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

type voiceIdentify struct {
	ServerID  string `json:"server_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// Ready is the voice server's answer to identify.
type Ready struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  int      `json:"port"`
	Modes []string `json:"modes"`
}

// WebsocketDialer opens the voice gateway over gorilla/websocket and runs its
// heartbeat. It carries no media; the connection only holds the voice
// session open.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	// Scheme defaults to wss.
	Scheme string
	Logger *zap.Logger
}

// Dial performs the hello, identify, ready exchange.
func (d WebsocketDialer) Dial(ctx context.Context, hs Handshake) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scheme := d.Scheme
	if scheme == "" {
		scheme = "wss"
	}
	if hs.Endpoint == "" {
		return nil, fmt.Errorf("voice endpoint is empty")
	}

	u := url.URL{Scheme: scheme, Host: hs.Endpoint, Path: "/", RawQuery: fmt.Sprintf("v=%d", VoiceGatewayVersion)}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial voice gateway: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	var hello voiceHello
	if err := readVoice(conn, voiceOpHello, &hello); err != nil {
		conn.Close()
		return nil, err
	}

	ident := voiceIdentify{
		ServerID:  hs.GuildID.String(),
		UserID:    hs.UserID.String(),
		SessionID: hs.SessionID,
		Token:     hs.Token,
	}
	if err := conn.WriteJSON(voiceOutbound{Op: voiceOpIdentify, D: ident}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send voice identify: %w", err)
	}

	var ready Ready
	if err := readVoice(conn, voiceOpReady, &ready); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})

	t := &wsTransport{
		conn:   conn,
		ready:  ready,
		done:   make(chan struct{}),
		logger: logger.With(zap.String("guild_id", hs.GuildID.String())),
	}
	interval := time.Duration(hello.HeartbeatInterval * float64(time.Millisecond))
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go t.heartbeat(interval)
	go t.readLoop()

	t.logger.Debug("voice gateway ready",
		zap.Uint32("ssrc", ready.SSRC),
		zap.String("ip", ready.IP),
		zap.Int("port", ready.Port),
	)
	return t, nil
}

// readVoice reads until a payload with the wanted opcode arrives.
func readVoice(conn *websocket.Conn, op int, v any) error {
	for {
		var p voicePayload
		if err := conn.ReadJSON(&p); err != nil {
			return fmt.Errorf("failed to read voice payload: %w", err)
		}
		if p.Op != op {
			continue
		}
		if err := json.Unmarshal(p.D, v); err != nil {
			return fmt.Errorf("failed to unmarshal voice op %d: %w", op, err)
		}
		return nil
	}
}

type wsTransport struct {
	conn   *websocket.Conn
	ready  Ready
	logger *zap.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Ready returns the voice server's ready payload.
func (t *wsTransport) Ready() Ready {
	return t.ready
}

func (t *wsTransport) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteJSON(voiceOutbound{Op: voiceOpHeartbeat, D: time.Now().UnixMilli()})
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Warn("voice heartbeat failed", zap.Error(err))
				t.Close()
				return
			}
		}
	}
}

func (t *wsTransport) readLoop() {
	for {
		var p voicePayload
		if err := t.conn.ReadJSON(&p); err != nil {
			t.Close()
			return
		}
		if p.Op == voiceOpHeartbeatAck {
			continue
		}
		t.logger.Debug("voice payload ignored", zap.Int("op", p.Op))
	}
}

// Close closes the voice gateway connection.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
