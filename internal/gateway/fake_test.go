package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
)

var errFakeClosed = errors.New("use of closed network connection")

type frame struct {
	messageType int
	data        []byte
	err         error
}

type sentFrame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

// fakeConn plays the server side of one gateway connection.
type fakeConn struct {
	in     chan frame
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan frame, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, errFakeClosed
	default:
	}
	select {
	case f := <-c.in:
		if f.err != nil {
			return 0, nil, f.err
		}
		return f.messageType, f.data, nil
	case <-c.closed:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	if messageType == websocket.CloseMessage {
		c.mu.Lock()
		c.closeCode = int(data[0])<<8 | int(data[1])
		c.mu.Unlock()
		return nil
	}
	c.out <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) sentCloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *fakeConn) push(t *testing.T, op int, d any, seq int64, event string) {
	t.Helper()
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	p := Payload{Op: op, D: raw}
	if seq > 0 {
		p.S = &seq
	}
	if event != "" {
		p.T = &event
	}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	c.in <- frame{messageType: websocket.TextMessage, data: data}
}

func (c *fakeConn) hello(t *testing.T, interval time.Duration) {
	t.Helper()
	c.push(t, opHello, map[string]int{"heartbeat_interval": int(interval / time.Millisecond)}, 0, "")
}

func (c *fakeConn) dispatch(t *testing.T, event string, seq int64, d any) {
	t.Helper()
	c.push(t, opDispatch, d, seq, event)
}

func (c *fakeConn) closeWith(code int) {
	c.in <- frame{err: &websocket.CloseError{Code: code, Text: "test"}}
}

// expect returns the next frame with the given opcode. Heartbeats in
// between are skipped; any other opcode fails the test.
func (c *fakeConn) expect(t *testing.T, op int) sentFrame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-c.out:
			var f sentFrame
			require.NoError(t, json.Unmarshal(data, &f))
			if f.Op == op {
				return f
			}
			if f.Op == opHeartbeat {
				continue
			}
			t.Fatalf("expected op %d, got %s", op, data)
		case <-deadline:
			t.Fatalf("timed out waiting for op %d", op)
		}
	}
}

type fakeDialer struct {
	conns chan *fakeConn
	urls  chan string
	err   error
}

func newFakeDialer(conns ...*fakeConn) *fakeDialer {
	d := &fakeDialer{conns: make(chan *fakeConn, 8), urls: make(chan string, 8)}
	for _, c := range conns {
		d.conns <- c
	}
	return d
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	select {
	case c := <-d.conns:
		d.urls <- url
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) nextURL(t *testing.T) string {
	t.Helper()
	select {
	case u := <-d.urls:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dial")
		return ""
	}
}

type routed struct {
	event string
	data  json.RawMessage
}

type recordingRouter struct {
	events chan routed
}

func newRecordingRouter() *recordingRouter {
	return &recordingRouter{events: make(chan routed, 256)}
}

func (r *recordingRouter) Route(_ context.Context, event string, data json.RawMessage) error {
	r.events <- routed{event: event, data: data}
	return nil
}

func (r *recordingRouter) next(t *testing.T) routed {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a routed event")
		return routed{}
	}
}

type recordingObserver struct {
	mu           sync.Mutex
	states       []State
	invalidated  int
	disconnected []error
}

func (o *recordingObserver) OnStateChange(_, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, to)
}

func (o *recordingObserver) OnSessionInvalidated() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invalidated++
}

func (o *recordingObserver) OnDisconnected(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disconnected = append(o.disconnected, err)
}

func (o *recordingObserver) invalidations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.invalidated
}

// sequenceLog records routed events and observer calls in one ordered list.
type sequenceLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *sequenceLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *sequenceLog) Route(_ context.Context, event string, _ json.RawMessage) error {
	l.add("event:" + event)
	return nil
}

func (l *sequenceLog) OnStateChange(_, to State) { l.add("state:" + to.String()) }
func (l *sequenceLog) OnSessionInvalidated()     { l.add("invalidated") }
func (l *sequenceLog) OnDisconnected(error)      { l.add("disconnected") }

func (l *sequenceLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type memStore struct {
	mu      sync.Mutex
	session *models.ShardSession
	deletes int
}

func (m *memStore) LoadSession(_ context.Context, shardID, _ int) (*models.ShardSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.ShardID != shardID {
		return nil, nil
	}
	cp := *m.session
	return &cp, nil
}

func (m *memStore) SaveSession(_ context.Context, s *models.ShardSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.ExpiresAt = time.Now().Add(time.Hour)
	m.session = &cp
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.deletes++
	return nil
}

func (m *memStore) get() (*models.ShardSession, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.deletes
}
