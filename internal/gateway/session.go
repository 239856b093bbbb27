// Package gateway maintains one shard's connection to the Discord gateway:
// hello, heartbeats, identify or resume, reconnects and outbound commands.
package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/ratelimit"
)

const (
	// DefaultURL is used when no gateway URL was discovered or configured.
	DefaultURL = "wss://gateway.discord.gg"
	// DefaultVersion is the gateway protocol version.
	DefaultVersion = 10

	defaultQueueSize = 1024
	storeTimeout     = 5 * time.Second
)

// State is the lifecycle state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentifying
	StateResuming
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Router consumes dispatch events in the order they were received.
type Router interface {
	Route(ctx context.Context, event string, data json.RawMessage) error
}

// Observer is told about lifecycle changes. Every call runs on the dispatch
// sequence: a change to Ready is reported after the READY or RESUMED event,
// and OnSessionInvalidated after every event of the dead session.
type Observer interface {
	OnStateChange(from, to State)
	OnSessionInvalidated()
	OnDisconnected(err error)
}

// SessionStore persists resume state between process restarts. LoadSession
// returns nil without an error when nothing is stored.
type SessionStore interface {
	LoadSession(ctx context.Context, shardID, shardCount int) (*models.ShardSession, error)
	SaveSession(ctx context.Context, session *models.ShardSession) error
	DeleteSession(ctx context.Context, shardID int) error
}

// Config configures a session.
type Config struct {
	Token          string
	URL            string
	Version        int
	Intents        int
	ShardID        int
	ShardCount     int
	Compress       bool
	LargeThreshold int
	Properties     IdentifyProperties
	Presence       *PresenceUpdate

	// MaxRetries bounds consecutive failed connection attempts; zero retries
	// forever.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	QueueSize      int
}

// Option configures optional collaborators.
type Option func(*Session)

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithSessionStore persists resume state.
func WithSessionStore(store SessionStore) Option {
	return func(s *Session) { s.store = store }
}

// WithIdentifyLimiter shares an identify limiter between shards.
func WithIdentifyLimiter(l *ratelimit.IdentifyLimiter) Option {
	return func(s *Session) { s.identify = l }
}

// WithCommandLimiter replaces the default command limiter.
func WithCommandLimiter(l *ratelimit.CommandLimiter) Option {
	return func(s *Session) { s.commands = l }
}

type queued struct {
	event string
	data  json.RawMessage
	fn    func()
}

// connection is the per-connection part of the session state.
type connection struct {
	ctx          context.Context
	conn         Conn
	wg           *sync.WaitGroup
	heartbeating bool
}

// Session is the gateway client of one shard.
type Session struct {
	cfg      Config
	dialer   Dialer
	router   Router
	observer Observer
	store    SessionStore
	identify *ratelimit.IdentifyLimiter
	commands *ratelimit.CommandLimiter
	logger   *zap.Logger

	state   atomic.Int32
	running atomic.Bool

	mu        sync.Mutex
	conn      Conn
	sessionID string
	resumeURL string

	writeMu sync.Mutex
	seq     atomic.Int64

	acked        atomic.Bool
	lastBeat     atomic.Int64
	latency      atomic.Int64
	timedOut     atomic.Bool
	reachedReady atomic.Bool

	queue      chan queued
	workerCtx  context.Context // lives until the queue is drained
	dispatched atomic.Uint64
	reconnects atomic.Uint64
}

// New creates a session. Run connects it.
func New(cfg Config, dialer Dialer, router Router, logger *zap.Logger, opts ...Option) *Session {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Version == 0 {
		cfg.Version = DefaultVersion
	}
	if cfg.ShardCount == 0 {
		cfg.ShardCount = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Properties == (IdentifyProperties{}) {
		cfg.Properties = IdentifyProperties{OS: "linux", Browser: "discordlitegateway", Device: "discordlitegateway"}
	}

	s := &Session{
		cfg:      cfg,
		dialer:   dialer,
		router:   router,
		observer: nopObserver{},
		commands: ratelimit.NewGatewayCommandLimiter(),
		logger:   logger.Named("gateway").With(zap.Int("shard_id", cfg.ShardID)),
		queue:    make(chan queued, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run connects and keeps the session alive until ctx is cancelled, a fatal
// close code is received or MaxRetries consecutive attempts fail. A
// cancelled context is a deliberate shutdown and returns nil.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.restore(ctx)

	// The worker outlives ctx so observer calls queued during shutdown
	// are still delivered in order.
	workerCtx, stopWorker := context.WithCancel(context.WithoutCancel(ctx))
	s.workerCtx = workerCtx
	var worker sync.WaitGroup
	worker.Add(1)
	go func() {
		defer worker.Done()
		s.dispatchLoop(workerCtx)
	}()
	defer func() {
		stopWorker()
		worker.Wait()
	}()

	bo := s.newBackoff()
	failures := 0
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.stop(nil)
			return nil
		}

		recovery := recoveryFor(err)
		if recovery == Fatal {
			s.logger.Error("gateway closed the session", zap.Error(err))
			s.deleteStored(ctx)
			s.stop(err)
			return err
		}
		if recovery == Reidentify {
			s.invalidate(ctx)
		}

		if s.reachedReady.Load() {
			bo.Reset()
			failures = 0
		}
		failures++
		if s.cfg.MaxRetries > 0 && failures > s.cfg.MaxRetries {
			err = fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
			s.logger.Error("giving up on gateway", zap.Int("attempts", failures), zap.Error(err))
			s.stop(err)
			return err
		}

		wait := bo.NextBackOff()
		s.reconnects.Add(1)
		s.setState(StateReconnecting)
		s.logger.Warn("gateway connection lost, reconnecting",
			zap.Error(err),
			zap.Stringer("recovery", recovery),
			zap.Int("attempt", failures),
			zap.Duration("backoff", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.stop(nil)
			return nil
		case <-timer.C:
		}
	}
}

func (s *Session) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxInterval = s.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func recoveryFor(err error) Recovery {
	if ce, ok := asCloseError(err); ok {
		return ce.Recovery()
	}
	if errors.Is(err, errSessionInvalidated) {
		return Reidentify
	}
	return Resume
}

func (s *Session) stop(err error) {
	s.setState(StateDisconnected)
	s.notify(func() { s.observer.OnDisconnected(err) })
}

// runOnce runs one connection from dial until it ends.
func (s *Session) runOnce(ctx context.Context) error {
	s.reachedReady.Store(false)
	s.timedOut.Store(false)
	s.setState(StateConnecting)

	target := s.dialURL()
	s.logger.Info("connecting to gateway", zap.String("gateway_url", target))

	conn, err := s.dialer.Dial(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to dial gateway: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	s.setConn(conn)
	defer func() {
		cancel()
		s.setConn(nil)
		conn.Close()
		wg.Wait()
	}()

	// Unblock the read below when the connection or the session ends. A
	// deliberate shutdown leaves the session resumable.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		if ctx.Err() != nil {
			s.writeClose(conn, CloseUnknownError)
		}
		conn.Close()
	}()

	c := &connection{ctx: connCtx, conn: conn, wg: &wg}
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if s.timedOut.Load() {
				return errHeartbeatTimeout
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if ce, ok := asCloseError(err); ok {
				return ce
			}
			return fmt.Errorf("failed to read gateway message: %w", err)
		}

		text, err := decodeFrame(messageType, data)
		if err != nil {
			s.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}

		var payload Payload
		if err := json.Unmarshal(text, &payload); err != nil {
			s.logger.Warn("protocol violation: malformed payload", zap.Error(err))
			continue
		}

		if err := s.handlePayload(c, &payload); err != nil {
			return err
		}
	}
}

// handlePayload processes a gateway payload based on opcode
func (s *Session) handlePayload(c *connection, p *Payload) error {
	if p.S != nil {
		s.advanceSequence(*p.S)
	}

	switch p.Op {
	case opHello:
		var hello helloPayload
		if err := json.Unmarshal(p.D, &hello); err != nil {
			return fmt.Errorf("failed to unmarshal HELLO payload: %w", err)
		}
		interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
		if interval <= 0 {
			return fmt.Errorf("invalid heartbeat interval %d", hello.HeartbeatInterval)
		}
		s.logger.Info("received HELLO from gateway", zap.Duration("heartbeat_interval", interval))

		if !c.heartbeating {
			c.heartbeating = true
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				s.heartbeatLoop(c.ctx, c.conn, interval)
			}()
		}
		return s.authenticate(c)

	case opHeartbeat:
		return s.sendHeartbeat(c.conn)

	case opHeartbeatACK:
		s.ack(c.ctx)
		return nil

	case opDispatch:
		if p.T == nil {
			s.logger.Warn("protocol violation: dispatch without event name")
			return nil
		}
		return s.handleDispatch(c, *p.T, p.D)

	case opReconnect:
		s.logger.Info("gateway requested reconnect")
		return errReconnectRequested

	case opInvalidSession:
		var resumable bool
		_ = json.Unmarshal(p.D, &resumable)
		s.logger.Warn("received invalid session", zap.Bool("resumable", resumable))
		if resumable {
			return errResumeRejected
		}
		return errSessionInvalidated

	default:
		s.logger.Warn("protocol violation: unknown opcode", zap.Int("opcode", p.Op))
		return nil
	}
}

// authenticate resumes when a session is held, otherwise identifies.
func (s *Session) authenticate(c *connection) error {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	if sessionID != "" {
		seq := s.seq.Load()
		s.setState(StateResuming)
		s.logger.Info("resuming gateway session",
			zap.String("session_id", sessionID),
			zap.Int64("sequence", seq),
		)
		return s.send(c.conn, opResume, resumePayload{
			Token:     s.cfg.Token,
			SessionID: sessionID,
			Seq:       seq,
		})
	}

	if s.identify != nil {
		if err := s.identify.Wait(c.ctx, s.cfg.ShardID); err != nil {
			return err
		}
	}
	s.setState(StateIdentifying)
	s.logger.Info("identifying",
		zap.Int("shard_count", s.cfg.ShardCount),
		zap.Int("intents", s.cfg.Intents),
	)
	return s.send(c.conn, opIdentify, identifyPayload{
		Token:          s.cfg.Token,
		Properties:     s.cfg.Properties,
		Compress:       s.cfg.Compress,
		LargeThreshold: s.cfg.LargeThreshold,
		Shard:          [2]int{s.cfg.ShardID, s.cfg.ShardCount},
		Intents:        s.cfg.Intents,
		Presence:       s.cfg.Presence,
	})
}

func (s *Session) handleDispatch(c *connection, event string, data json.RawMessage) error {
	switch event {
	case "READY":
		var ready readyPayload
		if err := json.Unmarshal(data, &ready); err != nil {
			return fmt.Errorf("failed to unmarshal READY payload: %w", err)
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.mu.Unlock()

		// The Ready state change follows the event on the dispatch sequence.
		s.enqueue(c.ctx, queued{event: event, data: data})
		s.reachedReady.Store(true)
		s.setState(StateReady)
		s.logger.Info("gateway session ready", zap.String("session_id", ready.SessionID))
		s.persist(c.ctx, models.SessionStatusReady)

	case "RESUMED":
		s.enqueue(c.ctx, queued{event: event, data: data})
		s.reachedReady.Store(true)
		s.setState(StateReady)
		s.logger.Info("gateway session resumed", zap.Int64("sequence", s.seq.Load()))

	default:
		s.enqueue(c.ctx, queued{event: event, data: data})
	}
	return nil
}

func (s *Session) enqueue(ctx context.Context, item queued) {
	select {
	case s.queue <- item:
	case <-ctx.Done():
	}
}

// dispatchLoop is the shard's dispatch sequence. It outlives connections
// and drains whatever is still queued once ctx is cancelled.
func (s *Session) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			ctx = context.WithoutCancel(ctx)
			for {
				select {
				case item := <-s.queue:
					s.process(ctx, item)
				default:
					return
				}
			}
		case item := <-s.queue:
			s.process(ctx, item)
		}
	}
}

func (s *Session) process(ctx context.Context, item queued) {
	if item.fn != nil {
		item.fn()
		return
	}
	// The router logs its own failures; the sequence carries on.
	_ = s.router.Route(ctx, item.event, item.data)
	s.dispatched.Add(1)
}

// notify runs an observer call on the dispatch sequence, after every event
// queued before it.
func (s *Session) notify(fn func()) {
	s.enqueue(s.workerCtx, queued{fn: fn})
}

// invalidate discards the session after a non-resumable close.
func (s *Session) invalidate(ctx context.Context) {
	s.mu.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.mu.Unlock()
	s.seq.Store(0)

	s.logger.Warn("gateway session invalidated, identifying again")
	s.deleteStored(ctx)
	s.notify(s.observer.OnSessionInvalidated)
}

func (s *Session) advanceSequence(seq int64) {
	for {
		cur := s.seq.Load()
		if seq <= cur || s.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// heartbeatLoop sends heartbeats at the hello interval. The first beat is
// jittered. A beat that finds the previous one unacknowledged closes the
// connection instead.
func (s *Session) heartbeatLoop(ctx context.Context, conn Conn, interval time.Duration) {
	s.acked.Store(true)
	timer := time.NewTimer(rand.N(interval))
	defer timer.Stop()

	s.logger.Debug("started heartbeat loop", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !s.acked.Load() {
			s.logger.Warn("heartbeat not acknowledged, reconnecting")
			s.timedOut.Store(true)
			conn.Close()
			return
		}
		if err := s.sendHeartbeat(conn); err != nil {
			s.logger.Error("failed to send heartbeat", zap.Error(err))
			conn.Close()
			return
		}
		timer.Reset(interval)
	}
}

// sendHeartbeat sends a heartbeat with the last sequence, or null before
// the first dispatch.
func (s *Session) sendHeartbeat(conn Conn) error {
	var d any
	if seq := s.seq.Load(); seq > 0 {
		d = seq
	}
	s.acked.Store(false)
	s.lastBeat.Store(time.Now().UnixNano())
	return s.send(conn, opHeartbeat, d)
}

func (s *Session) ack(ctx context.Context) {
	s.acked.Store(true)
	if sent := s.lastBeat.Load(); sent > 0 {
		s.latency.Store(time.Now().UnixNano() - sent)
	}
	s.logger.Debug("received heartbeat ACK", zap.Duration("latency", s.Latency()))
	if s.State() == StateReady {
		s.persist(ctx, models.SessionStatusReady)
	}
}

func (s *Session) send(conn Conn, op int, d any) error {
	data, err := json.Marshal(outbound{Op: op, D: d})
	if err != nil {
		return fmt.Errorf("failed to marshal opcode %d: %w", op, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write opcode %d: %w", op, err)
	}
	return nil
}

func (s *Session) writeClose(conn Conn, code int) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, "")); err != nil {
		s.logger.Debug("failed to send close frame", zap.Error(err))
	}
}

// command sends an outbound command through the command limiter.
func (s *Session) command(ctx context.Context, op int, d any) error {
	if err := s.commands.Wait(ctx); err != nil {
		return err
	}
	conn := s.currentConn()
	if conn == nil {
		return ErrNotConnected
	}
	return s.send(conn, op, d)
}

// UpdateVoiceState sends op 4.
func (s *Session) UpdateVoiceState(ctx context.Context, update VoiceStateUpdate) error {
	return s.command(ctx, opVoiceStateUpdate, update)
}

// UpdatePresence sends op 3.
func (s *Session) UpdatePresence(ctx context.Context, update PresenceUpdate) error {
	if update.Activities == nil {
		update.Activities = []models.Activity{}
	}
	return s.command(ctx, opPresenceUpdate, update)
}

// RequestGuildMembers sends op 8.
func (s *Session) RequestGuildMembers(ctx context.Context, req RequestGuildMembers) error {
	if req.Query == nil && len(req.UserIDs) == 0 {
		empty := ""
		req.Query = &empty
	}
	return s.command(ctx, opRequestGuildMembers, req)
}

func (s *Session) restore(ctx context.Context) {
	if s.store == nil {
		return
	}
	stored, err := s.store.LoadSession(ctx, s.cfg.ShardID, s.cfg.ShardCount)
	if err != nil {
		s.logger.Warn("failed to load stored gateway session", zap.Error(err))
		return
	}
	if stored == nil || !stored.IsResumable() {
		return
	}

	s.mu.Lock()
	s.sessionID = stored.SessionID
	s.resumeURL = stored.ResumeGatewayURL
	s.mu.Unlock()
	s.seq.Store(stored.Sequence)

	s.logger.Info("restored stored gateway session",
		zap.String("session_id", stored.SessionID),
		zap.Int64("sequence", stored.Sequence),
	)
}

func (s *Session) persist(ctx context.Context, status models.SessionStatus) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	sessionID, resumeURL := s.sessionID, s.resumeURL
	s.mu.Unlock()
	if sessionID == "" {
		return
	}

	session := &models.ShardSession{
		ShardID:          s.cfg.ShardID,
		ShardCount:       s.cfg.ShardCount,
		SessionID:        sessionID,
		ResumeGatewayURL: resumeURL,
		Sequence:         s.seq.Load(),
		Status:           status,
		LastHeartbeatAt:  sql.NullTime{Time: time.Now(), Valid: true},
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := s.store.SaveSession(ctx, session); err != nil {
		s.logger.Warn("failed to persist gateway session", zap.Error(err))
	}
}

func (s *Session) deleteStored(ctx context.Context) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := s.store.DeleteSession(ctx, s.cfg.ShardID); err != nil {
		s.logger.Warn("failed to delete stored gateway session", zap.Error(err))
	}
}

// dialURL returns the resume URL when resuming, otherwise the configured
// gateway URL, with the version and encoding query set.
func (s *Session) dialURL() string {
	s.mu.Lock()
	base := s.cfg.URL
	if s.sessionID != "" && s.resumeURL != "" {
		base = s.resumeURL
	}
	s.mu.Unlock()

	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	if u.Path == "" {
		u.Path = "/"
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(s.cfg.Version))
	q.Set("encoding", "json")
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Session) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.logger.Debug("gateway state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	s.notify(func() { s.observer.OnStateChange(from, to) })
}

func (s *Session) setConn(conn Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) currentConn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ShardID returns the shard this session serves.
func (s *Session) ShardID() int {
	return s.cfg.ShardID
}

// SessionID returns the current session id, empty before READY.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Sequence returns the last dispatch sequence number.
func (s *Session) Sequence() int64 {
	return s.seq.Load()
}

// Latency returns the last heartbeat round trip.
func (s *Session) Latency() time.Duration {
	return time.Duration(s.latency.Load())
}

// Stats is a snapshot of session counters.
type Stats struct {
	ShardID    int    `json:"shard_id"`
	State      string `json:"state"`
	SessionID  string `json:"session_id,omitempty"`
	Sequence   int64  `json:"sequence"`
	LatencyMS  int64  `json:"latency_ms"`
	Dispatched uint64 `json:"dispatched"`
	Reconnects uint64 `json:"reconnects"`
	Queued     int    `json:"queued"`
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		ShardID:    s.cfg.ShardID,
		State:      s.State().String(),
		SessionID:  s.SessionID(),
		Sequence:   s.Sequence(),
		LatencyMS:  s.Latency().Milliseconds(),
		Dispatched: s.dispatched.Load(),
		Reconnects: s.reconnects.Load(),
		Queued:     len(s.queue),
	}
}

type nopObserver struct{}

func (nopObserver) OnStateChange(State, State) {}
func (nopObserver) OnSessionInvalidated()      {}
func (nopObserver) OnDisconnected(error)       {}
