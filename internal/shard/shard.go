// Package shard composes the gateway session, cache, dispatch router and
// voice manager of each shard, and runs the set of shards a process owns.
package shard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/cache"
	"github.com/parsascontentcorner/discordlitegateway/internal/dispatch"
	"github.com/parsascontentcorner/discordlitegateway/internal/gateway"
	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/ratelimit"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
	"github.com/parsascontentcorner/discordlitegateway/internal/voice"
)

// ErrNoFetcher is returned by the Fetch methods on a cache miss when no REST
// client was configured.
var ErrNoFetcher = errors.New("no REST fetcher configured")

const voiceCloseTimeout = 5 * time.Second

// Fetcher looks up entities the gateway has not delivered yet.
// *rest.Client implements it.
type Fetcher interface {
	GetUser(ctx context.Context, id snowflake.Snowflake) (models.UserPayload, error)
	GetGuildMember(ctx context.Context, guildID, userID snowflake.Snowflake) (models.MemberPayload, error)
}

// Options configures a Shard. Gateway.ShardID and Gateway.ShardCount are
// taken from ID and Count.
type Options struct {
	ID      int
	Count   int
	Gateway gateway.Config

	VoiceHandshakeTimeout time.Duration

	Dialer      gateway.Dialer // defaults to gateway.WebsocketDialer
	VoiceDialer voice.Dialer   // defaults to voice.WebsocketDialer

	Users           *cache.UserTable // shared across shards when set
	Sink            dispatch.Sink
	Fetcher         Fetcher
	Store           gateway.SessionStore
	IdentifyLimiter *ratelimit.IdentifyLimiter
	Handlers        []dispatch.Handler
}

// Shard is one gateway shard with its own cache and voice connections.
type Shard struct {
	id      int
	count   int
	cache   *cache.Cache
	router  *dispatch.Router
	voice   *voice.Manager
	session *gateway.Session
	sink    dispatch.Sink
	fetcher Fetcher
	logger  *zap.Logger
}

// Stats is a snapshot of one shard.
type Stats struct {
	Session gateway.Stats        `json:"session"`
	Router  dispatch.RouterStats `json:"router"`
	Cache   cache.Stats          `json:"cache"`
	Voice   []voice.Info         `json:"voice"`
}

// New builds a shard. Run connects it.
func New(opts Options, logger *zap.Logger) (*Shard, error) {
	if opts.Count <= 0 {
		opts.Count = 1
	}
	if opts.ID < 0 || opts.ID >= opts.Count {
		return nil, fmt.Errorf("shard id %d out of range for %d shards", opts.ID, opts.Count)
	}
	if opts.Sink == nil {
		opts.Sink = dispatch.SinkFunc(func(dispatch.Notification) {})
	}
	if opts.Dialer == nil {
		opts.Dialer = gateway.WebsocketDialer{}
	}
	log := logger.Named("shard").With(zap.Int("shard_id", opts.ID))
	if opts.VoiceDialer == nil {
		opts.VoiceDialer = voice.WebsocketDialer{Logger: log}
	}

	var cacheOpts []cache.Option
	if opts.Users != nil {
		cacheOpts = append(cacheOpts, cache.WithUserTable(opts.Users))
	}

	s := &Shard{
		id:      opts.ID,
		count:   opts.Count,
		cache:   cache.New(log, cacheOpts...),
		sink:    opts.Sink,
		fetcher: opts.Fetcher,
		logger:  log,
	}
	s.voice = voice.NewManager(s, opts.VoiceDialer, s.cache.CurrentUserID,
		voice.Config{HandshakeTimeout: opts.VoiceHandshakeTimeout}, log)

	router, err := dispatch.NewRouter(dispatch.Config{
		ShardID:        opts.ID,
		GatewayVersion: opts.Gateway.Version,
		Handlers:       opts.Handlers,
	}, s.cache, opts.Sink, s.voice, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch router: %w", err)
	}
	s.router = router

	gwCfg := opts.Gateway
	gwCfg.ShardID = opts.ID
	gwCfg.ShardCount = opts.Count
	sessOpts := []gateway.Option{gateway.WithObserver(s)}
	if opts.Store != nil {
		sessOpts = append(sessOpts, gateway.WithSessionStore(opts.Store))
	}
	if opts.IdentifyLimiter != nil {
		sessOpts = append(sessOpts, gateway.WithIdentifyLimiter(opts.IdentifyLimiter))
	}
	s.session = gateway.New(gwCfg, opts.Dialer, router, log, sessOpts...)

	return s, nil
}

// Run keeps the shard connected until ctx is cancelled or the session gives
// up. Voice connections are dropped when it returns.
func (s *Shard) Run(ctx context.Context) error {
	s.logger.Info("starting shard", zap.Int("shard_count", s.count))
	err := s.session.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), voiceCloseTimeout)
	defer cancel()
	s.voice.Close(closeCtx)

	if err != nil {
		return fmt.Errorf("shard %d stopped: %w", s.id, err)
	}
	return nil
}

// ID returns the shard id.
func (s *Shard) ID() int { return s.id }

// Cache returns the shard's cache.
func (s *Shard) Cache() *cache.Cache { return s.cache }

// Ready reports whether the session is Ready.
func (s *Shard) Ready() bool {
	return s.session.State() == gateway.StateReady
}

// State returns the session state.
func (s *Shard) State() gateway.State {
	return s.session.State()
}

// UpdateVoiceState sends a voice state intent. The voice manager uses it as
// its gateway.
func (s *Shard) UpdateVoiceState(ctx context.Context, update gateway.VoiceStateUpdate) error {
	return s.session.UpdateVoiceState(ctx, update)
}

// UpdatePresence changes the bot's presence on this shard.
func (s *Shard) UpdatePresence(ctx context.Context, update gateway.PresenceUpdate) error {
	return s.session.UpdatePresence(ctx, update)
}

// RequestGuildMembers asks the gateway for member chunks of a guild.
func (s *Shard) RequestGuildMembers(ctx context.Context, req gateway.RequestGuildMembers) error {
	return s.session.RequestGuildMembers(ctx, req)
}

// JoinVoice connects to a voice channel and blocks until the handshake has
// finished or failed.
func (s *Shard) JoinVoice(ctx context.Context, guildID, channelID snowflake.Snowflake, opts voice.Options) error {
	return s.voice.Connect(ctx, guildID, channelID, opts)
}

// LeaveVoice leaves the guild's voice channel.
func (s *Shard) LeaveVoice(ctx context.Context, guildID snowflake.Snowflake) error {
	return s.voice.Disconnect(ctx, guildID)
}

// VoiceState returns the state of the guild's voice connection.
func (s *Shard) VoiceState(guildID snowflake.Snowflake) voice.State {
	return s.voice.State(guildID)
}

// FetchUser returns the cached user, falling back to REST. A fetched user is
// only seeded; an entry the gateway created meanwhile wins.
func (s *Shard) FetchUser(ctx context.Context, id snowflake.Snowflake) (models.User, error) {
	if u, ok := s.cache.User(id); ok {
		return u, nil
	}
	if s.fetcher == nil {
		return models.User{}, ErrNoFetcher
	}
	p, err := s.fetcher.GetUser(ctx, id)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}
	u, _ := s.cache.SeedUser(p.User())
	return u, nil
}

// FetchMember returns the cached member, falling back to REST. The guild
// must be cached.
func (s *Shard) FetchMember(ctx context.Context, guildID, userID snowflake.Snowflake) (models.Member, error) {
	if m, ok := s.cache.Member(guildID, userID); ok {
		return m, nil
	}
	if s.fetcher == nil {
		return models.Member{}, ErrNoFetcher
	}
	p, err := s.fetcher.GetGuildMember(ctx, guildID, userID)
	if err != nil {
		return models.Member{}, fmt.Errorf("failed to fetch member %s of guild %s: %w", userID, guildID, err)
	}
	p.GuildID = guildID
	m, _, err := s.cache.SeedMember(p)
	if err != nil {
		return models.Member{}, err
	}
	return m, nil
}

// Stats returns a snapshot of the shard.
func (s *Shard) Stats() Stats {
	return Stats{
		Session: s.session.Stats(),
		Router:  s.router.Stats(),
		Cache:   s.cache.Stats(),
		Voice:   s.voice.Connections(),
	}
}

func (s *Shard) publish(e dispatch.Event) {
	s.sink.Publish(dispatch.Notification{Shard: s.id, Event: e})
}

// OnStateChange implements gateway.Observer. It runs on the dispatch
// sequence.
func (s *Shard) OnStateChange(from, to gateway.State) {
	s.publish(ShardStateChanged{From: from.String(), To: to.String()})
}

// OnSessionInvalidated implements gateway.Observer. It runs on the dispatch
// sequence, so nothing from the old session is applied afterwards.
func (s *Shard) OnSessionInvalidated() {
	s.cache.Clear()
	s.voice.Reset()
	s.logger.Info("session invalidated, cache cleared")
	s.publish(ShardSessionInvalidated{})
}

// OnDisconnected implements gateway.Observer.
func (s *Shard) OnDisconnected(err error) {
	if err != nil {
		s.logger.Error("shard disconnected", zap.Error(err))
	} else {
		s.logger.Info("shard disconnected")
	}
	s.publish(ShardDisconnected{Err: err})
}

var (
	_ gateway.Observer = (*Shard)(nil)
	_ voice.Gateway    = (*Shard)(nil)
)
