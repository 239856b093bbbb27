package shard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/cache"
	"github.com/parsascontentcorner/discordlitegateway/internal/gateway"
	"github.com/parsascontentcorner/discordlitegateway/internal/ratelimit"
	"github.com/parsascontentcorner/discordlitegateway/internal/rest"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
	"github.com/parsascontentcorner/discordlitegateway/internal/voice"
)

var (
	ErrAlreadyStarted = errors.New("shard manager already started")
	ErrNotStarted     = errors.New("shard manager not started")
)

// API is the REST surface the manager needs. *rest.Client implements it.
type API interface {
	Fetcher
	GetGatewayBot(ctx context.Context) (*rest.GatewayBot, error)
}

// Config configures a Manager.
type Config struct {
	// Gateway is the session template. An empty URL is discovered.
	Gateway gateway.Config
	// ShardCount zero uses the recommended count.
	ShardCount int
	// ShardIDs restricts the shards this process runs; empty runs all.
	ShardIDs []int

	VoiceHandshakeTimeout time.Duration
	NotificationBuffer    int
	// IdentifyInterval defaults to ratelimit.IdentifyInterval.
	IdentifyInterval time.Duration

	Dialer      gateway.Dialer
	VoiceDialer voice.Dialer
}

// ManagerStats is a snapshot of every shard the manager runs.
type ManagerStats struct {
	ShardCount int      `json:"shard_count"`
	Ready      bool     `json:"ready"`
	Shards     []Stats  `json:"shards"`
	Bus        BusStats `json:"bus"`
	Users      int      `json:"users"`
}

// Manager runs the shards of one process and fans their notifications out
// to subscribers.
type Manager struct {
	cfg    Config
	api    API
	store  gateway.SessionStore
	bus    *Bus
	logger *zap.Logger

	// Map of shard id -> *Shard
	shards sync.Map

	mu      sync.Mutex
	started bool
	count   int
	ids     []int
	users   *cache.UserTable
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewManager creates a shard manager. api may be nil when the shard count
// and gateway URL are configured; store may be nil to disable resume
// persistence.
func NewManager(cfg Config, api API, store gateway.SessionStore, logger *zap.Logger) *Manager {
	log := logger.Named("shards")
	return &Manager{
		cfg:    cfg,
		api:    api,
		store:  store,
		bus:    NewBus(cfg.NotificationBuffer, log),
		logger: log,
		done:   make(chan struct{}),
	}
}

// Start resolves the shard layout and runs every shard in the background.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}

	gwCfg := m.cfg.Gateway
	count := m.cfg.ShardCount
	maxConcurrency := 1

	if count == 0 || gwCfg.URL == "" {
		if m.api == nil {
			if count == 0 {
				count = 1
			}
		} else {
			bot, err := m.api.GetGatewayBot(ctx)
			if err != nil {
				return fmt.Errorf("failed to discover gateway: %w", err)
			}
			if count == 0 {
				count = bot.Shards
			}
			if gwCfg.URL == "" {
				gwCfg.URL = bot.URL
			}
			if bot.SessionStartLimit.MaxConcurrency > 0 {
				maxConcurrency = bot.SessionStartLimit.MaxConcurrency
			}
			m.logger.Info("discovered gateway",
				zap.String("url", bot.URL),
				zap.Int("recommended_shards", bot.Shards),
				zap.Int("max_concurrency", maxConcurrency),
				zap.Int("remaining_sessions", bot.SessionStartLimit.Remaining),
			)
		}
	}
	if count <= 0 {
		count = 1
	}

	ids, err := shardIDs(m.cfg.ShardIDs, count)
	if err != nil {
		return err
	}

	interval := m.cfg.IdentifyInterval
	if interval <= 0 {
		interval = ratelimit.IdentifyInterval
	}
	identify := ratelimit.NewIdentifyLimiter(maxConcurrency, interval)
	users := cache.NewUserTable()

	shards := make([]*Shard, 0, len(ids))
	for _, id := range ids {
		s, err := New(Options{
			ID:                    id,
			Count:                 count,
			Gateway:               gwCfg,
			VoiceHandshakeTimeout: m.cfg.VoiceHandshakeTimeout,
			Dialer:                m.cfg.Dialer,
			VoiceDialer:           m.cfg.VoiceDialer,
			Users:                 users,
			Sink:                  m.bus,
			Fetcher:               m.api,
			Store:                 m.store,
			IdentifyLimiter:       identify,
		}, m.logger)
		if err != nil {
			return fmt.Errorf("failed to create shard %d: %w", id, err)
		}
		shards = append(shards, s)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.started = true
	m.count = count
	m.ids = ids
	m.users = users
	m.cancel = cancel

	var wg sync.WaitGroup
	var errOnce sync.Once
	for _, s := range shards {
		m.shards.Store(s.ID(), s)
		wg.Add(1)
		go func(s *Shard) {
			defer wg.Done()
			if err := s.Run(runCtx); err != nil {
				errOnce.Do(func() {
					m.mu.Lock()
					m.err = err
					m.mu.Unlock()
				})
			}
		}(s)
	}
	go func() {
		wg.Wait()
		close(m.done)
	}()

	m.logger.Info("shards started",
		zap.Int("shard_count", count),
		zap.Ints("shard_ids", ids),
	)
	return nil
}

func shardIDs(configured []int, count int) ([]int, error) {
	if len(configured) == 0 {
		ids := make([]int, count)
		for i := range ids {
			ids[i] = i
		}
		return ids, nil
	}
	seen := make(map[int]bool, len(configured))
	ids := make([]int, 0, len(configured))
	for _, id := range configured {
		if id < 0 || id >= count {
			return nil, fmt.Errorf("shard id %d out of range for %d shards", id, count)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate shard id %d", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// ShardCount returns the total shard count, zero before Start.
func (m *Manager) ShardCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Shard returns a shard run by this process.
func (m *Manager) Shard(id int) (*Shard, bool) {
	v, ok := m.shards.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Shard), true
}

// ShardForGuild returns the shard that receives the guild's events. It
// reports false when that shard runs in another process.
func (m *Manager) ShardForGuild(guildID snowflake.Snowflake) (*Shard, bool) {
	count := m.ShardCount()
	if count == 0 {
		return nil, false
	}
	return m.Shard(guildID.Shard(count))
}

// Shards returns the local shards ordered by id.
func (m *Manager) Shards() []*Shard {
	m.mu.Lock()
	ids := append([]int(nil), m.ids...)
	m.mu.Unlock()

	out := make([]*Shard, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.Shard(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Subscribe receives notifications from every shard, filtered to the named
// events when any are given.
func (m *Manager) Subscribe(events ...string) *Subscription {
	return m.bus.Subscribe(events...)
}

// Unsubscribe ends a subscription and closes its channel.
func (m *Manager) Unsubscribe(id uuid.UUID) bool {
	return m.bus.Unsubscribe(id)
}

// Ready reports whether every local shard is Ready.
func (m *Manager) Ready() bool {
	shards := m.Shards()
	if len(shards) == 0 {
		return false
	}
	for _, s := range shards {
		if !s.Ready() {
			return false
		}
	}
	return true
}

// Stats returns a snapshot of every local shard.
func (m *Manager) Stats() ManagerStats {
	shards := m.Shards()
	stats := ManagerStats{
		ShardCount: m.ShardCount(),
		Ready:      m.Ready(),
		Shards:     make([]Stats, 0, len(shards)),
		Bus:        m.bus.Stats(),
	}
	for _, s := range shards {
		stats.Shards = append(stats.Shards, s.Stats())
	}
	m.mu.Lock()
	if m.users != nil {
		stats.Users = m.users.Len()
	}
	m.mu.Unlock()
	return stats
}

// Done is closed once every shard has stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Err returns the first shard failure, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Shutdown stops every shard and waits for them until ctx expires. The
// subscriptions are closed afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	cancel := m.cancel
	m.mu.Unlock()

	m.logger.Info("shutting down shards")
	cancel()

	select {
	case <-m.done:
	case <-ctx.Done():
		return fmt.Errorf("shards did not stop in time: %w", ctx.Err())
	}
	m.bus.Close()
	return nil
}
