// Package dispatch routes gateway dispatch events to the handler that
// applies them to the cache and raises the matching notification.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/cache"
	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// HandlerFunc applies one dispatch event. Handlers run on the dispatch
// sequence of a single shard, one at a time.
type HandlerFunc func(ctx context.Context, r *Router, data json.RawMessage) error

// Handler binds an event name to its handler.
type Handler struct {
	Event  string
	Handle HandlerFunc
}

// VoiceSignals receives the two halves of the voice handshake and guild
// removals. Implementations must not block the dispatch sequence.
type VoiceSignals interface {
	HandleVoiceStateUpdate(state models.VoiceState)
	HandleVoiceServerUpdate(server models.VoiceServer) error
	DisconnectGuild(guildID snowflake.Snowflake)
}

var (
	ErrDuplicateHandler = errors.New("duplicate dispatch handler")
	ErrInvalidHandler   = errors.New("invalid dispatch handler")
)

// Config configures a Router.
type Config struct {
	ShardID        int
	GatewayVersion int
	Handlers       []Handler // defaults to DefaultHandlers()
}

// Router looks up the handler for each dispatch event name. The table is
// fixed at construction.
type Router struct {
	shard    int
	version  int
	cache    *cache.Cache
	sink     Sink
	voice    VoiceSignals
	logger   *zap.Logger
	handlers map[string]HandlerFunc

	routed  atomic.Uint64
	unknown atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// RouterStats counts routed events.
type RouterStats struct {
	Routed  uint64 `json:"routed"`
	Unknown uint64 `json:"unknown"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// NewRouter builds a router. voice may be nil, in which case voice server
// updates are ignored.
func NewRouter(cfg Config, c *cache.Cache, sink Sink, voice VoiceSignals, logger *zap.Logger) (*Router, error) {
	if c == nil {
		return nil, errors.New("cache is required")
	}
	if sink == nil {
		sink = SinkFunc(func(Notification) {})
	}

	entries := cfg.Handlers
	if entries == nil {
		entries = DefaultHandlers()
	}
	handlers := make(map[string]HandlerFunc, len(entries))
	for _, h := range entries {
		if h.Event == "" || h.Handle == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHandler, h.Event)
		}
		if _, exists := handlers[h.Event]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHandler, h.Event)
		}
		handlers[h.Event] = h.Handle
	}

	return &Router{
		shard:    cfg.ShardID,
		version:  cfg.GatewayVersion,
		cache:    c,
		sink:     sink,
		voice:    voice,
		logger:   logger.Named("dispatch").With(zap.Int("shard_id", cfg.ShardID)),
		handlers: handlers,
	}, nil
}

// Cache returns the cache the router mutates.
func (r *Router) Cache() *cache.Cache {
	return r.cache
}

// Handles reports whether a handler is registered for the event.
func (r *Router) Handles(event string) bool {
	_, ok := r.handlers[event]
	return ok
}

// Route applies one dispatch event. Unknown events are ignored. A cache
// integrity error drops the event and is returned so the caller can count
// it; the router itself stays usable for the next event.
func (r *Router) Route(ctx context.Context, event string, data json.RawMessage) (err error) {
	handle, ok := r.handlers[event]
	if !ok {
		r.unknown.Add(1)
		r.logger.Debug("ignoring unknown dispatch event", zap.String("event", event))
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.failed.Add(1)
			err = fmt.Errorf("handler for %s panicked: %v", event, rec)
			r.logger.Error("dispatch handler panicked",
				zap.String("event", event),
				zap.Any("panic", rec),
			)
		}
	}()

	if err := handle(ctx, r, data); err != nil {
		if cache.IsIntegrityError(err) {
			r.dropped.Add(1)
			r.logger.Warn("dropping event on cache integrity violation",
				zap.String("event", event),
				zap.Error(err),
			)
			return err
		}
		r.failed.Add(1)
		r.logger.Error("failed to handle dispatch event",
			zap.String("event", event),
			zap.Error(err),
		)
		return err
	}

	r.routed.Add(1)
	return nil
}

// Stats returns the router counters.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Routed:  r.routed.Load(),
		Unknown: r.unknown.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}

func (r *Router) publish(e Event) {
	r.sink.Publish(Notification{Shard: r.shard, Event: e})
}

// guild returns the cached guild or an integrity error.
func (r *Router) guild(id snowflake.Snowflake) (models.Guild, error) {
	g, ok := r.cache.Guild(id)
	if !ok {
		return models.Guild{}, &cache.IntegrityError{Entity: "guild", GuildID: id, ID: id}
	}
	return g, nil
}

func missingEntity(entity string, guild, id snowflake.Snowflake) error {
	return &cache.IntegrityError{Entity: entity, GuildID: guild, ID: id}
}

func unixSeconds(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func decode(event string, data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", event, err)
	}
	return nil
}
