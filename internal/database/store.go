package database

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
)

// Store persists gateway sessions for resumption across restarts.
type Store struct {
	db     *DB
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore creates a session store. Saved sessions expire ttl after the last
// save; the gateway saves on every acknowledged heartbeat.
func NewStore(db *DB, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{db: db, ttl: ttl, logger: logger.Named("session_store")}
}

// LoadSession returns the shard's stored session, or nil when there is none
// usable. A session stored under a different shard count is discarded.
func (s *Store) LoadSession(ctx context.Context, shardID, shardCount int) (*models.ShardSession, error) {
	session, err := s.db.GetShardSession(ctx, shardID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if session.ShardCount != shardCount {
		s.logger.Info("discarding session stored under a different shard count",
			zap.Int("shard_id", shardID),
			zap.Int("stored_shard_count", session.ShardCount),
			zap.Int("shard_count", shardCount),
		)
		return nil, s.db.DeleteShardSession(ctx, shardID)
	}
	if session.IsExpired() {
		return nil, nil
	}
	return session, nil
}

// SaveSession stores session with a fresh expiry.
func (s *Store) SaveSession(ctx context.Context, session *models.ShardSession) error {
	session.ExpiresAt = time.Now().Add(s.ttl)
	return s.db.SaveShardSession(ctx, session)
}

// DeleteSession forgets the shard's session.
func (s *Store) DeleteSession(ctx context.Context, shardID int) error {
	return s.db.DeleteShardSession(ctx, shardID)
}
