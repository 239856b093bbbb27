package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
)

// ErrSessionNotFound is returned when no session is stored for a shard.
var ErrSessionNotFound = errors.New("shard session not found")

const shardSessionColumns = `
	id, shard_id, shard_count, session_id, resume_gateway_url, sequence,
	status, last_heartbeat_at, created_at, updated_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShardSession(row rowScanner) (*models.ShardSession, error) {
	var session models.ShardSession
	err := row.Scan(
		&session.ID,
		&session.ShardID,
		&session.ShardCount,
		&session.SessionID,
		&session.ResumeGatewayURL,
		&session.Sequence,
		&session.Status,
		&session.LastHeartbeatAt,
		&session.CreatedAt,
		&session.UpdatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// SaveShardSession stores the shard's session, replacing the previous one.
func (db *DB) SaveShardSession(ctx context.Context, session *models.ShardSession) error {
	query := `
		INSERT INTO shard_sessions (
			shard_id, shard_count, session_id, resume_gateway_url, sequence,
			status, last_heartbeat_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (shard_id) DO UPDATE
		SET shard_count = EXCLUDED.shard_count,
		    session_id = EXCLUDED.session_id,
		    resume_gateway_url = EXCLUDED.resume_gateway_url,
		    sequence = EXCLUDED.sequence,
		    status = EXCLUDED.status,
		    last_heartbeat_at = EXCLUDED.last_heartbeat_at,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := db.QueryRowContext(
		ctx,
		query,
		session.ShardID,
		session.ShardCount,
		session.SessionID,
		session.ResumeGatewayURL,
		session.Sequence,
		session.Status,
		session.LastHeartbeatAt,
		session.ExpiresAt,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to save shard session: %w", err)
	}

	return nil
}

// GetShardSession retrieves the stored session of a shard
func (db *DB) GetShardSession(ctx context.Context, shardID int) (*models.ShardSession, error) {
	query := `SELECT` + shardSessionColumns + `
		FROM shard_sessions
		WHERE shard_id = $1
	`

	session, err := scanShardSession(db.QueryRowContext(ctx, query, shardID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get shard session: %w", err)
	}

	return session, nil
}

// ListShardSessions returns every stored session ordered by shard
func (db *DB) ListShardSessions(ctx context.Context) ([]*models.ShardSession, error) {
	query := `SELECT` + shardSessionColumns + `
		FROM shard_sessions
		ORDER BY shard_id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query shard sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.ShardSession
	for rows.Next() {
		session, err := scanShardSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shard session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shard sessions: %w", err)
	}

	return sessions, nil
}

// UpdateShardSessionStatus updates the status of a shard's session
func (db *DB) UpdateShardSessionStatus(ctx context.Context, shardID int, status models.SessionStatus) error {
	query := `
		UPDATE shard_sessions
		SET status = $1, updated_at = NOW()
		WHERE shard_id = $2
	`

	result, err := db.ExecContext(ctx, query, status, shardID)
	if err != nil {
		return fmt.Errorf("failed to update shard session status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// DeleteShardSession removes the stored session of a shard. Deleting a
// missing session is not an error.
func (db *DB) DeleteShardSession(ctx context.Context, shardID int) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM shard_sessions WHERE shard_id = $1`, shardID); err != nil {
		return fmt.Errorf("failed to delete shard session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes expired sessions and returns how many were deleted
func (db *DB) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM shard_sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired shard sessions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		db.logger.Info("cleaned up expired shard sessions", zap.Int64("count", rowsAffected))
	}

	return rowsAffected, nil
}

// StartSessionCleanupJob periodically deletes expired sessions until ctx is done
func (db *DB) StartSessionCleanupJob(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	db.logger.Info("started shard session cleanup job", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			db.logger.Info("stopping shard session cleanup job")
			return
		case <-ticker.C:
			if _, err := db.CleanupExpiredSessions(ctx); err != nil {
				db.logger.Error("shard session cleanup failed", zap.Error(err))
			}
		}
	}
}
