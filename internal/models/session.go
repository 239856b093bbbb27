package models

import (
	"database/sql"
	"time"
)

// SessionStatus represents the status of a shard's gateway session
type SessionStatus string

// Session status constants
const (
	SessionStatusConnecting   SessionStatus = "connecting"
	SessionStatusReady        SessionStatus = "ready"
	SessionStatusDisconnected SessionStatus = "disconnected"
	SessionStatusFailed       SessionStatus = "failed"
)

// ShardSession is the persisted resume state of one shard, so a restarted
// process can resume instead of identifying again.
type ShardSession struct {
	ID               int64         `json:"id"`
	ShardID          int           `json:"shard_id"`
	ShardCount       int           `json:"shard_count"`
	SessionID        string        `json:"session_id"`
	ResumeGatewayURL string        `json:"resume_gateway_url"`
	Sequence         int64         `json:"sequence"`
	Status           SessionStatus `json:"status"`
	LastHeartbeatAt  sql.NullTime  `json:"last_heartbeat_at"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	ExpiresAt        time.Time     `json:"expires_at"`
}

// IsExpired checks if the session has expired
func (s *ShardSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsResumable reports whether the stored session can be sent in a Resume.
func (s *ShardSession) IsResumable() bool {
	return s.SessionID != "" && s.Status != SessionStatusFailed && !s.IsExpired()
}
