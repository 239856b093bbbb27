package shard

import (
	"github.com/parsascontentcorner/discordlitegateway/internal/dispatch"
)

// Shard lifecycle notification names. They travel on the same bus as the
// dispatch events.
const (
	EventShardStateChanged       = "SHARD_STATE_CHANGED"
	EventShardSessionInvalidated = "SHARD_SESSION_INVALIDATED"
	EventShardDisconnected       = "SHARD_DISCONNECTED"
)

// ShardStateChanged reports a gateway session state transition. It is
// published in dispatch order, so a change to ready follows the READY or
// RESUMED notification.
type ShardStateChanged struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (ShardStateChanged) Name() string { return EventShardStateChanged }

// ShardSessionInvalidated reports that the shard's session was discarded and
// its cache cleared. A fresh READY follows.
type ShardSessionInvalidated struct{}

func (ShardSessionInvalidated) Name() string { return EventShardSessionInvalidated }

// ShardDisconnected reports that the shard stopped for good. Err is nil on a
// deliberate shutdown.
type ShardDisconnected struct {
	Err error `json:"-"`
}

func (ShardDisconnected) Name() string { return EventShardDisconnected }

var (
	_ dispatch.Event = ShardStateChanged{}
	_ dispatch.Event = ShardSessionInvalidated{}
	_ dispatch.Event = ShardDisconnected{}
)
