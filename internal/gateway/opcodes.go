package gateway

import (
	"errors"
	"fmt"
)

// Gateway opcodes
const (
	opDispatch            = 0  // Receive: Event dispatch
	opHeartbeat           = 1  // Send/Receive: Heartbeat
	opIdentify            = 2  // Send: Identify (begin session)
	opPresenceUpdate      = 3  // Send: Presence update
	opVoiceStateUpdate    = 4  // Send: Voice state update
	opResume              = 6  // Send: Resume session
	opReconnect           = 7  // Receive: Reconnect
	opRequestGuildMembers = 8  // Send: Request guild members
	opInvalidSession      = 9  // Receive: Invalid session
	opHello               = 10 // Receive: Hello (heartbeat interval)
	opHeartbeatACK        = 11 // Receive: Heartbeat ACK
)

// Gateway close codes
const (
	CloseNormalClosure        = 1000
	CloseGoingAway            = 1001
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSeq           = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// Recovery is what the session does after a connection ends.
type Recovery int

const (
	// Resume reconnects and resumes the session.
	Resume Recovery = iota
	// Reidentify discards the session and identifies again.
	Reidentify
	// Fatal stops the session.
	Fatal
)

func (r Recovery) String() string {
	switch r {
	case Resume:
		return "resume"
	case Reidentify:
		return "reidentify"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("Recovery(%d)", int(r))
	}
}

// ClassifyClose maps a close code to the recovery it requires. Codes that
// are neither fatal nor session-ending are resumable, including codes the
// client does not know.
func ClassifyClose(code int) Recovery {
	switch code {
	case CloseAuthenticationFailed, CloseInvalidShard, CloseShardingRequired,
		CloseInvalidAPIVersion, CloseInvalidIntents, CloseDisallowedIntents:
		return Fatal
	case CloseInvalidSeq, CloseSessionTimedOut:
		return Reidentify
	default:
		return Resume
	}
}

// CloseError is a connection closed by the gateway with a close code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("gateway closed with code %d", e.Code)
	}
	return fmt.Sprintf("gateway closed with code %d: %s", e.Code, e.Reason)
}

// Recovery returns how the session recovers from this close.
func (e *CloseError) Recovery() Recovery {
	return ClassifyClose(e.Code)
}

// IsFatalClose reports whether err is a CloseError with a fatal code.
func IsFatalClose(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Recovery() == Fatal
}

var (
	// ErrRetriesExhausted is returned by Run when MaxRetries consecutive
	// connection attempts failed.
	ErrRetriesExhausted = errors.New("gateway reconnect retries exhausted")
	// ErrNotConnected is returned by commands sent while no connection is open.
	ErrNotConnected = errors.New("gateway not connected")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("gateway session already running")

	errHeartbeatTimeout   = errors.New("heartbeat not acknowledged")
	errReconnectRequested = errors.New("gateway requested reconnect")
	errSessionInvalidated = errors.New("session invalidated")
	errResumeRejected     = errors.New("resumable session invalidated")
)
