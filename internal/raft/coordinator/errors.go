package coordinator

import (
	"errors"
	"fmt"

	"registrar/internal/types"
)

var (
	ErrShuttingDown = errors.New("shutting down")

	ErrNoLeader = errors.New("no leader")

	ErrEmptyKey = errors.New("empty key")

	ErrEmptyDatum = errors.New("received empty datum")

	ErrQuorumNotReached = errors.New("quorum not reached")

	ErrNotLeaderSource = errors.New("source is not the recognized leader")

	ErrStaleTerm = errors.New("stale term")

	ErrOutOfDateHeartbeat = errors.New("out of date heartbeat")

	// ErrInvalidHeartbeat is the out-of-date case where the sender does not
	// even claim leadership.
	ErrInvalidHeartbeat = fmt.Errorf("%w: sender is not leader", ErrOutOfDateHeartbeat)
)

// QuorumError reports a publish that was applied locally but not
// acknowledged by a quorum in time.
type QuorumError struct {
	Result types.WriteResult
	Cause  error
}

func (e *QuorumError) Error() string {
	msg := fmt.Sprintf("%v for %s: %d/%d acks, version %d applied locally",
		ErrQuorumNotReached, e.Result.Key, e.Result.Acknowledged, e.Result.Quorum, e.Result.Version)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *QuorumError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrQuorumNotReached}
	}
	return []error{ErrQuorumNotReached, e.Cause}
}

// IsProtocolError reports whether err is a replication check failure that
// is dropped rather than surfaced to clients.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrNotLeaderSource) ||
		errors.Is(err, ErrStaleTerm) ||
		errors.Is(err, ErrOutOfDateHeartbeat) ||
		errors.Is(err, ErrInvalidHeartbeat)
}
