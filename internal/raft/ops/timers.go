package ops

import (
	"math/rand/v2"
	"time"
)

// Timers holds the election and heartbeat periods a peer set draws its
// randomized deadlines from.
type Timers struct {
	LeaderTimeout     time.Duration
	LeaderJitter      time.Duration
	HeartbeatInterval time.Duration
}

func DefaultTimers() Timers {
	return Timers{
		LeaderTimeout:     15 * time.Second,
		LeaderJitter:      5 * time.Second,
		HeartbeatInterval: 5 * time.Second,
	}
}

// NextLeaderDue is the deadline set after any sign of leader liveness.
func (t Timers) NextLeaderDue() time.Duration {
	return t.LeaderTimeout + randDuration(t.LeaderJitter)
}

// NextHeartbeatDue is the deadline set once a heartbeat round starts.
func (t Timers) NextHeartbeatDue() time.Duration {
	return t.HeartbeatInterval
}

// InitialLeaderDue spreads first elections across the whole timeout so
// freshly started peers do not all become candidates together.
func (t Timers) InitialLeaderDue() time.Duration {
	return randDuration(t.LeaderTimeout)
}

func (t Timers) InitialHeartbeatDue() time.Duration {
	return randDuration(t.HeartbeatInterval)
}

func randDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
