package ops

// NudgeTerm moves a follower's term toward the leader's after a replicated
// write. When the leader is within increment of local, local adopts the
// leader's term; otherwise local climbs by increment. The second return is
// the term to record for the leader.
func NudgeTerm(local, source, increment uint64) (newLocal, leaderTerm uint64) {
	if local+increment > source {
		return source, source
	}
	return local + increment, source
}

// LeaderTermAfterPublish is the leader's own term after it applies a write.
func LeaderTermAfterPublish(local, increment uint64) uint64 {
	return local + increment
}

func Quorum(peers int) int {
	return peers/2 + 1
}
