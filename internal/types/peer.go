package types

import "time"

type Role string

const (
	RoleFollower  Role = "FOLLOWER"
	RoleCandidate Role = "CANDIDATE"
	RoleLeader    Role = "LEADER"
)

func (r Role) String() string {
	if r == "" {
		return string(RoleFollower)
	}
	return string(r)
}

// PeerState is one member's election view. Timers travel as milliseconds.
type PeerState struct {
	Address        string `json:"address"`
	Role           Role   `json:"role"`
	Term           uint64 `json:"term"`
	VotedFor       string `json:"votedFor,omitempty"`
	LeaderDueMs    int64  `json:"leaderDueMs"`
	HeartbeatDueMs int64  `json:"heartbeatDueMs"`
}

func (p PeerState) LeaderDue() time.Duration {
	return time.Duration(p.LeaderDueMs) * time.Millisecond
}

func (p PeerState) HeartbeatDue() time.Duration {
	return time.Duration(p.HeartbeatDueMs) * time.Millisecond
}

func (p *PeerState) SetLeaderDue(d time.Duration) {
	p.LeaderDueMs = d.Milliseconds()
}

func (p *PeerState) SetHeartbeatDue(d time.Duration) {
	p.HeartbeatDueMs = d.Milliseconds()
}

func (p PeerState) IsLeader() bool {
	return p.Role == RoleLeader
}

// Beat is the heartbeat payload. BeatOnly marks a liveness-only beat whose
// empty digest must not be read as "leader holds nothing".
type Beat struct {
	Peer     PeerState     `json:"peer"`
	Digest   []DigestEntry `json:"digest,omitempty"`
	BeatOnly bool          `json:"beatOnly,omitempty"`
}

// Commit is the leader to follower apply message.
type Commit struct {
	Datum  Datum     `json:"datum"`
	Source PeerState `json:"source"`
}

type DeleteCommit struct {
	Key    string    `json:"key"`
	Source PeerState `json:"source"`
}

// ClusterState is the read-only view served for diagnostics.
type ClusterState struct {
	Local      PeerState   `json:"local"`
	Leader     *PeerState  `json:"leader,omitempty"`
	Peers      []PeerState `json:"peers"`
	Quorum     int         `json:"quorum"`
	Datums     int         `json:"datums"`
	Standalone bool        `json:"standalone"`
}
