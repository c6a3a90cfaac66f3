package peer

import (
	"log/slog"
	"sort"
	"sync"

	"registrar/internal/metrics"
	"registrar/internal/raft/ops"
	"registrar/internal/types"
)

// LeaderChangeFunc is called, outside the set's lock, whenever the
// recognized leader changes. Either address may be empty.
type LeaderChangeFunc func(prev, next string)

// Set is the local view of every cluster member's election state.
type Set struct {
	mu         sync.RWMutex
	local      string
	standalone bool
	timers     ops.Timers
	peers      map[string]*types.PeerState
	leader     string
	ready      bool

	listeners []LeaderChangeFunc
}

func New(localAddr string, standalone bool, timers ops.Timers) *Set {
	s := &Set{
		local:      localAddr,
		standalone: standalone,
		timers:     timers,
		peers:      make(map[string]*types.PeerState),
		ready:      standalone,
	}
	s.ensureLocalLocked()
	return s
}

func (s *Set) OnLeaderChange(fn LeaderChangeFunc) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Set) newPeer(addr string) *types.PeerState {
	p := &types.PeerState{Address: addr, Role: types.RoleFollower}
	p.SetLeaderDue(s.timers.InitialLeaderDue())
	p.SetHeartbeatDue(s.timers.InitialHeartbeatDue())
	return p
}

func (s *Set) ensureLocalLocked() *types.PeerState {
	p, ok := s.peers[s.local]
	if !ok {
		p = s.newPeer(s.local)
		s.peers[s.local] = p
	}
	return p
}

// ApplyRoster reconciles the set against a full membership snapshot. New
// addresses start as term 0 followers, removed ones are dropped and known
// ones keep their term and vote. The local peer is never removed.
func (s *Set) ApplyRoster(members []string) {
	want := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m != "" {
			want[m] = struct{}{}
		}
	}

	s.mu.Lock()
	c := s.applyLocked(want)
	s.mu.Unlock()

	s.announce(c)
}

// ApplyDelta applies an incremental membership change. The merge with the
// current membership happens under the same lock as the apply.
func (s *Set) ApplyDelta(added, removed []string) {
	s.mu.Lock()
	want := make(map[string]struct{}, len(s.peers)+len(added))
	for addr := range s.peers {
		want[addr] = struct{}{}
	}
	for _, a := range added {
		if a != "" {
			want[a] = struct{}{}
		}
	}
	for _, r := range removed {
		delete(want, r)
	}
	c := s.applyLocked(want)
	s.mu.Unlock()

	s.announce(c)
}

type rosterChange struct {
	added, removed []string
	prevLeader     string
	size           int
}

func (s *Set) applyLocked(want map[string]struct{}) rosterChange {
	var c rosterChange
	for addr := range want {
		if _, ok := s.peers[addr]; !ok {
			s.peers[addr] = s.newPeer(addr)
			c.added = append(c.added, addr)
		}
	}
	for addr := range s.peers {
		if addr == s.local {
			continue
		}
		if _, ok := want[addr]; !ok {
			delete(s.peers, addr)
			c.removed = append(c.removed, addr)
		}
	}
	if _, ok := want[s.local]; !ok && !s.standalone {
		slog.Warn("local address missing from roster, keeping it", "local", s.local)
	}
	s.ensureLocalLocked()

	if s.leader != "" {
		if _, ok := s.peers[s.leader]; !ok {
			c.prevLeader = s.leader
			s.leader = ""
		}
	}

	s.ready = true
	c.size = len(s.peers)
	return c
}

func (s *Set) announce(c rosterChange) {
	metrics.RaftPeersTotal.Set(float64(c.size))

	if len(c.added) > 0 || len(c.removed) > 0 {
		sort.Strings(c.added)
		sort.Strings(c.removed)
		slog.Info("peer roster applied", "added", c.added, "removed", c.removed, "size", c.size)
	}
	if c.prevLeader != "" {
		s.fireLeaderChange(c.prevLeader, "")
	}
}

func (s *Set) LocalAddr() string {
	return s.local
}

func (s *Set) Standalone() bool {
	return s.standalone
}

// Ready reports whether a roster has been applied.
func (s *Set) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Set) Local() types.PeerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.ensureLocalLocked()
}

// UpdateLocal mutates the local peer under the set's lock and returns the
// resulting copy.
func (s *Set) UpdateLocal(fn func(p *types.PeerState)) types.PeerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.ensureLocalLocked()
	fn(p)
	return *p
}

func (s *Set) Get(addr string) (types.PeerState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.peers[addr]
	if !ok {
		return types.PeerState{}, false
	}
	return *p, true
}

func (s *Set) Contains(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.peers[addr]
	return ok
}

// All returns every peer including self, ordered by address.
func (s *Set) All() []types.PeerState {
	s.mu.RLock()
	out := make([]types.PeerState, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Others returns every peer address except self.
func (s *Set) Others() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.peers))
	for addr := range s.peers {
		if addr != s.local {
			out = append(out, addr)
		}
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}

func (s *Set) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *Set) Quorum() int {
	return ops.Quorum(s.Size())
}

// IsLeader is always true for a single-node deployment.
func (s *Set) IsLeader(addr string) bool {
	if s.standalone {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leader != "" && s.leader == addr
}

// Leader returns the recognized leader. A single-node deployment is its
// own leader.
func (s *Set) Leader() (types.PeerState, bool) {
	if s.standalone {
		return s.Local(), true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.leader == "" {
		return types.PeerState{}, false
	}
	p, ok := s.peers[s.leader]
	if !ok {
		return types.PeerState{}, false
	}
	return *p, true
}

func (s *Set) LeaderAddr() string {
	if s.standalone {
		return s.local
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leader
}

// RecordVote handles a candidate's vote request against the local peer.
// A candidate whose term is not ahead of ours is refused; the local peer
// then votes for itself if it had no vote, so every tally has a value.
// The bool reports whether the local term moved.
func (s *Set) RecordVote(candidate types.PeerState) (types.PeerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := s.ensureLocalLocked()

	if candidate.Term <= local.Term {
		slog.Debug("vote refused",
			"candidate", candidate.Address,
			"candidate_term", candidate.Term,
			"local_term", local.Term,
		)
		if local.VotedFor == "" {
			local.VotedFor = local.Address
		}
		return *local, false
	}

	local.SetLeaderDue(s.timers.NextLeaderDue())
	local.Role = types.RoleFollower
	local.VotedFor = candidate.Address
	local.Term = candidate.Term

	slog.Info("vote granted", "candidate", candidate.Address, "term", candidate.Term)
	return *local, true
}

// DecideLeader records a reported peer state and recomputes the vote tally
// over every known peer. Once one address holds a quorum of votes it is
// promoted to leader.
func (s *Set) DecideLeader(reported types.PeerState) (types.PeerState, bool) {
	s.mu.Lock()

	if reported.Address != "" && reported.Address != s.local {
		if p, ok := s.peers[reported.Address]; ok {
			*p = reported
		} else {
			slog.Debug("ignoring vote from unknown peer", "peer", reported.Address)
		}
	}

	all := make([]types.PeerState, 0, len(s.peers))
	for _, p := range s.peers {
		all = append(all, *p)
	}
	winner, votes := ops.TallyVotes(all)
	quorum := ops.Quorum(len(s.peers))

	prev := s.leader
	if winner != "" && votes >= quorum {
		if p, ok := s.peers[winner]; ok {
			p.Role = types.RoleLeader
			s.leader = winner
		}
	}

	var leader types.PeerState
	var ok bool
	if s.leader != "" {
		if p, exists := s.peers[s.leader]; exists {
			leader, ok = *p, true
		}
	}
	next := s.leader
	s.mu.Unlock()

	if next != prev {
		slog.Info("leader elected", "leader", next, "votes", votes, "quorum", quorum, "term", leader.Term)
		s.fireLeaderChange(prev, next)
	}
	return leader, ok
}

// MakeLeader installs a leader announced by heartbeat without tallying.
// It returns the other peers still marked LEADER, which the caller should
// resync or demote.
func (s *Set) MakeLeader(candidate types.PeerState) []string {
	s.mu.Lock()

	prev := s.leader
	s.leader = candidate.Address

	if candidate.Address != s.local {
		if _, ok := s.peers[candidate.Address]; !ok {
			slog.Warn("leader not in roster, adding it", "leader", candidate.Address)
		}
		c := candidate
		c.Role = types.RoleLeader
		s.peers[candidate.Address] = &c
	}

	var stale []string
	for addr, p := range s.peers {
		if addr != candidate.Address && p.Role == types.RoleLeader {
			stale = append(stale, addr)
		}
	}
	s.mu.Unlock()

	sort.Strings(stale)
	if prev != candidate.Address {
		slog.Info("leader installed", "leader", candidate.Address, "term", candidate.Term, "previous", prev)
		s.fireLeaderChange(prev, candidate.Address)
	}
	return stale
}

// Update replaces the stored state of a known remote peer.
func (s *Set) Update(state types.PeerState) bool {
	if state.Address == "" || state.Address == s.local {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[state.Address]
	if !ok {
		return false
	}
	*p = state
	return true
}

// Demote marks a remote peer FOLLOWER.
func (s *Set) Demote(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.peers[addr]; ok && addr != s.local {
		p.Role = types.RoleFollower
	}
}

// Reset clears every vote and the recognized leader so the next tally
// starts from nothing.
func (s *Set) Reset() {
	s.mu.Lock()
	prev := s.leader
	s.leader = ""
	for _, p := range s.peers {
		p.VotedFor = ""
	}
	s.mu.Unlock()

	if prev != "" {
		s.fireLeaderChange(prev, "")
	}
}

func (s *Set) fireLeaderChange(prev, next string) {
	metrics.RaftLeaderChangesTotal.Inc()

	s.mu.RLock()
	listeners := append([]LeaderChangeFunc(nil), s.listeners...)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(prev, next)
	}
}
