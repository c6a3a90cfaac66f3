package coordinator

import (
	"fmt"
	"log/slog"

	"registrar/internal/core/util"
	"registrar/internal/metrics"
	"registrar/internal/raft/ops"
	"registrar/internal/types"
)

// ApplyReplicated stores a datum pushed by the leader. A datum that is not
// newer than the local copy is acknowledged without being written.
func (c *Coordinator) ApplyReplicated(d types.Datum, source types.PeerState) error {
	if c.shuttingDown.Load() {
		return ErrShuttingDown
	}
	metrics.RaftMessagesTotal.WithLabelValues("received", "commit").Inc()

	if d.Key == "" || len(d.Value) == 0 {
		return ErrEmptyDatum
	}
	if err := c.checkSource(source); err != nil {
		return err
	}

	if !c.acquireInflight() {
		return ErrShuttingDown
	}
	defer c.releaseInflight()

	c.resetLeaderDue()

	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	if cur, ok := c.store.Version(d.Key); ok && cur >= d.Version {
		slog.Debug("replicated datum not newer, skipping", "key", d.Key, "version", d.Version, "local_version", cur)
		return nil
	}

	if err := c.applyLocal(d); err != nil {
		return err
	}
	c.nudgeTerm(source)

	slog.Debug("replicated datum applied", "key", d.Key, "version", d.Version, "source", source.Address)
	return nil
}

// ApplyDelete removes a key on the leader's instruction.
func (c *Coordinator) ApplyDelete(key string, source types.PeerState) error {
	if c.shuttingDown.Load() {
		return ErrShuttingDown
	}
	metrics.RaftMessagesTotal.WithLabelValues("received", "delete").Inc()

	if key == "" {
		return ErrEmptyKey
	}
	if err := c.checkSource(source); err != nil {
		return err
	}

	if !c.acquireInflight() {
		return ErrShuttingDown
	}
	defer c.releaseInflight()

	c.resetLeaderDue()

	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	existed, err := c.store.Delete(key)
	if err != nil {
		return err
	}
	if existed {
		c.enqueue(key, util.Delete)
	}

	if types.IsServiceMetaKey(key) {
		c.nudgeTerm(source)
	}
	return nil
}

// checkSource rejects writes from anyone but the recognized leader, and from
// a leader whose term is behind ours.
func (c *Coordinator) checkSource(source types.PeerState) error {
	if !c.peers.IsLeader(source.Address) {
		metrics.RaftRejectedTotal.WithLabelValues("not_leader").Inc()
		slog.Warn("rejecting write from non-leader",
			"source", source.Address,
			"leader", c.peers.LeaderAddr(),
		)
		return fmt.Errorf("%w: %s", ErrNotLeaderSource, source.Address)
	}

	local := c.peers.Local()
	if source.Term < local.Term {
		metrics.RaftRejectedTotal.WithLabelValues("stale_term").Inc()
		slog.Warn("rejecting write with stale term",
			"source", source.Address,
			"source_term", source.Term,
			"local_term", local.Term,
		)
		return fmt.Errorf("%w: source %d, local %d", ErrStaleTerm, source.Term, local.Term)
	}
	return nil
}

// nudgeTerm pulls the local term toward the leader's after a replicated
// change and persists it.
func (c *Coordinator) nudgeTerm(source types.PeerState) {
	var leaderTerm uint64
	local := c.peers.UpdateLocal(func(p *types.PeerState) {
		p.Term, leaderTerm = ops.NudgeTerm(p.Term, source.Term, c.termIncrement)
	})

	if leader, ok := c.peers.Get(source.Address); ok && leader.Term != leaderTerm {
		leader.Term = leaderTerm
		c.peers.Update(leader)
	}
	c.persistTerm(local.Term)
}
