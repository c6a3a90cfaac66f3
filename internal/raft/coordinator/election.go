package coordinator

import (
	"context"
	"log/slog"

	"registrar/internal/metrics"
	"registrar/internal/types"
)

// startElection clears every vote, bumps the local term and asks the other
// peers to vote for us. Each answer is fed back into the tally.
func (c *Coordinator) startElection() {
	c.peers.UpdateLocal(func(p *types.PeerState) {
		p.SetLeaderDue(c.timers.NextLeaderDue())
		p.SetHeartbeatDue(c.timers.NextHeartbeatDue())
	})
	c.peers.Reset()

	candidate := c.peers.UpdateLocal(func(p *types.PeerState) {
		p.Term++
		p.VotedFor = p.Address
		p.Role = types.RoleCandidate
	})
	c.persistTerm(candidate.Term)
	metrics.RaftElectionsTotal.Inc()

	slog.Info("starting leader election", "local", candidate.Address, "term", candidate.Term)

	// A lone member wins on its own vote.
	c.peers.DecideLeader(types.PeerState{})

	c.broadcast("vote", c.peers.Others(), c.rpcTimeout, func(ctx context.Context, addr string) error {
		reply, err := c.transport.RequestVote(ctx, addr, candidate)
		if err != nil {
			return err
		}
		c.peers.DecideLeader(reply)
		return nil
	})
}

// HandleVote answers a candidate's vote request with the local state.
func (c *Coordinator) HandleVote(candidate types.PeerState) (types.PeerState, error) {
	if c.shuttingDown.Load() {
		return types.PeerState{}, ErrShuttingDown
	}
	metrics.RaftMessagesTotal.WithLabelValues("received", "vote").Inc()

	local, moved := c.peers.RecordVote(candidate)
	if moved {
		c.persistTerm(local.Term)
	}
	return local, nil
}

// LocalState answers a peer's request for our current election state.
func (c *Coordinator) LocalState() types.PeerState {
	return c.peers.Local()
}
