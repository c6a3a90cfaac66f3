package coordinator

import (
	"log/slog"
	"time"

	"registrar/internal/metrics"
	"registrar/internal/types"
)

func (c *Coordinator) runMainLoop() {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			slog.Debug("raft loop stopping", "local", c.peers.LocalAddr())
			return

		case <-ticker.C:
			c.electionTick(c.tickInterval)
			c.heartbeatTick(c.tickInterval)
		}
	}
}

// electionTick counts down the local leader deadline and starts an election
// once it expires.
func (c *Coordinator) electionTick(elapsed time.Duration) {
	if !c.peers.Ready() || c.peers.Standalone() {
		return
	}

	var expired bool
	c.peers.UpdateLocal(func(p *types.PeerState) {
		due := p.LeaderDue() - elapsed
		p.SetLeaderDue(due)
		expired = due <= 0
	})
	if !expired {
		return
	}

	c.startElection()
}

// heartbeatTick counts down the heartbeat deadline. Only the leader sends
// beats; a standalone node just keeps its own leader deadline fresh.
func (c *Coordinator) heartbeatTick(elapsed time.Duration) {
	if !c.peers.Ready() {
		return
	}

	var expired bool
	c.peers.UpdateLocal(func(p *types.PeerState) {
		due := p.HeartbeatDue() - elapsed
		if due > 0 {
			p.SetHeartbeatDue(due)
			return
		}
		p.SetHeartbeatDue(c.timers.NextHeartbeatDue())
		expired = true
	})
	if !expired || !c.IsLeader() {
		return
	}

	c.resetLeaderDue()
	c.sendBeats()
}

func (c *Coordinator) resetLeaderDue() {
	c.peers.UpdateLocal(func(p *types.PeerState) {
		p.SetLeaderDue(c.timers.NextLeaderDue())
	})
}

func (c *Coordinator) runMetricsCollector() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCtx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.UpdateMetrics()
		}
	}
}

func (c *Coordinator) UpdateMetrics() {
	local := c.peers.Local()

	if c.IsLeader() {
		metrics.RaftIsLeader.Set(1)
	} else {
		metrics.RaftIsLeader.Set(0)
	}
	metrics.RaftTerm.Set(float64(local.Term))
	metrics.RaftPeersTotal.Set(float64(c.peers.Size()))
	metrics.StorageKeysTotal.Set(float64(c.store.Len()))
}
