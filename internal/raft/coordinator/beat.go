package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"registrar/internal/core/util"
	"registrar/internal/metrics"
	"registrar/internal/raft/ops"
	"registrar/internal/types"
)

func (c *Coordinator) sendBeats() {
	others := c.peers.Others()
	if len(others) == 0 {
		return
	}

	beat := types.Beat{Peer: c.peers.Local(), BeatOnly: c.beatOnly}
	if !c.beatOnly {
		beat.Digest = c.store.Digest()
	}

	slog.Debug("sending heartbeat", "peers", len(others), "digest", len(beat.Digest), "term", beat.Peer.Term)

	c.broadcast("beat", others, c.rpcTimeout, func(ctx context.Context, addr string) error {
		reply, err := c.transport.SendBeat(ctx, addr, beat)
		if err != nil {
			metrics.RaftBeatFailuresTotal.Inc()
			return err
		}
		c.peers.Update(reply)
		return nil
	})
}

// HandleBeat accepts a heartbeat from the leader, installs it as leader and
// reconciles local datums against its digest.
func (c *Coordinator) HandleBeat(beat types.Beat) (types.PeerState, error) {
	if c.shuttingDown.Load() {
		return types.PeerState{}, ErrShuttingDown
	}
	metrics.RaftMessagesTotal.WithLabelValues("received", "beat").Inc()

	remote := beat.Peer
	if remote.Role != types.RoleLeader {
		metrics.RaftRejectedTotal.WithLabelValues("invalid_heartbeat").Inc()
		return types.PeerState{}, fmt.Errorf("%w: %s is %s", ErrInvalidHeartbeat, remote.Address, remote.Role)
	}

	local := c.peers.Local()
	if local.Term > remote.Term {
		metrics.RaftRejectedTotal.WithLabelValues("out_of_date_heartbeat").Inc()
		slog.Info("out of date heartbeat",
			"leader", remote.Address,
			"leader_term", remote.Term,
			"local_term", local.Term,
		)
		return types.PeerState{}, fmt.Errorf("%w: leader term %d, local term %d",
			ErrOutOfDateHeartbeat, remote.Term, local.Term)
	}

	c.peers.UpdateLocal(func(p *types.PeerState) {
		if p.Role != types.RoleFollower {
			p.Role = types.RoleFollower
			p.VotedFor = remote.Address
		}
		p.SetLeaderDue(c.timers.NextLeaderDue())
		p.SetHeartbeatDue(c.timers.NextHeartbeatDue())
	})

	stale := c.peers.MakeLeader(remote)
	c.resyncStaleLeaders(stale)

	if !beat.BeatOnly {
		c.reconcile(remote, beat.Digest)
	}

	return c.peers.Local(), nil
}

// resyncStaleLeaders refreshes peers that still claim leadership after a new
// leader was installed. A peer that cannot be reached is demoted.
func (c *Coordinator) resyncStaleLeaders(stale []string) {
	for _, addr := range stale {
		if !c.acquireInflight() {
			return
		}
		go func() {
			defer c.releaseInflight()

			_, err, _ := c.resync.Do(addr, func() (any, error) {
				ctx, cancel := context.WithTimeout(c.stopCtx, c.rpcTimeout)
				defer cancel()

				st, err := c.transport.FetchPeer(ctx, addr)
				if err != nil {
					return nil, err
				}
				c.peers.Update(st)
				return nil, nil
			})
			if err != nil {
				slog.Warn("failed to resync stale leader, demoting", "peer", addr, "error", err)
				c.peers.Demote(addr)
			}
		}()
	}
}

// reconcile deletes local keys the leader no longer holds and pulls keys that
// are missing or behind. Deletes happen before returning; pulls run in the
// background.
func (c *Coordinator) reconcile(leader types.PeerState, digest []types.DigestEntry) {
	pull, orphans := ops.Reconcile(digest, c.store.Version, c.store.Keys())

	if len(orphans) > 0 {
		c.applyMu.Lock()
		for _, key := range orphans {
			existed, err := c.store.Delete(key)
			if err != nil {
				slog.Error("failed to delete orphaned datum", "key", key, "error", err)
				continue
			}
			if existed {
				c.enqueue(key, util.Delete)
			}
		}
		c.applyMu.Unlock()
	}
	if len(orphans) > 0 {
		metrics.RaftReconcileOrphansTotal.Add(float64(len(orphans)))
		slog.Info("removed datums missing from leader", "count", len(orphans), "leader", leader.Address)
	}

	if len(pull) == 0 {
		return
	}
	slog.Debug("pulling datums from leader", "count", len(pull), "leader", leader.Address)

	for _, batch := range ops.Batches(pull, c.pullBatchSize) {
		c.pullBatch(leader, batch)
	}
}

func (c *Coordinator) pullBatch(leader types.PeerState, keys []string) {
	if !c.acquireInflight() {
		return
	}

	go func() {
		defer c.releaseInflight()

		if err := c.pullSem.Acquire(c.stopCtx, 1); err != nil {
			return
		}
		defer c.pullSem.Release(1)

		flight := leader.Address + "|" + strings.Join(keys, ",")
		_, err, _ := c.pulls.Do(flight, func() (any, error) {
			ctx, cancel := context.WithTimeout(c.stopCtx, c.rpcTimeout)
			defer cancel()

			datums, err := c.transport.FetchDatums(ctx, leader.Address, keys)
			if err != nil {
				return nil, err
			}
			for _, d := range datums {
				c.applyPulled(d, leader)
			}
			return nil, nil
		})
		if err != nil {
			metrics.RaftMessageErrors.WithLabelValues(leader.Address).Inc()
			slog.Warn("failed to pull datums", "leader", leader.Address, "keys", len(keys), "error", err)
		}
	}()
}

func (c *Coordinator) applyPulled(d types.Datum, leader types.PeerState) {
	if d.Key == "" || len(d.Value) == 0 {
		return
	}

	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	cur, exists := c.store.Get(d.Key)
	if !d.Newer(cur, exists) {
		return
	}
	if err := c.applyLocal(d); err != nil {
		slog.Error("failed to store pulled datum", "key", d.Key, "error", err)
		return
	}
	metrics.RaftReconcilePulledTotal.Inc()

	c.resetLeaderDue()
	c.nudgeTerm(leader)
}
