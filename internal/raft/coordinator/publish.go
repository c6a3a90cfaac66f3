package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"registrar/internal/core/util"
	"registrar/internal/metrics"
	"registrar/internal/raft/ops"
	"registrar/internal/types"
)

// Publish writes key on the leader, forwarding when this node is not it.
//
// The leader applies the write locally before asking followers, so a
// *QuorumError still carries Applied=true: the value is stored here and
// will reach the followers through heartbeat reconciliation.
func (c *Coordinator) Publish(ctx context.Context, key string, value json.RawMessage) (types.WriteResult, error) {
	if c.shuttingDown.Load() {
		return types.WriteResult{}, ErrShuttingDown
	}
	if key == "" {
		return types.WriteResult{}, ErrEmptyKey
	}
	if len(value) == 0 {
		return types.WriteResult{}, ErrEmptyDatum
	}

	if !c.IsLeader() {
		leader := c.peers.LeaderAddr()
		if leader == "" {
			metrics.RaftPublishTotal.WithLabelValues("no_leader").Inc()
			return types.WriteResult{}, ErrNoLeader
		}
		metrics.RaftPublishTotal.WithLabelValues("forwarded").Inc()
		return c.forwarder.Publish(ctx, leader, key, value)
	}

	if !c.acquireInflight() {
		return types.WriteResult{}, ErrShuttingDown
	}
	defer c.releaseInflight()

	start := time.Now()
	defer func() {
		metrics.RaftPublishDuration.Observe(time.Since(start).Seconds())
	}()

	return c.publishAsLeader(ctx, key, value)
}

func (c *Coordinator) publishAsLeader(ctx context.Context, key string, value json.RawMessage) (types.WriteResult, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	version := uint64(1)
	if cur, ok := c.store.Version(key); ok {
		version = cur + 1
	}
	d := types.Datum{Key: key, Value: value, Version: version}

	// Followers check the source term against their own, so the snapshot
	// is taken before the leader moves its term forward.
	source := c.peers.Local()

	if err := c.applyLocal(d); err != nil {
		metrics.RaftPublishTotal.WithLabelValues("io_error").Inc()
		return types.WriteResult{}, err
	}

	local := c.peers.UpdateLocal(func(p *types.PeerState) {
		p.Term = ops.LeaderTermAfterPublish(p.Term, c.termIncrement)
	})
	c.persistTerm(local.Term)

	result := types.WriteResult{
		Key:          key,
		Version:      version,
		Applied:      true,
		Acknowledged: 1,
		Quorum:       c.peers.Quorum(),
	}

	others := c.peers.Others()
	acks := make(chan struct{}, len(others))
	commit := types.Commit{Datum: d, Source: source}

	done := c.broadcast("commit", others, c.publishTimeout, func(ctx context.Context, addr string) error {
		if err := c.transport.SendCommit(ctx, addr, commit); err != nil {
			return err
		}
		acks <- struct{}{}
		return nil
	})

	acked, err := c.awaitQuorum(ctx, acks, done, result.Acknowledged, result.Quorum)
	result.Acknowledged = acked
	if err != nil || acked < result.Quorum {
		metrics.RaftPublishTotal.WithLabelValues("quorum_failed").Inc()
		slog.Warn("publish not confirmed by quorum",
			"key", key,
			"version", version,
			"acks", acked,
			"quorum", result.Quorum,
			"error", err,
		)
		return result, &QuorumError{Result: result, Cause: err}
	}

	metrics.RaftPublishTotal.WithLabelValues("ok").Inc()
	slog.Debug("datum published", "key", key, "version", version, "acks", acked, "term", local.Term)
	return result, nil
}

// awaitQuorum counts acknowledgements until need is reached, every peer has
// answered, the publish timeout fires or ctx is done.
func (c *Coordinator) awaitQuorum(ctx context.Context, acks <-chan struct{}, done <-chan struct{}, have, need int) (int, error) {
	timer := time.NewTimer(c.publishTimeout)
	defer timer.Stop()

	for have < need {
		select {
		case <-acks:
			have++
		case <-done:
			return have + len(acks), nil
		case <-timer.C:
			return have, context.DeadlineExceeded
		case <-ctx.Done():
			return have, ctx.Err()
		}
	}
	return have, nil
}

// Delete removes key on the leader and tells the followers without waiting
// for them. Deleting a missing key is not an error.
func (c *Coordinator) Delete(ctx context.Context, key string) error {
	if c.shuttingDown.Load() {
		return ErrShuttingDown
	}
	if key == "" {
		return ErrEmptyKey
	}

	if !c.IsLeader() {
		leader := c.peers.LeaderAddr()
		if leader == "" {
			return ErrNoLeader
		}
		return c.forwarder.Delete(ctx, leader, key)
	}

	if !c.acquireInflight() {
		return ErrShuttingDown
	}
	defer c.releaseInflight()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	existed, err := c.store.Delete(key)
	if err != nil {
		return err
	}
	if existed {
		c.enqueue(key, util.Delete)
	}
	metrics.RaftDeletesTotal.Inc()

	commit := types.DeleteCommit{Key: key, Source: c.peers.Local()}
	c.broadcast("delete", c.peers.Others(), c.rpcTimeout, func(ctx context.Context, addr string) error {
		if err := c.transport.SendDeleteCommit(ctx, addr, commit); err != nil {
			return err
		}
		c.resetLeaderDue()
		return nil
	})

	slog.Debug("datum deleted", "key", key, "existed", existed)
	return nil
}

func (c *Coordinator) applyLocal(d types.Datum) error {
	if err := c.store.Write(d); err != nil {
		return err
	}
	c.enqueue(d.Key, util.Change)
	return nil
}

func (c *Coordinator) enqueue(key string, action util.Action) {
	if err := c.notifier.Enqueue(key, action); err != nil {
		slog.Warn("failed to queue notification", "key", key, "action", action, "error", err)
	}
}
