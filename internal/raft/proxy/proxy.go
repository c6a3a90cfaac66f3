package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"registrar/internal/metrics"
	"registrar/internal/types"

	"github.com/google/uuid"
)

var (
	ErrNoLeader = errors.New("no leader to forward to")

	ErrSelfForward = errors.New("refusing to forward to self")
)

// Sender delivers a forwarded client write to the leader's client API.
type Sender interface {
	ForwardPublish(ctx context.Context, leader, requestID string, d types.Datum) (types.WriteResult, error)
	ForwardDelete(ctx context.Context, leader, requestID, key string) error
}

// forwardMargin leaves room for the leader to answer after its own quorum
// wait has ended.
const forwardMargin = time.Second

// Proxy relays client writes from a follower to the current leader. Errors
// returned by the leader are passed back unchanged.
type Proxy struct {
	local  string
	sender Sender

	// publishTimeout is the leader's quorum wait.
	publishTimeout time.Duration
}

func New(local string, sender Sender, publishTimeout time.Duration) *Proxy {
	return &Proxy{local: local, sender: sender, publishTimeout: publishTimeout}
}

// forwardContext outlives the leader's quorum wait so a quorum failure
// comes back as a result rather than a client timeout.
func (p *Proxy) forwardContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.publishTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.publishTimeout+forwardMargin)
}

func (p *Proxy) Publish(ctx context.Context, leader, key string, value json.RawMessage) (types.WriteResult, error) {
	if err := p.check(leader); err != nil {
		metrics.ProxyForwardedTotal.WithLabelValues("publish", "rejected").Inc()
		return types.WriteResult{}, err
	}

	id := uuid.NewString()
	slog.Debug("forwarding publish to leader", "leader", leader, "key", key, "request_id", id)

	ctx, cancel := p.forwardContext(ctx)
	defer cancel()

	res, err := p.sender.ForwardPublish(ctx, leader, id, types.Datum{Key: key, Value: value})
	if err != nil {
		metrics.ProxyForwardedTotal.WithLabelValues("publish", "error").Inc()
		slog.Warn("forwarded publish failed", "leader", leader, "key", key, "request_id", id, "error", err)
		return res, err
	}

	metrics.ProxyForwardedTotal.WithLabelValues("publish", "ok").Inc()
	return res, nil
}

func (p *Proxy) Delete(ctx context.Context, leader, key string) error {
	if err := p.check(leader); err != nil {
		metrics.ProxyForwardedTotal.WithLabelValues("delete", "rejected").Inc()
		return err
	}

	id := uuid.NewString()
	slog.Debug("forwarding delete to leader", "leader", leader, "key", key, "request_id", id)

	ctx, cancel := p.forwardContext(ctx)
	defer cancel()

	if err := p.sender.ForwardDelete(ctx, leader, id, key); err != nil {
		metrics.ProxyForwardedTotal.WithLabelValues("delete", "error").Inc()
		slog.Warn("forwarded delete failed", "leader", leader, "key", key, "request_id", id, "error", err)
		return err
	}

	metrics.ProxyForwardedTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}

func (p *Proxy) check(leader string) error {
	if leader == "" {
		return ErrNoLeader
	}
	if leader == p.local {
		return fmt.Errorf("%w: %s", ErrSelfForward, leader)
	}
	return nil
}
