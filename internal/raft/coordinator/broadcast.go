package coordinator

import (
	"context"
	"log/slog"
	"time"

	"registrar/internal/metrics"

	"golang.org/x/sync/errgroup"
)

type sendFunc func(ctx context.Context, addr string) error

// broadcast calls fn once per address in the background, each call bounded
// by timeout. The returned channel closes when every call has returned.
// Failures are logged and counted but never stop the other calls.
func (c *Coordinator) broadcast(kind string, addrs []string, timeout time.Duration, fn sendFunc) <-chan struct{} {
	done := make(chan struct{})
	if len(addrs) == 0 || !c.acquireInflight() {
		close(done)
		return done
	}

	go func() {
		defer c.releaseInflight()
		defer close(done)

		var g errgroup.Group
		for _, addr := range addrs {
			g.Go(func() error {
				ctx, cancel := context.WithTimeout(c.stopCtx, timeout)
				defer cancel()

				metrics.RaftMessagesTotal.WithLabelValues("sent", kind).Inc()
				if err := fn(ctx, addr); err != nil {
					metrics.RaftMessageErrors.WithLabelValues(addr).Inc()
					slog.Debug("peer call failed", "type", kind, "peer", addr, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	return done
}
