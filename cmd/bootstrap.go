package main

import (
	"context"
	"fmt"
	"log/slog"

	"registrar/internal/configuration"
	"registrar/internal/core/queue"
	"registrar/internal/membership"
	"registrar/internal/metrics"
	"registrar/internal/raft/coordinator"
	"registrar/internal/raft/peer"
	"registrar/internal/raft/proxy"
	"registrar/internal/store"
	"registrar/internal/transport"
	"registrar/internal/types"
)

type Services struct {
	Store       *store.Store
	Notifier    *queue.Notifier
	Peers       *peer.Set
	Coordinator *coordinator.Coordinator
	Transport   *transport.Service
	Metrics     *metrics.Server
	Membership  Membership
}

// Membership feeds roster snapshots into the peer set.
type Membership interface {
	Start(ctx context.Context, r membership.Roster) error
}

func NewServices(cfg configuration.ConfigProvider) (*Services, error) {
	raftProps := cfg.GetRaft()
	transportProps := cfg.GetTransport()

	st, err := store.Open(raftProps.DataDir, raftProps.Wal.NoSync)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	notifier := queue.NewNotifier(raftProps.NotifierQueueSize, st.Get, types.ServiceMetaPrefix)

	raftCfg := coordinator.NewConfigFromProperties(raftProps)
	localAddr := transportProps.PeerAddr()
	peers := peer.New(localAddr, raftProps.Standalone, raftCfg.Timers)

	client := transport.NewClient(transportProps.ContextPath, raftProps.RPCTimeoutDuration())
	forwarder := proxy.New(localAddr, client, raftCfg.PublishTimeout)

	coord := coordinator.New(peers, st, client, notifier, forwarder, raftCfg)

	return &Services{
		Store:       st,
		Notifier:    notifier,
		Peers:       peers,
		Coordinator: coord,
		Transport:   transport.NewTransportService(transportProps, coord, coord),
		Metrics:     metrics.NewServer(transportProps.MetricsAddr(), coord.HasLeader),
		Membership:  newMembership(raftProps.Standalone, cfg.GetMembership()),
	}, nil
}

func newMembership(standalone bool, props *configuration.MembershipConfigurationProperties) Membership {
	if standalone {
		return nil
	}
	if props.ClusterFile != "" {
		return membership.NewFileWatcher(props.ClusterFile, props.ReloadDuration())
	}
	return membership.NewStatic(props.Peers)
}

// Start brings the node up in dependency order: listeners first so peers
// can reach us, then the engine, then membership which makes it ready.
func (s *Services) Start(ctx context.Context) error {
	s.Notifier.Start()

	if err := s.Metrics.Start(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	if _, err := s.Transport.StartHTTPServer(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	if _, err := s.Transport.StartHealthServer(); err != nil {
		return fmt.Errorf("start health server: %w", err)
	}

	s.Peers.OnLeaderChange(func(prev, next string) {
		slog.Info("leader changed", "previous", prev, "leader", next)
	})

	if err := s.Coordinator.Start(); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	if s.Membership != nil {
		if err := s.Membership.Start(ctx, s.Peers); err != nil {
			return fmt.Errorf("start membership: %w", err)
		}
	}
	return nil
}

func (s *Services) Stop(ctx context.Context) {
	s.Transport.Stop(ctx)
	s.Coordinator.Stop()
	s.Notifier.Close()
	s.Metrics.Stop()

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
}
