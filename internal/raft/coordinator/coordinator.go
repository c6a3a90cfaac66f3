package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"registrar/internal/configuration"
	"registrar/internal/core/util"
	"registrar/internal/raft/ops"
	"registrar/internal/raft/peer"
	"registrar/internal/raft/ports"
	"registrar/internal/types"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Coordinator runs election, replication and heartbeat reconciliation for
// the local node.
type Coordinator struct {
	peers     *peer.Set
	store     ports.Store
	transport ports.Transport
	notifier  ports.Notifier
	forwarder ports.Forwarder

	// writeMu serializes leader publishes and deletes.
	writeMu sync.Mutex
	// applyMu serializes version-checked writes from replication.
	applyMu sync.Mutex

	stopCh    chan struct{}
	stoppedWg sync.WaitGroup

	inFlight     sync.WaitGroup
	shuttingDown atomic.Bool
	started      atomic.Bool

	resync  singleflight.Group
	pulls   singleflight.Group
	pullSem *semaphore.Weighted

	timers         ops.Timers
	tickInterval   time.Duration
	publishTimeout time.Duration
	rpcTimeout     time.Duration
	drainTimeout   time.Duration
	pullBatchSize  int
	termIncrement  uint64
	beatOnly       bool

	stopCtx    context.Context
	stopCancel context.CancelFunc
}

type Config struct {
	Timers          ops.Timers
	TickInterval    time.Duration
	PublishTimeout  time.Duration
	RPCTimeout      time.Duration
	DrainTimeout    time.Duration
	PullBatchSize   int
	PullConcurrency int
	TermIncrement   uint64
	BeatOnly        bool
}

func DefaultConfig() Config {
	return Config{
		Timers:          ops.DefaultTimers(),
		TickInterval:    500 * time.Millisecond,
		PublishTimeout:  5 * time.Second,
		RPCTimeout:      3 * time.Second,
		DrainTimeout:    5 * time.Second,
		PullBatchSize:   50,
		PullConcurrency: 4,
		TermIncrement:   100,
	}
}

func NewConfigFromProperties(cfg *configuration.RaftConfigurationProperties) Config {
	return Config{
		Timers: ops.Timers{
			LeaderTimeout:     cfg.LeaderTimeoutDuration(),
			LeaderJitter:      cfg.LeaderJitterDuration(),
			HeartbeatInterval: cfg.HeartbeatDuration(),
		},
		TickInterval:    cfg.TickDuration(),
		PublishTimeout:  cfg.PublishTimeoutDuration(),
		RPCTimeout:      cfg.RPCTimeoutDuration(),
		DrainTimeout:    cfg.PublishTimeoutDuration(),
		PullBatchSize:   cfg.PullBatchSize,
		PullConcurrency: cfg.PullConcurrency,
		TermIncrement:   cfg.TermIncrement,
		BeatOnly:        cfg.BeatOnly,
	}
}

func New(
	peers *peer.Set,
	store ports.Store,
	transport ports.Transport,
	notifier ports.Notifier,
	forwarder ports.Forwarder,
	cfg Config,
) *Coordinator {
	def := DefaultConfig()
	if cfg.Timers.LeaderTimeout <= 0 {
		cfg.Timers = def.Timers
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = def.RPCTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.PullBatchSize <= 0 {
		cfg.PullBatchSize = def.PullBatchSize
	}
	if cfg.PullConcurrency <= 0 {
		cfg.PullConcurrency = def.PullConcurrency
	}
	if cfg.TermIncrement == 0 {
		cfg.TermIncrement = def.TermIncrement
	}

	stopCtx, stopCancel := context.WithCancel(context.Background())

	c := &Coordinator{
		peers:     peers,
		store:     store,
		transport: transport,
		notifier:  notifier,
		forwarder: forwarder,

		stopCh:  make(chan struct{}),
		pullSem: semaphore.NewWeighted(int64(cfg.PullConcurrency)),

		timers:         cfg.Timers,
		tickInterval:   cfg.TickInterval,
		publishTimeout: cfg.PublishTimeout,
		rpcTimeout:     cfg.RPCTimeout,
		drainTimeout:   cfg.DrainTimeout,
		pullBatchSize:  cfg.PullBatchSize,
		termIncrement:  cfg.TermIncrement,
		beatOnly:       cfg.BeatOnly,

		stopCtx:    stopCtx,
		stopCancel: stopCancel,
	}

	slog.Info("raft coordinator created",
		"local", peers.LocalAddr(),
		"standalone", peers.Standalone(),
		"tickInterval", cfg.TickInterval,
		"publishTimeout", cfg.PublishTimeout,
		"beatOnly", cfg.BeatOnly,
	)

	return c
}

// Start restores the persisted term and datums, then starts the tick loop.
// A data dir that cannot be read at all is returned as an error and the
// process should not continue.
func (c *Coordinator) Start() error {
	slog.Info("starting raft coordinator", "local", c.peers.LocalAddr())

	if err := c.recoverState(); err != nil {
		return err
	}

	c.startLoops()
	c.started.Store(true)

	slog.Info("raft coordinator started", "local", c.peers.LocalAddr())
	return nil
}

func (c *Coordinator) recoverState() error {
	term, err := c.store.LoadTerm()
	if err != nil {
		return fmt.Errorf("load term: %w", err)
	}
	c.peers.UpdateLocal(func(p *types.PeerState) {
		if term > p.Term {
			p.Term = term
		}
	})

	datums, err := c.store.LoadAll()
	if err != nil {
		return fmt.Errorf("load datums: %w", err)
	}
	for _, d := range datums {
		if err := c.notifier.Enqueue(d.Key, util.Change); err != nil {
			slog.Warn("failed to queue notification for loaded datum", "key", d.Key, "error", err)
		}
	}

	slog.Info("raft state recovered", "term", term, "datums", len(datums))
	return nil
}

func (c *Coordinator) startLoops() {
	c.stoppedWg.Add(2)

	go func() {
		defer c.stoppedWg.Done()
		c.runMainLoop()
	}()

	go func() {
		defer c.stoppedWg.Done()
		c.runMetricsCollector()
	}()

	slog.Info("raft loops started", "local", c.peers.LocalAddr())
}

func (c *Coordinator) Stop() {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	slog.Info("initiating graceful shutdown", "local", c.peers.LocalAddr())

	if c.started.Load() {
		close(c.stopCh)
		c.stoppedWg.Wait()
	}

	c.waitForInflight()
	c.stopCancel()

	slog.Info("raft coordinator stopped", "local", c.peers.LocalAddr())
}

func (c *Coordinator) waitForInflight() {
	done := make(chan struct{})
	go func() {
		c.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug("all in-flight operations completed", "local", c.peers.LocalAddr())
	case <-time.After(c.drainTimeout):
		slog.Warn("timed out waiting for in-flight operations", "local", c.peers.LocalAddr())
	}
}

func (c *Coordinator) acquireInflight() bool {
	if c.shuttingDown.Load() {
		return false
	}
	c.inFlight.Add(1)

	if c.shuttingDown.Load() {
		c.inFlight.Done()
		return false
	}
	return true
}

func (c *Coordinator) releaseInflight() {
	c.inFlight.Done()
}

func (c *Coordinator) IsLeader() bool {
	return c.peers.IsLeader(c.peers.LocalAddr())
}

func (c *Coordinator) Leader() (types.PeerState, bool) {
	return c.peers.Leader()
}

func (c *Coordinator) LocalPeer() types.PeerState {
	return c.peers.Local()
}

func (c *Coordinator) Peers() []types.PeerState {
	return c.peers.All()
}

// HasLeader reports whether any leader is currently recognized.
func (c *Coordinator) HasLeader() bool {
	_, ok := c.peers.Leader()
	return ok
}

func (c *Coordinator) State() types.ClusterState {
	st := types.ClusterState{
		Local:      c.peers.Local(),
		Peers:      c.peers.All(),
		Quorum:     c.peers.Quorum(),
		Datums:     c.store.Len(),
		Standalone: c.peers.Standalone(),
	}
	if l, ok := c.peers.Leader(); ok {
		st.Leader = &l
	}
	return st
}

// Get reads the local view, which may trail the leader until the next
// heartbeat.
func (c *Coordinator) Get(key string) (types.Datum, bool) {
	return c.store.Get(key)
}

func (c *Coordinator) GetMany(keys []string) []types.Datum {
	out := make([]types.Datum, 0, len(keys))
	for _, k := range keys {
		if d, ok := c.store.Get(k); ok {
			out = append(out, d)
		}
	}
	return out
}

func (c *Coordinator) Keys() []string {
	return c.store.Keys()
}

func (c *Coordinator) persistTerm(term uint64) {
	if err := c.store.StoreTerm(term); err != nil {
		slog.Error("failed to persist term", "term", term, "error", err)
	}
}
