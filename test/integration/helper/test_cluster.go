package helper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"registrar/internal/core/queue"
	"registrar/internal/logging"
	"registrar/internal/membership"
	"registrar/internal/raft/coordinator"
	"registrar/internal/raft/ops"
	"registrar/internal/raft/peer"
	"registrar/internal/raft/proxy"
	"registrar/internal/store"
	"registrar/internal/transport"
	"registrar/internal/types"

	"github.com/stretchr/testify/require"
)

const ContextPath = "/registrar/v1"

type TestClusterConfig struct {
	TickInterval      time.Duration
	LeaderTimeout     time.Duration
	LeaderJitter      time.Duration
	HeartbeatInterval time.Duration
	PublishTimeout    time.Duration
	RPCTimeout        time.Duration
	BeatOnly          bool
}

var DefaultConfig = TestClusterConfig{
	TickInterval:      20 * time.Millisecond,
	LeaderTimeout:     600 * time.Millisecond,
	LeaderJitter:      300 * time.Millisecond,
	HeartbeatInterval: 150 * time.Millisecond,
	PublishTimeout:    2 * time.Second,
	RPCTimeout:        500 * time.Millisecond,
}

// TestNode is one in-process registry node listening on a loopback port.
type TestNode struct {
	Addr        string
	Dir         string
	Store       *store.Store
	Notifier    *queue.Notifier
	Peers       *peer.Set
	Coordinator *coordinator.Coordinator
	Server      *http.Server

	mu      sync.Mutex
	stopped bool
}

func (n *TestNode) Stopped() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stopped
}

type Cluster struct {
	t       *testing.T
	BaseDir string
	config  TestClusterConfig

	mu    sync.RWMutex
	nodes map[string]*TestNode
	addrs []string
}

func NewCluster(t *testing.T, cfg TestClusterConfig) *Cluster {
	t.Helper()

	logging.InitWithOptions(os.Stderr, logging.Options{Level: "warn", NoColor: true})

	c := &Cluster{
		t:       t,
		BaseDir: t.TempDir(),
		config:  cfg,
		nodes:   make(map[string]*TestNode),
	}
	t.Cleanup(c.cleanup)
	return c
}

// StartNodes reserves n loopback addresses, then boots every node with the
// full roster so they all agree on membership from the start.
func (c *Cluster) StartNodes(n int) {
	c.t.Helper()

	listeners := make([]net.Listener, 0, n)
	for i := 0; i < n; i++ {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(c.t, err)
		listeners = append(listeners, lis)
	}

	addrs := make([]string, 0, n)
	for _, lis := range listeners {
		addrs = append(addrs, lis.Addr().String())
	}

	c.mu.Lock()
	c.addrs = addrs
	c.mu.Unlock()

	for _, lis := range listeners {
		require.NoError(c.t, c.startNode(lis), "failed to start node %s", lis.Addr())
	}
}

func (c *Cluster) coordinatorConfig() coordinator.Config {
	cfg := coordinator.DefaultConfig()
	cfg.Timers = ops.Timers{
		LeaderTimeout:     c.config.LeaderTimeout,
		LeaderJitter:      c.config.LeaderJitter,
		HeartbeatInterval: c.config.HeartbeatInterval,
	}
	cfg.TickInterval = c.config.TickInterval
	cfg.PublishTimeout = c.config.PublishTimeout
	cfg.RPCTimeout = c.config.RPCTimeout
	cfg.DrainTimeout = time.Second
	cfg.BeatOnly = c.config.BeatOnly
	return cfg
}

func (c *Cluster) startNode(lis net.Listener) error {
	addr := lis.Addr().String()
	dir := filepath.Join(c.BaseDir, "node-"+sanitize(addr))

	st, err := store.Open(dir, true)
	if err != nil {
		lis.Close()
		return fmt.Errorf("open store: %w", err)
	}

	notifier := queue.NewNotifier(256, st.Get, types.ServiceMetaPrefix)
	cfg := c.coordinatorConfig()
	peers := peer.New(addr, false, cfg.Timers)
	client := transport.NewClient(ContextPath, c.config.RPCTimeout)
	coord := coordinator.New(peers, st, client, notifier, proxy.New(addr, client, cfg.PublishTimeout), cfg)

	srv := &http.Server{
		Handler:           transport.NewRouter(ContextPath, coord, c.config.PublishTimeout*2),
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("test node server failed", "addr", addr, "error", err)
		}
	}()

	node := &TestNode{
		Addr:        addr,
		Dir:         dir,
		Store:       st,
		Notifier:    notifier,
		Peers:       peers,
		Coordinator: coord,
		Server:      srv,
	}

	notifier.Start()
	if err := coord.Start(); err != nil {
		c.stop(node)
		return fmt.Errorf("start coordinator: %w", err)
	}

	c.mu.Lock()
	members := append([]string(nil), c.addrs...)
	c.nodes[addr] = node
	c.mu.Unlock()

	return membership.NewStatic(members).Start(context.Background(), peers)
}

func (c *Cluster) stop(n *TestNode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = n.Server.Shutdown(ctx)
	n.Coordinator.Stop()
	n.Notifier.Close()
	_ = n.Store.Close()
	n.stopped = true
}

func (c *Cluster) cleanup() {
	c.mu.RLock()
	nodes := make([]*TestNode, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	c.mu.RUnlock()

	for _, n := range nodes {
		c.stop(n)
	}
}

func (c *Cluster) StopNode(addr string) error {
	c.mu.RLock()
	node, ok := c.nodes[addr]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("node %s not found", addr)
	}
	c.stop(node)
	return nil
}

// RestartNode stops a node and boots a fresh one on the same address and
// data dir.
func (c *Cluster) RestartNode(addr string) error {
	if err := c.StopNode(addr); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.nodes, addr)
	c.mu.Unlock()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relisten %s: %w", addr, err)
	}
	return c.startNode(lis)
}

// Blackhole listens on a stopped node's address and accepts connections
// without ever answering, so peers see a partition instead of a refusal.
func (c *Cluster) Blackhole(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("blackhole %s: %w", addr, err)
	}

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	c.t.Cleanup(func() {
		lis.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})
	return nil
}

func (c *Cluster) Node(addr string) *TestNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nodes[addr]
}

func (c *Cluster) Running() []*TestNode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*TestNode, 0, len(c.addrs))
	for _, addr := range c.addrs {
		if n, ok := c.nodes[addr]; ok && !n.Stopped() {
			out = append(out, n)
		}
	}
	return out
}

func (c *Cluster) GetLeader() *TestNode {
	for _, n := range c.Running() {
		if n.Coordinator.IsLeader() {
			return n
		}
	}
	return nil
}

// Followers returns the running nodes that are not the current leader.
func (c *Cluster) Followers() []*TestNode {
	leader := c.GetLeader()
	var out []*TestNode
	for _, n := range c.Running() {
		if n != leader {
			out = append(out, n)
		}
	}
	return out
}

// WaitForLeaderConvergence waits until exactly one running node leads and
// every running node recognizes it.
func (c *Cluster) WaitForLeaderConvergence(timeout time.Duration) (*TestNode, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for leader convergence")
		case <-ticker.C:
			if leader := c.agreedLeader(); leader != nil {
				return leader, nil
			}
		}
	}
}

func (c *Cluster) agreedLeader() *TestNode {
	var leader *TestNode
	for _, n := range c.Running() {
		if n.Coordinator.IsLeader() {
			if leader != nil {
				return nil
			}
			leader = n
		}
	}
	if leader == nil {
		return nil
	}
	for _, n := range c.Running() {
		if n.Peers.LeaderAddr() != leader.Addr {
			return nil
		}
	}
	return leader
}

// WaitForDatum waits until every running node holds key at version.
func (c *Cluster) WaitForDatum(key string, version uint64, timeout time.Duration) error {
	return c.waitFor(timeout, func(n *TestNode) bool {
		d, ok := n.Store.Get(key)
		return ok && d.Version == version
	})
}

// WaitForAbsent waits until no running node holds key.
func (c *Cluster) WaitForAbsent(key string, timeout time.Duration) error {
	return c.waitFor(timeout, func(n *TestNode) bool {
		_, ok := n.Store.Get(key)
		return !ok
	})
}

func (c *Cluster) waitFor(timeout time.Duration, cond func(n *TestNode) bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		all := true
		for _, n := range c.Running() {
			if !cond(n) {
				all = false
				break
			}
		}
		if all {
			return nil
		}
		time.Sleep(25 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for cluster state")
}

func sanitize(addr string) string {
	out := []byte(addr)
	for i, b := range out {
		if b == ':' || b == '.' {
			out[i] = '_'
		}
	}
	return string(out)
}
