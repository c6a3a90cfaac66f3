package configuration

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

type Properties struct {
	App        AppConfigurationProperties        `yaml:"app"`
	Transport  TransportConfigurationProperties  `yaml:"transport"`
	Raft       RaftConfigurationProperties       `yaml:"raft"`
	Membership MembershipConfigurationProperties `yaml:"membership"`
}

type AppConfigurationProperties struct {
	Profile   string `yaml:"profile"`
	LogLevel  string `yaml:"log-level"`
	LogFormat string `yaml:"log-format"`
	NoColor   bool   `yaml:"no-color"`
}

type TransportConfigurationProperties struct {
	Address              string `yaml:"address"`
	AdvertiseAddress     string `yaml:"advertise-address"`
	Port                 string `yaml:"port"`
	ContextPath          string `yaml:"context-path"`
	Network              string `yaml:"network"`
	HealthPort           string `yaml:"health-port"`
	MetricsPort          string `yaml:"metrics-port"`
	Timeout              uint64 `yaml:"timeout"`
	MaxConcurrentStreams uint32 `yaml:"max-concurrent-streams"`
}

type WriteAheadLogProperties struct {
	NoSync bool `yaml:"no-sync"`
}

type RaftConfigurationProperties struct {
	DataDir           string                  `yaml:"data-dir"`
	Standalone        bool                    `yaml:"standalone"`
	TickInterval      uint64                  `yaml:"tick-interval"`
	LeaderTimeout     uint64                  `yaml:"leader-timeout"`
	LeaderJitter      uint64                  `yaml:"leader-jitter"`
	HeartbeatInterval uint64                  `yaml:"heartbeat-interval"`
	PublishTimeout    uint64                  `yaml:"publish-timeout"`
	RPCTimeout        uint64                  `yaml:"rpc-timeout"`
	PullBatchSize     int                     `yaml:"pull-batch-size"`
	PullConcurrency   int                     `yaml:"pull-concurrency"`
	TermIncrement     uint64                  `yaml:"term-increment"`
	BeatOnly          bool                    `yaml:"beat-only"`
	NotifierQueueSize int                     `yaml:"notifier-queue-size"`
	Wal               WriteAheadLogProperties `yaml:"wal"`
}

type MembershipConfigurationProperties struct {
	Peers          []string `yaml:"peers"`
	ClusterFile    string   `yaml:"cluster-file"`
	ReloadInterval uint64   `yaml:"reload-interval"`
}

func (c *TransportConfigurationProperties) ListenAddr() string {
	return net.JoinHostPort(c.Address, c.Port)
}

// PeerAddr is the identity this node announces to the rest of the cluster.
func (c *TransportConfigurationProperties) PeerAddr() string {
	host := c.AdvertiseAddress
	if host == "" {
		host = c.Address
	}
	return net.JoinHostPort(host, c.Port)
}

func (c *TransportConfigurationProperties) HealthAddr() string {
	return net.JoinHostPort(c.Address, c.HealthPort)
}

func (c *TransportConfigurationProperties) MetricsAddr() string {
	return net.JoinHostPort(c.Address, c.MetricsPort)
}

func (c *TransportConfigurationProperties) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

func (c *RaftConfigurationProperties) TickDuration() time.Duration {
	return time.Duration(c.TickInterval) * time.Millisecond
}

func (c *RaftConfigurationProperties) LeaderTimeoutDuration() time.Duration {
	return time.Duration(c.LeaderTimeout) * time.Millisecond
}

func (c *RaftConfigurationProperties) LeaderJitterDuration() time.Duration {
	return time.Duration(c.LeaderJitter) * time.Millisecond
}

func (c *RaftConfigurationProperties) HeartbeatDuration() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Millisecond
}

func (c *RaftConfigurationProperties) PublishTimeoutDuration() time.Duration {
	return time.Duration(c.PublishTimeout) * time.Millisecond
}

func (c *RaftConfigurationProperties) RPCTimeoutDuration() time.Duration {
	return time.Duration(c.RPCTimeout) * time.Millisecond
}

func (c *MembershipConfigurationProperties) ReloadDuration() time.Duration {
	return time.Duration(c.ReloadInterval) * time.Millisecond
}

// ApplyDefaults fills every unset value. Timing defaults follow the
// election and heartbeat constants the cluster expects from its peers.
func (p *Properties) ApplyDefaults() {
	if p.App.LogLevel == "" {
		p.App.LogLevel = "info"
	}
	if p.App.LogFormat == "" {
		p.App.LogFormat = "pretty"
	}

	t := &p.Transport
	if t.Address == "" {
		t.Address = "127.0.0.1"
	}
	if t.Port == "" {
		t.Port = "8848"
	}
	if t.Network == "" {
		t.Network = "tcp"
	}
	if t.HealthPort == "" {
		t.HealthPort = "9848"
	}
	if t.MetricsPort == "" {
		t.MetricsPort = "9090"
	}
	if t.Timeout == 0 {
		t.Timeout = 10000
	}
	if t.MaxConcurrentStreams == 0 {
		t.MaxConcurrentStreams = 100
	}

	r := &p.Raft
	if r.DataDir == "" {
		r.DataDir = "data/raft"
	}
	if r.TickInterval == 0 {
		r.TickInterval = 500
	}
	if r.LeaderTimeout == 0 {
		r.LeaderTimeout = 15000
	}
	if r.LeaderJitter == 0 {
		r.LeaderJitter = 5000
	}
	if r.HeartbeatInterval == 0 {
		r.HeartbeatInterval = 5000
	}
	if r.PublishTimeout == 0 {
		r.PublishTimeout = 5000
	}
	if r.RPCTimeout == 0 {
		r.RPCTimeout = 3000
	}
	if r.PullBatchSize <= 0 {
		r.PullBatchSize = 50
	}
	if r.PullConcurrency <= 0 {
		r.PullConcurrency = 4
	}
	if r.TermIncrement == 0 {
		r.TermIncrement = 100
	}
	if r.NotifierQueueSize <= 0 {
		r.NotifierQueueSize = 1024 * 1024
	}

	if p.Membership.ReloadInterval == 0 {
		p.Membership.ReloadInterval = 5000
	}
}

func (p *Properties) Validate() error {
	if _, err := strconv.Atoi(p.Transport.Port); err != nil {
		return fmt.Errorf("%w: transport.port %q", ErrInvalidConfig, p.Transport.Port)
	}
	if p.Raft.TickInterval >= p.Raft.HeartbeatInterval {
		return fmt.Errorf("%w: raft.tick-interval must be shorter than raft.heartbeat-interval", ErrInvalidConfig)
	}
	if p.Raft.HeartbeatInterval >= p.Raft.LeaderTimeout {
		return fmt.Errorf("%w: raft.heartbeat-interval must be shorter than raft.leader-timeout", ErrInvalidConfig)
	}
	if !p.Raft.Standalone && len(p.Membership.Peers) == 0 && p.Membership.ClusterFile == "" {
		return fmt.Errorf("%w: cluster mode needs membership.peers or membership.cluster-file", ErrInvalidConfig)
	}
	return nil
}
