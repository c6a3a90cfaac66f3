package ports

import (
	"context"
	"encoding/json"

	"registrar/internal/core/queue"
	"registrar/internal/core/util"
	"registrar/internal/types"
)

type Store interface {
	Write(d types.Datum) error
	Delete(key string) (bool, error)
	LoadAll() ([]types.Datum, error)
	Reload(key string) (types.Datum, error)

	LoadTerm() (uint64, error)
	StoreTerm(term uint64) error

	Get(key string) (types.Datum, bool)
	Version(key string) (uint64, bool)
	Keys() []string
	Digest() []types.DigestEntry
	Snapshot() []types.Datum
	Len() int
}

// Transport is the peer-to-peer protocol as seen by the engine. Every call
// is bounded by ctx.
type Transport interface {
	RequestVote(ctx context.Context, addr string, candidate types.PeerState) (types.PeerState, error)
	SendBeat(ctx context.Context, addr string, beat types.Beat) (types.PeerState, error)
	SendCommit(ctx context.Context, addr string, commit types.Commit) error
	SendDeleteCommit(ctx context.Context, addr string, commit types.DeleteCommit) error
	FetchDatums(ctx context.Context, addr string, keys []string) ([]types.Datum, error)
	FetchPeer(ctx context.Context, addr string) (types.PeerState, error)
}

// Forwarder relays client writes from a follower to the leader.
type Forwarder interface {
	Publish(ctx context.Context, leader, key string, value json.RawMessage) (types.WriteResult, error)
	Delete(ctx context.Context, leader, key string) error
}

type Notifier interface {
	Enqueue(key string, action util.Action) error
	Listen(key string, l queue.Listener) uint64
	Unlisten(key string, id uint64) bool
	UnlistenAll(key string)
	Listeners() map[string]int
	IsCoarsePrefix(key string) bool
	Notify(l queue.Listener, d types.Datum)
}
