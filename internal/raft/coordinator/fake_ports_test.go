package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"registrar/internal/core/queue"
	"registrar/internal/core/util"
	"registrar/internal/types"
)

type fakeStore struct {
	mu     sync.Mutex
	datums map[string]types.Datum
	term   uint64

	WriteErr error
	LoadErr  error
	Loaded   []types.Datum
}

func newFakeStore() *fakeStore {
	return &fakeStore{datums: make(map[string]types.Datum)}
}

func (s *fakeStore) Write(d types.Datum) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.datums[d.Key] = d.Clone()
	return nil
}

func (s *fakeStore) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.datums[key]
	delete(s.datums, key)
	return ok, nil
}

func (s *fakeStore) LoadAll() ([]types.Datum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	for _, d := range s.Loaded {
		s.datums[d.Key] = d
	}
	return s.Loaded, nil
}

func (s *fakeStore) Reload(key string) (types.Datum, error) {
	d, ok := s.Get(key)
	if !ok {
		return types.Datum{}, errors.New("not found")
	}
	return d, nil
}

func (s *fakeStore) LoadTerm() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, nil
}

func (s *fakeStore) StoreTerm(term uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = term
	return nil
}

func (s *fakeStore) storedTerm() uint64 {
	t, _ := s.LoadTerm()
	return t
}

func (s *fakeStore) Get(key string) (types.Datum, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.datums[key]
	return d, ok
}

func (s *fakeStore) Version(key string) (uint64, bool) {
	d, ok := s.Get(key)
	return d.Version, ok
}

func (s *fakeStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.datums))
	for k := range s.datums {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *fakeStore) Digest() []types.DigestEntry {
	return types.DigestOf(s.Snapshot())
}

func (s *fakeStore) Snapshot() []types.Datum {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Datum, 0, len(s.datums))
	for _, d := range s.datums {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *fakeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.datums)
}

type fakeTransport struct {
	RequestVoteFn      func(ctx context.Context, addr string, candidate types.PeerState) (types.PeerState, error)
	SendBeatFn         func(ctx context.Context, addr string, beat types.Beat) (types.PeerState, error)
	SendCommitFn       func(ctx context.Context, addr string, commit types.Commit) error
	SendDeleteCommitFn func(ctx context.Context, addr string, commit types.DeleteCommit) error
	FetchDatumsFn      func(ctx context.Context, addr string, keys []string) ([]types.Datum, error)
	FetchPeerFn        func(ctx context.Context, addr string) (types.PeerState, error)
}

func (f *fakeTransport) RequestVote(ctx context.Context, addr string, candidate types.PeerState) (types.PeerState, error) {
	if f.RequestVoteFn == nil {
		return types.PeerState{}, errors.New("unreachable")
	}
	return f.RequestVoteFn(ctx, addr, candidate)
}

func (f *fakeTransport) SendBeat(ctx context.Context, addr string, beat types.Beat) (types.PeerState, error) {
	if f.SendBeatFn == nil {
		return types.PeerState{}, errors.New("unreachable")
	}
	return f.SendBeatFn(ctx, addr, beat)
}

func (f *fakeTransport) SendCommit(ctx context.Context, addr string, commit types.Commit) error {
	if f.SendCommitFn == nil {
		return errors.New("unreachable")
	}
	return f.SendCommitFn(ctx, addr, commit)
}

func (f *fakeTransport) SendDeleteCommit(ctx context.Context, addr string, commit types.DeleteCommit) error {
	if f.SendDeleteCommitFn == nil {
		return errors.New("unreachable")
	}
	return f.SendDeleteCommitFn(ctx, addr, commit)
}

func (f *fakeTransport) FetchDatums(ctx context.Context, addr string, keys []string) ([]types.Datum, error) {
	if f.FetchDatumsFn == nil {
		return nil, errors.New("unreachable")
	}
	return f.FetchDatumsFn(ctx, addr, keys)
}

func (f *fakeTransport) FetchPeer(ctx context.Context, addr string) (types.PeerState, error) {
	if f.FetchPeerFn == nil {
		return types.PeerState{}, errors.New("unreachable")
	}
	return f.FetchPeerFn(ctx, addr)
}

type fakeForwarder struct {
	PublishFn func(ctx context.Context, leader, key string, value json.RawMessage) (types.WriteResult, error)
	DeleteFn  func(ctx context.Context, leader, key string) error
}

func (f *fakeForwarder) Publish(ctx context.Context, leader, key string, value json.RawMessage) (types.WriteResult, error) {
	if f.PublishFn == nil {
		return types.WriteResult{}, errors.New("no forwarder")
	}
	return f.PublishFn(ctx, leader, key, value)
}

func (f *fakeForwarder) Delete(ctx context.Context, leader, key string) error {
	if f.DeleteFn == nil {
		return errors.New("no forwarder")
	}
	return f.DeleteFn(ctx, leader, key)
}

type queued struct {
	Key    string
	Action util.Action
}

// recordingNotifier captures enqueued tasks and delegates listener handling
// to a real, unstarted notifier.
type recordingNotifier struct {
	*queue.Notifier

	mu    sync.Mutex
	tasks []queued
}

func newRecordingNotifier(store *fakeStore) *recordingNotifier {
	return &recordingNotifier{Notifier: queue.NewNotifier(16, store.Get, types.ServiceMetaPrefix)}
}

func (n *recordingNotifier) Enqueue(key string, action util.Action) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, queued{Key: key, Action: action})
	return nil
}

func (n *recordingNotifier) Tasks() []queued {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]queued(nil), n.tasks...)
}
