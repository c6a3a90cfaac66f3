package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"registrar/internal/raft/coordinator"
	"registrar/internal/transport/util"
	"registrar/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu sync.Mutex

	leader   bool
	local    types.PeerState
	datums   map[string]types.Datum
	lastBeat types.Beat

	publishErr error
	applyErr   error
	published  []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		local:  types.PeerState{Address: "127.0.0.1:8848", Role: types.RoleFollower, Term: 3},
		datums: make(map[string]types.Datum),
	}
}

func (e *fakeEngine) HandleVote(candidate types.PeerState) (types.PeerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if candidate.Term > e.local.Term {
		e.local.Term = candidate.Term
		e.local.VotedFor = candidate.Address
	}
	return e.local, nil
}

func (e *fakeEngine) HandleBeat(beat types.Beat) (types.PeerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if beat.Peer.Role != types.RoleLeader {
		return types.PeerState{}, coordinator.ErrInvalidHeartbeat
	}
	e.lastBeat = beat
	return e.local, nil
}

func (e *fakeEngine) LocalState() types.PeerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

func (e *fakeEngine) Publish(ctx context.Context, key string, value json.RawMessage) (types.WriteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.publishErr != nil {
		return types.WriteResult{}, e.publishErr
	}
	e.published = append(e.published, key)
	return types.WriteResult{Key: key, Version: 1, Applied: true, Acknowledged: 2, Quorum: 2}, nil
}

func (e *fakeEngine) Delete(ctx context.Context, key string) error {
	if key == "" {
		return coordinator.ErrEmptyKey
	}
	return nil
}

func (e *fakeEngine) ApplyReplicated(d types.Datum, source types.PeerState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.applyErr != nil {
		return e.applyErr
	}
	e.datums[d.Key] = d
	return nil
}

func (e *fakeEngine) ApplyDelete(key string, source types.PeerState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.applyErr != nil {
		return e.applyErr
	}
	delete(e.datums, key)
	return nil
}

func (e *fakeEngine) GetMany(keys []string) []types.Datum {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := []types.Datum{}
	for _, k := range keys {
		if d, ok := e.datums[k]; ok {
			out = append(out, d)
		}
	}
	return out
}

func (e *fakeEngine) ReloadDatum(key string) (types.Datum, error) {
	return types.Datum{}, coordinator.ErrEmptyKey
}

func (e *fakeEngine) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

func (e *fakeEngine) Leader() (types.PeerState, bool) {
	return types.PeerState{}, false
}

func (e *fakeEngine) State() types.ClusterState {
	return types.ClusterState{Local: e.LocalState(), Quorum: 1}
}

func (e *fakeEngine) Listeners() map[string]int {
	return map[string]int{"k": 2}
}

func newTestServer(t *testing.T, engine *fakeEngine) (*Client, string) {
	t.Helper()

	srv := httptest.NewServer(NewRouter("/registrar/v1", engine, time.Second))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return NewClient("/registrar/v1", time.Second), u.Host
}

func TestClient_RequestVote(t *testing.T) {
	engine := newFakeEngine()
	client, addr := newTestServer(t, engine)

	reply, err := client.RequestVote(context.Background(), addr, types.PeerState{Address: "b", Term: 9, Role: types.RoleCandidate})
	require.NoError(t, err)
	assert.Equal(t, uint64(9), reply.Term)
	assert.Equal(t, "b", reply.VotedFor)
}

func TestClient_SendBeatIsCompressed(t *testing.T) {
	engine := newFakeEngine()
	client, addr := newTestServer(t, engine)

	digest := make([]types.DigestEntry, 0, 500)
	for i := 0; i < 500; i++ {
		digest = append(digest, types.DigestEntry{Key: fmt.Sprintf("registrar.iplist.k%03d", i), Version: uint64(i)})
	}

	_, err := client.SendBeat(context.Background(), addr, types.Beat{
		Peer:   types.PeerState{Address: "b", Role: types.RoleLeader, Term: 4},
		Digest: digest,
	})
	require.NoError(t, err)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, digest, engine.lastBeat.Digest)
}

func TestClient_RejectedBeatUnwrapsToSentinel(t *testing.T) {
	engine := newFakeEngine()
	client, addr := newTestServer(t, engine)

	_, err := client.SendBeat(context.Background(), addr, types.Beat{Peer: types.PeerState{Address: "b", Role: types.RoleFollower}})
	require.Error(t, err)
	assert.ErrorIs(t, err, coordinator.ErrInvalidHeartbeat)

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusConflict, re.Status)
}

func TestClient_CommitAndFetch(t *testing.T) {
	engine := newFakeEngine()
	client, addr := newTestServer(t, engine)

	key := "registrar.meta.public##g@@svc,with,commas"
	d := types.Datum{Key: key, Value: json.RawMessage(`{"a":1}`), Version: 7}
	require.NoError(t, client.SendCommit(context.Background(), addr, types.Commit{Datum: d}))

	got, err := client.FetchDatums(context.Background(), addr, []string{key, "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, key, got[0].Key)
	assert.Equal(t, uint64(7), got[0].Version)
	assert.JSONEq(t, `{"a":1}`, string(got[0].Value))

	require.NoError(t, client.SendDeleteCommit(context.Background(), addr, types.DeleteCommit{Key: key}))
	got, err = client.FetchDatums(context.Background(), addr, []string{key})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_StaleTermCommit(t *testing.T) {
	engine := newFakeEngine()
	engine.applyErr = fmt.Errorf("%w: source 1, local 5", coordinator.ErrStaleTerm)
	client, addr := newTestServer(t, engine)

	err := client.SendCommit(context.Background(), addr, types.Commit{Datum: types.Datum{Key: "k", Value: json.RawMessage(`1`), Version: 1}})
	assert.ErrorIs(t, err, coordinator.ErrStaleTerm)

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusPreconditionFailed, re.Status)
}

func TestClient_ForwardPublish(t *testing.T) {
	engine := newFakeEngine()
	engine.leader = true
	client, addr := newTestServer(t, engine)

	res, err := client.ForwardPublish(context.Background(), addr, "req-1", types.Datum{Key: "k", Value: json.RawMessage(`"v"`)})
	require.NoError(t, err)
	assert.True(t, res.Confirmed())
	assert.Equal(t, []string{"k"}, engine.published)
}

func TestClient_ForwardPublishCarriesQuorumResult(t *testing.T) {
	engine := newFakeEngine()
	engine.leader = true
	result := types.WriteResult{Key: "k", Version: 4, Applied: true, Acknowledged: 1, Quorum: 2}
	engine.publishErr = &coordinator.QuorumError{Result: result}
	client, addr := newTestServer(t, engine)

	res, err := client.ForwardPublish(context.Background(), addr, "req-2", types.Datum{Key: "k", Value: json.RawMessage(`"v"`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, coordinator.ErrQuorumNotReached)
	assert.Equal(t, result, res)

	var qe *coordinator.QuorumError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, uint64(4), qe.Result.Version)
}

func TestClient_ForwardToNonLeaderIsRefused(t *testing.T) {
	engine := newFakeEngine()
	client, addr := newTestServer(t, engine)

	_, err := client.ForwardPublish(context.Background(), addr, "req-3", types.Datum{Key: "k", Value: json.RawMessage(`"v"`)})
	assert.ErrorIs(t, err, coordinator.ErrNoLeader)
	assert.Empty(t, engine.published, "a forwarded write is never forwarded again")

	err = client.ForwardDelete(context.Background(), addr, "req-4", "k")
	assert.ErrorIs(t, err, coordinator.ErrNoLeader)
}

func TestClient_NetworkError(t *testing.T) {
	engine := newFakeEngine()
	srv := httptest.NewServer(NewRouter("", engine, 0))
	u, _ := url.Parse(srv.URL)
	srv.Close()

	client := NewClient("", 200*time.Millisecond)
	_, err := client.FetchPeer(context.Background(), u.Host)

	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, u.Host, ne.Addr)
}

func TestClient_ContextDeadlineOverridesDefaultTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		util.WriteJSON(w, http.StatusOK, types.PeerState{Address: "slow", Term: 2})
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	client := NewClient("", 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	peer, err := client.FetchPeer(ctx, u.Host)
	require.NoError(t, err, "a caller deadline longer than the default is honoured")
	assert.Equal(t, "slow", peer.Address)

	_, err = client.FetchPeer(context.Background(), u.Host)
	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRouter_EchoesRequestID(t *testing.T) {
	engine := newFakeEngine()
	h := NewRouter("", engine, 0)

	req := httptest.NewRequest(http.MethodGet, "/raft/peer", nil)
	req.Header.Set(util.HeaderRequestID, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get(util.HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/raft/listeners", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get(util.HeaderRequestID))
	assert.JSONEq(t, `{"k":2}`, rec.Body.String())
}

func TestRouter_LeaderUnknown(t *testing.T) {
	h := NewRouter("", newFakeEngine(), 0)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/raft/leader", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body util.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "no_leader", body.Code)
}

func TestRouter_BadBody(t *testing.T) {
	h := NewRouter("", newFakeEngine(), 0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/raft/vote", nil)
	req.Body = http.NoBody
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
