package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"registrar/internal/raft/coordinator"
	"registrar/internal/transport/util"
	"registrar/internal/types"

	"github.com/go-chi/chi/v5"
)

// Engine is the consensus engine surface the HTTP API drives.
type Engine interface {
	HandleVote(candidate types.PeerState) (types.PeerState, error)
	HandleBeat(beat types.Beat) (types.PeerState, error)
	LocalState() types.PeerState

	Publish(ctx context.Context, key string, value json.RawMessage) (types.WriteResult, error)
	Delete(ctx context.Context, key string) error
	ApplyReplicated(d types.Datum, source types.PeerState) error
	ApplyDelete(key string, source types.PeerState) error

	GetMany(keys []string) []types.Datum
	ReloadDatum(key string) (types.Datum, error)

	IsLeader() bool
	Leader() (types.PeerState, bool)
	State() types.ClusterState
	Listeners() map[string]int
}

var errForwardLoop = fmt.Errorf("%w: forwarded write reached a non-leader", coordinator.ErrNoLeader)

type RaftHandler struct {
	engine Engine
}

func NewRaftHandler(engine Engine) *RaftHandler {
	return &RaftHandler{engine: engine}
}

// Register mounts the peer and client routes on r.
func (h *RaftHandler) Register(r chi.Router) {
	r.Post("/vote", h.vote)
	r.Post("/beat", h.beat)
	r.Get("/peer", h.peer)

	r.Route("/datum", func(r chi.Router) {
		r.Get("/", h.getDatums)
		r.Put("/", h.publish)
		r.Delete("/", h.deleteDatum)
		r.Put("/reload", h.reload)
		r.Post("/commit", h.commit)
		r.Delete("/commit", h.deleteCommit)
	})

	r.Get("/state", h.state)
	r.Get("/leader", h.leader)
	r.Get("/listeners", h.listeners)
}

func (h *RaftHandler) vote(w http.ResponseWriter, r *http.Request) {
	var candidate types.PeerState
	if err := util.ReadJSON(w, r, &candidate); err != nil {
		badRequest(w, err)
		return
	}

	local, err := h.engine.HandleVote(candidate)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, local)
}

func (h *RaftHandler) beat(w http.ResponseWriter, r *http.Request) {
	var beat types.Beat
	if err := util.ReadJSON(w, r, &beat); err != nil {
		badRequest(w, err)
		return
	}

	local, err := h.engine.HandleBeat(beat)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, local)
}

func (h *RaftHandler) peer(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, h.engine.LocalState())
}

// PublishRequest is the body of a client publish.
type PublishRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (h *RaftHandler) publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := util.ReadJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if r.Header.Get(util.HeaderForwarded) != "" && !h.engine.IsLeader() {
		writeErr(w, r, errForwardLoop)
		return
	}

	res, err := h.engine.Publish(r.Context(), req.Key, req.Value)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, res)
}

func (h *RaftHandler) deleteDatum(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if r.Header.Get(util.HeaderForwarded) != "" && !h.engine.IsLeader() {
		writeErr(w, r, errForwardLoop)
		return
	}

	if err := h.engine.Delete(r.Context(), key); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RaftHandler) getDatums(w http.ResponseWriter, r *http.Request) {
	keys, err := SplitKeys(r.URL.Query().Get("keys"))
	if err != nil {
		badRequest(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, h.engine.GetMany(keys))
}

func (h *RaftHandler) reload(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.ReloadDatum(r.URL.Query().Get("key"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, d)
}

func (h *RaftHandler) commit(w http.ResponseWriter, r *http.Request) {
	var c types.Commit
	if err := util.ReadJSON(w, r, &c); err != nil {
		badRequest(w, err)
		return
	}

	if err := h.engine.ApplyReplicated(c.Datum, c.Source); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RaftHandler) deleteCommit(w http.ResponseWriter, r *http.Request) {
	var c types.DeleteCommit
	if err := util.ReadJSON(w, r, &c); err != nil {
		badRequest(w, err)
		return
	}

	if err := h.engine.ApplyDelete(c.Key, c.Source); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RaftHandler) state(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, h.engine.State())
}

func (h *RaftHandler) leader(w http.ResponseWriter, r *http.Request) {
	l, ok := h.engine.Leader()
	if !ok {
		writeErr(w, r, coordinator.ErrNoLeader)
		return
	}
	util.WriteJSON(w, http.StatusOK, l)
}

func (h *RaftHandler) listeners(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, h.engine.Listeners())
}

// JoinKeys encodes keys for the keys query parameter. Each key is escaped
// before joining so commas inside keys survive.
func JoinKeys(keys []string) string {
	escaped := make([]string, len(keys))
	for i, k := range keys {
		escaped[i] = url.QueryEscape(k)
	}
	return strings.Join(escaped, ",")
}

func SplitKeys(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		k, err := url.QueryUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("invalid key %q: %w", p, err)
		}
		if k == "" {
			continue
		}
		out = append(out, k)
	}
	if len(out) == 0 {
		slog.Debug("keys parameter held no keys", "raw", raw)
		return nil, errors.New("no keys")
	}
	return out, nil
}
