package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"registrar/internal/raft/coordinator"
	"registrar/internal/raft/proxy"
	"registrar/internal/store"
	"registrar/internal/transport/util"
)

const (
	CodeBadRequest         = "bad_request"
	CodeEmptyKey           = "empty_key"
	CodeEmptyDatum         = "empty_datum"
	CodeNotFound           = "not_found"
	CodeShuttingDown       = "shutting_down"
	CodeNoLeader           = "no_leader"
	CodeQuorumNotReached   = "quorum_not_reached"
	CodeNotLeaderSource    = "not_leader_source"
	CodeStaleTerm          = "stale_term"
	CodeOutOfDateHeartbeat = "out_of_date_heartbeat"
	CodeInvalidHeartbeat   = "invalid_heartbeat"
	CodeIoError            = "io_error"
	CodeTimeout            = "timeout"
	CodeInternal           = "internal"
)

// Classify maps an engine error to its HTTP status and wire code.
func Classify(err error) (int, string) {
	var ioErr *store.IoError
	var qe *coordinator.QuorumError

	switch {
	case errors.As(err, &qe), errors.Is(err, coordinator.ErrQuorumNotReached):
		return http.StatusServiceUnavailable, CodeQuorumNotReached
	case errors.Is(err, coordinator.ErrEmptyKey), errors.Is(err, store.ErrEmptyKey):
		return http.StatusBadRequest, CodeEmptyKey
	case errors.Is(err, coordinator.ErrEmptyDatum):
		return http.StatusBadRequest, CodeEmptyDatum
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, coordinator.ErrShuttingDown):
		return http.StatusServiceUnavailable, CodeShuttingDown
	case errors.Is(err, coordinator.ErrNoLeader), errors.Is(err, proxy.ErrNoLeader), errors.Is(err, proxy.ErrSelfForward):
		return http.StatusServiceUnavailable, CodeNoLeader
	case errors.Is(err, coordinator.ErrNotLeaderSource):
		return http.StatusConflict, CodeNotLeaderSource
	case errors.Is(err, coordinator.ErrInvalidHeartbeat):
		return http.StatusConflict, CodeInvalidHeartbeat
	case errors.Is(err, coordinator.ErrStaleTerm):
		return http.StatusPreconditionFailed, CodeStaleTerm
	case errors.Is(err, coordinator.ErrOutOfDateHeartbeat):
		return http.StatusPreconditionFailed, CodeOutOfDateHeartbeat
	case errors.As(err, &ioErr):
		return http.StatusInternalServerError, CodeIoError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// Sentinel is the engine error a wire code stands for, or nil.
func Sentinel(code string) error {
	switch code {
	case CodeEmptyKey:
		return coordinator.ErrEmptyKey
	case CodeEmptyDatum:
		return coordinator.ErrEmptyDatum
	case CodeShuttingDown:
		return coordinator.ErrShuttingDown
	case CodeNoLeader:
		return coordinator.ErrNoLeader
	case CodeQuorumNotReached:
		return coordinator.ErrQuorumNotReached
	case CodeNotLeaderSource:
		return coordinator.ErrNotLeaderSource
	case CodeStaleTerm:
		return coordinator.ErrStaleTerm
	case CodeOutOfDateHeartbeat:
		return coordinator.ErrOutOfDateHeartbeat
	case CodeInvalidHeartbeat:
		return coordinator.ErrInvalidHeartbeat
	case CodeNotFound:
		return store.ErrNotFound
	case CodeTimeout:
		return context.DeadlineExceeded
	default:
		return nil
	}
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)

	var result any
	var qe *coordinator.QuorumError
	if errors.As(err, &qe) {
		result = qe.Result
	}

	if status >= http.StatusInternalServerError && code != CodeQuorumNotReached {
		slog.Error("request failed", "path", r.URL.Path, "code", code, "error", err,
			"request_id", r.Header.Get(util.HeaderRequestID))
	} else {
		slog.Debug("request rejected", "path", r.URL.Path, "code", code, "error", err,
			"request_id", r.Header.Get(util.HeaderRequestID))
	}

	util.WriteError(w, status, code, err, result)
}

func badRequest(w http.ResponseWriter, err error) {
	util.WriteError(w, http.StatusBadRequest, CodeBadRequest, err, nil)
}
