package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"registrar/internal/raft/coordinator"
	"registrar/internal/transport/handler"
	"registrar/internal/transport/util"
	"registrar/internal/types"
)

// NetworkError is a peer call that never produced an HTTP response.
type NetworkError struct {
	Addr string
	Op   string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RemoteError is a non-2xx answer from a peer. It unwraps to the engine
// sentinel its code names, so errors.Is works across the wire.
type RemoteError struct {
	Addr    string
	Status  int
	Code    string
	Message string
	Result  *types.WriteResult
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("peer %s answered %d %s: %s", e.Addr, e.Status, e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return handler.Sentinel(e.Code)
}

// Client speaks the peer protocol over HTTP/JSON. Calls are bounded by
// their context; timeout only applies to a context without a deadline.
type Client struct {
	http     *http.Client
	basePath string
	timeout  time.Duration
}

func NewClient(contextPath string, timeout time.Duration) *Client {
	return &Client{
		http:     &http.Client{},
		basePath: strings.TrimRight(contextPath, "/") + RaftPath,
		timeout:  timeout,
	}
}

func (c *Client) RequestVote(ctx context.Context, addr string, candidate types.PeerState) (types.PeerState, error) {
	var out types.PeerState
	err := c.do(ctx, http.MethodPost, addr, "/vote", nil, candidate, false, nil, &out)
	return out, err
}

// SendBeat gzips the beat since its digest lists every key.
func (c *Client) SendBeat(ctx context.Context, addr string, beat types.Beat) (types.PeerState, error) {
	var out types.PeerState
	err := c.do(ctx, http.MethodPost, addr, "/beat", nil, beat, true, nil, &out)
	return out, err
}

func (c *Client) SendCommit(ctx context.Context, addr string, commit types.Commit) error {
	return c.do(ctx, http.MethodPost, addr, "/datum/commit", nil, commit, false, nil, nil)
}

func (c *Client) SendDeleteCommit(ctx context.Context, addr string, commit types.DeleteCommit) error {
	return c.do(ctx, http.MethodDelete, addr, "/datum/commit", nil, commit, false, nil, nil)
}

func (c *Client) FetchDatums(ctx context.Context, addr string, keys []string) ([]types.Datum, error) {
	q := url.Values{"keys": {handler.JoinKeys(keys)}}

	var out []types.Datum
	err := c.do(ctx, http.MethodGet, addr, "/datum", q, nil, false, nil, &out)
	return out, err
}

func (c *Client) FetchPeer(ctx context.Context, addr string) (types.PeerState, error) {
	var out types.PeerState
	err := c.do(ctx, http.MethodGet, addr, "/peer", nil, nil, false, nil, &out)
	return out, err
}

// ForwardPublish sends a client publish to the leader's client API.
func (c *Client) ForwardPublish(ctx context.Context, leader, requestID string, d types.Datum) (types.WriteResult, error) {
	var out types.WriteResult
	body := handler.PublishRequest{Key: d.Key, Value: d.Value}
	err := c.do(ctx, http.MethodPut, leader, "/datum", nil, body, false, forwardHeaders(requestID), &out)

	var re *RemoteError
	if errors.As(err, &re) && re.Result != nil {
		return *re.Result, &coordinator.QuorumError{Result: *re.Result, Cause: err}
	}
	return out, err
}

func (c *Client) ForwardDelete(ctx context.Context, leader, requestID, key string) error {
	q := url.Values{"key": {key}}
	return c.do(ctx, http.MethodDelete, leader, "/datum", q, nil, false, forwardHeaders(requestID), nil)
}

func forwardHeaders(requestID string) http.Header {
	h := http.Header{}
	h.Set(util.HeaderRequestID, requestID)
	h.Set(util.HeaderForwarded, "true")
	return h
}

func (c *Client) do(
	ctx context.Context,
	method, addr, path string,
	query url.Values,
	body any,
	compress bool,
	headers http.Header,
	out any,
) error {
	u := url.URL{Scheme: "http", Host: addr, Path: c.basePath + path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	op := method + " " + path

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		buf, err := util.EncodeJSON(body, compress)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		reader = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		util.SetBodyHeaders(req.Header, compress)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Addr: addr, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeRemoteError(addr, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Addr: addr, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func decodeRemoteError(addr string, resp *http.Response) error {
	re := &RemoteError{Addr: addr, Status: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body util.ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Code == "" {
		re.Code = handler.CodeInternal
		re.Message = strings.TrimSpace(string(raw))
		return re
	}

	re.Code = body.Code
	re.Message = body.Error
	if len(body.Result) > 0 {
		var res types.WriteResult
		if err := json.Unmarshal(body.Result, &res); err == nil {
			re.Result = &res
		}
	}
	return re
}
