package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"registrar/internal/core/util"
	"registrar/internal/metrics"
	"registrar/internal/types"
)

var (
	ErrQueueFull = errors.New("queue is full")

	ErrQueueClosed = errors.New("queue closed")
)

// Listener receives a key and, for CHANGE, its value at dispatch time.
type Listener interface {
	OnChange(key string, value types.Datum) error
	OnDelete(key string) error
}

// ListenerFunc adapts a single callback to Listener.
type ListenerFunc func(key string, action util.Action, value types.Datum) error

func (f ListenerFunc) OnChange(key string, value types.Datum) error {
	return f(key, util.Change, value)
}

func (f ListenerFunc) OnDelete(key string) error {
	return f(key, util.Delete, types.Datum{})
}

// ValueFunc resolves the latest stored datum when a task is dispatched.
type ValueFunc func(key string) (types.Datum, bool)

type task struct {
	key    string
	action util.Action
}

// Notifier dispatches CHANGE/DELETE tasks to listeners from a single worker
// in FIFO order. A CHANGE for a key that already has a CHANGE queued is
// dropped; DELETE is never coalesced.
//
// The merge ignores a DELETE queued in between: CHANGE, DELETE, CHANGE for
// one key dispatches as CHANGE then DELETE. Listeners end on DELETE even
// though the key exists again, until its next CHANGE.
type Notifier struct {
	queue     chan task
	valueOf   ValueFunc
	prefixes  []string
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	pending   map[string]struct{}

	listenersMu sync.RWMutex
	listeners   map[string][]registration
	nextID      uint64
}

type registration struct {
	id       uint64
	listener Listener
}

func NewNotifier(queueSize int, valueOf ValueFunc, prefixes ...string) *Notifier {
	if queueSize <= 0 {
		slog.Warn("Queue can't be smaller then 1. Setting queue size to 1.")
		queueSize = 1
	}

	ps := append([]string(nil), prefixes...)
	sort.Strings(ps)

	n := &Notifier{
		queue:     make(chan task, queueSize),
		valueOf:   valueOf,
		prefixes:  ps,
		pending:   make(map[string]struct{}),
		listeners: make(map[string][]registration),
	}

	slog.Info("notifier created", "queue_size", queueSize, "prefixes", prefixes)
	return n
}

func (n *Notifier) Start() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		for t := range n.queue {
			if t.action == util.Change {
				n.mu.Lock()
				delete(n.pending, t.key)
				n.mu.Unlock()
			}
			metrics.NotifierQueueDepth.Set(float64(len(n.queue)))
			n.dispatch(t)
		}
	}()
}

func (n *Notifier) Enqueue(key string, action util.Action) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return fmt.Errorf("enqueue %s %s: %w", action, key, ErrQueueClosed)
	}

	if action == util.Change {
		if _, queued := n.pending[key]; queued {
			metrics.NotifierCoalescedTotal.Inc()
			return nil
		}
	}

	select {
	case n.queue <- task{key: key, action: action}:
		if action == util.Change {
			n.pending[key] = struct{}{}
		}
		metrics.NotifierQueueDepth.Set(float64(len(n.queue)))
		return nil
	default:
		return fmt.Errorf("enqueue %s %s: %w", action, key, ErrQueueFull)
	}
}

func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		n.mu.Unlock()
		close(n.queue)
	})
	n.wg.Wait()
}

// Len is the number of tasks waiting for the worker.
func (n *Notifier) Len() int {
	return len(n.queue)
}

// Listen registers l for key, which may be a datum key or a coarse prefix.
// The returned id is used to unregister.
func (n *Notifier) Listen(key string, l Listener) uint64 {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()

	n.nextID++
	n.listeners[key] = append(n.listeners[key], registration{id: n.nextID, listener: l})
	return n.nextID
}

// Unlisten removes one registration. It reports whether id was registered.
func (n *Notifier) Unlisten(key string, id uint64) bool {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()

	regs := n.listeners[key]
	for i, r := range regs {
		if r.id != id {
			continue
		}
		regs = append(regs[:i:i], regs[i+1:]...)
		if len(regs) == 0 {
			delete(n.listeners, key)
		} else {
			n.listeners[key] = regs
		}
		return true
	}
	return false
}

func (n *Notifier) UnlistenAll(key string) {
	n.listenersMu.Lock()
	delete(n.listeners, key)
	n.listenersMu.Unlock()
}

// Listeners returns the registration count per key.
func (n *Notifier) Listeners() map[string]int {
	n.listenersMu.RLock()
	defer n.listenersMu.RUnlock()

	out := make(map[string]int, len(n.listeners))
	for k, ls := range n.listeners {
		out[k] = len(ls)
	}
	return out
}

// IsCoarsePrefix reports whether key is one of the registered coarse
// prefixes rather than a datum key.
func (n *Notifier) IsCoarsePrefix(key string) bool {
	for _, p := range n.prefixes {
		if key == p {
			return true
		}
	}
	return false
}

func (n *Notifier) targets(key string) []Listener {
	n.listenersMu.RLock()
	defer n.listenersMu.RUnlock()

	var out []Listener
	for _, r := range n.listeners[key] {
		out = append(out, r.listener)
	}

	for _, p := range n.prefixes {
		if !types.MatchesPrefix(key, p) {
			continue
		}
		for _, r := range n.listeners[p] {
			out = append(out, r.listener)
		}
	}
	return out
}

func (n *Notifier) dispatch(t task) {
	targets := n.targets(t.key)
	if len(targets) == 0 {
		metrics.NotifierDispatchedTotal.WithLabelValues(t.action.String()).Inc()
		return
	}

	var value types.Datum
	if t.action == util.Change {
		d, ok := n.valueOf(t.key)
		if !ok {
			slog.Debug("datum gone before dispatch", "key", t.key)
			return
		}
		value = d
	}

	for _, l := range targets {
		n.invoke(l, t, value)
	}

	metrics.NotifierDispatchedTotal.WithLabelValues(t.action.String()).Inc()
	slog.Debug("datum change dispatched", "key", t.key, "action", t.action, "listeners", len(targets))
}

// Notify delivers a CHANGE for d to l directly, outside the queue.
func (n *Notifier) Notify(l Listener, d types.Datum) {
	n.invoke(l, task{key: d.Key, action: util.Change}, d)
}

func (n *Notifier) invoke(l Listener, t task, value types.Datum) {
	defer func() {
		if r := recover(); r != nil {
			metrics.NotifierListenerErrorsTotal.Inc()
			slog.Error("listener panicked", "key", t.key, "action", t.action, "panic", r)
		}
	}()

	var err error
	if t.action == util.Change {
		err = l.OnChange(t.key, value.Clone())
	} else {
		err = l.OnDelete(t.key)
	}
	if err != nil {
		metrics.NotifierListenerErrorsTotal.Inc()
		slog.Error("listener failed", "key", t.key, "action", t.action, "error", err)
	}
}
