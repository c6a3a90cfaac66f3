package queue

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"registrar/internal/core/util"
	"registrar/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	key     string
	action  util.Action
	version uint64
}

type recorder struct {
	mu     sync.Mutex
	events []event
	ch     chan event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan event, 64)}
}

func (r *recorder) OnChange(key string, d types.Datum) error {
	r.record(event{key: key, action: util.Change, version: d.Version})
	return nil
}

func (r *recorder) OnDelete(key string) error {
	r.record(event{key: key, action: util.Delete})
	return nil
}

func (r *recorder) record(e event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.ch <- e
}

func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return event{}
	}
}

type memValues struct {
	mu sync.Mutex
	m  map[string]types.Datum
}

func (v *memValues) set(key string, version uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[key] = types.Datum{Key: key, Version: version, Value: json.RawMessage(`{}`)}
}

func (v *memValues) get(key string) (types.Datum, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	d, ok := v.m[key]
	return d, ok
}

func newTestNotifier(t *testing.T, size int) (*Notifier, *memValues) {
	t.Helper()
	values := &memValues{m: make(map[string]types.Datum)}
	n := NewNotifier(size, values.get, types.ServiceMetaPrefix)
	t.Cleanup(n.Close)
	return n, values
}

func TestNotifier_CoalescesQueuedChange(t *testing.T) {
	n, values := newTestNotifier(t, 8)
	rec := newRecorder()
	n.Listen("svc/x", rec)

	values.set("svc/x", 1)
	require.NoError(t, n.Enqueue("svc/x", util.Change))
	values.set("svc/x", 2)
	require.NoError(t, n.Enqueue("svc/x", util.Change))

	assert.Equal(t, 1, n.Len())

	n.Start()

	e := rec.next(t)
	assert.Equal(t, uint64(2), e.version, "dispatch must read the latest value")

	select {
	case extra := <-rec.ch:
		t.Fatalf("expected one notification, got extra %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifier_ChangeAfterDeleteMergesIntoEarlierChange(t *testing.T) {
	n, values := newTestNotifier(t, 8)
	rec := newRecorder()
	n.Listen("k", rec)

	values.set("k", 1)
	require.NoError(t, n.Enqueue("k", util.Change))
	require.NoError(t, n.Enqueue("k", util.Delete))
	values.set("k", 2)
	require.NoError(t, n.Enqueue("k", util.Change))
	assert.Equal(t, 2, n.Len())

	n.Start()

	first := rec.next(t)
	assert.Equal(t, util.Change, first.action)
	assert.Equal(t, uint64(2), first.version)
	assert.Equal(t, util.Delete, rec.next(t).action)

	select {
	case extra := <-rec.ch:
		t.Fatalf("expected two notifications, got extra %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	_, ok := values.get("k")
	assert.True(t, ok)
}

func TestNotifier_DeleteNeverCoalesced(t *testing.T) {
	n, _ := newTestNotifier(t, 8)
	rec := newRecorder()
	n.Listen("k", rec)

	require.NoError(t, n.Enqueue("k", util.Delete))
	require.NoError(t, n.Enqueue("k", util.Delete))
	assert.Equal(t, 2, n.Len())

	n.Start()
	assert.Equal(t, util.Delete, rec.next(t).action)
	assert.Equal(t, util.Delete, rec.next(t).action)
}

func TestNotifier_FIFOAcrossKeys(t *testing.T) {
	n, values := newTestNotifier(t, 8)
	rec := newRecorder()
	for _, k := range []string{"a", "b", "c"} {
		values.set(k, 1)
		n.Listen(k, rec)
	}

	require.NoError(t, n.Enqueue("b", util.Change))
	require.NoError(t, n.Enqueue("a", util.Change))
	require.NoError(t, n.Enqueue("c", util.Delete))
	n.Start()

	assert.Equal(t, "b", rec.next(t).key)
	assert.Equal(t, "a", rec.next(t).key)
	assert.Equal(t, "c", rec.next(t).key)
}

func TestNotifier_PrefixListener(t *testing.T) {
	n, values := newTestNotifier(t, 8)
	exact := newRecorder()
	coarse := newRecorder()

	key := types.ServiceMetaKey("public", "", "orders")
	values.set(key, 4)
	n.Listen(key, exact)
	n.Listen(types.ServiceMetaPrefix, coarse)
	n.Start()

	require.NoError(t, n.Enqueue(key, util.Change))

	assert.Equal(t, uint64(4), exact.next(t).version)
	assert.Equal(t, key, coarse.next(t).key)
}

func TestNotifier_ListenerFailuresDoNotStopWorker(t *testing.T) {
	n, values := newTestNotifier(t, 8)
	rec := newRecorder()

	values.set("boom", 1)
	values.set("err", 1)
	values.set("ok", 1)

	n.Listen("boom", ListenerFunc(func(string, util.Action, types.Datum) error { panic("listener bug") }))
	n.Listen("err", ListenerFunc(func(string, util.Action, types.Datum) error { return errors.New("nope") }))
	n.Listen("ok", rec)
	n.Start()

	require.NoError(t, n.Enqueue("boom", util.Change))
	require.NoError(t, n.Enqueue("err", util.Change))
	require.NoError(t, n.Enqueue("ok", util.Change))

	assert.Equal(t, "ok", rec.next(t).key)
}

func TestNotifier_EnqueueFullAndClosed(t *testing.T) {
	n, _ := newTestNotifier(t, 1)

	require.NoError(t, n.Enqueue("a", util.Delete))
	assert.ErrorIs(t, n.Enqueue("b", util.Delete), ErrQueueFull)

	n.Start()
	n.Close()
	assert.ErrorIs(t, n.Enqueue("c", util.Change), ErrQueueClosed)
}

func TestNotifier_Unlisten(t *testing.T) {
	n, _ := newTestNotifier(t, 8)
	rec := newRecorder()

	id := n.Listen("k", rec)
	n.Listen("k", newRecorder())
	assert.Equal(t, map[string]int{"k": 2}, n.Listeners())

	assert.True(t, n.Unlisten("k", id))
	assert.False(t, n.Unlisten("k", id))
	assert.Equal(t, map[string]int{"k": 1}, n.Listeners())

	n.UnlistenAll("k")
	assert.Empty(t, n.Listeners())
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "CHANGE", util.Change.String())
	assert.Equal(t, "DELETE", util.Delete.String())
	assert.Equal(t, "UNKNOWN", util.Action(9).String())
}
