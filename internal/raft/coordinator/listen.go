package coordinator

import (
	"registrar/internal/core/queue"
	"registrar/internal/core/util"
	"registrar/internal/types"
)

// Listen registers l for key and immediately replays the current value. A
// coarse prefix key replays every datum under it.
func (c *Coordinator) Listen(key string, l queue.Listener) uint64 {
	id := c.notifier.Listen(key, l)

	if c.notifier.IsCoarsePrefix(key) {
		for _, d := range c.store.Snapshot() {
			if types.MatchesPrefix(d.Key, key) {
				c.notifier.Notify(l, d)
			}
		}
		return id
	}

	if d, ok := c.store.Get(key); ok {
		c.notifier.Notify(l, d)
	}
	return id
}

func (c *Coordinator) Unlisten(key string, id uint64) bool {
	return c.notifier.Unlisten(key, id)
}

func (c *Coordinator) UnlistenAll(key string) {
	c.notifier.UnlistenAll(key)
}

// Listeners returns the number of registered listeners per key.
func (c *Coordinator) Listeners() map[string]int {
	return c.notifier.Listeners()
}

// ReloadDatum rereads key from disk into memory and notifies listeners.
func (c *Coordinator) ReloadDatum(key string) (types.Datum, error) {
	if key == "" {
		return types.Datum{}, ErrEmptyKey
	}
	c.applyMu.Lock()
	d, err := c.store.Reload(key)
	c.applyMu.Unlock()
	if err != nil {
		return types.Datum{}, err
	}
	c.enqueue(key, util.Change)
	return d, nil
}
