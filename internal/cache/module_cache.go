// Package cache memoizes loaded modules and in-flight loads for one build
// session.
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/staticpack/pkg/modrt"
)

// LoadFunc executes a module. exports is the object registered for the
// module before execution starts; LoadFunc populates it and returns the
// final exports (normally the same map).
type LoadFunc func(ctx context.Context, exports modrt.Exports) (modrt.Exports, error)

// ModuleCache maps cache keys to loaded modules. Each key executes at most
// once until Reset.
type ModuleCache struct {
	entries map[string]*moduleEntry
	mutex   sync.Mutex

	// Statistics tracking (atomic for thread safety)
	hits   int64
	misses int64
	loads  int64
}

type moduleEntry struct {
	done    chan struct{}
	exports modrt.Exports
	err     error
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
	Loads   int64
}

// NewModuleCache creates an empty cache.
func NewModuleCache() *ModuleCache {
	return &ModuleCache{entries: make(map[string]*moduleEntry)}
}

// Get returns the exports of a completed load.
func (c *ModuleCache) Get(key string) (modrt.Exports, bool) {
	c.mutex.Lock()
	entry, ok := c.entries[key]
	c.mutex.Unlock()
	if !ok {
		return nil, false
	}

	select {
	case <-entry.done:
		if entry.err != nil {
			return nil, false
		}
		return entry.exports, true
	default:
		return nil, false
	}
}

// GetOrLoad returns the module for key, running load on the first request.
//
// Concurrent callers wait for the first load to finish and share its
// result, including its error. A load that fails because ctx was cancelled
// is forgotten once its waiters are released, so the next request loads
// again. A request for key issued from inside its own
// load (a require cycle) returns the partially populated exports instead of
// waiting. The ctx handed to load carries the chain of keys being loaded.
func (c *ModuleCache) GetOrLoad(ctx context.Context, key string, load LoadFunc) (modrt.Exports, error) {
	c.mutex.Lock()
	if entry, ok := c.entries[key]; ok {
		c.mutex.Unlock()
		atomic.AddInt64(&c.hits, 1)

		if inChain(ctx, key) {
			return entry.exports, nil
		}
		select {
		case <-entry.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return entry.exports, entry.err
	}

	entry := &moduleEntry{done: make(chan struct{}), exports: modrt.Exports{}}
	c.entries[key] = entry
	c.mutex.Unlock()
	atomic.AddInt64(&c.misses, 1)
	atomic.AddInt64(&c.loads, 1)

	defer close(entry.done)

	exports, err := load(withChain(ctx, key), entry.exports)
	if exports != nil {
		entry.exports = exports
	}
	entry.err = err
	if err != nil && ctx.Err() != nil && isCancellation(err) {
		c.forget(key, entry)
	}
	return entry.exports, err
}

func (c *ModuleCache) forget(key string, entry *moduleEntry) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.entries[key] == entry {
		delete(c.entries, key)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Reset drops every entry. Loads already running finish against the old
// table and are not visible afterwards.
func (c *ModuleCache) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*moduleEntry)
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.loads, 0)
}

// Len returns the number of registered keys, including in-flight loads.
func (c *ModuleCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Stats returns the current counters.
func (c *ModuleCache) Stats() Stats {
	return Stats{
		Entries: c.Len(),
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
		Loads:   atomic.LoadInt64(&c.loads),
	}
}

type chainKey struct{}

// chainLink is an immutable list of the keys on the current load path.
type chainLink struct {
	key    string
	parent *chainLink
}

func withChain(ctx context.Context, key string) context.Context {
	parent, _ := ctx.Value(chainKey{}).(*chainLink)
	return context.WithValue(ctx, chainKey{}, &chainLink{key: key, parent: parent})
}

func inChain(ctx context.Context, key string) bool {
	link, _ := ctx.Value(chainKey{}).(*chainLink)
	for ; link != nil; link = link.parent {
		if link.key == key {
			return true
		}
	}
	return false
}

// LoadChain returns the keys being loaded on ctx, innermost first.
func LoadChain(ctx context.Context) []string {
	var keys []string
	link, _ := ctx.Value(chainKey{}).(*chainLink)
	for ; link != nil; link = link.parent {
		keys = append(keys, link.key)
	}
	return keys
}
