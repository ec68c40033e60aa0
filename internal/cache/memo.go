package cache

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Memo memoizes successful results by key. Concurrent calls for the same
// key share one invocation; failed invocations are not remembered.
type Memo[V any] struct {
	group      singleflight.Group
	mutex      sync.RWMutex
	values     map[string]V
	generation uint64
}

// NewMemo creates an empty memo.
func NewMemo[V any]() *Memo[V] {
	return &Memo[V]{values: make(map[string]V)}
}

// Get returns a stored value.
func (m *Memo[V]) Get(key string) (V, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Do returns the stored value for key, or runs fn once across concurrent
// callers and stores its result on success. The shared flag reports
// whether the value came from the store or another caller's invocation.
func (m *Memo[V]) Do(key string, fn func() (V, error)) (value V, shared bool, err error) {
	m.mutex.RLock()
	v, ok := m.values[key]
	gen := m.generation
	m.mutex.RUnlock()
	if ok {
		return v, true, nil
	}

	res, err, shared := m.group.Do(m.flightKey(key, gen), func() (any, error) {
		v, err := fn()
		if err != nil {
			return v, err
		}

		m.mutex.Lock()
		if m.generation == gen {
			m.values[key] = v
		}
		m.mutex.Unlock()
		return v, nil
	})
	value, _ = res.(V)
	return value, shared, err
}

// DoContext is Do for work shared by callers with independent lifetimes.
// fn runs detached from the cancellation of whichever caller started it, so
// one caller giving up never fails the others. Each caller stops waiting
// when its own ctx is done.
func (m *Memo[V]) DoContext(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (value V, shared bool, err error) {
	m.mutex.RLock()
	v, ok := m.values[key]
	gen := m.generation
	m.mutex.RUnlock()
	if ok {
		return v, true, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(m.flightKey(key, gen), func() (any, error) {
		v, err := fn(detached)
		if err != nil {
			return v, err
		}

		m.mutex.Lock()
		if m.generation == gen {
			m.values[key] = v
		}
		m.mutex.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return value, false, ctx.Err()
	case res := <-ch:
		value, _ = res.Val.(V)
		return value, res.Shared, res.Err
	}
}

// Reset forgets every stored value. Invocations in flight complete for
// their callers but are not stored.
func (m *Memo[V]) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.values = make(map[string]V)
	m.generation++
}

// Len returns the number of stored values.
func (m *Memo[V]) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.values)
}

func (m *Memo[V]) flightKey(key string, gen uint64) string {
	return strconv.FormatUint(gen, 10) + "\x00" + key
}
