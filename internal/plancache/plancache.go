/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package plancache turns fragment ids into cached ExecutorVectors,
// fetching a plan's IR from the coordinator (via topend.Topend) on a
// cache miss the way flydb/internal/sql.PreparedStatementManager compiles
// a statement once and reuses the compiled form on every subsequent
// execution.
//
// Eviction is count-bounded LRU via github.com/hashicorp/golang-lru/v2,
// capacity fixed at Capacity, with one added invariant the library
// doesn't give for free: a vector any caller on the current pin stack is
// still running -- including nested callers, since a dispatched
// fragment's own execution can re-enter GetOrLoad via view maintenance --
// must never be evicted. See Pin.
package plancache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"flyengine/internal/exec"
	"flyengine/internal/metrics"
	"flyengine/internal/topend"
)

// Capacity is the plan cache's fixed LRU bound.
const Capacity = 1000

// Cache is a bounded, MRU-ordered store of ExecutorVectors keyed by
// fragment id.
type Cache struct {
	lru      *lru.Cache[int64, *exec.ExecutorVector]
	capacity int

	// inFlight is the stack of fragment ids currently pinned by a caller
	// (GetOrLoad's own fetch, plus whatever the dispatcher or a view
	// handler has pinned around its own fetch-and-run span). A nested
	// GetOrLoad -- e.g. view maintenance re-entering the cache while the
	// dispatcher is still executing the outer fragment's vector -- must
	// never evict any entry on this stack.
	inFlight []int64
}

// New constructs an empty cache with the fixed capacity.
func New() *Cache {
	return NewWithCapacity(Capacity)
}

// NewWithCapacity constructs an empty cache with an explicit capacity,
// primarily so tests can exercise eviction pressure without allocating
// the full production-sized cache.
func NewWithCapacity(capacity int) *Cache {
	c, _ := lru.New[int64, *exec.ExecutorVector](capacity)
	return &Cache{lru: c, capacity: capacity}
}

// Pin marks fragmentID as in-flight until the returned release func is
// called, protecting its cache entry from eviction even across a nested
// GetOrLoad call that runs before release. Callers hold the pin for the
// full span they need protected, not just their own GetOrLoad call: the
// dispatcher pins a fragment across both fetching and running its
// executor vector, since running it is exactly when a view handler's own
// nested GetOrLoad can happen.
func (c *Cache) Pin(fragmentID int64) (release func()) {
	c.inFlight = append(c.inFlight, fragmentID)
	idx := len(c.inFlight) - 1
	released := false
	return func() {
		if released {
			return
		}
		released = true
		c.inFlight = append(c.inFlight[:idx], c.inFlight[idx+1:]...)
	}
}

func (c *Cache) isPinned(fragmentID int64) bool {
	for _, id := range c.inFlight {
		if id == fragmentID {
			return true
		}
	}
	return false
}

// GetOrLoad returns the cached ExecutorVector for fragmentID, marking it
// MRU, or fetches the plan IR from top, builds the vector, inserts it,
// and returns it on a miss. fragmentID is pinned for the duration of this
// call regardless of whether the caller holds a wider pin of its own.
func (c *Cache) GetOrLoad(fragmentID int64, top topend.Topend) (*exec.ExecutorVector, error) {
	release := c.Pin(fragmentID)
	defer release()

	if ev, ok := c.lru.Get(fragmentID); ok {
		metrics.PlanCacheHits.Inc()
		return ev, nil
	}
	metrics.PlanCacheMisses.Inc()

	ir, err := top.FetchPlan(fragmentID)
	if err != nil {
		return nil, err
	}

	ev := exec.Build(ir)
	c.insertProtectingInFlight(fragmentID, ev)
	return ev, nil
}

// insertProtectingInFlight adds ev to the LRU, touching any pinned entry
// that the library would otherwise pick as the eviction candidate:
// eviction must never free a vector some caller up the stack is still
// running.
func (c *Cache) insertProtectingInFlight(fragmentID int64, ev *exec.ExecutorVector) {
	if c.lru.Len() < c.capacity {
		c.lru.Add(fragmentID, ev)
		return
	}

	for {
		oldestKey, _, ok := c.lru.GetOldest()
		if !ok || oldestKey == fragmentID || !c.isPinned(oldestKey) {
			break
		}
		// Touch the oldest pinned entry so it's no longer the eviction
		// candidate, then re-check whatever is oldest now.
		c.lru.Get(oldestKey)
	}
	c.lru.Add(fragmentID, ev)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int { return c.lru.Len() }

// Contains reports whether fragmentID is currently cached, without
// affecting recency.
func (c *Cache) Contains(fragmentID int64) bool {
	return c.lru.Contains(fragmentID)
}
