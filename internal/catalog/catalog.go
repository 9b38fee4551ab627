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

/*
Package catalog holds the engine's typed descriptor tree: tables, columns,
and the view-handler metadata that ties a derived table back to its
sources. A Catalog is an immutable snapshot identified by a monotonic
timestamp; Load and Update never mutate a live snapshot in place, they
produce a new one and swap it in.

This mirrors the write-through, load-everything-on-start shape of
flydb/internal/sql.Catalog, generalized from a JSON-over-KVStore schema
registry (one flat table name -> schema map) to a snapshot-versioned
descriptor graph that a coordinator replaces wholesale (Load) or diffs
against (Update).
*/
package catalog

import (
	"sync"

	"flyengine/internal/errors"
)

// AggregateType is the kind of aggregation a materialized-view destination
// column performs over its group. Anything outside this set is rejected at
// view-handler install time with UnsupportedAggregate.
type AggregateType int

const (
	AggregateSum AggregateType = iota
	AggregateCount
	AggregateCountStar
	AggregateMin
	AggregateMax
)

func (a AggregateType) String() string {
	switch a {
	case AggregateSum:
		return "SUM"
	case AggregateCount:
		return "COUNT"
	case AggregateCountStar:
		return "COUNT_STAR"
	case AggregateMin:
		return "MIN"
	case AggregateMax:
		return "MAX"
	default:
		return "UNKNOWN"
	}
}

// ColumnDescriptor describes one column of a table or view destination.
type ColumnDescriptor struct {
	Name     string
	Type     string // engine-level type tag; real type system is out of scope
	Nullable bool

	// Aggregate is only meaningful on a view's destination columns that
	// are not group-by columns. IsGroupBy columns carry the zero value.
	IsGroupBy bool
	Aggregate AggregateType
}

// ViewHandlerInfo is the catalog-level description of one materialized
// view: which table it maintains, which tables feed it, and the aggregate
// shape of its destination row. internal/view turns this into a live
// handler at catalog load/update time.
type ViewHandlerInfo struct {
	Name                 string
	DestinationTableID   int64
	SourceTableIDs       []int64
	CreateQueryPlanID    int64
	GroupByColumnCount   int
	CountStarColumnIndex int

	// AggregateTypes holds one entry per destination column after the
	// GroupByColumnCount group-by columns, in column order.
	AggregateTypes []AggregateType

	// MinMaxFallbackPlanIDs maps an aggregate index (the position of a MIN
	// or MAX entry in AggregateTypes, not counting the group-by columns)
	// to the pre-compiled plan fragment that recomputes
	// that column's extremum when the removed row might have held it.
	MinMaxFallbackPlanIDs map[int]int64
}

// TableDescriptor is the catalog's record of one table: its identity,
// shape, and the view handlers that reference it either as a source or
// (for a view's own destination table) as an output.
type TableDescriptor struct {
	CatalogID     int64
	Name          string
	SignatureHash uint64
	Columns       []ColumnDescriptor
	IsReplicated  bool
	IsStreamed    bool

	// ViewHandler is non-nil when this table is itself a materialized
	// view's destination.
	ViewHandler *ViewHandlerInfo
}

// Snapshot is one immutable, timestamp-identified version of the catalog.
type Snapshot struct {
	Timestamp int64
	Tables    map[int64]*TableDescriptor
	order     []int64 // insertion order, for deterministic iteration
}

// clone returns a shallow copy suitable as the starting point for an
// Update diff: the Tables map and order slice are new, but the
// descriptor pointers are shared with s (descriptors are never mutated
// in place once published).
func (s *Snapshot) clone() *Snapshot {
	n := &Snapshot{
		Timestamp: s.Timestamp,
		Tables:    make(map[int64]*TableDescriptor, len(s.Tables)),
		order:     append([]int64(nil), s.order...),
	}
	for id, t := range s.Tables {
		n.Tables[id] = t
	}
	return n
}

// TablesInOrder returns the snapshot's tables in the order they were
// installed, the way the registry (internal/registry) needs a stable
// iteration order to rebuild its three indexes.
func (s *Snapshot) TablesInOrder() []*TableDescriptor {
	out := make([]*TableDescriptor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.Tables[id])
	}
	return out
}

// Catalog owns the current snapshot and the monotonic timestamp that
// identifies it. Only the engine's own goroutine mutates it; the mutex
// exists so Current() is safe to call from a metrics or debug-shell
// goroutine without coordinating with the engine loop.
type Catalog struct {
	mu      sync.RWMutex
	current *Snapshot
}

// New returns a Catalog with an empty snapshot at timestamp -1, so that
// the first Load (at any timestamp >= 0) always succeeds.
func New() *Catalog {
	return &Catalog{current: &Snapshot{Timestamp: -1, Tables: map[int64]*TableDescriptor{}}}
}

// Current returns the currently installed snapshot.
func (c *Catalog) Current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Load replaces the catalog wholesale with the given tables at timestamp.
// Fails with CatalogVersionMismatch if timestamp is not strictly greater
// than the current snapshot's.
func (c *Catalog) Load(timestamp int64, tables []*TableDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timestamp <= c.current.Timestamp {
		return errors.CatalogVersionMismatch(timestamp, c.current.Timestamp)
	}

	snap := &Snapshot{Timestamp: timestamp, Tables: make(map[int64]*TableDescriptor, len(tables))}
	for _, t := range tables {
		snap.Tables[t.CatalogID] = t
		snap.order = append(snap.order, t.CatalogID)
	}
	c.current = snap
	return nil
}

// Update diffs the given additions/deletions/modifications against the
// current snapshot and applies them in that order: additions first,
// then deletions, then modifications. isStreamUpdate is accepted for
// parity with the host's wire format but does not change diff order.
// Update itself is site-agnostic: it applies whatever diff it is handed.
// Keeping a replicated table's mutation off a non-designated site is the
// caller's job; internal/engine filters replicated entries out of the
// diff before calling Update on a process that isn't the lowest site for
// that table.
func (c *Catalog) Update(timestamp int64, isStreamUpdate bool, additions, deletions, modifications []*TableDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timestamp <= c.current.Timestamp {
		return errors.CatalogVersionMismatch(timestamp, c.current.Timestamp)
	}

	next := c.current.clone()
	next.Timestamp = timestamp

	for _, t := range additions {
		if _, exists := next.Tables[t.CatalogID]; !exists {
			next.order = append(next.order, t.CatalogID)
		}
		next.Tables[t.CatalogID] = t
	}
	for _, t := range deletions {
		delete(next.Tables, t.CatalogID)
		next.order = removeID(next.order, t.CatalogID)
	}
	for _, t := range modifications {
		if _, exists := next.Tables[t.CatalogID]; !exists {
			next.order = append(next.order, t.CatalogID)
		}
		next.Tables[t.CatalogID] = t
	}

	c.current = next
	_ = isStreamUpdate
	return nil
}

func removeID(order []int64, id int64) []int64 {
	out := order[:0:0]
	for _, v := range order {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
