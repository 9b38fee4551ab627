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

// Package registry keeps the three parallel lookup indexes the engine
// needs to find a live table by id, by name, or by signature hash.
//
// The shape is the same nested-map registry flydb/internal/sql used for
// triggers (map[table]map[name]*Trigger), widened from one index keyed by
// table name to three indexes keyed by the three identifiers tables are
// addressed by on the wire and in plan fragments.
package registry

import (
	"flyengine/internal/catalog"
	"flyengine/internal/table"
)

// Registry is rebuilt from a catalog.Snapshot after every catalog
// mutation. All three indexes are always mutually consistent immediately
// after Rebuild returns; callers must not observe a Registry mid-rebuild
// (the engine rebuilds synchronously on its own thread).
type Registry struct {
	byID        map[int64]table.PersistentTable
	byName      map[string]table.PersistentTable
	bySignature map[uint64]table.PersistentTable
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byID:        make(map[int64]table.PersistentTable),
		byName:      make(map[string]table.PersistentTable),
		bySignature: make(map[uint64]table.PersistentTable),
	}
}

// Rebuild discards the current indexes and repopulates them from the
// given snapshot plus a resolver that maps a catalog id to its live
// PersistentTable. Tables the resolver cannot find (not yet bound to
// storage) are skipped, not an error: the catalog may describe tables
// whose storage-side table hasn't been created yet.
func (r *Registry) Rebuild(snap *catalog.Snapshot, resolve func(id int64) (table.PersistentTable, bool)) {
	byID := make(map[int64]table.PersistentTable, len(snap.Tables))
	byName := make(map[string]table.PersistentTable, len(snap.Tables))
	bySignature := make(map[uint64]table.PersistentTable, len(snap.Tables))

	for _, desc := range snap.TablesInOrder() {
		t, ok := resolve(desc.CatalogID)
		if !ok {
			continue
		}
		byID[desc.CatalogID] = t
		byName[desc.Name] = t
		bySignature[desc.SignatureHash] = t
	}

	r.byID = byID
	r.byName = byName
	r.bySignature = bySignature
}

// RebuildReplicatedOnly re-resolves only the tables in replicatedIDs,
// leaving every other index entry untouched. Used when a catalog update
// affects only replicated tables and the "lowest site" has just finished
// publishing the result; the partial rebuild must still leave all three
// indexes consistent with each other for the ids it touches.
func (r *Registry) RebuildReplicatedOnly(snap *catalog.Snapshot, replicatedIDs []int64, resolve func(id int64) (table.PersistentTable, bool)) {
	for _, id := range replicatedIDs {
		// Drop the id's current entries first so a rename or signature
		// change during the update doesn't leave a stale byName/bySignature
		// key pointing at the old identity alongside the new one.
		r.removeByID(id)

		desc, ok := snap.Tables[id]
		if !ok {
			continue
		}
		t, ok := resolve(id)
		if !ok {
			continue
		}
		r.byID[id] = t
		r.byName[desc.Name] = t
		r.bySignature[desc.SignatureHash] = t
	}
}

func (r *Registry) removeByID(id int64) {
	old, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	for name, t := range r.byName {
		if t == old {
			delete(r.byName, name)
		}
	}
	for sig, t := range r.bySignature {
		if t == old {
			delete(r.bySignature, sig)
		}
	}
}

// ByID looks up a table by its catalog-local id.
func (r *Registry) ByID(id int64) (table.PersistentTable, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// ByName looks up a table by name.
func (r *Registry) ByName(name string) (table.PersistentTable, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// BySignature looks up a table by its stable-across-catalog-updates
// signature hash.
func (r *Registry) BySignature(sig uint64) (table.PersistentTable, bool) {
	t, ok := r.bySignature[sig]
	return t, ok
}

// Len returns the number of tables currently registered by id, which by
// the registry's consistency invariant equals the count by name and by
// signature.
func (r *Registry) Len() int { return len(r.byID) }
