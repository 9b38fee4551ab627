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

// Package table defines the PersistentTable/StreamedTable contracts the
// engine needs from storage, and a reference in-memory implementation
// (MemTable) sufficient to run the engine end to end without a real
// storage layer. Storage-level tuple layout, indexes, and B-tree
// mechanics live outside this package; production deployments supply
// their own PersistentTable the way VoltDB's EE receives one it never
// implements.
package table

import (
	"flyengine/internal/errors"
	"flyengine/internal/undo"
)

// Value is an engine-level column value. The reference implementation is
// deliberately narrow (signed 64-bit integers only, with a null flag):
// the full SQL type system and on-disk encoding live outside this
// package; this is exactly enough to run the aggregate arithmetic the
// view maintainer needs.
type Value struct {
	Null bool
	I    int64
}

// Int wraps a non-null integer value.
func Int(v int64) Value { return Value{I: v} }

// Null returns the null value.
func Null() Value { return Value{Null: true} }

// Compare orders two non-null values. Callers must check Null first.
func (v Value) Compare(o Value) int {
	switch {
	case v.I < o.I:
		return -1
	case v.I > o.I:
		return 1
	default:
		return 0
	}
}

// Row is an ordered tuple of column values.
type Row []Value

func rowEquals(a, b Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Null != b[i].Null || (!a[i].Null && a[i].I != b[i].I) {
			return false
		}
	}
	return true
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// ViewHandler is the callback interface a table's attached materialized
// views satisfy. It lives here, not in internal/view, so that this
// package never imports the view package: tables hold non-owning
// back-references to the handlers they must notify.
type ViewHandler interface {
	HandleTupleInsert(source PersistentTable, row Row, fallible bool) error
	HandleTupleDelete(source PersistentTable, row Row) error
}

// PersistentTable is the storage contract the engine depends on for any
// table with undo-log-tracked, index-addressable rows.
type PersistentTable interface {
	Name() string
	Signature() uint64
	RelativeIndex() int64

	Insert(row Row, fallible bool) error
	Delete(row Row) error
	UpdateRow(old, new Row) error
	Scan() []Row

	// IndexProbe looks up a row by its leading groupByCount columns.
	// MemTable implements this as a linear scan; a real storage engine
	// would use a group-by key index.
	IndexProbe(groupKey Row) (Row, bool)

	AttachViewHandler(h ViewHandler)
	DetachViewHandler(h ViewHandler)
	ViewHandlers() []ViewHandler

	// EnterDeltaMode/ExitDeltaMode implement the visibility switch a
	// view's create-query relies on: while in delta mode, Scan returns
	// only the just-mutated rows.
	EnterDeltaMode(deltaRows []Row)
	ExitDeltaMode()
	InDeltaMode() bool
}

// StreamedTable is the append-only counterpart: no undo, no view
// handlers, replay is via an external log.
type StreamedTable interface {
	Name() string
	Append(row Row) (uso int64, seq int64, err error)
	USO() int64
}

// insertUndo, deleteUndo and updateUndo are the inverse-action variants MemTable
// registers with the shared undo log: a closed sum type per mutation
// kind, not a universal function-pointer action.
type insertUndo struct {
	t   *MemTable
	row Row
}

func (u *insertUndo) Undo() { u.t.removeExact(u.row) }
func (u *insertUndo) Release() {}

type deleteUndo struct {
	t   *MemTable
	row Row
}

func (u *deleteUndo) Undo() { u.t.rows = append(u.t.rows, cloneRow(u.row)) }
func (u *deleteUndo) Release() {}

type updateUndo struct {
	t   *MemTable
	old Row
	new Row
}

func (u *updateUndo) Undo() {
	for i, r := range u.t.rows {
		if rowEquals(r, u.new) {
			u.t.rows[i] = cloneRow(u.old)
			return
		}
	}
}
func (u *updateUndo) Release() {}

// MemTable is the reference PersistentTable: an unordered row slice, a
// configurable primary-key column set for uniqueness checks, and a set
// of attached view handlers notified synchronously on every mutation.
type MemTable struct {
	name          string
	signature     uint64
	relativeIndex int64
	pkColumns     []int

	rows     []Row
	handlers []ViewHandler

	delta      bool
	deltaRows  []Row

	undoLog *undo.Log
}

// NewMemTable constructs an empty table. undoLog may be nil for tables
// that are never mutated under a transaction (e.g. used only in tests);
// production wiring shares one undo.Log across every table in an engine.
func NewMemTable(name string, signature uint64, relativeIndex int64, pkColumns []int, undoLog *undo.Log) *MemTable {
	return &MemTable{
		name:          name,
		signature:     signature,
		relativeIndex: relativeIndex,
		pkColumns:     pkColumns,
		undoLog:       undoLog,
	}
}

func (t *MemTable) Name() string        { return t.name }
func (t *MemTable) Signature() uint64   { return t.signature }
func (t *MemTable) RelativeIndex() int64 { return t.relativeIndex }

func (t *MemTable) registerUndo(a undo.Action) {
	if t.undoLog == nil {
		return
	}
	if err := t.undoLog.Register(a); err != nil {
		// No open quantum: this mutation happens outside a transaction
		// (catalog load / view catch-up). Nothing to register.
		_ = err
	}
}

func (t *MemTable) pkMatches(a, b Row) bool {
	if len(t.pkColumns) == 0 {
		return rowEquals(a, b)
	}
	for _, c := range t.pkColumns {
		if a[c].Null != b[c].Null || (!a[c].Null && a[c].I != b[c].I) {
			return false
		}
	}
	return true
}

// Insert appends row, failing with ConstraintViolation if it collides
// with an existing row on the primary key, then notifies attached view
// handlers in registration order.
func (t *MemTable) Insert(row Row, fallible bool) error {
	for _, existing := range t.rows {
		if t.pkMatches(existing, row) {
			return errors.ConstraintViolation(fallible, "duplicate key in table %q", t.name)
		}
	}

	t.rows = append(t.rows, cloneRow(row))
	t.registerUndo(&insertUndo{t: t, row: cloneRow(row)})

	for _, h := range t.handlers {
		if err := h.HandleTupleInsert(t, row, fallible); err != nil {
			return err
		}
	}
	return nil
}

// removeExact deletes the first row exactly equal to row, without
// notifying view handlers or registering undo (used by insertUndo.Undo).
func (t *MemTable) removeExact(row Row) {
	for i, r := range t.rows {
		if rowEquals(r, row) {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			return
		}
	}
}

// Delete removes the row matching row's primary key and notifies
// attached view handlers with the full deleted row.
func (t *MemTable) Delete(row Row) error {
	for i, r := range t.rows {
		if t.pkMatches(r, row) {
			full := cloneRow(r)
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			t.registerUndo(&deleteUndo{t: t, row: full})

			for _, h := range t.handlers {
				if err := h.HandleTupleDelete(t, full); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return errors.Serialization("delete: no row matching primary key in table %q", t.name)
}

// UpdateRow replaces old with new in place, used by the view maintainer's
// merge-for-insert/merge-for-delete paths, which update an existing view
// row's aggregate columns without touching its group-by key.
func (t *MemTable) UpdateRow(old, new Row) error {
	for i, r := range t.rows {
		if rowEquals(r, old) {
			t.rows[i] = cloneRow(new)
			t.registerUndo(&updateUndo{t: t, old: cloneRow(old), new: cloneRow(new)})
			return nil
		}
	}
	return errors.ViewDesync("update: no row matching %v in table %q", old, t.name)
}

// Scan returns the table's visible rows: the delta set while in delta
// mode, otherwise every row.
func (t *MemTable) Scan() []Row {
	if t.delta {
		return t.deltaRows
	}
	return t.rows
}

// IndexProbe finds the row whose leading len(groupKey) columns equal
// groupKey. If groupKey is empty (no-group-by view), it unconditionally
// returns the table's single row.
func (t *MemTable) IndexProbe(groupKey Row) (Row, bool) {
	if len(groupKey) == 0 {
		if len(t.rows) == 0 {
			return nil, false
		}
		return t.rows[0], true
	}
	for _, r := range t.rows {
		match := true
		for i, k := range groupKey {
			if r[i].Null != k.Null || (!r[i].Null && r[i].I != k.I) {
				match = false
				break
			}
		}
		if match {
			return r, true
		}
	}
	return nil, false
}

func (t *MemTable) AttachViewHandler(h ViewHandler) {
	t.handlers = append(t.handlers, h)
}

func (t *MemTable) DetachViewHandler(h ViewHandler) {
	for i, existing := range t.handlers {
		if existing == h {
			t.handlers = append(t.handlers[:i], t.handlers[i+1:]...)
			return
		}
	}
}

func (t *MemTable) ViewHandlers() []ViewHandler { return t.handlers }

func (t *MemTable) EnterDeltaMode(deltaRows []Row) {
	t.delta = true
	t.deltaRows = deltaRows
}

func (t *MemTable) ExitDeltaMode() {
	t.delta = false
	t.deltaRows = nil
}

func (t *MemTable) InDeltaMode() bool { return t.delta }

// MemStreamedTable is the reference StreamedTable: an append-only row
// slice whose unique-sequence-offset counter advances by one per row.
// The export/CDC wire format for the rows themselves lives outside this
// package; Append hands back the USO/sequence pair after each row, and
// Quiesce hands off the drained rows without them (see Drain).
type MemStreamedTable struct {
	name string
	rows []Row
	uso  int64
	seq  int64
}

// NewMemStreamedTable constructs an empty streamed table.
func NewMemStreamedTable(name string) *MemStreamedTable {
	return &MemStreamedTable{name: name}
}

func (t *MemStreamedTable) Name() string { return t.name }

func (t *MemStreamedTable) Append(row Row) (uso int64, seq int64, err error) {
	t.rows = append(t.rows, cloneRow(row))
	t.uso++
	t.seq++
	return t.uso, t.seq, nil
}

func (t *MemStreamedTable) USO() int64 { return t.uso }

// Drain returns every row appended since the table was created or last
// drained, clearing the buffer. Used by Quiesce to build the export
// handoff payload.
func (t *MemStreamedTable) Drain() []Row {
	rows := t.rows
	t.rows = nil
	return rows
}
