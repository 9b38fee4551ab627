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
Package engine is the per-partition orchestrator: one EngineState owns the
catalog, undo log, table registry, plan cache, dispatcher, and installed
view handlers a single partition needs, and routes every wire.CommandCode
the command surface hands it to the right collaborator.

Request/response bodies are JSON, the same choice internal/wire made for
plan-IR transfer: this is control-plane traffic (one call per DDL change,
batch, or snapshot chunk), not the row-data hot path the undo log and
table package optimize for.

Grounded on flydb/internal/server.Server's per-connection command
dispatch (a switch over a small fixed opcode set, each case delegating to
one collaborator and returning a typed response) and on
_examples/original_source/src/ee/voltdbipc.cpp's command loop, which this
module's opcode table (wire.CmdInitialize .. wire.CmdUpdateCatalog)
mirrors.
*/
package engine

import (
	"encoding/json"
	"sync"

	"flyengine/internal/catalog"
	"flyengine/internal/dispatch"
	"flyengine/internal/errors"
	"flyengine/internal/exec"
	"flyengine/internal/logging"
	"flyengine/internal/plancache"
	"flyengine/internal/registry"
	"flyengine/internal/table"
	"flyengine/internal/topend"
	"flyengine/internal/undo"
	"flyengine/internal/view"
	"flyengine/internal/wire"
)

// replicatedViewMu is the process-wide lock every ReplicatedMaterializedViewHandler
// shares. VoltDB's MaterializedViewHandler uses a SynchronizedThreadLock so
// that only the "lowest site" thread in a process actually rewrites a
// replicated view's destination table while every other site's copy is
// produced identically; a single-process-per-partition Go engine has no
// sibling sites to race against in the general case, but an operator can
// still run more than one EngineState in one process (e.g. the debug
// shell driving several partitions side by side), so the lock is kept
// process-wide rather than dropped.
var replicatedViewMu sync.Mutex

// replicatedViewHandler wraps a *view.Handler installed on a replicated
// table's source tables, serializing every mutation it receives against
// every other replicated view handler in the process (Supplemented
// Feature 1).
type replicatedViewHandler struct {
	inner *view.Handler
}

func (h *replicatedViewHandler) HandleTupleInsert(source table.PersistentTable, row table.Row, fallible bool) error {
	replicatedViewMu.Lock()
	defer replicatedViewMu.Unlock()
	return h.inner.HandleTupleInsert(source, row, fallible)
}

func (h *replicatedViewHandler) HandleTupleDelete(source table.PersistentTable, row table.Row) error {
	replicatedViewMu.Lock()
	defer replicatedViewMu.Unlock()
	return h.inner.HandleTupleDelete(source, row)
}

// installedView remembers which table.ViewHandler was actually attached
// to a view's sources, so teardown detaches the right object: h itself
// for an ordinary view, or its replicatedViewHandler wrapper for a view
// on a replicated table.
type installedView struct {
	h        *view.Handler
	attached table.ViewHandler
}

func (v *installedView) uninstall() {
	for _, s := range v.h.Sources {
		s.DetachViewHandler(v.attached)
	}
}

// cowState tracks an in-progress copy-on-write snapshot: the table ids
// captured when ActivateCopyOnWrite ran, and how far CowSerializeMore has
// streamed through them. A table's rows are captured when streaming
// reaches that table, not when Activate runs, so a mutation made after
// Activate to a table not yet reached is included; rows already captured
// are never re-read.
type cowState struct {
	tableIDs []int64
	nextIdx  int
	pending  []table.Row
}

// EngineState is one partition's complete runtime: catalog, storage
// bindings, undo log, registry, plan cache, dispatcher, and installed
// view handlers. It implements wire.Handler so internal/wire.Serve can
// drive it directly off a connection.
type EngineState struct {
	mu sync.Mutex

	partitionID int64

	cat       *catalog.Catalog
	undoLog   *undo.Log
	reg       *registry.Registry
	planCache *plancache.Cache
	dispatch  *dispatch.Dispatcher
	top       topend.Topend
	log       *logging.Logger

	tables   map[int64]table.PersistentTable
	streamed map[int64]*table.MemStreamedTable
	views    map[int64]*installedView // keyed by destination table catalog id

	// isLowestSite marks this partition's engine as the one designated to
	// apply a replicated table's catalog/data mutations and publish the
	// result; every other site defers those mutations until they arrive
	// through the publish path instead of applying them from its own
	// UpdateCatalog call. Defaults to true: a single free-standing engine
	// (no siblings in the process) is trivially its own lowest site.
	isLowestSite bool

	profilerEnabled bool
	cow             *cowState
}

// New constructs an EngineState for one partition. top is the host
// callback channel. Production callers pass a *wire.WireTopend bound to
// the same connection the command loop runs on; tests pass a
// *topend.Mock.
func New(partitionID int64, top topend.Topend) *EngineState {
	cat := catalog.New()
	undoLog := undo.NewLog()
	reg := registry.New()
	pc := plancache.New()

	return &EngineState{
		partitionID:  partitionID,
		cat:          cat,
		undoLog:      undoLog,
		reg:          reg,
		planCache:    pc,
		dispatch:     dispatch.New(undoLog, pc, reg, top),
		top:          top,
		log:          logging.NewLogger("engine"),
		tables:       make(map[int64]table.PersistentTable),
		streamed:     make(map[int64]*table.MemStreamedTable),
		views:        make(map[int64]*installedView),
		isLowestSite: true,
	}
}

// Dispatch implements wire.Handler, routing one command to its handler
// and returning a reply status and JSON body. A handler that returns an
// error is translated into StatusError with an encoded exception frame;
// every other case is JSON-marshaled and returned as StatusSuccess (or,
// for ExecuteQueryPlanFragments/ExecutePlanFragment/ExecuteCustomPlanFragment,
// the status the batch result itself calls for).
func (e *EngineState) Dispatch(code wire.CommandCode, payload []byte) (wire.Status, []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch code {
	case wire.CmdInitialize:
		return e.handleInitialize(payload)
	case wire.CmdLoadCatalog:
		return e.handleLoadCatalog(payload)
	case wire.CmdUpdateCatalog:
		return e.handleUpdateCatalog(payload)
	case wire.CmdToggleProfiler:
		return e.handleToggleProfiler(payload)
	case wire.CmdTick:
		return e.handleTick(payload)
	case wire.CmdGetStats:
		return e.handleGetStats(payload)
	case wire.CmdExecuteQueryPlanFragments:
		return e.handleExecuteBatch(payload)
	case wire.CmdExecutePlanFragment:
		return e.handleExecuteOne(payload)
	case wire.CmdExecuteCustomPlanFragment:
		return e.handleExecuteCustom(payload)
	case wire.CmdLoadTable:
		return e.handleLoadTable(payload)
	case wire.CmdReleaseUndoToken:
		return e.handleReleaseUndoToken(payload)
	case wire.CmdUndoUndoToken:
		return e.handleUndoUndoToken(payload)
	case wire.CmdSetLogLevels:
		return e.handleSetLogLevels(payload)
	case wire.CmdQuiesce:
		return e.handleQuiesce(payload)
	case wire.CmdActivateCopyOnWrite:
		return e.handleActivateCopyOnWrite(payload)
	case wire.CmdCowSerializeMore:
		return e.handleCowSerializeMore(payload)
	default:
		return wire.StatusError, wire.EncodeException(errors.Serialization("engine: unknown command code %d", code))
	}
}

func ok(v any) (wire.Status, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		return wire.StatusError, wire.EncodeException(errors.Wrap(err, "engine: encoding reply"))
	}
	return wire.StatusSuccess, body
}

func fail(err error) (wire.Status, []byte) {
	return wire.StatusError, wire.EncodeException(err)
}

// --- Initialize -------------------------------------------------------

type initializeRequest struct {
	PartitionID int64 `json:"partition_id"`

	// IsLowestSite designates this engine as the one responsible for
	// applying and publishing replicated-table mutations. Omitted (nil)
	// means "leave the default", which is true: most deployments in this
	// module run one engine per partition with no siblings to coordinate
	// with.
	IsLowestSite *bool `json:"is_lowest_site,omitempty"`
}

func (e *EngineState) handleInitialize(payload []byte) (wire.Status, []byte) {
	var req initializeRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return fail(errors.Wrap(err, "engine: decoding Initialize"))
		}
		e.partitionID = req.PartitionID
		if req.IsLowestSite != nil {
			e.isLowestSite = *req.IsLowestSite
		}
	}
	e.log.Info("initialized", "partition", e.partitionID, "is_lowest_site", e.isLowestSite)
	return ok(struct{}{})
}

// --- LoadCatalog / UpdateCatalog --------------------------------------

// tableSpec is the wire shape of one table: its catalog descriptor plus
// the handful of storage-construction fields (e.g. PKColumns) the
// descriptor itself doesn't carry, since column-level key constraints
// aren't modeled here.
type tableSpec struct {
	CatalogID     int64                     `json:"catalog_id"`
	Name          string                    `json:"name"`
	SignatureHash uint64                    `json:"signature_hash"`
	Columns       []catalog.ColumnDescriptor `json:"columns"`
	IsReplicated  bool                      `json:"is_replicated"`
	IsStreamed    bool                      `json:"is_streamed"`
	PKColumns     []int                     `json:"pk_columns"`
	RelativeIndex int64                     `json:"relative_index"`
	ViewHandler   *catalog.ViewHandlerInfo  `json:"view_handler,omitempty"`
}

func (s tableSpec) descriptor() *catalog.TableDescriptor {
	return &catalog.TableDescriptor{
		CatalogID:     s.CatalogID,
		Name:          s.Name,
		SignatureHash: s.SignatureHash,
		Columns:       s.Columns,
		IsReplicated:  s.IsReplicated,
		IsStreamed:    s.IsStreamed,
		ViewHandler:   s.ViewHandler,
	}
}

type loadCatalogRequest struct {
	Timestamp int64       `json:"timestamp"`
	Tables    []tableSpec `json:"tables"`
}

func (e *EngineState) handleLoadCatalog(payload []byte) (wire.Status, []byte) {
	var req loadCatalogRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fail(errors.Wrap(err, "engine: decoding LoadCatalog"))
	}

	descriptors := make([]*catalog.TableDescriptor, 0, len(req.Tables))
	for _, s := range req.Tables {
		descriptors = append(descriptors, s.descriptor())
	}
	if err := e.cat.Load(req.Timestamp, descriptors); err != nil {
		return fail(err)
	}

	for _, v := range e.views {
		v.uninstall()
	}
	e.views = make(map[int64]*installedView)
	e.tables = make(map[int64]table.PersistentTable)
	e.streamed = make(map[int64]*table.MemStreamedTable)

	for _, s := range req.Tables {
		e.bindStorage(s)
	}
	e.rebuildRegistry()
	if err := e.installViews(req.Tables); err != nil {
		return fail(err)
	}

	e.log.Info("catalog loaded", "timestamp", req.Timestamp, "tables", len(req.Tables))
	return ok(struct{}{})
}

type updateCatalogRequest struct {
	Timestamp       int64       `json:"timestamp"`
	IsStreamUpdate  bool        `json:"is_stream_update"`
	Additions       []tableSpec `json:"additions"`
	Deletions       []tableSpec `json:"deletions"`
	Modifications   []tableSpec `json:"modifications"`
}

// handleUpdateCatalog applies a catalog diff, but gates the replicated
// half of that diff on this engine's site role: only the designated
// "lowest site" actually applies a replicated table's additions,
// deletions, or modifications and rebuilds the registry entries for it.
// A non-lowest site drops those entries from the diff entirely and
// leaves its copy of the replicated table as-is, awaiting the published
// result through a separate channel (out of scope here: single-engine
// deployments, which default to isLowestSite true, never hit this path).
func (e *EngineState) handleUpdateCatalog(payload []byte) (wire.Status, []byte) {
	var req updateCatalogRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fail(errors.Wrap(err, "engine: decoding UpdateCatalog"))
	}

	additions, skippedAdd := filterReplicated(req.Additions, e.isLowestSite)
	deletions, skippedDel := filterReplicated(req.Deletions, e.isLowestSite)
	modifications, skippedMod := filterReplicated(req.Modifications, e.isLowestSite)
	if skipped := skippedAdd + skippedDel + skippedMod; skipped > 0 {
		e.log.Info("skipping replicated-table catalog changes: not the lowest site",
			"additions", skippedAdd, "deletions", skippedDel, "modifications", skippedMod)
	}

	adds := toDescriptors(additions)
	dels := toDescriptors(deletions)
	mods := toDescriptors(modifications)
	if err := e.cat.Update(req.Timestamp, req.IsStreamUpdate, adds, dels, mods); err != nil {
		return fail(err)
	}

	for _, s := range deletions {
		if v, ok := e.views[s.CatalogID]; ok {
			v.uninstall()
			delete(e.views, s.CatalogID)
		}
		delete(e.tables, s.CatalogID)
		delete(e.streamed, s.CatalogID)
	}
	for _, s := range append(append([]tableSpec{}, additions...), modifications...) {
		e.bindStorage(s)
	}

	// A replicated-only diff only needs the three replicated-table index
	// entries touched, not a full index rebuild; a diff that also affects
	// any non-replicated table still needs the ordinary full rebuild.
	if ids, ok := onlyReplicatedIDs(additions, deletions, modifications); ok {
		e.reg.RebuildReplicatedOnly(e.cat.Current(), ids, func(id int64) (table.PersistentTable, bool) {
			t, ok := e.tables[id]
			return t, ok
		})
	} else {
		e.rebuildRegistry()
	}
	if err := e.installViews(append(additions, modifications...)); err != nil {
		return fail(err)
	}

	e.log.Info("catalog updated", "timestamp", req.Timestamp, "additions", len(additions), "deletions", len(deletions), "modifications", len(modifications))
	return ok(struct{}{})
}

// filterReplicated returns specs unchanged when isLowestSite is true.
// Otherwise it drops every replicated-table entry, reporting how many
// were dropped so the caller can log it.
func filterReplicated(specs []tableSpec, isLowestSite bool) (kept []tableSpec, skipped int) {
	if isLowestSite {
		return specs, 0
	}
	for _, s := range specs {
		if s.IsReplicated {
			skipped++
			continue
		}
		kept = append(kept, s)
	}
	return kept, skipped
}

// onlyReplicatedIDs reports whether every spec across the three groups is
// replicated, returning their catalog ids when so. A diff touching zero
// tables is not "replicated-only": the caller still wants the ordinary
// rebuild path (a no-op either way, but RebuildReplicatedOnly expects a
// non-empty affected set).
func onlyReplicatedIDs(groups ...[]tableSpec) ([]int64, bool) {
	var ids []int64
	for _, g := range groups {
		for _, s := range g {
			if !s.IsReplicated {
				return nil, false
			}
			ids = append(ids, s.CatalogID)
		}
	}
	return ids, len(ids) > 0
}

func toDescriptors(specs []tableSpec) []*catalog.TableDescriptor {
	out := make([]*catalog.TableDescriptor, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.descriptor())
	}
	return out
}

// bindStorage creates or reuses a live storage object for s, without
// touching the registry (the caller rebuilds it once after every table
// has been bound).
func (e *EngineState) bindStorage(s tableSpec) {
	if s.IsStreamed {
		if _, ok := e.streamed[s.CatalogID]; !ok {
			e.streamed[s.CatalogID] = table.NewMemStreamedTable(s.Name)
		}
		return
	}
	if _, ok := e.tables[s.CatalogID]; ok {
		return
	}
	pk := s.PKColumns
	if pk == nil && len(s.Columns) > 0 {
		pk = []int{0}
	}
	e.tables[s.CatalogID] = table.NewMemTable(s.Name, s.SignatureHash, s.RelativeIndex, pk, e.undoLog)
}

func (e *EngineState) rebuildRegistry() {
	e.reg.Rebuild(e.cat.Current(), func(id int64) (table.PersistentTable, bool) {
		t, ok := e.tables[id]
		return t, ok
	})
}

// installViews constructs and installs a view.Handler for every spec
// that carries catalog-level view metadata, wrapping replicated-table
// views in the process-wide-lock adapter.
func (e *EngineState) installViews(specs []tableSpec) error {
	for _, s := range specs {
		if s.ViewHandler == nil {
			continue
		}
		dest, ok := e.tables[s.CatalogID]
		if !ok {
			return errors.Serialization("engine: view %q has no bound destination table", s.ViewHandler.Name)
		}

		var sources []table.PersistentTable
		for _, srcID := range s.ViewHandler.SourceTableIDs {
			src, ok := e.tables[srcID]
			if !ok {
				return errors.Serialization("engine: view %q source table %d not bound", s.ViewHandler.Name, srcID)
			}
			sources = append(sources, src)
		}

		h, err := view.New(s.ViewHandler, dest, sources, e.reg, e.planCache, e.top)
		if err != nil {
			return err
		}

		var attached table.ViewHandler = h
		if s.IsReplicated {
			wrapped := &replicatedViewHandler{inner: h}
			attached = wrapped
			for _, src := range sources {
				src.AttachViewHandler(wrapped)
			}
			if err := h.CatchUp(); err != nil {
				return err
			}
		} else {
			for _, src := range sources {
				src.AttachViewHandler(h)
			}
			if err := h.CatchUp(); err != nil {
				return err
			}
		}
		e.views[s.CatalogID] = &installedView{h: h, attached: attached}
	}
	return nil
}

// --- Batch execution ---------------------------------------------------

type batchParam struct {
	Null bool  `json:"null"`
	I    int64 `json:"i"`
}

func (p batchParam) value() table.Value {
	if p.Null {
		return table.Null()
	}
	return table.Int(p.I)
}

type executeBatchRequest struct {
	FragmentIDs []int64        `json:"fragment_ids"`
	Params      [][]batchParam `json:"params"`
	UndoToken   int64          `json:"undo_token"`
	Fallible    bool           `json:"fallible"`
	Trace       string         `json:"trace"`
}

func (r executeBatchRequest) toBatchRequest() dispatch.BatchRequest {
	params := make([][]table.Value, len(r.Params))
	for i, row := range r.Params {
		vals := make([]table.Value, len(row))
		for j, p := range row {
			vals[j] = p.value()
		}
		params[i] = vals
	}
	return dispatch.BatchRequest{
		FragmentIDs: r.FragmentIDs,
		Params:      params,
		UndoToken:   r.UndoToken,
		Fallible:    r.Fallible,
		Trace:       r.Trace,
	}
}

func (e *EngineState) handleExecuteBatch(payload []byte) (wire.Status, []byte) {
	var req executeBatchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fail(errors.Wrap(err, "engine: decoding ExecuteQueryPlanFragments"))
	}
	res, err := e.dispatch.ExecuteBatch(req.toBatchRequest())
	if err != nil {
		return fail(err)
	}
	return ok(res)
}

func (e *EngineState) handleExecuteOne(payload []byte) (wire.Status, []byte) {
	var req struct {
		FragmentID int64        `json:"fragment_id"`
		Params     []batchParam `json:"params"`
		UndoToken  int64        `json:"undo_token"`
		Fallible   bool         `json:"fallible"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return fail(errors.Wrap(err, "engine: decoding ExecutePlanFragment"))
	}
	vals := make([]table.Value, len(req.Params))
	for i, p := range req.Params {
		vals[i] = p.value()
	}
	res, err := e.dispatch.ExecuteBatch(dispatch.BatchRequest{
		FragmentIDs: []int64{req.FragmentID},
		Params:      [][]table.Value{vals},
		UndoToken:   req.UndoToken,
		Fallible:    req.Fallible,
	})
	if err != nil {
		return fail(err)
	}
	return ok(res)
}

// handleExecuteCustom runs a one-off plan fragment shipped inline in the
// request rather than fetched through the plan cache. The host uses this
// for ad hoc internal queries (index rebuild verification, snapshot
// predicate evaluation) that never warrant a cached fragment id.
func (e *EngineState) handleExecuteCustom(payload []byte) (wire.Status, []byte) {
	var req struct {
		Plan      exec.PlanIR  `json:"plan"`
		Params    []batchParam `json:"params"`
		Fallible  bool         `json:"fallible"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return fail(errors.Wrap(err, "engine: decoding ExecuteCustomPlanFragment"))
	}
	vals := make([]table.Value, len(req.Params))
	for i, p := range req.Params {
		vals[i] = p.value()
	}
	ev := exec.Build(&req.Plan)
	ctx := &exec.Context{Registry: e.reg, Params: vals, Fallible: req.Fallible, Topend: e.top}
	for _, ex := range ev.Executors {
		if err := ex.Execute(ctx); err != nil {
			return fail(err)
		}
	}
	return ok(ctx.Results)
}

// --- LoadTable ----------------------------------------------------------

type loadTableRequest struct {
	TableID int64          `json:"table_id"`
	Rows    [][]batchParam `json:"rows"`
}

// handleLoadTable bulk-inserts rows through the table's ordinary Insert.
// When no undo quantum is open the rows are not registered for undo;
// when one is still open (a batch's token not yet released or rewound)
// each row is registered in it like any other insert. A failing row
// stops the load; rows inserted before it stay in the table.
func (e *EngineState) handleLoadTable(payload []byte) (wire.Status, []byte) {
	var req loadTableRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fail(errors.Wrap(err, "engine: decoding LoadTable"))
	}
	t, exists := e.tables[req.TableID]
	if !exists {
		return fail(errors.Serialization("engine: LoadTable: no table with id %d", req.TableID))
	}
	for _, row := range req.Rows {
		vals := make(table.Row, len(row))
		for i, p := range row {
			vals[i] = p.value()
		}
		if err := t.Insert(vals, true); err != nil {
			return fail(err)
		}
	}
	return ok(struct{ Loaded int }{len(req.Rows)})
}

// --- Undo token lifecycle ----------------------------------------------

func (e *EngineState) handleReleaseUndoToken(payload []byte) (wire.Status, []byte) {
	var req struct{ Token int64 `json:"token"` }
	if err := json.Unmarshal(payload, &req); err != nil {
		return fail(errors.Wrap(err, "engine: decoding ReleaseUndoToken"))
	}
	e.undoLog.Release(req.Token)
	return ok(struct{}{})
}

func (e *EngineState) handleUndoUndoToken(payload []byte) (wire.Status, []byte) {
	var req struct{ Token int64 `json:"token"` }
	if err := json.Unmarshal(payload, &req); err != nil {
		return fail(errors.Wrap(err, "engine: decoding UndoUndoToken"))
	}
	e.undoLog.Rewind(req.Token)
	return ok(struct{}{})
}

// --- Profiler / logging / misc ------------------------------------------

func (e *EngineState) handleToggleProfiler(payload []byte) (wire.Status, []byte) {
	var req struct{ Enabled bool `json:"enabled"` }
	if err := json.Unmarshal(payload, &req); err != nil {
		return fail(errors.Wrap(err, "engine: decoding ToggleProfiler"))
	}
	e.profilerEnabled = req.Enabled
	e.log.Info("profiler toggled", "enabled", req.Enabled)
	return ok(struct{}{})
}

func (e *EngineState) handleSetLogLevels(payload []byte) (wire.Status, []byte) {
	var req struct{ Level string `json:"level"` }
	if err := json.Unmarshal(payload, &req); err != nil {
		return fail(errors.Wrap(err, "engine: decoding SetLogLevels"))
	}
	logging.SetGlobalLevel(logging.ParseLevel(req.Level))
	return ok(struct{}{})
}

func (e *EngineState) handleTick(payload []byte) (wire.Status, []byte) {
	var req struct{ TimeNS int64 `json:"time_ns"` }
	_ = json.Unmarshal(payload, &req)
	return ok(struct{}{})
}

type statsResponse struct {
	PartitionID     int64            `json:"partition_id"`
	TableRowCounts  map[string]int   `json:"table_row_counts"`
	ViewCount       int              `json:"view_count"`
	PlanCacheLen    int              `json:"plan_cache_len"`
	ProfilerEnabled bool             `json:"profiler_enabled"`
	UndoCurrentToken int64           `json:"undo_current_token"`
}

func (e *EngineState) handleGetStats(payload []byte) (wire.Status, []byte) {
	counts := make(map[string]int, len(e.tables))
	for _, t := range e.tables {
		counts[t.Name()] = len(t.Scan())
	}
	return ok(statsResponse{
		PartitionID:      e.partitionID,
		TableRowCounts:   counts,
		ViewCount:        len(e.views),
		PlanCacheLen:      e.planCache.Len(),
		ProfilerEnabled:  e.profilerEnabled,
		UndoCurrentToken: e.undoLog.CurrentToken(),
	})
}

// handleQuiesce drains every streamed table's pending export buffer and
// hands each off to the host, the way a pre-shutdown or pre-snapshot
// quiesce forces all outstanding export data out before the engine
// considers itself caught up.
func (e *EngineState) handleQuiesce(payload []byte) (wire.Status, []byte) {
	for id, st := range e.streamed {
		rows := st.Drain()
		if len(rows) == 0 {
			continue
		}
		data, err := json.Marshal(rows)
		if err != nil {
			return fail(errors.Wrap(err, "engine: encoding export buffer"))
		}
		if err := e.top.HandoffExportBuffer(int32(id), data); err != nil {
			return fail(err)
		}
	}
	return ok(struct{}{})
}

// --- Copy-on-write snapshot handshake -----------------------------------

// handleActivateCopyOnWrite snapshots the current set of table ids for
// later streaming via CowSerializeMore. A second Activate before the
// prior snapshot drains discards the prior one; the host is expected to
// drain to completion before reactivating.
func (e *EngineState) handleActivateCopyOnWrite(payload []byte) (wire.Status, []byte) {
	ids := make([]int64, 0, len(e.tables))
	for id := range e.tables {
		ids = append(ids, id)
	}
	e.cow = &cowState{tableIDs: ids}
	e.log.Info("copy-on-write activated", "tables", len(ids))
	return ok(struct{ Tables int }{len(ids)})
}

type cowChunkRequest struct {
	MaxRows int `json:"max_rows"`
}

type cowChunkResponse struct {
	Rows      []table.Row `json:"rows"`
	Exhausted bool        `json:"exhausted"`
}

// handleCowSerializeMore returns up to MaxRows rows from the
// in-progress snapshot, advancing through tables in the order Activate
// captured them. Exhausted is true once every captured table's rows have
// been returned.
func (e *EngineState) handleCowSerializeMore(payload []byte) (wire.Status, []byte) {
	if e.cow == nil {
		return fail(errors.Serialization("engine: CowSerializeMore called with no active snapshot"))
	}
	var req cowChunkRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fail(errors.Wrap(err, "engine: decoding CowSerializeMore"))
	}
	if req.MaxRows <= 0 {
		req.MaxRows = 1024
	}

	for len(e.cow.pending) == 0 {
		if e.cow.nextIdx >= len(e.cow.tableIDs) {
			e.cow = nil
			return ok(cowChunkResponse{Exhausted: true})
		}
		id := e.cow.tableIDs[e.cow.nextIdx]
		e.cow.nextIdx++
		if t, ok := e.tables[id]; ok {
			e.cow.pending = append(e.cow.pending, t.Scan()...)
		}
	}

	n := req.MaxRows
	if n > len(e.cow.pending) {
		n = len(e.cow.pending)
	}
	chunk := e.cow.pending[:n]
	e.cow.pending = e.cow.pending[n:]

	return ok(cowChunkResponse{Rows: chunk, Exhausted: false})
}
