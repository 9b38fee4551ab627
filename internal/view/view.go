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
Package view implements incremental materialized-view maintenance: the
insert-delta merge path, the delete-delta merge path (with its min/max
fallback recomputation), and the catch-up pass a handler runs when it is
first installed.

This is grounded directly on
_examples/original_source/src/ee/storage/MaterializedViewHandler.cpp:
mergeTupleForInsert, mergeTupleForDelete, fallbackMinMaxColumn,
findExistingTuple, and handleTupleInsert/handleTupleDelete's delta-mode
scoping. The registration/notification shape (a handler attached to each
of N source tables, unregistered on teardown) follows
flydb/internal/sql.TriggerManager's per-table handler-set registry; the
aggregate arithmetic follows flydb/internal/sql.Executor's
computeAggregates/computeGroupedAggregates SUM/COUNT/MIN/MAX switch.
*/
package view

import (
	"flyengine/internal/catalog"
	"flyengine/internal/errors"
	"flyengine/internal/exec"
	"flyengine/internal/metrics"
	"flyengine/internal/plancache"
	"flyengine/internal/registry"
	"flyengine/internal/table"
	"flyengine/internal/topend"
)

// Handler maintains one derived (destination) table from one or more
// source tables, per a catalog.ViewHandlerInfo. It implements
// table.ViewHandler so source tables can notify it directly.
type Handler struct {
	Info        *catalog.ViewHandlerInfo
	Destination table.PersistentTable
	Sources     []table.PersistentTable

	registry  *registry.Registry
	planCache *plancache.Cache
	top       topend.Topend
}

// New validates info's aggregate shape and constructs a handler. It does
// not attach or catch up; call Install for that.
func New(info *catalog.ViewHandlerInfo, destination table.PersistentTable, sources []table.PersistentTable, reg *registry.Registry, pc *plancache.Cache, top topend.Topend) (*Handler, error) {
	if err := validateAggregates(info); err != nil {
		return nil, err
	}
	return &Handler{Info: info, Destination: destination, Sources: sources, registry: reg, planCache: pc, top: top}, nil
}

func validateAggregates(info *catalog.ViewHandlerInfo) error {
	foundCountStar := false
	for i, a := range info.AggregateTypes {
		switch a {
		case catalog.AggregateSum, catalog.AggregateCount, catalog.AggregateCountStar, catalog.AggregateMin, catalog.AggregateMax:
		default:
			return errors.UnsupportedAggregate("view %q: aggregate type %v at column %d is not one of SUM/COUNT/COUNT_STAR/MIN/MAX", info.Name, a, i)
		}
		if a == catalog.AggregateCountStar {
			if i != info.CountStarColumnIndex {
				return errors.UnsupportedAggregate("view %q: COUNT(*) column at %d does not match declared count-star index %d", info.Name, i, info.CountStarColumnIndex)
			}
			foundCountStar = true
		}
	}
	if !foundCountStar {
		return errors.UnsupportedAggregate("view %q: missing required COUNT(*) column", info.Name)
	}
	return nil
}

// Install attaches the handler to every source table and runs catch-up:
// the create-query is executed once against the sources' current
// (non-delta) state and every resulting row is installed into the
// destination, even when the sources are empty.
func (h *Handler) Install() error {
	for _, s := range h.Sources {
		s.AttachViewHandler(h)
	}
	return h.CatchUp()
}

// CatchUp runs the create-query once against the sources' current state
// and installs every resulting row into the destination. Exported
// separately from Install so a caller that attaches a wrapping
// table.ViewHandler (rather than h itself) to the sources can still
// drive the same catch-up pass.
func (h *Handler) CatchUp() error {
	rows, err := h.runCreateQuery(nil, true)
	if err != nil {
		return err
	}
	for _, d := range rows {
		if err := h.upsertForInsert(d, true); err != nil {
			return err
		}
	}
	return nil
}

// Uninstall detaches the handler from every source table.
func (h *Handler) Uninstall() {
	for _, s := range h.Sources {
		s.DetachViewHandler(h)
	}
}

func (h *Handler) runCreateQuery(deltaRow table.Row, fallible bool) ([]table.Row, error) {
	release := h.planCache.Pin(h.Info.CreateQueryPlanID)
	defer release()

	ev, err := h.planCache.GetOrLoad(h.Info.CreateQueryPlanID, h.top)
	if err != nil {
		return nil, err
	}
	ctx := &exec.Context{Registry: h.registry, Fallible: fallible, Topend: h.top}
	if deltaRow != nil {
		if err := h.enterDelta(deltaRow); err != nil {
			return nil, err
		}
		defer h.exitDelta()
	}
	for _, e := range ev.Executors {
		if err := e.Execute(ctx); err != nil {
			return nil, err
		}
	}
	if len(ctx.Results) == 0 {
		return nil, nil
	}
	return ctx.Results[len(ctx.Results)-1].Rows, nil
}

// enterDelta puts every source table into delta mode with row as its
// sole visible tuple. A handler's create-query may join more than one
// source table, but a single insert/delete only ever mutates one of
// them; restricting every source to the same single row is sound because
// join execution over the others' full, non-delta contents is out of
// scope here (the engine consumes pre-compiled plans; any other-source
// join narrowing is baked into the plan itself).
func (h *Handler) enterDelta(row table.Row) error {
	for _, s := range h.Sources {
		s.EnterDeltaMode([]table.Row{row})
	}
	return nil
}

func (h *Handler) exitDelta() {
	for _, s := range h.Sources {
		s.ExitDeltaMode()
	}
}

// HandleTupleInsert runs the create-query in delta mode over the single
// just-inserted row, then merges each resulting delta row into the
// destination table.
func (h *Handler) HandleTupleInsert(source table.PersistentTable, row table.Row, fallible bool) error {
	deltaRows, err := h.runCreateQuery(row, fallible)
	if err != nil {
		return err
	}
	for _, d := range deltaRows {
		if err := h.upsertForInsert(d, fallible); err != nil {
			return err
		}
		metrics.ViewDeltasApplied.WithLabelValues("insert").Inc()
	}
	return nil
}

// upsertForInsert locates the existing destination row by group-by key
// and either inserts d directly (no existing row) or merges d's
// aggregate contribution into it.
func (h *Handler) upsertForInsert(d table.Row, fallible bool) error {
	groupKey := table.Row(d[:h.Info.GroupByColumnCount])
	existing, found := h.Destination.IndexProbe(groupKey)
	if !found {
		return h.Destination.Insert(d, fallible)
	}
	return h.mergeForInsert(existing, d)
}

// mergeForInsert implements MaterializedViewHandler::mergeTupleForInsert:
// group-by columns come from existing (never from the delta row, to
// avoid re-deriving a key that cannot change); each aggregate column
// null-coalesces against its counterpart before applying its combining
// rule.
func (h *Handler) mergeForInsert(existing, d table.Row) error {
	newRow := make(table.Row, len(existing))
	copy(newRow[:h.Info.GroupByColumnCount], existing[:h.Info.GroupByColumnCount])

	for i, a := range h.Info.AggregateTypes {
		pos := h.Info.GroupByColumnCount + i
		ev, dv := existing[pos], d[pos]

		switch {
		case dv.Null:
			newRow[pos] = ev
		case ev.Null:
			newRow[pos] = dv
		default:
			switch a {
			case catalog.AggregateSum, catalog.AggregateCount, catalog.AggregateCountStar:
				newRow[pos] = table.Int(ev.I + dv.I)
			case catalog.AggregateMin:
				if ev.Compare(dv) <= 0 {
					newRow[pos] = ev
				} else {
					newRow[pos] = dv
				}
			case catalog.AggregateMax:
				if ev.Compare(dv) >= 0 {
					newRow[pos] = ev
				} else {
					newRow[pos] = dv
				}
			}
		}
	}
	return h.Destination.UpdateRow(existing, newRow)
}

// HandleTupleDelete runs the create-query in delta mode over the
// just-deleted row to get the delta to subtract, exits delta mode (the
// min/max fallback below issues its own queries and must see the
// post-delete, non-delta state), then merges each delta row out of the
// destination.
func (h *Handler) HandleTupleDelete(source table.PersistentTable, row table.Row) error {
	deltaRows, err := h.runCreateQuery(row, false)
	if err != nil {
		return err
	}
	for _, d := range deltaRows {
		if err := h.mergeForDelete(d); err != nil {
			return err
		}
		metrics.ViewDeltasApplied.WithLabelValues("delete").Inc()
	}
	return nil
}

// mergeForDelete implements MaterializedViewHandler::mergeTupleForDelete:
// subtract the delta's contribution from each aggregate column, delete
// the destination row outright when its group empties out, and fall
// back to a recomputation query for any MIN/MAX column the deleted row
// might have held the extremum for.
func (h *Handler) mergeForDelete(d table.Row) error {
	groupKey := table.Row(d[:h.Info.GroupByColumnCount])
	existing, found := h.Destination.IndexProbe(groupKey)
	if !found {
		return errors.ViewDesync("view %q: no destination row for group key during delete", h.Info.Name)
	}

	countPos := h.Info.GroupByColumnCount + h.Info.CountStarColumnIndex
	newCount := existing[countPos].I - d[countPos].I

	if newCount == 0 && h.Info.GroupByColumnCount > 0 {
		return h.Destination.Delete(existing)
	}

	newRow := make(table.Row, len(existing))
	copy(newRow[:h.Info.GroupByColumnCount], existing[:h.Info.GroupByColumnCount])

	if newCount == 0 {
		// No-group-by view: the single row survives but resets to its
		// empty state instead of being deleted.
		for i, a := range h.Info.AggregateTypes {
			pos := h.Info.GroupByColumnCount + i
			if a == catalog.AggregateCount || a == catalog.AggregateCountStar {
				newRow[pos] = table.Int(0)
			} else {
				newRow[pos] = table.Null()
			}
		}
		return h.Destination.UpdateRow(existing, newRow)
	}

	for i, a := range h.Info.AggregateTypes {
		pos := h.Info.GroupByColumnCount + i
		ev, dv := existing[pos], d[pos]

		switch a {
		case catalog.AggregateSum, catalog.AggregateCount, catalog.AggregateCountStar:
			if dv.Null {
				newRow[pos] = ev
			} else {
				newRow[pos] = table.Int(ev.I - dv.I)
			}
		case catalog.AggregateMin, catalog.AggregateMax:
			if !ev.Null && !dv.Null && ev.Compare(dv) == 0 {
				metrics.ViewMinMaxFallbacks.Inc()
				v, err := h.fallbackMinMax(i, groupKey, ev)
				if err != nil {
					return err
				}
				newRow[pos] = v
			} else {
				newRow[pos] = ev
			}
		}
	}
	return h.Destination.UpdateRow(existing, newRow)
}

// fallbackMinMax runs the pre-compiled min/max recomputation plan for
// aggregate aggIndex (its position in AggregateTypes), filtered to
// groupKey, over the sources' current (non-delta) state. The query runs
// in its own exec.Context with its own parameter list, so the caller's
// parameters are never touched.
func (h *Handler) fallbackMinMax(aggIndex int, groupKey table.Row, currentExtremum table.Value) (table.Value, error) {
	planID, ok := h.Info.MinMaxFallbackPlanIDs[aggIndex]
	if !ok {
		return table.Null(), errors.ViewDesync("view %q: no fallback plan registered for aggregate column %d", h.Info.Name, aggIndex)
	}

	release := h.planCache.Pin(planID)
	defer release()

	ev, err := h.planCache.GetOrLoad(planID, h.top)
	if err != nil {
		return table.Null(), err
	}

	params := append(append(table.Row{}, groupKey...), currentExtremum)
	ctx := &exec.Context{Registry: h.registry, Params: params, Topend: h.top}
	for _, e := range ev.Executors {
		if err := e.Execute(ctx); err != nil {
			return table.Null(), err
		}
	}
	if len(ctx.Results) == 0 || len(ctx.Results[len(ctx.Results)-1].Rows) == 0 {
		return table.Null(), nil
	}
	return ctx.Results[len(ctx.Results)-1].Rows[0][0], nil
}
