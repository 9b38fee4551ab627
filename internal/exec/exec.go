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

// Package exec builds and runs executor vectors: the ordered chain of
// executors a compiled plan fragment lowers into. Plan compilation itself
// happens upstream of this engine. A PlanIR here is the pre-compiled shape
// the coordinator hands the engine over Topend.FetchPlan, and an
// ExecutorVector is what plancache turns that into before caching it by
// fragment id.
//
// The aggregate arithmetic in AggregateExecutor mirrors
// flydb/internal/sql.Executor's computeAggregates/computeGroupedAggregates
// switch over SUM/COUNT/AVG/MIN/MAX, narrowed to the five kinds
// catalog.AggregateType names and generalized to run as a standalone
// executor rather than inline in a SELECT path, since it doubles as both
// a materialized view's create-query and its min/max fallback query.
package exec

import (
	"flyengine/internal/catalog"
	"flyengine/internal/codec"
	"flyengine/internal/errors"
	"flyengine/internal/registry"
	"flyengine/internal/table"
)

// OpCode identifies one executor kind in a compiled plan fragment.
type OpCode int

const (
	OpInsert OpCode = iota
	OpDelete
	OpScan
	OpAggregate
	// OpRetrieveDependency pulls a previously-produced result set the
	// host is holding for this fragment, addressed by dependency id.
	OpRetrieveDependency
	// OpUserFunction invokes a host-resident scalar function with the
	// fragment's bound parameters as its argument row.
	OpUserFunction
	// OpSend marks the trailing executor VoltDB-style plans carry for
	// cross-partition result marshalling. The engine has no concept of
	// "send to another partition"; plancache strips it on load.
	OpSend
)

// AggregateMode selects which of the two shapes AggregateExecutor runs:
// the view create-query (grouped, over every visible source row) or the
// min/max fallback query (a single filtered scalar).
type AggregateMode int

const (
	ModeGroupBy AggregateMode = iota
	ModeScalarFilter
)

// ExecutorSpec is one step of a PlanIR, as the coordinator ships it.
type ExecutorSpec struct {
	Kind OpCode

	TargetTableID  int64
	SourceTableIDs []int64

	// Aggregate-specific fields, meaningful when Kind == OpAggregate.
	Mode                 AggregateMode
	GroupByCount         int
	AggregateTypes       []catalog.AggregateType
	SourceColumns        []int // per aggregate, which source row column it reads (ignored for COUNT_STAR)
	CountStarColumnIndex int

	// ColumnCount is the row width OpInsert builds from Params.
	ColumnCount int

	// DependencyID and FunctionID are meaningful when Kind is
	// OpRetrieveDependency or OpUserFunction, respectively.
	DependencyID int32
	FunctionID   int64
}

// PlanIR is the pre-compiled fragment the coordinator returns from
// fetch_plan.
type PlanIR struct {
	FragmentID int64
	Executors  []ExecutorSpec
}

// Dependency is one result set an executor either produces (for the
// caller to push into the result buffer) or consumes (fetched from the
// host via RetrieveDependency).
type Dependency struct {
	ID   int32
	Rows []table.Row
}

// HostCallback is the subset of topend.Topend an executor calls through
// mid-fragment: retrieving a dependency the host is holding, or invoking
// a user-defined function. Declared locally rather than imported from
// internal/topend, since topend imports exec for PlanIR and an import
// back here would cycle; any topend.Topend value satisfies this
// interface already.
type HostCallback interface {
	RetrieveDependency(depID int32) ([]byte, bool, error)
	CallUserDefinedFunction(fnID int64, args []byte) ([]byte, error)
}

// Context carries everything an Executor needs for one invocation:
// the bound parameters for this fragment, the table registry to resolve
// ids against, the host callback channel, and the accumulated output
// dependencies.
type Context struct {
	Registry *registry.Registry
	Params   []table.Value
	Fallible bool
	Topend   HostCallback

	Results []Dependency
}

func (c *Context) resolve(id int64) (table.PersistentTable, error) {
	t, ok := c.Registry.ByID(id)
	if !ok {
		return nil, errors.Serialization("exec: no table with catalog id %d", id)
	}
	return t, nil
}

// Executor is one step of an ExecutorVector.
type Executor interface {
	Execute(ctx *Context) error
}

// ExecutorVector is the runtime, cached form of a plan fragment: an
// ordered executor chain plus the fragment id it was built from.
type ExecutorVector struct {
	FragmentID int64
	Executors  []Executor
}

// Build lowers a PlanIR into an ExecutorVector, dropping the trailing
// OpSend executor if present.
func Build(ir *PlanIR) *ExecutorVector {
	specs := ir.Executors
	if len(specs) > 0 && specs[len(specs)-1].Kind == OpSend {
		specs = specs[:len(specs)-1]
	}

	ev := &ExecutorVector{FragmentID: ir.FragmentID}
	for _, s := range specs {
		ev.Executors = append(ev.Executors, buildOne(s))
	}
	return ev
}

func buildOne(s ExecutorSpec) Executor {
	switch s.Kind {
	case OpInsert:
		return &InsertExecutor{TargetTableID: s.TargetTableID, ColumnCount: s.ColumnCount}
	case OpDelete:
		return &DeleteExecutor{TargetTableID: s.TargetTableID, ColumnCount: s.ColumnCount}
	case OpScan:
		return &ScanExecutor{SourceTableID: s.TargetTableID}
	case OpAggregate:
		return &AggregateExecutor{
			Mode:                 s.Mode,
			SourceTableIDs:       s.SourceTableIDs,
			GroupByCount:         s.GroupByCount,
			AggregateTypes:       s.AggregateTypes,
			SourceColumns:        s.SourceColumns,
			CountStarColumnIndex: s.CountStarColumnIndex,
		}
	case OpRetrieveDependency:
		return &DependencyExecutor{DependencyID: s.DependencyID}
	case OpUserFunction:
		return &UserFunctionExecutor{FunctionID: s.FunctionID}
	default:
		return noOpExecutor{}
	}
}

type noOpExecutor struct{}

func (noOpExecutor) Execute(*Context) error { return nil }

// InsertExecutor inserts one row built from the fragment's bound
// parameters into the target table.
type InsertExecutor struct {
	TargetTableID int64
	ColumnCount   int
}

func (e *InsertExecutor) Execute(ctx *Context) error {
	t, err := ctx.resolve(e.TargetTableID)
	if err != nil {
		return err
	}
	if len(ctx.Params) < e.ColumnCount {
		return errors.Serialization("exec: insert expects %d params, got %d", e.ColumnCount, len(ctx.Params))
	}
	row := table.Row(ctx.Params[:e.ColumnCount])
	return t.Insert(row, ctx.Fallible)
}

// DeleteExecutor deletes the row matching the fragment's bound
// parameters from the target table.
type DeleteExecutor struct {
	TargetTableID int64
	ColumnCount   int
}

func (e *DeleteExecutor) Execute(ctx *Context) error {
	t, err := ctx.resolve(e.TargetTableID)
	if err != nil {
		return err
	}
	row := table.Row(ctx.Params[:e.ColumnCount])
	return t.Delete(row)
}

// ScanExecutor pushes every currently visible row of one table (respects
// delta mode) as a result dependency.
type ScanExecutor struct {
	SourceTableID int64
}

func (e *ScanExecutor) Execute(ctx *Context) error {
	t, err := ctx.resolve(e.SourceTableID)
	if err != nil {
		return err
	}
	ctx.Results = append(ctx.Results, Dependency{Rows: t.Scan()})
	return nil
}

// AggregateExecutor is the view create-query / min/max-fallback engine.
// In ModeGroupBy it scans every source table's currently visible rows,
// groups by the leading GroupByCount columns, and emits one row per group
// with the group-by columns followed by each aggregate's result. This is
// the shape a materialized view's destination table expects. In
// ModeScalarFilter it filters rows to the ones matching ctx.Params'
// leading GroupByCount values and emits a single scalar aggregate row,
// the shape the min/max fallback query needs.
type AggregateExecutor struct {
	Mode                 AggregateMode
	SourceTableIDs       []int64
	GroupByCount         int
	AggregateTypes       []catalog.AggregateType
	SourceColumns        []int
	CountStarColumnIndex int
}

func (e *AggregateExecutor) Execute(ctx *Context) error {
	var rows []table.Row
	for _, id := range e.SourceTableIDs {
		t, err := ctx.resolve(id)
		if err != nil {
			return err
		}
		rows = append(rows, t.Scan()...)
	}

	if e.Mode == ModeScalarFilter {
		return e.executeScalarFilter(ctx, rows)
	}
	return e.executeGroupBy(ctx, rows)
}

func (e *AggregateExecutor) executeGroupBy(ctx *Context, rows []table.Row) error {
	type group struct {
		key  table.Row
		rows []table.Row
	}
	var groups []*group

	if e.GroupByCount == 0 {
		// An aggregate with no GROUP BY always returns exactly one row,
		// even over zero source rows.
		ctx.Results = append(ctx.Results, Dependency{Rows: []table.Row{e.aggregateGroup(nil, rows)}})
		return nil
	}

	for _, r := range rows {
		key := table.Row(r[:e.GroupByCount])
		var g *group
		for _, cand := range groups {
			if rowKeyEquals(cand.key, key) {
				g = cand
				break
			}
		}
		if g == nil {
			g = &group{key: cloneKey(key)}
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
	}

	var out []table.Row
	for _, g := range groups {
		out = append(out, e.aggregateGroup(g.key, g.rows))
	}
	ctx.Results = append(ctx.Results, Dependency{Rows: out})
	return nil
}

func (e *AggregateExecutor) executeScalarFilter(ctx *Context, rows []table.Row) error {
	key := table.Row(ctx.Params[:e.GroupByCount])
	var matched []table.Row
	for _, r := range rows {
		if rowKeyEquals(table.Row(r[:e.GroupByCount]), key) {
			matched = append(matched, r)
		}
	}

	result := e.aggregateOneColumn(e.AggregateTypes[0], e.SourceColumns[0], matched)
	ctx.Results = append(ctx.Results, Dependency{Rows: []table.Row{{result}}})
	return nil
}

func (e *AggregateExecutor) aggregateGroup(key table.Row, rows []table.Row) table.Row {
	out := make(table.Row, 0, e.GroupByCount+len(e.AggregateTypes))
	out = append(out, key...)
	for i, a := range e.AggregateTypes {
		if i == e.CountStarColumnIndex {
			out = append(out, table.Int(int64(len(rows))))
			continue
		}
		out = append(out, e.aggregateOneColumn(a, e.SourceColumns[i], rows))
	}
	return out
}

func (e *AggregateExecutor) aggregateOneColumn(a catalog.AggregateType, col int, rows []table.Row) table.Value {
	if a == catalog.AggregateCountStar {
		return table.Int(int64(len(rows)))
	}

	result := table.Null()
	count := int64(0)
	for _, r := range rows {
		v := r[col]
		switch a {
		case catalog.AggregateSum:
			if v.Null {
				continue
			}
			if result.Null {
				result = v
			} else {
				result = table.Int(result.I + v.I)
			}
		case catalog.AggregateCount:
			if !v.Null {
				count++
			}
		case catalog.AggregateMin:
			if v.Null {
				continue
			}
			if result.Null || v.Compare(result) < 0 {
				result = v
			}
		case catalog.AggregateMax:
			if v.Null {
				continue
			}
			if result.Null || v.Compare(result) > 0 {
				result = v
			}
		}
	}
	if a == catalog.AggregateCount {
		return table.Int(count)
	}
	return result
}

// DependencyExecutor fetches a result set the host is holding for this
// fragment and pushes it as a result dependency, the path a plan takes
// when it consumes input produced elsewhere (e.g. another partition's
// send executor) rather than scanning a local table.
type DependencyExecutor struct {
	DependencyID int32
}

func (e *DependencyExecutor) Execute(ctx *Context) error {
	if ctx.Topend == nil {
		return errors.Serialization("exec: dependency %d requested with no host callback bound", e.DependencyID)
	}
	data, found, err := ctx.Topend.RetrieveDependency(e.DependencyID)
	if err != nil {
		return err
	}
	if !found {
		return errors.Serialization("exec: dependency %d not found", e.DependencyID)
	}
	row, err := decodeValueRow(data)
	if err != nil {
		return err
	}
	ctx.Results = append(ctx.Results, Dependency{ID: e.DependencyID, Rows: []table.Row{row}})
	return nil
}

// UserFunctionExecutor invokes a host-resident scalar function, passing
// the fragment's bound parameters as its argument row and decoding the
// reply's leading status code. A nonzero code fails the fragment with
// errors.UserFunctionError; arguments are considered drained from the
// UDF buffer either way once CallUserDefinedFunction returns.
type UserFunctionExecutor struct {
	FunctionID int64
}

func (e *UserFunctionExecutor) Execute(ctx *Context) error {
	if ctx.Topend == nil {
		return errors.Serialization("exec: user function %d called with no host callback bound", e.FunctionID)
	}
	reply, err := ctx.Topend.CallUserDefinedFunction(e.FunctionID, encodeValueRow(table.Row(ctx.Params)))
	if err != nil {
		return err
	}
	code, row, err := decodeUDFReply(reply)
	if err != nil {
		return err
	}
	if code != 0 {
		return errors.UserFunctionError(e.FunctionID, code)
	}
	ctx.Results = append(ctx.Results, Dependency{Rows: []table.Row{row}})
	return nil
}

// encodeValueRow and decodeValueRow frame a table.Row as [count int32]
// then, per value, [null byte][i64], the fixed-width shape codec.Buffer
// is built for. decodeUDFReply adds the leading status-code int32 the
// UDF call's reply carries ahead of its result row.
func encodeValueRow(row table.Row) []byte {
	buf := make([]byte, 4+9*len(row))
	b := codec.NewBuffer(buf)
	_ = b.WriteI32(int32(len(row)))
	for _, v := range row {
		if v.Null {
			_ = b.WriteBytes([]byte{1})
			_ = b.WriteI64(0)
		} else {
			_ = b.WriteBytes([]byte{0})
			_ = b.WriteI64(v.I)
		}
	}
	return buf
}

func decodeValueRowFrom(b *codec.Buffer) (table.Row, error) {
	count, err := b.ReadI32()
	if err != nil {
		return nil, err
	}
	row := make(table.Row, 0, count)
	for i := int32(0); i < count; i++ {
		flag, err := b.ReadBytes(1)
		if err != nil {
			return nil, err
		}
		v, err := b.ReadI64()
		if err != nil {
			return nil, err
		}
		if flag[0] == 1 {
			row = append(row, table.Null())
		} else {
			row = append(row, table.Int(v))
		}
	}
	return row, nil
}

func decodeValueRow(data []byte) (table.Row, error) {
	return decodeValueRowFrom(codec.NewBuffer(data))
}

func decodeUDFReply(data []byte) (int32, table.Row, error) {
	b := codec.NewBuffer(data)
	code, err := b.ReadI32()
	if err != nil {
		return 0, nil, err
	}
	row, err := decodeValueRowFrom(b)
	return code, row, err
}

func rowKeyEquals(a, b table.Row) bool {
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

func cloneKey(r table.Row) table.Row {
	out := make(table.Row, len(r))
	copy(out, r)
	return out
}
