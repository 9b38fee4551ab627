package view

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flyengine/internal/catalog"
	"flyengine/internal/exec"
	"flyengine/internal/plancache"
	"flyengine/internal/registry"
	"flyengine/internal/table"
	"flyengine/internal/topend"
)

// groupedView wires up T(g, v) and V(g, COUNT(*), SUM(v), MIN(v), MAX(v))
// GROUP BY g, a minimal group-by materialized view over one source table.
func groupedView(t *testing.T) (*table.MemTable, *table.MemTable, *Handler, *topend.Mock) {
	src := table.NewMemTable("T", 1, 0, nil, nil)
	dst := table.NewMemTable("V", 2, 1, nil, nil)

	reg := registry.New()
	cat := catalog.New()
	require.NoError(t, cat.Load(1, []*catalog.TableDescriptor{
		{CatalogID: 1, Name: "T", SignatureHash: 1},
		{CatalogID: 2, Name: "V", SignatureHash: 2},
	}))
	reg.Rebuild(cat.Current(), func(id int64) (table.PersistentTable, bool) {
		switch id {
		case 1:
			return src, true
		case 2:
			return dst, true
		}
		return nil, false
	})

	top := topend.NewMock()
	top.Plans[100] = &exec.PlanIR{FragmentID: 100, Executors: []exec.ExecutorSpec{
		{
			Kind:                 exec.OpAggregate,
			Mode:                 exec.ModeGroupBy,
			SourceTableIDs:       []int64{1},
			GroupByCount:         1,
			AggregateTypes:       []catalog.AggregateType{catalog.AggregateCountStar, catalog.AggregateSum, catalog.AggregateMin, catalog.AggregateMax},
			SourceColumns:        []int{0, 1, 1, 1},
			CountStarColumnIndex: 0,
		},
	}}
	top.Plans[200] = &exec.PlanIR{FragmentID: 200, Executors: []exec.ExecutorSpec{
		{
			Kind:           exec.OpAggregate,
			Mode:           exec.ModeScalarFilter,
			SourceTableIDs: []int64{1},
			GroupByCount:   1,
			AggregateTypes: []catalog.AggregateType{catalog.AggregateMin},
			SourceColumns:  []int{1},
		},
	}}

	pc := plancache.New()
	info := &catalog.ViewHandlerInfo{
		Name:                 "V",
		DestinationTableID:   2,
		SourceTableIDs:       []int64{1},
		CreateQueryPlanID:    100,
		GroupByColumnCount:   1,
		CountStarColumnIndex: 0,
		AggregateTypes:       []catalog.AggregateType{catalog.AggregateCountStar, catalog.AggregateSum, catalog.AggregateMin, catalog.AggregateMax},
		MinMaxFallbackPlanIDs: map[int]int64{
			2: 200, // MIN is AggregateTypes[2]
		},
	}

	h, err := New(info, dst, []table.PersistentTable{src}, reg, pc, top)
	require.NoError(t, err)
	require.NoError(t, h.Install())

	return src, dst, h, top
}

func findRow(rows []table.Row, groupVal int64) table.Row {
	for _, r := range rows {
		if r[0].I == groupVal {
			return r
		}
	}
	return nil
}

func TestViewInsertMaintenance(t *testing.T) {
	src, dst, _, _ := groupedView(t)

	require.NoError(t, src.Insert(table.Row{table.Int(1), table.Int(5)}, true))
	require.NoError(t, src.Insert(table.Row{table.Int(1), table.Int(7)}, true))
	require.NoError(t, src.Insert(table.Row{table.Int(2), table.Int(3)}, true))

	rows := dst.Scan()
	require.Len(t, rows, 2)

	g1 := findRow(rows, 1)
	require.EqualValues(t, 2, g1[1].I)  // COUNT(*)
	require.EqualValues(t, 12, g1[2].I) // SUM
	require.EqualValues(t, 5, g1[3].I)  // MIN
	require.EqualValues(t, 7, g1[4].I)  // MAX

	g2 := findRow(rows, 2)
	require.EqualValues(t, 1, g2[1].I)
	require.EqualValues(t, 3, g2[2].I)
	require.EqualValues(t, 3, g2[3].I)
	require.EqualValues(t, 3, g2[4].I)
}

func TestViewDeleteTriggersMinFallback(t *testing.T) {
	src, dst, _, _ := groupedView(t)

	require.NoError(t, src.Insert(table.Row{table.Int(1), table.Int(5)}, true))
	require.NoError(t, src.Insert(table.Row{table.Int(1), table.Int(7)}, true))
	require.NoError(t, src.Insert(table.Row{table.Int(2), table.Int(3)}, true))

	require.NoError(t, src.Delete(table.Row{table.Int(1), table.Int(5)}))

	rows := dst.Scan()
	g1 := findRow(rows, 1)
	require.EqualValues(t, 1, g1[1].I)
	require.EqualValues(t, 7, g1[2].I)
	require.EqualValues(t, 7, g1[3].I) // MIN recomputed via fallback, not stale 5
	require.EqualValues(t, 7, g1[4].I)

	g2 := findRow(rows, 2)
	require.EqualValues(t, 1, g2[1].I)
	require.EqualValues(t, 3, g2[2].I)
}

func TestViewWithoutGroupByAlwaysHasExactlyOneRow(t *testing.T) {
	src := table.NewMemTable("T", 1, 0, nil, nil)
	dst := table.NewMemTable("V", 2, 1, nil, nil)

	reg := registry.New()
	cat := catalog.New()
	require.NoError(t, cat.Load(1, []*catalog.TableDescriptor{
		{CatalogID: 1, Name: "T", SignatureHash: 1},
		{CatalogID: 2, Name: "V", SignatureHash: 2},
	}))
	reg.Rebuild(cat.Current(), func(id int64) (table.PersistentTable, bool) {
		switch id {
		case 1:
			return src, true
		case 2:
			return dst, true
		}
		return nil, false
	})

	top := topend.NewMock()
	top.Plans[100] = &exec.PlanIR{FragmentID: 100, Executors: []exec.ExecutorSpec{
		{
			Kind:                 exec.OpAggregate,
			Mode:                 exec.ModeGroupBy,
			SourceTableIDs:       []int64{1},
			GroupByCount:         0,
			AggregateTypes:       []catalog.AggregateType{catalog.AggregateCountStar, catalog.AggregateSum},
			SourceColumns:        []int{0, 1},
			CountStarColumnIndex: 0,
		},
	}}

	pc := plancache.New()
	info := &catalog.ViewHandlerInfo{
		Name:                 "V",
		DestinationTableID:   2,
		SourceTableIDs:       []int64{1},
		CreateQueryPlanID:    100,
		GroupByColumnCount:   0,
		CountStarColumnIndex: 0,
		AggregateTypes:       []catalog.AggregateType{catalog.AggregateCountStar, catalog.AggregateSum},
	}

	h, err := New(info, dst, []table.PersistentTable{src}, reg, pc, top)
	require.NoError(t, err)
	require.NoError(t, h.Install())

	rows := dst.Scan()
	require.Len(t, rows, 1)
	require.EqualValues(t, 0, rows[0][0].I)
	require.True(t, rows[0][1].Null)

	require.NoError(t, src.Insert(table.Row{table.Int(1), table.Int(5)}, true))
	require.NoError(t, src.Delete(table.Row{table.Int(1), table.Int(5)}))

	rows = dst.Scan()
	require.Len(t, rows, 1)
	require.EqualValues(t, 0, rows[0][0].I)
	require.True(t, rows[0][1].Null)
}

func TestInstallRejectsUnsupportedAggregate(t *testing.T) {
	dst := table.NewMemTable("V", 2, 1, nil, nil)
	src := table.NewMemTable("T", 1, 0, nil, nil)
	info := &catalog.ViewHandlerInfo{
		Name:                 "V",
		CountStarColumnIndex: 0,
		AggregateTypes:       []catalog.AggregateType{catalog.AggregateType(99)},
	}
	_, err := New(info, dst, []table.PersistentTable{src}, registry.New(), plancache.New(), topend.NewMock())
	require.Error(t, err)
}
