package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flyengine/internal/catalog"
	"flyengine/internal/exec"
	"flyengine/internal/plancache"
	"flyengine/internal/registry"
	"flyengine/internal/table"
	"flyengine/internal/topend"
	"flyengine/internal/undo"
)

func newDispatcherWithTable(t *testing.T, pkColumns []int) (*Dispatcher, *table.MemTable, *undo.Log) {
	log := undo.NewLog()
	tbl := table.NewMemTable("T", 1, 0, pkColumns, log)

	reg := registry.New()
	cat := catalog.New()
	require.NoError(t, cat.Load(1, []*catalog.TableDescriptor{{CatalogID: 1, Name: "T", SignatureHash: 1}}))
	reg.Rebuild(cat.Current(), func(id int64) (table.PersistentTable, bool) {
		if id == 1 {
			return tbl, true
		}
		return nil, false
	})

	top := topend.NewMock()
	top.Plans[1] = &exec.PlanIR{FragmentID: 1, Executors: []exec.ExecutorSpec{{Kind: exec.OpInsert, TargetTableID: 1, ColumnCount: 2}}}

	pc := plancache.New()
	return New(log, pc, reg, top), tbl, log
}

func TestExecuteBatchInsertAndRewind(t *testing.T) {
	d, tbl, log := newDispatcherWithTable(t, []int{0})

	res, err := d.ExecuteBatch(BatchRequest{
		FragmentIDs: []int64{1, 1},
		Params: [][]table.Value{
			{table.Int(1), table.Int(10)},
			{table.Int(2), table.Int(20)},
		},
		UndoToken: 100,
		Fallible:  true,
	})
	require.NoError(t, err)
	require.Nil(t, res.Exception)
	require.Len(t, tbl.Scan(), 2)

	log.Rewind(100)
	require.Len(t, tbl.Scan(), 0)
}

func TestExecuteBatchFailurePartials(t *testing.T) {
	d, tbl, log := newDispatcherWithTable(t, []int{0})

	require.NoError(t, tbl.Insert(table.Row{table.Int(2), table.Int(99)}, true))

	res, err := d.ExecuteBatch(BatchRequest{
		FragmentIDs: []int64{1, 1, 1},
		Params: [][]table.Value{
			{table.Int(1), table.Int(10)},
			{table.Int(2), table.Int(20)}, // duplicate key -> ConstraintViolation
			{table.Int(3), table.Int(30)},
		},
		UndoToken: 5,
		Fallible:  false,
	})

	require.Error(t, err)
	require.NotNil(t, res.Exception)
	require.Equal(t, 1, res.Exception.FragmentIndex)
	require.Len(t, res.Stats, 2)
	require.True(t, res.Stats[0].Succeeded)
	require.False(t, res.Stats[1].Succeeded)
	require.Empty(t, res.Results)

	// Non-fallible constraint violation rewinds: the successful first
	// fragment's insert is undone too.
	require.Len(t, tbl.Scan(), 1)
	_ = log
}

func TestExecuteBatchFallibleConstraintViolationDoesNotAutoRewind(t *testing.T) {
	d, tbl, _ := newDispatcherWithTable(t, []int{0})
	require.NoError(t, tbl.Insert(table.Row{table.Int(1), table.Int(99)}, true))

	res, err := d.ExecuteBatch(BatchRequest{
		FragmentIDs: []int64{1},
		Params:      [][]table.Value{{table.Int(1), table.Int(10)}},
		UndoToken:   1,
		Fallible:    true,
	})

	require.Error(t, err)
	require.NotNil(t, res.Exception)
	// Row count unaffected by the failed insert and no auto-rewind fired.
	require.Len(t, tbl.Scan(), 1)
}

func TestExecuteBatchRejectsConcurrentCalls(t *testing.T) {
	d, _, _ := newDispatcherWithTable(t, []int{0})
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.ExecuteBatch(BatchRequest{FragmentIDs: []int64{1}})
	require.ErrorIs(t, err, ErrConcurrentBatch)
}
