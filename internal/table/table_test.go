package table

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flyengine/internal/undo"
)

func TestInsertRejectsDuplicatePrimaryKey(t *testing.T) {
	tbl := NewMemTable("T", 1, 0, []int{0}, nil)
	require.NoError(t, tbl.Insert(Row{Int(1), Int(10)}, true))
	err := tbl.Insert(Row{Int(1), Int(20)}, true)
	require.Error(t, err)
}

func TestInsertAndRewindRemovesRow(t *testing.T) {
	log := undo.NewLog()
	tbl := NewMemTable("T", 1, 0, []int{0}, log)

	log.SetToken(100)
	require.NoError(t, tbl.Insert(Row{Int(1), Int(10)}, true))
	require.NoError(t, tbl.Insert(Row{Int(2), Int(20)}, true))
	require.Len(t, tbl.Scan(), 2)

	log.Rewind(100)
	require.Len(t, tbl.Scan(), 0)
}

func TestDeleteAndRewindRestoresRow(t *testing.T) {
	log := undo.NewLog()
	tbl := NewMemTable("T", 1, 0, []int{0}, log)
	require.NoError(t, tbl.Insert(Row{Int(1), Int(10)}, true))

	log.SetToken(1)
	require.NoError(t, tbl.Delete(Row{Int(1)}))
	require.Len(t, tbl.Scan(), 0)

	log.Rewind(1)
	require.Len(t, tbl.Scan(), 1)
	require.Equal(t, int64(10), tbl.Scan()[0][1].I)
}

func TestIndexProbeNoGroupByReturnsSingleRow(t *testing.T) {
	tbl := NewMemTable("V", 1, 0, nil, nil)
	require.NoError(t, tbl.Insert(Row{Int(0), Null()}, true))

	row, ok := tbl.IndexProbe(nil)
	require.True(t, ok)
	require.Equal(t, int64(0), row[0].I)
}

func TestDeltaModeRestrictsScan(t *testing.T) {
	tbl := NewMemTable("T", 1, 0, []int{0}, nil)
	require.NoError(t, tbl.Insert(Row{Int(1), Int(10)}, true))
	require.NoError(t, tbl.Insert(Row{Int(2), Int(20)}, true))

	tbl.EnterDeltaMode([]Row{{Int(2), Int(20)}})
	require.Len(t, tbl.Scan(), 1)
	tbl.ExitDeltaMode()
	require.Len(t, tbl.Scan(), 2)
}

func TestUpdateRowReplacesInPlaceAndIsUndoable(t *testing.T) {
	log := undo.NewLog()
	tbl := NewMemTable("V", 1, 0, nil, log)
	require.NoError(t, tbl.Insert(Row{Int(1), Int(5)}, true))

	log.SetToken(1)
	require.NoError(t, tbl.UpdateRow(Row{Int(1), Int(5)}, Row{Int(1), Int(9)}))
	require.Equal(t, int64(9), tbl.Scan()[0][1].I)

	log.Rewind(1)
	require.Equal(t, int64(5), tbl.Scan()[0][1].I)
}

type countingHandler struct {
	inserts, deletes int
}

func (h *countingHandler) HandleTupleInsert(source PersistentTable, row Row, fallible bool) error {
	h.inserts++
	return nil
}

func (h *countingHandler) HandleTupleDelete(source PersistentTable, row Row) error {
	h.deletes++
	return nil
}

func TestAttachedHandlersAreNotifiedOnMutation(t *testing.T) {
	tbl := NewMemTable("T", 1, 0, []int{0}, nil)
	h := &countingHandler{}
	tbl.AttachViewHandler(h)

	require.NoError(t, tbl.Insert(Row{Int(1), Int(10)}, true))
	require.NoError(t, tbl.Delete(Row{Int(1)}))

	require.Equal(t, 1, h.inserts)
	require.Equal(t, 1, h.deletes)

	tbl.DetachViewHandler(h)
	require.Empty(t, tbl.ViewHandlers())
}
