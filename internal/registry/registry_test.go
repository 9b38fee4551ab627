package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flyengine/internal/catalog"
	"flyengine/internal/table"
)

func TestRebuildIndexesAreMutuallyConsistent(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Load(1, []*catalog.TableDescriptor{
		{CatalogID: 1, Name: "T", SignatureHash: 0xAA},
		{CatalogID: 2, Name: "U", SignatureHash: 0xBB},
	}))

	tables := map[int64]table.PersistentTable{
		1: table.NewMemTable("T", 0xAA, 0, nil, nil),
		2: table.NewMemTable("U", 0xBB, 1, nil, nil),
	}

	r := New()
	r.Rebuild(cat.Current(), func(id int64) (table.PersistentTable, bool) {
		t, ok := tables[id]
		return t, ok
	})

	require.Equal(t, 2, r.Len())

	byID, ok := r.ByID(1)
	require.True(t, ok)
	byName, ok := r.ByName("T")
	require.True(t, ok)
	bySig, ok := r.BySignature(0xAA)
	require.True(t, ok)

	require.Same(t, byID, byName)
	require.Same(t, byID, bySig)
}

func TestRebuildSkipsUnresolvedTables(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Load(1, []*catalog.TableDescriptor{
		{CatalogID: 1, Name: "T", SignatureHash: 0xAA},
	}))

	r := New()
	r.Rebuild(cat.Current(), func(id int64) (table.PersistentTable, bool) {
		return nil, false
	})

	require.Equal(t, 0, r.Len())
}

func TestRebuildReplicatedOnlyTouchesOnlyGivenIDs(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Load(1, []*catalog.TableDescriptor{
		{CatalogID: 1, Name: "T", SignatureHash: 0xAA},
		{CatalogID: 2, Name: "R", SignatureHash: 0xBB, IsReplicated: true},
	}))

	tables := map[int64]table.PersistentTable{
		1: table.NewMemTable("T", 0xAA, 0, nil, nil),
		2: table.NewMemTable("R", 0xBB, 1, nil, nil),
	}
	resolve := func(id int64) (table.PersistentTable, bool) {
		t, ok := tables[id]
		return t, ok
	}

	r := New()
	r.Rebuild(cat.Current(), resolve)

	// The replicated table's descriptor changes identity (renamed,
	// signature changed) the way a lowest-site-published update would
	// land; the non-replicated table is left alone.
	renamed := table.NewMemTable("R2", 0xCC, 1, nil, nil)
	tables[2] = renamed
	require.NoError(t, cat.Update(2, false, nil, nil, []*catalog.TableDescriptor{
		{CatalogID: 2, Name: "R2", SignatureHash: 0xCC, IsReplicated: true},
	}))

	r.RebuildReplicatedOnly(cat.Current(), []int64{2}, resolve)

	byID1, ok := r.ByID(1)
	require.True(t, ok)
	require.Same(t, tables[1], byID1, "non-replicated entry must be untouched by a replicated-only rebuild")

	byID2, ok := r.ByID(2)
	require.True(t, ok)
	require.Same(t, renamed, byID2)

	byName2, ok := r.ByName("R2")
	require.True(t, ok)
	require.Same(t, renamed, byName2)

	_, ok = r.ByName("R")
	require.False(t, ok, "stale name index entry for the old identity must be removed")

	_, ok = r.BySignature(0xBB)
	require.False(t, ok, "stale signature index entry for the old identity must be removed")

	bySig2, ok := r.BySignature(0xCC)
	require.True(t, ok)
	require.Same(t, renamed, bySig2)
}

func TestRebuildReplicatedOnlyRemovesDroppedTable(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Load(1, []*catalog.TableDescriptor{
		{CatalogID: 2, Name: "R", SignatureHash: 0xBB, IsReplicated: true},
	}))
	r := New()
	src := table.NewMemTable("R", 0xBB, 0, nil, nil)
	r.Rebuild(cat.Current(), func(id int64) (table.PersistentTable, bool) { return src, true })
	require.Equal(t, 1, r.Len())

	require.NoError(t, cat.Update(2, false, nil, []*catalog.TableDescriptor{{CatalogID: 2, Name: "R", SignatureHash: 0xBB}}, nil))
	r.RebuildReplicatedOnly(cat.Current(), []int64{2}, func(id int64) (table.PersistentTable, bool) { return src, true })

	require.Equal(t, 0, r.Len())
	_, ok := r.ByName("R")
	require.False(t, ok)
}
