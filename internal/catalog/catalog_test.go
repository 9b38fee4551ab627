package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func tbl(id int64, name string) *TableDescriptor {
	return &TableDescriptor{CatalogID: id, Name: name}
}

func TestLoadReplacesSnapshotWholesale(t *testing.T) {
	c := New()
	require.NoError(t, c.Load(1, []*TableDescriptor{tbl(1, "T")}))
	require.Len(t, c.Current().Tables, 1)

	require.NoError(t, c.Load(2, []*TableDescriptor{tbl(1, "T"), tbl(2, "U")}))
	require.Len(t, c.Current().Tables, 2)
	require.EqualValues(t, 2, c.Current().Timestamp)
}

func TestLoadRejectsNonMonotonicTimestamp(t *testing.T) {
	c := New()
	require.NoError(t, c.Load(5, nil))
	err := c.Load(5, nil)
	require.Error(t, err)
	err = c.Load(4, nil)
	require.Error(t, err)
}

func TestUpdateAppliesAdditionsDeletionsModificationsInOrder(t *testing.T) {
	c := New()
	require.NoError(t, c.Load(1, []*TableDescriptor{tbl(1, "T"), tbl(2, "U")}))

	modified := tbl(2, "U_renamed")
	require.NoError(t, c.Update(2, false,
		[]*TableDescriptor{tbl(3, "V")},
		[]*TableDescriptor{tbl(1, "T")},
		[]*TableDescriptor{modified},
	))

	snap := c.Current()
	require.Len(t, snap.Tables, 2)
	require.Nil(t, snap.Tables[1])
	require.Equal(t, "V", snap.Tables[3].Name)
	require.Equal(t, "U_renamed", snap.Tables[2].Name)
}

func TestUpdateRejectsNonMonotonicTimestamp(t *testing.T) {
	c := New()
	require.NoError(t, c.Load(10, nil))
	err := c.Update(10, false, nil, nil, nil)
	require.Error(t, err)
}

func TestTablesInOrderIsStableAfterDeletion(t *testing.T) {
	c := New()
	require.NoError(t, c.Load(1, []*TableDescriptor{tbl(1, "A"), tbl(2, "B"), tbl(3, "C")}))
	require.NoError(t, c.Update(2, false, nil, []*TableDescriptor{tbl(2, "B")}, nil))

	var names []string
	for _, td := range c.Current().TablesInOrder() {
		names = append(names, td.Name)
	}
	require.Equal(t, []string{"A", "C"}, names)
}
