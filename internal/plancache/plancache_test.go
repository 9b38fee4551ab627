package plancache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flyengine/internal/exec"
	"flyengine/internal/topend"
)

func TestGetOrLoadFetchesOnceThenHitsCache(t *testing.T) {
	top := topend.NewMock()
	top.Plans[0xDEAD] = &exec.PlanIR{FragmentID: 0xDEAD}

	c := New()
	_, err := c.GetOrLoad(0xDEAD, top)
	require.NoError(t, err)
	require.Equal(t, 1, top.FetchPlanCalls)

	_, err = c.GetOrLoad(0xDEAD, top)
	require.NoError(t, err)
	require.Equal(t, 1, top.FetchPlanCalls)
}

func TestGetOrLoadPropagatesPlanNotFound(t *testing.T) {
	top := topend.NewMock()
	c := New()
	_, err := c.GetOrLoad(99, top)
	require.Error(t, err)
}

func TestCacheTracksContains(t *testing.T) {
	top := topend.NewMock()
	top.Plans[1] = &exec.PlanIR{FragmentID: 1}

	c := New()
	require.False(t, c.Contains(1))
	_, err := c.GetOrLoad(1, top)
	require.NoError(t, err)
	require.True(t, c.Contains(1))
}

// TestPinSurvivesNestedGetOrLoadUnderEvictionPressure mirrors how the
// dispatcher uses Pin: hold a fragment pinned across its own execution
// span, during which a view handler's create-query or min/max fallback
// query re-enters GetOrLoad for other fragments. Those nested loads must
// not evict the outer, still-pinned fragment even once the cache is full.
func TestPinSurvivesNestedGetOrLoadUnderEvictionPressure(t *testing.T) {
	top := topend.NewMock()
	top.Plans[1] = &exec.PlanIR{FragmentID: 1}
	top.Plans[2] = &exec.PlanIR{FragmentID: 2}
	top.Plans[3] = &exec.PlanIR{FragmentID: 3}

	c := NewWithCapacity(2)
	release := c.Pin(1)
	_, err := c.GetOrLoad(1, top)
	require.NoError(t, err)

	// Simulate the dispatcher still running fragment 1's vector while a
	// nested call (view maintenance) loads two more fragments, more than
	// enough to exhaust a capacity-2 cache if fragment 1 weren't pinned.
	_, err = c.GetOrLoad(2, top)
	require.NoError(t, err)
	_, err = c.GetOrLoad(3, top)
	require.NoError(t, err)
	release()

	require.True(t, c.Contains(1), "pinned fragment must survive nested eviction pressure")
}

func TestGetOrLoadReleasesItsPinOnReturn(t *testing.T) {
	top := topend.NewMock()
	top.Plans[1] = &exec.PlanIR{FragmentID: 1}
	top.Plans[2] = &exec.PlanIR{FragmentID: 2}

	c := NewWithCapacity(1)
	_, err := c.GetOrLoad(1, top)
	require.NoError(t, err)
	_, err = c.GetOrLoad(2, top)
	require.NoError(t, err)

	require.True(t, c.Contains(2))
	require.False(t, c.Contains(1), "once GetOrLoad(1) returns, fragment 1 is no longer pinned and may be evicted")
}
