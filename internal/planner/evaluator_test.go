package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/fdrs/internal/cluster"
)

func TestThresholds_MapsAggressivenessLevels(t *testing.T) {
	ev := NewEvaluator(nil, testLog())

	want := map[int]float64{1: 25, 2: 20, 3: 15, 4: 10, 5: 5}
	for level, threshold := range want {
		got := ev.Thresholds(level)
		for _, r := range AllResources {
			assert.Equal(t, threshold, got[r], "level %d resource %s", level, r)
		}
	}
}

func TestThresholds_UnknownLevelFallsBackTo15(t *testing.T) {
	ev := NewEvaluator(nil, testLog())
	got := ev.Thresholds(9)
	for _, r := range AllResources {
		assert.Equal(t, 15.0, got[r])
	}
}

func TestPercentageLists_ZeroCapacityYieldsZeroPercent(t *testing.T) {
	h := &cluster.Host{
		ID: "h1", Name: "h1",
		Usage: cluster.ResourceVector{CPUMHz: 500},
	}
	// bypass snapshot capacity flooring on purpose: the evaluator itself
	// must never divide by zero
	ev := NewEvaluator([]*cluster.Host{h}, testLog())
	p := ev.PercentageLists()
	assert.Equal(t, 0.0, p.CPU[0])
	assert.Equal(t, 0.0, p.Memory[0])
}

func TestPercentageLists_CachedUntilInvalidated(t *testing.T) {
	h1 := testHost("h1", "h1", 200)
	h2 := testHost("h2", "h2", 400)
	snap := testSnapshot([]*cluster.Host{h1, h2}, []*cluster.VM{
		testVM("v1", "app01", "h1", 300, 0),
	})
	ev := NewEvaluator(snap.Hosts(), testLog())

	first := ev.PercentageLists()
	require.Equal(t, 30.0, first.CPU[0])

	// mutate the host behind the evaluator's back
	snap.Hosts()[0].Usage.CPUMHz = 600
	cached := ev.PercentageLists()
	assert.Equal(t, 30.0, cached.CPU[0], "stale value expected while cached")

	ev.InvalidateCache()
	fresh := ev.PercentageLists()
	assert.Equal(t, 60.0, fresh.CPU[0])
}

func TestPercentageLists_CachingDisabled(t *testing.T) {
	snap := testSnapshot([]*cluster.Host{testHost("h1", "h1", 0)}, []*cluster.VM{
		testVM("v1", "app01", "h1", 100, 0),
	})
	ev := NewEvaluator(snap.Hosts(), testLog())
	ev.SetCaching(false)

	require.Equal(t, 10.0, ev.PercentageLists().CPU[0])
	snap.Hosts()[0].Usage.CPUMHz = 200
	assert.Equal(t, 20.0, ev.PercentageLists().CPU[0])
}

func TestEvaluateImbalance_FewerThanTwoHostsIsBalanced(t *testing.T) {
	snap := testSnapshot([]*cluster.Host{testHost("h1", "h1", 990)}, nil)
	ev := NewEvaluator(snap.Hosts(), testLog())

	report := ev.EvaluateImbalance(nil, 3, nil)
	for _, r := range AllResources {
		assert.False(t, report[r].Imbalanced, "resource %s", r)
	}
	assert.True(t, ev.IsBalanced(nil, 3, nil))
}

func TestEvaluateImbalance_DetectsSpreadAboveThreshold(t *testing.T) {
	h1 := testHost("h1", "h1", 100)
	h2 := testHost("h2", "h2", 100)
	snap := testSnapshot([]*cluster.Host{h1, h2}, []*cluster.VM{
		testVM("v1", "app01", "h1", 800, 0),
		testVM("v2", "db01", "h2", 200, 0),
	})
	ev := NewEvaluator(snap.Hosts(), testLog())

	report := ev.EvaluateImbalance(nil, 3, nil)
	cpu := report[ResourceCPU]
	assert.True(t, cpu.Imbalanced)
	assert.Equal(t, 60.0, cpu.Diff)
	assert.Equal(t, 20.0, cpu.Min)
	assert.Equal(t, 80.0, cpu.Max)
	assert.Equal(t, 50.0, cpu.Avg)
	assert.Equal(t, 15.0, cpu.Threshold)

	assert.False(t, report[ResourceMemory].Imbalanced)
	assert.False(t, ev.IsBalanced(nil, 3, nil))
	assert.True(t, ev.IsBalanced([]Resource{ResourceMemory}, 3, nil), "excluded metrics should not count")
}

func TestEvaluateImbalance_ThresholdBoundaryIsBalanced(t *testing.T) {
	h1 := testHost("h1", "h1", 0)
	h2 := testHost("h2", "h2", 0)
	snap := testSnapshot([]*cluster.Host{h1, h2}, []*cluster.VM{
		testVM("v1", "app01", "h1", 550, 0),
		testVM("v2", "db01", "h2", 400, 0),
	})
	ev := NewEvaluator(snap.Hosts(), testLog())

	// diff of exactly 15 is not greater than the threshold
	report := ev.EvaluateImbalance([]Resource{ResourceCPU}, 3, nil)
	assert.Equal(t, 15.0, report[ResourceCPU].Diff)
	assert.False(t, report[ResourceCPU].Imbalanced)
}

func TestEvaluateImbalance_OverridesReplaceLivePercentages(t *testing.T) {
	h1 := testHost("h1", "h1", 0)
	h2 := testHost("h2", "h2", 0)
	snap := testSnapshot([]*cluster.Host{h1, h2}, nil)
	ev := NewEvaluator(snap.Hosts(), testLog())

	override := &Percentages{
		CPU:     []float64{90, 10},
		Memory:  []float64{50, 50},
		Disk:    []float64{0, 0},
		Network: []float64{0, 0},
	}
	report := ev.EvaluateImbalance(nil, 3, override)
	assert.True(t, report[ResourceCPU].Imbalanced)
	assert.Equal(t, 80.0, report[ResourceCPU].Diff)
	assert.False(t, report[ResourceMemory].Imbalanced)
}

func TestHostPercentages_KeyedByHostName(t *testing.T) {
	h1 := testHost("h1", "esx-a", 500)
	h2 := testHost("h2", "esx-b", 250)
	snap := testSnapshot([]*cluster.Host{h1, h2}, []*cluster.VM{
		testVM("v1", "app01", "h1", 100, 0),
	})
	ev := NewEvaluator(snap.Hosts(), testLog())

	m := ev.HostPercentages()
	require.Contains(t, m, "esx-a")
	require.Contains(t, m, "esx-b")
	assert.Equal(t, 10.0, m["esx-a"][ResourceCPU])
	assert.Equal(t, 50.0, m["esx-a"][ResourceMemory])
	assert.Equal(t, 25.0, m["esx-b"][ResourceMemory])
}
