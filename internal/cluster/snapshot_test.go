package cluster

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func host(id, name string) *Host {
	return &Host{
		ID: id, Name: name, Cluster: "prod",
		Capacity: ResourceVector{CPUMHz: 10000, MemoryMB: 32768, DiskMBps: 4000, NetMBps: 1250},
	}
}

func TestNewSnapshot_DerivesHostAggregatesFromVMs(t *testing.T) {
	h1 := host("h1", "esx-a")
	h1.Usage.MemoryMB = 9000 // host-reported, must survive aggregation
	h2 := host("h2", "esx-b")

	vms := []*VM{
		{ID: "v1", Name: "app01", HostID: "h1", Usage: ResourceVector{CPUMHz: 1200, MemoryMB: 2048, DiskMBps: 40, NetMBps: 12}},
		{ID: "v2", Name: "app02", HostID: "h1", Usage: ResourceVector{CPUMHz: 800, MemoryMB: 1024, DiskMBps: 10, NetMBps: 8}},
		{ID: "v3", Name: "db01", HostID: "h2", Usage: ResourceVector{CPUMHz: 500, MemoryMB: 4096, DiskMBps: 100, NetMBps: 5}},
	}
	snap := NewSnapshot([]*Host{h1, h2}, vms, discardLog())

	a := snap.HostByName("esx-a")
	require.NotNil(t, a)
	assert.Equal(t, 2000.0, a.Usage.CPUMHz, "cpu summed from VMs")
	assert.Equal(t, 50.0, a.Usage.DiskMBps, "disk summed from VMs")
	assert.Equal(t, 20.0, a.Usage.NetMBps, "net summed from VMs")
	assert.Equal(t, 9000.0, a.Usage.MemoryMB, "memory from the host's own report, not VM sums")

	b := snap.HostByName("esx-b")
	assert.Equal(t, 500.0, b.Usage.CPUMHz)
	assert.Len(t, snap.VMsOn("h1"), 2)
	assert.Equal(t, "esx-b", snap.HostOf(snap.VMs()[2]).Name)
}

func TestNewSnapshot_FloorsZeroCapacityWithWarning(t *testing.T) {
	log, hook := logtest.NewNullLogger()

	h := &Host{ID: "h1", Name: "esx-a", Capacity: ResourceVector{CPUMHz: 0, MemoryMB: 1024, DiskMBps: 4000, NetMBps: 1250}}
	snap := NewSnapshot([]*Host{h}, nil, log)

	got := snap.HostByName("esx-a")
	require.NotNil(t, got)
	assert.Equal(t, 1.0, got.Capacity.CPUMHz)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.Contains(entry.Message, "CPU capacity") {
			warned = true
		}
	}
	assert.True(t, warned, "expected a zero-capacity warning")
}

func TestNewSnapshot_SkipsInvalidEntities(t *testing.T) {
	log, hook := logtest.NewNullLogger()

	hosts := []*Host{
		host("h1", "esx-a"),
		{ID: "", Name: "nameless"}, // missing identity
	}
	vms := []*VM{
		{ID: "v1", Name: "app01", HostID: "h1"},
		{ID: "v2", Name: "orphan01", HostID: "gone"}, // dangling host ref
		{ID: "", Name: "anon01", HostID: "h1"},
	}
	snap := NewSnapshot(hosts, vms, log)

	assert.Len(t, snap.Hosts(), 1)
	require.Len(t, snap.VMs(), 1)
	assert.Equal(t, "app01", snap.VMs()[0].Name)

	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.GreaterOrEqual(t, warnings, 3)
}

func TestNewSnapshot_DoesNotAliasCallerValues(t *testing.T) {
	h := host("h1", "esx-a")
	vm := &VM{ID: "v1", Name: "app01", HostID: "h1", Usage: ResourceVector{CPUMHz: 100}}
	snap := NewSnapshot([]*Host{h}, []*VM{vm}, discardLog())

	h.Usage.CPUMHz = 9999
	vm.HostID = "elsewhere"

	assert.Equal(t, 100.0, snap.HostByName("esx-a").Usage.CPUMHz)
	assert.Equal(t, "h1", snap.VMs()[0].HostID)
}

func TestWithPlacements_MovesMemoryAndReaggregates(t *testing.T) {
	h1 := host("h1", "esx-a")
	h1.Usage.MemoryMB = 8192
	h2 := host("h2", "esx-b")
	h2.Usage.MemoryMB = 2048

	vms := []*VM{
		{ID: "v1", Name: "app01", HostID: "h1", Usage: ResourceVector{CPUMHz: 1000, MemoryMB: 4096, DiskMBps: 20}},
		{ID: "v2", Name: "app02", HostID: "h1", Usage: ResourceVector{CPUMHz: 500, MemoryMB: 1024}},
	}
	snap := NewSnapshot([]*Host{h1, h2}, vms, discardLog())

	moved := snap.WithPlacements(map[string]string{"v1": "h2"}, discardLog())

	// original untouched
	assert.Equal(t, 1500.0, snap.HostByName("esx-a").Usage.CPUMHz)
	assert.Equal(t, "h1", snap.VMs()[0].HostID)

	a := moved.HostByName("esx-a")
	b := moved.HostByName("esx-b")
	assert.Equal(t, 500.0, a.Usage.CPUMHz)
	assert.Equal(t, 1000.0, b.Usage.CPUMHz)
	assert.Equal(t, 20.0, b.Usage.DiskMBps)
	assert.Equal(t, 4096.0, a.Usage.MemoryMB, "memory follows the moved VM")
	assert.Equal(t, 6144.0, b.Usage.MemoryMB)
	assert.Equal(t, "h2", moved.VMs()[0].HostID)
}

func TestWithPlacements_IgnoresUnknownTargets(t *testing.T) {
	snap := NewSnapshot([]*Host{host("h1", "esx-a")}, []*VM{
		{ID: "v1", Name: "app01", HostID: "h1", Usage: ResourceVector{CPUMHz: 100}},
	}, discardLog())

	moved := snap.WithPlacements(map[string]string{"v1": "nope"}, discardLog())
	assert.Equal(t, "h1", moved.VMs()[0].HostID)
}
