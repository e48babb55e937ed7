package planner

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/fdrs/internal/cluster"
)

func testLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testHost builds a host with the standard test capacities (1000 MHz CPU,
// 1000 MB memory, 4000 MBps disk, 1250 MBps net). memUsageMB is the
// host-reported memory usage.
func testHost(id, name string, memUsageMB float64) *cluster.Host {
	return &cluster.Host{
		ID:      id,
		Name:    name,
		Cluster: "test",
		Capacity: cluster.ResourceVector{
			CPUMHz:   1000,
			MemoryMB: 1000,
			DiskMBps: 4000,
			NetMBps:  1250,
		},
		Usage: cluster.ResourceVector{MemoryMB: memUsageMB},
	}
}

func testVM(id, name, hostID string, cpuMHz, memMB float64) *cluster.VM {
	return &cluster.VM{
		ID:     id,
		Name:   name,
		HostID: hostID,
		Usage:  cluster.ResourceVector{CPUMHz: cpuMHz, MemoryMB: memMB},
	}
}

func testSnapshot(hosts []*cluster.Host, vms []*cluster.VM) *cluster.Snapshot {
	return cluster.NewSnapshot(hosts, vms, testLog())
}

func newTestPlanner(snap *cluster.Snapshot, opts Options) *Planner {
	log := testLog()
	cm := NewConstraintManager(snap, log)
	ev := NewEvaluator(snap.Hosts(), log)
	return NewPlanner(snap, cm, ev, opts, log)
}

func applyPlan(snap *cluster.Snapshot, moves []Move) *cluster.Snapshot {
	placements := make(map[string]string, len(moves))
	for _, mv := range moves {
		placements[mv.VM.ID] = mv.Target.ID
	}
	return snap.WithPlacements(placements, testLog())
}
