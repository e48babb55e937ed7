package cluster

import (
	"github.com/sirupsen/logrus"
)

// Snapshot is an immutable view of the cluster taken at collection time.
// Per-host CPU, disk and network usage are derived by summing the VMs placed
// on each host; memory usage is taken from the host's own reported value
// because guest-reported memory is not additive.
//
// Hosts and VMs keep the order they were supplied in; all iteration over a
// snapshot is deterministic.
type Snapshot struct {
	hosts []*Host
	vms   []*VM

	hostsByID   map[string]*Host
	hostsByName map[string]*Host
	vmsByHost   map[string][]*VM
}

// NewSnapshot builds a snapshot from an inventory listing. Hosts without an
// identity and VMs without a valid host reference are skipped with a warning.
// Zero or negative capacity components are floored to 1 so percentage math
// never divides by zero.
func NewSnapshot(hosts []*Host, vms []*VM, log logrus.FieldLogger) *Snapshot {
	s := &Snapshot{
		hostsByID:   make(map[string]*Host),
		hostsByName: make(map[string]*Host),
		vmsByHost:   make(map[string][]*VM),
	}

	for _, h := range hosts {
		if h.ID == "" || h.Name == "" {
			log.Warnf("[Snapshot] Host with missing identity skipped: %+v", h)
			continue
		}
		hc := *h
		floorCapacity(&hc, log)
		s.hosts = append(s.hosts, &hc)
		s.hostsByID[hc.ID] = &hc
		s.hostsByName[hc.Name] = &hc
	}

	for _, v := range vms {
		if v.ID == "" || v.Name == "" {
			log.Warnf("[Snapshot] VM with missing identity skipped: %+v", v)
			continue
		}
		if _, ok := s.hostsByID[v.HostID]; !ok {
			log.Warnf("[Snapshot] VM '%s' does not have a valid host reference (host id %q). Skipping.", v.Name, v.HostID)
			continue
		}
		vc := *v
		s.vms = append(s.vms, &vc)
		s.vmsByHost[vc.HostID] = append(s.vmsByHost[vc.HostID], &vc)
	}

	s.aggregate()
	return s
}

// floorCapacity raises non-positive capacity components to 1
func floorCapacity(h *Host, log logrus.FieldLogger) {
	raise := func(name string, v *float64) {
		if *v <= 0 {
			log.Warnf("[Snapshot] Host '%s' has %s capacity %.0f. Raising to 1 for safe division.", h.Name, name, *v)
			*v = 1
		}
	}
	raise("CPU", &h.Capacity.CPUMHz)
	raise("memory", &h.Capacity.MemoryMB)
	raise("disk I/O", &h.Capacity.DiskMBps)
	raise("network I/O", &h.Capacity.NetMBps)
}

// aggregate derives per-host CPU/disk/network usage from VM placements.
// Host memory usage is left as reported by the host itself.
func (s *Snapshot) aggregate() {
	for _, h := range s.hosts {
		h.Usage.CPUMHz = 0
		h.Usage.DiskMBps = 0
		h.Usage.NetMBps = 0
		for _, vm := range s.vmsByHost[h.ID] {
			h.Usage.CPUMHz += vm.Usage.CPUMHz
			h.Usage.DiskMBps += vm.Usage.DiskMBps
			h.Usage.NetMBps += vm.Usage.NetMBps
		}
	}
}

// Hosts returns all hosts in snapshot order
func (s *Snapshot) Hosts() []*Host {
	return s.hosts
}

// VMs returns all active VMs in snapshot order
func (s *Snapshot) VMs() []*VM {
	return s.vms
}

// HostByID returns the host with the given id, or nil
func (s *Snapshot) HostByID(id string) *Host {
	return s.hostsByID[id]
}

// HostByName returns the host with the given display name, or nil
func (s *Snapshot) HostByName(name string) *Host {
	return s.hostsByName[name]
}

// HostOf returns the host a VM is currently placed on, or nil
func (s *Snapshot) HostOf(vm *VM) *Host {
	return s.hostsByID[vm.HostID]
}

// VMsOn returns the VMs placed on the given host, in snapshot order
func (s *Snapshot) VMsOn(hostID string) []*VM {
	return s.vmsByHost[hostID]
}

// WithPlacements returns a new snapshot with the given VM placements applied
// (vm id -> new host id). Host memory usage follows the moved VM's memory;
// CPU/disk/network aggregates are re-derived from the new placements. The
// receiver is not modified. Placements referencing unknown VMs or hosts are
// ignored.
func (s *Snapshot) WithPlacements(placements map[string]string, log logrus.FieldLogger) *Snapshot {
	hosts := make([]*Host, 0, len(s.hosts))
	memDelta := make(map[string]float64)

	vms := make([]*VM, 0, len(s.vms))
	for _, vm := range s.vms {
		vc := *vm
		if target, ok := placements[vm.ID]; ok {
			if s.hostsByID[target] == nil {
				log.Warnf("[Snapshot] Placement for VM '%s' references unknown host %q. Ignoring.", vm.Name, target)
			} else if target != vm.HostID {
				memDelta[vm.HostID] -= vm.Usage.MemoryMB
				memDelta[target] += vm.Usage.MemoryMB
				vc.HostID = target
			}
		}
		vms = append(vms, &vc)
	}

	for _, h := range s.hosts {
		hc := *h
		hc.Usage.MemoryMB += memDelta[h.ID]
		if hc.Usage.MemoryMB < 0 {
			hc.Usage.MemoryMB = 0
		}
		hosts = append(hosts, &hc)
	}

	return NewSnapshot(hosts, vms, log)
}

// LogStats logs the host summary table (one line of resource usage per host)
// and the cluster totals. Per-VM consumption is not logged.
func (s *Snapshot) LogStats(log logrus.FieldLogger) {
	log.Info("--- Host Summary ---")
	for _, h := range s.hosts {
		log.Infof("%-25s %-20s CPU %5.1f%%  Mem %5.1f%%  Disk %7.1f MBps  Net %7.1f MBps  VMs %d",
			h.Cluster, h.Name, h.CPUPercent(), h.MemoryPercent(), h.Usage.DiskMBps, h.Usage.NetMBps, len(s.vmsByHost[h.ID]))
	}

	var totalCPUCap, totalCPUUse, totalMemCap, totalMemUse, totalDisk, totalNet float64
	for _, h := range s.hosts {
		totalCPUCap += h.Capacity.CPUMHz
		totalCPUUse += h.Usage.CPUMHz
		totalMemCap += h.Capacity.MemoryMB
		totalMemUse += h.Usage.MemoryMB
		totalDisk += h.Usage.DiskMBps
		totalNet += h.Usage.NetMBps
	}
	cpuPct, memPct := 0.0, 0.0
	if totalCPUCap > 0 {
		cpuPct = totalCPUUse / totalCPUCap * 100
	}
	if totalMemCap > 0 {
		memPct = totalMemUse / totalMemCap * 100
	}
	log.Infof("--- Cluster Totals: CPU %.1f%% (%.0f/%.0f MHz), Memory %.1f%% (%.0f/%.0f MB), Disk %.1f MBps, Net %.1f MBps, Hosts %d, VMs %d",
		cpuPct, totalCPUUse, totalCPUCap, memPct, totalMemUse, totalMemCap, totalDisk, totalNet, len(s.hosts), len(s.vms))
}
