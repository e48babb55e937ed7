package cluster

import "fmt"

// ResourceVector holds absolute resource values along the four balanced
// dimensions. Units: CPU in MHz, memory in MB, disk and network I/O in MBps.
type ResourceVector struct {
	CPUMHz   float64
	MemoryMB float64
	DiskMBps float64
	NetMBps  float64
}

// Host represents a hypervisor host in the cluster
type Host struct {
	ID      string // stable managed-object id
	Name    string
	Cluster string // cluster tag from inventory

	Capacity ResourceVector
	Usage    ResourceVector
}

// VM represents a powered-on virtual machine. Powered-off and template VMs
// are excluded by the inventory collector before a snapshot is built.
type VM struct {
	ID     string // stable managed-object id
	Name   string
	HostID string // host the VM is currently placed on

	Usage ResourceVector
}

// CPUPercent returns host CPU usage as a percentage of capacity
func (h *Host) CPUPercent() float64 {
	if h.Capacity.CPUMHz <= 0 {
		return 0
	}
	return h.Usage.CPUMHz * 100 / h.Capacity.CPUMHz
}

// MemoryPercent returns host memory usage as a percentage of capacity
func (h *Host) MemoryPercent() float64 {
	if h.Capacity.MemoryMB <= 0 {
		return 0
	}
	return h.Usage.MemoryMB * 100 / h.Capacity.MemoryMB
}

// DiskPercent returns host disk I/O usage as a percentage of capacity
func (h *Host) DiskPercent() float64 {
	if h.Capacity.DiskMBps <= 0 {
		return 0
	}
	return h.Usage.DiskMBps * 100 / h.Capacity.DiskMBps
}

// NetPercent returns host network I/O usage as a percentage of capacity
func (h *Host) NetPercent() float64 {
	if h.Capacity.NetMBps <= 0 {
		return 0
	}
	return h.Usage.NetMBps * 100 / h.Capacity.NetMBps
}

func (h *Host) String() string {
	return fmt.Sprintf("%s (%s)", h.Name, h.ID)
}

func (v *VM) String() string {
	return fmt.Sprintf("%s (%s)", v.Name, v.ID)
}
