package vsphere

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vmware/govmomi/performance"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/yourusername/fdrs/internal/cluster"
	"github.com/yourusername/fdrs/internal/config"
)

// rollup counters used for VM I/O usage, sampled from the 20-second
// performance rollup, reported in KBps
const (
	diskUsageCounter = "disk.usage.average"
	netUsageCounter  = "net.usage.average"
	perfIntervalID   = 20
)

// Inventory is one cluster's worth of collected state
type Inventory struct {
	Cluster  string
	Snapshot *cluster.Snapshot
}

// Collector turns live vCenter inventory and performance counters into
// planner snapshots. Only connected hosts and powered-on, non-template VMs
// are collected; missing per-entity metrics are read as zero so planning can
// proceed on a degraded snapshot.
type Collector struct {
	client *Client
	cfg    config.Config
	cache  *IOCache // optional fallback for missing rollup samples
	log    logrus.FieldLogger
}

// NewCollector creates a collector. cache may be nil.
func NewCollector(c *Client, cfg config.Config, cache *IOCache, log logrus.FieldLogger) *Collector {
	return &Collector{client: c, cfg: cfg, cache: cache, log: log}
}

// Collect gathers hosts and VMs, grouped per cluster. An empty clusterName
// collects every cluster in the vCenter; otherwise only the named one.
func (c *Collector) Collect(ctx context.Context, clusterName string) ([]Inventory, error) {
	hosts, clusterNames, err := c.collectHosts(ctx)
	if err != nil {
		return nil, err
	}
	vms, ioReads, err := c.collectVMs(ctx)
	if err != nil {
		return nil, err
	}

	// Partition hosts by cluster tag, preserving retrieval order
	var order []string
	byCluster := make(map[string][]*cluster.Host)
	for _, h := range hosts {
		if clusterName != "" && h.Cluster != clusterName {
			continue
		}
		if _, ok := byCluster[h.Cluster]; !ok {
			order = append(order, h.Cluster)
		}
		byCluster[h.Cluster] = append(byCluster[h.Cluster], h)
	}
	if clusterName != "" && len(byCluster) == 0 {
		return nil, fmt.Errorf("no connected hosts found in cluster %q (known clusters: %v)", clusterName, clusterNames)
	}

	var inventories []Inventory
	for _, name := range order {
		clusterHosts := byCluster[name]
		hostIDs := make(map[string]bool, len(clusterHosts))
		for _, h := range clusterHosts {
			hostIDs[h.ID] = true
		}
		var clusterVMs []*cluster.VM
		for _, vm := range vms {
			if hostIDs[vm.HostID] {
				clusterVMs = append(clusterVMs, vm)
			}
		}

		snap := cluster.NewSnapshot(clusterHosts, clusterVMs, c.log)
		snap.LogStats(c.log)
		inventories = append(inventories, Inventory{Cluster: name, Snapshot: snap})
	}

	if c.cache != nil && len(ioReads) > 0 {
		if err := c.cache.SetBatch(ioReads); err != nil {
			c.log.Warnf("[Collector] Failed to update I/O cache: %v", err)
		}
	}
	return inventories, nil
}

func (c *Collector) collectHosts(ctx context.Context) ([]*cluster.Host, []string, error) {
	m := view.NewManager(c.client.Client.Client)

	// Resolve cluster names first so hosts can be tagged by parent
	crView, err := m.CreateContainerView(ctx, c.client.ServiceContent.RootFolder, []string{"ComputeResource"}, true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create compute-resource view: %w", err)
	}
	var computeResources []mo.ComputeResource
	err = crView.Retrieve(ctx, []string{"ComputeResource"}, []string{"name"}, &computeResources)
	_ = crView.Destroy(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve compute resources: %w", err)
	}
	clusterByRef := make(map[string]string, len(computeResources))
	var clusterNames []string
	for _, cr := range computeResources {
		clusterByRef[cr.Self.Value] = cr.Name
		clusterNames = append(clusterNames, cr.Name)
	}

	hostView, err := m.CreateContainerView(ctx, c.client.ServiceContent.RootFolder, []string{"HostSystem"}, true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create host view: %w", err)
	}
	var hostSystems []mo.HostSystem
	err = hostView.Retrieve(ctx, []string{"HostSystem"},
		[]string{"name", "summary", "runtime.connectionState", "config.network", "parent"}, &hostSystems)
	_ = hostView.Destroy(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve hosts: %w", err)
	}

	var hosts []*cluster.Host
	for i := range hostSystems {
		hs := &hostSystems[i]
		if hs.Runtime.ConnectionState != types.HostSystemConnectionStateConnected {
			c.log.Infof("[Collector] Host '%s' is %s, skipping.", hs.Name, hs.Runtime.ConnectionState)
			continue
		}

		clusterTag := ""
		if hs.Parent != nil {
			clusterTag = clusterByRef[hs.Parent.Value]
		}

		h := &cluster.Host{
			ID:      hs.Self.Value,
			Name:    hs.Name,
			Cluster: clusterTag,
			Capacity: cluster.ResourceVector{
				DiskMBps: c.cfg.Storage.DiskIOCapacityMBps,
				NetMBps:  c.networkCapacity(hs),
			},
		}
		if hw := hs.Summary.Hardware; hw != nil {
			h.Capacity.CPUMHz = float64(hw.NumCpuCores) * float64(hw.CpuMhz)
			h.Capacity.MemoryMB = float64(hw.MemorySize) / (1024 * 1024)
		} else {
			c.log.Warnf("[Collector] Host '%s' has no hardware summary. Capacities will be floored.", hs.Name)
		}
		// Host memory usage comes from the host's own reported value;
		// CPU/disk/network are summed from VMs at snapshot construction.
		h.Usage.MemoryMB = float64(hs.Summary.QuickStats.OverallMemoryUsage)

		hosts = append(hosts, h)
	}
	return hosts, clusterNames, nil
}

// networkCapacity sums pNIC link speeds (Mb/s) and converts to MBps,
// falling back to the configured bandwidth when no usable link speed exists
func (c *Collector) networkCapacity(hs *mo.HostSystem) float64 {
	fallback := c.cfg.Network.BandwidthMBps
	if hs.Config == nil || hs.Config.Network == nil || len(hs.Config.Network.Pnic) == 0 {
		c.log.Warnf("[Collector] Host '%s': could not retrieve pNIC information. Defaulting network capacity to %.0f MBps.", hs.Name, fallback)
		return fallback
	}

	var totalMb int64
	for _, pnic := range hs.Config.Network.Pnic {
		if pnic.LinkSpeed != nil && pnic.LinkSpeed.SpeedMb > 0 {
			totalMb += int64(pnic.LinkSpeed.SpeedMb)
		}
	}
	if totalMb == 0 {
		c.log.Warnf("[Collector] Host '%s': no valid pNIC link speeds found. Defaulting network capacity to %.0f MBps.", hs.Name, fallback)
		return fallback
	}
	return float64(totalMb) / 8.0
}

func (c *Collector) collectVMs(ctx context.Context) ([]*cluster.VM, []IORead, error) {
	m := view.NewManager(c.client.Client.Client)

	vmView, err := m.CreateContainerView(ctx, c.client.ServiceContent.RootFolder, []string{"VirtualMachine"}, true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create VM view: %w", err)
	}
	var machines []mo.VirtualMachine
	err = vmView.Retrieve(ctx, []string{"VirtualMachine"}, []string{"name", "summary", "runtime"}, &machines)
	_ = vmView.Destroy(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve VMs: %w", err)
	}

	var active []*mo.VirtualMachine
	var refs []types.ManagedObjectReference
	for i := range machines {
		vm := &machines[i]
		if vm.Summary.Config.Template {
			continue
		}
		if vm.Runtime.PowerState != types.VirtualMachinePowerStatePoweredOn {
			continue
		}
		if vm.Runtime.Host == nil {
			c.log.Warnf("[Collector] VM '%s' does not have a valid host reference. Skipping.", vm.Name)
			continue
		}
		active = append(active, vm)
		refs = append(refs, vm.Self)
	}

	ioByVM := c.queryIO(ctx, refs)

	var vms []*cluster.VM
	var fresh []IORead
	now := time.Now()
	for _, vm := range active {
		id := vm.Self.Value
		io, sampled := ioByVM[id]
		if !sampled && c.cache != nil {
			if cached := c.cache.Get(id); cached != nil {
				io = ioSample{disk: cached.DiskMBps, net: cached.NetMBps}
				c.log.Infof("[Collector] Using cached I/O reading for VM '%s' (age %s).", vm.Name, now.Sub(cached.UpdatedAt).Round(time.Second))
			}
		}
		if sampled {
			fresh = append(fresh, IORead{VMID: id, DiskMBps: io.disk, NetMBps: io.net})
		}

		vms = append(vms, &cluster.VM{
			ID:     id,
			Name:   vm.Name,
			HostID: vm.Runtime.Host.Value,
			Usage: cluster.ResourceVector{
				CPUMHz:   float64(vm.Summary.QuickStats.OverallCpuUsage),
				MemoryMB: float64(vm.Summary.QuickStats.GuestMemoryUsage),
				DiskMBps: io.disk,
				NetMBps:  io.net,
			},
		})
	}
	return vms, fresh, nil
}

type ioSample struct {
	disk, net float64
}

// queryIO fetches the 20-second disk/network usage rollups for the given
// VMs, converted from KBps to MBps. Failures degrade to an empty result: the
// planner treats missing metrics as zero.
func (c *Collector) queryIO(ctx context.Context, refs []types.ManagedObjectReference) map[string]ioSample {
	result := make(map[string]ioSample, len(refs))
	if len(refs) == 0 {
		return result
	}

	pm := performance.NewManager(c.client.Client.Client)
	spec := types.PerfQuerySpec{
		MaxSample:  1,
		IntervalId: perfIntervalID,
	}
	sample, err := pm.SampleByName(ctx, spec, []string{diskUsageCounter, netUsageCounter}, refs)
	if err != nil {
		c.log.Warnf("[Collector] Error fetching performance rollups: %v. I/O metrics will be degraded.", err)
		return result
	}
	series, err := pm.ToMetricSeries(ctx, sample)
	if err != nil {
		c.log.Warnf("[Collector] Error decoding performance rollups: %v. I/O metrics will be degraded.", err)
		return result
	}

	for _, entity := range series {
		s := result[entity.Entity.Value]
		for _, metric := range entity.Value {
			if len(metric.Value) == 0 || metric.Value[0] < 0 {
				continue
			}
			mbps := float64(metric.Value[0]) / 1024.0
			switch metric.Name {
			case diskUsageCounter:
				s.disk = mbps
			case netUsageCounter:
				s.net = mbps
			}
		}
		result[entity.Entity.Value] = s
	}
	return result
}
