package planner

import (
	"github.com/sirupsen/logrus"

	"github.com/yourusername/fdrs/internal/cluster"
)

// Resource names one of the four balanced dimensions
type Resource string

const (
	ResourceCPU     Resource = "cpu"
	ResourceMemory  Resource = "memory"
	ResourceDisk    Resource = "disk"
	ResourceNetwork Resource = "network"
)

// AllResources lists the balanced dimensions in canonical order
var AllResources = []Resource{ResourceCPU, ResourceMemory, ResourceDisk, ResourceNetwork}

// Percentages holds parallel per-host usage percentage lists, one entry per
// host in snapshot order.
type Percentages struct {
	CPU     []float64
	Memory  []float64
	Disk    []float64
	Network []float64
}

// ResourceReport describes the spread of one resource across the host set
type ResourceReport struct {
	Imbalanced  bool
	Diff        float64
	Threshold   float64
	Min         float64
	Max         float64
	Avg         float64
	Percentages []float64
}

// ImbalanceReport maps each evaluated resource to its spread report
type ImbalanceReport map[Resource]ResourceReport

// Evaluator computes per-host usage percentages and decides, per resource,
// whether the spread between the most and least loaded host exceeds the
// threshold selected by the aggressiveness level.
//
// The percentage quartet is memoized; callers must call InvalidateCache at
// the start of every planning cycle and after each simulated application of
// moves.
type Evaluator struct {
	hosts   []*cluster.Host
	log     logrus.FieldLogger
	caching bool
	cached  *Percentages
}

// NewEvaluator creates an evaluator over the given host set. The host order
// defines the index order of every percentage list.
func NewEvaluator(hosts []*cluster.Host, log logrus.FieldLogger) *Evaluator {
	return &Evaluator{hosts: hosts, log: log, caching: true}
}

// SetCaching toggles memoization of the percentage lists
func (e *Evaluator) SetCaching(enabled bool) {
	e.caching = enabled
	if !enabled {
		e.cached = nil
	}
}

// InvalidateCache drops the memoized percentage lists
func (e *Evaluator) InvalidateCache() {
	e.cached = nil
}

// PercentageLists returns the four per-host usage percentage lists.
// A capacity of zero yields a percentage of zero, never an error.
func (e *Evaluator) PercentageLists() Percentages {
	if e.caching && e.cached != nil {
		return *e.cached
	}

	p := Percentages{
		CPU:     make([]float64, 0, len(e.hosts)),
		Memory:  make([]float64, 0, len(e.hosts)),
		Disk:    make([]float64, 0, len(e.hosts)),
		Network: make([]float64, 0, len(e.hosts)),
	}
	for _, h := range e.hosts {
		p.CPU = append(p.CPU, h.CPUPercent())
		p.Memory = append(p.Memory, h.MemoryPercent())
		p.Disk = append(p.Disk, h.DiskPercent())
		p.Network = append(p.Network, h.NetPercent())
	}

	if e.caching {
		e.cached = &p
	}
	return p
}

func (p Percentages) forResource(r Resource) []float64 {
	switch r {
	case ResourceCPU:
		return p.CPU
	case ResourceMemory:
		return p.Memory
	case ResourceDisk:
		return p.Disk
	case ResourceNetwork:
		return p.Network
	}
	return nil
}

// Thresholds maps an aggressiveness level (1-5) to the maximum allowed usage
// spread per resource, in percentage points. Unknown levels fall back to 15
// with a warning. The same threshold applies to all four resources.
func (e *Evaluator) Thresholds(aggressiveness int) map[Resource]float64 {
	mapping := map[int]float64{1: 25, 2: 20, 3: 15, 4: 10, 5: 5}
	value, ok := mapping[aggressiveness]
	if !ok {
		value = 15
		e.log.Warnf("[LoadEvaluator] Invalid aggressiveness level: %d. Defaulting to threshold: %.0f%%.", aggressiveness, value)
	}

	thresholds := make(map[Resource]float64, len(AllResources))
	for _, r := range AllResources {
		thresholds[r] = value
	}
	return thresholds
}

// EvaluateImbalance reports the spread of each requested resource. A nil
// metrics slice evaluates all four. When override is non-nil its percentage
// lists replace the live ones (used for simulated states). Fewer than two
// hosts is always balanced.
func (e *Evaluator) EvaluateImbalance(metrics []Resource, aggressiveness int, override *Percentages) ImbalanceReport {
	var p Percentages
	if override != nil {
		p = *override
	} else {
		p = e.PercentageLists()
	}

	if metrics == nil {
		metrics = AllResources
	}
	thresholds := e.Thresholds(aggressiveness)

	report := make(ImbalanceReport, len(metrics))
	for _, r := range metrics {
		percentages := p.forResource(r)
		threshold := thresholds[r]

		if len(percentages) < 2 {
			report[r] = ResourceReport{Threshold: threshold, Percentages: percentages}
			continue
		}

		min, max, sum := percentages[0], percentages[0], 0.0
		for _, v := range percentages {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			sum += v
		}
		diff := max - min
		imbalanced := diff > threshold
		if imbalanced {
			e.log.Warnf("[LoadEvaluator] Resource '%s' is imbalanced. Difference %.2f%% > Threshold %.2f%% (Aggressiveness: %d)",
				r, diff, threshold, aggressiveness)
		}

		report[r] = ResourceReport{
			Imbalanced:  imbalanced,
			Diff:        diff,
			Threshold:   threshold,
			Min:         min,
			Max:         max,
			Avg:         sum / float64(len(percentages)),
			Percentages: percentages,
		}
	}
	return report
}

// IsBalanced is true iff no evaluated resource is imbalanced
func (e *Evaluator) IsBalanced(metrics []Resource, aggressiveness int, override *Percentages) bool {
	for _, detail := range e.EvaluateImbalance(metrics, aggressiveness, override) {
		if detail.Imbalanced {
			return false
		}
	}
	return true
}

// HostPercentages returns a host name -> resource -> usage percent map
// derived from the live percentage lists.
func (e *Evaluator) HostPercentages() map[string]map[Resource]float64 {
	p := e.PercentageLists()
	result := make(map[string]map[Resource]float64, len(e.hosts))
	for i, h := range e.hosts {
		result[h.Name] = map[Resource]float64{
			ResourceCPU:     p.CPU[i],
			ResourceMemory:  p.Memory[i],
			ResourceDisk:    p.Disk[i],
			ResourceNetwork: p.Network[i],
		}
	}
	return result
}
