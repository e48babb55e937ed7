package planner

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/fdrs/internal/cluster"
)

// GroupKey returns the anti-affinity key of a VM name: the name with all
// trailing decimal digits stripped. If stripping would leave nothing, the
// full name is used.
func GroupKey(name string) string {
	key := strings.TrimRight(name, "0123456789")
	if key == "" {
		return name
	}
	return key
}

// ConstraintManager groups VMs into anti-affinity sets by name prefix and
// enforces the distribution rule: for any group, the VM count on any two
// active hosts must not differ by more than 1.
type ConstraintManager struct {
	snap *cluster.Snapshot
	log  logrus.FieldLogger

	groups    map[string][]*cluster.VM
	groupKeys []string // first-seen order, for deterministic iteration

	prefixCache   map[string]string
	prefixCaching bool
}

// NewConstraintManager creates a constraint manager over the snapshot and
// groups its VMs immediately.
func NewConstraintManager(snap *cluster.Snapshot, log logrus.FieldLogger) *ConstraintManager {
	m := &ConstraintManager{
		snap:          snap,
		log:           log,
		prefixCache:   make(map[string]string),
		prefixCaching: true,
	}
	m.GroupVMs()
	return m
}

// SetPrefixCaching toggles memoization of computed anti-affinity keys
func (m *ConstraintManager) SetPrefixCaching(enabled bool) {
	m.prefixCaching = enabled
}

func (m *ConstraintManager) groupKey(name string) string {
	if !m.prefixCaching {
		return GroupKey(name)
	}
	if key, ok := m.prefixCache[name]; ok {
		return key
	}
	key := GroupKey(name)
	m.prefixCache[name] = key
	return key
}

// GroupVMs partitions the active VM set by anti-affinity key
func (m *ConstraintManager) GroupVMs() map[string][]*cluster.VM {
	m.groups = make(map[string][]*cluster.VM)
	m.groupKeys = nil

	for _, vm := range m.snap.VMs() {
		key := m.groupKey(vm.Name)
		if _, ok := m.groups[key]; !ok {
			m.groupKeys = append(m.groupKeys, key)
		}
		m.groups[key] = append(m.groups[key], vm)
	}
	return m.groups
}

// Group returns the anti-affinity group a VM belongs to
func (m *ConstraintManager) Group(vm *cluster.VM) []*cluster.VM {
	return m.groups[m.groupKey(vm.Name)]
}

// groupCounts returns the number of group members placed on each active host,
// including hosts with a zero count.
func (m *ConstraintManager) groupCounts(group []*cluster.VM) map[string]int {
	counts := make(map[string]int, len(m.snap.Hosts()))
	for _, h := range m.snap.Hosts() {
		counts[h.Name] = 0
	}
	for _, vm := range group {
		if h := m.snap.HostOf(vm); h != nil {
			counts[h.Name]++
		}
	}
	return counts
}

func spread(counts map[string]int) int {
	first := true
	var min, max int
	for _, c := range counts {
		if first {
			min, max = c, c
			first = false
			continue
		}
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	return max - min
}

// Violations reports every VM currently placed on a host whose group count
// equals the group maximum, for each group whose spread exceeds 1. The result
// is deduplicated and ordered by group then placement, so repeated calls on
// the same snapshot yield the same list. With fewer than two active hosts the
// result is empty.
func (m *ConstraintManager) Violations() []*cluster.VM {
	if len(m.snap.Hosts()) < 2 {
		m.log.Infof("[ConstraintManager] Not enough active hosts (<2) to apply anti-affinity distribution rules.")
		return nil
	}

	var violations []*cluster.VM
	seen := make(map[string]bool)

	for _, key := range m.groupKeys {
		group := m.groups[key]
		counts := m.groupCounts(group)
		if spread(counts) <= 1 {
			continue
		}

		max := 0
		for _, c := range counts {
			if c > max {
				max = c
			}
		}
		m.log.Infof("[ConstraintManager] Anti-affinity violation for group '%s'. Host counts: %v", key, counts)

		for _, vm := range group {
			h := m.snap.HostOf(vm)
			if h == nil || counts[h.Name] != max || seen[vm.ID] {
				continue
			}
			seen[vm.ID] = true
			violations = append(violations, vm)
		}
	}

	m.log.Infof("[ConstraintManager] Total unique anti-affinity violations found: %d", len(violations))
	return violations
}

// AdjustedCounts returns the group counts for the given VM's group after
// applying the moves already planned this cycle: each planned move of a
// same-group VM decrements its original host's count and increments its
// target's. Counts are clamped at zero after adjustment.
func (m *ConstraintManager) AdjustedCounts(vm *cluster.VM, planned []Move) map[string]int {
	counts := m.groupCounts(m.Group(vm))
	key := m.groupKey(vm.Name)

	for _, plan := range planned {
		if m.groupKey(plan.VM.Name) != key {
			continue
		}
		if src := m.snap.HostOf(plan.VM); src != nil {
			counts[src.Name]--
			if counts[src.Name] < 0 {
				m.log.Warnf("[ConstraintManager] Corrected negative count for host %s to 0 after adjustment.", src.Name)
				counts[src.Name] = 0
			}
		}
		if _, ok := counts[plan.Target.Name]; ok {
			counts[plan.Target.Name]++
		}
	}
	return counts
}

// PreferredHost chooses a move destination that resolves the VM's group
// violation, reasoning over the base counts adjusted by the moves already
// planned this cycle. Selection is two-stage: first hosts that restore a
// spread of at most 1, then hosts whose count is strictly below the source's.
// Both stages pick the lowest current count and break ties by
// lexicographically smallest host name. Returns nil if neither stage finds
// a candidate.
func (m *ConstraintManager) PreferredHost(vm *cluster.VM, planned []Move) *cluster.Host {
	hosts := m.snap.Hosts()
	if len(hosts) < 2 {
		return nil
	}
	source := m.snap.HostOf(vm)
	if source == nil {
		m.log.Warnf("[ConstraintManager] Cannot determine valid source host for VM '%s'.", vm.Name)
		return nil
	}

	counts := m.AdjustedCounts(vm, planned)

	// Stage 1: hosts that restore perfect balance for the group
	var best *cluster.Host
	bestCount := -1
	for _, target := range hosts {
		if target.Name == source.Name {
			continue
		}
		simulated := make(map[string]int, len(counts))
		for name, c := range counts {
			simulated[name] = c
		}
		simulated[source.Name]--
		if simulated[source.Name] < 0 {
			simulated[source.Name] = 0
		}
		simulated[target.Name]++

		if spread(simulated) > 1 {
			continue
		}
		current := counts[target.Name]
		if best == nil || current < bestCount || (current == bestCount && target.Name < best.Name) {
			best = target
			bestCount = current
		}
	}
	if best != nil {
		m.log.Infof("[ConstraintManager] Found 'perfect balance' host '%s' for VM '%s'.", best.Name, vm.Name)
		return best
	}

	// Stage 2: any host strictly better than the source
	sourceCount := counts[source.Name]
	for _, target := range hosts {
		if target.Name == source.Name {
			continue
		}
		current := counts[target.Name]
		if current >= sourceCount {
			continue
		}
		if best == nil || current < bestCount || (current == bestCount && target.Name < best.Name) {
			best = target
			bestCount = current
		}
	}
	if best != nil {
		m.log.Infof("[ConstraintManager] Found 'better than source' host '%s' for VM '%s'.", best.Name, vm.Name)
	} else {
		m.log.Warnf("[ConstraintManager] No suitable host found for VM '%s' using either strategy.", vm.Name)
	}
	return best
}
