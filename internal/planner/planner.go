package planner

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/fdrs/internal/cluster"
)

// Reason records why a move was planned
type Reason string

const (
	ReasonAntiAffinity Reason = "anti-affinity"
	ReasonBalancing    Reason = "balancing"
)

// Move is one planned live migration
type Move struct {
	VM     *cluster.VM
	Target *cluster.Host
	Reason Reason
}

// Options configures a planning cycle
type Options struct {
	// Aggressiveness 1-5 selects the imbalance thresholds and how many VMs
	// per source host the balancing pass considers
	Aggressiveness int
	// MaxTotalMigrations caps the plan length (default 20)
	MaxTotalMigrations int
	// IgnoreAntiAffinity disables the anti-affinity safety check on
	// balancing moves
	IgnoreAntiAffinity bool
	// AntiAffinityOnly plans pure distribution: no balancing pass and no
	// resource fit checks on anti-affinity moves
	AntiAffinityOnly bool
	// Metrics restricts which resources the balancing pass considers.
	// Nil means all four.
	Metrics []Resource
	// CPUHighWatermark and MemoryHighWatermark are the hard-fit ceilings
	// for balancing moves (default 90)
	CPUHighWatermark    float64
	MemoryHighWatermark float64
	// IterationThresholdMultiplier relaxes thresholds across iterative
	// passes (default 1.05)
	IterationThresholdMultiplier float64
}

const (
	softFitCPUPercent = 95.0
	softFitMemPercent = 95.0
)

func (o Options) withDefaults() Options {
	if o.Aggressiveness == 0 {
		o.Aggressiveness = 3
	}
	if o.MaxTotalMigrations <= 0 {
		o.MaxTotalMigrations = 20
	}
	if o.CPUHighWatermark <= 0 {
		o.CPUHighWatermark = 90
	}
	if o.MemoryHighWatermark <= 0 {
		o.MemoryHighWatermark = 90
	}
	if o.IterationThresholdMultiplier <= 1 {
		o.IterationThresholdMultiplier = 1.05
	}
	return o
}

// Planner produces an ordered migration plan for one snapshot. Planning is a
// pure computation: the snapshot is never mutated, only parallel simulated
// load maps are.
type Planner struct {
	snap        *cluster.Snapshot
	constraints *ConstraintManager
	evaluator   *Evaluator
	opts        Options
	log         logrus.FieldLogger
}

// NewPlanner wires a planner from its collaborators
func NewPlanner(snap *cluster.Snapshot, cm *ConstraintManager, ev *Evaluator, opts Options, log logrus.FieldLogger) *Planner {
	return &Planner{
		snap:        snap,
		constraints: cm,
		evaluator:   ev,
		opts:        opts.withDefaults(),
		log:         log,
	}
}

// Plan runs one planning cycle: the anti-affinity pass, a simulation of its
// moves, the balancing pass over the simulated state, and deterministic
// truncation to the migration budget.
func (p *Planner) Plan() ([]Move, error) {
	p.log.Info("[MigrationPlanner] Starting migration planning cycle...")
	p.evaluator.InvalidateCache()

	scheduled := make(map[string]bool)
	moves := p.planAntiAffinity(scheduled)
	p.log.Infof("[MigrationPlanner] After anti-affinity, %d migrations planned.", len(moves))

	if !p.opts.AntiAffinityOnly {
		sim := p.simulate(moves)
		balancing := p.planBalancing(scheduled, sim, moves)
		moves = append(moves, balancing...)
		p.log.Infof("[MigrationPlanner] After resource balancing, %d balancing migrations planned. Total: %d.", len(balancing), len(moves))
	} else {
		p.log.Info("[MigrationPlanner] Anti-affinity only mode: skipping resource balancing phase.")
	}

	moves = p.truncate(moves)
	if err := p.validate(moves); err != nil {
		return nil, err
	}

	for i, mv := range moves {
		source := p.snap.HostOf(mv.VM)
		p.log.Infof("  %d. VM: %s, %s -> %s (%s)", i+1, mv.VM.Name, source.Name, mv.Target.Name, mv.Reason)
	}
	return moves, nil
}

// planAntiAffinity resolves anti-affinity violations in detection order.
// Violators whose group was already healed by earlier moves this pass are
// skipped. In default mode the chosen target must pass the soft fit check;
// in anti-affinity-only mode distribution wins over load and no fit check
// is applied.
func (p *Planner) planAntiAffinity(scheduled map[string]bool) []Move {
	var moves []Move

	for _, vm := range p.constraints.Violations() {
		if scheduled[vm.ID] {
			continue
		}
		if spread(p.constraints.AdjustedCounts(vm, moves)) <= 1 {
			p.log.Debugf("[MigrationPlanner] Group of VM '%s' already healed by planned moves. Skipping.", vm.Name)
			continue
		}

		target := p.constraints.PreferredHost(vm, moves)
		if target == nil {
			p.log.Warnf("[MigrationPlanner] No suitable preferred host found for anti-affinity violating VM '%s'.", vm.Name)
			continue
		}

		if !p.opts.AntiAffinityOnly && !p.fits(vm, target, softFitCPUPercent, softFitMemPercent) {
			p.log.Warnf("[MigrationPlanner] Target host '%s' for VM '%s' would exceed soft capacity thresholds (95%%). No anti-affinity migration planned.", target.Name, vm.Name)
			continue
		}

		moves = append(moves, Move{VM: vm, Target: target, Reason: ReasonAntiAffinity})
		scheduled[vm.ID] = true
	}
	return moves
}

// simulatedLoad is the per-host usage state after hypothetically applying a
// set of moves. Only CPU and memory are mutated by the simulation; disk and
// network percentages are carried through from the live snapshot.
type simulatedLoad struct {
	pct    Percentages
	byHost map[string]map[Resource]float64
}

func (p *Planner) simulate(moves []Move) *simulatedLoad {
	type absLoad struct{ cpu, mem float64 }
	loads := make(map[string]*absLoad, len(p.snap.Hosts()))
	for _, h := range p.snap.Hosts() {
		loads[h.ID] = &absLoad{cpu: h.Usage.CPUMHz, mem: h.Usage.MemoryMB}
	}

	for _, mv := range moves {
		if src := p.snap.HostOf(mv.VM); src != nil {
			loads[src.ID].cpu -= mv.VM.Usage.CPUMHz
			loads[src.ID].mem -= mv.VM.Usage.MemoryMB
		}
		if l, ok := loads[mv.Target.ID]; ok {
			l.cpu += mv.VM.Usage.CPUMHz
			l.mem += mv.VM.Usage.MemoryMB
		}
	}

	live := p.evaluator.PercentageLists()
	sim := &simulatedLoad{
		pct: Percentages{
			Disk:    live.Disk,
			Network: live.Network,
		},
		byHost: make(map[string]map[Resource]float64, len(p.snap.Hosts())),
	}

	for i, h := range p.snap.Hosts() {
		l := loads[h.ID]
		cpuPct, memPct := 0.0, 0.0
		if h.Capacity.CPUMHz > 0 {
			cpuPct = l.cpu / h.Capacity.CPUMHz * 100
		}
		if h.Capacity.MemoryMB > 0 {
			memPct = l.mem / h.Capacity.MemoryMB * 100
		}
		sim.pct.CPU = append(sim.pct.CPU, cpuPct)
		sim.pct.Memory = append(sim.pct.Memory, memPct)
		sim.byHost[h.Name] = map[Resource]float64{
			ResourceCPU:     cpuPct,
			ResourceMemory:  memPct,
			ResourceDisk:    live.Disk[i],
			ResourceNetwork: live.Network[i],
		}
	}
	return sim
}

// planBalancing moves VMs off hosts that drive the imbalance of a problematic
// resource, onto hosts that pass the hard fit check, keep every anti-affinity
// group within a spread of 1, and clear the ping-pong guard.
func (p *Planner) planBalancing(scheduled map[string]bool, sim *simulatedLoad, planned []Move) []Move {
	report := p.evaluator.EvaluateImbalance(p.opts.Metrics, p.opts.Aggressiveness, &sim.pct)

	var problematic []Resource
	for _, r := range AllResources {
		if detail, ok := report[r]; ok && detail.Imbalanced {
			problematic = append(problematic, r)
		}
	}
	if len(problematic) == 0 {
		p.log.Info("[MigrationPlanner] No resource marked as imbalanced after simulation. Skipping balancing moves.")
		return nil
	}
	p.log.Infof("[MigrationPlanner] Problematic resources identified for balancing: %v", problematic)

	thresholds := p.evaluator.Thresholds(p.opts.Aggressiveness)

	var moves []Move
	safety := make([]Move, len(planned))
	copy(safety, planned)

	for _, source := range p.snap.Hosts() {
		metrics := sim.byHost[source.Name]

		var hint Resource
		candidate := false
		for _, r := range problematic {
			detail := report[r]
			usage := metrics[r]
			aboveAverage := usage > detail.Avg+thresholds[r]/2
			amongMostLoaded := usage >= detail.Max*0.95
			if aboveAverage && amongMostLoaded && usage > 0 {
				candidate = true
				if hint == "" {
					hint = r
				}
			}
		}
		if !candidate {
			continue
		}
		p.log.Infof("[MigrationPlanner] Host '%s' is a candidate source (hint: %s).", source.Name, hint)

		for _, vm := range p.selectVMsToMove(source, hint, scheduled) {
			target := p.findBetterHost(vm, source, metrics, hint, problematic, sim.byHost, thresholds, safety)
			if target == nil {
				p.log.Infof("[MigrationPlanner] No suitable balancing target found for VM '%s' from host '%s'.", vm.Name, source.Name)
				continue
			}
			mv := Move{VM: vm, Target: target, Reason: ReasonBalancing}
			moves = append(moves, mv)
			safety = append(safety, mv)
			scheduled[vm.ID] = true
			p.log.Infof("[MigrationPlanner] Planned balancing migration: move VM '%s' from '%s' to '%s'.", vm.Name, source.Name, target.Name)
		}
	}
	return moves
}

// selectVMsToMove returns up to Aggressiveness VMs resident on the host,
// excluding VMs already scheduled this cycle, ranked by their usage of the
// hint resource (CPU+memory combined when the hint is disk or network).
func (p *Planner) selectVMsToMove(host *cluster.Host, hint Resource, scheduled map[string]bool) []*cluster.VM {
	var candidates []*cluster.VM
	for _, vm := range p.snap.VMsOn(host.ID) {
		if scheduled[vm.ID] {
			continue
		}
		candidates = append(candidates, vm)
	}

	rank := func(vm *cluster.VM) float64 {
		switch hint {
		case ResourceCPU:
			return vm.Usage.CPUMHz
		case ResourceMemory:
			return vm.Usage.MemoryMB
		default:
			return vm.Usage.CPUMHz + vm.Usage.MemoryMB
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return rank(candidates[i]) > rank(candidates[j])
	})

	if len(candidates) > p.opts.Aggressiveness {
		candidates = candidates[:p.opts.Aggressiveness]
	}
	return candidates
}

// findBetterHost scores every other host for a balancing move and returns the
// best, or nil. Candidates must pass the hard fit check, keep all groups at a
// spread of at most 1 (unless IgnoreAntiAffinity), and undercut the source's
// usage of the hint resource by at least a third of its threshold.
func (p *Planner) findBetterHost(vm *cluster.VM, source *cluster.Host, sourceMetrics map[Resource]float64,
	hint Resource, problematic []Resource, byHost map[string]map[Resource]float64,
	thresholds map[Resource]float64, planned []Move) *cluster.Host {

	var best *cluster.Host
	bestScore := 0.0

	for _, target := range p.snap.Hosts() {
		if target.Name == source.Name {
			continue
		}
		if !p.fits(vm, target, p.opts.CPUHighWatermark, p.opts.MemoryHighWatermark) {
			continue
		}
		if !p.opts.IgnoreAntiAffinity && !p.antiAffinitySafe(vm, target, planned) {
			p.log.Debugf("[MigrationPlanner] Host '%s' skipped for VM '%s' due to anti-affinity rules.", target.Name, vm.Name)
			continue
		}

		metrics := byHost[target.Name]

		// Ping-pong guard: the target must be meaningfully better on the
		// primary imbalanced resource, or the move just migrates the problem.
		if hint != "" {
			if !(metrics[hint] < sourceMetrics[hint]-thresholds[hint]/3) {
				continue
			}
		}

		score := 0.0
		for _, r := range problematic {
			score += 100 - metrics[r]
		}
		if score > bestScore {
			best = target
			bestScore = score
		}
	}
	return best
}

// fits checks projected CPU and memory percentages on the target against the
// given ceilings. Projections are taken from the live snapshot state.
func (p *Planner) fits(vm *cluster.VM, target *cluster.Host, cpuLimit, memLimit float64) bool {
	cpuPct := 100.0
	if target.Capacity.CPUMHz > 0 {
		cpuPct = (target.Usage.CPUMHz + vm.Usage.CPUMHz) / target.Capacity.CPUMHz * 100
	}
	memPct := 100.0
	if target.Capacity.MemoryMB > 0 {
		memPct = (target.Usage.MemoryMB + vm.Usage.MemoryMB) / target.Capacity.MemoryMB * 100
	}

	if cpuPct > cpuLimit {
		p.log.Infof("[MigrationPlanner] VM '%s' would not fit on host '%s' due to CPU (proj: %.1f%% > max: %.1f%%)", vm.Name, target.Name, cpuPct, cpuLimit)
		return false
	}
	if memPct > memLimit {
		p.log.Infof("[MigrationPlanner] VM '%s' would not fit on host '%s' due to memory (proj: %.1f%% > max: %.1f%%)", vm.Name, target.Name, memPct, memLimit)
		return false
	}
	return true
}

// antiAffinitySafe simulates all moves chosen this cycle plus the candidate
// one and verifies the VM's group still satisfies a spread of at most 1.
func (p *Planner) antiAffinitySafe(vm *cluster.VM, target *cluster.Host, planned []Move) bool {
	group := p.constraints.Group(vm)
	if len(group) == 0 || len(p.snap.Hosts()) < 2 {
		return true
	}

	plannedLocations := make(map[string]string, len(planned))
	for _, mv := range planned {
		plannedLocations[mv.VM.ID] = mv.Target.Name
	}

	counts := make(map[string]int, len(p.snap.Hosts()))
	for _, h := range p.snap.Hosts() {
		counts[h.Name] = 0
	}
	for _, member := range group {
		var hostName string
		switch {
		case member.ID == vm.ID:
			hostName = target.Name
		default:
			if name, ok := plannedLocations[member.ID]; ok {
				hostName = name
			} else if h := p.snap.HostOf(member); h != nil {
				hostName = h.Name
			}
		}
		if _, ok := counts[hostName]; ok {
			counts[hostName]++
		}
	}

	safe := spread(counts) <= 1
	if !safe {
		p.log.Debugf("[MigrationPlanner] VM '%s' to host '%s' is not anti-affinity safe. Counts: %v", vm.Name, target.Name, counts)
	}
	return safe
}

// truncate enforces the migration budget: anti-affinity moves first in
// original order, balancing moves filling remaining slots in order.
func (p *Planner) truncate(moves []Move) []Move {
	if len(moves) <= p.opts.MaxTotalMigrations {
		return moves
	}
	p.log.Warnf("[MigrationPlanner] Planned migrations (%d) exceed max limit (%d). Truncating.", len(moves), p.opts.MaxTotalMigrations)

	var aa, balancing []Move
	for _, mv := range moves {
		if mv.Reason == ReasonAntiAffinity {
			aa = append(aa, mv)
		} else {
			balancing = append(balancing, mv)
		}
	}

	if len(aa) >= p.opts.MaxTotalMigrations {
		return aa[:p.opts.MaxTotalMigrations]
	}
	remaining := p.opts.MaxTotalMigrations - len(aa)
	if remaining > len(balancing) {
		remaining = len(balancing)
	}
	return append(aa, balancing[:remaining]...)
}

// validate guards the plan invariants: no duplicate VMs, every target in the
// snapshot and distinct from the VM's current host. A failure here is an
// internal error, not a domain-level "no solution".
func (p *Planner) validate(moves []Move) error {
	seen := make(map[string]bool, len(moves))
	for _, mv := range moves {
		if seen[mv.VM.ID] {
			return fmt.Errorf("planner: VM %s appears more than once in the plan", mv.VM.Name)
		}
		seen[mv.VM.ID] = true
		if p.snap.HostByID(mv.Target.ID) == nil {
			return fmt.Errorf("planner: target host %s for VM %s is not in the snapshot", mv.Target.Name, mv.VM.Name)
		}
		if mv.Target.ID == mv.VM.HostID {
			return fmt.Errorf("planner: VM %s is already on target host %s", mv.VM.Name, mv.Target.Name)
		}
	}
	return nil
}
