package planner

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/fdrs/internal/cluster"
)

// IterativeController re-plans until the cluster has no anti-affinity
// violations and is balanced, or a maximum iteration count is reached. Each
// pass runs against a snapshot advanced by the simulated application of all
// moves accumulated so far; later passes relax the balancing thresholds to
// avoid oscillation.
type IterativeController struct {
	snap *cluster.Snapshot
	opts Options
	log  logrus.FieldLogger
}

// NewIterativeController creates a controller for the given snapshot
func NewIterativeController(snap *cluster.Snapshot, opts Options, log logrus.FieldLogger) *IterativeController {
	return &IterativeController{snap: snap, opts: opts.withDefaults(), log: log}
}

// Plan runs up to maxIterations planning passes and returns the accumulated
// plan. Convergence is not guaranteed on a resource-constrained cluster; when
// the controller exits without converging the partial plan is still returned,
// with a warning reciting the remaining violations and imbalance.
func (c *IterativeController) Plan(maxIterations int) ([]Move, error) {
	c.log.Infof("[IterativeController] Starting iterative planning (max %d iterations)...", maxIterations)

	var accumulated []Move
	snap := c.snap

	for iteration := 1; iteration <= maxIterations; iteration++ {
		cm := NewConstraintManager(snap, c.log)
		ev := NewEvaluator(snap.Hosts(), c.log)

		violations := cm.Violations()
		balanced := ev.IsBalanced(c.opts.Metrics, c.opts.Aggressiveness, nil)
		c.log.Infof("[IterativeController] Iteration %d/%d: violations=%d, balanced=%v", iteration, maxIterations, len(violations), balanced)

		if len(violations) == 0 && balanced {
			c.log.Infof("[IterativeController] Converged at iteration %d: no violations, cluster is balanced. Total migrations: %d", iteration, len(accumulated))
			return accumulated, nil
		}

		opts := c.opts
		if iteration > 1 {
			relaxed := int(float64(c.opts.Aggressiveness) / math.Pow(c.opts.IterationThresholdMultiplier, float64(iteration-1)))
			if relaxed < 1 {
				relaxed = 1
			}
			opts.Aggressiveness = relaxed
			c.log.Infof("[IterativeController] Iteration %d: adjusted aggressiveness from %d to %d (looser thresholds)", iteration, c.opts.Aggressiveness, relaxed)
		}

		moves, err := NewPlanner(snap, cm, ev, opts, c.log).Plan()
		if err != nil {
			return accumulated, err
		}
		ev.InvalidateCache()

		if len(moves) == 0 {
			c.log.Infof("[IterativeController] No migrations produced at iteration %d. Stopping.", iteration)
			break
		}
		accumulated = append(accumulated, moves...)

		placements := make(map[string]string, len(moves))
		for _, mv := range moves {
			placements[mv.VM.ID] = mv.Target.ID
		}
		snap = snap.WithPlacements(placements, c.log)
	}

	cm := NewConstraintManager(snap, c.log)
	ev := NewEvaluator(snap.Hosts(), c.log)
	remaining := cm.Violations()
	balanced := ev.IsBalanced(c.opts.Metrics, c.opts.Aggressiveness, nil)

	if len(remaining) > 0 || !balanced {
		c.log.Warnf("[IterativeController] Iterative planning finished without convergence: %d anti-affinity violations remain, balanced=%v (cluster may be resource-constrained). Total migrations: %d",
			len(remaining), balanced, len(accumulated))
	}
	return accumulated, nil
}
