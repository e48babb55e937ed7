package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/yourusername/fdrs/internal/planner"
	"github.com/yourusername/fdrs/internal/vsphere"
)

// Scheduler executes a migration plan against vCenter. Moves are submitted
// strictly in plan order: the planner has already reasoned about each move's
// effect on the feasibility of its successors. A failed move is logged and
// the remaining moves still run.
type Scheduler struct {
	client  *vsphere.Client
	dryRun  bool
	timeout time.Duration
	log     logrus.FieldLogger
}

// New creates a scheduler. timeout bounds each individual relocation task.
func New(client *vsphere.Client, dryRun bool, timeout time.Duration, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{client: client, dryRun: dryRun, timeout: timeout, log: log}
}

// Execute submits every move in order and returns the number that succeeded
func (s *Scheduler) Execute(ctx context.Context, moves []planner.Move) int {
	if len(moves) == 0 {
		s.log.Info("[Scheduler] No migrations to execute.")
		return 0
	}
	s.log.Infof("[Scheduler] Executing %d migrations...", len(moves))

	succeeded := 0
	for _, mv := range moves {
		if s.dryRun {
			s.log.Infof("[Scheduler] DRY-RUN: would migrate VM '%s' to host '%s'.", mv.VM.Name, mv.Target.Name)
			succeeded++
			continue
		}
		if err := s.relocate(ctx, mv); err != nil {
			s.log.Errorf("[Scheduler] FAILED: migration of '%s' to '%s': %v", mv.VM.Name, mv.Target.Name, err)
			continue
		}
		s.log.Infof("[Scheduler] SUCCESS: migration of '%s' to '%s' completed.", mv.VM.Name, mv.Target.Name)
		succeeded++
	}
	return succeeded
}

func (s *Scheduler) relocate(ctx context.Context, mv planner.Move) error {
	vmRef := types.ManagedObjectReference{Type: "VirtualMachine", Value: mv.VM.ID}
	hostRef := types.ManagedObjectReference{Type: "HostSystem", Value: mv.Target.ID}

	vm := object.NewVirtualMachine(s.client.Client.Client, vmRef)
	spec := types.VirtualMachineRelocateSpec{Host: &hostRef}

	taskCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	task, err := vm.Relocate(taskCtx, spec, types.VirtualMachineMovePriorityDefaultPriority)
	if err != nil {
		return err
	}
	return task.Wait(taskCtx)
}
