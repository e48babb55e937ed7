package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yourusername/fdrs/internal/config"
	"github.com/yourusername/fdrs/internal/planner"
	"github.com/yourusername/fdrs/internal/scheduler"
	"github.com/yourusername/fdrs/internal/ui"
	"github.com/yourusername/fdrs/internal/vsphere"
)

var (
	flagVCenter            string
	flagUsername           string
	flagPassword           string
	flagInsecure           bool
	flagCluster            string
	flagConfig             string
	flagAggressiveness     int
	flagMetrics            string
	flagMaxMigrations      int
	flagApplyAntiAffinity  bool
	flagIgnoreAntiAffinity bool
	flagIterative          bool
	flagMaxIterations      int
	flagDryRun             bool
	flagInteractive        bool
	flagNoCache            bool
)

func main() {
	root := &cobra.Command{
		Use:           "fdrs",
		Short:         "FDRS - Fully Distributed Resource Scheduler",
		Long:          "Plans and executes live migrations that satisfy anti-affinity distribution and reduce resource-usage imbalance across a vSphere cluster.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	root.Flags().StringVar(&flagVCenter, "vcenter", "", "vCenter hostname or IP address (required)")
	root.Flags().StringVar(&flagUsername, "username", "", "vCenter username (required)")
	root.Flags().StringVar(&flagPassword, "password", "", "vCenter password (prompted if not provided)")
	root.Flags().BoolVar(&flagInsecure, "insecure", false, "Skip TLS certificate verification")
	root.Flags().StringVar(&flagCluster, "cluster", "", "Specific cluster name to balance (default: all clusters)")
	root.Flags().StringVar(&flagConfig, "config", "config/fdrs_config.yaml", "Path to the configuration file")
	root.Flags().IntVar(&flagAggressiveness, "aggressiveness", 3, "Aggressiveness level (1-5)")
	root.Flags().StringVar(&flagMetrics, "metrics", "cpu,memory,disk,network", "Comma-separated metrics to balance")
	root.Flags().IntVar(&flagMaxMigrations, "max-migrations", 0, "Maximum total migrations in a single run (default from config)")
	root.Flags().BoolVar(&flagApplyAntiAffinity, "apply-anti-affinity", false, "Apply anti-affinity rules only")
	root.Flags().BoolVar(&flagIgnoreAntiAffinity, "ignore-anti-affinity", false, "Ignore anti-affinity rules for resource balancing")
	root.Flags().BoolVar(&flagIterative, "iterative", false, "Re-plan until convergence or the iteration cap")
	root.Flags().IntVar(&flagMaxIterations, "max-iterations", 3, "Maximum planning iterations with --iterative")
	root.Flags().BoolVar(&flagDryRun, "dry-run", false, "Plan but do not execute migrations")
	root.Flags().BoolVar(&flagInteractive, "interactive", false, "Review the plan in a terminal UI before executing")
	root.Flags().BoolVar(&flagNoCache, "no-io-cache", false, "Disable the persistent I/O reading cache")
	_ = root.MarkFlagRequired("vcenter")
	_ = root.MarkFlagRequired("username")

	if err := root.Execute(); err != nil {
		logrus.Errorf("An error occurred: %v", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	cfg := config.Load(flagConfig, log)
	configureLogging(log, cfg.Logging)
	cfg.LogSummary(log)

	if flagApplyAntiAffinity && flagIgnoreAntiAffinity {
		log.Warn("[Main] Conflicting flags: --apply-anti-affinity and --ignore-anti-affinity cannot be used together.")
		log.Warn("[Main] Resolution: ignoring --ignore-anti-affinity. Running in anti-affinity-only mode.")
		flagIgnoreAntiAffinity = false
	}

	metrics, err := parseMetrics(flagMetrics)
	if err != nil {
		return err
	}
	if flagAggressiveness < 1 || flagAggressiveness > 5 {
		return fmt.Errorf("aggressiveness must be between 1 and 5, got %d", flagAggressiveness)
	}

	if flagPassword == "" {
		fmt.Fprint(os.Stderr, "vCenter Password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		flagPassword = string(raw)
	}

	log.Info("[Main] Starting FDRS...")
	if flagIterative {
		log.Infof("[Main] Iterative mode: ENABLED (maximum iterations: %d)", flagMaxIterations)
	}
	if flagCluster != "" {
		log.Infof("[Main] Targeting cluster: '%s'", flagCluster)
	} else {
		log.Info("[Main] Targeting all clusters in vCenter")
	}

	ctx := context.Background()
	client, err := vsphere.Connect(ctx, flagVCenter, flagUsername, flagPassword, flagInsecure)
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)

	var ioCache *vsphere.IOCache
	if !flagNoCache {
		ioCache, err = vsphere.OpenIOCache(vsphere.DefaultCachePath(), log)
		if err != nil {
			log.Warnf("[Main] I/O cache unavailable: %v. Continuing without it.", err)
		} else {
			defer ioCache.Close()
			_ = ioCache.Cleanup()
		}
	}

	collector := vsphere.NewCollector(client, cfg, ioCache, log)
	inventories, err := collector.Collect(ctx, flagCluster)
	if err != nil {
		return err
	}
	if len(inventories) == 0 {
		return fmt.Errorf("no connected hosts found")
	}

	maxMigrations := flagMaxMigrations
	if maxMigrations <= 0 {
		maxMigrations = cfg.Migration.DefaultMaxMigrations
	}
	opts := planner.Options{
		Aggressiveness:      flagAggressiveness,
		MaxTotalMigrations:  maxMigrations,
		IgnoreAntiAffinity:  flagIgnoreAntiAffinity,
		AntiAffinityOnly:    flagApplyAntiAffinity,
		Metrics:             metrics,
		CPUHighWatermark:    cfg.Migration.HostCPUHighWatermarkPercent,
		MemoryHighWatermark: cfg.Migration.HostMemoryHighWatermarkPercent,
	}

	sched := scheduler.New(client, flagDryRun,
		time.Duration(cfg.Migration.MigrationTimeoutSeconds)*time.Second, log)

	for _, inv := range inventories {
		if err := planCluster(ctx, inv, opts, cfg, sched, log); err != nil {
			return err
		}
	}
	return nil
}

// planCluster plans (and, if approved, executes) migrations for one cluster
func planCluster(ctx context.Context, inv vsphere.Inventory, opts planner.Options, cfg config.Config, sched *scheduler.Scheduler, log logrus.FieldLogger) error {
	log.Infof("[Main] Planning cluster '%s' (%d hosts, %d VMs)...", inv.Cluster, len(inv.Snapshot.Hosts()), len(inv.Snapshot.VMs()))

	var moves []planner.Move
	var err error
	if flagIterative {
		moves, err = planner.NewIterativeController(inv.Snapshot, opts, log).Plan(flagMaxIterations)
	} else {
		cm := planner.NewConstraintManager(inv.Snapshot, log)
		cm.SetPrefixCaching(cfg.PrefixCacheEnabled())
		ev := planner.NewEvaluator(inv.Snapshot.Hosts(), log)
		ev.SetCaching(cfg.PercentageCacheEnabled())
		moves, err = planner.NewPlanner(inv.Snapshot, cm, ev, opts, log).Plan()
	}
	if err != nil {
		return err
	}
	if len(moves) == 0 {
		log.Infof("[Main] Cluster '%s': no actionable migrations found or needed at this time.", inv.Cluster)
		return nil
	}
	log.Infof("[Main] Cluster '%s': found %d migration(s) to perform.", inv.Cluster, len(moves))

	if flagInteractive {
		placements := make(map[string]string, len(moves))
		for _, mv := range moves {
			placements[mv.VM.ID] = mv.Target.ID
		}
		after := inv.Snapshot.WithPlacements(placements, log)

		beforeRep := planner.NewEvaluator(inv.Snapshot.Hosts(), log).EvaluateImbalance(opts.Metrics, opts.Aggressiveness, nil)
		afterRep := planner.NewEvaluator(after.Hosts(), log).EvaluateImbalance(opts.Metrics, opts.Aggressiveness, nil)

		approved, err := ui.Review(inv.Cluster, inv.Snapshot, after, beforeRep, afterRep, moves)
		if err != nil {
			return err
		}
		if !approved {
			log.Infof("[Main] Plan for cluster '%s' not approved. Skipping execution.", inv.Cluster)
			return nil
		}
	}

	sched.Execute(ctx, moves)
	return nil
}

func configureLogging(log *logrus.Logger, lc config.LoggingConfig) {
	if level, err := logrus.ParseLevel(lc.Level); err == nil {
		log.SetLevel(level)
	}
	if lc.File != "" {
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Warnf("[Main] Failed to open log file %s: %v. Logging to stdout.", lc.File, err)
			return
		}
		log.SetOutput(f)
	}
}

func parseMetrics(s string) ([]planner.Resource, error) {
	var metrics []planner.Resource
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r := planner.Resource(part)
		switch r {
		case planner.ResourceCPU, planner.ResourceMemory, planner.ResourceDisk, planner.ResourceNetwork:
			metrics = append(metrics, r)
		default:
			return nil, fmt.Errorf("unknown metric %q (valid: cpu, memory, disk, network)", part)
		}
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("at least one metric must be selected")
	}
	return metrics, nil
}
