package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/replicator/pkg/config"
	"github.com/cuemby/replicator/pkg/events"
	"github.com/cuemby/replicator/pkg/health"
	"github.com/cuemby/replicator/pkg/log"
	"github.com/cuemby/replicator/pkg/metrics"
	"github.com/cuemby/replicator/pkg/scheduler"
	"github.com/cuemby/replicator/pkg/storage"
	"github.com/cuemby/replicator/pkg/topology"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "replicator",
	Short: "Replicator - data replication scheduler",
	Long: `Replicator turns replication requests into transfers on site-to-site
channels. Each file gets a replication tree chosen from the channels' queue
depth and observed throughput, and is placed on the channel queues of
that tree.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log.Init(log.Config{
			Level:      log.ParseLevel(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
			Output:     os.Stderr,
		})
		return nil
	},
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Replicator version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides the configuration)")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config, or the defaults when no file is given
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openStore opens the BoltDB store under the configured data directory
func openStore(cfg *config.Config) (*storage.BoltStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

// newScheduler wires the scheduler to the store and the configured topology
func newScheduler(cfg *config.Config, store *storage.BoltStore, topo *topology.Topology, opts ...scheduler.Option) (*scheduler.Scheduler, error) {
	strategyCfg, err := cfg.StrategyConfig()
	if err != nil {
		return nil, err
	}
	return scheduler.NewScheduler(scheduler.Config{
		Interval:          cfg.Interval,
		ObservationWindow: cfg.Scheduler.ObservationWindow,
		Strategy:          strategyCfg,
		Seed:              cfg.Scheduler.Seed,
	}, scheduler.Dependencies{
		Requests: store,
		Channels: store,
		Replicas: topology.NewReplicaResolver(store, topo),
		Topology: topo,
	}, opts...)
}

// newMonitor builds the SE endpoint monitor, or nil when probing is disabled
func newMonitor(cfg *config.Config, topo *topology.Topology) (*health.Monitor, error) {
	targets, err := cfg.ProbeTargets()
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}
	return health.NewMonitor(topo, cfg.HealthConfig(), targets), nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler periodically",
	Long: `Run scheduling cycles every configured interval until interrupted.

Metrics and health endpoints are served on metrics_addr when it is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			metrics.ObserveError(metrics.ComponentStore, err)
			return err
		}
		defer store.Close()
		metrics.ObserveError(metrics.ComponentStore, nil)
		metrics.SetVersion(Version)

		n, err := store.RequeueAssigned(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to requeue assigned requests: %w", err)
		}
		if n > 0 {
			log.Logger.Info().Int("requests", n).Msg("Requeued requests from an interrupted cycle")
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()
		go logEvents(broker.Subscribe())

		topo := cfg.Topology()
		monitor, err := newMonitor(cfg, topo)
		if err != nil {
			return err
		}
		if monitor != nil {
			monitor.Start()
			defer monitor.Stop()
		}

		sched, err := newScheduler(cfg, store, topo, scheduler.WithBroker(broker))
		if err != nil {
			return err
		}

		collector := metrics.NewCollector(store, 15*time.Second)
		collector.Start()
		defer collector.Stop()

		errCh := make(chan error, 1)
		var srv *http.Server
		if cfg.MetricsAddr != "" {
			srv = newMetricsServer(cfg.MetricsAddr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("metrics server error: %w", err)
				}
			}()
			fmt.Printf("✓ Metrics listening on %s\n", cfg.MetricsAddr)
		}

		sched.Start()
		fmt.Printf("✓ Scheduler started (interval %s)\n", cfg.Interval)
		fmt.Println("Press Ctrl+C to stop.")

		// Wait for interrupt signal or server error
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		sched.Stop()
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func logEvents(sub events.Subscriber) {
	for ev := range sub {
		e := log.Logger.Debug().Str("event", string(ev.Type))
		for k, v := range ev.Metadata {
			e = e.Str(k, v)
		}
		e.Msg(ev.Message)
	}
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single scheduling cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		topo := cfg.Topology()
		monitor, err := newMonitor(cfg, topo)
		if err != nil {
			return err
		}
		if monitor != nil {
			// One probe round so a dead door is banned before routing
			monitor.CheckAll(cmd.Context())
		}

		sched, err := newScheduler(cfg, store, topo)
		if err != nil {
			return err
		}
		report, err := sched.RunCycle(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("✓ Cycle completed in %s\n", report.Duration.Round(time.Millisecond))
		fmt.Printf("  Requests:         %d\n", report.Requests)
		fmt.Printf("  Files scheduled:  %d\n", report.FilesScheduled)
		fmt.Printf("  Files done:       %d\n", report.FilesDone)
		fmt.Printf("  Files skipped:    %d\n", report.FilesSkipped)
		fmt.Printf("  Persist failures: %d\n", report.PersistFailures)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Replicator version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
