package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/compactor/pkg/cluster"
	"github.com/cuemby/compactor/pkg/config"
	"github.com/cuemby/compactor/pkg/events"
	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/scheduler"
	"github.com/cuemby/compactor/pkg/storage"
	"github.com/cuemby/compactor/pkg/telemetry"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded once before any subcommand runs
var cfg config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "compactor",
	Short: "Compactor - weighted major compaction scheduler",
	Long: `Compactor schedules major compactions across the nodes of a
region-sharded store. Regions are ranked by weight, admitted per node
under a parallelism bound and held back while a node's compaction or
flush queue is too deep.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level, _ = cmd.Flags().GetString("log-level")
		}
		if cmd.Flags().Changed("log-json") {
			loaded.Log.JSON, _ = cmd.Flags().GetBool("log-json")
		}
		if cmd.Flags().Changed("catalog") {
			loaded.Catalog.Path, _ = cmd.Flags().GetString("catalog")
		}

		log.Init(log.Config{
			Level:      log.Level(loaded.Log.Level),
			JSONOutput: loaded.Log.JSON,
			Output:     os.Stderr,
		})
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Compactor version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")
	rootCmd.PersistentFlags().String("catalog", "", "Catalog file (overrides catalog.path)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Compactor version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// instance is a wired scheduler with everything it owns
type instance struct {
	catalog   *storage.Catalog
	gossip    *cluster.GossipMembership
	broker    *events.Broker
	scheduler *scheduler.Scheduler
}

// openInstance opens the catalog, joins gossip when enabled and builds
// the scheduler on top of them
func openInstance(cfg config.Config) (*instance, error) {
	catalog, err := storage.OpenCatalog(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	inst := &instance{catalog: catalog, broker: events.NewBroker()}

	source := telemetry.NewJMXSourceFunc(cfg.Telemetry)
	if cfg.Telemetry.Source == "catalog" {
		source = catalog.QueueSource()
	}
	probes := telemetry.NewFactory(source, telemetry.PolicyFromConfig(cfg.Telemetry))

	opts := []scheduler.Option{scheduler.WithEvents(inst.broker)}
	if cfg.Gossip.Enabled {
		inst.gossip, err = cluster.NewGossipMembership(cfg.Gossip)
		if err != nil {
			catalog.Close()
			return nil, err
		}
		opts = append(opts, scheduler.WithMembership(inst.gossip))
	}

	inst.broker.Start()
	inst.scheduler = scheduler.New(cfg, catalog, probes, opts...)
	return inst, nil
}

// close shuts down in reverse order of openInstance
func (i *instance) close() {
	logger := log.WithComponent("cli")
	if err := i.scheduler.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close scheduler")
	}
	i.broker.Stop()
	if i.gossip != nil {
		if err := i.gossip.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("Failed to leave gossip cluster")
		}
	}
	if err := i.catalog.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close catalog")
	}
}
