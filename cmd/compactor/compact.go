package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/compactor/pkg/types"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact a fixed set of regions and exit",
	Long: `Compact runs one bounded pass over the selected regions. Every
region is compacted once, whatever its weight, and the command returns
when all of them have finished. Interrupting stops admission and waits
for the compactions already running.`,
}

var compactRegionsCmd = &cobra.Command{
	Use:   "regions REGION...",
	Short: "Compact the named regions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bounded(func(ctx context.Context, inst *instance) error {
			regions := make([]types.RegionLocation, 0, len(args))
			for _, id := range args {
				r, err := inst.catalog.GetRegion(types.RegionID(id))
				if err != nil {
					return err
				}
				regions = append(regions, r.Location())
			}
			return inst.scheduler.CompactRegions(ctx, regions)
		})
	},
}

var compactTablesCmd = &cobra.Command{
	Use:   "tables TABLE...",
	Short: "Compact every region of the named tables",
	Long: `Compact every region of the named tables. A table without a
namespace prefix is looked up in the default namespace.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tables := make([]types.TableName, 0, len(args))
		for _, name := range args {
			tables = append(tables, types.QualifiedTableName(name))
		}
		return bounded(func(ctx context.Context, inst *instance) error {
			return inst.scheduler.CompactTables(ctx, tables)
		})
	},
}

var compactNamespacesCmd = &cobra.Command{
	Use:   "namespaces NAMESPACE...",
	Short: "Compact every region of every table in the namespaces",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bounded(func(ctx context.Context, inst *instance) error {
			return inst.scheduler.CompactNamespaces(ctx, args)
		})
	},
}

var compactNodeCmd = &cobra.Command{
	Use:   "node NODE",
	Short: "Compact every region served by one live node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bounded(func(ctx context.Context, inst *instance) error {
			return inst.scheduler.CompactNode(ctx, types.NodeID(args[0]))
		})
	},
}

func init() {
	compactCmd.AddCommand(compactRegionsCmd)
	compactCmd.AddCommand(compactTablesCmd)
	compactCmd.AddCommand(compactNamespacesCmd)
	compactCmd.AddCommand(compactNodeCmd)
}

// bounded opens an instance and runs op until it returns or the process
// is interrupted
func bounded(op func(ctx context.Context, inst *instance) error) error {
	inst, err := openInstance(cfg)
	if err != nil {
		return err
	}
	defer inst.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := op(ctx, inst); err != nil {
		return fmt.Errorf("compaction finished with errors: %w", err)
	}
	fmt.Println("✓ Compaction complete")
	return nil
}
