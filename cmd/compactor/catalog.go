package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/compactor/pkg/storage"
	"github.com/cuemby/compactor/pkg/weight"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the cluster catalog",
	Long: `The catalog is a bbolt file describing the cluster's nodes and
regions. It backs every command when no live cluster is attached.`,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load nodes and regions from a YAML seed file",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		seed, err := storage.LoadSeed(file)
		if err != nil {
			return err
		}
		return withCatalog(func(c *storage.Catalog) error {
			if err := c.Import(seed); err != nil {
				return err
			}
			fmt.Printf("✓ Imported %d nodes and %d regions into %s\n", len(seed.Nodes), len(seed.Regions), cfg.Catalog.Path)
			return nil
		})
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes and regions with their current weight",
	RunE: func(cmd *cobra.Command, args []string) error {
		model := weight.New(cfg.Weight)
		return withCatalog(func(c *storage.Catalog) error {
			nodes, err := c.ListNodes()
			if err != nil {
				return err
			}
			regions, err := c.ListRegions()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NODE\tLIVE\tCOMPACTION QUEUE\tFLUSH QUEUE")
			for _, n := range nodes {
				fmt.Fprintf(w, "%s\t%t\t%d\t%d\n", n.ID, n.Live, n.CompactionQueue, n.FlushQueue)
			}
			fmt.Fprintln(w)

			now := time.Now()
			fmt.Fprintln(w, "REGION\tTABLE\tNODE\tFILES\tSIZE MB\tLOCALITY\tWEIGHT\tCOMPACTING")
			for _, r := range regions {
				if r.Unreported {
					fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\t-\t%t\n", r.ID, r.Table, r.Node, r.Compacting(now))
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.2f\t%.2f\t%t\n",
					r.ID, r.Table, r.Node, r.StoreFileCount, r.StoreFileSizeMB, r.Locality,
					model.Score(r.Metrics()), r.Compacting(now))
			}
			return w.Flush()
		})
	},
}

var catalogHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show requested compactions, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(c *storage.Catalog) error {
			history, err := c.ListCompactions()
			if err != nil {
				return err
			}
			if len(history) == 0 {
				fmt.Println("No compactions recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tREGION\tNODE\tREQUESTED\tSETTLED")
			for _, h := range history {
				settled := "-"
				if !h.SettledAt.IsZero() {
					settled = h.SettledAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", h.Seq, h.Region, h.Node, h.RequestedAt.Format(time.RFC3339), settled)
			}
			return w.Flush()
		})
	},
}

var catalogBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a consistent copy of the catalog file",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = fmt.Sprintf("%s.backup-%s", cfg.Catalog.Path, time.Now().Format("20060102-150405"))
		}

		return withCatalog(func(c *storage.Catalog) error {
			f, err := os.OpenFile(output, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
			if err != nil {
				return fmt.Errorf("failed to create backup file: %w", err)
			}
			n, err := c.Backup(f)
			if err != nil {
				f.Close()
				os.Remove(output)
				return fmt.Errorf("failed to write backup: %w", err)
			}
			if err := f.Sync(); err != nil {
				f.Close()
				return fmt.Errorf("failed to sync backup: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Printf("✓ Backup written to %s (%d bytes)\n", output, n)
			return nil
		})
	},
}

func init() {
	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogHistoryCmd)
	catalogCmd.AddCommand(catalogBackupCmd)

	catalogImportCmd.Flags().StringP("file", "f", "", "YAML seed file")
	catalogBackupCmd.Flags().StringP("output", "o", "", "Backup file (default: <catalog>.backup-<timestamp>)")
}

func withCatalog(fn func(c *storage.Catalog) error) error {
	c, err := storage.OpenCatalog(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer c.Close()
	return fn(c)
}
