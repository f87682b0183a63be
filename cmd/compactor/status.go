package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/compactor/pkg/api"
	"github.com/cuemby/compactor/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [NODE]",
	Short: "Show worker progress of a running compactor",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		base := strings.TrimSuffix(addr, "/")

		client := &http.Client{Timeout: 10 * time.Second}
		var nodes []types.NodeStatus
		if len(args) == 1 {
			var st types.NodeStatus
			if err := getJSON(client, base+"/status/"+url.PathEscape(args[0]), &st); err != nil {
				return err
			}
			nodes = append(nodes, st)
		} else {
			var resp api.StatusResponse
			if err := getJSON(client, base+"/status", &resp); err != nil {
				return err
			}
			nodes = resp.Nodes
		}

		if len(nodes) == 0 {
			fmt.Println("No node workers running")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tMODE\tSTATE\tCYCLE\tPROGRESS\tFAILED\tACTIVE\tQUEUE")
		for _, st := range nodes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%d\t%d (%s)\n",
				st.Node, st.Mode, st.State, st.Cycle, st.Progress, st.Failed, st.Active,
				st.CompactionQueue, st.Severity)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		for _, st := range nodes {
			if st.Statistic != "" {
				fmt.Println(st.Statistic)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("addr", "http://localhost:9090", "Status server address")
}

func getJSON(client *http.Client, target string, v any) error {
	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("failed to reach status server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("status server: %s", e.Error)
		}
		return fmt.Errorf("status server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
