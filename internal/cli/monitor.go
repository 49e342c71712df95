package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmacl/vspilot/internal/config"
	"github.com/pmacl/vspilot/internal/store"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Observe editor windows once and print their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRuntime(configPath)
		if err != nil {
			return err
		}
		defer r.Close()

		if r.monitor == nil {
			return fmt.Errorf("monitoring requires adapter type mcp")
		}

		statuses, err := r.monitor.CheckAllWindows(cmd.Context())
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

// status reads state files only; it never spawns the capability provider.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last heartbeat and the most recent trace",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		world := store.NewWorldStore(cfg.StateDir)
		episodes := store.NewEpisodeStore(filepath.Join(cfg.StateDir, "episodes"))

		ws, err := world.Read()
		if err != nil {
			return err
		}
		if ws.LastHeartbeat == 0 {
			fmt.Println("no runs recorded yet")
		} else {
			fmt.Printf("last heartbeat: %s (%d repos)\n",
				time.Unix(ws.LastHeartbeat, 0).Format(time.RFC3339), len(ws.Repos))
		}

		tr, path, err := episodes.LatestTrace()
		if err != nil {
			return err
		}
		if tr == nil {
			fmt.Println("no traces recorded yet")
			return nil
		}

		fmt.Printf("latest trace: %s\n", path)
		fmt.Printf("  at:        %s\n", time.Unix(tr.TS, 0).Format(time.RFC3339))
		fmt.Printf("  validated: %t\n", tr.Validated)
		fmt.Printf("  retries:   %d\n", tr.RetryCount)
		if tr.ActionReport != nil {
			fmt.Printf("  status:    %s\n", tr.ActionReport.Status)
			if tr.ActionReport.Reason != "" {
				fmt.Printf("  reason:    %s\n", tr.ActionReport.Reason)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(statusCmd)
}
