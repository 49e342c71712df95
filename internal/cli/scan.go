package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pmacl/vspilot/internal/model"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan repositories and sync the plan without acting",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRuntime(configPath)
		if err != nil {
			return err
		}
		defer r.Close()

		runID, err := model.NewRunID()
		if err != nil {
			return err
		}
		st, err := r.engine.RunUntil(cmd.Context(), runID, model.StageSyncPlan)
		if err != nil {
			return err
		}

		out := map[string]any{
			"repos":      st.Repos,
			"plan":       st.Plan,
			"work_items": st.WorkItems,
		}
		if st.ScanError != "" {
			out["scan_error"] = st.ScanError
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var nudgeCmd = &cobra.Command{
	Use:   "nudge-chats",
	Short: "Run one full cycle: scan, pick a work item, nudge the chat, validate",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRuntime(configPath)
		if err != nil {
			return err
		}
		defer r.Close()

		runID, err := model.NewRunID()
		if err != nil {
			return err
		}
		st, err := r.engine.RunUntil(cmd.Context(), runID, model.StagePersist)
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(st.Report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(nudgeCmd)
}
