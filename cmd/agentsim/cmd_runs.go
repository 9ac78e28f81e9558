package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sns-vibe/agentsim/internal/registry"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir, _ := cmd.Flags().GetString("out")
			limit, _ := cmd.Flags().GetInt("limit")

			reg, err := registry.Open(outDir)
			if err != nil {
				return fmt.Errorf("opening run registry: %w", err)
			}
			defer reg.Close()

			rows, err := reg.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(rows)
			}

			if len(rows) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			for _, row := range rows {
				fmt.Printf("%s  %s/%s  reach=%d engagement=%d  %s\n",
					row.RunID, row.Status, row.EndReason,
					row.Reach, row.Engagement, row.CreatedAt)
				fmt.Printf("  goal: %s\n", row.Goal)
			}
			return nil
		},
	}

	cmd.Flags().Int("limit", 20, "Maximum number of runs to list, 0 for all")

	return cmd
}
