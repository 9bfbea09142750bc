package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/coordkit/internal/audit"
	"github.com/jvs-project/coordkit/internal/doctor"
	"github.com/jvs-project/coordkit/pkg/color"
)

var (
	doctorRepair bool
)

var errUnhealthy = fmt.Errorf("state directory is unhealthy")

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check state directory health",
	Long: `Check state directory health.

Reports expired locks, corrupt shared maps, temp files left by interrupted
writes and takeover guards left by a dead process. Use --repair to
prune expired locks, remove abandoned leftovers and move corrupt maps aside.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		doc := doctor.NewDoctor(c.Locks(), c.Maps())

		var repaired *doctor.RepairResult
		if doctorRepair {
			repaired, err = doc.Repair(cmdContext(cmd))
			if err != nil {
				return fmt.Errorf("doctor repair: %w", err)
			}
			if len(repaired.Actions) > 0 {
				record(c, audit.EventRepair, "", "", map[string]any{
					"locks_pruned":     repaired.LocksPruned,
					"files_removed":    repaired.FilesRemoved,
					"maps_quarantined": repaired.MapsQuarantined,
				})
			}
		}
		result, err := doc.Check()
		if err != nil {
			return fmt.Errorf("doctor: %w", err)
		}

		if jsonOutput {
			if err := outputJSON(map[string]any{"result": result, "repair": repaired}); err != nil {
				return err
			}
		} else {
			if repaired != nil {
				for _, a := range repaired.Actions {
					fmt.Printf("%s %s\n", color.Success("repaired:"), a)
				}
			}
			if len(result.Findings) == 0 {
				fmt.Println("State directory is healthy.")
			} else {
				fmt.Printf("Findings (%d):\n", len(result.Findings))
				for _, f := range result.Findings {
					fmt.Printf("  [%s] %s: %s\n", severityLabel(f.Severity), f.Category, f.Description)
				}
			}
		}

		if !result.Healthy {
			return errUnhealthy
		}
		return nil
	},
}

func severityLabel(s string) string {
	switch s {
	case doctor.SeverityError:
		return color.Error(s)
	case doctor.SeverityWarning:
		return color.Warning(s)
	default:
		return color.Info(s)
	}
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorRepair, "repair", false, "fix what can be fixed safely")
	rootCmd.AddCommand(doctorCmd)
}
