package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvs-project/coordkit/internal/audit"
	"github.com/jvs-project/coordkit/pkg/color"
)

var (
	auditVerify bool
	auditLimit  int
)

var errJournalBroken = fmt.Errorf("journal hash chain is broken")

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the coordination journal",
	Long: `Show the coordination journal.

Commands that change state (lock acquire, release, renew and prune, map
writes, doctor repairs) append a record to <state>/audit.jsonl. Each record
carries the hash of the one before it; --verify walks the chain and fails if
any record was altered or removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		j := journal(c)

		if auditVerify {
			res, err := j.Verify()
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := outputJSON(res); err != nil {
					return err
				}
			} else if res.Valid {
				fmt.Printf("%s (%d records)\n", color.Success("Journal verified"), res.Records)
			} else {
				fmt.Printf("%s at record %d: %s\n", color.Error("Journal broken"), res.BrokenAt, res.Reason)
			}
			if !res.Valid {
				return errJournalBroken
			}
			return nil
		}

		recs, err := j.Records()
		if err != nil {
			return err
		}
		if auditLimit > 0 && len(recs) > auditLimit {
			recs = recs[len(recs)-auditLimit:]
		}
		if jsonOutput {
			if recs == nil {
				recs = []audit.Record{}
			}
			return outputJSON(recs)
		}
		if len(recs) == 0 {
			fmt.Println("No journal records.")
			return nil
		}
		for _, r := range recs {
			fmt.Printf("%s  %-14s %s %s\n", color.Dim(r.Timestamp.Local().Format(time.RFC3339)), r.Event, color.Key(r.Key), color.Dim(r.Owner))
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().BoolVar(&auditVerify, "verify", false, "check the hash chain")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 0, "show only the last N records")
	rootCmd.AddCommand(auditCmd)
}
