package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvs-project/coordkit/internal/audit"
	"github.com/jvs-project/coordkit/pkg/color"
	"github.com/jvs-project/coordkit/pkg/filelock"
	"github.com/jvs-project/coordkit/pkg/model"
)

var (
	lockTTL    time.Duration
	lockWait   time.Duration
	lockNoWait bool
	lockOwner  string
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manage expiring file locks",
	Long: `Manage expiring file locks.

A lock is a file created exclusively under the state directory. It carries
its owner and a TTL; once the TTL has passed any process may reclaim it, so a
crashed holder never blocks others for longer than the TTL.`,
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire <key>",
	Short: "Acquire a lock, waiting up to --wait",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		key := args[0]
		// an explicit --wait 0 means one attempt, not the configured wait
		noWait := lockNoWait || (cmd.Flags().Changed("wait") && lockWait <= 0)
		tok, err := c.Locks().Acquire(cmdContext(cmd), key, filelock.AcquireOptions{
			TTL:     lockTTL,
			MaxWait: lockWait,
			NoWait:  noWait,
		})
		if err != nil {
			return err
		}
		if err := writeSession(c, tok); err != nil {
			if rerr := c.Locks().Release(tok); rerr != nil {
				c.Logger().ErrorErr("release after failed session write", rerr, map[string]any{"resource": key})
			}
			return err
		}
		record(c, audit.EventLockAcquire, key, tok.OwnerID, map[string]any{"ttl_ms": tok.TTLMs})

		if jsonOutput {
			return outputJSON(tok)
		}
		fmt.Printf("%s on %s\n", color.Success("Lock acquired"), color.Key(key))
		fmt.Printf("  Owner: %s\n", tok.OwnerID)
		fmt.Printf("  Expires: %s\n", tok.ExpiresAt().Format(time.RFC3339))
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <key>",
	Short: "Release a lock acquired earlier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		key := args[0]
		tok, err := loadSession(c, key, lockOwner)
		if err != nil {
			return err
		}
		if err := c.Locks().Release(tok); err != nil {
			return err
		}
		removeSession(c, key)
		record(c, audit.EventLockRelease, key, tok.OwnerID, nil)

		if jsonOutput {
			return outputJSON(map[string]any{"key": key, "released": true})
		}
		fmt.Printf("Lock released on %s\n", color.Key(key))
		return nil
	},
}

var lockRenewCmd = &cobra.Command{
	Use:   "renew <key>",
	Short: "Extend a lock acquired earlier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		key := args[0]
		tok, err := loadSession(c, key, lockOwner)
		if err != nil {
			return err
		}
		renewed, err := c.Locks().Renew(tok, lockTTL)
		if err != nil {
			return err
		}
		if err := writeSession(c, renewed); err != nil {
			return err
		}
		record(c, audit.EventLockRenew, key, renewed.OwnerID, map[string]any{"ttl_ms": renewed.TTLMs})

		if jsonOutput {
			return outputJSON(renewed)
		}
		fmt.Printf("Lock renewed, expires: %s\n", renewed.ExpiresAt().Format(time.RFC3339))
		return nil
	},
}

var lockStatusCmd = &cobra.Command{
	Use:   "status <key>",
	Short: "Show the state of a lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		key := args[0]
		state, tok, err := c.Locks().Status(key)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(map[string]any{"key": key, "state": state, "lock": tok})
		}
		fmt.Printf("Key: %s\n", color.Key(key))
		fmt.Printf("Lock state: %s\n", stateLabel(state))
		if tok != nil {
			printHolder(tok)
		}
		return nil
	},
}

var lockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lock files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		entries, err := c.Locks().List()
		if err != nil {
			return err
		}

		if jsonOutput {
			if entries == nil {
				entries = []filelock.Entry{}
			}
			return outputJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No locks.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%-10s %s  %s\n", stateLabel(e.State), color.Key(e.Token.ResourceKey), color.Dim(e.Token.OwnerID))
		}
		return nil
	},
}

var lockPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired lock files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		n, err := c.Locks().PruneExpired()
		if err != nil {
			return err
		}
		if n > 0 {
			record(c, audit.EventLockPrune, "", "", map[string]any{"pruned": n})
		}
		if jsonOutput {
			return outputJSON(map[string]any{"pruned": n})
		}
		fmt.Printf("Pruned %d expired lock(s)\n", n)
		return nil
	},
}

func stateLabel(s model.LockState) string {
	switch s {
	case model.LockStateHeld:
		return color.Warning(string(s))
	case model.LockStateExpired:
		return color.Error(string(s))
	default:
		return color.Success(string(s))
	}
}

func printHolder(tok *model.LockToken) {
	if tok.OwnerID != "" {
		fmt.Printf("  Owner: %s\n", tok.OwnerID)
	}
	if tok.Host != "" {
		fmt.Printf("  Host: %s (pid %d)\n", tok.Host, tok.PID)
	}
	fmt.Printf("  Acquired: %s\n", tok.AcquiredAt().Format(time.RFC3339))
	fmt.Printf("  Expires: %s\n", tok.ExpiresAt().Format(time.RFC3339))
}

// cmdContext returns the command's context, or Background when the command
// is invoked outside Execute (as in tests).
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	lockAcquireCmd.Flags().DurationVar(&lockTTL, "ttl", 0, "lock lifetime (default lock.default_ttl)")
	lockAcquireCmd.Flags().DurationVar(&lockWait, "wait", 0, "how long to wait for a held lock; 0 tries once (default lock.max_wait)")
	lockAcquireCmd.Flags().BoolVar(&lockNoWait, "no-wait", false, "fail immediately if the lock is held")
	lockRenewCmd.Flags().DurationVar(&lockTTL, "ttl", 0, "new lifetime (default: the lock's current TTL)")
	lockReleaseCmd.Flags().StringVar(&lockOwner, "owner", "", "owner id, instead of the saved session")
	lockRenewCmd.Flags().StringVar(&lockOwner, "owner", "", "owner id, instead of the saved session")

	lockCmd.AddCommand(lockAcquireCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	lockCmd.AddCommand(lockRenewCmd)
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockListCmd)
	lockCmd.AddCommand(lockPruneCmd)
	rootCmd.AddCommand(lockCmd)
}
