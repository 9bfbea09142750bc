package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvs-project/coordkit/pkg/coordkit"
	"github.com/jvs-project/coordkit/pkg/model"
	"github.com/jvs-project/coordkit/pkg/wait"
)

var (
	waitTimeout  time.Duration
	waitInterval time.Duration
	waitBackoff  string
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Poll until a condition holds",
	Long: `Poll until a condition holds or --timeout passes.

The first check runs immediately. On timeout the command exits with status 2.`,
}

func runWait(cmd *cobra.Command, c *coordkit.Client, what string, cond wait.Condition) error {
	kind, err := model.ParseBackoffKind(waitBackoff)
	if err != nil {
		return err
	}
	start := time.Now()
	opts := []wait.Option{wait.Defaults(c.RetryDefaults()), wait.Backoff(kind)}
	if waitInterval > 0 {
		opts = append(opts, wait.Interval(waitInterval))
	}
	if err := wait.UntilTrue(cmdContext(cmd), cond, waitTimeout, opts...); err != nil {
		return fmt.Errorf("wait for %s: %w", what, err)
	}
	if jsonOutput {
		return outputJSON(map[string]any{"condition": what, "waited": time.Since(start).String()})
	}
	fmt.Printf("%s after %s\n", what, time.Since(start).Round(time.Millisecond))
	return nil
}

var waitFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Wait until a file exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		path := args[0]
		return runWait(cmd, c, path+" exists", func(ctx context.Context) (bool, error) {
			_, err := os.Stat(path)
			if errors.Is(err, fs.ErrNotExist) {
				return false, nil
			}
			return err == nil, err
		})
	},
}

var waitUnlockedCmd = &cobra.Command{
	Use:   "unlocked <key>",
	Short: "Wait until a lock is free or expired",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		key := args[0]
		return runWait(cmd, c, key+" unlocked", func(ctx context.Context) (bool, error) {
			held, err := c.Locks().IsHeld(key)
			return !held, err
		})
	},
}

var waitKeyCmd = &cobra.Command{
	Use:   "key <map> <key>",
	Short: "Wait until a shared map key is set",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		return runWait(cmd, c, args[0]+"/"+args[1]+" set", func(ctx context.Context) (bool, error) {
			return c.Maps().Get(args[0], args[1], nil)
		})
	},
}

func init() {
	waitCmd.PersistentFlags().DurationVar(&waitTimeout, "timeout", 30*time.Second, "give up after this long")
	waitCmd.PersistentFlags().DurationVar(&waitInterval, "interval", 0, "delay between checks (default retry.delay)")
	waitCmd.PersistentFlags().StringVar(&waitBackoff, "backoff", "constant", "delay growth: constant, linear, exponential")
	waitCmd.AddCommand(waitFileCmd)
	waitCmd.AddCommand(waitUnlockedCmd)
	waitCmd.AddCommand(waitKeyCmd)
	rootCmd.AddCommand(waitCmd)
}
