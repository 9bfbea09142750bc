package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvs-project/coordkit/pkg/model"
	"github.com/jvs-project/coordkit/pkg/retry"
)

var (
	retryDelay       time.Duration
	retryBackoff     string
	retryMaxDuration time.Duration
	retryAbortOn     []int
)

var retryCmd = &cobra.Command{
	Use:   "retry [flags] -- <command> [args...]",
	Short: "Run a command until it exits 0",
	Long: `Run a command until it exits 0 or --max-duration passes.

The first attempt runs immediately. Between attempts the delay grows per
--backoff: constant keeps --delay, linear multiplies it by the attempt
number and exponential doubles it each time. Exit codes listed in
--abort-on stop retrying at once.

Examples:
  coordkit retry --delay 1s --backoff exponential -- curl -fsS http://svc/health
  coordkit retry --max-duration 0 -- ./flaky.sh     # exactly one attempt`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}

		b := retry.DoErr(func(ctx context.Context) error {
			run := exec.CommandContext(ctx, args[0], args[1:]...)
			run.Stdout = os.Stdout
			run.Stderr = os.Stderr
			run.Stdin = os.Stdin
			err := run.Run()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && slices.Contains(retryAbortOn, exitErr.ExitCode()) {
				return retry.Permanent(err)
			}
			if err != nil && !errors.As(err, &exitErr) {
				// the command could not be started at all
				return retry.Permanent(err)
			}
			return err
		}).WithDefaults(c.RetryDefaults()).Named(args[0])

		if retryDelay > 0 {
			b = b.WithDelay(retryDelay)
		}
		if retryBackoff != "" {
			kind, err := model.ParseBackoffKind(retryBackoff)
			if err != nil {
				return err
			}
			b = b.WithBackOff(kind)
		}
		if cmd.Flags().Changed("max-duration") {
			b = b.WithMaxDuration(retryMaxDuration)
		}

		if _, err := b.Run(cmdContext(cmd)); err != nil {
			return fmt.Errorf("retry %s: %w", args[0], err)
		}
		return nil
	},
}

func init() {
	retryCmd.Flags().DurationVar(&retryDelay, "delay", 0, "base delay between attempts (default retry.delay)")
	retryCmd.Flags().StringVar(&retryBackoff, "backoff", "", "delay growth: constant, linear, exponential (default retry.backoff)")
	retryCmd.Flags().DurationVar(&retryMaxDuration, "max-duration", 0, "total time budget; 0 means one attempt (default retry.max_duration)")
	retryCmd.Flags().IntSliceVar(&retryAbortOn, "abort-on", nil, "exit codes that stop retrying immediately")
	rootCmd.AddCommand(retryCmd)
}
