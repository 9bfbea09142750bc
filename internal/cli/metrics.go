package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvs-project/coordkit/pkg/coordkit"
	"github.com/jvs-project/coordkit/pkg/model"
)

var (
	metricsServe string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print or serve Prometheus metrics for the state directory",
	Long: `Print or serve Prometheus metrics for the state directory.

Without --serve, scans the state directory once and prints the metrics in
the Prometheus text format. With --serve, exposes /metrics on the given
address and rescans on every scrape, until interrupted.

Metrics include:
  - coordkit_locks{state}          lock files by state
  - coordkit_lock_acquire_total    acquisitions by result
  - coordkit_sharedmap_writes_total
  - coordkit_retry_runs_total

Examples:
  coordkit metrics
  coordkit metrics --serve :2112`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		if metricsServe == "" {
			if err := scanLocks(c); err != nil {
				return err
			}
			return c.Metrics().WriteText(os.Stdout)
		}
		return serveMetrics(cmdContext(cmd), c, metricsServe)
	},
}

func scanLocks(c *coordkit.Client) error {
	entries, err := c.Locks().List()
	if err != nil {
		return err
	}
	counts := map[model.LockState]int{model.LockStateHeld: 0, model.LockStateExpired: 0}
	for _, e := range entries {
		counts[e.State]++
	}
	for state, n := range counts {
		c.Metrics().SetLocks(string(state), n)
	}
	return nil
}

func serveMetrics(ctx context.Context, c *coordkit.Client, addr string) error {
	handler := c.Metrics().Handler()
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if err := scanLocks(c); err != nil {
			c.Logger().ErrorErr("scan locks", err)
		}
		handler.ServeHTTP(w, r)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Metrics available at http://%s/metrics\n", addr)
	fmt.Println("Press Ctrl+C to stop")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func init() {
	metricsCmd.Flags().StringVar(&metricsServe, "serve", "", "serve /metrics on this address instead of printing once")
	rootCmd.AddCommand(metricsCmd)
}
