package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jvs-project/coordkit/pkg/color"
)

var (
	jsonOutput bool
	rootDir    string
	logLevel   string
	noColor    bool
	rootCmd    = &cobra.Command{
		Use:   "coordkit",
		Short: "coordkit - cross-process coordination on a shared filesystem",
		Long: `coordkit coordinates independent processes through files on a shared
filesystem: expiring locks that survive crashed holders, JSON-backed shared
maps safe under concurrent read-modify-write, and polling with bounded retry.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(noColor || jsonOutput)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "state root (default $COORDKIT_ROOT or the current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmtErr("%v", err)
		os.Exit(exitCode(err))
	}
}

// outputJSON prints v as JSON if --json flag is set, otherwise does nothing.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fmtErr(format string, args ...any) {
	prefix := "coordkit: "
	if color.Enabled() {
		prefix = color.Error("coordkit:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
