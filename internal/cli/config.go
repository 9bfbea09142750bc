package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jvs-project/coordkit/pkg/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Manage coordkit configuration",
	Long: `Manage coordkit configuration stored in .coordkit/config.yaml.

Durations are Go duration strings such as 250ms, 30s or 1m30s.

Available keys:
  ` + strings.Join(config.Keys(), "\n  "),
	DisableFlagsInUseLine: true,
}

func configRoot() (string, error) {
	return resolveRoot()
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := configRoot()
		if err != nil {
			return err
		}
		cfg, err := config.Load(root)
		if err != nil {
			return err
		}
		if jsonOutput {
			values := map[string]string{}
			for _, k := range config.Keys() {
				values[k], _ = cfg.Get(k)
			}
			return outputJSON(values)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Println("# coordkit configuration")
		fmt.Printf("# Location: %s\n\n", config.Path(root))
		fmt.Print(string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := configRoot()
		if err != nil {
			return err
		}
		path := config.Path(root)
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.Save(root, config.Default()); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]any{"path": path})
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := configRoot()
		if err != nil {
			return err
		}
		cfg, err := config.Load(root)
		if err != nil {
			return err
		}
		v, err := cfg.Get(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]string{args[0]: v})
		}
		fmt.Println(v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in .coordkit/config.yaml.

Examples:
  coordkit config set lock.default_ttl 2m
  coordkit config set retry.backoff exponential
  coordkit config set logging.format json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := configRoot()
		if err != nil {
			return err
		}
		cfg, err := config.Load(root)
		if err != nil {
			return err
		}
		if err := cfg.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := config.Save(root, cfg); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]string{args[0]: args[1]})
		}
		fmt.Printf("Set %s = %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
