package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jvs-project/coordkit/internal/audit"
	"github.com/jvs-project/coordkit/pkg/color"
	"github.com/jvs-project/coordkit/pkg/sharedmap"
)

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Read and write shared maps",
	Long: `Read and write shared maps.

Each map is one JSON object on disk. Writes take the map's lock, re-read the
file, apply the change and write it back atomically, so concurrent writers
from different processes never lose each other's updates.

Values are parsed as JSON; anything that is not valid JSON is stored as a
string.`,
}

// parseValue reads a command-line value as JSON, falling back to a string.
func parseValue(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	raw, _ := json.Marshal(s)
	return raw
}

var mapGetCmd = &cobra.Command{
	Use:   "get <name> <key>",
	Short: "Print the value under key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		var raw json.RawMessage
		ok, err := c.Maps().Get(args[0], args[1], &raw)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key %q in map %q: %w", args[1], args[0], errNotFound)
		}
		if jsonOutput {
			return outputJSON(map[string]any{"map": args[0], "key": args[1], "value": raw})
		}
		fmt.Println(string(raw))
		return nil
	},
}

var mapSetCmd = &cobra.Command{
	Use:   "set <name> <key> <value>",
	Short: "Store a value under key",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		if err := c.Maps().Set(cmdContext(cmd), args[0], args[1], parseValue(args[2])); err != nil {
			return err
		}
		record(c, audit.EventMapSet, sharedmap.LockKey(args[0]), "", map[string]any{"key": args[1]})
		if jsonOutput {
			return outputJSON(map[string]any{"map": args[0], "key": args[1], "set": true})
		}
		fmt.Printf("Set %s in %s\n", args[1], color.Key(args[0]))
		return nil
	},
}

var mapDeleteCmd = &cobra.Command{
	Use:   "delete <name> <key>",
	Short: "Remove a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		if err := c.Maps().Delete(cmdContext(cmd), args[0], args[1]); err != nil {
			return err
		}
		record(c, audit.EventMapDelete, sharedmap.LockKey(args[0]), "", map[string]any{"key": args[1]})
		if jsonOutput {
			return outputJSON(map[string]any{"map": args[0], "key": args[1], "deleted": true})
		}
		fmt.Printf("Deleted %s from %s\n", args[1], color.Key(args[0]))
		return nil
	},
}

var mapKeysCmd = &cobra.Command{
	Use:   "keys <name>",
	Short: "List the keys of a map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		keys, err := c.Maps().Keys(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(keys)
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var mapDumpCmd = &cobra.Command{
	Use:   "dump <name>",
	Short: "Print a whole map as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		e, err := c.Maps().Load(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	},
}

var mapPutIfAbsentCmd = &cobra.Command{
	Use:   "put-if-absent <name> <key> <value>",
	Short: "Store a value only if key is missing, and print the winner",
	Long: `Store a value only if key is missing, and print the value now stored.

The check and the write run under the map's lock, so when several processes
race exactly one of them stores its value and all of them print it.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient()
		if err != nil {
			return err
		}
		var stored json.RawMessage
		created, err := c.Maps().GetOrCreate(cmdContext(cmd), args[0], args[1], &stored, func(ctx context.Context) (any, error) {
			return parseValue(args[2]), nil
		})
		if err != nil {
			return err
		}
		if created {
			record(c, audit.EventMapCreate, sharedmap.LockKey(args[0]), "", map[string]any{"key": args[1]})
		}
		if jsonOutput {
			return outputJSON(map[string]any{"map": args[0], "key": args[1], "value": stored, "created": created})
		}
		fmt.Println(string(stored))
		return nil
	},
}

func init() {
	mapCmd.AddCommand(mapGetCmd)
	mapCmd.AddCommand(mapSetCmd)
	mapCmd.AddCommand(mapDeleteCmd)
	mapCmd.AddCommand(mapKeysCmd)
	mapCmd.AddCommand(mapDumpCmd)
	mapCmd.AddCommand(mapPutIfAbsentCmd)
	rootCmd.AddCommand(mapCmd)
}
