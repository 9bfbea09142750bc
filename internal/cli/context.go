package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jvs-project/coordkit/internal/audit"
	"github.com/jvs-project/coordkit/pkg/coordkit"
	"github.com/jvs-project/coordkit/pkg/errclass"
	"github.com/jvs-project/coordkit/pkg/logging"
)

// EnvRoot names the environment variable consulted when --root is unset.
const EnvRoot = "COORDKIT_ROOT"

// Exit codes.
const (
	exitError   = 1
	exitTimeout = 2
	exitMissing = 3
)

// errNotFound is returned by commands that look something up and find
// nothing, so scripts can tell "absent" from "failed".
var errNotFound = errors.New("not found")

func resolveRoot() (string, error) {
	if rootDir != "" {
		return rootDir, nil
	}
	if env := os.Getenv(EnvRoot); env != "" {
		return env, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cannot get current directory: %w", err)
	}
	return cwd, nil
}

// openClient opens the coordkit client for the resolved root, applying
// --log-level on top of the configured level.
func openClient() (*coordkit.Client, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, err
	}
	c, err := coordkit.OpenWithOptions(root, coordkit.OpenOptions{LogOutput: os.Stderr})
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return nil, errclass.ErrConfigInvalid.WithMessagef("--log-level: %v", err)
		}
		c.Logger().SetLevel(level)
	}
	logging.SetGlobal(c.Logger())
	return c, nil
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errclass.ErrLockTimeout), errors.Is(err, errclass.ErrRetryExhausted):
		return exitTimeout
	case errors.Is(err, errNotFound):
		return exitMissing
	default:
		return exitError
	}
}

func journal(c *coordkit.Client) *audit.Journal {
	return audit.NewJournal(filepath.Join(c.StateDir(), audit.FileName))
}

// record appends ev to the journal. A journal failure never fails the
// command that already succeeded; it is logged instead.
func record(c *coordkit.Client, ev audit.Event, key, owner string, details map[string]any) {
	if _, err := journal(c).Append(ev, key, owner, details); err != nil {
		c.Logger().Warn("journal append failed", map[string]any{"event": string(ev), "error": err.Error()})
	}
}
