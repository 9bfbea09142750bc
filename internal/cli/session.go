package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jvs-project/coordkit/pkg/coordkit"
	"github.com/jvs-project/coordkit/pkg/errclass"
	"github.com/jvs-project/coordkit/pkg/fsutil"
	"github.com/jvs-project/coordkit/pkg/model"
	"github.com/jvs-project/coordkit/pkg/pathutil"
)

// Session files carry a lock token from `lock acquire` to a later
// `lock release` or `lock renew` in another invocation.

func sessionPath(c *coordkit.Client, key string) string {
	return filepath.Join(c.StateDir(), "sessions", pathutil.FileName(key)+".json")
}

func writeSession(c *coordkit.Client, tok *model.LockToken) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.AtomicWrite(sessionPath(c, tok.ResourceKey), data, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// loadSession returns the saved token for key. An explicit owner id
// replaces the saved one, which allows release from a machine that never
// saw the acquire.
func loadSession(c *coordkit.Client, key, owner string) (*model.LockToken, error) {
	if owner != "" {
		return &model.LockToken{ResourceKey: key, OwnerID: owner}, nil
	}
	data, err := os.ReadFile(sessionPath(c, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errclass.ErrLockNotHeld.WithMessagef("no active lock session for %s (run 'coordkit lock acquire %s' first or pass --owner)", key, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var tok model.LockToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &tok, nil
}

func removeSession(c *coordkit.Client, key string) {
	os.Remove(sessionPath(c, key))
}
