package filelock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jvs-project/coordkit/pkg/logging"
	"github.com/jvs-project/coordkit/pkg/model"
	"github.com/jvs-project/coordkit/pkg/retry"
)

// createExclusive writes tok to path only if path does not exist yet.
func (m *Manager) createExclusive(path string, tok *model.LockToken) (bool, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}

	if err := writeToken(file, tok); err != nil {
		file.Close()
		os.Remove(path)
		return false, err
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return false, fmt.Errorf("close lock: %w", err)
	}
	return true, nil
}

func writeToken(file *os.File, tok *model.LockToken) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return file.Sync()
}

// inspect reads the token at path. A file that exists but holds no valid
// token (its writer died between create and write, or is still writing) is
// judged by its mtime and the default TTL.
func (m *Manager) inspect(path, key string) (*model.LockToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok model.LockToken
	if err := json.Unmarshal(data, &tok); err == nil && tok.OwnerID != "" {
		if tok.ResourceKey == "" {
			tok.ResourceKey = key
		}
		return &tok, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &model.LockToken{
		ResourceKey:       key,
		AcquiredAtEpochMs: info.ModTime().UnixMilli(),
		TTLMs:             m.policy.DefaultTTL.Milliseconds(),
	}, nil
}

// takeExpired removes the lock file at path if, under the takeover guard,
// it is still expired.
func (m *Manager) takeExpired(path, key string) (bool, error) {
	return m.removeIf(path, key, func(t *model.LockToken) bool {
		return t.IsExpired(m.now())
	})
}

// removeIf re-reads path under the takeover guard and deletes it when pred
// holds. The file is never moved, so a live lock stays in place for every
// other reader while it is being judged.
func (m *Manager) removeIf(path, key string, pred func(*model.LockToken) bool) (bool, error) {
	var removed bool
	err := m.withGuard(path, func() error {
		current, err := m.inspect(path, key)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if !pred(current) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed = true
		return nil
	})
	return removed, err
}

// withGuard runs fn while holding the takeover guard of the lock file at
// path. Every change to an existing lock file (takeover, release, renew)
// happens under the guard. Creating an absent lock file does not need it:
// O_EXCL already admits a single winner.
func (m *Manager) withGuard(path string, fn func() error) error {
	guard := path + guardSuffix
	_, err := retry.DoErr(func(ctx context.Context) error {
		ok, err := m.tryGuard(guard)
		if err != nil {
			return retry.Permanent(err)
		}
		if !ok {
			return errContention
		}
		return nil
	}).
		Named("guard:" + filepath.Base(path)).
		WithDelay(guardPoll).
		WithMaxDuration(guardStale + time.Second).
		WithLogger(logging.Discard()).
		Run(context.Background())
	if err != nil {
		return fmt.Errorf("takeover guard %s: %w", filepath.Base(guard), err)
	}
	defer os.Remove(guard)
	return fn()
}

// tryGuard creates the guard file exclusively. A guard older than guardStale
// belongs to a process that died mid-takeover and is removed so the next
// poll can create it.
func (m *Manager) tryGuard(guard string) (bool, error) {
	file, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		if err := file.Close(); err != nil {
			os.Remove(guard)
			return false, err
		}
		return true, nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return false, err
	}

	info, err := os.Stat(guard)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if age := time.Since(info.ModTime()); age > guardStale {
		m.log.Warn("removing abandoned takeover guard", map[string]any{"path": guard, "age": age.String()})
		if err := os.Remove(guard); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	return false, nil
}
