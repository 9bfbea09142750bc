// Package filelock implements an expiring cross-process mutex on a shared
// filesystem.
//
// A lock is a JSON file created with O_CREATE|O_EXCL. Its token carries an
// owner id and a lease; once the lease has passed, any acquirer may take the
// file over, so a holder that crashed never deadlocks the others. Waiters are
// not queued: whoever polls first after the file frees up wins.
package filelock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jvs-project/coordkit/pkg/errclass"
	"github.com/jvs-project/coordkit/pkg/fsutil"
	"github.com/jvs-project/coordkit/pkg/logging"
	"github.com/jvs-project/coordkit/pkg/metrics"
	"github.com/jvs-project/coordkit/pkg/model"
	"github.com/jvs-project/coordkit/pkg/pathutil"
	"github.com/jvs-project/coordkit/pkg/retry"
	"github.com/jvs-project/coordkit/pkg/uuidutil"
)

const (
	lockSuffix    = ".lock"
	guardSuffix   = ".guard"
	errContention = contendedError("lock is held")

	// guardStale bounds how long a takeover guard may exist; guard holders only
	// read and remove or rewrite one small file.
	guardStale = 5 * time.Second
	guardPoll  = 2 * time.Millisecond
)

type contendedError string

func (e contendedError) Error() string { return string(e) }

// Manager handles lock files under one directory.
type Manager struct {
	dir     string
	policy  model.LockPolicy
	log     *logging.Logger
	metrics *metrics.Registry
	host    string
	pid     int
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for steals and ownership mismatches.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics records acquisitions, steals and releases into r.
func WithMetrics(r *metrics.Registry) Option {
	return func(m *Manager) { m.metrics = r }
}

// NewManager creates a lock manager storing lock files in dir.
func NewManager(dir string, policy model.LockPolicy, opts ...Option) *Manager {
	host, _ := os.Hostname()
	m := &Manager{
		dir:    dir,
		policy: policy.WithDefaults(),
		log:    logging.Global(),
		host:   host,
		pid:    os.Getpid(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithFields(map[string]any{"component": "filelock"})
	return m
}

// Dir returns the lock directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Policy returns the effective policy.
func (m *Manager) Policy() model.LockPolicy {
	return m.policy
}

// Path returns the lock file path for key.
func (m *Manager) Path(key string) string {
	return filepath.Join(m.dir, pathutil.FileName(key)+lockSuffix)
}

// AcquireOptions overrides the policy for a single acquisition.
// Zero fields fall back to the manager's policy.
type AcquireOptions struct {
	TTL          time.Duration
	MaxWait      time.Duration
	PollInterval time.Duration
	Backoff      model.BackoffKind
	// NoWait makes exactly one attempt regardless of MaxWait.
	NoWait bool
}

func (m *Manager) resolve(o AcquireOptions) AcquireOptions {
	if o.TTL <= 0 {
		o.TTL = m.policy.DefaultTTL
	}
	if o.MaxWait <= 0 {
		o.MaxWait = m.policy.MaxWait
	}
	if o.NoWait {
		o.MaxWait = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = m.policy.PollInterval
	}
	if o.Backoff == "" {
		o.Backoff = m.policy.Backoff
	}
	return o
}

// Acquire blocks until the lock for key is obtained or the wait budget runs
// out. A timeout matches errclass.ErrLockTimeout; filesystem failures match
// errclass.ErrLockIO and are returned without further waiting.
func (m *Manager) Acquire(ctx context.Context, key string, opts AcquireOptions) (*model.LockToken, error) {
	o := m.resolve(opts)
	start := time.Now()

	tok, err := retry.Do(func(ctx context.Context) (*model.LockToken, error) {
		tok, err := m.tryOnce(key, o.TTL)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		if tok == nil {
			return nil, errContention
		}
		return tok, nil
	}).
		Named("lock:"+key).
		WithDelay(o.PollInterval).
		WithBackOff(o.Backoff).
		WithMaxDuration(o.MaxWait).
		WithLogger(logging.Discard()).
		Run(ctx)

	waited := time.Since(start)
	if err == nil {
		m.metrics.RecordLockAcquire(metrics.ResultAcquired, waited)
		m.log.Debug("lock acquired", map[string]any{"resource": key, "owner": tok.OwnerID, "waited": waited.String()})
		return tok, nil
	}

	if errors.Is(err, errclass.ErrRetryExhausted) {
		m.metrics.RecordLockAcquire(metrics.ResultTimeout, waited)
		msg := fmt.Sprintf("%s not acquired within %v", key, o.MaxWait)
		if _, holder, serr := m.Status(key); serr == nil && holder != nil {
			msg += fmt.Sprintf(" (held by %s on %s pid %d)", holder.OwnerID, holder.Host, holder.PID)
		}
		return nil, errclass.ErrLockTimeout.WithMessage(msg)
	}

	m.metrics.RecordLockAcquire(metrics.ResultError, waited)
	return nil, fmt.Errorf("acquire %s: %w", key, err)
}

// TryAcquire makes a single acquisition attempt. It returns (nil, nil) when
// the lock is held by someone else.
func (m *Manager) TryAcquire(key string, ttl time.Duration) (*model.LockToken, error) {
	if ttl <= 0 {
		ttl = m.policy.DefaultTTL
	}
	return m.tryOnce(key, ttl)
}

// tryOnce returns the new token, (nil, nil) on contention, or an ErrLockIO.
func (m *Manager) tryOnce(key string, ttl time.Duration) (*model.LockToken, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, errclass.ErrLockIO.WithMessage("create lock dir").Wrap(err)
	}
	path := m.Path(key)

	tok := m.newToken(key, ttl)
	created, err := m.createExclusive(path, tok)
	if err != nil {
		return nil, errclass.ErrLockIO.WithMessagef("create %s", path).Wrap(err)
	}
	if created {
		return tok, nil
	}

	existing, err := m.inspect(path, key)
	if errors.Is(err, fs.ErrNotExist) {
		// released between our create and read; next poll gets it
		return nil, nil
	}
	if err != nil {
		return nil, errclass.ErrLockIO.WithMessagef("read %s", path).Wrap(err)
	}
	if !existing.IsExpired(m.now()) {
		return nil, nil
	}

	stolen, err := m.takeExpired(path, key)
	if err != nil {
		return nil, errclass.ErrLockIO.WithMessagef("reclaim %s", path).Wrap(err)
	}
	if !stolen {
		return nil, nil
	}

	tok = m.newToken(key, ttl)
	created, err = m.createExclusive(path, tok)
	if err != nil {
		return nil, errclass.ErrLockIO.WithMessagef("create %s", path).Wrap(err)
	}
	if !created {
		return nil, nil
	}
	m.metrics.RecordLockSteal()
	m.log.Info("reclaimed expired lock", map[string]any{
		"resource":       key,
		"previous_owner": existing.OwnerID,
		"expired_at":     existing.ExpiresAt().UTC().Format(time.RFC3339Nano),
	})
	return tok, nil
}

func (m *Manager) newToken(key string, ttl time.Duration) *model.LockToken {
	return &model.LockToken{
		ResourceKey:       key,
		OwnerID:           uuidutil.NewV4(),
		AcquiredAtEpochMs: m.now().UnixMilli(),
		TTLMs:             ttl.Milliseconds(),
		Host:              m.host,
		PID:               m.pid,
	}
}

// Release deletes the lock file if tok still owns it. A missing file or a
// file owned by someone else is left alone and is not an error.
func (m *Manager) Release(tok *model.LockToken) error {
	if tok == nil {
		return nil
	}
	path := m.Path(tok.ResourceKey)

	current, err := m.inspect(path, tok.ResourceKey)
	if errors.Is(err, fs.ErrNotExist) {
		m.metrics.RecordLockRelease(false)
		return nil
	}
	if err != nil {
		return errclass.ErrLockIO.WithMessagef("read %s", path).Wrap(err)
	}
	if current.OwnerID != tok.OwnerID {
		m.metrics.RecordLockRelease(false)
		m.log.Debug("release skipped, lock owned by another token", map[string]any{
			"resource": tok.ResourceKey, "owner": tok.OwnerID, "current_owner": current.OwnerID,
		})
		return nil
	}

	owned, err := m.removeIf(path, tok.ResourceKey, func(t *model.LockToken) bool {
		return t.OwnerID == tok.OwnerID
	})
	if err != nil {
		return errclass.ErrLockIO.WithMessagef("remove %s", path).Wrap(err)
	}
	m.metrics.RecordLockRelease(owned)
	return nil
}

// Renew extends a lease that tok still owns and returns the refreshed token.
// A non-positive ttl keeps the lease's current TTL.
func (m *Manager) Renew(tok *model.LockToken, ttl time.Duration) (*model.LockToken, error) {
	path := m.Path(tok.ResourceKey)
	current, err := m.inspect(path, tok.ResourceKey)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errclass.ErrLockNotHeld.WithMessage("no lock held")
	}
	if err != nil {
		return nil, errclass.ErrLockIO.WithMessagef("read %s", path).Wrap(err)
	}
	if current.OwnerID != tok.OwnerID {
		return nil, errclass.ErrLockNotHeld.WithMessage("owner mismatch")
	}

	var renewed model.LockToken
	err = m.withGuard(path, func() error {
		// the lease may have been taken over since the unguarded read
		current, err := m.inspect(path, tok.ResourceKey)
		if errors.Is(err, fs.ErrNotExist) {
			return errclass.ErrLockNotHeld.WithMessage("no lock held")
		}
		if err != nil {
			return errclass.ErrLockIO.WithMessagef("read %s", path).Wrap(err)
		}
		if current.OwnerID != tok.OwnerID {
			return errclass.ErrLockNotHeld.WithMessage("owner mismatch")
		}
		if current.IsExpired(m.now()) {
			return errclass.ErrLockNotHeld.WithMessage("lock has expired")
		}

		if ttl <= 0 {
			ttl = current.TTL()
		}
		if ttl <= 0 {
			ttl = m.policy.DefaultTTL
		}
		renewed = *current
		renewed.AcquiredAtEpochMs = m.now().UnixMilli()
		renewed.TTLMs = ttl.Milliseconds()
		data, err := json.MarshalIndent(&renewed, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal lock: %w", err)
		}
		if err := fsutil.AtomicWrite(path, data, 0644); err != nil {
			return errclass.ErrLockIO.WithMessagef("renew %s", path).Wrap(err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errclass.ErrLockNotHeld) || errors.Is(err, errclass.ErrLockIO) {
			return nil, err
		}
		return nil, errclass.ErrLockIO.WithMessagef("renew %s", path).Wrap(err)
	}
	return &renewed, nil
}

// Status returns the current lock state and token for key.
func (m *Manager) Status(key string) (model.LockState, *model.LockToken, error) {
	tok, err := m.inspect(m.Path(key), key)
	if errors.Is(err, fs.ErrNotExist) {
		return model.LockStateFree, nil, nil
	}
	if err != nil {
		return model.LockStateFree, nil, errclass.ErrLockIO.WithMessage("read lock").Wrap(err)
	}
	if tok.IsExpired(m.now()) {
		return model.LockStateExpired, tok, nil
	}
	return model.LockStateHeld, tok, nil
}

// IsHeld reports whether a non-expired lock exists for key.
func (m *Manager) IsHeld(key string) (bool, error) {
	state, _, err := m.Status(key)
	return state == model.LockStateHeld, err
}

// WithLock runs fn while holding the lock for key and always releases it.
func (m *Manager) WithLock(ctx context.Context, key string, opts AcquireOptions, fn func(ctx context.Context, tok *model.LockToken) error) (err error) {
	tok, err := m.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := m.Release(tok); rerr != nil {
			if err == nil {
				err = rerr
				return
			}
			m.log.ErrorErr("release after failed critical section", rerr, map[string]any{"resource": key})
		}
	}()
	return fn(ctx, tok)
}

// Entry describes one lock file found by List.
type Entry struct {
	Path  string           `json:"path"`
	State model.LockState  `json:"state"`
	Token *model.LockToken `json:"token"`
}

// List returns every lock file in the directory.
func (m *Manager) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errclass.ErrLockIO.WithMessage("list locks").Wrap(err)
	}

	now := m.now()
	var out []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, lockSuffix) {
			continue
		}
		path := filepath.Join(m.dir, name)
		tok, err := m.inspect(path, strings.TrimSuffix(name, lockSuffix))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, errclass.ErrLockIO.WithMessagef("read %s", path).Wrap(err)
		}
		state := model.LockStateHeld
		if tok.IsExpired(now) {
			state = model.LockStateExpired
		}
		out = append(out, Entry{Path: path, State: state, Token: tok})
	}
	return out, nil
}

// PruneExpired removes expired lock files and returns how many were removed.
func (m *Manager) PruneExpired() (int, error) {
	entries, err := m.List()
	if err != nil {
		return 0, err
	}
	var n int
	for _, e := range entries {
		if e.State != model.LockStateExpired {
			continue
		}
		removed, err := m.takeExpired(e.Path, e.Token.ResourceKey)
		if err != nil {
			return n, errclass.ErrLockIO.WithMessagef("prune %s", e.Path).Wrap(err)
		}
		if removed {
			n++
		}
	}
	return n, nil
}

// IsGuardFile reports whether name is a takeover guard. A guard outlives its
// operation only when the process holding it died.
func IsGuardFile(name string) bool {
	return strings.HasSuffix(filepath.Base(name), lockSuffix+guardSuffix)
}
