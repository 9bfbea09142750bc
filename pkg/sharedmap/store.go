// Package sharedmap is a key/value store persisted as one JSON file per map
// name, safe for read-modify-write from independent processes.
//
// Every mutation runs lock, read, modify, write, unlock under the
// filelock.Manager the store was built with. Reads are lock-free and always
// go to disk. A missing or corrupt file reads as an empty map, so a crash
// mid-write costs at most the last write.
package sharedmap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jvs-project/coordkit/pkg/errclass"
	"github.com/jvs-project/coordkit/pkg/filelock"
	"github.com/jvs-project/coordkit/pkg/fsutil"
	"github.com/jvs-project/coordkit/pkg/jsonutil"
	"github.com/jvs-project/coordkit/pkg/logging"
	"github.com/jvs-project/coordkit/pkg/metrics"
	"github.com/jvs-project/coordkit/pkg/model"
	"github.com/jvs-project/coordkit/pkg/pathutil"
)

// FileSuffix is the extension of map files.
const FileSuffix = ".json"

const lockPrefix = "map:"

// Write operations, as recorded in metrics.
const (
	opSet    = "set"
	opDelete = "delete"
	opUpdate = "update"
	opCreate = "create"
	opDrop   = "drop"

	opQuarantine = "quarantine"
)

// Store manages the map files in one directory.
type Store struct {
	dir      string
	locks    *filelock.Manager
	lockOpts filelock.AcquireOptions
	log      *logging.Logger
	metrics  *metrics.Registry
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics records writes and corrupt reads on r.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Store) { s.metrics = r }
}

// WithLockOptions overrides how long mutations wait for, and hold, the
// per-map lock.
func WithLockOptions(o filelock.AcquireOptions) Option {
	return func(s *Store) { s.lockOpts = o }
}

// New creates a store rooted at dir that serializes writers through locks.
func New(dir string, locks *filelock.Manager, opts ...Option) *Store {
	s := &Store{
		dir:   dir,
		locks: locks,
		log:   logging.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithFields(map[string]any{"component": "sharedmap"})
	return s
}

// Dir returns the directory holding the map files.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file backing the named map.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, pathutil.FileName(name)+FileSuffix)
}

// LockKey returns the lock resource key guarding the named map. It is
// derived from the backing file, so names that share a file share a lock.
func LockKey(name string) string {
	return lockPrefix + pathutil.FileName(name)
}

// FileLockKey returns the lock resource key guarding a map file found in
// Dir, for callers that only know the file and not the map name.
func FileLockKey(file string) string {
	return lockPrefix + strings.TrimSuffix(filepath.Base(file), FileSuffix)
}

// Get reads key from the named map into out. It reports false when the key
// is absent.
func (s *Store) Get(name, key string, out any) (bool, error) {
	e, err := s.Load(name)
	if err != nil {
		return false, err
	}
	return e.Decode(key, out)
}

// Keys returns a sorted snapshot of the named map's keys. It does not lock,
// so it can race with a concurrent writer.
func (s *Store) Keys(name string) ([]string, error) {
	e, err := s.Load(name)
	if err != nil {
		return nil, err
	}
	return e.Keys(), nil
}

// Load reads the whole named map without locking.
func (s *Store) Load(name string) (Entries, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return s.read(name)
}

// Set stores value under key in the named map.
func (s *Store) Set(ctx context.Context, name, key string, value any) error {
	return s.mutate(ctx, name, opSet, func(e Entries) (bool, error) {
		return true, e.Put(key, value)
	})
}

// Delete removes key from the named map. Deleting an absent key leaves the
// file untouched.
func (s *Store) Delete(ctx context.Context, name, key string) error {
	return s.mutate(ctx, name, opDelete, func(e Entries) (bool, error) {
		return e.Remove(key), nil
	})
}

// Update runs fn on the current entries under the map's lock and writes the
// result back. If fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, name string, fn func(Entries) error) error {
	return s.mutate(ctx, name, opUpdate, func(e Entries) (bool, error) {
		if err := fn(e); err != nil {
			return false, err
		}
		return true, nil
	})
}

// GetOrCreate decodes the value under key into out, calling create first if
// the key is absent. The check and the create run under the map's lock, so
// across all cooperating processes create succeeds at most once per key. A
// failed create writes nothing. The result reports whether create ran.
func (s *Store) GetOrCreate(ctx context.Context, name, key string, out any, create func(ctx context.Context) (any, error)) (bool, error) {
	created := false
	err := s.mutate(ctx, name, opCreate, func(e Entries) (bool, error) {
		if e.Has(key) {
			_, err := e.Decode(key, out)
			return false, err
		}
		v, err := create(ctx)
		if err != nil {
			return false, err
		}
		if err := e.Put(key, v); err != nil {
			return false, err
		}
		if _, err := e.Decode(key, out); err != nil {
			return false, err
		}
		created = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// Drop deletes the named map's file.
func (s *Store) Drop(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return s.locks.WithLock(ctx, LockKey(name), s.lockOpts, func(ctx context.Context, _ *model.LockToken) error {
		if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errclass.ErrMapIO.WithMessagef("drop %s", name).Wrap(err)
		}
		s.metrics.RecordMapWrite(opDrop)
		return nil
	})
}

// Quarantine renames the map file file (a name in Dir) to file+suffix when,
// read under the map's lock, it still does not decode. It returns the new
// path, or "" when the file is gone or valid again.
func (s *Store) Quarantine(ctx context.Context, file, suffix string) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(file))
	var dest string
	err := s.locks.WithLock(ctx, FileLockKey(file), s.lockOpts, func(ctx context.Context, _ *model.LockToken) error {
		data, ok, err := fsutil.ReadIfExists(path)
		if err != nil {
			return errclass.ErrMapIO.WithMessagef("read %s", filepath.Base(path)).Wrap(err)
		}
		if !ok {
			return nil
		}
		if _, err := jsonutil.DecodeObject(data); err == nil {
			return nil
		}
		if err := os.Rename(path, path+suffix); err != nil {
			return errclass.ErrMapIO.WithMessagef("quarantine %s", filepath.Base(path)).Wrap(err)
		}
		dest = path + suffix
		s.metrics.RecordMapWrite(opQuarantine)
		s.log.Warn("moved corrupt map file aside", map[string]any{"path": path, "dest": dest})
		return nil
	})
	return dest, err
}

func (s *Store) mutate(ctx context.Context, name, op string, fn func(Entries) (bool, error)) error {
	if err := checkName(name); err != nil {
		return err
	}
	return s.locks.WithLock(ctx, LockKey(name), s.lockOpts, func(ctx context.Context, _ *model.LockToken) error {
		e, err := s.read(name)
		if err != nil {
			return err
		}
		changed, err := fn(e)
		if err != nil || !changed {
			return err
		}
		if err := s.write(name, e); err != nil {
			return err
		}
		s.metrics.RecordMapWrite(op)
		return nil
	})
}

func (s *Store) read(name string) (Entries, error) {
	path := s.Path(name)
	data, ok, err := fsutil.ReadIfExists(path)
	if err != nil {
		return nil, errclass.ErrMapIO.WithMessagef("read %s", name).Wrap(err)
	}
	if !ok {
		return Entries{}, nil
	}
	obj, err := jsonutil.DecodeObject(data)
	if err != nil {
		s.metrics.RecordMapCorrupt()
		s.log.Warn("corrupt map file, treating as empty", map[string]any{
			"map": name, "path": path, "error": err.Error(),
		})
		return Entries{}, nil
	}
	return Entries(obj), nil
}

func (s *Store) write(name string, e Entries) error {
	data, err := jsonutil.CanonicalMarshal(e)
	if err != nil {
		return fmt.Errorf("encode map %s: %w", name, err)
	}
	if err := fsutil.AtomicWrite(s.Path(name), data, 0644); err != nil {
		return errclass.ErrMapIO.WithMessagef("write %s", name).Wrap(err)
	}
	return nil
}

// IsMapFile reports whether a directory entry name looks like a map file.
func IsMapFile(name string) bool {
	return strings.HasSuffix(name, FileSuffix) && !fsutil.IsTempFile(name)
}

func checkName(name string) error {
	if name == "" {
		return errclass.ErrNameInvalid.WithMessage("map name must not be empty")
	}
	return nil
}
